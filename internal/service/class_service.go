package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/nmarchetti/studio-api/internal/models"
	appErrors "github.com/nmarchetti/studio-api/pkg/errors"
)

type classRepository interface {
	List(ctx context.Context) ([]models.Class, error)
	GetByID(ctx context.Context, id string) (*models.Class, error)
	Create(ctx context.Context, class *models.Class) error
	GetSchedule(ctx context.Context, id string) (*models.ClassSchedule, error)
	ListSchedules(ctx context.Context, classID string) ([]models.ClassSchedule, error)
	CreateSchedule(ctx context.Context, schedule *models.ClassSchedule) error
	Enroll(ctx context.Context, studentID, scheduleID string) error
	Unenroll(ctx context.Context, studentID, scheduleID string) error
}

// ClassService manages class offerings, their weekly slots and enrollments.
type ClassService struct {
	classes   classRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewClassService constructs the service.
func NewClassService(classes classRepository, validate *validator.Validate, logger *zap.Logger) *ClassService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	registerCreditTypeValidation(validate)
	return &ClassService{classes: classes, validator: validate, logger: logger}
}

// CreateClassRequest registers a class offering. Kind decides which credit
// pool check-ins against this class debit.
type CreateClassRequest struct {
	Name     string `json:"name" validate:"required,min=2,max=120"`
	Kind     string `json:"kind" validate:"required,credit_type"`
	Capacity int    `json:"capacity" validate:"required,min=1,max=50"`
}

// CreateScheduleRequest adds a weekly slot to a class. Times are HH:MM in
// the studio's local clock.
type CreateScheduleRequest struct {
	ClassID   string `json:"class_id" validate:"required,uuid4"`
	Weekday   int    `json:"weekday" validate:"min=0,max=6"`
	StartTime string `json:"start_time" validate:"required,len=5"`
	EndTime   string `json:"end_time" validate:"required,len=5"`
}

// List returns all class offerings.
func (s *ClassService) List(ctx context.Context) ([]models.Class, error) {
	classes, err := s.classes.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "list classes")
	}
	return classes, nil
}

// Get returns one class with its weekly slots.
func (s *ClassService) Get(ctx context.Context, id string) (*models.Class, []models.ClassSchedule, error) {
	class, err := s.classes.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load class")
	}
	schedules, err := s.classes.ListSchedules(ctx, id)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load schedules")
	}
	return class, schedules, nil
}

// Create registers a class offering.
func (s *ClassService) Create(ctx context.Context, req CreateClassRequest) (*models.Class, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid class")
	}
	class := &models.Class{
		Name:     req.Name,
		Kind:     models.CreditType(req.Kind),
		Capacity: req.Capacity,
	}
	if err := s.classes.Create(ctx, class); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "create class")
	}
	return class, nil
}

// CreateSchedule adds a weekly slot.
func (s *ClassService) CreateSchedule(ctx context.Context, req CreateScheduleRequest) (*models.ClassSchedule, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid schedule")
	}
	if _, err := time.Parse("15:04", req.StartTime); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "start_time must be HH:MM")
	}
	if _, err := time.Parse("15:04", req.EndTime); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end_time must be HH:MM")
	}
	if req.EndTime <= req.StartTime {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end_time must be after start_time")
	}
	if _, err := s.classes.GetByID(ctx, req.ClassID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load class")
	}
	schedule := &models.ClassSchedule{
		ClassID:   req.ClassID,
		Weekday:   time.Weekday(req.Weekday),
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
	}
	if err := s.classes.CreateSchedule(ctx, schedule); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "create schedule")
	}
	return schedule, nil
}

// Enroll ties a student to a weekly slot. Enrolling twice is a no-op.
func (s *ClassService) Enroll(ctx context.Context, studentID, scheduleID string) error {
	if _, err := s.classes.GetSchedule(ctx, scheduleID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "class schedule not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load schedule")
	}
	if err := s.classes.Enroll(ctx, studentID, scheduleID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "enroll student")
	}
	return nil
}

// Unenroll removes the tie. Past attendance and ledger history stay.
func (s *ClassService) Unenroll(ctx context.Context, studentID, scheduleID string) error {
	if err := s.classes.Unenroll(ctx, studentID, scheduleID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "unenroll student")
	}
	return nil
}
