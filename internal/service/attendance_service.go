package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/nmarchetti/studio-api/internal/models"
	appErrors "github.com/nmarchetti/studio-api/pkg/errors"
)

type attendanceRepository interface {
	GetByKey(ctx context.Context, studentID, scheduleID string, date time.Time) (*models.AttendanceRecord, error)
	Upsert(ctx context.Context, record *models.AttendanceRecord) (*models.AttendanceRecord, error)
	Delete(ctx context.Context, studentID, scheduleID string, date time.Time) error
	List(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, int, error)
	StudentHistory(ctx context.Context, studentID string, from, to *time.Time) ([]models.AttendanceHistoryRow, error)
	Roster(ctx context.Context, scheduleID string, date time.Time) ([]models.RosterRow, error)
	SummaryByStudent(ctx context.Context, from, to time.Time) ([]models.AttendanceSummary, error)
}

type scheduleRepository interface {
	GetByID(ctx context.Context, id string) (*models.Class, error)
	GetSchedule(ctx context.Context, id string) (*models.ClassSchedule, error)
}

type creditAdjuster interface {
	DebitCheckIn(ctx context.Context, req AdjustBalanceRequest, record *models.AttendanceRecord) (*AdjustResult, *models.AttendanceRecord, error)
	Snapshot(ctx context.Context, studentID string) (*models.CreditSnapshot, error)
}

type rosterCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

const rosterCacheTTL = 2 * time.Minute

// AttendanceService records check-ins against class occurrences and drives
// the credit debit that marking a consuming status implies.
type AttendanceService struct {
	attendance attendanceRepository
	classes    scheduleRepository
	credits    creditAdjuster
	cache      rosterCache
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewAttendanceService constructs the service. cache is optional.
func NewAttendanceService(
	attendance attendanceRepository,
	classes scheduleRepository,
	credits creditAdjuster,
	cache rosterCache,
	validate *validator.Validate,
	logger *zap.Logger,
) *AttendanceService {
	if validate == nil {
		validate = validator.New()
	}
	registerCreditTypeValidation(validate)
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttendanceService{
		attendance: attendance,
		classes:    classes,
		credits:    credits,
		cache:      cache,
		validator:  validate,
		logger:     logger,
	}
}

// MarkRequest sets the status of one (student, schedule, date) check-in.
// CreditType picks the pool a consuming mark debits; empty means the class
// kind. Marking pending resets the check-in by deleting its row.
type MarkRequest struct {
	StudentID  string `json:"student_id" validate:"required,uuid4"`
	ScheduleID string `json:"schedule_id" validate:"required,uuid4"`
	Date       string `json:"date" validate:"required"`
	Status     string `json:"status" validate:"required"`
	CreditType string `json:"credit_type" validate:"omitempty,credit_type"`
}

// MarkResult reports the stored state after a mark. Record is nil when the
// check-in was reset to pending.
type MarkResult struct {
	Record   *models.AttendanceRecord `json:"record,omitempty"`
	Status   models.AttendanceStatus  `json:"status"`
	Snapshot *models.CreditSnapshot   `json:"snapshot,omitempty"`
	// Debited is true when this mark consumed one credit. Re-marking a
	// check-in that already consumed its credit never debits again.
	Debited             bool   `json:"debited"`
	NotificationWarning string `json:"notification_warning,omitempty"`
}

// Mark records a check-in. A credit is debited exactly when the new status
// consumes one and no earlier mark for the same key already did. Status
// changes after the debit, including corrections between consuming and
// non-consuming statuses, never move credits on their own.
func (s *AttendanceService) Mark(ctx context.Context, req MarkRequest) (*MarkResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attendance mark")
	}
	status := models.AttendanceStatus(req.Status)
	if !status.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown attendance status %q", req.Status))
	}
	date, err := parseLocalDate(req.Date)
	if err != nil {
		return nil, err
	}

	schedule, err := s.classes.GetSchedule(ctx, req.ScheduleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class schedule not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load schedule")
	}
	if !schedule.OccursOn(date) {
		return nil, appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("class does not occur on %s (%s)", req.Date, date.Weekday()))
	}
	class, err := s.classes.GetByID(ctx, schedule.ClassID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load class")
	}

	existing, err := s.attendance.GetByKey(ctx, req.StudentID, req.ScheduleID, date)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load check-in")
	}

	if status == models.AttendancePending {
		return s.reset(ctx, req, existing, date)
	}

	result := &MarkResult{Status: status}

	pool := class.Kind
	if req.CreditType != "" {
		pool = models.CreditType(req.CreditType)
	}
	record := &models.AttendanceRecord{
		StudentID:  req.StudentID,
		ScheduleID: req.ScheduleID,
		ClassID:    class.ID,
		Date:       date,
		Status:     status,
		CreditType: pool,
	}

	debit := status.ConsumesCredit() && (existing == nil || !existing.Status.ConsumesCredit())
	if debit {
		// The debit and the mark commit in one transaction. A storage
		// failure leaves both the balance and the key untouched, so a
		// retry debits once, not twice.
		adjusted, stored, err := s.credits.DebitCheckIn(ctx, AdjustBalanceRequest{
			StudentID:    req.StudentID,
			CreditType:   string(pool),
			ChangeAmount: -1,
			Description:  fmt.Sprintf("check-in %s on %s", class.Name, req.Date),
		}, record)
		if err != nil {
			return nil, err
		}
		result.Debited = true
		result.Snapshot = &adjusted.Snapshot
		result.NotificationWarning = adjusted.NotificationWarning
		result.Record = stored
	} else {
		stored, err := s.attendance.Upsert(ctx, record)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "store check-in")
		}
		result.Record = stored
		if snapshot, err := s.credits.Snapshot(ctx, req.StudentID); err == nil {
			result.Snapshot = snapshot
		}
	}

	s.invalidateRoster(ctx, req.ScheduleID)
	return result, nil
}

// reset removes the stored mark, restoring the implicit pending state. The
// credit a prior consuming mark spent stays spent; restoring it is a manual
// balance adjustment.
func (s *AttendanceService) reset(ctx context.Context, req MarkRequest, existing *models.AttendanceRecord, date time.Time) (*MarkResult, error) {
	result := &MarkResult{Status: models.AttendancePending}
	if existing == nil {
		return result, nil
	}
	if err := s.attendance.Delete(ctx, req.StudentID, req.ScheduleID, date); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return result, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "reset check-in")
	}
	if snapshot, err := s.credits.Snapshot(ctx, req.StudentID); err == nil {
		result.Snapshot = snapshot
	}
	s.invalidateRoster(ctx, req.ScheduleID)
	return result, nil
}

func (s *AttendanceService) invalidateRoster(ctx context.Context, scheduleID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, "roster:"+scheduleID+":*"); err != nil {
		s.logger.Sugar().Warnw("roster cache invalidation failed", "schedule_id", scheduleID, "error", err)
	}
}

// Roster returns the sheet for one class occurrence: every enrolled student
// with their stored status, or pending when no row exists.
func (s *AttendanceService) Roster(ctx context.Context, scheduleID, rawDate string) ([]models.RosterRow, error) {
	date, err := parseLocalDate(rawDate)
	if err != nil {
		return nil, err
	}
	schedule, err := s.classes.GetSchedule(ctx, scheduleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class schedule not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load schedule")
	}
	if !schedule.OccursOn(date) {
		return nil, appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("class does not occur on %s (%s)", rawDate, date.Weekday()))
	}

	cacheKey := fmt.Sprintf("roster:%s:%s", scheduleID, rawDate)
	if s.cache != nil {
		var cached []models.RosterRow
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
			return cached, nil
		}
	}

	rows, err := s.attendance.Roster(ctx, scheduleID, date)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "build roster")
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, rows, rosterCacheTTL); err != nil {
			s.logger.Sugar().Warnw("roster cache write failed", "key", cacheKey, "error", err)
		}
	}
	return rows, nil
}

// HistoryRequest scopes a student's attendance history. Dates are optional;
// when given they bound the range inclusively.
type HistoryRequest struct {
	StudentID string `json:"student_id" validate:"required,uuid4"`
	FromDate  string `json:"from_date"`
	ToDate    string `json:"to_date"`
}

// History returns a student's marks newest-first.
func (s *AttendanceService) History(ctx context.Context, req HistoryRequest) ([]models.AttendanceHistoryRow, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid history filter")
	}
	var from, to *time.Time
	if req.FromDate != "" {
		parsed, err := parseLocalDate(req.FromDate)
		if err != nil {
			return nil, err
		}
		from = &parsed
	}
	if req.ToDate != "" {
		parsed, err := parseLocalDate(req.ToDate)
		if err != nil {
			return nil, err
		}
		to = &parsed
	}
	if from != nil && to != nil && to.Before(*from) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "date range end precedes start")
	}
	rows, err := s.attendance.StudentHistory(ctx, req.StudentID, from, to)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load history")
	}
	return rows, nil
}

// List returns raw attendance rows matching the filter, paginated.
func (s *AttendanceService) List(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, *models.Pagination, error) {
	rows, total, err := s.attendance.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "list attendance")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	return rows, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Summary aggregates held/attended counts per student over an inclusive
// range of calendar days.
func (s *AttendanceService) Summary(ctx context.Context, fromDate, toDate string) ([]models.AttendanceSummary, error) {
	from, err := parseLocalDate(fromDate)
	if err != nil {
		return nil, err
	}
	to, err := parseLocalDate(toDate)
	if err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "date range end precedes start")
	}
	summaries, err := s.attendance.SummaryByStudent(ctx, from, to)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "attendance summary")
	}
	return summaries, nil
}
