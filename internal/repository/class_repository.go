package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nmarchetti/studio-api/internal/models"
)

// ClassRepository handles persistence for classes, their weekly schedule
// slots and enrollments.
type ClassRepository struct {
	db *sqlx.DB
}

// NewClassRepository constructs the repository.
func NewClassRepository(db *sqlx.DB) *ClassRepository {
	return &ClassRepository{db: db}
}

// List returns all classes ordered by name.
func (r *ClassRepository) List(ctx context.Context) ([]models.Class, error) {
	query := `SELECT id, name, kind, capacity, created_at, updated_at FROM classes ORDER BY name ASC`
	var classes []models.Class
	if err := r.db.SelectContext(ctx, &classes, query); err != nil {
		return nil, fmt.Errorf("list classes: %w", err)
	}
	return classes, nil
}

// GetByID returns one class.
func (r *ClassRepository) GetByID(ctx context.Context, id string) (*models.Class, error) {
	query := `SELECT id, name, kind, capacity, created_at, updated_at FROM classes WHERE id = $1`
	var class models.Class
	if err := r.db.GetContext(ctx, &class, query, id); err != nil {
		return nil, fmt.Errorf("get class %s: %w", id, err)
	}
	return &class, nil
}

// Create inserts a class.
func (r *ClassRepository) Create(ctx context.Context, class *models.Class) error {
	now := time.Now().UTC()
	if class.ID == "" {
		class.ID = uuid.NewString()
	}
	class.CreatedAt = now
	class.UpdatedAt = now
	query := `INSERT INTO classes (id, name, kind, capacity, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := r.db.ExecContext(ctx, query,
		class.ID, class.Name, class.Kind, class.Capacity, class.CreatedAt, class.UpdatedAt); err != nil {
		return fmt.Errorf("create class: %w", err)
	}
	return nil
}

// GetSchedule returns one weekly slot.
func (r *ClassRepository) GetSchedule(ctx context.Context, id string) (*models.ClassSchedule, error) {
	query := `SELECT id, class_id, weekday, start_time, end_time, created_at, updated_at
FROM class_schedules WHERE id = $1`
	var schedule models.ClassSchedule
	if err := r.db.GetContext(ctx, &schedule, query, id); err != nil {
		return nil, fmt.Errorf("get schedule %s: %w", id, err)
	}
	return &schedule, nil
}

// ListSchedules returns the weekly slots of a class.
func (r *ClassRepository) ListSchedules(ctx context.Context, classID string) ([]models.ClassSchedule, error) {
	query := `SELECT id, class_id, weekday, start_time, end_time, created_at, updated_at
FROM class_schedules WHERE class_id = $1
ORDER BY weekday ASC, start_time ASC`
	var schedules []models.ClassSchedule
	if err := r.db.SelectContext(ctx, &schedules, query, classID); err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	return schedules, nil
}

// CreateSchedule inserts a weekly slot.
func (r *ClassRepository) CreateSchedule(ctx context.Context, schedule *models.ClassSchedule) error {
	now := time.Now().UTC()
	if schedule.ID == "" {
		schedule.ID = uuid.NewString()
	}
	schedule.CreatedAt = now
	schedule.UpdatedAt = now
	query := `INSERT INTO class_schedules (id, class_id, weekday, start_time, end_time, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := r.db.ExecContext(ctx, query,
		schedule.ID, schedule.ClassID, schedule.Weekday, schedule.StartTime,
		schedule.EndTime, schedule.CreatedAt, schedule.UpdatedAt); err != nil {
		return fmt.Errorf("create schedule: %w", err)
	}
	return nil
}

// Enroll ties a student to a schedule slot. Re-enrolling is a no-op.
func (r *ClassRepository) Enroll(ctx context.Context, studentID, scheduleID string) error {
	query := `INSERT INTO class_enrollments (id, student_id, schedule_id, created_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (student_id, schedule_id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query,
		uuid.NewString(), studentID, scheduleID, time.Now().UTC()); err != nil {
		return fmt.Errorf("enroll student: %w", err)
	}
	return nil
}

// Unenroll removes the tie. Past attendance rows are kept.
func (r *ClassRepository) Unenroll(ctx context.Context, studentID, scheduleID string) error {
	query := `DELETE FROM class_enrollments WHERE student_id = $1 AND schedule_id = $2`
	if _, err := r.db.ExecContext(ctx, query, studentID, scheduleID); err != nil {
		return fmt.Errorf("unenroll student: %w", err)
	}
	return nil
}
