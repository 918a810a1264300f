package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nmarchetti/studio-api/internal/models"
)

// AttendanceRepository handles persistence for check-in records.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

const attendanceColumns = `id, student_id, schedule_id, class_id, date, status, credit_type, created_at, updated_at`

// GetByKey returns the record for (student, schedule, date), or nil when no
// row exists — the implicit pending state.
func (r *AttendanceRepository) GetByKey(ctx context.Context, studentID, scheduleID string, date time.Time) (*models.AttendanceRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM attendance
WHERE student_id = $1 AND schedule_id = $2 AND date = $3`, attendanceColumns)
	var record models.AttendanceRecord
	if err := r.db.GetContext(ctx, &record, query, studentID, scheduleID, date); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get attendance: %w", err)
	}
	return &record, nil
}

// Upsert writes the record for its key, overwriting status and credit type
// on conflict. The unique constraint on (student_id, schedule_id, date)
// guarantees a second mark can never create a duplicate row.
func (r *AttendanceRepository) Upsert(ctx context.Context, record *models.AttendanceRecord) (*models.AttendanceRecord, error) {
	return upsertAttendance(ctx, r.db, record)
}

// upsertAttendance runs the mark upsert against a DB or an open transaction.
// The ledger repository reuses it so a check-in debit and its mark commit
// together.
func upsertAttendance(ctx context.Context, q sqlx.QueryerContext, record *models.AttendanceRecord) (*models.AttendanceRecord, error) {
	now := time.Now().UTC()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	query := fmt.Sprintf(`INSERT INTO attendance (id, student_id, schedule_id, class_id, date, status, credit_type, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (student_id, schedule_id, date)
DO UPDATE SET status = EXCLUDED.status, credit_type = EXCLUDED.credit_type, updated_at = EXCLUDED.updated_at
RETURNING %s`, attendanceColumns)
	var stored models.AttendanceRecord
	if err := sqlx.GetContext(ctx, q, &stored, query,
		record.ID, record.StudentID, record.ScheduleID, record.ClassID, record.Date,
		record.Status, record.CreditType, record.CreatedAt, record.UpdatedAt); err != nil {
		return nil, fmt.Errorf("upsert attendance: %w", err)
	}
	return &stored, nil
}

// Delete removes the record for its key, restoring the implicit pending
// state. No credit is touched here; restoring a spent credit is a separate
// manual adjustment.
func (r *AttendanceRepository) Delete(ctx context.Context, studentID, scheduleID string, date time.Time) error {
	query := `DELETE FROM attendance WHERE student_id = $1 AND schedule_id = $2 AND date = $3`
	result, err := r.db.ExecContext(ctx, query, studentID, scheduleID, date)
	if err != nil {
		return fmt.Errorf("delete attendance: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete attendance rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("delete attendance: %w", sql.ErrNoRows)
	}
	return nil
}

// List returns attendance rows matching the filter.
func (r *AttendanceRepository) List(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, int, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	if filter.StudentID != "" {
		where = append(where, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.ScheduleID != "" {
		where = append(where, fmt.Sprintf("schedule_id = $%d", len(args)+1))
		args = append(args, filter.ScheduleID)
	}
	if filter.Status != nil && filter.Status.Valid() {
		where = append(where, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	if filter.DateFrom != nil {
		where = append(where, fmt.Sprintf("date >= $%d", len(args)+1))
		args = append(args, *filter.DateFrom)
	}
	if filter.DateTo != nil {
		where = append(where, fmt.Sprintf("date <= $%d", len(args)+1))
		args = append(args, *filter.DateTo)
	}
	whereClause := strings.Join(where, " AND ")

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s FROM attendance WHERE %s ORDER BY date DESC LIMIT %d OFFSET %d`,
		attendanceColumns, whereClause, size, offset)
	var rows []models.AttendanceRecord
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list attendance: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM attendance WHERE %s", whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count attendance: %w", err)
	}
	return rows, total, nil
}

// StudentHistory returns a student's marks newest-first.
func (r *AttendanceRepository) StudentHistory(ctx context.Context, studentID string, from, to *time.Time) ([]models.AttendanceHistoryRow, error) {
	where := []string{"a.student_id = $1"}
	args := []interface{}{studentID}
	if from != nil {
		where = append(where, fmt.Sprintf("a.date >= $%d", len(args)+1))
		args = append(args, *from)
	}
	if to != nil {
		where = append(where, fmt.Sprintf("a.date <= $%d", len(args)+1))
		args = append(args, *to)
	}
	query := fmt.Sprintf(`SELECT a.date, a.status, a.credit_type, c.name AS class_name
FROM attendance a
JOIN classes c ON c.id = a.class_id
WHERE %s
ORDER BY a.date DESC`, strings.Join(where, " AND "))
	var rows []models.AttendanceHistoryRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("student attendance history: %w", err)
	}
	return rows, nil
}

// Roster builds the sheet for one class occurrence: every enrolled student,
// left-joined with the attendance row for that date. Missing rows surface
// as pending.
func (r *AttendanceRepository) Roster(ctx context.Context, scheduleID string, date time.Time) ([]models.RosterRow, error) {
	query := `SELECT s.id AS student_id, s.name AS student_name,
        COALESCE(a.status, 'pending') AS status, a.credit_type
FROM class_enrollments e
JOIN students s ON s.id = e.student_id
LEFT JOIN attendance a ON a.student_id = e.student_id
        AND a.schedule_id = e.schedule_id AND a.date = $2
WHERE e.schedule_id = $1
ORDER BY s.name ASC`
	var rows []models.RosterRow
	if err := r.db.SelectContext(ctx, &rows, query, scheduleID, date); err != nil {
		return nil, fmt.Errorf("occurrence roster: %w", err)
	}
	return rows, nil
}

// SummaryByStudent aggregates held/attended counts per student over a date
// range. Percentages are computed by the caller.
func (r *AttendanceRepository) SummaryByStudent(ctx context.Context, from, to time.Time) ([]models.AttendanceSummary, error) {
	query := `SELECT s.id AS student_id, s.name AS student_name,
        COUNT(a.id) AS held,
        COUNT(*) FILTER (WHERE a.status = 'present') AS attended
FROM attendance a
JOIN students s ON s.id = a.student_id
WHERE a.date >= $1 AND a.date <= $2
GROUP BY s.id, s.name
ORDER BY s.name ASC`
	rows := []struct {
		StudentID   string `db:"student_id"`
		StudentName string `db:"student_name"`
		Held        int    `db:"held"`
		Attended    int    `db:"attended"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, query, from, to); err != nil {
		return nil, fmt.Errorf("attendance summary: %w", err)
	}
	summaries := make([]models.AttendanceSummary, 0, len(rows))
	for _, row := range rows {
		summary := models.AttendanceSummary{
			StudentID:   row.StudentID,
			StudentName: row.StudentName,
			Held:        row.Held,
			Attended:    row.Attended,
		}
		if row.Held > 0 {
			summary.Percent = float64(row.Attended) / float64(row.Held) * 100
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}
