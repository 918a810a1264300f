package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmarchetti/studio-api/internal/models"
)

func newAttendanceMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func attendanceRow(id string, status models.AttendanceStatus, date time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "student_id", "schedule_id", "class_id", "date", "status", "credit_type", "created_at", "updated_at"}).
		AddRow(id, "student-1", "sched-1", "class-1", date, status, "group", date, date)
}

func TestAttendanceRepositoryGetByKeyMissingIsPending(t *testing.T) {
	db, mock, cleanup := newAttendanceMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	date := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT .+ FROM attendance\s+WHERE student_id = \$1 AND schedule_id = \$2 AND date = \$3`).
		WithArgs("student-1", "sched-1", date).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	record, err := repo.GetByKey(context.Background(), "student-1", "sched-1", date)
	require.NoError(t, err)
	assert.Nil(t, record)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryUpsertOverwrites(t *testing.T) {
	db, mock, cleanup := newAttendanceMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	date := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`INSERT INTO attendance .+ON CONFLICT \(student_id, schedule_id, date\)`).
		WithArgs(sqlmock.AnyArg(), "student-1", "sched-1", "class-1", date,
			models.AttendancePresent, models.CreditGroup, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(attendanceRow("att-1", models.AttendancePresent, date))

	stored, err := repo.Upsert(context.Background(), &models.AttendanceRecord{
		StudentID:  "student-1",
		ScheduleID: "sched-1",
		ClassID:    "class-1",
		Date:       date,
		Status:     models.AttendancePresent,
		CreditType: models.CreditGroup,
	})
	require.NoError(t, err)
	assert.Equal(t, "att-1", stored.ID)
	assert.Equal(t, models.AttendancePresent, stored.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryDelete(t *testing.T) {
	db, mock, cleanup := newAttendanceMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	date := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(`DELETE FROM attendance WHERE student_id = \$1 AND schedule_id = \$2 AND date = \$3`).
		WithArgs("student-1", "sched-1", date).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Delete(context.Background(), "student-1", "sched-1", date))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryRosterShowsPending(t *testing.T) {
	db, mock, cleanup := newAttendanceMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	date := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"student_id", "student_name", "status", "credit_type"}).
		AddRow("student-1", "Ana", "present", "group").
		AddRow("student-2", "Bruno", "pending", nil)
	mock.ExpectQuery(`SELECT s\.id AS student_id, .+FROM class_enrollments e`).
		WithArgs("sched-1", date).
		WillReturnRows(rows)

	roster, err := repo.Roster(context.Background(), "sched-1", date)
	require.NoError(t, err)
	require.Len(t, roster, 2)
	assert.Equal(t, models.AttendancePending, roster[1].Status)
	assert.Nil(t, roster[1].CreditType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositorySummaryByStudent(t *testing.T) {
	db, mock, cleanup := newAttendanceMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"student_id", "student_name", "held", "attended"}).
		AddRow("student-1", "Ana", 8, 6)
	mock.ExpectQuery(`SELECT s\.id AS student_id, s\.name AS student_name`).
		WithArgs(from, to).
		WillReturnRows(rows)

	summaries, err := repo.SummaryByStudent(context.Background(), from, to)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, 75.0, summaries[0].Percent)
	assert.NoError(t, mock.ExpectationsWereMet())
}
