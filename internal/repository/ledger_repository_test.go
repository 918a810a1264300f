package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmarchetti/studio-api/internal/models"
)

func newLedgerMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestLedgerRepositoryApplyMutation(t *testing.T) {
	db, mock, cleanup := newLedgerMock(t)
	defer cleanup()
	repo := NewLedgerRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE students SET group_credits = group_credits \+ \$1, updated_at = \$2 WHERE id = \$3 RETURNING group_credits`).
		WithArgs(-1, sqlmock.AnyArg(), "student-1").
		WillReturnRows(sqlmock.NewRows([]string{"group_credits"}).AddRow(4))
	mock.ExpectExec(`INSERT INTO credit_ledger`).
		WithArgs(sqlmock.AnyArg(), "student-1", models.CreditGroup, -1, 4, "class check-in", nil, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	entry, err := repo.ApplyMutation(context.Background(), MutationParams{
		StudentID:    "student-1",
		CreditType:   models.CreditGroup,
		ChangeAmount: -1,
		Description:  "class check-in",
	})
	require.NoError(t, err)
	assert.Equal(t, -1, entry.ChangeAmount)
	assert.Equal(t, 4, entry.NewBalance)
	assert.Equal(t, models.CreditGroup, entry.CreditType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepositoryApplyMutationAllowsNegativeBalance(t *testing.T) {
	db, mock, cleanup := newLedgerMock(t)
	defer cleanup()
	repo := NewLedgerRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE students SET individual_credits`).
		WithArgs(-3, sqlmock.AnyArg(), "student-1").
		WillReturnRows(sqlmock.NewRows([]string{"individual_credits"}).AddRow(-2))
	mock.ExpectExec(`INSERT INTO credit_ledger`).
		WithArgs(sqlmock.AnyArg(), "student-1", models.CreditIndividual, -3, -2, "correction", nil, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	entry, err := repo.ApplyMutation(context.Background(), MutationParams{
		StudentID:    "student-1",
		CreditType:   models.CreditIndividual,
		ChangeAmount: -3,
		Description:  "correction",
	})
	require.NoError(t, err)
	assert.Equal(t, -2, entry.NewBalance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepositoryApplyMutationRollsBackOnInsertFailure(t *testing.T) {
	db, mock, cleanup := newLedgerMock(t)
	defer cleanup()
	repo := NewLedgerRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE students SET duo_credits`).
		WithArgs(2, sqlmock.AnyArg(), "student-1").
		WillReturnRows(sqlmock.NewRows([]string{"duo_credits"}).AddRow(7))
	mock.ExpectExec(`INSERT INTO credit_ledger`).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := repo.ApplyMutation(context.Background(), MutationParams{
		StudentID:    "student-1",
		CreditType:   models.CreditDuo,
		ChangeAmount: 2,
		Description:  "purchase",
	})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepositoryApplyMarkMutationCommitsDebitAndMarkTogether(t *testing.T) {
	db, mock, cleanup := newLedgerMock(t)
	defer cleanup()
	repo := NewLedgerRepository(db)

	date := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE students SET group_credits = group_credits \+ \$1, updated_at = \$2 WHERE id = \$3 RETURNING group_credits`).
		WithArgs(-1, sqlmock.AnyArg(), "student-1").
		WillReturnRows(sqlmock.NewRows([]string{"group_credits"}).AddRow(4))
	mock.ExpectExec(`INSERT INTO credit_ledger`).
		WithArgs(sqlmock.AnyArg(), "student-1", models.CreditGroup, -1, 4, "check-in Mat Pilates on 2024-03-04", nil, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(`INSERT INTO attendance`).
		WithArgs(sqlmock.AnyArg(), "student-1", "sched-1", "class-1", date,
			models.AttendancePresent, models.CreditGroup, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "student_id", "schedule_id", "class_id", "date", "status", "credit_type", "created_at", "updated_at"}).
			AddRow("att-1", "student-1", "sched-1", "class-1", date, "present", "group", date, date))
	mock.ExpectCommit()

	entry, stored, err := repo.ApplyMarkMutation(context.Background(), MutationParams{
		StudentID:    "student-1",
		CreditType:   models.CreditGroup,
		ChangeAmount: -1,
		Description:  "check-in Mat Pilates on 2024-03-04",
	}, &models.AttendanceRecord{
		StudentID:  "student-1",
		ScheduleID: "sched-1",
		ClassID:    "class-1",
		Date:       date,
		Status:     models.AttendancePresent,
		CreditType: models.CreditGroup,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, entry.NewBalance)
	assert.Equal(t, models.AttendancePresent, stored.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepositoryApplyMarkMutationRollsBackDebitWhenMarkFails(t *testing.T) {
	db, mock, cleanup := newLedgerMock(t)
	defer cleanup()
	repo := NewLedgerRepository(db)

	date := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE students SET group_credits`).
		WithArgs(-1, sqlmock.AnyArg(), "student-1").
		WillReturnRows(sqlmock.NewRows([]string{"group_credits"}).AddRow(4))
	mock.ExpectExec(`INSERT INTO credit_ledger`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(`INSERT INTO attendance`).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, _, err := repo.ApplyMarkMutation(context.Background(), MutationParams{
		StudentID:    "student-1",
		CreditType:   models.CreditGroup,
		ChangeAmount: -1,
		Description:  "check-in",
	}, &models.AttendanceRecord{
		StudentID:  "student-1",
		ScheduleID: "sched-1",
		ClassID:    "class-1",
		Date:       date,
		Status:     models.AttendancePresent,
		CreditType: models.CreditGroup,
	})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepositoryApplyMutationUnknownStudent(t *testing.T) {
	db, mock, cleanup := newLedgerMock(t)
	defer cleanup()
	repo := NewLedgerRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE students SET group_credits`).
		WithArgs(1, sqlmock.AnyArg(), "missing").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := repo.ApplyMutation(context.Background(), MutationParams{
		StudentID:    "missing",
		CreditType:   models.CreditGroup,
		ChangeAmount: 1,
		Description:  "purchase",
	})
	require.Error(t, err)
	require.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepositoryApplyMutationRejectsUnknownType(t *testing.T) {
	db, mock, cleanup := newLedgerMock(t)
	defer cleanup()
	repo := NewLedgerRepository(db)

	_, err := repo.ApplyMutation(context.Background(), MutationParams{
		StudentID:    "student-1",
		CreditType:   models.CreditType("platinum"),
		ChangeAmount: 1,
		Description:  "purchase",
	})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepositoryQuery(t *testing.T) {
	db, mock, cleanup := newLedgerMock(t)
	defer cleanup()
	repo := NewLedgerRepository(db)

	from := time.Date(2024, 3, 1, 3, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 2, 2, 59, 59, 999000000, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "student_id", "credit_type", "change_amount", "new_balance", "description", "payment_method", "amount_paid", "created_at", "student_name"}).
		AddRow("e2", "student-1", "group", -1, 4, "check-in", nil, nil, to, "Ana").
		AddRow("e1", "student-1", "group", 5, 5, "purchase", "pix", 350.0, from, "Ana")
	mock.ExpectQuery(`SELECT l\.id, l\.student_id, .+ ORDER BY l\.created_at DESC, l\.id DESC\s+LIMIT 500`).
		WithArgs("student-1", from, to).
		WillReturnRows(rows)

	entries, err := repo.Query(context.Background(), models.LedgerFilter{
		StudentID: "student-1",
		From:      &from,
		To:        &to,
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "e2", entries[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepositorySumDeltas(t *testing.T) {
	db, mock, cleanup := newLedgerMock(t)
	defer cleanup()
	repo := NewLedgerRepository(db)

	mock.ExpectQuery(`SELECT COALESCE\(SUM\(change_amount\), 0\) FROM credit_ledger`).
		WithArgs("student-1", models.CreditGroup).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(4))

	sum, err := repo.SumDeltas(context.Background(), "student-1", models.CreditGroup)
	require.NoError(t, err)
	assert.Equal(t, 4, sum)
	assert.NoError(t, mock.ExpectationsWereMet())
}
