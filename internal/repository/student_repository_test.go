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

func newStudentMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func studentRows() *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"id", "name", "email", "phone", "language", "active",
		"individual_credits", "duo_credits", "group_credits", "created_at", "updated_at"}).
		AddRow("student-1", "Ana", "ana@example.com", "111", "pt", true, 2, 0, 3, now, now)
}

func TestStudentRepositoryList(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery(`SELECT id, name, email, .+ FROM students WHERE 1=1 ORDER BY name ASC LIMIT 20 OFFSET 0`).
		WillReturnRows(studentRows())
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM students WHERE 1=1`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	students, total, err := repo.List(context.Background(), models.StudentFilter{})
	require.NoError(t, err)
	assert.Len(t, students, 1)
	assert.Equal(t, 1, total)
	assert.Equal(t, 5, students[0].TotalCredits())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryGetByID(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery(`SELECT id, name, email, .+ FROM students WHERE id = \$1`).
		WithArgs("student-1").
		WillReturnRows(studentRows())

	student, err := repo.GetByID(context.Background(), "student-1")
	require.NoError(t, err)
	assert.Equal(t, "Ana", student.Name)
	assert.Equal(t, 2, student.IndividualCredits)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryCreateStartsAtZeroCredits(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectExec(`INSERT INTO students`).
		WithArgs(sqlmock.AnyArg(), "Ana", "ana@example.com", "111", "pt", true, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Create(context.Background(), &models.Student{
		Name: "Ana", Email: "ana@example.com", Phone: "111", Language: "pt", Active: true,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryListLowCredit(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	rows := sqlmock.NewRows([]string{"id", "name", "email", "language",
		"individual_credits", "duo_credits", "group_credits", "total_credits"}).
		AddRow("student-2", "Bruno", "bruno@example.com", "pt", -2, 0, 0, -2).
		AddRow("student-1", "Ana", "ana@example.com", "en", 1, 0, 0, 1)
	mock.ExpectQuery(`SELECT id, name, email, language,\s+individual_credits`).
		WithArgs(2).
		WillReturnRows(rows)

	students, err := repo.ListLowCredit(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, students, 2)
	assert.Equal(t, -2, students[0].TotalCredits)
	assert.NoError(t, mock.ExpectationsWereMet())
}
