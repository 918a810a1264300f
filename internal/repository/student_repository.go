package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nmarchetti/studio-api/internal/models"
)

// StudentRepository handles persistence for the student roster.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs the repository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

const studentColumns = `id, name, email, phone, language, active,
        individual_credits, duo_credits, group_credits, created_at, updated_at`

// List returns students matching the provided filter.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	if filter.Search != "" {
		where = append(where, fmt.Sprintf("(name ILIKE $%d OR email ILIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+filter.Search+"%")
	}
	if filter.Active != nil {
		where = append(where, fmt.Sprintf("active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	whereClause := strings.Join(where, " AND ")

	allowedSort := map[string]string{
		"name":       "name",
		"created_at": "created_at",
	}
	sortColumn, ok := allowedSort[filter.SortBy]
	if !ok {
		sortColumn = "name"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s FROM students WHERE %s ORDER BY %s %s LIMIT %d OFFSET %d`,
		studentColumns, whereClause, sortColumn, order, size, offset)

	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM students WHERE %s", whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}
	return students, total, nil
}

// GetByID returns one student including current credit pools.
func (r *StudentRepository) GetByID(ctx context.Context, id string) (*models.Student, error) {
	query := fmt.Sprintf("SELECT %s FROM students WHERE id = $1", studentColumns)
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		return nil, fmt.Errorf("get student %s: %w", id, err)
	}
	return &student, nil
}

// Create inserts a new student. Credit pools start at zero.
func (r *StudentRepository) Create(ctx context.Context, student *models.Student) error {
	now := time.Now().UTC()
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	student.CreatedAt = now
	student.UpdatedAt = now
	query := `INSERT INTO students (id, name, email, phone, language, active,
        individual_credits, duo_credits, group_credits, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, 0, 0, 0, $7, $8)`
	if _, err := r.db.ExecContext(ctx, query,
		student.ID, student.Name, student.Email, student.Phone, student.Language,
		student.Active, student.CreatedAt, student.UpdatedAt); err != nil {
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

// Update persists profile fields only; pools are owned by the ledger path.
func (r *StudentRepository) Update(ctx context.Context, student *models.Student) error {
	student.UpdatedAt = time.Now().UTC()
	query := `UPDATE students SET name = $1, email = $2, phone = $3, language = $4,
        active = $5, updated_at = $6 WHERE id = $7`
	result, err := r.db.ExecContext(ctx, query,
		student.Name, student.Email, student.Phone, student.Language,
		student.Active, student.UpdatedAt, student.ID)
	if err != nil {
		return fmt.Errorf("update student: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update student rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update student %s: %w", student.ID, sql.ErrNoRows)
	}
	return nil
}

// ListLowCredit returns students whose combined pools are at or below the
// threshold. Negative totals always qualify, so the zero listing
// (threshold 0) is a superset of exact-zero balances.
func (r *StudentRepository) ListLowCredit(ctx context.Context, threshold int) ([]models.LowCreditStudent, error) {
	query := `SELECT id, name, email, language,
        individual_credits, duo_credits, group_credits,
        individual_credits + duo_credits + group_credits AS total_credits
FROM students
WHERE active = TRUE
  AND individual_credits + duo_credits + group_credits <= $1
ORDER BY total_credits ASC, name ASC`
	var rows []models.LowCreditStudent
	if err := r.db.SelectContext(ctx, &rows, query, threshold); err != nil {
		return nil, fmt.Errorf("list low credit students: %w", err)
	}
	return rows, nil
}
