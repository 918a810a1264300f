package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nmarchetti/studio-api/internal/models"
)

// LedgerRepository owns the credit_ledger table and the single write path
// that mutates a student's credit pools.
type LedgerRepository struct {
	db *sqlx.DB
}

// NewLedgerRepository constructs the repository.
func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// MutationParams describes one credit change to apply atomically.
type MutationParams struct {
	StudentID     string
	CreditType    models.CreditType
	ChangeAmount  int
	Description   string
	PaymentMethod *string
	AmountPaid    *float64
}

// ApplyMutation increments the named pool and appends the ledger entry in
// one transaction. The pool is allowed to go negative; overdrafts and
// corrections are represented, not clamped. Either both rows land or
// neither does.
func (r *LedgerRepository) ApplyMutation(ctx context.Context, params MutationParams) (*models.LedgerEntry, error) {
	if params.CreditType.Column() == "" {
		return nil, fmt.Errorf("apply mutation: unknown credit type %q", params.CreditType)
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin credit mutation: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	entry, err := applyMutationTx(ctx, tx, params)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit credit mutation: %w", err)
	}
	committed = true
	return entry, nil
}

// ApplyMarkMutation applies a check-in debit together with its attendance
// row: pool update, ledger entry and mark upsert all commit in one
// transaction, so a spent credit can never exist without its check-in or
// the other way around.
func (r *LedgerRepository) ApplyMarkMutation(ctx context.Context, params MutationParams, record *models.AttendanceRecord) (*models.LedgerEntry, *models.AttendanceRecord, error) {
	if params.CreditType.Column() == "" {
		return nil, nil, fmt.Errorf("apply mutation: unknown credit type %q", params.CreditType)
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin mark mutation: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	entry, err := applyMutationTx(ctx, tx, params)
	if err != nil {
		return nil, nil, err
	}
	stored, err := upsertAttendance(ctx, tx, record)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit mark mutation: %w", err)
	}
	committed = true
	return entry, stored, nil
}

func applyMutationTx(ctx context.Context, tx *sqlx.Tx, params MutationParams) (*models.LedgerEntry, error) {
	column := params.CreditType.Column()
	now := time.Now().UTC()
	updateQuery := fmt.Sprintf(`UPDATE students SET %s = %s + $1, updated_at = $2 WHERE id = $3 RETURNING %s`,
		column, column, column)
	var newBalance int
	if err := tx.GetContext(ctx, &newBalance, updateQuery, params.ChangeAmount, now, params.StudentID); err != nil {
		return nil, fmt.Errorf("update credit pool: %w", err)
	}

	entry := &models.LedgerEntry{
		ID:            uuid.NewString(),
		StudentID:     params.StudentID,
		CreditType:    params.CreditType,
		ChangeAmount:  params.ChangeAmount,
		NewBalance:    newBalance,
		Description:   params.Description,
		PaymentMethod: params.PaymentMethod,
		AmountPaid:    params.AmountPaid,
		CreatedAt:     now,
	}
	insertQuery := `INSERT INTO credit_ledger (id, student_id, credit_type, change_amount, new_balance,
        description, payment_method, amount_paid, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	if _, err := tx.ExecContext(ctx, insertQuery,
		entry.ID, entry.StudentID, entry.CreditType, entry.ChangeAmount, entry.NewBalance,
		entry.Description, entry.PaymentMethod, entry.AmountPaid, entry.CreatedAt); err != nil {
		return nil, fmt.Errorf("append ledger entry: %w", err)
	}
	return entry, nil
}

// Query returns ledger entries newest-first. From/To are UTC instants and
// both bounds are inclusive; callers translate studio-local calendar days
// into this window before reaching the repository.
func (r *LedgerRepository) Query(ctx context.Context, filter models.LedgerFilter) ([]models.LedgerEntryRow, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	if filter.StudentID != "" {
		where = append(where, fmt.Sprintf("l.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.From != nil {
		where = append(where, fmt.Sprintf("l.created_at >= $%d", len(args)+1))
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		where = append(where, fmt.Sprintf("l.created_at <= $%d", len(args)+1))
		args = append(args, *filter.To)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 500
	}

	query := fmt.Sprintf(`SELECT l.id, l.student_id, l.credit_type, l.change_amount, l.new_balance,
        l.description, l.payment_method, l.amount_paid, l.created_at, s.name AS student_name
FROM credit_ledger l
JOIN students s ON s.id = l.student_id
WHERE %s
ORDER BY l.created_at DESC, l.id DESC
LIMIT %d`, strings.Join(where, " AND "), limit)

	var rows []models.LedgerEntryRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	return rows, nil
}

// PaymentSummary aggregates recorded payment metadata by method over a UTC
// window. Entries without payment metadata are skipped.
func (r *LedgerRepository) PaymentSummary(ctx context.Context, from, to time.Time) ([]models.PaymentSummaryRow, error) {
	query := `SELECT payment_method, COUNT(*) AS payments, COALESCE(SUM(amount_paid), 0) AS total_paid
FROM credit_ledger
WHERE payment_method IS NOT NULL
  AND created_at >= $1 AND created_at <= $2
GROUP BY payment_method
ORDER BY payment_method ASC`
	var rows []models.PaymentSummaryRow
	if err := r.db.SelectContext(ctx, &rows, query, from, to); err != nil {
		return nil, fmt.Errorf("payment summary: %w", err)
	}
	return rows, nil
}

// SumDeltas folds the ledger for one student and pool. Used by the audit
// endpoint to verify the ledger reproduces the account balance.
func (r *LedgerRepository) SumDeltas(ctx context.Context, studentID string, creditType models.CreditType) (int, error) {
	query := `SELECT COALESCE(SUM(change_amount), 0) FROM credit_ledger
WHERE student_id = $1 AND credit_type = $2`
	var sum int
	if err := r.db.GetContext(ctx, &sum, query, studentID, creditType); err != nil {
		return 0, fmt.Errorf("sum ledger deltas: %w", err)
	}
	return sum, nil
}
