package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/nmarchetti/studio-api/internal/models"
	"github.com/nmarchetti/studio-api/internal/repository"
	appErrors "github.com/nmarchetti/studio-api/pkg/errors"
)

type creditLedgerRepository interface {
	ApplyMutation(ctx context.Context, params repository.MutationParams) (*models.LedgerEntry, error)
	ApplyMarkMutation(ctx context.Context, params repository.MutationParams, record *models.AttendanceRecord) (*models.LedgerEntry, *models.AttendanceRecord, error)
	Query(ctx context.Context, filter models.LedgerFilter) ([]models.LedgerEntryRow, error)
	SumDeltas(ctx context.Context, studentID string, creditType models.CreditType) (int, error)
}

type creditStudentRepository interface {
	GetByID(ctx context.Context, id string) (*models.Student, error)
}

type balanceChangeNotifier interface {
	QueueBalanceChange(student models.Student, entry models.LedgerEntry, snapshot models.CreditSnapshot) error
}

type alertCacheInvalidator interface {
	DeleteByPattern(ctx context.Context, pattern string) error
}

// CreditService is the single write path for any credit change. Every
// mutation lands as one transaction: pool increment plus one appended
// ledger entry, never one without the other.
type CreditService struct {
	ledger    creditLedgerRepository
	students  creditStudentRepository
	notifier  balanceChangeNotifier
	cache     alertCacheInvalidator
	validator *validator.Validate
	logger    *zap.Logger
	timezone  *time.Location
	pageSize  int
}

// NewCreditService constructs the service. notifier and cache are optional.
func NewCreditService(
	ledger creditLedgerRepository,
	students creditStudentRepository,
	notifier balanceChangeNotifier,
	cache alertCacheInvalidator,
	validate *validator.Validate,
	logger *zap.Logger,
	timezone *time.Location,
	pageSize int,
) *CreditService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if timezone == nil {
		timezone = time.UTC
	}
	if pageSize <= 0 || pageSize > 500 {
		pageSize = 500
	}
	svc := &CreditService{
		ledger:    ledger,
		students:  students,
		notifier:  notifier,
		cache:     cache,
		validator: validate,
		logger:    logger,
		timezone:  timezone,
		pageSize:  pageSize,
	}
	registerCreditTypeValidation(svc.validator)
	return svc
}

func registerCreditTypeValidation(v *validator.Validate) {
	_ = v.RegisterValidation("credit_type", func(fl validator.FieldLevel) bool {
		return models.CreditType(fl.Field().String()).Valid()
	})
}

// AdjustBalanceRequest describes a direct balance change (purchase or
// correction). ChangeAmount is a signed whole number of credits; JSON
// payloads carrying fractions are rejected at binding time.
type AdjustBalanceRequest struct {
	StudentID     string   `json:"student_id" validate:"required,uuid4"`
	CreditType    string   `json:"credit_type" validate:"required,credit_type"`
	ChangeAmount  int      `json:"change_amount"`
	Description   string   `json:"description" validate:"required"`
	PaymentMethod *string  `json:"payment_method"`
	AmountPaid    *float64 `json:"amount_paid"`
}

// AdjustResult is the committed state returned to the caller.
type AdjustResult struct {
	Entry    *models.LedgerEntry   `json:"entry"`
	Snapshot models.CreditSnapshot `json:"snapshot"`
	// NotificationWarning is set when the post-commit email could not be
	// queued. The mutation itself is already committed.
	NotificationWarning string `json:"notification_warning,omitempty"`
}

// AdjustBalance applies one credit mutation. Validation failures and
// unknown students are rejected before any write; a storage failure rolls
// the whole mutation back. A notification failure never affects the
// committed change.
func (s *CreditService) AdjustBalance(ctx context.Context, req AdjustBalanceRequest) (*AdjustResult, error) {
	result, _, err := s.mutate(ctx, req, nil)
	return result, err
}

// DebitCheckIn applies a check-in debit together with its attendance row.
// The pool update, ledger entry and mark share one transaction, so the
// credit cannot be spent without the check-in landing, and a failed mark
// leaves the balance untouched for a clean retry.
func (s *CreditService) DebitCheckIn(ctx context.Context, req AdjustBalanceRequest, record *models.AttendanceRecord) (*AdjustResult, *models.AttendanceRecord, error) {
	return s.mutate(ctx, req, record)
}

func (s *CreditService) mutate(ctx context.Context, req AdjustBalanceRequest, record *models.AttendanceRecord) (*AdjustResult, *models.AttendanceRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid balance adjustment")
	}
	if req.ChangeAmount == 0 {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "change_amount must not be zero")
	}

	student, err := s.students.GetByID(ctx, req.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load student")
	}

	params := repository.MutationParams{
		StudentID:     req.StudentID,
		CreditType:    models.CreditType(req.CreditType),
		ChangeAmount:  req.ChangeAmount,
		Description:   req.Description,
		PaymentMethod: req.PaymentMethod,
		AmountPaid:    req.AmountPaid,
	}
	var entry *models.LedgerEntry
	var stored *models.AttendanceRecord
	if record == nil {
		entry, err = s.ledger.ApplyMutation(ctx, params)
	} else {
		entry, stored, err = s.ledger.ApplyMarkMutation(ctx, params, record)
	}
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "credit mutation failed")
	}

	result := &AdjustResult{Entry: entry, Snapshot: s.snapshotAfter(ctx, student, entry)}

	s.invalidateAlerts(ctx)
	if s.notifier != nil {
		if err := s.notifier.QueueBalanceChange(*student, *entry, result.Snapshot); err != nil {
			s.logger.Sugar().Warnw("balance change notification not queued",
				"student_id", student.ID, "error", err)
			result.NotificationWarning = "balance updated, but the notification email could not be sent"
		}
	}
	return result, stored, nil
}

// snapshotAfter re-reads the student for a strongly consistent snapshot,
// falling back to the pre-mutation row patched with the entry's balance.
func (s *CreditService) snapshotAfter(ctx context.Context, before *models.Student, entry *models.LedgerEntry) models.CreditSnapshot {
	if fresh, err := s.students.GetByID(ctx, before.ID); err == nil {
		return fresh.CreditSnapshot()
	}
	patched := *before
	switch entry.CreditType {
	case models.CreditIndividual:
		patched.IndividualCredits = entry.NewBalance
	case models.CreditDuo:
		patched.DuoCredits = entry.NewBalance
	case models.CreditGroup:
		patched.GroupCredits = entry.NewBalance
	}
	return patched.CreditSnapshot()
}

func (s *CreditService) invalidateAlerts(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, "alerts:*"); err != nil {
		s.logger.Sugar().Warnw("alert cache invalidation failed", "error", err)
	}
}

// Snapshot returns the student's current balances.
func (s *CreditService) Snapshot(ctx context.Context, studentID string) (*models.CreditSnapshot, error) {
	student, err := s.students.GetByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load student")
	}
	snapshot := student.CreditSnapshot()
	return &snapshot, nil
}

// LedgerRequest filters the balance history. Dates are studio-local
// calendar days, both bounds inclusive.
type LedgerRequest struct {
	StudentID string `json:"student_id" validate:"omitempty,uuid4"`
	FromDate  string `json:"from_date"`
	ToDate    string `json:"to_date"`
	Limit     int    `json:"limit"`
}

// Ledger returns balance history newest-first, capped at the configured
// page size.
func (s *CreditService) Ledger(ctx context.Context, req LedgerRequest) ([]models.LedgerEntryRow, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid ledger filter")
	}
	filter := models.LedgerFilter{StudentID: req.StudentID, Limit: req.Limit}
	if filter.Limit <= 0 || filter.Limit > s.pageSize {
		filter.Limit = s.pageSize
	}
	if req.FromDate != "" || req.ToDate != "" {
		if req.FromDate == "" || req.ToDate == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "both from_date and to_date are required for a date range")
		}
		from, to, err := localDayWindow(s.timezone, req.FromDate, req.ToDate)
		if err != nil {
			return nil, err
		}
		filter.From = &from
		filter.To = &to
	}
	rows, err := s.ledger.Query(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "query ledger")
	}
	return rows, nil
}

// PoolAudit compares the folded ledger against the stored pool balance.
type PoolAudit struct {
	CreditType   models.CreditType `json:"credit_type"`
	LedgerTotal  int               `json:"ledger_total"`
	AccountTotal int               `json:"account_total"`
	Consistent   bool              `json:"consistent"`
}

// Audit folds the ledger per pool and checks it reproduces the account
// balances. A mismatch indicates history written outside the mutation path.
func (s *CreditService) Audit(ctx context.Context, studentID string) ([]PoolAudit, error) {
	student, err := s.students.GetByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load student")
	}
	pools := []struct {
		creditType models.CreditType
		balance    int
	}{
		{models.CreditIndividual, student.IndividualCredits},
		{models.CreditDuo, student.DuoCredits},
		{models.CreditGroup, student.GroupCredits},
	}
	audits := make([]PoolAudit, 0, len(pools))
	for _, pool := range pools {
		sum, err := s.ledger.SumDeltas(ctx, studentID, pool.creditType)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "fold ledger")
		}
		audits = append(audits, PoolAudit{
			CreditType:   pool.creditType,
			LedgerTotal:  sum,
			AccountTotal: pool.balance,
			Consistent:   sum == pool.balance,
		})
	}
	return audits, nil
}
