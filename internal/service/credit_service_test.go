package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmarchetti/studio-api/internal/models"
	"github.com/nmarchetti/studio-api/internal/repository"
	appErrors "github.com/nmarchetti/studio-api/pkg/errors"
)

const testStudentID = "7c9e6679-7425-40de-944b-e07fc1f90ae7"

type stubLedgerRepo struct {
	applyFn func(ctx context.Context, params repository.MutationParams) (*models.LedgerEntry, error)
	markFn  func(ctx context.Context, params repository.MutationParams, record *models.AttendanceRecord) (*models.LedgerEntry, *models.AttendanceRecord, error)
	queryFn func(ctx context.Context, filter models.LedgerFilter) ([]models.LedgerEntryRow, error)
	sumFn   func(ctx context.Context, studentID string, creditType models.CreditType) (int, error)
}

func (s *stubLedgerRepo) ApplyMutation(ctx context.Context, params repository.MutationParams) (*models.LedgerEntry, error) {
	return s.applyFn(ctx, params)
}

func (s *stubLedgerRepo) ApplyMarkMutation(ctx context.Context, params repository.MutationParams, record *models.AttendanceRecord) (*models.LedgerEntry, *models.AttendanceRecord, error) {
	if s.markFn != nil {
		return s.markFn(ctx, params, record)
	}
	entry, err := s.applyFn(ctx, params)
	return entry, record, err
}

func (s *stubLedgerRepo) Query(ctx context.Context, filter models.LedgerFilter) ([]models.LedgerEntryRow, error) {
	if s.queryFn == nil {
		return nil, nil
	}
	return s.queryFn(ctx, filter)
}

func (s *stubLedgerRepo) SumDeltas(ctx context.Context, studentID string, creditType models.CreditType) (int, error) {
	if s.sumFn == nil {
		return 0, nil
	}
	return s.sumFn(ctx, studentID, creditType)
}

type stubStudentGetter struct {
	students map[string]*models.Student
}

func (s *stubStudentGetter) GetByID(ctx context.Context, id string) (*models.Student, error) {
	student, ok := s.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *student
	return &clone, nil
}

type stubNotifier struct {
	queued    []models.LedgerEntry
	snapshots []models.CreditSnapshot
	err       error
}

func (s *stubNotifier) QueueBalanceChange(student models.Student, entry models.LedgerEntry, snapshot models.CreditSnapshot) error {
	if s.err != nil {
		return s.err
	}
	s.queued = append(s.queued, entry)
	s.snapshots = append(s.snapshots, snapshot)
	return nil
}

func testStudent() *models.Student {
	return &models.Student{
		ID:           testStudentID,
		Name:         "Ana",
		Email:        "ana@example.com",
		Language:     "pt",
		Active:       true,
		GroupCredits: 5,
	}
}

func TestCreditServiceAdjustBalance(t *testing.T) {
	students := &stubStudentGetter{students: map[string]*models.Student{testStudentID: testStudent()}}
	ledger := &stubLedgerRepo{
		applyFn: func(_ context.Context, params repository.MutationParams) (*models.LedgerEntry, error) {
			assert.Equal(t, models.CreditGroup, params.CreditType)
			assert.Equal(t, 10, params.ChangeAmount)
			students.students[testStudentID].GroupCredits += params.ChangeAmount
			return &models.LedgerEntry{
				ID:           "entry-1",
				StudentID:    params.StudentID,
				CreditType:   params.CreditType,
				ChangeAmount: params.ChangeAmount,
				NewBalance:   15,
				Description:  params.Description,
			}, nil
		},
	}
	notifier := &stubNotifier{}
	svc := NewCreditService(ledger, students, notifier, nil, nil, nil, time.UTC, 500)

	result, err := svc.AdjustBalance(context.Background(), AdjustBalanceRequest{
		StudentID:    testStudentID,
		CreditType:   "group",
		ChangeAmount: 10,
		Description:  "package purchase",
	})
	require.NoError(t, err)
	assert.Equal(t, 15, result.Entry.NewBalance)
	assert.Equal(t, 15, result.Snapshot.GroupCredits)
	assert.Equal(t, 15, result.Snapshot.TotalCredits)
	assert.Empty(t, result.NotificationWarning)
	require.Len(t, notifier.queued, 1)
	assert.Equal(t, "entry-1", notifier.queued[0].ID)
	require.Len(t, notifier.snapshots, 1)
	assert.Equal(t, 15, notifier.snapshots[0].TotalCredits)
}

func TestCreditServiceAdjustBalanceRejectsZeroChange(t *testing.T) {
	svc := NewCreditService(&stubLedgerRepo{}, &stubStudentGetter{}, nil, nil, nil, nil, time.UTC, 500)

	_, err := svc.AdjustBalance(context.Background(), AdjustBalanceRequest{
		StudentID:    testStudentID,
		CreditType:   "group",
		ChangeAmount: 0,
		Description:  "noop",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestCreditServiceAdjustBalanceRejectsUnknownPool(t *testing.T) {
	svc := NewCreditService(&stubLedgerRepo{}, &stubStudentGetter{}, nil, nil, nil, nil, time.UTC, 500)

	_, err := svc.AdjustBalance(context.Background(), AdjustBalanceRequest{
		StudentID:    testStudentID,
		CreditType:   "platinum",
		ChangeAmount: 1,
		Description:  "purchase",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestCreditServiceAdjustBalanceUnknownStudent(t *testing.T) {
	svc := NewCreditService(&stubLedgerRepo{}, &stubStudentGetter{students: map[string]*models.Student{}}, nil, nil, nil, nil, time.UTC, 500)

	_, err := svc.AdjustBalance(context.Background(), AdjustBalanceRequest{
		StudentID:    testStudentID,
		CreditType:   "group",
		ChangeAmount: 1,
		Description:  "purchase",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestCreditServiceAdjustBalanceNotificationFailureIsSoft(t *testing.T) {
	students := &stubStudentGetter{students: map[string]*models.Student{testStudentID: testStudent()}}
	ledger := &stubLedgerRepo{
		applyFn: func(_ context.Context, params repository.MutationParams) (*models.LedgerEntry, error) {
			return &models.LedgerEntry{ID: "entry-1", StudentID: params.StudentID,
				CreditType: params.CreditType, ChangeAmount: params.ChangeAmount, NewBalance: 4}, nil
		},
	}
	notifier := &stubNotifier{err: errors.New("smtp down")}
	svc := NewCreditService(ledger, students, notifier, nil, nil, nil, time.UTC, 500)

	result, err := svc.AdjustBalance(context.Background(), AdjustBalanceRequest{
		StudentID:    testStudentID,
		CreditType:   "group",
		ChangeAmount: -1,
		Description:  "check-in",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.NotificationWarning)
}

func TestCreditServiceLedgerConvertsLocalDays(t *testing.T) {
	saoPaulo := time.FixedZone("-03", -3*60*60)
	var captured models.LedgerFilter
	ledger := &stubLedgerRepo{
		queryFn: func(_ context.Context, filter models.LedgerFilter) ([]models.LedgerEntryRow, error) {
			captured = filter
			return nil, nil
		},
	}
	svc := NewCreditService(ledger, &stubStudentGetter{}, nil, nil, nil, nil, saoPaulo, 500)

	_, err := svc.Ledger(context.Background(), LedgerRequest{
		StudentID: testStudentID,
		FromDate:  "2024-03-01",
		ToDate:    "2024-03-01",
	})
	require.NoError(t, err)
	require.NotNil(t, captured.From)
	require.NotNil(t, captured.To)
	assert.Equal(t, time.Date(2024, 3, 1, 3, 0, 0, 0, time.UTC), captured.From.UTC())
	assert.Equal(t, time.Date(2024, 3, 2, 2, 59, 59, 999000000, time.UTC), captured.To.UTC())
	assert.Equal(t, 500, captured.Limit)
}

func TestCreditServiceLedgerWindowSpansShortDSTDay(t *testing.T) {
	newYork, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	var captured models.LedgerFilter
	ledger := &stubLedgerRepo{
		queryFn: func(_ context.Context, filter models.LedgerFilter) ([]models.LedgerEntryRow, error) {
			captured = filter
			return nil, nil
		},
	}
	svc := NewCreditService(ledger, &stubStudentGetter{}, nil, nil, nil, nil, newYork, 500)

	// 2024-03-10 loses an hour to DST; the window must still end a
	// millisecond before the next local midnight.
	_, err = svc.Ledger(context.Background(), LedgerRequest{
		StudentID: testStudentID,
		FromDate:  "2024-03-10",
		ToDate:    "2024-03-10",
	})
	require.NoError(t, err)
	require.NotNil(t, captured.From)
	require.NotNil(t, captured.To)
	assert.Equal(t, time.Date(2024, 3, 10, 5, 0, 0, 0, time.UTC), captured.From.UTC())
	assert.Equal(t, time.Date(2024, 3, 11, 3, 59, 59, 999000000, time.UTC), captured.To.UTC())
}

func TestCreditServiceLedgerRejectsHalfOpenRange(t *testing.T) {
	svc := NewCreditService(&stubLedgerRepo{}, &stubStudentGetter{}, nil, nil, nil, nil, time.UTC, 500)

	_, err := svc.Ledger(context.Background(), LedgerRequest{FromDate: "2024-03-01"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestCreditServiceLedgerCapsPageSize(t *testing.T) {
	var captured models.LedgerFilter
	ledger := &stubLedgerRepo{
		queryFn: func(_ context.Context, filter models.LedgerFilter) ([]models.LedgerEntryRow, error) {
			captured = filter
			return nil, nil
		},
	}
	svc := NewCreditService(ledger, &stubStudentGetter{}, nil, nil, nil, nil, time.UTC, 500)

	_, err := svc.Ledger(context.Background(), LedgerRequest{Limit: 9000})
	require.NoError(t, err)
	assert.Equal(t, 500, captured.Limit)
}

func TestCreditServiceAuditDetectsDrift(t *testing.T) {
	student := testStudent()
	student.GroupCredits = 5
	students := &stubStudentGetter{students: map[string]*models.Student{testStudentID: student}}
	ledger := &stubLedgerRepo{
		sumFn: func(_ context.Context, _ string, creditType models.CreditType) (int, error) {
			if creditType == models.CreditGroup {
				return 4, nil
			}
			return 0, nil
		},
	}
	svc := NewCreditService(ledger, students, nil, nil, nil, nil, time.UTC, 500)

	audits, err := svc.Audit(context.Background(), testStudentID)
	require.NoError(t, err)
	require.Len(t, audits, 3)
	for _, audit := range audits {
		if audit.CreditType == models.CreditGroup {
			assert.False(t, audit.Consistent)
			assert.Equal(t, 4, audit.LedgerTotal)
			assert.Equal(t, 5, audit.AccountTotal)
		} else {
			assert.True(t, audit.Consistent)
		}
	}
}
