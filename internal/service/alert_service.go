package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nmarchetti/studio-api/internal/models"
	appErrors "github.com/nmarchetti/studio-api/pkg/errors"
)

type lowCreditLister interface {
	ListLowCredit(ctx context.Context, threshold int) ([]models.LowCreditStudent, error)
}

type alertCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

const alertCacheTTL = 5 * time.Minute

// AlertService derives credit alerts from live balances. Nothing is stored;
// the listings recompute from the students table on every cache miss.
type AlertService struct {
	students  lowCreditLister
	cache     alertCache
	threshold int
	logger    *zap.Logger
}

// NewAlertService constructs the service. cache is optional.
func NewAlertService(students lowCreditLister, cache alertCache, threshold int, logger *zap.Logger) *AlertService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if threshold < 0 {
		threshold = 0
	}
	return &AlertService{students: students, cache: cache, threshold: threshold, logger: logger}
}

// Threshold returns the configured low-credit cutoff.
func (s *AlertService) Threshold() int {
	return s.threshold
}

// LowCredits lists active students whose combined balance is at or below
// the configured threshold, most depleted first.
func (s *AlertService) LowCredits(ctx context.Context) ([]models.LowCreditStudent, error) {
	return s.list(ctx, "alerts:low", s.threshold)
}

// ZeroCredits lists active students with no credits left, including
// negative balances left by corrections.
func (s *AlertService) ZeroCredits(ctx context.Context) ([]models.LowCreditStudent, error) {
	return s.list(ctx, "alerts:zero", 0)
}

func (s *AlertService) list(ctx context.Context, cacheKey string, threshold int) ([]models.LowCreditStudent, error) {
	if s.cache != nil {
		var cached []models.LowCreditStudent
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
			return cached, nil
		}
	}
	students, err := s.students.ListLowCredit(ctx, threshold)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "list credit alerts")
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, students, alertCacheTTL); err != nil {
			s.logger.Sugar().Warnw("alert cache write failed", "key", cacheKey, "error", err)
		}
	}
	return students, nil
}
