// Package quota implements the monthly attempt ledger. Every geocode attempt,
// batch row or single lookup, consumes one unit against the owner's plan
// limit for the current calendar month.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smartgeocode/geobatch/internal/domain"
	"github.com/smartgeocode/geobatch/internal/observability"
	"github.com/smartgeocode/geobatch/internal/repository"
	"go.uber.org/zap"
)

// Ledger reserves and releases geocode attempts for an owner. Reservation is
// delegated to the usage repository's atomic check-and-increment, so the
// ledger itself carries no locks and is safe across server instances.
type Ledger struct {
	usageRepo   repository.UsageRepository
	accountRepo repository.AccountRepository
	metrics     *observability.Metrics
	logger      *zap.Logger

	now func() time.Time
}

func NewLedger(
	usageRepo repository.UsageRepository,
	accountRepo repository.AccountRepository,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Ledger{
		usageRepo:   usageRepo,
		accountRepo: accountRepo,
		metrics:     metrics,
		logger:      logger,
		now:         time.Now,
	}
}

// CheckAndReserve reserves n attempts in the owner's current-month ledger.
// It is all or nothing: a batch that does not fit in the remaining quota is
// rejected whole with domain.ErrQuotaExceeded and consumes nothing.
func (l *Ledger) CheckAndReserve(ctx context.Context, owner string, n int) error {
	if owner == "" {
		return fmt.Errorf("%w: owner is required", domain.ErrValidation)
	}
	if n < 1 {
		return fmt.Errorf("%w: reservation must be positive", domain.ErrValidation)
	}

	tier, err := l.accountRepo.SubscriptionTier(ctx, owner)
	if err != nil {
		return fmt.Errorf("failed to resolve subscription tier: %w", err)
	}

	limit := domain.PlanLimit(tier)
	period := domain.PeriodKey(l.now())

	if err := l.usageRepo.Reserve(ctx, owner, period, n, limit); err != nil {
		if errors.Is(err, domain.ErrQuotaExceeded) {
			l.metrics.IncQuotaRejected("reserve")
			l.logger.Info("quota reservation rejected",
				zap.String("owner", owner),
				zap.String("period", period),
				zap.Int("requested", n),
				zap.Int("limit", limit),
			)
			return fmt.Errorf("%w: %d attempts do not fit in the %s quota", domain.ErrQuotaExceeded, n, period)
		}
		return fmt.Errorf("failed to reserve quota: %w", err)
	}

	return nil
}

// Release hands back n reserved attempts that were never carried out, for
// example the untouched remainder of a batch that hit a system fault. Row
// attempts that ran and failed stay spent.
func (l *Ledger) Release(ctx context.Context, owner string, n int) error {
	if n < 1 {
		return nil
	}

	period := domain.PeriodKey(l.now())
	if err := l.usageRepo.Release(ctx, owner, period, n); err != nil {
		return fmt.Errorf("failed to release quota: %w", err)
	}

	l.logger.Info("quota released",
		zap.String("owner", owner),
		zap.String("period", period),
		zap.Int("released", n),
	)
	return nil
}

// Current reports the owner's usage for the current month. Owners with no
// recorded attempts get a zero-used projection rather than ErrNotFound, so
// the usage endpoint always has something to show.
func (l *Ledger) Current(ctx context.Context, owner string) (*domain.Usage, error) {
	if owner == "" {
		return nil, fmt.Errorf("%w: owner is required", domain.ErrValidation)
	}

	tier, err := l.accountRepo.SubscriptionTier(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve subscription tier: %w", err)
	}

	limit := domain.PlanLimit(tier)
	period := domain.PeriodKey(l.now())

	usage, err := l.usageRepo.Get(ctx, owner, period)
	if errors.Is(err, domain.ErrNotFound) {
		return &domain.Usage{Owner: owner, Period: period, Used: 0, Limit: limit}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read usage: %w", err)
	}

	// The stored limit can lag a plan change within a period; report the
	// live plan limit.
	usage.Limit = limit
	return usage, nil
}
