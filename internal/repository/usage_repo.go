package repository

import (
	"context"
	"errors"

	"github.com/smartgeocode/geobatch/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UsageRepository is the atomic per-(owner, period) attempt counter backing
// the quota ledger. Reserve must be a single storage-level check-and-increment
// so concurrent requests can never jointly exceed the limit, even across
// server instances.
type UsageRepository interface {
	// Reserve atomically adds n to used iff used + n <= limit. Returns
	// domain.ErrQuotaExceeded without side effects when the reservation
	// does not fit.
	Reserve(ctx context.Context, owner, period string, n, limit int) error
	// Release returns n unattempted units after a job-level fault,
	// flooring at zero.
	Release(ctx context.Context, owner, period string, n int) error
	// Get reads the ledger entry; domain.ErrNotFound when no attempts have
	// been recorded this period.
	Get(ctx context.Context, owner, period string) (*domain.Usage, error)
}

type GormUsageRepo struct {
	db *gorm.DB
}

func NewGormUsageRepo(db *gorm.DB) *GormUsageRepo {
	return &GormUsageRepo{db: db}
}

func (r *GormUsageRepo) Reserve(ctx context.Context, owner, period string, n, limit int) error {
	if n < 1 {
		return nil
	}

	// Ensure the period row exists, then increment-with-check in one
	// statement. The conditional UPDATE is the serialization point; the
	// upsert only refreshes the plan limit.
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "owner"}, {Name: "period"}},
			DoUpdates: clause.Assignments(map[string]any{"limit": limit}),
		}).
		Create(&UsageLedgerModel{Owner: owner, Period: period, Used: 0, Limit: limit}).Error
	if err != nil {
		return err
	}

	result := r.db.WithContext(ctx).
		Model(&UsageLedgerModel{}).
		Where(`owner = ? AND period = ? AND used + ? <= "limit"`, owner, period, n).
		Update("used", gorm.Expr("used + ?", n))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrQuotaExceeded
	}
	return nil
}

func (r *GormUsageRepo) Release(ctx context.Context, owner, period string, n int) error {
	if n < 1 {
		return nil
	}

	return r.db.WithContext(ctx).
		Model(&UsageLedgerModel{}).
		Where("owner = ? AND period = ?", owner, period).
		Update("used", gorm.Expr("GREATEST(used - ?, 0)", n)).Error
}

func (r *GormUsageRepo) Get(ctx context.Context, owner, period string) (*domain.Usage, error) {
	var model UsageLedgerModel
	err := r.db.WithContext(ctx).
		First(&model, "owner = ? AND period = ?", owner, period).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return usageLedgerModelToDomain(&model), nil
}
