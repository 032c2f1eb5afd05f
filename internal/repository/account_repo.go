package repository

import (
	"context"
	"errors"

	"github.com/smartgeocode/geobatch/internal/domain"
	"gorm.io/gorm"
)

// AccountRepository reads the billing collaborator's subscription state. The
// engine never writes to accounts.
type AccountRepository interface {
	// SubscriptionTier returns the owner's plan tier; unknown owners read
	// as free so guest quota still applies.
	SubscriptionTier(ctx context.Context, owner string) (string, error)
}

type GormAccountRepo struct {
	db *gorm.DB
}

func NewGormAccountRepo(db *gorm.DB) *GormAccountRepo {
	return &GormAccountRepo{db: db}
}

func (r *GormAccountRepo) SubscriptionTier(ctx context.Context, owner string) (string, error) {
	var model AccountModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", owner).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.PlanFree, nil
	}
	if err != nil {
		return "", err
	}
	return model.SubscriptionStatus, nil
}
