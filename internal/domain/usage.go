package domain

import (
	"strings"
	"time"
)

// Plan tiers and their monthly geocode attempt limits.
const (
	PlanFree    = "free"
	PlanPremium = "premium"

	FreeTierLimit    = 500
	PremiumTierLimit = 10000
)

// PlanLimit returns the monthly attempt limit for a subscription tier.
// Unknown or canceled tiers fall back to the free limit.
func PlanLimit(tier string) int {
	if strings.EqualFold(strings.TrimSpace(tier), PlanPremium) {
		return PremiumTierLimit
	}
	return FreeTierLimit
}

// PeriodKey returns the billing period key for a point in time, e.g. "2026-08".
func PeriodKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// Usage is the per-owner, per-period attempt counter projection.
type Usage struct {
	Owner  string
	Period string
	Used   int
	Limit  int
}

// Remaining returns how many attempts the owner has left this period.
func (u Usage) Remaining() int {
	if u.Used >= u.Limit {
		return 0
	}
	return u.Limit - u.Used
}
