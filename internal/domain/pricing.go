package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PricingConfig is a versioned fare-rate bundle. At most one is active.
type PricingConfig struct {
	ID                         string
	Name                       string
	BaseFare                   decimal.Decimal
	PerKmRate                  decimal.Decimal
	PerMinuteRate              decimal.Decimal
	MinimumFare                decimal.Decimal
	TreasuryFeePercent         decimal.Decimal
	AgentCommissionPercent     decimal.Decimal
	IsPromotional              bool
	PromotionalDiscountPercent decimal.Decimal
	PromotionalMessage         string
	EconomyMultiplier          decimal.Decimal
	ComfortMultiplier          decimal.Decimal
	PremiumMultiplier          decimal.Decimal
	ValidFrom                  time.Time
	ValidUntil                 *time.Time
	IsActive                   bool
	Notes                      string
	CreatedBy                  string
	CreatedAt                  time.Time
}

// DefaultPricingConfigID marks the built-in rate card used when no config is active.
const DefaultPricingConfigID = "default"

// DefaultPricingConfig returns the built-in rate card.
func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		ID:                         DefaultPricingConfigID,
		Name:                       "Default",
		BaseFare:                   decimal.NewFromInt(5),
		PerKmRate:                  decimal.NewFromInt(2),
		PerMinuteRate:              decimal.RequireFromString("0.5"),
		MinimumFare:                decimal.NewFromInt(8),
		TreasuryFeePercent:         decimal.NewFromInt(10),
		AgentCommissionPercent:     decimal.NewFromInt(5),
		PromotionalDiscountPercent: decimal.Zero,
		EconomyMultiplier:          decimal.NewFromInt(1),
		ComfortMultiplier:          decimal.RequireFromString("1.5"),
		PremiumMultiplier:          decimal.NewFromInt(2),
	}
}

// VehicleMultiplier returns the multiplier for v. Unknown or unset values yield 1.
func (p PricingConfig) VehicleMultiplier(v VehicleType) decimal.Decimal {
	var m decimal.Decimal
	switch v {
	case VehicleTypeComfort:
		m = p.ComfortMultiplier
	case VehicleTypePremium:
		m = p.PremiumMultiplier
	default:
		m = p.EconomyMultiplier
	}
	if !m.IsPositive() {
		return decimal.NewFromInt(1)
	}
	return m
}

// PromotionActiveAt reports whether the promotional discount applies at t.
// A zero t skips the validity window check.
func (p PricingConfig) PromotionActiveAt(t time.Time) bool {
	if !p.IsPromotional || !p.PromotionalDiscountPercent.IsPositive() {
		return false
	}
	if t.IsZero() {
		return true
	}
	if !p.ValidFrom.IsZero() && t.Before(p.ValidFrom) {
		return false
	}
	if p.ValidUntil != nil && !t.Before(*p.ValidUntil) {
		return false
	}
	return true
}

// PricingHistory records one activation.
type PricingHistory struct {
	ID               string
	ConfigID         string
	PreviousConfigID string
	ChangedBy        string
	Snapshot         map[string]any
	ChangedAt        time.Time
}
