package service

import (
	"time"

	"github.com/shopspring/decimal"

	"pitaxi/internal/domain"
)

var (
	hundred  = decimal.NewFromInt(100)
	one      = decimal.NewFromInt(1)
	maxSurge = decimal.NewFromInt(3)
)

// FareRequest holds the inputs of one fare calculation.
type FareRequest struct {
	DistanceKm      decimal.Decimal
	DurationMinutes decimal.Decimal
	HasAgent        bool
	VehicleType     domain.VehicleType
	// SurgeMultiplier must be within [1, 3]. Zero means no surge.
	SurgeMultiplier decimal.Decimal
	// At is when the fare applies; it selects promotions. Zero ignores the window.
	At time.Time
}

// BreakdownLine is one displayable component of a fare.
type BreakdownLine struct {
	Label  string
	Amount decimal.Decimal
}

// FareBreakdown is the full result of a fare calculation. All amounts have two decimals.
type FareBreakdown struct {
	BaseFare            decimal.Decimal
	DistanceFare        decimal.Decimal
	TimeFare            decimal.Decimal
	VehicleAdjustment   decimal.Decimal
	Subtotal            decimal.Decimal
	PromotionalDiscount decimal.Decimal
	PromotionalMessage  string
	SurgeMultiplier     decimal.Decimal
	SurgeAmount         decimal.Decimal
	TotalFare           decimal.Decimal

	TreasuryFee     decimal.Decimal
	AgentCommission decimal.Decimal
	DriverPayout    decimal.Decimal

	PricingConfigID string
	Lines           []BreakdownLine
}

// CalculateFare computes the fare and its three-way split. It has no side effects.
//
// The driver payout is the residual of the total after the treasury fee and
// agent commission are rounded, so the three parts always sum to the total.
func CalculateFare(req FareRequest, cfg domain.PricingConfig) (*FareBreakdown, error) {
	if !req.DistanceKm.IsPositive() {
		return nil, ErrInvalidDistance
	}
	if !req.DurationMinutes.IsPositive() {
		return nil, ErrInvalidDuration
	}

	surge := req.SurgeMultiplier
	if surge.IsZero() {
		surge = one
	}
	if surge.LessThan(one) || surge.GreaterThan(maxSurge) {
		return nil, ErrInvalidSurge
	}

	base := cfg.BaseFare
	distance := req.DistanceKm.Mul(cfg.PerKmRate)
	timeFare := req.DurationMinutes.Mul(cfg.PerMinuteRate)
	raw := base.Add(distance).Add(timeFare)

	multiplier := cfg.VehicleMultiplier(req.VehicleType)
	vehicleAdj := raw.Mul(multiplier.Sub(one))

	subtotal := raw.Add(vehicleAdj)
	if subtotal.LessThan(cfg.MinimumFare) {
		subtotal = cfg.MinimumFare
	}

	discount := decimal.Zero
	promoMessage := ""
	if cfg.PromotionActiveAt(req.At) {
		discount = subtotal.Mul(cfg.PromotionalDiscountPercent).Div(hundred)
		promoMessage = cfg.PromotionalMessage
	}
	discounted := subtotal.Sub(discount)

	total := discounted.Mul(surge).Round(2)
	surgeAmount := total.Sub(discounted.Round(2))

	treasury := total.Mul(cfg.TreasuryFeePercent).Div(hundred).Round(2)
	agent := decimal.Zero
	if req.HasAgent {
		agent = total.Mul(cfg.AgentCommissionPercent).Div(hundred).Round(2)
	}
	driver := total.Sub(treasury).Sub(agent)

	b := &FareBreakdown{
		BaseFare:            base.Round(2),
		DistanceFare:        distance.Round(2),
		TimeFare:            timeFare.Round(2),
		VehicleAdjustment:   vehicleAdj.Round(2),
		Subtotal:            subtotal.Round(2),
		PromotionalDiscount: discount.Round(2),
		PromotionalMessage:  promoMessage,
		SurgeMultiplier:     surge,
		SurgeAmount:         surgeAmount,
		TotalFare:           total,
		TreasuryFee:         treasury,
		AgentCommission:     agent,
		DriverPayout:        driver,
		PricingConfigID:     cfg.ID,
	}

	b.Lines = []BreakdownLine{
		{Label: "Base fare", Amount: b.BaseFare},
		{Label: "Distance", Amount: b.DistanceFare},
		{Label: "Time", Amount: b.TimeFare},
	}
	if !multiplier.Equal(one) {
		b.Lines = append(b.Lines, BreakdownLine{Label: "Vehicle type (" + multiplier.String() + "x)", Amount: b.VehicleAdjustment})
	}
	if discount.IsPositive() {
		b.Lines = append(b.Lines, BreakdownLine{Label: "Promotional discount", Amount: b.PromotionalDiscount.Neg()})
	}
	if surge.GreaterThan(one) {
		b.Lines = append(b.Lines, BreakdownLine{Label: "Surge (" + surge.String() + "x)", Amount: b.SurgeAmount})
	}

	return b, nil
}
