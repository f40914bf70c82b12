package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"pitaxi/internal/domain"
	"pitaxi/internal/middleware"
	"pitaxi/internal/service"
)

// PricingHandler handles fare estimates and pricing configs.
type PricingHandler struct {
	pricingService *service.PricingService
}

// NewPricingHandler creates a new PricingHandler.
func NewPricingHandler(pricingService *service.PricingService) *PricingHandler {
	return &PricingHandler{pricingService: pricingService}
}

// CalculateFareRequest is the HTTP request body for a fare estimate.
type CalculateFareRequest struct {
	DistanceKm      decimal.Decimal  `json:"distance_km"`
	DurationMinutes decimal.Decimal  `json:"duration_minutes"`
	VehicleType     string           `json:"vehicle_type"`
	HasAgent        bool             `json:"has_agent"`
	SurgeMultiplier *decimal.Decimal `json:"surge_multiplier"`
}

// FareLine is one row of a fare breakdown.
type FareLine struct {
	Label  string `json:"label"`
	Amount string `json:"amount"`
}

// FareResponse is a priced estimate.
type FareResponse struct {
	BaseFare            string     `json:"base_fare"`
	DistanceFare        string     `json:"distance_fare"`
	TimeFare            string     `json:"time_fare"`
	VehicleAdjustment   string     `json:"vehicle_adjustment"`
	Subtotal            string     `json:"subtotal"`
	PromotionalDiscount string     `json:"promotional_discount"`
	PromotionalMessage  string     `json:"promotional_message,omitempty"`
	SurgeMultiplier     string     `json:"surge_multiplier"`
	SurgeAmount         string     `json:"surge_amount"`
	TotalFare           string     `json:"total_fare"`
	TreasuryFee         string     `json:"treasury_fee"`
	AgentCommission     string     `json:"agent_commission"`
	DriverPayout        string     `json:"driver_payout"`
	PricingConfigID     string     `json:"pricing_config_id"`
	Breakdown           []FareLine `json:"breakdown"`
}

func toFareResponse(f *service.FareBreakdown) FareResponse {
	resp := FareResponse{
		BaseFare:            f.BaseFare.StringFixed(2),
		DistanceFare:        f.DistanceFare.StringFixed(2),
		TimeFare:            f.TimeFare.StringFixed(2),
		VehicleAdjustment:   f.VehicleAdjustment.StringFixed(2),
		Subtotal:            f.Subtotal.StringFixed(2),
		PromotionalDiscount: f.PromotionalDiscount.StringFixed(2),
		PromotionalMessage:  f.PromotionalMessage,
		SurgeMultiplier:     f.SurgeMultiplier.String(),
		SurgeAmount:         f.SurgeAmount.StringFixed(2),
		TotalFare:           f.TotalFare.StringFixed(2),
		TreasuryFee:         f.TreasuryFee.StringFixed(2),
		AgentCommission:     f.AgentCommission.StringFixed(2),
		DriverPayout:        f.DriverPayout.StringFixed(2),
		PricingConfigID:     f.PricingConfigID,
		Breakdown:           make([]FareLine, 0, len(f.Lines)),
	}
	for _, line := range f.Lines {
		resp.Breakdown = append(resp.Breakdown, FareLine{Label: line.Label, Amount: line.Amount.StringFixed(2)})
	}
	return resp
}

// CreatePricingRequest is the HTTP request body for a new pricing config.
type CreatePricingRequest struct {
	Name                       string          `json:"name" binding:"required"`
	BaseFare                   decimal.Decimal `json:"base_fare"`
	PerKmRate                  decimal.Decimal `json:"per_km_rate"`
	PerMinuteRate              decimal.Decimal `json:"per_minute_rate"`
	MinimumFare                decimal.Decimal `json:"minimum_fare"`
	TreasuryFeePercent         decimal.Decimal `json:"treasury_fee_percent"`
	AgentCommissionPercent     decimal.Decimal `json:"agent_commission_percent"`
	IsPromotional              bool            `json:"is_promotional"`
	PromotionalDiscountPercent decimal.Decimal `json:"promotional_discount_percent"`
	PromotionalMessage         string          `json:"promotional_message"`
	EconomyMultiplier          decimal.Decimal `json:"economy_multiplier"`
	ComfortMultiplier          decimal.Decimal `json:"comfort_multiplier"`
	PremiumMultiplier          decimal.Decimal `json:"premium_multiplier"`
	ValidFrom                  *time.Time      `json:"valid_from"`
	ValidUntil                 *time.Time      `json:"valid_until"`
	Notes                      string          `json:"notes"`
}

// PricingResponse is a pricing config.
type PricingResponse struct {
	ID                         string `json:"id"`
	Name                       string `json:"name"`
	BaseFare                   string `json:"base_fare"`
	PerKmRate                  string `json:"per_km_rate"`
	PerMinuteRate              string `json:"per_minute_rate"`
	MinimumFare                string `json:"minimum_fare"`
	TreasuryFeePercent         string `json:"treasury_fee_percent"`
	AgentCommissionPercent     string `json:"agent_commission_percent"`
	IsPromotional              bool   `json:"is_promotional"`
	PromotionalDiscountPercent string `json:"promotional_discount_percent"`
	PromotionalMessage         string `json:"promotional_message,omitempty"`
	EconomyMultiplier          string `json:"economy_multiplier"`
	ComfortMultiplier          string `json:"comfort_multiplier"`
	PremiumMultiplier          string `json:"premium_multiplier"`
	ValidFrom                  string `json:"valid_from,omitempty"`
	ValidUntil                 string `json:"valid_until,omitempty"`
	IsActive                   bool   `json:"is_active"`
}

func toPricingResponse(p *domain.PricingConfig) PricingResponse {
	resp := PricingResponse{
		ID:                         p.ID,
		Name:                       p.Name,
		BaseFare:                   p.BaseFare.StringFixed(2),
		PerKmRate:                  p.PerKmRate.StringFixed(2),
		PerMinuteRate:              p.PerMinuteRate.StringFixed(2),
		MinimumFare:                p.MinimumFare.StringFixed(2),
		TreasuryFeePercent:         p.TreasuryFeePercent.String(),
		AgentCommissionPercent:     p.AgentCommissionPercent.String(),
		IsPromotional:              p.IsPromotional,
		PromotionalDiscountPercent: p.PromotionalDiscountPercent.String(),
		PromotionalMessage:         p.PromotionalMessage,
		EconomyMultiplier:          p.EconomyMultiplier.String(),
		ComfortMultiplier:          p.ComfortMultiplier.String(),
		PremiumMultiplier:          p.PremiumMultiplier.String(),
		ValidUntil:                 formatTimePtr(p.ValidUntil),
		IsActive:                   p.IsActive,
	}
	if !p.ValidFrom.IsZero() {
		resp.ValidFrom = formatTime(p.ValidFrom)
	}
	return resp
}

// CalculateFare handles POST /v1/fares/calculate
func (h *PricingHandler) CalculateFare(c *gin.Context) {
	var req CalculateFareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	fare, err := h.pricingService.Estimate(c.Request.Context(), service.EstimateRequest{
		DistanceKm:      req.DistanceKm,
		DurationMinutes: req.DurationMinutes,
		VehicleType:     domain.VehicleType(req.VehicleType),
		HasAgent:        req.HasAgent,
		SurgeMultiplier: req.SurgeMultiplier,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toFareResponse(fare))
}

// Active handles GET /v1/pricing/active
func (h *PricingHandler) Active(c *gin.Context) {
	cfg, err := h.pricingService.Active(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toPricingResponse(&cfg))
}

// List handles GET /v1/admin/pricing
func (h *PricingHandler) List(c *gin.Context) {
	configs, err := h.pricingService.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	response := make([]PricingResponse, 0, len(configs))
	for _, cfg := range configs {
		response = append(response, toPricingResponse(cfg))
	}
	respondJSON(c, http.StatusOK, response)
}

// Create handles POST /v1/admin/pricing
func (h *PricingHandler) Create(c *gin.Context) {
	var req CreatePricingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	in := service.CreatePricingRequest{
		Name:                       req.Name,
		BaseFare:                   req.BaseFare,
		PerKmRate:                  req.PerKmRate,
		PerMinuteRate:              req.PerMinuteRate,
		MinimumFare:                req.MinimumFare,
		TreasuryFeePercent:         req.TreasuryFeePercent,
		AgentCommissionPercent:     req.AgentCommissionPercent,
		IsPromotional:              req.IsPromotional,
		PromotionalDiscountPercent: req.PromotionalDiscountPercent,
		PromotionalMessage:         req.PromotionalMessage,
		EconomyMultiplier:          req.EconomyMultiplier,
		ComfortMultiplier:          req.ComfortMultiplier,
		PremiumMultiplier:          req.PremiumMultiplier,
		ValidUntil:                 req.ValidUntil,
		Notes:                      req.Notes,
		CreatedBy:                  middleware.UserID(c),
	}
	if req.ValidFrom != nil {
		in.ValidFrom = *req.ValidFrom
	}

	cfg, err := h.pricingService.Create(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, toPricingResponse(cfg))
}

// Activate handles POST /v1/admin/pricing/:id/activate
func (h *PricingHandler) Activate(c *gin.Context) {
	cfg, err := h.pricingService.Activate(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toPricingResponse(cfg))
}
