package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"pitaxi/internal/domain"
	"pitaxi/internal/middleware"
	"pitaxi/internal/service"
)

// TripHandler handles HTTP requests for trips.
type TripHandler struct {
	tripService   *service.TripService
	escrowService *service.EscrowService
}

// NewTripHandler creates a new TripHandler.
func NewTripHandler(tripService *service.TripService, escrowService *service.EscrowService) *TripHandler {
	return &TripHandler{tripService: tripService, escrowService: escrowService}
}

// LocationRequest is a point in a trip request.
type LocationRequest struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address"`
}

// CreateTripRequest is the HTTP request body for requesting a trip.
type CreateTripRequest struct {
	ServiceType     string          `json:"service_type"`
	VehicleType     string          `json:"vehicle_type"`
	Pickup          LocationRequest `json:"pickup"`
	Dropoff         LocationRequest `json:"dropoff"`
	DistanceKm      decimal.Decimal `json:"distance_km"`
	DurationMinutes decimal.Decimal `json:"duration_minutes"`
}

// LocationResponse is a point in a trip response.
type LocationResponse struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address,omitempty"`
}

// TripResponse is the HTTP response for trip operations.
type TripResponse struct {
	ID                 string           `json:"id"`
	TripNumber         string           `json:"trip_number"`
	RiderID            string           `json:"rider_id"`
	DriverID           string           `json:"driver_id,omitempty"`
	ServiceType        string           `json:"service_type"`
	VehicleType        string           `json:"vehicle_type"`
	Pickup             LocationResponse `json:"pickup"`
	Dropoff            LocationResponse `json:"dropoff"`
	DistanceKm         string           `json:"distance_km"`
	DurationMinutes    string           `json:"duration_minutes"`
	SurgeMultiplier    string           `json:"surge_multiplier"`
	EstimatedFare      string           `json:"estimated_fare"`
	TreasuryFee        string           `json:"treasury_fee"`
	AgentCommission    string           `json:"agent_commission"`
	DriverPayout       string           `json:"driver_payout"`
	FinalFare          string           `json:"final_fare,omitempty"`
	EscrowAmount       string           `json:"escrow_amount,omitempty"`
	PaymentID          string           `json:"payment_id,omitempty"`
	Status             string           `json:"status"`
	PaymentStatus      string           `json:"payment_status"`
	RequestedAt        string           `json:"requested_at"`
	AcceptedAt         string           `json:"accepted_at,omitempty"`
	StartedAt          string           `json:"started_at,omitempty"`
	CompletedAt        string           `json:"completed_at,omitempty"`
	CancelledAt        string           `json:"cancelled_at,omitempty"`
	CancellationReason string           `json:"cancellation_reason,omitempty"`
	RiderRating        *int             `json:"rider_rating,omitempty"`
	DriverRating       *int             `json:"driver_rating,omitempty"`
}

func toTripResponse(t *domain.Trip) TripResponse {
	resp := TripResponse{
		ID:                 t.ID,
		TripNumber:         t.TripNumber,
		RiderID:            t.RiderID,
		DriverID:           t.DriverID,
		ServiceType:        string(t.ServiceType),
		VehicleType:        string(t.VehicleType),
		Pickup:             LocationResponse{Lat: t.Pickup.Lat, Lng: t.Pickup.Lng, Address: t.Pickup.Address},
		Dropoff:            LocationResponse{Lat: t.Dropoff.Lat, Lng: t.Dropoff.Lng, Address: t.Dropoff.Address},
		DistanceKm:         t.DistanceKm.String(),
		DurationMinutes:    t.DurationMinutes.String(),
		SurgeMultiplier:    t.SurgeMultiplier.String(),
		EstimatedFare:      t.EstimatedFare.StringFixed(2),
		TreasuryFee:        t.TreasuryFee.StringFixed(2),
		AgentCommission:    t.AgentCommission.StringFixed(2),
		DriverPayout:       t.DriverPayout.StringFixed(2),
		PaymentID:          t.PaymentRef,
		Status:             string(t.Status),
		PaymentStatus:      string(t.PaymentStatus),
		RequestedAt:        formatTime(t.RequestedAt),
		AcceptedAt:         formatTimePtr(t.AcceptedAt),
		StartedAt:          formatTimePtr(t.StartedAt),
		CompletedAt:        formatTimePtr(t.CompletedAt),
		CancelledAt:        formatTimePtr(t.CancelledAt),
		CancellationReason: t.CancellationReason,
		RiderRating:        t.RiderRating,
		DriverRating:       t.DriverRating,
	}
	if t.FinalFare != nil {
		resp.FinalFare = t.FinalFare.StringFixed(2)
	}
	if t.EscrowAmount.IsPositive() {
		resp.EscrowAmount = t.EscrowAmount.StringFixed(2)
	}
	return resp
}

// CreateTrip handles POST /v1/trips
func (h *TripHandler) CreateTrip(c *gin.Context) {
	var req CreateTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	trip, err := h.tripService.Create(c.Request.Context(), service.CreateTripRequest{
		RiderID:         middleware.UserID(c),
		ServiceType:     domain.ServiceType(req.ServiceType),
		VehicleType:     domain.VehicleType(req.VehicleType),
		Pickup:          domain.Location{Lat: req.Pickup.Lat, Lng: req.Pickup.Lng, Address: req.Pickup.Address},
		Dropoff:         domain.Location{Lat: req.Dropoff.Lat, Lng: req.Dropoff.Lng, Address: req.Dropoff.Address},
		DistanceKm:      req.DistanceKm,
		DurationMinutes: req.DurationMinutes,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, toTripResponse(trip))
}

// GetTrip handles GET /v1/trips/:id
func (h *TripHandler) GetTrip(c *gin.Context) {
	trip, err := h.tripService.Get(c.Request.Context(), c.Param("id"),
		middleware.UserID(c), middleware.Role(c) == domain.UserRoleAdmin)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toTripResponse(trip))
}

// ListTrips handles GET /v1/trips
//
// ?scope=rider (default) lists the caller's trips as rider, scope=driver as
// driver, scope=available the requested trips a driver can accept.
func (h *TripHandler) ListTrips(c *gin.Context) {
	ctx := c.Request.Context()
	userID := middleware.UserID(c)
	limit := queryLimit(c, 50)

	var (
		trips []*domain.Trip
		err   error
	)
	switch c.DefaultQuery("scope", "rider") {
	case "rider":
		trips, err = h.tripService.List(ctx, domain.TripFilter{
			RiderID: userID,
			Status:  domain.TripStatus(c.Query("status")),
			Limit:   limit,
		})
	case "driver":
		trips, err = h.tripService.List(ctx, domain.TripFilter{
			DriverID: userID,
			Status:   domain.TripStatus(c.Query("status")),
			Limit:    limit,
		})
	case "available":
		trips, err = h.tripService.Available(ctx, userID, limit)
	default:
		badRequest(c, "scope must be rider, driver or available")
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	response := make([]TripResponse, 0, len(trips))
	for _, trip := range trips {
		response = append(response, toTripResponse(trip))
	}
	respondJSON(c, http.StatusOK, response)
}

// AcceptTrip handles POST /v1/trips/:id/accept
func (h *TripHandler) AcceptTrip(c *gin.Context) {
	trip, err := h.tripService.Assign(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toTripResponse(trip))
}

// UpdateStatusRequest is the HTTP request body for advancing a trip.
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdateStatus handles POST /v1/trips/:id/status
func (h *TripHandler) UpdateStatus(c *gin.Context) {
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "status is required")
		return
	}

	trip, err := h.tripService.Advance(c.Request.Context(), c.Param("id"),
		middleware.UserID(c), domain.TripStatus(req.Status))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toTripResponse(trip))
}

// CancelTripRequest is the HTTP request body for cancelling a trip.
type CancelTripRequest struct {
	Reason string `json:"reason"`
}

// CancelTrip handles POST /v1/trips/:id/cancel
func (h *TripHandler) CancelTrip(c *gin.Context) {
	var req CancelTripRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body")
			return
		}
	}

	trip, err := h.tripService.Cancel(c.Request.Context(), c.Param("id"), middleware.UserID(c), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toTripResponse(trip))
}

// RateTripRequest is the HTTP request body for rating a trip.
type RateTripRequest struct {
	Rating   int    `json:"rating" binding:"required"`
	Feedback string `json:"feedback"`
}

// RateTrip handles POST /v1/trips/:id/rate
func (h *TripHandler) RateTrip(c *gin.Context) {
	var req RateTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "rating is required")
		return
	}

	trip, err := h.tripService.Rate(c.Request.Context(), c.Param("id"), middleware.UserID(c), req.Rating, req.Feedback)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toTripResponse(trip))
}

// ListTransactions handles GET /v1/trips/:id/transactions
func (h *TripHandler) ListTransactions(c *gin.Context) {
	ctx := c.Request.Context()
	trip, err := h.tripService.Get(ctx, c.Param("id"),
		middleware.UserID(c), middleware.Role(c) == domain.UserRoleAdmin)
	if err != nil {
		respondError(c, err)
		return
	}

	txns, err := h.escrowService.Transactions(ctx, trip.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	response := make([]TransactionResponse, 0, len(txns))
	for _, txn := range txns {
		response = append(response, toTransactionResponse(txn))
	}
	respondJSON(c, http.StatusOK, response)
}
