package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"pitaxi/internal/domain"
	"pitaxi/internal/middleware"
	"pitaxi/internal/service"
)

// DisputeHandler handles HTTP requests for disputes.
type DisputeHandler struct {
	disputeService *service.DisputeService
}

// NewDisputeHandler creates a new DisputeHandler.
func NewDisputeHandler(disputeService *service.DisputeService) *DisputeHandler {
	return &DisputeHandler{disputeService: disputeService}
}

// FileDisputeRequest is the HTTP request body for filing a dispute.
type FileDisputeRequest struct {
	TripID      string         `json:"trip_id" binding:"required"`
	Reason      string         `json:"reason" binding:"required"`
	Description string         `json:"description"`
	Evidence    map[string]any `json:"evidence"`
}

// ResolveDisputeRequest is the HTTP request body for an admin resolution.
type ResolveDisputeRequest struct {
	Resolution   string           `json:"resolution" binding:"required"`
	Notes        string           `json:"notes"`
	RefundAmount *decimal.Decimal `json:"refund_amount"`
	RefundTarget string           `json:"refund_target"`
}

// RejectDisputeRequest is the HTTP request body for rejecting a dispute.
type RejectDisputeRequest struct {
	Notes string `json:"notes"`
}

// DisputeResponse is the HTTP response for dispute data.
type DisputeResponse struct {
	ID              string `json:"id"`
	TripID          string `json:"trip_id"`
	FiledBy         string `json:"filed_by"`
	FiledAgainst    string `json:"filed_against"`
	Reason          string `json:"reason"`
	Description     string `json:"description"`
	Status          string `json:"status"`
	Resolution      string `json:"resolution,omitempty"`
	ResolutionNotes string `json:"resolution_notes,omitempty"`
	RefundAmount    string `json:"refund_amount,omitempty"`
	RefundTarget    string `json:"refund_target,omitempty"`
	RefundStatus    string `json:"refund_status"`
	ResolvedAt      string `json:"resolved_at,omitempty"`
	CreatedAt       string `json:"created_at"`
}

func toDisputeResponse(d *domain.Dispute) DisputeResponse {
	resp := DisputeResponse{
		ID:              d.ID,
		TripID:          d.TripID,
		FiledBy:         d.FiledBy,
		FiledAgainst:    d.FiledAgainst,
		Reason:          string(d.Reason),
		Description:     d.Description,
		Status:          string(d.Status),
		Resolution:      string(d.Resolution),
		ResolutionNotes: d.ResolutionNotes,
		RefundTarget:    string(d.RefundTarget),
		RefundStatus:    string(d.RefundStatus),
		ResolvedAt:      formatTimePtr(d.ResolvedAt),
		CreatedAt:       formatTime(d.CreatedAt),
	}
	if d.RefundAmount != nil {
		resp.RefundAmount = d.RefundAmount.StringFixed(2)
	}
	return resp
}

// File handles POST /v1/disputes
func (h *DisputeHandler) File(c *gin.Context) {
	var req FileDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "trip_id and reason are required")
		return
	}

	dispute, err := h.disputeService.File(c.Request.Context(), service.FileDisputeRequest{
		TripID:      req.TripID,
		FiledBy:     middleware.UserID(c),
		Reason:      domain.DisputeReason(req.Reason),
		Description: req.Description,
		Evidence:    req.Evidence,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, toDisputeResponse(dispute))
}

// Get handles GET /v1/disputes/:id
func (h *DisputeHandler) Get(c *gin.Context) {
	dispute, err := h.disputeService.Get(c.Request.Context(), c.Param("id"),
		middleware.UserID(c), middleware.Role(c) == domain.UserRoleAdmin)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toDisputeResponse(dispute))
}

// ListByTrip handles GET /v1/trips/:id/disputes
func (h *DisputeHandler) ListByTrip(c *gin.Context) {
	disputes, err := h.disputeService.ListByTrip(c.Request.Context(), c.Param("id"),
		middleware.UserID(c), middleware.Role(c) == domain.UserRoleAdmin)
	if err != nil {
		respondError(c, err)
		return
	}

	response := make([]DisputeResponse, 0, len(disputes))
	for _, d := range disputes {
		response = append(response, toDisputeResponse(d))
	}
	respondJSON(c, http.StatusOK, response)
}

// StartReview handles POST /v1/admin/disputes/:id/review
func (h *DisputeHandler) StartReview(c *gin.Context) {
	dispute, err := h.disputeService.StartReview(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toDisputeResponse(dispute))
}

// Resolve handles POST /v1/admin/disputes/:id/resolve
func (h *DisputeHandler) Resolve(c *gin.Context) {
	var req ResolveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "resolution is required")
		return
	}

	dispute, err := h.disputeService.Resolve(c.Request.Context(), service.ResolveDisputeRequest{
		DisputeID:    c.Param("id"),
		AdminID:      middleware.UserID(c),
		Resolution:   domain.DisputeResolution(req.Resolution),
		Notes:        req.Notes,
		RefundAmount: req.RefundAmount,
		RefundTarget: domain.RefundTarget(req.RefundTarget),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toDisputeResponse(dispute))
}

// Reject handles POST /v1/admin/disputes/:id/reject
func (h *DisputeHandler) Reject(c *gin.Context) {
	var req RejectDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "notes are required")
		return
	}

	dispute, err := h.disputeService.Reject(c.Request.Context(), c.Param("id"), middleware.UserID(c), req.Notes)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toDisputeResponse(dispute))
}
