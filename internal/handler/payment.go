package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pitaxi/internal/domain"
	"pitaxi/internal/middleware"
	"pitaxi/internal/service"
)

// PaymentHandler handles the payment network callbacks and escrow operations.
type PaymentHandler struct {
	escrowService *service.EscrowService
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(escrowService *service.EscrowService) *PaymentHandler {
	return &PaymentHandler{escrowService: escrowService}
}

// ApprovePaymentRequest is sent by the client once the rider started a payment.
type ApprovePaymentRequest struct {
	TripID    string `json:"trip_id" binding:"required"`
	PaymentID string `json:"payment_id" binding:"required"`
}

// CompletePaymentRequest is sent by the client once the rider's transaction
// reached the chain.
type CompletePaymentRequest struct {
	TripID    string `json:"trip_id" binding:"required"`
	PaymentID string `json:"payment_id" binding:"required"`
	TxID      string `json:"txid" binding:"required"`
}

// RefundPaymentRequest is an admin refund.
type RefundPaymentRequest struct {
	TripID string `json:"trip_id" binding:"required"`
	Reason string `json:"reason"`
}

// TransactionResponse is one payment ledger row.
type TransactionResponse struct {
	ID                string `json:"id"`
	Type              string `json:"type"`
	Amount            string `json:"amount"`
	Status            string `json:"status"`
	ExternalPaymentID string `json:"external_payment_id,omitempty"`
	ExternalTxID      string `json:"txid,omitempty"`
	FailureReason     string `json:"failure_reason,omitempty"`
	CreatedAt         string `json:"created_at,omitempty"`
}

func toTransactionResponse(t *domain.PaymentTransaction) TransactionResponse {
	resp := TransactionResponse{
		ID:                t.ID,
		Type:              string(t.Type),
		Amount:            t.Amount.StringFixed(2),
		Status:            string(t.Status),
		ExternalPaymentID: t.ExternalPaymentID,
		ExternalTxID:      t.ExternalTxID,
		FailureReason:     t.FailureReason,
	}
	if !t.CreatedAt.IsZero() {
		resp.CreatedAt = formatTime(t.CreatedAt)
	}
	return resp
}

// DistributionResponse is the split paid out by a release.
type DistributionResponse struct {
	Total           string                `json:"total"`
	TreasuryFee     string                `json:"treasury_fee"`
	AgentCommission string                `json:"agent_commission"`
	DriverPayout    string                `json:"driver_payout"`
	Transactions    []TransactionResponse `json:"transactions"`
	FailedLegs      []string              `json:"failed_legs,omitempty"`
	Replayed        bool                  `json:"replayed"`
}

func toDistributionResponse(d *service.Distribution) *DistributionResponse {
	if d == nil {
		return nil
	}
	resp := &DistributionResponse{
		Total:           d.Total.StringFixed(2),
		TreasuryFee:     d.TreasuryFee.StringFixed(2),
		AgentCommission: d.AgentCommission.StringFixed(2),
		DriverPayout:    d.DriverPayout.StringFixed(2),
		Transactions:    make([]TransactionResponse, 0, len(d.Transactions)),
		Replayed:        d.Replayed,
	}
	for _, txn := range d.Transactions {
		resp.Transactions = append(resp.Transactions, toTransactionResponse(txn))
	}
	for _, leg := range d.FailedLegs {
		resp.FailedLegs = append(resp.FailedLegs, string(leg))
	}
	return resp
}

// CompletePaymentResponse is the result of the completion callback.
type CompletePaymentResponse struct {
	Trip         TripResponse          `json:"trip"`
	Distribution *DistributionResponse `json:"distribution,omitempty"`
}

// Approve handles POST /v1/payments/approve
func (h *PaymentHandler) Approve(c *gin.Context) {
	var req ApprovePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "trip_id and payment_id are required")
		return
	}

	trip, err := h.escrowService.FundEscrow(c.Request.Context(), req.TripID, req.PaymentID, middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toTripResponse(trip))
}

// Complete handles POST /v1/payments/complete
func (h *PaymentHandler) Complete(c *gin.Context) {
	var req CompletePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "trip_id, payment_id and txid are required")
		return
	}

	result, err := h.escrowService.CompletePayment(c.Request.Context(), req.TripID, req.PaymentID, req.TxID, middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, CompletePaymentResponse{
		Trip:         toTripResponse(result.Trip),
		Distribution: toDistributionResponse(result.Distribution),
	})
}

// Refund handles POST /v1/payments/refund
func (h *PaymentHandler) Refund(c *gin.Context) {
	var req RefundPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "trip_id is required")
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = "admin refund"
	}
	trip, err := h.escrowService.Refund(c.Request.Context(), req.TripID, reason)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toTripResponse(trip))
}

// PaymentStatusResponse is the network's view of a payment.
type PaymentStatusResponse struct {
	PaymentID           string `json:"payment_id"`
	Amount              string `json:"amount"`
	DeveloperApproved   bool   `json:"developer_approved"`
	TransactionVerified bool   `json:"transaction_verified"`
	DeveloperCompleted  bool   `json:"developer_completed"`
	Cancelled           bool   `json:"cancelled"`
	TxID                string `json:"txid,omitempty"`
}

// Status handles GET /v1/payments/:id/status
func (h *PaymentHandler) Status(c *gin.Context) {
	p, err := h.escrowService.PaymentStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, PaymentStatusResponse{
		PaymentID:           p.Identifier,
		Amount:              p.Amount.StringFixed(2),
		DeveloperApproved:   p.Status.DeveloperApproved,
		TransactionVerified: p.Status.TransactionVerified,
		DeveloperCompleted:  p.Status.DeveloperCompleted,
		Cancelled:           p.Status.Cancelled || p.Status.UserCancelled,
		TxID:                p.TxID(),
	})
}
