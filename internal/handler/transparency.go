package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pitaxi/internal/domain"
	"pitaxi/internal/service"
)

// TransparencyHandler serves the public audit log and treasury balance.
type TransparencyHandler struct {
	audit *service.AuditLog
}

// NewTransparencyHandler creates a new TransparencyHandler.
func NewTransparencyHandler(audit *service.AuditLog) *TransparencyHandler {
	return &TransparencyHandler{audit: audit}
}

// LogResponse is one public audit entry.
type LogResponse struct {
	ID          string         `json:"id"`
	EventType   string         `json:"event_type"`
	TripID      string         `json:"trip_id,omitempty"`
	Description string         `json:"description"`
	Data        map[string]any `json:"data,omitempty"`
	CreatedAt   string         `json:"created_at"`
}

// TreasuryEntryResponse is one treasury ledger row.
type TreasuryEntryResponse struct {
	Type         string `json:"type"`
	TripID       string `json:"trip_id,omitempty"`
	Amount       string `json:"amount"`
	BalanceAfter string `json:"balance_after"`
	Description  string `json:"description,omitempty"`
	CreatedAt    string `json:"created_at"`
}

// TreasuryResponse is the current treasury balance with recent entries.
type TreasuryResponse struct {
	Balance string                  `json:"balance"`
	Entries []TreasuryEntryResponse `json:"entries"`
}

// Logs handles GET /v1/transparency/logs
func (h *TransparencyHandler) Logs(c *gin.Context) {
	entries, err := h.audit.List(c.Request.Context(), domain.TransparencyFilter{
		TripID:    c.Query("trip_id"),
		EventType: domain.TransparencyEvent(c.Query("event_type")),
		Limit:     queryLimit(c, 50),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	response := make([]LogResponse, 0, len(entries))
	for _, e := range entries {
		response = append(response, LogResponse{
			ID:          e.ID,
			EventType:   string(e.EventType),
			TripID:      e.TripID,
			Description: e.Description,
			Data:        e.PublicData,
			CreatedAt:   formatTime(e.CreatedAt),
		})
	}
	respondJSON(c, http.StatusOK, response)
}

// Treasury handles GET /v1/transparency/treasury
func (h *TransparencyHandler) Treasury(c *gin.Context) {
	summary, err := h.audit.Treasury(c.Request.Context(), queryLimit(c, 20))
	if err != nil {
		respondError(c, err)
		return
	}

	response := TreasuryResponse{
		Balance: summary.Balance.StringFixed(2),
		Entries: make([]TreasuryEntryResponse, 0, len(summary.Entries)),
	}
	for _, e := range summary.Entries {
		response.Entries = append(response.Entries, TreasuryEntryResponse{
			Type:         string(e.Type),
			TripID:       e.TripID,
			Amount:       e.Amount.StringFixed(2),
			BalanceAfter: e.BalanceAfter.StringFixed(2),
			Description:  e.Description,
			CreatedAt:    formatTime(e.CreatedAt),
		})
	}
	respondJSON(c, http.StatusOK, response)
}
