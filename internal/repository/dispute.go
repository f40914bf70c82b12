package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"pitaxi/internal/domain"
)

// DisputeClosure is the final write of a dispute.
type DisputeClosure struct {
	DisputeID    string
	From         []domain.DisputeStatus
	Status       domain.DisputeStatus
	Resolution   domain.DisputeResolution
	Notes        string
	RefundAmount *decimal.Decimal
	RefundTarget domain.RefundTarget
	RefundStatus domain.RefundStatus
	ResolvedBy   string
	ResolvedAt   time.Time
}

// DisputeRepository defines the persistence operations for disputes.
type DisputeRepository interface {
	// Create persists a new dispute.
	Create(ctx context.Context, dispute *domain.Dispute) error

	// GetByID retrieves a dispute by ID.
	GetByID(ctx context.Context, id string) (*domain.Dispute, error)

	// ListByTrip returns every dispute of a trip.
	ListByTrip(ctx context.Context, tripID string) ([]*domain.Dispute, error)

	// GetOpenByTrip returns the dispute of a trip that is not closed yet.
	GetOpenByTrip(ctx context.Context, tripID string) (*domain.Dispute, error)

	// UpdateStatus moves a dispute between workflow states.
	UpdateStatus(ctx context.Context, id string, from []domain.DisputeStatus, to domain.DisputeStatus) (bool, error)

	// Close writes the outcome of a dispute.
	Close(ctx context.Context, closure DisputeClosure) (bool, error)
}
