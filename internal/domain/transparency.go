package domain

import "time"

// TransparencyEvent names an audited state change.
type TransparencyEvent string

const (
	EventTripRequested          TransparencyEvent = "trip_requested"
	EventTripAccepted           TransparencyEvent = "trip_accepted"
	EventTripStarted            TransparencyEvent = "trip_started"
	EventTripCompleted          TransparencyEvent = "trip_completed"
	EventTripCancelled          TransparencyEvent = "trip_cancelled"
	EventTripRated              TransparencyEvent = "trip_rated"
	EventEscrowFunded           TransparencyEvent = "escrow_funded"
	EventPaymentDistributed     TransparencyEvent = "payment_distributed"
	EventPaymentRefunded        TransparencyEvent = "payment_refunded"
	EventDisputeFiled           TransparencyEvent = "dispute_filed"
	EventDisputeReview          TransparencyEvent = "dispute_under_review"
	EventDisputeResolved        TransparencyEvent = "dispute_resolved"
	EventDisputeRejected        TransparencyEvent = "dispute_rejected"
	EventPricingConfigCreated   TransparencyEvent = "pricing_config_created"
	EventPricingConfigActivated TransparencyEvent = "pricing_config_activated"
	EventDriverVerified         TransparencyEvent = "driver_verification_updated"
)

// TransparencyLog is an append-only public record of one event.
// PublicData must only carry fields that are safe to publish.
type TransparencyLog struct {
	ID          string
	EventType   TransparencyEvent
	TripID      string
	Description string
	PublicData  map[string]any
	CreatedAt   time.Time
}

// TransparencyFilter narrows log listings.
type TransparencyFilter struct {
	TripID    string
	EventType TransparencyEvent
	Limit     int
}
