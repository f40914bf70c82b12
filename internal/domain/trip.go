package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TripStatus represents the current status of a trip.
type TripStatus string

const (
	TripStatusRequested  TripStatus = "requested"
	TripStatusAccepted   TripStatus = "accepted"
	TripStatusInProgress TripStatus = "in_progress"
	TripStatusCompleted  TripStatus = "completed"
	TripStatusCancelled  TripStatus = "cancelled"
	TripStatusDisputed   TripStatus = "disputed"
)

// allowedTripTransitions lists every legal status change.
// Completed trips can still move to disputed while payment is unsettled.
var allowedTripTransitions = map[TripStatus][]TripStatus{
	TripStatusRequested:  {TripStatusAccepted, TripStatusCancelled},
	TripStatusAccepted:   {TripStatusInProgress, TripStatusCancelled, TripStatusDisputed},
	TripStatusInProgress: {TripStatusCompleted, TripStatusDisputed},
	TripStatusCompleted:  {TripStatusDisputed},
}

// CanTransition reports whether a trip may move from one status to another.
func CanTransition(from, to TripStatus) bool {
	for _, s := range allowedTripTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further lifecycle transition is possible.
func (s TripStatus) IsTerminal() bool {
	return s == TripStatusCancelled || s == TripStatusDisputed
}

// PaymentStatus is the escrow state of a trip.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusEscrowed PaymentStatus = "escrowed"
	// PaymentStatusSettling is held while a release is in flight.
	PaymentStatusSettling  PaymentStatus = "settling"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
	PaymentStatusDisputed  PaymentStatus = "disputed"
)

// ServiceType is what the rider booked.
type ServiceType string

const (
	ServiceTypeTaxi         ServiceType = "taxi"
	ServiceTypeBikeDelivery ServiceType = "bike_delivery"
)

// Valid reports whether s is a known service type.
func (s ServiceType) Valid() bool {
	return s == ServiceTypeTaxi || s == ServiceTypeBikeDelivery
}

// Location is a geographic point with a display address.
type Location struct {
	Lat     float64
	Lng     float64
	Address string
}

// Trip is the central aggregate of the marketplace. Trips are never deleted.
type Trip struct {
	ID              string
	TripNumber      string
	RiderID         string
	DriverID        string
	AgentID         string
	ServiceType     ServiceType
	VehicleType     VehicleType
	Pickup          Location
	Dropoff         Location
	DistanceKm      decimal.Decimal
	DurationMinutes decimal.Decimal
	PricingConfigID string
	SurgeMultiplier decimal.Decimal

	// Fee split snapshot, fixed at creation.
	EstimatedFare   decimal.Decimal
	TreasuryFee     decimal.Decimal
	AgentCommission decimal.Decimal
	DriverPayout    decimal.Decimal
	FinalFare       *decimal.Decimal

	EscrowAmount  decimal.Decimal
	PaymentRef    string
	Status        TripStatus
	PaymentStatus PaymentStatus

	// Values held before a dispute froze the trip.
	DisputedFromStatus        TripStatus
	DisputedFromPaymentStatus PaymentStatus

	RequestedAt        time.Time
	AcceptedAt         *time.Time
	StartedAt          *time.Time
	CompletedAt        *time.Time
	CancelledAt        *time.Time
	CancellationReason string

	// RiderRating is the rider's rating of the driver, DriverRating the reverse.
	RiderRating    *int
	RiderFeedback  string
	DriverRating   *int
	DriverFeedback string

	UpdatedAt time.Time
}

// HasAgent reports whether a referral agent earns commission on the trip.
func (t *Trip) HasAgent() bool {
	return t.AgentID != ""
}

// IsParticipant reports whether userID is the rider or the assigned driver.
func (t *Trip) IsParticipant(userID string) bool {
	return userID != "" && (userID == t.RiderID || userID == t.DriverID)
}

// Counterparty returns the other party of the trip for userID.
func (t *Trip) Counterparty(userID string) string {
	switch userID {
	case t.RiderID:
		return t.DriverID
	case t.DriverID:
		return t.RiderID
	}
	return ""
}

// TripFilter narrows trip listings.
type TripFilter struct {
	RiderID  string
	DriverID string
	Status   TripStatus
	Limit    int
}
