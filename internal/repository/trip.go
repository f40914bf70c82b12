package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"pitaxi/internal/domain"
)

// StatusChange is a conditional trip status update. It only applies while the
// trip is in one of From and, if PaymentIn is set, its payment status is in PaymentIn.
type StatusChange struct {
	TripID    string
	From      []domain.TripStatus
	To        domain.TripStatus
	PaymentIn []domain.PaymentStatus
	At        time.Time
	Reason    string
}

// TripRepository defines the persistence operations for trips.
// Every mutating method is a compare-and-set: a false result means the
// precondition no longer held and nothing was written.
type TripRepository interface {
	// Create persists a new trip.
	Create(ctx context.Context, trip *domain.Trip) error

	// GetByID retrieves a trip by ID.
	GetByID(ctx context.Context, id string) (*domain.Trip, error)

	// List retrieves trips matching the filter, newest first.
	List(ctx context.Context, filter domain.TripFilter) ([]*domain.Trip, error)

	// CountByStatus returns the number of trips in the given status.
	CountByStatus(ctx context.Context, status domain.TripStatus) (int, error)

	// Assign moves a requested trip to accepted with the given driver.
	Assign(ctx context.Context, tripID, driverID string, at time.Time) (bool, error)

	// UpdateStatus applies a conditional lifecycle transition and stamps the
	// timestamp column that belongs to the target status.
	UpdateStatus(ctx context.Context, change StatusChange) (bool, error)

	// UpdatePaymentStatus moves payment_status from one value to another.
	UpdatePaymentStatus(ctx context.Context, tripID string, from, to domain.PaymentStatus) (bool, error)

	// MarkEscrowed moves payment_status pending→escrowed and records the escrow.
	MarkEscrowed(ctx context.Context, tripID, paymentRef string, amount decimal.Decimal) (bool, error)

	// MarkSettled moves payment_status from the given value to completed and sets final_fare.
	MarkSettled(ctx context.Context, tripID string, from domain.PaymentStatus, finalFare decimal.Decimal) (bool, error)

	// MarkDisputed freezes an accepted, in-progress or completed trip whose
	// payment is pending or escrowed, remembering both prior values.
	MarkDisputed(ctx context.Context, tripID string) (bool, error)

	// RestoreFromDispute puts back the values saved by MarkDisputed.
	RestoreFromDispute(ctx context.Context, tripID string) (bool, error)

	// SetRating stores a post-completion rating. byRider selects which side is
	// rating. Each side may rate once.
	SetRating(ctx context.Context, tripID string, byRider bool, rating int, feedback string) (bool, error)
}
