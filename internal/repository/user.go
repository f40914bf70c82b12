package repository

import (
	"context"

	"github.com/shopspring/decimal"

	"pitaxi/internal/domain"
)

// UserRepository defines the persistence operations for users.
type UserRepository interface {
	// Create persists a new user. Returns ErrDuplicate if the payment-network uid is taken.
	Create(ctx context.Context, user *domain.User) error

	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id string) (*domain.User, error)

	// GetByPiUID retrieves a user by payment-network uid.
	GetByPiUID(ctx context.Context, piUID string) (*domain.User, error)

	// IncrementTrips adds one to total_trips.
	IncrementTrips(ctx context.Context, id string) error

	// ApplyRating folds one rating into the running average.
	ApplyRating(ctx context.Context, id string, rating int) error
}

// ReferralRepository defines the persistence operations for agent referral stats.
type ReferralRepository interface {
	// RecordTrip adds one trip and the commission to the agent's stats for a referred user.
	RecordTrip(ctx context.Context, agentID, referredUserID string, commission decimal.Decimal) error

	// ListByAgent returns the stats of every user an agent referred.
	ListByAgent(ctx context.Context, agentID string) ([]*domain.AgentReferral, error)
}
