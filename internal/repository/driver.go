package repository

import (
	"context"

	"github.com/shopspring/decimal"

	"pitaxi/internal/domain"
)

// DriverRepository defines the persistence operations for driver profiles.
type DriverRepository interface {
	// Create adds a new driver profile.
	Create(ctx context.Context, profile *domain.DriverProfile) error

	// GetByUserID retrieves a driver profile by its user ID.
	GetByUserID(ctx context.Context, userID string) (*domain.DriverProfile, error)

	// SetOnline toggles is_online. Going offline also clears is_available;
	// going online makes the driver available.
	SetOnline(ctx context.Context, userID string, online bool) error

	// ClaimAvailability flips is_available to false only if the driver is
	// verified, online and available. Returns false when the precondition fails.
	ClaimAvailability(ctx context.Context, userID string) (bool, error)

	// ReleaseAvailability makes the driver available again if still online.
	ReleaseAvailability(ctx context.Context, userID string) error

	// AddEarnings increases total_earnings by amount.
	AddEarnings(ctx context.Context, userID string, amount decimal.Decimal) error

	// UpdateVerification sets the verification status.
	UpdateVerification(ctx context.Context, userID string, status domain.VerificationStatus) error

	// CountAvailable returns the number of drivers that can be assigned now.
	CountAvailable(ctx context.Context) (int, error)
}
