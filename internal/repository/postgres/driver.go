package postgres

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"pitaxi/internal/domain"
	"pitaxi/internal/repository"
)

// DriverRepository is a PostgreSQL implementation of repository.DriverRepository.
type DriverRepository struct {
	q Querier
}

const driverColumns = `user_id, vehicle_type, vehicle_make, vehicle_model, vehicle_plate, is_online, is_available, verification_status, total_earnings, created_at, updated_at`

// Create adds a new driver profile.
func (r *DriverRepository) Create(ctx context.Context, profile *domain.DriverProfile) error {
	query := `
		INSERT INTO driver_profiles (` + driverColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.q.ExecContext(ctx, query,
		profile.UserID,
		profile.VehicleType,
		profile.VehicleMake,
		profile.VehicleModel,
		profile.VehiclePlate,
		profile.IsOnline,
		profile.IsAvailable && profile.IsOnline,
		profile.VerificationStatus,
		profile.TotalEarnings,
		profile.CreatedAt,
		profile.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return repository.ErrDuplicate
	}
	return err
}

// GetByUserID retrieves a driver profile by its user ID.
func (r *DriverRepository) GetByUserID(ctx context.Context, userID string) (*domain.DriverProfile, error) {
	query := `SELECT ` + driverColumns + ` FROM driver_profiles WHERE user_id = $1`

	var d domain.DriverProfile
	err := r.q.QueryRowContext(ctx, query, userID).Scan(
		&d.UserID,
		&d.VehicleType,
		&d.VehicleMake,
		&d.VehicleModel,
		&d.VehiclePlate,
		&d.IsOnline,
		&d.IsAvailable,
		&d.VerificationStatus,
		&d.TotalEarnings,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, mapNoRows(err)
	}

	return &d, nil
}

// SetOnline toggles is_online. A driver on an active trip stays unavailable
// when coming back online.
func (r *DriverRepository) SetOnline(ctx context.Context, userID string, online bool) error {
	query := `
		UPDATE driver_profiles
		SET is_online = $2,
		    is_available = $2 AND NOT EXISTS (
		        SELECT 1 FROM trips
		        WHERE trips.driver_id = driver_profiles.user_id
		          AND trips.status IN ('accepted', 'in_progress')
		    ),
		    updated_at = $3
		WHERE user_id = $1
	`

	return r.execOne(ctx, query, userID, online, time.Now().UTC())
}

// ClaimAvailability flips is_available to false for a verified, online, available driver.
func (r *DriverRepository) ClaimAvailability(ctx context.Context, userID string) (bool, error) {
	query := `
		UPDATE driver_profiles
		SET is_available = FALSE, updated_at = $2
		WHERE user_id = $1
		  AND is_online AND is_available
		  AND verification_status = 'verified'
	`

	result, err := r.q.ExecContext(ctx, query, userID, time.Now().UTC())
	if err != nil {
		return false, err
	}
	return affected(result)
}

// ReleaseAvailability makes the driver available again if still online.
func (r *DriverRepository) ReleaseAvailability(ctx context.Context, userID string) error {
	query := `
		UPDATE driver_profiles
		SET is_available = is_online, updated_at = $2
		WHERE user_id = $1
	`

	return r.execOne(ctx, query, userID, time.Now().UTC())
}

// AddEarnings increases total_earnings by amount.
func (r *DriverRepository) AddEarnings(ctx context.Context, userID string, amount decimal.Decimal) error {
	query := `
		UPDATE driver_profiles
		SET total_earnings = total_earnings + $2, updated_at = $3
		WHERE user_id = $1
	`

	return r.execOne(ctx, query, userID, amount, time.Now().UTC())
}

// UpdateVerification sets the verification status.
func (r *DriverRepository) UpdateVerification(ctx context.Context, userID string, status domain.VerificationStatus) error {
	query := `
		UPDATE driver_profiles
		SET verification_status = $2, updated_at = $3
		WHERE user_id = $1
	`

	return r.execOne(ctx, query, userID, status, time.Now().UTC())
}

// CountAvailable returns the number of drivers that can be assigned now.
func (r *DriverRepository) CountAvailable(ctx context.Context) (int, error) {
	query := `
		SELECT COUNT(*) FROM driver_profiles
		WHERE is_online AND is_available AND verification_status = 'verified'
	`

	var n int
	err := r.q.QueryRowContext(ctx, query).Scan(&n)
	return n, err
}

func (r *DriverRepository) execOne(ctx context.Context, query string, args ...any) error {
	result, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	ok, err := affected(result)
	if err != nil {
		return err
	}
	if !ok {
		return repository.ErrNotFound
	}
	return nil
}

// Ensure DriverRepository implements repository.DriverRepository.
var _ repository.DriverRepository = (*DriverRepository)(nil)
