package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pitaxi/internal/domain"
	"pitaxi/internal/repository"
)

// TripRepository is a PostgreSQL implementation of repository.TripRepository.
type TripRepository struct {
	q Querier
}

const tripColumns = `id, trip_number, rider_id, driver_id, agent_id, service_type, vehicle_type,
	pickup_lat, pickup_lng, pickup_address, dropoff_lat, dropoff_lng, dropoff_address,
	distance_km, duration_minutes, pricing_config_id, surge_multiplier,
	estimated_fare, treasury_fee, agent_commission, driver_payout, final_fare,
	escrow_amount, payment_ref, status, payment_status,
	disputed_from_status, disputed_from_payment_status,
	requested_at, accepted_at, started_at, completed_at, cancelled_at, cancellation_reason,
	rider_rating, rider_feedback, driver_rating, driver_feedback, updated_at`

// statusTimestampColumn is the column stamped when a trip enters a status.
var statusTimestampColumn = map[domain.TripStatus]string{
	domain.TripStatusInProgress: "started_at",
	domain.TripStatusCompleted:  "completed_at",
	domain.TripStatusCancelled:  "cancelled_at",
}

// Create persists a new trip.
func (r *TripRepository) Create(ctx context.Context, trip *domain.Trip) error {
	query := `
		INSERT INTO trips (` + tripColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19,
		        $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33, $34, $35, $36,
		        $37, $38, $39)
	`

	var finalFare decimal.NullDecimal
	if trip.FinalFare != nil {
		finalFare = decimal.NullDecimal{Decimal: *trip.FinalFare, Valid: true}
	}

	_, err := r.q.ExecContext(ctx, query,
		trip.ID,
		trip.TripNumber,
		trip.RiderID,
		nullString(trip.DriverID),
		nullString(trip.AgentID),
		trip.ServiceType,
		trip.VehicleType,
		trip.Pickup.Lat,
		trip.Pickup.Lng,
		trip.Pickup.Address,
		trip.Dropoff.Lat,
		trip.Dropoff.Lng,
		trip.Dropoff.Address,
		trip.DistanceKm,
		trip.DurationMinutes,
		trip.PricingConfigID,
		trip.SurgeMultiplier,
		trip.EstimatedFare,
		trip.TreasuryFee,
		trip.AgentCommission,
		trip.DriverPayout,
		finalFare,
		trip.EscrowAmount,
		nullString(trip.PaymentRef),
		trip.Status,
		trip.PaymentStatus,
		nullString(string(trip.DisputedFromStatus)),
		nullString(string(trip.DisputedFromPaymentStatus)),
		trip.RequestedAt,
		nullTime(trip.AcceptedAt),
		nullTime(trip.StartedAt),
		nullTime(trip.CompletedAt),
		nullTime(trip.CancelledAt),
		trip.CancellationReason,
		nullInt(trip.RiderRating),
		trip.RiderFeedback,
		nullInt(trip.DriverRating),
		trip.DriverFeedback,
		trip.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return repository.ErrDuplicate
	}
	return err
}

// GetByID retrieves a trip by ID.
func (r *TripRepository) GetByID(ctx context.Context, id string) (*domain.Trip, error) {
	query := `SELECT ` + tripColumns + ` FROM trips WHERE id = $1`
	return scanTrip(r.q.QueryRowContext(ctx, query, id))
}

// List retrieves trips matching the filter, newest first.
func (r *TripRepository) List(ctx context.Context, filter domain.TripFilter) ([]*domain.Trip, error) {
	var where []string
	var args []any

	if filter.RiderID != "" {
		args = append(args, filter.RiderID)
		where = append(where, fmt.Sprintf("rider_id = $%d", len(args)))
	}
	if filter.DriverID != "" {
		args = append(args, filter.DriverID)
		where = append(where, fmt.Sprintf("driver_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	query := `SELECT ` + tripColumns + ` FROM trips`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY requested_at DESC LIMIT $%d", len(args))

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trips []*domain.Trip
	for rows.Next() {
		trip, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		trips = append(trips, trip)
	}

	return trips, rows.Err()
}

// CountByStatus returns the number of trips in the given status.
func (r *TripRepository) CountByStatus(ctx context.Context, status domain.TripStatus) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM trips WHERE status = $1`, status).Scan(&n)
	return n, err
}

// Assign moves a requested trip to accepted with the given driver.
func (r *TripRepository) Assign(ctx context.Context, tripID, driverID string, at time.Time) (bool, error) {
	query := `
		UPDATE trips
		SET driver_id = $2, status = 'accepted', accepted_at = $3, updated_at = $3
		WHERE id = $1 AND status = 'requested' AND driver_id IS NULL
	`

	result, err := r.q.ExecContext(ctx, query, tripID, driverID, at)
	if err != nil {
		return false, err
	}
	return affected(result)
}

// UpdateStatus applies a conditional lifecycle transition.
func (r *TripRepository) UpdateStatus(ctx context.Context, change repository.StatusChange) (bool, error) {
	args := []any{change.TripID, change.To, change.At, stringArray(change.From)}
	set := []string{"status = $2", "updated_at = $3"}

	if col, ok := statusTimestampColumn[change.To]; ok {
		set = append(set, col+" = $3")
	}
	if change.To == domain.TripStatusCancelled {
		args = append(args, change.Reason)
		set = append(set, fmt.Sprintf("cancellation_reason = $%d", len(args)))
	}

	query := `UPDATE trips SET ` + strings.Join(set, ", ") + ` WHERE id = $1 AND status = ANY($4)`
	if len(change.PaymentIn) > 0 {
		args = append(args, stringArray(change.PaymentIn))
		query += fmt.Sprintf(" AND payment_status = ANY($%d)", len(args))
	}

	result, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return affected(result)
}

// UpdatePaymentStatus moves payment_status from one value to another.
func (r *TripRepository) UpdatePaymentStatus(ctx context.Context, tripID string, from, to domain.PaymentStatus) (bool, error) {
	query := `
		UPDATE trips SET payment_status = $3, updated_at = $4
		WHERE id = $1 AND payment_status = $2
	`

	result, err := r.q.ExecContext(ctx, query, tripID, from, to, time.Now().UTC())
	if err != nil {
		return false, err
	}
	return affected(result)
}

// MarkEscrowed moves payment_status pending→escrowed and records the escrow.
func (r *TripRepository) MarkEscrowed(ctx context.Context, tripID, paymentRef string, amount decimal.Decimal) (bool, error) {
	query := `
		UPDATE trips
		SET payment_status = 'escrowed', payment_ref = $2, escrow_amount = $3, updated_at = $4
		WHERE id = $1 AND payment_status = 'pending' AND status IN ('requested', 'accepted', 'in_progress')
	`

	result, err := r.q.ExecContext(ctx, query, tripID, paymentRef, amount, time.Now().UTC())
	if err != nil {
		return false, err
	}
	return affected(result)
}

// MarkSettled moves payment_status to completed and sets final_fare.
func (r *TripRepository) MarkSettled(ctx context.Context, tripID string, from domain.PaymentStatus, finalFare decimal.Decimal) (bool, error) {
	query := `
		UPDATE trips
		SET payment_status = 'completed', final_fare = $3, updated_at = $4
		WHERE id = $1 AND payment_status = $2
	`

	result, err := r.q.ExecContext(ctx, query, tripID, from, finalFare, time.Now().UTC())
	if err != nil {
		return false, err
	}
	return affected(result)
}

// MarkDisputed freezes the trip and remembers the prior statuses.
// SET expressions read the pre-update row, so the saved values are the old ones.
func (r *TripRepository) MarkDisputed(ctx context.Context, tripID string) (bool, error) {
	query := `
		UPDATE trips
		SET disputed_from_status = status,
		    disputed_from_payment_status = payment_status,
		    status = 'disputed',
		    payment_status = 'disputed',
		    updated_at = $2
		WHERE id = $1
		  AND status IN ('accepted', 'in_progress', 'completed')
		  AND payment_status IN ('pending', 'escrowed')
	`

	result, err := r.q.ExecContext(ctx, query, tripID, time.Now().UTC())
	if err != nil {
		return false, err
	}
	return affected(result)
}

// RestoreFromDispute puts back the values saved by MarkDisputed.
func (r *TripRepository) RestoreFromDispute(ctx context.Context, tripID string) (bool, error) {
	query := `
		UPDATE trips
		SET status = disputed_from_status,
		    payment_status = disputed_from_payment_status,
		    disputed_from_status = NULL,
		    disputed_from_payment_status = NULL,
		    updated_at = $2
		WHERE id = $1
		  AND status = 'disputed' AND payment_status = 'disputed'
		  AND disputed_from_status IS NOT NULL
	`

	result, err := r.q.ExecContext(ctx, query, tripID, time.Now().UTC())
	if err != nil {
		return false, err
	}
	return affected(result)
}

// SetRating stores a post-completion rating from one side.
func (r *TripRepository) SetRating(ctx context.Context, tripID string, byRider bool, rating int, feedback string) (bool, error) {
	ratingCol, feedbackCol := "driver_rating", "driver_feedback"
	if byRider {
		ratingCol, feedbackCol = "rider_rating", "rider_feedback"
	}

	query := fmt.Sprintf(`
		UPDATE trips SET %s = $2, %s = $3, updated_at = $4
		WHERE id = $1 AND status = 'completed' AND %s IS NULL
	`, ratingCol, feedbackCol, ratingCol)

	result, err := r.q.ExecContext(ctx, query, tripID, rating, feedback, time.Now().UTC())
	if err != nil {
		return false, err
	}
	return affected(result)
}

func scanTrip(row rowScanner) (*domain.Trip, error) {
	var t domain.Trip
	var driverID, agentID, paymentRef sql.NullString
	var disputedFromStatus, disputedFromPayment sql.NullString
	var finalFare decimal.NullDecimal
	var acceptedAt, startedAt, completedAt, cancelledAt sql.NullTime
	var riderRating, driverRating sql.NullInt64

	err := row.Scan(
		&t.ID,
		&t.TripNumber,
		&t.RiderID,
		&driverID,
		&agentID,
		&t.ServiceType,
		&t.VehicleType,
		&t.Pickup.Lat,
		&t.Pickup.Lng,
		&t.Pickup.Address,
		&t.Dropoff.Lat,
		&t.Dropoff.Lng,
		&t.Dropoff.Address,
		&t.DistanceKm,
		&t.DurationMinutes,
		&t.PricingConfigID,
		&t.SurgeMultiplier,
		&t.EstimatedFare,
		&t.TreasuryFee,
		&t.AgentCommission,
		&t.DriverPayout,
		&finalFare,
		&t.EscrowAmount,
		&paymentRef,
		&t.Status,
		&t.PaymentStatus,
		&disputedFromStatus,
		&disputedFromPayment,
		&t.RequestedAt,
		&acceptedAt,
		&startedAt,
		&completedAt,
		&cancelledAt,
		&t.CancellationReason,
		&riderRating,
		&t.RiderFeedback,
		&driverRating,
		&t.DriverFeedback,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, mapNoRows(err)
	}

	t.DriverID = driverID.String
	t.AgentID = agentID.String
	t.PaymentRef = paymentRef.String
	t.DisputedFromStatus = domain.TripStatus(disputedFromStatus.String)
	t.DisputedFromPaymentStatus = domain.PaymentStatus(disputedFromPayment.String)
	if finalFare.Valid {
		v := finalFare.Decimal
		t.FinalFare = &v
	}
	t.AcceptedAt = timePtr(acceptedAt)
	t.StartedAt = timePtr(startedAt)
	t.CompletedAt = timePtr(completedAt)
	t.CancelledAt = timePtr(cancelledAt)
	t.RiderRating = intPtr(riderRating)
	t.DriverRating = intPtr(driverRating)

	return &t, nil
}

// Ensure TripRepository implements repository.TripRepository.
var _ repository.TripRepository = (*TripRepository)(nil)
