package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"pitaxi/internal/domain"
	"pitaxi/internal/repository"
)

// UserRepository is a PostgreSQL implementation of repository.UserRepository.
type UserRepository struct {
	q Querier
}

const userColumns = `id, pi_uid, username, wallet_address, role, status, rating, rating_count, total_trips, referred_by, created_at, updated_at`

// Create persists a new user.
func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.q.ExecContext(ctx, query,
		user.ID,
		user.PiUID,
		user.Username,
		user.WalletAddress,
		user.Role,
		user.Status,
		user.Rating,
		user.RatingCount,
		user.TotalTrips,
		nullString(user.ReferredBy),
		user.CreatedAt,
		user.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return repository.ErrDuplicate
	}
	return err
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.q.QueryRowContext(ctx, query, id))
}

// GetByPiUID retrieves a user by payment-network uid.
func (r *UserRepository) GetByPiUID(ctx context.Context, piUID string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE pi_uid = $1`
	return scanUser(r.q.QueryRowContext(ctx, query, piUID))
}

// IncrementTrips adds one to total_trips.
func (r *UserRepository) IncrementTrips(ctx context.Context, id string) error {
	result, err := r.q.ExecContext(ctx,
		`UPDATE users SET total_trips = total_trips + 1, updated_at = $2 WHERE id = $1`,
		id, time.Now().UTC(),
	)
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

// ApplyRating folds one rating into the running average:
// new = old + (rating - old) / count.
func (r *UserRepository) ApplyRating(ctx context.Context, id string, rating int) error {
	query := `
		UPDATE users
		SET rating = ROUND(rating + ($2 - rating) / (rating_count + 1), 2),
		    rating_count = rating_count + 1,
		    updated_at = $3
		WHERE id = $1
	`

	result, err := r.q.ExecContext(ctx, query, id, rating, time.Now().UTC())
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

func scanUser(row rowScanner) (*domain.User, error) {
	var user domain.User
	var referredBy sql.NullString

	err := row.Scan(
		&user.ID,
		&user.PiUID,
		&user.Username,
		&user.WalletAddress,
		&user.Role,
		&user.Status,
		&user.Rating,
		&user.RatingCount,
		&user.TotalTrips,
		&referredBy,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, mapNoRows(err)
	}

	user.ReferredBy = referredBy.String
	return &user, nil
}

// ReferralRepository is a PostgreSQL implementation of repository.ReferralRepository.
type ReferralRepository struct {
	q Querier
}

// RecordTrip upserts the agent's stats for a referred user.
func (r *ReferralRepository) RecordTrip(ctx context.Context, agentID, referredUserID string, commission decimal.Decimal) error {
	query := `
		INSERT INTO agent_referrals (agent_id, referred_user_id, total_trips, total_commission, updated_at)
		VALUES ($1, $2, 1, $3, $4)
		ON CONFLICT (agent_id, referred_user_id) DO UPDATE
		SET total_trips = agent_referrals.total_trips + 1,
		    total_commission = agent_referrals.total_commission + EXCLUDED.total_commission,
		    updated_at = EXCLUDED.updated_at
	`

	_, err := r.q.ExecContext(ctx, query, agentID, referredUserID, commission, time.Now().UTC())
	return err
}

// ListByAgent returns the stats of every user an agent referred.
func (r *ReferralRepository) ListByAgent(ctx context.Context, agentID string) ([]*domain.AgentReferral, error) {
	query := `
		SELECT agent_id, referred_user_id, total_trips, total_commission, updated_at
		FROM agent_referrals WHERE agent_id = $1 ORDER BY updated_at DESC
	`

	rows, err := r.q.QueryContext(ctx, query, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.AgentReferral
	for rows.Next() {
		var ref domain.AgentReferral
		if err := rows.Scan(&ref.AgentID, &ref.ReferredUserID, &ref.TotalTrips, &ref.TotalCommission, &ref.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &ref)
	}

	return out, rows.Err()
}

// Ensure implementations satisfy the interfaces.
var (
	_ repository.UserRepository     = (*UserRepository)(nil)
	_ repository.ReferralRepository = (*ReferralRepository)(nil)
)
