package postgres

import (
	"context"
	"database/sql"

	"pitaxi/internal/domain"
	"pitaxi/internal/repository"
)

// PricingRepository is a PostgreSQL implementation of repository.PricingRepository.
type PricingRepository struct {
	q Querier
}

const pricingColumns = `id, name, base_fare, per_km_rate, per_minute_rate, minimum_fare,
	treasury_fee_percent, agent_commission_percent, is_promotional, promotional_discount_percent,
	promotional_message, economy_multiplier, comfort_multiplier, premium_multiplier,
	valid_from, valid_until, is_active, notes, created_by, created_at`

// Create persists a new config. New configs are always inactive.
func (r *PricingRepository) Create(ctx context.Context, cfg *domain.PricingConfig) error {
	query := `
		INSERT INTO pricing_configs (` + pricingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, FALSE, $17, $18, $19)
	`

	_, err := r.q.ExecContext(ctx, query,
		cfg.ID,
		cfg.Name,
		cfg.BaseFare,
		cfg.PerKmRate,
		cfg.PerMinuteRate,
		cfg.MinimumFare,
		cfg.TreasuryFeePercent,
		cfg.AgentCommissionPercent,
		cfg.IsPromotional,
		cfg.PromotionalDiscountPercent,
		cfg.PromotionalMessage,
		cfg.EconomyMultiplier,
		cfg.ComfortMultiplier,
		cfg.PremiumMultiplier,
		cfg.ValidFrom,
		nullTime(cfg.ValidUntil),
		cfg.Notes,
		nullString(cfg.CreatedBy),
		cfg.CreatedAt,
	)
	if isUniqueViolation(err) {
		return repository.ErrDuplicate
	}
	return err
}

// GetByID retrieves a config by ID.
func (r *PricingRepository) GetByID(ctx context.Context, id string) (*domain.PricingConfig, error) {
	query := `SELECT ` + pricingColumns + ` FROM pricing_configs WHERE id = $1`
	return scanPricing(r.q.QueryRowContext(ctx, query, id))
}

// GetActive retrieves the single active config.
func (r *PricingRepository) GetActive(ctx context.Context) (*domain.PricingConfig, error) {
	query := `SELECT ` + pricingColumns + ` FROM pricing_configs WHERE is_active LIMIT 1`
	return scanPricing(r.q.QueryRowContext(ctx, query))
}

// List returns every config, newest first.
func (r *PricingRepository) List(ctx context.Context) ([]*domain.PricingConfig, error) {
	query := `SELECT ` + pricingColumns + ` FROM pricing_configs ORDER BY created_at DESC`

	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.PricingConfig
	for rows.Next() {
		cfg, err := scanPricing(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}

	return configs, rows.Err()
}

// DeactivateAll clears is_active on every config.
func (r *PricingRepository) DeactivateAll(ctx context.Context) error {
	_, err := r.q.ExecContext(ctx, `UPDATE pricing_configs SET is_active = FALSE WHERE is_active`)
	return err
}

// Activate sets is_active on one config.
func (r *PricingRepository) Activate(ctx context.Context, id string) error {
	result, err := r.q.ExecContext(ctx, `UPDATE pricing_configs SET is_active = TRUE WHERE id = $1`, id)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicate
		}
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

// AppendHistory records an activation.
func (r *PricingRepository) AppendHistory(ctx context.Context, entry *domain.PricingHistory) error {
	snapshot, err := marshalJSON(entry.Snapshot)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO pricing_history (id, config_id, previous_config_id, changed_by, snapshot, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err = r.q.ExecContext(ctx, query,
		entry.ID,
		entry.ConfigID,
		nullString(entry.PreviousConfigID),
		nullString(entry.ChangedBy),
		snapshot,
		entry.ChangedAt,
	)
	return err
}

func scanPricing(row rowScanner) (*domain.PricingConfig, error) {
	var cfg domain.PricingConfig
	var validUntil sql.NullTime
	var createdBy sql.NullString

	err := row.Scan(
		&cfg.ID,
		&cfg.Name,
		&cfg.BaseFare,
		&cfg.PerKmRate,
		&cfg.PerMinuteRate,
		&cfg.MinimumFare,
		&cfg.TreasuryFeePercent,
		&cfg.AgentCommissionPercent,
		&cfg.IsPromotional,
		&cfg.PromotionalDiscountPercent,
		&cfg.PromotionalMessage,
		&cfg.EconomyMultiplier,
		&cfg.ComfortMultiplier,
		&cfg.PremiumMultiplier,
		&cfg.ValidFrom,
		&validUntil,
		&cfg.IsActive,
		&cfg.Notes,
		&createdBy,
		&cfg.CreatedAt,
	)
	if err != nil {
		return nil, mapNoRows(err)
	}

	cfg.ValidUntil = timePtr(validUntil)
	cfg.CreatedBy = createdBy.String
	return &cfg, nil
}

// Ensure PricingRepository implements repository.PricingRepository.
var _ repository.PricingRepository = (*PricingRepository)(nil)
