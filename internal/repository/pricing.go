package repository

import (
	"context"

	"pitaxi/internal/domain"
)

// PricingRepository defines the persistence operations for pricing configs.
type PricingRepository interface {
	// Create persists a new, inactive config.
	Create(ctx context.Context, cfg *domain.PricingConfig) error

	// GetByID retrieves a config by ID.
	GetByID(ctx context.Context, id string) (*domain.PricingConfig, error)

	// GetActive retrieves the single active config. Returns ErrNotFound if none is active.
	GetActive(ctx context.Context) (*domain.PricingConfig, error)

	// List returns every config, newest first.
	List(ctx context.Context) ([]*domain.PricingConfig, error)

	// DeactivateAll clears is_active on every config.
	DeactivateAll(ctx context.Context) error

	// Activate sets is_active on one config. Returns ErrNotFound for unknown IDs.
	Activate(ctx context.Context, id string) error

	// AppendHistory records an activation.
	AppendHistory(ctx context.Context, entry *domain.PricingHistory) error
}
