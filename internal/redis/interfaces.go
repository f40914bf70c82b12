package redis

import (
	"context"
	"time"

	"pitaxi/internal/domain"
)

// LockStoreInterface defines the interface for distributed locking.
type LockStoreInterface interface {
	AcquireSettlementLock(ctx context.Context, tripID string, ttl time.Duration) (string, bool, error)
	ReleaseSettlementLock(ctx context.Context, tripID, token string) error
}

// PricingCacheInterface defines the interface for the active pricing cache.
type PricingCacheInterface interface {
	GetActivePricing(ctx context.Context) (*domain.PricingConfig, error)
	SetActivePricing(ctx context.Context, cfg *domain.PricingConfig) error
	InvalidateActivePricing(ctx context.Context) error
}

// IdempotencyStoreInterface defines the interface used by the idempotency middleware.
type IdempotencyStoreInterface interface {
	ReserveIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error)
	GetIdempotentResponse(ctx context.Context, key string) (*CachedResponse, error)
	StoreIdempotentResponse(ctx context.Context, key string, resp CachedResponse, ttl time.Duration) error
	ReleaseIdempotencyKey(ctx context.Context, key string) error
}

// Ensure concrete types implement interfaces.
var (
	_ LockStoreInterface        = (*LockStore)(nil)
	_ PricingCacheInterface     = (*CacheStore)(nil)
	_ IdempotencyStoreInterface = (*CacheStore)(nil)
)
