package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"pitaxi/internal/domain"
)

// DefaultPricingCacheTTL bounds how stale the cached active config may be.
const DefaultPricingCacheTTL = time.Minute

const activePricingKey = "cache:pricing:active"

// CacheStore handles entity caching in Redis.
type CacheStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewCacheStore creates a new CacheStore. A non-positive ttl uses DefaultPricingCacheTTL.
func NewCacheStore(client redis.Cmdable, ttl time.Duration) *CacheStore {
	if ttl <= 0 {
		ttl = DefaultPricingCacheTTL
	}
	return &CacheStore{client: client, ttl: ttl}
}

// GetActivePricing returns the cached active config, or nil on a cache miss.
func (s *CacheStore) GetActivePricing(ctx context.Context) (*domain.PricingConfig, error) {
	data, err := s.client.Get(ctx, activePricingKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var cfg domain.PricingConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetActivePricing stores the active config.
func (s *CacheStore) SetActivePricing(ctx context.Context, cfg *domain.PricingConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, activePricingKey, data, s.ttl).Err()
}

// InvalidateActivePricing drops the cached active config.
func (s *CacheStore) InvalidateActivePricing(ctx context.Context) error {
	return s.client.Del(ctx, activePricingKey).Err()
}

// Idempotency keys

const idempotencyPrefix = "idempotency:"

// CachedResponse is a stored HTTP response replayed for a repeated request.
type CachedResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// ReserveIdempotencyKey marks a key as in flight. It reports false when the key
// is already reserved or completed.
func (s *CacheStore) ReserveIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, idempotencyPrefix+key, "", ttl).Result()
}

// GetIdempotentResponse returns the stored response for key. A nil response
// with a nil error means the key is unknown or still in flight.
func (s *CacheStore) GetIdempotentResponse(ctx context.Context, key string) (*CachedResponse, error) {
	data, err := s.client.Get(ctx, idempotencyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}

	var resp CachedResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StoreIdempotentResponse records the final response for key.
func (s *CacheStore) StoreIdempotentResponse(ctx context.Context, key string, resp CachedResponse, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, idempotencyPrefix+key, data, ttl).Err()
}

// ReleaseIdempotencyKey drops an in-flight reservation so the request may be retried.
func (s *CacheStore) ReleaseIdempotencyKey(ctx context.Context, key string) error {
	return s.client.Del(ctx, idempotencyPrefix+key).Err()
}
