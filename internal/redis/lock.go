package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockNotHeld is returned when releasing a lock whose token no longer matches.
var ErrLockNotHeld = errors.New("redis: lock not held")

// releaseScript deletes the key only if it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockStore handles distributed locking in Redis.
type LockStore struct {
	client redis.Cmdable
}

// NewLockStore creates a new LockStore.
func NewLockStore(client redis.Cmdable) *LockStore {
	return &LockStore{client: client}
}

// AcquireSettlementLock attempts to take the settlement lock for a trip.
// The returned token must be passed to ReleaseSettlementLock.
func (s *LockStore) AcquireSettlementLock(ctx context.Context, tripID string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()

	ok, err := s.client.SetNX(ctx, settlementLockKey(tripID), token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}

	return token, true, nil
}

// ReleaseSettlementLock releases the trip lock if the token still owns it.
func (s *LockStore) ReleaseSettlementLock(ctx context.Context, tripID, token string) error {
	n, err := releaseScript.Run(ctx, s.client, []string{settlementLockKey(tripID)}, token).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

func settlementLockKey(tripID string) string {
	return fmt.Sprintf("lock:settlement:%s", tripID)
}
