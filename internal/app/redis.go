package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"

	"pitaxi/internal/config"
)

// NewRedisClient connects the settlement lock, pricing cache and idempotency
// store. Every command is bounded by the configured timeouts.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig, nrApp *newrelic.Application) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if nrApp != nil {
		client.AddHook(keyspaceHook{})
	}

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

// keyspace names the New Relic collection of a command by its key prefix.
func keyspace(cmd redis.Cmder) string {
	args := cmd.Args()
	i := 1
	if name := cmd.Name(); name == "eval" || name == "evalsha" {
		i = 3
	}
	if len(args) <= i {
		return "server"
	}
	key, ok := args[i].(string)
	if !ok {
		return "server"
	}
	switch {
	case strings.HasPrefix(key, "lock:settlement:"):
		return "settlement_lock"
	case strings.HasPrefix(key, "idempotency:"):
		return "idempotency"
	case strings.HasPrefix(key, "cache:pricing:"):
		return "pricing_cache"
	}
	return "other"
}

// keyspaceHook records each command as a datastore segment on the request's
// New Relic transaction.
type keyspaceHook struct{}

func (keyspaceHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (keyspaceHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if txn := newrelic.FromContext(ctx); txn != nil {
			segment := newrelic.DatastoreSegment{
				StartTime:  txn.StartSegmentNow(),
				Product:    newrelic.DatastoreRedis,
				Operation:  cmd.Name(),
				Collection: keyspace(cmd),
			}
			defer segment.End()
		}
		return next(ctx, cmd)
	}
}

func (keyspaceHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		if txn := newrelic.FromContext(ctx); txn != nil && len(cmds) > 0 {
			segment := newrelic.DatastoreSegment{
				StartTime:  txn.StartSegmentNow(),
				Product:    newrelic.DatastoreRedis,
				Operation:  "pipeline",
				Collection: keyspace(cmds[0]),
			}
			defer segment.End()
		}
		return next(ctx, cmds)
	}
}
