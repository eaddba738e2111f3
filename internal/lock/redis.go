// Package lock holds the Redis implementation of the per-agency sync lease.
// The Postgres implementation lives in repository.SyncLeaseRepository.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "leadsync:sync-lease:"

// releaseScript deletes the key only while it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisLocker struct {
	rdb *redis.Client
}

// NewRedisLocker connects using a redis:// URL
func NewRedisLocker(ctx context.Context, redisURL string) (*RedisLocker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisLocker{rdb: rdb}, nil
}

func NewRedisLockerFromClient(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{rdb: rdb}
}

func leaseKey(agencyID string) string {
	return keyPrefix + agencyID
}

// Acquire sets the lease key if absent; the TTL frees it if the holder dies
func (l *RedisLocker) Acquire(ctx context.Context, agencyID, holder string, ttl time.Duration) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, leaseKey(agencyID), holder, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire sync lease: %w", err)
	}
	return ok, nil
}

func (l *RedisLocker) Release(ctx context.Context, agencyID, holder string) error {
	if err := releaseScript.Run(ctx, l.rdb, []string{leaseKey(agencyID)}, holder).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to release sync lease: %w", err)
	}
	return nil
}

// IsHeld reports whether some pass currently owns the agency's lease
func (l *RedisLocker) IsHeld(ctx context.Context, agencyID string) (bool, error) {
	n, err := l.rdb.Exists(ctx, leaseKey(agencyID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check sync lease: %w", err)
	}
	return n > 0, nil
}

func (l *RedisLocker) Close() error {
	return l.rdb.Close()
}
