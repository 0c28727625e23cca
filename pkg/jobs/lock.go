package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Locker guards a sweep against concurrent runs of itself, for deployments
// where the scheduler may double-fire. The sweeps are idempotent either way;
// the lock only avoids wasted double work.
type Locker interface {
	// Acquire takes the named lock for at most ttl. Returns false when the
	// lock is already held.
	Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error)
	// Release frees the named lock.
	Release(ctx context.Context, name string) error
}

// RedisLocker implements Locker with SET NX and a TTL so crashed runs
// release themselves.
type RedisLocker struct {
	client redis.UniversalClient
}

// NewRedisLocker creates a Redis-backed run lock.
func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	if client == nil {
		panic("jobs: redis client is required")
	}
	return &RedisLocker{client: client}
}

func (l *RedisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, lockKey(name), time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire run lock: %w", err)
	}
	return ok, nil
}

func (l *RedisLocker) Release(ctx context.Context, name string) error {
	if err := l.client.Del(ctx, lockKey(name)).Err(); err != nil {
		return fmt.Errorf("release run lock: %w", err)
	}
	return nil
}

func lockKey(name string) string { return "sweep:lock:" + name }

// NopLocker always grants the lock; used in tests and single-instance
// deployments without Redis.
type NopLocker struct{}

func (NopLocker) Acquire(context.Context, string, time.Duration) (bool, error) { return true, nil }
func (NopLocker) Release(context.Context, string) error                        { return nil }
