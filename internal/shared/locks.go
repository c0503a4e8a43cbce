package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ActivationLockKey builds the redis key serializing assignment activation
// for one (role, territory) pair.
func ActivationLockKey(role, territory string) string {
	return fmt.Sprintf("assignment:activate:%s:%s:lock", role, territory)
}

// ErrLockNotAcquired indicates the lease could not be obtained before the
// context expired.
var ErrLockNotAcquired = errors.New("lock not acquired")

// RedisLocker implements a lease lock on Redis. Activation critical
// sections are short; contention is resolved by polling with backoff.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
}

// NewRedisLocker constructs a locker with the given lease TTL.
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisLocker{client: client, ttl: ttl, retry: 25 * time.Millisecond}
}

// Acquire obtains the lease, blocking until the context is done. The
// returned release function deletes the lease only if this holder still
// owns it.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", ErrLockNotAcquired, key, ctx.Err())
		case <-time.After(l.retry):
		}
	}
	release := func() {
		// Compare-and-delete so an expired lease taken over by another
		// holder is left untouched.
		const script = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.client.Eval(ctx, script, []string{key}, token).Err()
	}
	return release, nil
}
