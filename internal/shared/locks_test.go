package shared

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) *RedisLocker {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client, time.Second)
}

func TestActivationLockKey(t *testing.T) {
	require.Equal(t, "assignment:activate:sales-agent:T1:lock", ActivationLockKey("sales-agent", "T1"))
	require.Equal(t, "assignment:activate:auditor::lock", ActivationLockKey("auditor", ""))
}

func TestRedisLockerAcquireRelease(t *testing.T) {
	locker := newTestLocker(t)
	ctx := context.Background()
	key := ActivationLockKey("sales-agent", "T1")

	release, err := locker.Acquire(ctx, key)
	require.NoError(t, err)

	// Second holder blocks until the first releases.
	blockedCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = locker.Acquire(blockedCtx, key)
	require.ErrorIs(t, err, ErrLockNotAcquired)

	release()

	release2, err := locker.Acquire(ctx, key)
	require.NoError(t, err)
	release2()
}

func TestRedisLockerIndependentKeys(t *testing.T) {
	locker := newTestLocker(t)
	ctx := context.Background()

	release1, err := locker.Acquire(ctx, ActivationLockKey("sales-agent", "T1"))
	require.NoError(t, err)
	defer release1()

	release2, err := locker.Acquire(ctx, ActivationLockKey("sales-agent", "T2"))
	require.NoError(t, err)
	defer release2()
}
