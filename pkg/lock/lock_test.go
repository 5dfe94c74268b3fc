package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_Exclusive(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	unlock, err := m.Lock(ctx, "source:1")
	require.NoError(t, err)

	_, ok := m.TryLock("source:1")
	assert.False(t, ok)

	other, ok := m.TryLock("source:2")
	require.True(t, ok)
	require.NoError(t, other(ctx))

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = m.Lock(waitCtx, "source:1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, unlock(ctx))
	assert.ErrorIs(t, unlock(ctx), ErrNotHeld)

	again, err := m.Lock(ctx, "source:1")
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func TestMemory_WaiterProceedsAfterRelease(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	unlock, err := m.Lock(ctx, "k")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		u, err := m.Lock(ctx, "k")
		if err == nil {
			close(acquired)
			_ = u(ctx)
		}
	}()

	select {
	case <-acquired:
		t.Fatal("lock acquired while held")
	case <-time.After(20 * time.Millisecond):
	}
	require.NoError(t, unlock(ctx))

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the lock")
	}
}

func newRedisLocker(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisWithClient(client, RedisConfig{RetryDelay: time.Millisecond, MaxRetries: 3}), mr
}

func TestRedis_LockUnlock(t *testing.T) {
	r, mr := newRedisLocker(t)
	ctx := context.Background()

	unlock, err := r.Lock(ctx, "source:1")
	require.NoError(t, err)
	assert.True(t, mr.Exists(keyPrefix+"source:1"))

	_, err = r.Lock(ctx, "source:1")
	assert.ErrorIs(t, err, ErrNotAcquired)

	require.NoError(t, unlock(ctx))
	assert.False(t, mr.Exists(keyPrefix+"source:1"))
	assert.ErrorIs(t, unlock(ctx), ErrNotHeld)
}

func TestRedis_ExpiredLockIsNotReleasedByOldHolder(t *testing.T) {
	r, mr := newRedisLocker(t)
	ctx := context.Background()

	unlock, err := r.Lock(ctx, "k")
	require.NoError(t, err)
	mr.FastForward(DefaultTTL + time.Second)

	second, err := r.Lock(ctx, "k")
	require.NoError(t, err)
	assert.ErrorIs(t, unlock(ctx), ErrNotHeld)
	require.NoError(t, second(ctx))
}

func TestNewRedis_RequiresAddr(t *testing.T) {
	_, err := NewRedis(context.Background(), RedisConfig{})
	assert.Error(t, err)
}
