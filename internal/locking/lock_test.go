package locking

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestRedisLocker(t *testing.T) {
	ctx := context.Background()

	t.Run("second acquire is rejected until release", func(t *testing.T) {
		client, _ := setupTestRedis(t)
		locker := NewRedisLocker(client, time.Minute)

		lock, err := locker.Acquire(ctx, "conv-1")
		require.NoError(t, err)

		_, err = locker.Acquire(ctx, "conv-1")
		assert.ErrorIs(t, err, ErrLocked)

		other, err := locker.Acquire(ctx, "conv-2")
		require.NoError(t, err)
		require.NoError(t, other.Release(ctx))

		require.NoError(t, lock.Release(ctx))
		again, err := locker.Acquire(ctx, "conv-1")
		require.NoError(t, err)
		require.NoError(t, again.Release(ctx))
	})

	t.Run("expired lock can be taken over", func(t *testing.T) {
		client, mr := setupTestRedis(t)
		locker := NewRedisLocker(client, time.Second)

		stale, err := locker.Acquire(ctx, "conv")
		require.NoError(t, err)

		mr.FastForward(2 * time.Second)

		fresh, err := locker.Acquire(ctx, "conv")
		require.NoError(t, err)

		// The stale holder must not release the new owner's lock.
		require.NoError(t, stale.Release(ctx))
		_, err = locker.Acquire(ctx, "conv")
		assert.ErrorIs(t, err, ErrLocked)

		require.NoError(t, fresh.Release(ctx))
	})
}

func TestNoopLocker(t *testing.T) {
	ctx := context.Background()
	var locker Locker = NoopLocker{}

	a, err := locker.Acquire(ctx, "k")
	require.NoError(t, err)
	b, err := locker.Acquire(ctx, "k")
	require.NoError(t, err)
	assert.NoError(t, a.Release(ctx))
	assert.NoError(t, b.Release(ctx))
}
