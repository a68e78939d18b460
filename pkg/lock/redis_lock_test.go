package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestRedisLock_AcquireRelease(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()

	l := NewRedisLock(client, "job:rollup")

	acquired, err := l.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, acquired)
	assert.True(t, l.IsHeld())
	assert.True(t, mr.Exists("job:rollup"))

	require.NoError(t, l.Unlock(ctx))
	assert.False(t, l.IsHeld())
	assert.False(t, mr.Exists("job:rollup"))
}

func TestRedisLock_MutualExclusion(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	first := NewRedisLock(client, "job:sweep")
	second := NewRedisLock(client, "job:sweep")

	acquired, err := first.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, acquired)

	acquired, err = second.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, acquired, "second replica must not acquire")

	require.NoError(t, first.Unlock(ctx))

	acquired, err = second.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, acquired, "lock is free after release")
	require.NoError(t, second.Unlock(ctx))
}

func TestRedisLock_ExpiresAfterTTL(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()

	first := NewRedisLock(client, "job:expire")
	second := NewRedisLock(client, "job:expire")

	acquired, err := first.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, acquired)

	mr.FastForward(defaultTTL + time.Second)

	acquired, err = second.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, acquired)

	// first no longer owns the key, release must not delete second's lock
	require.NoError(t, first.Unlock(ctx))
	assert.True(t, mr.Exists("job:expire"))

	require.NoError(t, second.Unlock(ctx))
}

func TestRedisLock_Relock(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	l := NewRedisLock(client, "job:cycle")
	for i := 0; i < 3; i++ {
		acquired, err := l.TryLock(ctx)
		require.NoError(t, err)
		assert.True(t, acquired)
		require.NoError(t, l.Unlock(ctx))
	}
}

func TestRedisLock_NilClient(t *testing.T) {
	l := NewRedisLock(nil, "job:local")
	ctx := context.Background()

	acquired, err := l.TryLock(ctx)
	assert.NoError(t, err)
	assert.True(t, acquired)
	assert.True(t, l.IsHeld())

	assert.NoError(t, l.Unlock(ctx))
	assert.False(t, l.IsHeld())
}
