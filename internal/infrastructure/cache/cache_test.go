package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/bundle-exchange-backend/internal/infrastructure/config"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(&config.RedisConfig{
		URL:          mr.Addr(),
		PoolSize:     5,
		MinIdleConns: 1,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return client, mr
}

func TestNewRedisClient(t *testing.T) {
	t.Run("successful creation", func(t *testing.T) {
		client, _ := setupTestRedis(t)
		assert.NotNil(t, client)
	})

	t.Run("nil logger", func(t *testing.T) {
		_, err := NewRedisClient(&config.RedisConfig{URL: "localhost:6379"}, nil)
		assert.ErrorContains(t, err, "logger is required")
	})

	t.Run("nil config", func(t *testing.T) {
		_, err := NewRedisClient(nil, zaptest.NewLogger(t))
		assert.ErrorContains(t, err, "redis config is required")
	})

	t.Run("connection failure", func(t *testing.T) {
		_, err := NewRedisClient(&config.RedisConfig{
			URL:         "localhost:1",
			DialTimeout: 100 * time.Millisecond,
		}, zaptest.NewLogger(t))
		assert.ErrorContains(t, err, "redis connection failed")
	})
}

func TestLocker(t *testing.T) {
	ctx := context.Background()
	client, mr := setupTestRedis(t)
	locker := NewLocker(client, zaptest.NewLogger(t))

	unlock, ok, err := locker.TryLock(ctx, "bundle_sweeper", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists(LockPrefix+"bundle_sweeper"))
	assert.Equal(t, time.Minute, mr.TTL(LockPrefix+"bundle_sweeper"))

	_, ok, err = locker.TryLock(ctx, "bundle_sweeper", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "lease is exclusive")

	require.NoError(t, unlock(ctx))
	assert.False(t, mr.Exists(LockPrefix+"bundle_sweeper"))

	_, ok, err = locker.TryLock(ctx, "bundle_sweeper", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocker_StaleUnlockKeepsNewOwner(t *testing.T) {
	ctx := context.Background()
	client, mr := setupTestRedis(t)
	locker := NewLocker(client, zaptest.NewLogger(t))

	staleUnlock, ok, err := locker.TryLock(ctx, "job", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	_, ok, err = locker.TryLock(ctx, "job", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, staleUnlock(ctx))
	assert.True(t, mr.Exists(LockPrefix+"job"), "stale owner must not release the new lease")
}

func TestLocker_RedisDown(t *testing.T) {
	client, mr := setupTestRedis(t)
	locker := NewLocker(client, zaptest.NewLogger(t))
	mr.Close()

	_, ok, err := locker.TryLock(context.Background(), "job", time.Second)
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestRateLimiter(t *testing.T) {
	ctx := context.Background()
	client, _ := setupTestRedis(t)
	limiter := NewRateLimiter(client, zaptest.NewLogger(t))

	current := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return current }

	for i := 0; i < 3; i++ {
		allowed, err := limiter.Allow(ctx, "buyer-1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed, "call %d", i+1)
		current = current.Add(time.Second)
	}

	allowed, err := limiter.Allow(ctx, "buyer-1", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)

	remaining, err := limiter.Remaining(ctx, "buyer-1", 3, time.Minute)
	require.NoError(t, err)
	assert.Zero(t, remaining, "denied calls are not recorded")

	allowed, err = limiter.Allow(ctx, "buyer-2", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed, "keys are independent")

	current = current.Add(time.Minute)
	allowed, err = limiter.Allow(ctx, "buyer-1", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed, "window slides")

	require.NoError(t, limiter.Reset(ctx, "buyer-1"))
	remaining, err = limiter.Remaining(ctx, "buyer-1", 3, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 3, remaining)
}
