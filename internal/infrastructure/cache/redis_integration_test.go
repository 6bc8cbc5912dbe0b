//go:build integration

package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/bundle-exchange-backend/internal/infrastructure/cache"
	"github.com/davidleathers/bundle-exchange-backend/internal/infrastructure/config"
	"github.com/davidleathers/bundle-exchange-backend/internal/testutil"
	"github.com/davidleathers/bundle-exchange-backend/internal/testutil/containers"
)

func TestRedis_LeaseAndRateLimit(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-backed redis test in short mode")
	}
	ctx := testutil.Context(t)

	container, err := containers.NewRedisContainer(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	logger := zaptest.NewLogger(t)
	client, err := cache.NewRedisClient(&config.RedisConfig{
		URL:         container.Addr,
		PoolSize:    4,
		DialTimeout: 5 * time.Second,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	locker := cache.NewLocker(client, logger)
	unlock, ok, err := locker.TryLock(ctx, "bundle_sweeper", 2*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.TryLock(ctx, "bundle_sweeper", 2*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "lease is exclusive")

	require.NoError(t, unlock(ctx))
	_, ok, err = locker.TryLock(ctx, "bundle_sweeper", 2*time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "released lease can be retaken")

	limiter := cache.NewRateLimiter(client, logger)
	for i := 0; i < 3; i++ {
		allowed, err := limiter.Allow(ctx, "proposals:buyer-1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	allowed, err := limiter.Allow(ctx, "proposals:buyer-1", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)
}
