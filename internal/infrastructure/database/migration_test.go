//go:build integration

package database_test

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/bundle-exchange-backend/internal/infrastructure/database"
	"github.com/davidleathers/bundle-exchange-backend/internal/testutil"
	"github.com/davidleathers/bundle-exchange-backend/internal/testutil/containers"
)

func tableExists(t *testing.T, pool *pgxpool.Pool, name string) bool {
	t.Helper()
	var exists bool
	err := pool.QueryRow(context.Background(),
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, name).Scan(&exists)
	require.NoError(t, err)
	return exists
}

func TestMigrator_UpDownIsReversible(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-backed migration test in short mode")
	}
	ctx := testutil.Context(t)

	container, err := containers.NewPostgresContainer(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	m, err := database.NewMigrator(container.ConnectionString, testutil.MigrationsDir(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	pool, err := pgxpool.New(ctx, container.ConnectionString)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	version, dirty, err := m.Version()
	require.NoError(t, err)
	assert.Zero(t, version)
	assert.False(t, dirty)

	require.NoError(t, m.Up())
	version, dirty, err = m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)
	assert.True(t, tableExists(t, pool, "products"))
	assert.True(t, tableExists(t, pool, "bundle_requests"))

	require.NoError(t, m.Up(), "re-running up is a no-op")

	require.NoError(t, m.Down(1))
	version, _, err = m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, tableExists(t, pool, "bundle_requests"))
	assert.True(t, tableExists(t, pool, "products"))

	require.NoError(t, m.Down(0))
	version, _, err = m.Version()
	require.NoError(t, err)
	assert.Zero(t, version)
	assert.False(t, tableExists(t, pool, "products"))
}
