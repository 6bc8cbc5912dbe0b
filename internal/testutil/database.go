package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/bundle-exchange-backend/internal/infrastructure/config"
	"github.com/davidleathers/bundle-exchange-backend/internal/infrastructure/database"
	"github.com/davidleathers/bundle-exchange-backend/internal/testutil/containers"
)

// TestDB is a migrated PostgreSQL instance running in a container
type TestDB struct {
	t    *testing.T
	Pool *database.ConnectionPool
}

// NewTestDB starts a postgres container, applies the migrations and returns
// a connection pool to it. Everything is torn down with the test.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()
	ctx := context.Background()

	container, err := containers.NewPostgresContainer(ctx)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	require.NoError(t, container.Migrate(MigrationsDir(t)))

	pool, err := database.NewConnectionPool(ctx, &config.DatabaseConfig{
		URL:          container.ConnectionString,
		MaxOpenConns: 20,
		MaxIdleConns: 2,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	return &TestDB{t: t, Pool: pool}
}

// TruncateTables empties every table for test isolation
func (tdb *TestDB) TruncateTables() {
	tdb.t.Helper()
	_, err := tdb.Pool.GetPrimary().Exec(context.Background(), "TRUNCATE TABLE bundle_requests, products")
	require.NoError(tdb.t, err)
}

// AssertRowCount asserts the number of rows in a table
func (tdb *TestDB) AssertRowCount(table string, expected int) {
	tdb.t.Helper()

	var count int
	err := tdb.Pool.GetPrimary().QueryRow(context.Background(), fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count)
	require.NoError(tdb.t, err)
	require.Equal(tdb.t, expected, count, "expected %d rows in %s, got %d", expected, table, count)
}

// MigrationsDir locates the repository's migrations directory by walking up
// from this file to the module root.
func MigrationsDir(t *testing.T) string {
	t.Helper()

	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok, "cannot resolve caller")

	dir := filepath.Dir(file)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return filepath.Join(dir, "migrations")
		}
		parent := filepath.Dir(dir)
		require.NotEqual(t, parent, dir, "go.mod not found above %s", file)
		dir = parent
	}
}
