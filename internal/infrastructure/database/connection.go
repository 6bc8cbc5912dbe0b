package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/davidleathers/bundle-exchange-backend/internal/infrastructure/config"
)

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx so repository code
// can run inside or outside a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ConnectionPool wraps the primary pgx pool with transaction helpers and a
// background health check.
type ConnectionPool struct {
	primary         *pgxpool.Pool
	config          *config.DatabaseConfig
	logger          *zap.Logger
	healthCheckStop chan struct{}
	closeOnce       sync.Once
	metrics         *ConnectionMetrics
}

// ConnectionMetrics tracks transaction outcomes and pool usage
type ConnectionMetrics struct {
	mu sync.RWMutex

	ActiveConnections int64
	IdleConnections   int64

	TransactionsStarted    int64
	TransactionsCommitted  int64
	TransactionsRolledBack int64

	LastHealthCheck time.Time
	LastHealthError error
}

// NewConnectionPool connects to the database described by cfg and pings it
func NewConnectionPool(ctx context.Context, cfg *config.DatabaseConfig, logger *zap.Logger) (*ConnectionPool, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg == nil || cfg.URL == "" {
		return nil, fmt.Errorf("database url is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	pool := &ConnectionPool{
		config:          cfg,
		logger:          logger.Named("database"),
		healthCheckStop: make(chan struct{}),
		metrics:         &ConnectionMetrics{},
	}
	pool.configurePgxPool(poolConfig)

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool.primary, err = pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.primary.Ping(connectCtx); err != nil {
		pool.primary.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	go pool.healthCheckRoutine()

	pool.logger.Info("database connection pool initialized",
		zap.Int32("max_connections", poolConfig.MaxConns),
		zap.Int32("min_connections", poolConfig.MinConns))

	return pool, nil
}

func (p *ConnectionPool) configurePgxPool(poolConfig *pgxpool.Config) {
	if p.config.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(p.config.MaxOpenConns)
	} else {
		poolConfig.MaxConns = 25
	}
	if p.config.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(p.config.MaxIdleConns)
	}
	if p.config.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = p.config.ConnMaxLifetime
	}
	if p.config.ConnMaxIdleTime > 0 {
		poolConfig.MaxConnIdleTime = p.config.ConnMaxIdleTime
	}
	poolConfig.HealthCheckPeriod = time.Minute

	poolConfig.ConnConfig.ConnectTimeout = 5 * time.Second
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "bundle_exchange"
	poolConfig.ConnConfig.RuntimeParams["timezone"] = "UTC"
	poolConfig.ConnConfig.RuntimeParams["lock_timeout"] = "5s"
	poolConfig.ConnConfig.RuntimeParams["statement_timeout"] = "30s"
	poolConfig.ConnConfig.RuntimeParams["idle_in_transaction_session_timeout"] = "60s"

	poolConfig.BeforeConnect = func(ctx context.Context, cc *pgx.ConnConfig) error {
		p.logger.Debug("establishing database connection",
			zap.String("host", cc.Host),
			zap.Uint16("port", cc.Port))
		return nil
	}
}

// GetPrimary returns the underlying pool
func (p *ConnectionPool) GetPrimary() *pgxpool.Pool {
	return p.primary
}

// Ping checks the database is reachable
func (p *ConnectionPool) Ping(ctx context.Context) error {
	return p.primary.Ping(ctx)
}

// Transaction executes fn within a read-committed transaction. The
// transaction is rolled back if fn returns an error.
func (p *ConnectionPool) Transaction(ctx context.Context, fn func(pgx.Tx) error) error {
	return p.TransactionWithOptions(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, fn)
}

func (p *ConnectionPool) TransactionWithOptions(ctx context.Context, opts pgx.TxOptions, fn func(pgx.Tx) error) error {
	p.metrics.mu.Lock()
	p.metrics.TransactionsStarted++
	p.metrics.mu.Unlock()

	err := pgx.BeginTxFunc(ctx, p.primary, opts, fn)

	p.metrics.mu.Lock()
	if err != nil {
		p.metrics.TransactionsRolledBack++
	} else {
		p.metrics.TransactionsCommitted++
	}
	p.metrics.mu.Unlock()

	return err
}

// Metrics returns a snapshot of the pool counters
func (p *ConnectionPool) Metrics() ConnectionMetrics {
	p.metrics.mu.RLock()
	defer p.metrics.mu.RUnlock()
	return ConnectionMetrics{
		ActiveConnections:      p.metrics.ActiveConnections,
		IdleConnections:        p.metrics.IdleConnections,
		TransactionsStarted:    p.metrics.TransactionsStarted,
		TransactionsCommitted:  p.metrics.TransactionsCommitted,
		TransactionsRolledBack: p.metrics.TransactionsRolledBack,
		LastHealthCheck:        p.metrics.LastHealthCheck,
		LastHealthError:        p.metrics.LastHealthError,
	}
}

func (p *ConnectionPool) healthCheckRoutine() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.performHealthCheck()
		case <-p.healthCheckStop:
			return
		}
	}
}

func (p *ConnectionPool) performHealthCheck() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := p.primary.Ping(ctx)
	if err != nil {
		p.logger.Error("database health check failed", zap.Error(err))
	}

	stats := p.primary.Stat()

	p.metrics.mu.Lock()
	p.metrics.ActiveConnections = int64(stats.AcquiredConns())
	p.metrics.IdleConnections = int64(stats.IdleConns())
	p.metrics.LastHealthCheck = time.Now()
	p.metrics.LastHealthError = err
	p.metrics.mu.Unlock()
}

// Close stops the health check and closes every connection
func (p *ConnectionPool) Close() error {
	p.closeOnce.Do(func() {
		close(p.healthCheckStop)
		p.primary.Close()
		p.logger.Info("database connection pool closed")
	})
	return nil
}

// GetDB returns a database/sql handle backed by the same pool
func (p *ConnectionPool) GetDB() *sql.DB {
	return stdlib.OpenDBFromPool(p.primary)
}
