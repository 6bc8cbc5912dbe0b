package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/davidleathers/bundle-exchange-backend/internal/infrastructure/database"
)

type gaugeSink interface {
	SetActiveHolds(n int64)
	SetDBPoolSize(size int64)
}

type holdCounter interface {
	CountActiveHolds(ctx context.Context, now time.Time) (int64, error)
}

type poolStats interface {
	Metrics() database.ConnectionMetrics
}

// gaugeCollector refreshes the gauges that are read from the database rather
// than counted as events happen.
type gaugeCollector struct {
	sink   gaugeSink
	holds  holdCounter
	pool   poolStats
	logger *zap.Logger
}

func newGaugeCollector(sink gaugeSink, holds holdCounter, pool poolStats, logger *zap.Logger) *gaugeCollector {
	return &gaugeCollector{sink: sink, holds: holds, pool: pool, logger: logger.Named("gauges")}
}

func (c *gaugeCollector) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.collect(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.collect(ctx)
		}
	}
}

func (c *gaugeCollector) collect(ctx context.Context) {
	stats := c.pool.Metrics()
	c.sink.SetDBPoolSize(stats.ActiveConnections + stats.IdleConnections)

	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	n, err := c.holds.CountActiveHolds(queryCtx, time.Now())
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Warn("failed to count active holds", zap.Error(err))
		}
		return
	}
	c.sink.SetActiveHolds(n)
}
