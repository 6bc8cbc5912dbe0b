package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/bundle-exchange-backend/internal/infrastructure/database"
)

type fakeSink struct {
	holds, pool int64
}

func (f *fakeSink) SetActiveHolds(n int64)   { f.holds = n }
func (f *fakeSink) SetDBPoolSize(size int64) { f.pool = size }

type fakeHolds struct {
	n   int64
	err error
}

func (f fakeHolds) CountActiveHolds(context.Context, time.Time) (int64, error) { return f.n, f.err }

type fakePool struct{ active, idle int64 }

func (f fakePool) Metrics() database.ConnectionMetrics {
	return database.ConnectionMetrics{ActiveConnections: f.active, IdleConnections: f.idle}
}

func TestGaugeCollector(t *testing.T) {
	sink := &fakeSink{holds: -1}
	c := newGaugeCollector(sink, fakeHolds{n: 7}, fakePool{active: 3, idle: 2}, zaptest.NewLogger(t))

	c.collect(context.Background())

	assert.Equal(t, int64(7), sink.holds)
	assert.Equal(t, int64(5), sink.pool)
}

func TestGaugeCollector_CountFailureKeepsLastValue(t *testing.T) {
	sink := &fakeSink{holds: 4}
	c := newGaugeCollector(sink, fakeHolds{err: errors.New("connection refused")}, fakePool{active: 1}, zaptest.NewLogger(t))

	c.collect(context.Background())

	assert.Equal(t, int64(4), sink.holds)
	assert.Equal(t, int64(1), sink.pool)
}
