package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/davidleathers/bundle-exchange-backend/internal/domain/bundle"
)

func newTestRegistry(t *testing.T) (*Registry, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	r, err := NewRegistryWithProvider(provider, "bundle-exchange-test")
	require.NoError(t, err)
	return r, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumFor(t *testing.T, m metricdata.Metrics, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "%s is not an int64 sum", m.Name)
	want := attribute.NewSet(attrs...)
	var total int64
	for _, dp := range sum.DataPoints {
		if dp.Attributes.Equals(&want) {
			total += dp.Value
		}
	}
	return total
}

func TestRegistry_Negotiation(t *testing.T) {
	ctx := context.Background()
	r, reader := newTestRegistry(t)

	r.RecordProposal(ctx, 3, "created")
	r.RecordProposal(ctx, 2, "created")
	r.RecordProposal(ctx, 1, "rate_limited")
	r.RecordResponse(ctx, bundle.ActionAccept, "ok", 12*time.Millisecond)
	r.RecordResponse(ctx, bundle.ActionAccept, "conflict", 3*time.Millisecond)
	r.RecordResponse(ctx, bundle.ActionDecline, "ok", time.Millisecond)
	r.RecordNotificationFailure(ctx, "accepted")

	got := collect(t, reader)

	assert.Equal(t, int64(2), sumFor(t, got["bundle.proposals"], attribute.String("outcome", "created")))
	assert.Equal(t, int64(1), sumFor(t, got["bundle.proposals"], attribute.String("outcome", "rate_limited")))

	sizes, ok := got["bundle.proposal_size"].Data.(metricdata.Histogram[int64])
	require.True(t, ok)
	require.Len(t, sizes.DataPoints, 1)
	assert.Equal(t, uint64(2), sizes.DataPoints[0].Count)
	assert.Equal(t, int64(5), sizes.DataPoints[0].Sum)

	assert.Equal(t, int64(1), sumFor(t, got["bundle.responses"],
		attribute.String("action", "accept"), attribute.String("outcome", "conflict")))
	assert.Equal(t, int64(1), sumFor(t, got["bundle.responses"],
		attribute.String("action", "decline"), attribute.String("outcome", "ok")))
	assert.Equal(t, int64(1), sumFor(t, got["bundle.notification_failures"], attribute.String("kind", "accepted")))
}

func TestRegistry_Expiry(t *testing.T) {
	ctx := context.Background()
	r, reader := newTestRegistry(t)

	r.RecordExpiry(ctx, 2, 5)
	r.RecordExpiry(ctx, 0, 0)
	r.SetActiveHolds(7)

	got := collect(t, reader)
	assert.Equal(t, int64(2), sumFor(t, got["bundle.expired"]))
	assert.Equal(t, int64(5), sumFor(t, got["bundle.released_products"]))

	holds, ok := got["bundle.active_holds"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, holds.DataPoints, 1)
	assert.Equal(t, int64(7), holds.DataPoints[0].Value)
}

func TestRegistry_APIRequest(t *testing.T) {
	r, reader := newTestRegistry(t)

	r.RecordAPIRequest(context.Background(), 40*time.Millisecond, "POST", "/api/v1/bundles", 201)

	got := collect(t, reader)
	assert.Equal(t, int64(1), sumFor(t, got["bundle.api.requests"],
		attribute.String("method", "POST"),
		attribute.String("path", "/api/v1/bundles"),
		attribute.Int("status_code", 201)))
}
