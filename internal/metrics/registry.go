package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/davidleathers/bundle-exchange-backend/internal/domain/bundle"
)

// Registry holds the domain metrics of the bundle exchange
type Registry struct {
	meter metric.Meter

	// Negotiation
	ProposalCounter      metric.Int64Counter
	ProposalSize         metric.Int64Histogram
	ResponseCounter      metric.Int64Counter
	ResponseDuration     metric.Float64Histogram
	NotificationFailures metric.Int64Counter

	// Reservations
	ExpiredBundles   metric.Int64Counter
	ReleasedProducts metric.Int64Counter
	ActiveHolds      metric.Int64ObservableGauge

	// System
	APIRequestDuration     metric.Float64Histogram
	APIRequestCounter      metric.Int64Counter
	DatabaseConnectionPool metric.Int64ObservableGauge

	mu          sync.RWMutex
	activeHolds int64
	dbPoolSize  int64
}

// NewRegistry creates the registry on the global meter provider
func NewRegistry(meterName string) (*Registry, error) {
	return NewRegistryWithProvider(otel.GetMeterProvider(), meterName)
}

func NewRegistryWithProvider(provider metric.MeterProvider, meterName string) (*Registry, error) {
	r := &Registry{meter: provider.Meter(meterName)}

	if err := r.initNegotiationMetrics(); err != nil {
		return nil, err
	}
	if err := r.initReservationMetrics(); err != nil {
		return nil, err
	}
	if err := r.initSystemMetrics(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) initNegotiationMetrics() error {
	var err error

	r.ProposalCounter, err = r.meter.Int64Counter(
		"bundle.proposals",
		metric.WithDescription("Bundle proposals by outcome"),
	)
	if err != nil {
		return err
	}

	r.ProposalSize, err = r.meter.Int64Histogram(
		"bundle.proposal_size",
		metric.WithDescription("Number of products in a proposed bundle"),
		metric.WithExplicitBucketBoundaries(1, 2, 3, 5, 8, 13, 21),
	)
	if err != nil {
		return err
	}

	r.ResponseCounter, err = r.meter.Int64Counter(
		"bundle.responses",
		metric.WithDescription("Seller responses by action and outcome"),
	)
	if err != nil {
		return err
	}

	r.ResponseDuration, err = r.meter.Float64Histogram(
		"bundle.response_duration",
		metric.WithDescription("Duration of seller response handling in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000),
	)
	if err != nil {
		return err
	}

	r.NotificationFailures, err = r.meter.Int64Counter(
		"bundle.notification_failures",
		metric.WithDescription("System messages that could not be delivered"),
	)
	return err
}

func (r *Registry) initReservationMetrics() error {
	var err error

	r.ExpiredBundles, err = r.meter.Int64Counter(
		"bundle.expired",
		metric.WithDescription("Accepted bundles whose reservation lapsed"),
	)
	if err != nil {
		return err
	}

	r.ReleasedProducts, err = r.meter.Int64Counter(
		"bundle.released_products",
		metric.WithDescription("Product holds cleared by the expiry sweep"),
	)
	if err != nil {
		return err
	}

	r.ActiveHolds, err = r.meter.Int64ObservableGauge(
		"bundle.active_holds",
		metric.WithDescription("Accepted bundles currently holding products"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()
			o.Observe(r.activeHolds)
			return nil
		}),
	)
	return err
}

func (r *Registry) initSystemMetrics() error {
	var err error

	r.APIRequestDuration, err = r.meter.Float64Histogram(
		"bundle.api.request_duration",
		metric.WithDescription("API request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	r.APIRequestCounter, err = r.meter.Int64Counter(
		"bundle.api.requests",
		metric.WithDescription("API requests by method, path and status"),
	)
	if err != nil {
		return err
	}

	r.DatabaseConnectionPool, err = r.meter.Int64ObservableGauge(
		"bundle.db.pool_size",
		metric.WithDescription("Open database connections"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()
			o.Observe(r.dbPoolSize)
			return nil
		}),
	)
	return err
}

// SetActiveHolds records the number of accepted bundles
func (r *Registry) SetActiveHolds(n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activeHolds = n
}

func (r *Registry) SetDBPoolSize(size int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dbPoolSize = size
}

// RecordProposal counts one proposal attempt
func (r *Registry) RecordProposal(ctx context.Context, items int, outcome string) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	r.ProposalCounter.Add(ctx, 1, attrs)
	if outcome == "created" {
		r.ProposalSize.Record(ctx, int64(items))
	}
}

// RecordResponse counts one accept or decline
func (r *Registry) RecordResponse(ctx context.Context, action bundle.Action, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("action", string(action)),
		attribute.String("outcome", outcome),
	)
	r.ResponseCounter.Add(ctx, 1, attrs)
	r.ResponseDuration.Record(ctx, float64(duration.Microseconds())/1000, attrs)
}

// RecordExpiry counts bundles expired by one sweep
func (r *Registry) RecordExpiry(ctx context.Context, bundles, releasedProducts int) {
	if bundles > 0 {
		r.ExpiredBundles.Add(ctx, int64(bundles))
	}
	if releasedProducts > 0 {
		r.ReleasedProducts.Add(ctx, int64(releasedProducts))
	}
}

func (r *Registry) RecordNotificationFailure(ctx context.Context, kind string) {
	r.NotificationFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordAPIRequest records API request metrics
func (r *Registry) RecordAPIRequest(ctx context.Context, duration time.Duration, method, path string, statusCode int) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status_code", statusCode),
	)
	r.APIRequestDuration.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	r.APIRequestCounter.Add(ctx, 1, attrs)
}
