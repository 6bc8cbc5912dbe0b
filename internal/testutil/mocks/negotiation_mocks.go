package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/davidleathers/bundle-exchange-backend/internal/domain/bundle"
)

// EventPublisher is a mock implementation of negotiation.EventPublisher
type EventPublisher struct {
	mock.Mock
}

func (m *EventPublisher) Publish(ctx context.Context, event *bundle.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// RateLimiter is a mock implementation of negotiation.RateLimiter
type RateLimiter struct {
	mock.Mock
}

func (m *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Error(1)
}

// MetricsRecorder is a mock implementation of negotiation.MetricsRecorder
type MetricsRecorder struct {
	mock.Mock
}

func (m *MetricsRecorder) RecordProposal(ctx context.Context, items int, outcome string) {
	m.Called(ctx, items, outcome)
}

func (m *MetricsRecorder) RecordResponse(ctx context.Context, action bundle.Action, outcome string, duration time.Duration) {
	m.Called(ctx, action, outcome, duration)
}

func (m *MetricsRecorder) RecordExpiry(ctx context.Context, bundles, releasedProducts int) {
	m.Called(ctx, bundles, releasedProducts)
}

func (m *MetricsRecorder) RecordNotificationFailure(ctx context.Context, kind string) {
	m.Called(ctx, kind)
}

// Locker is a mock implementation of negotiation.Locker
type Locker struct {
	mock.Mock
}

func (m *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	args := m.Called(ctx, key, ttl)
	var unlock func(context.Context) error
	if fn := args.Get(0); fn != nil {
		unlock = fn.(func(context.Context) error)
	}
	return unlock, args.Bool(1), args.Error(2)
}
