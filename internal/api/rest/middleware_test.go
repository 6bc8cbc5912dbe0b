package rest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/bundle-exchange-backend/internal/domain/bundle"
	"github.com/davidleathers/bundle-exchange-backend/internal/infrastructure/config"
	"github.com/davidleathers/bundle-exchange-backend/internal/infrastructure/telemetry"
	"github.com/davidleathers/bundle-exchange-backend/internal/service/negotiation"
)

func TestRequestIDMiddleware(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := serve(api.handler, req)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))

	rec = serve(api.handler, httptest.NewRequest(http.MethodGet, "/health", nil))
	_, err := uuid.Parse(rec.Header().Get("X-Request-ID"))
	assert.NoError(t, err, "generated ids are uuids")
}

func TestSecurityHeaders(t *testing.T) {
	api := newTestAPI(t)
	rec := serve(api.handler, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestRecoveryMiddleware(t *testing.T) {
	base := NewBaseHandler("v1", telemetry.NewSlogLogger(testWriter{t}, "error"))
	h := NewMiddlewareChain(RequestIDMiddleware(), RecoveryMiddleware(base)).Then(
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }),
	)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	env := decode(t, rec.Body.Bytes())
	assert.Equal(t, "INTERNAL_ERROR", env.Error.Code)
	assert.Equal(t, rec.Header().Get("X-Request-ID"), env.Meta.RequestID)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"), "burst spent")
	assert.True(t, rl.Allow("10.0.0.2"), "clients are independent")

	now = now.Add(time.Second)
	assert.True(t, rl.Allow("10.0.0.1"), "token refilled")

	now = now.Add(11 * time.Minute)
	assert.Equal(t, 2, rl.Cleanup())
	assert.Empty(t, rl.limiters)
}

func TestRateLimitMiddleware(t *testing.T) {
	api := newTestAPI(t, func(c *Config) { c.RateLimiter = NewRateLimiter(1, 1) })

	first := serve(api.handler, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := serve(api.handler, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", decode(t, second.Body.Bytes()).Error.Code)
	assert.Equal(t, "0", second.Header().Get("X-RateLimit-Remaining"))
}

type recordedRequest struct {
	method, path string
	status       int
}

type recorderStub struct {
	calls []recordedRequest
}

func (r *recorderStub) RecordAPIRequest(_ context.Context, _ time.Duration, method, path string, status int) {
	r.calls = append(r.calls, recordedRequest{method, path, status})
}

func TestMetricsMiddleware(t *testing.T) {
	stub := &recorderStub{}
	api := newTestAPI(t, func(c *Config) { c.Recorder = stub })
	buyer := uuid.New()
	api.service.On("ListBundles", mock.Anything, buyer, bundle.RoleBuyer).Return([]*negotiation.BundleDetails{}, nil).Once()

	api.do(http.MethodGet, "/api/v1/bundles", buyer, "")
	serve(api.handler, httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	require.Len(t, stub.calls, 2)
	assert.Equal(t, recordedRequest{"GET", "GET /api/v1/bundles", 200}, stub.calls[0])
	assert.Equal(t, recordedRequest{"GET", "unmatched", 404}, stub.calls[1])

	rec := serve(api.handler, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `bundle_api_http_requests_total{handler="GET /api/v1/bundles",method="GET",status="200"}`)
}

func TestHealthEndpoints(t *testing.T) {
	health := NewHealthService("bundle-exchange", "test")
	health.RegisterCheck("database", func(context.Context) error { return nil })
	api := newTestAPI(t, func(c *Config) { c.Health = health })

	rec := serve(api.handler, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(api.handler, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"database":{"status":"pass"`)

	health.RegisterCheck("redis", func(context.Context) error { return errors.New("dial tcp: connection refused") })
	rec = serve(api.handler, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"fail"`)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	srv := NewServer(config.ServerConfig{
		Port:            0,
		ReadTimeout:     time.Second,
		WriteTimeout:    time.Second,
		ShutdownTimeout: time.Second,
	}, http.NotFoundHandler(), telemetry.NewSlogLogger(testWriter{t}, "info"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
