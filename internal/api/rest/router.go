package rest

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
)

// Config holds API configuration
type Config struct {
	Version       string
	JWTSecret     []byte
	Service       BundleService
	Health        *HealthService
	Logger        *slog.Logger
	RateLimiter   *RateLimiter
	Recorder      APIRecorder
	EnableMetrics bool
	EnableTracing bool
}

// NewRouter assembles the mux and the middleware chain
func NewRouter(cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Version == "" {
		cfg.Version = "v1"
	}

	base := NewBaseHandler(cfg.Version, cfg.Logger)
	auth := NewAuthMiddleware(cfg.JWTSecret, base)

	mux := http.NewServeMux()
	NewBundleHandlers(base, cfg.Service).RegisterRoutes(mux, auth.Middleware())

	if cfg.Health != nil {
		mux.HandleFunc("GET /health", cfg.Health.LivenessHandler())
		mux.HandleFunc("GET /ready", cfg.Health.ReadinessHandler())
	}
	if cfg.EnableMetrics {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	middlewares := []Middleware{
		SecurityHeadersMiddleware(),
		RequestIDMiddleware(),
		RecoveryMiddleware(base),
		RequestLoggingMiddleware(cfg.Logger),
	}
	if cfg.RateLimiter != nil {
		middlewares = append(middlewares, cfg.RateLimiter.Middleware(base))
	}
	if cfg.EnableTracing {
		middlewares = append(middlewares, TracingMiddleware(otel.Tracer("api.rest")))
	}
	if cfg.EnableMetrics {
		middlewares = append(middlewares, MetricsMiddleware(cfg.Recorder))
	}

	return NewMiddlewareChain(middlewares...).Then(mux)
}
