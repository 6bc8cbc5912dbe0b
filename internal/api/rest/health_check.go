package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// CheckFunc probes one dependency
type CheckFunc func(ctx context.Context) error

// HealthCheckResult represents the result of a health check
type HealthCheckResult struct {
	Status       HealthStatus `json:"status"`
	Error        string       `json:"error,omitempty"`
	ResponseTime string       `json:"response_time"`
}

type HealthStatus string

const (
	HealthStatusPass HealthStatus = "pass"
	HealthStatusFail HealthStatus = "fail"
)

// HealthResponse represents the overall health response
type HealthResponse struct {
	Status      HealthStatus                 `json:"status"`
	ServiceName string                       `json:"service_name"`
	Version     string                       `json:"version"`
	Uptime      string                       `json:"uptime,omitempty"`
	Checks      map[string]HealthCheckResult `json:"checks,omitempty"`
}

// HealthService serves liveness and readiness
type HealthService struct {
	mu          sync.RWMutex
	checks      map[string]CheckFunc
	timeout     time.Duration
	serviceName string
	version     string
	startTime   time.Time
	tracer      trace.Tracer
}

func NewHealthService(serviceName, version string) *HealthService {
	return &HealthService{
		checks:      make(map[string]CheckFunc),
		timeout:     3 * time.Second,
		serviceName: serviceName,
		version:     version,
		startTime:   time.Now(),
		tracer:      otel.Tracer("api.rest.health"),
	}
}

// RegisterCheck adds a readiness probe
func (h *HealthService) RegisterCheck(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// LivenessHandler reports that the process is serving
func (h *HealthService) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, http.StatusOK, HealthResponse{
			Status:      HealthStatusPass,
			ServiceName: h.serviceName,
			Version:     h.version,
			Uptime:      time.Since(h.startTime).Round(time.Second).String(),
		})
	}
}

// ReadinessHandler runs every registered check concurrently and answers 503
// if any fails
func (h *HealthService) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := h.tracer.Start(r.Context(), "health.readiness")
		defer span.End()

		results := h.runChecks(ctx)

		resp := HealthResponse{
			Status:      HealthStatusPass,
			ServiceName: h.serviceName,
			Version:     h.version,
			Checks:      results,
		}
		status := http.StatusOK
		for _, res := range results {
			if res.Status == HealthStatusFail {
				resp.Status = HealthStatusFail
				status = http.StatusServiceUnavailable
			}
		}
		span.SetAttributes(attribute.String("health.status", string(resp.Status)))
		writeHealth(w, status, resp)
	}
}

func (h *HealthService) runChecks(ctx context.Context) map[string]HealthCheckResult {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	checks := make([]CheckFunc, len(names))
	for i, name := range names {
		checks[i] = h.checks[name]
	}
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	results := make([]HealthCheckResult, len(names))
	var wg sync.WaitGroup
	for i := range names {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			start := time.Now()
			res := HealthCheckResult{Status: HealthStatusPass}
			if err := checks[i](ctx); err != nil {
				res.Status = HealthStatusFail
				res.Error = err.Error()
			}
			res.ResponseTime = time.Since(start).String()
			results[i] = res
		}(i)
	}
	wg.Wait()

	out := make(map[string]HealthCheckResult, len(names))
	for i, name := range names {
		out[name] = results[i]
	}
	return out
}

func writeHealth(w http.ResponseWriter, status int, resp HealthResponse) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
