// Package conversation talks to the messaging service that owns buyer and
// seller conversations. Bundle proposals and responses are posted there as
// system messages.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/davidleathers/bundle-exchange-backend/internal/infrastructure/config"
	"github.com/davidleathers/bundle-exchange-backend/internal/service/negotiation"
)

const breakerName = "conversation-service"

// ErrUnavailable is returned while the breaker is open or half-open and full
var ErrUnavailable = errors.New("conversation service unavailable")

// Metrics exposes breaker state and failures to Prometheus
type Metrics struct {
	state    *prometheus.GaugeVec
	failures *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		state: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"circuit_name"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of calls that failed through a circuit breaker",
		}, []string{"circuit_name"}),
	}
}

// Client is an HTTP client of the conversation service guarded by a
// circuit breaker. Server errors and transport failures count against the
// breaker; 4xx responses do not.
type Client struct {
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker
	metrics *Metrics
	logger  *zap.Logger
}

type conversationRequest struct {
	ParticipantIDs []uuid.UUID `json:"participant_ids"`
}

type conversationResponse struct {
	ID uuid.UUID `json:"id"`
}

type messageRequest struct {
	SenderID    uuid.UUID         `json:"sender_id"`
	RecipientID uuid.UUID         `json:"recipient_id"`
	Content     string            `json:"content"`
	Type        string            `json:"type"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func NewClient(cfg config.ConversationConfig, metrics *Metrics, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("conversation base url is required")
	}
	if metrics == nil {
		return nil, fmt.Errorf("metrics are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	logger = logger.Named("conversation")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		httpClient.SetHeader("X-API-Key", cfg.APIKey)
	}

	bc := cfg.Breaker
	minRequests := bc.MinRequests
	if minRequests == 0 {
		minRequests = 3
	}
	ratio := bc.FailureRatio
	if ratio <= 0 {
		ratio = 0.6
	}

	c := &Client{http: httpClient, metrics: metrics, logger: logger}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: bc.MaxRequests,
		Interval:    bc.Interval,
		Timeout:     bc.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= minRequests && failureRatio >= ratio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.state.WithLabelValues(name).Set(stateValue(to))
			logger.Warn("circuit breaker state changed",
				zap.String("circuit", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	metrics.state.WithLabelValues(breakerName).Set(0)

	return c, nil
}

// GetOrCreateConversation returns the conversation between the two users,
// creating it on first use. The service treats the pair as unordered.
func (c *Client) GetOrCreateConversation(ctx context.Context, buyerID, sellerID uuid.UUID) (uuid.UUID, error) {
	var out conversationResponse
	err := c.do(ctx, func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetBody(conversationRequest{ParticipantIDs: []uuid.UUID{buyerID, sellerID}}).
			SetResult(&out).
			Post("/conversations")
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("get or create conversation: %w", err)
	}
	if out.ID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("get or create conversation: response carried no id")
	}
	return out.ID, nil
}

// PostSystemMessage posts msg into its conversation
func (c *Client) PostSystemMessage(ctx context.Context, msg negotiation.Message) error {
	err := c.do(ctx, func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetPathParam("id", msg.ConversationID.String()).
			SetBody(messageRequest{
				SenderID:    msg.SenderID,
				RecipientID: msg.RecipientID,
				Content:     msg.Content,
				Type:        "system",
				Metadata:    map[string]string{"bundle_id": msg.BundleID.String()},
			}).
			Post("/conversations/{id}/messages")
	})
	if err != nil {
		return fmt.Errorf("post system message: %w", err)
	}
	return nil
}

// State reports the breaker state
func (c *Client) State() string {
	return c.breaker.State().String()
}

func (c *Client) do(ctx context.Context, call func() (*resty.Response, error)) error {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := call()
		if err != nil {
			return nil, fmt.Errorf("HTTP error: %w", err)
		}
		if resp.StatusCode() >= http.StatusInternalServerError {
			return nil, fmt.Errorf("conversation service returned status %d", resp.StatusCode())
		}
		return resp, nil
	})
	if err != nil {
		c.metrics.failures.WithLabelValues(breakerName).Inc()
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: circuit %s", ErrUnavailable, c.breaker.State())
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}

	resp := result.(*resty.Response)
	if resp.IsError() {
		return fmt.Errorf("conversation service rejected request with status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}
