package conversation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/bundle-exchange-backend/internal/infrastructure/config"
	"github.com/davidleathers/bundle-exchange-backend/internal/service/negotiation"
)

func newTestClient(t *testing.T, url string) (*Client, *Metrics) {
	t.Helper()
	metrics := NewMetrics(prometheus.NewRegistry())
	client, err := NewClient(config.ConversationConfig{
		BaseURL: url,
		Timeout: 2 * time.Second,
		APIKey:  "test-key",
		Breaker: config.BreakerConfig{
			MaxRequests:  1,
			Interval:     time.Minute,
			Timeout:      time.Minute,
			FailureRatio: 0.6,
			MinRequests:  3,
		},
	}, metrics, zaptest.NewLogger(t))
	require.NoError(t, err)
	return client, metrics
}

func TestClient_GetOrCreateConversation(t *testing.T) {
	buyer, seller, convID := uuid.New(), uuid.New(), uuid.New()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/conversations", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))

		var body conversationRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []uuid.UUID{buyer, seller}, body.ParticipantIDs)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": convID})
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv.URL)
	got, err := client.GetOrCreateConversation(context.Background(), buyer, seller)
	require.NoError(t, err)
	assert.Equal(t, convID, got)
}

func TestClient_PostSystemMessage(t *testing.T) {
	msg := negotiation.Message{
		ConversationID: uuid.New(),
		SenderID:       uuid.New(),
		RecipientID:    uuid.New(),
		BundleID:       uuid.New(),
		Content:        "Bundle request declined.",
	}

	var received messageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/conversations/"+msg.ConversationID.String()+"/messages", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv.URL)
	require.NoError(t, client.PostSystemMessage(context.Background(), msg))

	assert.Equal(t, msg.SenderID, received.SenderID)
	assert.Equal(t, msg.RecipientID, received.RecipientID)
	assert.Equal(t, msg.Content, received.Content)
	assert.Equal(t, "system", received.Type)
	assert.Equal(t, msg.BundleID.String(), received.Metadata["bundle_id"])
}

func TestClient_ClientErrorsDoNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad participants"}`))
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv.URL)
	for i := 0; i < 5; i++ {
		_, err := client.GetOrCreateConversation(context.Background(), uuid.New(), uuid.New())
		require.Error(t, err)
		assert.ErrorContains(t, err, "status 400")
		assert.NotErrorIs(t, err, ErrUnavailable)
	}
	assert.Equal(t, "closed", client.State())
}

func TestClient_BreakerOpensOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, metrics := newTestClient(t, srv.URL)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := client.GetOrCreateConversation(ctx, uuid.New(), uuid.New())
		require.Error(t, err)
		assert.ErrorContains(t, err, "status 503")
	}
	assert.Equal(t, "open", client.State())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.state.WithLabelValues(breakerName)))

	err := client.PostSystemMessage(ctx, negotiation.Message{ConversationID: uuid.New()})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(3), calls.Load(), "open breaker short-circuits")
	assert.Equal(t, float64(4), testutil.ToFloat64(metrics.failures.WithLabelValues(breakerName)))
}

func TestClient_MissingID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv.URL)
	_, err := client.GetOrCreateConversation(context.Background(), uuid.New(), uuid.New())
	assert.ErrorContains(t, err, "no id")
}

func TestNewClient_Validation(t *testing.T) {
	logger := zaptest.NewLogger(t)
	metrics := NewMetrics(prometheus.NewRegistry())

	_, err := NewClient(config.ConversationConfig{}, metrics, logger)
	assert.ErrorContains(t, err, "base url")
	_, err = NewClient(config.ConversationConfig{BaseURL: "http://x"}, nil, logger)
	assert.ErrorContains(t, err, "metrics")
	_, err = NewClient(config.ConversationConfig{BaseURL: "http://x"}, metrics, nil)
	assert.ErrorContains(t, err, "logger")
}

func TestLogNotifier(t *testing.T) {
	n := NewLogNotifier(zaptest.NewLogger(t))
	a, b := uuid.New(), uuid.New()

	first, err := n.GetOrCreateConversation(context.Background(), a, b)
	require.NoError(t, err)
	second, err := n.GetOrCreateConversation(context.Background(), b, a)
	require.NoError(t, err)
	assert.Equal(t, first, second, "pair order does not matter")
	assert.NotEqual(t, first, PairID(a, uuid.New()))

	assert.NoError(t, n.PostSystemMessage(context.Background(), negotiation.Message{ConversationID: first, Content: "hi"}))
}
