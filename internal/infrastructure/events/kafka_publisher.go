package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/davidleathers/bundle-exchange-backend/internal/domain/bundle"
	"github.com/davidleathers/bundle-exchange-backend/internal/infrastructure/config"
)

// Message header keys
const (
	HeaderEventType = "event_type"
	HeaderEventID   = "event_id"
)

// MessageWriter is the subset of *kafka.Writer the publisher needs
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes bundle lifecycle events keyed by bundle id, so
// every event of one bundle lands on the same partition in order.
type KafkaPublisher struct {
	writer MessageWriter
	topic  string
	logger *zap.Logger
}

// NewKafkaWriter builds a hash-balanced writer for the configured brokers
func NewKafkaWriter(cfg *config.KafkaConfig) (*kafka.Writer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}

	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           cfg.BatchTimeout,
		WriteTimeout:           cfg.WriteTimeout,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}, nil
}

func NewKafkaPublisher(writer MessageWriter, topic string, logger *zap.Logger) (*KafkaPublisher, error) {
	if writer == nil {
		return nil, fmt.Errorf("kafka writer is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &KafkaPublisher{writer: writer, topic: topic, logger: logger.Named("events")}, nil
}

// Publish writes one event. The current trace context travels in the
// message headers.
func (p *KafkaPublisher) Publish(ctx context.Context, event *bundle.Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}

	headers := []kafka.Header{
		{Key: HeaderEventType, Value: []byte(event.Type)},
		{Key: HeaderEventID, Value: []byte(event.ID.String())},
	}
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	for k, v := range carrier {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	msg := kafka.Message{
		Topic:   p.topic,
		Key:     []byte(event.BundleID.String()),
		Value:   value,
		Headers: headers,
		Time:    event.OccurredAt,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.Type, err)
	}

	p.logger.Debug("bundle event published",
		zap.String("event_type", string(event.Type)),
		zap.String("bundle_id", event.BundleID.String()))
	return nil
}

func (p *KafkaPublisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka writer: %w", err)
	}
	return nil
}

// LogPublisher records events in the log only. It is used when no brokers
// are configured.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.Named("events")}
}

func (p *LogPublisher) Publish(_ context.Context, event *bundle.Event) error {
	p.logger.Info("bundle event",
		zap.String("event_type", string(event.Type)),
		zap.String("event_id", event.ID.String()),
		zap.String("bundle_id", event.BundleID.String()),
		zap.String("status", event.Status.String()))
	return nil
}
