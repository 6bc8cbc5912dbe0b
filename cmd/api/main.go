package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/davidleathers/bundle-exchange-backend/internal/api/rest"
	"github.com/davidleathers/bundle-exchange-backend/internal/infrastructure/cache"
	"github.com/davidleathers/bundle-exchange-backend/internal/infrastructure/config"
	"github.com/davidleathers/bundle-exchange-backend/internal/infrastructure/conversation"
	"github.com/davidleathers/bundle-exchange-backend/internal/infrastructure/database"
	"github.com/davidleathers/bundle-exchange-backend/internal/infrastructure/events"
	"github.com/davidleathers/bundle-exchange-backend/internal/infrastructure/repository"
	"github.com/davidleathers/bundle-exchange-backend/internal/infrastructure/telemetry"
	"github.com/davidleathers/bundle-exchange-backend/internal/metrics"
	"github.com/davidleathers/bundle-exchange-backend/internal/service/negotiation"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	envFile := flag.String("env-file", ".env", "Optional dotenv file loaded before the configuration")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("Failed to load %s: %v", *envFile, err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	slogger := telemetry.SetupLogger(cfg.LogLevel)
	logger, err := telemetry.NewZapLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	provider, err := telemetry.InitializeOpenTelemetry(ctx, telemetry.FromAppConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	pool, err := database.NewConnectionPool(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	redisClient, err := cache.NewRedisClient(&cfg.Redis, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisClient.Close()

	publisher, err := newPublisher(cfg, logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	notifier, err := newNotifier(cfg, logger)
	if err != nil {
		return err
	}

	registry, err := metrics.NewRegistry("bundle-exchange")
	if err != nil {
		return fmt.Errorf("failed to create metrics registry: %w", err)
	}

	bundles := repository.NewBundleRepository(pool.GetPrimary())
	service, err := negotiation.NewService(negotiation.Dependencies{
		Products:     repository.NewProductRepository(pool.GetPrimary()),
		Bundles:      bundles,
		Reservations: repository.NewReservationRepository(pool, logger),
		Notifier:     notifier,
		Events:       publisher,
		Limiter:      cache.NewRateLimiter(redisClient, logger),
		Metrics:      registry,
	}, negotiation.Config{
		ReservationTTL: cfg.Bundle.ReservationTTL,
		SweepBatchSize: cfg.Bundle.SweepBatchSize,
		ProposalLimit:  cfg.Bundle.ProposalLimit,
		ProposalWindow: cfg.Bundle.ProposalWindow,
		NotifyOnExpiry: cfg.Bundle.NotifyOnExpiry,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create negotiation service: %w", err)
	}

	sweeper, err := negotiation.NewSweeper(service, cache.NewLocker(redisClient, logger),
		cfg.Bundle.SweepInterval, cfg.Bundle.SweepLeaseTTL, logger)
	if err != nil {
		return fmt.Errorf("failed to create sweeper: %w", err)
	}
	go sweeper.Run(ctx)
	go newGaugeCollector(registry, bundles, pool, logger).Run(ctx, 30*time.Second)

	health := rest.NewHealthService(cfg.Telemetry.ServiceName, cfg.Version)
	health.RegisterCheck("database", pool.Ping)
	health.RegisterCheck("redis", func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	})

	limiter := rest.NewRateLimiter(cfg.Security.RateLimit.RequestsPerSecond, cfg.Security.RateLimit.BurstSize)
	go limiter.Run(ctx, time.Minute)

	handler := rest.NewRouter(rest.Config{
		Version:       "v1",
		JWTSecret:     []byte(cfg.Security.JWTSecret),
		Service:       service,
		Health:        health,
		Logger:        slogger,
		RateLimiter:   limiter,
		Recorder:      registry,
		EnableMetrics: cfg.Telemetry.MetricsEnabled,
		EnableTracing: cfg.Telemetry.Enabled,
	})

	logger.Info("bundle exchange starting",
		zap.String("version", cfg.Version),
		zap.String("environment", cfg.Environment))
	return rest.NewServer(cfg.Server, handler, slogger).Run(ctx)
}

// eventPublisher is a negotiation.EventPublisher that holds resources
type eventPublisher interface {
	negotiation.EventPublisher
	io.Closer
}

type nopCloser struct{ negotiation.EventPublisher }

func (nopCloser) Close() error { return nil }

func newPublisher(cfg *config.Config, logger *zap.Logger) (eventPublisher, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		logger.Info("no kafka brokers configured, bundle events will only be logged")
		return nopCloser{events.NewLogPublisher(logger)}, nil
	}

	writer, err := events.NewKafkaWriter(&cfg.Kafka)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka writer: %w", err)
	}
	publisher, err := events.NewKafkaPublisher(writer, cfg.Kafka.Topic, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create event publisher: %w", err)
	}
	return publisher, nil
}

func newNotifier(cfg *config.Config, logger *zap.Logger) (negotiation.Notifier, error) {
	if cfg.Conversation.BaseURL == "" {
		logger.Info("no conversation service configured, bundle messages will only be logged")
		return conversation.NewLogNotifier(logger), nil
	}

	client, err := conversation.NewClient(cfg.Conversation, conversation.NewMetrics(prometheus.DefaultRegisterer), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation client: %w", err)
	}
	return client, nil
}
