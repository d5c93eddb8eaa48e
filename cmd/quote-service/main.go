package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cornjacket/quote-service/internal/client/catalog"
	"github.com/cornjacket/quote-service/internal/client/configuration"
	"github.com/cornjacket/quote-service/internal/client/pricing"
	"github.com/cornjacket/quote-service/internal/client/quoteevents"
	"github.com/cornjacket/quote-service/internal/services/notifier"
	"github.com/cornjacket/quote-service/internal/services/quote"
	"github.com/cornjacket/quote-service/internal/services/quote/relay"
	"github.com/cornjacket/quote-service/internal/shared/config"
	"github.com/cornjacket/quote-service/internal/shared/infra/postgres"
	"github.com/cornjacket/quote-service/internal/shared/infra/redis"
	"github.com/cornjacket/quote-service/internal/shared/infra/redpanda"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("starting quote service",
		"port", cfg.Port,
		"notifier_enabled", cfg.NotifierEnabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := postgres.NewClient(ctx, cfg.DatabaseURL, postgres.PoolOptions{
		MaxConns:        cfg.DBMaxConns,
		ConnectAttempts: cfg.DBConnectAttempts,
	}, logger)
	if err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer pg.Close()

	brokers := strings.Split(cfg.RedpandaBrokers, ",")
	producer, err := redpanda.NewProducer(brokers, logger)
	if err != nil {
		slog.Error("failed to create Redpanda producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.Ping(ctx); err != nil {
		slog.Warn("Redpanda not reachable yet, relay will keep retrying", "error", err)
	}

	deps := quote.Dependencies{
		Catalog:       catalog.New(cfg.CatalogURL, cfg.CatalogTimeout, logger),
		Configuration: configuration.New(cfg.ConfigurationURL, cfg.ConfigurationTimeout, logger),
		Pricing:       pricing.New(cfg.PricingURL, cfg.PricingTimeout, logger),
		Publisher:     quoteevents.New(producer, cfg.QuoteEventsTopic, logger),
	}

	if cfg.RedisURL != "" {
		rdb, err := redis.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			slog.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		deps.Idempotency = redis.NewIdempotencyStore(rdb, cfg.IdempotencyTTL, logger)
	} else {
		slog.Warn("QS_REDIS_URL not set, Idempotency-Key header is ignored")
	}

	quoteSvc, err := quote.Start(ctx, quote.Config{
		Port:              cfg.Port,
		DatabaseURL:       cfg.DatabaseURL,
		QuoteTTL:          cfg.QuoteTTL,
		TransitionRetries: cfg.TransitionRetries,
		Driver: quote.DriverConfig{
			WorkerCount: cfg.DriveWorkerCount,
			QueueSize:   cfg.DriveQueueSize,
			Retry: quote.RetryPolicy{
				MaxAttempts:    cfg.RetryMaxAttempts,
				InitialBackoff: cfg.RetryInitialBackoff,
				MaxBackoff:     cfg.RetryMaxBackoff,
			},
			CatalogTimeout:       cfg.CatalogTimeout,
			ConfigurationTimeout: cfg.ConfigurationTimeout,
			PricingTimeout:       cfg.PricingTimeout,
			CatalogConcurrency:   cfg.CatalogConcurrency,
		},
		Sweeper: quote.SweeperConfig{
			Interval:       cfg.ExpirySweepInterval,
			StallThreshold: cfg.StallThreshold,
			BatchSize:      cfg.SweepBatchSize,
		},
		Relay: relay.Config{
			WorkerCount:    cfg.OutboxWorkerCount,
			BatchSize:      cfg.OutboxBatchSize,
			PollInterval:   cfg.OutboxPollInterval,
			ClaimLease:     cfg.OutboxClaimLease,
			PublishTimeout: cfg.OutboxPublishTimeout,
			InitialBackoff: cfg.OutboxInitialBackoff,
			MaxBackoff:     cfg.OutboxMaxBackoff,
		},
		RateLimitPerSecond: cfg.RateLimitPerSecond,
		RateLimitBurst:     cfg.RateLimitBurst,
		RateLimitIdleTTL:   cfg.RateLimitIdleTTL,
		TrustedProxies:     cfg.TrustedProxies,
	}, pg.Pool(), deps, logger)
	if err != nil {
		slog.Error("failed to start quote service", "error", err)
		os.Exit(1)
	}

	var notifierSvc *notifier.RunningService
	if cfg.NotifierEnabled {
		notifierSvc, err = notifier.Start(ctx, notifier.Config{
			DatabaseURL:   cfg.DatabaseURL,
			Brokers:       brokers,
			ConsumerGroup: cfg.NotifierConsumerGroup,
			Topics:        []string{cfg.QuoteEventsTopic},
		}, pg.Pool(), nil, logger)
		if err != nil {
			slog.Error("failed to start notifier service", "error", err)
			os.Exit(1)
		}
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		slog.Info("context cancelled")
	}

	// Graceful shutdown (reverse order)
	slog.Info("shutting down services...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if notifierSvc != nil {
		if err := notifierSvc.Shutdown(shutdownCtx); err != nil {
			slog.Error("notifier service shutdown error", "error", err)
		}
	}
	if err := quoteSvc.Shutdown(shutdownCtx); err != nil {
		slog.Error("quote service shutdown error", "error", err)
	}

	slog.Info("quote service stopped")
}

// newLogger creates a structured logger based on configuration.
func newLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
