// Package notifier consumes quote lifecycle events, deduplicates them by
// event id and notifies customers.
package notifier

import (
	"context"
	"embed"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cornjacket/quote-service/internal/shared/domain/events"
	"github.com/cornjacket/quote-service/internal/shared/infra/postgres"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigrationTable tracks this service's schema version.
const MigrationTable = "goose_notifier"

// Config holds configuration for the notifier service.
type Config struct {
	DatabaseURL   string
	Brokers       []string
	ConsumerGroup string
	Topics        []string
}

// RunningService represents a started notifier service.
type RunningService struct {
	// Shutdown stops the consumer gracefully.
	Shutdown func(ctx context.Context) error
}

// Start migrates the processed_events table and starts the consumer.
// sender may be nil, in which case notifications are logged.
func Start(ctx context.Context, cfg Config, pool *pgxpool.Pool, sender Sender, logger *slog.Logger) (*RunningService, error) {
	logger = logger.With("service", "notifier")

	if err := postgres.RunMigrations(ctx, cfg.DatabaseURL, migrationsFS, "migrations", MigrationTable, logger); err != nil {
		return nil, fmt.Errorf("failed to migrate notifier schema: %w", err)
	}

	if sender == nil {
		sender = NewLogSender(logger)
	}

	registry := NewHandlerRegistry(logger)
	registry.Register(NewCustomerHandler(sender, logger), events.TypeQuotePriced, events.TypeQuoteConfirmed)
	registry.Register(NewLifecycleHandler(logger), events.TypeQuoteFailed, events.TypeQuoteExpired, events.TypeQuoteCancelled)

	dedup := NewDeduplicator(postgres.NewProcessedEventRepo(pool, logger), registry, logger)

	consumer, err := NewConsumer(
		dedup,
		ConsumerConfig{
			Brokers: cfg.Brokers,
			GroupID: cfg.ConsumerGroup,
			Topics:  cfg.Topics,
		},
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create event consumer: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := consumer.Start(ctx); err != nil {
			logger.Error("event consumer error", "error", err)
		}
	}()

	return &RunningService{
		Shutdown: func(shutdownCtx context.Context) error {
			logger.Info("shutting down notifier service")
			err := consumer.Close()
			select {
			case <-done:
			case <-shutdownCtx.Done():
			}
			return err
		},
	}, nil
}
