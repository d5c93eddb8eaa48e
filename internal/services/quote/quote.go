// Package quote runs the quote service: the HTTP API, the background driver
// that takes quotes through validation and pricing, the periodic sweeps and
// the outbox relay.
package quote

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/cornjacket/quote-service/internal/services/quote/relay"
	"github.com/cornjacket/quote-service/internal/shared/httpx"
	"github.com/cornjacket/quote-service/internal/shared/infra/postgres"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigrationTable tracks this service's schema version.
const MigrationTable = "goose_quote"

// Config holds configuration for the quote service.
type Config struct {
	Port        int
	DatabaseURL string // migrations and the dedicated LISTEN connection

	QuoteTTL          time.Duration
	TransitionRetries int
	Driver            DriverConfig
	Sweeper           SweeperConfig
	Relay             relay.Config

	RateLimitPerSecond int
	RateLimitBurst     int
	RateLimitIdleTTL   time.Duration
	TrustedProxies     []string
}

// Dependencies are the collaborators the service does not own.
type Dependencies struct {
	Catalog       CatalogClient
	Configuration ConfigurationClient
	Pricing       PricingClient
	Publisher     relay.EventPublisher
	Idempotency   IdempotencyStore // optional
}

// RunningService represents a started quote service.
type RunningService struct {
	// Shutdown stops the HTTP server, then the background workers.
	Shutdown func(ctx context.Context) error
}

// Start migrates the schema and starts the HTTP server, driver, sweeper and
// outbox relay. Everything is wired internally from the provided pool.
func Start(ctx context.Context, cfg Config, pool *pgxpool.Pool, deps Dependencies, logger *slog.Logger) (*RunningService, error) {
	logger = logger.With("service", "quote")

	if err := postgres.RunMigrations(ctx, cfg.DatabaseURL, migrationsFS, "migrations", MigrationTable, logger); err != nil {
		return nil, fmt.Errorf("failed to migrate quote schema: %w", err)
	}

	quoteRepo := postgres.NewQuoteRepo(pool, logger)
	outboxRepo := postgres.NewOutboxRepo(pool, logger)

	// Dedicated LISTEN connection, outside the pool: it is held for the process lifetime.
	listenConn, err := pgx.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create LISTEN connection: %w", err)
	}

	driver := NewDriver(quoteRepo, deps.Catalog, deps.Configuration, deps.Pricing, cfg.TransitionRetries, cfg.Driver, logger)
	svc := NewService(quoteRepo, driver, deps.Idempotency, ServiceConfig{
		QuoteTTL:          cfg.QuoteTTL,
		TransitionRetries: cfg.TransitionRetries,
	}, logger)
	sweeper := NewSweeper(quoteRepo, driver, cfg.TransitionRetries, cfg.Sweeper, logger)
	proc := relay.NewProcessor(outboxRepo, deps.Publisher, listenConn, cfg.Relay, logger)

	var limiter *httpx.IPRateLimiter
	if cfg.RateLimitPerSecond > 0 {
		trusted, err := httpx.ParseTrustedProxies(cfg.TrustedProxies)
		if err != nil {
			listenConn.Close(ctx)
			return nil, fmt.Errorf("failed to parse trusted proxies: %w", err)
		}
		limiter = httpx.NewIPRateLimiter(rate.Limit(cfg.RateLimitPerSecond), cfg.RateLimitBurst, logger,
			httpx.WithTrustedProxies(trusted),
			httpx.WithIdleTTL(cfg.RateLimitIdleTTL),
		)
	}

	handler := NewHandler(svc, pool, logger)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux, limiter)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      httpx.Chain(mux, httpx.CorrelationID, httpx.RequestLogger(logger)),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return driver.Run(gctx) })
	g.Go(func() error { return sweeper.Run(gctx) })
	if limiter != nil {
		g.Go(func() error { return limiter.Run(gctx) })
	}
	g.Go(func() error {
		if err := proc.Start(gctx); err != nil {
			logger.Error("outbox relay error", "error", err)
			return err
		}
		return nil
	})

	go func() {
		logger.Info("starting quote server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("quote server error", "error", err)
		}
	}()

	return &RunningService{
		Shutdown: func(shutdownCtx context.Context) error {
			logger.Info("shutting down quote service")
			serverErr := server.Shutdown(shutdownCtx)

			cancel()
			done := make(chan error, 1)
			go func() { done <- g.Wait() }()

			var workerErr error
			select {
			case workerErr = <-done:
			case <-shutdownCtx.Done():
				workerErr = fmt.Errorf("background workers did not stop: %w", shutdownCtx.Err())
			}

			listenConn.Close(shutdownCtx)
			return errors.Join(serverErr, workerErr)
		},
	}, nil
}
