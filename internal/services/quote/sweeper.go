package quote

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/cornjacket/quote-service/internal/shared/domain/clock"
	"github.com/cornjacket/quote-service/internal/shared/domain/events"
	model "github.com/cornjacket/quote-service/internal/shared/domain/quote"
)

// SweeperConfig holds configuration for the periodic sweeps.
type SweeperConfig struct {
	Interval       time.Duration
	StallThreshold time.Duration
	BatchSize      int
}

func (c SweeperConfig) withDefaults() SweeperConfig {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.StallThreshold <= 0 {
		c.StallThreshold = 2 * time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	return c
}

// Sweeper expires PRICED quotes past their validity window and re-drives
// in-flight quotes that stopped making progress.
type Sweeper struct {
	tx     *transitioner
	store  Store
	driver Enqueuer
	config SweeperConfig
	logger *slog.Logger
}

// NewSweeper creates a new sweeper.
func NewSweeper(store Store, driver Enqueuer, transitionRetries int, config SweeperConfig, logger *slog.Logger) *Sweeper {
	logger = logger.With("component", "quote-sweeper")
	return &Sweeper{
		tx:     newTransitioner(store, transitionRetries, logger),
		store:  store,
		driver: driver,
		config: config.withDefaults(),
		logger: logger,
	}
}

// Run sweeps once immediately and then on every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("starting quote sweeper",
		"interval", s.config.Interval,
		"stall_threshold", s.config.StallThreshold,
	)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		s.sweep(ctx)
		select {
		case <-ctx.Done():
			s.logger.Info("quote sweeper stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	if expired, err := s.ExpireDue(ctx); err != nil {
		if ctx.Err() == nil {
			s.logger.Error("expiry sweep failed", "error", err)
		}
	} else if expired > 0 {
		s.logger.Info("expired quotes", "count", expired)
	}

	if redriven, err := s.RedriveStalled(ctx); err != nil {
		if ctx.Err() == nil {
			s.logger.Error("stalled quote sweep failed", "error", err)
		}
	} else if redriven > 0 {
		s.logger.Info("re-drove stalled quotes", "count", redriven)
	}
}

// ExpireDue moves PRICED quotes whose expiresAt has passed to EXPIRED and
// returns how many it moved. A quote confirmed or cancelled in the meantime
// is left alone.
func (s *Sweeper) ExpireDue(ctx context.Context) (int, error) {
	now := clock.Now()
	ids, err := s.store.ListExpired(ctx, now, s.config.BatchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, id := range ids {
		if err := s.expire(ctx, id, now); err != nil {
			if errors.Is(err, errNoChange) {
				continue
			}
			if ctx.Err() != nil {
				return expired, ctx.Err()
			}
			s.logger.Warn("failed to expire quote", "quote_id", id, "error", err)
			continue
		}
		expired++
	}
	return expired, nil
}

func (s *Sweeper) expire(ctx context.Context, id uuid.UUID, now time.Time) error {
	_, err := s.tx.apply(ctx, id, func(q *model.Quote) (string, error) {
		if !q.IsExpired(now) {
			return "", errNoChange
		}
		if err := q.Transition(model.StatusExpired, now); err != nil {
			return "", err
		}
		return events.TypeQuoteExpired, nil
	})
	return err
}

// RedriveStalled enqueues in-flight quotes that have not changed for longer
// than the stall threshold, typically because the process driving them died.
func (s *Sweeper) RedriveStalled(ctx context.Context) (int, error) {
	ids, err := s.store.ListStalled(ctx, clock.Now().Add(-s.config.StallThreshold), s.config.BatchSize)
	if err != nil {
		return 0, err
	}

	redriven := 0
	for _, id := range ids {
		if s.driver.Enqueue(ctx, id) {
			redriven++
		}
	}
	return redriven, nil
}
