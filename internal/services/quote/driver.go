package quote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/cornjacket/quote-service/internal/client/pricing"
	"github.com/cornjacket/quote-service/internal/shared/correlation"
	"github.com/cornjacket/quote-service/internal/shared/domain/clock"
	"github.com/cornjacket/quote-service/internal/shared/domain/events"
	model "github.com/cornjacket/quote-service/internal/shared/domain/quote"
)

// DriverConfig holds configuration for the background driver.
type DriverConfig struct {
	WorkerCount          int
	QueueSize            int
	Retry                RetryPolicy
	CatalogTimeout       time.Duration
	ConfigurationTimeout time.Duration
	PricingTimeout       time.Duration
	CatalogConcurrency   int
}

func (c DriverConfig) withDefaults() DriverConfig {
	if c.WorkerCount <= 0 {
		c.WorkerCount = 1
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 128
	}
	if c.CatalogConcurrency <= 0 {
		c.CatalogConcurrency = 4
	}
	c.Retry = c.Retry.withDefaults()
	return c
}

type driveJob struct {
	quoteID       uuid.UUID
	correlationID string
}

// Driver moves quotes from DRAFT to PRICED or FAILED in the background.
// Work is fed through a bounded queue; Drive itself is safe to run any number
// of times, concurrently, for the same quote.
type Driver struct {
	tx            *transitioner
	catalog       CatalogClient
	configuration ConfigurationClient
	pricing       PricingClient
	config        DriverConfig
	queue         chan driveJob
	logger        *slog.Logger
}

// NewDriver creates a new driver.
func NewDriver(
	store Store,
	catalog CatalogClient,
	configuration ConfigurationClient,
	pricing PricingClient,
	transitionRetries int,
	config DriverConfig,
	logger *slog.Logger,
) *Driver {
	logger = logger.With("component", "quote-driver")
	config = config.withDefaults()
	return &Driver{
		tx:            newTransitioner(store, transitionRetries, logger),
		catalog:       catalog,
		configuration: configuration,
		pricing:       pricing,
		config:        config,
		queue:         make(chan driveJob, config.QueueSize),
		logger:        logger,
	}
}

// Enqueue schedules id without blocking. When the queue is full the hint is
// dropped and the stalled-quote sweep picks the quote up later.
func (d *Driver) Enqueue(ctx context.Context, id uuid.UUID) bool {
	select {
	case d.queue <- driveJob{quoteID: id, correlationID: correlation.FromContext(ctx)}:
		return true
	default:
		d.logger.Warn("drive queue full, deferring quote to sweep", "quote_id", id)
		return false
	}
}

// Run starts the workers and blocks until ctx is cancelled and every
// in-flight drive has returned.
func (d *Driver) Run(ctx context.Context) error {
	d.logger.Info("starting quote driver", "workers", d.config.WorkerCount, "queue_size", d.config.QueueSize)

	var wg sync.WaitGroup
	for i := 0; i < d.config.WorkerCount; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			d.worker(ctx, workerID)
		}(i)
	}

	<-ctx.Done()
	wg.Wait()
	d.logger.Info("quote driver stopped")
	return nil
}

func (d *Driver) worker(ctx context.Context, workerID int) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-d.queue:
			jobCtx := ctx
			if job.correlationID != "" {
				jobCtx = correlation.WithID(ctx, job.correlationID)
			}
			if err := d.Drive(jobCtx, job.quoteID); err != nil && ctx.Err() == nil {
				d.logger.Error("drive failed",
					"worker_id", workerID,
					"quote_id", job.quoteID,
					"error", err,
				)
			}
		}
	}
}

// Drive advances the quote as far as it can go. Each iteration re-reads the
// quote and performs the step its current status calls for, so re-entry
// after a crash or alongside another driver is a no-op or a continuation.
func (d *Driver) Drive(ctx context.Context, id uuid.UUID) error {
	for {
		q, err := d.tx.store.Get(ctx, id)
		if err != nil {
			return err
		}

		switch q.Status {
		case model.StatusDraft:
			err = d.advance(ctx, id, model.StatusDraft, model.StatusValidating, events.TypeQuoteValidationStarted)
		case model.StatusValidating:
			err = d.validate(ctx, q)
		case model.StatusValidated:
			err = d.advance(ctx, id, model.StatusValidated, model.StatusPricing, events.TypeQuotePricingStarted)
		case model.StatusPricing:
			err = d.price(ctx, q)
		default:
			return nil
		}
		if err != nil && !errors.Is(err, errNoChange) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// advance performs a bookkeeping transition that needs no remote call.
func (d *Driver) advance(ctx context.Context, id uuid.UUID, from, to model.Status, eventType string) error {
	_, err := d.tx.apply(ctx, id, func(q *model.Quote) (string, error) {
		if q.Status != from {
			return "", errNoChange
		}
		if err := q.Transition(to, clock.Now()); err != nil {
			return "", err
		}
		return eventType, nil
	})
	return err
}

func (d *Driver) validate(ctx context.Context, q *model.Quote) error {
	result, err := callWithRetry(ctx, d.config.Retry, d.configurationTarget(), d.logger,
		func(ctx context.Context) (*model.ValidationResult, error) {
			return d.configuration.Validate(ctx, q.Configuration)
		})
	if err != nil {
		return d.fail(ctx, q.ID, model.StatusValidating, err.Error(), nil)
	}

	if !result.OK {
		reason := "ValidationRejected: " + strings.Join(result.Violations, "; ")
		return d.fail(ctx, q.ID, model.StatusValidating, reason, result)
	}

	_, err = d.tx.apply(ctx, q.ID, func(q *model.Quote) (string, error) {
		if q.Status != model.StatusValidating {
			return "", errNoChange
		}
		if err := q.MarkValidated(*result, clock.Now()); err != nil {
			return "", err
		}
		return events.TypeQuoteValidated, nil
	})
	return err
}

func (d *Driver) price(ctx context.Context, q *model.Quote) error {
	items, err := d.enrich(ctx, q.Configuration)
	if err != nil {
		return d.fail(ctx, q.ID, model.StatusPricing, err.Error(), nil)
	}

	req := pricing.Request{
		Items:        items,
		CustomerTier: q.Customer.Tier,
		Options: pricing.Options{
			IncludeSupport: q.Options.IncludeSupport,
			SupportTier:    q.Options.SupportTier,
		},
	}
	price, err := callWithRetry(ctx, d.config.Retry, d.pricingTarget(), d.logger,
		func(ctx context.Context) (*model.PriceQuote, error) {
			return d.pricing.Price(ctx, req)
		})
	if err != nil {
		return d.fail(ctx, q.ID, model.StatusPricing, err.Error(), nil)
	}

	_, err = d.tx.apply(ctx, q.ID, func(q *model.Quote) (string, error) {
		if q.Status != model.StatusPricing {
			return "", errNoChange
		}
		if err := q.MarkPriced(*price, clock.Now()); err != nil {
			return "", err
		}
		return events.TypeQuotePriced, nil
	})
	return err
}

// fail records a remote failure on the quote. If ctx is already done the
// failure is most likely our own shutdown, so the quote is left in place for
// the stalled-quote sweep instead of being marked FAILED.
func (d *Driver) fail(ctx context.Context, id uuid.UUID, from model.Status, reason string, verdict *model.ValidationResult) error {
	if ctx.Err() != nil {
		return fmt.Errorf("drive interrupted in %s: %w", from, ctx.Err())
	}

	d.logger.Warn("quote failed", "quote_id", id, "status", from, "reason", reason)

	_, err := d.tx.apply(ctx, id, func(q *model.Quote) (string, error) {
		if q.Status != from {
			return "", errNoChange
		}
		if verdict != nil {
			q.ValidationResult = verdict
		}
		if err := q.MarkFailed(reason, clock.Now()); err != nil {
			return "", err
		}
		return events.TypeQuoteFailed, nil
	})
	return err
}

func (d *Driver) catalogTarget() callTarget {
	return callTarget{service: "catalog", timeout: d.config.CatalogTimeout}
}

func (d *Driver) configurationTarget() callTarget {
	return callTarget{service: "configuration", timeout: d.config.ConfigurationTimeout}
}

func (d *Driver) pricingTarget() callTarget {
	return callTarget{service: "pricing", timeout: d.config.PricingTimeout}
}
