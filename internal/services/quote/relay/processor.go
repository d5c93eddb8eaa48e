// Package relay moves committed outbox rows to the message bus.
package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sethvargo/go-retry"

	"github.com/cornjacket/quote-service/internal/shared/domain/clock"
)

// NotifyChannel is the Postgres channel the outbox insert trigger notifies on.
const NotifyChannel = "outbox_insert"

// Config holds configuration for the relay.
type Config struct {
	WorkerCount    int
	BatchSize      int
	PollInterval   time.Duration
	ClaimLease     time.Duration
	PublishTimeout time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (c Config) withDefaults() Config {
	if c.WorkerCount <= 0 {
		c.WorkerCount = 1
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.ClaimLease <= 0 {
		c.ClaimLease = 30 * time.Second
	}
	if c.PublishTimeout <= 0 || c.PublishTimeout >= c.ClaimLease {
		c.PublishTimeout = c.ClaimLease / 2
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = time.Minute
	}
	return c
}

// Processor publishes outbox rows at least once, preserving per-quote order.
type Processor struct {
	outbox     OutboxReader
	publisher  EventPublisher
	listenConn *pgx.Conn // nil disables LISTEN; the relay then only polls
	config     Config
	wakeCh     chan struct{}
	logger     *slog.Logger
}

// NewProcessor creates a new relay processor.
func NewProcessor(
	outbox OutboxReader,
	publisher EventPublisher,
	listenConn *pgx.Conn,
	config Config,
	logger *slog.Logger,
) *Processor {
	return &Processor{
		outbox:     outbox,
		publisher:  publisher,
		listenConn: listenConn,
		config:     config.withDefaults(),
		wakeCh:     make(chan struct{}, 1),
		logger:     logger.With("component", "outbox-relay"),
	}
}

// Start begins relaying outbox rows.
// It blocks until the context is cancelled.
func (p *Processor) Start(ctx context.Context) error {
	p.logger.Info("starting outbox relay",
		"workers", p.config.WorkerCount,
		"batch_size", p.config.BatchSize,
		"poll_interval", p.config.PollInterval,
		"claim_lease", p.config.ClaimLease,
	)

	if p.listenConn != nil {
		if _, err := p.listenConn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
			return err
		}
	}

	workCh := make(chan OutboxEntry, p.config.BatchSize)

	var wg sync.WaitGroup
	for i := 0; i < p.config.WorkerCount; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			p.worker(ctx, workerID, workCh)
		}(i)
	}

	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		p.dispatcher(ctx, workCh)
	}()

	<-ctx.Done()
	<-dispatcherDone

	close(workCh)
	wg.Wait()

	p.logger.Info("outbox relay stopped")
	return nil
}

// Wake asks the dispatcher to claim again without waiting for a notification.
func (p *Processor) Wake() {
	select {
	case p.wakeCh <- struct{}{}:
	default:
	}
}

// dispatcher claims outbox rows and sends them to workers.
func (p *Processor) dispatcher(ctx context.Context, workCh chan<- OutboxEntry) {
	notifyCh := make(chan *pgconn.Notification, 1)
	if p.listenConn != nil {
		go p.notificationListener(ctx, notifyCh)
	}

	timer := time.NewTimer(p.config.PollInterval)
	defer timer.Stop()

	p.fetchAndDispatch(ctx, workCh)

	for {
		select {
		case <-ctx.Done():
			return

		case notification := <-notifyCh:
			if notification != nil {
				p.logger.Debug("received NOTIFY", "payload", notification.Payload)
				p.resetTimer(timer)
				p.fetchAndDispatch(ctx, workCh)
			}

		case <-p.wakeCh:
			p.resetTimer(timer)
			p.fetchAndDispatch(ctx, workCh)

		case <-timer.C:
			p.logger.Debug("watchdog timer fired, polling outbox")
			p.fetchAndDispatch(ctx, workCh)
			p.reportBacklog(ctx)
			timer.Reset(p.config.PollInterval)
		}
	}
}

func (p *Processor) resetTimer(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(p.config.PollInterval)
}

// reportBacklog logs the number of unpublished rows when there are any.
func (p *Processor) reportBacklog(ctx context.Context) {
	n, err := p.outbox.CountUnpublished(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("failed to count unpublished outbox rows", "error", err)
		}
		return
	}
	if n > 0 {
		p.logger.Info("outbox backlog", "unpublished", n)
	}
}

// notificationListener continuously listens for PostgreSQL notifications.
func (p *Processor) notificationListener(ctx context.Context, notifyCh chan<- *pgconn.Notification) {
	for {
		notification, err := p.listenConn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("error waiting for notification", "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		select {
		case notifyCh <- notification:
		case <-ctx.Done():
			return
		default:
			// a fetch is already pending; it will see this row too
		}
	}
}

// fetchAndDispatch claims pending rows and sends them to workers.
func (p *Processor) fetchAndDispatch(ctx context.Context, workCh chan<- OutboxEntry) {
	entries, err := p.outbox.ClaimPending(ctx, p.config.BatchSize, p.config.ClaimLease)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Error("failed to claim outbox entries", "error", err)
		}
		return
	}

	if len(entries) == 0 {
		return
	}

	p.logger.Debug("claimed outbox entries", "count", len(entries))

	for _, entry := range entries {
		select {
		case workCh <- entry:
		case <-ctx.Done():
			return
		}
	}
}

// worker publishes entries from the work channel.
func (p *Processor) worker(ctx context.Context, id int, workCh <-chan OutboxEntry) {
	logger := p.logger.With("worker_id", id)

	for entry := range workCh {
		if ctx.Err() != nil {
			continue // drain; unsettled rows are reclaimed when their lease expires
		}
		p.processEntry(ctx, logger, entry)
	}
}

// processEntry publishes one entry and settles its row.
func (p *Processor) processEntry(ctx context.Context, logger *slog.Logger, entry OutboxEntry) {
	logger = logger.With(
		"event_id", entry.EventID,
		"event_type", entry.Event.Type,
		"quote_id", entry.QuoteID,
		"attempt", entry.Attempts+1,
	)

	pubCtx, cancel := context.WithTimeout(ctx, p.config.PublishTimeout)
	err := p.publisher.Publish(pubCtx, entry.Event)
	cancel()

	settleCtx, settleCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer settleCancel()

	if err != nil {
		retryAt := clock.Now().Add(p.backoff(entry.Attempts + 1))
		logger.Warn("publish failed, scheduling retry", "error", err, "retry_at", retryAt)
		if rerr := p.outbox.Release(settleCtx, entry.EventID, retryAt, err.Error()); rerr != nil {
			logger.Error("failed to release outbox entry", "error", rerr)
		}
		return
	}

	if err := p.outbox.MarkPublished(settleCtx, entry.EventID); err != nil {
		// The lease will lapse and the event will be published again.
		logger.Error("failed to mark event published", "error", err)
		return
	}

	logger.Info("event published")

	// The quote's next event just became head-of-line.
	p.Wake()
}

// backoff returns the delay before the given publish attempt, capped at MaxBackoff.
func (p *Processor) backoff(attempt int) time.Duration {
	b := retry.WithCappedDuration(p.config.MaxBackoff, retry.NewExponential(p.config.InitialBackoff))
	var d time.Duration
	for i := 0; i < attempt; i++ {
		d, _ = b.Next()
		if d >= p.config.MaxBackoff {
			break
		}
	}
	return d
}
