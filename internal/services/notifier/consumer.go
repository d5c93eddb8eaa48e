package notifier

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/cornjacket/quote-service/internal/shared/domain/events"
)

// ConsumerConfig holds configuration for the event consumer.
type ConsumerConfig struct {
	Brokers []string
	GroupID string
	Topics  []string

	// HandleAttempts bounds how often one record is processed before it is
	// logged and skipped.
	HandleAttempts int
	RetryBackoff   time.Duration
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	if c.HandleAttempts <= 0 {
		c.HandleAttempts = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 200 * time.Millisecond
	}
	return c
}

// Processor handles one decoded event.
type Processor interface {
	Process(ctx context.Context, event *events.Envelope) error
}

// Consumer consumes quote events from Redpanda and hands them to a Processor.
type Consumer struct {
	client    *kgo.Client
	processor Processor
	config    ConsumerConfig
	logger    *slog.Logger
}

// NewConsumer creates a new event consumer.
func NewConsumer(
	processor Processor,
	config ConsumerConfig,
	logger *slog.Logger,
) (*Consumer, error) {
	config = config.withDefaults()

	client, err := kgo.NewClient(
		kgo.SeedBrokers(config.Brokers...),
		kgo.ConsumerGroup(config.GroupID),
		kgo.ConsumeTopics(config.Topics...),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, err
	}

	return &Consumer{
		client:    client,
		processor: processor,
		config:    config,
		logger:    logger.With("component", "event-consumer"),
	}, nil
}

// Start begins consuming events and blocks until context is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("starting event consumer",
		"group_id", c.config.GroupID,
		"topics", c.config.Topics,
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("event consumer stopping")
			return nil
		default:
		}

		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}

		if errs := fetches.Errors(); len(errs) > 0 {
			for _, err := range errs {
				if ctx.Err() != nil {
					return nil
				}
				c.logger.Error("fetch error",
					"topic", err.Topic,
					"partition", err.Partition,
					"error", err.Err,
				)
			}
			continue
		}

		fetches.EachRecord(func(record *kgo.Record) {
			c.processRecord(ctx, record)
		})

		// Offsets are committed only after every record in the batch was handled or given up on.
		if err := c.client.CommitUncommittedOffsets(ctx); err != nil {
			c.logger.Error("failed to commit offsets", "error", err)
		}
	}
}

// processRecord decodes a record and processes it, retrying failures a
// bounded number of times.
func (c *Consumer) processRecord(ctx context.Context, record *kgo.Record) {
	logger := c.logger.With(
		"topic", record.Topic,
		"partition", record.Partition,
		"offset", record.Offset,
	)

	var event events.Envelope
	if err := json.Unmarshal(record.Value, &event); err != nil {
		logger.Error("failed to deserialize event", "error", err)
		return
	}

	logger = logger.With(
		"event_id", event.EventID,
		"event_type", event.Type,
		"quote_id", event.QuoteID,
	)

	backoff := retry.WithMaxRetries(uint64(c.config.HandleAttempts-1), retry.NewConstant(c.config.RetryBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := c.processor.Process(ctx, &event); err != nil {
			logger.Warn("failed to handle event", "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		logger.Error("giving up on event", "attempts", c.config.HandleAttempts, "error", err)
		return
	}

	logger.Debug("event processed successfully")
}

// Close releases consumer resources.
func (c *Consumer) Close() error {
	c.client.Close()
	c.logger.Info("event consumer closed")
	return nil
}
