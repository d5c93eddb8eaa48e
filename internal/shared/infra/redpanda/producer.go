package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/cornjacket/quote-service/internal/shared/domain/events"
)

// Record headers set on every published event.
const (
	HeaderEventID   = "event-id"
	HeaderEventType = "event-type"
)

// Producer implements quoteevents.EventPublisher using Redpanda (Kafka-compatible).
type Producer struct {
	client *kgo.Client
	logger *slog.Logger
}

// NewProducer creates a producer that waits for all in-sync replicas before
// acknowledging, so a successful Publish means the event is durable.
func NewProducer(brokers []string, logger *slog.Logger) (*Producer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.AllowAutoTopicCreation(),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Redpanda client: %w", err)
	}

	return &Producer{
		client: client,
		logger: logger.With("component", "redpanda-producer"),
	}, nil
}

// Publish sends an event to topic, keyed by quote id so one quote's events
// land on one partition.
func (p *Producer) Publish(ctx context.Context, topic string, event *events.Envelope) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	record := &kgo.Record{
		Topic: topic,
		Key:   []byte(event.QuoteID.String()),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: HeaderEventID, Value: []byte(event.EventID.String())},
			{Key: HeaderEventType, Value: []byte(event.Type)},
		},
	}

	results := p.client.ProduceSync(ctx, record)
	if err := results.FirstErr(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	p.logger.Debug("event published to Redpanda",
		"topic", topic,
		"event_id", event.EventID,
		"event_type", event.Type,
		"quote_id", event.QuoteID,
	)

	return nil
}

// Ping checks broker connectivity.
func (p *Producer) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// Close closes the producer connection.
func (p *Producer) Close() {
	p.client.Close()
	p.logger.Info("Redpanda producer closed")
}
