// Package quoteevents publishes quote lifecycle events to the message bus.
package quoteevents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cornjacket/quote-service/internal/shared/domain/events"
)

// SystemTopic receives events that are not part of a quote lifecycle.
const SystemTopic = "system-events"

// ErrPublishFailed wraps every broker failure returned by Publish.
var ErrPublishFailed = errors.New("publish failed")

// EventPublisher publishes events to the message bus.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, event *events.Envelope) error
}

// Client wraps the underlying message bus (Redpanda) with quote topic routing.
type Client struct {
	publisher  EventPublisher
	quoteTopic string
	logger     *slog.Logger
}

// New creates a client that routes quote events to quoteTopic.
func New(publisher EventPublisher, quoteTopic string, logger *slog.Logger) *Client {
	return &Client{
		publisher:  publisher,
		quoteTopic: quoteTopic,
		logger:     logger.With("client", "quoteevents"),
	}
}

// Publish sends event to the topic derived from its type and returns once the
// broker has acknowledged it.
func (c *Client) Publish(ctx context.Context, event *events.Envelope) error {
	topic := c.topicFromEventType(event.Type)

	if err := c.publisher.Publish(ctx, topic, event); err != nil {
		c.logger.Error("failed to publish event",
			"event_id", event.EventID,
			"event_type", event.Type,
			"quote_id", event.QuoteID,
			"topic", topic,
			"error", err,
		)
		return fmt.Errorf("%w: %s to %s: %v", ErrPublishFailed, event.Type, topic, err)
	}

	c.logger.Debug("event published",
		"event_id", event.EventID,
		"event_type", event.Type,
		"quote_id", event.QuoteID,
		"topic", topic,
	)

	return nil
}

// topicFromEventType keeps every quote event on one topic so a quote's events
// share a partition and stay ordered.
func (c *Client) topicFromEventType(eventType string) string {
	if strings.HasPrefix(eventType, "Quote") {
		return c.quoteTopic
	}
	return SystemTopic
}
