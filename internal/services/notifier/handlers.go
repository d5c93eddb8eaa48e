package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cornjacket/quote-service/internal/shared/domain/events"
)

// HandlerRegistry dispatches events to the handler registered for their type.
type HandlerRegistry struct {
	handlers map[string]EventHandler
	logger   *slog.Logger
}

// NewHandlerRegistry creates a new handler registry.
func NewHandlerRegistry(logger *slog.Logger) *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[string]EventHandler),
		logger:   logger.With("component", "handler-registry"),
	}
}

// Register adds a handler for the given event types.
func (r *HandlerRegistry) Register(handler EventHandler, eventTypes ...string) {
	for _, t := range eventTypes {
		r.handlers[t] = handler
		r.logger.Info("registered handler", "event_type", t)
	}
}

// Dispatch routes an event to its handler. Unknown types are skipped.
func (r *HandlerRegistry) Dispatch(ctx context.Context, event *events.Envelope) error {
	handler, ok := r.handlers[event.Type]
	if !ok {
		r.logger.Debug("no handler for event type", "event_type", event.Type)
		return nil
	}
	return handler.Handle(ctx, event)
}

// Deduplicator wraps dispatch with the processed_events claim.
type Deduplicator struct {
	store    ProcessedEventStore
	registry *HandlerRegistry
	logger   *slog.Logger
}

// NewDeduplicator creates a new Deduplicator.
func NewDeduplicator(store ProcessedEventStore, registry *HandlerRegistry, logger *slog.Logger) *Deduplicator {
	return &Deduplicator{
		store:    store,
		registry: registry,
		logger:   logger.With("component", "deduplicator"),
	}
}

// Process handles event at most once per event id. A handler failure releases
// the claim so the next delivery tries again.
func (d *Deduplicator) Process(ctx context.Context, event *events.Envelope) error {
	claimed, err := d.store.Claim(ctx, event)
	if err != nil {
		return fmt.Errorf("failed to claim event: %w", err)
	}
	if !claimed {
		d.logger.Debug("skipping duplicate event", "event_id", event.EventID, "event_type", event.Type)
		return nil
	}

	if err := d.registry.Dispatch(ctx, event); err != nil {
		if ferr := d.store.Forget(ctx, event.EventID); ferr != nil {
			d.logger.Error("failed to release event claim", "event_id", event.EventID, "error", ferr)
		}
		return err
	}
	return nil
}

func decodePayload(event *events.Envelope) (events.QuotePayload, error) {
	var p events.QuotePayload
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		return p, fmt.Errorf("failed to decode %s payload: %w", event.Type, err)
	}
	return p, nil
}

// CustomerHandler tells the customer when their quote is priced or confirmed.
type CustomerHandler struct {
	sender Sender
	logger *slog.Logger
}

// NewCustomerHandler creates a new customer notification handler.
func NewCustomerHandler(sender Sender, logger *slog.Logger) *CustomerHandler {
	return &CustomerHandler{
		sender: sender,
		logger: logger.With("handler", "customer"),
	}
}

// Handle builds and sends the notification for QuotePriced and QuoteConfirmed.
func (h *CustomerHandler) Handle(ctx context.Context, event *events.Envelope) error {
	p, err := decodePayload(event)
	if err != nil {
		return err
	}
	if p.CustomerEmail == "" {
		h.logger.Debug("quote has no customer email", "quote_id", p.QuoteID)
		return nil
	}

	n := Notification{
		QuoteID:     p.QuoteID,
		QuoteNumber: p.QuoteNumber,
		Email:       p.CustomerEmail,
	}
	switch event.Type {
	case events.TypeQuotePriced:
		if p.PriceQuote == nil {
			return fmt.Errorf("priced quote %s has no price", p.QuoteID)
		}
		n.Subject = fmt.Sprintf("Your quote %s is ready", p.QuoteNumber)
		n.Body = fmt.Sprintf("Total %s %s, valid until %s.",
			p.PriceQuote.Amount.StringFixed(2), p.PriceQuote.Currency,
			p.ExpiresAt.UTC().Format("2006-01-02 15:04 MST"))
	case events.TypeQuoteConfirmed:
		n.Subject = fmt.Sprintf("Quote %s confirmed", p.QuoteNumber)
		n.Body = "Thank you, your order is being prepared."
	default:
		return nil
	}

	if err := h.sender.Send(ctx, n); err != nil {
		return fmt.Errorf("failed to notify customer: %w", err)
	}
	return nil
}

// LifecycleHandler logs quotes that leave the happy path.
type LifecycleHandler struct {
	logger *slog.Logger
}

// NewLifecycleHandler creates a new lifecycle log handler.
func NewLifecycleHandler(logger *slog.Logger) *LifecycleHandler {
	return &LifecycleHandler{logger: logger.With("handler", "lifecycle")}
}

// Handle logs QuoteFailed, QuoteExpired and QuoteCancelled events.
func (h *LifecycleHandler) Handle(_ context.Context, event *events.Envelope) error {
	p, err := decodePayload(event)
	if err != nil {
		return err
	}

	attrs := []any{
		"event_id", event.EventID,
		"quote_id", p.QuoteID,
		"quote_number", p.QuoteNumber,
		"version", p.Version,
	}
	switch event.Type {
	case events.TypeQuoteFailed:
		attrs = append(attrs, "reason", p.Reason)
		if len(p.Violations) > 0 {
			attrs = append(attrs, "violations", p.Violations)
		}
		h.logger.Warn("quote failed", attrs...)
	case events.TypeQuoteExpired:
		h.logger.Info("quote expired", attrs...)
	case events.TypeQuoteCancelled:
		h.logger.Info("quote cancelled", attrs...)
	}
	return nil
}

// LogSender writes notifications to the log. It stands in for a mail gateway.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a new LogSender.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger.With("component", "log-sender")}
}

// Send logs n.
func (s *LogSender) Send(_ context.Context, n Notification) error {
	s.logger.Info("customer notification",
		"quote_id", n.QuoteID,
		"quote_number", n.QuoteNumber,
		"to", n.Email,
		"subject", n.Subject,
		"body", n.Body,
	)
	return nil
}
