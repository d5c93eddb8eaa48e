package notifier

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/cornjacket/quote-service/internal/shared/domain/events"
	"github.com/cornjacket/quote-service/internal/shared/domain/quote"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockEventHandler implements EventHandler for testing.
type mockEventHandler struct {
	HandleFn func(ctx context.Context, event *events.Envelope) error
}

func (m *mockEventHandler) Handle(ctx context.Context, event *events.Envelope) error {
	return m.HandleFn(ctx, event)
}

// mockSender implements Sender for testing.
type mockSender struct {
	SendFn func(ctx context.Context, n Notification) error
}

func (m *mockSender) Send(ctx context.Context, n Notification) error {
	return m.SendFn(ctx, n)
}

// memProcessed implements ProcessedEventStore in memory.
type memProcessed struct {
	mu       sync.Mutex
	seen     map[uuid.UUID]bool
	claimErr error
	forgot   []uuid.UUID
}

func newMemProcessed() *memProcessed {
	return &memProcessed{seen: make(map[uuid.UUID]bool)}
}

func (m *memProcessed) Claim(_ context.Context, event *events.Envelope) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimErr != nil {
		return false, m.claimErr
	}
	if m.seen[event.EventID] {
		return false, nil
	}
	m.seen[event.EventID] = true
	return true, nil
}

func (m *memProcessed) Forget(_ context.Context, eventID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, eventID)
	m.forgot = append(m.forgot, eventID)
	return nil
}

func newPricedQuote() *quote.Quote {
	return &quote.Quote{
		ID:     uuid.Must(uuid.NewV7()),
		Number: "QT-20261016-00042",
		Status: quote.StatusPriced,
		Customer: quote.Customer{
			ID:    "cust-1",
			Email: "buyer@example.com",
		},
		PriceQuote: &quote.PriceQuote{
			Amount:   decimal.NewFromInt(500),
			Currency: "USD",
		},
		ExpiresAt: time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC),
		Version:   5,
	}
}

func newTestEvent(t *testing.T, eventType string, q *quote.Quote) *events.Envelope {
	t.Helper()
	env, err := events.NewEnvelope(eventType, q.ID, events.NewQuotePayload(q, q.Version), events.Metadata{Source: "test"})
	require.NoError(t, err)
	return env
}
