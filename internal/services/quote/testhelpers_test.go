package quote

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/cornjacket/quote-service/internal/client/catalog"
	"github.com/cornjacket/quote-service/internal/client/pricing"
	"github.com/cornjacket/quote-service/internal/shared/apperr"
	"github.com/cornjacket/quote-service/internal/shared/domain/clock"
	"github.com/cornjacket/quote-service/internal/shared/domain/events"
	model "github.com/cornjacket/quote-service/internal/shared/domain/quote"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is an in-memory Store with the same optimistic concurrency
// contract as the Postgres implementation.
type memStore struct {
	mu     sync.Mutex
	quotes map[uuid.UUID]*model.Quote
	events []*events.Envelope
	seq    int64

	// interfere, if set, runs before every Update outside the lock.
	interfere func(id uuid.UUID)
	createErr error
	listErr   error
}

func newMemStore() *memStore {
	return &memStore{quotes: make(map[uuid.UUID]*model.Quote)}
}

func (s *memStore) NextNumber(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return 0, s.createErr
	}
	s.seq++
	return s.seq, nil
}

func (s *memStore) Create(ctx context.Context, q *model.Quote, event *events.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.quotes[q.ID] = q.Clone()
	s.events = append(s.events, event)
	return nil
}

func (s *memStore) Get(ctx context.Context, id uuid.UUID) (*model.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quotes[id]
	if !ok {
		return nil, apperr.NotFound("quote not found")
	}
	return q.Clone(), nil
}

func (s *memStore) GetByNumber(ctx context.Context, number string) (*model.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, q := range s.quotes {
		if q.Number == number {
			return q.Clone(), nil
		}
	}
	return nil, apperr.NotFound("quote not found")
}

func (s *memStore) Update(ctx context.Context, q *model.Quote, expectedVersion int64, event *events.Envelope) error {
	if s.interfere != nil {
		s.interfere(q.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.quotes[q.ID]
	if !ok {
		return apperr.NotFound("quote not found")
	}
	if current.Version != expectedVersion {
		return model.ErrStaleVersion
	}
	stored := q.Clone()
	stored.Version = expectedVersion + 1
	s.quotes[q.ID] = stored
	if event != nil {
		s.events = append(s.events, event)
	}
	q.Version = expectedVersion + 1
	return nil
}

func (s *memStore) List(ctx context.Context, filter model.ListFilter) ([]*model.Quote, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, 0, s.listErr
	}
	var matched []*model.Quote
	for _, q := range s.quotes {
		if filter.Status != "" && q.Status != filter.Status {
			continue
		}
		if filter.CustomerID != "" && q.Customer.ID != filter.CustomerID {
			continue
		}
		matched = append(matched, q.Clone())
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	total := len(matched)
	if filter.Offset >= total {
		return nil, total, nil
	}
	end := min(filter.Offset+filter.Limit, total)
	return matched[filter.Offset:end], total, nil
}

func (s *memStore) CountByStatus(ctx context.Context) (map[model.Status]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[model.Status]int)
	for _, q := range s.quotes {
		counts[q.Status]++
	}
	return counts, nil
}

func (s *memStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uuid.UUID
	for id, q := range s.quotes {
		if q.IsExpired(now) && len(ids) < limit {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *memStore) ListStalled(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uuid.UUID
	for id, q := range s.quotes {
		if len(ids) >= limit || q.Status.IsTerminal() || q.Status == model.StatusPriced {
			continue
		}
		if q.UpdatedAt.Before(before) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// put stores q as-is, without an event.
func (s *memStore) put(q *model.Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[q.ID] = q.Clone()
}

func (s *memStore) eventsFor(id uuid.UUID) []*events.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*events.Envelope
	for _, e := range s.events {
		if e.QuoteID == id {
			out = append(out, e)
		}
	}
	return out
}

func (s *memStore) eventTypes(id uuid.UUID) []string {
	var types []string
	for _, e := range s.eventsFor(id) {
		types = append(types, e.Type)
	}
	return types
}

func (s *memStore) mustGet(t *testing.T, id uuid.UUID) *model.Quote {
	t.Helper()
	q, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	return q
}

// mockCatalog implements CatalogClient for testing.
type mockCatalog struct {
	GetProductFn func(ctx context.Context, sku string) (*catalog.ProductSpec, error)
}

func (m *mockCatalog) GetProduct(ctx context.Context, sku string) (*catalog.ProductSpec, error) {
	return m.GetProductFn(ctx, sku)
}

// mockConfiguration implements ConfigurationClient for testing.
type mockConfiguration struct {
	ValidateFn func(ctx context.Context, items []model.LineItem) (*model.ValidationResult, error)
}

func (m *mockConfiguration) Validate(ctx context.Context, items []model.LineItem) (*model.ValidationResult, error) {
	return m.ValidateFn(ctx, items)
}

// mockPricing implements PricingClient for testing.
type mockPricing struct {
	PriceFn func(ctx context.Context, req pricing.Request) (*model.PriceQuote, error)
}

func (m *mockPricing) Price(ctx context.Context, req pricing.Request) (*model.PriceQuote, error) {
	return m.PriceFn(ctx, req)
}

// mockIdempotency implements IdempotencyStore for testing.
type mockIdempotency struct {
	ReserveFn  func(ctx context.Context, key string) (string, bool, error)
	CompleteFn func(ctx context.Context, key, quoteID string) error
	ReleaseFn  func(ctx context.Context, key string) error
}

func (m *mockIdempotency) Reserve(ctx context.Context, key string) (string, bool, error) {
	return m.ReserveFn(ctx, key)
}

func (m *mockIdempotency) Complete(ctx context.Context, key, quoteID string) error {
	return m.CompleteFn(ctx, key, quoteID)
}

func (m *mockIdempotency) Release(ctx context.Context, key string) error {
	return m.ReleaseFn(ctx, key)
}

// recordingEnqueuer implements Enqueuer and remembers what it was given.
type recordingEnqueuer struct {
	mu   sync.Mutex
	ids  []uuid.UUID
	full bool
}

func (e *recordingEnqueuer) Enqueue(ctx context.Context, id uuid.UUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.full {
		return false
	}
	e.ids = append(e.ids, id)
	return true
}

func (e *recordingEnqueuer) enqueued() []uuid.UUID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]uuid.UUID(nil), e.ids...)
}

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func newTestDriver(store Store, cat CatalogClient, conf ConfigurationClient, pri PricingClient) *Driver {
	return NewDriver(store, cat, conf, pri, 5, DriverConfig{
		WorkerCount:          2,
		QueueSize:            16,
		Retry:                fastRetry(),
		CatalogTimeout:       time.Second,
		ConfigurationTimeout: time.Second,
		PricingTimeout:       time.Second,
		CatalogConcurrency:   2,
	}, testLogger())
}

func acceptAll() *mockConfiguration {
	return &mockConfiguration{
		ValidateFn: func(ctx context.Context, items []model.LineItem) (*model.ValidationResult, error) {
			return &model.ValidationResult{OK: true, Violations: []string{}}, nil
		},
	}
}

func testPrice() *model.PriceQuote {
	return &model.PriceQuote{
		Amount:   decimal.NewFromInt(500),
		Currency: "USD",
		Breakdown: []model.PriceLine{
			{SKU: "SW-100", UnitPrice: decimal.NewFromInt(250), Quantity: 2},
		},
	}
}

func priceAt500() *mockPricing {
	return &mockPricing{
		PriceFn: func(ctx context.Context, req pricing.Request) (*model.PriceQuote, error) {
			return testPrice(), nil
		},
	}
}

// typedCatalog answers every lookup with a switch product.
func typedCatalog() *mockCatalog {
	return &mockCatalog{
		GetProductFn: func(ctx context.Context, sku string) (*catalog.ProductSpec, error) {
			return &catalog.ProductSpec{SKU: sku, Name: "Switch " + sku, Type: "SWITCH"}, nil
		},
	}
}

func validCreateRequest() *CreateQuoteRequest {
	return &CreateQuoteRequest{
		Items:         []LineItemRequest{{SKU: "SW-100", Quantity: 2}},
		CustomerID:    "cust-1",
		CustomerEmail: "buyer@example.com",
		CustomerTier:  model.TierPartner,
	}
}

var seedPaths = map[model.Status][]model.Status{
	model.StatusDraft:      {},
	model.StatusValidating: {model.StatusValidating},
	model.StatusValidated:  {model.StatusValidating, model.StatusValidated},
	model.StatusPricing:    {model.StatusValidating, model.StatusValidated, model.StatusPricing},
	model.StatusPriced:     {model.StatusValidating, model.StatusValidated, model.StatusPricing, model.StatusPriced},
	model.StatusConfirmed:  {model.StatusValidating, model.StatusValidated, model.StatusPricing, model.StatusPriced, model.StatusConfirmed},
	model.StatusExpired:    {model.StatusValidating, model.StatusValidated, model.StatusPricing, model.StatusPriced, model.StatusExpired},
	model.StatusFailed:     {model.StatusValidating, model.StatusFailed},
	model.StatusCancelled:  {model.StatusCancelled},
}

// seedQuote stores a quote that has legally walked to target, one version per step.
func seedQuote(t *testing.T, store *memStore, target model.Status) *model.Quote {
	t.Helper()
	now := clock.Now()
	q, err := model.New(
		[]model.LineItem{{SKU: "SW-100", Quantity: 2}},
		model.Customer{ID: "cust-1", Email: "buyer@example.com"},
		model.PricingOptions{},
		now,
		time.Hour,
	)
	require.NoError(t, err)
	seq, err := store.NextNumber(context.Background())
	require.NoError(t, err)
	q.Number = model.FormatNumber(now, seq)

	for _, s := range seedPaths[target] {
		switch s {
		case model.StatusValidated:
			err = q.MarkValidated(model.ValidationResult{OK: true, Violations: []string{}}, now)
		case model.StatusPriced:
			err = q.MarkPriced(*testPrice(), now)
		case model.StatusFailed:
			err = q.MarkFailed("seeded failure", now)
		default:
			err = q.Transition(s, now)
		}
		require.NoError(t, err)
		q.Version++
	}
	require.NoError(t, q.CheckInvariants())
	store.put(q)
	return q
}

// useManualClock pins the package clock for the duration of the test.
func useManualClock(t *testing.T) *clock.ManualClock {
	t.Helper()
	c := clock.NewManual(time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC))
	clock.Set(c)
	t.Cleanup(clock.Reset)
	return c
}
