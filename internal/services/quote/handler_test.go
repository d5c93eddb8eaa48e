package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	model "github.com/cornjacket/quote-service/internal/shared/domain/quote"
	"github.com/cornjacket/quote-service/internal/shared/httpx"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func newTestMux(store *memStore, limiter *httpx.IPRateLimiter) *http.ServeMux {
	svc := newTestService(store, &recordingEnqueuer{}, nil)
	handler := NewHandler(svc, pingerFunc(func(ctx context.Context) error { return nil }), testLogger())
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux, limiter)
	return mux
}

func doRequest(mux http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func TestHandleCreate_Accepted(t *testing.T) {
	for _, prefix := range routePrefixes {
		t.Run(prefix, func(t *testing.T) {
			store := newMemStore()
			mux := newTestMux(store, nil)

			w := doRequest(mux, http.MethodPost, prefix, `{"items":[{"sku":"SW-100","quantity":2}],"customerTier":"ENTERPRISE"}`)

			assert.Equal(t, http.StatusAccepted, w.Code)
			var resp CreateQuoteResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, model.StatusDraft, resp.Status)
			assert.Equal(t, "/quotes/"+resp.QuoteID, w.Header().Get("Location"))
			assert.Len(t, store.quotes, 1)
		})
	}
}

func TestHandleCreate_BadJSON(t *testing.T) {
	mux := newTestMux(newMemStore(), nil)

	w := doRequest(mux, http.MethodPost, "/quotes", `{not json`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Validation", decodeError(t, w).Error)
}

func TestHandleCreate_ValidationDetails(t *testing.T) {
	mux := newTestMux(newMemStore(), nil)

	w := doRequest(mux, http.MethodPost, "/quotes", `{"items":[{"sku":"","quantity":0}]}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeError(t, w)
	details, ok := resp.Details.([]any)
	require.True(t, ok)
	assert.Len(t, details, 2)
}

func TestHandleCreate_RateLimited(t *testing.T) {
	limiter := httpx.NewIPRateLimiter(rate.Limit(0.001), 1, testLogger())
	mux := newTestMux(newMemStore(), limiter)
	body := `{"items":[{"sku":"SW-100","quantity":1}]}`

	first := doRequest(mux, http.MethodPost, "/quotes", body)
	second := doRequest(mux, http.MethodPost, "/quotes", body)

	assert.Equal(t, http.StatusAccepted, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)

	// Reads are never limited.
	assert.Equal(t, http.StatusOK, doRequest(mux, http.MethodGet, "/quotes", "").Code)
}

func TestHandleGet(t *testing.T) {
	store := newMemStore()
	mux := newTestMux(store, nil)
	q := seedQuote(t, store, model.StatusPriced)

	w := doRequest(mux, http.MethodGet, "/api/v1/quotes/"+q.ID.String(), "")
	require.Equal(t, http.StatusOK, w.Code)

	var got map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, q.ID.String(), got["id"])
	assert.Equal(t, "PRICED", got["status"])
	assert.Equal(t, q.Number, got["quoteNumber"])
	price := got["priceQuote"].(map[string]any)
	assert.Equal(t, "500", price["amount"])
}

func TestHandleGetByNumber(t *testing.T) {
	store := newMemStore()
	mux := newTestMux(store, nil)
	seedQuote(t, store, model.StatusDraft)
	q := seedQuote(t, store, model.StatusPriced)

	for _, prefix := range []string{"/quotes", "/api/v1/quotes"} {
		w := doRequest(mux, http.MethodGet, prefix+"/by-number/"+q.Number, "")
		require.Equal(t, http.StatusOK, w.Code, prefix)

		var got model.Quote
		require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
		assert.Equal(t, q.ID, got.ID)
		assert.Equal(t, q.Number, got.Number)
	}

	w := doRequest(mux, http.MethodGet, "/quotes/by-number/QT-19700101-99999", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(mux, http.MethodGet, "/quotes/by-number/not-a-number", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Validation", decodeError(t, w).Error)
}

func TestHandleGet_Errors(t *testing.T) {
	mux := newTestMux(newMemStore(), nil)

	w := doRequest(mux, http.MethodGet, "/quotes/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(mux, http.MethodGet, "/quotes/"+uuid.Must(uuid.NewV7()).String(), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NotFound", decodeError(t, w).Error)
}

func TestHandleConfirm(t *testing.T) {
	tests := []struct {
		name       string
		status     model.Status
		body       func(q *model.Quote) string
		wantStatus int
	}{
		{
			name:       "confirms priced quote",
			status:     model.StatusPriced,
			body:       func(q *model.Quote) string { return fmt.Sprintf(`{"expectedVersion":%d}`, q.Version) },
			wantStatus: http.StatusOK,
		},
		{
			name:       "stale version",
			status:     model.StatusPriced,
			body:       func(q *model.Quote) string { return fmt.Sprintf(`{"expectedVersion":%d}`, q.Version-1) },
			wantStatus: http.StatusConflict,
		},
		{
			name:       "not priced",
			status:     model.StatusFailed,
			body:       func(q *model.Quote) string { return fmt.Sprintf(`{"expectedVersion":%d}`, q.Version) },
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "expired with stale version",
			status:     model.StatusExpired,
			body:       func(q *model.Quote) string { return fmt.Sprintf(`{"expectedVersion":%d}`, q.Version-1) },
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "missing version",
			status:     model.StatusPriced,
			body:       func(q *model.Quote) string { return `{}` },
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			mux := newTestMux(store, nil)
			q := seedQuote(t, store, tt.status)

			w := doRequest(mux, http.MethodPost, "/quotes/"+q.ID.String()+"/confirm", tt.body(q))
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestHandleCancel(t *testing.T) {
	store := newMemStore()
	mux := newTestMux(store, nil)
	q := seedQuote(t, store, model.StatusValidating)

	w := doRequest(mux, http.MethodPost, "/quotes/"+q.ID.String()+"/cancel", fmt.Sprintf(`{"expectedVersion":%d}`, q.Version))
	require.Equal(t, http.StatusOK, w.Code)

	var got model.Quote
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, model.StatusCancelled, got.Status)
	assert.Equal(t, q.Version+1, got.Version)

	// Cancelling twice is an invalid transition.
	w = doRequest(mux, http.MethodPost, "/quotes/"+q.ID.String()+"/cancel", fmt.Sprintf(`{"expectedVersion":%d}`, got.Version))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestHandleCancel_StaleVersionIs409InvalidTransition(t *testing.T) {
	store := newMemStore()
	mux := newTestMux(store, nil)
	q := seedQuote(t, store, model.StatusPricing)

	w := doRequest(mux, http.MethodPost, "/quotes/"+q.ID.String()+"/cancel", fmt.Sprintf(`{"expectedVersion":%d}`, q.Version-1))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "InvalidTransition", decodeError(t, w).Error)
	assert.Equal(t, model.StatusPricing, store.mustGet(t, q.ID).Status)
}

func TestHandleList(t *testing.T) {
	store := newMemStore()
	mux := newTestMux(store, nil)
	seedQuote(t, store, model.StatusPriced)
	seedQuote(t, store, model.StatusDraft)

	w := doRequest(mux, http.MethodGet, "/quotes?status=PRICED&limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp ListResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, 5, resp.Limit)

	assert.Equal(t, http.StatusBadRequest, doRequest(mux, http.MethodGet, "/quotes?limit=ten", "").Code)
	assert.Equal(t, http.StatusBadRequest, doRequest(mux, http.MethodGet, "/quotes?status=SHIPPED", "").Code)
}

func TestHandleList_StoreError(t *testing.T) {
	store := newMemStore()
	store.listErr = errors.New("connection reset")
	mux := newTestMux(store, nil)

	w := doRequest(mux, http.MethodGet, "/quotes", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal error", decodeError(t, w).Message)
}

func TestHandleStats(t *testing.T) {
	store := newMemStore()
	mux := newTestMux(store, nil)
	seedQuote(t, store, model.StatusPriced)

	w := doRequest(mux, http.MethodGet, "/quotes/stats", "")
	require.Equal(t, http.StatusOK, w.Code)

	var stats map[string]int
	require.NoError(t, json.NewDecoder(w.Body).Decode(&stats))
	assert.Equal(t, 1, stats["PRICED"])
	assert.Equal(t, 0, stats["DRAFT"])
}

func TestHandleHealth(t *testing.T) {
	svc := newTestService(newMemStore(), &recordingEnqueuer{}, nil)

	healthy := NewHandler(svc, pingerFunc(func(ctx context.Context) error { return nil }), testLogger())
	w := httptest.NewRecorder()
	healthy.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "healthy", resp["status"])

	down := NewHandler(svc, pingerFunc(func(ctx context.Context) error { return errors.New("no route to host") }), testLogger())
	w = httptest.NewRecorder()
	down.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRoutes_MethodNotAllowed(t *testing.T) {
	mux := newTestMux(newMemStore(), nil)

	w := doRequest(mux, http.MethodDelete, "/quotes", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
