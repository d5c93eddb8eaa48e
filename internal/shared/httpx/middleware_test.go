package httpx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/cornjacket/quote-service/internal/shared/correlation"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCorrelationID_Generated(t *testing.T) {
	var seen string
	h := CorrelationID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = correlation.FromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/quotes", nil))

	_, err := uuid.Parse(seen)
	assert.NoError(t, err, "generated id should be a uuid")
	assert.Equal(t, seen, rec.Header().Get(correlation.Header))
}

func TestCorrelationID_Propagated(t *testing.T) {
	var seen string
	h := CorrelationID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = correlation.FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/quotes", nil)
	req.Header.Set(correlation.Header, "caller-supplied")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "caller-supplied", seen)
	assert.Equal(t, "caller-supplied", rec.Header().Get(correlation.Header))
}

func TestIPRateLimiter_Limit(t *testing.T) {
	limiter := NewIPRateLimiter(rate.Limit(0.001), 2, testLogger())
	h := limiter.Limit(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	send := func(ip string) int {
		req := httptest.NewRequest(http.MethodPost, "/quotes", nil)
		req.RemoteAddr = ip + ":5555"
		rec := httptest.NewRecorder()
		h(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusAccepted, send("10.0.0.1"))
	assert.Equal(t, http.StatusAccepted, send("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.1"))
	assert.Equal(t, http.StatusAccepted, send("10.0.0.2"), "other clients keep their own budget")
}

func TestClientIP(t *testing.T) {
	trusted, err := ParseTrustedProxies([]string{"10.0.0.0/8", "192.0.2.1"})
	require.NoError(t, err)

	tests := []struct {
		name   string
		remote string
		xff    string
		want   string
	}{
		{name: "no header", remote: "192.0.2.10:4000", want: "192.0.2.10"},
		{name: "untrusted peer header ignored", remote: "198.51.100.7:4000", xff: "203.0.113.5", want: "198.51.100.7"},
		{name: "trusted peer header honoured", remote: "10.1.2.3:4000", xff: "203.0.113.5", want: "203.0.113.5"},
		{name: "trusted hops skipped right to left", remote: "192.0.2.1:4000", xff: "198.51.100.9, 203.0.113.5, 10.0.0.4", want: "203.0.113.5"},
		{name: "garbage hop falls back to peer", remote: "10.1.2.3:4000", xff: "not-an-ip", want: "10.1.2.3"},
		{name: "all hops trusted", remote: "10.1.2.3:4000", xff: "10.9.9.9, 10.0.0.4", want: "10.9.9.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			assert.Equal(t, tt.want, trusted.ClientIP(req))
		})
	}
}

func TestParseTrustedProxies(t *testing.T) {
	got, err := ParseTrustedProxies([]string{" 10.0.0.0/8 ", "", "2001:db8::1"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = ParseTrustedProxies([]string{"10.0.0.0/99"})
	assert.Error(t, err)
	_, err = ParseTrustedProxies([]string{"proxy.internal"})
	assert.Error(t, err)
}

func TestIPRateLimiter_ForgedForwardedForIsIgnored(t *testing.T) {
	limiter := NewIPRateLimiter(rate.Limit(0.001), 1, testLogger())
	h := limiter.Limit(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	passed := 0
	for n := 0; n < 1000; n++ {
		req := httptest.NewRequest(http.MethodPost, "/quotes", nil)
		req.RemoteAddr = "198.51.100.7:5555"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.%d.%d", n/256, n%256))
		rec := httptest.NewRecorder()
		h(rec, req)
		if rec.Code == http.StatusAccepted {
			passed++
		}
	}

	assert.Equal(t, 1, passed, "a rotating header must not mint fresh budgets")
	assert.Equal(t, 1, limiter.Len())
}

func TestIPRateLimiter_TrustedProxyForwardsClient(t *testing.T) {
	trusted, err := ParseTrustedProxies([]string{"10.0.0.1"})
	require.NoError(t, err)
	limiter := NewIPRateLimiter(rate.Limit(0.001), 1, testLogger(), WithTrustedProxies(trusted))
	h := limiter.Limit(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	send := func(client string) int {
		req := httptest.NewRequest(http.MethodPost, "/quotes", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		req.Header.Set("X-Forwarded-For", client)
		rec := httptest.NewRecorder()
		h(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusAccepted, send("203.0.113.5"))
	assert.Equal(t, http.StatusTooManyRequests, send("203.0.113.5"))
	assert.Equal(t, http.StatusAccepted, send("203.0.113.6"))
}

func TestIPRateLimiter_EvictsIdleBuckets(t *testing.T) {
	limiter := NewIPRateLimiter(rate.Limit(1), 1, testLogger(), WithIdleTTL(time.Minute))
	for n := 0; n < 1000; n++ {
		limiter.getLimiter(fmt.Sprintf("192.0.%d.%d", n/256, n%256))
	}
	require.Equal(t, 1000, limiter.Len())

	assert.Equal(t, 0, limiter.evictIdle(time.Now()), "recently used buckets are kept")
	assert.Equal(t, 1000, limiter.evictIdle(time.Now().Add(2*time.Minute)))
	assert.Equal(t, 0, limiter.Len())
}

func TestIPRateLimiter_RunEvictsUntilCancelled(t *testing.T) {
	limiter := NewIPRateLimiter(rate.Limit(1), 1, testLogger(), WithIdleTTL(20*time.Millisecond))
	limiter.getLimiter("192.0.2.10")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- limiter.Run(ctx) }()

	assert.Eventually(t, func() bool { return limiter.Len() == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRequestLogger_RecordsStatus(t *testing.T) {
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}), CorrelationID, RequestLogger(testLogger()))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(correlation.Header))
}
