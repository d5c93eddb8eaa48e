// Package httpx provides net/http middleware shared by the service's HTTP surfaces.
package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/cornjacket/quote-service/internal/shared/correlation"
)

// Chain applies middlewares so the first one listed runs outermost.
func Chain(h http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// CorrelationID accepts X-Correlation-ID from the caller or generates one,
// stores it in the request context and echoes it on the response.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(correlation.Header))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(correlation.Header, id)
		next.ServeHTTP(w, r.WithContext(correlation.WithID(r.Context(), id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// RequestLogger logs each request with its status and latency.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"latency_ms", time.Since(start).Milliseconds(),
				"remote_ip", RemoteIP(r),
				"correlation_id", correlation.FromContext(r.Context()),
			)
		})
	}
}

// TrustedProxies lists the peers allowed to report a client address in
// X-Forwarded-For.
type TrustedProxies []netip.Prefix

// ParseTrustedProxies accepts bare addresses and CIDR prefixes.
func ParseTrustedProxies(entries []string) (TrustedProxies, error) {
	var out TrustedProxies
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", e, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", e, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

func (t TrustedProxies) contains(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range t {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP returns the address the request is attributed to. X-Forwarded-For
// is only read when the direct peer is trusted; hops are walked right to left
// and the first untrusted one wins.
func (t TrustedProxies) ClientIP(r *http.Request) string {
	peer := RemoteIP(r)
	if !t.contains(peer) {
		return peer
	}
	fwd := r.Header.Values("X-Forwarded-For")
	if len(fwd) == 0 {
		return peer
	}
	hops := strings.Split(strings.Join(fwd, ","), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if _, err := netip.ParseAddr(hop); err != nil {
			return peer
		}
		if !t.contains(hop) {
			return hop
		}
	}
	return strings.TrimSpace(hops[0])
}

// RemoteIP is the host part of the direct peer address.
func RemoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanos
}

// IPRateLimiter manages per-IP token buckets. Buckets idle for longer than
// the idle TTL are dropped by Run.
type IPRateLimiter struct {
	limiters sync.Map // string -> *limiterEntry
	rate     rate.Limit
	burst    int
	trusted  TrustedProxies
	idleTTL  time.Duration
	logger   *slog.Logger
}

// LimiterOption configures an IPRateLimiter.
type LimiterOption func(*IPRateLimiter)

// WithTrustedProxies lets the listed peers forward the client address.
func WithTrustedProxies(t TrustedProxies) LimiterOption {
	return func(i *IPRateLimiter) { i.trusted = t }
}

// WithIdleTTL sets how long an unused bucket is kept.
func WithIdleTTL(d time.Duration) LimiterOption {
	return func(i *IPRateLimiter) {
		if d > 0 {
			i.idleTTL = d
		}
	}
}

// NewIPRateLimiter creates an IP-based rate limiter.
func NewIPRateLimiter(r rate.Limit, burst int, logger *slog.Logger, opts ...LimiterOption) *IPRateLimiter {
	i := &IPRateLimiter{rate: r, burst: burst, idleTTL: 10 * time.Minute, logger: logger}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func (i *IPRateLimiter) getLimiter(ip string) *rate.Limiter {
	v, ok := i.limiters.Load(ip)
	if !ok {
		v, _ = i.limiters.LoadOrStore(ip, &limiterEntry{limiter: rate.NewLimiter(i.rate, i.burst)})
	}
	e := v.(*limiterEntry)
	e.lastSeen.Store(time.Now().UnixNano())
	return e.limiter
}

// Len reports how many buckets are held.
func (i *IPRateLimiter) Len() int {
	n := 0
	i.limiters.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// evictIdle drops buckets not used since now minus the idle TTL.
func (i *IPRateLimiter) evictIdle(now time.Time) int {
	cutoff := now.Add(-i.idleTTL).UnixNano()
	evicted := 0
	i.limiters.Range(func(k, v any) bool {
		if v.(*limiterEntry).lastSeen.Load() < cutoff {
			i.limiters.Delete(k)
			evicted++
		}
		return true
	})
	return evicted
}

// Run evicts idle buckets every half idle TTL until ctx is done.
func (i *IPRateLimiter) Run(ctx context.Context) error {
	ticker := time.NewTicker(max(i.idleTTL/2, time.Millisecond))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if n := i.evictIdle(now); n > 0 && i.logger != nil {
				i.logger.Debug("evicted idle rate limiters", "count", n)
			}
		}
	}
}

// Limit wraps next, answering 429 once a client exceeds its budget.
func (i *IPRateLimiter) Limit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := i.trusted.ClientIP(r)
		if !i.getLimiter(ip).Allow() {
			if i.logger != nil {
				i.logger.Warn("rate limit exceeded", "client_ip", ip, "path", r.URL.Path)
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
			return
		}
		next(w, r)
	}
}
