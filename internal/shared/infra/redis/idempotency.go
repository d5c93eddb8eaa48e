// Package redis holds the Redis-backed stores.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	keyPrefix     = "quote:idem:"
	pendingMarker = "pending"

	// A reservation whose request died is released after this long.
	defaultPendingTTL = 30 * time.Second
)

// NewClient connects to the Redis instance at url (redis:// or rediss://).
func NewClient(ctx context.Context, url string) (*goredis.Client, error) {
	opt, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := goredis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// IdempotencyStore maps Idempotency-Key values to the quote they created.
type IdempotencyStore struct {
	client     goredis.Cmdable
	ttl        time.Duration
	pendingTTL time.Duration
	logger     *slog.Logger
}

// NewIdempotencyStore creates a store that remembers completed keys for ttl.
func NewIdempotencyStore(client goredis.Cmdable, ttl time.Duration, logger *slog.Logger) *IdempotencyStore {
	pendingTTL := defaultPendingTTL
	if ttl < pendingTTL {
		pendingTTL = ttl
	}
	return &IdempotencyStore{
		client:     client,
		ttl:        ttl,
		pendingTTL: pendingTTL,
		logger:     logger.With("repository", "idempotency"),
	}
}

// Reserve claims key for a new request. If the key is taken, existingID is
// the quote it produced, or empty while that request is still in flight.
func (s *IdempotencyStore) Reserve(ctx context.Context, key string) (string, bool, error) {
	ok, err := s.client.SetNX(ctx, keyPrefix+key, pendingMarker, s.pendingTTL).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to reserve idempotency key: %w", err)
	}
	if ok {
		return "", true, nil
	}

	val, err := s.client.Get(ctx, keyPrefix+key).Result()
	if errors.Is(err, goredis.Nil) {
		// Expired between SETNX and GET; the caller may simply retry.
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read idempotency key: %w", err)
	}
	if val == pendingMarker {
		return "", false, nil
	}

	s.logger.Debug("idempotency key hit", "quote_id", val)
	return val, false, nil
}

// Complete records the quote produced for key.
func (s *IdempotencyStore) Complete(ctx context.Context, key, quoteID string) error {
	if err := s.client.Set(ctx, keyPrefix+key, quoteID, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to complete idempotency key: %w", err)
	}
	return nil
}

// Release forgets a reservation whose request failed, so the client can retry.
func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}
