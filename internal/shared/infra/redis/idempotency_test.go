package redis

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, ttl time.Duration) (*IdempotencyStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewIdempotencyStore(client, ttl, slog.New(slog.NewTextHandler(io.Discard, nil))), mr
}

func TestIdempotencyStore_Lifecycle(t *testing.T) {
	store, mr := newTestStore(t, 24*time.Hour)
	ctx := context.Background()

	existing, reserved, err := store.Reserve(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, reserved)
	assert.Empty(t, existing)

	// Second request while the first is running.
	existing, reserved, err = store.Reserve(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, reserved)
	assert.Empty(t, existing)

	require.NoError(t, store.Complete(ctx, "abc", "0192a0c4-0000-7000-8000-000000000001"))

	existing, reserved, err = store.Reserve(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, reserved)
	assert.Equal(t, "0192a0c4-0000-7000-8000-000000000001", existing)

	assert.Equal(t, 24*time.Hour, mr.TTL(keyPrefix+"abc"))
}

func TestIdempotencyStore_ReleaseAllowsRetry(t *testing.T) {
	store, _ := newTestStore(t, time.Hour)
	ctx := context.Background()

	_, reserved, err := store.Reserve(ctx, "k")
	require.NoError(t, err)
	require.True(t, reserved)

	require.NoError(t, store.Release(ctx, "k"))

	_, reserved, err = store.Reserve(ctx, "k")
	require.NoError(t, err)
	assert.True(t, reserved)
}

func TestIdempotencyStore_PendingReservationExpires(t *testing.T) {
	store, mr := newTestStore(t, time.Hour)
	ctx := context.Background()

	_, reserved, err := store.Reserve(ctx, "k")
	require.NoError(t, err)
	require.True(t, reserved)
	assert.Equal(t, defaultPendingTTL, mr.TTL(keyPrefix+"k"))

	mr.FastForward(defaultPendingTTL + time.Second)

	_, reserved, err = store.Reserve(ctx, "k")
	require.NoError(t, err)
	assert.True(t, reserved, "an abandoned reservation must not block forever")
}

func TestIdempotencyStore_RedisDown(t *testing.T) {
	store, mr := newTestStore(t, time.Hour)
	mr.Close()

	_, _, err := store.Reserve(context.Background(), "k")
	assert.Error(t, err)
}
