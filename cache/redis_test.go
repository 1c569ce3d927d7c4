package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestNew_Ping(t *testing.T) {
	mr, _ := setupRedis(t)

	client, err := New(context.Background(), mr.Addr())
	require.NoError(t, err)
	client.Close()

	_, err = New(context.Background(), "127.0.0.1:1")
	assert.Error(t, err)
}

func TestIdempotencyStore_CheckAndInsert(t *testing.T) {
	// GIVEN: A store with a one hour TTL
	mr, client := setupRedis(t)
	store := NewIdempotencyStore(client, time.Hour)
	ctx := context.Background()

	// WHEN: The same key is used twice in one scope
	require.NoError(t, store.CheckAndInsert(ctx, "k1", "pr-1"))
	err := store.CheckAndInsert(ctx, "k1", "pr-1")

	// THEN: The second use conflicts, other scopes are unaffected
	assert.ErrorIs(t, err, ErrIdempotencyConflict)
	assert.NoError(t, store.CheckAndInsert(ctx, "k1", "pr-2"))

	// AND: The key expires with the TTL
	mr.FastForward(61 * time.Minute)
	assert.NoError(t, store.CheckAndInsert(ctx, "k1", "pr-1"))
}

func TestIdempotencyStore_Delete(t *testing.T) {
	_, client := setupRedis(t)
	store := NewIdempotencyStore(client, 0)
	ctx := context.Background()

	require.NoError(t, store.CheckAndInsert(ctx, "k1", "pr-1"))
	require.NoError(t, store.Delete(ctx, "k1", "pr-1"))

	assert.NoError(t, store.CheckAndInsert(ctx, "k1", "pr-1"))
}
