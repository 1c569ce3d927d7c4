// Package cache wraps the Redis client used for idempotency keys.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// New creates a Redis client and checks it answers.
func New(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cache: ping: %w", err)
	}

	return client, nil
}

// ErrIdempotencyConflict indicates the key was already used.
var ErrIdempotencyConflict = errors.New("idempotency key already used")

// IdempotencyStore reserves Idempotency-Key values in Redis with a TTL.
type IdempotencyStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewIdempotencyStore(client *redis.Client, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyStore{client: client, ttl: ttl, prefix: "procurement:idem:"}
}

// CheckAndInsert reserves key within scope. Returns ErrIdempotencyConflict
// if it is already reserved.
func (s *IdempotencyStore) CheckAndInsert(ctx context.Context, key, scope string) error {
	ok, err := s.client.SetNX(ctx, s.key(key, scope), time.Now().UTC().Format(time.RFC3339), s.ttl).Result()
	if err != nil {
		return fmt.Errorf("cache: reserve idempotency key: %w", err)
	}
	if !ok {
		return ErrIdempotencyConflict
	}
	return nil
}

// Delete releases a reservation so the caller can retry after a failure
// that changed nothing.
func (s *IdempotencyStore) Delete(ctx context.Context, key, scope string) error {
	if err := s.client.Del(ctx, s.key(key, scope)).Err(); err != nil {
		return fmt.Errorf("cache: release idempotency key: %w", err)
	}
	return nil
}

func (s *IdempotencyStore) key(key, scope string) string {
	return s.prefix + scope + ":" + key
}
