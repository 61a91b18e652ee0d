package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vietddude/downlink/internal/resilience/idempotency"
)

// IdempotencyStore implements idempotency.Store on Redis. SET NX with a
// TTL is the linearizable conditional write the guard's create-if-absent
// step relies on; expiry is handled by Redis itself, so expired keys are
// simply gone.
type IdempotencyStore struct {
	rdb *redis.Client
}

// NewIdempotencyStore creates a store over c's connection.
func NewIdempotencyStore(c *Client) *IdempotencyStore {
	return &IdempotencyStore{rdb: c.rdb}
}

func idempotencyKey(key string) string {
	return fmt.Sprintf("idempotency:%s", key)
}

func (s *IdempotencyStore) PutIfAbsent(
	ctx context.Context,
	key string,
	rec idempotency.Record,
	ttl time.Duration,
) (bool, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("marshal record: %w", err)
	}

	ok, err := s.rdb.SetNX(ctx, idempotencyKey(key), payload, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx failed: %w", err)
	}
	return ok, nil
}

func (s *IdempotencyStore) Get(ctx context.Context, key string) (idempotency.Record, bool, error) {
	val, err := s.rdb.Get(ctx, idempotencyKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return idempotency.Record{}, false, nil
	}
	if err != nil {
		return idempotency.Record{}, false, fmt.Errorf("get failed: %w", err)
	}

	var rec idempotency.Record
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return idempotency.Record{}, false, fmt.Errorf("unmarshal record: %w", err)
	}
	return rec, true, nil
}

func (s *IdempotencyStore) Complete(
	ctx context.Context,
	key string,
	result json.RawMessage,
	ttl time.Duration,
) error {
	rec := idempotency.Record{
		Status:    idempotency.StatusCompleted,
		Result:    result,
		ExpiresAt: time.Now().Add(ttl),
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	if err := s.rdb.Set(ctx, idempotencyKey(key), payload, ttl).Err(); err != nil {
		return fmt.Errorf("set failed: %w", err)
	}
	return nil
}

func (s *IdempotencyStore) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, idempotencyKey(key)).Err(); err != nil {
		return fmt.Errorf("del failed: %w", err)
	}
	return nil
}
