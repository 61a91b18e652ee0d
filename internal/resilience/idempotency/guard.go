// Package idempotency ensures a logical operation identified by a
// caller-supplied key executes at most once within a time window, even
// when the transport redelivers the same request.
package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vietddude/downlink/internal/observe/metrics"
	"github.com/vietddude/downlink/internal/resilience/correlation"
)

// Status is the lifecycle state of a key's record.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Record is what the backing store holds per key. A record past
// ExpiresAt is treated as absent.
type Record struct {
	Status    Status          `json:"status"`
	Result    json.RawMessage `json:"result,omitempty"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Expired reports whether the record's window has elapsed at t.
func (r Record) Expired(t time.Time) bool {
	return !r.ExpiresAt.After(t)
}

// Store is the key-value backend. PutIfAbsent must be a linearizable
// conditional write (create-if-not-exists) so two concurrent deliveries
// of the same key cannot both win the race; everything else may be
// eventually consistent.
type Store interface {
	// PutIfAbsent creates rec under key with ttl and returns true, or
	// returns false when a live record already exists.
	PutIfAbsent(ctx context.Context, key string, rec Record, ttl time.Duration) (bool, error)

	// Get returns the record for key, reporting absence for missing or
	// expired keys.
	Get(ctx context.Context, key string) (Record, bool, error)

	// Complete marks key as completed with result, keeping ttl bounded.
	Complete(ctx context.Context, key string, result json.RawMessage, ttl time.Duration) error

	// Delete removes key. The store's own expiry makes this optional;
	// it exists for explicit cleanup.
	Delete(ctx context.Context, key string) error
}

// DuplicateError reports a concurrent in-flight execution of the same
// key. The caller's transport should redeliver later rather than block.
type DuplicateError struct {
	Key string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("operation for key %q already in flight", e.Key)
}

// Guard wraps a Store with the run-once protocol.
type Guard struct {
	store Store
	now   func() time.Time
}

// NewGuard creates a Guard over store.
func NewGuard(store Store) *Guard {
	return &Guard{store: store, now: time.Now}
}

// RunOnce executes op at most once for key within window. A completed
// unexpired key short-circuits to the stored result; a concurrent
// in-flight key fails fast with *DuplicateError; an expired record is
// treated as absent. On op failure the IN_PROGRESS record is left to
// expire naturally, which is crash-safe; Forget exists for callers
// wanting faster key reuse after a known failure.
func (g *Guard) RunOnce(
	ctx context.Context,
	key string,
	window time.Duration,
	op func(ctx context.Context) (json.RawMessage, error),
) (json.RawMessage, error) {
	log := correlation.Logger(ctx).With("idempotency_key", key)

	expiresAt := g.now().Add(window)
	rec := Record{Status: StatusInProgress, ExpiresAt: expiresAt}

	created, err := g.store.PutIfAbsent(ctx, key, rec, window)
	if err != nil {
		return nil, fmt.Errorf("idempotency create for %q: %w", key, err)
	}

	if !created {
		existing, found, err := g.store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("idempotency read for %q: %w", key, err)
		}

		switch {
		case found && existing.Status == StatusCompleted && !existing.Expired(g.now()):
			metrics.IdempotencyHits.WithLabelValues("replayed").Inc()
			log.Info("idempotent replay, returning stored result")
			return existing.Result, nil

		case found && !existing.Expired(g.now()):
			metrics.IdempotencyHits.WithLabelValues("in_flight").Inc()
			log.Warn("duplicate request while in flight")
			return nil, &DuplicateError{Key: key}

		default:
			// Record expired between the failed create and the read.
			// One more conditional create; losing again means a
			// concurrent caller took the key.
			created, err = g.store.PutIfAbsent(ctx, key, rec, window)
			if err != nil {
				return nil, fmt.Errorf("idempotency re-create for %q: %w", key, err)
			}
			if !created {
				metrics.IdempotencyHits.WithLabelValues("in_flight").Inc()
				return nil, &DuplicateError{Key: key}
			}
		}
	}

	metrics.IdempotencyHits.WithLabelValues("fresh").Inc()

	result, err := op(ctx)
	if err != nil {
		log.Warn("guarded operation failed, record left to expire", "error", err)
		return nil, err
	}

	ttl := expiresAt.Sub(g.now())
	if ttl <= 0 {
		// The window elapsed while the operation ran; nothing left to
		// record.
		return result, nil
	}
	if err := g.store.Complete(ctx, key, result, ttl); err != nil {
		return nil, fmt.Errorf("idempotency complete for %q: %w", key, err)
	}

	return result, nil
}

// Forget removes key so an identical request can run again before the
// window elapses. Trade-off versus leaving records to expire: one extra
// write for faster reuse.
func (g *Guard) Forget(ctx context.Context, key string) error {
	if err := g.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("idempotency delete for %q: %w", key, err)
	}
	return nil
}
