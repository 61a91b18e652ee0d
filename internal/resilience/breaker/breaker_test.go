package breaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("dependency down")

func failing(ctx context.Context) error { return errBoom }
func succeeding(ctx context.Context) error { return nil }

// newTestBreaker returns a breaker with a controllable clock.
func newTestBreaker(cfg Config) (*Breaker, *time.Time) {
	b := New(cfg)
	now := time.Unix(1700000000, 0)
	b.now = func() time.Time { return now }
	return b, &now
}

func TestOpensAfterFailureThreshold(t *testing.T) {
	b, _ := newTestBreaker(Config{Name: "video-info", FailureThreshold: 3})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_ = b.Do(ctx, failing)
		if got := b.State(); got != StateClosed {
			t.Fatalf("after %d failures state = %s, want closed", i+1, got)
		}
	}

	_ = b.Do(ctx, failing)
	if got := b.State(); got != StateOpen {
		t.Fatalf("after threshold failures state = %s, want open", got)
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(Config{Name: "video-info", FailureThreshold: 3})
	ctx := context.Background()

	_ = b.Do(ctx, failing)
	_ = b.Do(ctx, failing)
	_ = b.Do(ctx, succeeding)
	_ = b.Do(ctx, failing)
	_ = b.Do(ctx, failing)

	if got := b.State(); got != StateClosed {
		t.Fatalf("state = %s, want closed (success should reset the count)", got)
	}
}

func TestOpenRejectsWithoutInvoking(t *testing.T) {
	b, _ := newTestBreaker(Config{Name: "video-info", FailureThreshold: 1, ResetTimeout: time.Minute})
	ctx := context.Background()

	_ = b.Do(ctx, failing)

	invoked := false
	err := b.Do(ctx, func(ctx context.Context) error {
		invoked = true
		return nil
	})

	var openErr *OpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("err = %v, want *OpenError", err)
	}
	if invoked {
		t.Error("wrapped operation must not run while open")
	}
	if openErr.Name != "video-info" {
		t.Errorf("OpenError.Name = %q, want video-info", openErr.Name)
	}
	if openErr.RetryAfter <= 0 || openErr.RetryAfter > time.Minute {
		t.Errorf("OpenError.RetryAfter = %s, want within (0, 1m]", openErr.RetryAfter)
	}
}

func TestHalfOpenAfterResetTimeout(t *testing.T) {
	b, now := newTestBreaker(Config{
		Name:             "video-info",
		FailureThreshold: 1,
		ResetTimeout:     30 * time.Second,
		SuccessThreshold: 2,
	})
	ctx := context.Background()

	_ = b.Do(ctx, failing)
	if b.State() != StateOpen {
		t.Fatal("expected open")
	}

	// Before the timeout: still rejecting.
	*now = now.Add(29 * time.Second)
	if err := b.Do(ctx, succeeding); err == nil {
		t.Fatal("expected rejection before reset timeout")
	}

	// After the timeout: probe allowed, first success keeps half-open.
	*now = now.Add(2 * time.Second)
	if err := b.Do(ctx, succeeding); err != nil {
		t.Fatalf("probe call failed: %v", err)
	}
	if got := b.State(); got != StateHalfOpen {
		t.Fatalf("state = %s, want half_open after first probe success", got)
	}

	// Second success closes.
	if err := b.Do(ctx, succeeding); err != nil {
		t.Fatalf("probe call failed: %v", err)
	}
	if got := b.State(); got != StateClosed {
		t.Fatalf("state = %s, want closed after success threshold", got)
	}
}

func TestHalfOpenFailureReopensImmediately(t *testing.T) {
	b, now := newTestBreaker(Config{
		Name:             "video-info",
		FailureThreshold: 3,
		ResetTimeout:     10 * time.Second,
		SuccessThreshold: 2,
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Do(ctx, failing)
	}
	*now = now.Add(11 * time.Second)

	// Single probe failure reopens; it does not take a full threshold.
	_ = b.Do(ctx, failing)
	if got := b.State(); got != StateOpen {
		t.Fatalf("state = %s, want open after failed probe", got)
	}

	// And the reopened circuit rejects again.
	var openErr *OpenError
	if err := b.Do(ctx, succeeding); !errors.As(err, &openErr) {
		t.Fatalf("err = %v, want *OpenError after reopen", err)
	}
}

func TestClosedAfterRecoveryResetsFailures(t *testing.T) {
	b, now := newTestBreaker(Config{
		Name:             "video-info",
		FailureThreshold: 2,
		ResetTimeout:     5 * time.Second,
		SuccessThreshold: 1,
	})
	ctx := context.Background()

	_ = b.Do(ctx, failing)
	_ = b.Do(ctx, failing)
	*now = now.Add(6 * time.Second)
	_ = b.Do(ctx, succeeding)

	if b.State() != StateClosed {
		t.Fatal("expected closed after recovery")
	}

	// Failure count restarted: one failure must not re-open.
	_ = b.Do(ctx, failing)
	if got := b.State(); got != StateClosed {
		t.Fatalf("state = %s, want closed (failure count should be fresh)", got)
	}
}

func TestReset(t *testing.T) {
	b, _ := newTestBreaker(Config{Name: "video-info", FailureThreshold: 1})
	ctx := context.Background()

	_ = b.Do(ctx, failing)
	if b.State() != StateOpen {
		t.Fatal("expected open")
	}

	b.Reset()
	if got := b.State(); got != StateClosed {
		t.Fatalf("state after Reset = %s, want closed", got)
	}
	if err := b.Do(ctx, succeeding); err != nil {
		t.Fatalf("call after Reset failed: %v", err)
	}
}

func TestInstancesAreIndependent(t *testing.T) {
	a := New(Config{Name: "video-info", FailureThreshold: 1})
	c := New(Config{Name: "push-gateway", FailureThreshold: 1})
	ctx := context.Background()

	_ = a.Do(ctx, failing)

	if a.State() != StateOpen {
		t.Error("first breaker should be open")
	}
	if c.State() != StateClosed {
		t.Error("second breaker must not share state with the first")
	}
}

func TestErrorsPassThroughUnwrapped(t *testing.T) {
	b := New(Config{Name: "video-info"})
	err := b.Do(context.Background(), failing)
	if !errors.Is(err, errBoom) {
		t.Fatalf("err = %v, want the operation's own error", err)
	}
}

func TestDefaults(t *testing.T) {
	b := New(Config{})
	if b.cfg.FailureThreshold != defaultFailureThreshold ||
		b.cfg.ResetTimeout != defaultResetTimeout ||
		b.cfg.SuccessThreshold != defaultSuccessThreshold {
		t.Errorf("defaults not applied: %+v", b.cfg)
	}
}
