// Package breaker guards calls to flaky external dependencies. One
// Breaker instance is created per dependency and lives for the process;
// state is per-instance only, there is no cross-process coordination.
package breaker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/downlink/internal/observe/metrics"
)

// State is the circuit position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds per-instance settings. Zero fields take defaults.
type Config struct {
	Name             string
	FailureThreshold int
	ResetTimeout     time.Duration
	SuccessThreshold int
}

const (
	defaultFailureThreshold = 5
	defaultResetTimeout     = 30 * time.Second
	defaultSuccessThreshold = 2
)

// OpenError is returned when the circuit rejects a call without
// invoking the wrapped operation.
type OpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit %q open, retry after %s", e.Name, e.RetryAfter)
}

// Breaker is a mutex-guarded circuit state machine. The HALF_OPEN
// transition is computed lazily on the next call by comparing wall
// clock to the recorded open timestamp; there is no timer goroutine.
type Breaker struct {
	cfg Config
	log *slog.Logger

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time

	// now is swappable for tests.
	now func() time.Time
}

// New creates a Breaker with defaults applied.
func New(cfg Config) *Breaker {
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = defaultResetTimeout
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = defaultSuccessThreshold
	}
	return &Breaker{
		cfg:   cfg,
		log:   slog.Default().With("circuit", cfg.Name),
		state: StateClosed,
		now:   time.Now,
	}
}

// Do executes op through the circuit. On CLOSED or HALF_OPEN the
// operation runs and its outcome updates the counters; on OPEN the
// call is rejected with *OpenError before op is invoked.
func (b *Breaker) Do(ctx context.Context, op func(ctx context.Context) error) error {
	if err := b.before(); err != nil {
		return err
	}

	err := op(ctx)
	b.after(err)
	return err
}

// State returns the current circuit position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces CLOSED with zero counters. Used for test isolation and
// manual operator recovery.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
	b.failures = 0
	b.successes = 0
}

// Name returns the configured dependency name.
func (b *Breaker) Name() string { return b.cfg.Name }

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		elapsed := b.now().Sub(b.openedAt)
		if elapsed < b.cfg.ResetTimeout {
			retryAfter := b.cfg.ResetTimeout - elapsed
			metrics.BreakerRejections.WithLabelValues(b.cfg.Name).Inc()
			b.log.Warn("circuit rejecting call", "retry_after", retryAfter)
			return &OpenError{Name: b.cfg.Name, RetryAfter: retryAfter}
		}
		// Cooldown elapsed: probe the dependency.
		b.transition(StateHalfOpen)
	}

	return nil
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.onFailure()
		return
	}
	b.onSuccess()
}

func (b *Breaker) onSuccess() {
	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.transition(StateClosed)
		}
	}
}

func (b *Breaker) onFailure() {
	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		// A failed probe reopens immediately.
		b.transition(StateOpen)
	}
}

// transition moves the state machine and resets counters. Caller holds
// the mutex, so only one transition is ever in flight.
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	b.failures = 0
	b.successes = 0
	if to == StateOpen {
		b.openedAt = b.now()
	}

	metrics.BreakerTransitions.WithLabelValues(b.cfg.Name, from.String(), to.String()).Inc()
	b.log.Info("circuit state changed", "from", from.String(), "to", to.String())
}
