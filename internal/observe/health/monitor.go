package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/downlink/internal/resilience/breaker"
)

// Pinger is a dependency that can report whether it is reachable.
type Pinger interface {
	Health(ctx context.Context) error
}

// PendingCounter reports the queue backlog awaiting acknowledgement.
type PendingCounter interface {
	PendingCount(ctx context.Context) (int64, error)
}

// Monitor aggregates health status from the system's dependencies.
type Monitor struct {
	pingers  map[string]Pinger
	queue    PendingCounter
	breakers []*breaker.Breaker

	// Pending backlog above this marks the system degraded.
	backlogLimit int64

	lastCheck  time.Time
	lastReport Report
	mu         sync.Mutex
}

// NewMonitor creates a health monitor over the named dependencies.
func NewMonitor(pingers map[string]Pinger, queue PendingCounter, breakers []*breaker.Breaker) *Monitor {
	return &Monitor{
		pingers:      pingers,
		queue:        queue,
		breakers:     breakers,
		backlogLimit: 1000,
	}
}

// Check probes every dependency and derives the aggregate status.
// Results are cached briefly so health polling does not spam Redis and
// Postgres.
func (m *Monitor) Check(ctx context.Context) Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Since(m.lastCheck) < 10*time.Second && m.lastReport.Components != nil {
		return m.lastReport
	}

	report := Report{
		SystemStatus: StatusHealthy,
		Components:   make(map[string]ComponentHealth),
		Breakers:     make(map[string]string),
	}

	for name, p := range m.pingers {
		ch := ComponentHealth{Name: name, Status: StatusHealthy}
		if err := p.Health(ctx); err != nil {
			ch.Status = StatusCritical
			ch.Error = err.Error()
			report.SystemStatus = StatusCritical
		}
		report.Components[name] = ch
	}

	if m.queue != nil {
		pending, err := m.queue.PendingCount(ctx)
		if err == nil {
			report.QueuePending = pending
			if pending > m.backlogLimit && report.SystemStatus == StatusHealthy {
				report.SystemStatus = StatusDegraded
			}
		}
	}

	for _, b := range m.breakers {
		state := b.State()
		report.Breakers[b.Name()] = state.String()
		if state != breaker.StateClosed && report.SystemStatus == StatusHealthy {
			report.SystemStatus = StatusDegraded
		}
	}

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}
