package worker

import (
	"context"
	"log/slog"
	"time"
)

// JobPruneStore deletes terminal jobs past retention.
type JobPruneStore interface {
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Pruner deletes old finished jobs based on retention policy.
type Pruner struct {
	jobs      JobPruneStore
	retention time.Duration
}

// NewPruner creates a new Pruner worker.
func NewPruner(jobs JobPruneStore, retention time.Duration) *Pruner {
	return &Pruner{jobs: jobs, retention: retention}
}

// Start runs the pruner loop.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		return // Retention disabled
	}

	interval := min(p.retention/10, time.Hour)
	interval = max(interval, time.Minute)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.prune(ctx)
		}
	}
}

func (p *Pruner) prune(ctx context.Context) {
	cutoff := time.Now().Add(-p.retention)

	n, err := p.jobs.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		slog.Error("failed to prune finished jobs", "error", err)
		return
	}
	if n > 0 {
		slog.Info("pruned finished jobs", "count", n)
	}
}
