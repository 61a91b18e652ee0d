package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/vietddude/downlink/internal/core/domain"
	"github.com/vietddude/downlink/internal/resilience/batch"
)

// Queue is the transport the consumer reads from.
type Queue interface {
	Fetch(ctx context.Context, count int, block time.Duration) ([]domain.QueueRecord, error)
	Ack(ctx context.Context, ids ...string) error
	DeadLetter(ctx context.Context, rec domain.QueueRecord, reason string) error
}

// Config tunes the consumer loop.
type Config struct {
	BatchSize int
	Block     time.Duration

	// MaxDeliveries is the hard cap after which a record is parked no
	// matter what, covering failures the handler never sees (for
	// example undecodable bodies).
	MaxDeliveries int
}

// Consumer drives the fetch/process/ack loop against the queue.
type Consumer struct {
	queue   Queue
	handler *Downloader
	cfg     Config
}

func NewConsumer(queue Queue, handler *Downloader, cfg Config) *Consumer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = 8
	}
	return &Consumer{queue: queue, handler: handler, cfg: cfg}
}

// Run loops until the context is cancelled. Succeeded records are
// acked; failed ones stay pending and redeliver once their idle time
// passes, with the delivery count driving the retry budget.
func (c *Consumer) Run(ctx context.Context) error {
	slog.Info("consumer started", "batch_size", c.cfg.BatchSize)

	for {
		if err := ctx.Err(); err != nil {
			slog.Info("consumer stopped")
			return err
		}

		records, err := c.queue.Fetch(ctx, c.cfg.BatchSize, c.cfg.Block)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			slog.Error("fetch failed", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		if len(records) == 0 {
			continue
		}

		c.processBatch(ctx, records)
	}
}

func (c *Consumer) processBatch(ctx context.Context, records []domain.QueueRecord) {
	out := batch.Process(ctx, records, c.handler.Handle, batch.Options{
		Decode: batch.DecodeJSON,
	})

	if err := c.queue.Ack(ctx, out.Succeeded...); err != nil {
		slog.Error("ack failed", "error", err)
	}

	// Records the handler never got to run on (bad bodies, mostly)
	// would otherwise redeliver forever.
	failed := make(map[string]bool, len(out.Failed))
	for _, id := range out.Failed {
		failed[id] = true
	}
	for _, rec := range records {
		if failed[rec.MessageID] && rec.DeliveryCount >= c.cfg.MaxDeliveries {
			slog.Error("record exceeded delivery cap",
				"message_id", rec.MessageID,
				"deliveries", rec.DeliveryCount,
			)
			if err := c.queue.DeadLetter(ctx, rec, "delivery cap exceeded"); err != nil {
				slog.Error("dead letter failed", "message_id", rec.MessageID, "error", err)
			}
		}
	}
}
