package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vietddude/downlink/internal/core/domain"
	"github.com/vietddude/downlink/internal/observe/metrics"
)

// StreamQueue is the at-least-once queue transport over Redis Streams.
// Messages are delivered to a consumer group; unacked entries are
// reclaimed after MinIdle and redelivered with an increasing delivery
// count, which is what the retry budget is checked against.
type StreamQueue struct {
	rdb      *redis.Client
	stream   string
	group    string
	consumer string
	minIdle  time.Duration
}

// StreamConfig holds queue transport settings.
type StreamConfig struct {
	Stream   string
	Group    string
	Consumer string
	MinIdle  time.Duration
}

const (
	bodyField = "body"
	// deadSuffix names the parking stream for exhausted messages.
	deadSuffix = ":dead"
)

// NewStreamQueue creates the queue and ensures the consumer group
// exists.
func NewStreamQueue(ctx context.Context, c *Client, cfg StreamConfig) (*StreamQueue, error) {
	if cfg.Stream == "" || cfg.Group == "" || cfg.Consumer == "" {
		return nil, fmt.Errorf("stream, group and consumer are required")
	}
	if cfg.MinIdle <= 0 {
		cfg.MinIdle = 30 * time.Second
	}

	q := &StreamQueue{
		rdb:      c.rdb,
		stream:   cfg.Stream,
		group:    cfg.Group,
		consumer: cfg.Consumer,
		minIdle:  cfg.MinIdle,
	}

	err := c.rdb.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}
	return q, nil
}

// Publish appends one message. Attributes become stream fields next to
// the body, so the correlation attribute travels with the record.
func (q *StreamQueue) Publish(ctx context.Context, body []byte, attrs map[string]string) (string, error) {
	values := make(map[string]interface{}, len(attrs)+1)
	values[bodyField] = string(body)
	for k, v := range attrs {
		values[k] = v
	}

	id, err := q.rdb.XAdd(ctx, &redis.XAddArgs{Stream: q.stream, Values: values}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd failed: %w", err)
	}
	metrics.QueuePublished.WithLabelValues(q.stream).Inc()
	return id, nil
}

// Fetch returns up to count records: first entries reclaimed from other
// consumers that went idle past MinIdle (redeliveries), then new
// entries, blocking up to block for the latter.
func (q *StreamQueue) Fetch(ctx context.Context, count int, block time.Duration) ([]domain.QueueRecord, error) {
	var records []domain.QueueRecord

	claimed, _, err := q.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: q.consumer,
		MinIdle:  q.minIdle,
		Start:    "0-0",
		Count:    int64(count),
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("xautoclaim failed: %w", err)
	}

	deliveries, err := q.pendingCounts(ctx, claimed)
	if err != nil {
		return nil, err
	}
	for _, msg := range claimed {
		records = append(records, q.toRecord(msg, deliveries[msg.ID]))
	}

	remaining := count - len(records)
	if remaining <= 0 {
		return records, nil
	}

	streams, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumer,
		Streams:  []string{q.stream, ">"},
		Count:    int64(remaining),
		Block:    block,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("xreadgroup failed: %w", err)
	}

	for _, s := range streams {
		for _, msg := range s.Messages {
			records = append(records, q.toRecord(msg, 1))
		}
	}
	return records, nil
}

// Ack acknowledges processed message IDs so they are not redelivered.
func (q *StreamQueue) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := q.rdb.XAck(ctx, q.stream, q.group, ids...).Err(); err != nil {
		return fmt.Errorf("xack failed: %w", err)
	}
	// Acked entries are finished; trim them from the stream.
	if err := q.rdb.XDel(ctx, q.stream, ids...).Err(); err != nil {
		return fmt.Errorf("xdel failed: %w", err)
	}
	return nil
}

// DeadLetter parks a record on the dead stream and acks the original so
// it stops redelivering. The reason travels with the parked entry for
// operator triage.
func (q *StreamQueue) DeadLetter(ctx context.Context, rec domain.QueueRecord, reason string) error {
	values := map[string]interface{}{
		bodyField:    string(rec.Body),
		"origin_id":  rec.MessageID,
		"reason":     reason,
		"deliveries": rec.DeliveryCount,
	}
	for k, v := range rec.Attributes {
		values[k] = v
	}

	if err := q.rdb.XAdd(ctx, &redis.XAddArgs{Stream: q.stream + deadSuffix, Values: values}).Err(); err != nil {
		return fmt.Errorf("xadd dead letter: %w", err)
	}
	metrics.QueueDeadLettered.WithLabelValues(q.stream).Inc()
	return q.Ack(ctx, rec.MessageID)
}

// DeadEntry is one parked message, read back for operator triage.
type DeadEntry struct {
	ID         string `json:"id"`
	OriginID   string `json:"origin_id"`
	Reason     string `json:"reason"`
	Deliveries string `json:"deliveries"`
	Body       string `json:"body"`
}

// DeadEntries returns up to count parked entries, oldest first.
func (q *StreamQueue) DeadEntries(ctx context.Context, count int) ([]DeadEntry, error) {
	msgs, err := q.rdb.XRangeN(ctx, q.stream+deadSuffix, "-", "+", int64(count)).Result()
	if err != nil {
		return nil, fmt.Errorf("xrange dead letters: %w", err)
	}

	entries := make([]DeadEntry, 0, len(msgs))
	for _, msg := range msgs {
		e := DeadEntry{ID: msg.ID}
		for k, v := range msg.Values {
			s, _ := v.(string)
			switch k {
			case bodyField:
				e.Body = s
			case "origin_id":
				e.OriginID = s
			case "reason":
				e.Reason = s
			case "deliveries":
				e.Deliveries = s
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Requeue moves a parked entry back onto the main stream for a fresh
// set of deliveries and removes it from the dead stream.
func (q *StreamQueue) Requeue(ctx context.Context, deadID string) error {
	msgs, err := q.rdb.XRange(ctx, q.stream+deadSuffix, deadID, deadID).Result()
	if err != nil {
		return fmt.Errorf("xrange dead letter %s: %w", deadID, err)
	}
	if len(msgs) == 0 {
		return fmt.Errorf("dead letter %s not found", deadID)
	}

	values := make(map[string]interface{}, len(msgs[0].Values))
	for k, v := range msgs[0].Values {
		switch k {
		case "origin_id", "reason", "deliveries":
			continue
		}
		values[k] = v
	}

	if err := q.rdb.XAdd(ctx, &redis.XAddArgs{Stream: q.stream, Values: values}).Err(); err != nil {
		return fmt.Errorf("xadd requeue: %w", err)
	}
	metrics.QueuePublished.WithLabelValues(q.stream).Inc()
	if err := q.rdb.XDel(ctx, q.stream+deadSuffix, deadID).Err(); err != nil {
		return fmt.Errorf("xdel dead letter: %w", err)
	}
	return nil
}

// PendingCount returns how many entries await acknowledgement.
func (q *StreamQueue) PendingCount(ctx context.Context) (int64, error) {
	p, err := q.rdb.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		return 0, fmt.Errorf("xpending failed: %w", err)
	}
	return p.Count, nil
}

func (q *StreamQueue) pendingCounts(ctx context.Context, msgs []redis.XMessage) (map[string]int, error) {
	counts := make(map[string]int, len(msgs))
	if len(msgs) == 0 {
		return counts, nil
	}

	pending, err := q.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.stream,
		Group:  q.group,
		Start:  msgs[0].ID,
		End:    msgs[len(msgs)-1].ID,
		Count:  int64(len(msgs)),
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("xpending failed: %w", err)
	}

	for _, p := range pending {
		counts[p.ID] = int(p.RetryCount)
	}
	return counts, nil
}

func (q *StreamQueue) toRecord(msg redis.XMessage, deliveries int) domain.QueueRecord {
	if deliveries < 1 {
		deliveries = 1
	}
	rec := domain.QueueRecord{
		MessageID:     msg.ID,
		Attributes:    make(map[string]string),
		DeliveryCount: deliveries,
	}
	for k, v := range msg.Values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if k == bodyField {
			rec.Body = []byte(s)
			continue
		}
		rec.Attributes[k] = s
	}
	return rec
}
