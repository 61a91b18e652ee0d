// Package batch turns an all-or-nothing batch invocation into
// per-record success and failure so the transport redelivers only the
// records that genuinely failed.
package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vietddude/downlink/internal/core/domain"
	"github.com/vietddude/downlink/internal/observe/metrics"
	"github.com/vietddude/downlink/internal/resilience/classify"
	"github.com/vietddude/downlink/internal/resilience/correlation"
)

// Handler processes one decoded record. The context carries the
// record's correlation identifiers.
type Handler func(ctx context.Context, body []byte, rec domain.QueueRecord) error

// Decode selects how record bodies are validated before the handler
// sees them.
type Decode int

const (
	// DecodeRaw hands the body through untouched.
	DecodeRaw Decode = iota
	// DecodeJSON requires the body to be well-formed JSON; a decode
	// failure counts as that record's failure, not the batch's.
	DecodeJSON
)

// Options tunes one Process invocation.
type Options struct {
	Decode Decode

	// StopOnError aborts after the first failure; unprocessed records
	// are reported failed so the transport redelivers them.
	StopOnError bool

	// Classifier maps a record failure for the triage log line.
	// Defaults to the external-api domain.
	Classifier func(err error, attempts int) classify.Classification
}

// Outcome is the return contract of one batch invocation: which
// message IDs succeeded and which must be redelivered. Never persisted.
type Outcome struct {
	Succeeded []string
	Failed    []string
}

// Process iterates records sequentially, isolating each record's
// failure. Sequential on purpose: a stressed downstream should not be
// hit by the whole batch at once, and failure accounting stays simple.
func Process(ctx context.Context, records []domain.QueueRecord, handler Handler, opts Options) Outcome {
	start := time.Now()
	log := correlation.Logger(ctx)

	classifier := opts.Classifier
	if classifier == nil {
		classifier = func(err error, attempts int) classify.Classification {
			return classify.Classify(err, classify.DomainExternalAPI, classify.Options{Attempts: attempts})
		}
	}

	var out Outcome
	for i, rec := range records {
		if ctx.Err() != nil {
			// Invocation cancelled: everything unprocessed redelivers.
			out.Failed = append(out.Failed, messageIDs(records[i:])...)
			break
		}

		err := processRecord(ctx, rec, handler, opts)
		if err == nil {
			out.Succeeded = append(out.Succeeded, rec.MessageID)
			continue
		}

		out.Failed = append(out.Failed, rec.MessageID)

		c := classifier(err, rec.DeliveryCount)
		metrics.Classifications.WithLabelValues("batch", string(c.Category)).Inc()
		log.Error("record failed",
			"message_id", rec.MessageID,
			"category", c.Category,
			"retryable", c.Retryable,
			"reason", c.Reason,
			"error", err,
		)

		if opts.StopOnError {
			out.Failed = append(out.Failed, messageIDs(records[i+1:])...)
			break
		}
	}

	metrics.BatchRecords.WithLabelValues("succeeded").Add(float64(len(out.Succeeded)))
	metrics.BatchRecords.WithLabelValues("failed").Add(float64(len(out.Failed)))
	metrics.BatchDuration.Observe(time.Since(start).Seconds())

	log.Info("batch processed",
		"total", len(records),
		"succeeded", len(out.Succeeded),
		"failed", len(out.Failed),
	)

	return out
}

func processRecord(ctx context.Context, rec domain.QueueRecord, handler Handler, opts Options) (err error) {
	cctx := correlation.FromQueueRecord(rec)
	ctx = correlation.NewContext(ctx, cctx)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic on %s: %v", rec.MessageID, r)
		}
	}()

	if opts.Decode == DecodeJSON && !json.Valid(rec.Body) {
		return fmt.Errorf("record %s: body is not valid JSON", rec.MessageID)
	}

	return handler(ctx, rec.Body, rec)
}

func messageIDs(records []domain.QueueRecord) []string {
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.MessageID)
	}
	return ids
}
