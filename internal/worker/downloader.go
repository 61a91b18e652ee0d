// Package worker consumes the download queue and executes each
// requested download: resolve video metadata through the guarded
// upstream provider, record the outcome, and notify the user.
package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vietddude/downlink/internal/core/domain"
	"github.com/vietddude/downlink/internal/observe/metrics"
	"github.com/vietddude/downlink/internal/resilience/breaker"
	"github.com/vietddude/downlink/internal/resilience/classify"
	"github.com/vietddude/downlink/internal/resilience/correlation"
)

// InfoLookup resolves a URI into video metadata.
type InfoLookup interface {
	Lookup(ctx context.Context, uri string) (domain.VideoInfo, error)
}

// JobStore mutates download job state.
type JobStore interface {
	MarkProcessing(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id string, info domain.VideoInfo) error
	MarkFailed(ctx context.Context, id, reason string) error
}

// Notifier fans a download outcome out to the user's devices.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification) error
}

// DeadLetterer parks a record that will never succeed.
type DeadLetterer interface {
	DeadLetter(ctx context.Context, rec domain.QueueRecord, reason string) error
}

// Downloader handles one queue record end to end.
type Downloader struct {
	jobs     JobStore
	info     InfoLookup
	circuit  *breaker.Breaker
	notifier Notifier
	parking  DeadLetterer
	service  string
}

// NewDownloader creates the record handler. circuit guards the
// video-info dependency and belongs to it alone.
func NewDownloader(
	jobs JobStore,
	info InfoLookup,
	circuit *breaker.Breaker,
	notifier Notifier,
	parking DeadLetterer,
	service string,
) *Downloader {
	return &Downloader{
		jobs:     jobs,
		info:     info,
		circuit:  circuit,
		notifier: notifier,
		parking:  parking,
		service:  service,
	}
}

// Handle processes one record. A nil return acknowledges the record; a
// non-nil return leaves it for redelivery. Failures that retrying
// cannot fix, and failures whose retry budget is spent, park the
// record and mark the job failed instead of redelivering forever.
func (d *Downloader) Handle(ctx context.Context, body []byte, rec domain.QueueRecord) error {
	log := correlation.Logger(ctx)

	var msg domain.DownloadRequested
	if err := json.Unmarshal(body, &msg); err != nil || msg.JobID == "" || msg.URI == "" {
		if err == nil {
			err = fmt.Errorf("message missing jobId or uri")
		}
		// Redelivering a malformed message cannot help.
		return d.dispose(ctx, rec, msg, fmt.Errorf("invalid uri in message: %w", err),
			classify.DomainExternalAPI, d.service)
	}

	log = log.With("job_id", msg.JobID)

	if err := d.jobs.MarkProcessing(ctx, msg.JobID); err != nil {
		return d.dispose(ctx, rec, msg, err, classify.DomainDatabase, "")
	}

	var info domain.VideoInfo
	err := d.circuit.Do(ctx, func(ctx context.Context) error {
		var lookupErr error
		info, lookupErr = d.info.Lookup(ctx, msg.URI)
		return lookupErr
	})
	if err != nil {
		return d.dispose(ctx, rec, msg, err, classify.DomainExternalAPI, d.service)
	}

	if err := d.jobs.MarkCompleted(ctx, msg.JobID, info); err != nil {
		return d.dispose(ctx, rec, msg, err, classify.DomainDatabase, "")
	}

	log.Info("download completed", "video_id", info.VideoID)

	// Notification is best effort; a push hiccup must not replay the
	// whole download.
	if err := d.notifier.Notify(ctx, domain.Notification{
		UserID:        msg.UserID,
		JobID:         msg.JobID,
		Kind:          domain.NotificationDownloadComplete,
		Title:         "Download ready",
		Body:          info.Title,
		CorrelationID: msg.CorrelationID,
	}); err != nil {
		log.Warn("completion notification failed", "error", err)
	}

	return nil
}

// dispose routes a failure: redeliver while the classification allows
// it, otherwise park the record, mark the job failed, and tell the
// user.
func (d *Downloader) dispose(
	ctx context.Context,
	rec domain.QueueRecord,
	msg domain.DownloadRequested,
	err error,
	dom classify.Domain,
	service string,
) error {
	log := correlation.Logger(ctx)
	attempts := rec.DeliveryCount - 1

	c := classify.Classify(err, dom, classify.Options{Service: service, Attempts: attempts})
	metrics.Classifications.WithLabelValues(string(dom), string(c.Category)).Inc()

	if c.Retryable && attempts < c.MaxRetries {
		log.Warn("record will redeliver",
			"message_id", rec.MessageID,
			"category", c.Category,
			"attempts", attempts,
			"max_retries", c.MaxRetries,
			"error", err,
		)
		return err
	}

	log.Error("record permanently failed",
		"message_id", rec.MessageID,
		"category", c.Category,
		"reason", c.Reason,
		"error", err,
	)
	if c.CreateIssue {
		// The issue-tracker integration hangs off this log line.
		log.Error("operator issue required",
			"priority", string(c.IssuePriority),
			"reason", c.Reason,
		)
	}

	if msg.JobID != "" {
		if err := d.jobs.MarkFailed(ctx, msg.JobID, c.Reason); err != nil {
			log.Warn("failed to mark job failed", "job_id", msg.JobID, "error", err)
		}
		if err := d.notifier.Notify(ctx, domain.Notification{
			UserID:        msg.UserID,
			JobID:         msg.JobID,
			Kind:          domain.NotificationDownloadFailed,
			Title:         "Download failed",
			Body:          c.Reason,
			CorrelationID: msg.CorrelationID,
		}); err != nil {
			log.Warn("failure notification failed", "error", err)
		}
	}

	if err := d.parking.DeadLetter(ctx, rec, c.Reason); err != nil {
		// Could not park: let the transport redeliver and try again.
		return fmt.Errorf("dead letter %s: %w", rec.MessageID, err)
	}
	return nil
}
