// Package notify fans a download outcome out to the user's registered
// devices through the push gateway.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/vietddude/downlink/internal/core/domain"
	"github.com/vietddude/downlink/internal/infra/push"
	"github.com/vietddude/downlink/internal/resilience/breaker"
	"github.com/vietddude/downlink/internal/resilience/classify"
	"github.com/vietddude/downlink/internal/resilience/correlation"
)

// DeviceSource lists and prunes push targets.
type DeviceSource interface {
	ListByUser(ctx context.Context, userID string) ([]domain.Device, error)
	Remove(ctx context.Context, token string) error
}

// Sender delivers one push message.
type Sender interface {
	Send(ctx context.Context, msg push.Message) error
}

// Notifier resolves a notification's devices and sends to each, with
// per-send retry for transient gateway failures.
type Notifier struct {
	devices DeviceSource
	sender  Sender
	circuit *breaker.Breaker
}

// New creates a Notifier. The breaker instance belongs to the push
// gateway dependency alone.
func New(devices DeviceSource, sender Sender, circuit *breaker.Breaker) *Notifier {
	return &Notifier{devices: devices, sender: sender, circuit: circuit}
}

// Notify sends n to every device of its user. A dead token prunes the
// device and does not fail the fan-out; other per-device failures are
// retried per their classification and then given up on, so one bad
// device never blocks the rest.
func (no *Notifier) Notify(ctx context.Context, n domain.Notification) error {
	log := correlation.Logger(ctx).With("job_id", n.JobID, "kind", string(n.Kind))

	devices, err := no.devices.ListByUser(ctx, n.UserID)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		log.Debug("no registered devices, skipping notification")
		return nil
	}

	msg := push.Message{
		Title: n.Title,
		Body:  n.Body,
		Data: map[string]string{
			"job_id":         n.JobID,
			"kind":           string(n.Kind),
			"correlation_id": n.CorrelationID,
		},
	}

	for _, d := range devices {
		msg.Token = d.Token
		if err := no.sendWithRetry(ctx, msg); err != nil {
			if errors.Is(err, push.ErrTokenGone) {
				log.Info("pruning dead device token", "device_id", d.ID)
				if err := no.devices.Remove(ctx, d.Token); err != nil {
					log.Warn("failed to prune device", "device_id", d.ID, "error", err)
				}
				continue
			}
			log.Error("push delivery failed", "device_id", d.ID, "error", err)
		}
	}
	return nil
}

func (no *Notifier) sendWithRetry(ctx context.Context, msg push.Message) error {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := no.circuit.Do(ctx, func(ctx context.Context) error {
			return no.sender.Send(ctx, msg)
		})
		if err == nil {
			return nil
		}

		var openErr *breaker.OpenError
		if errors.As(err, &openErr) || errors.Is(err, push.ErrTokenGone) {
			return err
		}

		c := classify.Classify(err, classify.DomainExternalAPI, classify.Options{Service: push.ServiceName})
		if c.Retryable {
			return retry.RetryableError(err)
		}
		return err
	})
}
