// Package correlation derives and propagates per-request trace identifiers
// across queue messages, storage events and HTTP invocations.
package correlation

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/vietddude/downlink/internal/core/domain"
)

// Context identifies one logical request across asynchronous hops.
// Immutable once created; created at the first ingress point and never
// regenerated mid-flow.
type Context struct {
	TraceID       string
	CorrelationID string
}

const (
	// QueueAttribute is the transport-level message attribute carrying
	// the correlation ID between hops.
	QueueAttribute = "correlation_id"

	// TraceAttribute carries the trace ID alongside QueueAttribute.
	TraceAttribute = "trace_id"

	// Header is the inbound HTTP header checked by FromHTTP.
	Header = "X-Correlation-Id"
)

// New creates a fresh Context for a request arriving with no identifier.
func New() Context {
	id := uuid.New().String()
	return Context{TraceID: id, CorrelationID: id}
}

// FromQueueRecord resolves the Context for a queue message. Resolution
// order: transport attribute, "correlationId" field in a JSON body,
// then the transport's own message ID. Never fails; a malformed body
// falls through silently.
func FromQueueRecord(rec domain.QueueRecord) Context {
	c := Context{TraceID: rec.Attributes[TraceAttribute]}

	if id := rec.Attributes[QueueAttribute]; id != "" {
		c.CorrelationID = id
		return withTraceFallback(c)
	}

	var body struct {
		CorrelationID string `json:"correlationId"`
	}
	if err := json.Unmarshal(rec.Body, &body); err == nil && body.CorrelationID != "" {
		c.CorrelationID = body.CorrelationID
		return withTraceFallback(c)
	}

	c.CorrelationID = rec.MessageID
	return withTraceFallback(c)
}

// FromStorageEvent resolves the Context for an object-storage event.
// Storage notifications carry no caller correlation, so the provider's
// request ID is used, falling back to the object key.
func FromStorageEvent(evt domain.StorageEvent) Context {
	id := evt.RequestID
	if id == "" {
		id = evt.ObjectKey
	}
	return Context{TraceID: id, CorrelationID: id}
}

// FromHTTP resolves the Context for an inbound HTTP request, minting a
// new ID when the caller sent none.
func FromHTTP(r *http.Request) Context {
	if id := r.Header.Get(Header); id != "" {
		return Context{TraceID: id, CorrelationID: id}
	}
	return New()
}

func withTraceFallback(c Context) Context {
	if c.TraceID == "" {
		c.TraceID = c.CorrelationID
	}
	return c
}

type ctxKey struct{}

// NewContext attaches c to ctx so downstream calls and log lines are
// traceable without manual threading.
func NewContext(ctx context.Context, c Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// FromContext returns the Context previously attached with NewContext.
func FromContext(ctx context.Context) (Context, bool) {
	c, ok := ctx.Value(ctxKey{}).(Context)
	return c, ok
}

// Logger returns the ambient logger with correlation attrs attached.
// When ctx carries no Context the default logger is returned unchanged.
func Logger(ctx context.Context) *slog.Logger {
	c, ok := FromContext(ctx)
	if !ok {
		return slog.Default()
	}
	return slog.Default().With(
		"trace_id", c.TraceID,
		"correlation_id", c.CorrelationID,
	)
}
