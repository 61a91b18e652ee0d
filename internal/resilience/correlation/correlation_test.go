package correlation

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/vietddude/downlink/internal/core/domain"
)

func TestFromQueueRecordPriority(t *testing.T) {
	tests := []struct {
		name   string
		rec    domain.QueueRecord
		expect string
	}{
		{
			name: "attribute wins over body and message ID",
			rec: domain.QueueRecord{
				MessageID:  "1700000000-0",
				Body:       []byte(`{"correlationId":"from-body"}`),
				Attributes: map[string]string{QueueAttribute: "from-attr"},
			},
			expect: "from-attr",
		},
		{
			name: "body wins over message ID",
			rec: domain.QueueRecord{
				MessageID: "1700000000-1",
				Body:      []byte(`{"correlationId":"from-body"}`),
			},
			expect: "from-body",
		},
		{
			name: "message ID fallback",
			rec: domain.QueueRecord{
				MessageID: "1700000000-2",
				Body:      []byte(`{"uri":"https://example.com/v"}`),
			},
			expect: "1700000000-2",
		},
		{
			name: "malformed body falls through silently",
			rec: domain.QueueRecord{
				MessageID: "1700000000-3",
				Body:      []byte(`{not json`),
			},
			expect: "1700000000-3",
		},
		{
			name:   "empty record never fails",
			rec:    domain.QueueRecord{MessageID: "1700000000-4"},
			expect: "1700000000-4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromQueueRecord(tt.rec)
			if got.CorrelationID != tt.expect {
				t.Errorf("CorrelationID = %q, want %q", got.CorrelationID, tt.expect)
			}
			if got.TraceID == "" {
				t.Error("TraceID should never be empty")
			}
		})
	}
}

func TestFromQueueRecordTraceAttribute(t *testing.T) {
	rec := domain.QueueRecord{
		MessageID: "m-1",
		Attributes: map[string]string{
			QueueAttribute: "corr-1",
			TraceAttribute: "trace-1",
		},
	}
	got := FromQueueRecord(rec)
	if got.TraceID != "trace-1" || got.CorrelationID != "corr-1" {
		t.Errorf("got %+v, want trace-1/corr-1", got)
	}
}

func TestFromStorageEvent(t *testing.T) {
	evt := domain.StorageEvent{Bucket: "videos", ObjectKey: "u1/v1.mp4", RequestID: "req-9"}
	if got := FromStorageEvent(evt); got.CorrelationID != "req-9" {
		t.Errorf("CorrelationID = %q, want req-9", got.CorrelationID)
	}

	evt.RequestID = ""
	if got := FromStorageEvent(evt); got.CorrelationID != "u1/v1.mp4" {
		t.Errorf("CorrelationID = %q, want object key fallback", got.CorrelationID)
	}
}

func TestFromHTTP(t *testing.T) {
	r := httptest.NewRequest("POST", "/webhook", nil)
	r.Header.Set(Header, "hdr-1")
	if got := FromHTTP(r); got.CorrelationID != "hdr-1" {
		t.Errorf("CorrelationID = %q, want hdr-1", got.CorrelationID)
	}

	r = httptest.NewRequest("POST", "/webhook", nil)
	got := FromHTTP(r)
	if got.CorrelationID == "" {
		t.Error("expected a minted correlation ID")
	}
}

func TestContextRoundTrip(t *testing.T) {
	c := Context{TraceID: "t", CorrelationID: "c"}
	ctx := NewContext(context.Background(), c)

	got, ok := FromContext(ctx)
	if !ok || got != c {
		t.Errorf("FromContext = %+v, %v; want %+v, true", got, ok, c)
	}

	if _, ok := FromContext(context.Background()); ok {
		t.Error("FromContext on empty context should report absent")
	}
}

func TestLoggerNeverNil(t *testing.T) {
	if Logger(context.Background()) == nil {
		t.Fatal("Logger returned nil for empty context")
	}
	ctx := NewContext(context.Background(), New())
	if Logger(ctx) == nil {
		t.Fatal("Logger returned nil for correlated context")
	}
}
