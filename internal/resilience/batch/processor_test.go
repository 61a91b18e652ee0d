package batch

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/vietddude/downlink/internal/core/domain"
	"github.com/vietddude/downlink/internal/resilience/correlation"
)

func makeRecords(n int) []domain.QueueRecord {
	recs := make([]domain.QueueRecord, n)
	for i := range recs {
		recs[i] = domain.QueueRecord{
			MessageID:     fmt.Sprintf("msg-%d", i+1),
			Body:          []byte(fmt.Sprintf(`{"jobId":"j%d"}`, i+1)),
			DeliveryCount: 1,
		}
	}
	return recs
}

func failOn(ids ...string) Handler {
	failing := make(map[string]bool, len(ids))
	for _, id := range ids {
		failing[id] = true
	}
	return func(ctx context.Context, body []byte, rec domain.QueueRecord) error {
		if failing[rec.MessageID] {
			return errors.New("handler failed")
		}
		return nil
	}
}

func TestProcessPartialFailure(t *testing.T) {
	tests := []struct {
		name       string
		fail       []string
		wantOK     []string
		wantFailed []string
	}{
		{
			name:       "middle fails",
			fail:       []string{"msg-2"},
			wantOK:     []string{"msg-1", "msg-3"},
			wantFailed: []string{"msg-2"},
		},
		{
			name:       "first fails",
			fail:       []string{"msg-1"},
			wantOK:     []string{"msg-2", "msg-3"},
			wantFailed: []string{"msg-1"},
		},
		{
			name:       "last fails",
			fail:       []string{"msg-3"},
			wantOK:     []string{"msg-1", "msg-2"},
			wantFailed: []string{"msg-3"},
		},
		{
			name:       "all fail",
			fail:       []string{"msg-1", "msg-2", "msg-3"},
			wantOK:     nil,
			wantFailed: []string{"msg-1", "msg-2", "msg-3"},
		},
		{
			name:       "none fail",
			fail:       nil,
			wantOK:     []string{"msg-1", "msg-2", "msg-3"},
			wantFailed: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Process(context.Background(), makeRecords(3), failOn(tt.fail...), Options{})
			if !reflect.DeepEqual(out.Succeeded, tt.wantOK) {
				t.Errorf("Succeeded = %v, want %v", out.Succeeded, tt.wantOK)
			}
			if !reflect.DeepEqual(out.Failed, tt.wantFailed) {
				t.Errorf("Failed = %v, want %v", out.Failed, tt.wantFailed)
			}
		})
	}
}

func TestProcessDecodeFailureIsPerRecord(t *testing.T) {
	recs := makeRecords(3)
	recs[1].Body = []byte(`{broken`)

	var handled []string
	handler := func(ctx context.Context, body []byte, rec domain.QueueRecord) error {
		handled = append(handled, rec.MessageID)
		return nil
	}

	out := Process(context.Background(), recs, handler, Options{Decode: DecodeJSON})

	if !reflect.DeepEqual(out.Failed, []string{"msg-2"}) {
		t.Errorf("Failed = %v, want [msg-2]", out.Failed)
	}
	if !reflect.DeepEqual(handled, []string{"msg-1", "msg-3"}) {
		t.Errorf("handler saw %v; decode failure must not reach it or abort the batch", handled)
	}
}

func TestProcessStopOnError(t *testing.T) {
	var handled []string
	handler := func(ctx context.Context, body []byte, rec domain.QueueRecord) error {
		handled = append(handled, rec.MessageID)
		if rec.MessageID == "msg-2" {
			return errors.New("boom")
		}
		return nil
	}

	out := Process(context.Background(), makeRecords(4), handler, Options{StopOnError: true})

	if !reflect.DeepEqual(handled, []string{"msg-1", "msg-2"}) {
		t.Errorf("handled = %v, want processing to stop at msg-2", handled)
	}
	// Unprocessed records count as failed so they are redelivered.
	if !reflect.DeepEqual(out.Failed, []string{"msg-2", "msg-3", "msg-4"}) {
		t.Errorf("Failed = %v, want [msg-2 msg-3 msg-4]", out.Failed)
	}
	if !reflect.DeepEqual(out.Succeeded, []string{"msg-1"}) {
		t.Errorf("Succeeded = %v, want [msg-1]", out.Succeeded)
	}
}

func TestProcessPanicCountsAsFailure(t *testing.T) {
	handler := func(ctx context.Context, body []byte, rec domain.QueueRecord) error {
		if rec.MessageID == "msg-1" {
			panic("handler bug")
		}
		return nil
	}

	out := Process(context.Background(), makeRecords(2), handler, Options{})
	if !reflect.DeepEqual(out.Failed, []string{"msg-1"}) {
		t.Errorf("Failed = %v, want [msg-1]", out.Failed)
	}
	if !reflect.DeepEqual(out.Succeeded, []string{"msg-2"}) {
		t.Errorf("Succeeded = %v, want panic isolated to its record", out.Succeeded)
	}
}

func TestProcessAttachesCorrelation(t *testing.T) {
	recs := []domain.QueueRecord{{
		MessageID:  "msg-1",
		Body:       []byte(`{}`),
		Attributes: map[string]string{correlation.QueueAttribute: "corr-42"},
	}}

	var seen correlation.Context
	handler := func(ctx context.Context, body []byte, rec domain.QueueRecord) error {
		seen, _ = correlation.FromContext(ctx)
		return nil
	}

	Process(context.Background(), recs, handler, Options{})
	if seen.CorrelationID != "corr-42" {
		t.Errorf("handler context correlation = %q, want corr-42", seen.CorrelationID)
	}
}

func TestProcessCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := Process(ctx, makeRecords(3), failOn(), Options{})
	if len(out.Succeeded) != 0 || len(out.Failed) != 3 {
		t.Errorf("cancelled batch outcome = %+v, want all records failed", out)
	}
}

func TestProcessEmptyBatch(t *testing.T) {
	out := Process(context.Background(), nil, failOn(), Options{})
	if len(out.Succeeded) != 0 || len(out.Failed) != 0 {
		t.Errorf("empty batch outcome = %+v", out)
	}
}
