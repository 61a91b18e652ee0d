package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/downlink/internal/core/domain"
	"github.com/vietddude/downlink/internal/resilience/correlation"
	"github.com/vietddude/downlink/internal/resilience/idempotency"
)

type fakeQueue struct {
	mu        sync.Mutex
	published []map[string]string
	bodies    [][]byte
}

func (f *fakeQueue) Publish(ctx context.Context, body []byte, attrs map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies = append(f.bodies, body)
	f.published = append(f.published, attrs)
	return "1-0", nil
}

type fakeJobs struct {
	mu   sync.Mutex
	jobs map[string]*domain.DownloadJob
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{jobs: make(map[string]*domain.DownloadJob)}
}

func (f *fakeJobs) Create(ctx context.Context, job *domain.DownloadJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.ID] = job
	return nil
}

func (f *fakeJobs) Get(ctx context.Context, id string) (*domain.DownloadJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[id], nil
}

type fakeDevices struct {
	registered []*domain.Device
}

func (f *fakeDevices) Register(ctx context.Context, d *domain.Device) error {
	f.registered = append(f.registered, d)
	return nil
}

func newTestServer() (*Server, *fakeQueue, *fakeJobs) {
	queue := &fakeQueue{}
	jobs := newFakeJobs()
	guard := idempotency.NewGuard(idempotency.NewMemoryStore())
	s := NewServer(0, guard, time.Minute, queue, jobs, &fakeDevices{})
	return s, queue, jobs
}

func postDownloads(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/downloads", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestCreateDownloadsPublishesPerItem(t *testing.T) {
	s, queue, jobs := newTestServer()

	w := postDownloads(t, s, `{
		"requestId": "req-1",
		"userId": "u1",
		"items": [{"uri": "https://v/1"}, {"uri": "https://v/2"}]
	}`)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", w.Code, w.Body.String())
	}

	var resp createResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.JobIDs) != 2 {
		t.Errorf("JobIDs = %v, want 2 jobs", resp.JobIDs)
	}
	if len(queue.bodies) != 2 {
		t.Errorf("published %d messages, want one per item", len(queue.bodies))
	}
	if len(jobs.jobs) != 2 {
		t.Errorf("created %d jobs, want 2", len(jobs.jobs))
	}

	// Every message carries the correlation attribute.
	for _, attrs := range queue.published {
		if attrs[correlation.QueueAttribute] == "" {
			t.Error("published message missing correlation attribute")
		}
	}
}

func TestCreateDownloadsReplaysDuplicate(t *testing.T) {
	s, queue, _ := newTestServer()
	body := `{"requestId": "req-2", "userId": "u1", "items": [{"uri": "https://v/1"}]}`

	first := postDownloads(t, s, body)
	if first.Code != http.StatusAccepted {
		t.Fatalf("first status = %d", first.Code)
	}

	second := postDownloads(t, s, body)
	if second.Code != http.StatusAccepted {
		t.Fatalf("duplicate status = %d, want replayed 202", second.Code)
	}
	if first.Body.String() != second.Body.String() {
		t.Errorf("duplicate response differs:\n%s\n%s", first.Body, second.Body)
	}
	if len(queue.bodies) != 1 {
		t.Errorf("published %d messages, duplicate must not publish again", len(queue.bodies))
	}
}

func TestCreateDownloadsValidation(t *testing.T) {
	s, _, _ := newTestServer()

	tests := []string{
		`{`,
		`{"userId": "u1", "items": [{"uri": "x"}]}`,
		`{"requestId": "r", "items": [{"uri": "x"}]}`,
		`{"requestId": "r", "userId": "u1", "items": []}`,
		`{"requestId": "r", "userId": "u1", "items": [{"uri": ""}]}`,
	}
	for _, body := range tests {
		if w := postDownloads(t, s, body); w.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, w.Code)
		}
	}
}

func TestCreateDownloadsEchoesCorrelationHeader(t *testing.T) {
	s, _, _ := newTestServer()

	req := httptest.NewRequest(http.MethodPost, "/v1/downloads",
		bytes.NewBufferString(`{"requestId": "req-3", "userId": "u1", "items": [{"uri": "https://v/1"}]}`))
	req.Header.Set(correlation.Header, "caller-chosen")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if got := w.Header().Get(correlation.Header); got != "caller-chosen" {
		t.Errorf("response correlation header = %q, want caller-chosen", got)
	}
}

func TestGetDownload(t *testing.T) {
	s, _, jobs := newTestServer()
	jobs.jobs["j1"] = &domain.DownloadJob{ID: "j1", UserID: "u1", Status: domain.JobStatusPending}

	req := httptest.NewRequest(http.MethodGet, "/v1/downloads/j1", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/downloads/missing", nil)
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestRegisterDevice(t *testing.T) {
	s, _, _ := newTestServer()

	req := httptest.NewRequest(http.MethodPost, "/v1/devices",
		bytes.NewBufferString(`{"userId": "u1", "token": "tok-1", "platform": "ios"}`))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}
}
