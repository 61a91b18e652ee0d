// Package webhook is the HTTP ingress that accepts download requests
// from the mobile backend, deduplicates them, and fans each item out as
// one queue message.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/vietddude/downlink/internal/core/domain"
	"github.com/vietddude/downlink/internal/resilience/correlation"
	"github.com/vietddude/downlink/internal/resilience/idempotency"
)

// Publisher appends one message to the download queue.
type Publisher interface {
	Publish(ctx context.Context, body []byte, attrs map[string]string) (string, error)
}

// JobStore persists and reads download jobs.
type JobStore interface {
	Create(ctx context.Context, job *domain.DownloadJob) error
	Get(ctx context.Context, id string) (*domain.DownloadJob, error)
}

// DeviceStore registers push targets.
type DeviceStore interface {
	Register(ctx context.Context, d *domain.Device) error
}

// Server is the webhook HTTP server.
type Server struct {
	guard   *idempotency.Guard
	window  time.Duration
	queue   Publisher
	jobs    JobStore
	devices DeviceStore
	server  *http.Server
}

// NewServer wires the ingress routes.
func NewServer(
	port int,
	guard *idempotency.Guard,
	window time.Duration,
	queue Publisher,
	jobs JobStore,
	devices DeviceStore,
) *Server {
	s := &Server{
		guard:   guard,
		window:  window,
		queue:   queue,
		jobs:    jobs,
		devices: devices,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/v1/downloads", s.handleCreateDownloads)
	r.Get("/v1/downloads/{id}", s.handleGetDownload)
	r.Post("/v1/devices", s.handleRegisterDevice)

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

type createRequest struct {
	RequestID string `json:"requestId"`
	UserID    string `json:"userId"`
	Items     []struct {
		URI string `json:"uri"`
	} `json:"items"`
}

type createResponse struct {
	JobIDs        []string `json:"jobIds"`
	CorrelationID string   `json:"correlationId"`
}

func (s *Server) handleCreateDownloads(w http.ResponseWriter, r *http.Request) {
	cctx := correlation.FromHTTP(r)
	ctx := correlation.NewContext(r.Context(), cctx)
	log := correlation.Logger(ctx)

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.RequestID == "" || req.UserID == "" || len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "requestId, userId and at least one item are required")
		return
	}
	for _, item := range req.Items {
		if item.URI == "" {
			writeError(w, http.StatusBadRequest, "every item needs a uri")
			return
		}
	}

	key := "webhook:" + req.RequestID
	result, err := s.guard.RunOnce(ctx, key, s.window, func(ctx context.Context) (json.RawMessage, error) {
		return s.enqueueItems(ctx, cctx, req)
	})

	if err != nil {
		var dup *idempotency.DuplicateError
		if errors.As(err, &dup) {
			writeError(w, http.StatusConflict, "request already in progress")
			return
		}
		log.Error("webhook request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(correlation.Header, cctx.CorrelationID)
	w.WriteHeader(http.StatusAccepted)
	w.Write(result)
}

// enqueueItems creates one job and one queue message per item. Runs at
// most once per request ID thanks to the idempotency guard.
func (s *Server) enqueueItems(
	ctx context.Context,
	cctx correlation.Context,
	req createRequest,
) (json.RawMessage, error) {
	log := correlation.Logger(ctx)

	attrs := map[string]string{
		correlation.QueueAttribute: cctx.CorrelationID,
		correlation.TraceAttribute: cctx.TraceID,
	}

	jobIDs := make([]string, 0, len(req.Items))
	for _, item := range req.Items {
		job := &domain.DownloadJob{
			ID:            uuid.New().String(),
			UserID:        req.UserID,
			URI:           item.URI,
			Status:        domain.JobStatusPending,
			CorrelationID: cctx.CorrelationID,
		}
		if err := s.jobs.Create(ctx, job); err != nil {
			return nil, fmt.Errorf("create job: %w", err)
		}

		msg := domain.DownloadRequested{
			JobID:         job.ID,
			UserID:        job.UserID,
			URI:           job.URI,
			CorrelationID: cctx.CorrelationID,
		}
		body, err := json.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("marshal message: %w", err)
		}
		if _, err := s.queue.Publish(ctx, body, attrs); err != nil {
			return nil, fmt.Errorf("publish message: %w", err)
		}

		jobIDs = append(jobIDs, job.ID)
	}

	log.Info("downloads queued", "count", len(jobIDs))

	return json.Marshal(createResponse{
		JobIDs:        jobIDs,
		CorrelationID: cctx.CorrelationID,
	})
}

func (s *Server) handleGetDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job)
}

type registerDeviceRequest struct {
	UserID   string `json:"userId"`
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req registerDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" || req.Token == "" {
		writeError(w, http.StatusBadRequest, "userId and token are required")
		return
	}
	if req.Platform == "" {
		req.Platform = "unknown"
	}

	d := &domain.Device{
		ID:       uuid.New().String(),
		UserID:   req.UserID,
		Token:    req.Token,
		Platform: req.Platform,
	}
	if err := s.devices.Register(r.Context(), d); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(d)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
