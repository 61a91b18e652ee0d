package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/downlink/internal/core/domain"
)

// JobRepo persists download jobs.
type JobRepo struct {
	db *DB
}

func NewJobRepo(db *DB) *JobRepo {
	return &JobRepo{db: db}
}

func (r *JobRepo) Create(ctx context.Context, job *domain.DownloadJob) error {
	query := `
		INSERT INTO download_jobs (id, user_id, uri, status, attempts, correlation_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, NOW(), NOW())
	`
	_, err := r.db.ExecContext(ctx, query, job.ID, job.UserID, job.URI, job.Status, job.CorrelationID)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *JobRepo) Get(ctx context.Context, id string) (*domain.DownloadJob, error) {
	var job domain.DownloadJob
	err := r.db.GetContext(ctx, &job, `SELECT * FROM download_jobs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select job: %w", err)
	}
	return &job, nil
}

func (r *JobRepo) ListByUser(ctx context.Context, userID string, limit int) ([]domain.DownloadJob, error) {
	if limit <= 0 {
		limit = 50
	}
	var jobs []domain.DownloadJob
	query := `SELECT * FROM download_jobs WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`
	if err := r.db.SelectContext(ctx, &jobs, query, userID, limit); err != nil {
		return nil, fmt.Errorf("select jobs: %w", err)
	}
	return jobs, nil
}

// MarkProcessing flags the job as picked up and bumps the attempt count.
func (r *JobRepo) MarkProcessing(ctx context.Context, id string) error {
	query := `UPDATE download_jobs SET status = 'processing', attempts = attempts + 1, updated_at = NOW() WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	return nil
}

// MarkCompleted records the resolved video metadata on success.
func (r *JobRepo) MarkCompleted(ctx context.Context, id string, info domain.VideoInfo) error {
	query := `
		UPDATE download_jobs
		SET status = 'completed', video_id = $2, title = $3, last_error = NULL,
		    completed_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id, info.VideoID, info.Title)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return nil
}

// DeleteFinishedBefore removes terminal jobs older than cutoff and
// returns how many rows went.
func (r *JobRepo) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM download_jobs WHERE status IN ('completed', 'failed') AND updated_at < $1`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete finished jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// MarkFailed records a terminal failure.
func (r *JobRepo) MarkFailed(ctx context.Context, id, reason string) error {
	query := `UPDATE download_jobs SET status = 'failed', last_error = $2, updated_at = NOW() WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id, reason)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}
