package domain

import "time"

// DownloadJob represents one requested video download.
type DownloadJob struct {
	ID            string     `db:"id"             json:"id"`
	UserID        string     `db:"user_id"        json:"user_id"`
	URI           string     `db:"uri"            json:"uri"`
	Status        JobStatus  `db:"status"         json:"status"`
	Attempts      int        `db:"attempts"       json:"attempts"`
	LastError     *string    `db:"last_error"     json:"last_error,omitempty"`
	VideoID       *string    `db:"video_id"       json:"video_id,omitempty"`
	Title         *string    `db:"title"          json:"title,omitempty"`
	CorrelationID string     `db:"correlation_id" json:"correlation_id"`
	CreatedAt     time.Time  `db:"created_at"     json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"     json:"updated_at"`
	CompletedAt   *time.Time `db:"completed_at"   json:"completed_at,omitempty"`
}

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)
