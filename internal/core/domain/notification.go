package domain

import "time"

// Notification is a push message destined for a user's registered devices.
type Notification struct {
	UserID        string           `json:"user_id"`
	JobID         string           `json:"job_id"`
	Kind          NotificationKind `json:"kind"`
	Title         string           `json:"title"`
	Body          string           `json:"body"`
	CorrelationID string           `json:"correlation_id,omitempty"`
}

type NotificationKind string

const (
	NotificationDownloadComplete NotificationKind = "download_complete"
	NotificationDownloadFailed   NotificationKind = "download_failed"
)

// Device is a registered push target for a user.
type Device struct {
	ID        string    `db:"id"         json:"id"`
	UserID    string    `db:"user_id"    json:"user_id"`
	Token     string    `db:"token"      json:"token"`
	Platform  string    `db:"platform"   json:"platform"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
