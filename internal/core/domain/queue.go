package domain

// QueueRecord is one message pulled from the queue transport.
// MessageID is the transport's own identifier (stream entry ID) and is
// what the batch outcome reports back for redelivery decisions.
type QueueRecord struct {
	MessageID  string
	Body       []byte
	Attributes map[string]string
	// DeliveryCount is how many times the transport has handed this
	// record to a consumer, 1 on first delivery.
	DeliveryCount int
}

// DownloadRequested is the payload published for each requested item.
type DownloadRequested struct {
	JobID         string `json:"jobId"`
	UserID        string `json:"userId"`
	URI           string `json:"uri"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// StorageEvent is the shape of an object-storage notification.
// The provider carries no caller correlation; RequestID (or the object
// key as a last resort) is used as the deterministic fallback.
type StorageEvent struct {
	Bucket    string `json:"bucket"`
	ObjectKey string `json:"objectKey"`
	RequestID string `json:"requestId"`
	Size      int64  `json:"size"`
}
