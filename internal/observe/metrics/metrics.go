package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BreakerTransitions counts circuit state changes per dependency.
	BreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "downlink_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"circuit", "from", "to"},
	)

	// BreakerRejections counts calls short-circuited while open.
	BreakerRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "downlink_breaker_rejections_total",
			Help: "Calls rejected by an open circuit without invoking the dependency",
		},
		[]string{"circuit"},
	)

	// Classifications counts classifier decisions per domain and category.
	Classifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "downlink_error_classifications_total",
			Help: "Error classifier decisions",
		},
		[]string{"domain", "category"},
	)

	// BatchRecords counts per-record outcomes of batch processing.
	BatchRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "downlink_batch_records_total",
			Help: "Batch records processed by outcome",
		},
		[]string{"outcome"},
	)

	// BatchDuration tracks how long one batch invocation takes.
	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "downlink_batch_duration_seconds",
			Help:    "Duration of one batch invocation",
			Buckets: prometheus.DefBuckets,
		},
	)

	// IdempotencyHits counts guard outcomes (fresh, replayed, in_flight).
	IdempotencyHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "downlink_idempotency_outcomes_total",
			Help: "Idempotency guard outcomes",
		},
		[]string{"outcome"},
	)

	// QueuePublished counts messages published to the download stream.
	QueuePublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "downlink_queue_published_total",
			Help: "Messages published to the queue",
		},
		[]string{"stream"},
	)

	// QueueDeadLettered counts messages parked after retry exhaustion.
	QueueDeadLettered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "downlink_queue_dead_lettered_total",
			Help: "Messages moved to the dead letter stream",
		},
		[]string{"stream"},
	)

	// InfoLookups tracks video-info provider calls by result.
	InfoLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "downlink_info_lookups_total",
			Help: "Video info provider lookups",
		},
		[]string{"result"},
	)

	// PushSends tracks push gateway sends by result.
	PushSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "downlink_push_sends_total",
			Help: "Push notification sends",
		},
		[]string{"result"},
	)

	// DBConnectionPoolUsage exposes pool saturation as a percentage.
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "downlink_db_pool_usage_percent",
			Help: "Database connection pool usage percentage",
		},
	)
)
