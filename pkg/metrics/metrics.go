// Package metrics provides Prometheus metrics for the Rowan service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ResolutionsTotal tracks record resolutions by outcome
	ResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rowan",
			Subsystem: "dedup",
			Name:      "resolutions_total",
			Help:      "Total number of resolved records by outcome",
		},
		[]string{"source_type", "outcome"},
	)

	// MatchScore tracks the best match score seen for each resolved record
	MatchScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "rowan",
			Subsystem: "dedup",
			Name:      "match_score",
			Help:      "Best match score of resolved records",
			Buckets:   []float64{0.1, 0.3, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 1},
		},
	)

	// MergeConflicts tracks optimistic concurrency retries
	MergeConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rowan",
			Subsystem: "dedup",
			Name:      "merge_conflicts_total",
			Help:      "Total number of person version conflicts during merge",
		},
	)

	// RelationshipsTotal tracks relationship extraction results
	RelationshipsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rowan",
			Subsystem: "relationships",
			Name:      "extracted_total",
			Help:      "Total number of family references by result",
		},
		[]string{"type", "result"},
	)

	// PersonsScored tracks lead scoring passes
	PersonsScored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rowan",
			Subsystem: "scoring",
			Name:      "persons_scored_total",
			Help:      "Total number of persons scored by confidence tier",
		},
		[]string{"confidence"},
	)

	// JobsTotal tracks pipeline jobs by terminal state
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rowan",
			Subsystem: "pipeline",
			Name:      "jobs_total",
			Help:      "Total number of pipeline jobs by terminal state",
		},
		[]string{"source_type", "state"},
	)

	// JobDuration tracks pipeline job duration in seconds
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rowan",
			Subsystem: "pipeline",
			Name:      "job_duration_seconds",
			Help:      "Duration of pipeline jobs in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"source_type"},
	)

	// RecordsProcessed tracks records processed by result
	RecordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rowan",
			Subsystem: "pipeline",
			Name:      "records_total",
			Help:      "Total number of records processed by result",
		},
		[]string{"source_type", "result"},
	)

	// JobsInFlight tracks jobs currently being processed
	JobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rowan",
			Subsystem: "pipeline",
			Name:      "jobs_in_flight",
			Help:      "Number of jobs currently being processed",
		},
	)

	// QueueDepth tracks jobs waiting for a worker
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rowan",
			Subsystem: "pipeline",
			Name:      "queue_depth",
			Help:      "Number of jobs waiting for a worker",
		},
	)

	// ProgressEventsPublished tracks progress events by sink and status
	ProgressEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rowan",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total number of progress events published",
		},
		[]string{"sink", "status"},
	)

	// KafkaMessagesPublished tracks Kafka messages published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rowan",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)

	// KafkaMessagesConsumed tracks Kafka messages consumed
	KafkaMessagesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rowan",
			Subsystem: "kafka",
			Name:      "messages_consumed_total",
			Help:      "Total number of messages consumed from Kafka",
		},
		[]string{"topic", "status"},
	)

	// KafkaPublishDuration tracks Kafka publish duration
	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "rowan",
			Subsystem: "kafka",
			Name:      "publish_duration_seconds",
			Help:      "Duration of Kafka publish operations in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		},
	)

	// GraphProjectionDuration tracks graph projection duration
	GraphProjectionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rowan",
			Subsystem: "graph",
			Name:      "projection_duration_seconds",
			Help:      "Duration of graph projections in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"status"},
	)
)

// RecordResolution records a dedup resolution metric
func RecordResolution(sourceType, outcome string, score float64) {
	ResolutionsTotal.WithLabelValues(sourceType, outcome).Inc()
	MatchScore.Observe(score)
}

// RecordJob records a terminal pipeline job metric
func RecordJob(sourceType, state string, durationSeconds float64) {
	JobsTotal.WithLabelValues(sourceType, state).Inc()
	JobDuration.WithLabelValues(sourceType).Observe(durationSeconds)
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string, durationSeconds float64) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
	KafkaPublishDuration.Observe(durationSeconds)
}
