// Package metrics provides Prometheus metrics for the channel server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionTransitions counts session state changes by target status
	SessionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "channel",
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Total number of session state transitions by target status",
		},
		[]string{"status"},
	)

	// SessionsTracked is the number of sessions held in memory
	SessionsTracked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "channel",
			Subsystem: "session",
			Name:      "tracked",
			Help:      "Number of sessions tracked by this process",
		},
	)

	// ReconnectsScheduled counts reconnect timers armed after transient closes
	ReconnectsScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "channel",
			Subsystem: "session",
			Name:      "reconnects_scheduled_total",
			Help:      "Total number of reconnects scheduled after a transient close",
		},
	)

	// IngestJobsEnqueued counts inbound events accepted into the queue
	IngestJobsEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "channel",
			Subsystem: "ingest",
			Name:      "jobs_enqueued_total",
			Help:      "Total number of inbound events enqueued for ingestion",
		},
	)

	// IngestJobsProcessed counts ingestion outcomes
	IngestJobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "channel",
			Subsystem: "ingest",
			Name:      "jobs_processed_total",
			Help:      "Total number of ingestion jobs by outcome",
		},
		[]string{"status"},
	)

	// IngestJobsInFlight tracks jobs currently being processed
	IngestJobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "channel",
			Subsystem: "ingest",
			Name:      "jobs_in_flight",
			Help:      "Number of ingestion jobs currently being processed",
		},
	)

	// IngestDeadLettered counts jobs that exhausted their attempts
	IngestDeadLettered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "channel",
			Subsystem: "ingest",
			Name:      "dead_lettered_total",
			Help:      "Total number of ingestion jobs sent to the dead letter queue",
		},
		[]string{"tenant_id"},
	)

	// MessagesSent counts outbound dispatches by message type and outcome
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "channel",
			Subsystem: "dispatch",
			Name:      "messages_total",
			Help:      "Total number of outbound dispatches by type and status",
		},
		[]string{"type", "status"},
	)

	// DispatchDuration tracks time spent in the protocol send call
	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "channel",
			Subsystem: "dispatch",
			Name:      "send_duration_seconds",
			Help:      "Duration of protocol send calls in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"type"},
	)

	// StorageRequests counts calls to the storage collaborator
	StorageRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "channel",
			Subsystem: "storage",
			Name:      "requests_total",
			Help:      "Total number of storage collaborator requests",
		},
		[]string{"operation", "status"},
	)

	// IngestStreamLength is the ingestion stream length seen by the last
	// maintenance run
	IngestStreamLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "channel",
			Subsystem: "ingest",
			Name:      "stream_length",
			Help:      "Entries in the ingestion stream after trimming",
		},
	)

	// CredentialsPruned counts stale credential rows removed
	CredentialsPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "channel",
			Subsystem: "credentials",
			Name:      "pruned_total",
			Help:      "Total number of stale channel credentials deleted",
		},
	)
)
