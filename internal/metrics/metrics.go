// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Ingestion outcomes.
const (
	OutcomeCreated     = "created"
	OutcomeMerged      = "merged"
	OutcomeReopened    = "reopened"
	OutcomeInvalid     = "invalid"
	OutcomeUnavailable = "unavailable"
	OutcomeRejected    = "rejected"
)

var (
	EventsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "errhub_events_ingested_total",
			Help: "Error events received, by outcome",
		},
		[]string{"outcome"},
	)

	IngestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "errhub_ingest_duration_seconds",
			Help:    "Duration of validate, fingerprint and upsert for one event",
			Buckets: prometheus.DefBuckets,
		},
	)

	StoreRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "errhub_store_retries_total",
			Help: "Upsert attempts retried after a store failure",
		},
	)

	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "errhub_status_transitions_total",
			Help: "Operator status transitions, by action and result",
		},
		[]string{"action", "result"},
	)

	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "errhub_critical_notifications_total",
			Help: "Critical-impact signals published to the notification stream",
		},
		[]string{"result"},
	)

	RateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "errhub_rate_limited_requests_total",
			Help: "Requests rejected by the per-key rate limiter",
		},
	)
)

// Register registers every collector with reg.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		EventsIngestedTotal,
		IngestDuration,
		StoreRetriesTotal,
		TransitionsTotal,
		NotificationsTotal,
		RateLimitedTotal,
	)
}
