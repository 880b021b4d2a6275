package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activitylog",
		Name:      "events_total",
		Help:      "Inbound events handled, by outcome (saved, rejected, failed, deleted).",
	}, []string{"outcome"})

	ActivitiesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activitylog",
		Name:      "activities_total",
		Help:      "Activities submitted to the write engine, by result (inserted, absorbed).",
	}, []string{"result"})

	InternedValues = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activitylog",
		Name:      "interned_values_total",
		Help:      "Distinct values resolved per registry.",
	}, []string{"registry"})

	DeadlockRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activitylog",
		Name:      "deadlock_retries_total",
		Help:      "Statements re-run after postgres reported a deadlock.",
	}, []string{"statement"})

	SaveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "activitylog",
		Name:      "save_duration_seconds",
		Help:      "Time spent persisting one inbound event.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	})

	BacklogClaims = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activitylog",
		Name:      "backlog_claims_total",
		Help:      "Backlog claim attempts, by queue and outcome (claimed, reclaimed, empty, lost, gated).",
	}, []string{"queue", "outcome"})

	BacklogCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activitylog",
		Name:      "backlog_items_total",
		Help:      "Processed backlog items, by queue and outcome (done, failed).",
	}, []string{"queue", "outcome"})

	MirrorDocuments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activitylog",
		Name:      "mirror_documents_total",
		Help:      "Documents sent to the search index, by outcome (indexed, failed, dropped).",
	}, []string{"outcome"})

	MirrorRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "activitylog",
		Name:      "mirror_retries_total",
		Help:      "Bulk requests to the search index that were retried.",
	})
)

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activitylog",
		Name:      "http_requests_total",
		Help:      "Ops server requests, by method, route and status.",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "activitylog",
		Name:      "http_request_duration_seconds",
		Help:      "Ops server request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
)
