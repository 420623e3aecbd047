package clob

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks CLOB request latency.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "binary_arb_clob_request_duration_seconds",
			Help:    "CLOB API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// RequestErrorsTotal tracks failed CLOB requests.
	RequestErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "binary_arb_clob_request_errors_total",
			Help: "Failed CLOB API requests by status",
		},
		[]string{"method", "status"},
	)

	// SubmissionsTotal tracks order submissions.
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "binary_arb_clob_submissions_total",
			Help: "Order submissions by result",
		},
		[]string{"result"},
	)

	// DedupedSubmissionsTotal tracks resubmissions answered from the cache.
	DedupedSubmissionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "binary_arb_clob_deduped_submissions_total",
		Help: "Resubmissions answered from the client id cache",
	})

	// CancelsTotal tracks cancel requests.
	CancelsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "binary_arb_clob_cancels_total",
			Help: "Cancel requests by result",
		},
		[]string{"result"},
	)

	// MetadataLookupsTotal tracks token metadata lookups.
	MetadataLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "binary_arb_clob_metadata_lookups_total",
			Help: "Token metadata lookups by result",
		},
		[]string{"result"},
	)
)
