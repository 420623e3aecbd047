package storage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WriteRetriesTotal tracks failed write attempts that were retried or gave up.
	WriteRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "binary_arb_storage_write_retries_total",
			Help: "Failed storage write attempts by entity",
		},
		[]string{"entity"},
	)

	// WriteFailuresTotal tracks writes that exhausted their retries.
	WriteFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "binary_arb_storage_write_failures_total",
			Help: "Storage writes that failed after all retries",
		},
		[]string{"entity"},
	)

	// WriteDuration tracks successful write latency including retries.
	WriteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "binary_arb_storage_write_duration_seconds",
			Help:    "Time to complete a storage write including retries",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"entity"},
	)
)
