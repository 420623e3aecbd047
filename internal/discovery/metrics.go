package discovery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MarketsDiscoveredTotal tracks markets returned by the Gamma API.
	MarketsDiscoveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "binary_arb_discovery_markets_total",
		Help: "Total number of markets returned by the Gamma API",
	})

	// NewMarketsTotal tracks newly tracked binary markets.
	NewMarketsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "binary_arb_discovery_new_markets_total",
		Help: "Total number of new binary markets tracked",
	})

	// MarketsClosedTotal tracks markets marked closed.
	MarketsClosedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "binary_arb_discovery_markets_closed_total",
		Help: "Total number of tracked markets marked closed",
	})

	// PollDurationSeconds tracks API poll latency.
	PollDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "binary_arb_discovery_poll_duration_seconds",
		Help:    "Duration of Gamma API polls",
		Buckets: prometheus.DefBuckets,
	})

	// PollErrorsTotal tracks API poll failures.
	PollErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "binary_arb_discovery_poll_errors_total",
		Help: "Total number of Gamma API poll failures",
	})
)
