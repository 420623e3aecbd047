package orderbook

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UpdatesTotal tracks applied order book updates by kind.
	UpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "binary_arb_orderbook_updates_total",
			Help: "Total number of applied order book updates",
		},
		[]string{"kind"},
	)

	// RejectedUpdatesTotal tracks dropped updates by reason.
	RejectedUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "binary_arb_orderbook_rejected_updates_total",
			Help: "Total number of rejected order book updates",
		},
		[]string{"reason"},
	)

	// UpdatesDroppedTotal tracks notifications lost to a full channel.
	UpdatesDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "binary_arb_orderbook_notifications_dropped_total",
			Help: "Total number of update notifications dropped",
		},
		[]string{"reason"},
	)

	// StaleReadsTotal tracks reads that exceeded the staleness bound.
	StaleReadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "binary_arb_orderbook_stale_reads_total",
		Help: "Total number of best-price reads on stale data",
	})

	// MarketsTracked tracks the number of markets in memory.
	MarketsTracked = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "binary_arb_orderbook_markets_tracked",
		Help: "Number of markets tracked in memory",
	})

	// UpdateProcessingDuration tracks time spent applying an update.
	UpdateProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "binary_arb_orderbook_update_duration_seconds",
		Help:    "Time spent applying an order book update",
		Buckets: []float64{0.000001, 0.00001, 0.0001, 0.001, 0.01},
	})
)
