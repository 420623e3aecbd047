package arbitrage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CandidatesTotal tracks emitted candidates by direction.
	CandidatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "binary_arb_detector_candidates_total",
			Help: "Total number of arbitrage candidates emitted",
		},
		[]string{"direction"},
	)

	// CandidatesDroppedTotal tracks gaps that were not emitted.
	CandidatesDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "binary_arb_detector_candidates_dropped_total",
			Help: "Total number of candidates dropped before emission",
		},
		[]string{"reason"},
	)

	// CandidateEdgeBPS tracks candidate edge in basis points.
	CandidateEdgeBPS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "binary_arb_detector_candidate_edge_bps",
		Help:    "Candidate edge in basis points",
		Buckets: []float64{10, 25, 50, 100, 200, 500, 1000, 2000, 5000},
	})

	// ScansTotal tracks per-market evaluations.
	ScansTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "binary_arb_detector_scans_total",
		Help: "Total number of market evaluations",
	})

	// DetectionDurationSeconds tracks detection latency.
	DetectionDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "binary_arb_detector_duration_seconds",
		Help:    "Duration of a detection pass",
		Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1},
	})
)
