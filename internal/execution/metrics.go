package execution

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CandidatesTotal tracks candidates received by the controller.
	CandidatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "binary_arb_execution_candidates_total",
			Help: "Candidates received by result",
		},
		[]string{"result"},
	)

	// CyclesTotal tracks finished cycles.
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "binary_arb_execution_cycles_total",
			Help: "Finished cycles by terminal state and reason",
		},
		[]string{"state", "reason"},
	)

	// OpenCycles tracks non-terminal cycles.
	OpenCycles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "binary_arb_execution_open_cycles",
		Help: "Number of non-terminal cycles",
	})

	// SubmissionsTotal tracks order submissions by role.
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "binary_arb_execution_submissions_total",
			Help: "Order submissions by role and result",
		},
		[]string{"role", "result"},
	)

	// SubmitLatencySeconds tracks submit-to-acknowledgement latency.
	SubmitLatencySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "binary_arb_execution_submit_latency_seconds",
		Help:    "Order submit latency",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})

	// CycleDurationSeconds tracks time from candidate to terminal state.
	CycleDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "binary_arb_execution_cycle_duration_seconds",
		Help:    "Duration of a cycle from snapshot to terminal state",
		Buckets: prometheus.DefBuckets,
	})

	// FillTimeoutsTotal tracks cycles whose legs did not fill in time.
	FillTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "binary_arb_execution_fill_timeouts_total",
		Help: "Cycles that hit the fill timeout",
	})

	// RemediationsTotal tracks unwind orders.
	RemediationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "binary_arb_execution_remediations_total",
			Help: "Remediation attempts by result",
		},
		[]string{"result"},
	)

	// OrderEventsTotal tracks order events routed to cycles.
	OrderEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "binary_arb_execution_order_events_total",
			Help: "Order events by routing result",
		},
		[]string{"result"},
	)

	// PollErrorsTotal tracks failed order status queries.
	PollErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "binary_arb_execution_poll_errors_total",
		Help: "Failed order status queries",
	})

	// PersistFailuresTotal tracks cycle writes that failed after retries.
	PersistFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "binary_arb_execution_persist_failures_total",
		Help: "Cycle writes that failed after store retries",
	})

	// RealizedPnLUSD tracks cumulative realized PnL of this process.
	RealizedPnLUSD = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "binary_arb_execution_realized_pnl_usd",
		Help: "Cumulative realized PnL since start",
	})

	// RecoveredCyclesTotal tracks cycles resumed at startup.
	RecoveredCyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "binary_arb_execution_recovered_cycles_total",
		Help: "Open cycles resumed from the store",
	})

	// AlertsTotal tracks operator alerts.
	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "binary_arb_execution_alerts_total",
			Help: "Operator alerts by kind",
		},
		[]string{"kind"},
	)

	// Paused is 1 while admission of new cycles is paused.
	Paused = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "binary_arb_execution_paused",
		Help: "Whether admission of new cycles is paused (1 = paused)",
	})
)
