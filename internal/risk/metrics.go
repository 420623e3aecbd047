package risk

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChecksTotal tracks admission checks.
	ChecksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "binary_arb_risk_checks_total",
		Help: "Total number of risk admission checks",
	})

	// AdmissionsTotal tracks admission results by code.
	AdmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "binary_arb_risk_admissions_total",
			Help: "Admission results (approved or rejection code)",
		},
		[]string{"result"},
	)

	// OutcomesTotal tracks recorded cycle outcomes.
	OutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "binary_arb_risk_outcomes_total",
			Help: "Recorded cycle outcomes by result",
		},
		[]string{"result"},
	)

	// OpenExposure tracks capital reserved by unresolved cycles.
	OpenExposure = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "binary_arb_risk_open_exposure_usd",
		Help: "Capital committed to unresolved cycles",
	})

	// SessionPnL tracks realized PnL since the ledger was created.
	SessionPnL = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "binary_arb_risk_session_pnl_usd",
		Help: "Realized session PnL",
	})

	// DailyPnL tracks realized PnL for the current UTC day.
	DailyPnL = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "binary_arb_risk_daily_pnl_usd",
		Help: "Realized PnL for the current UTC day",
	})

	// ConsecutiveLosses tracks the losing streak.
	ConsecutiveLosses = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "binary_arb_risk_consecutive_losses",
		Help: "Current consecutive losing cycles",
	})

	// PersistErrorsTotal tracks failed ledger and breaker writes.
	PersistErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "binary_arb_risk_persist_errors_total",
			Help: "Failed risk state writes",
		},
		[]string{"entity"},
	)
)
