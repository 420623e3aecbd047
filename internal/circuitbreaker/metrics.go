package circuitbreaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BreakerOpen indicates whether the circuit breaker is blocking new cycles.
	BreakerOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "binary_arb_circuit_breaker_open",
		Help: "Whether the circuit breaker is open (1) or closed (0)",
	})

	// BreakerTrips tracks how many times the breaker has opened.
	BreakerTrips = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "binary_arb_circuit_breaker_trips",
		Help: "Number of times the circuit breaker has opened",
	})

	// StateChangesTotal tracks transitions by target state and cause.
	StateChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "binary_arb_circuit_breaker_state_changes_total",
			Help: "Total number of circuit breaker state changes",
		},
		[]string{"state", "cause"},
	)
)
