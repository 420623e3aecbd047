package paper

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OrdersTotal tracks simulated order submissions.
	OrdersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "binary_arb_paper_orders_total",
			Help: "Simulated order submissions by result",
		},
		[]string{"result"},
	)

	// FillsTotal tracks simulated fills.
	FillsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "binary_arb_paper_fills_total",
			Help: "Simulated fills by side",
		},
		[]string{"side"},
	)

	// EventsDroppedTotal tracks events dropped on a full buffer.
	EventsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "binary_arb_paper_events_dropped_total",
		Help: "Order events dropped because the buffer was full",
	})
)
