package control

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CommandsTotal tracks operator commands.
var CommandsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "binary_arb_control_commands_total",
		Help: "Operator commands by command and result",
	},
	[]string{"command", "result"},
)
