package wallet

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	// MATICBalance tracks the MATIC balance available for gas.
	MATICBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "binary_arb_wallet_matic_balance",
		Help: "Current MATIC balance in wallet (native units)",
	})

	// USDCBalance tracks the USDC collateral balance.
	USDCBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "binary_arb_wallet_usdc_balance",
		Help: "Current USDC balance in wallet (USD)",
	})

	// USDCAllowance tracks the USDC allowance approved to the CTF exchange.
	USDCAllowance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "binary_arb_wallet_usdc_allowance",
		Help: "USDC allowance approved to CTF Exchange (USD)",
	})

	// UpdateErrorsTotal tracks failed balance polls.
	UpdateErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "binary_arb_wallet_update_errors_total",
		Help: "Total number of failed wallet update attempts",
	})

	// UpdateDuration tracks the time taken to fetch balances.
	UpdateDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "binary_arb_wallet_update_duration_seconds",
		Help:    "Time taken to fetch wallet data (seconds)",
		Buckets: prometheus.DefBuckets,
	})

	// LastUpdateTimestamp is the Unix time of the last successful poll.
	LastUpdateTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "binary_arb_wallet_last_update_timestamp",
		Help: "Unix timestamp of last successful wallet update",
	})
)
