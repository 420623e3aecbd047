package websocket

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks whether the market feed is connected.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "binary_arb_feed_active_connections",
		Help: "Number of active market feed connections",
	})

	// ReconnectAttemptsTotal tracks reconnection attempts.
	ReconnectAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "binary_arb_feed_reconnect_attempts_total",
		Help: "Total number of market feed reconnection attempts",
	})

	// ReconnectFailuresTotal tracks reconnection failures.
	ReconnectFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "binary_arb_feed_reconnect_failures_total",
		Help: "Total number of market feed reconnection failures",
	})

	// MessagesReceivedTotal tracks messages received by type.
	MessagesReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "binary_arb_feed_messages_received_total",
			Help: "Total number of market feed messages received",
		},
		[]string{"event_type"},
	)

	// MessageLatencySeconds tracks message hand-off latency.
	MessageLatencySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "binary_arb_feed_message_latency_seconds",
		Help:    "Market feed message hand-off latency",
		Buckets: prometheus.DefBuckets,
	})

	// SubscriptionCount tracks subscribed tokens.
	SubscriptionCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "binary_arb_feed_subscription_count",
		Help: "Number of subscribed outcome tokens",
	})

	// MessagesDroppedTotal tracks dropped messages.
	MessagesDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "binary_arb_feed_messages_dropped_total",
			Help: "Total number of market feed messages dropped",
		},
		[]string{"reason"},
	)

	// ConnectionDuration tracks connection lifetime.
	ConnectionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "binary_arb_feed_connection_duration_seconds",
		Help:    "Duration of market feed connections before disconnect",
		Buckets: []float64{1, 60, 300, 600, 1800, 3600, 7200, 14400, 43200, 86400},
	})

	// UnsubscriptionsTotal tracks token unsubscriptions.
	UnsubscriptionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "binary_arb_feed_unsubscriptions_total",
		Help: "Total number of token unsubscriptions",
	})
)
