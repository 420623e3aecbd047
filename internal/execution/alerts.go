package execution

import (
	"sync"
	"time"

	"github.com/mselser95/binary-arb/pkg/types"
	"go.uber.org/zap"
)

// Alert is a condition an operator has to look at.
type Alert = types.Alert

// Alerter receives operator alerts.
type Alerter = types.Alerter

// AlertLog logs alerts and keeps the most recent ones for the status view.
type AlertLog struct {
	mu     sync.Mutex
	alerts []Alert
	limit  int
	logger *zap.Logger
}

// NewAlertLog creates an alert log keeping up to limit alerts.
func NewAlertLog(limit int, logger *zap.Logger) *AlertLog {
	if limit <= 0 {
		limit = 100
	}
	return &AlertLog{limit: limit, logger: logger}
}

// Raise records an alert.
func (l *AlertLog) Raise(alert Alert) {
	if alert.At.IsZero() {
		alert.At = time.Now()
	}

	AlertsTotal.WithLabelValues(string(alert.Kind)).Inc()
	l.logger.Error("operator-alert",
		zap.String("kind", string(alert.Kind)),
		zap.String("cycle-id", alert.CycleID),
		zap.String("market-id", alert.MarketID),
		zap.String("message", alert.Message))

	l.mu.Lock()
	defer l.mu.Unlock()
	l.alerts = append(l.alerts, alert)
	if len(l.alerts) > l.limit {
		l.alerts = l.alerts[len(l.alerts)-l.limit:]
	}
}

// Recent returns stored alerts, oldest first.
func (l *AlertLog) Recent() []Alert {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Alert, len(l.alerts))
	copy(out, l.alerts)
	return out
}
