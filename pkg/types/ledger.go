package types

import "time"

// BreakerStatus is the circuit breaker position.
type BreakerStatus string

const (
	BreakerClosed BreakerStatus = "CLOSED"
	BreakerOpen   BreakerStatus = "OPEN"
)

// BreakerState is the persisted circuit breaker.
type BreakerState struct {
	Status   BreakerStatus `json:"status"`
	Reason   string        `json:"reason,omitempty"`
	OpenedAt time.Time     `json:"opened_at,omitempty"`
	Trips    int           `json:"trips"`
}

// LedgerState is the persisted risk ledger.
type LedgerState struct {
	SessionPnL        float64   `json:"session_pnl"`
	DailyPnL          float64   `json:"daily_pnl"`
	Day               string    `json:"day"` // YYYY-MM-DD, UTC
	ConsecutiveLosses int       `json:"consecutive_losses"`
	OpenExposure      float64   `json:"open_exposure"`
	CyclesRecorded    int       `json:"cycles_recorded"`
	UpdatedAt         time.Time `json:"updated_at"`
}
