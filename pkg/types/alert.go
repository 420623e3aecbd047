package types

import "time"

// Alert is a condition an operator has to look at.
type Alert struct {
	Kind     ErrorKind `json:"kind"`
	CycleID  string    `json:"cycle_id,omitempty"`
	MarketID string    `json:"market_id,omitempty"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}

// Alerter receives operator alerts.
type Alerter interface {
	Raise(alert Alert)
}
