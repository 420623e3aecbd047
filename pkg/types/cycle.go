package types

import "time"

// Direction is the arbitrage direction of a Cycle.
type Direction string

const (
	// Forward buys both asks.
	Forward Direction = "FORWARD"
	// Reverse sells both bids.
	Reverse Direction = "REVERSE"
)

// LegSide is the order side used for both legs in this direction.
func (d Direction) LegSide() Side {
	if d == Reverse {
		return SideSell
	}
	return SideBuy
}

// PipelineState is the execution state of a Cycle.
type PipelineState string

const (
	StateScanning   PipelineState = "SCANNING"
	StateSnapshot   PipelineState = "SNAPSHOT"
	StateCandidate  PipelineState = "CANDIDATE"
	StatePlacing    PipelineState = "PLACING"
	StateMonitoring PipelineState = "MONITORING"
	StateResolving  PipelineState = "RESOLVING"
	StateClosed     PipelineState = "CLOSED"
	StateAborted    PipelineState = "ABORTED"
)

// IsTerminal reports whether the Cycle is finished.
func (s PipelineState) IsTerminal() bool {
	return s == StateClosed || s == StateAborted
}

// Cycle is one arbitrage attempt: two legs driven through the pipeline.
type Cycle struct {
	ID              string        `json:"id"`
	MarketID        string        `json:"market_id"`
	Direction       Direction     `json:"direction"`
	State           PipelineState `json:"state"`
	Size            float64       `json:"size"`
	YesPrice        float64       `json:"yes_price"`
	NoPrice         float64       `json:"no_price"`
	Edge            float64       `json:"edge"`
	RequiredCapital float64       `json:"required_capital"`
	Admitted        bool          `json:"admitted"`
	YesOrder        *Order        `json:"yes_order,omitempty"`
	NoOrder         *Order        `json:"no_order,omitempty"`
	Remediations    []*Order      `json:"remediations,omitempty"`
	RealizedPnL     *float64      `json:"realized_pnl,omitempty"`
	AbortReason     ErrorKind     `json:"abort_reason,omitempty"`
	Note            string        `json:"note,omitempty"`
	OutcomeRecorded bool          `json:"outcome_recorded"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	ClosedAt        *time.Time    `json:"closed_at,omitempty"`
}

// Legs returns the YES and NO leg orders that exist.
func (c *Cycle) Legs() []*Order {
	legs := make([]*Order, 0, 2)
	if c.YesOrder != nil {
		legs = append(legs, c.YesOrder)
	}
	if c.NoOrder != nil {
		legs = append(legs, c.NoOrder)
	}
	return legs
}

// Orders returns legs followed by remediation orders.
func (c *Cycle) Orders() []*Order {
	return append(c.Legs(), c.Remediations...)
}

// PnL returns the realized PnL or zero when unresolved.
func (c *Cycle) PnL() float64 {
	if c.RealizedPnL == nil {
		return 0
	}
	return *c.RealizedPnL
}

// Clone returns a deep copy safe to hand to other goroutines.
func (c *Cycle) Clone() *Cycle {
	cp := *c
	if c.YesOrder != nil {
		o := *c.YesOrder
		cp.YesOrder = &o
	}
	if c.NoOrder != nil {
		o := *c.NoOrder
		cp.NoOrder = &o
	}
	if c.Remediations != nil {
		cp.Remediations = make([]*Order, len(c.Remediations))
		for i, r := range c.Remediations {
			o := *r
			cp.Remediations[i] = &o
		}
	}
	if c.RealizedPnL != nil {
		v := *c.RealizedPnL
		cp.RealizedPnL = &v
	}
	if c.ClosedAt != nil {
		t := *c.ClosedAt
		cp.ClosedAt = &t
	}
	return &cp
}
