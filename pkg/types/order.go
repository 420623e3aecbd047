package types

import "time"

// Outcome identifies one leg of a binary market.
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// Side is the order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the side that flattens a position opened with s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderStatus is the exchange status of an order.
type OrderStatus string

const (
	OrderPending         OrderStatus = "PENDING"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderCanceled        OrderStatus = "CANCELED"
	OrderRejected        OrderStatus = "REJECTED"
)

// IsTerminal reports whether no further fills can happen.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderFilled || s == OrderCanceled || s == OrderRejected
}

// OrderRole distinguishes arbitrage legs from flatten orders.
type OrderRole string

const (
	RoleLeg         OrderRole = "LEG"
	RoleRemediation OrderRole = "REMEDIATION"
)

// Order is one order owned by a Cycle.
type Order struct {
	ID           string      `json:"id"`        // exchange order id, empty until acknowledged
	ClientID     string      `json:"client_id"` // stable idempotency key
	CycleID      string      `json:"cycle_id"`
	MarketID     string      `json:"market_id"`
	TokenID      string      `json:"token_id"`
	Outcome      Outcome     `json:"outcome"`
	Side         Side        `json:"side"`
	Role         OrderRole   `json:"role"`
	Price        float64     `json:"price"`
	Size         float64     `json:"size"`
	FilledSize   float64     `json:"filled_size"`
	AvgFillPrice float64     `json:"avg_fill_price"`
	Fees         float64     `json:"fees"`
	Status       OrderStatus `json:"status"`
	LatencyMS    int64       `json:"latency_ms"`
	PlacedAt     time.Time   `json:"placed_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Remaining is the unfilled size.
func (o *Order) Remaining() float64 {
	r := o.Size - o.FilledSize
	if r < 0 {
		return 0
	}
	return r
}

// Acknowledged reports whether the exchange assigned an id.
func (o *Order) Acknowledged() bool {
	return o.ID != ""
}

// OrderRequest is what the execution substrate needs to place an order.
type OrderRequest struct {
	ClientID  string
	MarketID  string
	TokenID   string
	Side      Side
	Price     float64
	Size      float64
	OrderType string // GTC for legs, FAK for remediation
}

// OrderEventKind tags an OrderEvent.
type OrderEventKind int

const (
	OrderAck OrderEventKind = iota + 1
	OrderFill
	OrderCancel
	OrderReject
)

func (k OrderEventKind) String() string {
	switch k {
	case OrderAck:
		return "ack"
	case OrderFill:
		return "fill"
	case OrderCancel:
		return "cancel"
	case OrderReject:
		return "reject"
	default:
		return "unknown"
	}
}

// OrderEvent is an order-status update from the execution substrate.
// FilledSize is cumulative, FillPrice is the average price of all fills.
type OrderEvent struct {
	Kind       OrderEventKind
	OrderID    string
	Status     OrderStatus
	FilledSize float64
	FillPrice  float64
	Reason     string
	Timestamp  time.Time
}

// EventFromStatus builds the event variant that matches an order status,
// used when reconciling by polling.
func EventFromStatus(orderID string, status OrderStatus, filled, price float64, ts time.Time) OrderEvent {
	kind := OrderAck
	switch status {
	case OrderFilled, OrderPartiallyFilled:
		kind = OrderFill
	case OrderCanceled:
		kind = OrderCancel
	case OrderRejected:
		kind = OrderReject
	}
	return OrderEvent{
		Kind:       kind,
		OrderID:    orderID,
		Status:     status,
		FilledSize: filled,
		FillPrice:  price,
		Timestamp:  ts,
	}
}
