package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mselser95/binary-arb/pkg/types"
)

// Behavior decides what FakeExchange does with a submitted order.
type Behavior struct {
	Err       error   // returned by Submit, nothing is created
	FillRatio float64 // fraction filled on acceptance
	FillPrice float64 // zero fills at the limit price
	Silent    bool    // no events, state only visible through GetOrder
	CancelErr error   // returned by Cancel
}

// FakeExchange is a scriptable OrderClient. Orders are deduplicated by
// client id the way the live client does it.
type FakeExchange struct {
	mu       sync.Mutex
	behave   func(req types.OrderRequest) Behavior
	sink     func(types.OrderEvent)
	orders   map[string]*fakeOrder
	byClient map[string]string
	requests []types.OrderRequest
	cancels  []string
	seq      int
}

type fakeOrder struct {
	req      types.OrderRequest
	behavior Behavior
	status   types.OrderStatus
	filled   float64
	price    float64
}

// NewFakeExchange creates an exchange that applies behave to every order.
// A nil behave fills everything immediately.
func NewFakeExchange(behave func(req types.OrderRequest) Behavior) *FakeExchange {
	if behave == nil {
		behave = func(types.OrderRequest) Behavior { return Behavior{FillRatio: 1} }
	}
	return &FakeExchange{
		behave:   behave,
		orders:   make(map[string]*fakeOrder),
		byClient: make(map[string]string),
	}
}

// SetSink sets where order events are delivered.
func (e *FakeExchange) SetSink(sink func(types.OrderEvent)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sink = sink
}

// Submit accepts an order according to its Behavior.
func (e *FakeExchange) Submit(_ context.Context, req types.OrderRequest) (string, error) {
	e.mu.Lock()
	e.requests = append(e.requests, req)
	if id, ok := e.byClient[req.ClientID]; ok {
		e.mu.Unlock()
		return id, nil
	}

	b := e.behave(req)
	if b.Err != nil {
		e.mu.Unlock()
		return "", b.Err
	}

	e.seq++
	id := fmt.Sprintf("order-%d", e.seq)
	o := &fakeOrder{req: req, behavior: b, status: types.OrderPending, price: b.FillPrice}
	if o.price <= 0 {
		o.price = req.Price
	}
	o.filled = req.Size * b.FillRatio
	switch {
	case b.FillRatio >= 1:
		o.filled = req.Size
		o.status = types.OrderFilled
	case b.FillRatio > 0:
		o.status = types.OrderPartiallyFilled
	}
	// Immediate-or-cancel orders never rest.
	if req.OrderType == "FAK" && o.status != types.OrderFilled {
		o.status = types.OrderCanceled
	}
	e.orders[id] = o
	e.byClient[req.ClientID] = id
	ev := e.eventLocked(id, o)
	sink := e.sink
	e.mu.Unlock()

	if sink != nil && !b.Silent {
		sink(ev)
	}
	return id, nil
}

// Cancel cancels a live order.
func (e *FakeExchange) Cancel(_ context.Context, orderID string) error {
	e.mu.Lock()
	e.cancels = append(e.cancels, orderID)
	o, ok := e.orders[orderID]
	if !ok {
		e.mu.Unlock()
		return &types.OrderError{Code: types.ErrUnmatched, Message: "unknown order", OrderID: orderID}
	}
	if o.behavior.CancelErr != nil {
		e.mu.Unlock()
		return o.behavior.CancelErr
	}
	if o.status.IsTerminal() {
		e.mu.Unlock()
		return &types.OrderError{Code: types.ErrUnmatched, Message: "order already " + string(o.status), OrderID: orderID}
	}
	o.status = types.OrderCanceled
	ev := e.eventLocked(orderID, o)
	sink := e.sink
	e.mu.Unlock()

	if sink != nil && !o.behavior.Silent {
		sink(ev)
	}
	return nil
}

// GetOrder returns the current state of an order.
func (e *FakeExchange) GetOrder(_ context.Context, orderID string) (types.OrderEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[orderID]
	if !ok {
		return types.OrderEvent{}, fmt.Errorf("order %s: %w", orderID, types.ErrNotFound)
	}
	return e.eventLocked(orderID, o), nil
}

// Fill raises the cumulative fill of a live order and emits the event.
func (e *FakeExchange) Fill(orderID string, filled float64) {
	e.mu.Lock()
	o, ok := e.orders[orderID]
	if !ok || o.status.IsTerminal() {
		e.mu.Unlock()
		return
	}
	o.filled = filled
	o.status = types.OrderPartiallyFilled
	if filled >= o.req.Size {
		o.filled = o.req.Size
		o.status = types.OrderFilled
	}
	ev := e.eventLocked(orderID, o)
	sink := e.sink
	e.mu.Unlock()

	if sink != nil {
		sink(ev)
	}
}

func (e *FakeExchange) eventLocked(id string, o *fakeOrder) types.OrderEvent {
	price := 0.0
	if o.filled > 0 {
		price = o.price
	}
	return types.EventFromStatus(id, o.status, o.filled, price, time.Now())
}

// OrderID returns the exchange id assigned to a client id.
func (e *FakeExchange) OrderID(clientID string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, ok := e.byClient[clientID]
	return id, ok
}

// Requests returns every Submit call, including deduplicated ones.
func (e *FakeExchange) Requests() []types.OrderRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.OrderRequest, len(e.requests))
	copy(out, e.requests)
	return out
}

// OrderCount returns the number of distinct orders created.
func (e *FakeExchange) OrderCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.orders)
}

// Cancels returns every Cancel call.
func (e *FakeExchange) Cancels() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.cancels))
	copy(out, e.cancels)
	return out
}
