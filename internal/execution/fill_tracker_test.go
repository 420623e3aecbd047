package execution

import (
	"testing"
	"time"

	"github.com/mselser95/binary-arb/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func pendingOrder() *types.Order {
	return &types.Order{ID: "o1", ClientID: "c-yes", Price: 0.48, Size: 10, Status: types.OrderPending}
}

func TestApplyEvent(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		events  []types.OrderEvent
		status  types.OrderStatus
		filled  float64
		price   float64
		changed bool // result of the last event
	}{
		{
			name:    "ack keeps pending",
			events:  []types.OrderEvent{{Kind: types.OrderAck, Status: types.OrderPending}},
			status:  types.OrderPending,
			changed: false,
		},
		{
			name:    "zero-size fill keeps pending",
			events:  []types.OrderEvent{{Kind: types.OrderFill, FilledSize: 0}},
			status:  types.OrderPending,
			changed: false,
		},
		{
			name:    "zero-size partial status keeps pending",
			events:  []types.OrderEvent{{Kind: types.OrderFill, Status: types.OrderPartiallyFilled, FilledSize: 1e-9}},
			status:  types.OrderPending,
			changed: false,
		},
		{
			name:    "partial fill",
			events:  []types.OrderEvent{{Kind: types.OrderFill, FilledSize: 4, FillPrice: 0.47}},
			status:  types.OrderPartiallyFilled,
			filled:  4,
			price:   0.47,
			changed: true,
		},
		{
			name: "duplicate fill ignored",
			events: []types.OrderEvent{
				{Kind: types.OrderFill, Status: types.OrderPartiallyFilled, FilledSize: 4, FillPrice: 0.48},
				{Kind: types.OrderFill, Status: types.OrderPartiallyFilled, FilledSize: 4, FillPrice: 0.48},
			},
			status:  types.OrderPartiallyFilled,
			filled:  4,
			price:   0.48,
			changed: false,
		},
		{
			name: "older fill never shrinks",
			events: []types.OrderEvent{
				{Kind: types.OrderFill, FilledSize: 6, FillPrice: 0.48},
				{Kind: types.OrderFill, Status: types.OrderPending, FilledSize: 2, FillPrice: 0.48},
			},
			status:  types.OrderPartiallyFilled,
			filled:  6,
			price:   0.48,
			changed: false,
		},
		{
			name:    "filled without size means full size at limit",
			events:  []types.OrderEvent{{Kind: types.OrderFill, Status: types.OrderFilled}},
			status:  types.OrderFilled,
			filled:  10,
			price:   0.48,
			changed: true,
		},
		{
			name:    "cumulative size reaching order size completes",
			events:  []types.OrderEvent{{Kind: types.OrderFill, FilledSize: 12, FillPrice: 0.48}},
			status:  types.OrderFilled,
			filled:  10,
			price:   0.48,
			changed: true,
		},
		{
			name: "terminal status is final",
			events: []types.OrderEvent{
				{Kind: types.OrderCancel, Status: types.OrderCanceled},
				{Kind: types.OrderAck, Status: types.OrderPending},
			},
			status:  types.OrderCanceled,
			changed: false,
		},
		{
			name: "late fill after cancel is kept",
			events: []types.OrderEvent{
				{Kind: types.OrderCancel, Status: types.OrderCanceled},
				{Kind: types.OrderFill, Status: types.OrderPartiallyFilled, FilledSize: 3, FillPrice: 0.48},
			},
			status:  types.OrderCanceled,
			filled:  3,
			price:   0.48,
			changed: true,
		},
		{
			name:    "reject",
			events:  []types.OrderEvent{{Kind: types.OrderReject}},
			status:  types.OrderRejected,
			changed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := pendingOrder()
			var changed bool
			for _, ev := range tt.events {
				changed = applyEvent(o, ev, now)
			}
			assert.Equal(t, tt.status, o.Status)
			assert.InDelta(t, tt.filled, o.FilledSize, 1e-9)
			assert.InDelta(t, tt.price, o.AvgFillPrice, 1e-9)
			assert.Equal(t, tt.changed, changed)
		})
	}
}

func TestApplyEvent_TimestampFallback(t *testing.T) {
	now := time.Unix(1700000000, 0)
	o := pendingOrder()
	assert.True(t, applyEvent(o, types.OrderEvent{Kind: types.OrderFill, FilledSize: 1}, now))
	assert.Equal(t, now, o.UpdatedAt)

	ts := now.Add(time.Second)
	assert.True(t, applyEvent(o, types.OrderEvent{Kind: types.OrderFill, FilledSize: 2, Timestamp: ts}, now))
	assert.Equal(t, ts, o.UpdatedAt)
}

func TestBackoff(t *testing.T) {
	b := newBackoff(100*time.Millisecond, 300*time.Millisecond, 2)
	assert.Equal(t, 100*time.Millisecond, b.Next())
	assert.Equal(t, 200*time.Millisecond, b.Next())
	assert.Equal(t, 300*time.Millisecond, b.Next())
	assert.Equal(t, 300*time.Millisecond, b.Next())
}

func filledLeg(outcome types.Outcome, token string, side types.Side, price, filled float64) *types.Order {
	return &types.Order{
		TokenID: token, Outcome: outcome, Side: side, Role: types.RoleLeg,
		Price: price, Size: 10, FilledSize: filled, AvgFillPrice: price,
	}
}

func TestRealizedPnL(t *testing.T) {
	zero := decimal.Zero

	forward := &types.Cycle{
		Direction: types.Forward,
		YesOrder:  filledLeg(types.OutcomeYes, "y", types.SideBuy, 0.48, 10),
		NoOrder:   filledLeg(types.OutcomeNo, "n", types.SideBuy, 0.49, 10),
	}
	assert.InDelta(t, 0.30, realizedPnL(forward, zero).InexactFloat64(), 1e-12)
	assert.InDelta(t, 0.30-0.0097*10, realizedPnL(forward, decimal.NewFromFloat(0.01)).InexactFloat64(), 1e-12)

	reverse := &types.Cycle{
		Direction: types.Reverse,
		YesOrder:  filledLeg(types.OutcomeYes, "y", types.SideSell, 0.52, 10),
		NoOrder:   filledLeg(types.OutcomeNo, "n", types.SideSell, 0.50, 10),
	}
	assert.InDelta(t, 0.20, realizedPnL(reverse, zero).InexactFloat64(), 1e-12)

	// YES filled 10, NO filled 6: 6 matched, 4 sold back at 0.45.
	unwound := &types.Cycle{
		Direction: types.Forward,
		YesOrder:  filledLeg(types.OutcomeYes, "y", types.SideBuy, 0.48, 10),
		NoOrder:   filledLeg(types.OutcomeNo, "n", types.SideBuy, 0.49, 6),
		Remediations: []*types.Order{{
			TokenID: "y", Side: types.SideSell, Role: types.RoleRemediation,
			Price: 0.45, Size: 4, FilledSize: 4, AvgFillPrice: 0.45,
		}},
	}
	assert.InDelta(t, 6*0.03+4*(0.45-0.48), realizedPnL(unwound, zero).InexactFloat64(), 1e-12)

	// Short YES bought back above the sale price loses the difference.
	shortUnwound := &types.Cycle{
		Direction: types.Reverse,
		YesOrder:  filledLeg(types.OutcomeYes, "y", types.SideSell, 0.52, 5),
		NoOrder:   filledLeg(types.OutcomeNo, "n", types.SideSell, 0.50, 0),
		Remediations: []*types.Order{{
			TokenID: "y", Side: types.SideBuy, Role: types.RoleRemediation,
			Price: 0.55, Size: 5, FilledSize: 5, AvgFillPrice: 0.55,
		}},
	}
	assert.InDelta(t, -0.15, realizedPnL(shortUnwound, zero).InexactFloat64(), 1e-12)
}

func TestUnmatched(t *testing.T) {
	c := &types.Cycle{
		YesOrder: filledLeg(types.OutcomeYes, "y", types.SideBuy, 0.48, 10),
		NoOrder:  filledLeg(types.OutcomeNo, "n", types.SideBuy, 0.49, 7),
	}
	leg, excess := unmatched(c)
	assert.Equal(t, "y", leg.TokenID)
	assert.InDelta(t, 3, excess, 1e-9)

	c.Remediations = []*types.Order{{TokenID: "y", FilledSize: 1}}
	_, excess = unmatched(c)
	assert.InDelta(t, 2, excess, 1e-9)

	c.Remediations[0].FilledSize = 3
	leg, _ = unmatched(c)
	assert.Nil(t, leg)
}

func TestRequiredCapitalAndEdge(t *testing.T) {
	assert.InDelta(t, 9.7, requiredCapital(types.Forward, 10, 0.48, 0.49), 1e-12)
	assert.InDelta(t, 9.8, requiredCapital(types.Reverse, 10, 0.52, 0.50), 1e-12)
	assert.True(t, edgeOf(types.Forward, 0.48, 0.49).Equal(decimal.RequireFromString("0.03")))
	assert.True(t, edgeOf(types.Reverse, 0.52, 0.50).Equal(decimal.RequireFromString("0.02")))
}

func TestAlertLog_KeepsMostRecent(t *testing.T) {
	log := NewAlertLog(2, zaptest.NewLogger(t))
	log.Raise(Alert{Kind: types.KindPersistence, Message: "a"})
	log.Raise(Alert{Kind: types.KindPersistence, Message: "b"})
	log.Raise(Alert{Kind: types.KindRemediation, Message: "c"})

	recent := log.Recent()
	assert.Len(t, recent, 2)
	assert.Equal(t, "b", recent[0].Message)
	assert.Equal(t, "c", recent[1].Message)
	assert.False(t, recent[1].At.IsZero())
}
