package execution

import (
	"math"
	"time"

	"github.com/mselser95/binary-arb/pkg/types"
	"go.uber.org/zap"
)

// fillEpsilon absorbs float noise in share quantities.
const fillEpsilon = 1e-6

// backoff yields exponentially growing poll delays up to a cap.
type backoff struct {
	next time.Duration
	max  time.Duration
	mult float64
}

func newBackoff(initial, maxDelay time.Duration, mult float64) *backoff {
	return &backoff{next: initial, max: maxDelay, mult: mult}
}

// Next returns the current delay and advances it.
func (b *backoff) Next() time.Duration {
	d := b.next
	b.next = time.Duration(float64(b.next) * b.mult)
	if b.next > b.max {
		b.next = b.max
	}
	return d
}

var statusRank = map[types.OrderStatus]int{
	types.OrderPending:         0,
	types.OrderPartiallyFilled: 1,
	types.OrderFilled:          2,
	types.OrderCanceled:        2,
	types.OrderRejected:        2,
}

func statusForKind(kind types.OrderEventKind) types.OrderStatus {
	switch kind {
	case types.OrderFill:
		return types.OrderPartiallyFilled
	case types.OrderCancel:
		return types.OrderCanceled
	case types.OrderReject:
		return types.OrderRejected
	default:
		return types.OrderPending
	}
}

// applyEvent folds ev into o and reports whether o changed. Filled size is
// cumulative and never shrinks, and a terminal status is never replaced, so
// duplicated or reordered events are harmless.
func applyEvent(o *types.Order, ev types.OrderEvent, now time.Time) bool {
	changed := false

	status := ev.Status
	if status == "" {
		status = statusForKind(ev.Kind)
	}

	filled := math.Min(ev.FilledSize, o.Size)
	if status == types.OrderFilled && filled <= fillEpsilon {
		filled = o.Size
	}
	if filled > o.FilledSize+fillEpsilon {
		o.FilledSize = filled
		o.AvgFillPrice = ev.FillPrice
		if o.AvgFillPrice <= 0 {
			o.AvgFillPrice = o.Price
		}
		changed = true
	}

	// A fill notice that carries no quantity is not a partial fill.
	if status == types.OrderPartiallyFilled && o.FilledSize <= fillEpsilon {
		status = o.Status
	}

	if !o.Status.IsTerminal() && status != o.Status && statusRank[status] >= statusRank[o.Status] {
		o.Status = status
		changed = true
	}

	if !o.Status.IsTerminal() {
		switch {
		case o.FilledSize >= o.Size-fillEpsilon:
			o.Status = types.OrderFilled
			changed = true
		case o.FilledSize > fillEpsilon && o.Status == types.OrderPending:
			o.Status = types.OrderPartiallyFilled
			changed = true
		}
	}

	if changed {
		o.UpdatedAt = ev.Timestamp
		if o.UpdatedAt.IsZero() {
			o.UpdatedAt = now
		}
	}

	return changed
}

// poll reconciles every live acknowledged order selected by include against
// the exchange.
func (r *runner) poll(include func(o *types.Order) bool) error {
	var events []types.OrderEvent
	for _, o := range r.current().Orders() {
		if !include(o) || !o.Acknowledged() || o.Status.IsTerminal() {
			continue
		}

		ev, err := r.ctrl.client.GetOrder(r.ctx, o.ID)
		if err != nil {
			PollErrorsTotal.Inc()
			r.logger.Warn("order-query-failed-retrying",
				zap.String("order-id", o.ID),
				zap.String("client-id", o.ClientID),
				zap.Error(err))
			continue
		}
		events = append(events, ev)
	}

	for _, ev := range events {
		if err := r.apply(ev); err != nil {
			return err
		}
	}
	return nil
}
