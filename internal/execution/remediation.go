package execution

import (
	"fmt"
	"math"
	"time"

	"github.com/mselser95/binary-arb/pkg/types"
	"go.uber.org/zap"
)

// resolve flattens any unmatched fill and closes the cycle.
func (r *runner) resolve() error {
	err := r.commit(func(c *types.Cycle) bool {
		if c.State == types.StateResolving {
			return false
		}
		c.State = types.StateResolving
		return true
	})
	if err != nil {
		return err
	}

	// Remediations left live by a restart are driven to completion first.
	for _, rem := range r.current().Remediations {
		if !rem.Status.IsTerminal() {
			if err = r.driveRemediation(rem.ClientID); err != nil {
				return err
			}
		}
	}

	for len(r.current().Remediations) < r.ctrl.config.RemediationAttempts {
		leg, excess := unmatched(r.current())
		if leg == nil {
			break
		}

		placed, err := r.remediate(leg, excess)
		if err != nil {
			return err
		}
		if !placed {
			break
		}
	}

	if leg, excess := unmatched(r.current()); leg != nil {
		RemediationsTotal.WithLabelValues("failed").Inc()
		msg := fmt.Sprintf("%.4f %s shares left unhedged on %s", excess, leg.Outcome, leg.TokenID)
		c := r.current()
		r.ctrl.alerter.Raise(Alert{
			Kind:     types.KindRemediation,
			CycleID:  c.ID,
			MarketID: c.MarketID,
			Message:  msg,
			At:       r.ctrl.now(),
		})
		r.ctrl.Pause("remediation failed on cycle " + c.ID)
		return r.finalize(types.KindRemediation, msg)
	}

	return r.finalize("", "")
}

// remediate places one opposite-side order for the excess on leg at the
// current best price. It reports false when no order could be priced.
func (r *runner) remediate(leg *types.Order, excess float64) (bool, error) {
	c := r.current()
	side := leg.Side.Opposite()

	quote, err := r.ctrl.books.GetBestPrices(c.MarketID)
	price := remediationPrice(side, leg.Outcome, quote)
	if price <= 0 {
		r.logger.Error("remediation-unpriced",
			zap.String("token-id", leg.TokenID),
			zap.String("side", string(side)),
			zap.Error(err))
		return false, nil
	}
	if err != nil {
		r.logger.Warn("remediation-on-stale-book", zap.Error(err))
	}

	order := &types.Order{
		ClientID: fmt.Sprintf("%s-rem-%d", c.ID, len(c.Remediations)+1),
		CycleID:  c.ID,
		MarketID: c.MarketID,
		TokenID:  leg.TokenID,
		Outcome:  leg.Outcome,
		Side:     side,
		Role:     types.RoleRemediation,
		Price:    price,
		Size:     excess,
		Status:   types.OrderPending,
	}

	err = r.commit(func(c *types.Cycle) bool {
		c.Remediations = append(c.Remediations, order)
		return true
	})
	if err != nil {
		return false, err
	}

	r.ctrl.recordRemediation()
	r.logger.Warn("remediation-placing",
		zap.String("client-id", order.ClientID),
		zap.String("outcome", string(order.Outcome)),
		zap.String("side", string(side)),
		zap.Float64("price", price),
		zap.Float64("size", excess))

	return true, r.driveRemediation(order.ClientID)
}

// driveRemediation submits a remediation order if needed and waits for it
// to finish. Past the remediation timeout it is canceled; if the cancel is
// not confirmed within another timeout the order is left as is.
func (r *runner) driveRemediation(clientID string) error {
	o := findByClientID(r.current(), clientID)
	if o == nil {
		return nil
	}

	if !o.Acknowledged() {
		res := r.submit(*o)
		if r.ctx.Err() != nil {
			return r.ctx.Err()
		}
		now := r.ctrl.now()
		if err := r.commit(func(c *types.Cycle) bool {
			applySubmit(c, res, now)
			return true
		}); err != nil {
			return err
		}
		if res.err != nil {
			RemediationsTotal.WithLabelValues("rejected").Inc()
			return nil
		}
	}

	isTarget := func(o *types.Order) bool { return o.ClientID == clientID }
	poller := newBackoff(r.ctrl.config.PollInitial, r.ctrl.config.PollMax, r.ctrl.config.PollMultiplier)
	pollTimer := time.NewTimer(poller.Next())
	defer pollTimer.Stop()
	deadline := time.NewTimer(r.ctrl.config.RemediationTimeout)
	defer deadline.Stop()
	expired := false

	for {
		o = findByClientID(r.current(), clientID)
		if o.Status.IsTerminal() {
			result := "filled"
			if o.Status != types.OrderFilled {
				result = "partial"
			}
			RemediationsTotal.WithLabelValues(result).Inc()
			return nil
		}

		select {
		case ev := <-r.inbox:
			if err := r.apply(ev); err != nil {
				return err
			}
		case <-pollTimer.C:
			if err := r.poll(isTarget); err != nil {
				return err
			}
			pollTimer.Reset(poller.Next())
		case <-deadline.C:
			if expired {
				RemediationsTotal.WithLabelValues("stuck").Inc()
				r.logger.Error("remediation-cancel-unconfirmed", zap.String("client-id", clientID))
				return nil
			}
			expired = true
			r.cancelOpen(isTarget, true)
			deadline.Reset(r.ctrl.config.RemediationTimeout)
		case <-r.ctx.Done():
			return r.ctx.Err()
		}
	}
}

// finalize records the terminal state, then the risk outcome. The outcome
// flag is written together with the terminal state, so a cycle is never
// recorded twice.
func (r *runner) finalize(kind types.ErrorKind, note string) error {
	c := r.current()
	filled := false
	for _, leg := range c.Legs() {
		if leg.FilledSize > fillEpsilon {
			filled = true
		}
	}

	if kind == "" && !filled {
		kind = r.noFillReason(c)
	}
	if note == "" && r.timedOut && filled {
		note = "fill timeout, unmatched size remediated"
	}

	now := r.ctrl.now()
	err := r.commit(func(c *types.Cycle) bool {
		if filled {
			c.State = types.StateClosed
		} else {
			c.State = types.StateAborted
		}
		for _, o := range c.Orders() {
			o.Fees = r.ctrl.feeRate.Mul(notional(o)).InexactFloat64()
		}
		pnl := realizedPnL(c, r.ctrl.feeRate).InexactFloat64()
		c.RealizedPnL = &pnl
		c.AbortReason = kind
		if note != "" {
			c.Note = note
		}
		c.ClosedAt = &now
		c.OutcomeRecorded = true
		return true
	})
	if err != nil {
		return err
	}

	final := r.current()
	if err = r.ctrl.risk.RecordOutcome(final); err != nil {
		r.logger.Error("record-outcome-failed", zap.Error(err))
	}

	r.logger.Info("cycle-finished",
		zap.String("state", string(final.State)),
		zap.String("reason", string(final.AbortReason)),
		zap.Float64("pnl", final.PnL()),
		zap.Int("remediations", len(final.Remediations)))

	r.ctrl.finish(r)
	return nil
}

func (r *runner) noFillReason(c *types.Cycle) types.ErrorKind {
	for _, leg := range c.Legs() {
		if leg.Status == types.OrderRejected && !leg.Acknowledged() {
			return types.KindSubmissionFailed
		}
	}
	switch {
	case r.canceled:
		return types.KindCanceled
	case r.timedOut:
		return types.KindFillTimeout
	default:
		return types.KindCanceled
	}
}

// unmatched returns the leg holding fills beyond the matched quantity that
// remediations have not yet flattened, or nil when the cycle is flat.
func unmatched(c *types.Cycle) (*types.Order, float64) {
	if c.YesOrder == nil || c.NoOrder == nil {
		return nil, 0
	}

	matched := math.Min(c.YesOrder.FilledSize, c.NoOrder.FilledSize)
	for _, leg := range c.Legs() {
		excess := leg.FilledSize - matched
		for _, rem := range c.Remediations {
			if rem.TokenID == leg.TokenID {
				excess -= rem.FilledSize
			}
		}
		if excess > fillEpsilon {
			return leg, excess
		}
	}
	return nil, 0
}

// remediationPrice is the best price on the side that takes the other side
// of the unwind: the bid when selling, the ask when buying.
func remediationPrice(side types.Side, outcome types.Outcome, q types.Quote) float64 {
	switch {
	case side == types.SideSell && outcome == types.OutcomeYes:
		return q.YesBid
	case side == types.SideSell:
		return q.NoBid
	case outcome == types.OutcomeYes:
		return q.YesAsk
	default:
		return q.NoAsk
	}
}
