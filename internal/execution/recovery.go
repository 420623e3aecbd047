package execution

import (
	"context"
	"fmt"

	"github.com/mselser95/binary-arb/pkg/types"
	"go.uber.org/zap"
)

// Recover resumes every non-terminal cycle found in the store. Capital of
// admitted cycles is reserved again and acknowledged orders are reconciled
// against the exchange before Recover returns, so fills that happened while
// the process was down are in the ledger before new candidates are admitted.
// Legs that were never acknowledged are resubmitted under their original
// client ids once the cycle resumes. Call after Start and before candidates
// flow.
func (c *Controller) Recover(ctx context.Context) (int, error) {
	cycles, err := c.store.LoadOpenCycles(ctx)
	if err != nil {
		return 0, fmt.Errorf("load open cycles: %w", err)
	}

	resumed := 0
	for _, cycle := range cycles {
		if cycle.Admitted {
			if err = c.risk.RestoreReservation(cycle.ID, cycle.MarketID, cycle.RequiredCapital); err != nil {
				c.logger.Warn("restore-reservation-failed",
					zap.String("cycle-id", cycle.ID),
					zap.Error(err))
			}
		}

		r := c.newRunner(cycle, nil)

		c.mu.Lock()
		if other, busy := c.open[cycle.MarketID]; busy {
			c.mu.Unlock()
			c.logger.Error("duplicate-open-cycle-on-market",
				zap.String("cycle-id", cycle.ID),
				zap.String("other-cycle-id", other.current().ID),
				zap.String("market-id", cycle.MarketID))
			continue
		}
		c.open[cycle.MarketID] = r
		for _, o := range cycle.Orders() {
			if o.Acknowledged() {
				c.byOrder[o.ID] = r
			}
		}
		c.stats.CyclesStarted++
		OpenCycles.Set(float64(len(c.open)))
		c.mu.Unlock()

		if err = r.poll(func(*types.Order) bool { return true }); err != nil {
			c.logger.Warn("recovery-reconcile-failed",
				zap.String("cycle-id", cycle.ID),
				zap.Error(err))
		}

		reconciled := r.current()
		RecoveredCyclesTotal.Inc()
		c.logger.Info("cycle-recovered",
			zap.String("cycle-id", cycle.ID),
			zap.String("market-id", cycle.MarketID),
			zap.String("state", string(reconciled.State)),
			zap.Bool("legs-terminal", legsTerminal(reconciled)))

		resumed++
		c.wg.Add(1)
		go r.run(true)
	}

	return resumed, nil
}

// resume continues a recovered cycle from its persisted state.
func (r *runner) resume() error {
	c := r.current()

	switch c.State {
	case types.StatePlacing:
		return r.place()
	case types.StateMonitoring:
		return r.monitor()
	case types.StateResolving:
		return r.resolve()
	default:
		return r.abort(types.KindCanceled, "interrupted before placement")
	}
}
