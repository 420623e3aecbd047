package execution

import (
	"github.com/mselser95/binary-arb/pkg/types"
	"github.com/shopspring/decimal"
)

// realizedPnL computes a cycle's result from its fills. The matched pair
// locks in the combined-price gap, each remediation realizes the price move
// against the leg it flattens, and taker fees are charged on all filled
// notional. Excess that was never flattened contributes nothing here.
func realizedPnL(c *types.Cycle, feeRate decimal.Decimal) decimal.Decimal {
	pnl := decimal.Zero

	if c.YesOrder != nil && c.NoOrder != nil {
		matched := decimal.Min(
			decimal.NewFromFloat(c.YesOrder.FilledSize),
			decimal.NewFromFloat(c.NoOrder.FilledSize),
		)
		combined := fillPrice(c.YesOrder).Add(fillPrice(c.NoOrder))
		if c.Direction == types.Reverse {
			pnl = matched.Mul(combined.Sub(one))
		} else {
			pnl = matched.Mul(one.Sub(combined))
		}
	}

	for _, rem := range c.Remediations {
		if rem.FilledSize <= 0 {
			continue
		}
		leg := c.YesOrder
		if rem.TokenID != leg.TokenID {
			leg = c.NoOrder
		}
		diff := fillPrice(rem).Sub(fillPrice(leg))
		if rem.Side == types.SideBuy {
			diff = diff.Neg()
		}
		pnl = pnl.Add(decimal.NewFromFloat(rem.FilledSize).Mul(diff))
	}

	fees := decimal.Zero
	for _, o := range c.Orders() {
		fees = fees.Add(notional(o))
	}

	return pnl.Sub(fees.Mul(feeRate))
}

func fillPrice(o *types.Order) decimal.Decimal {
	if o.AvgFillPrice > 0 {
		return decimal.NewFromFloat(o.AvgFillPrice)
	}
	return decimal.NewFromFloat(o.Price)
}

func notional(o *types.Order) decimal.Decimal {
	return decimal.NewFromFloat(o.FilledSize).Mul(fillPrice(o))
}
