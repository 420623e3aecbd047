package storage

import (
	"context"
	"time"

	"github.com/mselser95/binary-arb/pkg/types"
)

// Store is the persistence gateway for markets, orders, cycles and risk state.
// Writes are upserts keyed by entity id. Loads of single entities return
// types.ErrNotFound when nothing was stored.
type Store interface {
	UpsertMarket(ctx context.Context, market types.Market) error
	UpsertOrder(ctx context.Context, order *types.Order) error
	// UpsertCycle writes the cycle and every order it owns.
	UpsertCycle(ctx context.Context, cycle *types.Cycle) error
	UpsertLedger(ctx context.Context, ledger types.LedgerState) error
	UpsertBreaker(ctx context.Context, state types.BreakerState) error

	LoadMarkets(ctx context.Context) ([]types.Market, error)
	LoadCycle(ctx context.Context, id string) (*types.Cycle, error)
	// LoadOpenCycles returns non-terminal cycles, oldest first.
	LoadOpenCycles(ctx context.Context) ([]*types.Cycle, error)
	// LoadRecentCycles returns up to limit cycles, newest first.
	LoadRecentCycles(ctx context.Context, limit int) ([]*types.Cycle, error)
	LoadOrders(ctx context.Context, cycleID string) ([]*types.Order, error)
	LoadLedger(ctx context.Context) (*types.LedgerState, error)
	LoadBreaker(ctx context.Context) (*types.BreakerState, error)

	Close() error
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
