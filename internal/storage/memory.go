package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/mselser95/binary-arb/pkg/types"
	"go.uber.org/zap"
)

// MemoryStorage keeps everything in process memory. Used for paper runs and
// tests.
type MemoryStorage struct {
	mu      sync.RWMutex
	markets map[string]types.Market
	orders  map[string]*types.Order // by client id
	cycles  map[string]*types.Cycle
	ledger  *types.LedgerState
	breaker *types.BreakerState
	logger  *zap.Logger
}

// NewMemoryStorage creates an empty in-memory store.
func NewMemoryStorage(logger *zap.Logger) *MemoryStorage {
	return &MemoryStorage{
		markets: make(map[string]types.Market),
		orders:  make(map[string]*types.Order),
		cycles:  make(map[string]*types.Cycle),
		logger:  logger,
	}
}

func (m *MemoryStorage) UpsertMarket(_ context.Context, market types.Market) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markets[market.ID] = market
	return nil
}

func (m *MemoryStorage) UpsertOrder(_ context.Context, order *types.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := *order
	m.orders[order.ClientID] = &o
	return nil
}

func (m *MemoryStorage) UpsertCycle(_ context.Context, cycle *types.Cycle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := cycle.Clone()
	m.cycles[cycle.ID] = cp
	for _, o := range cp.Orders() {
		ord := *o
		m.orders[o.ClientID] = &ord
	}
	return nil
}

func (m *MemoryStorage) UpsertLedger(_ context.Context, ledger types.LedgerState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledger = &ledger
	return nil
}

func (m *MemoryStorage) UpsertBreaker(_ context.Context, state types.BreakerState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.breaker = &state
	return nil
}

func (m *MemoryStorage) LoadMarkets(_ context.Context) ([]types.Market, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	markets := make([]types.Market, 0, len(m.markets))
	for _, mk := range m.markets {
		markets = append(markets, mk)
	}
	sort.Slice(markets, func(i, j int) bool { return markets[i].ID < markets[j].ID })
	return markets, nil
}

func (m *MemoryStorage) LoadCycle(_ context.Context, id string) (*types.Cycle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.cycles[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return c.Clone(), nil
}

func (m *MemoryStorage) LoadOpenCycles(_ context.Context) ([]*types.Cycle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var open []*types.Cycle
	for _, c := range m.cycles {
		if !c.State.IsTerminal() {
			open = append(open, c.Clone())
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].CreatedAt.Before(open[j].CreatedAt) })
	return open, nil
}

func (m *MemoryStorage) LoadRecentCycles(_ context.Context, limit int) ([]*types.Cycle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]*types.Cycle, 0, len(m.cycles))
	for _, c := range m.cycles {
		all = append(all, c.Clone())
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (m *MemoryStorage) LoadOrders(_ context.Context, cycleID string) ([]*types.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var orders []*types.Order
	for _, o := range m.orders {
		if o.CycleID == cycleID {
			ord := *o
			orders = append(orders, &ord)
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].PlacedAt.Before(orders[j].PlacedAt) })
	return orders, nil
}

func (m *MemoryStorage) LoadLedger(_ context.Context) (*types.LedgerState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.ledger == nil {
		return nil, types.ErrNotFound
	}
	l := *m.ledger
	return &l, nil
}

func (m *MemoryStorage) LoadBreaker(_ context.Context) (*types.BreakerState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.breaker == nil {
		return nil, types.ErrNotFound
	}
	b := *m.breaker
	return &b, nil
}

func (m *MemoryStorage) Close() error {
	if m.logger != nil {
		m.logger.Info("closing-memory-storage")
	}
	return nil
}
