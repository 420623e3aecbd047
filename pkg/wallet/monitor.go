package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BalanceSource returns the balances of an address.
type BalanceSource interface {
	GetBalances(ctx context.Context, owner common.Address) (*Balances, error)
}

// Monitor polls the trading wallet and reports whether it holds enough
// approved USDC collateral to keep trading.
type Monitor struct {
	source       BalanceSource
	address      common.Address
	minUSDC      decimal.Decimal
	pollInterval time.Duration
	logger       *zap.Logger

	mu      sync.RWMutex
	last    *Balances
	lastErr error
}

// Config holds monitor configuration.
type Config struct {
	Source       BalanceSource
	Address      common.Address
	MinUSDC      decimal.Decimal
	PollInterval time.Duration
	Logger       *zap.Logger
}

// New creates a new wallet monitor.
func New(cfg *Config) (*Monitor, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Source == nil {
		return nil, errors.New("balance source cannot be nil")
	}
	if cfg.PollInterval <= 0 {
		return nil, errors.New("poll interval must be positive")
	}

	return &Monitor{
		source:       cfg.Source,
		address:      cfg.Address,
		minUSDC:      cfg.MinUSDC,
		pollInterval: cfg.PollInterval,
		logger:       cfg.Logger,
	}, nil
}

// Run polls until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("wallet-monitor-starting",
		zap.Duration("poll-interval", m.pollInterval),
		zap.String("address", m.address.Hex()),
		zap.String("min-usdc", m.minUSDC.String()))

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		if err := m.Poll(ctx); err != nil && ctx.Err() == nil {
			m.logger.Error("wallet-poll-failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			m.logger.Info("wallet-monitor-stopping")
			return nil
		case <-ticker.C:
		}
	}
}

// Poll fetches the balances once and updates the metrics.
func (m *Monitor) Poll(ctx context.Context) error {
	start := time.Now()
	defer func() {
		UpdateDuration.Observe(time.Since(start).Seconds())
	}()

	pollCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	balances, err := m.source.GetBalances(pollCtx, m.address)

	m.mu.Lock()
	m.lastErr = err
	if err == nil {
		m.last = balances
	}
	m.mu.Unlock()

	if err != nil {
		UpdateErrorsTotal.Inc()
		return fmt.Errorf("get balances: %w", err)
	}

	MATICBalance.Set(balances.MATIC.InexactFloat64())
	USDCBalance.Set(balances.USDC.InexactFloat64())
	USDCAllowance.Set(balances.USDCAllowance.InexactFloat64())
	LastUpdateTimestamp.Set(float64(time.Now().Unix()))

	if err = m.Check(); err != nil {
		m.logger.Warn("wallet-collateral-low", zap.Error(err))
	}
	return nil
}

// Balances returns the last fetched balances, or nil before the first
// successful poll.
func (m *Monitor) Balances() *Balances {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Check reports an error when the last poll failed or when the balance or
// allowance is below the minimum.
func (m *Monitor) Check() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch {
	case m.lastErr != nil:
		return fmt.Errorf("wallet balance unavailable: %w", m.lastErr)
	case m.last == nil:
		return errors.New("wallet balance not fetched yet")
	case m.last.USDC.LessThan(m.minUSDC):
		return fmt.Errorf("usdc balance %s below minimum %s", m.last.USDC, m.minUSDC)
	case m.last.USDCAllowance.LessThan(m.minUSDC):
		return fmt.Errorf("usdc allowance %s below minimum %s", m.last.USDCAllowance, m.minUSDC)
	}
	return nil
}
