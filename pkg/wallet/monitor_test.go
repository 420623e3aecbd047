package wallet

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeSource struct {
	mu       sync.Mutex
	balances *Balances
	err      error
	calls    int
}

func (f *fakeSource) GetBalances(_ context.Context, _ common.Address) (*Balances, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.balances, f.err
}

func (f *fakeSource) set(b *Balances, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances, f.err = b, err
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func funded(usdc, allowance string) *Balances {
	return &Balances{
		MATIC:         decimal.RequireFromString("1.5"),
		USDC:          decimal.RequireFromString(usdc),
		USDCAllowance: decimal.RequireFromString(allowance),
	}
}

func newTestMonitor(t *testing.T, src BalanceSource) *Monitor {
	t.Helper()
	m, err := New(&Config{
		Source:       src,
		Address:      common.HexToAddress("0x1"),
		MinUSDC:      decimal.NewFromInt(100),
		PollInterval: 10 * time.Millisecond,
		Logger:       zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return m
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil)
	assert.ErrorContains(t, err, "config cannot be nil")

	_, err = New(&Config{PollInterval: time.Second})
	assert.ErrorContains(t, err, "logger cannot be nil")

	_, err = New(&Config{PollInterval: time.Second, Logger: zaptest.NewLogger(t)})
	assert.ErrorContains(t, err, "balance source cannot be nil")

	_, err = New(&Config{Source: &fakeSource{}, Logger: zaptest.NewLogger(t)})
	assert.ErrorContains(t, err, "poll interval must be positive")
}

func TestMonitor_Check(t *testing.T) {
	tests := []struct {
		name     string
		balances *Balances
		err      error
		wantErr  string
	}{
		{name: "funded", balances: funded("250", "1000")},
		{name: "exactly at minimum", balances: funded("100", "100")},
		{name: "low balance", balances: funded("99.99", "1000"), wantErr: "usdc balance 99.99 below minimum 100"},
		{name: "low allowance", balances: funded("500", "10"), wantErr: "usdc allowance 10 below minimum 100"},
		{name: "rpc failure", err: errors.New("dial refused"), wantErr: "wallet balance unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{balances: tt.balances, err: tt.err}
			m := newTestMonitor(t, src)

			pollErr := m.Poll(context.Background())
			if tt.err != nil {
				require.Error(t, pollErr)
			} else {
				require.NoError(t, pollErr)
			}

			if tt.wantErr == "" {
				assert.NoError(t, m.Check())
				return
			}
			assert.ErrorContains(t, m.Check(), tt.wantErr)
		})
	}
}

func TestMonitor_CheckBeforeFirstPoll(t *testing.T) {
	m := newTestMonitor(t, &fakeSource{})
	assert.ErrorContains(t, m.Check(), "not fetched yet")
	assert.Nil(t, m.Balances())
}

func TestMonitor_FailedPollKeepsLastBalances(t *testing.T) {
	src := &fakeSource{balances: funded("250", "1000")}
	m := newTestMonitor(t, src)
	require.NoError(t, m.Poll(context.Background()))

	src.set(nil, errors.New("timeout"))
	require.Error(t, m.Poll(context.Background()))

	require.NotNil(t, m.Balances())
	assert.True(t, m.Balances().USDC.Equal(decimal.NewFromInt(250)))
	assert.ErrorContains(t, m.Check(), "timeout")
}

func TestMonitor_RunPollsUntilCanceled(t *testing.T) {
	src := &fakeSource{balances: funded("250", "1000")}
	m := newTestMonitor(t, src)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return src.callCount() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestUSDCAmount(t *testing.T) {
	assert.True(t, USDCAmount(big.NewInt(1_234_567)).Equal(decimal.RequireFromString("1.234567")))
	assert.True(t, USDCAmount(nil).IsZero())
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient("", zaptest.NewLogger(t))
	assert.ErrorContains(t, err, "rpcURL cannot be empty")

	_, err = NewClient("http://localhost:8545", nil)
	assert.ErrorContains(t, err, "logger cannot be nil")

	c, err := NewClient("http://localhost:8545", zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Contains(t, c.erc20.Methods, "balanceOf")
	assert.Contains(t, c.erc20.Methods, "allowance")
}
