package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mselser95/binary-arb/internal/arbitrage"
	"github.com/mselser95/binary-arb/internal/risk"
	"github.com/mselser95/binary-arb/internal/storage"
	"github.com/mselser95/binary-arb/internal/testutil"
	"github.com/mselser95/binary-arb/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	waitFor = 3 * time.Second
	tick    = 5 * time.Millisecond
)

type harness struct {
	ctrl   *Controller
	ex     *testutil.FakeExchange
	books  *testutil.MockBooks
	risk   *risk.Manager
	store  *storage.MemoryStorage
	alerts *AlertLog
}

type harnessOpts struct {
	behave      func(req types.OrderRequest) testutil.Behavior
	maxExposure float64
	marketCap   float64
	store       CycleStore
	config      func(cfg *Config)
}

func newHarness(t *testing.T, opts harnessOpts) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)

	books := testutil.NewMockBooks()
	books.AddMarket(testutil.CreateTestMarket("m1"))
	books.SetQuote(testutil.CreateTestQuote("m1", 0.48, 0.49, 100))

	maxExposure := opts.maxExposure
	if maxExposure == 0 {
		maxExposure = 1000
	}
	rm, err := risk.New(risk.Config{
		MaxExposure:          maxExposure,
		MaxMarketExposure:    opts.marketCap,
		MaxDailyLoss:         100,
		MaxConsecutiveLosses: 3,
		Cooldown:             time.Minute,
		Logger:               logger,
	})
	require.NoError(t, err)

	mem := storage.NewMemoryStorage(logger)
	var store CycleStore = mem
	if opts.store != nil {
		store = opts.store
	}

	ex := testutil.NewFakeExchange(opts.behave)
	alerts := NewAlertLog(10, logger)

	cfg := Config{
		MinEdge:             0.005,
		FillTimeout:         time.Second,
		PollInitial:         10 * time.Millisecond,
		PollMax:             20 * time.Millisecond,
		PollMultiplier:      2,
		SubmitAttempts:      3,
		SubmitBackoff:       time.Millisecond,
		RemediationTimeout:  200 * time.Millisecond,
		RemediationAttempts: 2,
		PersistBackoff:      time.Millisecond,
		Alerter:             alerts,
		Logger:              logger,
	}
	if opts.config != nil {
		opts.config(&cfg)
	}

	ctrl, err := New(cfg, ex, rm, books, store)
	require.NoError(t, err)
	ex.SetSink(ctrl.HandleOrderEvent)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, ctrl.Start(ctx))
	t.Cleanup(func() {
		cancel()
		_ = ctrl.Close()
	})

	return &harness{ctrl: ctrl, ex: ex, books: books, risk: rm, store: mem, alerts: alerts}
}

// finished waits until market m1 has no open cycle and returns the most
// recent finished cycle.
func (h *harness) finished(t *testing.T) *types.Cycle {
	t.Helper()
	require.Eventually(t, func() bool {
		return !h.ctrl.HasOpenCycle("m1") && len(h.ctrl.Status().Recent) > 0
	}, waitFor, tick)
	recent := h.ctrl.Status().Recent
	return recent[len(recent)-1]
}

func (h *harness) openCycle(t *testing.T) *types.Cycle {
	t.Helper()
	var open []*types.Cycle
	require.Eventually(t, func() bool {
		open = h.ctrl.Status().Open
		return len(open) == 1 && open[0].State == types.StateMonitoring
	}, waitFor, tick)
	return open[0]
}

func restingNo(req types.OrderRequest) testutil.Behavior {
	if req.OrderType == "FAK" || req.TokenID == "m1-yes" {
		return testutil.Behavior{FillRatio: 1}
	}
	return testutil.Behavior{}
}

func TestNew_Validation(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ex := testutil.NewFakeExchange(nil)
	books := testutil.NewMockBooks()
	store := storage.NewMemoryStorage(logger)
	rm, err := risk.New(risk.Config{MaxExposure: 10, MaxDailyLoss: 10, MaxConsecutiveLosses: 1, Cooldown: time.Second, Logger: logger})
	require.NoError(t, err)

	_, err = New(Config{FillTimeout: time.Second}, ex, rm, books, store)
	assert.ErrorContains(t, err, "logger cannot be nil")

	_, err = New(Config{Logger: logger}, ex, rm, books, store)
	assert.ErrorContains(t, err, "fill timeout must be positive")

	_, err = New(Config{Logger: logger, FillTimeout: time.Second}, nil, rm, books, store)
	assert.ErrorContains(t, err, "order client cannot be nil")

	_, err = New(Config{Logger: logger, FillTimeout: time.Second, TakerFeeRate: -1}, ex, rm, books, store)
	assert.Error(t, err)

	c, err := New(Config{Logger: logger, FillTimeout: time.Second, StartPaused: true}, ex, rm, books, store)
	require.NoError(t, err)
	assert.True(t, c.IsPaused())
}

func TestForwardCycle_BothLegsFill(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	require.True(t, h.ctrl.HandleCandidate(testutil.CreateTestCandidate("m1", 0.48, 0.49, 10)))
	cycle := h.finished(t)

	assert.Equal(t, types.StateClosed, cycle.State)
	assert.Empty(t, cycle.AbortReason)
	assert.True(t, cycle.OutcomeRecorded)
	assert.InDelta(t, 0.30, cycle.PnL(), 1e-9, "size times the 0.03 gap")
	assert.Equal(t, types.OrderFilled, cycle.YesOrder.Status)
	assert.Equal(t, types.OrderFilled, cycle.NoOrder.Status)
	assert.Equal(t, types.SideBuy, cycle.YesOrder.Side)
	assert.Equal(t, cycle.ID+"-yes", cycle.YesOrder.ClientID)
	assert.Empty(t, cycle.Remediations)

	st := h.risk.Status()
	assert.InDelta(t, 0, st.OpenExposure, 1e-9)
	assert.InDelta(t, 0.30, st.SessionPnL, 1e-9)
	assert.Equal(t, 1, st.CyclesRecorded)

	stored, err := h.store.LoadCycle(context.Background(), cycle.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateClosed, stored.State)
	assert.True(t, stored.OutcomeRecorded)

	status := h.ctrl.Status()
	assert.Equal(t, int64(1), status.Stats.CyclesClosed)
	assert.Equal(t, int64(2), status.Stats.LegsSubmitted)
	assert.InDelta(t, 1.0, status.FillRate, 1e-9)
	assert.InDelta(t, 0.30, status.CumulativePnL, 1e-9)
}

func TestReverseCycle_SellsBothBids(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.books.SetQuote(testutil.CreateTestQuote("m1", 0.53, 0.51, 100)) // bids 0.52 + 0.50

	cand := testutil.CreateTestCandidate("m1", 0.52, 0.50, 10)
	cand.Direction = types.Reverse
	cand.Edge = 0.02
	require.True(t, h.ctrl.HandleCandidate(cand))

	cycle := h.finished(t)
	assert.Equal(t, types.StateClosed, cycle.State)
	assert.Equal(t, types.SideSell, cycle.YesOrder.Side)
	assert.InDelta(t, 0.52, cycle.YesOrder.Price, 1e-9)
	assert.InDelta(t, 9.8, cycle.RequiredCapital, 1e-9)
	assert.InDelta(t, 0.20, cycle.PnL(), 1e-9)
}

func TestFillTimeout_CancelsAndRemediates(t *testing.T) {
	h := newHarness(t, harnessOpts{
		behave: restingNo,
		config: func(cfg *Config) {
			cfg.FillTimeout = 100 * time.Millisecond
			cfg.TakerFeeRate = 0.01
		},
	})

	require.True(t, h.ctrl.HandleCandidate(testutil.CreateTestCandidate("m1", 0.48, 0.49, 10)))
	cycle := h.finished(t)

	assert.Equal(t, types.StateClosed, cycle.State)
	assert.Equal(t, types.OrderFilled, cycle.YesOrder.Status)
	assert.Equal(t, types.OrderCanceled, cycle.NoOrder.Status)
	require.Len(t, cycle.Remediations, 1)

	rem := cycle.Remediations[0]
	assert.Equal(t, types.RoleRemediation, rem.Role)
	assert.Equal(t, types.SideSell, rem.Side)
	assert.Equal(t, "m1-yes", rem.TokenID)
	assert.InDelta(t, 0.47, rem.Price, 1e-9, "best bid")
	assert.InDelta(t, 10, rem.FilledSize, 1e-9)

	// 10 * (0.47 - 0.48) unwind cost, 0.01 * (4.8 + 4.7) fees.
	assert.InDelta(t, -0.195, cycle.PnL(), 1e-9)
	assert.Contains(t, cycle.Note, "fill timeout")

	noID, ok := h.ex.OrderID(cycle.ID + "-no")
	require.True(t, ok)
	assert.Contains(t, h.ex.Cancels(), noID)

	var fak int
	for _, req := range h.ex.Requests() {
		if req.OrderType == "FAK" {
			fak++
		}
	}
	assert.Equal(t, 1, fak)
	assert.Equal(t, 1, h.risk.Status().ConsecutiveLosses)
}

// The NO leg fills 4 of 10 and times out. Only the 6 unmatched YES shares
// are flattened, with a single FAK order.
func TestPartialFillTimeout_RemediatesExcessOnly(t *testing.T) {
	h := newHarness(t, harnessOpts{
		behave: func(req types.OrderRequest) testutil.Behavior {
			if req.OrderType == "FAK" || req.TokenID == "m1-yes" {
				return testutil.Behavior{FillRatio: 1}
			}
			return testutil.Behavior{FillRatio: 0.4}
		},
		config: func(cfg *Config) { cfg.FillTimeout = 100 * time.Millisecond },
	})

	require.True(t, h.ctrl.HandleCandidate(testutil.CreateTestCandidate("m1", 0.48, 0.49, 10)))
	cycle := h.finished(t)

	assert.Equal(t, types.StateClosed, cycle.State)
	assert.Equal(t, types.OrderFilled, cycle.YesOrder.Status)
	assert.Equal(t, types.OrderCanceled, cycle.NoOrder.Status)
	assert.InDelta(t, 4, cycle.NoOrder.FilledSize, 1e-9)

	require.Len(t, cycle.Remediations, 1)
	rem := cycle.Remediations[0]
	assert.Equal(t, "m1-yes", rem.TokenID)
	assert.Equal(t, types.SideSell, rem.Side)
	assert.InDelta(t, 6, rem.Size, 1e-9)
	assert.InDelta(t, 6, rem.FilledSize, 1e-9)

	var faks []types.OrderRequest
	for _, req := range h.ex.Requests() {
		if req.OrderType == "FAK" {
			faks = append(faks, req)
		}
	}
	require.Len(t, faks, 1)
	assert.InDelta(t, 6, faks[0].Size, 1e-9)

	// 4 * 0.03 matched gap, 6 * (0.47 - 0.48) unwind.
	assert.InDelta(t, 0.06, cycle.PnL(), 1e-9)

	st := h.risk.Status()
	assert.Zero(t, st.OpenReservations)
	assert.InDelta(t, 0, st.OpenExposure, 1e-9)
}

func TestRemediationFailure_PausesAdmission(t *testing.T) {
	h := newHarness(t, harnessOpts{
		behave: func(req types.OrderRequest) testutil.Behavior {
			if req.OrderType == "FAK" {
				return testutil.Behavior{Err: &types.OrderError{Code: types.ErrNotEnoughBalance, Message: "no balance"}}
			}
			return restingNo(req)
		},
		config: func(cfg *Config) { cfg.FillTimeout = 50 * time.Millisecond },
	})

	require.True(t, h.ctrl.HandleCandidate(testutil.CreateTestCandidate("m1", 0.48, 0.49, 10)))
	cycle := h.finished(t)

	assert.Equal(t, types.StateClosed, cycle.State)
	assert.Equal(t, types.KindRemediation, cycle.AbortReason)
	assert.Len(t, cycle.Remediations, 2)
	assert.True(t, h.ctrl.IsPaused())

	alerts := h.alerts.Recent()
	require.NotEmpty(t, alerts)
	assert.Equal(t, types.KindRemediation, alerts[len(alerts)-1].Kind)

	assert.False(t, h.ctrl.HandleCandidate(testutil.CreateTestCandidate("m1", 0.48, 0.49, 10)))
	assert.Equal(t, int64(1), h.ctrl.Status().Stats.RemediationFailures)
}

func TestRejectedLeg_CancelsSurvivor(t *testing.T) {
	h := newHarness(t, harnessOpts{
		behave: func(req types.OrderRequest) testutil.Behavior {
			if req.TokenID == "m1-no" {
				return testutil.Behavior{Err: &types.OrderError{Code: types.ErrInvalidMinTickSize, Message: "bad tick"}}
			}
			return testutil.Behavior{}
		},
	})

	require.True(t, h.ctrl.HandleCandidate(testutil.CreateTestCandidate("m1", 0.48, 0.49, 10)))
	cycle := h.finished(t)

	assert.Equal(t, types.StateAborted, cycle.State)
	assert.Equal(t, types.KindSubmissionFailed, cycle.AbortReason)
	assert.Equal(t, types.OrderRejected, cycle.NoOrder.Status)
	assert.Equal(t, types.OrderCanceled, cycle.YesOrder.Status)
	assert.InDelta(t, 0, cycle.PnL(), 1e-9)

	yesID, _ := h.ex.OrderID(cycle.ID + "-yes")
	assert.Equal(t, []string{yesID}, h.ex.Cancels())
	assert.InDelta(t, 0, h.risk.Status().OpenExposure, 1e-9)
}

func TestBothLegsRejected_Aborts(t *testing.T) {
	h := newHarness(t, harnessOpts{
		behave: func(types.OrderRequest) testutil.Behavior {
			return testutil.Behavior{Err: &types.OrderError{Code: types.ErrNotEnoughBalance, Message: "no balance"}}
		},
	})

	require.True(t, h.ctrl.HandleCandidate(testutil.CreateTestCandidate("m1", 0.48, 0.49, 10)))
	cycle := h.finished(t)

	assert.Equal(t, types.StateAborted, cycle.State)
	assert.Equal(t, types.KindSubmissionFailed, cycle.AbortReason)
	assert.True(t, cycle.Admitted)
	assert.Len(t, h.ex.Requests(), 2, "non-transient errors are not retried")
	assert.Equal(t, 1, h.risk.Status().CyclesRecorded)
	assert.Equal(t, 0, h.risk.Status().OpenReservations)
}

func TestTransientSubmitError_Retried(t *testing.T) {
	var mu sync.Mutex
	failures := 2
	h := newHarness(t, harnessOpts{
		behave: func(req types.OrderRequest) testutil.Behavior {
			mu.Lock()
			defer mu.Unlock()
			if req.TokenID == "m1-yes" && failures > 0 {
				failures--
				return testutil.Behavior{Err: &types.OrderError{Code: types.ErrRateLimited, Message: "slow down"}}
			}
			return testutil.Behavior{FillRatio: 1}
		},
	})

	require.True(t, h.ctrl.HandleCandidate(testutil.CreateTestCandidate("m1", 0.48, 0.49, 10)))
	cycle := h.finished(t)

	assert.Equal(t, types.StateClosed, cycle.State)
	assert.Len(t, h.ex.Requests(), 4)
	assert.Equal(t, 2, h.ex.OrderCount())
}

func TestEdgeEvaporated_AbortsBeforeAdmission(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.books.SetQuote(testutil.CreateTestQuote("m1", 0.50, 0.51, 100))

	require.True(t, h.ctrl.HandleCandidate(testutil.CreateTestCandidate("m1", 0.48, 0.49, 10)))
	cycle := h.finished(t)

	assert.Equal(t, types.StateAborted, cycle.State)
	assert.Equal(t, types.KindEdgeEvaporated, cycle.AbortReason)
	assert.False(t, cycle.Admitted)
	assert.Nil(t, cycle.RealizedPnL)
	assert.Empty(t, h.ex.Requests())
	assert.Equal(t, int64(0), h.risk.Status().TotalChecks)

	_, err := h.store.LoadCycle(context.Background(), cycle.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestStaleBook_Aborts(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.books.SetError("m1", fmt.Errorf("%w: m1", types.ErrStaleData))

	require.True(t, h.ctrl.HandleCandidate(testutil.CreateTestCandidate("m1", 0.48, 0.49, 10)))
	cycle := h.finished(t)

	assert.Equal(t, types.StateAborted, cycle.State)
	assert.Equal(t, types.KindStaleData, cycle.AbortReason)
	assert.Empty(t, h.ex.Requests())
}

func TestSnapshotSizeCapsCandidate(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.books.SetQuote(testutil.CreateTestQuote("m1", 0.48, 0.49, 4))

	require.True(t, h.ctrl.HandleCandidate(testutil.CreateTestCandidate("m1", 0.48, 0.49, 10)))
	cycle := h.finished(t)

	assert.InDelta(t, 4, cycle.Size, 1e-9)
	assert.InDelta(t, 4, cycle.YesOrder.Size, 1e-9)
	assert.InDelta(t, 0.12, cycle.PnL(), 1e-9)
}

func TestRiskRejected_NotPersisted(t *testing.T) {
	h := newHarness(t, harnessOpts{maxExposure: 15, marketCap: 5})

	require.True(t, h.ctrl.HandleCandidate(testutil.CreateTestCandidate("m1", 0.48, 0.49, 10)))
	cycle := h.finished(t)

	assert.Equal(t, types.StateAborted, cycle.State)
	assert.Equal(t, types.KindRiskRejected, cycle.AbortReason)
	assert.Contains(t, cycle.Note, string(risk.RejectMarketExposure))
	assert.Empty(t, h.ex.Requests())

	_, err := h.store.LoadCycle(context.Background(), cycle.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.Equal(t, int64(1), h.risk.Status().Rejections[risk.RejectMarketExposure])
	assert.InDelta(t, 0, h.risk.Status().OpenExposure, 1e-9)
}

func TestRiskRejected_TotalExposureAcrossMarkets(t *testing.T) {
	h := newHarness(t, harnessOpts{
		maxExposure: 15,
		behave:      func(types.OrderRequest) testutil.Behavior { return testutil.Behavior{Silent: true} },
		config:      func(cfg *Config) { cfg.FillTimeout = time.Minute },
	})
	h.books.AddMarket(testutil.CreateTestMarket("m2"))
	h.books.SetQuote(testutil.CreateTestQuote("m2", 0.48, 0.49, 100))

	require.True(t, h.ctrl.HandleCandidate(testutil.CreateTestCandidate("m1", 0.48, 0.49, 10)))
	first := h.openCycle(t)
	assert.InDelta(t, 9.7, h.risk.Status().OpenExposure, 1e-9)

	require.True(t, h.ctrl.HandleCandidate(testutil.CreateTestCandidate("m2", 0.48, 0.49, 10)))

	var second *types.Cycle
	require.Eventually(t, func() bool {
		for _, c := range h.ctrl.Status().Recent {
			if c.MarketID == "m2" {
				second = c
				return true
			}
		}
		return false
	}, waitFor, tick)

	assert.Equal(t, types.StateAborted, second.State)
	assert.Equal(t, types.KindRiskRejected, second.AbortReason)
	assert.Contains(t, second.Note, string(risk.RejectMaxExposure))
	assert.Equal(t, int64(1), h.risk.Status().Rejections[risk.RejectMaxExposure])
	assert.False(t, h.ctrl.HasOpenCycle("m2"))

	// The first cycle keeps its reservation; only its two legs were sent.
	assert.True(t, h.ctrl.HasOpenCycle("m1"))
	assert.Equal(t, first.ID, h.ctrl.Status().Open[0].ID)
	assert.Len(t, h.ex.Requests(), 2)
	assert.InDelta(t, 9.7, h.risk.Status().OpenExposure, 1e-9)
}

func TestOneCyclePerMarket_AndCancelAll(t *testing.T) {
	h := newHarness(t, harnessOpts{
		behave: func(types.OrderRequest) testutil.Behavior { return testutil.Behavior{Silent: true} },
		config: func(cfg *Config) { cfg.FillTimeout = time.Minute },
	})

	require.True(t, h.ctrl.HandleCandidate(testutil.CreateTestCandidate("m1", 0.48, 0.49, 10)))
	h.openCycle(t)

	assert.True(t, h.ctrl.HasOpenCycle("m1"))
	assert.False(t, h.ctrl.HandleCandidate(testutil.CreateTestCandidate("m1", 0.48, 0.49, 10)))
	assert.Equal(t, int64(1), h.ctrl.Status().Stats.DroppedCandidates)

	assert.Equal(t, 1, h.ctrl.CancelAll())
	cycle := h.finished(t)

	assert.Equal(t, types.StateAborted, cycle.State)
	assert.Equal(t, types.KindCanceled, cycle.AbortReason)
	assert.Len(t, h.ex.Cancels(), 2)
	assert.Equal(t, 0, h.risk.Status().OpenReservations)
}

func TestPauseResume(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	assert.True(t, h.ctrl.Pause("operator"))
	assert.False(t, h.ctrl.Pause("operator"))
	assert.Equal(t, "operator", h.ctrl.Status().PauseReason)
	assert.False(t, h.ctrl.HandleCandidate(testutil.CreateTestCandidate("m1", 0.48, 0.49, 10)))

	assert.True(t, h.ctrl.Resume())
	assert.False(t, h.ctrl.Resume())
	assert.True(t, h.ctrl.HandleCandidate(testutil.CreateTestCandidate("m1", 0.48, 0.49, 10)))
	assert.Equal(t, types.StateClosed, h.finished(t).State)
}

func TestCandidateChannel(t *testing.T) {
	ch := make(chan *arbitrage.Candidate, 1)
	h := newHarness(t, harnessOpts{config: func(cfg *Config) { cfg.CandidateChannel = ch }})

	ch <- testutil.CreateTestCandidate("m1", 0.48, 0.49, 10)
	assert.Equal(t, types.StateClosed, h.finished(t).State)
}

func TestDuplicateAndStaleEvents_AreIdempotent(t *testing.T) {
	h := newHarness(t, harnessOpts{
		behave: func(types.OrderRequest) testutil.Behavior { return testutil.Behavior{Silent: true} },
		config: func(cfg *Config) {
			cfg.FillTimeout = time.Minute
			cfg.PollInitial = time.Hour
			cfg.PollMax = time.Hour
		},
	})

	require.True(t, h.ctrl.HandleCandidate(testutil.CreateTestCandidate("m1", 0.48, 0.49, 10)))
	open := h.openCycle(t)

	yesID, ok := h.ex.OrderID(open.ID + "-yes")
	require.True(t, ok)
	noID, ok := h.ex.OrderID(open.ID + "-no")
	require.True(t, ok)

	partial := types.OrderEvent{Kind: types.OrderFill, OrderID: yesID, Status: types.OrderPartiallyFilled, FilledSize: 4, FillPrice: 0.48}
	older := types.OrderEvent{Kind: types.OrderFill, OrderID: yesID, Status: types.OrderPartiallyFilled, FilledSize: 2, FillPrice: 0.48}
	for range 3 {
		h.ctrl.HandleOrderEvent(partial)
	}
	h.ctrl.HandleOrderEvent(older)

	require.Eventually(t, func() bool {
		open := h.ctrl.Status().Open
		return len(open) == 1 && open[0].YesOrder.FilledSize == 4
	}, waitFor, tick)

	h.ex.Fill(yesID, 10)
	h.ex.Fill(noID, 10)
	// Replays after the fact change nothing.
	h.ctrl.HandleOrderEvent(partial)

	cycle := h.finished(t)
	assert.Equal(t, types.StateClosed, cycle.State)
	assert.InDelta(t, 10, cycle.YesOrder.FilledSize, 1e-9)
	assert.InDelta(t, 0.30, cycle.PnL(), 1e-9)
	assert.Equal(t, 1, h.risk.Status().CyclesRecorded)
}

func TestPollingReconcilesSilentFills(t *testing.T) {
	h := newHarness(t, harnessOpts{
		behave: func(types.OrderRequest) testutil.Behavior { return testutil.Behavior{Silent: true, FillRatio: 1} },
	})

	require.True(t, h.ctrl.HandleCandidate(testutil.CreateTestCandidate("m1", 0.48, 0.49, 10)))
	cycle := h.finished(t)

	assert.Equal(t, types.StateClosed, cycle.State)
	assert.InDelta(t, 0.30, cycle.PnL(), 1e-9)
}

type flakyCycleStore struct {
	*storage.MemoryStorage
	mu       sync.Mutex
	failures int
}

func (s *flakyCycleStore) UpsertCycle(ctx context.Context, c *types.Cycle) error {
	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return fmt.Errorf("%w: disk full", types.ErrPersistence)
	}
	s.mu.Unlock()
	return s.MemoryStorage.UpsertCycle(ctx, c)
}

func TestPersistFailure_RetriedAndAlerted(t *testing.T) {
	store := &flakyCycleStore{MemoryStorage: storage.NewMemoryStorage(zaptest.NewLogger(t)), failures: 2}
	h := newHarness(t, harnessOpts{store: store})

	require.True(t, h.ctrl.HandleCandidate(testutil.CreateTestCandidate("m1", 0.48, 0.49, 10)))
	cycle := h.finished(t)
	assert.Equal(t, types.StateClosed, cycle.State)

	stored, err := store.LoadCycle(context.Background(), cycle.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateClosed, stored.State)

	alerts := h.alerts.Recent()
	require.Len(t, alerts, 2)
	assert.Equal(t, types.KindPersistence, alerts[0].Kind)
}

func TestRecover_ResubmitsUnacknowledgedLegs(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()
	store := storage.NewMemoryStorage(logger)

	// The YES leg reached the exchange but the process died before its id
	// was written. The NO leg was never sent.
	ex := testutil.NewFakeExchange(nil)
	_, err := ex.Submit(ctx, types.OrderRequest{ClientID: "c1-yes", MarketID: "m1", TokenID: "m1-yes", Side: types.SideBuy, Price: 0.48, Size: 10})
	require.NoError(t, err)

	now := time.Now()
	leg := func(outcome types.Outcome, suffix, token string, price float64) *types.Order {
		return &types.Order{
			ClientID: "c1" + suffix, CycleID: "c1", MarketID: "m1", TokenID: token, Outcome: outcome,
			Side: types.SideBuy, Role: types.RoleLeg, Price: price, Size: 10, Status: types.OrderPending,
		}
	}
	require.NoError(t, store.UpsertCycle(ctx, &types.Cycle{
		ID: "c1", MarketID: "m1", Direction: types.Forward, State: types.StatePlacing,
		Size: 10, YesPrice: 0.48, NoPrice: 0.49, Edge: 0.03, RequiredCapital: 9.7, Admitted: true,
		YesOrder:  leg(types.OutcomeYes, "-yes", "m1-yes", 0.48),
		NoOrder:   leg(types.OutcomeNo, "-no", "m1-no", 0.49),
		CreatedAt: now, UpdatedAt: now,
	}))

	rm, err := risk.New(risk.Config{MaxExposure: 100, MaxDailyLoss: 100, MaxConsecutiveLosses: 3, Cooldown: time.Minute, Logger: logger})
	require.NoError(t, err)

	books := testutil.NewMockBooks()
	books.SetQuote(testutil.CreateTestQuote("m1", 0.48, 0.49, 100))

	ctrl, err := New(Config{
		FillTimeout: time.Second,
		PollInitial: 10 * time.Millisecond,
		PollMax:     20 * time.Millisecond,
		Logger:      logger,
	}, ex, rm, books, store)
	require.NoError(t, err)
	ex.SetSink(ctrl.HandleOrderEvent)

	runCtx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		_ = ctrl.Close()
	}()
	require.NoError(t, ctrl.Start(runCtx))

	n, err := ctrl.Recover(runCtx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Eventually(t, func() bool { return !ctrl.HasOpenCycle("m1") }, waitFor, tick)

	cycle, err := store.LoadCycle(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, types.StateClosed, cycle.State)
	assert.InDelta(t, 0.30, cycle.PnL(), 1e-9)
	assert.Equal(t, 2, ex.OrderCount(), "resubmission reuses the client id")

	var clientIDs []string
	for _, req := range ex.Requests() {
		clientIDs = append(clientIDs, req.ClientID)
	}
	assert.ElementsMatch(t, []string{"c1-yes", "c1-yes", "c1-no"}, clientIDs)

	st := rm.Status()
	assert.Equal(t, 1, st.CyclesRecorded)
	assert.Equal(t, 0, st.OpenReservations)
}

func TestRecover_MonitoringCycleReconciledByPolling(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()
	store := storage.NewMemoryStorage(logger)

	ex := testutil.NewFakeExchange(func(types.OrderRequest) testutil.Behavior {
		return testutil.Behavior{Silent: true, FillRatio: 1}
	})
	yesID, err := ex.Submit(ctx, types.OrderRequest{ClientID: "c2-yes", TokenID: "m1-yes", Price: 0.48, Size: 10})
	require.NoError(t, err)
	noID, err := ex.Submit(ctx, types.OrderRequest{ClientID: "c2-no", TokenID: "m1-no", Price: 0.49, Size: 10})
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, store.UpsertCycle(ctx, &types.Cycle{
		ID: "c2", MarketID: "m1", Direction: types.Forward, State: types.StateMonitoring,
		Size: 10, YesPrice: 0.48, NoPrice: 0.49, RequiredCapital: 9.7, Admitted: true,
		YesOrder: &types.Order{ID: yesID, ClientID: "c2-yes", CycleID: "c2", MarketID: "m1", TokenID: "m1-yes",
			Outcome: types.OutcomeYes, Side: types.SideBuy, Role: types.RoleLeg, Price: 0.48, Size: 10, Status: types.OrderPending},
		NoOrder: &types.Order{ID: noID, ClientID: "c2-no", CycleID: "c2", MarketID: "m1", TokenID: "m1-no",
			Outcome: types.OutcomeNo, Side: types.SideBuy, Role: types.RoleLeg, Price: 0.49, Size: 10, Status: types.OrderPending},
		CreatedAt: now, UpdatedAt: now,
	}))

	rm, err := risk.New(risk.Config{MaxExposure: 100, MaxDailyLoss: 100, MaxConsecutiveLosses: 3, Cooldown: time.Minute, Logger: logger})
	require.NoError(t, err)
	books := testutil.NewMockBooks()
	books.SetQuote(testutil.CreateTestQuote("m1", 0.48, 0.49, 100))

	ctrl, err := New(Config{FillTimeout: time.Second, PollInitial: 10 * time.Millisecond, PollMax: 20 * time.Millisecond, Logger: logger}, ex, rm, books, store)
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		_ = ctrl.Close()
	}()
	require.NoError(t, ctrl.Start(runCtx))

	_, err = ctrl.Recover(runCtx)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return !ctrl.HasOpenCycle("m1") }, waitFor, tick)

	cycle, err := store.LoadCycle(ctx, "c2")
	require.NoError(t, err)
	assert.Equal(t, types.StateClosed, cycle.State)
	assert.Equal(t, 2, ex.OrderCount())
	assert.Len(t, ex.Requests(), 2, "acknowledged legs are never resubmitted")
}

// Fills that happened while the process was down must be in the cycle
// before Recover returns, not on the runner's first poll.
func TestRecover_ReconcilesBeforeReturning(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()
	store := storage.NewMemoryStorage(logger)

	ex := testutil.NewFakeExchange(func(req types.OrderRequest) testutil.Behavior {
		if req.TokenID == "m1-yes" {
			return testutil.Behavior{Silent: true, FillRatio: 1}
		}
		return testutil.Behavior{Silent: true, FillRatio: 0.4}
	})
	yesID, err := ex.Submit(ctx, types.OrderRequest{ClientID: "c3-yes", TokenID: "m1-yes", Price: 0.48, Size: 10})
	require.NoError(t, err)
	noID, err := ex.Submit(ctx, types.OrderRequest{ClientID: "c3-no", TokenID: "m1-no", Price: 0.49, Size: 10})
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, store.UpsertCycle(ctx, &types.Cycle{
		ID: "c3", MarketID: "m1", Direction: types.Forward, State: types.StateMonitoring,
		Size: 10, YesPrice: 0.48, NoPrice: 0.49, RequiredCapital: 9.7, Admitted: true,
		YesOrder: &types.Order{ID: yesID, ClientID: "c3-yes", CycleID: "c3", MarketID: "m1", TokenID: "m1-yes",
			Outcome: types.OutcomeYes, Side: types.SideBuy, Role: types.RoleLeg, Price: 0.48, Size: 10, Status: types.OrderPending},
		NoOrder: &types.Order{ID: noID, ClientID: "c3-no", CycleID: "c3", MarketID: "m1", TokenID: "m1-no",
			Outcome: types.OutcomeNo, Side: types.SideBuy, Role: types.RoleLeg, Price: 0.49, Size: 10, Status: types.OrderPending},
		CreatedAt: now, UpdatedAt: now,
	}))

	rm, err := risk.New(risk.Config{MaxExposure: 100, MaxDailyLoss: 100, MaxConsecutiveLosses: 3, Cooldown: time.Minute, Logger: logger})
	require.NoError(t, err)
	books := testutil.NewMockBooks()
	books.SetQuote(testutil.CreateTestQuote("m1", 0.48, 0.49, 100))

	// The runner's own polling and fill timeout are far away.
	ctrl, err := New(Config{FillTimeout: time.Hour, PollInitial: time.Hour, PollMax: time.Hour, Logger: logger}, ex, rm, books, store)
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		_ = ctrl.Close()
	}()
	require.NoError(t, ctrl.Start(runCtx))

	n, err := ctrl.Recover(runCtx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	stored, err := store.LoadCycle(ctx, "c3")
	require.NoError(t, err)
	assert.Equal(t, types.OrderFilled, stored.YesOrder.Status)
	assert.InDelta(t, 10, stored.YesOrder.FilledSize, 1e-9)
	assert.Equal(t, types.OrderPartiallyFilled, stored.NoOrder.Status)
	assert.InDelta(t, 4, stored.NoOrder.FilledSize, 1e-9)

	assert.InDelta(t, 9.7, rm.Status().OpenExposure, 1e-9, "reservation restored")
}

type failingCycleStore struct{ CycleStore }

func (failingCycleStore) LoadOpenCycles(context.Context) ([]*types.Cycle, error) {
	return nil, errors.New("connection refused")
}

func TestRecover_LoadError(t *testing.T) {
	logger := zaptest.NewLogger(t)
	rm, err := risk.New(risk.Config{MaxExposure: 100, MaxDailyLoss: 100, MaxConsecutiveLosses: 3, Cooldown: time.Minute, Logger: logger})
	require.NoError(t, err)

	ctrl, err := New(Config{FillTimeout: time.Second, Logger: logger},
		testutil.NewFakeExchange(nil), rm, testutil.NewMockBooks(), failingCycleStore{})
	require.NoError(t, err)

	_, err = ctrl.Recover(context.Background())
	assert.ErrorContains(t, err, "load open cycles")
}
