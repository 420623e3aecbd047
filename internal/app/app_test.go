package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mselser95/binary-arb/internal/control"
	"github.com/mselser95/binary-arb/internal/testutil"
	"github.com/mselser95/binary-arb/pkg/config"
	"github.com/mselser95/binary-arb/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// bookFeed answers every subscription frame with one snapshot per token.
// Yes asks sit at yesAsk and No asks at noAsk.
type bookFeed struct {
	srv    *httptest.Server
	url    string
	yesAsk float64
	noAsk  float64

	mu    sync.Mutex
	seen  []string
	conns []*websocket.Conn
}

func newBookFeed(t *testing.T, yesAsk, noAsk float64) *bookFeed {
	t.Helper()
	f := &bookFeed{yesAsk: yesAsk, noAsk: noAsk}
	upgrader := websocket.Upgrader{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conns = append(f.conns, conn)
		f.mu.Unlock()

		for {
			var msg struct {
				AssetsIDs []string `json:"assets_ids"`
			}
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if len(msg.AssetsIDs) == 0 {
				continue
			}
			f.mu.Lock()
			f.seen = append(f.seen, msg.AssetsIDs...)
			f.mu.Unlock()
			_ = conn.WriteMessage(websocket.TextMessage, []byte(f.snapshots(msg.AssetsIDs)))
		}
	}))
	f.url = "ws" + strings.TrimPrefix(f.srv.URL, "http")
	t.Cleanup(func() {
		f.mu.Lock()
		for _, c := range f.conns {
			_ = c.Close()
		}
		f.mu.Unlock()
		f.srv.Close()
	})
	return f
}

func (f *bookFeed) snapshots(tokenIDs []string) string {
	frames := make([]string, 0, len(tokenIDs))
	ts := time.Now().UnixMilli()
	for _, id := range tokenIDs {
		ask := f.noAsk
		if strings.HasSuffix(id, "-yes") {
			ask = f.yesAsk
		}
		frames = append(frames, fmt.Sprintf(
			`{"event_type":"book","asset_id":%q,"timestamp":"%d","bids":[{"price":"%.2f","size":"100"}],"asks":[{"price":"%.2f","size":"100"}]}`,
			id, ts, ask-0.02, ask))
	}
	return "[" + strings.Join(frames, ",") + "]"
}

func (f *bookFeed) subscribed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.seen...)
}

func testConfig(feedURL, gammaURL string) *config.Config {
	cfg := config.Default()
	cfg.HTTPPort = "0"
	cfg.PolymarketWSURL = feedURL
	cfg.PolymarketGammaURL = gammaURL
	cfg.PolymarketCLOBURL = gammaURL
	cfg.BookRefreshInterval = 0
	cfg.DiscoveryPollInterval = time.Hour
	cfg.StorageMode = config.StorageModeMemory
	cfg.ExecutionMode = config.ExecutionModePaper
	cfg.PaperMatchInterval = 20 * time.Millisecond
	cfg.ExecPollInitial = 20 * time.Millisecond
	cfg.ExecPollMax = 50 * time.Millisecond
	return cfg
}

func startApp(t *testing.T, cfg *config.Config) (*App, func()) {
	t.Helper()
	a, err := New(cfg, zaptest.NewLogger(t), &Options{SkipSignals: true})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	stop := func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Fatal("app did not shut down")
		}
	}
	return a, stop
}

func TestApp_PaperArbitrageEndToEnd(t *testing.T) {
	gamma := testutil.NewMockGammaAPI([]*types.GammaMarket{
		testutil.CreateTestGammaMarket("m1", "first"),
	})
	defer gamma.Close()
	feed := newBookFeed(t, 0.45, 0.50)

	a, stop := startApp(t, testConfig(feed.url, gamma.URL))
	defer stop()

	require.Eventually(t, func() bool {
		return a.Controller().Status().Stats.CyclesClosed >= 1
	}, 10*time.Second, 20*time.Millisecond)

	assert.ElementsMatch(t, []string{"m1-yes", "m1-no"}, feed.subscribed())

	cycles, err := a.Store().LoadRecentCycles(context.Background(), 10)
	require.NoError(t, err)
	require.NotEmpty(t, cycles)

	var closed *types.Cycle
	for _, c := range cycles {
		if c.State == types.StateClosed {
			closed = c
			break
		}
	}
	require.NotNil(t, closed)
	assert.Equal(t, "m1", closed.MarketID)
	require.NotNil(t, closed.RealizedPnL)
	assert.InDelta(t, 0.5, *closed.RealizedPnL, 1e-6)

	markets, err := a.Store().LoadMarkets(context.Background())
	require.NoError(t, err)
	require.Len(t, markets, 1)
	assert.Equal(t, types.MarketActive, markets[0].Status)
}

func TestApp_StartPausedOpensNothing(t *testing.T) {
	gamma := testutil.NewMockGammaAPI([]*types.GammaMarket{
		testutil.CreateTestGammaMarket("m1", "first"),
	})
	defer gamma.Close()
	feed := newBookFeed(t, 0.45, 0.50)

	cfg := testConfig(feed.url, gamma.URL)
	cfg.StartPaused = true
	a, stop := startApp(t, cfg)
	defer stop()

	require.Eventually(t, func() bool {
		return len(feed.subscribed()) == 2
	}, 5*time.Second, 20*time.Millisecond)

	// Give the detector time to see both books.
	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, a.Controller().Status().Stats.CyclesStarted)

	res, err := a.Dispatcher().Execute(context.Background(), control.Status)
	require.NoError(t, err)
	require.NotNil(t, res.Snapshot)
	assert.True(t, res.Snapshot.Execution.Paused)

	res, err = a.Dispatcher().Execute(context.Background(), control.Resume)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.False(t, a.Controller().IsPaused())
}

func TestApp_NoArbitrageWhenPricesSumToOne(t *testing.T) {
	gamma := testutil.NewMockGammaAPI([]*types.GammaMarket{
		testutil.CreateTestGammaMarket("m1", "first"),
	})
	defer gamma.Close()
	feed := newBookFeed(t, 0.50, 0.51)

	a, stop := startApp(t, testConfig(feed.url, gamma.URL))
	defer stop()

	require.Eventually(t, func() bool {
		return len(feed.subscribed()) == 2
	}, 5*time.Second, 20*time.Millisecond)

	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, a.Controller().Status().Stats.CyclesStarted)
}

func TestApp_RestoresPersistedState(t *testing.T) {
	gamma := testutil.NewMockGammaAPI([]*types.GammaMarket{
		testutil.CreateTestGammaMarket("m1", "first"),
	})
	defer gamma.Close()
	feed := newBookFeed(t, 0.45, 0.50)

	cfg := testConfig(feed.url, gamma.URL)
	cfg.StorageMode = config.StorageModeSQLite
	cfg.SQLitePath = filepath.Join(t.TempDir(), "arb.db")

	first, stop := startApp(t, cfg)
	require.Eventually(t, func() bool {
		return first.Controller().Status().Stats.CyclesClosed >= 1
	}, 10*time.Second, 20*time.Millisecond)
	// Pause so no further cycle is in flight at shutdown.
	first.Controller().Pause("test")
	require.Eventually(t, func() bool {
		return len(first.Controller().Status().Open) == 0
	}, 10*time.Second, 20*time.Millisecond)
	ledger := first.riskManager.Ledger()
	stop()

	second, err := New(cfg, zaptest.NewLogger(t), &Options{SkipSignals: true})
	require.NoError(t, err)
	defer func() { _ = second.Shutdown() }()

	restored := second.riskManager.Ledger()
	assert.Equal(t, ledger.CyclesRecorded, restored.CyclesRecorded)
	assert.InDelta(t, ledger.SessionPnL, restored.SessionPnL, 1e-9)
}

func TestNew_InvalidStorage(t *testing.T) {
	cfg := config.Default()
	cfg.StorageMode = config.StorageModeSQLite
	cfg.SQLitePath = filepath.Join(t.TempDir(), "missing-dir", "arb.db")

	_, err := New(cfg, zaptest.NewLogger(t), nil)
	assert.ErrorContains(t, err, "setup storage")
}
