package cmd

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/mselser95/binary-arb/internal/control"
	"github.com/mselser95/binary-arb/internal/execution"
	"github.com/mselser95/binary-arb/internal/risk"
	"github.com/mselser95/binary-arb/pkg/httpserver"
	"github.com/mselser95/binary-arb/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeAPI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/control/pause", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_ = json.NewEncoder(w).Encode(control.Result{Command: control.Pause, Changed: true, Message: "admission paused"})
	})
	mux.HandleFunc("/api/control/bogus", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(httpserver.ErrorResponse{Error: `unknown command "bogus"`})
	})
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		pnl := 0.5
		_ = json.NewEncoder(w).Encode(control.Snapshot{
			Execution: execution.Status{
				Paused:      true,
				PauseReason: "operator",
				Open: []*types.Cycle{{
					ID: "abcdef123456", MarketID: "m1", Direction: types.Forward,
					State: types.StateMonitoring, Size: 10, YesPrice: 0.45, NoPrice: 0.5,
				}},
				Stats: execution.Stats{CyclesClosed: 3, CyclesAborted: 1},
			},
			Risk: risk.Status{
				SessionPnL:  pnl,
				MaxExposure: 500,
				Day:         "2026-10-16",
				Rejections:  map[risk.RejectCode]int64{risk.RejectMaxExposure: 2},
			},
		})
	})
	mux.HandleFunc("/api/cycles", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		pnl := 0.25
		_ = json.NewEncoder(w).Encode(httpserver.CyclesResponse{Count: 1, Cycles: []*types.Cycle{{
			ID: "cycle-1", MarketID: "m2", State: types.StateClosed, RealizedPnL: &pnl,
		}}})
	})
	mux.HandleFunc("/api/markets", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(httpserver.MarketsResponse{Count: 1, Markets: []httpserver.OrderbookResponse{{
			MarketID: "m1", Slug: "first", Status: types.MarketActive, AskSum: 0.95, AgeMS: 120,
		}}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestSendCommand(t *testing.T) {
	srv := fakeAPI(t)
	client := newAPIClient(srv.URL + "/")

	res, err := sendCommand(context.Background(), client, control.Pause)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, "admission paused", res.Message)

	_, err = sendCommand(context.Background(), client, control.Command("bogus"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown command "bogus"`)
	assert.Contains(t, err.Error(), "status 400")
}

func TestAPIClient_UnexpectedStatus(t *testing.T) {
	srv := fakeAPI(t)
	var out map[string]any
	err := newAPIClient(srv.URL).get(context.Background(), "/api/missing", &out)
	assert.ErrorContains(t, err, "unexpected status code 404")
}

func TestPauseCommand(t *testing.T) {
	srv := fakeAPI(t)
	out, err := execute(t, "pause", "--api", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "admission paused")
}

func TestStatusCommand(t *testing.T) {
	srv := fakeAPI(t)
	out, err := execute(t, "status", "--api", srv.URL)
	require.NoError(t, err)

	assert.Contains(t, out, "paused (operator)")
	assert.Contains(t, out, "3/1")
	assert.Contains(t, out, "$0.5000")
	assert.Contains(t, out, "MAX_EXPOSURE=2")
	assert.Contains(t, out, "abcdef12")
}

func TestCyclesCommand(t *testing.T) {
	srv := fakeAPI(t)
	out, err := execute(t, "cycles", "--api", srv.URL, "--limit", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "cycle-1")
	assert.Contains(t, out, "0.2500")
}

func TestMarketsCommand(t *testing.T) {
	srv := fakeAPI(t)
	out, err := execute(t, "markets", "--api", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "first")
	assert.Contains(t, out, "1 markets tracked")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
