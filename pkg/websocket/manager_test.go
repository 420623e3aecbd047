package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mselser95/binary-arb/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// feedServer is a fake market feed that records every JSON frame it gets.
type feedServer struct {
	srv      *httptest.Server
	url      string
	received chan map[string]any
	conns    chan *websocket.Conn
}

func newFeedServer(t *testing.T) *feedServer {
	t.Helper()
	fs := &feedServer{
		received: make(chan map[string]any, 16),
		conns:    make(chan *websocket.Conn, 4),
	}
	upgrader := websocket.Upgrader{}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fs.conns <- conn
		for {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			fs.received <- msg
		}
	}))
	fs.url = "ws" + strings.TrimPrefix(fs.srv.URL, "http")
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *feedServer) nextConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-fs.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no connection")
		return nil
	}
}

func (fs *feedServer) nextFrame(t *testing.T) map[string]any {
	t.Helper()
	select {
	case m := <-fs.received:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
		return nil
	}
}

func testConfig(t *testing.T, url string) Config {
	return Config{
		URL:                   url,
		DialTimeout:           time.Second,
		PingInterval:          time.Second,
		ReconnectInitialDelay: 10 * time.Millisecond,
		ReconnectMaxDelay:     50 * time.Millisecond,
		ReconnectBackoffMult:  2,
		MessageBufferSize:     16,
		Logger:                zaptest.NewLogger(t),
	}
}

func startManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	mgr := New(cfg)
	require.NoError(t, mgr.Start(context.Background()))
	t.Cleanup(func() { _ = mgr.Close() })
	return mgr
}

func nextMessage(t *testing.T, mgr *Manager) *types.OrderbookMessage {
	t.Helper()
	select {
	case msg := <-mgr.MessageChan():
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message forwarded")
		return nil
	}
}

func assetIDs(frame map[string]any) []string {
	raw, _ := frame["assets_ids"].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		s, _ := v.(string)
		out = append(out, s)
	}
	return out
}

func TestNew_Defaults(t *testing.T) {
	mgr := New(Config{Logger: zaptest.NewLogger(t)})

	assert.Equal(t, 1000, cap(mgr.messageChan))
	assert.Equal(t, 10*time.Second, mgr.config.PingInterval)
	assert.False(t, mgr.Connected())
	assert.ErrorIs(t, mgr.Check(), ErrNotConnected)
	assert.True(t, mgr.LastMessageAt().IsZero())
}

func TestSubscribe_WhileDisconnectedIsDeferred(t *testing.T) {
	mgr := New(testConfig(t, "ws://unused"))

	require.NoError(t, mgr.Subscribe(context.Background(), []string{"b", "a", "a", ""}))
	assert.Equal(t, []string{"a", "b"}, mgr.Subscribed())

	require.NoError(t, mgr.Unsubscribe(context.Background(), []string{"a", "zz"}))
	assert.Equal(t, []string{"b"}, mgr.Subscribed())
}

func TestStart_DialFailure(t *testing.T) {
	fs := newFeedServer(t)
	url := fs.url
	fs.srv.Close()

	mgr := New(testConfig(t, url))
	err := mgr.Start(context.Background())
	assert.ErrorContains(t, err, "initial connection")
}

func TestStart_ReplaysSubscriptionsAndSubscribesIncrementally(t *testing.T) {
	fs := newFeedServer(t)
	mgr := New(testConfig(t, fs.url))
	require.NoError(t, mgr.Subscribe(context.Background(), []string{"tok-a", "tok-b"}))
	require.NoError(t, mgr.Start(context.Background()))
	t.Cleanup(func() { _ = mgr.Close() })

	fs.nextConn(t)
	frame := fs.nextFrame(t)
	assert.Equal(t, "market", frame["type"])
	assert.Equal(t, []string{"tok-a", "tok-b"}, assetIDs(frame))
	assert.True(t, mgr.Connected())
	assert.NoError(t, mgr.Check())

	require.NoError(t, mgr.Subscribe(context.Background(), []string{"tok-b", "tok-c"}))
	frame = fs.nextFrame(t)
	assert.Equal(t, "subscribe", frame["operation"])
	assert.Equal(t, []string{"tok-c"}, assetIDs(frame))

	require.NoError(t, mgr.Unsubscribe(context.Background(), []string{"tok-a"}))
	frame = fs.nextFrame(t)
	assert.Equal(t, "unsubscribe", frame["operation"])
	assert.Equal(t, []string{"tok-a"}, assetIDs(frame))
}

func TestReadLoop_ForwardsArraysAndObjects(t *testing.T) {
	fs := newFeedServer(t)
	mgr := startManager(t, testConfig(t, fs.url))
	conn := fs.nextConn(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("PONG")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("[]")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json at all, definitely")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(
		`[{"event_type":"book","asset_id":"tok-a","market":"m1","timestamp":"1700000000000",`+
			`"bids":[{"price":"0.48","size":"10"}],"asks":[{"price":"0.50","size":"12"}]}]`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(
		`{"event_type":"price_change","market":"m1","timestamp":"1700000000500",`+
			`"price_changes":[{"asset_id":"tok-a","price":"0.49","size":"5","side":"BUY"}]}`)))

	book := nextMessage(t, mgr)
	assert.Equal(t, "book", book.EventType)
	assert.Equal(t, "tok-a", book.AssetID)
	assert.Equal(t, int64(1700000000000), book.Timestamp)
	require.Len(t, book.Bids, 1)
	assert.Equal(t, "0.48", book.Bids[0].Price)

	change := nextMessage(t, mgr)
	assert.Equal(t, "price_change", change.EventType)
	require.Len(t, change.PriceChanges, 1)
	assert.Equal(t, "BUY", change.PriceChanges[0].Side)

	assert.False(t, mgr.LastMessageAt().IsZero())
}

func TestReconnect_ReplaysSubscriptions(t *testing.T) {
	fs := newFeedServer(t)
	mgr := startManager(t, testConfig(t, fs.url))
	first := fs.nextConn(t)

	require.NoError(t, mgr.Subscribe(context.Background(), []string{"tok-a"}))
	fs.nextFrame(t)

	require.NoError(t, first.Close())

	fs.nextConn(t)
	frame := fs.nextFrame(t)
	assert.Equal(t, "market", frame["type"])
	assert.Equal(t, []string{"tok-a"}, assetIDs(frame))

	require.Eventually(t, func() bool {
		return mgr.Reconnects() == 1 && mgr.Connected()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClose_ClosesMessageChannel(t *testing.T) {
	fs := newFeedServer(t)
	mgr := New(testConfig(t, fs.url))
	require.NoError(t, mgr.Start(context.Background()))
	fs.nextConn(t)

	require.NoError(t, mgr.Close())
	_, ok := <-mgr.MessageChan()
	assert.False(t, ok)
	assert.False(t, mgr.Connected())
}

func TestContextCancel_StopsSupervisor(t *testing.T) {
	fs := newFeedServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	mgr := New(testConfig(t, fs.url))
	require.NoError(t, mgr.Start(ctx))
	fs.nextConn(t)

	cancel()

	done := make(chan struct{})
	go func() {
		mgr.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop")
	}
	require.NoError(t, mgr.Close())
}
