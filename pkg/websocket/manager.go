package websocket

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/mselser95/binary-arb/pkg/types"
	"go.uber.org/zap"
)

// ErrNotConnected is returned by Connected-dependent checks.
var ErrNotConnected = errors.New("market feed not connected")

// Manager keeps one market-data WebSocket connection alive and forwards
// order book messages. Subscriptions are remembered and replayed after every
// reconnect; subscribing while disconnected only records the tokens.
type Manager struct {
	url          string
	logger       *zap.Logger
	reconnectMgr *ReconnectManager
	config       Config
	messageChan  chan *types.OrderbookMessage

	mu         sync.RWMutex
	conn       *websocket.Conn
	writeMu    sync.Mutex // gorilla allows one concurrent writer
	subscribed map[string]bool

	connected   atomic.Bool
	lastMessage atomic.Int64 // unix nanos
	reconnects  atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config holds WebSocket manager configuration.
type Config struct {
	URL                   string
	DialTimeout           time.Duration
	PongTimeout           time.Duration
	PingInterval          time.Duration
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
	ReconnectBackoffMult  float64
	MessageBufferSize     int
	Logger                *zap.Logger
}

// New creates a new WebSocket manager.
func New(cfg Config) *Manager {
	if cfg.MessageBufferSize <= 0 {
		cfg.MessageBufferSize = 1000
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 10 * time.Second
	}

	return &Manager{
		url:    cfg.URL,
		logger: cfg.Logger,
		reconnectMgr: NewReconnectManager(ReconnectConfig{
			InitialDelay:      cfg.ReconnectInitialDelay,
			MaxDelay:          cfg.ReconnectMaxDelay,
			BackoffMultiplier: cfg.ReconnectBackoffMult,
			JitterPercent:     0.2,
		}, cfg.Logger),
		config:      cfg,
		messageChan: make(chan *types.OrderbookMessage, cfg.MessageBufferSize),
		subscribed:  make(map[string]bool),
	}
}

// Start dials the feed and launches the connection supervisor. The initial
// dial must succeed; later drops are retried with backoff until ctx ends.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.logger.Info("websocket-manager-starting", zap.String("url", m.url))

	conn, err := m.dial(m.ctx)
	if err != nil {
		m.cancel()
		return fmt.Errorf("initial connection: %w", err)
	}

	m.wg.Add(2)
	go m.supervise(conn)
	go m.pingLoop()

	return nil
}

func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: m.config.DialTimeout}

	conn, _, err := dialer.DialContext(ctx, m.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	if m.config.PongTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(m.config.PongTimeout + m.config.PingInterval))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(m.config.PongTimeout + m.config.PingInterval))
		})
	}

	return conn, nil
}

// supervise owns the read side: it reads until the connection fails, then
// redials and replays subscriptions.
func (m *Manager) supervise(conn *websocket.Conn) {
	defer m.wg.Done()

	for {
		m.attach(conn)
		if err := m.resubscribeAll(); err != nil {
			m.logger.Error("resubscribe-failed", zap.Error(err))
		}

		started := time.Now()
		err := m.readLoop(conn)
		m.detach(conn)
		ConnectionDuration.Observe(time.Since(started).Seconds())

		if m.ctx.Err() != nil {
			return
		}
		m.logger.Warn("connection-lost-initiating-reconnect", zap.Error(err))

		err = m.reconnectMgr.Reconnect(m.ctx, func(ctx context.Context) error {
			next, dialErr := m.dial(ctx)
			if dialErr != nil {
				return dialErr
			}
			conn = next
			return nil
		})
		if err != nil {
			return
		}
		m.reconnects.Add(1)
	}
}

func (m *Manager) attach(conn *websocket.Conn) {
	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()

	m.connected.Store(true)
	ActiveConnections.Set(1)
	m.logger.Info("websocket-connected")
}

func (m *Manager) detach(conn *websocket.Conn) {
	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.mu.Unlock()

	_ = conn.Close()
	m.connected.Store(false)
	ActiveConnections.Set(0)
}

// Subscribe adds tokens to the subscription set and sends the subscription
// when connected.
func (m *Manager) Subscribe(_ context.Context, tokenIDs []string) error {
	m.mu.Lock()
	newTokens := make([]string, 0, len(tokenIDs))
	for _, tokenID := range tokenIDs {
		if tokenID != "" && !m.subscribed[tokenID] {
			newTokens = append(newTokens, tokenID)
			m.subscribed[tokenID] = true
		}
	}
	total := len(m.subscribed)
	initial := total == len(newTokens)
	m.mu.Unlock()

	if len(newTokens) == 0 {
		return nil
	}
	SubscriptionCount.Set(float64(total))

	msg := map[string]any{"assets_ids": newTokens, "operation": "subscribe"}
	if initial {
		msg = map[string]any{"assets_ids": newTokens, "type": "market"}
	}

	err := m.write(msg)
	if errors.Is(err, ErrNotConnected) {
		m.logger.Debug("subscription-deferred-until-connected", zap.Int("count", len(newTokens)))
		return nil
	}
	if err != nil {
		return fmt.Errorf("write subscribe message: %w", err)
	}

	m.logger.Info("subscribed-to-tokens",
		zap.Int("new-count", len(newTokens)),
		zap.Int("total-count", total))

	return nil
}

// Unsubscribe removes tokens from the subscription set.
func (m *Manager) Unsubscribe(_ context.Context, tokenIDs []string) error {
	m.mu.Lock()
	removed := make([]string, 0, len(tokenIDs))
	for _, tokenID := range tokenIDs {
		if m.subscribed[tokenID] {
			removed = append(removed, tokenID)
			delete(m.subscribed, tokenID)
		}
	}
	total := len(m.subscribed)
	m.mu.Unlock()

	if len(removed) == 0 {
		return nil
	}
	SubscriptionCount.Set(float64(total))
	UnsubscriptionsTotal.Inc()

	err := m.write(map[string]any{"assets_ids": removed, "operation": "unsubscribe"})
	if err != nil && !errors.Is(err, ErrNotConnected) {
		return fmt.Errorf("write unsubscribe message: %w", err)
	}

	m.logger.Info("unsubscribed-from-tokens",
		zap.Int("count", len(removed)),
		zap.Int("remaining-count", total))

	return nil
}

func (m *Manager) resubscribeAll() error {
	tokenIDs := m.Subscribed()
	if len(tokenIDs) == 0 {
		return nil
	}

	err := m.write(map[string]any{"assets_ids": tokenIDs, "type": "market"})
	if err != nil {
		return fmt.Errorf("write resubscribe message: %w", err)
	}

	m.logger.Info("resubscribed-to-all-tokens", zap.Int("count", len(tokenIDs)))
	return nil
}

func (m *Manager) write(v any) error {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteJSON(v)
}

// readLoop forwards messages until the connection fails.
func (m *Manager) readLoop(conn *websocket.Conn) error {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		m.lastMessage.Store(time.Now().UnixNano())

		msgs, ok := m.decode(message)
		if !ok {
			continue
		}

		for _, msg := range msgs {
			start := time.Now()
			MessagesReceivedTotal.WithLabelValues(msg.EventType).Inc()

			select {
			case m.messageChan <- msg:
			default:
				m.logger.Warn("message-channel-full", zap.String("event-type", msg.EventType))
				MessagesDroppedTotal.WithLabelValues("channel_full").Inc()
			}

			MessageLatencySeconds.Observe(time.Since(start).Seconds())
		}
	}
}

// decode accepts either one message object or an array of them. Heartbeats
// and control frames are skipped.
func (m *Manager) decode(message []byte) ([]*types.OrderbookMessage, bool) {
	trimmed := bytes.TrimSpace(message)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("[]")) ||
		bytes.EqualFold(trimmed, []byte("PONG")) || bytes.EqualFold(trimmed, []byte("PING")) {
		return nil, false
	}

	var msgs []*types.OrderbookMessage
	var err error
	if trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &msgs)
	} else {
		var one types.OrderbookMessage
		if err = json.Unmarshal(trimmed, &one); err == nil {
			msgs = []*types.OrderbookMessage{&one}
		}
	}
	if err != nil {
		preview := string(trimmed)
		if len(preview) > 100 {
			preview = preview[:100]
		}
		MessagesDroppedTotal.WithLabelValues("unparseable").Inc()
		m.logger.Debug("websocket-unparseable-message",
			zap.Error(err),
			zap.Int("bytes", len(message)),
			zap.String("preview", preview))
		return nil, false
	}

	out := msgs[:0]
	for _, msg := range msgs {
		if msg != nil && msg.EventType != "" {
			out = append(out, msg)
		}
	}
	return out, len(out) > 0
}

// pingLoop sends periodic PING frames and unblocks the reader on shutdown.
func (m *Manager) pingLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			m.mu.RLock()
			if m.conn != nil {
				_ = m.conn.Close()
			}
			m.mu.RUnlock()
			return
		case <-ticker.C:
			m.mu.RLock()
			conn := m.conn
			m.mu.RUnlock()
			if conn == nil {
				continue
			}

			m.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
			m.writeMu.Unlock()
			if err != nil {
				m.logger.Warn("ping-error", zap.Error(err))
			}
		}
	}
}

// Subscribed returns the subscribed token ids, sorted.
func (m *Manager) Subscribed() []string {
	m.mu.RLock()
	tokenIDs := make([]string, 0, len(m.subscribed))
	for tokenID := range m.subscribed {
		tokenIDs = append(tokenIDs, tokenID)
	}
	m.mu.RUnlock()

	sort.Strings(tokenIDs)
	return tokenIDs
}

// Connected reports whether the feed is currently connected.
func (m *Manager) Connected() bool {
	return m.connected.Load()
}

// Check is a readiness check for the feed.
func (m *Manager) Check() error {
	if !m.connected.Load() {
		return ErrNotConnected
	}
	return nil
}

// Reconnects returns how many times the feed has reconnected.
func (m *Manager) Reconnects() int64 {
	return m.reconnects.Load()
}

// LastMessageAt returns when the last frame arrived.
func (m *Manager) LastMessageAt() time.Time {
	ns := m.lastMessage.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// MessageChan returns the channel for receiving order book messages.
func (m *Manager) MessageChan() <-chan *types.OrderbookMessage {
	return m.messageChan
}

// Close stops the supervisor and closes the message channel.
func (m *Manager) Close() error {
	m.logger.Info("closing-websocket-manager")

	if m.cancel != nil {
		m.cancel()
	}

	m.mu.RLock()
	if m.conn != nil {
		_ = m.conn.Close()
	}
	m.mu.RUnlock()

	m.wg.Wait()
	close(m.messageChan)
	ActiveConnections.Set(0)

	m.logger.Info("websocket-manager-closed")
	return nil
}
