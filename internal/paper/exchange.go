package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mselser95/binary-arb/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BookReader is the order book view the simulator matches against.
type BookReader interface {
	GetBestPrices(marketID string) (types.Quote, error)
	MarketForToken(tokenID string) (string, bool)
	Market(marketID string) (types.Market, bool)
}

// Exchange simulates order execution against the live top of book. A
// marketable order fills up to the displayed size at the book price; the
// rest rests (GTC) or is canceled (FAK) and resting orders are re-matched
// on every tick. Liquidity is not consumed between orders.
type Exchange struct {
	books         BookReader
	logger        *zap.Logger
	matchInterval time.Duration
	events        chan types.OrderEvent

	mu       sync.Mutex
	orders   map[string]*order
	byClient map[string]string

	ctx context.Context
	wg  sync.WaitGroup
}

type order struct {
	id       string
	req      types.OrderRequest
	marketID string
	outcome  types.Outcome
	status   types.OrderStatus
	filled   decimal.Decimal
	cost     decimal.Decimal // sum of fill price * size
}

// Config holds paper exchange configuration.
type Config struct {
	MatchInterval time.Duration
	EventBuffer   int
	Logger        *zap.Logger
}

// New creates a paper exchange.
func New(cfg *Config, books BookReader) (*Exchange, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if books == nil {
		return nil, fmt.Errorf("book reader cannot be nil")
	}
	if cfg.MatchInterval <= 0 {
		cfg.MatchInterval = 250 * time.Millisecond
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}

	return &Exchange{
		books:         books,
		logger:        cfg.Logger,
		matchInterval: cfg.MatchInterval,
		events:        make(chan types.OrderEvent, cfg.EventBuffer),
		orders:        make(map[string]*order),
		byClient:      make(map[string]string),
	}, nil
}

// Start launches the resting-order matcher.
func (e *Exchange) Start(ctx context.Context) error {
	e.ctx = ctx
	e.logger.Info("paper-exchange-starting", zap.Duration("match-interval", e.matchInterval))

	e.wg.Add(1)
	go e.matchLoop()

	return nil
}

func (e *Exchange) matchLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.matchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.matchResting()
		}
	}
}

// Events returns order events. Events are dropped when the buffer is full;
// GetOrder always reflects the true state.
func (e *Exchange) Events() <-chan types.OrderEvent {
	return e.events
}

// Submit accepts an order and matches it immediately. Resubmitting a
// client id returns the original order id.
func (e *Exchange) Submit(_ context.Context, req types.OrderRequest) (string, error) {
	if req.ClientID == "" {
		return "", fmt.Errorf("client id cannot be empty")
	}
	if req.Size <= 0 || req.Price <= 0 || req.Price >= 1 {
		OrdersTotal.WithLabelValues("rejected").Inc()
		return "", &types.OrderError{Code: "INVALID_ORDER", Message: fmt.Sprintf("invalid price %v or size %v", req.Price, req.Size)}
	}

	marketID, ok := e.books.MarketForToken(req.TokenID)
	if !ok {
		OrdersTotal.WithLabelValues("rejected").Inc()
		return "", &types.OrderError{Code: types.ErrMarketNotReady, Message: "unknown token " + req.TokenID}
	}
	market, _ := e.books.Market(marketID)
	outcome, _ := market.OutcomeOf(req.TokenID)

	e.mu.Lock()
	if id, dup := e.byClient[req.ClientID]; dup {
		e.mu.Unlock()
		OrdersTotal.WithLabelValues("deduped").Inc()
		return id, nil
	}

	o := &order{
		id:       "paper-" + uuid.NewString(),
		req:      req,
		marketID: marketID,
		outcome:  outcome,
		status:   types.OrderPending,
	}
	e.orders[o.id] = o
	e.byClient[req.ClientID] = o.id

	e.matchLocked(o)
	if req.OrderType == "FAK" && !o.status.IsTerminal() {
		o.status = types.OrderCanceled
	}
	ev := o.event()
	e.mu.Unlock()

	OrdersTotal.WithLabelValues("accepted").Inc()
	e.logger.Debug("paper-order-accepted",
		zap.String("order-id", o.id),
		zap.String("client-id", req.ClientID),
		zap.String("side", string(req.Side)),
		zap.Float64("price", req.Price),
		zap.Float64("size", req.Size),
		zap.String("status", string(ev.Status)))

	e.emit(ev)
	return o.id, nil
}

// Cancel cancels a resting order.
func (e *Exchange) Cancel(_ context.Context, orderID string) error {
	e.mu.Lock()
	o, ok := e.orders[orderID]
	if !ok {
		e.mu.Unlock()
		return &types.OrderError{Code: types.ErrUnmatched, Message: "order not found", OrderID: orderID}
	}
	if o.status.IsTerminal() {
		e.mu.Unlock()
		return &types.OrderError{Code: types.ErrUnmatched, Message: "order already " + string(o.status), OrderID: orderID}
	}
	o.status = types.OrderCanceled
	ev := o.event()
	e.mu.Unlock()

	e.emit(ev)
	return nil
}

// GetOrder returns the current state of an order.
func (e *Exchange) GetOrder(_ context.Context, orderID string) (types.OrderEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.orders[orderID]
	if !ok {
		return types.OrderEvent{}, fmt.Errorf("order %s: %w", orderID, types.ErrNotFound)
	}
	return o.event(), nil
}

func (e *Exchange) matchResting() {
	var events []types.OrderEvent

	e.mu.Lock()
	for _, o := range e.orders {
		if o.status.IsTerminal() {
			continue
		}
		if e.matchLocked(o) {
			events = append(events, o.event())
		}
	}
	e.mu.Unlock()

	for _, ev := range events {
		e.emit(ev)
	}
}

// matchLocked fills o against the current top of book and reports whether
// anything filled.
func (e *Exchange) matchLocked(o *order) bool {
	quote, err := e.books.GetBestPrices(o.marketID)
	if err != nil {
		return false
	}

	price, size := touch(quote, o.outcome, o.req.Side)
	if price <= 0 || size <= 0 {
		return false
	}
	marketable := (o.req.Side == types.SideBuy && o.req.Price >= price) ||
		(o.req.Side == types.SideSell && o.req.Price <= price)
	if !marketable {
		return false
	}

	remaining := decimal.NewFromFloat(o.req.Size).Sub(o.filled)
	qty := decimal.Min(remaining, decimal.NewFromFloat(size))
	if !qty.IsPositive() {
		return false
	}

	o.filled = o.filled.Add(qty)
	o.cost = o.cost.Add(qty.Mul(decimal.NewFromFloat(price)))
	if o.filled.GreaterThanOrEqual(decimal.NewFromFloat(o.req.Size)) {
		o.status = types.OrderFilled
	} else {
		o.status = types.OrderPartiallyFilled
	}

	FillsTotal.WithLabelValues(string(o.req.Side)).Inc()
	return true
}

// touch is the opposite side of the book an order would trade against.
func touch(q types.Quote, outcome types.Outcome, side types.Side) (price, size float64) {
	switch {
	case outcome == types.OutcomeYes && side == types.SideBuy:
		return q.YesAsk, q.YesAskSize
	case outcome == types.OutcomeYes:
		return q.YesBid, q.YesBidSize
	case side == types.SideBuy:
		return q.NoAsk, q.NoAskSize
	default:
		return q.NoBid, q.NoBidSize
	}
}

func (o *order) event() types.OrderEvent {
	avg := 0.0
	if o.filled.IsPositive() {
		avg = o.cost.Div(o.filled).InexactFloat64()
	}
	return types.EventFromStatus(o.id, o.status, o.filled.InexactFloat64(), avg, time.Now())
}

func (e *Exchange) emit(ev types.OrderEvent) {
	select {
	case e.events <- ev:
	default:
		EventsDroppedTotal.Inc()
		e.logger.Warn("paper-event-dropped", zap.String("order-id", ev.OrderID))
	}
}

// Close waits for the matcher to stop.
func (e *Exchange) Close() error {
	e.logger.Info("closing-paper-exchange")
	e.wg.Wait()
	return nil
}
