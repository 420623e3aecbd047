package orderbook

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mselser95/binary-arb/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var (
	// ErrUnknownMarket is returned for markets that were never registered.
	ErrUnknownMarket = errors.New("unknown market")
	// ErrUnknownToken is returned for tokens that belong to no registered market.
	ErrUnknownToken = errors.New("unknown token")
	// ErrOutOfOrder is returned when an update is older than the stored state.
	ErrOutOfOrder = errors.New("update older than stored state")
	// ErrPredatesSnapshot is returned for deltas that do not postdate the latest snapshot.
	ErrPredatesSnapshot = errors.New("delta does not postdate latest snapshot")
	// ErrInvalidLevel is returned for prices outside (0, 1) or negative sizes.
	ErrInvalidLevel = errors.New("invalid price level")
)

// Store holds the order book of every tracked binary market.
type Store struct {
	mu        sync.RWMutex // guards the maps; each market has its own lock
	markets   map[string]*marketBook
	tokens    map[string]*tokenBook
	staleness time.Duration
	now       func() time.Time
	logger    *zap.Logger
	msgChan   <-chan *types.OrderbookMessage
	updates   chan string
	ctx       context.Context
	wg        sync.WaitGroup

	onTickSize func(tokenID string, tickSize float64)
}

// Config holds order book store configuration.
type Config struct {
	Logger         *zap.Logger
	MessageChannel <-chan *types.OrderbookMessage // optional feed to ingest
	Staleness      time.Duration
	UpdateBuffer   int
	Now            func() time.Time

	// OnTickSizeChange is called for tick_size_change feed events.
	OnTickSizeChange func(tokenID string, tickSize float64)
}

type marketBook struct {
	mu     sync.Mutex
	market types.Market
	yes    *tokenBook
	no     *tokenBook
}

type tokenBook struct {
	market      *marketBook
	outcome     types.Outcome
	bids        map[float64]float64
	asks        map[float64]float64
	seq         int64
	snapshotSeq int64
	hasSnapshot bool
	updatedAt   time.Time
}

func newTokenBook(m *marketBook, outcome types.Outcome) *tokenBook {
	return &tokenBook{
		market:  m,
		outcome: outcome,
		bids:    make(map[float64]float64),
		asks:    make(map[float64]float64),
	}
}

// New creates a new order book store.
func New(cfg *Config) *Store {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	buffer := cfg.UpdateBuffer
	if buffer <= 0 {
		buffer = 10000
	}
	return &Store{
		markets:   make(map[string]*marketBook),
		tokens:    make(map[string]*tokenBook),
		staleness: cfg.Staleness,
		now:       now,
		logger:    cfg.Logger,
		msgChan:   cfg.MessageChannel,
		updates:   make(chan string, buffer),

		onTickSize: cfg.OnTickSizeChange,
	}
}

// RegisterMarket starts tracking a market. Registering a known market only
// updates its status.
func (s *Store) RegisterMarket(market types.Market) error {
	if market.ID == "" || market.YesTokenID == "" || market.NoTokenID == "" {
		return fmt.Errorf("register market %q: missing id or token ids", market.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.markets[market.ID]; ok {
		existing.mu.Lock()
		existing.market.Status = market.Status
		existing.mu.Unlock()
		return nil
	}

	if market.Status == "" {
		market.Status = types.MarketActive
	}

	mb := &marketBook{market: market}
	mb.yes = newTokenBook(mb, types.OutcomeYes)
	mb.no = newTokenBook(mb, types.OutcomeNo)
	s.markets[market.ID] = mb
	s.tokens[market.YesTokenID] = mb.yes
	s.tokens[market.NoTokenID] = mb.no
	MarketsTracked.Set(float64(len(s.markets)))

	s.logger.Debug("market-registered",
		zap.String("market-id", market.ID),
		zap.String("slug", market.Slug))

	return nil
}

// SetMarketStatus changes the status of a tracked market.
func (s *Store) SetMarketStatus(marketID string, status types.MarketStatus) error {
	mb, err := s.marketBook(marketID)
	if err != nil {
		return err
	}
	mb.mu.Lock()
	mb.market.Status = status
	mb.mu.Unlock()
	return nil
}

// Market returns a tracked market.
func (s *Store) Market(marketID string) (types.Market, bool) {
	mb, err := s.marketBook(marketID)
	if err != nil {
		return types.Market{}, false
	}
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.market, true
}

// MarketForToken resolves the market a token belongs to.
func (s *Store) MarketForToken(tokenID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tb, ok := s.tokens[tokenID]
	if !ok {
		return "", false
	}
	return tb.market.market.ID, true
}

// Markets returns all tracked markets.
func (s *Store) Markets() []types.Market {
	s.mu.RLock()
	books := make([]*marketBook, 0, len(s.markets))
	for _, mb := range s.markets {
		books = append(books, mb)
	}
	s.mu.RUnlock()

	markets := make([]types.Market, 0, len(books))
	for _, mb := range books {
		mb.mu.Lock()
		markets = append(markets, mb.market)
		mb.mu.Unlock()
	}
	return markets
}

// ActiveMarketIDs returns the ids of markets with status active.
func (s *Store) ActiveMarketIDs() []string {
	markets := s.Markets()
	ids := make([]string, 0, len(markets))
	for i := range markets {
		if markets[i].Status == types.MarketActive {
			ids = append(ids, markets[i].ID)
		}
	}
	return ids
}

func (s *Store) marketBook(marketID string) (*marketBook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mb, ok := s.markets[marketID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMarket, marketID)
	}
	return mb, nil
}

// ApplySnapshot replaces the levels of every token carried by the snapshot.
// All tokens are validated before anything is written, so a snapshot is
// applied completely or not at all.
func (s *Store) ApplySnapshot(ev types.BookEvent) error {
	if ev.Kind != types.BookSnapshot {
		return fmt.Errorf("apply snapshot: unexpected event kind %s", ev.Kind)
	}
	if len(ev.Books) == 0 {
		return fmt.Errorf("apply snapshot: no books")
	}

	marketID := ev.MarketID
	if marketID == "" {
		id, ok := s.MarketForToken(ev.Books[0].TokenID)
		if !ok {
			return s.reject("unknown_token", fmt.Errorf("%w: %s", ErrUnknownToken, ev.Books[0].TokenID))
		}
		marketID = id
	}

	mb, err := s.marketBook(marketID)
	if err != nil {
		return s.reject("unknown_market", err)
	}

	timer := prometheus.NewTimer(UpdateProcessingDuration)
	defer timer.ObserveDuration()

	mb.mu.Lock()

	targets := make([]*tokenBook, len(ev.Books))
	for i := range ev.Books {
		tb := mb.token(ev.Books[i].TokenID)
		if tb == nil {
			mb.mu.Unlock()
			return s.reject("unknown_token", fmt.Errorf("%w: %s in market %s", ErrUnknownToken, ev.Books[i].TokenID, marketID))
		}
		if ev.Sequence < tb.seq {
			mb.mu.Unlock()
			return s.reject("out_of_order", fmt.Errorf("%w: snapshot seq %d < %d", ErrOutOfOrder, ev.Sequence, tb.seq))
		}
		if err := validateLevels(ev.Books[i].Bids); err != nil {
			mb.mu.Unlock()
			return s.reject("invalid_level", err)
		}
		if err := validateLevels(ev.Books[i].Asks); err != nil {
			mb.mu.Unlock()
			return s.reject("invalid_level", err)
		}
		targets[i] = tb
	}

	now := s.now()
	for i, tb := range targets {
		tb.bids = levelsToMap(ev.Books[i].Bids)
		tb.asks = levelsToMap(ev.Books[i].Asks)
		tb.seq = ev.Sequence
		tb.snapshotSeq = ev.Sequence
		tb.hasSnapshot = true
		tb.updatedAt = now
	}
	mb.mu.Unlock()

	UpdatesTotal.WithLabelValues("snapshot").Inc()
	s.notify(marketID)

	return nil
}

// ApplyDelta updates a single price level. Deltas older than the stored
// state, or not newer than the latest snapshot, are dropped.
func (s *Store) ApplyDelta(ev types.BookEvent) error {
	if ev.Kind != types.BookDelta {
		return fmt.Errorf("apply delta: unexpected event kind %s", ev.Kind)
	}

	s.mu.RLock()
	tb, ok := s.tokens[ev.TokenID]
	s.mu.RUnlock()
	if !ok {
		return s.reject("unknown_token", fmt.Errorf("%w: %s", ErrUnknownToken, ev.TokenID))
	}

	mb := tb.market
	if ev.MarketID != "" && ev.MarketID != mb.market.ID {
		return s.reject("unknown_token", fmt.Errorf("%w: %s not in market %s", ErrUnknownToken, ev.TokenID, ev.MarketID))
	}
	if err := validateLevel(ev.Price, ev.Size); err != nil {
		return s.reject("invalid_level", err)
	}

	timer := prometheus.NewTimer(UpdateProcessingDuration)
	defer timer.ObserveDuration()

	mb.mu.Lock()
	if ev.Sequence < tb.seq {
		stored := tb.seq
		mb.mu.Unlock()
		return s.reject("out_of_order", fmt.Errorf("%w: delta seq %d < %d", ErrOutOfOrder, ev.Sequence, stored))
	}
	if tb.hasSnapshot && ev.Sequence <= tb.snapshotSeq {
		snap := tb.snapshotSeq
		mb.mu.Unlock()
		return s.reject("predates_snapshot", fmt.Errorf("%w: delta seq %d <= snapshot %d", ErrPredatesSnapshot, ev.Sequence, snap))
	}

	levels := tb.bids
	if ev.Side == types.BookAsk {
		levels = tb.asks
	}
	if ev.Size == 0 {
		delete(levels, ev.Price)
	} else {
		levels[ev.Price] = ev.Size
	}
	tb.seq = ev.Sequence
	tb.updatedAt = s.now()
	marketID := mb.market.ID
	mb.mu.Unlock()

	UpdatesTotal.WithLabelValues("delta").Inc()
	s.notify(marketID)

	return nil
}

// Apply dispatches a book event to the matching entry point.
func (s *Store) Apply(ev types.BookEvent) error {
	switch ev.Kind {
	case types.BookSnapshot:
		return s.ApplySnapshot(ev)
	case types.BookDelta:
		return s.ApplyDelta(ev)
	default:
		return fmt.Errorf("apply: unknown book event kind %d", ev.Kind)
	}
}

// GetBestPrices returns the top of book for both legs of a market. When the
// oldest leg is older than the staleness bound the quote is still returned
// together with an error wrapping types.ErrStaleData.
func (s *Store) GetBestPrices(marketID string) (types.Quote, error) {
	mb, err := s.marketBook(marketID)
	if err != nil {
		return types.Quote{}, err
	}

	mb.mu.Lock()
	if mb.yes.updatedAt.IsZero() || mb.no.updatedAt.IsZero() {
		mb.mu.Unlock()
		return types.Quote{}, fmt.Errorf("%w: %s", types.ErrNoBook, marketID)
	}

	q := types.Quote{MarketID: marketID}
	q.YesBid, q.YesBidSize = bestBid(mb.yes.bids)
	q.YesAsk, q.YesAskSize = bestAsk(mb.yes.asks)
	q.NoBid, q.NoBidSize = bestBid(mb.no.bids)
	q.NoAsk, q.NoAskSize = bestAsk(mb.no.asks)

	oldest := mb.yes.updatedAt
	if mb.no.updatedAt.Before(oldest) {
		oldest = mb.no.updatedAt
	}
	mb.mu.Unlock()

	q.UpdatedAt = oldest
	q.Age = s.now().Sub(oldest)

	if s.staleness > 0 && q.Age > s.staleness {
		StaleReadsTotal.Inc()
		return q, fmt.Errorf("%w: market %s age %s exceeds %s", types.ErrStaleData, marketID, q.Age, s.staleness)
	}

	return q, nil
}

// StaleMarkets lists active markets whose data is missing or stale.
func (s *Store) StaleMarkets() []string {
	var stale []string
	for _, id := range s.ActiveMarketIDs() {
		_, err := s.GetBestPrices(id)
		if errors.Is(err, types.ErrStaleData) || errors.Is(err, types.ErrNoBook) {
			stale = append(stale, id)
		}
	}
	return stale
}

// Updates returns the channel of market ids whose book changed.
func (s *Store) Updates() <-chan string {
	return s.updates
}

func (s *Store) notify(marketID string) {
	select {
	case s.updates <- marketID:
	default:
		UpdatesDroppedTotal.WithLabelValues("channel_full").Inc()
		s.logger.Warn("orderbook-update-channel-full",
			zap.String("market-id", marketID),
			zap.Int("buffer-size", cap(s.updates)))
	}
}

func (s *Store) reject(reason string, err error) error {
	RejectedUpdatesTotal.WithLabelValues(reason).Inc()
	s.logger.Debug("orderbook-update-rejected",
		zap.String("reason", reason),
		zap.Error(err))
	return err
}

func (mb *marketBook) token(tokenID string) *tokenBook {
	switch tokenID {
	case mb.market.YesTokenID:
		return mb.yes
	case mb.market.NoTokenID:
		return mb.no
	default:
		return nil
	}
}

func validateLevel(price, size float64) error {
	if price <= 0 || price >= 1 {
		return fmt.Errorf("%w: price %v outside (0, 1)", ErrInvalidLevel, price)
	}
	if size < 0 {
		return fmt.Errorf("%w: negative size %v", ErrInvalidLevel, size)
	}
	return nil
}

func validateLevels(levels []types.Level) error {
	for _, l := range levels {
		if err := validateLevel(l.Price, l.Size); err != nil {
			return err
		}
	}
	return nil
}

func levelsToMap(levels []types.Level) map[float64]float64 {
	m := make(map[float64]float64, len(levels))
	for _, l := range levels {
		if l.Size > 0 {
			m[l.Price] = l.Size
		}
	}
	return m
}

func bestBid(levels map[float64]float64) (price, size float64) {
	for p, sz := range levels {
		if p > price {
			price, size = p, sz
		}
	}
	return price, size
}

func bestAsk(levels map[float64]float64) (price, size float64) {
	for p, sz := range levels {
		if price == 0 || p < price {
			price, size = p, sz
		}
	}
	return price, size
}
