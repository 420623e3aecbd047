package arbitrage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mselser95/binary-arb/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Scan modes.
const (
	ModeEvent    = "event"
	ModeInterval = "interval"
)

var one = decimal.NewFromInt(1)

// BookReader is the read side of the order book store.
type BookReader interface {
	GetBestPrices(marketID string) (types.Quote, error)
	Market(marketID string) (types.Market, bool)
	ActiveMarketIDs() []string
	Updates() <-chan string
}

// CycleTracker reports whether a market already has a non-terminal Cycle.
type CycleTracker interface {
	HasOpenCycle(marketID string) bool
}

// Detector scans markets for combined-price gaps.
type Detector struct {
	books      BookReader
	tracker    CycleTracker
	config     Config
	minEdge    decimal.Decimal
	logger     *zap.Logger
	candidates chan *Candidate
	now        func() time.Time
	ctx        context.Context
	wg         sync.WaitGroup
	stats      Stats
	statsMu    sync.Mutex
}

// Config holds detector configuration.
type Config struct {
	MinEdge         float64 // includes fees and slippage buffer
	OrderSize       float64 // target size per leg
	MaxOrderSize    float64
	MinLiquidity    float64 // min top-of-book size on both legs
	Mode            string  // ModeEvent or ModeInterval
	ScanInterval    time.Duration
	CandidateBuffer int
	Logger          *zap.Logger
	Now             func() time.Time
}

// Stats summarizes detector activity.
type Stats struct {
	Scans             int64 `json:"scans"`
	StaleSkips        int64 `json:"stale_skips"`
	ForwardCandidates int64 `json:"forward_candidates"`
	ReverseCandidates int64 `json:"reverse_candidates"`
	OpenCycleDrops    int64 `json:"open_cycle_drops"`
	LiquidityDrops    int64 `json:"liquidity_drops"`
}

// New creates a new arbitrage detector.
func New(cfg Config, books BookReader, tracker CycleTracker) (*Detector, error) {
	if books == nil {
		return nil, fmt.Errorf("book reader cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.MinEdge < 0 {
		return nil, fmt.Errorf("min edge must not be negative")
	}
	if cfg.OrderSize <= 0 {
		return nil, fmt.Errorf("order size must be positive")
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeEvent
	}
	if cfg.Mode != ModeEvent && cfg.Mode != ModeInterval {
		return nil, fmt.Errorf("unknown scan mode %q", cfg.Mode)
	}
	if cfg.Mode == ModeInterval && cfg.ScanInterval <= 0 {
		return nil, fmt.Errorf("scan interval must be positive in interval mode")
	}
	if cfg.CandidateBuffer <= 0 {
		cfg.CandidateBuffer = 64
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Detector{
		books:      books,
		tracker:    tracker,
		config:     cfg,
		minEdge:    decimal.NewFromFloat(cfg.MinEdge),
		logger:     cfg.Logger,
		candidates: make(chan *Candidate, cfg.CandidateBuffer),
		now:        now,
	}, nil
}

// SetTracker wires the open-cycle tracker after construction.
func (d *Detector) SetTracker(tracker CycleTracker) {
	d.tracker = tracker
}

// Dropped-candidate reasons reported by evaluate.
const (
	dropNone      = ""
	dropLiquidity = "liquidity"
)

// Evaluate decides whether a quote carries a tradeable gap. It has no side
// effects. A direction qualifies only with enough edge and enough top-of-book
// size on both legs; when both qualify the larger edge wins, FORWARD on ties.
func (d *Detector) Evaluate(market types.Market, q types.Quote) (*Candidate, bool) {
	c, _ := d.evaluate(market, q)
	return c, c != nil
}

// evaluate returns the candidate, or the reason a gap was passed over.
func (d *Detector) evaluate(market types.Market, q types.Quote) (*Candidate, string) {
	var (
		fwdEdge, revEdge decimal.Decimal
		fwdGap, revGap   bool
	)

	fwdAvail := min(q.YesAskSize, q.NoAskSize)
	revAvail := min(q.YesBidSize, q.NoBidSize)

	if q.HasAsks() {
		combinedAsk := decimal.NewFromFloat(q.YesAsk).Add(decimal.NewFromFloat(q.NoAsk))
		fwdEdge = one.Sub(combinedAsk)
		fwdGap = fwdEdge.GreaterThanOrEqual(d.minEdge) && fwdEdge.IsPositive()
	}
	if q.HasBids() {
		combinedBid := decimal.NewFromFloat(q.YesBid).Add(decimal.NewFromFloat(q.NoBid))
		revEdge = combinedBid.Sub(one)
		revGap = revEdge.GreaterThanOrEqual(d.minEdge) && revEdge.IsPositive()
	}

	fwdOK := fwdGap && fwdAvail >= d.config.MinLiquidity
	revOK := revGap && revAvail >= d.config.MinLiquidity

	if !fwdOK && !revOK {
		if fwdGap || revGap {
			return nil, dropLiquidity
		}
		return nil, dropNone
	}

	direction := types.Forward
	if revOK && (!fwdOK || revEdge.GreaterThan(fwdEdge)) {
		direction = types.Reverse
	}

	c := &Candidate{
		ID:          uuid.NewString(),
		MarketID:    market.ID,
		MarketSlug:  market.Slug,
		YesTokenID:  market.YesTokenID,
		NoTokenID:   market.NoTokenID,
		Direction:   direction,
		GeneratedAt: d.now(),
	}

	var edge, available float64
	if direction == types.Forward {
		c.YesPrice, c.NoPrice = q.YesAsk, q.NoAsk
		edge = fwdEdge.InexactFloat64()
		available = fwdAvail
	} else {
		c.YesPrice, c.NoPrice = q.YesBid, q.NoBid
		edge = revEdge.InexactFloat64()
		available = revAvail
	}

	size := min(available, d.config.OrderSize)
	if d.config.MaxOrderSize > 0 {
		size = min(size, d.config.MaxOrderSize)
	}

	c.CombinedPrice = decimal.NewFromFloat(c.YesPrice).Add(decimal.NewFromFloat(c.NoPrice)).InexactFloat64()
	c.Edge = edge
	c.SpreadBPS = int(decimal.NewFromFloat(edge).Mul(decimal.NewFromInt(10000)).IntPart())
	c.Size = size

	return c, dropNone
}

// ScanMarket evaluates one market against the current book.
func (d *Detector) ScanMarket(marketID string) (*Candidate, bool) {
	market, ok := d.books.Market(marketID)
	if !ok || market.Status != types.MarketActive {
		return nil, false
	}

	d.bump(func(s *Stats) { s.Scans++ })
	ScansTotal.Inc()

	q, err := d.books.GetBestPrices(marketID)
	if err != nil {
		if errors.Is(err, types.ErrStaleData) {
			d.bump(func(s *Stats) { s.StaleSkips++ })
			CandidatesDroppedTotal.WithLabelValues("stale").Inc()
			d.logger.Debug("market-skipped-stale",
				zap.String("market-id", marketID),
				zap.Duration("age", q.Age))
		}
		return nil, false
	}

	c, reason := d.evaluate(market, q)
	if reason == dropLiquidity {
		d.bump(func(s *Stats) { s.LiquidityDrops++ })
		CandidatesDroppedTotal.WithLabelValues("liquidity").Inc()
	}
	if c == nil {
		return nil, false
	}

	if d.tracker != nil && d.tracker.HasOpenCycle(marketID) {
		d.bump(func(s *Stats) { s.OpenCycleDrops++ })
		CandidatesDroppedTotal.WithLabelValues("open_cycle").Inc()
		return nil, false
	}

	if c.Direction == types.Forward {
		d.bump(func(s *Stats) { s.ForwardCandidates++ })
	} else {
		d.bump(func(s *Stats) { s.ReverseCandidates++ })
	}
	CandidatesTotal.WithLabelValues(string(c.Direction)).Inc()
	CandidateEdgeBPS.Observe(float64(c.SpreadBPS))

	return c, true
}

// Scan evaluates every active market once.
func (d *Detector) Scan() []*Candidate {
	start := time.Now()
	defer func() {
		DetectionDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	var out []*Candidate
	for _, id := range d.books.ActiveMarketIDs() {
		if c, ok := d.ScanMarket(id); ok {
			out = append(out, c)
		}
	}
	return out
}

// Start starts the detection loop.
func (d *Detector) Start(ctx context.Context) error {
	d.ctx = ctx
	d.logger.Info("arbitrage-detector-starting",
		zap.String("mode", d.config.Mode),
		zap.Float64("min-edge", d.config.MinEdge),
		zap.Float64("order-size", d.config.OrderSize),
		zap.Duration("scan-interval", d.config.ScanInterval))

	d.wg.Add(1)
	if d.config.Mode == ModeInterval {
		go d.intervalLoop()
	} else {
		go d.eventLoop()
	}

	return nil
}

func (d *Detector) eventLoop() {
	defer d.wg.Done()

	updates := d.books.Updates()
	for {
		select {
		case <-d.ctx.Done():
			d.logger.Info("arbitrage-detector-stopping")
			return
		case marketID, ok := <-updates:
			if !ok {
				return
			}
			start := time.Now()
			if c, found := d.ScanMarket(marketID); found {
				d.emit(c)
			}
			DetectionDurationSeconds.Observe(time.Since(start).Seconds())
		}
	}
}

func (d *Detector) intervalLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.ScanInterval)
	defer ticker.Stop()

	// Every tick scans all markets, so change notifications are only drained
	// to keep the store's buffer from filling.
	updates := d.books.Updates()
	for {
		select {
		case <-d.ctx.Done():
			d.logger.Info("arbitrage-detector-stopping")
			return
		case _, ok := <-updates:
			if !ok {
				updates = nil
			}
		case <-ticker.C:
			for _, c := range d.Scan() {
				d.emit(c)
			}
		}
	}
}

func (d *Detector) emit(c *Candidate) {
	select {
	case d.candidates <- c:
		d.logger.Info("candidate-detected",
			zap.String("candidate-id", c.ID),
			zap.String("market-id", c.MarketID),
			zap.String("direction", string(c.Direction)),
			zap.Float64("yes-price", c.YesPrice),
			zap.Float64("no-price", c.NoPrice),
			zap.Float64("edge", c.Edge),
			zap.Float64("size", c.Size))
	default:
		CandidatesDroppedTotal.WithLabelValues("channel_full").Inc()
		d.logger.Warn("candidate-channel-full",
			zap.String("market-id", c.MarketID))
	}
}

// Candidates returns the channel of detected candidates.
func (d *Detector) Candidates() <-chan *Candidate {
	return d.candidates
}

// Stats returns a copy of the detector counters.
func (d *Detector) Stats() Stats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return d.stats
}

func (d *Detector) bump(f func(*Stats)) {
	d.statsMu.Lock()
	f(&d.stats)
	d.statsMu.Unlock()
}

// Close waits for the detection loop and closes the candidate channel.
func (d *Detector) Close() error {
	d.logger.Info("closing-arbitrage-detector")
	d.wg.Wait()
	close(d.candidates)
	d.logger.Info("arbitrage-detector-closed")
	return nil
}
