package execution

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mselser95/binary-arb/internal/arbitrage"
	"github.com/mselser95/binary-arb/internal/risk"
	"github.com/mselser95/binary-arb/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxOrphanEvents = 1024

// OrderClient is the execution substrate, the live CLOB or the paper exchange.
type OrderClient interface {
	Submit(ctx context.Context, req types.OrderRequest) (string, error)
	Cancel(ctx context.Context, orderID string) error
	GetOrder(ctx context.Context, orderID string) (types.OrderEvent, error)
}

// RiskGate admits cycles and records their outcomes.
type RiskGate interface {
	MayOpen(cycleID, marketID string, capital float64) risk.Decision
	RecordOutcome(cycle *types.Cycle) error
	RestoreReservation(cycleID, marketID string, capital float64) error
}

// BookReader provides prices at decision time.
type BookReader interface {
	GetBestPrices(marketID string) (types.Quote, error)
	Market(marketID string) (types.Market, bool)
}

// CycleStore persists cycles.
type CycleStore interface {
	UpsertCycle(ctx context.Context, cycle *types.Cycle) error
	LoadOpenCycles(ctx context.Context) ([]*types.Cycle, error)
}

// Controller drives candidates through the cycle pipeline. Each cycle runs
// in its own goroutine; order events are routed to it by exchange order id.
type Controller struct {
	config  Config
	client  OrderClient
	risk    RiskGate
	books   BookReader
	store   CycleStore
	alerter Alerter
	logger  *zap.Logger
	now     func() time.Time
	minEdge decimal.Decimal
	feeRate decimal.Decimal

	mu          sync.Mutex
	open        map[string]*runner // market id -> cycle
	byOrder     map[string]*runner // exchange order id -> cycle
	orphans     map[string][]types.OrderEvent
	orphanIDs   []string
	recent      []*types.Cycle
	stats       Stats
	pnl         decimal.Decimal
	pauseReason string

	paused atomic.Bool
	ctx    context.Context
	wg     sync.WaitGroup
}

// Config holds execution controller configuration.
type Config struct {
	MinEdge             float64 // re-checked against the snapshot
	TakerFeeRate        float64 // fraction of filled notional
	FillTimeout         time.Duration
	PollInitial         time.Duration
	PollMax             time.Duration
	PollMultiplier      float64
	SubmitAttempts      int
	SubmitBackoff       time.Duration
	RemediationTimeout  time.Duration
	RemediationAttempts int
	PersistBackoff      time.Duration
	RecentCycles        int
	StartPaused         bool
	CandidateChannel    <-chan *arbitrage.Candidate
	Alerter             Alerter // defaults to an AlertLog
	Logger              *zap.Logger
	Now                 func() time.Time
}

// Stats counts controller activity since start.
type Stats struct {
	CyclesStarted       int64            `json:"cycles_started"`
	CyclesClosed        int64            `json:"cycles_closed"`
	CyclesAborted       int64            `json:"cycles_aborted"`
	AbortReasons        map[string]int64 `json:"abort_reasons"`
	LegsSubmitted       int64            `json:"legs_submitted"`
	LegsFilled          int64            `json:"legs_filled"`
	Remediations        int64            `json:"remediations"`
	RemediationFailures int64            `json:"remediation_failures"`
	SubmitLatencyMS     int64            `json:"submit_latency_ms_total"`
	DroppedCandidates   int64            `json:"dropped_candidates"`
}

// Status is a point-in-time view of the controller.
type Status struct {
	Paused             bool           `json:"paused"`
	PauseReason        string         `json:"pause_reason,omitempty"`
	Open               []*types.Cycle `json:"open"`
	Recent             []*types.Cycle `json:"recent"`
	Stats              Stats          `json:"stats"`
	FillRate           float64        `json:"fill_rate"`
	AvgSubmitLatencyMS float64        `json:"avg_submit_latency_ms"`
	CumulativePnL      float64        `json:"cumulative_pnl"`
	Alerts             []Alert        `json:"alerts,omitempty"`
}

// New creates an execution controller.
func New(cfg Config, client OrderClient, gate RiskGate, books BookReader, store CycleStore) (*Controller, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if client == nil {
		return nil, fmt.Errorf("order client cannot be nil")
	}
	if gate == nil {
		return nil, fmt.Errorf("risk gate cannot be nil")
	}
	if books == nil {
		return nil, fmt.Errorf("book reader cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("cycle store cannot be nil")
	}
	if cfg.FillTimeout <= 0 {
		return nil, fmt.Errorf("fill timeout must be positive")
	}
	if cfg.TakerFeeRate < 0 || cfg.MinEdge < 0 {
		return nil, fmt.Errorf("fee rate and min edge must not be negative")
	}

	applyDefaults(&cfg)

	c := &Controller{
		config:  cfg,
		client:  client,
		risk:    gate,
		books:   books,
		store:   store,
		alerter: cfg.Alerter,
		logger:  cfg.Logger,
		now:     cfg.Now,
		minEdge: decimal.NewFromFloat(cfg.MinEdge),
		feeRate: decimal.NewFromFloat(cfg.TakerFeeRate),
		open:    make(map[string]*runner),
		byOrder: make(map[string]*runner),
		orphans: make(map[string][]types.OrderEvent),
		stats:   Stats{AbortReasons: make(map[string]int64)},
		ctx:     context.Background(),
	}
	if c.alerter == nil {
		c.alerter = NewAlertLog(100, cfg.Logger)
	}
	if cfg.StartPaused {
		c.Pause("start-paused")
	}

	return c, nil
}

func applyDefaults(cfg *Config) {
	if cfg.PollInitial <= 0 {
		cfg.PollInitial = 100 * time.Millisecond
	}
	if cfg.PollMax <= 0 {
		cfg.PollMax = 2 * time.Second
	}
	if cfg.PollMultiplier < 1 {
		cfg.PollMultiplier = 1.5
	}
	if cfg.SubmitAttempts <= 0 {
		cfg.SubmitAttempts = 3
	}
	if cfg.SubmitBackoff <= 0 {
		cfg.SubmitBackoff = 200 * time.Millisecond
	}
	if cfg.RemediationTimeout <= 0 {
		cfg.RemediationTimeout = 5 * time.Second
	}
	if cfg.RemediationAttempts <= 0 {
		cfg.RemediationAttempts = 3
	}
	if cfg.PersistBackoff <= 0 {
		cfg.PersistBackoff = time.Second
	}
	if cfg.RecentCycles <= 0 {
		cfg.RecentCycles = 50
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
}

// Start starts consuming candidates. Call Recover afterwards to resume
// cycles left open by a previous run.
func (c *Controller) Start(ctx context.Context) error {
	c.ctx = ctx
	c.logger.Info("execution-controller-starting",
		zap.Duration("fill-timeout", c.config.FillTimeout),
		zap.Float64("min-edge", c.config.MinEdge),
		zap.Bool("paused", c.paused.Load()))

	if c.config.CandidateChannel != nil {
		c.wg.Add(1)
		go c.candidateLoop()
	}

	return nil
}

func (c *Controller) candidateLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			c.logger.Info("execution-controller-stopping")
			return
		case cand, ok := <-c.config.CandidateChannel:
			if !ok {
				c.logger.Info("candidate-channel-closed")
				return
			}
			c.HandleCandidate(cand)
		}
	}
}

// HandleCandidate opens a cycle for cand unless admission is paused or the
// market already has an open cycle. It reports whether a cycle was started.
func (c *Controller) HandleCandidate(cand *arbitrage.Candidate) bool {
	if cand == nil {
		return false
	}
	if c.paused.Load() {
		c.dropCandidate(cand, "paused")
		return false
	}

	now := c.now()
	cycle := &types.Cycle{
		ID:        uuid.NewString(),
		MarketID:  cand.MarketID,
		Direction: cand.Direction,
		State:     types.StateSnapshot,
		Size:      cand.Size,
		YesPrice:  cand.YesPrice,
		NoPrice:   cand.NoPrice,
		Edge:      cand.Edge,
		CreatedAt: now,
		UpdatedAt: now,
	}

	c.mu.Lock()
	if _, busy := c.open[cand.MarketID]; busy {
		c.mu.Unlock()
		c.dropCandidate(cand, "open-cycle")
		return false
	}
	r := c.newRunner(cycle, cand)
	c.open[cand.MarketID] = r
	c.stats.CyclesStarted++
	OpenCycles.Set(float64(len(c.open)))
	c.mu.Unlock()

	CandidatesTotal.WithLabelValues("started").Inc()
	c.logger.Info("cycle-started",
		zap.String("cycle-id", cycle.ID),
		zap.String("candidate-id", cand.ID),
		zap.String("market-id", cand.MarketID),
		zap.String("market-slug", cand.MarketSlug),
		zap.String("direction", string(cand.Direction)),
		zap.Float64("edge", cand.Edge),
		zap.Float64("size", cand.Size))

	c.wg.Add(1)
	go r.run(false)

	return true
}

func (c *Controller) dropCandidate(cand *arbitrage.Candidate, reason string) {
	CandidatesTotal.WithLabelValues(reason).Inc()
	c.mu.Lock()
	c.stats.DroppedCandidates++
	c.mu.Unlock()
	c.logger.Debug("candidate-dropped",
		zap.String("candidate-id", cand.ID),
		zap.String("market-id", cand.MarketID),
		zap.String("reason", reason))
}

// HandleOrderEvent routes an order event to the cycle that owns the order.
// Events for orders not yet bound to a cycle are held until the
// submission that created the order returns.
func (c *Controller) HandleOrderEvent(ev types.OrderEvent) {
	c.mu.Lock()
	r, ok := c.byOrder[ev.OrderID]
	if !ok {
		c.stashOrphanLocked(ev)
		c.mu.Unlock()
		OrderEventsTotal.WithLabelValues("orphaned").Inc()
		return
	}
	c.mu.Unlock()

	OrderEventsTotal.WithLabelValues("routed").Inc()
	r.deliver(ev)
}

func (c *Controller) stashOrphanLocked(ev types.OrderEvent) {
	if _, seen := c.orphans[ev.OrderID]; !seen {
		c.orphanIDs = append(c.orphanIDs, ev.OrderID)
		if len(c.orphanIDs) > maxOrphanEvents {
			delete(c.orphans, c.orphanIDs[0])
			c.orphanIDs = c.orphanIDs[1:]
		}
	}
	c.orphans[ev.OrderID] = append(c.orphans[ev.OrderID], ev)
}

// bind routes future events for orderID to r and replays held events.
func (c *Controller) bind(orderID string, r *runner) {
	c.mu.Lock()
	c.byOrder[orderID] = r
	held := c.orphans[orderID]
	if held != nil {
		delete(c.orphans, orderID)
		for i, id := range c.orphanIDs {
			if id == orderID {
				c.orphanIDs = append(c.orphanIDs[:i], c.orphanIDs[i+1:]...)
				break
			}
		}
	}
	c.mu.Unlock()

	for _, ev := range held {
		r.deliver(ev)
	}
}

// finish removes a terminal cycle from the routing tables.
func (c *Controller) finish(r *runner) {
	cycle := r.current()

	c.mu.Lock()
	if c.open[cycle.MarketID] == r {
		delete(c.open, cycle.MarketID)
	}
	for _, o := range cycle.Orders() {
		if o.Acknowledged() && c.byOrder[o.ID] == r {
			delete(c.byOrder, o.ID)
		}
	}

	c.recent = append(c.recent, cycle)
	if len(c.recent) > c.config.RecentCycles {
		c.recent = c.recent[len(c.recent)-c.config.RecentCycles:]
	}

	if cycle.State == types.StateClosed {
		c.stats.CyclesClosed++
	} else {
		c.stats.CyclesAborted++
		c.stats.AbortReasons[string(cycle.AbortReason)]++
	}
	for _, leg := range cycle.Legs() {
		if leg.Status == types.OrderFilled {
			c.stats.LegsFilled++
		}
	}
	if cycle.AbortReason == types.KindRemediation {
		c.stats.RemediationFailures++
	}
	c.pnl = c.pnl.Add(decimal.NewFromFloat(cycle.PnL()))
	pnl := c.pnl.InexactFloat64()
	OpenCycles.Set(float64(len(c.open)))
	c.mu.Unlock()

	RealizedPnLUSD.Set(pnl)
	CyclesTotal.WithLabelValues(string(cycle.State), string(cycle.AbortReason)).Inc()
	CycleDurationSeconds.Observe(c.now().Sub(cycle.CreatedAt).Seconds())
}

func (c *Controller) recordSubmit(latency time.Duration) {
	c.mu.Lock()
	c.stats.LegsSubmitted++
	c.stats.SubmitLatencyMS += latency.Milliseconds()
	c.mu.Unlock()
}

func (c *Controller) recordRemediation() {
	c.mu.Lock()
	c.stats.Remediations++
	c.mu.Unlock()
}

// persist writes a cycle, retrying until it is durable or ctx ends. The
// store already retries transient failures, so every failure seen here
// raises an alert.
func (c *Controller) persist(ctx context.Context, cycle *types.Cycle) error {
	delay := c.config.PersistBackoff
	for {
		err := c.store.UpsertCycle(ctx, cycle)
		if err == nil {
			return nil
		}

		PersistFailuresTotal.Inc()
		c.alerter.Raise(Alert{
			Kind:     types.KindPersistence,
			CycleID:  cycle.ID,
			MarketID: cycle.MarketID,
			Message:  fmt.Sprintf("write cycle in state %s: %v", cycle.State, err),
			At:       c.now(),
		})

		select {
		case <-ctx.Done():
			return fmt.Errorf("persist cycle %s: %w", cycle.ID, err)
		case <-time.After(delay):
		}
		delay *= 2
		if delay > 30*time.Second {
			delay = 30 * time.Second
		}
	}
}

// HasOpenCycle reports whether marketID has a non-terminal cycle.
func (c *Controller) HasOpenCycle(marketID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.open[marketID]
	return ok
}

// Pause stops admission of new cycles. Open cycles keep running.
func (c *Controller) Pause(reason string) bool {
	changed := c.paused.CompareAndSwap(false, true)
	c.mu.Lock()
	c.pauseReason = reason
	c.mu.Unlock()
	if changed {
		Paused.Set(1)
		c.logger.Warn("execution-paused", zap.String("reason", reason))
	}
	return changed
}

// Resume re-enables admission.
func (c *Controller) Resume() bool {
	changed := c.paused.CompareAndSwap(true, false)
	c.mu.Lock()
	c.pauseReason = ""
	c.mu.Unlock()
	if changed {
		Paused.Set(0)
		c.logger.Info("execution-resumed")
	}
	return changed
}

// IsPaused reports whether admission is paused.
func (c *Controller) IsPaused() bool {
	return c.paused.Load()
}

// CancelAll asks every open cycle to cancel its live orders and unwind.
// It returns the number of cycles signaled.
func (c *Controller) CancelAll() int {
	c.mu.Lock()
	runners := make([]*runner, 0, len(c.open))
	for _, r := range c.open {
		runners = append(runners, r)
	}
	c.mu.Unlock()

	for _, r := range runners {
		r.requestCancel()
	}

	c.logger.Warn("cancel-all-requested", zap.Int("cycles", len(runners)))
	return len(runners)
}

// Status returns a snapshot of open cycles, recent cycles and counters.
func (c *Controller) Status() Status {
	c.mu.Lock()
	runners := make([]*runner, 0, len(c.open))
	for _, r := range c.open {
		runners = append(runners, r)
	}
	st := Status{
		Paused:        c.paused.Load(),
		PauseReason:   c.pauseReason,
		Recent:        make([]*types.Cycle, 0, len(c.recent)),
		Stats:         c.stats,
		CumulativePnL: c.pnl.InexactFloat64(),
	}
	for _, cy := range c.recent {
		st.Recent = append(st.Recent, cy.Clone())
	}
	st.Stats.AbortReasons = make(map[string]int64, len(c.stats.AbortReasons))
	for k, v := range c.stats.AbortReasons {
		st.Stats.AbortReasons[k] = v
	}
	c.mu.Unlock()

	st.Open = make([]*types.Cycle, 0, len(runners))
	for _, r := range runners {
		st.Open = append(st.Open, r.current())
	}

	if st.Stats.LegsSubmitted > 0 {
		st.FillRate = float64(st.Stats.LegsFilled) / float64(st.Stats.LegsSubmitted)
		st.AvgSubmitLatencyMS = float64(st.Stats.SubmitLatencyMS) / float64(st.Stats.LegsSubmitted)
	}
	if log, ok := c.alerter.(interface{ Recent() []Alert }); ok {
		st.Alerts = log.Recent()
	}

	return st
}

// Close waits for the candidate loop and every cycle goroutine to exit.
// Cancel the context passed to Start first.
func (c *Controller) Close() error {
	c.logger.Info("closing-execution-controller")
	c.wg.Wait()

	c.mu.Lock()
	pnl := c.pnl
	open := len(c.open)
	c.mu.Unlock()

	c.logger.Info("execution-controller-closed",
		zap.String("realized-pnl", pnl.StringFixed(4)),
		zap.Int("open-cycles", open))

	return nil
}
