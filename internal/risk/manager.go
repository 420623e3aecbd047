package risk

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/mselser95/binary-arb/internal/circuitbreaker"
	"github.com/mselser95/binary-arb/pkg/types"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RejectCode explains a denied admission.
type RejectCode string

const (
	RejectCircuitBreaker RejectCode = "CIRCUIT_BREAKER"
	RejectDailyLoss      RejectCode = "DAILY_LOSS"
	RejectMaxExposure    RejectCode = "MAX_EXPOSURE"
	RejectMarketOpen     RejectCode = "MARKET_OPEN"
	RejectMarketExposure RejectCode = "MARKET_EXPOSURE"
	RejectMaxOpenCycles  RejectCode = "MAX_OPEN_CYCLES"
	RejectInvalidCapital RejectCode = "INVALID_CAPITAL"
)

// Breaker trip reasons.
const (
	TripConsecutiveLosses = "consecutive-losses"
	TripDailyLoss         = "daily-loss"
)

const dayLayout = "2006-01-02"

const defaultRecordedCycles = 4096

// Decision is the result of an admission check.
type Decision struct {
	Approved bool       `json:"approved"`
	Code     RejectCode `json:"code,omitempty"`
	Reason   string     `json:"reason,omitempty"`
}

// LedgerStore persists the risk ledger and breaker state.
type LedgerStore interface {
	UpsertLedger(ctx context.Context, ledger types.LedgerState) error
	UpsertBreaker(ctx context.Context, state types.BreakerState) error
}

// Config holds risk manager configuration.
type Config struct {
	MaxExposure          float64
	MaxMarketExposure    float64 // per-market cap; 0 means MaxExposure
	MaxOpenCycles        int     // 0 means unlimited
	MaxDailyLoss         float64
	MaxConsecutiveLosses int
	Cooldown             time.Duration
	RecordedCycles       int           // finished cycle ids remembered for replay detection
	DayBoundaryCron      string        // six-field cron spec, evaluated in UTC
	WatchInterval        time.Duration // breaker cooldown watcher period
	Store                LedgerStore   // optional
	Alerter              types.Alerter // optional, receives failed writes
	InitialLedger        *types.LedgerState
	InitialBreaker       *types.BreakerState
	Logger               *zap.Logger
	Now                  func() time.Time
}

// Manager owns the PnL ledger, the exposure budget and the circuit breaker.
// MayOpen and RecordOutcome are the only mutating entry points besides the
// operator reset and the daily rollover, all serialized on one mutex.
type Manager struct {
	mu                sync.Mutex
	cfg               Config
	breaker           *circuitbreaker.Breaker
	ledger            types.LedgerState
	sessionPnL        decimal.Decimal
	dailyPnL          decimal.Decimal
	exposure          decimal.Decimal
	maxExposure       decimal.Decimal
	maxMarketExposure decimal.Decimal
	maxDailyLoss      decimal.Decimal
	reservations      map[string]reservation // by cycle id
	openMarkets       map[string]string      // market id to cycle id
	recorded          map[string]struct{}    // cycle ids already applied
	recordedOrder     []string               // oldest first, bounded by RecordedCycles
	checks            int64
	rejections        map[RejectCode]int64
	logger            *zap.Logger
	now               func() time.Time

	writer *writer // nil without a store
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type reservation struct {
	marketID string
	amount   decimal.Decimal
}

// New creates a risk manager. A restored ledger keeps its PnL figures and
// streak; open exposure is rebuilt through RestoreReservation.
func New(cfg Config) (*Manager, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.MaxExposure <= 0 {
		return nil, fmt.Errorf("max exposure must be positive")
	}
	if cfg.MaxMarketExposure < 0 {
		return nil, fmt.Errorf("max market exposure cannot be negative")
	}
	if cfg.MaxMarketExposure == 0 || cfg.MaxMarketExposure > cfg.MaxExposure {
		cfg.MaxMarketExposure = cfg.MaxExposure
	}
	if cfg.MaxOpenCycles < 0 {
		return nil, fmt.Errorf("max open cycles cannot be negative")
	}
	if cfg.MaxDailyLoss <= 0 {
		return nil, fmt.Errorf("max daily loss must be positive")
	}
	if cfg.MaxConsecutiveLosses <= 0 {
		return nil, fmt.Errorf("max consecutive losses must be positive")
	}
	if cfg.RecordedCycles <= 0 {
		cfg.RecordedCycles = defaultRecordedCycles
	}
	if cfg.WatchInterval <= 0 {
		cfg.WatchInterval = time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	breaker, err := circuitbreaker.New(&circuitbreaker.Config{
		Cooldown: cfg.Cooldown,
		Logger:   cfg.Logger,
		Now:      cfg.Now,
		Initial:  cfg.InitialBreaker,
	})
	if err != nil {
		return nil, fmt.Errorf("create circuit breaker: %w", err)
	}

	m := &Manager{
		cfg:               cfg,
		breaker:           breaker,
		maxExposure:       decimal.NewFromFloat(cfg.MaxExposure),
		maxMarketExposure: decimal.NewFromFloat(cfg.MaxMarketExposure),
		maxDailyLoss:      decimal.NewFromFloat(cfg.MaxDailyLoss),
		exposure:          decimal.Zero,
		reservations:      make(map[string]reservation),
		openMarkets:       make(map[string]string),
		recorded:          make(map[string]struct{}),
		rejections:        make(map[RejectCode]int64),
		logger:            cfg.Logger,
		now:               cfg.Now,
	}
	if cfg.Store != nil {
		m.writer = newWriter(cfg.Store, cfg.Alerter, cfg.Logger)
	}

	if cfg.InitialLedger != nil {
		m.ledger = *cfg.InitialLedger
		m.ledger.OpenExposure = 0
		m.sessionPnL = decimal.NewFromFloat(cfg.InitialLedger.SessionPnL)
		m.dailyPnL = decimal.NewFromFloat(cfg.InitialLedger.DailyPnL)
	}
	if m.ledger.Day == "" {
		m.ledger.Day = m.now().UTC().Format(dayLayout)
	}

	m.syncLedgerLocked()
	m.publishLocked()

	return m, nil
}

// MayOpen decides whether cycleID, needing capital, may open on marketID
// and, when approved, reserves the capital under the cycle id before
// releasing the lock.
func (m *Manager) MayOpen(cycleID, marketID string, capital float64) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rollDayLocked()
	m.pollBreakerLocked()
	m.checks++
	ChecksTotal.Inc()

	if math.IsNaN(capital) || math.IsInf(capital, 0) || capital <= 0 {
		return m.rejectLocked(marketID, RejectInvalidCapital, fmt.Sprintf("invalid capital %v", capital))
	}

	if m.breaker.IsOpen() {
		st := m.breaker.GetStatus()
		return m.rejectLocked(marketID, RejectCircuitBreaker,
			fmt.Sprintf("circuit breaker open (%s), %s remaining", st.Reason, st.CooldownRemaining.Round(time.Second)))
	}

	// A breaker closed by cooldown may still be inside a losing day.
	if m.dailyLossExceededLocked() {
		if m.breaker.Trip(TripDailyLoss) {
			m.persistBreakerLocked()
		}
		return m.rejectLocked(marketID, RejectDailyLoss,
			fmt.Sprintf("daily loss %s exceeds limit %s", m.dailyPnL.Neg().StringFixed(2), m.maxDailyLoss.StringFixed(2)))
	}

	if _, dup := m.reservations[cycleID]; dup {
		return m.rejectLocked(marketID, RejectMarketOpen, fmt.Sprintf("cycle %s already holds a reservation", cycleID))
	}
	if _, done := m.recorded[cycleID]; done {
		return m.rejectLocked(marketID, RejectMarketOpen, fmt.Sprintf("cycle %s already finished", cycleID))
	}
	if _, open := m.openMarkets[marketID]; open {
		return m.rejectLocked(marketID, RejectMarketOpen, "market already has an open cycle")
	}

	amount := decimal.NewFromFloat(capital)
	if amount.GreaterThan(m.maxMarketExposure) {
		return m.rejectLocked(marketID, RejectMarketExposure,
			fmt.Sprintf("capital %s exceeds per-market limit %s",
				amount.StringFixed(2), m.maxMarketExposure.StringFixed(2)))
	}

	if m.cfg.MaxOpenCycles > 0 && len(m.reservations) >= m.cfg.MaxOpenCycles {
		return m.rejectLocked(marketID, RejectMaxOpenCycles,
			fmt.Sprintf("%d cycles open, limit %d", len(m.reservations), m.cfg.MaxOpenCycles))
	}

	if m.exposure.Add(amount).GreaterThan(m.maxExposure) {
		return m.rejectLocked(marketID, RejectMaxExposure,
			fmt.Sprintf("exposure %s + %s exceeds limit %s",
				m.exposure.StringFixed(2), amount.StringFixed(2), m.maxExposure.StringFixed(2)))
	}

	m.reservations[cycleID] = reservation{marketID: marketID, amount: amount}
	m.openMarkets[marketID] = cycleID
	m.exposure = m.exposure.Add(amount)
	m.syncLedgerLocked()
	m.publishLocked()
	m.persistLedgerLocked()

	AdmissionsTotal.WithLabelValues("approved").Inc()
	m.logger.Debug("risk-admitted",
		zap.String("cycle-id", cycleID),
		zap.String("market-id", marketID),
		zap.Float64("capital", capital),
		zap.String("open-exposure", m.exposure.StringFixed(4)))

	return Decision{Approved: true}
}

// RecordOutcome applies a finished cycle to the ledger. Admitted cycles
// release their reservation and move PnL, the loss streak and the breaker.
// Cycles aborted before admission only count toward the totals. A cycle is
// applied at most once; repeated calls for the same id are no-ops.
func (m *Manager) RecordOutcome(cycle *types.Cycle) error {
	if cycle == nil {
		return fmt.Errorf("cycle cannot be nil")
	}
	if !cycle.State.IsTerminal() {
		return fmt.Errorf("cycle %s is not terminal: %s", cycle.ID, cycle.State)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.rollDayLocked()

	if !cycle.Admitted {
		OutcomesTotal.WithLabelValues("unadmitted").Inc()
		m.logger.Debug("risk-outcome-unadmitted",
			zap.String("cycle-id", cycle.ID),
			zap.String("reason", string(cycle.AbortReason)))
		return nil
	}

	if _, done := m.recorded[cycle.ID]; done {
		OutcomesTotal.WithLabelValues("duplicate").Inc()
		m.logger.Warn("risk-outcome-duplicate",
			zap.String("cycle-id", cycle.ID),
			zap.String("market-id", cycle.MarketID))
		return nil
	}

	res, ok := m.reservations[cycle.ID]
	if !ok {
		return fmt.Errorf("no reservation for cycle %s (market %s)", cycle.ID, cycle.MarketID)
	}
	delete(m.reservations, cycle.ID)
	if m.openMarkets[res.marketID] == cycle.ID {
		delete(m.openMarkets, res.marketID)
	}
	m.rememberLocked(cycle.ID)
	m.exposure = m.exposure.Sub(res.amount)

	pnl := decimal.NewFromFloat(cycle.PnL())
	m.sessionPnL = m.sessionPnL.Add(pnl)
	m.dailyPnL = m.dailyPnL.Add(pnl)
	m.ledger.CyclesRecorded++

	if pnl.IsNegative() {
		m.ledger.ConsecutiveLosses++
		OutcomesTotal.WithLabelValues("loss").Inc()
	} else {
		m.ledger.ConsecutiveLosses = 0
		OutcomesTotal.WithLabelValues("win").Inc()
	}

	tripped := false
	if m.ledger.ConsecutiveLosses >= m.cfg.MaxConsecutiveLosses {
		tripped = m.breaker.Trip(TripConsecutiveLosses) || tripped
	}
	if m.dailyLossExceededLocked() {
		tripped = m.breaker.Trip(TripDailyLoss) || tripped
	}

	m.syncLedgerLocked()
	m.publishLocked()
	m.persistLedgerLocked()
	if tripped {
		m.persistBreakerLocked()
	}

	m.logger.Info("risk-outcome-recorded",
		zap.String("cycle-id", cycle.ID),
		zap.String("market-id", cycle.MarketID),
		zap.String("state", string(cycle.State)),
		zap.String("pnl", pnl.StringFixed(4)),
		zap.String("daily-pnl", m.dailyPnL.StringFixed(4)),
		zap.Int("consecutive-losses", m.ledger.ConsecutiveLosses),
		zap.Bool("breaker-tripped", tripped))

	return nil
}

// RestoreReservation re-reserves capital for a cycle reloaded after a
// restart. It skips the admission checks: the cycle was admitted already.
func (m *Manager) RestoreReservation(cycleID, marketID string, capital float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, open := m.reservations[cycleID]; open {
		return fmt.Errorf("cycle %s already has a reservation", cycleID)
	}
	if other, open := m.openMarkets[marketID]; open {
		return fmt.Errorf("market %s already has a reservation for cycle %s", marketID, other)
	}

	amount := decimal.NewFromFloat(capital)
	m.reservations[cycleID] = reservation{marketID: marketID, amount: amount}
	m.openMarkets[marketID] = cycleID
	m.exposure = m.exposure.Add(amount)
	if m.exposure.GreaterThan(m.maxExposure) {
		m.logger.Warn("restored-exposure-above-limit",
			zap.String("open-exposure", m.exposure.StringFixed(2)),
			zap.String("limit", m.maxExposure.StringFixed(2)))
	}

	m.syncLedgerLocked()
	m.publishLocked()

	return nil
}

// Reset force-closes the breaker and clears the loss streak. The daily loss
// figure is kept. It reports whether the breaker was open.
func (m *Manager) Reset() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	wasOpen := m.breaker.Reset()
	m.ledger.ConsecutiveLosses = 0
	m.syncLedgerLocked()
	m.publishLocked()
	m.persistLedgerLocked()
	if wasOpen {
		m.persistBreakerLocked()
	}

	m.logger.Info("risk-manual-reset", zap.Bool("breaker-was-open", wasOpen))

	return wasOpen
}

// RollDaily resets the daily PnL when the UTC day changed.
func (m *Manager) RollDaily() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDayLocked()
}

// Tick applies the breaker cooldown.
func (m *Manager) Tick() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pollBreakerLocked()
}

// IsTradingAllowed reports whether the breaker is closed.
func (m *Manager) IsTradingAllowed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pollBreakerLocked()
	return !m.breaker.IsOpen()
}

// Status is a snapshot of the risk ledger.
type Status struct {
	Breaker           circuitbreaker.Status `json:"breaker"`
	ConsecutiveLosses int                   `json:"consecutive_losses"`
	SessionPnL        float64               `json:"session_pnl"`
	DailyPnL          float64               `json:"daily_pnl"`
	Day               string                `json:"day"`
	OpenExposure      float64               `json:"open_exposure"`
	MaxExposure       float64               `json:"max_exposure"`
	MaxMarketExposure float64               `json:"max_market_exposure"`
	OpenReservations  int                   `json:"open_reservations"`
	MaxOpenCycles     int                   `json:"max_open_cycles,omitempty"`
	CyclesRecorded    int                   `json:"cycles_recorded"`
	TotalChecks       int64                 `json:"total_checks"`
	Rejections        map[RejectCode]int64  `json:"rejections"`
}

// Status returns the current ledger and breaker state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rollDayLocked()
	m.pollBreakerLocked()

	rejections := make(map[RejectCode]int64, len(m.rejections))
	for code, n := range m.rejections {
		rejections[code] = n
	}

	return Status{
		Breaker:           m.breaker.GetStatus(),
		ConsecutiveLosses: m.ledger.ConsecutiveLosses,
		SessionPnL:        m.ledger.SessionPnL,
		DailyPnL:          m.ledger.DailyPnL,
		Day:               m.ledger.Day,
		OpenExposure:      m.ledger.OpenExposure,
		MaxExposure:       m.cfg.MaxExposure,
		MaxMarketExposure: m.cfg.MaxMarketExposure,
		OpenReservations:  len(m.reservations),
		MaxOpenCycles:     m.cfg.MaxOpenCycles,
		CyclesRecorded:    m.ledger.CyclesRecorded,
		TotalChecks:       m.checks,
		Rejections:        rejections,
	}
}

// Ledger returns the persistable ledger.
func (m *Manager) Ledger() types.LedgerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger
}

// BreakerState returns the persistable breaker state.
func (m *Manager) BreakerState() types.BreakerState {
	return m.breaker.State()
}

// Start schedules the daily rollover and launches the cooldown watcher.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	m.cron = cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC))
	if m.cfg.DayBoundaryCron != "" {
		if _, err := m.cron.AddFunc(m.cfg.DayBoundaryCron, m.RollDaily); err != nil {
			m.cancel()
			return fmt.Errorf("schedule daily rollover: %w", err)
		}
	}
	m.cron.Start()

	m.wg.Add(1)
	go m.watch()

	if m.writer != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.writer.run(m.ctx)
		}()
	}

	m.logger.Info("risk-manager-started",
		zap.Float64("max-exposure", m.cfg.MaxExposure),
		zap.Float64("max-daily-loss", m.cfg.MaxDailyLoss),
		zap.Int("max-consecutive-losses", m.cfg.MaxConsecutiveLosses),
		zap.Duration("cooldown", m.cfg.Cooldown))

	return nil
}

func (m *Manager) watch() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.WatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.Tick()
		}
	}
}

// Close stops the watcher and the scheduler, then writes any state still
// pending.
func (m *Manager) Close() error {
	m.logger.Info("closing-risk-manager")

	if m.cancel != nil {
		m.cancel()
	}
	if m.cron != nil {
		<-m.cron.Stop().Done()
	}
	m.wg.Wait()

	m.Flush(context.Background())

	return nil
}

// Flush writes pending ledger and breaker snapshots synchronously.
func (m *Manager) Flush(ctx context.Context) {
	if m.writer != nil {
		m.writer.flush(ctx)
	}
}

func (m *Manager) rejectLocked(marketID string, code RejectCode, reason string) Decision {
	m.rejections[code]++
	AdmissionsTotal.WithLabelValues(string(code)).Inc()

	m.logger.Info("risk-rejected",
		zap.String("market-id", marketID),
		zap.String("code", string(code)),
		zap.String("reason", reason))

	return Decision{Code: code, Reason: reason}
}

// rememberLocked adds a finished cycle id, forgetting the oldest past the
// limit. A forgotten id that is replayed finds no reservation and is
// rejected by RecordOutcome.
func (m *Manager) rememberLocked(cycleID string) {
	m.recorded[cycleID] = struct{}{}
	m.recordedOrder = append(m.recordedOrder, cycleID)
	if len(m.recordedOrder) > m.cfg.RecordedCycles {
		delete(m.recorded, m.recordedOrder[0])
		m.recordedOrder = m.recordedOrder[1:]
	}
}

func (m *Manager) dailyLossExceededLocked() bool {
	return m.dailyPnL.Neg().GreaterThan(m.maxDailyLoss)
}

// pollBreakerLocked closes an expired breaker. The streak restarts with it.
func (m *Manager) pollBreakerLocked() {
	if !m.breaker.Poll() {
		return
	}
	m.ledger.ConsecutiveLosses = 0
	m.syncLedgerLocked()
	m.publishLocked()
	m.persistLedgerLocked()
	m.persistBreakerLocked()
}

func (m *Manager) rollDayLocked() {
	day := m.now().UTC().Format(dayLayout)
	if day == m.ledger.Day {
		return
	}

	m.logger.Info("risk-daily-rollover",
		zap.String("previous-day", m.ledger.Day),
		zap.String("day", day),
		zap.String("previous-daily-pnl", m.dailyPnL.StringFixed(4)))

	m.ledger.Day = day
	m.dailyPnL = decimal.Zero
	m.syncLedgerLocked()
	m.publishLocked()
	m.persistLedgerLocked()
}

func (m *Manager) syncLedgerLocked() {
	m.ledger.SessionPnL = m.sessionPnL.InexactFloat64()
	m.ledger.DailyPnL = m.dailyPnL.InexactFloat64()
	m.ledger.OpenExposure = m.exposure.InexactFloat64()
	m.ledger.UpdatedAt = m.now()
}

func (m *Manager) publishLocked() {
	OpenExposure.Set(m.ledger.OpenExposure)
	SessionPnL.Set(m.ledger.SessionPnL)
	DailyPnL.Set(m.ledger.DailyPnL)
	ConsecutiveLosses.Set(float64(m.ledger.ConsecutiveLosses))
}

// persistLedgerLocked hands a snapshot to the writer; the store is never
// called under the mutex.
func (m *Manager) persistLedgerLocked() {
	if m.writer != nil {
		m.writer.enqueueLedger(m.ledger)
	}
}

func (m *Manager) persistBreakerLocked() {
	if m.writer != nil {
		m.writer.enqueueBreaker(m.breaker.State())
	}
}
