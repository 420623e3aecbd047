package execution

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/mselser95/binary-arb/internal/arbitrage"
	"github.com/mselser95/binary-arb/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const inboxSize = 64

var one = decimal.NewFromInt(1)

// runner owns one cycle. Only the runner goroutine mutates the cycle; other
// goroutines read clones through current.
type runner struct {
	ctrl      *Controller
	ctx       context.Context
	candidate *arbitrage.Candidate // nil for recovered cycles
	logger    *zap.Logger

	mu    sync.Mutex
	cycle *types.Cycle

	inbox      chan types.OrderEvent
	cancelCh   chan struct{}
	cancelOnce sync.Once

	timedOut    bool
	canceled    bool
	hedgeBroken bool
	cancelSent  map[string]bool
}

func (c *Controller) newRunner(cycle *types.Cycle, cand *arbitrage.Candidate) *runner {
	return &runner{
		ctrl:       c,
		ctx:        c.ctx,
		candidate:  cand,
		logger:     c.logger.With(zap.String("cycle-id", cycle.ID), zap.String("market-id", cycle.MarketID)),
		cycle:      cycle,
		inbox:      make(chan types.OrderEvent, inboxSize),
		cancelCh:   make(chan struct{}),
		cancelSent: make(map[string]bool),
	}
}

// current returns a copy of the cycle.
func (r *runner) current() *types.Cycle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cycle.Clone()
}

func (r *runner) deliver(ev types.OrderEvent) {
	select {
	case r.inbox <- ev:
	default:
		OrderEventsTotal.WithLabelValues("dropped").Inc()
		r.logger.Warn("order-event-dropped-inbox-full",
			zap.String("order-id", ev.OrderID),
			zap.String("kind", ev.Kind.String()))
	}
}

func (r *runner) requestCancel() {
	r.cancelOnce.Do(func() { close(r.cancelCh) })
}

func (r *runner) cancelRequested() bool {
	select {
	case <-r.cancelCh:
		return true
	default:
		return false
	}
}

// commit applies mutate to a copy of the cycle and makes the copy current.
// Once capital is committed the copy is persisted first, so the in-memory
// cycle never runs ahead of the store.
func (r *runner) commit(mutate func(c *types.Cycle) bool) error {
	next := r.current()
	if !mutate(next) {
		return nil
	}
	next.UpdatedAt = r.ctrl.now()

	if next.Admitted {
		if err := r.ctrl.persist(r.ctx, next); err != nil {
			return err
		}
	}

	r.mu.Lock()
	r.cycle = next
	r.mu.Unlock()
	return nil
}

func (r *runner) run(resume bool) {
	defer r.ctrl.wg.Done()

	var err error
	if resume {
		err = r.resume()
	} else {
		err = r.execute()
	}

	if err != nil {
		c := r.current()
		r.logger.Warn("cycle-suspended",
			zap.String("state", string(c.State)),
			zap.Error(err))
	}
}

// execute runs a fresh cycle from SNAPSHOT.
func (r *runner) execute() error {
	if r.cancelRequested() {
		return r.abort(types.KindCanceled, "canceled before admission")
	}

	c := r.current()
	quote, err := r.ctrl.books.GetBestPrices(c.MarketID)
	if err != nil {
		return r.abort(types.KindStaleData, err.Error())
	}

	yes, yesSize, no, noSize := legPrices(c.Direction, quote)
	edge := edgeOf(c.Direction, yes, no)
	if yes <= 0 || no <= 0 || edge.LessThan(r.ctrl.minEdge) {
		return r.abort(types.KindEdgeEvaporated,
			fmt.Sprintf("edge %s below %s at snapshot", edge.StringFixed(4), r.ctrl.minEdge.StringFixed(4)))
	}

	size := math.Min(c.Size, math.Min(yesSize, noSize))
	if size <= fillEpsilon {
		return r.abort(types.KindEdgeEvaporated, "no size at snapshot prices")
	}

	capital := requiredCapital(c.Direction, size, yes, no)
	err = r.commit(func(c *types.Cycle) bool {
		c.State = types.StateCandidate
		c.YesPrice = yes
		c.NoPrice = no
		c.Size = size
		c.Edge = edge.InexactFloat64()
		c.RequiredCapital = capital
		return true
	})
	if err != nil {
		return err
	}

	if r.cancelRequested() {
		return r.abort(types.KindCanceled, "canceled before admission")
	}

	decision := r.ctrl.risk.MayOpen(c.ID, c.MarketID, capital)
	if !decision.Approved {
		return r.abort(types.KindRiskRejected, fmt.Sprintf("%s: %s", decision.Code, decision.Reason))
	}

	yesToken, noToken := r.tokenIDs()
	err = r.commit(func(c *types.Cycle) bool {
		c.Admitted = true
		c.State = types.StatePlacing
		c.YesOrder = r.newLeg(c, types.OutcomeYes, yesToken, c.YesPrice)
		c.NoOrder = r.newLeg(c, types.OutcomeNo, noToken, c.NoPrice)
		return true
	})
	if err != nil {
		return err
	}

	r.logger.Info("cycle-admitted",
		zap.String("direction", string(c.Direction)),
		zap.Float64("yes-price", yes),
		zap.Float64("no-price", no),
		zap.Float64("size", size),
		zap.Float64("capital", capital))

	return r.place()
}

func (r *runner) tokenIDs() (yes, no string) {
	if r.candidate != nil && r.candidate.YesTokenID != "" && r.candidate.NoTokenID != "" {
		return r.candidate.YesTokenID, r.candidate.NoTokenID
	}
	market, _ := r.ctrl.books.Market(r.current().MarketID)
	return market.YesTokenID, market.NoTokenID
}

func (r *runner) newLeg(c *types.Cycle, outcome types.Outcome, tokenID string, price float64) *types.Order {
	suffix := "-yes"
	if outcome == types.OutcomeNo {
		suffix = "-no"
	}
	return &types.Order{
		ClientID: c.ID + suffix,
		CycleID:  c.ID,
		MarketID: c.MarketID,
		TokenID:  tokenID,
		Outcome:  outcome,
		Side:     c.Direction.LegSide(),
		Role:     types.RoleLeg,
		Price:    price,
		Size:     c.Size,
		Status:   types.OrderPending,
	}
}

// abort ends a cycle that never committed capital.
func (r *runner) abort(kind types.ErrorKind, note string) error {
	if r.current().Admitted {
		return r.finalize(kind, note)
	}

	now := r.ctrl.now()
	_ = r.commit(func(c *types.Cycle) bool {
		c.State = types.StateAborted
		c.AbortReason = kind
		c.Note = note
		c.ClosedAt = &now
		c.OutcomeRecorded = true
		return true
	})

	final := r.current()
	if err := r.ctrl.risk.RecordOutcome(final); err != nil {
		r.logger.Error("record-outcome-failed", zap.Error(err))
	}

	r.logger.Info("cycle-aborted",
		zap.String("reason", string(kind)),
		zap.String("note", note))

	r.ctrl.finish(r)
	return nil
}

type submitResult struct {
	clientID string
	orderID  string
	latency  time.Duration
	err      error
}

// submit places one order, retrying transient failures. Once accepted the
// order id is bound so events reach this cycle.
func (r *runner) submit(o types.Order) submitResult {
	orderType := "GTC"
	if o.Role == types.RoleRemediation {
		orderType = "FAK"
	}
	req := types.OrderRequest{
		ClientID:  o.ClientID,
		MarketID:  o.MarketID,
		TokenID:   o.TokenID,
		Side:      o.Side,
		Price:     o.Price,
		Size:      o.Size,
		OrderType: orderType,
	}

	delay := r.ctrl.config.SubmitBackoff
	var err error
	for attempt := 1; attempt <= r.ctrl.config.SubmitAttempts; attempt++ {
		start := time.Now()
		var id string
		id, err = r.ctrl.client.Submit(r.ctx, req)
		latency := time.Since(start)

		if err == nil {
			SubmissionsTotal.WithLabelValues(string(o.Role), "accepted").Inc()
			SubmitLatencySeconds.Observe(latency.Seconds())
			r.ctrl.recordSubmit(latency)
			r.ctrl.bind(id, r)
			return submitResult{clientID: o.ClientID, orderID: id, latency: latency}
		}

		if !types.IsTransient(err) || attempt == r.ctrl.config.SubmitAttempts {
			break
		}

		r.logger.Warn("order-submit-retrying",
			zap.String("client-id", o.ClientID),
			zap.Int("attempt", attempt),
			zap.Error(err))

		select {
		case <-r.ctx.Done():
			return submitResult{clientID: o.ClientID, err: r.ctx.Err()}
		case <-time.After(delay):
		}
		delay *= 2
	}

	SubmissionsTotal.WithLabelValues(string(o.Role), "failed").Inc()
	r.logger.Error("order-submit-failed",
		zap.String("client-id", o.ClientID),
		zap.String("token-id", o.TokenID),
		zap.Error(err))

	return submitResult{clientID: o.ClientID, err: fmt.Errorf("%w: %w", types.ErrSubmissionFailed, err)}
}

// applySubmit records a submission result on the order it belongs to.
func applySubmit(c *types.Cycle, res submitResult, now time.Time) {
	o := findByClientID(c, res.clientID)
	if o == nil {
		return
	}
	if res.err != nil {
		o.Status = types.OrderRejected
		o.UpdatedAt = now
		if c.Note == "" {
			c.Note = res.err.Error()
		}
		return
	}
	o.ID = res.orderID
	o.LatencyMS = res.latency.Milliseconds()
	o.PlacedAt = now
	o.UpdatedAt = now
}

// place submits both legs concurrently. Legs already acknowledged before a
// restart are left alone; the rest are resubmitted under the same client id.
func (r *runner) place() error {
	c := r.current()

	var pending []types.Order
	for _, leg := range c.Legs() {
		if !leg.Acknowledged() && leg.Status == types.OrderPending {
			pending = append(pending, *leg)
		}
	}

	results := make([]submitResult, len(pending))
	var g errgroup.Group
	for i, leg := range pending {
		g.Go(func() error {
			results[i] = r.submit(leg)
			return nil
		})
	}
	_ = g.Wait()

	if r.ctx.Err() != nil {
		return r.ctx.Err()
	}

	now := r.ctrl.now()
	err := r.commit(func(c *types.Cycle) bool {
		for _, res := range results {
			applySubmit(c, res, now)
		}
		c.State = types.StateMonitoring
		return true
	})
	if err != nil {
		return err
	}

	acknowledged := 0
	for _, leg := range r.current().Legs() {
		if leg.Acknowledged() {
			acknowledged++
		}
	}
	if acknowledged == 0 {
		return r.resolve()
	}

	return r.monitor()
}

// monitor waits until both legs are terminal. Events, polling, the fill
// timeout and cancel-all all feed the same loop.
func (r *runner) monitor() error {
	fillTimer := time.NewTimer(r.ctrl.config.FillTimeout)
	defer fillTimer.Stop()

	poller := newBackoff(r.ctrl.config.PollInitial, r.ctrl.config.PollMax, r.ctrl.config.PollMultiplier)
	pollTimer := time.NewTimer(poller.Next())
	defer pollTimer.Stop()

	cancelCh := r.cancelCh
	isLeg := func(o *types.Order) bool { return o.Role == types.RoleLeg }

	for {
		c := r.current()
		if legsTerminal(c) {
			break
		}
		if !r.hedgeBroken && brokenHedge(c) {
			r.hedgeBroken = true
			r.logger.Warn("hedge-broken-canceling-leg")
			r.cancelOpen(isLeg, false)
		}

		select {
		case ev := <-r.inbox:
			if err := r.apply(ev); err != nil {
				return err
			}

		case <-fillTimer.C:
			r.timedOut = true
			FillTimeoutsTotal.Inc()
			r.logger.Warn("fill-timeout",
				zap.Duration("timeout", r.ctrl.config.FillTimeout))
			r.cancelOpen(isLeg, false)

		case <-pollTimer.C:
			if err := r.poll(isLeg); err != nil {
				return err
			}
			if r.timedOut || r.canceled || r.hedgeBroken {
				r.cancelOpen(isLeg, true)
			}
			pollTimer.Reset(poller.Next())

		case <-cancelCh:
			cancelCh = nil
			r.canceled = true
			r.logger.Warn("cycle-cancel-requested")
			r.cancelOpen(isLeg, false)

		case <-r.ctx.Done():
			return r.ctx.Err()
		}
	}

	return r.resolve()
}

// apply folds an order event into the cycle.
func (r *runner) apply(ev types.OrderEvent) error {
	now := r.ctrl.now()
	var order types.Order
	err := r.commit(func(c *types.Cycle) bool {
		o := findByOrderID(c, ev.OrderID)
		if o == nil {
			return false
		}
		if !applyEvent(o, ev, now) {
			return false
		}
		order = *o
		return true
	})
	if err != nil {
		return err
	}

	if order.ClientID != "" {
		r.logger.Info("order-updated",
			zap.String("client-id", order.ClientID),
			zap.String("order-id", order.ID),
			zap.String("status", string(order.Status)),
			zap.Float64("filled", order.FilledSize),
			zap.Float64("avg-price", order.AvgFillPrice))
	}
	return nil
}

// cancelOpen cancels live acknowledged orders selected by include. With
// force it re-sends cancels that were already sent once.
func (r *runner) cancelOpen(include func(o *types.Order) bool, force bool) {
	for _, o := range r.current().Orders() {
		if !include(o) || !o.Acknowledged() || o.Status.IsTerminal() {
			continue
		}
		if r.cancelSent[o.ClientID] && !force {
			continue
		}
		r.cancelSent[o.ClientID] = true

		if err := r.ctrl.client.Cancel(r.ctx, o.ID); err != nil {
			r.logger.Warn("order-cancel-failed",
				zap.String("order-id", o.ID),
				zap.Error(err))
			continue
		}
		r.logger.Info("order-cancel-sent", zap.String("order-id", o.ID))
	}
}

func legsTerminal(c *types.Cycle) bool {
	for _, leg := range c.Legs() {
		if !leg.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// brokenHedge reports whether one leg ended without filling completely
// while the other can still fill.
func brokenHedge(c *types.Cycle) bool {
	if c.YesOrder == nil || c.NoOrder == nil {
		return false
	}
	dead := func(o *types.Order) bool {
		return o.Status == types.OrderCanceled || o.Status == types.OrderRejected
	}
	return (dead(c.YesOrder) && !c.NoOrder.Status.IsTerminal()) ||
		(dead(c.NoOrder) && !c.YesOrder.Status.IsTerminal())
}

func findByClientID(c *types.Cycle, clientID string) *types.Order {
	for _, o := range c.Orders() {
		if o.ClientID == clientID {
			return o
		}
	}
	return nil
}

func findByOrderID(c *types.Cycle, orderID string) *types.Order {
	if orderID == "" {
		return nil
	}
	for _, o := range c.Orders() {
		if o.ID == orderID {
			return o
		}
	}
	return nil
}

// legPrices picks the side of the book a direction trades against.
func legPrices(d types.Direction, q types.Quote) (yes, yesSize, no, noSize float64) {
	if d == types.Reverse {
		return q.YesBid, q.YesBidSize, q.NoBid, q.NoBidSize
	}
	return q.YesAsk, q.YesAskSize, q.NoAsk, q.NoAskSize
}

func edgeOf(d types.Direction, yes, no float64) decimal.Decimal {
	combined := decimal.NewFromFloat(yes).Add(decimal.NewFromFloat(no))
	if d == types.Reverse {
		return combined.Sub(one)
	}
	return one.Sub(combined)
}

// requiredCapital is the cash a cycle locks: the cost of both asks when
// buying, the collateral behind both shorts when selling.
func requiredCapital(d types.Direction, size, yes, no float64) float64 {
	s := decimal.NewFromFloat(size)
	combined := decimal.NewFromFloat(yes).Add(decimal.NewFromFloat(no))
	if d == types.Reverse {
		return s.Mul(decimal.NewFromInt(2).Sub(combined)).InexactFloat64()
	}
	return s.Mul(combined).InexactFloat64()
}
