package risk

import (
	"context"
	"fmt"
	"sync"

	"github.com/mselser95/binary-arb/pkg/types"
	"go.uber.org/zap"
)

// writer persists ledger and breaker snapshots off the admission path.
// Only the latest pending snapshot of each kind is written; a slower store
// coalesces intermediate states instead of queueing them.
type writer struct {
	store   LedgerStore
	alerter types.Alerter
	logger  *zap.Logger

	mu      sync.Mutex
	ledger  *types.LedgerState
	breaker *types.BreakerState
	wake    chan struct{}

	// flushMu serializes store writes between run and Flush.
	flushMu sync.Mutex
}

func newWriter(store LedgerStore, alerter types.Alerter, logger *zap.Logger) *writer {
	return &writer{
		store:   store,
		alerter: alerter,
		logger:  logger,
		wake:    make(chan struct{}, 1),
	}
}

func (w *writer) enqueueLedger(l types.LedgerState) {
	w.mu.Lock()
	w.ledger = &l
	w.mu.Unlock()
	w.signal()
}

func (w *writer) enqueueBreaker(b types.BreakerState) {
	w.mu.Lock()
	w.breaker = &b
	w.mu.Unlock()
	w.signal()
}

func (w *writer) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.wake:
			w.flush(ctx)
		}
	}
}

// flush writes whatever is pending. Failed snapshots are dropped after the
// alert: the next state change supersedes them.
func (w *writer) flush(ctx context.Context) {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.mu.Lock()
	ledger, breaker := w.ledger, w.breaker
	w.ledger, w.breaker = nil, nil
	w.mu.Unlock()

	if breaker != nil {
		if err := w.store.UpsertBreaker(ctx, *breaker); err != nil {
			w.fail("breaker", err)
		}
	}
	if ledger != nil {
		if err := w.store.UpsertLedger(ctx, *ledger); err != nil {
			w.fail("ledger", err)
		}
	}
}

func (w *writer) fail(record string, err error) {
	PersistErrorsTotal.WithLabelValues(record).Inc()
	w.logger.Error("persist-risk-state-failed", zap.String("record", record), zap.Error(err))
	if w.alerter != nil {
		w.alerter.Raise(types.Alert{
			Kind:    types.KindPersistence,
			Message: fmt.Sprintf("persist risk %s: %v", record, err),
		})
	}
}
