package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mselser95/binary-arb/pkg/types"
	"go.uber.org/zap"
)

// RetryingStorage retries writes with exponential backoff. Loads pass
// through unchanged. Exhausted writes wrap types.ErrPersistence.
type RetryingStorage struct {
	Store
	attempts int
	backoff  time.Duration
	logger   *zap.Logger
}

// NewRetrying decorates store so every write is attempted up to attempts
// times, sleeping backoff, 2*backoff, ... between tries.
func NewRetrying(store Store, attempts int, backoff time.Duration, logger *zap.Logger) *RetryingStorage {
	if attempts < 1 {
		attempts = 1
	}
	return &RetryingStorage{
		Store:    store,
		attempts: attempts,
		backoff:  backoff,
		logger:   logger,
	}
}

func (r *RetryingStorage) UpsertMarket(ctx context.Context, market types.Market) error {
	return r.retry(ctx, "market", func() error { return r.Store.UpsertMarket(ctx, market) })
}

func (r *RetryingStorage) UpsertOrder(ctx context.Context, order *types.Order) error {
	return r.retry(ctx, "order", func() error { return r.Store.UpsertOrder(ctx, order) })
}

func (r *RetryingStorage) UpsertCycle(ctx context.Context, cycle *types.Cycle) error {
	return r.retry(ctx, "cycle", func() error { return r.Store.UpsertCycle(ctx, cycle) })
}

func (r *RetryingStorage) UpsertLedger(ctx context.Context, ledger types.LedgerState) error {
	return r.retry(ctx, "ledger", func() error { return r.Store.UpsertLedger(ctx, ledger) })
}

func (r *RetryingStorage) UpsertBreaker(ctx context.Context, state types.BreakerState) error {
	return r.retry(ctx, "breaker", func() error { return r.Store.UpsertBreaker(ctx, state) })
}

func (r *RetryingStorage) retry(ctx context.Context, entity string, write func() error) error {
	start := time.Now()
	delay := r.backoff

	var err error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		err = write()
		if err == nil {
			WriteDuration.WithLabelValues(entity).Observe(time.Since(start).Seconds())
			return nil
		}
		if errors.Is(err, context.Canceled) {
			break
		}

		WriteRetriesTotal.WithLabelValues(entity).Inc()
		r.logger.Warn("storage-write-failed",
			zap.String("entity", entity),
			zap.Int("attempt", attempt),
			zap.Int("max-attempts", r.attempts),
			zap.Error(err))

		if attempt == r.attempts {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s write canceled: %w", types.ErrPersistence, entity, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}

	WriteFailuresTotal.WithLabelValues(entity).Inc()
	r.logger.Error("storage-write-exhausted",
		zap.String("entity", entity),
		zap.Int("attempts", r.attempts),
		zap.Error(err))

	return fmt.Errorf("%w: %s: %w", types.ErrPersistence, entity, err)
}
