package app

import (
	"context"
	"time"

	"github.com/mselser95/binary-arb/internal/orderbook"
	"github.com/mselser95/binary-arb/pkg/types"
	"go.uber.org/zap"
)

// BookFetcher fetches REST order book snapshots.
type BookFetcher interface {
	FetchBook(ctx context.Context, tokenID string) (*types.BookResponse, error)
}

// RefreshableBooks is the part of the order book store the refresher needs.
type RefreshableBooks interface {
	StaleMarkets() []string
	Market(marketID string) (types.Market, bool)
	ApplySnapshot(ev types.BookEvent) error
}

// BookRefresher re-seeds stale or missing books from REST snapshots, so a
// market whose feed went quiet recovers without waiting for the next push.
type BookRefresher struct {
	books    RefreshableBooks
	fetcher  BookFetcher
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewBookRefresher creates a refresher. A non-positive interval disables it.
func NewBookRefresher(books RefreshableBooks, fetcher BookFetcher, interval time.Duration, logger *zap.Logger) *BookRefresher {
	return &BookRefresher{
		books:    books,
		fetcher:  fetcher,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Run refreshes on every tick until ctx is canceled.
func (r *BookRefresher) Run(ctx context.Context) error {
	if r.interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.RefreshOnce(ctx)
		}
	}
}

// RefreshOnce fetches both books of every stale market and returns how many
// markets were re-seeded.
func (r *BookRefresher) RefreshOnce(ctx context.Context) int {
	refreshed := 0
	for _, marketID := range r.books.StaleMarkets() {
		market, ok := r.books.Market(marketID)
		if !ok {
			continue
		}
		if r.refreshMarket(ctx, market) {
			refreshed++
		}
	}
	if refreshed > 0 {
		r.logger.Debug("stale-books-refreshed", zap.Int("markets", refreshed))
	}
	return refreshed
}

func (r *BookRefresher) refreshMarket(ctx context.Context, market types.Market) bool {
	ev := types.BookEvent{
		Kind:     types.BookSnapshot,
		MarketID: market.ID,
	}

	for _, tokenID := range []string{market.YesTokenID, market.NoTokenID} {
		book, err := r.fetcher.FetchBook(ctx, tokenID)
		if err != nil {
			r.logger.Warn("book-refresh-failed",
				zap.String("market-id", market.ID),
				zap.String("token-id", tokenID),
				zap.Error(err))
			return false
		}
		snap, err := orderbook.SnapshotFromBook(book, r.now())
		if err != nil {
			r.logger.Warn("book-refresh-invalid",
				zap.String("token-id", tokenID),
				zap.Error(err))
			return false
		}
		ev.Books = append(ev.Books, snap.Books...)
		if snap.Sequence > ev.Sequence {
			ev.Sequence = snap.Sequence
		}
	}

	if err := r.books.ApplySnapshot(ev); err != nil {
		r.logger.Warn("book-refresh-rejected",
			zap.String("market-id", market.ID),
			zap.Error(err))
		return false
	}
	return true
}
