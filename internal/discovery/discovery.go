package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mselser95/binary-arb/pkg/cache"
	"github.com/mselser95/binary-arb/pkg/types"
	"go.uber.org/zap"
)

// Registry is the order book store's market registry.
type Registry interface {
	RegisterMarket(market types.Market) error
	SetMarketStatus(marketID string, status types.MarketStatus) error
}

// MarketStore persists market metadata.
type MarketStore interface {
	UpsertMarket(ctx context.Context, market types.Market) error
}

// Subscriber manages market-data subscriptions.
type Subscriber interface {
	Subscribe(ctx context.Context, tokenIDs []string) error
	Unsubscribe(ctx context.Context, tokenIDs []string) error
}

// Service discovers binary markets by polling the Gamma API, registers them
// with the order book store, persists them and subscribes their tokens.
// Markets that close are marked closed and unsubscribed.
type Service struct {
	client       *Client
	cache        cache.Cache
	cacheTTL     time.Duration
	pollInterval time.Duration
	marketLimit  int
	registry     Registry
	store        MarketStore
	feed         Subscriber
	logger       *zap.Logger
	now          func() time.Time

	mu      sync.RWMutex
	tracked map[string]types.Market
}

// Config holds discovery service configuration.
type Config struct {
	Client       *Client
	Cache        cache.Cache // optional seen-market cache
	CacheTTL     time.Duration
	PollInterval time.Duration
	MarketLimit  int // 0 fetches every active market
	Registry     Registry
	Store        MarketStore // optional
	Feed         Subscriber  // optional
	Logger       *zap.Logger
	Now          func() time.Time
}

// PollResult summarizes one poll.
type PollResult struct {
	Fetched int
	Binary  int
	New     int
	Closed  int
}

// New creates a new discovery service.
func New(cfg *Config) (*Service, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.Client == nil || cfg.Registry == nil {
		return nil, fmt.Errorf("client and registry are required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		client:       cfg.Client,
		cache:        cfg.Cache,
		cacheTTL:     cfg.CacheTTL,
		pollInterval: cfg.PollInterval,
		marketLimit:  cfg.MarketLimit,
		registry:     cfg.Registry,
		store:        cfg.Store,
		feed:         cfg.Feed,
		logger:       cfg.Logger,
		now:          now,
		tracked:      make(map[string]types.Market),
	}, nil
}

// Run polls until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("discovery-service-starting",
		zap.Duration("poll-interval", s.pollInterval),
		zap.Int("market-limit", s.marketLimit))

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	_, err := s.Poll(ctx)
	if err != nil {
		s.logger.Error("initial-poll-failed", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("discovery-service-stopping")
			return ctx.Err()
		case <-ticker.C:
			_, err = s.Poll(ctx)
			if err != nil {
				s.logger.Error("poll-failed", zap.Error(err))
			}
		}
	}
}

// Poll fetches active markets once, tracks new binary markets and closes
// tracked markets that left the active set.
func (s *Service) Poll(ctx context.Context) (PollResult, error) {
	start := time.Now()
	defer func() {
		PollDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	var res PollResult
	gamma, err := s.client.FetchActiveMarkets(ctx, s.marketLimit, 0, "volume24hr")
	if err != nil {
		PollErrorsTotal.Inc()
		return res, fmt.Errorf("fetch active markets: %w", err)
	}
	res.Fetched = len(gamma)
	MarketsDiscoveredTotal.Add(float64(len(gamma)))

	listed := make(map[string]bool, len(gamma))
	for _, g := range gamma {
		market, ok := g.Binary()
		if !ok {
			continue
		}
		res.Binary++
		listed[market.ID] = true

		if market.Status != types.MarketActive {
			if s.markClosed(ctx, market.ID, market.Status) {
				res.Closed++
			}
			continue
		}

		if s.seen(market.ID) {
			continue
		}
		isNew, err := s.track(ctx, *market)
		if err != nil {
			s.logger.Warn("track-market-failed", zap.String("market-id", market.ID), zap.Error(err))
			continue
		}
		if isNew {
			res.New++
		}
	}

	res.Closed += s.reconcileMissing(ctx, listed)

	s.logger.Debug("poll-complete",
		zap.Int("fetched", res.Fetched),
		zap.Int("binary", res.Binary),
		zap.Int("new", res.New),
		zap.Int("closed", res.Closed),
		zap.Duration("duration", time.Since(start)))

	return res, nil
}

// Track registers, persists and subscribes a market. It reports whether the
// market was not tracked before. Non-active markets are registered but not
// subscribed.
func (s *Service) Track(ctx context.Context, market types.Market) (bool, error) {
	return s.track(ctx, market)
}

func (s *Service) track(ctx context.Context, market types.Market) (bool, error) {
	s.mu.RLock()
	prev, known := s.tracked[market.ID]
	s.mu.RUnlock()

	if known && !prev.DiscoveredAt.IsZero() {
		market.DiscoveredAt = prev.DiscoveredAt
	}
	if market.DiscoveredAt.IsZero() {
		market.DiscoveredAt = s.now()
	}

	if err := s.registry.RegisterMarket(market); err != nil {
		return false, fmt.Errorf("register market: %w", err)
	}
	if s.store != nil {
		if err := s.store.UpsertMarket(ctx, market); err != nil {
			return false, fmt.Errorf("persist market: %w", err)
		}
	}
	if s.feed != nil && market.Status == types.MarketActive && !known {
		if err := s.feed.Subscribe(ctx, []string{market.YesTokenID, market.NoTokenID}); err != nil {
			return false, fmt.Errorf("subscribe market: %w", err)
		}
	}

	s.mu.Lock()
	s.tracked[market.ID] = market
	s.mu.Unlock()
	s.remember(market.ID)

	if !known {
		NewMarketsTotal.Inc()
		s.logger.Info("new-market-discovered",
			zap.String("market-id", market.ID),
			zap.String("slug", market.Slug),
			zap.String("question", market.Question))
	}

	return !known, nil
}

// reconcileMissing looks up tracked active markets absent from the listing
// and closes those the API reports closed or inactive.
func (s *Service) reconcileMissing(ctx context.Context, listed map[string]bool) int {
	s.mu.RLock()
	var missing []string
	for id, m := range s.tracked {
		if !listed[id] && m.Status == types.MarketActive {
			missing = append(missing, id)
		}
	}
	s.mu.RUnlock()

	closed := 0
	for _, id := range missing {
		g, err := s.client.FetchMarket(ctx, id)
		if errors.Is(err, types.ErrNotFound) {
			if s.markClosed(ctx, id, types.MarketClosed) {
				closed++
			}
			continue
		}
		if err != nil {
			s.logger.Warn("market-lookup-failed", zap.String("market-id", id), zap.Error(err))
			continue
		}
		if g.Closed || !g.Active {
			if s.markClosed(ctx, id, types.MarketClosed) {
				closed++
			}
		}
	}
	return closed
}

// markClosed flags a tracked market and drops its subscription. It reports
// whether the status changed.
func (s *Service) markClosed(ctx context.Context, marketID string, status types.MarketStatus) bool {
	s.mu.Lock()
	market, ok := s.tracked[marketID]
	if !ok || market.Status == status {
		s.mu.Unlock()
		return false
	}
	market.Status = status
	s.tracked[marketID] = market
	s.mu.Unlock()

	if err := s.registry.SetMarketStatus(marketID, status); err != nil {
		s.logger.Warn("set-market-status-failed", zap.String("market-id", marketID), zap.Error(err))
	}
	if s.store != nil {
		if err := s.store.UpsertMarket(ctx, market); err != nil {
			s.logger.Warn("persist-market-failed", zap.String("market-id", marketID), zap.Error(err))
		}
	}
	if s.feed != nil {
		if err := s.feed.Unsubscribe(ctx, []string{market.YesTokenID, market.NoTokenID}); err != nil {
			s.logger.Warn("unsubscribe-market-failed", zap.String("market-id", marketID), zap.Error(err))
		}
	}
	if s.cache != nil {
		s.cache.Delete(marketID)
	}

	MarketsClosedTotal.Inc()
	s.logger.Info("market-closed",
		zap.String("market-id", marketID),
		zap.String("status", string(status)))

	return true
}

func (s *Service) seen(marketID string) bool {
	if s.cache == nil {
		return false
	}
	_, found := s.cache.Get(marketID)
	return found
}

func (s *Service) remember(marketID string) {
	if s.cache == nil {
		return
	}
	if !s.cache.Set(marketID, true, s.cacheTTL) {
		s.logger.Debug("failed-to-cache-market", zap.String("market-id", marketID))
	}
}

// Tracked returns every tracked market.
func (s *Service) Tracked() []types.Market {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.Market, 0, len(s.tracked))
	for _, m := range s.tracked {
		out = append(out, m)
	}
	return out
}
