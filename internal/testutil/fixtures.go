package testutil

import (
	"strconv"
	"time"

	"github.com/mselser95/binary-arb/internal/arbitrage"
	"github.com/mselser95/binary-arb/pkg/types"
)

// CreateTestMarket creates an active binary market with token ids
// "<id>-yes" and "<id>-no".
func CreateTestMarket(id string) types.Market {
	return types.Market{
		ID:           id,
		Slug:         id + "-slug",
		Question:     "Will " + id + " happen?",
		YesTokenID:   id + "-yes",
		NoTokenID:    id + "-no",
		Status:       types.MarketActive,
		DiscoveredAt: time.Now(),
	}
}

// CreateTestGammaMarket creates a Gamma API market with Yes/No outcomes.
func CreateTestGammaMarket(id string, slug string) *types.GammaMarket {
	return &types.GammaMarket{
		ID:          id,
		Question:    "Will " + slug + " happen?",
		Slug:        slug,
		Active:      true,
		Outcomes:    `["Yes", "No"]`,
		ClobTokens:  `["` + id + `-yes", "` + id + `-no"]`,
		EnableBook:  true,
		Liquidity:   10000,
		Volume24h:   5000,
		EndDate:     time.Now().Add(24 * time.Hour),
		Description: "Test market: " + slug,
	}
}

// CreateTestBookMessage creates a "book" snapshot message with one bid and
// one ask level.
func CreateTestBookMessage(assetID string, bid, ask, size float64) *types.OrderbookMessage {
	s := strconv.FormatFloat(size, 'f', -1, 64)
	return &types.OrderbookMessage{
		EventType: "book",
		AssetID:   assetID,
		Timestamp: time.Now().UnixMilli(),
		Bids:      []types.PriceLevel{{Price: strconv.FormatFloat(bid, 'f', -1, 64), Size: s}},
		Asks:      []types.PriceLevel{{Price: strconv.FormatFloat(ask, 'f', -1, 64), Size: s}},
	}
}

// CreateTestQuote creates a fresh quote. Bids sit one cent under the asks.
func CreateTestQuote(marketID string, yesAsk, noAsk, size float64) types.Quote {
	return types.Quote{
		MarketID:   marketID,
		YesAsk:     yesAsk,
		YesAskSize: size,
		YesBid:     yesAsk - 0.01,
		YesBidSize: size,
		NoAsk:      noAsk,
		NoAskSize:  size,
		NoBid:      noAsk - 0.01,
		NoBidSize:  size,
		UpdatedAt:  time.Now(),
	}
}

// CreateTestCandidate creates a forward candidate on a test market.
func CreateTestCandidate(marketID string, yesAsk, noAsk, size float64) *arbitrage.Candidate {
	combined := yesAsk + noAsk
	return &arbitrage.Candidate{
		ID:            "cand-" + marketID,
		MarketID:      marketID,
		MarketSlug:    marketID + "-slug",
		YesTokenID:    marketID + "-yes",
		NoTokenID:     marketID + "-no",
		Direction:     types.Forward,
		YesPrice:      yesAsk,
		NoPrice:       noAsk,
		CombinedPrice: combined,
		Edge:          1 - combined,
		SpreadBPS:     int((1 - combined) * 10000),
		Size:          size,
		GeneratedAt:   time.Now(),
	}
}
