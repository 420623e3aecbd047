package httpserver

import (
	"errors"
	"net/http"
	"sort"

	"github.com/mselser95/binary-arb/pkg/types"
	"go.uber.org/zap"
)

// BookView is the read side of the order book store.
type BookView interface {
	Market(marketID string) (types.Market, bool)
	Markets() []types.Market
	GetBestPrices(marketID string) (types.Quote, error)
}

// OrderbookHandler handles HTTP requests for order book data.
type OrderbookHandler struct {
	books  BookView
	logger *zap.Logger
}

// NewOrderbookHandler creates a new order book handler.
func NewOrderbookHandler(books BookView, logger *zap.Logger) *OrderbookHandler {
	return &OrderbookHandler{books: books, logger: logger}
}

// OutcomeOrderbook is the top of book for one outcome token.
type OutcomeOrderbook struct {
	TokenID      string  `json:"token_id"`
	BestBidPrice float64 `json:"best_bid_price"`
	BestBidSize  float64 `json:"best_bid_size"`
	BestAskPrice float64 `json:"best_ask_price"`
	BestAskSize  float64 `json:"best_ask_size"`
}

// OrderbookResponse is the top of book of one binary market.
type OrderbookResponse struct {
	MarketID string             `json:"market_id"`
	Slug     string             `json:"slug"`
	Question string             `json:"question"`
	Status   types.MarketStatus `json:"status"`
	Yes      OutcomeOrderbook   `json:"yes"`
	No       OutcomeOrderbook   `json:"no"`
	AskSum   float64            `json:"ask_sum,omitempty"`
	BidSum   float64            `json:"bid_sum,omitempty"`
	AgeMS    int64              `json:"age_ms"`
	Stale    bool               `json:"stale"`
	Error    string             `json:"error,omitempty"`
}

// MarketsResponse is the body of GET /api/markets.
type MarketsResponse struct {
	Count   int                 `json:"count"`
	Markets []OrderbookResponse `json:"markets"`
}

// HandleOrderbook handles GET /api/orderbook?market=<market-id>.
func (h *OrderbookHandler) HandleOrderbook(w http.ResponseWriter, r *http.Request) {
	marketID := r.URL.Query().Get("market")
	if marketID == "" {
		writeError(w, h.logger, "missing required query parameter: market", http.StatusBadRequest)
		return
	}

	market, ok := h.books.Market(marketID)
	if !ok {
		writeError(w, h.logger, "market not tracked", http.StatusNotFound)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, h.view(market))
}

// HandleMarkets handles GET /api/markets.
func (h *OrderbookHandler) HandleMarkets(w http.ResponseWriter, r *http.Request) {
	markets := h.books.Markets()
	sort.Slice(markets, func(i, j int) bool { return markets[i].ID < markets[j].ID })

	resp := MarketsResponse{Count: len(markets), Markets: make([]OrderbookResponse, 0, len(markets))}
	for _, m := range markets {
		resp.Markets = append(resp.Markets, h.view(m))
	}

	writeJSON(w, h.logger, http.StatusOK, resp)
}

func (h *OrderbookHandler) view(m types.Market) OrderbookResponse {
	q, err := h.books.GetBestPrices(m.ID)

	resp := OrderbookResponse{
		MarketID: m.ID,
		Slug:     m.Slug,
		Question: m.Question,
		Status:   m.Status,
		Yes: OutcomeOrderbook{
			TokenID:      m.YesTokenID,
			BestBidPrice: q.YesBid,
			BestBidSize:  q.YesBidSize,
			BestAskPrice: q.YesAsk,
			BestAskSize:  q.YesAskSize,
		},
		No: OutcomeOrderbook{
			TokenID:      m.NoTokenID,
			BestBidPrice: q.NoBid,
			BestBidSize:  q.NoBidSize,
			BestAskPrice: q.NoAsk,
			BestAskSize:  q.NoAskSize,
		},
		AgeMS: q.Age.Milliseconds(),
		Stale: errors.Is(err, types.ErrStaleData),
	}
	if q.HasAsks() {
		resp.AskSum = q.YesAsk + q.NoAsk
	}
	if q.HasBids() {
		resp.BidSum = q.YesBid + q.NoBid
	}
	if err != nil {
		resp.Error = err.Error()
	}

	return resp
}
