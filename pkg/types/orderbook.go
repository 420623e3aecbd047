package types

import (
	"fmt"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
)

// OrderbookMessage represents a message from the Polymarket market WebSocket.
type OrderbookMessage struct {
	EventType    string        `json:"event_type"` // "book", "price_change", "last_trade_price"
	AssetID      string        `json:"asset_id"`
	Market       string        `json:"market"`
	Timestamp    int64         `json:"-"` // Parsed from string via UnmarshalJSON
	Hash         string        `json:"hash,omitempty"`
	Bids         []PriceLevel  `json:"bids,omitempty"`
	Asks         []PriceLevel  `json:"asks,omitempty"`
	PriceChanges []PriceChange `json:"price_changes,omitempty"`
	NewTickSize  string        `json:"new_tick_size,omitempty"` // tick_size_change only
}

// UnmarshalJSON handles the string-encoded timestamp.
func (o *OrderbookMessage) UnmarshalJSON(data []byte) error {
	type Alias OrderbookMessage
	aux := &struct {
		TimestampStr string `json:"timestamp"`
		*Alias
	}{
		Alias: (*Alias)(o),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.TimestampStr != "" {
		timestamp, err := strconv.ParseInt(aux.TimestampStr, 10, 64)
		if err != nil {
			return fmt.Errorf("parse timestamp: %w", err)
		}
		o.Timestamp = timestamp
	}

	return nil
}

// PriceLevel represents a single price level in the orderbook.
type PriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// PriceChange is one level update inside a price_change message.
// Size is the new aggregate size resting at Price; "0" removes the level.
type PriceChange struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`
	Size    string `json:"size"`
	Side    string `json:"side"` // "BUY" updates bids, "SELL" updates asks
	BestBid string `json:"best_bid,omitempty"`
	BestAsk string `json:"best_ask,omitempty"`
}

// BookSide is one side of a token's book.
type BookSide string

const (
	BookBid BookSide = "BID"
	BookAsk BookSide = "ASK"
)

// BookEventKind tags a BookEvent.
type BookEventKind int

const (
	BookSnapshot BookEventKind = iota + 1
	BookDelta
)

func (k BookEventKind) String() string {
	switch k {
	case BookSnapshot:
		return "snapshot"
	case BookDelta:
		return "delta"
	default:
		return "unknown"
	}
}

// Level is a parsed price level.
type Level struct {
	Price float64
	Size  float64
}

// TokenBook is the full set of levels for one token inside a snapshot.
type TokenBook struct {
	TokenID string
	Bids    []Level
	Asks    []Level
}

// BookEvent is a normalized market-data event. Exactly one of Snapshot or
// Delta fields is meaningful, selected by Kind.
type BookEvent struct {
	Kind     BookEventKind
	MarketID string
	Sequence int64 // monotonic sequence or exchange timestamp (ms)

	// BookSnapshot
	Books []TokenBook

	// BookDelta
	TokenID string
	Side    BookSide
	Price   float64
	Size    float64
}

// Quote is the top of book for both legs of a market.
type Quote struct {
	MarketID   string
	YesAsk     float64
	YesAskSize float64
	YesBid     float64
	YesBidSize float64
	NoAsk      float64
	NoAskSize  float64
	NoBid      float64
	NoBidSize  float64
	Age        time.Duration
	UpdatedAt  time.Time
}

// HasAsks reports whether both legs have an ask.
func (q *Quote) HasAsks() bool {
	return q.YesAsk > 0 && q.NoAsk > 0
}

// HasBids reports whether both legs have a bid.
func (q *Quote) HasBids() bool {
	return q.YesBid > 0 && q.NoBid > 0
}

// ParseLevels converts wire price levels.
func ParseLevels(levels []PriceLevel) ([]Level, error) {
	parsed := make([]Level, 0, len(levels))
	for _, l := range levels {
		price, err := strconv.ParseFloat(l.Price, 64)
		if err != nil {
			return nil, fmt.Errorf("parse price %q: %w", l.Price, err)
		}
		size, err := strconv.ParseFloat(l.Size, 64)
		if err != nil {
			return nil, fmt.Errorf("parse size %q: %w", l.Size, err)
		}
		parsed = append(parsed, Level{Price: price, Size: size})
	}
	return parsed, nil
}
