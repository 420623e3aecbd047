package types

import (
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// MarketStatus is the lifecycle status of a binary market.
type MarketStatus string

const (
	MarketActive   MarketStatus = "active"
	MarketClosed   MarketStatus = "closed"
	MarketResolved MarketStatus = "resolved"
)

// Market is a binary YES/NO market tracked by the engine.
// Everything but Status is fixed once the market has been discovered.
type Market struct {
	ID           string       `json:"id"`
	Slug         string       `json:"slug"`
	Question     string       `json:"question"`
	YesTokenID   string       `json:"yes_token_id"`
	NoTokenID    string       `json:"no_token_id"`
	Status       MarketStatus `json:"status"`
	DiscoveredAt time.Time    `json:"discovered_at"`
}

// TokenID returns the token id for an outcome.
func (m *Market) TokenID(outcome Outcome) string {
	if outcome == OutcomeYes {
		return m.YesTokenID
	}
	return m.NoTokenID
}

// OutcomeOf maps a token id back to its outcome.
func (m *Market) OutcomeOf(tokenID string) (Outcome, bool) {
	switch tokenID {
	case m.YesTokenID:
		return OutcomeYes, true
	case m.NoTokenID:
		return OutcomeNo, true
	default:
		return "", false
	}
}

// GammaMarket is a market as returned by the Gamma API.
type GammaMarket struct {
	ID          string    `json:"id"`
	Question    string    `json:"question"`
	Slug        string    `json:"slug"`
	Closed      bool      `json:"closed"`
	Active      bool      `json:"active"`
	EndDate     time.Time `json:"endDate"`
	Outcomes    string    `json:"outcomes"`     // JSON string: "[\"Yes\", \"No\"]"
	ClobTokens  string    `json:"clobTokenIds"` // JSON string: "[\"token1\", \"token2\"]"
	Volume24h   float64   `json:"volume24hr"`
	Liquidity   float64   `json:"liquidityNum"`
	EnableBook  bool      `json:"enableOrderBook"`
	Description string    `json:"description"`
}

// Binary converts a Gamma market into a binary Market.
// It returns false when the market does not have exactly a Yes and a No token.
func (g *GammaMarket) Binary() (*Market, bool) {
	if g.Outcomes == "" || g.ClobTokens == "" {
		return nil, false
	}

	var outcomes, tokenIDs []string
	if err := json.Unmarshal([]byte(g.Outcomes), &outcomes); err != nil {
		return nil, false
	}
	if err := json.Unmarshal([]byte(g.ClobTokens), &tokenIDs); err != nil {
		return nil, false
	}
	if len(outcomes) != 2 || len(tokenIDs) != 2 {
		return nil, false
	}

	m := &Market{
		ID:       g.ID,
		Slug:     g.Slug,
		Question: g.Question,
		Status:   MarketActive,
	}
	if g.Closed {
		m.Status = MarketClosed
	}

	for i, outcome := range outcomes {
		switch strings.ToUpper(outcome) {
		case "YES":
			m.YesTokenID = tokenIDs[i]
		case "NO":
			m.NoTokenID = tokenIDs[i]
		}
	}

	if m.YesTokenID == "" || m.NoTokenID == "" {
		return nil, false
	}

	return m, true
}
