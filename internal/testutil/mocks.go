package testutil

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/mselser95/binary-arb/pkg/types"
)

// MockGammaAPI is a mock HTTP server that simulates the Polymarket Gamma API.
type MockGammaAPI struct {
	*httptest.Server
	Markets []*types.GammaMarket
	mu      sync.RWMutex
}

// NewMockGammaAPI creates a new mock Gamma API server. The /markets
// endpoint honors the limit and offset query parameters.
func NewMockGammaAPI(markets []*types.GammaMarket) *MockGammaAPI {
	mock := &MockGammaAPI{
		Markets: markets,
	}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.RLock()
		defer mock.mu.RUnlock()

		switch {
		case r.URL.Path == "/markets":
			page := paginate(listed(mock.Markets, r), r)
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(page)

		case strings.HasPrefix(r.URL.Path, "/markets/"):
			key := strings.TrimPrefix(r.URL.Path, "/markets/")
			for _, m := range mock.Markets {
				if m.ID == key || m.Slug == key {
					w.Header().Set("Content-Type", "application/json")
					_ = json.NewEncoder(w).Encode(m)
					return
				}
			}
			http.NotFound(w, r)

		default:
			http.NotFound(w, r)
		}
	})

	mock.Server = httptest.NewServer(handler)
	return mock
}

// listed applies the active and closed filters of the real API.
func listed(markets []*types.GammaMarket, r *http.Request) []*types.GammaMarket {
	q := r.URL.Query()
	out := make([]*types.GammaMarket, 0, len(markets))
	for _, m := range markets {
		if q.Get("active") == "true" && !m.Active {
			continue
		}
		if q.Get("closed") == "false" && m.Closed {
			continue
		}
		out = append(out, m)
	}
	return out
}

func paginate(markets []*types.GammaMarket, r *http.Request) []*types.GammaMarket {
	offset := atoi(r.URL.Query().Get("offset"))
	limit := atoi(r.URL.Query().Get("limit"))
	if offset >= len(markets) {
		return []*types.GammaMarket{}
	}
	end := len(markets)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return markets[offset:end]
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// SetClosed flips the closed flag of a market.
func (m *MockGammaAPI) SetClosed(id string, closed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, market := range m.Markets {
		if market.ID == id {
			market.Closed = closed
		}
	}
}

// Deactivate drops a market from the active listing while keeping it
// reachable through /markets/{id}.
func (m *MockGammaAPI) Deactivate(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, market := range m.Markets {
		if market.ID == id {
			market.Active = false
		}
	}
}

// AddMarket adds a market to the mock API.
func (m *MockGammaAPI) AddMarket(market *types.GammaMarket) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Markets = append(m.Markets, market)
}

// MockBooks is a settable BookReader.
type MockBooks struct {
	mu      sync.Mutex
	quotes  map[string]types.Quote
	errs    map[string]error
	markets map[string]types.Market
}

// NewMockBooks creates an empty MockBooks.
func NewMockBooks() *MockBooks {
	return &MockBooks{
		quotes:  make(map[string]types.Quote),
		errs:    make(map[string]error),
		markets: make(map[string]types.Market),
	}
}

// SetQuote sets the quote returned for a market and clears any error.
func (b *MockBooks) SetQuote(q types.Quote) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.quotes[q.MarketID] = q
	delete(b.errs, q.MarketID)
}

// SetError makes GetBestPrices fail for a market.
func (b *MockBooks) SetError(marketID string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errs[marketID] = err
}

// AddMarket registers market metadata.
func (b *MockBooks) AddMarket(m types.Market) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.markets[m.ID] = m
}

// GetBestPrices returns the configured quote.
func (b *MockBooks) GetBestPrices(marketID string) (types.Quote, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.errs[marketID]; err != nil {
		return b.quotes[marketID], err
	}
	q, ok := b.quotes[marketID]
	if !ok {
		return types.Quote{}, types.ErrNoBook
	}
	return q, nil
}

// Market returns registered market metadata.
func (b *MockBooks) Market(marketID string) (types.Market, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.markets[marketID]
	return m, ok
}

// MarketForToken maps a token id to its registered market.
func (b *MockBooks) MarketForToken(tokenID string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, m := range b.markets {
		if m.YesTokenID == tokenID || m.NoTokenID == tokenID {
			return id, true
		}
	}
	return "", false
}

// Markets returns every registered market.
func (b *MockBooks) Markets() []types.Market {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]types.Market, 0, len(b.markets))
	for _, m := range b.markets {
		out = append(out, m)
	}
	return out
}
