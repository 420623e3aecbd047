package discovery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/mselser95/binary-arb/pkg/types"
	"go.uber.org/zap"
)

// MaxBatchSize is the maximum number of markets to fetch per API request.
const MaxBatchSize = 100

// Client is an HTTP client for the Polymarket Gamma API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a new Gamma API client.
func NewClient(baseURL string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// FetchActiveMarkets fetches active, open markets ordered by orderBy
// ("volume24hr", "createdAt" or "endDate"). Limits above MaxBatchSize are
// paginated; 0 fetches everything.
func (c *Client) FetchActiveMarkets(ctx context.Context, limit int, offset int, orderBy string) ([]*types.GammaMarket, error) {
	fetchAll := limit == 0
	var all []*types.GammaMarket

	for page := 0; ; page++ {
		batch := MaxBatchSize
		if !fetchAll {
			remaining := limit - len(all)
			if remaining <= 0 {
				break
			}
			batch = min(batch, remaining)
		}

		markets, err := c.fetchPage(ctx, batch, offset+len(all), orderBy)
		if err != nil {
			return nil, fmt.Errorf("fetch page %d: %w", page, err)
		}
		all = append(all, markets...)

		if len(markets) < batch {
			break
		}
	}

	c.logger.Debug("fetched-markets",
		zap.Int("count", len(all)),
		zap.Int("limit", limit),
		zap.Int("offset", offset))

	return all, nil
}

func (c *Client) fetchPage(ctx context.Context, limit int, offset int, orderBy string) ([]*types.GammaMarket, error) {
	params := url.Values{}
	params.Add("closed", "false")
	params.Add("active", "true")
	params.Add("limit", strconv.Itoa(limit))
	params.Add("offset", strconv.Itoa(offset))
	params.Add("order", orderBy)

	// endDate ascending gives the soonest expiries; the others sort highest first.
	if orderBy == "endDate" {
		params.Add("ascending", "true")
	} else {
		params.Add("ascending", "false")
	}

	var markets []*types.GammaMarket
	err := c.get(ctx, "/markets?"+params.Encode(), &markets)
	if err != nil {
		return nil, err
	}
	return markets, nil
}

// FetchMarket fetches one market by id, whatever its state.
func (c *Client) FetchMarket(ctx context.Context, id string) (*types.GammaMarket, error) {
	var market types.GammaMarket
	err := c.get(ctx, "/markets/"+url.PathEscape(id), &market)
	if err != nil {
		return nil, fmt.Errorf("fetch market %s: %w", id, err)
	}
	return &market, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "binary-arb/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", path, types.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}

	err = json.Unmarshal(body, out)
	if err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	return nil
}
