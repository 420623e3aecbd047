package clob

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/mselser95/binary-arb/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const metadataTTL = 24 * time.Hour

// TokenMetadata holds the trading constraints of one token.
type TokenMetadata struct {
	TickSize     float64
	MinOrderSize float64
	FetchedAt    time.Time
}

// TokenMetadata returns the tick size and minimum order size of a token.
// Results are cached for a day when a metadata cache is configured.
func (c *Client) TokenMetadata(ctx context.Context, tokenID string) (TokenMetadata, error) {
	key := "metadata:" + tokenID
	if c.metadata != nil {
		if v, ok := c.metadata.Get(key); ok {
			if meta, ok := v.(TokenMetadata); ok {
				MetadataLookupsTotal.WithLabelValues("hit").Inc()
				return meta, nil
			}
		}
	}

	book, err := c.FetchBook(ctx, tokenID)
	if err != nil {
		MetadataLookupsTotal.WithLabelValues("error").Inc()
		return TokenMetadata{}, fmt.Errorf("fetch metadata: %w", err)
	}
	MetadataLookupsTotal.WithLabelValues("miss").Inc()

	meta := TokenMetadata{FetchedAt: time.Now()}
	if book.TickSize != "" {
		if meta.TickSize, err = strconv.ParseFloat(book.TickSize, 64); err != nil {
			return TokenMetadata{}, fmt.Errorf("parse tick size %q: %w", book.TickSize, err)
		}
	}
	if book.MinOrderSize != "" {
		if meta.MinOrderSize, err = strconv.ParseFloat(book.MinOrderSize, 64); err != nil {
			return TokenMetadata{}, fmt.Errorf("parse min order size %q: %w", book.MinOrderSize, err)
		}
	}

	if c.metadata != nil {
		c.metadata.Set(key, meta, metadataTTL)
		c.metadata.Wait()
	}
	return meta, nil
}

// UpdateTickSize replaces the cached tick size of a token after a
// tick_size_change event. Tokens not in the cache are left to the next
// lookup.
func (c *Client) UpdateTickSize(tokenID string, tickSize float64) {
	if c.metadata == nil {
		return
	}
	key := "metadata:" + tokenID
	v, ok := c.metadata.Get(key)
	if !ok {
		return
	}
	meta, ok := v.(TokenMetadata)
	if !ok {
		return
	}
	meta.TickSize = tickSize
	c.metadata.Set(key, meta, metadataTTL)
	c.metadata.Wait()
	c.logger.Info("tick-size-updated",
		zap.String("token-id", tokenID),
		zap.Float64("tick-size", tickSize))
}

// checkConstraints rejects orders priced off the tick grid or below the
// minimum size. The check is skipped when metadata is unavailable; the
// exchange enforces the same rules.
func (c *Client) checkConstraints(ctx context.Context, req types.OrderRequest) error {
	if c.metadata == nil {
		return nil
	}

	meta, err := c.TokenMetadata(ctx, req.TokenID)
	if err != nil {
		c.logger.Warn("metadata-unavailable",
			zap.String("token-id", req.TokenID),
			zap.Error(err))
		return nil
	}

	if meta.TickSize > 0 {
		ticks := decimal.NewFromFloat(req.Price).Div(decimal.NewFromFloat(meta.TickSize))
		if !ticks.Equal(ticks.Round(0)) {
			return &types.OrderError{
				Code:    types.ErrInvalidMinTickSize,
				Message: fmt.Sprintf("price %v is not a multiple of tick size %v", req.Price, meta.TickSize),
			}
		}
	}
	if meta.MinOrderSize > 0 && req.Size < meta.MinOrderSize {
		return &types.OrderError{
			Code:    types.ErrOrderTooSmall,
			Message: fmt.Sprintf("size %v below minimum %v", req.Size, meta.MinOrderSize),
		}
	}
	return nil
}
