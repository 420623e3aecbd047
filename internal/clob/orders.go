package clob

import (
	"context"
	"fmt"
	"hash/fnv"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mselser95/binary-arb/pkg/types"
	"github.com/polymarket/go-order-utils/pkg/builder"
	"github.com/polymarket/go-order-utils/pkg/model"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	codeRejected = "REJECTED"
	zeroAddress  = "0x0000000000000000000000000000000000000000"
	fillEpsilon  = 1e-6
)

// Submit signs and posts an order. The salt is derived from the request's
// ClientID, so resubmitting the same request produces the same order.
func (c *Client) Submit(ctx context.Context, req types.OrderRequest) (string, error) {
	if c.privateKey == nil {
		return "", fmt.Errorf("private key not configured")
	}
	if req.ClientID == "" {
		return "", fmt.Errorf("client id cannot be empty")
	}

	if c.submitted != nil {
		if id, ok := c.submitted.Get(req.ClientID); ok {
			DedupedSubmissionsTotal.Inc()
			c.logger.Info("order-resubmission-deduped",
				zap.String("client-id", req.ClientID),
				zap.Any("order-id", id))
			return id.(string), nil
		}
	}

	if err := c.checkConstraints(ctx, req); err != nil {
		SubmissionsTotal.WithLabelValues("rejected").Inc()
		return "", err
	}

	signed, err := c.buildSignedOrder(req)
	if err != nil {
		return "", err
	}

	orderType := req.OrderType
	if orderType == "" {
		orderType = "GTC"
	}

	body := types.OrderSubmissionRequest{
		Order:     toJSON(signed, req.Side),
		Owner:     c.apiKey,
		OrderType: orderType,
	}

	var resp types.OrderSubmissionResponse
	if err = c.do(ctx, http.MethodPost, "/order", body, true, &resp); err != nil {
		SubmissionsTotal.WithLabelValues("error").Inc()
		return "", err
	}
	if !resp.Success || resp.OrderID == "" {
		SubmissionsTotal.WithLabelValues("rejected").Inc()
		return "", &types.OrderError{Code: classify(resp.ErrorMsg), Message: resp.ErrorMsg}
	}

	SubmissionsTotal.WithLabelValues("accepted").Inc()
	if c.submitted != nil {
		c.submitted.Set(req.ClientID, resp.OrderID, c.submittedTTL)
		c.submitted.Wait()
	}

	c.logger.Info("order-submitted",
		zap.String("client-id", req.ClientID),
		zap.String("order-id", resp.OrderID),
		zap.String("token-id", req.TokenID),
		zap.String("side", string(req.Side)),
		zap.Float64("price", req.Price),
		zap.Float64("size", req.Size),
		zap.String("status", resp.Status))

	return resp.OrderID, nil
}

func (c *Client) buildSignedOrder(req types.OrderRequest) (*model.SignedOrder, error) {
	maker := c.address
	if c.proxyAddress != "" {
		maker = c.proxyAddress
	}

	makerAmount, takerAmount, side := amounts(req)

	salt := saltFor(req.ClientID)
	orderBuilder := builder.NewExchangeOrderBuilderImpl(c.chainID, func() int64 { return salt })

	signed, err := orderBuilder.BuildSignedOrder(c.privateKey, &model.OrderData{
		Maker:         maker,
		Taker:         zeroAddress,
		TokenId:       req.TokenID,
		MakerAmount:   makerAmount,
		TakerAmount:   takerAmount,
		Side:          side,
		FeeRateBps:    "0",
		Nonce:         "0",
		Signer:        c.address,
		Expiration:    "0",
		SignatureType: c.signatureType,
	}, model.CTFExchange)
	if err != nil {
		return nil, fmt.Errorf("build signed order: %w", err)
	}

	return signed, nil
}

// amounts returns raw maker/taker amounts. A buy gives USDC for shares, a
// sell gives shares for USDC.
func amounts(req types.OrderRequest) (maker, taker string, side model.Side) {
	shares := decimal.NewFromFloat(req.Size)
	usdc := shares.Mul(decimal.NewFromFloat(req.Price))

	if req.Side == types.SideSell {
		return rawAmount(shares), rawAmount(usdc), model.SELL
	}
	return rawAmount(usdc), rawAmount(shares), model.BUY
}

// rawAmount converts to the 6-decimal integer representation.
func rawAmount(d decimal.Decimal) string {
	return d.Shift(6).Truncate(0).String()
}

// saltFor derives a positive 53-bit salt from a client id.
func saltFor(clientID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(clientID))
	return int64(h.Sum64() & (1<<53 - 1))
}

func toJSON(order *model.SignedOrder, side types.Side) types.SignedOrderJSON {
	return types.SignedOrderJSON{
		Salt:          order.Salt.Int64(),
		Maker:         order.Maker.Hex(),
		Signer:        order.Signer.Hex(),
		Taker:         order.Taker.Hex(),
		TokenID:       order.TokenId.String(),
		MakerAmount:   order.MakerAmount.String(),
		TakerAmount:   order.TakerAmount.String(),
		Side:          string(side),
		Expiration:    order.Expiration.String(),
		Nonce:         order.Nonce.String(),
		FeeRateBps:    order.FeeRateBps.String(),
		SignatureType: int(order.SignatureType.Int64()),
		Signature:     "0x" + common.Bytes2Hex(order.Signature),
	}
}

// CancelResult is the response from DELETE /order.
type CancelResult struct {
	Canceled    []string          `json:"canceled"`
	NotCanceled map[string]string `json:"not_canceled"`
}

// Cancel cancels one order.
func (c *Client) Cancel(ctx context.Context, orderID string) error {
	var result CancelResult
	err := c.do(ctx, http.MethodDelete, "/order", map[string]string{"orderID": orderID}, true, &result)
	if err != nil {
		CancelsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}

	if reason, ok := result.NotCanceled[orderID]; ok {
		CancelsTotal.WithLabelValues("not-canceled").Inc()
		return &types.OrderError{Code: types.ErrUnmatched, Message: reason, OrderID: orderID}
	}

	CancelsTotal.WithLabelValues("canceled").Inc()
	c.logger.Info("order-canceled", zap.String("order-id", orderID))

	return nil
}

// GetOrder queries an order and converts it to the event that reflects its
// current state.
func (c *Client) GetOrder(ctx context.Context, orderID string) (types.OrderEvent, error) {
	var resp types.OrderQueryResponse
	path := "/data/order/" + url.PathEscape(orderID)
	if err := c.do(ctx, http.MethodGet, path, nil, true, &resp); err != nil {
		return types.OrderEvent{}, fmt.Errorf("get order %s: %w", orderID, err)
	}

	status, err := mapStatus(resp.Status, resp.Size, resp.SizeFilled)
	if err != nil {
		return types.OrderEvent{}, err
	}

	return types.EventFromStatus(orderID, status, resp.SizeFilled, resp.Price, time.Now()), nil
}

// mapStatus converts an exchange order status to OrderStatus.
func mapStatus(status string, size, filled float64) (types.OrderStatus, error) {
	switch strings.ToUpper(status) {
	case "MATCHED", "FILLED":
		if size > 0 && filled < size-fillEpsilon {
			return types.OrderPartiallyFilled, nil
		}
		return types.OrderFilled, nil
	case "LIVE", "DELAYED", "OPEN":
		if filled > fillEpsilon {
			return types.OrderPartiallyFilled, nil
		}
		return types.OrderPending, nil
	case "CANCELED", "CANCELLED", "UNMATCHED", "EXPIRED":
		return types.OrderCanceled, nil
	case "REJECTED":
		return types.OrderRejected, nil
	default:
		return "", &types.OrderError{Code: types.ErrUnknownStatus, Message: fmt.Sprintf("unknown order status %q", status)}
	}
}

// FetchBook fetches the REST order book snapshot for one token.
func (c *Client) FetchBook(ctx context.Context, tokenID string) (*types.BookResponse, error) {
	var book types.BookResponse
	path := "/book?token_id=" + url.QueryEscape(tokenID)
	if err := c.do(ctx, http.MethodGet, path, nil, false, &book); err != nil {
		return nil, fmt.Errorf("fetch book %s: %w", tokenID, err)
	}
	if book.AssetID == "" {
		book.AssetID = tokenID
	}
	return &book, nil
}
