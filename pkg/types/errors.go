package types

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies failures in the decision and execution loop.
// Kinds double as Cycle abort reasons.
type ErrorKind string

const (
	KindStaleData        ErrorKind = "STALE_DATA"
	KindEdgeEvaporated   ErrorKind = "EDGE_EVAPORATED"
	KindRiskRejected     ErrorKind = "RISK_REJECTED"
	KindSubmissionFailed ErrorKind = "SUBMISSION_FAILED"
	KindFillTimeout      ErrorKind = "FILL_TIMEOUT"
	KindRemediation      ErrorKind = "REMEDIATION_FAILED"
	KindPersistence      ErrorKind = "PERSISTENCE_WRITE_FAILED"
	KindCanceled         ErrorKind = "CANCELED"
)

var (
	ErrStaleData        = errors.New("order book data is stale")
	ErrNoBook           = errors.New("no order book for market")
	ErrEdgeEvaporated   = errors.New("edge evaporated")
	ErrRiskRejected     = errors.New("risk rejected")
	ErrSubmissionFailed = errors.New("order submission failed")
	ErrFillTimeout      = errors.New("fill timeout")
	ErrRemediation      = errors.New("remediation failed")
	ErrPersistence      = errors.New("persistence write failed")
	ErrNotFound         = errors.New("not found")
)

// OrderError represents an error returned by the exchange for an order.
type OrderError struct {
	Code    string // API error code or internal error code
	Message string // Human-readable error message
	OrderID string // Order ID if available
	Side    string // YES or NO
}

func (e *OrderError) Error() string {
	if e.OrderID != "" {
		return fmt.Sprintf("%s order failed (ID: %s): %s (%s)", e.Side, e.OrderID, e.Message, e.Code)
	}

	return fmt.Sprintf("%s order failed: %s (%s)", e.Side, e.Message, e.Code)
}

// Transient reports whether retrying the same request may succeed.
func (e *OrderError) Transient() bool {
	switch e.Code {
	case ErrMarketNotReady, ErrTransport, ErrRateLimited:
		return true
	default:
		return false
	}
}

// Known Polymarket CLOB API error codes
const (
	ErrInvalidMinTickSize = "INVALID_ORDER_MIN_TICK_SIZE"
	ErrOrderTooSmall      = "INVALID_ORDER_MIN_SIZE"
	ErrNotEnoughBalance   = "INVALID_ORDER_NOT_ENOUGH_BALANCE"
	ErrFOKNotFilled       = "FOK_ORDER_NOT_FILLED_ERROR"
	ErrMarketNotReady     = "MARKET_NOT_READY"
	ErrUnmatched          = "UNMATCHED"
	ErrUnknownStatus      = "UNKNOWN_STATUS"
	ErrTransport          = "TRANSPORT"
	ErrRateLimited        = "RATE_LIMITED"
	ErrDuplicateOrder     = "DUPLICATE_ORDER"
)

// IsTransient reports whether err is worth retrying. Errors that are not
// OrderErrors are treated as transport failures.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var oe *OrderError
	if errors.As(err, &oe) {
		return oe.Transient()
	}
	return true
}
