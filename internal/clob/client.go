package clob

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/goccy/go-json"
	"github.com/mselser95/binary-arb/pkg/cache"
	"github.com/mselser95/binary-arb/pkg/types"
	"github.com/polymarket/go-order-utils/pkg/model"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the production CLOB endpoint.
const DefaultBaseURL = "https://clob.polymarket.com"

// polygonChainID is the chain the CTF exchange is deployed on.
const polygonChainID = 137

// Client submits, cancels and queries orders on the Polymarket CLOB and
// fetches REST order book snapshots.
type Client struct {
	baseURL       string
	apiKey        string
	secret        string
	passphrase    string
	privateKey    *ecdsa.PrivateKey
	address       string // EOA address (signer)
	proxyAddress  string // Proxy address (maker/funder)
	signatureType model.SignatureType
	chainID       *big.Int
	httpClient    *http.Client
	limiter       *rate.Limiter
	submitted     cache.Cache // client id -> exchange order id
	submittedTTL  time.Duration
	metadata      cache.Cache // token id -> TokenMetadata
	logger        *zap.Logger
}

// Config holds configuration for the CLOB client.
type Config struct {
	BaseURL       string
	APIKey        string
	Secret        string
	Passphrase    string
	PrivateKey    string
	Address       string
	ProxyAddress  string
	SignatureType int
	RateLimit     float64 // requests per second
	Burst         int
	Timeout       time.Duration
	Submitted     cache.Cache // optional dedupe cache for resubmissions
	SubmittedTTL  time.Duration
	Metadata      cache.Cache // enables tick and min size checks on Submit
	Logger        *zap.Logger
}

// New creates a CLOB client. A private key is only needed for order
// submission; book fetching works without credentials.
func New(cfg *Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	c := &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:        cfg.APIKey,
		secret:        cfg.Secret,
		passphrase:    cfg.Passphrase,
		address:       cfg.Address,
		proxyAddress:  cfg.ProxyAddress,
		signatureType: model.SignatureType(cfg.SignatureType),
		chainID:       big.NewInt(polygonChainID),
		submitted:     cfg.Submitted,
		submittedTTL:  cfg.SubmittedTTL,
		metadata:      cfg.Metadata,
		logger:        cfg.Logger,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.submittedTTL <= 0 {
		c.submittedTTL = time.Hour
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c.httpClient = &http.Client{Timeout: timeout}

	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	c.limiter = rate.NewLimiter(limit, burst)

	if cfg.PrivateKey != "" {
		privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		c.privateKey = privateKey

		if c.address == "" {
			publicKey, _ := privateKey.Public().(*ecdsa.PublicKey)
			c.address = crypto.PubkeyToAddress(*publicKey).Hex()
		}
	}

	return c, nil
}

// Address returns the signer address.
func (c *Client) Address() string {
	return c.address
}

// do sends a request, signing it with the L2 HMAC headers when auth is set.
func (c *Client) do(ctx context.Context, method, path string, body any, auth bool, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if auth {
		if err = c.sign(req, method, path, payload); err != nil {
			return err
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	RequestDuration.WithLabelValues(method, routeLabel(path)).Observe(time.Since(start).Seconds())
	if err != nil {
		RequestErrorsTotal.WithLabelValues(method, "transport").Inc()
		return &types.OrderError{Code: types.ErrTransport, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &types.OrderError{Code: types.ErrTransport, Message: fmt.Sprintf("read response: %v", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		RequestErrorsTotal.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()
		return statusError(resp.StatusCode, respBody)
	}

	if out == nil {
		return nil
	}
	if err = json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}

	return nil
}

func (c *Client) sign(req *http.Request, method, path string, payload []byte) error {
	if c.apiKey == "" || c.secret == "" {
		return fmt.Errorf("api credentials not configured")
	}

	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	signaturePayload := timestamp + method + path + string(payload)

	// Secret and signature both use URL-safe base64.
	secretBytes, err := base64.URLEncoding.DecodeString(c.secret)
	if err != nil {
		return fmt.Errorf("decode secret: %w", err)
	}

	h := hmac.New(sha256.New, secretBytes)
	h.Write([]byte(signaturePayload))
	signature := base64.URLEncoding.EncodeToString(h.Sum(nil))

	req.Header.Set("POLY_API_KEY", c.apiKey)
	req.Header.Set("POLY_SIGNATURE", signature)
	req.Header.Set("POLY_TIMESTAMP", timestamp)
	req.Header.Set("POLY_PASSPHRASE", c.passphrase)
	req.Header.Set("POLY_ADDRESS", c.address)

	return nil
}

// statusError maps a non-2xx response to an OrderError. Throttling and
// server errors are transient.
func statusError(status int, body []byte) error {
	var apiErr struct {
		Error    string `json:"error"`
		ErrorMsg string `json:"errorMsg"`
	}
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.ErrorMsg
	if msg == "" {
		msg = apiErr.Error
	}
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}

	switch {
	case status == http.StatusTooManyRequests:
		return &types.OrderError{Code: types.ErrRateLimited, Message: msg}
	case status >= 500:
		return &types.OrderError{Code: types.ErrTransport, Message: fmt.Sprintf("HTTP %d: %s", status, msg)}
	default:
		return &types.OrderError{Code: classify(msg), Message: msg}
	}
}

// classify maps an exchange error message to a known error code.
func classify(msg string) string {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "not enough balance"):
		return types.ErrNotEnoughBalance
	case strings.Contains(lower, "tick size"):
		return types.ErrInvalidMinTickSize
	case strings.Contains(lower, "fok"):
		return types.ErrFOKNotFilled
	case strings.Contains(lower, "not ready"):
		return types.ErrMarketNotReady
	case strings.Contains(lower, "duplicate"):
		return types.ErrDuplicateOrder
	default:
		return codeRejected
	}
}

// routeLabel keeps order ids out of metric labels.
func routeLabel(path string) string {
	if strings.HasPrefix(path, "/data/order/") {
		return "/data/order"
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		return path[:i]
	}
	return path
}
