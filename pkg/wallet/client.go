package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	polygonUSDC        = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"
	polygonCTFExchange = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
)

const erc20ABI = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

// Balances holds the on-chain funds available for trading.
type Balances struct {
	MATIC         decimal.Decimal
	USDC          decimal.Decimal
	USDCAllowance decimal.Decimal // approved to the CTF exchange
}

// Client reads wallet balances from a Polygon RPC endpoint.
type Client struct {
	rpcURL string
	erc20  abi.ABI
	logger *zap.Logger
}

// NewClient creates a new wallet client.
func NewClient(rpcURL string, logger *zap.Logger) (*Client, error) {
	if rpcURL == "" {
		return nil, errors.New("rpcURL cannot be empty")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("parse ABI: %w", err)
	}

	return &Client{rpcURL: rpcURL, erc20: parsed, logger: logger}, nil
}

// GetBalances fetches the MATIC balance, the USDC balance and the USDC
// allowance of owner.
func (c *Client) GetBalances(ctx context.Context, owner common.Address) (*Balances, error) {
	client, err := ethclient.DialContext(ctx, c.rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial RPC: %w", err)
	}
	defer client.Close()

	matic, err := client.BalanceAt(ctx, owner, nil)
	if err != nil {
		return nil, fmt.Errorf("get MATIC balance: %w", err)
	}

	usdc, err := c.call(ctx, client, "balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("get USDC balance: %w", err)
	}

	allowance, err := c.call(ctx, client, "allowance", owner, common.HexToAddress(polygonCTFExchange))
	if err != nil {
		return nil, fmt.Errorf("get USDC allowance: %w", err)
	}

	return &Balances{
		MATIC:         decimal.NewFromBigInt(matic, -18),
		USDC:          USDCAmount(usdc),
		USDCAllowance: USDCAmount(allowance),
	}, nil
}

func (c *Client) call(ctx context.Context, client *ethclient.Client, method string, args ...any) (*big.Int, error) {
	data, err := c.erc20.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	token := common.HexToAddress(polygonUSDC)
	result, err := client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}

	return new(big.Int).SetBytes(result), nil
}

// USDCAmount converts a raw 6-decimal USDC amount to dollars.
func USDCAmount(raw *big.Int) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -6)
}
