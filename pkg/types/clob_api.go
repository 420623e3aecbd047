package types

// OrderSubmissionResponse represents the response from POST /order.
type OrderSubmissionResponse struct {
	Success      bool     `json:"success"`
	ErrorMsg     string   `json:"errorMsg"`
	OrderID      string   `json:"orderId"` // lowercase 'd' per API spec
	OrderHashes  []string `json:"orderHashes"`
	Status       string   `json:"status"` // matched, live, delayed, unmatched
	TakingAmount string   `json:"takingAmount"`
	MakingAmount string   `json:"makingAmount"`
}

// SignedOrderJSON represents a signed order in the format expected by the CLOB API.
type SignedOrderJSON struct {
	Salt          int64  `json:"salt"` // Integer per API spec (not string)
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Side          string `json:"side"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	SignatureType int    `json:"signatureType"` // 0=EOA, 1=POLY_PROXY, 2=GNOSIS_SAFE
	Signature     string `json:"signature"`
}

// OrderSubmissionRequest wraps a signed order with metadata.
type OrderSubmissionRequest struct {
	Order     SignedOrderJSON `json:"order"`
	Owner     string          `json:"owner"` // API key, not the maker address
	OrderType string          `json:"orderType"`
}

// OrderQueryResponse represents the response from GET /data/order/{id}.
type OrderQueryResponse struct {
	OrderID    string  `json:"id"`
	Status     string  `json:"status"` // LIVE, MATCHED, CANCELED, ...
	TokenID    string  `json:"asset_id"`
	Price      float64 `json:"price,string"`
	Size       float64 `json:"original_size,string"`
	SizeFilled float64 `json:"size_matched,string"`
	Side       string  `json:"side"`
	OrderType  string  `json:"order_type"`
	MarketID   string  `json:"market"`
	Outcome    string  `json:"outcome"`
	CreatedAt  int64   `json:"created_at"`
}

// BookResponse is the REST order book for one token (GET /book).
type BookResponse struct {
	Market    string       `json:"market"`
	AssetID   string       `json:"asset_id"`
	Timestamp string       `json:"timestamp"`
	Hash      string       `json:"hash"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`

	TickSize     string `json:"tick_size,omitempty"`
	MinOrderSize string `json:"min_order_size,omitempty"`
}
