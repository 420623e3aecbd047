package clob

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mselser95/binary-arb/pkg/cache"
	"github.com/mselser95/binary-arb/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type metadataServer struct {
	*httptest.Server
	mu        sync.Mutex
	bookCalls int
	orders    int
	bookFail  bool
}

func newMetadataServer(t *testing.T) *metadataServer {
	t.Helper()
	s := &metadataServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		switch r.URL.Path {
		case "/book":
			s.bookCalls++
			if s.bookFail {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			_, _ = w.Write([]byte(`{"asset_id":"123456789","bids":[],"asks":[],
				"tick_size":"0.01","min_order_size":"5"}`))
		case "/order":
			s.orders++
			_, _ = w.Write([]byte(`{"success":true,"orderId":"0xmeta"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *metadataServer) counts() (books, orders int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bookCalls, s.orders
}

func newMetadataClient(t *testing.T, baseURL string) *Client {
	t.Helper()

	metadata, err := cache.NewRistrettoCache(&cache.RistrettoConfig{
		Name: "metadata", NumCounters: 1000, MaxCost: 100, BufferItems: 64, Logger: zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	t.Cleanup(metadata.Close)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	c, err := New(&Config{
		BaseURL:    baseURL,
		APIKey:     "api-key",
		Secret:     base64.URLEncoding.EncodeToString([]byte("secret")),
		Passphrase: "pass",
		PrivateKey: hex.EncodeToString(crypto.FromECDSA(key)),
		Metadata:   metadata,
		Logger:     zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return c
}

func TestTokenMetadata_Cached(t *testing.T) {
	srv := newMetadataServer(t)
	c := newMetadataClient(t, srv.URL)

	meta, err := c.TokenMetadata(context.Background(), "123456789")
	require.NoError(t, err)
	assert.InDelta(t, 0.01, meta.TickSize, 1e-12)
	assert.InDelta(t, 5.0, meta.MinOrderSize, 1e-12)

	_, err = c.TokenMetadata(context.Background(), "123456789")
	require.NoError(t, err)
	books, _ := srv.counts()
	assert.Equal(t, 1, books)

	c.UpdateTickSize("123456789", 0.001)
	meta, err = c.TokenMetadata(context.Background(), "123456789")
	require.NoError(t, err)
	assert.InDelta(t, 0.001, meta.TickSize, 1e-12)
}

func TestSubmit_ChecksConstraints(t *testing.T) {
	tests := []struct {
		name     string
		price    float64
		size     float64
		wantCode string
	}{
		{name: "on tick", price: 0.42, size: 10},
		{name: "off tick", price: 0.425, size: 10, wantCode: types.ErrInvalidMinTickSize},
		{name: "too small", price: 0.42, size: 2, wantCode: types.ErrOrderTooSmall},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newMetadataServer(t)
			c := newMetadataClient(t, srv.URL)

			req := legRequest("cycle-"+tt.name, types.SideBuy)
			req.Price = tt.price
			req.Size = tt.size

			_, err := c.Submit(context.Background(), req)
			_, orders := srv.counts()
			if tt.wantCode == "" {
				require.NoError(t, err)
				assert.Equal(t, 1, orders)
				return
			}

			var oe *types.OrderError
			require.True(t, errors.As(err, &oe))
			assert.Equal(t, tt.wantCode, oe.Code)
			assert.False(t, oe.Transient())
			assert.Equal(t, 0, orders)
		})
	}
}

func TestSubmit_MetadataUnavailableStillSubmits(t *testing.T) {
	srv := newMetadataServer(t)
	srv.bookFail = true
	c := newMetadataClient(t, srv.URL)

	id, err := c.Submit(context.Background(), legRequest("cycle-x", types.SideBuy))
	require.NoError(t, err)
	assert.Equal(t, "0xmeta", id)
}
