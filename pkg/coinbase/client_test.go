package coinbase

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gregtusar/positrader/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type productTable map[string]models.PairInfo

func (p productTable) PairInfo(pair string) (models.PairInfo, bool) {
	info, ok := p[pair]
	return info, ok
}

var testProducts = productTable{
	"BTCUSDT": {Pair: "BTCUSDT", Asset: "BTC", Market: "USDT", ProductID: "BTC-USDT"},
}

type staticAuth struct{}

func (staticAuth) Headers(method, host, path, body string) (map[string]string, error) {
	return map[string]string{"X-Test-Sign": method + " " + path}, nil
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewClient(Options{
		BaseURL:           srv.URL,
		Auth:              staticAuth{},
		Products:          testProducts,
		RequestsPerSecond: 1000,
		FillTimeout:       2 * time.Second,
		PollInterval:      time.Millisecond,
		Logger:            logger,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestClient_ListProductsSkipsDisabled(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/brokerage/products", r.URL.Path)
		assert.Equal(t, "GET /api/v3/brokerage/products", r.Header.Get("X-Test-Sign"))
		writeJSON(w, map[string]any{"products": []map[string]any{
			{"product_id": "BTC-USDT", "base_currency_id": "BTC", "quote_currency_id": "USDT", "status": "online"},
			{"product_id": "OLD-USDT", "base_currency_id": "OLD", "quote_currency_id": "USDT", "status": "delisted"},
		}})
	}))

	products, err := c.ListProducts(context.Background())
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, models.PairInfo{Pair: "BTCUSDT", Asset: "BTC", Market: "USDT", ProductID: "BTC-USDT"}, products[0])
}

func TestClient_GetTickerAndBalance(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/brokerage/products/BTC-USDT/ticker", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"best_bid": "49990",
			"best_ask": "50010",
			"trades":   []map[string]any{{"price": "50000", "time": "2024-01-01T00:00:00Z"}},
		})
	})
	mux.HandleFunc("/api/v3/brokerage/accounts", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"accounts": []map[string]any{
			{"currency": "USDT", "available_balance": map[string]string{"value": "750.5"}},
			{"currency": "BTC", "available_balance": map[string]string{"value": "0.1"}},
		}})
	})
	c := newTestClient(t, mux)

	tk, err := c.GetTicker(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, tk.LastPrice.Equal(decimal.NewFromInt(50000)))
	assert.True(t, tk.BidPrice.Equal(decimal.NewFromInt(49990)))

	_, err = c.GetTicker(context.Background(), "XYZUSDT")
	assert.Error(t, err)

	bal, err := c.GetBalance(context.Background(), "USDT")
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.RequireFromString("750.5")))
}

func TestClient_ExecuteWaitsForFill(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/brokerage/orders", func(w http.ResponseWriter, r *http.Request) {
		var req orderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "BTC-USDT", req.ProductID)
		assert.Equal(t, "BUY", req.Side)
		assert.Equal(t, "0.002", req.OrderConfiguration.MarketIOC.BaseSize)
		writeJSON(w, map[string]any{"success": true, "success_response": map[string]string{"order_id": "abc"}})
	})
	mux.HandleFunc("/api/v3/brokerage/orders/historical/abc", func(w http.ResponseWriter, r *http.Request) {
		status := "OPEN"
		if polls.Add(1) > 2 {
			status = "FILLED"
		}
		writeJSON(w, map[string]any{"order": map[string]any{
			"order_id":             "abc",
			"status":               status,
			"filled_size":          "0.002",
			"average_filled_price": "50000",
			"filled_value":         "100",
			"total_fees":           "0.6",
			"created_time":         "2024-01-01T00:00:00Z",
		}})
	})
	c := newTestClient(t, mux)

	order, err := c.Execute(context.Background(), models.OrderSideBuy, "BTCUSDT", decimal.RequireFromString("0.002"))
	require.NoError(t, err)
	assert.Equal(t, "abc", order.OrderID)
	assert.True(t, order.Filled())
	assert.True(t, order.RawCost.Equal(decimal.NewFromInt(100)))
	assert.True(t, order.Fees.Equal(decimal.RequireFromString("0.6")))
	assert.Equal(t, "USDT", order.FeesCurrency)
	assert.GreaterOrEqual(t, polls.Load(), int32(3))
}

func TestClient_ExecuteRejected(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"success":        false,
			"error_response": map[string]string{"error": "INSUFFICIENT_FUND", "message": "not enough"},
		})
	}))

	_, err := c.Execute(context.Background(), models.OrderSideSell, "BTCUSDT", decimal.NewFromInt(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INSUFFICIENT_FUND")
}

func TestClient_ExecuteCancelledWithoutFill(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/brokerage/orders", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"success": true, "success_response": map[string]string{"order_id": "x"}})
	})
	mux.HandleFunc("/api/v3/brokerage/orders/historical/x", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"order": map[string]any{"order_id": "x", "status": "CANCELLED", "filled_size": "0"}})
	})
	c := newTestClient(t, mux)

	_, err := c.Execute(context.Background(), models.OrderSideBuy, "BTCUSDT", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, ErrOrderNotFilled)
}

func TestClient_ErrorStatus(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))

	_, err := c.GetBalance(context.Background(), "USDT")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}
