package bybit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/pairbot/internal/domain"
	"github.com/alanyoungcy/pairbot/internal/gateway"
)

const (
	testKey     = "test-key"
	testSecret  = "test-secret"
	instruments = `{"retCode":0,"retMsg":"OK","result":{"list":[{"symbol":"BTCUSDT",
		"priceFilter":{"tickSize":"0.10"},"lotSizeFilter":{"qtyStep":"0.001"}}]}}`
)

type captured struct {
	method string
	path   string
	query  string
	header http.Header
	body   string
}

type recorder struct {
	mu       sync.Mutex
	requests []captured
}

func (r *recorder) last(path string) (captured, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.requests) - 1; i >= 0; i-- {
		if r.requests[i].path == path {
			return r.requests[i], true
		}
	}
	return captured{}, false
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *recorder) {
	t.Helper()
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec.mu.Lock()
		rec.requests = append(rec.requests, captured{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			header: r.Header.Clone(),
			body:   string(body),
		})
		rec.mu.Unlock()
		if r.URL.Path == "/v5/market/instruments-info" {
			_, _ = io.WriteString(w, instruments)
			return
		}
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := NewClient(Config{BaseURL: srv.URL}, domain.Credentials{APIKey: testKey, APISecret: testSecret}, logger)
	require.NoError(t, err)
	c.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return c, rec
}

func assertSigned(t *testing.T, req captured, payload string) {
	t.Helper()
	assert.Equal(t, testKey, req.header.Get("X-BAPI-API-KEY"))
	assert.Equal(t, "1700000000000", req.header.Get("X-BAPI-TIMESTAMP"))
	assert.Equal(t, "5000", req.header.Get("X-BAPI-RECV-WINDOW"))
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte("1700000000000" + testKey + "5000" + payload))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), req.header.Get("X-BAPI-SIGN"))
}

func ok(result string) string {
	return `{"retCode":0,"retMsg":"OK","result":` + result + `}`
}

func TestNewClientSelectsURL(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	live, err := NewClient(Config{}, domain.Credentials{APIKey: "k", APISecret: "s"}, logger)
	require.NoError(t, err)
	assert.Equal(t, MainnetURL, live.baseURL)

	test, err := NewClient(Config{}, domain.Credentials{APIKey: "k", APISecret: "s", Testnet: true}, logger)
	require.NoError(t, err)
	assert.Equal(t, TestnetURL, test.baseURL)

	_, err = NewClient(Config{}, domain.Credentials{APIKey: "k"}, logger)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestFetchPrice(t *testing.T) {
	c, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, ok(`{"list":[{"symbol":"BTCUSDT","lastPrice":"64012.5"}]}`))
	})

	price, err := c.FetchPrice(context.Background(), "btc/usdt")
	require.NoError(t, err)
	assert.InDelta(t, 64012.5, price, 1e-9)

	req, found := rec.last("/v5/market/tickers")
	require.True(t, found)
	assert.Contains(t, req.query, "symbol=BTCUSDT")
	assert.Contains(t, req.query, "category=linear")
	assert.Empty(t, req.header.Get("X-BAPI-SIGN"))
}

func TestFetchBalancesSigned(t *testing.T) {
	c, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, ok(`{"list":[{"coin":[
			{"coin":"USDT","walletBalance":"1250.5"},
			{"coin":"BTC","walletBalance":"0"}]}]}`))
	})

	balances, err := c.FetchBalances(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 1250.5, balances["USDT"], 1e-9)
	assert.Contains(t, balances, "BTC")

	req, found := rec.last("/v5/account/wallet-balance")
	require.True(t, found)
	assert.Equal(t, "accountType=UNIFIED", req.query)
	assertSigned(t, req, req.query)
}

func TestPlaceMarketOrderReadsFill(t *testing.T) {
	c, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v5/order/create":
			_, _ = io.WriteString(w, ok(`{"orderId":"abc-1","orderLinkId":""}`))
		case "/v5/order/realtime":
			_, _ = io.WriteString(w, ok(`{"list":[{"orderId":"abc-1","orderStatus":"Filled",
				"cumExecQty":"0.99","avgPrice":"101.2"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	fill, err := c.PlaceMarketOrder(context.Background(), "BTC/USDT", domain.OrderSideSell, 0.9999)
	require.NoError(t, err)
	assert.Equal(t, "abc-1", fill.OrderID)
	assert.InDelta(t, 0.999, fill.SubmittedQuantity, 1e-9)
	assert.InDelta(t, 0.99, fill.FilledQuantity, 1e-9)
	assert.InDelta(t, 101.2, fill.AveragePrice, 1e-9)

	req, found := rec.last("/v5/order/create")
	require.True(t, found)
	assert.Equal(t, http.MethodPost, req.method)
	assertSigned(t, req, req.body)

	var body orderRequest
	require.NoError(t, json.Unmarshal([]byte(req.body), &body))
	assert.Equal(t, "Sell", body.Side)
	assert.Equal(t, "Market", body.OrderType)
	assert.Equal(t, "0.999", body.Qty)
	assert.False(t, body.ReduceOnly)
}

func TestPlaceMarketOrderFillUnavailable(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v5/order/create":
			_, _ = io.WriteString(w, ok(`{"orderId":"abc-2"}`))
		default:
			_, _ = io.WriteString(w, ok(`{"list":[]}`))
		}
	})

	fill, err := c.PlaceMarketOrder(context.Background(), "BTC/USDT", domain.OrderSideBuy, 0.5)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, fill.FilledQuantity, 1e-9)
	assert.Zero(t, fill.AveragePrice)
}

func TestPlaceMarketOrderRejected(t *testing.T) {
	t.Run("ret code", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"retCode":110007,"retMsg":"ab not enough for new order","result":{}}`)
		})
		_, err := c.PlaceMarketOrder(context.Background(), "BTC/USDT", domain.OrderSideBuy, 1)
		assert.ErrorIs(t, err, domain.ErrOrderRejected)
	})

	t.Run("cancelled without fill", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/v5/order/create" {
				_, _ = io.WriteString(w, ok(`{"orderId":"abc-3"}`))
				return
			}
			_, _ = io.WriteString(w, ok(`{"list":[{"orderId":"abc-3","orderStatus":"Cancelled",
				"cumExecQty":"0","avgPrice":"","rejectReason":"EC_NoImmediateQtyToFill"}]}`))
		})
		_, err := c.PlaceMarketOrder(context.Background(), "BTC/USDT", domain.OrderSideBuy, 1)
		assert.ErrorIs(t, err, domain.ErrOrderRejected)
	})

	t.Run("below lot size", func(t *testing.T) {
		c, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("order must not be sent")
		})
		_, err := c.PlaceMarketOrder(context.Background(), "BTC/USDT", domain.OrderSideBuy, 0.0004)
		assert.ErrorIs(t, err, domain.ErrOrderRejected)
		_, found := rec.last("/v5/order/create")
		assert.False(t, found)
	})
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"invalid key", http.StatusOK, `{"retCode":10003,"retMsg":"API key is invalid."}`, domain.ErrUnauthorized},
		{"bad signature", http.StatusOK, `{"retCode":10004,"retMsg":"error sign!"}`, domain.ErrUnauthorized},
		{"rate limit code", http.StatusOK, `{"retCode":10006,"retMsg":"Too many visits!"}`, domain.ErrRateLimited},
		{"http 403", http.StatusForbidden, ``, domain.ErrUnauthorized},
		{"http 429", http.StatusTooManyRequests, ``, domain.ErrRateLimited},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			})
			_, err := c.FetchBalances(context.Background())
			assert.ErrorIs(t, err, tc.want)
		})
	}

	t.Run("server error is not a rejection", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})
		_, err := c.FetchBalances(context.Background())
		require.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrOrderRejected)
	})
}

func TestPlaceLimitOrder(t *testing.T) {
	c, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, ok(`{"orderId":"tp-1"}`))
	})

	id, err := c.PlaceLimitOrder(context.Background(), "BTC/USDT", domain.OrderSideSell, 0.4956, 100.66)
	require.NoError(t, err)
	assert.Equal(t, "tp-1", id)

	req, found := rec.last("/v5/order/create")
	require.True(t, found)
	var body orderRequest
	require.NoError(t, json.Unmarshal([]byte(req.body), &body))
	assert.Equal(t, "Limit", body.OrderType)
	assert.Equal(t, "0.495", body.Qty)
	assert.Equal(t, "100.7", body.Price)
	assert.Equal(t, "GTC", body.TimeInForce)
	assert.True(t, body.ReduceOnly)
}

func TestPlaceStopOrder(t *testing.T) {
	c, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, ok(`{"orderId":"sl-1"}`))
	})

	t.Run("long stop falls", func(t *testing.T) {
		id, err := c.PlaceStopOrder(context.Background(), "BTC/USDT", domain.OrderSideSell, 1, 95.04, domain.StopAttributes{})
		require.NoError(t, err)
		assert.Equal(t, "sl-1", id)

		req, _ := rec.last("/v5/order/create")
		var body orderRequest
		require.NoError(t, json.Unmarshal([]byte(req.body), &body))
		assert.Equal(t, "Market", body.OrderType)
		assert.Equal(t, "95", body.TriggerPrice)
		assert.Equal(t, triggerFalls, body.TriggerDirection)
		assert.True(t, body.ReduceOnly)
	})

	t.Run("short stop rises", func(t *testing.T) {
		_, err := c.PlaceStopOrder(context.Background(), "BTC/USDT", domain.OrderSideBuy, 1, 105, domain.StopAttributes{})
		require.NoError(t, err)

		req, _ := rec.last("/v5/order/create")
		var body orderRequest
		require.NoError(t, json.Unmarshal([]byte(req.body), &body))
		assert.Equal(t, triggerRises, body.TriggerDirection)
	})

	t.Run("attributes unsupported", func(t *testing.T) {
		_, err := c.PlaceStopOrder(context.Background(), "BTC/USDT", domain.OrderSideSell, 1, 95, domain.StopAttributes{Trailing: true})
		assert.ErrorIs(t, err, domain.ErrUnsupportedAttribute)
		_, err = c.PlaceStopOrder(context.Background(), "BTC/USDT", domain.OrderSideSell, 1, 95, domain.StopAttributes{Breakeven: true})
		assert.ErrorIs(t, err, domain.ErrUnsupportedAttribute)
	})
}

func TestRelease(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, ok(`{"list":[{"symbol":"BTCUSDT","lastPrice":"1"}]}`))
	})
	require.NoError(t, c.Release())
	require.NoError(t, c.Release())

	_, err := c.FetchPrice(context.Background(), "BTC/USDT")
	assert.ErrorIs(t, err, gateway.ErrReleased)
}
