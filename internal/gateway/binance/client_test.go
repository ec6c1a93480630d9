package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/pairbot/internal/domain"
	"github.com/alanyoungcy/pairbot/internal/gateway"
)

const (
	testKey    = "test-key"
	testSecret = "test-secret"
	exchInfo   = `{"symbols":[{"symbol":"BTCUSDT","filters":[
		{"filterType":"PRICE_FILTER","tickSize":"0.10"},
		{"filterType":"LOT_SIZE","stepSize":"0.001"}]}]}`
)

type recorder struct {
	mu       sync.Mutex
	requests []*http.Request
}

func (r *recorder) add(req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
}

func (r *recorder) last(path string) *http.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.requests) - 1; i >= 0; i-- {
		if r.requests[i].URL.Path == path {
			return r.requests[i]
		}
	}
	return nil
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *recorder) {
	t.Helper()
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.add(r.Clone(context.Background()))
		if r.URL.Path == "/fapi/v1/exchangeInfo" {
			_, _ = io.WriteString(w, exchInfo)
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

func assertSigned(t *testing.T, r *http.Request) {
	t.Helper()
	require.NotNil(t, r)
	assert.Equal(t, testKey, r.Header.Get("X-MBX-APIKEY"))
	payload, sig, ok := strings.Cut(r.URL.RawQuery, "&signature=")
	require.True(t, ok, "signature missing")
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(payload))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), sig)
	assert.Equal(t, "1700000000000", r.URL.Query().Get("timestamp"))
	assert.Equal(t, "5000", r.URL.Query().Get("recvWindow"))
}

func TestNewClientSelectsURL(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	live, err := NewClient(Config{}, domain.Credentials{APIKey: "k", APISecret: "s"}, logger)
	require.NoError(t, err)
	assert.Equal(t, MainnetURL, live.baseURL)

	test, err := NewClient(Config{}, domain.Credentials{APIKey: "k", APISecret: "s", Testnet: true}, logger)
	require.NoError(t, err)
	assert.Equal(t, TestnetURL, test.baseURL)

	_, err = NewClient(Config{}, domain.Credentials{}, logger)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestFetchPrice(t *testing.T) {
	c, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"symbol":"BTCUSDT","price":"64012.50","time":1700000000000}`)
	})

	price, err := c.FetchPrice(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.InDelta(t, 64012.5, price, 1e-9)

	req := rec.last("/fapi/v1/ticker/price")
	require.NotNil(t, req)
	assert.Equal(t, "BTCUSDT", req.URL.Query().Get("symbol"))
	assert.Empty(t, req.Header.Get("X-MBX-APIKEY"))
}

func TestFetchBalances(t *testing.T) {
	c, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"asset":"USDT","balance":"1250.5"},{"asset":"BNB","balance":"0.00000000"}]`)
	})

	bal, err := c.FetchBalances(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 1250.5, bal["USDT"], 1e-9)
	assert.Zero(t, bal["BNB"])
	assertSigned(t, rec.last("/fapi/v2/balance"))
}

func TestPlaceMarketOrder(t *testing.T) {
	c, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		_, _ = io.WriteString(w, `{"orderId":22542179,"symbol":"BTCUSDT","status":"FILLED","executedQty":"0.990","avgPrice":"101.20"}`)
	})

	fill, err := c.PlaceMarketOrder(context.Background(), "BTC/USDT", domain.OrderSideBuy, 0.990099)
	require.NoError(t, err)
	assert.Equal(t, "22542179", fill.OrderID)
	assert.InDelta(t, 0.99, fill.SubmittedQuantity, 1e-12)
	assert.InDelta(t, 0.99, fill.FilledQuantity, 1e-12)
	assert.InDelta(t, 101.2, fill.AveragePrice, 1e-12)

	req := rec.last("/fapi/v1/order")
	assertSigned(t, req)
	q := req.URL.Query()
	assert.Equal(t, "BUY", q.Get("side"))
	assert.Equal(t, "MARKET", q.Get("type"))
	assert.Equal(t, "0.99", q.Get("quantity"))
	assert.Equal(t, "RESULT", q.Get("newOrderRespType"))
}

func TestPlaceMarketOrderRejected(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"code":-2019,"msg":"Margin is insufficient."}`)
	})

	_, err := c.PlaceMarketOrder(context.Background(), "BTC/USDT", domain.OrderSideSell, 1)
	require.ErrorIs(t, err, domain.ErrOrderRejected)
	assert.Contains(t, err.Error(), "Margin is insufficient")
}

func TestPlaceMarketOrderBelowLotSize(t *testing.T) {
	c, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("order must not be sent")
	})

	_, err := c.PlaceMarketOrder(context.Background(), "BTC/USDT", domain.OrderSideBuy, 0.0004)
	assert.ErrorIs(t, err, domain.ErrOrderRejected)
	assert.Nil(t, rec.last("/fapi/v1/order"))
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   error
	}{
		{http.StatusUnauthorized, `{"code":-2015,"msg":"Invalid API-key"}`, domain.ErrUnauthorized},
		{http.StatusTooManyRequests, `{"code":-1003,"msg":"Too many requests"}`, domain.ErrRateLimited},
	}
	for _, tc := range cases {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = io.WriteString(w, tc.body)
		})
		_, err := c.FetchBalances(context.Background())
		assert.ErrorIs(t, err, tc.want)
	}

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := c.PlaceMarketOrder(context.Background(), "BTC/USDT", domain.OrderSideBuy, 1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrOrderRejected)
}

func TestPlaceLimitOrder(t *testing.T) {
	c, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"orderId":77,"status":"NEW"}`)
	})

	id, err := c.PlaceLimitOrder(context.Background(), "BTC/USDT", domain.OrderSideSell, 0.4951, 100.69999)
	require.NoError(t, err)
	assert.Equal(t, "77", id)

	q := rec.last("/fapi/v1/order").URL.Query()
	assert.Equal(t, "LIMIT", q.Get("type"))
	assert.Equal(t, "GTC", q.Get("timeInForce"))
	assert.Equal(t, "SELL", q.Get("side"))
	assert.Equal(t, "0.495", q.Get("quantity"))
	assert.Equal(t, "100.7", q.Get("price"))
	assert.Equal(t, "true", q.Get("reduceOnly"))
}

func TestPlaceStopOrder(t *testing.T) {
	c, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"orderId":88,"status":"NEW"}`)
	})

	id, err := c.PlaceStopOrder(context.Background(), "BTC/USDT", domain.OrderSideSell, 1, 98.04, domain.StopAttributes{})
	require.NoError(t, err)
	assert.Equal(t, "88", id)
	q := rec.last("/fapi/v1/order").URL.Query()
	assert.Equal(t, "STOP_MARKET", q.Get("type"))
	assert.Equal(t, "98", q.Get("stopPrice"))

	_, err = c.PlaceStopOrder(context.Background(), "BTC/USDT", domain.OrderSideBuy, 1, 104, domain.StopAttributes{Trailing: true, CallbackPercent: 2})
	require.NoError(t, err)
	q = rec.last("/fapi/v1/order").URL.Query()
	assert.Equal(t, "TRAILING_STOP_MARKET", q.Get("type"))
	assert.Equal(t, "2", q.Get("callbackRate"))
	assert.Empty(t, q.Get("stopPrice"))

	_, err = c.PlaceStopOrder(context.Background(), "BTC/USDT", domain.OrderSideBuy, 1, 104, domain.StopAttributes{Breakeven: true})
	assert.ErrorIs(t, err, domain.ErrUnsupportedAttribute)
}

func TestRelease(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"price":"1"}`)
	})
	require.NoError(t, c.Release())
	require.NoError(t, c.Release())

	_, err := c.FetchPrice(context.Background(), "BTC/USDT")
	assert.ErrorIs(t, err, gateway.ErrReleased)
}
