// Package binance implements domain.Gateway against the Binance USDT-M
// futures REST API.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/pairbot/internal/crypto"
	"github.com/alanyoungcy/pairbot/internal/domain"
	"github.com/alanyoungcy/pairbot/internal/gateway"
)

const (
	MainnetURL = "https://fapi.binance.com"
	TestnetURL = "https://testnet.binancefuture.com"

	defaultRecvWindow = 5 * time.Second
	defaultTimeout    = 10 * time.Second
)

// Config selects endpoints and request limits.
type Config struct {
	BaseURL    string
	TestnetURL string
	RecvWindow time.Duration
	Timeout    time.Duration
}

// NewFactory returns a gateway.Factory for the registry.
func NewFactory(cfg Config, logger *slog.Logger) gateway.Factory {
	return func(_ context.Context, creds domain.Credentials) (domain.Gateway, error) {
		return NewClient(cfg, creds, logger)
	}
}

// Client is one authenticated Binance session.
type Client struct {
	baseURL    string
	recvWindow time.Duration
	auth       *crypto.HMACAuth
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
	released   atomic.Bool

	filtersMu sync.Mutex
	filters   map[string]gateway.Filters
}

// NewClient creates a session. Testnet credentials use the testnet URL.
func NewClient(cfg Config, creds domain.Credentials, logger *slog.Logger) (*Client, error) {
	if creds.APIKey == "" || creds.APISecret == "" {
		return nil, fmt.Errorf("binance: %w: missing api key or secret", domain.ErrUnauthorized)
	}
	base := cfg.BaseURL
	if base == "" {
		base = MainnetURL
	}
	if creds.Testnet {
		base = cfg.TestnetURL
		if base == "" {
			base = TestnetURL
		}
	}
	if cfg.RecvWindow <= 0 {
		cfg.RecvWindow = defaultRecvWindow
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	return &Client{
		baseURL:    base,
		recvWindow: cfg.RecvWindow,
		auth:       &crypto.HMACAuth{Key: creds.APIKey, Secret: creds.APISecret},
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
		},
		logger:  logger.With(slog.String("component", "binance"), slog.Bool("testnet", creds.Testnet)),
		now:     time.Now,
		filters: make(map[string]gateway.Filters),
	}, nil
}

// Venue implements domain.Gateway.
func (c *Client) Venue() string { return "binance" }

// FetchPrice returns the last traded price of the instrument.
func (c *Client) FetchPrice(ctx context.Context, instrument string) (float64, error) {
	params := url.Values{"symbol": {gateway.Symbol(instrument)}}
	body, err := c.do(ctx, http.MethodGet, "/fapi/v1/ticker/price", params, false)
	if err != nil {
		return 0, fmt.Errorf("binance: fetch price %s: %w", instrument, err)
	}
	var resp tickerPrice
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("binance: decode price: %w", err)
	}
	return gateway.ParseFloat(resp.Price)
}

// FetchBalances returns the wallet balance per asset.
func (c *Client) FetchBalances(ctx context.Context) (map[string]float64, error) {
	body, err := c.do(ctx, http.MethodGet, "/fapi/v2/balance", url.Values{}, true)
	if err != nil {
		return nil, fmt.Errorf("binance: fetch balances: %w", err)
	}
	var rows []balanceRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("binance: decode balances: %w", err)
	}
	out := make(map[string]float64, len(rows))
	for _, r := range rows {
		v, err := gateway.ParseFloat(r.Balance)
		if err != nil {
			return nil, err
		}
		out[r.Asset] = v
	}
	return out, nil
}

// PlaceMarketOrder sends a MARKET order and reports its fill.
func (c *Client) PlaceMarketOrder(ctx context.Context, instrument string, side domain.OrderSide, quantity float64) (domain.MarketFill, error) {
	symbol := gateway.Symbol(instrument)
	f, err := c.symbolFilters(ctx, symbol)
	if err != nil {
		return domain.MarketFill{}, fmt.Errorf("binance: market order: %w", err)
	}
	qty, err := sizeOf(f, quantity)
	if err != nil {
		return domain.MarketFill{}, fmt.Errorf("binance: market order: %w", err)
	}

	params := url.Values{
		"symbol":           {symbol},
		"side":             {sideOf(side)},
		"type":             {"MARKET"},
		"quantity":         {qty.String()},
		"newOrderRespType": {"RESULT"},
	}
	resp, err := c.placeOrder(ctx, params)
	if err != nil {
		return domain.MarketFill{}, fmt.Errorf("binance: market order: %w", err)
	}

	filled, err := gateway.ParseFloat(resp.ExecutedQty)
	if err != nil {
		return domain.MarketFill{}, err
	}
	avg, err := gateway.ParseFloat(resp.AvgPrice)
	if err != nil {
		return domain.MarketFill{}, err
	}
	c.logger.InfoContext(ctx, "market order placed",
		slog.String("symbol", symbol),
		slog.String("side", string(side)),
		slog.String("order_id", resp.id()),
		slog.String("status", resp.Status),
	)
	return domain.MarketFill{
		OrderID:           resp.id(),
		SubmittedQuantity: qty.InexactFloat64(),
		FilledQuantity:    filled,
		AveragePrice:      avg,
	}, nil
}

// PlaceLimitOrder sends a reduce-only GTC LIMIT order.
func (c *Client) PlaceLimitOrder(ctx context.Context, instrument string, side domain.OrderSide, quantity, price float64) (string, error) {
	symbol := gateway.Symbol(instrument)
	f, err := c.symbolFilters(ctx, symbol)
	if err != nil {
		return "", fmt.Errorf("binance: limit order: %w", err)
	}
	qty, err := sizeOf(f, quantity)
	if err != nil {
		return "", fmt.Errorf("binance: limit order: %w", err)
	}

	params := url.Values{
		"symbol":      {symbol},
		"side":        {sideOf(side)},
		"type":        {"LIMIT"},
		"timeInForce": {"GTC"},
		"quantity":    {qty.String()},
		"price":       {f.Price(price).String()},
		"reduceOnly":  {"true"},
	}
	resp, err := c.placeOrder(ctx, params)
	if err != nil {
		return "", fmt.Errorf("binance: limit order: %w", err)
	}
	return resp.id(), nil
}

// PlaceStopOrder sends a reduce-only STOP_MARKET order, or a
// TRAILING_STOP_MARKET order when attrs.Trailing is set. Breakeven moves
// are not offered by the API.
func (c *Client) PlaceStopOrder(ctx context.Context, instrument string, side domain.OrderSide, quantity, stopPrice float64, attrs domain.StopAttributes) (string, error) {
	if attrs.Breakeven {
		return "", fmt.Errorf("binance: %w: breakeven", domain.ErrUnsupportedAttribute)
	}
	symbol := gateway.Symbol(instrument)
	f, err := c.symbolFilters(ctx, symbol)
	if err != nil {
		return "", fmt.Errorf("binance: stop order: %w", err)
	}
	qty, err := sizeOf(f, quantity)
	if err != nil {
		return "", fmt.Errorf("binance: stop order: %w", err)
	}

	params := url.Values{
		"symbol":      {symbol},
		"side":        {sideOf(side)},
		"quantity":    {qty.String()},
		"reduceOnly":  {"true"},
		"workingType": {"MARK_PRICE"},
	}
	if attrs.Trailing {
		params.Set("type", "TRAILING_STOP_MARKET")
		params.Set("callbackRate", decimal.NewFromFloat(attrs.CallbackPercent).Round(1).String())
	} else {
		params.Set("type", "STOP_MARKET")
		params.Set("stopPrice", f.Price(stopPrice).String())
	}
	resp, err := c.placeOrder(ctx, params)
	if err != nil {
		return "", fmt.Errorf("binance: stop order: %w", err)
	}
	return resp.id(), nil
}

// Release closes idle connections. Later calls fail with gateway.ErrReleased.
func (c *Client) Release() error {
	if c.released.Swap(true) {
		return nil
	}
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) placeOrder(ctx context.Context, params url.Values) (orderResponse, error) {
	body, err := c.do(ctx, http.MethodPost, "/fapi/v1/order", params, true)
	if err != nil {
		return orderResponse{}, err
	}
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return orderResponse{}, fmt.Errorf("decode order: %w", err)
	}
	switch resp.Status {
	case "REJECTED", "EXPIRED":
		return resp, fmt.Errorf("%w: order %s %s", domain.ErrOrderRejected, resp.id(), resp.Status)
	}
	return resp, nil
}

// symbolFilters loads and caches the lot and tick sizes for symbol.
func (c *Client) symbolFilters(ctx context.Context, symbol string) (gateway.Filters, error) {
	c.filtersMu.Lock()
	defer c.filtersMu.Unlock()
	if f, ok := c.filters[symbol]; ok {
		return f, nil
	}

	body, err := c.do(ctx, http.MethodGet, "/fapi/v1/exchangeInfo", url.Values{}, false)
	if err != nil {
		return gateway.Filters{}, fmt.Errorf("exchange info: %w", err)
	}
	var info exchangeInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return gateway.Filters{}, fmt.Errorf("decode exchange info: %w", err)
	}
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		var f gateway.Filters
		for _, flt := range s.Filters {
			switch flt.FilterType {
			case "LOT_SIZE":
				f.QtyStep, _ = decimal.NewFromString(flt.StepSize)
			case "PRICE_FILTER":
				f.TickSize, _ = decimal.NewFromString(flt.TickSize)
			}
		}
		c.filters[symbol] = f
		return f, nil
	}
	return gateway.Filters{}, fmt.Errorf("%w: unknown symbol %s", domain.ErrOrderRejected, symbol)
}

// do sends a request. Signed requests carry timestamp, recvWindow and an
// HMAC-SHA256 signature of the encoded query.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, signed bool) ([]byte, error) {
	if c.released.Load() {
		return nil, gateway.ErrReleased
	}

	query := params.Encode()
	if signed {
		params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
		params.Set("recvWindow", strconv.FormatInt(c.recvWindow.Milliseconds(), 10))
		query = params.Encode()
		query += "&signature=" + c.auth.SignHex(query)
	}

	fullURL := c.baseURL + path
	if query != "" {
		fullURL += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if signed {
		req.Header.Set("X-MBX-APIKEY", c.auth.Key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkStatus maps Binance error responses onto domain errors. A 4xx with
// a business error code on an order is a rejection; 5xx is left unwrapped
// since the order state is unknown.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr apiError
	_ = json.Unmarshal(body, &apiErr)

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden || apiErr.Code == -2014 || apiErr.Code == -2015 || apiErr.Code == -1022:
		return fmt.Errorf("%w: %s (%d)", domain.ErrUnauthorized, apiErr.Msg, apiErr.Code)
	case statusCode == http.StatusTooManyRequests || statusCode == http.StatusTeapot:
		return fmt.Errorf("%w: %s (%d)", domain.ErrRateLimited, apiErr.Msg, apiErr.Code)
	case statusCode >= 400 && statusCode < 500:
		return fmt.Errorf("%w: %s (%d)", domain.ErrOrderRejected, apiErr.Msg, apiErr.Code)
	default:
		return fmt.Errorf("HTTP %d: %s (%d)", statusCode, apiErr.Msg, apiErr.Code)
	}
}

func sideOf(s domain.OrderSide) string {
	if s == domain.OrderSideSell {
		return "SELL"
	}
	return "BUY"
}

func sizeOf(f gateway.Filters, quantity float64) (decimal.Decimal, error) {
	qty := f.Quantity(quantity)
	if !qty.IsPositive() {
		return qty, fmt.Errorf("%w: quantity %g below lot size %s", domain.ErrOrderRejected, quantity, f.QtyStep)
	}
	return qty, nil
}

var _ domain.Gateway = (*Client)(nil)
