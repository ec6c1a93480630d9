// Package bybit implements domain.Gateway against the Bybit v5 REST API for
// linear (USDT) perpetuals.
package bybit

import (
	"bytes"
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
	MainnetURL = "https://api.bybit.com"
	TestnetURL = "https://api-testnet.bybit.com"

	category          = "linear"
	defaultRecvWindow = 5 * time.Second
	defaultTimeout    = 10 * time.Second
)

// Trigger directions for conditional orders.
const (
	triggerRises = 1
	triggerFalls = 2
)

// Config selects endpoints and request limits.
type Config struct {
	BaseURL     string
	TestnetURL  string
	RecvWindow  time.Duration
	Timeout     time.Duration
	AccountType string
}

// NewFactory returns a gateway.Factory for the registry.
func NewFactory(cfg Config, logger *slog.Logger) gateway.Factory {
	return func(_ context.Context, creds domain.Credentials) (domain.Gateway, error) {
		return NewClient(cfg, creds, logger)
	}
}

// Client is one authenticated Bybit session.
type Client struct {
	baseURL     string
	recvWindow  string
	accountType string
	auth        *crypto.HMACAuth
	httpClient  *http.Client
	logger      *slog.Logger
	now         func() time.Time
	released    atomic.Bool

	filtersMu sync.Mutex
	filters   map[string]gateway.Filters
}

// NewClient creates a session. Testnet credentials use the testnet URL.
func NewClient(cfg Config, creds domain.Credentials, logger *slog.Logger) (*Client, error) {
	if creds.APIKey == "" || creds.APISecret == "" {
		return nil, fmt.Errorf("bybit: %w: missing api key or secret", domain.ErrUnauthorized)
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
	if cfg.AccountType == "" {
		cfg.AccountType = "UNIFIED"
	}

	return &Client{
		baseURL:     base,
		recvWindow:  strconv.FormatInt(cfg.RecvWindow.Milliseconds(), 10),
		accountType: cfg.AccountType,
		auth:        &crypto.HMACAuth{Key: creds.APIKey, Secret: creds.APISecret},
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
		},
		logger:  logger.With(slog.String("component", "bybit"), slog.Bool("testnet", creds.Testnet)),
		now:     time.Now,
		filters: make(map[string]gateway.Filters),
	}, nil
}

// Venue implements domain.Gateway.
func (c *Client) Venue() string { return "bybit" }

// FetchPrice returns the last traded price of the instrument.
func (c *Client) FetchPrice(ctx context.Context, instrument string) (float64, error) {
	var res tickersResult
	params := url.Values{"category": {category}, "symbol": {gateway.Symbol(instrument)}}
	if err := c.get(ctx, "/v5/market/tickers", params, false, &res); err != nil {
		return 0, fmt.Errorf("bybit: fetch price %s: %w", instrument, err)
	}
	if len(res.List) == 0 {
		return 0, fmt.Errorf("bybit: fetch price %s: empty ticker list", instrument)
	}
	return gateway.ParseFloat(res.List[0].LastPrice)
}

// FetchBalances returns the wallet balance per coin.
func (c *Client) FetchBalances(ctx context.Context) (map[string]float64, error) {
	var res walletResult
	params := url.Values{"accountType": {c.accountType}}
	if err := c.get(ctx, "/v5/account/wallet-balance", params, true, &res); err != nil {
		return nil, fmt.Errorf("bybit: fetch balances: %w", err)
	}
	out := make(map[string]float64)
	for _, acct := range res.List {
		for _, coin := range acct.Coin {
			v, err := gateway.ParseFloat(coin.WalletBalance)
			if err != nil {
				return nil, err
			}
			out[coin.Coin] += v
		}
	}
	return out, nil
}

// PlaceMarketOrder creates a Market order, then reads back its execution.
// The create endpoint acknowledges without fill data.
func (c *Client) PlaceMarketOrder(ctx context.Context, instrument string, side domain.OrderSide, quantity float64) (domain.MarketFill, error) {
	symbol := gateway.Symbol(instrument)
	f, err := c.symbolFilters(ctx, symbol)
	if err != nil {
		return domain.MarketFill{}, fmt.Errorf("bybit: market order: %w", err)
	}
	qty, err := sizeOf(f, quantity)
	if err != nil {
		return domain.MarketFill{}, fmt.Errorf("bybit: market order: %w", err)
	}

	orderID, err := c.createOrder(ctx, orderRequest{
		Category:  category,
		Symbol:    symbol,
		Side:      sideOf(side),
		OrderType: "Market",
		Qty:       qty.String(),
	})
	if err != nil {
		return domain.MarketFill{}, fmt.Errorf("bybit: market order: %w", err)
	}

	fill, err := c.orderFill(ctx, symbol, orderID, qty)
	if err != nil {
		return fill, fmt.Errorf("bybit: market order %s: %w", orderID, err)
	}
	c.logger.InfoContext(ctx, "market order placed",
		slog.String("symbol", symbol),
		slog.String("side", string(side)),
		slog.String("order_id", orderID),
		slog.Float64("filled", fill.FilledQuantity),
	)
	return fill, nil
}

// PlaceLimitOrder creates a reduce-only GTC Limit order.
func (c *Client) PlaceLimitOrder(ctx context.Context, instrument string, side domain.OrderSide, quantity, price float64) (string, error) {
	symbol := gateway.Symbol(instrument)
	f, err := c.symbolFilters(ctx, symbol)
	if err != nil {
		return "", fmt.Errorf("bybit: limit order: %w", err)
	}
	qty, err := sizeOf(f, quantity)
	if err != nil {
		return "", fmt.Errorf("bybit: limit order: %w", err)
	}

	id, err := c.createOrder(ctx, orderRequest{
		Category:    category,
		Symbol:      symbol,
		Side:        sideOf(side),
		OrderType:   "Limit",
		Qty:         qty.String(),
		Price:       f.Price(price).String(),
		TimeInForce: "GTC",
		ReduceOnly:  true,
	})
	if err != nil {
		return "", fmt.Errorf("bybit: limit order: %w", err)
	}
	return id, nil
}

// PlaceStopOrder creates a reduce-only conditional Market order triggered
// on mark price. Trailing and breakeven stops are position-level settings
// on Bybit and cannot be attached to an order.
func (c *Client) PlaceStopOrder(ctx context.Context, instrument string, side domain.OrderSide, quantity, stopPrice float64, attrs domain.StopAttributes) (string, error) {
	if attrs.Trailing {
		return "", fmt.Errorf("bybit: %w: trailing", domain.ErrUnsupportedAttribute)
	}
	if attrs.Breakeven {
		return "", fmt.Errorf("bybit: %w: breakeven", domain.ErrUnsupportedAttribute)
	}
	symbol := gateway.Symbol(instrument)
	f, err := c.symbolFilters(ctx, symbol)
	if err != nil {
		return "", fmt.Errorf("bybit: stop order: %w", err)
	}
	qty, err := sizeOf(f, quantity)
	if err != nil {
		return "", fmt.Errorf("bybit: stop order: %w", err)
	}

	// A sell stop protects a long and fires as price falls.
	direction := triggerFalls
	if side == domain.OrderSideBuy {
		direction = triggerRises
	}
	id, err := c.createOrder(ctx, orderRequest{
		Category:         category,
		Symbol:           symbol,
		Side:             sideOf(side),
		OrderType:        "Market",
		Qty:              qty.String(),
		ReduceOnly:       true,
		TriggerPrice:     f.Price(stopPrice).String(),
		TriggerDirection: direction,
		TriggerBy:        "MarkPrice",
	})
	if err != nil {
		return "", fmt.Errorf("bybit: stop order: %w", err)
	}
	return id, nil
}

// Release closes idle connections. Later calls fail with gateway.ErrReleased.
func (c *Client) Release() error {
	if c.released.Swap(true) {
		return nil
	}
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) createOrder(ctx context.Context, req orderRequest) (string, error) {
	var res createOrderResult
	if err := c.post(ctx, "/v5/order/create", req, &res); err != nil {
		return "", err
	}
	return res.OrderID, nil
}

// orderFill reads the execution of a just-created market order. Market
// orders on linear contracts fill or cancel immediately; if the order is not
// yet visible the submitted quantity is reported with no average price, and
// the caller falls back to its reference price.
func (c *Client) orderFill(ctx context.Context, symbol, orderID string, qty decimal.Decimal) (domain.MarketFill, error) {
	fill := domain.MarketFill{OrderID: orderID, SubmittedQuantity: qty.InexactFloat64()}

	var res orderQueryResult
	params := url.Values{"category": {category}, "symbol": {symbol}, "orderId": {orderID}}
	if err := c.get(ctx, "/v5/order/realtime", params, true, &res); err != nil || len(res.List) == 0 {
		fill.FilledQuantity = qty.InexactFloat64()
		c.logger.WarnContext(ctx, "order fill unavailable, assuming full fill",
			slog.String("order_id", orderID),
			slog.Any("error", err),
		)
		return fill, nil
	}

	o := res.List[0]
	filled, err := gateway.ParseFloat(o.CumExecQty)
	if err != nil {
		return fill, err
	}
	avg, err := gateway.ParseFloat(o.AvgPrice)
	if err != nil {
		return fill, err
	}
	fill.FilledQuantity, fill.AveragePrice = filled, avg

	switch o.OrderStatus {
	case "Rejected", "Cancelled", "Deactivated":
		if filled == 0 {
			return fill, fmt.Errorf("%w: %s %s", domain.ErrOrderRejected, o.OrderStatus, o.RejectReason)
		}
	case "New", "Created", "Untriggered":
		if filled == 0 {
			fill.FilledQuantity = qty.InexactFloat64()
		}
	}
	return fill, nil
}

func (c *Client) symbolFilters(ctx context.Context, symbol string) (gateway.Filters, error) {
	c.filtersMu.Lock()
	defer c.filtersMu.Unlock()
	if f, ok := c.filters[symbol]; ok {
		return f, nil
	}

	var res instrumentsResult
	params := url.Values{"category": {category}, "symbol": {symbol}}
	if err := c.get(ctx, "/v5/market/instruments-info", params, false, &res); err != nil {
		return gateway.Filters{}, fmt.Errorf("instruments info: %w", err)
	}
	if len(res.List) == 0 {
		return gateway.Filters{}, fmt.Errorf("%w: unknown symbol %s", domain.ErrOrderRejected, symbol)
	}
	var f gateway.Filters
	f.QtyStep, _ = decimal.NewFromString(res.List[0].LotSizeFilter.QtyStep)
	f.TickSize, _ = decimal.NewFromString(res.List[0].PriceFilter.TickSize)
	c.filters[symbol] = f
	return f, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, signed bool, out any) error {
	query := params.Encode()
	fullURL := c.baseURL + path
	if query != "" {
		fullURL += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if signed {
		c.sign(req, query)
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.sign(req, string(payload))
	return c.do(req, out)
}

// sign sets the v5 auth headers. The signed string is
// timestamp + apiKey + recvWindow + (query string | JSON body).
func (c *Client) sign(req *http.Request, payload string) {
	ts := strconv.FormatInt(c.now().UnixMilli(), 10)
	req.Header.Set("X-BAPI-API-KEY", c.auth.Key)
	req.Header.Set("X-BAPI-TIMESTAMP", ts)
	req.Header.Set("X-BAPI-RECV-WINDOW", c.recvWindow)
	req.Header.Set("X-BAPI-SIGN", c.auth.SignHex(ts+c.auth.Key+c.recvWindow+payload))
}

func (c *Client) do(req *http.Request, out any) error {
	if c.released.Load() {
		return gateway.ErrReleased
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", domain.ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: HTTP %d", domain.ErrRateLimited, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(body))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if err := checkRetCode(env); err != nil {
		return err
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

// checkRetCode maps v5 business codes onto domain errors. Anything else
// non-zero is a venue refusal.
func checkRetCode(env envelope) error {
	switch env.RetCode {
	case 0:
		return nil
	case 10003, 10004, 10005, 33004:
		return fmt.Errorf("%w: %s (%d)", domain.ErrUnauthorized, env.RetMsg, env.RetCode)
	case 10006, 10018:
		return fmt.Errorf("%w: %s (%d)", domain.ErrRateLimited, env.RetMsg, env.RetCode)
	case 10016:
		return fmt.Errorf("service error: %s (%d)", env.RetMsg, env.RetCode)
	}
	return fmt.Errorf("%w: %s (%d)", domain.ErrOrderRejected, env.RetMsg, env.RetCode)
}

func sideOf(s domain.OrderSide) string {
	if s == domain.OrderSideSell {
		return "Sell"
	}
	return "Buy"
}

func sizeOf(f gateway.Filters, quantity float64) (decimal.Decimal, error) {
	qty := f.Quantity(quantity)
	if !qty.IsPositive() {
		return qty, fmt.Errorf("%w: quantity %g below lot size %s", domain.ErrOrderRejected, quantity, f.QtyStep)
	}
	return qty, nil
}

func truncate(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}

var _ domain.Gateway = (*Client)(nil)
