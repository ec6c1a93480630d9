package domain

import "context"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Opposite returns the side that closes a position opened with s.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// Credentials authenticate one gateway session.
type Credentials struct {
	APIKey    string
	APISecret string
	Testnet   bool
}

// MarketFill is the venue's report of an executed market order.
type MarketFill struct {
	OrderID string
	// SubmittedQuantity is the quantity sent after lot-size rounding. Zero
	// means the requested quantity was sent unchanged.
	SubmittedQuantity float64
	FilledQuantity    float64
	AveragePrice      float64
}

// StopAttributes are venue-specific stop order options. Venues that cannot
// honour a flag return an error wrapping ErrUnsupportedAttribute.
type StopAttributes struct {
	Trailing  bool
	Breakeven bool
	// CallbackPercent is the trailing distance, set when Trailing is true.
	CallbackPercent float64
}

// Gateway is an authenticated session against one trading venue. Every call
// performs at most one remote action and fails fast. Release must be called
// exactly once when the session is no longer needed.
type Gateway interface {
	Venue() string
	FetchPrice(ctx context.Context, instrument string) (float64, error)
	FetchBalances(ctx context.Context) (map[string]float64, error)
	PlaceMarketOrder(ctx context.Context, instrument string, side OrderSide, quantity float64) (MarketFill, error)
	PlaceLimitOrder(ctx context.Context, instrument string, side OrderSide, quantity, price float64) (string, error)
	PlaceStopOrder(ctx context.Context, instrument string, side OrderSide, quantity, stopPrice float64, attrs StopAttributes) (string, error)
	Release() error
}

// GatewayDialer opens a gateway session for a venue.
type GatewayDialer interface {
	Dial(ctx context.Context, venue string, creds Credentials) (Gateway, error)
	Venues() []string
}
