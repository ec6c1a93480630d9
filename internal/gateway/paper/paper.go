// Package paper is a simulated venue. Market orders fill in full at the
// configured price and conditional orders are acknowledged without being
// worked. It backs dry runs of the whole trade path.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/alanyoungcy/pairbot/internal/domain"
	"github.com/alanyoungcy/pairbot/internal/gateway"
	"github.com/alanyoungcy/pairbot/internal/id"
)

// Venue is the default venue name.
const Venue = "paper"

// Fill is a simulated execution.
type Fill struct {
	OrderID    string
	Instrument string
	Side       domain.OrderSide
	Quantity   float64
	Price      float64
}

// Order is an acknowledged conditional order.
type Order struct {
	OrderID    string
	Instrument string
	Side       domain.OrderSide
	Quantity   float64
	Price      float64
	Stop       bool
	Attrs      domain.StopAttributes
}

// Exchange is the shared book behind every paper session.
type Exchange struct {
	mu       sync.Mutex
	venue    string
	prices   map[string]float64
	balances map[string]float64
	fills    []Fill
	orders   []Order
	logger   *slog.Logger
}

// NewExchange creates a book quoting prices (keyed "BASE/QUOTE") and
// reporting balances to every session.
func NewExchange(prices, balances map[string]float64, logger *slog.Logger) *Exchange {
	e := &Exchange{
		venue:    Venue,
		prices:   make(map[string]float64, len(prices)),
		balances: make(map[string]float64, len(balances)),
		logger:   logger.With(slog.String("component", "paper")),
	}
	for k, v := range prices {
		e.prices[gateway.Symbol(k)] = v
	}
	for k, v := range balances {
		e.balances[k] = v
	}
	return e
}

// WithVenue sets the name sessions report, so a paper book can stand in
// for a real venue in dry runs.
func (e *Exchange) WithVenue(name string) *Exchange {
	e.venue = name
	return e
}

// SetPrice updates the quote for instrument.
func (e *Exchange) SetPrice(instrument string, price float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prices[gateway.Symbol(instrument)] = price
}

// Fills returns a copy of the executions so far.
func (e *Exchange) Fills() []Fill {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Fill(nil), e.fills...)
}

// Orders returns a copy of the acknowledged conditional orders.
func (e *Exchange) Orders() []Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Order(nil), e.orders...)
}

// Factory returns a gateway.Factory opening sessions on e. Any non-empty
// key pair is accepted.
func (e *Exchange) Factory() gateway.Factory {
	return func(_ context.Context, creds domain.Credentials) (domain.Gateway, error) {
		if creds.APIKey == "" || creds.APISecret == "" {
			return nil, fmt.Errorf("paper: %w: missing api key or secret", domain.ErrUnauthorized)
		}
		return &session{exchange: e}, nil
	}
}

func (e *Exchange) price(instrument string) (float64, error) {
	p, ok := e.prices[gateway.Symbol(instrument)]
	if !ok {
		return 0, fmt.Errorf("%w: no price for %s", domain.ErrOrderRejected, instrument)
	}
	return p, nil
}

type session struct {
	exchange *Exchange
	released atomic.Bool
}

func (s *session) Venue() string { return s.exchange.venue }

func (s *session) FetchPrice(_ context.Context, instrument string) (float64, error) {
	if s.released.Load() {
		return 0, gateway.ErrReleased
	}
	s.exchange.mu.Lock()
	defer s.exchange.mu.Unlock()
	p, ok := s.exchange.prices[gateway.Symbol(instrument)]
	if !ok {
		return 0, fmt.Errorf("paper: no price for %s", instrument)
	}
	return p, nil
}

func (s *session) FetchBalances(context.Context) (map[string]float64, error) {
	if s.released.Load() {
		return nil, gateway.ErrReleased
	}
	s.exchange.mu.Lock()
	defer s.exchange.mu.Unlock()
	out := make(map[string]float64, len(s.exchange.balances))
	for k, v := range s.exchange.balances {
		out[k] = v
	}
	return out, nil
}

func (s *session) PlaceMarketOrder(ctx context.Context, instrument string, side domain.OrderSide, quantity float64) (domain.MarketFill, error) {
	if s.released.Load() {
		return domain.MarketFill{}, gateway.ErrReleased
	}
	if quantity <= 0 {
		return domain.MarketFill{}, fmt.Errorf("paper: %w: quantity %g", domain.ErrOrderRejected, quantity)
	}
	e := s.exchange
	e.mu.Lock()
	defer e.mu.Unlock()
	price, err := e.price(instrument)
	if err != nil {
		return domain.MarketFill{}, fmt.Errorf("paper: market order: %w", err)
	}
	f := Fill{OrderID: id.New(), Instrument: instrument, Side: side, Quantity: quantity, Price: price}
	e.fills = append(e.fills, f)

	e.logger.InfoContext(ctx, "paper order filled",
		slog.String("order_id", f.OrderID),
		slog.String("instrument", instrument),
		slog.String("side", string(side)),
		slog.Float64("quantity", quantity),
		slog.Float64("price", price),
	)
	return domain.MarketFill{OrderID: f.OrderID, SubmittedQuantity: quantity, FilledQuantity: quantity, AveragePrice: price}, nil
}

func (s *session) PlaceLimitOrder(_ context.Context, instrument string, side domain.OrderSide, quantity, price float64) (string, error) {
	return s.rest(Order{Instrument: instrument, Side: side, Quantity: quantity, Price: price})
}

func (s *session) PlaceStopOrder(_ context.Context, instrument string, side domain.OrderSide, quantity, stopPrice float64, attrs domain.StopAttributes) (string, error) {
	return s.rest(Order{Instrument: instrument, Side: side, Quantity: quantity, Price: stopPrice, Stop: true, Attrs: attrs})
}

func (s *session) rest(o Order) (string, error) {
	if s.released.Load() {
		return "", gateway.ErrReleased
	}
	if o.Quantity <= 0 || o.Price <= 0 {
		return "", fmt.Errorf("paper: %w: quantity %g price %g", domain.ErrOrderRejected, o.Quantity, o.Price)
	}
	o.OrderID = id.New()
	s.exchange.mu.Lock()
	s.exchange.orders = append(s.exchange.orders, o)
	s.exchange.mu.Unlock()
	return o.OrderID, nil
}

func (s *session) Release() error {
	s.released.Store(true)
	return nil
}
