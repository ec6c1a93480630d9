package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/alanyoungcy/pairbot/internal/domain"
)

type orderCall struct {
	Kind     string
	Side     domain.OrderSide
	Quantity float64
	Price    float64
	Attrs    domain.StopAttributes
}

// fakeGateway scripts venue responses and records every call.
type fakeGateway struct {
	venue string

	price    float64
	priceErr error
	// blockPrice makes FetchPrice wait for ctx to end.
	blockPrice bool

	fill       *domain.MarketFill
	marketErr  error
	blockOrder bool
	panicOn    string

	limitErr error
	stopErr  error

	mu       sync.Mutex
	calls    []orderCall
	releases int
}

func newFakeGateway(venue string, price float64) *fakeGateway {
	return &fakeGateway{venue: venue, price: price}
}

func (f *fakeGateway) Venue() string { return f.venue }

func (f *fakeGateway) FetchPrice(ctx context.Context, _ string) (float64, error) {
	if f.panicOn == "price" {
		panic("price feed exploded")
	}
	if f.blockPrice {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	return f.price, f.priceErr
}

func (f *fakeGateway) FetchBalances(context.Context) (map[string]float64, error) {
	return map[string]float64{"USDT": 1000}, nil
}

func (f *fakeGateway) PlaceMarketOrder(ctx context.Context, _ string, side domain.OrderSide, qty float64) (domain.MarketFill, error) {
	f.record(orderCall{Kind: "market", Side: side, Quantity: qty})
	if f.panicOn == "market" {
		panic("order path exploded")
	}
	if f.blockOrder {
		<-ctx.Done()
		return domain.MarketFill{}, ctx.Err()
	}
	if f.marketErr != nil {
		return domain.MarketFill{}, f.marketErr
	}
	if f.fill != nil {
		return *f.fill, nil
	}
	return domain.MarketFill{OrderID: f.venue + "-mkt", FilledQuantity: qty, AveragePrice: f.price}, nil
}

func (f *fakeGateway) PlaceLimitOrder(_ context.Context, _ string, side domain.OrderSide, qty, price float64) (string, error) {
	f.record(orderCall{Kind: "limit", Side: side, Quantity: qty, Price: price})
	if f.limitErr != nil {
		return "", f.limitErr
	}
	return fmt.Sprintf("%s-tp", f.venue), nil
}

func (f *fakeGateway) PlaceStopOrder(_ context.Context, _ string, side domain.OrderSide, qty, stop float64, attrs domain.StopAttributes) (string, error) {
	f.record(orderCall{Kind: "stop", Side: side, Quantity: qty, Price: stop, Attrs: attrs})
	if f.stopErr != nil {
		return "", f.stopErr
	}
	return fmt.Sprintf("%s-sl", f.venue), nil
}

func (f *fakeGateway) Release() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases++
	return nil
}

func (f *fakeGateway) record(c orderCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *fakeGateway) callsOf(kind string) []orderCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []orderCall
	for _, c := range f.calls {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeGateway) orderCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeGateway) releaseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.releases
}
