package paper

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/pairbot/internal/domain"
	"github.com/alanyoungcy/pairbot/internal/gateway"
)

func newExchange() *Exchange {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewExchange(map[string]float64{"BTC/USDT": 100}, map[string]float64{"USDT": 1000}, logger)
}

func TestMarketOrderFillsAtPrice(t *testing.T) {
	ex := newExchange()
	gw, err := ex.Factory()(context.Background(), domain.Credentials{APIKey: "k", APISecret: "s"})
	require.NoError(t, err)

	price, err := gw.FetchPrice(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, 100.0, price)

	ex.SetPrice("BTC/USDT", 101)
	fill, err := gw.PlaceMarketOrder(context.Background(), "BTC/USDT", domain.OrderSideBuy, 2)
	require.NoError(t, err)
	assert.Equal(t, 2.0, fill.FilledQuantity)
	assert.Equal(t, 101.0, fill.AveragePrice)
	assert.NotEmpty(t, fill.OrderID)
	require.Len(t, ex.Fills(), 1)

	_, err = gw.PlaceMarketOrder(context.Background(), "ETH/USDT", domain.OrderSideBuy, 1)
	assert.ErrorIs(t, err, domain.ErrOrderRejected)
}

func TestConditionalOrdersAcknowledged(t *testing.T) {
	ex := newExchange()
	gw, err := ex.Factory()(context.Background(), domain.Credentials{APIKey: "k", APISecret: "s"})
	require.NoError(t, err)

	_, err = gw.PlaceLimitOrder(context.Background(), "BTC/USDT", domain.OrderSideSell, 1, 110)
	require.NoError(t, err)
	_, err = gw.PlaceStopOrder(context.Background(), "BTC/USDT", domain.OrderSideSell, 1, 90, domain.StopAttributes{Trailing: true})
	require.NoError(t, err)

	orders := ex.Orders()
	require.Len(t, orders, 2)
	assert.False(t, orders[0].Stop)
	assert.True(t, orders[1].Stop)
	assert.True(t, orders[1].Attrs.Trailing)
}

func TestSessionRules(t *testing.T) {
	ex := newExchange()
	_, err := ex.Factory()(context.Background(), domain.Credentials{})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	gw, err := ex.Factory()(context.Background(), domain.Credentials{APIKey: "k", APISecret: "s"})
	require.NoError(t, err)
	balances, err := gw.FetchBalances(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1000.0, balances["USDT"])

	require.NoError(t, gw.Release())
	_, err = gw.FetchPrice(context.Background(), "BTC/USDT")
	assert.ErrorIs(t, err, gateway.ErrReleased)
}

func TestWithVenue(t *testing.T) {
	creds := domain.Credentials{APIKey: "k", APISecret: "s"}

	gw, err := newExchange().Factory()(context.Background(), creds)
	require.NoError(t, err)
	assert.Equal(t, Venue, gw.Venue())

	gw, err = newExchange().WithVenue("binance").Factory()(context.Background(), creds)
	require.NoError(t, err)
	assert.Equal(t, "binance", gw.Venue())
}
