package gateway

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/pairbot/internal/domain"
)

func TestRegistryDial(t *testing.T) {
	r := NewRegistry()
	var got domain.Credentials
	r.Register("bybit", func(_ context.Context, creds domain.Credentials) (domain.Gateway, error) {
		got = creds
		return nil, nil
	})
	r.Register("binance", func(context.Context, domain.Credentials) (domain.Gateway, error) { return nil, nil })

	assert.Equal(t, []string{"binance", "bybit"}, r.Venues())

	_, err := r.Dial(context.Background(), "bybit", domain.Credentials{APIKey: "k", Testnet: true})
	require.NoError(t, err)
	assert.Equal(t, "k", got.APIKey)
	assert.True(t, got.Testnet)

	_, err = r.Dial(context.Background(), "kraken", domain.Credentials{})
	assert.ErrorIs(t, err, domain.ErrUnknownVenue)
}

func TestSymbol(t *testing.T) {
	assert.Equal(t, "BTCUSDT", Symbol("BTC/USDT"))
	assert.Equal(t, "ETHUSDC", Symbol("eth/usdc"))

	base, quote, err := SplitInstrument("BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, "BTC", base)
	assert.Equal(t, "USDT", quote)

	_, _, err = SplitInstrument("BTCUSDT")
	assert.Error(t, err)
}

func TestFilters(t *testing.T) {
	f := Filters{QtyStep: decimal.RequireFromString("0.001"), TickSize: decimal.RequireFromString("0.10")}
	assert.Equal(t, "0.99", f.Quantity(0.990099).String())
	assert.Equal(t, "0", f.Quantity(0.0009).String())
	assert.Equal(t, "100.7", f.Price(100.69999999).String())
	assert.Equal(t, "98", f.Price(98.01).String())

	var none Filters
	assert.Equal(t, "0.990099", none.Quantity(0.990099009901).String())
}

func TestParseFloat(t *testing.T) {
	v, err := ParseFloat("101.25")
	require.NoError(t, err)
	assert.InDelta(t, 101.25, v, 1e-12)

	v, err = ParseFloat("")
	require.NoError(t, err)
	assert.Zero(t, v)

	_, err = ParseFloat("abc")
	assert.Error(t, err)
}
