package intent

import (
	"errors"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/pairbot/internal/domain"
)

func validRaw() domain.RawIntent {
	return domain.RawIntent{
		BaseVenue:   "Binance",
		QuoteVenue:  " bybit ",
		Instrument:  "btc/usdt",
		NotionalUSD: "100",
	}
}

func TestValidateNormalizes(t *testing.T) {
	got, err := NewValidator().Validate(validRaw())
	require.NoError(t, err)
	assert.Equal(t, domain.PositionIntent{
		BaseVenue:   "binance",
		QuoteVenue:  "bybit",
		Instrument:  "BTC/USDT",
		NotionalUSD: 100,
	}, got)
}

func TestValidateIsDeterministic(t *testing.T) {
	raw := validRaw()
	raw.TakeProfit = "0.7 100"
	raw.StopLoss = "2 1 0"
	v := NewValidator("binance", "bybit")
	a, errA := v.Validate(raw)
	b, errB := v.Validate(raw)
	require.NoError(t, errA)
	require.NoError(t, errB)
	assert.Equal(t, a, b)
}

func TestNormalizeInstrument(t *testing.T) {
	cases := map[string]string{
		"BTC/USDT":    "BTC/USDT",
		" eth / usdt": "ETH/USDT",
		"btcusdt":     "BTC/USDT",
		"ETH USDT":    "ETH/USDT",
		"DOGEUSDT":    "DOG/EUSDT",
		"doge/usdt":   "DOGE/USDT",
		"éthusdt":     "ÉTH/USDT",
		"日本円usdt":     "日本円/USDT",
	}
	for in, want := range cases {
		got, err := NormalizeInstrument(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
		assert.True(t, utf8.ValidString(got), in)
	}

	for _, in := range []string{"", "   ", "BTC", "BTCUS", "ÉTHUS", "/USDT", "BTC/", "A/B/C"} {
		_, err := NormalizeInstrument(in)
		assert.ErrorIs(t, err, domain.ErrValidation, in)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name  string
		mut   func(*domain.RawIntent)
		field string
	}{
		{"missing base", func(r *domain.RawIntent) { r.BaseVenue = " " }, "base_venue"},
		{"missing quote", func(r *domain.RawIntent) { r.QuoteVenue = "" }, "quote_venue"},
		{"same venue", func(r *domain.RawIntent) { r.QuoteVenue = "BINANCE" }, "quote_venue"},
		{"notional text", func(r *domain.RawIntent) { r.NotionalUSD = "a lot" }, "notional_usd"},
		{"notional zero", func(r *domain.RawIntent) { r.NotionalUSD = "0" }, "notional_usd"},
		{"notional negative", func(r *domain.RawIntent) { r.NotionalUSD = "-5" }, "notional_usd"},
		{"notional nan", func(r *domain.RawIntent) { r.NotionalUSD = "NaN" }, "notional_usd"},
		{"notional inf", func(r *domain.RawIntent) { r.NotionalUSD = "+Inf" }, "notional_usd"},
		{"tp one field", func(r *domain.RawIntent) { r.TakeProfit = "0.7" }, "take_profit"},
		{"tp three fields", func(r *domain.RawIntent) { r.TakeProfit = "0.7 50 1" }, "take_profit"},
		{"tp text", func(r *domain.RawIntent) { r.TakeProfit = "x 50" }, "take_profit.percent"},
		{"tp negative", func(r *domain.RawIntent) { r.TakeProfit = "-1 50" }, "take_profit.percent"},
		{"tp at 100", func(r *domain.RawIntent) { r.TakeProfit = "100 50" }, "take_profit.percent"},
		{"tp over 100", func(r *domain.RawIntent) { r.TakeProfit = "150 100" }, "take_profit.percent"},
		{"tp volume zero", func(r *domain.RawIntent) { r.TakeProfit = "1 0" }, "take_profit.volume_percent"},
		{"tp volume over", func(r *domain.RawIntent) { r.TakeProfit = "1 150" }, "take_profit.volume_percent"},
		{"sl text", func(r *domain.RawIntent) { r.StopLoss = "abc" }, "stop_loss.percent"},
		{"sl negative", func(r *domain.RawIntent) { r.StopLoss = "-2" }, "stop_loss.percent"},
		{"sl hundred", func(r *domain.RawIntent) { r.StopLoss = "100" }, "stop_loss.percent"},
		{"sl bad flag", func(r *domain.RawIntent) { r.StopLoss = "2 yes" }, "stop_loss.trailing"},
		{"sl bad breakeven", func(r *domain.RawIntent) { r.StopLoss = "2 0 2" }, "stop_loss.breakeven"},
		{"sl too many", func(r *domain.RawIntent) { r.StopLoss = "2 0 0 0" }, "stop_loss"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw := validRaw()
			tc.mut(&raw)
			_, err := NewValidator().Validate(raw)
			require.ErrorIs(t, err, domain.ErrValidation)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestValidateUnsupportedVenue(t *testing.T) {
	raw := validRaw()
	raw.QuoteVenue = "kraken"
	_, err := NewValidator("binance", "bybit").Validate(raw)
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Contains(t, err.Error(), "binance, bybit")
}

func TestValidateConditionals(t *testing.T) {
	raw := validRaw()
	raw.TakeProfit = " 0.7   100 "
	raw.StopLoss = "2.0 1 0"

	got, err := NewValidator().Validate(raw)
	require.NoError(t, err)
	require.NotNil(t, got.TakeProfit)
	assert.Equal(t, domain.TakeProfit{Percent: 0.7, VolumePercent: 100}, *got.TakeProfit)
	require.NotNil(t, got.StopLoss)
	assert.Equal(t, domain.StopLoss{Percent: 2, Trailing: true}, *got.StopLoss)

	raw.TakeProfit = "0"
	raw.StopLoss = "1.5"
	got, err = NewValidator().Validate(raw)
	require.NoError(t, err)
	assert.Nil(t, got.TakeProfit)
	assert.Equal(t, domain.StopLoss{Percent: 1.5}, *got.StopLoss)

	raw.StopLoss = "3 0 1"
	got, err = NewValidator().Validate(raw)
	require.NoError(t, err)
	assert.Equal(t, domain.StopLoss{Percent: 3, Breakeven: true}, *got.StopLoss)
}
