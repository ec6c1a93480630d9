package gateway

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Symbol converts "BTC/USDT" to the concatenated form "BTCUSDT" used by
// perpetual futures venues.
func Symbol(instrument string) string {
	return strings.ReplaceAll(strings.ToUpper(instrument), "/", "")
}

// SplitInstrument returns the base and quote assets of "BASE/QUOTE".
func SplitInstrument(instrument string) (base, quote string, err error) {
	base, quote, ok := strings.Cut(instrument, "/")
	if !ok || base == "" || quote == "" {
		return "", "", fmt.Errorf("gateway: malformed instrument %q", instrument)
	}
	return base, quote, nil
}

// Filters are a symbol's order size and price increments.
type Filters struct {
	QtyStep  decimal.Decimal
	TickSize decimal.Decimal
}

// Quantity rounds q down to the lot step. A zero step leaves q untouched
// apart from trimming to eight decimals.
func (f Filters) Quantity(q float64) decimal.Decimal {
	d := decimal.NewFromFloat(q)
	if f.QtyStep.IsPositive() {
		return d.Div(f.QtyStep).Floor().Mul(f.QtyStep)
	}
	return d.Truncate(8)
}

// Price rounds p to the nearest tick.
func (f Filters) Price(p float64) decimal.Decimal {
	d := decimal.NewFromFloat(p)
	if f.TickSize.IsPositive() {
		return d.Div(f.TickSize).Round(0).Mul(f.TickSize)
	}
	return d.Round(8)
}

// ParseFloat reads a venue decimal string. Empty strings read as zero.
func ParseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("gateway: parse decimal %q: %w", s, err)
	}
	return d.InexactFloat64(), nil
}
