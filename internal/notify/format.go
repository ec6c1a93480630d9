package notify

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/pairbot/internal/domain"
)

// OutcomeTitle is a one-line summary such as
// "BTC/USDT binance/bybit: Completed".
func OutcomeTitle(o domain.TradeOutcome) string {
	return fmt.Sprintf("%s %s/%s: %s", o.Intent.Instrument, o.Intent.BaseVenue, o.Intent.QuoteVenue, o.Status)
}

// FormatOutcome renders the legs, conditional orders and diagnostics of o
// as plain text.
func FormatOutcome(o domain.TradeOutcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Trade %s\n", o.ID)
	fmt.Fprintf(&b, "Notional $%.2f at reference %s, quantity %s\n",
		o.Intent.NotionalUSD, num(o.ReferencePrice), num(o.Quantity))
	writeLeg(&b, o.Long)
	writeLeg(&b, o.Short)

	for _, c := range o.Conditionals() {
		fmt.Fprintf(&b, "%s %s: %s %s @ %s (order %s)\n",
			c.Leg, strings.ReplaceAll(string(c.Kind), "_", " "), c.Side, num(c.Quantity), num(c.Price), c.OrderID)
	}
	for _, d := range o.Diagnostics {
		fmt.Fprintf(&b, "! %s\n", d)
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeLeg(b *strings.Builder, l domain.LegResult) {
	if l.Status == "" {
		fmt.Fprintf(b, "%s on %s: not placed\n", l.Leg, l.Venue)
		return
	}
	fmt.Fprintf(b, "%s on %s: %s %s/%s @ %s [%s]\n",
		l.Leg, l.Venue, l.Side, num(l.FilledQuantity), num(l.RequestedQuantity), num(l.AveragePrice), l.Status)
}

func num(v float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.8f", v), "0"), ".")
}
