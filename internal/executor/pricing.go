package executor

import "github.com/alanyoungcy/pairbot/internal/domain"

// fillTolerance is the relative shortfall below which a fill counts as
// complete. It absorbs float noise only; lot rounding is handled by comparing
// against the submitted quantity.
const fillTolerance = 1e-6

// referencePrice is the midpoint of the two venue prices.
func referencePrice(longPrice, shortPrice float64) float64 {
	return (longPrice + shortPrice) / 2
}

// openingSide is the market side that opens leg.
func openingSide(leg domain.Leg) domain.OrderSide {
	if leg == domain.LegLong {
		return domain.OrderSideBuy
	}
	return domain.OrderSideSell
}

// takeProfitPrice is above entry for a long leg and below it for a short.
func takeProfitPrice(leg domain.Leg, entry, percent float64) float64 {
	if leg == domain.LegLong {
		return entry * (1 + percent/100)
	}
	return entry * (1 - percent/100)
}

// stopLossPrice is below entry for a long leg and above it for a short.
func stopLossPrice(leg domain.Leg, entry, percent float64) float64 {
	if leg == domain.LegLong {
		return entry * (1 - percent/100)
	}
	return entry * (1 + percent/100)
}

// entryPrice prefers the venue's average fill and falls back to the venue's
// reference price when none was reported.
func entryPrice(res domain.LegResult, venuePrice float64) float64 {
	if res.AveragePrice > 0 {
		return res.AveragePrice
	}
	return venuePrice
}

// submittedQuantity is what the venue was actually asked to fill.
func submittedQuantity(requested float64, fill domain.MarketFill) float64 {
	if fill.SubmittedQuantity > 0 {
		return fill.SubmittedQuantity
	}
	return requested
}

func fillStatus(requested, filled float64) domain.LegStatus {
	switch {
	case filled <= 0:
		return domain.LegRejected
	case filled >= requested*(1-fillTolerance):
		return domain.LegFilled
	default:
		return domain.LegPartiallyFilled
	}
}
