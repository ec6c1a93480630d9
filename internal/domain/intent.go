package domain

// TakeProfit closes VolumePercent of each leg once price moves Percent in the
// leg's favour.
type TakeProfit struct {
	Percent       float64 `json:"percent"`
	VolumePercent float64 `json:"volume_percent"`
}

// StopLoss closes each leg in full once price moves Percent against it.
type StopLoss struct {
	Percent   float64 `json:"percent"`
	Trailing  bool    `json:"trailing"`
	Breakeven bool    `json:"breakeven"`
}

// PositionIntent is a validated pair trade request. BaseVenue hosts the long
// leg and QuoteVenue the short leg. Build one with intent.Validator.
type PositionIntent struct {
	BaseVenue   string      `json:"base_venue"`
	QuoteVenue  string      `json:"quote_venue"`
	Instrument  string      `json:"instrument"`
	NotionalUSD float64     `json:"notional_usd"`
	TakeProfit  *TakeProfit `json:"take_profit,omitempty"`
	StopLoss    *StopLoss   `json:"stop_loss,omitempty"`
}

// RawIntent carries user-entered fields before validation. TakeProfit uses
// the "percent volume_percent" form and StopLoss the
// "percent [trailing [breakeven]]" form; empty or "0" disables either.
type RawIntent struct {
	BaseVenue   string `json:"base_venue"`
	QuoteVenue  string `json:"quote_venue"`
	Instrument  string `json:"instrument"`
	NotionalUSD string `json:"notional_usd"`
	TakeProfit  string `json:"take_profit"`
	StopLoss    string `json:"stop_loss"`
}
