// Package intent turns raw user input into a validated domain.PositionIntent.
// Validation performs no I/O and is deterministic.
package intent

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/alanyoungcy/pairbot/internal/domain"
)

// ValidationError names the offending field. It wraps domain.ErrValidation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", domain.ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return domain.ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Validator checks raw intents. The zero value accepts any venue name.
type Validator struct {
	venues map[string]struct{}
}

// NewValidator restricts venues to the supported set. With no arguments
// every non-empty venue name is accepted.
func NewValidator(supported ...string) *Validator {
	v := &Validator{}
	if len(supported) > 0 {
		v.venues = make(map[string]struct{}, len(supported))
		for _, s := range supported {
			v.venues[normalizeVenue(s)] = struct{}{}
		}
	}
	return v
}

// Validate returns the normalized intent or a *ValidationError.
func (v *Validator) Validate(raw domain.RawIntent) (domain.PositionIntent, error) {
	base, err := v.venue("base_venue", raw.BaseVenue)
	if err != nil {
		return domain.PositionIntent{}, err
	}
	quote, err := v.venue("quote_venue", raw.QuoteVenue)
	if err != nil {
		return domain.PositionIntent{}, err
	}
	if base == quote {
		return domain.PositionIntent{}, invalid("quote_venue", "must differ from base_venue %q", base)
	}

	instrument, err := NormalizeInstrument(raw.Instrument)
	if err != nil {
		return domain.PositionIntent{}, err
	}

	notional, err := parsePositive("notional_usd", raw.NotionalUSD)
	if err != nil {
		return domain.PositionIntent{}, err
	}

	tp, err := parseTakeProfit(raw.TakeProfit)
	if err != nil {
		return domain.PositionIntent{}, err
	}
	sl, err := parseStopLoss(raw.StopLoss)
	if err != nil {
		return domain.PositionIntent{}, err
	}

	return domain.PositionIntent{
		BaseVenue:   base,
		QuoteVenue:  quote,
		Instrument:  instrument,
		NotionalUSD: notional,
		TakeProfit:  tp,
		StopLoss:    sl,
	}, nil
}

func (v *Validator) venue(field, raw string) (string, error) {
	name := normalizeVenue(raw)
	if name == "" {
		return "", invalid(field, "is required")
	}
	if v.venues == nil {
		return name, nil
	}
	if _, ok := v.venues[name]; !ok {
		return "", invalid(field, "unsupported venue %q (supported: %s)", name, strings.Join(v.supported(), ", "))
	}
	return name, nil
}

func (v *Validator) supported() []string {
	out := make([]string, 0, len(v.venues))
	for name := range v.venues {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func normalizeVenue(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeInstrument upper-cases the symbol, strips whitespace and makes
// sure it has the BASE/QUOTE form. A bare symbol of six or more characters
// is split after the third character (rune, not byte), so "BTCUSDT" becomes "BTC/USDT" but
// "DOGEUSDT" becomes "DOG/EUSDT"; pass an explicit separator for bases that
// are not three characters long.
func NormalizeInstrument(raw string) (string, error) {
	s := strings.ToUpper(strings.Join(strings.Fields(raw), ""))
	if s == "" {
		return "", invalid("instrument", "is required")
	}
	if !strings.Contains(s, "/") {
		r := []rune(s)
		if len(r) < 6 {
			return "", invalid("instrument", "%q has no BASE/QUOTE separator", s)
		}
		s = string(r[:3]) + "/" + string(r[3:])
	}
	base, quote, _ := strings.Cut(s, "/")
	if base == "" || quote == "" || strings.Contains(quote, "/") {
		return "", invalid("instrument", "%q is not of the form BASE/QUOTE", s)
	}
	return s, nil
}

func parseNumber(field, raw string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, invalid(field, "%q is not a number", raw)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, invalid(field, "must be finite")
	}
	return f, nil
}

func parsePositive(field, raw string) (float64, error) {
	f, err := parseNumber(field, raw)
	if err != nil {
		return 0, err
	}
	if f <= 0 {
		return 0, invalid(field, "must be greater than zero")
	}
	return f, nil
}

func disabled(text string) bool {
	t := strings.TrimSpace(text)
	return t == "" || t == "0"
}

// parseTakeProfit accepts "percent volume_percent", e.g. "0.7 100".
func parseTakeProfit(text string) (*domain.TakeProfit, error) {
	if disabled(text) {
		return nil, nil
	}
	parts := strings.Fields(text)
	if len(parts) != 2 {
		return nil, invalid("take_profit", "expected \"percent volume_percent\", got %q", text)
	}
	pct, err := parsePositive("take_profit.percent", parts[0])
	if err != nil {
		return nil, err
	}
	if pct >= 100 {
		return nil, invalid("take_profit.percent", "must be below 100")
	}
	vol, err := parsePositive("take_profit.volume_percent", parts[1])
	if err != nil {
		return nil, err
	}
	if vol > 100 {
		return nil, invalid("take_profit.volume_percent", "must be at most 100")
	}
	return &domain.TakeProfit{Percent: pct, VolumePercent: vol}, nil
}

// parseStopLoss accepts "percent [trailing [breakeven]]" with 0/1 flags,
// e.g. "2.0 1 0".
func parseStopLoss(text string) (*domain.StopLoss, error) {
	if disabled(text) {
		return nil, nil
	}
	parts := strings.Fields(text)
	if len(parts) > 3 {
		return nil, invalid("stop_loss", "expected \"percent [trailing [breakeven]]\", got %q", text)
	}
	pct, err := parsePositive("stop_loss.percent", parts[0])
	if err != nil {
		return nil, err
	}
	if pct >= 100 {
		return nil, invalid("stop_loss.percent", "must be below 100")
	}
	sl := &domain.StopLoss{Percent: pct}
	if len(parts) > 1 {
		if sl.Trailing, err = parseFlag("stop_loss.trailing", parts[1]); err != nil {
			return nil, err
		}
	}
	if len(parts) > 2 {
		if sl.Breakeven, err = parseFlag("stop_loss.breakeven", parts[2]); err != nil {
			return nil, err
		}
	}
	return sl, nil
}

func parseFlag(field, s string) (bool, error) {
	switch s {
	case "0":
		return false, nil
	case "1":
		return true, nil
	}
	return false, invalid(field, "expected 0 or 1, got %q", s)
}
