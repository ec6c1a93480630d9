package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Leg identifies one side of a pair trade.
type Leg string

const (
	LegLong  Leg = "long"
	LegShort Leg = "short"
)

// LegStatus is the outcome of one opening order.
type LegStatus string

const (
	LegFilled          LegStatus = "Filled"
	LegPartiallyFilled LegStatus = "PartiallyFilled"
	LegRejected        LegStatus = "Rejected"
	LegGatewayError    LegStatus = "GatewayError"
)

// LegResult reports one opening order.
type LegResult struct {
	Leg               Leg       `json:"leg"`
	Venue             string    `json:"venue"`
	Side              OrderSide `json:"side"`
	RequestedQuantity float64   `json:"requested_quantity"`
	FilledQuantity    float64   `json:"filled_quantity"`
	AveragePrice      float64   `json:"average_price"`
	OrderID           string    `json:"order_id,omitempty"`
	Status            LegStatus `json:"status"`
}

// Open reports whether the leg holds a position.
func (l LegResult) Open() bool {
	return l.FilledQuantity > 0 && (l.Status == LegFilled || l.Status == LegPartiallyFilled)
}

// OrderKind distinguishes conditional orders.
type OrderKind string

const (
	OrderKindTakeProfit OrderKind = "take_profit"
	OrderKindStopLoss   OrderKind = "stop_loss"
)

// ConditionalOrder references a placed take-profit or stop-loss order.
type ConditionalOrder struct {
	Leg      Leg       `json:"leg"`
	Kind     OrderKind `json:"kind"`
	Side     OrderSide `json:"side"`
	Quantity float64   `json:"quantity"`
	Price    float64   `json:"price"`
	OrderID  string    `json:"order_id"`
}

// TradeStatus is the overall result of a pair trade.
type TradeStatus string

const (
	TradeCompleted               TradeStatus = "Completed"
	TradePartiallyOpened         TradeStatus = "PartiallyOpened"
	TradeAborted                 TradeStatus = "Aborted"
	TradeConditionalOrdersFailed TradeStatus = "ConditionalOrdersFailed"
)

// Diagnostic records one failed sub-step. Kind is one of the orchestrator
// sentinels (ErrPriceFetchFailed, ErrOneLegRejected, ...).
type Diagnostic struct {
	Kind    error     `json:"-"`
	Leg     Leg       `json:"leg,omitempty"`
	Order   OrderKind `json:"order,omitempty"`
	Message string    `json:"message"`
}

// String renders the diagnostic for humans.
func (d Diagnostic) String() string {
	prefix := ""
	if d.Kind != nil {
		prefix = d.Kind.Error()
	}
	switch {
	case d.Leg != "" && d.Order != "":
		prefix = fmt.Sprintf("%s [%s %s]", prefix, d.Leg, d.Order)
	case d.Leg != "":
		prefix = fmt.Sprintf("%s [%s]", prefix, d.Leg)
	}
	if prefix == "" {
		return d.Message
	}
	return prefix + ": " + d.Message
}

// Error makes a Diagnostic usable wherever an error is expected.
func (d Diagnostic) Error() string { return d.String() }

// Is lets errors.Is match a diagnostic against its kind.
func (d Diagnostic) Is(target error) bool {
	return d.Kind != nil && errors.Is(d.Kind, target)
}

var diagnosticKinds = []error{
	ErrPriceFetchFailed,
	ErrOneLegRejected,
	ErrBothLegsRejected,
	ErrConditionalOrderFailed,
	ErrGatewayUnavailable,
	ErrPartialFill,
	ErrCancelled,
}

type diagnosticJSON struct {
	Kind    string    `json:"kind"`
	Leg     Leg       `json:"leg,omitempty"`
	Order   OrderKind `json:"order,omitempty"`
	Message string    `json:"message"`
}

// MarshalJSON encodes Kind by its error text.
func (d Diagnostic) MarshalJSON() ([]byte, error) {
	v := diagnosticJSON{Leg: d.Leg, Order: d.Order, Message: d.Message}
	if d.Kind != nil {
		v.Kind = d.Kind.Error()
	}
	return json.Marshal(v)
}

// UnmarshalJSON restores Kind to the matching sentinel when one exists.
func (d *Diagnostic) UnmarshalJSON(b []byte) error {
	var v diagnosticJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*d = Diagnostic{Leg: v.Leg, Order: v.Order, Message: v.Message}
	if v.Kind == "" {
		return nil
	}
	for _, k := range diagnosticKinds {
		if k.Error() == v.Kind {
			d.Kind = k
			return nil
		}
	}
	d.Kind = errors.New(v.Kind)
	return nil
}

// TradeOutcome is the orchestrator's composite report.
type TradeOutcome struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	Intent         PositionIntent `json:"intent"`
	LongPrice      float64        `json:"long_price"`
	ShortPrice     float64        `json:"short_price"`
	ReferencePrice float64        `json:"reference_price"`
	Quantity       float64        `json:"quantity"`
	Long           LegResult      `json:"long"`
	Short          LegResult      `json:"short"`

	LongTakeProfit  *ConditionalOrder `json:"long_take_profit,omitempty"`
	ShortTakeProfit *ConditionalOrder `json:"short_take_profit,omitempty"`
	LongStopLoss    *ConditionalOrder `json:"long_stop_loss,omitempty"`
	ShortStopLoss   *ConditionalOrder `json:"short_stop_loss,omitempty"`

	Status      TradeStatus  `json:"status"`
	Diagnostics []Diagnostic `json:"diagnostics"`
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  time.Time    `json:"finished_at"`
}

// AddDiagnostic appends a failure note.
func (o *TradeOutcome) AddDiagnostic(kind error, leg Leg, order OrderKind, format string, args ...any) {
	o.Diagnostics = append(o.Diagnostics, Diagnostic{
		Kind:    kind,
		Leg:     leg,
		Order:   order,
		Message: fmt.Sprintf(format, args...),
	})
}

// HasDiagnostic reports whether any diagnostic matches kind.
func (o TradeOutcome) HasDiagnostic(kind error) bool {
	for _, d := range o.Diagnostics {
		if d.Is(kind) {
			return true
		}
	}
	return false
}

// Conditionals returns the placed conditional orders in leg order.
func (o TradeOutcome) Conditionals() []ConditionalOrder {
	var out []ConditionalOrder
	for _, c := range []*ConditionalOrder{o.LongTakeProfit, o.LongStopLoss, o.ShortTakeProfit, o.ShortStopLoss} {
		if c != nil {
			out = append(out, *c)
		}
	}
	return out
}
