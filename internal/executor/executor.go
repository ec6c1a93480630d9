// Package executor opens paired long/short positions across two venues and
// attaches take-profit and stop-loss orders to them.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/pairbot/internal/domain"
	"github.com/alanyoungcy/pairbot/internal/id"
)

const (
	defaultOpenDeadline        = 15 * time.Second
	defaultConditionalDeadline = 15 * time.Second
)

// Config bounds the remote phases of a pair trade. OpenDeadline covers
// reference pricing plus leg placement; ConditionalDeadline covers
// take-profit and stop-loss placement.
type Config struct {
	OpenDeadline        time.Duration
	ConditionalDeadline time.Duration
}

// Option configures a PairExecutor.
type Option func(*PairExecutor)

// WithIDFunc overrides outcome id generation.
func WithIDFunc(f func() string) Option {
	return func(e *PairExecutor) { e.newID = f }
}

// WithClock overrides the timestamp source for StartedAt/FinishedAt.
func WithClock(now func() time.Time) Option {
	return func(e *PairExecutor) { e.now = now }
}

// PairExecutor runs pair trades. It holds no per-trade state and may be
// shared between goroutines.
type PairExecutor struct {
	cfg    Config
	newID  func() string
	now    func() time.Time
	logger *slog.Logger
}

// NewPairExecutor creates a PairExecutor. Zero deadlines take the defaults.
func NewPairExecutor(cfg Config, logger *slog.Logger, opts ...Option) *PairExecutor {
	if cfg.OpenDeadline <= 0 {
		cfg.OpenDeadline = defaultOpenDeadline
	}
	if cfg.ConditionalDeadline <= 0 {
		cfg.ConditionalDeadline = defaultConditionalDeadline
	}
	e := &PairExecutor{
		cfg:    cfg,
		newID:  id.New,
		now:    time.Now,
		logger: logger.With(slog.String("component", "pair_executor")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute opens a long leg on long and a short leg on short for the intent,
// then places its conditional orders. Every remote failure is recorded as a
// diagnostic on the returned outcome. Both gateways are released exactly
// once before Execute returns, whatever happened.
func (e *PairExecutor) Execute(ctx context.Context, in domain.PositionIntent, long, short domain.Gateway) (out domain.TradeOutcome) {
	out = domain.TradeOutcome{
		ID:        e.newID(),
		Intent:    in,
		Status:    domain.TradeAborted,
		StartedAt: e.now().UTC(),
		Long:      domain.LegResult{Leg: domain.LegLong, Venue: in.BaseVenue, Side: openingSide(domain.LegLong)},
		Short:     domain.LegResult{Leg: domain.LegShort, Venue: in.QuoteVenue, Side: openingSide(domain.LegShort)},
	}
	log := e.logger.With(
		slog.String("outcome_id", out.ID),
		slog.String("instrument", in.Instrument),
		slog.String("long_venue", in.BaseVenue),
		slog.String("short_venue", in.QuoteVenue),
	)

	defer func() {
		if r := recover(); r != nil {
			out.AddDiagnostic(domain.ErrGatewayUnavailable, "", "", "internal error: %v", r)
			log.Error("pair trade panicked", slog.Any("panic", r))
		}
		e.release(log, long, short)
		out.FinishedAt = e.now().UTC()
		log.Info("pair trade finished",
			slog.String("status", string(out.Status)),
			slog.Float64("quantity", out.Quantity),
			slog.Int("diagnostics", len(out.Diagnostics)),
		)
	}()

	if long == nil || short == nil {
		out.AddDiagnostic(domain.ErrGatewayUnavailable, "", "", "gateway handle missing")
		return out
	}

	deadline := time.Now().Add(e.cfg.OpenDeadline)
	openCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	if !e.fetchPrices(openCtx, &out, long, short) {
		return out
	}
	if ctx.Err() != nil {
		out.AddDiagnostic(domain.ErrCancelled, "", "", "cancelled before leg submission: %v", ctx.Err())
		return out
	}
	if openCtx.Err() != nil {
		out.AddDiagnostic(domain.ErrGatewayUnavailable, "", "", "open deadline of %s exceeded before leg submission", e.cfg.OpenDeadline)
		return out
	}

	out.ReferencePrice = referencePrice(out.LongPrice, out.ShortPrice)
	out.Quantity = in.NotionalUSD / out.ReferencePrice
	out.Long.RequestedQuantity = out.Quantity
	out.Short.RequestedQuantity = out.Quantity
	log.Info("submitting legs",
		slog.Float64("reference_price", out.ReferencePrice),
		slog.Float64("quantity", out.Quantity),
	)

	// Submitted orders cannot be recalled, so the legs ignore caller
	// cancellation but keep the open deadline.
	legCtx, cancelLegs := context.WithDeadline(context.WithoutCancel(ctx), deadline)
	defer cancelLegs()
	longErr, shortErr := e.openLegs(legCtx, &out, long, short)
	e.evaluate(&out, longErr, shortErr)

	if out.Status != domain.TradeCompleted || (in.TakeProfit == nil && in.StopLoss == nil) {
		return out
	}

	condCtx, cancelCond := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.ConditionalDeadline)
	defer cancelCond()
	e.placeConditionals(condCtx, &out, long, short)
	return out
}

// fetchPrices reports whether both reference prices are usable.
func (e *PairExecutor) fetchPrices(ctx context.Context, out *domain.TradeOutcome, long, short domain.Gateway) bool {
	instrument := out.Intent.Instrument
	var (
		longPrice, shortPrice float64
		longErr, shortErr     error
		g                     errgroup.Group
	)
	g.Go(func() error {
		longPrice, longErr = fetchPrice(ctx, long, instrument)
		return nil
	})
	g.Go(func() error {
		shortPrice, shortErr = fetchPrice(ctx, short, instrument)
		return nil
	})
	_ = g.Wait()

	out.LongPrice, out.ShortPrice = longPrice, shortPrice
	if longErr != nil {
		out.AddDiagnostic(classify(longErr, domain.ErrPriceFetchFailed), domain.LegLong, "",
			"%s price on %s: %v", instrument, out.Long.Venue, longErr)
	}
	if shortErr != nil {
		out.AddDiagnostic(classify(shortErr, domain.ErrPriceFetchFailed), domain.LegShort, "",
			"%s price on %s: %v", instrument, out.Short.Venue, shortErr)
	}
	return longErr == nil && shortErr == nil
}

func fetchPrice(ctx context.Context, gw domain.Gateway, instrument string) (float64, error) {
	price, err := protect(func() (float64, error) { return gw.FetchPrice(ctx, instrument) })
	if err != nil {
		return 0, err
	}
	if !(price > 0) {
		return 0, fmt.Errorf("venue returned non-positive price %v", price)
	}
	return price, nil
}

func (e *PairExecutor) openLegs(ctx context.Context, out *domain.TradeOutcome, long, short domain.Gateway) (longErr, shortErr error) {
	instrument := out.Intent.Instrument
	var g errgroup.Group
	g.Go(func() error {
		out.Long, longErr = placeLeg(ctx, long, instrument, out.Long)
		return nil
	})
	g.Go(func() error {
		out.Short, shortErr = placeLeg(ctx, short, instrument, out.Short)
		return nil
	})
	_ = g.Wait()
	return longErr, shortErr
}

func placeLeg(ctx context.Context, gw domain.Gateway, instrument string, res domain.LegResult) (domain.LegResult, error) {
	fill, err := protect(func() (domain.MarketFill, error) {
		return gw.PlaceMarketOrder(ctx, instrument, res.Side, res.RequestedQuantity)
	})
	if err != nil {
		res.Status = domain.LegGatewayError
		if errors.Is(err, domain.ErrOrderRejected) {
			res.Status = domain.LegRejected
		}
		return res, err
	}

	res.OrderID = fill.OrderID
	res.FilledQuantity = fill.FilledQuantity
	res.AveragePrice = fill.AveragePrice
	res.Status = fillStatus(submittedQuantity(res.RequestedQuantity, fill), fill.FilledQuantity)
	if res.Status == domain.LegRejected {
		return res, fmt.Errorf("%w: order %s reported no fill", domain.ErrOrderRejected, fill.OrderID)
	}
	return res, nil
}

func (e *PairExecutor) evaluate(out *domain.TradeOutcome, longErr, shortErr error) {
	longOpen, shortOpen := out.Long.Open(), out.Short.Open()

	switch {
	case longOpen && shortOpen:
		out.Status = domain.TradeCompleted
		for _, leg := range []domain.LegResult{out.Long, out.Short} {
			if leg.Status == domain.LegPartiallyFilled {
				out.AddDiagnostic(domain.ErrPartialFill, leg.Leg, "",
					"%s leg on %s filled %g of %g", leg.Leg, leg.Venue, leg.FilledQuantity, leg.RequestedQuantity)
			}
		}

	case longOpen || shortOpen:
		out.Status = domain.TradePartiallyOpened
		open, failed, cause := out.Long, out.Short, shortErr
		if shortOpen {
			open, failed, cause = out.Short, out.Long, longErr
		}
		out.AddDiagnostic(domain.ErrOneLegRejected, failed.Leg, "",
			"%s leg on %s not opened (%s): %v; one-sided exposure: %s %g %s open on %s, no automatic unwind",
			failed.Leg, failed.Venue, failed.Status, cause,
			open.Leg, open.FilledQuantity, out.Intent.Instrument, open.Venue)
		addUnavailable(out, failed, cause)

	default:
		out.Status = domain.TradeAborted
		out.AddDiagnostic(domain.ErrBothLegsRejected, "", "",
			"long leg on %s (%s): %v; short leg on %s (%s): %v",
			out.Long.Venue, out.Long.Status, longErr, out.Short.Venue, out.Short.Status, shortErr)
		addUnavailable(out, out.Long, longErr)
		addUnavailable(out, out.Short, shortErr)
	}
}

// addUnavailable notes a leg whose outcome is unknown because the venue did
// not answer in time.
func addUnavailable(out *domain.TradeOutcome, leg domain.LegResult, cause error) {
	if classify(cause, nil) == domain.ErrGatewayUnavailable {
		out.AddDiagnostic(domain.ErrGatewayUnavailable, leg.Leg, "",
			"%s did not confirm the %s order before the deadline; check the venue for an open position", leg.Venue, leg.Leg)
	}
}

type conditionalTask struct {
	gw    domain.Gateway
	leg   domain.LegResult
	kind  domain.OrderKind
	entry float64
	slot  **domain.ConditionalOrder
	err   error
}

func (e *PairExecutor) placeConditionals(ctx context.Context, out *domain.TradeOutcome, long, short domain.Gateway) {
	in := out.Intent
	longEntry := entryPrice(out.Long, out.LongPrice)
	shortEntry := entryPrice(out.Short, out.ShortPrice)

	var tasks []*conditionalTask
	if in.TakeProfit != nil {
		tasks = append(tasks,
			&conditionalTask{gw: long, leg: out.Long, kind: domain.OrderKindTakeProfit, entry: longEntry, slot: &out.LongTakeProfit},
			&conditionalTask{gw: short, leg: out.Short, kind: domain.OrderKindTakeProfit, entry: shortEntry, slot: &out.ShortTakeProfit},
		)
	}
	if in.StopLoss != nil {
		tasks = append(tasks,
			&conditionalTask{gw: long, leg: out.Long, kind: domain.OrderKindStopLoss, entry: longEntry, slot: &out.LongStopLoss},
			&conditionalTask{gw: short, leg: out.Short, kind: domain.OrderKindStopLoss, entry: shortEntry, slot: &out.ShortStopLoss},
		)
	}

	var g errgroup.Group
	for _, t := range tasks {
		g.Go(func() error {
			t.err = placeConditional(ctx, in, t)
			return nil
		})
	}
	_ = g.Wait()

	for _, t := range tasks {
		if t.err == nil {
			continue
		}
		out.Status = domain.TradeConditionalOrdersFailed
		out.AddDiagnostic(domain.ErrConditionalOrderFailed, t.leg.Leg, t.kind,
			"%s %s on %s: %v", t.leg.Leg, t.kind, t.leg.Venue, t.err)
	}
}

func placeConditional(ctx context.Context, in domain.PositionIntent, t *conditionalTask) error {
	order := domain.ConditionalOrder{
		Leg:  t.leg.Leg,
		Kind: t.kind,
		Side: t.leg.Side.Opposite(),
	}

	var (
		orderID string
		err     error
	)
	switch t.kind {
	case domain.OrderKindTakeProfit:
		order.Quantity = t.leg.FilledQuantity * in.TakeProfit.VolumePercent / 100
		order.Price = takeProfitPrice(t.leg.Leg, t.entry, in.TakeProfit.Percent)
		orderID, err = protect(func() (string, error) {
			return t.gw.PlaceLimitOrder(ctx, in.Instrument, order.Side, order.Quantity, order.Price)
		})
	case domain.OrderKindStopLoss:
		order.Quantity = t.leg.FilledQuantity
		order.Price = stopLossPrice(t.leg.Leg, t.entry, in.StopLoss.Percent)
		attrs := domain.StopAttributes{
			Trailing:  in.StopLoss.Trailing,
			Breakeven: in.StopLoss.Breakeven,
		}
		if attrs.Trailing {
			attrs.CallbackPercent = in.StopLoss.Percent
		}
		orderID, err = protect(func() (string, error) {
			return t.gw.PlaceStopOrder(ctx, in.Instrument, order.Side, order.Quantity, order.Price, attrs)
		})
	default:
		return fmt.Errorf("unknown order kind %q", t.kind)
	}
	if err != nil {
		return err
	}

	order.OrderID = orderID
	*t.slot = &order
	return nil
}

func (e *PairExecutor) release(log *slog.Logger, long, short domain.Gateway) {
	for leg, gw := range map[domain.Leg]domain.Gateway{domain.LegLong: long, domain.LegShort: short} {
		if gw == nil {
			continue
		}
		_, err := protect(func() (struct{}, error) { return struct{}{}, gw.Release() })
		if err != nil {
			log.Warn("gateway release failed",
				slog.String("leg", string(leg)),
				slog.String("error", err.Error()),
			)
		}
	}
}

// classify maps deadline breaches to ErrGatewayUnavailable and caller
// cancellation to ErrCancelled; anything else gets fallback.
func classify(err, fallback error) error {
	switch {
	case err == nil:
		return fallback
	case errors.Is(err, context.DeadlineExceeded):
		return domain.ErrGatewayUnavailable
	case errors.Is(err, context.Canceled):
		return domain.ErrCancelled
	}
	return fallback
}

// protect turns a panicking gateway call into an error.
func protect[T any](fn func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("gateway panic: %v", r)
		}
	}()
	return fn()
}
