package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/pairbot/internal/domain"
	"github.com/alanyoungcy/pairbot/internal/executor"
)

// Trade rate limit defaults.
const (
	DefaultTradeLimit  = 5
	DefaultTradeWindow = time.Minute
)

// CredentialSource yields decrypted credentials for one venue.
type CredentialSource interface {
	Retrieve(ctx context.Context, userID, venue string) (domain.CredentialView, error)
}

// PairExecutor runs one pair trade against two open gateways.
type PairExecutor interface {
	Execute(ctx context.Context, in domain.PositionIntent, long, short domain.Gateway) domain.TradeOutcome
}

// OutcomeNotifier announces finished trades.
type OutcomeNotifier interface {
	NotifyOutcome(ctx context.Context, o domain.TradeOutcome) error
}

// TradeLimit caps trades per user per window. A zero Limit disables the cap.
type TradeLimit struct {
	Limit  int
	Window time.Duration
}

// TradeService is the entry point for pair trades. It resolves credentials,
// opens gateways, runs the executor and records the outcome.
type TradeService struct {
	creds    CredentialSource
	dialer   domain.GatewayDialer
	exec     PairExecutor
	dedup    *executor.Dedup
	outcomes domain.OutcomeStore
	users    domain.UserStore
	audit    domain.AuditStore
	limiter  domain.RateLimiter
	limit    TradeLimit
	bus      domain.SignalBus
	archiver domain.OutcomeArchiver
	notifier OutcomeNotifier
	logger   *slog.Logger
}

// NewTradeService creates a TradeService with all required dependencies.
// Rate limiting, the signal bus, archiving and notifications are attached
// with the With* methods.
func NewTradeService(
	creds CredentialSource,
	dialer domain.GatewayDialer,
	exec PairExecutor,
	dedup *executor.Dedup,
	outcomes domain.OutcomeStore,
	users domain.UserStore,
	audit domain.AuditStore,
	logger *slog.Logger,
) *TradeService {
	return &TradeService{
		creds:    creds,
		dialer:   dialer,
		exec:     exec,
		dedup:    dedup,
		outcomes: outcomes,
		users:    users,
		audit:    audit,
		logger:   logger.With(slog.String("component", "trade_service")),
	}
}

// WithRateLimiter caps trades per user.
func (s *TradeService) WithRateLimiter(l domain.RateLimiter, limit TradeLimit) *TradeService {
	if limit.Window <= 0 {
		limit.Window = DefaultTradeWindow
	}
	s.limiter, s.limit = l, limit
	return s
}

// WithSignalBus publishes every outcome on domain.ChannelOutcomes and appends
// it to domain.StreamOutcomes.
func (s *TradeService) WithSignalBus(bus domain.SignalBus) *TradeService {
	s.bus = bus
	return s
}

// WithArchiver copies every outcome to object storage.
func (s *TradeService) WithArchiver(a domain.OutcomeArchiver) *TradeService {
	s.archiver = a
	return s
}

// WithNotifier announces every outcome.
func (s *TradeService) WithNotifier(n OutcomeNotifier) *TradeService {
	s.notifier = n
	return s
}

// ExecutePairTrade opens a long leg on in.BaseVenue and a short leg on
// in.QuoteVenue. A requestID seen within the dedup window is refused with
// domain.ErrDuplicateRequest before any I/O. Errors are returned only when
// the trade never reached the executor; once it has, the outcome carries the
// result and the error is nil.
func (s *TradeService) ExecutePairTrade(ctx context.Context, userID, requestID string, in domain.PositionIntent) (domain.TradeOutcome, error) {
	if userID == "" {
		return domain.TradeOutcome{}, fmt.Errorf("trade_service: %w: user id is required", domain.ErrValidation)
	}
	if s.dedup != nil && s.dedup.IsDuplicate(requestID) {
		return domain.TradeOutcome{}, fmt.Errorf("trade_service: %w: %s", domain.ErrDuplicateRequest, requestID)
	}

	long, short, err := s.prepare(ctx, userID, in)
	if err != nil {
		// Nothing reached a venue, so the same request may be retried.
		if s.dedup != nil {
			s.dedup.Forget(requestID)
		}
		return domain.TradeOutcome{}, err
	}

	out := s.exec.Execute(ctx, in, long, short)
	out.UserID = userID

	// Record on a context the caller cannot cancel: the orders are live.
	s.record(context.WithoutCancel(ctx), requestID, out)
	return out, nil
}

// prepare runs every check that precedes order placement and returns two
// open gateways.
func (s *TradeService) prepare(ctx context.Context, userID string, in domain.PositionIntent) (long, short domain.Gateway, err error) {
	if s.limiter != nil && s.limit.Limit > 0 {
		allowed, err := s.limiter.Allow(ctx, "trades:"+userID, s.limit.Limit, s.limit.Window)
		if err != nil {
			return nil, nil, fmt.Errorf("trade_service: rate limiter: %w", err)
		}
		if !allowed {
			return nil, nil, fmt.Errorf("trade_service: %w: %d trades per %s", domain.ErrRateLimited, s.limit.Limit, s.limit.Window)
		}
	}

	if _, err := s.users.Touch(ctx, userID, ""); err != nil {
		return nil, nil, fmt.Errorf("trade_service: register user: %w", err)
	}

	longCreds, err := s.creds.Retrieve(ctx, userID, in.BaseVenue)
	if err != nil {
		return nil, nil, fmt.Errorf("trade_service: %s credentials: %w", in.BaseVenue, err)
	}
	shortCreds, err := s.creds.Retrieve(ctx, userID, in.QuoteVenue)
	if err != nil {
		return nil, nil, fmt.Errorf("trade_service: %s credentials: %w", in.QuoteVenue, err)
	}

	long, err = s.dialer.Dial(ctx, in.BaseVenue, longCreds.Credentials())
	if err != nil {
		return nil, nil, fmt.Errorf("trade_service: %w", err)
	}
	short, err = s.dialer.Dial(ctx, in.QuoteVenue, shortCreds.Credentials())
	if err != nil {
		if relErr := long.Release(); relErr != nil {
			s.logger.WarnContext(ctx, "release failed", slog.String("venue", in.BaseVenue), slog.String("error", relErr.Error()))
		}
		return nil, nil, fmt.Errorf("trade_service: %w", err)
	}
	return long, short, nil
}

// record persists, publishes, audits, notifies and archives out. Failures
// are logged; none of them change the outcome.
func (s *TradeService) record(ctx context.Context, requestID string, out domain.TradeOutcome) {
	log := s.logger.With(
		slog.String("outcome_id", out.ID),
		slog.String("user_id", out.UserID),
		slog.String("status", string(out.Status)),
	)

	if err := s.outcomes.Create(ctx, out); err != nil {
		log.ErrorContext(ctx, "persist outcome failed", slog.String("error", err.Error()))
	}

	if s.bus != nil {
		if payload, err := json.Marshal(out); err != nil {
			log.WarnContext(ctx, "marshal outcome failed", slog.String("error", err.Error()))
		} else {
			if err := s.bus.Publish(ctx, domain.ChannelOutcomes, payload); err != nil {
				log.WarnContext(ctx, "publish outcome failed", slog.String("error", err.Error()))
			}
			if err := s.bus.StreamAppend(ctx, domain.StreamOutcomes, payload); err != nil {
				log.WarnContext(ctx, "stream outcome failed", slog.String("error", err.Error()))
			}
		}
	}

	if err := s.audit.Log(ctx, "trade_executed", map[string]any{
		"outcome_id":  out.ID,
		"request_id":  requestID,
		"user_id":     out.UserID,
		"instrument":  out.Intent.Instrument,
		"long_venue":  out.Intent.BaseVenue,
		"short_venue": out.Intent.QuoteVenue,
		"notional":    out.Intent.NotionalUSD,
		"status":      string(out.Status),
		"diagnostics": len(out.Diagnostics),
	}); err != nil {
		log.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
	}

	if s.notifier != nil {
		if err := s.notifier.NotifyOutcome(ctx, out); err != nil {
			log.WarnContext(ctx, "notify outcome failed", slog.String("error", err.Error()))
		}
	}

	if s.archiver != nil {
		if err := s.archiver.Archive(ctx, out); err != nil {
			log.WarnContext(ctx, "archive outcome failed", slog.String("error", err.Error()))
		}
	}

	log.InfoContext(ctx, "pair trade recorded",
		slog.String("instrument", out.Intent.Instrument),
		slog.Float64("quantity", out.Quantity),
		slog.Int("diagnostics", len(out.Diagnostics)),
	)
}

// ListOutcomes returns a user's trades, newest first.
func (s *TradeService) ListOutcomes(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.TradeOutcome, error) {
	outs, err := s.outcomes.ListByUser(ctx, userID, opts)
	if err != nil {
		return nil, fmt.Errorf("trade_service: list outcomes %q: %w", userID, err)
	}
	return outs, nil
}

// GetOutcome returns one of userID's trades. Another user's trade is
// reported as domain.ErrNotFound.
func (s *TradeService) GetOutcome(ctx context.Context, userID, id string) (domain.TradeOutcome, error) {
	out, err := s.outcomes.GetByID(ctx, id)
	if err != nil {
		return domain.TradeOutcome{}, fmt.Errorf("trade_service: get outcome %q: %w", id, err)
	}
	if out.UserID != userID {
		return domain.TradeOutcome{}, fmt.Errorf("trade_service: get outcome %q: %w", id, domain.ErrNotFound)
	}
	return out, nil
}
