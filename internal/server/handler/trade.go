package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/pairbot/internal/domain"
	"github.com/alanyoungcy/pairbot/internal/id"
)

// RequestIDHeader carries the caller's idempotency key for a trade.
const RequestIDHeader = "Idempotency-Key"

// TradeService defines what the trade handler requires from the service
// layer.
type TradeService interface {
	ExecutePairTrade(ctx context.Context, userID, requestID string, in domain.PositionIntent) (domain.TradeOutcome, error)
	ListOutcomes(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.TradeOutcome, error)
	GetOutcome(ctx context.Context, userID, id string) (domain.TradeOutcome, error)
}

// IntentValidator turns raw user input into a PositionIntent.
type IntentValidator interface {
	Validate(raw domain.RawIntent) (domain.PositionIntent, error)
}

// TradeHandler serves pair trades.
type TradeHandler struct {
	trades    TradeService
	validator IntentValidator
	logger    *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(trades TradeService, validator IntentValidator, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{
		trades:    trades,
		validator: validator,
		logger:    logger.With(slog.String("handler", "trades")),
	}
}

type listTradesResponse struct {
	Trades []domain.TradeOutcome `json:"trades"`
}

// ExecuteTrade validates a raw intent and runs the pair trade. The outcome is
// returned with 201 whatever its status; only trades that never reached a
// venue get an error status. Without an Idempotency-Key header a fresh
// request id is generated.
// POST /api/users/{user}/trades
func (h *TradeHandler) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	var raw domain.RawIntent
	if err := decodeBody(w, r, &raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	in, err := h.validator.Validate(raw)
	if err != nil {
		writeServiceError(w, r, h.logger, "invalid intent", err)
		return
	}

	requestID := strings.TrimSpace(r.Header.Get(RequestIDHeader))
	if requestID == "" {
		requestID = id.New()
	}

	out, err := h.trades.ExecutePairTrade(r.Context(), r.PathValue("user"), requestID, in)
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to execute trade", err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

// ListTrades returns the user's trades, newest first.
// GET /api/users/{user}/trades?limit=50&offset=0&since=...&until=...
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "invalid query", err)
		return
	}

	outs, err := h.trades.ListOutcomes(r.Context(), r.PathValue("user"), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to list trades", err)
		return
	}
	if outs == nil {
		outs = []domain.TradeOutcome{}
	}
	writeJSON(w, http.StatusOK, listTradesResponse{Trades: outs})
}

// GetTrade returns one of the user's trades.
// GET /api/users/{user}/trades/{id}
func (h *TradeHandler) GetTrade(w http.ResponseWriter, r *http.Request) {
	out, err := h.trades.GetOutcome(r.Context(), r.PathValue("user"), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to get trade", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
