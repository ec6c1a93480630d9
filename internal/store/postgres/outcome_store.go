package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/pairbot/internal/domain"
)

// OutcomeStore implements domain.OutcomeStore. The full outcome is kept in
// a JSONB body; the searchable fields are also stored as columns.
type OutcomeStore struct {
	pool *pgxpool.Pool
}

// NewOutcomeStore creates an OutcomeStore.
func NewOutcomeStore(pool *pgxpool.Pool) *OutcomeStore {
	return &OutcomeStore{pool: pool}
}

// Create inserts o.
func (s *OutcomeStore) Create(ctx context.Context, o domain.TradeOutcome) error {
	body, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("postgres: marshal outcome %s: %w", o.ID, err)
	}

	const query = `
		INSERT INTO trade_outcomes (
			id, user_id, instrument, long_venue, short_venue, notional_usd,
			quantity, reference_price, status, body, started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err = s.pool.Exec(ctx, query,
		o.ID, o.UserID, o.Intent.Instrument, o.Intent.BaseVenue, o.Intent.QuoteVenue, o.Intent.NotionalUSD,
		o.Quantity, o.ReferencePrice, string(o.Status), body, o.StartedAt, o.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create outcome %s: %w", o.ID, err)
	}
	return nil
}

// GetByID returns domain.ErrNotFound for unknown ids.
func (s *OutcomeStore) GetByID(ctx context.Context, id string) (domain.TradeOutcome, error) {
	var body []byte
	err := s.pool.QueryRow(ctx, `SELECT body FROM trade_outcomes WHERE id = $1`, id).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TradeOutcome{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.TradeOutcome{}, fmt.Errorf("postgres: get outcome %s: %w", id, err)
	}
	return decodeOutcome(body)
}

// ListByUser returns the user's outcomes newest first.
func (s *OutcomeStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.TradeOutcome, error) {
	query, args := appendListOpts(
		`SELECT body FROM trade_outcomes WHERE user_id = $1`, []any{userID},
		"started_at", "started_at DESC, id DESC", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list outcomes %s: %w", userID, err)
	}
	defer rows.Close()

	var out []domain.TradeOutcome
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("postgres: scan outcome: %w", err)
		}
		o, err := decodeOutcome(body)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list outcomes %s: %w", userID, err)
	}
	return out, nil
}

func decodeOutcome(body []byte) (domain.TradeOutcome, error) {
	var o domain.TradeOutcome
	if err := json.Unmarshal(body, &o); err != nil {
		return domain.TradeOutcome{}, fmt.Errorf("postgres: decode outcome: %w", err)
	}
	return o, nil
}

var _ domain.OutcomeStore = (*OutcomeStore)(nil)
