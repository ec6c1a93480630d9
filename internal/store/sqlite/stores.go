package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/pairbot/internal/domain"
)

// CredentialStore implements domain.CredentialStore.
type CredentialStore struct {
	db *sql.DB
}

// Upsert inserts rec or replaces the pair's existing record.
func (s *CredentialStore) Upsert(ctx context.Context, rec domain.CredentialRecord) error {
	const query = `
		INSERT INTO credentials (user_id, venue, encrypted_api_key, encrypted_api_secret, is_testnet, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, venue) DO UPDATE SET
			encrypted_api_key    = excluded.encrypted_api_key,
			encrypted_api_secret = excluded.encrypted_api_secret,
			is_testnet           = excluded.is_testnet,
			created_at           = excluded.created_at`
	_, err := s.db.ExecContext(ctx, query,
		rec.UserID, rec.Venue, rec.EncryptedAPIKey, rec.EncryptedAPISecret, rec.IsTestnet, toMicros(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("sqlite: upsert credential %s/%s: %w", rec.UserID, rec.Venue, err)
	}
	return nil
}

// Get returns domain.ErrNotFound when the pair has no record.
func (s *CredentialStore) Get(ctx context.Context, userID, venue string) (domain.CredentialRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, venue, encrypted_api_key, encrypted_api_secret, is_testnet, created_at
		FROM credentials WHERE user_id = ? AND venue = ?`, userID, venue)
	rec, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CredentialRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.CredentialRecord{}, fmt.Errorf("sqlite: get credential %s/%s: %w", userID, venue, err)
	}
	return rec, nil
}

// ListByUser returns the user's records ordered by venue.
func (s *CredentialStore) ListByUser(ctx context.Context, userID string) ([]domain.CredentialRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, venue, encrypted_api_key, encrypted_api_secret, is_testnet, created_at
		FROM credentials WHERE user_id = ? ORDER BY venue`, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list credentials %s: %w", userID, err)
	}
	defer rows.Close()

	var out []domain.CredentialRecord
	for rows.Next() {
		rec, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan credential: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Delete is idempotent.
func (s *CredentialStore) Delete(ctx context.Context, userID, venue string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE user_id = ? AND venue = ?`, userID, venue); err != nil {
		return fmt.Errorf("sqlite: delete credential %s/%s: %w", userID, venue, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCredential(row scanner) (domain.CredentialRecord, error) {
	var (
		rec     domain.CredentialRecord
		created int64
	)
	if err := row.Scan(&rec.UserID, &rec.Venue, &rec.EncryptedAPIKey, &rec.EncryptedAPISecret, &rec.IsTestnet, &created); err != nil {
		return rec, err
	}
	rec.CreatedAt = fromMicros(created)
	return rec, nil
}

// OutcomeStore implements domain.OutcomeStore with the outcome kept as a
// JSON body.
type OutcomeStore struct {
	db *sql.DB
}

// Create inserts o.
func (s *OutcomeStore) Create(ctx context.Context, o domain.TradeOutcome) error {
	body, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("sqlite: marshal outcome %s: %w", o.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO trade_outcomes (id, user_id, instrument, status, body, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.UserID, o.Intent.Instrument, string(o.Status), string(body), toMicros(o.StartedAt), toMicros(o.FinishedAt))
	if err != nil {
		return fmt.Errorf("sqlite: create outcome %s: %w", o.ID, err)
	}
	return nil
}

// GetByID returns domain.ErrNotFound for unknown ids.
func (s *OutcomeStore) GetByID(ctx context.Context, id string) (domain.TradeOutcome, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM trade_outcomes WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TradeOutcome{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.TradeOutcome{}, fmt.Errorf("sqlite: get outcome %s: %w", id, err)
	}
	return decodeOutcome(body)
}

// ListByUser returns the user's outcomes newest first.
func (s *OutcomeStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.TradeOutcome, error) {
	query, args := appendListOpts(`SELECT body FROM trade_outcomes WHERE user_id = ?`, []any{userID},
		"started_at", "started_at DESC, id DESC", opts)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list outcomes %s: %w", userID, err)
	}
	defer rows.Close()

	var out []domain.TradeOutcome
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("sqlite: scan outcome: %w", err)
		}
		o, err := decodeOutcome(body)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func decodeOutcome(body string) (domain.TradeOutcome, error) {
	var o domain.TradeOutcome
	if err := json.Unmarshal([]byte(body), &o); err != nil {
		return domain.TradeOutcome{}, fmt.Errorf("sqlite: decode outcome: %w", err)
	}
	return o, nil
}

// UserStore implements domain.UserStore.
type UserStore struct {
	db  *sql.DB
	now func() time.Time
}

// Touch registers id if unseen. A non-empty username replaces the stored
// one.
func (s *UserStore) Touch(ctx context.Context, id, username string) (domain.User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, fmt.Errorf("sqlite: touch user %s: %w", id, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO users (id, username, created_at) VALUES (?, ?, ?) ON CONFLICT (id) DO NOTHING`,
		id, username, toMicros(s.now())); err != nil {
		return domain.User{}, fmt.Errorf("sqlite: touch user %s: %w", id, err)
	}
	if username != "" {
		if _, err := tx.ExecContext(ctx, `UPDATE users SET username = ? WHERE id = ?`, username, id); err != nil {
			return domain.User{}, fmt.Errorf("sqlite: touch user %s: %w", id, err)
		}
	}
	u, err := getUser(ctx, tx, id)
	if err != nil {
		return domain.User{}, fmt.Errorf("sqlite: touch user %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, fmt.Errorf("sqlite: touch user %s: %w", id, err)
	}
	return u, nil
}

// GetByID returns domain.ErrNotFound for unknown users.
func (s *UserStore) GetByID(ctx context.Context, id string) (domain.User, error) {
	u, err := getUser(ctx, s.db, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("sqlite: get user %s: %w", id, err)
	}
	return u, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getUser(ctx context.Context, q queryer, id string) (domain.User, error) {
	var (
		u       domain.User
		created int64
	)
	err := q.QueryRowContext(ctx, `SELECT id, username, created_at FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Username, &created)
	u.CreatedAt = fromMicros(created)
	return u, err
}

// AuditStore implements domain.AuditStore with details as JSON text.
type AuditStore struct {
	db  *sql.DB
	now func() time.Time
}

// Log appends an entry.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("sqlite: marshal audit detail: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO audit_log (event, detail, created_at) VALUES (?, ?, ?)`,
		event, string(detailJSON), toMicros(s.now())); err != nil {
		return fmt.Errorf("sqlite: log audit event %s: %w", event, err)
	}
	return nil
}

// List returns entries newest first.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query, args := appendListOpts(`SELECT id, event, detail, created_at FROM audit_log WHERE 1 = 1`, nil,
		"created_at", "created_at DESC, id DESC", opts)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list audit entries: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var (
			e       domain.AuditEntry
			detail  sql.NullString
			created int64
		)
		if err := rows.Scan(&e.ID, &e.Event, &detail, &created); err != nil {
			return nil, fmt.Errorf("sqlite: scan audit entry: %w", err)
		}
		e.CreatedAt = fromMicros(created)
		if detail.Valid && detail.String != "" {
			if err := json.Unmarshal([]byte(detail.String), &e.Detail); err != nil {
				return nil, fmt.Errorf("sqlite: unmarshal audit detail: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

var (
	_ domain.CredentialStore = (*CredentialStore)(nil)
	_ domain.OutcomeStore    = (*OutcomeStore)(nil)
	_ domain.UserStore       = (*UserStore)(nil)
	_ domain.AuditStore      = (*AuditStore)(nil)
)
