package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/pairbot/internal/domain"
)

// CredentialStore implements domain.CredentialStore. The (user_id, venue)
// primary key makes Upsert a single atomic replace.
type CredentialStore struct {
	pool *pgxpool.Pool
}

// NewCredentialStore creates a CredentialStore.
func NewCredentialStore(pool *pgxpool.Pool) *CredentialStore {
	return &CredentialStore{pool: pool}
}

const credentialColumns = `user_id, venue, encrypted_api_key, encrypted_api_secret, is_testnet, created_at`

// Upsert inserts rec or replaces the existing record for its pair.
func (s *CredentialStore) Upsert(ctx context.Context, rec domain.CredentialRecord) error {
	const query = `
		INSERT INTO credentials (` + credentialColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, venue) DO UPDATE SET
			encrypted_api_key    = EXCLUDED.encrypted_api_key,
			encrypted_api_secret = EXCLUDED.encrypted_api_secret,
			is_testnet           = EXCLUDED.is_testnet,
			created_at           = EXCLUDED.created_at`

	_, err := s.pool.Exec(ctx, query,
		rec.UserID, rec.Venue, rec.EncryptedAPIKey, rec.EncryptedAPISecret, rec.IsTestnet, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: upsert credential %s/%s: %w", rec.UserID, rec.Venue, err)
	}
	return nil
}

// Get returns domain.ErrNotFound when the pair has no record.
func (s *CredentialStore) Get(ctx context.Context, userID, venue string) (domain.CredentialRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE user_id = $1 AND venue = $2`, userID, venue)
	rec, err := scanCredential(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.CredentialRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.CredentialRecord{}, fmt.Errorf("postgres: get credential %s/%s: %w", userID, venue, err)
	}
	return rec, nil
}

// ListByUser returns the user's records ordered by venue.
func (s *CredentialStore) ListByUser(ctx context.Context, userID string) ([]domain.CredentialRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE user_id = $1 ORDER BY venue`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list credentials %s: %w", userID, err)
	}
	defer rows.Close()

	var out []domain.CredentialRecord
	for rows.Next() {
		rec, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan credential: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list credentials %s: %w", userID, err)
	}
	return out, nil
}

// Delete removes the pair's record. A missing record is not an error.
func (s *CredentialStore) Delete(ctx context.Context, userID, venue string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM credentials WHERE user_id = $1 AND venue = $2`, userID, venue); err != nil {
		return fmt.Errorf("postgres: delete credential %s/%s: %w", userID, venue, err)
	}
	return nil
}

func scanCredential(row pgx.Row) (domain.CredentialRecord, error) {
	var rec domain.CredentialRecord
	err := row.Scan(&rec.UserID, &rec.Venue, &rec.EncryptedAPIKey, &rec.EncryptedAPISecret, &rec.IsTestnet, &rec.CreatedAt)
	return rec, err
}

var _ domain.CredentialStore = (*CredentialStore)(nil)
