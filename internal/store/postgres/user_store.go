package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/pairbot/internal/domain"
)

// UserStore implements domain.UserStore.
type UserStore struct {
	pool *pgxpool.Pool
}

// NewUserStore creates a UserStore.
func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

// Touch registers id if unseen and returns the stored user. A non-empty
// username replaces the stored one.
func (s *UserStore) Touch(ctx context.Context, id, username string) (domain.User, error) {
	const query = `
		INSERT INTO users (id, username) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET
			username = CASE WHEN EXCLUDED.username = '' THEN users.username ELSE EXCLUDED.username END
		RETURNING id, username, created_at`

	var u domain.User
	if err := s.pool.QueryRow(ctx, query, id, username).Scan(&u.ID, &u.Username, &u.CreatedAt); err != nil {
		return domain.User{}, fmt.Errorf("postgres: touch user %s: %w", id, err)
	}
	return u, nil
}

// GetByID returns domain.ErrNotFound for unknown users.
func (s *UserStore) GetByID(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	err := s.pool.QueryRow(ctx, `SELECT id, username, created_at FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Username, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("postgres: get user %s: %w", id, err)
	}
	return u, nil
}

var _ domain.UserStore = (*UserStore)(nil)
