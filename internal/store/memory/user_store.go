package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/pairbot/internal/domain"
)

// UserStore is an in-memory implementation of domain.UserStore.
type UserStore struct {
	mu   sync.Mutex
	data map[string]domain.User
	now  func() time.Time
}

// NewUserStore creates a new in-memory user store.
func NewUserStore() *UserStore {
	return &UserStore{data: make(map[string]domain.User), now: time.Now}
}

// Touch registers the user if unseen. A non-empty username replaces the
// stored one; CreatedAt never changes.
func (s *UserStore) Touch(_ context.Context, id, username string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.data[id]
	if !ok {
		u = domain.User{ID: id, CreatedAt: s.now().UTC()}
	}
	if username != "" {
		u.Username = username
	}
	s.data[id] = u
	return u, nil
}

// GetByID returns domain.ErrNotFound for unknown users.
func (s *UserStore) GetByID(_ context.Context, id string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.data[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

var _ domain.UserStore = (*UserStore)(nil)
