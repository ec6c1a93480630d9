// Package memory implements the domain store interfaces in process memory.
// It backs tests and the "memory" store backend.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/alanyoungcy/pairbot/internal/domain"
)

type credentialKey struct {
	userID string
	venue  string
}

// CredentialStore is an in-memory implementation of domain.CredentialStore.
type CredentialStore struct {
	mu   sync.RWMutex
	data map[credentialKey]domain.CredentialRecord
}

// NewCredentialStore creates a new in-memory credential store.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{
		data: make(map[credentialKey]domain.CredentialRecord),
	}
}

// Upsert replaces any record for the same (user, venue).
func (s *CredentialStore) Upsert(_ context.Context, rec domain.CredentialRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[credentialKey{rec.UserID, rec.Venue}] = rec
	return nil
}

// Get returns domain.ErrNotFound if the pair has no record.
func (s *CredentialStore) Get(_ context.Context, userID, venue string) (domain.CredentialRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.data[credentialKey{userID, venue}]
	if !ok {
		return domain.CredentialRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

// ListByUser returns the user's records ordered by venue.
func (s *CredentialStore) ListByUser(_ context.Context, userID string) ([]domain.CredentialRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.CredentialRecord
	for k, rec := range s.data {
		if k.userID == userID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Venue < out[j].Venue })
	return out, nil
}

// Delete is idempotent.
func (s *CredentialStore) Delete(_ context.Context, userID, venue string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, credentialKey{userID, venue})
	return nil
}

var _ domain.CredentialStore = (*CredentialStore)(nil)
