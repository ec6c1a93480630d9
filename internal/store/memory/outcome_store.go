package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/pairbot/internal/domain"
)

// OutcomeStore is an in-memory implementation of domain.OutcomeStore.
type OutcomeStore struct {
	mu   sync.RWMutex
	data map[string]domain.TradeOutcome
}

// NewOutcomeStore creates a new in-memory outcome store.
func NewOutcomeStore() *OutcomeStore {
	return &OutcomeStore{data: make(map[string]domain.TradeOutcome)}
}

// Create stores a copy of the outcome. IDs must be unique.
func (s *OutcomeStore) Create(_ context.Context, o domain.TradeOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[o.ID]; exists {
		return fmt.Errorf("memory: outcome %s already exists", o.ID)
	}
	o.Diagnostics = append([]domain.Diagnostic(nil), o.Diagnostics...)
	s.data[o.ID] = o
	return nil
}

// GetByID returns domain.ErrNotFound for unknown ids.
func (s *OutcomeStore) GetByID(_ context.Context, id string) (domain.TradeOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.data[id]
	if !ok {
		return domain.TradeOutcome{}, domain.ErrNotFound
	}
	return o, nil
}

// ListByUser returns the newest outcomes first.
func (s *OutcomeStore) ListByUser(_ context.Context, userID string, opts domain.ListOpts) ([]domain.TradeOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.TradeOutcome
	for _, o := range s.data {
		if o.UserID != userID {
			continue
		}
		if opts.Since != nil && o.StartedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && o.StartedAt.After(*opts.Until) {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return paginate(out, opts), nil
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items
}

var _ domain.OutcomeStore = (*OutcomeStore)(nil)
