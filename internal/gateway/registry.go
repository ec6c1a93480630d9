// Package gateway maps venue names to Gateway implementations and holds
// helpers shared by the venue adapters.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/pairbot/internal/domain"
)

// ErrReleased is returned by a gateway used after Release.
var ErrReleased = errors.New("gateway released")

// Factory opens an authenticated session against one venue.
type Factory func(ctx context.Context, creds domain.Credentials) (domain.Gateway, error)

// Registry resolves venue names to factories. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register binds venue to f, replacing any previous binding.
func (r *Registry) Register(venue string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[venue] = f
}

// Dial resolves venue and opens a session with creds. Unknown venues yield
// domain.ErrUnknownVenue.
func (r *Registry) Dial(ctx context.Context, venue string, creds domain.Credentials) (domain.Gateway, error) {
	r.mu.RLock()
	f, ok := r.factories[venue]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("gateway: %w: %q", domain.ErrUnknownVenue, venue)
	}
	gw, err := f(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("gateway: dial %s: %w", venue, err)
	}
	return gw, nil
}

// Venues lists registered venue names in order.
func (r *Registry) Venues() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

var _ domain.GatewayDialer = (*Registry)(nil)
