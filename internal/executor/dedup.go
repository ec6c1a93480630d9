package executor

import (
	"sync"
	"time"
)

// Dedup refuses a request id that was already submitted within the TTL
// window. It is safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // requestID -> first seen
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
}

// NewDedup creates a Dedup that remembers request ids for ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// IsDuplicate reports whether requestID was seen within the TTL. An unseen
// or expired id is recorded and false is returned. An empty id is never a
// duplicate.
func (d *Dedup) IsDuplicate(requestID string) bool {
	if requestID == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if firstSeen, ok := d.seen[requestID]; ok && now.Sub(firstSeen) < d.ttl {
		return true
	}
	d.seen[requestID] = now
	return false
}

// Forget drops requestID so it may be submitted again. Callers use it when a
// request fails before any order reaches a venue.
func (d *Dedup) Forget(requestID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, requestID)
}

// Cleanup removes expired entries. Call it periodically to bound memory.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for id, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, id)
		}
	}
}

// Len returns the number of remembered ids.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
