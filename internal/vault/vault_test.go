package vault

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/pairbot/internal/crypto"
	"github.com/alanyoungcy/pairbot/internal/domain"
	"github.com/alanyoungcy/pairbot/internal/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestVault(t *testing.T, opts ...Option) (*Vault, *memory.CredentialStore) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	store := memory.NewCredentialStore()
	v, err := NewWithKey(key, store, testLogger(), opts...)
	require.NoError(t, err)
	return v, store
}

func TestStoreAndRetrieve(t *testing.T) {
	ctx := context.Background()
	v, store := newTestVault(t)

	rec, err := v.Store(ctx, "u1", "  Binance ", "key-1", "sécret-🔑", true)
	require.NoError(t, err)
	assert.Equal(t, "binance", rec.Venue)
	assert.NotContains(t, rec.EncryptedAPIKey, "key-1")
	assert.NotContains(t, rec.EncryptedAPISecret, "sécret")

	stored, err := store.Get(ctx, "u1", "binance")
	require.NoError(t, err)
	assert.Equal(t, rec, stored)

	view, err := v.Retrieve(ctx, "u1", "BINANCE")
	require.NoError(t, err)
	assert.Equal(t, "key-1", view.APIKey)
	assert.Equal(t, "sécret-🔑", view.APISecret)
	assert.True(t, view.Credentials().Testnet)
}

func TestStoreReplacesExisting(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVault(t)

	_, err := v.Store(ctx, "u1", "bybit", "old-key", "old-secret", false)
	require.NoError(t, err)
	_, err = v.Store(ctx, "u1", "bybit", "new-key", "new-secret", true)
	require.NoError(t, err)

	views, err := v.RetrieveAll(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "new-key", views[0].APIKey)
	assert.Equal(t, "new-secret", views[0].APISecret)
	assert.True(t, views[0].IsTestnet)
}

func TestStoreValidation(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVault(t)

	cases := []struct{ user, venue, key, secret string }{
		{"", "binance", "k", "s"},
		{"u1", "", "k", "s"},
		{"u1", "bin|ance", "k", "s"},
		{"u1", "binance", "", "s"},
		{"u1", "binance", "k", ""},
	}
	for _, tc := range cases {
		_, err := v.Store(ctx, tc.user, tc.venue, tc.key, tc.secret, false)
		assert.ErrorIs(t, err, domain.ErrValidation, "%+v", tc)
	}
}

func TestRetrieveAllIsolatesCorruptRecords(t *testing.T) {
	ctx := context.Background()
	v, store := newTestVault(t)

	_, err := v.Store(ctx, "u1", "binance", "k1", "s1", false)
	require.NoError(t, err)
	_, err = v.Store(ctx, "u1", "bybit", "k2", "s2", false)
	require.NoError(t, err)

	rec, err := store.Get(ctx, "u1", "binance")
	require.NoError(t, err)
	rec.EncryptedAPISecret = "v1:AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	require.NoError(t, store.Upsert(ctx, rec))

	views, err := v.RetrieveAll(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, views, 2)

	assert.ErrorIs(t, views[0].Err, domain.ErrCorruptCredential)
	assert.Empty(t, views[0].APIKey)
	assert.Empty(t, views[0].APISecret)

	assert.NoError(t, views[1].Err)
	assert.Equal(t, "k2", views[1].APIKey)

	_, err = v.Retrieve(ctx, "u1", "binance")
	assert.ErrorIs(t, err, domain.ErrCorruptCredential)
}

func TestCiphertextBoundToRow(t *testing.T) {
	ctx := context.Background()
	v, store := newTestVault(t)

	_, err := v.Store(ctx, "alice", "binance", "alice-key", "alice-secret", false)
	require.NoError(t, err)
	_, err = v.Store(ctx, "mallory", "binance", "m-key", "m-secret", false)
	require.NoError(t, err)

	alice, err := store.Get(ctx, "alice", "binance")
	require.NoError(t, err)
	mallory, err := store.Get(ctx, "mallory", "binance")
	require.NoError(t, err)
	mallory.EncryptedAPIKey = alice.EncryptedAPIKey
	mallory.EncryptedAPISecret = alice.EncryptedAPISecret
	require.NoError(t, store.Upsert(ctx, mallory))

	_, err = v.Retrieve(ctx, "mallory", "binance")
	assert.ErrorIs(t, err, domain.ErrCorruptCredential)

	// Swapping key and secret columns within one row also fails.
	alice.EncryptedAPIKey, alice.EncryptedAPISecret = alice.EncryptedAPISecret, alice.EncryptedAPIKey
	require.NoError(t, store.Upsert(ctx, alice))
	_, err = v.Retrieve(ctx, "alice", "binance")
	assert.ErrorIs(t, err, domain.ErrCorruptCredential)
}

func TestRetrieveWithDifferentKey(t *testing.T) {
	ctx := context.Background()
	v, store := newTestVault(t)
	_, err := v.Store(ctx, "u1", "binance", "k", "s", false)
	require.NoError(t, err)

	otherKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	rotated, err := NewWithKey(otherKey, store, testLogger())
	require.NoError(t, err)

	views, err := rotated.RetrieveAll(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.ErrorIs(t, views[0].Err, domain.ErrCorruptCredential)
}

func TestRetrieveMissing(t *testing.T) {
	v, _ := newTestVault(t)
	_, err := v.Retrieve(context.Background(), "u1", "binance")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVault(t)

	require.NoError(t, v.Delete(ctx, "u1", "binance"))
	_, err := v.Store(ctx, "u1", "binance", "k", "s", false)
	require.NoError(t, err)
	require.NoError(t, v.Delete(ctx, "u1", "Binance"))
	require.NoError(t, v.Delete(ctx, "u1", "binance"))

	views, err := v.RetrieveAll(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, views)
}

func TestEncryptionUnavailable(t *testing.T) {
	ctx := context.Background()
	v := New(nil, memory.NewCredentialStore(), testLogger())

	_, err := v.Store(ctx, "u1", "binance", "k", "s", false)
	assert.ErrorIs(t, err, domain.ErrEncryptionUnavailable)
	_, err = v.RetrieveAll(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrEncryptionUnavailable)

	_, err = NewWithKey([]byte("short"), memory.NewCredentialStore(), testLogger())
	assert.ErrorIs(t, err, domain.ErrEncryptionUnavailable)
}

func TestConcurrentWritesHaveOneWinner(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVault(t)

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := v.Store(ctx, "u1", "binance", fmt.Sprintf("key-%d", i), fmt.Sprintf("secret-%d", i), false)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	view, err := v.Retrieve(ctx, "u1", "binance")
	require.NoError(t, err)
	var n int
	_, err = fmt.Sscanf(view.APIKey, "key-%d", &n)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("secret-%d", n), view.APISecret)
	assert.Zero(t, v.keyed.size())
}

type fakeLocks struct {
	mu       sync.Mutex
	held     map[string]bool
	acquired int
}

func (f *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[key] {
		return nil, domain.ErrLockHeld
	}
	f.held[key] = true
	f.acquired++
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.held, key)
	}, nil
}

func TestStoreTakesDistributedLock(t *testing.T) {
	ctx := context.Background()
	locks := &fakeLocks{held: make(map[string]bool)}
	v, _ := newTestVault(t, WithLockManager(locks))

	_, err := v.Store(ctx, "u1", "binance", "k", "s", false)
	require.NoError(t, err)
	require.NoError(t, v.Delete(ctx, "u1", "binance"))
	assert.Equal(t, 2, locks.acquired)
	assert.Empty(t, locks.held)
}

func TestStoreWaitsForHeldLock(t *testing.T) {
	locks := &fakeLocks{held: map[string]bool{"vault:u1:binance": true}}
	v, _ := newTestVault(t, WithLockManager(locks))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := v.Store(ctx, "u1", "binance", "k", "s", false)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, v.keyed.size())
}
