// Package storetest is a conformance suite run against every domain.Stores
// backend. Tests only touch rows keyed by a fresh prefix, so a suite can
// share a database with other tests.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/pairbot/internal/domain"
	"github.com/alanyoungcy/pairbot/internal/id"
)

// Run exercises s.
func Run(t *testing.T, s domain.Stores) {
	t.Run("credentials", func(t *testing.T) { testCredentials(t, s.Credentials) })
	t.Run("outcomes", func(t *testing.T) { testOutcomes(t, s.Outcomes) })
	t.Run("users", func(t *testing.T) { testUsers(t, s.Users) })
	t.Run("audit", func(t *testing.T) { testAudit(t, s.Audit) })
}

func testCredentials(t *testing.T, s domain.CredentialStore) {
	ctx := context.Background()
	user := id.New()
	other := id.New()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	rec := func(u, venue, key string, testnet bool) domain.CredentialRecord {
		return domain.CredentialRecord{
			UserID: u, Venue: venue,
			EncryptedAPIKey: key, EncryptedAPISecret: "s-" + key,
			IsTestnet: testnet, CreatedAt: at,
		}
	}

	require.NoError(t, s.Upsert(ctx, rec(user, "bybit", "k1", false)))
	require.NoError(t, s.Upsert(ctx, rec(user, "binance", "k2", false)))
	require.NoError(t, s.Upsert(ctx, rec(user, "binance", "k3", true)))
	require.NoError(t, s.Upsert(ctx, rec(other, "binance", "k4", false)))

	got, err := s.Get(ctx, user, "binance")
	require.NoError(t, err)
	assert.Equal(t, "k3", got.EncryptedAPIKey, "upsert replaces")
	assert.Equal(t, "s-k3", got.EncryptedAPISecret)
	assert.True(t, got.IsTestnet)
	assert.True(t, at.Equal(got.CreatedAt))

	list, err := s.ListByUser(ctx, user)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "binance", list[0].Venue)
	assert.Equal(t, "bybit", list[1].Venue)

	require.NoError(t, s.Delete(ctx, user, "binance"))
	require.NoError(t, s.Delete(ctx, user, "binance"))
	_, err = s.Get(ctx, user, "binance")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = s.Get(ctx, other, "binance")
	assert.NoError(t, err, "other users are untouched")

	none, err := s.ListByUser(ctx, id.New())
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testOutcomes(t *testing.T, s domain.OutcomeStore) {
	ctx := context.Background()
	user := id.New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var ids []string
	for i := 0; i < 3; i++ {
		o := domain.TradeOutcome{
			ID:     id.New(),
			UserID: user,
			Intent: domain.PositionIntent{
				BaseVenue: "binance", QuoteVenue: "bybit", Instrument: "BTC/USDT", NotionalUSD: 100,
				StopLoss: &domain.StopLoss{Percent: 2, Trailing: true},
			},
			Quantity:   1,
			Status:     domain.TradePartiallyOpened,
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
			FinishedAt: base.Add(time.Duration(i)*time.Minute + time.Second),
		}
		o.AddDiagnostic(domain.ErrOneLegRejected, domain.LegShort, "", "short leg rejected")
		require.NoError(t, s.Create(ctx, o))
		ids = append(ids, o.ID)
	}
	require.NoError(t, s.Create(ctx, domain.TradeOutcome{ID: id.New(), UserID: id.New(), StartedAt: base, FinishedAt: base}))
	assert.Error(t, s.Create(ctx, domain.TradeOutcome{ID: ids[0], UserID: user, StartedAt: base, FinishedAt: base}), "ids are unique")

	got, err := s.GetByID(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, user, got.UserID)
	assert.Equal(t, domain.TradePartiallyOpened, got.Status)
	require.NotNil(t, got.Intent.StopLoss)
	assert.True(t, got.Intent.StopLoss.Trailing)
	require.Len(t, got.Diagnostics, 1)
	assert.ErrorIs(t, got.Diagnostics[0], domain.ErrOneLegRejected)

	page, err := s.ListByUser(ctx, user, domain.ListOpts{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[2], page[0].ID, "newest first")
	assert.Equal(t, ids[1], page[1].ID)

	rest, err := s.ListByUser(ctx, user, domain.ListOpts{Offset: 2})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, ids[0], rest[0].ID)

	since := base.Add(time.Minute)
	recent, err := s.ListByUser(ctx, user, domain.ListOpts{Since: &since})
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	_, err = s.GetByID(ctx, id.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testUsers(t *testing.T, s domain.UserStore) {
	ctx := context.Background()
	uid := id.New()

	first, err := s.Touch(ctx, uid, "alice")
	require.NoError(t, err)
	assert.Equal(t, uid, first.ID)
	assert.False(t, first.CreatedAt.IsZero())

	second, err := s.Touch(ctx, uid, "")
	require.NoError(t, err)
	assert.Equal(t, "alice", second.Username, "empty username keeps the stored one")
	assert.True(t, first.CreatedAt.Equal(second.CreatedAt))

	third, err := s.Touch(ctx, uid, "alice2")
	require.NoError(t, err)
	assert.Equal(t, "alice2", third.Username)

	got, err := s.GetByID(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, "alice2", got.Username)

	_, err = s.GetByID(ctx, id.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testAudit(t *testing.T, s domain.AuditStore) {
	ctx := context.Background()
	marker := id.New()
	before := time.Now().Add(-time.Second)

	detail := map[string]any{"marker": marker, "venue": "binance"}
	require.NoError(t, s.Log(ctx, "storetest_first", detail))
	detail["venue"] = "mutated"
	require.NoError(t, s.Log(ctx, "storetest_second", map[string]any{"marker": marker}))

	entries, err := s.List(ctx, domain.ListOpts{Since: &before})
	require.NoError(t, err)

	var mine []domain.AuditEntry
	for _, e := range entries {
		if e.Detail["marker"] == marker {
			mine = append(mine, e)
		}
	}
	require.Len(t, mine, 2)
	assert.Equal(t, "storetest_second", mine[0].Event, "newest first")
	assert.Equal(t, "binance", mine[1].Detail["venue"], "detail is copied on write")

	limited, err := s.List(ctx, domain.ListOpts{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
