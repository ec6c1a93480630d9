// Package vault stores per-user venue API credentials encrypted at rest.
// It is the only package that holds the vault key.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/alanyoungcy/pairbot/internal/crypto"
	"github.com/alanyoungcy/pairbot/internal/domain"
)

const (
	fieldAPIKey    = "api_key"
	fieldAPISecret = "api_secret"

	defaultLockTTL   = 10 * time.Second
	lockPollInterval = 25 * time.Millisecond
)

var venuePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]*$`)

// Option configures a Vault.
type Option func(*Vault)

// WithLockManager adds a distributed lock around writes, for deployments
// where several processes share one credential store.
func WithLockManager(lm domain.LockManager) Option {
	return func(v *Vault) { v.locks = lm }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(v *Vault) { v.now = now }
}

// Vault encrypts, stores, decrypts and deletes credential records.
type Vault struct {
	cipher *crypto.FieldCipher
	store  domain.CredentialStore
	locks  domain.LockManager
	keyed  *keyedMutex
	now    func() time.Time
	logger *slog.Logger
}

// New creates a Vault. A nil cipher is accepted; every operation that needs
// it then fails with domain.ErrEncryptionUnavailable.
func New(cipher *crypto.FieldCipher, store domain.CredentialStore, logger *slog.Logger, opts ...Option) *Vault {
	v := &Vault{
		cipher: cipher,
		store:  store,
		keyed:  newKeyedMutex(),
		now:    time.Now,
		logger: logger.With(slog.String("component", "vault")),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// NewWithKey builds the field cipher from a raw key and creates a Vault.
func NewWithKey(key []byte, store domain.CredentialStore, logger *slog.Logger, opts ...Option) (*Vault, error) {
	c, err := crypto.NewFieldCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: %w: %v", domain.ErrEncryptionUnavailable, err)
	}
	return New(c, store, logger, opts...), nil
}

// NormalizeVenue trims and lower-cases a venue identifier.
func NormalizeVenue(venue string) string {
	return strings.ToLower(strings.TrimSpace(venue))
}

// Store encrypts the secrets and replaces any existing record for
// (userID, venue). Concurrent writes for the same pair are serialized.
func (v *Vault) Store(ctx context.Context, userID, venue, apiKey, apiSecret string, isTestnet bool) (domain.CredentialRecord, error) {
	venue = NormalizeVenue(venue)
	if err := validatePair(userID, venue); err != nil {
		return domain.CredentialRecord{}, err
	}
	if apiKey == "" || apiSecret == "" {
		return domain.CredentialRecord{}, fmt.Errorf("vault: %w: api key and secret are required", domain.ErrValidation)
	}
	if v.cipher == nil {
		return domain.CredentialRecord{}, fmt.Errorf("vault: store: %w", domain.ErrEncryptionUnavailable)
	}

	unlock, err := v.lock(ctx, userID, venue)
	if err != nil {
		return domain.CredentialRecord{}, err
	}
	defer unlock()

	encKey, err := v.cipher.Seal(apiKey, additionalData(userID, venue, fieldAPIKey))
	if err != nil {
		return domain.CredentialRecord{}, fmt.Errorf("vault: seal api key: %w: %v", domain.ErrEncryptionUnavailable, err)
	}
	encSecret, err := v.cipher.Seal(apiSecret, additionalData(userID, venue, fieldAPISecret))
	if err != nil {
		return domain.CredentialRecord{}, fmt.Errorf("vault: seal api secret: %w: %v", domain.ErrEncryptionUnavailable, err)
	}

	rec := domain.CredentialRecord{
		UserID:             userID,
		Venue:              venue,
		EncryptedAPIKey:    encKey,
		EncryptedAPISecret: encSecret,
		IsTestnet:          isTestnet,
		CreatedAt:          v.now().UTC(),
	}
	if err := v.store.Upsert(ctx, rec); err != nil {
		return domain.CredentialRecord{}, fmt.Errorf("vault: store %s/%s: %w", userID, venue, err)
	}

	v.logger.InfoContext(ctx, "credential stored",
		slog.String("user_id", userID),
		slog.String("venue", venue),
		slog.Bool("testnet", isTestnet),
	)
	return rec, nil
}

// RetrieveAll decrypts every record owned by userID. A record that fails to
// decrypt is returned with Err wrapping domain.ErrCorruptCredential and does
// not affect the others.
func (v *Vault) RetrieveAll(ctx context.Context, userID string) ([]domain.CredentialView, error) {
	if v.cipher == nil {
		return nil, fmt.Errorf("vault: retrieve: %w", domain.ErrEncryptionUnavailable)
	}
	recs, err := v.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("vault: list %s: %w", userID, err)
	}

	views := make([]domain.CredentialView, 0, len(recs))
	for _, rec := range recs {
		view := v.open(rec)
		if view.Err != nil {
			v.logger.WarnContext(ctx, "credential failed to decrypt",
				slog.String("user_id", rec.UserID),
				slog.String("venue", rec.Venue),
			)
		}
		views = append(views, view)
	}
	return views, nil
}

// Retrieve decrypts the single record for (userID, venue). It returns
// domain.ErrNotFound when no record exists and domain.ErrCorruptCredential
// when it cannot be decrypted.
func (v *Vault) Retrieve(ctx context.Context, userID, venue string) (domain.CredentialView, error) {
	venue = NormalizeVenue(venue)
	if v.cipher == nil {
		return domain.CredentialView{}, fmt.Errorf("vault: retrieve: %w", domain.ErrEncryptionUnavailable)
	}
	rec, err := v.store.Get(ctx, userID, venue)
	if err != nil {
		return domain.CredentialView{}, fmt.Errorf("vault: get %s/%s: %w", userID, venue, err)
	}
	view := v.open(rec)
	if view.Err != nil {
		return view, view.Err
	}
	return view, nil
}

// Delete removes the record for (userID, venue). Deleting a missing pair is
// not an error.
func (v *Vault) Delete(ctx context.Context, userID, venue string) error {
	venue = NormalizeVenue(venue)
	if err := validatePair(userID, venue); err != nil {
		return err
	}

	unlock, err := v.lock(ctx, userID, venue)
	if err != nil {
		return err
	}
	defer unlock()

	if err := v.store.Delete(ctx, userID, venue); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("vault: delete %s/%s: %w", userID, venue, err)
	}
	v.logger.InfoContext(ctx, "credential deleted",
		slog.String("user_id", userID),
		slog.String("venue", venue),
	)
	return nil
}

func (v *Vault) open(rec domain.CredentialRecord) domain.CredentialView {
	view := domain.CredentialView{
		UserID:    rec.UserID,
		Venue:     rec.Venue,
		IsTestnet: rec.IsTestnet,
		CreatedAt: rec.CreatedAt,
	}
	key, err := v.cipher.Open(rec.EncryptedAPIKey, additionalData(rec.UserID, rec.Venue, fieldAPIKey))
	if err != nil {
		view.Err = fmt.Errorf("vault: %s api key: %w", rec.Venue, domain.ErrCorruptCredential)
		return view
	}
	secret, err := v.cipher.Open(rec.EncryptedAPISecret, additionalData(rec.UserID, rec.Venue, fieldAPISecret))
	if err != nil {
		view.Err = fmt.Errorf("vault: %s api secret: %w", rec.Venue, domain.ErrCorruptCredential)
		return view
	}
	view.APIKey = key
	view.APISecret = secret
	return view
}

// lock takes the in-process lock for the pair and, when configured, the
// distributed one. The distributed lock is polled until ctx is done.
func (v *Vault) lock(ctx context.Context, userID, venue string) (func(), error) {
	key := "vault:" + userID + ":" + venue
	release := v.keyed.Lock(key)
	if v.locks == nil {
		return release, nil
	}

	for {
		unlock, err := v.locks.Acquire(ctx, key, defaultLockTTL)
		if err == nil {
			return func() {
				unlock()
				release()
			}, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			release()
			return nil, fmt.Errorf("vault: lock %s: %w", key, err)
		}

		timer := time.NewTimer(lockPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			release()
			return nil, fmt.Errorf("vault: lock %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
}

func validatePair(userID, venue string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("vault: %w: user id is required", domain.ErrValidation)
	}
	if !venuePattern.MatchString(venue) {
		return fmt.Errorf("vault: %w: invalid venue %q", domain.ErrValidation, venue)
	}
	return nil
}

// additionalData binds a ciphertext to its row and column. Venues cannot
// contain '|', so the encoding is unambiguous.
func additionalData(userID, venue, field string) []byte {
	return []byte(userID + "|" + venue + "|" + field)
}
