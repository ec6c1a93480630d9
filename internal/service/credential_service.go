package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/alanyoungcy/pairbot/internal/domain"
	"github.com/alanyoungcy/pairbot/internal/notify"
	"github.com/alanyoungcy/pairbot/internal/vault"
)

// CredentialVault is the subset of *vault.Vault the service uses.
type CredentialVault interface {
	CredentialSource
	Store(ctx context.Context, userID, venue, apiKey, apiSecret string, isTestnet bool) (domain.CredentialRecord, error)
	RetrieveAll(ctx context.Context, userID string) ([]domain.CredentialView, error)
	Delete(ctx context.Context, userID, venue string) error
}

// EventNotifier announces operator-facing events.
type EventNotifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// CredentialService onboards, lists and removes venue credentials, and reads
// balances with them.
type CredentialService struct {
	vault  CredentialVault
	dialer domain.GatewayDialer
	users  domain.UserStore
	audit  domain.AuditStore
	events EventNotifier
	logger *slog.Logger
}

// NewCredentialService creates a CredentialService.
func NewCredentialService(
	v CredentialVault,
	dialer domain.GatewayDialer,
	users domain.UserStore,
	audit domain.AuditStore,
	logger *slog.Logger,
) *CredentialService {
	return &CredentialService{
		vault:  v,
		dialer: dialer,
		users:  users,
		audit:  audit,
		logger: logger.With(slog.String("component", "credential_service")),
	}
}

// WithNotifier announces credential changes as notify.EventCredential.
func (s *CredentialService) WithNotifier(n EventNotifier) *CredentialService {
	s.events = n
	return s
}

// AddCredential verifies the keys against the venue by fetching balances,
// then stores them, replacing any previous keys for the venue. Keys that fail
// the probe are never stored.
func (s *CredentialService) AddCredential(ctx context.Context, userID, username, venue, apiKey, apiSecret string, testnet bool) (domain.CredentialSummary, error) {
	venue = vault.NormalizeVenue(venue)
	if userID == "" {
		return domain.CredentialSummary{}, fmt.Errorf("credential_service: %w: user id is required", domain.ErrValidation)
	}
	if apiKey == "" || apiSecret == "" {
		return domain.CredentialSummary{}, fmt.Errorf("credential_service: %w: api key and secret are required", domain.ErrValidation)
	}
	if !slices.Contains(s.dialer.Venues(), venue) {
		return domain.CredentialSummary{}, fmt.Errorf("credential_service: %w: %q", domain.ErrUnknownVenue, venue)
	}
	if _, err := s.users.Touch(ctx, userID, username); err != nil {
		return domain.CredentialSummary{}, fmt.Errorf("credential_service: register user: %w", err)
	}

	creds := domain.Credentials{APIKey: apiKey, APISecret: apiSecret, Testnet: testnet}
	if _, err := s.fetchBalances(ctx, venue, creds); err != nil {
		s.logger.WarnContext(ctx, "credential probe failed",
			slog.String("user_id", userID),
			slog.String("venue", venue),
			slog.String("error", err.Error()),
		)
		return domain.CredentialSummary{}, fmt.Errorf("credential_service: probe %s: %w", venue, err)
	}

	rec, err := s.vault.Store(ctx, userID, venue, apiKey, apiSecret, testnet)
	if err != nil {
		return domain.CredentialSummary{}, fmt.Errorf("credential_service: %w", err)
	}
	s.auditLog(ctx, "credential_added", userID, venue, testnet)

	return domain.CredentialSummary{Venue: rec.Venue, IsTestnet: rec.IsTestnet, CreatedAt: rec.CreatedAt}, nil
}

// ListCredentials returns the user's venues without secrets. Records that
// fail to decrypt are flagged Corrupt.
func (s *CredentialService) ListCredentials(ctx context.Context, userID string) ([]domain.CredentialSummary, error) {
	views, err := s.vault.RetrieveAll(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("credential_service: %w", err)
	}
	out := make([]domain.CredentialSummary, 0, len(views))
	for _, v := range views {
		out = append(out, domain.CredentialSummary{
			Venue:     v.Venue,
			IsTestnet: v.IsTestnet,
			CreatedAt: v.CreatedAt,
			Corrupt:   v.Err != nil,
		})
	}
	return out, nil
}

// DeleteCredential removes the user's keys for venue. Removing keys that do
// not exist succeeds.
func (s *CredentialService) DeleteCredential(ctx context.Context, userID, venue string) error {
	venue = vault.NormalizeVenue(venue)
	if err := s.vault.Delete(ctx, userID, venue); err != nil {
		return fmt.Errorf("credential_service: %w", err)
	}
	s.auditLog(ctx, "credential_deleted", userID, venue, false)
	return nil
}

// Balances returns the user's non-zero balances on venue.
func (s *CredentialService) Balances(ctx context.Context, userID, venue string) (map[string]float64, error) {
	view, err := s.vault.Retrieve(ctx, userID, venue)
	if err != nil {
		return nil, fmt.Errorf("credential_service: %w", err)
	}
	all, err := s.fetchBalances(ctx, view.Venue, view.Credentials())
	if err != nil {
		return nil, fmt.Errorf("credential_service: balances %s: %w", view.Venue, err)
	}
	out := make(map[string]float64, len(all))
	for asset, amount := range all {
		if amount != 0 {
			out[asset] = amount
		}
	}
	return out, nil
}

func (s *CredentialService) fetchBalances(ctx context.Context, venue string, creds domain.Credentials) (map[string]float64, error) {
	gw, err := s.dialer.Dial(ctx, venue, creds)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := gw.Release(); err != nil {
			s.logger.WarnContext(ctx, "release failed", slog.String("venue", venue), slog.String("error", err.Error()))
		}
	}()
	return gw.FetchBalances(ctx)
}

func (s *CredentialService) auditLog(ctx context.Context, event, userID, venue string, testnet bool) {
	if err := s.audit.Log(ctx, event, map[string]any{
		"user_id": userID,
		"venue":   venue,
		"testnet": testnet,
	}); err != nil {
		s.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
	}
	if s.events == nil {
		return
	}
	msg := fmt.Sprintf("user %s, venue %s, testnet %t", userID, venue, testnet)
	if err := s.events.Notify(ctx, notify.EventCredential, event, msg); err != nil {
		s.logger.WarnContext(ctx, "notify failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}
