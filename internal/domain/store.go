package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// CredentialStore persists encrypted credential records. Upsert replaces any
// existing record for the same (user, venue) pair in a single statement.
type CredentialStore interface {
	Upsert(ctx context.Context, rec CredentialRecord) error
	Get(ctx context.Context, userID, venue string) (CredentialRecord, error)
	ListByUser(ctx context.Context, userID string) ([]CredentialRecord, error)
	Delete(ctx context.Context, userID, venue string) error
}

// OutcomeStore persists trade outcomes.
type OutcomeStore interface {
	Create(ctx context.Context, outcome TradeOutcome) error
	GetByID(ctx context.Context, id string) (TradeOutcome, error)
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]TradeOutcome, error)
}

// UserStore registers users on first contact.
type UserStore interface {
	Touch(ctx context.Context, id, username string) (User, error)
	GetByID(ctx context.Context, id string) (User, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// Stores bundles one backend's implementations.
type Stores struct {
	Credentials CredentialStore
	Outcomes    OutcomeStore
	Users       UserStore
	Audit       AuditStore
	Close       func()
}
