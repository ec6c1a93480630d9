package memory

import "github.com/alanyoungcy/pairbot/internal/domain"

// NewStores returns a fresh set of in-memory stores.
func NewStores() domain.Stores {
	return domain.Stores{
		Credentials: NewCredentialStore(),
		Outcomes:    NewOutcomeStore(),
		Users:       NewUserStore(),
		Audit:       NewAuditStore(),
		Close:       func() {},
	}
}
