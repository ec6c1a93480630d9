package domain

import "time"

// CredentialRecord is the persisted form of one venue credential set. Only
// ciphertext is stored; plaintext lives in a CredentialView for the duration
// of a gateway call.
type CredentialRecord struct {
	UserID             string
	Venue              string
	EncryptedAPIKey    string
	EncryptedAPISecret string
	IsTestnet          bool
	CreatedAt          time.Time
}

// CredentialView is a decrypted credential. Err is set (wrapping
// ErrCorruptCredential) when the stored ciphertext could not be opened; the
// secret fields are empty in that case.
type CredentialView struct {
	UserID    string
	Venue     string
	APIKey    string
	APISecret string
	IsTestnet bool
	CreatedAt time.Time
	Err       error
}

// Credentials returns the subset of the view a gateway needs.
func (v CredentialView) Credentials() Credentials {
	return Credentials{
		APIKey:    v.APIKey,
		APISecret: v.APISecret,
		Testnet:   v.IsTestnet,
	}
}

// CredentialSummary is the secret-free listing entry shown to users.
type CredentialSummary struct {
	Venue     string    `json:"venue"`
	IsTestnet bool      `json:"is_testnet"`
	CreatedAt time.Time `json:"created_at"`
	Corrupt   bool      `json:"corrupt"`
}

// User is a registered bot user.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}
