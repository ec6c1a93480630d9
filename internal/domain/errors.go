package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrRateLimited      = errors.New("rate limited")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrLockHeld         = errors.New("lock already held")
	ErrDuplicateRequest = errors.New("duplicate request")
	ErrValidation       = errors.New("validation failed")

	// Vault
	ErrEncryptionUnavailable = errors.New("encryption unavailable")
	ErrCorruptCredential     = errors.New("corrupt credential")

	// Gateway
	ErrUnknownVenue         = errors.New("unknown venue")
	ErrOrderRejected        = errors.New("order rejected")
	ErrUnsupportedAttribute = errors.New("unsupported order attribute")

	// Orchestrator
	ErrPriceFetchFailed       = errors.New("price fetch failed")
	ErrOneLegRejected         = errors.New("one leg rejected")
	ErrBothLegsRejected       = errors.New("both legs rejected")
	ErrConditionalOrderFailed = errors.New("conditional order failed")
	ErrGatewayUnavailable     = errors.New("gateway unavailable")
	ErrPartialFill            = errors.New("partial fill")
	ErrCancelled              = errors.New("request cancelled")
)
