package domain

import (
	"context"
	"io"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// OutcomeArchiver copies finished outcomes to cold storage.
type OutcomeArchiver interface {
	Archive(ctx context.Context, outcome TradeOutcome) error
}
