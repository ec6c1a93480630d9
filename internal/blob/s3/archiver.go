package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/alanyoungcy/pairbot/internal/domain"
)

// OutcomeArchiver writes each outcome as a JSON object under
// <prefix>/<yyyy>/<mm>/<dd>/<user>/<outcome id>.json, dated by when the
// trade finished.
type OutcomeArchiver struct {
	writer domain.BlobWriter
	prefix string
}

// NewOutcomeArchiver creates an archiver writing below prefix ("outcomes"
// when empty).
func NewOutcomeArchiver(w domain.BlobWriter, prefix string) *OutcomeArchiver {
	if prefix == "" {
		prefix = "outcomes"
	}
	return &OutcomeArchiver{writer: w, prefix: prefix}
}

// Archive uploads o.
func (a *OutcomeArchiver) Archive(ctx context.Context, o domain.TradeOutcome) error {
	if o.ID == "" {
		return fmt.Errorf("s3blob: archive: outcome has no id")
	}
	body, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("s3blob: archive %s: marshal: %w", o.ID, err)
	}
	key := archivePath(a.prefix, o)
	if err := a.writer.Put(ctx, key, bytes.NewReader(body), "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive %s: %w", o.ID, err)
	}
	return nil
}

func archivePath(prefix string, o domain.TradeOutcome) string {
	ts := o.FinishedAt.UTC()
	user := o.UserID
	if user == "" {
		user = "_"
	}
	return path.Join(prefix, ts.Format("2006/01/02"), user, o.ID+".json")
}

var _ domain.OutcomeArchiver = (*OutcomeArchiver)(nil)
