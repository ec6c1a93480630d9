// Package sqlite implements the domain stores on a single SQLite file, for
// one-node deployments. Timestamps are stored as Unix microseconds.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/alanyoungcy/pairbot/internal/domain"
)

//go:embed schema.sql
var schema string

// DB is an open SQLite database with the schema applied.
type DB struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at path and applies the schema.
func Open(ctx context.Context, path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &DB{db: db, now: time.Now}, nil
}

// Close closes the database.
func (d *DB) Close() error { return d.db.Close() }

// Ping checks that the database file is usable.
func (d *DB) Ping(ctx context.Context) error { return d.db.PingContext(ctx) }

// Stores returns every store on this database. Closing the bundle closes
// the database.
func (d *DB) Stores() domain.Stores {
	return domain.Stores{
		Credentials: &CredentialStore{db: d.db},
		Outcomes:    &OutcomeStore{db: d.db},
		Users:       &UserStore{db: d.db, now: d.now},
		Audit:       &AuditStore{db: d.db, now: d.now},
		Close:       func() { _ = d.Close() },
	}
}

func toMicros(t time.Time) int64 { return t.UnixMicro() }

func fromMicros(us int64) time.Time { return time.UnixMicro(us).UTC() }

// appendListOpts adds filters on column, ordering and pagination.
func appendListOpts(query string, args []any, column, order string, opts domain.ListOpts) (string, []any) {
	if opts.Since != nil {
		query += " AND " + column + " >= ?"
		args = append(args, toMicros(*opts.Since))
	}
	if opts.Until != nil {
		query += " AND " + column + " <= ?"
		args = append(args, toMicros(*opts.Until))
	}
	query += " ORDER BY " + order
	switch {
	case opts.Limit > 0:
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	case opts.Offset > 0:
		// SQLite needs a LIMIT before OFFSET.
		query += " LIMIT -1"
	}
	if opts.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}
	return query, args
}
