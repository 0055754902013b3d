// Package sqlite is the default (and only carried-forward) history.Sink
// backend: an append-only SQLite table, pure Go via modernc.org/sqlite (no
// cgo). Kept from the teacher's internal/history/sqlite/sqlite.go, with its
// schema and Send widened from a single job-result row to spec.md §3's full
// Event shape.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/arrowcrest/supervice/internal/history"
)

// Sink writes audited events to a SQLite database.
type Sink struct {
	db *sql.DB
}

// New opens (creating if needed) the SQLite database at dsn and ensures its
// schema exists. dsn accepts a bare file path, ":memory:", or a
// "sqlite://..." prefixed form.
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = strings.TrimPrefix(dsn, "sqlite://")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	sink := &Sink{db: db}
	if err := sink.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sink, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmt := `CREATE TABLE IF NOT EXISTS events(
		occurred_at   TIMESTAMP NOT NULL DEFAULT (CURRENT_TIMESTAMP),
		kind          TEXT NOT NULL,
		process_name  TEXT NOT NULL,
		group_name    TEXT NOT NULL,
		from_state    TEXT,
		pid           INTEGER,
		message       TEXT,
		failure_count INTEGER NOT NULL DEFAULT 0
	);`
	_, err := s.db.ExecContext(ctx, stmt)
	return err
}

// Send appends one event row.
func (s *Sink) Send(ctx context.Context, e history.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events(occurred_at, kind, process_name, group_name, from_state, pid, message, failure_count)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?);`,
		e.OccurredAt.UTC(), e.Kind.String(), e.ProcessName, e.GroupName, e.FromState, e.PID, e.Message, e.FailureCount)
	return err
}

// Close closes the underlying database handle.
func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
