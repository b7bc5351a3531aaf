// Package journal records the envelopes handled by the exporter in a local
// SQLite database, so an operator can see what left the machine.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sweeney/box-counter/internal/bus"
)

const driverName = "sqlite"

// Fixed width so occurred_at sorts as text.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

const schema = `
CREATE TABLE IF NOT EXISTS envelopes (
    id TEXT PRIMARY KEY,
    occurred_at TEXT NOT NULL,
    type TEXT NOT NULL,
    event TEXT NOT NULL,
    data TEXT
);
`

// Entry is one journaled envelope.
type Entry struct {
	ID         string
	OccurredAt time.Time
	Type       bus.Type
	Event      string
	Data       string
}

// Store is a SQLite-backed journal.
type Store struct {
	db *sql.DB
}

// Open opens or creates the journal at path and ensures the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %q: %w", path, err)
	}
	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return New(db), nil
}

// New wraps an already open database. The schema is assumed to exist.
func New(db *sql.DB) *Store { return &Store{db: db} }

// Append records env. An envelope already in the journal is ignored, since
// the broker may redeliver.
func (s *Store) Append(ctx context.Context, env bus.Envelope) error {
	var data *string
	if len(env.Data) > 0 {
		d := string(env.Data)
		data = &d
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO envelopes (id, occurred_at, type, event, data)
		VALUES (?, ?, ?, ?, ?)
	`,
		env.ID,
		env.Timestamp.UTC().Format(tsLayout),
		string(env.Type),
		env.Event,
		data,
	)
	if err != nil {
		return fmt.Errorf("journal append %s: %w", env.ID, err)
	}
	return nil
}

// Recent returns up to n entries, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, occurred_at, type, event, data FROM envelopes
		ORDER BY occurred_at DESC LIMIT ?
	`, n)
	if err != nil {
		return nil, fmt.Errorf("journal recent: %w", err)
	}
	defer rows.Close()

	out := make([]Entry, 0, n)
	for rows.Next() {
		var (
			e    Entry
			ts   string
			typ  string
			data sql.NullString
		)
		if err := rows.Scan(&e.ID, &ts, &typ, &e.Event, &data); err != nil {
			return nil, fmt.Errorf("journal scan: %w", err)
		}
		if e.OccurredAt, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("journal entry %s: bad timestamp %q: %w", e.ID, ts, err)
		}
		e.Type = bus.Type(typ)
		e.Data = data.String
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal rows: %w", err)
	}
	return out, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }
