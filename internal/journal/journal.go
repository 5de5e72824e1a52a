package journal

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"coffre/internal/config"
)

// EventKind labels one recorded lifecycle event.
type EventKind string

const (
	EventStateChange    EventKind = "state_change"
	EventDaemonSpawned  EventKind = "daemon_spawned"
	EventConnectAttempt EventKind = "connect_attempt"
	EventConnected      EventKind = "connected"
	EventDisconnected   EventKind = "disconnected"
	EventInstallerStep  EventKind = "installer_step"
	EventConfigWritten  EventKind = "config_written"
	EventUnrecoverable  EventKind = "unrecoverable"
)

// Event is one journal entry, newest first in listings.
type Event struct {
	ID     int64
	At     time.Time
	Kind   EventKind
	Detail string
}

// Store manages journal persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const schema = `
CREATE TABLE IF NOT EXISTS events (
    id      INTEGER PRIMARY KEY AUTOINCREMENT,
    at      TEXT NOT NULL,
    kind    TEXT NOT NULL,
    detail  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_events_at ON events(at);
`

// Open initializes or connects to the journal database in the data directory.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(cfg.DataDir, "journal.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply journal schema: %w", err)
	}
	return &Store{db: db, path: dbPath}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Record appends one event.
func (s *Store) Record(ctx context.Context, kind EventKind, detail string) error {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (at, kind, detail) VALUES (?, ?, ?)`,
		timestamp, string(kind), detail,
	)
	if err != nil {
		return fmt.Errorf("record journal event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, at, kind, detail FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query journal events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var event Event
		var at string
		if err := rows.Scan(&event.ID, &at, &event.Kind, &event.Detail); err != nil {
			return nil, fmt.Errorf("scan journal event: %w", err)
		}
		parsed, parseErr := time.Parse(time.RFC3339Nano, at)
		if parseErr != nil {
			return nil, fmt.Errorf("parse journal timestamp %q: %w", at, parseErr)
		}
		event.At = parsed
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal events: %w", err)
	}
	return events, nil
}

// Prune removes events older than the retention window.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention).Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune journal events: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count pruned events: %w", err)
	}
	return removed, nil
}
