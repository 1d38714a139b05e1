package sink

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // sqlite driver

	"github.com/luckyPipewrench/hookrelay/internal/event"
)

const createEventsTable = `
CREATE TABLE IF NOT EXISTS events (
	id          TEXT PRIMARY KEY,
	received_at TEXT NOT NULL,
	kind        TEXT NOT NULL,
	user        TEXT NOT NULL,
	payload     TEXT NOT NULL,
	client_ip   TEXT NOT NULL,
	user_agent  TEXT NOT NULL
)`

// SQLiteSink records events in a local SQLite database. One row per
// event; the table is created at startup.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at path and ensures the
// events table exists.
func NewSQLite(ctx context.Context, path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite %s: %w", path, err)
	}
	// The file sink already serializes its writes; SQLite gets the same
	// treatment by capping the pool at one connection.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, createEventsTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating events table: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

// Name implements Sink.
func (s *SQLiteSink) Name() string { return "sqlite" }

// Configured implements Sink.
func (s *SQLiteSink) Configured() bool { return true }

// Close implements Sink.
func (s *SQLiteSink) Close() error { return s.db.Close() }

// Append inserts one event row.
func (s *SQLiteSink) Append(ctx context.Context, ev *event.Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, received_at, kind, user, payload, client_ip, user_agent)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.TimestampString(), string(ev.Kind), ev.User, ev.Payload, ev.ClientIP, ev.UserAgent,
	)
	if err != nil {
		return fmt.Errorf("inserting event %s: %w", ev.ID, err)
	}
	return nil
}

// Count returns the number of recorded events.
func (s *SQLiteSink) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting events: %w", err)
	}
	return n, nil
}
