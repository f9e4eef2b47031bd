// Package store keeps a SQLite log of comparator events and wait results.
package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver.
)

// Event is one comparator interrupt reported by the firmware.
type Event struct {
	ID         int64
	ReceivedAt time.Time
	Clock      uint32 // MCU millisecond tick
	Count      uint32 // running interrupt count on the MCU
	Edge       string
}

// Wait is the outcome of one blocking wait request.
type Wait struct {
	ID          int64
	RequestedAt time.Time
	TimeoutMs   uint32
	Triggered   bool
	Clock       uint32
}

// Store wraps SQLite access for the event log.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database and applies migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		if cerr := db.Close(); cerr != nil {
			// Best-effort close on migration failure.
			_ = cerr
		}
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY,
			received_at TEXT NOT NULL,
			clock INTEGER NOT NULL,
			count INTEGER NOT NULL,
			edge TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS waits (
			id INTEGER PRIMARY KEY,
			requested_at TEXT NOT NULL,
			timeout_ms INTEGER NOT NULL,
			triggered INTEGER NOT NULL,
			clock INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_received_at ON events(received_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// InsertEvents stores a batch of events in one transaction.
func (s *Store) InsertEvents(ctx context.Context, events []Event) (err error) {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				// Best-effort rollback.
				_ = rerr
			}
		}
	}()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO events (received_at, clock, count, edge) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := stmt.Close(); cerr != nil {
			// Best-effort statement close.
			_ = cerr
		}
	}()
	for _, ev := range events {
		if _, err = stmt.ExecContext(ctx, ev.ReceivedAt.Format(time.RFC3339Nano), ev.Clock, ev.Count, ev.Edge); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// InsertEvent stores a single event.
func (s *Store) InsertEvent(ctx context.Context, ev Event) error {
	return s.InsertEvents(ctx, []Event{ev})
}

// InsertWait stores the outcome of a wait request and returns its row id.
func (s *Store) InsertWait(ctx context.Context, w Wait) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO waits (requested_at, timeout_ms, triggered, clock) VALUES (?, ?, ?, ?)`,
		w.RequestedAt.Format(time.RFC3339Nano), w.TimeoutMs, w.Triggered, w.Clock)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RecentEvents returns up to limit events, newest first.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, received_at, clock, count, edge FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var events []Event
	for rows.Next() {
		var ev Event
		var receivedAt string
		if err := rows.Scan(&ev.ID, &receivedAt, &ev.Clock, &ev.Count, &ev.Edge); err != nil {
			return nil, err
		}
		parsed, err := time.Parse(time.RFC3339Nano, receivedAt)
		if err != nil {
			return nil, err
		}
		ev.ReceivedAt = parsed
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// RecentWaits returns up to limit wait results, newest first.
func (s *Store) RecentWaits(ctx context.Context, limit int) ([]Wait, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, requested_at, timeout_ms, triggered, clock FROM waits ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var waits []Wait
	for rows.Next() {
		var w Wait
		var requestedAt string
		if err := rows.Scan(&w.ID, &requestedAt, &w.TimeoutMs, &w.Triggered, &w.Clock); err != nil {
			return nil, err
		}
		parsed, err := time.Parse(time.RFC3339Nano, requestedAt)
		if err != nil {
			return nil, err
		}
		w.RequestedAt = parsed
		waits = append(waits, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return waits, nil
}

// EventCount returns the number of stored events.
func (s *Store) EventCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n)
	return n, err
}
