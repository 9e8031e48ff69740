package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver

	"calcore/internal/model"
)

// sqliteSchema bootstraps the two record tables. Payloads are stored as
// JSON documents; start_ms is denormalized so event listing can be
// ordered and limited in SQL.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS calendars (
	ref     TEXT PRIMARY KEY,
	payload TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	calendar_ref TEXT NOT NULL,
	id           TEXT NOT NULL,
	start_ms     INTEGER NOT NULL,
	payload      TEXT NOT NULL,
	PRIMARY KEY (calendar_ref, id)
);

CREATE INDEX IF NOT EXISTS idx_events_calendar_start
	ON events (calendar_ref, start_ms);
`

// SQLite is the durable Store. Record payloads are JSON; exclusive
// checkout locks are in-process (the engine owns its database file).
type SQLite struct {
	db    *sqlx.DB
	locks *lockTable
}

// OpenSQLite opens (creating if needed) the database file at path and
// applies the schema. Use ":memory:" for an ephemeral database.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sqlx.Connect("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: connecting sqlite: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise see its own empty
		// in-memory database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: applying schema: %w", err)
	}
	return &SQLite{db: db, locks: newLockTable()}, nil
}

var _ Store = (*SQLite)(nil)

func (s *SQLite) ExistsCalendar(ctx context.Context, ref string) (bool, error) {
	var one int
	err := s.db.GetContext(ctx, &one, `SELECT 1 FROM calendars WHERE ref = ?`, ref)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: calendar exists check: %w", err)
	}
	return true, nil
}

func (s *SQLite) GetCalendar(ctx context.Context, ref string) (*model.Calendar, error) {
	var payload string
	err := s.db.GetContext(ctx, &payload, `SELECT payload FROM calendars WHERE ref = ?`, ref)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: reading calendar: %w", err)
	}
	var cal model.Calendar
	if err := json.Unmarshal([]byte(payload), &cal); err != nil {
		return nil, fmt.Errorf("store: decoding calendar %s: %w", ref, err)
	}
	return &cal, nil
}

func (s *SQLite) PutCalendar(ctx context.Context, cal *model.Calendar) (*model.Calendar, error) {
	ref := cal.Reference()
	exists, err := s.ExistsCalendar(ctx, ref)
	if err != nil {
		return nil, err
	}
	if exists || !s.locks.acquire(ref) {
		return nil, ErrInUse
	}
	return cal.Clone(), nil
}

func (s *SQLite) CheckoutCalendar(ctx context.Context, ref string) (*model.Calendar, error) {
	cal, err := s.GetCalendar(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !s.locks.acquire(ref) {
		return nil, ErrInUse
	}
	return cal, nil
}

func (s *SQLite) CommitCalendar(ctx context.Context, cal *model.Calendar) error {
	ref := cal.Reference()
	defer s.locks.release(ref)

	payload, err := json.Marshal(cal)
	if err != nil {
		return fmt.Errorf("store: encoding calendar %s: %w", ref, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO calendars (ref, payload) VALUES (?, ?)
		 ON CONFLICT(ref) DO UPDATE SET payload = excluded.payload`,
		ref, string(payload))
	if err != nil {
		return fmt.Errorf("store: writing calendar %s: %w", ref, err)
	}
	return nil
}

func (s *SQLite) CancelCalendar(_ context.Context, ref string) error {
	s.locks.release(ref)
	return nil
}

func (s *SQLite) RemoveCalendar(ctx context.Context, ref string) error {
	defer s.locks.release(ref)
	if _, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE calendar_ref = ?`, ref); err != nil {
		return fmt.Errorf("store: removing calendar events %s: %w", ref, err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM calendars WHERE ref = ?`, ref); err != nil {
		return fmt.Errorf("store: removing calendar %s: %w", ref, err)
	}
	return nil
}

func (s *SQLite) GetEvent(ctx context.Context, calendarRef, id string) (*model.Event, error) {
	var payload string
	err := s.db.GetContext(ctx, &payload,
		`SELECT payload FROM events WHERE calendar_ref = ? AND id = ?`, calendarRef, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: reading event: %w", err)
	}
	var ev model.Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return nil, fmt.Errorf("store: decoding event %s/%s: %w", calendarRef, id, err)
	}
	return &ev, nil
}

func (s *SQLite) GetEvents(ctx context.Context, calendarRef string, limit int) ([]*model.Event, error) {
	exists, err := s.ExistsCalendar(ctx, calendarRef)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}

	query := `SELECT payload FROM events WHERE calendar_ref = ? ORDER BY start_ms, rowid`
	args := []any{calendarRef}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var payloads []string
	if err := s.db.SelectContext(ctx, &payloads, query, args...); err != nil {
		return nil, fmt.Errorf("store: listing events %s: %w", calendarRef, err)
	}

	out := make([]*model.Event, 0, len(payloads))
	for _, payload := range payloads {
		var ev model.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("store: decoding event in %s: %w", calendarRef, err)
		}
		out = append(out, &ev)
	}
	return out, nil
}

func (s *SQLite) PutEvent(ctx context.Context, calendarRef, id string) (*model.Event, error) {
	exists, err := s.ExistsCalendar(ctx, calendarRef)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}
	if _, err := s.GetEvent(ctx, calendarRef, id); err == nil {
		return nil, ErrInUse
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if !s.locks.acquire(model.EventRef(calendarRef, id)) {
		return nil, ErrInUse
	}
	return &model.Event{ID: id, CalendarRef: calendarRef, Access: model.ScopeSite}, nil
}

func (s *SQLite) CheckoutEvent(ctx context.Context, calendarRef, id string) (*model.Event, error) {
	ev, err := s.GetEvent(ctx, calendarRef, id)
	if err != nil {
		return nil, err
	}
	if !s.locks.acquire(model.EventRef(calendarRef, id)) {
		return nil, ErrInUse
	}
	return ev, nil
}

func (s *SQLite) CommitEvent(ctx context.Context, ev *model.Event) error {
	key := model.EventRef(ev.CalendarRef, ev.ID)
	defer s.locks.release(key)

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("store: encoding event %s: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (calendar_ref, id, start_ms, payload) VALUES (?, ?, ?, ?)
		 ON CONFLICT(calendar_ref, id) DO UPDATE SET
			start_ms = excluded.start_ms,
			payload  = excluded.payload`,
		ev.CalendarRef, ev.ID, ev.Range.Start.UnixMilli(), string(payload))
	if err != nil {
		return fmt.Errorf("store: writing event %s: %w", key, err)
	}
	return nil
}

func (s *SQLite) CancelEvent(_ context.Context, calendarRef, id string) error {
	s.locks.release(model.EventRef(calendarRef, id))
	return nil
}

func (s *SQLite) RemoveEvent(ctx context.Context, calendarRef, id string) error {
	key := model.EventRef(calendarRef, id)
	defer s.locks.release(key)
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM events WHERE calendar_ref = ? AND id = ?`, calendarRef, id); err != nil {
		return fmt.Errorf("store: removing event %s: %w", key, err)
	}
	return nil
}

func (s *SQLite) Close() error { return s.db.Close() }
