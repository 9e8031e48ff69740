// Package store defines the durable record store behind the engine and
// two implementations: an in-memory store and a SQLite-backed one.
//
// Checkout-style mutual exclusion is per resource reference and
// fail-fast: a second checkout while a writable copy is outstanding
// returns ErrInUse immediately instead of queueing. Protocol
// enforcement beyond that (active-edit tracking, leases) lives in the
// service layer.
package store

import (
	"context"
	"errors"
	"sync"

	"calcore/internal/model"
)

var (
	// ErrNotFound reports an unknown calendar or event reference.
	ErrNotFound = errors.New("store: not found")
	// ErrInUse reports checkout contention or an already-reserved id.
	ErrInUse = errors.New("store: resource in use")
)

// Store is the durable record store. Put* reserves a new id and returns
// a locked writable copy; Checkout* locks an existing record and
// returns a writable copy; Commit* persists and releases the lock;
// Cancel* releases without persisting. Returned records are always
// private copies of the stored state.
type Store interface {
	ExistsCalendar(ctx context.Context, ref string) (bool, error)
	GetCalendar(ctx context.Context, ref string) (*model.Calendar, error)
	PutCalendar(ctx context.Context, cal *model.Calendar) (*model.Calendar, error)
	CheckoutCalendar(ctx context.Context, ref string) (*model.Calendar, error)
	CommitCalendar(ctx context.Context, cal *model.Calendar) error
	CancelCalendar(ctx context.Context, ref string) error
	RemoveCalendar(ctx context.Context, ref string) error

	GetEvent(ctx context.Context, calendarRef, id string) (*model.Event, error)
	// GetEvents returns the calendar's stored events ordered by start
	// instant (ties by insertion order). A positive limit truncates.
	GetEvents(ctx context.Context, calendarRef string, limit int) ([]*model.Event, error)
	PutEvent(ctx context.Context, calendarRef, id string) (*model.Event, error)
	CheckoutEvent(ctx context.Context, calendarRef, id string) (*model.Event, error)
	CommitEvent(ctx context.Context, ev *model.Event) error
	CancelEvent(ctx context.Context, calendarRef, id string) error
	RemoveEvent(ctx context.Context, calendarRef, id string) error

	Close() error
}

// lockTable is the in-process exclusive-lock registry shared by the
// store implementations. Keys are resource reference strings.
type lockTable struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newLockTable() *lockTable {
	return &lockTable{held: make(map[string]struct{})}
}

// acquire takes the lock for key, reporting false when already held.
func (l *lockTable) acquire(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return false
	}
	l.held[key] = struct{}{}
	return true
}

func (l *lockTable) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
}
