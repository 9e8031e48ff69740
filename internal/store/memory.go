package store

import (
	"context"
	"sort"
	"sync"

	"calcore/internal/model"
)

// Memory is the in-memory Store used by tests and single-process
// deployments without durability needs.
type Memory struct {
	mu        sync.RWMutex
	calendars map[string]*model.Calendar
	events    map[string]map[string]*model.Event // calendar ref -> event id -> event
	arrival   map[string]int                     // event lock key -> insertion order
	nextSeq   int
	locks     *lockTable
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		calendars: make(map[string]*model.Calendar),
		events:    make(map[string]map[string]*model.Event),
		arrival:   make(map[string]int),
		locks:     newLockTable(),
	}
}

var _ Store = (*Memory)(nil)

func eventKey(calendarRef, id string) string {
	return model.EventRef(calendarRef, id)
}

func (m *Memory) ExistsCalendar(_ context.Context, ref string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.calendars[ref]
	return ok, nil
}

func (m *Memory) GetCalendar(_ context.Context, ref string) (*model.Calendar, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cal, ok := m.calendars[ref]
	if !ok {
		return nil, ErrNotFound
	}
	return cal.Clone(), nil
}

func (m *Memory) PutCalendar(_ context.Context, cal *model.Calendar) (*model.Calendar, error) {
	ref := cal.Reference()
	m.mu.RLock()
	_, exists := m.calendars[ref]
	m.mu.RUnlock()
	if exists {
		return nil, ErrInUse
	}
	if !m.locks.acquire(ref) {
		return nil, ErrInUse
	}
	return cal.Clone(), nil
}

func (m *Memory) CheckoutCalendar(_ context.Context, ref string) (*model.Calendar, error) {
	m.mu.RLock()
	cal, ok := m.calendars[ref]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if !m.locks.acquire(ref) {
		return nil, ErrInUse
	}
	return cal.Clone(), nil
}

func (m *Memory) CommitCalendar(_ context.Context, cal *model.Calendar) error {
	ref := cal.Reference()
	m.mu.Lock()
	m.calendars[ref] = cal.Clone()
	if _, ok := m.events[ref]; !ok {
		m.events[ref] = make(map[string]*model.Event)
	}
	m.mu.Unlock()
	m.locks.release(ref)
	return nil
}

func (m *Memory) CancelCalendar(_ context.Context, ref string) error {
	m.locks.release(ref)
	return nil
}

func (m *Memory) RemoveCalendar(_ context.Context, ref string) error {
	m.mu.Lock()
	delete(m.calendars, ref)
	delete(m.events, ref)
	m.mu.Unlock()
	m.locks.release(ref)
	return nil
}

func (m *Memory) GetEvent(_ context.Context, calendarRef, id string) (*model.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ev, ok := m.events[calendarRef][id]
	if !ok {
		return nil, ErrNotFound
	}
	return ev.Clone(), nil
}

func (m *Memory) GetEvents(_ context.Context, calendarRef string, limit int) ([]*model.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byID, ok := m.events[calendarRef]
	if !ok {
		if _, calOK := m.calendars[calendarRef]; !calOK {
			return nil, ErrNotFound
		}
		return nil, nil
	}

	out := make([]*model.Event, 0, len(byID))
	for _, ev := range byID {
		out = append(out, ev.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		si, sj := out[i].Range.Start, out[j].Range.Start
		if !si.Equal(sj) {
			return si.Before(sj)
		}
		return m.arrival[eventKey(calendarRef, out[i].ID)] < m.arrival[eventKey(calendarRef, out[j].ID)]
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) PutEvent(_ context.Context, calendarRef, id string) (*model.Event, error) {
	m.mu.RLock()
	_, calOK := m.calendars[calendarRef]
	_, exists := m.events[calendarRef][id]
	m.mu.RUnlock()
	if !calOK {
		return nil, ErrNotFound
	}
	if exists {
		return nil, ErrInUse
	}
	if !m.locks.acquire(eventKey(calendarRef, id)) {
		return nil, ErrInUse
	}
	return &model.Event{ID: id, CalendarRef: calendarRef, Access: model.ScopeSite}, nil
}

func (m *Memory) CheckoutEvent(_ context.Context, calendarRef, id string) (*model.Event, error) {
	m.mu.RLock()
	ev, ok := m.events[calendarRef][id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if !m.locks.acquire(eventKey(calendarRef, id)) {
		return nil, ErrInUse
	}
	return ev.Clone(), nil
}

func (m *Memory) CommitEvent(_ context.Context, ev *model.Event) error {
	key := eventKey(ev.CalendarRef, ev.ID)
	m.mu.Lock()
	byID, ok := m.events[ev.CalendarRef]
	if !ok {
		byID = make(map[string]*model.Event)
		m.events[ev.CalendarRef] = byID
	}
	if _, seen := m.arrival[key]; !seen {
		m.arrival[key] = m.nextSeq
		m.nextSeq++
	}
	byID[ev.ID] = ev.Clone()
	m.mu.Unlock()
	m.locks.release(key)
	return nil
}

func (m *Memory) CancelEvent(_ context.Context, calendarRef, id string) error {
	m.locks.release(eventKey(calendarRef, id))
	return nil
}

func (m *Memory) RemoveEvent(_ context.Context, calendarRef, id string) error {
	key := eventKey(calendarRef, id)
	m.mu.Lock()
	delete(m.events[calendarRef], id)
	delete(m.arrival, key)
	m.mu.Unlock()
	m.locks.release(key)
	return nil
}

func (m *Memory) Close() error { return nil }
