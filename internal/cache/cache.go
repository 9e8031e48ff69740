// Package cache keeps recently fetched calendars in memory, keyed by
// reference string, and drops entries when the bus reports a change.
package cache

import (
	"context"
	"sync"

	"calcore/internal/bus"
	"calcore/internal/model"
)

// Fetcher loads a calendar from backing storage.
type Fetcher func(ctx context.Context, ref string) (*model.Calendar, error)

// Calendars is a read-through calendar cache. Lookups that miss go to
// the fetcher; the lock is never held across the fetch, so concurrent
// misses may fetch redundantly but never deadlock against the store.
type Calendars struct {
	mu      sync.RWMutex
	entries map[string]*model.Calendar
	fetch   Fetcher
}

func NewCalendars(fetch Fetcher) *Calendars {
	return &Calendars{
		entries: make(map[string]*model.Calendar),
		fetch:   fetch,
	}
}

// Attach subscribes the cache to change notifications. Calendar
// changes invalidate the calendar itself; event changes invalidate the
// containing calendar, since queries read events through it.
func (c *Calendars) Attach(b *bus.Bus) {
	b.Subscribe(func(n bus.Notification) {
		c.Invalidate(n.CalendarRef)
	})
}

// Get returns the cached calendar or fetches and caches it.
func (c *Calendars) Get(ctx context.Context, ref string) (*model.Calendar, error) {
	c.mu.RLock()
	cal, ok := c.entries[ref]
	c.mu.RUnlock()
	if ok {
		return cal, nil
	}

	cal, err := c.fetch(ctx, ref)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.entries[ref] = cal
	c.mu.Unlock()
	return cal, nil
}

// Invalidate drops the entry for ref, if any.
func (c *Calendars) Invalidate(ref string) {
	c.mu.Lock()
	delete(c.entries, ref)
	c.mu.Unlock()
}

// Len reports the number of cached entries.
func (c *Calendars) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
