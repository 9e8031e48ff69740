// Package bus delivers change notifications inside the process.
// Subscribers run synchronously on the poster's goroutine, so a
// notification is fully handled before the posting call returns.
package bus

import "sync"

// Kind identifies what happened to a resource.
type Kind string

const (
	CalendarCreated Kind = "calendar.created"
	CalendarRevised Kind = "calendar.revised"
	CalendarRemoved Kind = "calendar.removed"

	EventCreated Kind = "event.created"
	EventRevised Kind = "event.revised"
	EventRemoved Kind = "event.removed"

	// ExclusionsUpdated fires when a recurring event's exclusion
	// list changes without the event otherwise being revised.
	ExclusionsUpdated Kind = "event.exclusions"
)

// Notification describes one change. Ref is the reference string of
// the resource that changed; for event notifications CalendarRef
// carries the containing calendar.
type Notification struct {
	Kind        Kind
	Ref         string
	CalendarRef string
}

// Handler receives notifications. Handlers must not block.
type Handler func(Notification)

// Bus fans notifications out to registered handlers.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

func New() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for all subsequent notifications.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()
}

// Post delivers n to every handler in registration order.
func (b *Bus) Post(n Notification) {
	b.mu.RLock()
	handlers := b.handlers
	b.mu.RUnlock()
	for _, h := range handlers {
		h(n)
	}
}

// PostEvent is shorthand for posting an event-scoped notification.
func (b *Bus) PostEvent(kind Kind, calendarRef, eventRef string) {
	b.Post(Notification{Kind: kind, Ref: eventRef, CalendarRef: calendarRef})
}

// PostCalendar is shorthand for posting a calendar-scoped notification.
func (b *Bus) PostCalendar(kind Kind, calendarRef string) {
	b.Post(Notification{Kind: kind, Ref: calendarRef, CalendarRef: calendarRef})
}
