package service

import (
	"context"
	"fmt"

	"calcore/internal/access"
	"calcore/internal/bus"
	"calcore/internal/log"
	"calcore/internal/model"
	"calcore/internal/store"
)

// CalendarEdit is a writable calendar handle. It is valid until
// Commit, Cancel or lease expiry; every operation afterwards fails
// with ErrEditClosed.
type CalendarEdit struct {
	s      *Service
	cal    *model.Calendar
	isNew  bool
	active bool
}

// Calendar exposes the writable copy. Callers mutate it and then
// commit the handle.
func (e *CalendarEdit) Calendar() *model.Calendar { return e.cal }

// IsActive reports whether the handle can still be committed.
func (e *CalendarEdit) IsActive() bool {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	return e.active
}

func (e *CalendarEdit) close() {
	e.s.mu.Lock()
	e.active = false
	e.s.mu.Unlock()
}

// AddCalendar reserves a new calendar in the context and returns its
// writable handle. The calendar does not exist until the handle is
// committed.
func (s *Service) AddCalendar(ctx context.Context, principal, contextID, id string) (*CalendarEdit, error) {
	ref := model.CalendarRef(contextID, id)
	if !s.oracle.IsAllowed(principal, access.FuncNew, ref) {
		return nil, fmt.Errorf("adding %s: %w", ref, ErrPermissionDenied)
	}
	cal, err := s.store.PutCalendar(ctx, &model.Calendar{Context: contextID, ID: id})
	if err != nil {
		return nil, fmt.Errorf("adding %s: %w", ref, err)
	}
	edit := &CalendarEdit{s: s, cal: cal, isNew: true, active: true}
	s.trackEdit(ref, func() { edit.expire(context.Background()) })
	return edit, nil
}

// EditCalendar checks out an existing calendar for revision.
func (s *Service) EditCalendar(ctx context.Context, principal, ref string) (*CalendarEdit, error) {
	if !s.oracle.IsAllowed(principal, access.FuncReviseAny, ref) {
		return nil, fmt.Errorf("editing %s: %w", ref, ErrPermissionDenied)
	}
	cal, err := s.store.CheckoutCalendar(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("editing %s: %w", ref, err)
	}
	edit := &CalendarEdit{s: s, cal: cal, active: true}
	s.trackEdit(ref, func() { edit.expire(context.Background()) })
	return edit, nil
}

// CommitCalendar persists the handle's state and deactivates it.
func (s *Service) CommitCalendar(ctx context.Context, principal string, edit *CalendarEdit) error {
	if !edit.IsActive() {
		return closedEdit("commitCalendar", edit.cal.Reference())
	}
	edit.cal.ModifiedBy = principal
	edit.cal.ModifiedAt = s.now()
	if err := s.store.CommitCalendar(ctx, edit.cal); err != nil {
		return fmt.Errorf("committing %s: %w", edit.cal.Reference(), err)
	}
	edit.close()
	s.untrackEdit(edit.cal.Reference())
	kind := bus.CalendarRevised
	if edit.isNew {
		kind = bus.CalendarCreated
	}
	s.bus.PostCalendar(kind, edit.cal.Reference())
	return nil
}

// CancelCalendar discards the handle without persisting.
func (s *Service) CancelCalendar(ctx context.Context, edit *CalendarEdit) error {
	if !edit.IsActive() {
		return closedEdit("cancelCalendar", edit.cal.Reference())
	}
	edit.close()
	s.untrackEdit(edit.cal.Reference())
	if err := s.store.CancelCalendar(ctx, edit.cal.Reference()); err != nil {
		return fmt.Errorf("cancelling %s: %w", edit.cal.Reference(), err)
	}
	return nil
}

// RemoveCalendar tombstones the checked-out calendar and releases any
// authorization-group bindings tied to its reference.
func (s *Service) RemoveCalendar(ctx context.Context, principal string, edit *CalendarEdit) error {
	if !edit.IsActive() {
		return closedEdit("removeCalendar", edit.cal.Reference())
	}
	ref := edit.cal.Reference()
	if !s.oracle.IsAllowed(principal, access.FuncDeleteAny, ref) {
		return fmt.Errorf("removing %s: %w", ref, ErrPermissionDenied)
	}
	edit.cal.Removed = true
	edit.cal.ModifiedBy = principal
	edit.cal.ModifiedAt = s.now()
	if err := s.store.CommitCalendar(ctx, edit.cal); err != nil {
		return fmt.Errorf("removing %s: %w", ref, err)
	}
	edit.close()
	s.untrackEdit(ref)
	s.releaser.ReleaseBindings(ref)
	s.bus.PostCalendar(bus.CalendarRemoved, ref)
	return nil
}

// GetCalendar returns the calendar through the cache, honoring the
// removed tombstone. The result is the caller's own copy; mutating it
// cannot corrupt the cached entry other readers share.
func (s *Service) GetCalendar(ctx context.Context, principal, ref string) (*model.Calendar, error) {
	cal, err := s.calendars.Get(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("getting %s: %w", ref, err)
	}
	if cal.Removed {
		return nil, fmt.Errorf("getting %s: %w", ref, store.ErrNotFound)
	}
	if !s.oracle.IsAllowed(principal, access.FuncRead, ref) {
		return nil, fmt.Errorf("getting %s: %w", ref, ErrPermissionDenied)
	}
	return cal.Clone(), nil
}

// expire is the lease sweeper's cancel path for calendar handles.
func (e *CalendarEdit) expire(ctx context.Context) {
	if !e.IsActive() {
		return
	}
	e.close()
	if err := e.s.store.CancelCalendar(ctx, e.cal.Reference()); err != nil {
		log.Error("cancelling expired calendar edit", err, "ref", e.cal.Reference())
	}
}
