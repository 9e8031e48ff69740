package service

import (
	"context"
	"fmt"
	"strings"

	"calcore/internal/access"
	"calcore/internal/bus"
	"calcore/internal/log"
	"calcore/internal/model"
	"calcore/internal/timerange"
)

// EventEdit is a writable event handle. For a plain event it wraps the
// checked-out copy directly. For a single occurrence of a series it
// wraps the checked-out parent with the working range swapped to the
// occurrence's range; the commit intention then decides whether the
// change lands on the series or splits the occurrence off.
type EventEdit struct {
	s      *Service
	ev     *model.Event
	isNew  bool
	active bool

	// Series context, present when the edit was opened through a
	// surrogate occurrence id.
	isInstance bool
	seq        int
	baseRange  timerange.Range // the series' stored base range
	occRange   timerange.Range // the occurrence range from the id
	pristine   *model.Event    // the checkout copy before caller edits
}

// EditIntent selects the permission checked when an event handle is
// obtained: revision or removal.
type EditIntent int

const (
	IntentModify EditIntent = iota
	IntentRemove
)

// Event exposes the writable copy.
func (e *EventEdit) Event() *model.Event { return e.ev }

// IsActive reports whether the handle can still be committed.
func (e *EventEdit) IsActive() bool {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	return e.active
}

func (e *EventEdit) close() {
	e.s.mu.Lock()
	e.active = false
	e.s.mu.Unlock()
}

func (e *EventEdit) lockKey() string { return e.ev.Reference() }

// expire is the lease sweeper's cancel path for event handles.
func (e *EventEdit) expire(ctx context.Context) {
	if !e.IsActive() {
		return
	}
	e.close()
	if err := e.s.store.CancelEvent(ctx, e.ev.CalendarRef, e.ev.ID); err != nil {
		log.Error("cancelling expired event edit", err, "ref", e.ev.Reference())
	}
}

// validateGroups enforces the scope invariant on a draft: site scope
// clears the group set, grouped scope requires a non-empty set drawn
// from the groups the principal may use.
func (s *Service) validateGroups(ctx context.Context, principal string, ev *model.Event) error {
	if ev.Access != model.ScopeGrouped {
		ev.Access = model.ScopeSite
		ev.Groups = nil
		return nil
	}
	if len(ev.Groups) == 0 {
		return fmt.Errorf("grouped event %s has no groups", ev.ID)
	}
	cal, err := s.calendars.Get(ctx, ev.CalendarRef)
	if err != nil {
		return err
	}
	permitted := make(map[string]bool)
	for _, g := range access.PermittedGroups(s.oracle, s.directory, principal, cal) {
		permitted[g] = true
	}
	for _, g := range ev.Groups {
		if !permitted[g] {
			return fmt.Errorf("group %s: %w", g, ErrPermissionDenied)
		}
	}
	return nil
}

// NewEvent reserves a new event in the calendar and returns its
// writable handle. Nothing is stored until the handle is committed.
func (s *Service) NewEvent(ctx context.Context, principal, calendarRef string) (*EventEdit, error) {
	if !s.oracle.IsAllowed(principal, access.FuncNew, calendarRef) {
		return nil, fmt.Errorf("creating event in %s: %w", calendarRef, ErrPermissionDenied)
	}
	ev, err := s.store.PutEvent(ctx, calendarRef, s.newID())
	if err != nil {
		return nil, fmt.Errorf("creating event in %s: %w", calendarRef, err)
	}
	ev.Creator = principal
	ev.CreatedAt = s.now()
	edit := &EventEdit{s: s, ev: ev, isNew: true, active: true}
	s.trackEdit(edit.lockKey(), func() { edit.expire(context.Background()) })
	return edit, nil
}

// AddEvent creates and commits an event in one step from a draft. The
// draft's id and calendar reference are assigned here; scope and group
// invariants are validated before anything is stored.
func (s *Service) AddEvent(ctx context.Context, principal, calendarRef string, draft *model.Event) (*model.Event, error) {
	edit, err := s.NewEvent(ctx, principal, calendarRef)
	if err != nil {
		return nil, err
	}
	ev := edit.Event()
	ev.CopyPartial(draft)
	ev.Recurrence = draft.Recurrence.Clone()
	ev.Exclusions = draft.Exclusions.Clone()
	if err := s.CommitEvent(ctx, principal, edit, ModifyAll); err != nil {
		if cancelErr := s.CancelEvent(ctx, edit); cancelErr != nil {
			log.Error("cancelling failed add", cancelErr, "ref", ev.Reference())
		}
		return nil, err
	}
	return ev.Clone(), nil
}

// GetEditEvent checks out an event under the given intent. A surrogate
// occurrence id is parsed back to its series: the parent is checked
// out and the handle's working range is set to the occurrence's range,
// so the caller edits the dated occurrence it asked for. A malformed
// surrogate encoding falls back to treating the whole string as a
// plain event id.
//
// The intent picks the permission checked at checkout: IntentModify
// requires revise rights, IntentRemove requires delete rights. A
// handle checked out for removal still supports CommitEvent, matching
// the store-level protocol, but a delete-only principal cannot obtain
// one with IntentModify.
func (s *Service) GetEditEvent(ctx context.Context, principal, calendarRef, eventID string, intent EditIntent) (*EventEdit, error) {
	baseID := eventID
	var ref model.InstanceRef
	isInstance := false
	if strings.HasPrefix(eventID, "!") {
		var ok bool
		if ref, ok = model.ParseInstanceID(eventID); ok {
			baseID = ref.EventID
			isInstance = true
		} else {
			log.Warn("malformed occurrence id, treating as flat id", "id", eventID)
		}
	}

	stored, err := s.store.GetEvent(ctx, calendarRef, baseID)
	if err != nil {
		return nil, fmt.Errorf("editing %s: %w", baseID, err)
	}
	allowed := access.CanModify(s.oracle, principal, stored)
	if intent == IntentRemove {
		allowed = access.CanRemove(s.oracle, principal, stored)
	}
	if !allowed {
		return nil, fmt.Errorf("editing %s: %w", stored.Reference(), ErrPermissionDenied)
	}

	ev, err := s.store.CheckoutEvent(ctx, calendarRef, baseID)
	if err != nil {
		return nil, fmt.Errorf("editing %s: %w", baseID, err)
	}

	edit := &EventEdit{s: s, ev: ev, active: true}
	if isInstance && ev.Recurrence != nil {
		edit.isInstance = true
		edit.seq = ref.Sequence
		edit.baseRange = ev.Range
		edit.occRange = ref.Range
		edit.pristine = ev.Clone()
		ev.Range = ref.Range
	}
	s.trackEdit(edit.lockKey(), func() { edit.expire(context.Background()) })
	return edit, nil
}

// CommitEvent persists the edit. For an occurrence edit the intention
// decides the landing:
//
// ModifyAll moves the whole series: the stored base range is adjusted
// by the same deltas the caller applied to the occurrence range, and
// the series is committed once.
//
// ModifyThis splits the occurrence off: a new standalone event takes
// the edited content and concrete range, then the parent gets the
// occurrence's sequence number appended to its exclusion set. These are
// two sequential commits with no transactional guard; a failure after
// the first leaves a committed standalone beside an unexcluded series
// and is reported as such rather than silently absorbed.
func (s *Service) CommitEvent(ctx context.Context, principal string, edit *EventEdit, intention Intention) error {
	if !edit.IsActive() {
		return closedEdit("commitEvent", edit.ev.Reference())
	}
	if err := s.validateGroups(ctx, principal, edit.ev); err != nil {
		return fmt.Errorf("committing %s: %w", edit.ev.Reference(), err)
	}

	if edit.isInstance && intention == ModifyThis {
		return s.commitSplit(ctx, principal, edit)
	}

	ev := edit.ev
	if edit.isInstance {
		// Whole-series edit opened through an occurrence: carry the
		// occurrence's range deltas back onto the stored base range.
		ev.Range = edit.baseRange.Adjust(edit.occRange, ev.Range)
	}
	ev.ModifiedBy = principal
	ev.ModifiedAt = s.now()
	if err := s.store.CommitEvent(ctx, ev); err != nil {
		return fmt.Errorf("committing %s: %w", ev.Reference(), err)
	}
	edit.close()
	s.untrackEdit(edit.lockKey())
	kind := bus.EventRevised
	if edit.isNew {
		kind = bus.EventCreated
	}
	s.bus.PostEvent(kind, ev.CalendarRef, ev.Reference())
	s.touchCalendar(ctx, principal, ev.CalendarRef)
	return nil
}

// commitSplit performs the ModifyThis two-commit sequence.
func (s *Service) commitSplit(ctx context.Context, principal string, edit *EventEdit) error {
	parent := edit.ev

	standalone, err := s.store.PutEvent(ctx, parent.CalendarRef, s.newID())
	if err != nil {
		return fmt.Errorf("splitting %s: %w", parent.Reference(), err)
	}
	standalone.CopyPartial(parent)
	standalone.Creator = parent.Creator
	standalone.CreatedAt = parent.CreatedAt
	standalone.ModifiedBy = principal
	standalone.ModifiedAt = s.now()
	if err := s.store.CommitEvent(ctx, standalone); err != nil {
		return fmt.Errorf("splitting %s: %w", parent.Reference(), err)
	}
	s.bus.PostEvent(bus.EventCreated, standalone.CalendarRef, standalone.Reference())

	// Second commit: the series goes back to its pre-edit state so only
	// the exclusion (and the modified stamp) changes; the caller's
	// edits live solely on the standalone.
	series := edit.pristine
	series.ExclusionSet().Add(edit.seq)
	series.ModifiedBy = principal
	series.ModifiedAt = s.now()
	if err := s.store.CommitEvent(ctx, series); err != nil {
		log.Error("series exclusion commit failed after standalone commit",
			err, "series", series.Reference(), "standalone", standalone.Reference(), "seq", edit.seq)
		return fmt.Errorf("splitting %s: standalone %s committed but exclusion update failed: %w",
			series.Reference(), standalone.ID, err)
	}

	edit.close()
	s.untrackEdit(edit.lockKey())
	s.bus.PostEvent(bus.ExclusionsUpdated, series.CalendarRef, series.Reference())
	s.touchCalendar(ctx, principal, series.CalendarRef)
	return nil
}

// CancelEvent discards the handle without persisting.
func (s *Service) CancelEvent(ctx context.Context, edit *EventEdit) error {
	if !edit.IsActive() {
		return closedEdit("cancelEvent", edit.ev.Reference())
	}
	edit.close()
	s.untrackEdit(edit.lockKey())
	if err := s.store.CancelEvent(ctx, edit.ev.CalendarRef, edit.ev.ID); err != nil {
		return fmt.Errorf("cancelling %s: %w", edit.ev.Reference(), err)
	}
	return nil
}

// RemoveEvent removes what the edit refers to. For an occurrence edit,
// ModifyThis records an exclusion on the series instead of deleting
// anything; ModifyAll (and any plain event) deletes the stored event
// and releases its group bindings.
func (s *Service) RemoveEvent(ctx context.Context, principal string, edit *EventEdit, intention Intention) error {
	if !edit.IsActive() {
		return closedEdit("removeEvent", edit.ev.Reference())
	}
	if !access.CanRemove(s.oracle, principal, edit.ev) {
		return fmt.Errorf("removing %s: %w", edit.ev.Reference(), ErrPermissionDenied)
	}

	if edit.isInstance && intention == ModifyThis {
		// Only the exclusion lands on the series; any edits made on
		// the handle are discarded along with the occurrence.
		series := edit.pristine
		series.ExclusionSet().Add(edit.seq)
		series.ModifiedBy = principal
		series.ModifiedAt = s.now()
		if err := s.store.CommitEvent(ctx, series); err != nil {
			return fmt.Errorf("removing occurrence %d of %s: %w", edit.seq, series.Reference(), err)
		}
		edit.close()
		s.untrackEdit(edit.lockKey())
		s.bus.PostEvent(bus.ExclusionsUpdated, series.CalendarRef, series.Reference())
		s.touchCalendar(ctx, principal, series.CalendarRef)
		return nil
	}

	ref := edit.ev.Reference()
	if err := s.store.RemoveEvent(ctx, edit.ev.CalendarRef, edit.ev.ID); err != nil {
		return fmt.Errorf("removing %s: %w", ref, err)
	}
	edit.close()
	s.untrackEdit(edit.lockKey())
	s.releaser.ReleaseBindings(ref)
	s.bus.PostEvent(bus.EventRemoved, edit.ev.CalendarRef, ref)
	s.touchCalendar(ctx, principal, edit.ev.CalendarRef)
	return nil
}

// touchCalendar bumps the calendar's modified stamp after an event
// change. Best effort: a calendar someone else has checked out is
// skipped rather than blocked on.
func (s *Service) touchCalendar(ctx context.Context, principal, calendarRef string) {
	cal, err := s.store.CheckoutCalendar(ctx, calendarRef)
	if err != nil {
		log.Debug("skipping calendar stamp", "ref", calendarRef, "reason", err.Error())
		return
	}
	cal.ModifiedBy = principal
	cal.ModifiedAt = s.now()
	if err := s.store.CommitCalendar(ctx, cal); err != nil {
		log.Error("stamping calendar", err, "ref", calendarRef)
	}
}
