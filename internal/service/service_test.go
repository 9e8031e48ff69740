package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"calcore/internal/access"
	"calcore/internal/bus"
	"calcore/internal/model"
	"calcore/internal/recur"
	"calcore/internal/store"
	"calcore/internal/timerange"
)

var monday9 = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

type fixture struct {
	s     *Service
	st    store.Store
	o     *access.Static
	b     *bus.Bus
	clock time.Time
	next  []string // pending ids for the generator, FIFO
	seq   int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		st:    store.NewMemory(),
		b:     bus.New(),
		clock: monday9,
	}
	f.o = &access.Static{
		Superusers: map[string]bool{"admin": true},
		Allowed: map[string]map[string]bool{
			"alice": {
				access.FuncRead: true, access.FuncNew: true,
				access.FuncReviseOwn: true, access.FuncDeleteOwn: true,
			},
			"bob":  {access.FuncRead: true, access.FuncNew: true, access.FuncReviseAny: true},
			"dave": {access.FuncRead: true, access.FuncDeleteAny: true},
			"eve":  {},
		},
		Memberships: map[string][]string{
			"alice": {"/group/g1", "/group/g2"},
			"bob":   {"/group/g1"},
		},
		Groups: map[string][]string{
			"/site/site-a": {"/group/g1", "/group/g2"},
		},
	}
	f.s = New(f.st, f.o, f.o, f.o, f.b, Options{
		NewID: func() string {
			if len(f.next) > 0 {
				id := f.next[0]
				f.next = f.next[1:]
				return id
			}
			f.seq++
			return fmt.Sprintf("id-%d", f.seq)
		},
		Now: func() time.Time { return f.clock },
	})
	return f
}

// calendar creates and commits a calendar, returning its reference.
func (f *fixture) calendar(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	edit, err := f.s.AddCalendar(ctx, "admin", "site-a", "main")
	if err != nil {
		t.Fatalf("AddCalendar: %v", err)
	}
	if err := f.s.CommitCalendar(ctx, "admin", edit); err != nil {
		t.Fatalf("CommitCalendar: %v", err)
	}
	return edit.Calendar().Reference()
}

// event commits a draft into the calendar and returns the stored copy.
func (f *fixture) event(t *testing.T, principal, calRef string, draft *model.Event) *model.Event {
	t.Helper()
	ev, err := f.s.AddEvent(context.Background(), principal, calRef, draft)
	if err != nil {
		t.Fatalf("AddEvent: %v", err)
	}
	return ev
}

func hourAt(start time.Time) timerange.Range {
	return timerange.New(start, start.Add(time.Hour))
}

func window(from time.Time, d time.Duration) *timerange.Range {
	w := timerange.New(from, from.Add(d))
	return &w
}

func TestCalendarLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.calendar(t)

	cal, err := f.s.GetCalendar(ctx, "alice", ref)
	if err != nil {
		t.Fatalf("GetCalendar: %v", err)
	}
	if cal.Context != "site-a" || cal.ID != "main" {
		t.Errorf("calendar = %+v", cal)
	}

	// Removal tombstones: the reference stops resolving.
	edit, err := f.s.EditCalendar(ctx, "admin", ref)
	if err != nil {
		t.Fatalf("EditCalendar: %v", err)
	}
	if err := f.s.RemoveCalendar(ctx, "admin", edit); err != nil {
		t.Fatalf("RemoveCalendar: %v", err)
	}
	if _, err := f.s.GetCalendar(ctx, "alice", ref); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("after remove, err = %v, want ErrNotFound", err)
	}
	if _, err := f.s.QueryEvents(ctx, "alice", ref, nil, 0, false); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("query after remove, err = %v, want ErrNotFound", err)
	}
}

func TestAddCalendarRequiresPermission(t *testing.T) {
	f := newFixture(t)
	if _, err := f.s.AddCalendar(context.Background(), "eve", "site-a", "main"); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("err = %v, want ErrPermissionDenied", err)
	}
}

func TestAddEventSiteScopeClearsGroups(t *testing.T) {
	f := newFixture(t)
	ref := f.calendar(t)
	ev := f.event(t, "alice", ref, &model.Event{
		Range:       hourAt(monday9),
		DisplayName: "Standup",
		Access:      model.ScopeSite,
		Groups:      []string{"/group/g1"},
	})
	if len(ev.Groups) != 0 {
		t.Errorf("site-scoped event kept groups %v", ev.Groups)
	}
	if ev.Creator != "alice" {
		t.Errorf("creator = %q", ev.Creator)
	}
}

func TestAddEventGroupedValidation(t *testing.T) {
	f := newFixture(t)
	ref := f.calendar(t)
	ctx := context.Background()

	// Grouped with no groups is rejected.
	_, err := f.s.AddEvent(ctx, "alice", ref, &model.Event{
		Range:  hourAt(monday9),
		Access: model.ScopeGrouped,
	})
	if err == nil {
		t.Error("grouped event with empty group set accepted")
	}

	// A group outside the principal's permitted set is rejected.
	_, err = f.s.AddEvent(ctx, "bob", ref, &model.Event{
		Range:  hourAt(monday9),
		Access: model.ScopeGrouped,
		Groups: []string{"/group/g2"},
	})
	if !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("foreign group err = %v, want ErrPermissionDenied", err)
	}

	// A permitted group passes.
	ev, err := f.s.AddEvent(ctx, "alice", ref, &model.Event{
		Range:  hourAt(monday9),
		Access: model.ScopeGrouped,
		Groups: []string{"/group/g2"},
	})
	if err != nil {
		t.Fatalf("AddEvent: %v", err)
	}
	if ev.Access != model.ScopeGrouped {
		t.Errorf("access = %v", ev.Access)
	}
}

func TestEditMutualExclusion(t *testing.T) {
	f := newFixture(t)
	ref := f.calendar(t)
	ctx := context.Background()
	ev := f.event(t, "alice", ref, &model.Event{Range: hourAt(monday9), DisplayName: "Talk"})

	first, err := f.s.GetEditEvent(ctx, "bob", ref, ev.ID, IntentModify)
	if err != nil {
		t.Fatalf("first checkout: %v", err)
	}
	if _, err := f.s.GetEditEvent(ctx, "bob", ref, ev.ID, IntentModify); !errors.Is(err, store.ErrInUse) {
		t.Errorf("second checkout err = %v, want ErrInUse", err)
	}
	if err := f.s.CancelEvent(ctx, first); err != nil {
		t.Fatalf("CancelEvent: %v", err)
	}
	if _, err := f.s.GetEditEvent(ctx, "bob", ref, ev.ID, IntentModify); err != nil {
		t.Errorf("checkout after cancel: %v", err)
	}
}

func TestClosedHandleRefused(t *testing.T) {
	f := newFixture(t)
	ref := f.calendar(t)
	ctx := context.Background()
	ev := f.event(t, "alice", ref, &model.Event{Range: hourAt(monday9)})

	edit, err := f.s.GetEditEvent(ctx, "bob", ref, ev.ID, IntentModify)
	if err != nil {
		t.Fatalf("GetEditEvent: %v", err)
	}
	if err := f.s.CommitEvent(ctx, "bob", edit, ModifyAll); err != nil {
		t.Fatalf("CommitEvent: %v", err)
	}
	if err := f.s.CommitEvent(ctx, "bob", edit, ModifyAll); !errors.Is(err, ErrEditClosed) {
		t.Errorf("recommit err = %v, want ErrEditClosed", err)
	}
	if err := f.s.CancelEvent(ctx, edit); !errors.Is(err, ErrEditClosed) {
		t.Errorf("cancel after commit err = %v, want ErrEditClosed", err)
	}
}

func TestModifyThisSplitsOccurrence(t *testing.T) {
	f := newFixture(t)
	ref := f.calendar(t)
	ctx := context.Background()

	rule, _ := recur.New(recur.FreqDaily)
	rule.Count = 5
	series := f.event(t, "alice", ref, &model.Event{
		Range:       hourAt(monday9),
		DisplayName: "Lecture",
		Recurrence:  rule,
	})

	// Find occurrence 1 by querying, then edit it with a new name.
	occs, err := f.s.QueryEvents(ctx, "alice", ref, window(monday9, 14*24*time.Hour), 0, false)
	if err != nil {
		t.Fatalf("QueryEvents: %v", err)
	}
	if len(occs) != 5 {
		t.Fatalf("series yields %d occurrences, want 5", len(occs))
	}
	target := occs[1]
	if target.Sequence() != 1 {
		t.Fatalf("occurrence 1 has sequence %d", target.Sequence())
	}

	edit, err := f.s.GetEditEvent(ctx, "bob", ref, target.ID(), IntentModify)
	if err != nil {
		t.Fatalf("GetEditEvent: %v", err)
	}
	if !edit.Event().Range.Start.Equal(target.Range().Start) {
		t.Fatalf("edit range = %v, want occurrence range", edit.Event().Range)
	}
	edit.Event().DisplayName = "Guest lecture"
	if err := f.s.CommitEvent(ctx, "bob", edit, ModifyThis); err != nil {
		t.Fatalf("CommitEvent: %v", err)
	}

	occs, err = f.s.QueryEvents(ctx, "alice", ref, window(monday9, 14*24*time.Hour), 0, false)
	if err != nil {
		t.Fatalf("re-query: %v", err)
	}
	if len(occs) != 5 {
		t.Fatalf("after split, %d occurrences, want 5", len(occs))
	}

	var seriesSeqs []int
	var standalone *model.Occurrence
	for _, occ := range occs {
		if occ.EventID() == series.ID {
			seriesSeqs = append(seriesSeqs, occ.Sequence())
			// The single-occurrence edit must not touch the series.
			if occ.DisplayName() != "Lecture" {
				t.Errorf("series occurrence %d name = %q, want %q",
					occ.Sequence(), occ.DisplayName(), "Lecture")
			}
		} else {
			standalone = occ
		}
	}
	wantSeqs := []int{0, 2, 3, 4}
	if len(seriesSeqs) != 4 {
		t.Fatalf("series seqs = %v, want %v", seriesSeqs, wantSeqs)
	}
	for i, seq := range wantSeqs {
		if seriesSeqs[i] != seq {
			t.Errorf("series seqs = %v, want %v", seriesSeqs, wantSeqs)
			break
		}
	}
	if standalone == nil {
		t.Fatal("no standalone event for the split occurrence")
	}
	if standalone.DisplayName() != "Guest lecture" {
		t.Errorf("standalone name = %q", standalone.DisplayName())
	}
	if !standalone.Range().Start.Equal(target.Range().Start) {
		t.Errorf("standalone range = %v, want %v", standalone.Range(), target.Range())
	}
	if standalone.IsInstance() {
		t.Error("standalone still reports itself as a recurrence instance")
	}

	// The stored series carries only the exclusion and the modified
	// stamp; everything else is as before the split.
	stored, err := f.st.GetEvent(ctx, ref, series.ID)
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if stored.DisplayName != "Lecture" {
		t.Errorf("stored series name = %q, want %q", stored.DisplayName, "Lecture")
	}
	if !stored.Range.Start.Equal(monday9) {
		t.Errorf("stored series base start = %v, want %v", stored.Range.Start, monday9)
	}
	if !stored.ExclusionSet().Contains(1) {
		t.Errorf("stored series exclusions = %v, want to contain 1", stored.ExclusionSet().Seqs)
	}
}

func TestModifyAllAdjustsBaseRange(t *testing.T) {
	f := newFixture(t)
	ref := f.calendar(t)
	ctx := context.Background()

	rule, _ := recur.New(recur.FreqWeekly)
	rule.Count = 3
	series := f.event(t, "alice", ref, &model.Event{
		Range:       hourAt(monday9),
		DisplayName: "Seminar",
		Recurrence:  rule,
	})

	occs, _ := f.s.QueryEvents(ctx, "alice", ref, window(monday9, 28*24*time.Hour), 0, false)
	if len(occs) != 3 {
		t.Fatalf("got %d occurrences", len(occs))
	}

	// Push occurrence 1 an hour later; the whole series moves.
	edit, err := f.s.GetEditEvent(ctx, "bob", ref, occs[1].ID(), IntentModify)
	if err != nil {
		t.Fatalf("GetEditEvent: %v", err)
	}
	shifted := edit.Event().Range
	shifted.Start = shifted.Start.Add(time.Hour)
	shifted.End = shifted.End.Add(time.Hour)
	edit.Event().Range = shifted
	if err := f.s.CommitEvent(ctx, "bob", edit, ModifyAll); err != nil {
		t.Fatalf("CommitEvent: %v", err)
	}

	stored, err := f.st.GetEvent(ctx, ref, series.ID)
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if !stored.Range.Start.Equal(monday9.Add(time.Hour)) {
		t.Errorf("base start = %v, want %v", stored.Range.Start, monday9.Add(time.Hour))
	}
	if stored.Recurrence == nil {
		t.Error("series lost its rule")
	}
	if got := stored.ExclusionSet(); !got.IsEmpty() {
		t.Errorf("ModifyAll produced exclusions %v", got.Seqs)
	}
}

func TestRemoveOccurrenceRecordsExclusion(t *testing.T) {
	f := newFixture(t)
	ref := f.calendar(t)
	ctx := context.Background()

	rule, _ := recur.New(recur.FreqDaily)
	rule.Count = 3
	series := f.event(t, "alice", ref, &model.Event{Range: hourAt(monday9), Recurrence: rule, DisplayName: "Standup"})

	occs, _ := f.s.QueryEvents(ctx, "alice", ref, window(monday9, 7*24*time.Hour), 0, false)
	edit, err := f.s.GetEditEvent(ctx, "dave", ref, occs[2].ID(), IntentRemove)
	if err != nil {
		t.Fatalf("GetEditEvent: %v", err)
	}
	// Scratch edits on the handle must not survive the removal.
	edit.Event().DisplayName = "scratch"
	if err := f.s.RemoveEvent(ctx, "admin", edit, ModifyThis); err != nil {
		t.Fatalf("RemoveEvent: %v", err)
	}

	occs, _ = f.s.QueryEvents(ctx, "alice", ref, window(monday9, 7*24*time.Hour), 0, false)
	if len(occs) != 2 {
		t.Fatalf("after exclusion, %d occurrences, want 2", len(occs))
	}
	stored, _ := f.st.GetEvent(ctx, ref, series.ID)
	if !stored.ExclusionSet().Contains(2) {
		t.Errorf("exclusions = %v, want to contain 2", stored.ExclusionSet().Seqs)
	}
	if stored.DisplayName != "Standup" {
		t.Errorf("series name = %q after occurrence removal, want %q", stored.DisplayName, "Standup")
	}
}

func TestRemoveSeriesDeletesStoredEvent(t *testing.T) {
	f := newFixture(t)
	ref := f.calendar(t)
	ctx := context.Background()

	rule, _ := recur.New(recur.FreqDaily)
	rule.Count = 3
	series := f.event(t, "alice", ref, &model.Event{Range: hourAt(monday9), Recurrence: rule})

	occs, _ := f.s.QueryEvents(ctx, "alice", ref, window(monday9, 7*24*time.Hour), 0, false)
	edit, err := f.s.GetEditEvent(ctx, "dave", ref, occs[1].ID(), IntentRemove)
	if err != nil {
		t.Fatalf("GetEditEvent: %v", err)
	}
	if err := f.s.RemoveEvent(ctx, "admin", edit, ModifyAll); err != nil {
		t.Fatalf("RemoveEvent: %v", err)
	}
	if _, err := f.st.GetEvent(ctx, ref, series.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("series still stored: err = %v", err)
	}
	occs, _ = f.s.QueryEvents(ctx, "alice", ref, window(monday9, 7*24*time.Hour), 0, false)
	if len(occs) != 0 {
		t.Errorf("%d occurrences after series removal", len(occs))
	}
}

func TestMalformedOccurrenceIDFallsBackToFlat(t *testing.T) {
	f := newFixture(t)
	ref := f.calendar(t)
	ctx := context.Background()

	// An event whose real id happens to start with the surrogate
	// marker but does not parse as one.
	f.next = []string{"!odd-id"}
	ev := f.event(t, "alice", ref, &model.Event{Range: hourAt(monday9), DisplayName: "Odd"})
	if ev.ID != "!odd-id" {
		t.Fatalf("id = %q", ev.ID)
	}

	edit, err := f.s.GetEditEvent(ctx, "bob", ref, "!odd-id", IntentModify)
	if err != nil {
		t.Fatalf("GetEditEvent: %v", err)
	}
	if edit.Event().DisplayName != "Odd" {
		t.Errorf("resolved wrong event: %+v", edit.Event())
	}
	f.s.CancelEvent(ctx, edit)
}

func TestQueryGroupedFiltering(t *testing.T) {
	f := newFixture(t)
	ref := f.calendar(t)
	ctx := context.Background()

	f.event(t, "alice", ref, &model.Event{
		Range:       hourAt(monday9),
		DisplayName: "G1 only",
		Access:      model.ScopeGrouped,
		Groups:      []string{"/group/g1"},
	})

	// Bob may read only g1.
	occs, err := f.s.QueryEvents(ctx, "bob", ref, window(monday9, 24*time.Hour), 0, false)
	if err != nil {
		t.Fatalf("QueryEvents: %v", err)
	}
	if len(occs) != 1 {
		t.Errorf("bob sees %d occurrences, want 1", len(occs))
	}

	// Restrict bob to g2 membership instead: the g1 event disappears.
	f.o.Memberships["bob"] = []string{"/group/g2"}
	occs, err = f.s.QueryEvents(ctx, "bob", ref, window(monday9, 24*time.Hour), 0, false)
	if err != nil {
		t.Fatalf("QueryEvents: %v", err)
	}
	if len(occs) != 0 {
		t.Errorf("bob sees %d occurrences, want 0", len(occs))
	}

	// An entirely unreadable calendar is a hard refusal.
	if _, err := f.s.QueryEvents(ctx, "eve", ref, window(monday9, 24*time.Hour), 0, false); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("eve err = %v, want ErrPermissionDenied", err)
	}
}

func TestQueryOrderingAndNilWindow(t *testing.T) {
	f := newFixture(t)
	ref := f.calendar(t)
	ctx := context.Background()

	rule, _ := recur.New(recur.FreqDaily)
	rule.Count = 3
	f.event(t, "alice", ref, &model.Event{Range: hourAt(monday9.Add(30 * time.Minute)), DisplayName: "single"})
	series := f.event(t, "alice", ref, &model.Event{Range: hourAt(monday9), DisplayName: "series", Recurrence: rule})

	occs, err := f.s.QueryEvents(ctx, "alice", ref, window(monday9, 7*24*time.Hour), 0, false)
	if err != nil {
		t.Fatalf("QueryEvents: %v", err)
	}
	if len(occs) != 4 {
		t.Fatalf("got %d occurrences", len(occs))
	}
	for i := 1; i < len(occs); i++ {
		if occs[i].Range().Start.Before(occs[i-1].Range().Start) {
			t.Fatalf("ascending order violated at %d", i)
		}
	}

	desc, _ := f.s.QueryEvents(ctx, "alice", ref, window(monday9, 7*24*time.Hour), 0, true)
	if !desc[0].Range().Start.Equal(occs[len(occs)-1].Range().Start) {
		t.Error("descending is not the reverse of ascending")
	}

	// Nil window: the series comes back as its unexpanded base form.
	all, err := f.s.QueryEvents(ctx, "alice", ref, nil, 0, false)
	if err != nil {
		t.Fatalf("nil-window query: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("nil window yields %d, want 2", len(all))
	}
	for _, occ := range all {
		if occ.IsInstance() {
			t.Errorf("nil window expanded %s", occ.ID())
		}
		if occ.EventID() == series.ID && occ.Rule() == nil {
			t.Error("unexpanded series lost its rule")
		}
	}
}

func TestCacheCoherenceAfterCommit(t *testing.T) {
	f := newFixture(t)
	ref := f.calendar(t)
	ctx := context.Background()

	if _, err := f.s.GetCalendar(ctx, "alice", ref); err != nil {
		t.Fatalf("warm-up: %v", err)
	}

	edit, err := f.s.EditCalendar(ctx, "admin", ref)
	if err != nil {
		t.Fatalf("EditCalendar: %v", err)
	}
	edit.Calendar().SetExportEnabled(true)
	if err := f.s.CommitCalendar(ctx, "admin", edit); err != nil {
		t.Fatalf("CommitCalendar: %v", err)
	}

	cal, err := f.s.GetCalendar(ctx, "alice", ref)
	if err != nil {
		t.Fatalf("GetCalendar: %v", err)
	}
	if !cal.ExportEnabled() {
		t.Error("cache served stale calendar after commit")
	}
}

func TestLeaseExpirySweepsAbandonedEdit(t *testing.T) {
	f := newFixture(t)
	ref := f.calendar(t)
	ctx := context.Background()
	ev := f.event(t, "alice", ref, &model.Event{Range: hourAt(monday9)})

	edit, err := f.s.GetEditEvent(ctx, "bob", ref, ev.ID, IntentModify)
	if err != nil {
		t.Fatalf("GetEditEvent: %v", err)
	}

	// Not yet expired.
	if n := f.s.SweepExpired(f.clock.Add(29 * time.Minute)); n != 0 {
		t.Errorf("sweep cancelled %d edits before the deadline", n)
	}
	if !edit.IsActive() {
		t.Fatal("edit cancelled early")
	}

	if n := f.s.SweepExpired(f.clock.Add(31 * time.Minute)); n != 1 {
		t.Errorf("sweep cancelled %d edits, want 1", n)
	}
	if edit.IsActive() {
		t.Error("expired edit still active")
	}
	// The lock is free again.
	if _, err := f.s.GetEditEvent(ctx, "bob", ref, ev.ID, IntentModify); err != nil {
		t.Errorf("checkout after expiry: %v", err)
	}
	// And the abandoned handle is now a closed edit.
	if err := f.s.CommitEvent(ctx, "bob", edit, ModifyAll); !errors.Is(err, ErrEditClosed) {
		t.Errorf("commit on expired edit err = %v, want ErrEditClosed", err)
	}
}

func TestEventCommitStampsCalendar(t *testing.T) {
	f := newFixture(t)
	ref := f.calendar(t)
	ctx := context.Background()

	f.clock = monday9.Add(2 * time.Hour)
	f.event(t, "alice", ref, &model.Event{Range: hourAt(monday9)})

	cal, err := f.s.GetCalendar(ctx, "alice", ref)
	if err != nil {
		t.Fatalf("GetCalendar: %v", err)
	}
	if !cal.ModifiedAt.Equal(f.clock) {
		t.Errorf("calendar stamp = %v, want %v", cal.ModifiedAt, f.clock)
	}
}

func TestRemoveIntentUsesDeletePermission(t *testing.T) {
	f := newFixture(t)
	ref := f.calendar(t)
	ctx := context.Background()
	ev := f.event(t, "alice", ref, &model.Event{Range: hourAt(monday9), DisplayName: "Doomed"})

	// dave holds delete.any but no revise rights: a modify checkout is
	// refused, a remove checkout is not.
	if _, err := f.s.GetEditEvent(ctx, "dave", ref, ev.ID, IntentModify); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("modify intent err = %v, want ErrPermissionDenied", err)
	}
	edit, err := f.s.GetEditEvent(ctx, "dave", ref, ev.ID, IntentRemove)
	if err != nil {
		t.Fatalf("remove intent checkout: %v", err)
	}
	if err := f.s.RemoveEvent(ctx, "dave", edit, ModifyAll); err != nil {
		t.Fatalf("RemoveEvent: %v", err)
	}
	if _, err := f.st.GetEvent(ctx, ref, ev.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("event still stored: err = %v", err)
	}
}

func TestGetCalendarReturnsPrivateCopy(t *testing.T) {
	f := newFixture(t)
	ref := f.calendar(t)
	ctx := context.Background()

	cal, err := f.s.GetCalendar(ctx, "alice", ref)
	if err != nil {
		t.Fatalf("GetCalendar: %v", err)
	}
	cal.SetExportEnabled(true)
	cal.Removed = true

	again, err := f.s.GetCalendar(ctx, "alice", ref)
	if err != nil {
		t.Fatalf("GetCalendar after mutation: %v", err)
	}
	if again.ExportEnabled() {
		t.Error("caller mutation leaked into the cached calendar")
	}
}
