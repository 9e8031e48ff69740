package service

import (
	"context"
	"fmt"
	"sort"

	"calcore/internal/access"
	"calcore/internal/model"
	"calcore/internal/store"
	"calcore/internal/timerange"
)

// QueryEvents answers "occurrences in calendar C within window W" for
// a principal. A nil window returns recurring events as their single
// unexpanded base form, which archival and export callers rely on.
// Results are sorted ascending by start instant with stored insertion
// order breaking ties; descending reverses that order. A positive
// limit bounds the stored events fetched, matching the store's
// ordering.
//
// A calendar the principal cannot read at all is a hard
// ErrPermissionDenied; occurrences the principal may not see are
// silently filtered instead.
func (s *Service) QueryEvents(ctx context.Context, principal, calendarRef string, window *timerange.Range, limit int, descending bool) ([]*model.Occurrence, error) {
	cal, err := s.calendars.Get(ctx, calendarRef)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", calendarRef, err)
	}
	if cal.Removed {
		return nil, fmt.Errorf("querying %s: %w", calendarRef, store.ErrNotFound)
	}
	if !s.oracle.IsAllowed(principal, access.FuncRead, calendarRef) {
		return nil, fmt.Errorf("querying %s: %w", calendarRef, ErrPermissionDenied)
	}

	events, err := s.store.GetEvents(ctx, calendarRef, limit)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", calendarRef, err)
	}

	var occurrences []*model.Occurrence
	for _, ev := range events {
		occurrences = append(occurrences, model.Resolve(ev, window)...)
	}

	readable := access.ReadableGroups(s.oracle, s.directory, principal, cal)
	occurrences = access.Filter(occurrences, readable)

	sort.SliceStable(occurrences, func(i, j int) bool {
		return occurrences[i].Range().Start.Before(occurrences[j].Range().Start)
	})
	if descending {
		for i, j := 0, len(occurrences)-1; i < j; i, j = i+1, j-1 {
			occurrences[i], occurrences[j] = occurrences[j], occurrences[i]
		}
	}
	return occurrences, nil
}
