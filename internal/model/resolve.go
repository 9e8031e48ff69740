package model

import (
	"calcore/internal/timerange"
)

// Resolve expands an event into its concrete occurrences within the
// query window.
//
//   - An event without a recurrence rule yields its single base form iff
//     its range overlaps the window.
//   - A series yields one occurrence per generated instance in the
//     window, minus excluded sequence numbers, each carrying a surrogate
//     id that routes edits back to the series element.
//   - A nil window suppresses expansion entirely and returns the single
//     base form: archival and export paths want the series definition,
//     not its instances.
func Resolve(ev *Event, window *timerange.Range) []*Occurrence {
	if ev.Recurrence == nil {
		if window != nil && !ev.Range.Overlaps(*window) {
			return nil
		}
		return []*Occurrence{BaseOccurrence(ev)}
	}

	if window == nil {
		return []*Occurrence{BaseOccurrence(ev)}
	}

	instances := ev.Recurrence.Instances(ev.Range, *window, ev.Zone())
	instances = ev.Exclusions.Apply(instances)

	out := make([]*Occurrence, 0, len(instances))
	for _, inst := range instances {
		out = append(out, NewOccurrence(ev, inst.Range, inst.Sequence))
	}
	return out
}
