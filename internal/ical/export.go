// Package ical serializes resolved occurrences to iCalendar for
// export consumers. Export is gated per calendar: a calendar whose
// export flag is off is refused outright.
package ical

import (
	"errors"
	"fmt"

	ics "github.com/arran4/golang-ical"

	"calcore/internal/log"
	"calcore/internal/model"
)

// ErrExportDisabled reports export of a calendar whose export flag is
// off.
var ErrExportDisabled = errors.New("ical: export disabled for calendar")

// prodID identifies this generator in exported payloads.
const prodID = "-//calcore//calendar export//EN"

// Export renders the occurrences of cal as a VCALENDAR. Occurrence
// ids, including surrogate instance ids, become the exported UIDs so
// a re-import can route back to the same series elements.
func Export(cal *model.Calendar, occurrences []*model.Occurrence) (string, error) {
	if !cal.ExportEnabled() {
		return "", fmt.Errorf("%s: %w", cal.Reference(), ErrExportDisabled)
	}

	out := ics.NewCalendar()
	out.SetMethod(ics.MethodPublish)
	out.SetProductId(prodID)
	out.SetXWRCalName(cal.Context + "/" + cal.ID)

	for _, occ := range occurrences {
		ve := out.AddEvent(occ.ID())
		ve.SetDtStampTime(occ.Range().Start)
		ve.SetStartAt(occ.Range().Start)
		ve.SetEndAt(occ.Range().End)
		ve.SetSummary(occ.DisplayName())
		if d := occ.Description(); d != "" {
			ve.SetDescription(d)
		}
		if l := occ.Location(); l != "" {
			ve.SetLocation(l)
		}
		if seq := occ.Sequence(); seq > 0 {
			ve.SetSequence(seq)
		}
	}

	log.Debug("exported calendar", "ref", cal.Reference(), "occurrences", len(occurrences))
	return out.Serialize(), nil
}
