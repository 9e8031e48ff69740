package model

import (
	"strconv"
	"strings"

	"calcore/internal/timerange"
)

// InstanceRef is the decoded form of an occurrence surrogate id.
type InstanceRef struct {
	Range    timerange.Range
	Sequence int
	EventID  string
}

// InstanceID encodes an occurrence of a series as
// "!" + range + "!" + sequence + "!" + baseEventID. The encoding is
// part of the external surface: edit and removal requests route back to
// the correct series element by parsing it.
func InstanceID(rng timerange.Range, seq int, eventID string) string {
	return "!" + rng.String() + "!" + strconv.Itoa(seq) + "!" + eventID
}

// ParseInstanceID decodes a surrogate id. It reports ok=false for
// anything that does not parse cleanly; callers must then treat the
// whole string as an opaque base event id rather than failing.
func ParseInstanceID(id string) (InstanceRef, bool) {
	if !strings.HasPrefix(id, "!") {
		return InstanceRef{}, false
	}
	parts := strings.SplitN(id[1:], "!", 3)
	if len(parts) != 3 || parts[2] == "" {
		return InstanceRef{}, false
	}
	rng, err := timerange.Parse(parts[0])
	if err != nil {
		return InstanceRef{}, false
	}
	seq, err := strconv.Atoi(parts[1])
	if err != nil || seq < 0 {
		return InstanceRef{}, false
	}
	return InstanceRef{Range: rng, Sequence: seq, EventID: parts[2]}, true
}
