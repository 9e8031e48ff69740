// Package timerange provides the half-open time interval used throughout
// the engine: event ranges, query windows and generated occurrence slots.
package timerange

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// stampLayout is the wire encoding of a single instant: a 17-digit GMT
// timestamp, yyyyMMddHHmmssSSS. Range encodings built from it appear
// inside occurrence surrogate ids, so the format must stay stable.
const stampLayout = "20060102150405"

const separator = "~"

// Range is a half-open interval [Start, End). A Range whose End does not
// lie after its Start behaves as the instant at Start: it still overlaps
// windows that cover that instant, and point events still match
// zero-length query windows anchored at the same instant.
type Range struct {
	Start time.Time
	End   time.Time
}

// New returns the range [start, end).
func New(start, end time.Time) Range {
	return Range{Start: start, End: end}
}

// Point returns a zero-length range anchored at t.
func Point(t time.Time) Range {
	return Range{Start: t, End: t}
}

// effectiveEnd widens zero-length ranges by one nanosecond so the
// half-open overlap rule still treats them as occupying their instant.
func (r Range) effectiveEnd() time.Time {
	if r.End.After(r.Start) {
		return r.End
	}
	return r.Start.Add(time.Nanosecond)
}

// Overlaps reports whether r and o share any instant:
// r.Start < o.End && o.Start < r.End, with zero-length ranges counting
// as their start instant.
func (r Range) Overlaps(o Range) bool {
	return r.Start.Before(o.effectiveEnd()) && o.Start.Before(r.effectiveEnd())
}

// Contains reports whether the instant t falls inside r.
func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.effectiveEnd())
}

// FirstInstant returns the start of the range.
func (r Range) FirstInstant() time.Time { return r.Start }

// LastInstant returns the final instant covered by the range.
func (r Range) LastInstant() time.Time {
	return r.effectiveEnd().Add(-time.Nanosecond)
}

// Duration returns the length of the range. Zero-length and inverted
// ranges report zero.
func (r Range) Duration() time.Duration {
	if !r.End.After(r.Start) {
		return 0
	}
	return r.End.Sub(r.Start)
}

// IsZero reports whether the range is the zero value.
func (r Range) IsZero() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

// Adjust shifts r in step with a base range that moved from oldBase to
// newBase: the start moves by the delta of the starts, the end by the
// delta of the ends. Used when a whole-series edit changes the base
// occurrence of a recurring event.
func (r Range) Adjust(oldBase, newBase Range) Range {
	return Range{
		Start: r.Start.Add(newBase.Start.Sub(oldBase.Start)),
		End:   r.End.Add(newBase.End.Sub(oldBase.End)),
	}
}

// String encodes the range as start~end with both instants as 17-digit
// GMT timestamps. A zero-length range encodes as the single timestamp.
func (r Range) String() string {
	if !r.End.After(r.Start) {
		return formatStamp(r.Start)
	}
	return formatStamp(r.Start) + separator + formatStamp(r.End)
}

// Parse is the inverse of String. It accepts either a single timestamp
// (a point range) or start~end.
func Parse(s string) (Range, error) {
	if s == "" {
		return Range{}, errors.New("timerange: empty encoding")
	}
	parts := strings.Split(s, separator)
	switch len(parts) {
	case 1:
		t, err := parseStamp(parts[0])
		if err != nil {
			return Range{}, err
		}
		return Point(t), nil
	case 2:
		start, err := parseStamp(parts[0])
		if err != nil {
			return Range{}, err
		}
		end, err := parseStamp(parts[1])
		if err != nil {
			return Range{}, err
		}
		return Range{Start: start, End: end}, nil
	default:
		return Range{}, fmt.Errorf("timerange: malformed encoding %q", s)
	}
}

func formatStamp(t time.Time) string {
	u := t.UTC()
	return u.Format(stampLayout) + fmt.Sprintf("%03d", u.Nanosecond()/int(time.Millisecond))
}

func parseStamp(s string) (time.Time, error) {
	if len(s) != len(stampLayout)+3 {
		return time.Time{}, fmt.Errorf("timerange: malformed timestamp %q", s)
	}
	base, err := time.ParseInLocation(stampLayout, s[:len(stampLayout)], time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("timerange: malformed timestamp %q: %w", s, err)
	}
	var ms int
	if _, err := fmt.Sscanf(s[len(stampLayout):], "%03d", &ms); err != nil {
		return time.Time{}, fmt.Errorf("timerange: malformed timestamp %q: %w", s, err)
	}
	return base.Add(time.Duration(ms) * time.Millisecond), nil
}
