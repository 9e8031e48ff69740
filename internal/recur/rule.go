// Package recur implements the engine's closed catalog of recurrence
// shapes and the expansion of a base occurrence into window-clipped,
// sequence-numbered instances.
//
// The catalog is deliberately fixed: daily, weekly, the fixed weekday
// subsets (MWF, TTh, MW, and the Sunday-based SMW/SMTW/STT teaching
// patterns), monthly and yearly. Each shape carries an interval and at
// most one of count/until. This is not a general RFC 5545 grammar.
package recur

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	appLog "calcore/internal/log"
	"calcore/internal/timerange"
)

// Frequency identifies one shape in the rule catalog. The string values
// are the persisted frequency codes.
type Frequency string

const (
	FreqDaily   Frequency = "day"
	FreqWeekly  Frequency = "week"
	FreqMWF     Frequency = "mwf"
	FreqTTh     Frequency = "tth"
	FreqMW      Frequency = "mw"
	FreqSMW     Frequency = "smw"
	FreqSMTW    Frequency = "smtw"
	FreqSTT     Frequency = "stt"
	FreqMonthly Frequency = "month"
	FreqYearly  Frequency = "year"
)

// weekdaySubsets maps the subset frequencies to the weekdays they fire on.
var weekdaySubsets = map[Frequency][]rrule.Weekday{
	FreqMWF:  {rrule.MO, rrule.WE, rrule.FR},
	FreqTTh:  {rrule.TU, rrule.TH},
	FreqMW:   {rrule.MO, rrule.WE},
	FreqSMW:  {rrule.SU, rrule.MO, rrule.WE},
	FreqSMTW: {rrule.SU, rrule.MO, rrule.TU, rrule.WE},
	FreqSTT:  {rrule.SU, rrule.TU, rrule.TH},
}

// Rule describes how a base occurrence repeats. Interval repeats every
// N periods (values below 1 are treated as 1). Count and Until are
// mutually exclusive terminations; with neither set the series is
// unbounded and only query windows bound the expansion.
type Rule struct {
	Freq     Frequency  `json:"freq" yaml:"freq"`
	Interval int        `json:"interval,omitempty" yaml:"interval,omitempty"`
	Count    int        `json:"count,omitempty" yaml:"count,omitempty"`
	Until    *time.Time `json:"until,omitempty" yaml:"until,omitempty"`
}

// New constructs a rule for a known frequency code.
func New(freq Frequency) (*Rule, error) {
	switch freq {
	case FreqDaily, FreqWeekly, FreqMWF, FreqTTh, FreqMW, FreqSMW, FreqSMTW, FreqSTT, FreqMonthly, FreqYearly:
		return &Rule{Freq: freq}, nil
	default:
		return nil, fmt.Errorf("recur: unknown frequency %q", freq)
	}
}

// Clone returns a copy of the rule.
func (r *Rule) Clone() *Rule {
	if r == nil {
		return nil
	}
	c := *r
	if r.Until != nil {
		u := *r.Until
		c.Until = &u
	}
	return &c
}

// Instance is one generated occurrence slot: the concrete range plus its
// 0-based sequence number within the series (sequence 0 is the base
// occurrence itself).
type Instance struct {
	Range    timerange.Range
	Sequence int
}

// maxGeneratedInstances caps how many candidate starts a single
// expansion will scan, guarding unbounded rules against runaway windows.
const maxGeneratedInstances = 5000

// Instances expands the rule against its base occurrence range, clipped
// to the query window. Results are chronological and carry absolute
// sequence numbers: instances generated before the window still consume
// sequence numbers even though they are not returned.
//
// Generation stops at the rule's own termination (count reached, or a
// generated start at or past until), at the end of the window, or at the
// safety cap, whichever comes first. Instance wall-clock times are
// computed in loc so series created across daylight-saving transitions
// keep their local start time.
func (r *Rule) Instances(base, window timerange.Range, loc *time.Location) []Instance {
	if loc == nil {
		loc = time.UTC
	}

	interval := r.Interval
	if interval <= 0 {
		interval = 1
	}

	opt := rrule.ROption{
		Interval: interval,
		Dtstart:  base.Start.In(loc),
	}
	switch r.Freq {
	case FreqDaily:
		opt.Freq = rrule.DAILY
	case FreqWeekly:
		opt.Freq = rrule.WEEKLY
	case FreqMonthly:
		opt.Freq = rrule.MONTHLY
	case FreqYearly:
		opt.Freq = rrule.YEARLY
	default:
		days, ok := weekdaySubsets[r.Freq]
		if !ok {
			appLog.Warn("recur: unknown frequency, not expanding", "freq", string(r.Freq))
			return nil
		}
		opt.Freq = rrule.WEEKLY
		opt.Byweekday = days
	}

	rule, err := rrule.NewRRule(opt)
	if err != nil {
		appLog.Error("recur: building rrule failed", err, "freq", string(r.Freq))
		return nil
	}

	// The half-open stop boundary; a zero-length window still admits
	// instances starting exactly at its instant.
	stop := window.End
	if !stop.After(window.Start) {
		stop = window.Start.Add(time.Nanosecond)
	}

	duration := base.Duration()
	var out []Instance
	seq := 0

	emit := func(inst timerange.Range) bool {
		if r.Count > 0 && seq >= r.Count {
			return false
		}
		if r.Until != nil && !inst.Start.Before(*r.Until) {
			return false
		}
		if !inst.Start.Before(stop) {
			return false
		}
		if inst.Overlaps(window) {
			out = append(out, Instance{Range: inst, Sequence: seq})
		}
		seq++
		return true
	}

	// Sequence 0 is always the base occurrence, whether or not it
	// matches the recurrence pattern (a weekday-subset series may start
	// on a day outside the subset).
	if !emit(base) {
		return out
	}

	next := rule.Iterator()
	for scanned := 0; scanned < maxGeneratedInstances; scanned++ {
		start, ok := next()
		if !ok {
			break
		}
		if start.Equal(base.Start) {
			// Base already emitted as sequence 0.
			continue
		}
		if !emit(timerange.New(start, start.Add(duration))) {
			break
		}
	}

	return out
}
