// Package model holds the calendar domain types: calendars, stored
// events, and the derived occurrences produced by recurrence
// resolution. Calendars and events are persisted records; occurrences
// never are (unless split off a series by a single-occurrence edit).
package model

import (
	"strings"
	"time"

	"calcore/internal/recur"
	"calcore/internal/timerange"
)

// Scope is the visibility of an event within its calendar's container.
type Scope string

const (
	// ScopeSite makes the event visible to everyone who can read the
	// calendar. Site-scoped events carry no groups.
	ScopeSite Scope = "site"
	// ScopeGrouped restricts visibility to the event's group set, which
	// must be non-empty. Enforced by the mutation API, not construction.
	ScopeGrouped Scope = "grouped"
)

// Calendar property keys.
const (
	// PropExportEnabled gates iCal export ("true"/"false").
	PropExportEnabled = "ical:export"
	// PropEventFields is the free-text schema of extra per-event fields.
	PropEventFields = "event:fields"
)

const referenceRoot = "/calendar"

// CalendarRef builds the reference string of a calendar.
func CalendarRef(context, id string) string {
	return referenceRoot + "/" + context + "/" + id
}

// EventRef builds the reference string of an event within a calendar.
func EventRef(calendarRef, eventID string) string {
	return calendarRef + "/" + eventID
}

// Calendar is owned by exactly one context (e.g. a site) and owns its
// events. Metadata lives in an open property bag.
type Calendar struct {
	Context    string            `json:"context"`
	ID         string            `json:"id"`
	Properties map[string]string `json:"properties,omitempty"`
	Removed    bool              `json:"removed,omitempty"`
	ModifiedBy string            `json:"modified_by,omitempty"`
	ModifiedAt time.Time         `json:"modified_at,omitempty"`
}

// Reference returns the calendar's reference string.
func (c *Calendar) Reference() string {
	return CalendarRef(c.Context, c.ID)
}

// ContainerRef returns the reference of the site the calendar belongs
// to; groups are defined per container.
func (c *Calendar) ContainerRef() string {
	return "/site/" + c.Context
}

// Property returns a property bag value, or "" when absent.
func (c *Calendar) Property(name string) string {
	return c.Properties[name]
}

// SetProperty sets a property bag value; empty value removes the key.
func (c *Calendar) SetProperty(name, value string) {
	if value == "" {
		delete(c.Properties, name)
		return
	}
	if c.Properties == nil {
		c.Properties = make(map[string]string)
	}
	c.Properties[name] = value
}

// ExportEnabled reports whether iCal export is allowed for this calendar.
func (c *Calendar) ExportEnabled() bool {
	return c.Property(PropExportEnabled) == "true"
}

// SetExportEnabled toggles iCal export.
func (c *Calendar) SetExportEnabled(enabled bool) {
	if enabled {
		c.SetProperty(PropExportEnabled, "true")
	} else {
		c.SetProperty(PropExportEnabled, "")
	}
}

// EventFields returns the extra-fields schema string kept for events of
// this calendar.
func (c *Calendar) EventFields() string {
	return c.Property(PropEventFields)
}

// SetEventFields replaces the extra-fields schema string.
func (c *Calendar) SetEventFields(fields string) {
	c.SetProperty(PropEventFields, fields)
}

// Clone returns a deep copy.
func (c *Calendar) Clone() *Calendar {
	if c == nil {
		return nil
	}
	cp := *c
	if c.Properties != nil {
		cp.Properties = make(map[string]string, len(c.Properties))
		for k, v := range c.Properties {
			cp.Properties[k] = v
		}
	}
	return &cp
}

// Event is a stored calendar event. An event with a Recurrence is a
// series; its concrete occurrences only exist through Resolve.
type Event struct {
	ID          string `json:"id"`
	CalendarRef string `json:"calendar_ref"`

	Range timerange.Range `json:"range"`

	DisplayName     string `json:"display_name,omitempty"`
	Description     string `json:"description,omitempty"`
	DescriptionHTML string `json:"description_html,omitempty"`
	Type            string `json:"type,omitempty"`
	Location        string `json:"location,omitempty"`

	Creator    string    `json:"creator,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
	ModifiedBy string    `json:"modified_by,omitempty"`
	ModifiedAt time.Time `json:"modified_at,omitempty"`

	Access Scope    `json:"access"`
	Groups []string `json:"groups,omitempty"`

	Attachments []string `json:"attachments,omitempty"`

	Recurrence *recur.Rule         `json:"recurrence,omitempty"`
	Exclusions *recur.ExclusionSet `json:"exclusions,omitempty"`

	// Fields are the calendar-specific extra fields.
	Fields map[string]string `json:"fields,omitempty"`

	// TimeZone is the IANA zone the event was created in; recurrence
	// instances keep their wall-clock time in this zone.
	TimeZone string `json:"time_zone,omitempty"`
}

// Reference returns the event's reference string.
func (e *Event) Reference() string {
	return EventRef(e.CalendarRef, e.ID)
}

// ExclusionSet returns the event's exclusion set, creating an empty one
// on first use.
func (e *Event) ExclusionSet() *recur.ExclusionSet {
	if e.Exclusions == nil {
		e.Exclusions = &recur.ExclusionSet{}
	}
	return e.Exclusions
}

// Field returns the value of an extra event field, or "" when unset.
func (e *Event) Field(name string) string {
	return e.Fields[name]
}

// SetField sets an extra event field; an empty value removes it.
func (e *Event) SetField(name, value string) {
	if value == "" {
		delete(e.Fields, name)
		return
	}
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[name] = value
}

// SetDescription stores the plain-text description and clears any stale
// rich variant so the two cannot drift apart silently.
func (e *Event) SetDescription(plain string) {
	e.Description = plain
	e.DescriptionHTML = ""
}

// SetDescriptionHTML stores the rich description alongside a plain-text
// rendering for consumers that cannot display markup.
func (e *Event) SetDescriptionHTML(html, plain string) {
	e.DescriptionHTML = html
	e.Description = plain
}

// DescriptionRich returns the rich description, falling back to the
// plain text when no rich variant exists.
func (e *Event) DescriptionRich() string {
	if e.DescriptionHTML != "" {
		return e.DescriptionHTML
	}
	return e.Description
}

// IsOwner reports whether principal created the event.
func (e *Event) IsOwner(principal string) bool {
	return e.Creator != "" && e.Creator == principal
}

// Zone resolves the event's creation timezone, defaulting to UTC.
func (e *Event) Zone() *time.Location {
	if e.TimeZone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(e.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Clone returns a deep copy.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Groups = append([]string(nil), e.Groups...)
	cp.Attachments = append([]string(nil), e.Attachments...)
	cp.Recurrence = e.Recurrence.Clone()
	cp.Exclusions = e.Exclusions.Clone()
	if e.Fields != nil {
		cp.Fields = make(map[string]string, len(e.Fields))
		for k, v := range e.Fields {
			cp.Fields[k] = v
		}
	}
	return &cp
}

// CopyPartial takes everything from other except identity and
// recurrence: range, display fields, access, groups, attachments and
// extra fields. Used when splitting one occurrence off a series into a
// standalone event.
func (e *Event) CopyPartial(other *Event) {
	e.Range = other.Range
	e.DisplayName = other.DisplayName
	e.Description = other.Description
	e.DescriptionHTML = other.DescriptionHTML
	e.Type = other.Type
	e.Location = other.Location
	e.Access = other.Access
	e.Groups = append([]string(nil), other.Groups...)
	e.Attachments = append([]string(nil), other.Attachments...)
	e.TimeZone = other.TimeZone
	e.Fields = nil
	for k, v := range other.Fields {
		if e.Fields == nil {
			e.Fields = make(map[string]string)
		}
		e.Fields[k] = v
	}
}

// Occurrence is one dated expansion of an event. It shares the parent's
// descriptive fields by reference through read-only accessors and
// carries its own range, sequence number and surrogate id.
type Occurrence struct {
	id     string
	rng    timerange.Range
	seq    int
	parent *Event
}

// BaseOccurrence wraps a non-recurring event (or the unexpanded base of
// a series) as an occurrence under the event's real id.
func BaseOccurrence(parent *Event) *Occurrence {
	return &Occurrence{id: parent.ID, rng: parent.Range, seq: 0, parent: parent}
}

// NewOccurrence builds the derived occurrence for one generated
// instance of a series; its id is the surrogate encoding.
func NewOccurrence(parent *Event, rng timerange.Range, seq int) *Occurrence {
	return &Occurrence{
		id:     InstanceID(rng, seq, parent.ID),
		rng:    rng,
		seq:    seq,
		parent: parent,
	}
}

// ID returns the occurrence id: the parent's id for a base occurrence,
// or the surrogate encoding for a generated instance.
func (o *Occurrence) ID() string { return o.id }

// IsInstance reports whether the occurrence is a generated series
// instance (as opposed to the event's own base form).
func (o *Occurrence) IsInstance() bool { return strings.HasPrefix(o.id, "!") }

// Range returns the occurrence's concrete time range.
func (o *Occurrence) Range() timerange.Range { return o.rng }

// Sequence returns the occurrence's 0-based series sequence number.
func (o *Occurrence) Sequence() int { return o.seq }

// EventID returns the parent event's real id.
func (o *Occurrence) EventID() string { return o.parent.ID }

// CalendarRef returns the owning calendar's reference.
func (o *Occurrence) CalendarRef() string { return o.parent.CalendarRef }

func (o *Occurrence) DisplayName() string     { return o.parent.DisplayName }
func (o *Occurrence) Description() string     { return o.parent.Description }
func (o *Occurrence) DescriptionRich() string { return o.parent.DescriptionRich() }
func (o *Occurrence) Type() string            { return o.parent.Type }
func (o *Occurrence) Location() string        { return o.parent.Location }
func (o *Occurrence) Creator() string         { return o.parent.Creator }
func (o *Occurrence) Access() Scope           { return o.parent.Access }
func (o *Occurrence) Rule() *recur.Rule       { return o.parent.Recurrence }

// Groups returns a copy of the parent's group references.
func (o *Occurrence) Groups() []string {
	return append([]string(nil), o.parent.Groups...)
}

// Attachments returns a copy of the parent's attachment references.
func (o *Occurrence) Attachments() []string {
	return append([]string(nil), o.parent.Attachments...)
}

// Field returns an extra event field of the parent.
func (o *Occurrence) Field(name string) string { return o.parent.Field(name) }
