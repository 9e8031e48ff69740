// Package access decides which principals may see and change calendar
// content. Authorization answers come from an external Oracle; this
// package handles only the calendar-specific policy built on top of
// it, notably the group-scoped occurrence filter.
package access

import (
	"sort"

	"calcore/internal/model"
)

// Authorization function names checked against the oracle.
const (
	FuncRead      = "calendar.read"
	FuncNew       = "calendar.new"
	FuncReviseAny = "calendar.revise.any"
	FuncReviseOwn = "calendar.revise.own"
	FuncDeleteAny = "calendar.delete.any"
	FuncDeleteOwn = "calendar.delete.own"

	// FuncAllGroups is the override that lets a principal see every
	// group-scoped event regardless of group membership.
	FuncAllGroups = "calendar.all.groups"
)

// Oracle answers authorization questions for a principal.
type Oracle interface {
	// IsAllowed reports whether the principal may perform the named
	// function on the resource.
	IsAllowed(principal, function, resourceRef string) bool

	// GroupsAllowingFunction returns, from the candidate groups of a
	// container, those in which the principal may perform the named
	// function. A superuser or a principal holding the all-groups
	// override gets every candidate back.
	GroupsAllowingFunction(principal, containerRef, function string, candidates []string) []string
}

// Directory looks up the groups defined in a container (a site).
type Directory interface {
	ContainerGroups(containerRef string) []string
}

// BindingReleaser drops any authorization-group binding attached to a
// resource reference. Removal of a calendar or event calls it so stale
// bindings do not outlive the resource.
type BindingReleaser interface {
	ReleaseBindings(resourceRef string)
}

// Static is a fixed-table Oracle and Directory for wiring and tests.
// The zero value denies everything.
type Static struct {
	// Superusers hold every function everywhere.
	Superusers map[string]bool

	// Allowed maps principal -> function -> allowed. Resource
	// references are not consulted.
	Allowed map[string]map[string]bool

	// Memberships maps principal -> group refs the principal belongs
	// to; group functions are granted within those groups.
	Memberships map[string][]string

	// Groups maps container ref -> group refs defined in it.
	Groups map[string][]string
}

func (s *Static) IsAllowed(principal, function, _ string) bool {
	if s.Superusers[principal] {
		return true
	}
	return s.Allowed[principal][function]
}

func (s *Static) GroupsAllowingFunction(principal, _, function string, candidates []string) []string {
	if s.Superusers[principal] || s.Allowed[principal][FuncAllGroups] {
		return append([]string(nil), candidates...)
	}
	if !s.IsAllowed(principal, function, "") {
		return nil
	}
	member := make(map[string]bool, len(s.Memberships[principal]))
	for _, g := range s.Memberships[principal] {
		member[g] = true
	}
	var out []string
	for _, g := range candidates {
		if member[g] {
			out = append(out, g)
		}
	}
	return out
}

func (s *Static) ContainerGroups(containerRef string) []string {
	return append([]string(nil), s.Groups[containerRef]...)
}

func (s *Static) ReleaseBindings(string) {}

// ReadableGroups computes, once per query, the set of groups within a
// calendar's container in which the principal may read events.
func ReadableGroups(o Oracle, d Directory, principal string, cal *model.Calendar) map[string]bool {
	candidates := d.ContainerGroups(cal.ContainerRef())
	allowed := o.GroupsAllowingFunction(principal, cal.ContainerRef(), FuncRead, candidates)
	set := make(map[string]bool, len(allowed))
	for _, g := range allowed {
		set[g] = true
	}
	return set
}

// Filter keeps the occurrences the principal may see: site-scoped
// occurrences always pass; group-scoped occurrences pass when their
// group set intersects readable. Group comparison is by reference
// string. The input order is preserved.
func Filter(occurrences []*model.Occurrence, readable map[string]bool) []*model.Occurrence {
	out := occurrences[:0:0]
	for _, occ := range occurrences {
		if occ.Access() != model.ScopeGrouped {
			out = append(out, occ)
			continue
		}
		for _, g := range occ.Groups() {
			if readable[g] {
				out = append(out, occ)
				break
			}
		}
	}
	return out
}

// CanModify reports whether the principal may revise the event,
// honoring the any/own split keyed off the event creator.
func CanModify(o Oracle, principal string, ev *model.Event) bool {
	if o.IsAllowed(principal, FuncReviseAny, ev.Reference()) {
		return true
	}
	return ev.IsOwner(principal) && o.IsAllowed(principal, FuncReviseOwn, ev.Reference())
}

// CanRemove is the deletion counterpart of CanModify.
func CanRemove(o Oracle, principal string, ev *model.Event) bool {
	if o.IsAllowed(principal, FuncDeleteAny, ev.Reference()) {
		return true
	}
	return ev.IsOwner(principal) && o.IsAllowed(principal, FuncDeleteOwn, ev.Reference())
}

// PermittedGroups returns the sorted groups of the container in which
// the principal may create events. Used to validate the group set of a
// new grouped event.
func PermittedGroups(o Oracle, d Directory, principal string, cal *model.Calendar) []string {
	candidates := d.ContainerGroups(cal.ContainerRef())
	allowed := o.GroupsAllowingFunction(principal, cal.ContainerRef(), FuncNew, candidates)
	sort.Strings(allowed)
	return allowed
}
