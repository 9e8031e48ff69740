// Package service is the calendar engine's façade: calendar and event
// lifecycle behind checkout/commit/cancel edit handles, partial-series
// edits routed through surrogate occurrence ids, and access-filtered
// occurrence queries served through the read-through calendar cache.
package service

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"calcore/internal/access"
	"calcore/internal/bus"
	"calcore/internal/cache"
	"calcore/internal/log"
	"calcore/internal/store"
)

var (
	// ErrPermissionDenied reports an authorization refusal.
	ErrPermissionDenied = errors.New("service: permission denied")

	// ErrEditClosed reports use of a handle after commit or cancel.
	// This is a protocol misuse by the caller; it is logged and
	// returned, never shown to end users.
	ErrEditClosed = errors.New("service: edit already closed")
)

// Intention selects how an edit or removal of one occurrence applies
// to its series.
type Intention int

const (
	// ModifyAll applies the change to the whole series.
	ModifyAll Intention = iota
	// ModifyThis splits the single occurrence off the series.
	ModifyThis
)

// Options tunes the service. Zero values fall back to defaults.
type Options struct {
	// Lease is how long a checkout may stay uncommitted before the
	// sweeper cancels it. Defaults to 30 minutes.
	Lease time.Duration

	// SweepSchedule is the cron expression for the lease sweeper.
	// Defaults to "@every 1m".
	SweepSchedule string

	// NewID generates event and calendar ids. Defaults to UUIDs.
	NewID func() string

	// Now is the clock, replaceable in tests.
	Now func() time.Time
}

// Service wires the store, authorization oracle, bus and cache into
// the engine's public surface. All dependencies are constructor
// supplied; there is no ambient global state.
type Service struct {
	store     store.Store
	oracle    access.Oracle
	directory access.Directory
	releaser  access.BindingReleaser
	bus       *bus.Bus
	calendars *cache.Calendars

	newID func() string
	now   func() time.Time
	lease time.Duration

	schedule string
	cron     *cron.Cron

	mu    sync.Mutex
	edits map[string]*editRecord
}

// editRecord tracks one outstanding checkout for lease sweeping.
type editRecord struct {
	ref      string
	deadline time.Time
	expire   func()
}

func New(st store.Store, oracle access.Oracle, directory access.Directory, releaser access.BindingReleaser, b *bus.Bus, opts Options) *Service {
	if opts.Lease <= 0 {
		opts.Lease = 30 * time.Minute
	}
	if opts.SweepSchedule == "" {
		opts.SweepSchedule = "@every 1m"
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Service{
		store:     st,
		oracle:    oracle,
		directory: directory,
		releaser:  releaser,
		bus:       b,
		newID:     opts.NewID,
		now:       opts.Now,
		lease:     opts.Lease,
		schedule:  opts.SweepSchedule,
		edits:     make(map[string]*editRecord),
	}
	s.calendars = cache.NewCalendars(st.GetCalendar)
	s.calendars.Attach(b)
	return s
}

// Start launches the lease sweeper. Safe to skip in tests that sweep
// explicitly.
func (s *Service) Start() error {
	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() { s.SweepExpired(s.now()) }); err != nil {
		return err
	}
	c.Start()
	s.cron = c
	log.Info("lease sweeper started", "schedule", s.schedule, "lease", s.lease.String())
	return nil
}

// Stop halts the sweeper. Outstanding edits are left to their leases.
func (s *Service) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// trackEdit registers an outstanding checkout under its lock key.
func (s *Service) trackEdit(key string, expire func()) {
	s.mu.Lock()
	s.edits[key] = &editRecord{ref: key, deadline: s.now().Add(s.lease), expire: expire}
	s.mu.Unlock()
}

// untrackEdit drops the lease record on commit or cancel.
func (s *Service) untrackEdit(key string) {
	s.mu.Lock()
	delete(s.edits, key)
	s.mu.Unlock()
}

// SweepExpired cancels every checkout whose lease deadline has passed.
// The cron job calls this; tests may call it directly with a chosen
// clock value.
func (s *Service) SweepExpired(now time.Time) int {
	s.mu.Lock()
	var expired []*editRecord
	for key, rec := range s.edits {
		if now.After(rec.deadline) {
			expired = append(expired, rec)
			delete(s.edits, key)
		}
	}
	s.mu.Unlock()

	for _, rec := range expired {
		log.Warn("edit lease expired, cancelling", "ref", rec.ref)
		rec.expire()
	}
	return len(expired)
}

// closedEdit logs protocol misuse on a deactivated handle.
func closedEdit(op, ref string) error {
	log.Warn("operation on closed edit", "op", op, "ref", ref)
	return ErrEditClosed
}
