// Package correlate groups incoming alerts into investigations. Alerts
// from the same agent and source IP within the correlation window join the
// same open investigation; everything else starts a new one.
package correlate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/argus/internal/alert"
	"github.com/linnemanlabs/argus/internal/event"
	"github.com/linnemanlabs/argus/internal/investigation"
)

// Result describes what Ingest did with an alert.
type Result struct {
	InvestigationID string
	// Correlated is true when the alert joined an existing investigation.
	Correlated bool
	// Duplicate is true when the alert was dropped as already ingested.
	Duplicate bool
}

// entry is the correlator's view of one open investigation.
type entry struct {
	id      string
	key     string
	latest  time.Time // timestamp of the newest alert
	updated time.Time // last time the investigation changed
	open    bool
}

// Engine matches alerts to investigations. All decisions run under one
// mutex so two alerts for the same key cannot race into two new
// investigations.
type Engine struct {
	repo   *investigation.Repository
	store  event.Store
	window time.Duration
	now    func() time.Time

	mu    sync.Mutex
	index map[string][]*entry // correlation key -> open investigations
	byID  map[string]*entry
	seen  map[string]string // alert external ID -> investigation ID
}

// New creates a correlation engine with the given match window.
func New(repo *investigation.Repository, store event.Store, window time.Duration) *Engine {
	return &Engine{
		repo:   repo,
		store:  store,
		window: window,
		now:    time.Now,
		index:  make(map[string][]*entry),
		byID:   make(map[string]*entry),
		seen:   make(map[string]string),
	}
}

func key(a alert.Alert) string {
	return a.SourceAgent + "|" + a.SourceIP
}

// Rebuild repopulates the correlation index from the event store. Called
// once at startup before ingestion begins.
func (e *Engine) Rebuild(ctx context.Context, limit int) error {
	ids, err := e.store.Aggregates(ctx, limit)
	if err != nil {
		return fmt.Errorf("list aggregates: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range ids {
		inv, err := e.repo.Get(ctx, id)
		if err != nil {
			if errors.Is(err, investigation.ErrNotFound) {
				continue
			}
			return fmt.Errorf("rehydrate %s: %w", id, err)
		}
		// Alerts dedup against the whole history, including closed
		// cases; only open cases accept new correlations.
		for _, a := range inv.Alerts {
			e.seen[a.ExternalID] = inv.ID
		}
		if !inv.Status.Open() || len(inv.Alerts) == 0 {
			continue
		}
		ent := &entry{
			id:      inv.ID,
			key:     key(inv.Alerts[0]),
			latest:  inv.LatestAlertTime(),
			updated: inv.UpdatedAt,
			open:    true,
		}
		e.byID[ent.id] = ent
		e.index[ent.key] = append(e.index[ent.key], ent)
	}
	return nil
}

// Ingest routes one normalized alert: duplicate drop, correlation into an
// open investigation, or creation of a new one.
func (e *Engine) Ingest(ctx context.Context, a alert.Alert) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if a.ExternalID != "" {
		if id, ok := e.seen[a.ExternalID]; ok {
			return Result{InvestigationID: id, Duplicate: true}, nil
		}
	}

	if ent := e.match(a); ent != nil {
		res, err := e.correlate(ctx, ent, a)
		if err == nil || !errors.Is(err, errEntryClosed) {
			return res, err
		}
		// The investigation left the open set underneath us; fall
		// through and open a fresh one.
	}
	return e.create(ctx, a)
}

// match finds the open investigation for the alert's key whose newest
// alert is within the window, preferring the most recently updated.
func (e *Engine) match(a alert.Alert) *entry {
	var best *entry
	for _, ent := range e.index[key(a)] {
		if !ent.open {
			continue
		}
		gap := a.Timestamp.Sub(ent.latest)
		if gap < 0 {
			gap = -gap
		}
		if gap > e.window {
			continue
		}
		if best == nil || ent.updated.After(best.updated) {
			best = ent
		}
	}
	return best
}

var errEntryClosed = errors.New("correlate: investigation no longer open")

func (e *Engine) correlate(ctx context.Context, ent *entry, a alert.Alert) (Result, error) {
	_, err := e.repo.Execute(ctx, ent.id, func(inv *investigation.Investigation) ([]event.Event, error) {
		if !inv.Status.Open() {
			return nil, errEntryClosed
		}
		if a.ExternalID != "" && inv.HasAlert(a.ExternalID) {
			return nil, nil
		}
		events := []event.Event{
			event.MustNew(inv.ID, event.AlertCorrelated, investigation.CorrelatedData{Alert: a}),
		}
		events = append(events, observableEvents(inv, a)...)
		return events, nil
	})
	if err != nil {
		if errors.Is(err, errEntryClosed) {
			ent.open = false
			return Result{}, errEntryClosed
		}
		return Result{}, fmt.Errorf("correlate into %s: %w", ent.id, err)
	}

	ent.updated = e.now()
	if a.Timestamp.After(ent.latest) {
		ent.latest = a.Timestamp
	}
	if a.ExternalID != "" {
		e.seen[a.ExternalID] = ent.id
	}
	return Result{InvestigationID: ent.id, Correlated: true}, nil
}

func (e *Engine) create(ctx context.Context, a alert.Alert) (Result, error) {
	id := ulid.Make().String()
	events := []event.Event{
		event.MustNew(id, event.InvestigationCreated, investigation.CreatedData{Alert: a}),
	}
	for _, o := range a.Observables() {
		events = append(events, event.MustNew(id, event.ObservableExtracted, investigation.ObservableData{Observable: o}))
	}
	if _, err := e.repo.Create(ctx, id, events); err != nil {
		return Result{}, fmt.Errorf("open investigation: %w", err)
	}

	ent := &entry{id: id, key: key(a), latest: a.Timestamp, updated: e.now(), open: true}
	e.byID[id] = ent
	e.index[ent.key] = append(e.index[ent.key], ent)
	if a.ExternalID != "" {
		e.seen[a.ExternalID] = id
	}
	return Result{InvestigationID: id}, nil
}

// observableEvents returns extraction events for observables the
// investigation has not seen yet.
func observableEvents(inv *investigation.Investigation, a alert.Alert) []event.Event {
	have := make(map[string]bool, len(inv.Observables))
	for _, o := range inv.Observables {
		have[o.Key()] = true
	}
	var events []event.Event
	for _, o := range a.Observables() {
		if have[o.Key()] {
			continue
		}
		have[o.Key()] = true
		events = append(events, event.MustNew(inv.ID, event.ObservableExtracted, investigation.ObservableData{Observable: o}))
	}
	return events
}

// MarkClosed drops an investigation from the correlation index. The
// workflow runner calls this when an investigation reaches a terminal
// status, so later alerts open a new case instead of matching a dead one.
func (e *Engine) MarkClosed(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ent := e.byID[id]; ent != nil {
		ent.open = false
	}
}

// SetClock overrides the engine clock. Test hook.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}
