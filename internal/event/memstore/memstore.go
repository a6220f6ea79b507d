// Package memstore provides an in-memory implementation of event.Store.
// Suitable for dev/testing; the version check runs under a single mutex so
// concurrent appends observe the same compare-and-swap semantics as the
// postgres store.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/argus/internal/event"
)

// Store holds events in memory, ordered per aggregate.
type Store struct {
	mu      sync.RWMutex
	streams map[string][]event.Event // aggregate ID -> events in version order
	touched map[string]time.Time     // aggregate ID -> last append time
	now     func() time.Time
}

// New initializes an empty in-memory Store.
func New() *Store {
	return &Store{
		streams: make(map[string][]event.Event),
		touched: make(map[string]time.Time),
		now:     time.Now,
	}
}

// SetClock overrides the store clock. Test hook.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Append implements event.Store with a mutex-guarded compare-and-swap.
func (s *Store) Append(_ context.Context, aggregateID string, expected int, events []event.Event) ([]event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stream := s.streams[aggregateID]
	current := len(stream)
	if current != expected {
		return nil, &event.ConflictError{AggregateID: aggregateID, Expected: expected, Actual: current}
	}

	ts := s.now()
	stored := make([]event.Event, 0, len(events))
	for i, e := range events {
		e.ID = ulid.Make().String()
		e.AggregateID = aggregateID
		e.Version = current + i + 1
		e.Timestamp = ts
		if e.AggregateType == "" {
			e.AggregateType = event.AggregateInvestigation
		}
		stored = append(stored, e)
	}

	s.streams[aggregateID] = append(stream, stored...)
	s.touched[aggregateID] = ts
	return stored, nil
}

// Load returns a copy of the aggregate's events in version order.
func (s *Store) Load(_ context.Context, aggregateID string) ([]event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stream := s.streams[aggregateID]
	out := make([]event.Event, len(stream))
	copy(out, stream)
	return out, nil
}

// Version returns the latest version for an aggregate, 0 if none.
func (s *Store) Version(_ context.Context, aggregateID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.streams[aggregateID]), nil
}

// Aggregates lists aggregate IDs, most recently appended first.
func (s *Store) Aggregates(_ context.Context, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.streams))
	for id := range s.streams {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return s.touched[ids[i]].After(s.touched[ids[j]])
	})
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// Since returns events across aggregates after t, oldest first.
func (s *Store) Since(_ context.Context, t time.Time, types []event.Type, limit int) ([]event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[event.Type]bool, len(types))
	for _, typ := range types {
		want[typ] = true
	}

	var out []event.Event
	for _, stream := range s.streams {
		for _, e := range stream {
			if !e.Timestamp.After(t) {
				continue
			}
			if len(want) > 0 && !want[e.Type] {
				continue
			}
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
