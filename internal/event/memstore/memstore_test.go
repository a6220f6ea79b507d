package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/argus/internal/event"
)

func TestAppendAssignsVersions(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	stored, err := s.Append(ctx, "inv-1", 0, []event.Event{
		event.MustNew("inv-1", event.InvestigationCreated, map[string]string{"k": "v"}),
		event.MustNew("inv-1", event.InvestigationStarted, struct{}{}),
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(stored) != 2 || stored[1].Version != 2 {
		t.Errorf("stored = %+v, want two events ending at version 2", stored)
	}

	events, err := s.Load(ctx, "inv-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	for i, e := range events {
		if e.Version != i+1 {
			t.Errorf("events[%d].Version = %d, want %d", i, e.Version, i+1)
		}
		if e.ID == "" {
			t.Errorf("events[%d].ID is empty", i)
		}
	}
}

func TestAppendConflict(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	if _, err := s.Append(ctx, "inv-1", 0, []event.Event{
		event.MustNew("inv-1", event.InvestigationCreated, struct{}{}),
	}); err != nil {
		t.Fatalf("first append: %v", err)
	}

	_, err := s.Append(ctx, "inv-1", 0, []event.Event{
		event.MustNew("inv-1", event.InvestigationStarted, struct{}{}),
	})
	if !errors.Is(err, event.ErrConcurrencyConflict) {
		t.Fatalf("err = %v, want concurrency conflict", err)
	}
	var conflict *event.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err is not a ConflictError: %v", err)
	}
	if conflict.Expected != 0 || conflict.Actual != 1 {
		t.Errorf("conflict = expected %d actual %d, want 0/1", conflict.Expected, conflict.Actual)
	}

	if v, _ := s.Version(ctx, "inv-1"); v != 1 {
		t.Errorf("version after rejected append = %d, want 1", v)
	}
}

func TestConcurrentAppendsExactlyOneWins(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	if _, err := s.Append(ctx, "inv-1", 0, []event.Event{
		event.MustNew("inv-1", event.InvestigationCreated, struct{}{}),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	const writers = 16
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Append(ctx, "inv-1", 1, []event.Event{
				event.MustNew("inv-1", event.InvestigationStarted, struct{}{}),
			})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else if !errors.Is(err, event.ErrConcurrencyConflict) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("winners = %d, want exactly 1", wins)
	}
	if v, _ := s.Version(ctx, "inv-1"); v != 2 {
		t.Errorf("final version = %d, want 2", v)
	}
}

func TestLoadReturnsCopy(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	if _, err := s.Append(ctx, "inv-1", 0, []event.Event{
		event.MustNew("inv-1", event.InvestigationCreated, struct{}{}),
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	first, _ := s.Load(ctx, "inv-1")
	first[0].Type = "tampered"

	second, _ := s.Load(ctx, "inv-1")
	if second[0].Type != event.InvestigationCreated {
		t.Errorf("store state mutated through Load result")
	}
}

func TestAggregatesMostRecentFirst(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	s.SetClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	})

	for _, id := range []string{"inv-a", "inv-b", "inv-c"} {
		if _, err := s.Append(ctx, id, 0, []event.Event{
			event.MustNew(id, event.InvestigationCreated, struct{}{}),
		}); err != nil {
			t.Fatalf("append %s: %v", id, err)
		}
	}
	// Touch inv-a again so it becomes the most recent.
	if _, err := s.Append(ctx, "inv-a", 1, []event.Event{
		event.MustNew("inv-a", event.InvestigationStarted, struct{}{}),
	}); err != nil {
		t.Fatalf("touch inv-a: %v", err)
	}

	ids, err := s.Aggregates(ctx, 2)
	if err != nil {
		t.Fatalf("aggregates: %v", err)
	}
	if len(ids) != 2 || ids[0] != "inv-a" || ids[1] != "inv-c" {
		t.Errorf("aggregates = %v, want [inv-a inv-c]", ids)
	}
}

func TestSinceFiltersAndOrders(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	s.SetClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	})

	s.Append(ctx, "inv-a", 0, []event.Event{event.MustNew("inv-a", event.InvestigationCreated, struct{}{})})
	s.Append(ctx, "inv-b", 0, []event.Event{event.MustNew("inv-b", event.InvestigationCreated, struct{}{})})
	s.Append(ctx, "inv-a", 1, []event.Event{event.MustNew("inv-a", event.PhaseChanged, struct{}{})})

	all, err := s.Since(ctx, base, nil, 0)
	if err != nil {
		t.Fatalf("since: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len(all) = %d, want 3", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].Timestamp.Before(all[i-1].Timestamp) {
			t.Errorf("events out of order at %d", i)
		}
	}

	created, err := s.Since(ctx, base, []event.Type{event.InvestigationCreated}, 0)
	if err != nil {
		t.Fatalf("since filtered: %v", err)
	}
	if len(created) != 2 {
		t.Errorf("len(created) = %d, want 2", len(created))
	}

	late, err := s.Since(ctx, base.Add(2*time.Minute), nil, 0)
	if err != nil {
		t.Fatalf("since late: %v", err)
	}
	if len(late) != 1 || late[0].Type != event.PhaseChanged {
		t.Errorf("late = %+v, want only the phase change", late)
	}
}
