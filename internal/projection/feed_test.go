package projection

import (
	"testing"

	"github.com/linnemanlabs/argus/internal/event"
)

func ev(id string, version int) event.Event {
	return event.Event{ID: id, AggregateID: "inv-1", Type: event.PhaseChanged, Version: version}
}

func TestFeedDeliversInOrder(t *testing.T) {
	t.Parallel()

	f := NewFeed(8)
	ch, cancel := f.Subscribe()
	defer cancel()

	f.Publish([]event.Event{ev("e1", 1), ev("e2", 2)})

	if got := <-ch; got.ID != "e1" {
		t.Errorf("first = %s, want e1", got.ID)
	}
	if got := <-ch; got.ID != "e2" {
		t.Errorf("second = %s, want e2", got.ID)
	}
}

func TestFeedDropsWhenFull(t *testing.T) {
	t.Parallel()

	f := NewFeed(1)
	ch, cancel := f.Subscribe()
	defer cancel()

	f.Publish([]event.Event{ev("e1", 1), ev("e2", 2), ev("e3", 3)})

	if got := <-ch; got.ID != "e1" {
		t.Errorf("delivered = %s, want e1", got.ID)
	}
	if f.Dropped() != 2 {
		t.Errorf("dropped = %d, want 2", f.Dropped())
	}

	select {
	case e, ok := <-ch:
		if ok {
			t.Errorf("unexpected delivery %s", e.ID)
		}
	default:
	}
}

func TestFeedCancelRemovesSubscriber(t *testing.T) {
	t.Parallel()

	f := NewFeed(4)
	ch, cancel := f.Subscribe()
	if f.Subscribers() != 1 {
		t.Fatalf("subscribers = %d", f.Subscribers())
	}
	cancel()
	cancel() // idempotent

	if f.Subscribers() != 0 {
		t.Errorf("subscribers = %d after cancel, want 0", f.Subscribers())
	}
	if _, ok := <-ch; ok {
		t.Error("channel still open after cancel")
	}

	f.Publish([]event.Event{ev("e1", 1)})
}

func TestFeedClose(t *testing.T) {
	t.Parallel()

	f := NewFeed(4)
	ch, cancel := f.Subscribe()
	defer cancel()

	f.Close()
	if _, ok := <-ch; ok {
		t.Error("channel open after Close")
	}

	// Publishing and subscribing after close are safe no-ops.
	f.Publish([]event.Event{ev("e1", 1)})
	late, lateCancel := f.Subscribe()
	defer lateCancel()
	if _, ok := <-late; ok {
		t.Error("late subscriber got an open channel")
	}
}
