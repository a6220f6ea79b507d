package investigation

import (
	"context"
	"errors"
	"fmt"

	"github.com/linnemanlabs/argus/internal/event"
)

// ErrNotFound is returned when no events exist for an investigation ID.
var ErrNotFound = errors.New("investigation: not found")

// Command inspects aggregate state and returns the events to append.
type Command func(inv *Investigation) ([]event.Event, error)

// Publisher receives events after they are durably appended. Used to fan
// stored events out to projections and live streams.
type Publisher interface {
	Publish(events []event.Event)
}

// Repository rehydrates investigations from the event store and runs
// commands against them under optimistic concurrency.
type Repository struct {
	store     event.Store
	publisher Publisher
	// retries bounds conflict retries per Execute call.
	retries int
}

// NewRepository creates a repository over the given store.
func NewRepository(store event.Store) *Repository {
	return &Repository{store: store, retries: 3}
}

// SetPublisher attaches a post-append publisher. Must be called before
// the repository is shared across goroutines.
func (r *Repository) SetPublisher(p Publisher) {
	r.publisher = p
}

// Get loads and folds the full event stream for one investigation.
func (r *Repository) Get(ctx context.Context, id string) (*Investigation, error) {
	events, err := r.store.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", id, err)
	}
	if len(events) == 0 {
		return nil, ErrNotFound
	}
	return Replay(events)
}

// Execute loads the aggregate, runs cmd, and appends its events at the
// loaded version. On a concurrency conflict it reloads and retries, so the
// command sees fresh state each attempt. Commands must therefore be safe
// to run more than once against different states.
func (r *Repository) Execute(ctx context.Context, id string, cmd Command) (*Investigation, error) {
	var lastErr error
	for attempt := 0; attempt <= r.retries; attempt++ {
		inv, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		events, err := cmd(inv)
		if err != nil {
			return nil, err
		}
		if len(events) == 0 {
			return inv, nil
		}
		stored, err := r.store.Append(ctx, id, inv.Version, events)
		if err != nil {
			if errors.Is(err, event.ErrConcurrencyConflict) {
				lastErr = err
				continue
			}
			return nil, fmt.Errorf("append to %s: %w", id, err)
		}
		r.publish(stored)
		return r.Get(ctx, id)
	}
	return nil, fmt.Errorf("execute on %s: %w", id, lastErr)
}

// Create starts a new investigation stream with the given events. It fails
// with a conflict when the stream already exists.
func (r *Repository) Create(ctx context.Context, id string, events []event.Event) (*Investigation, error) {
	stored, err := r.store.Append(ctx, id, 0, events)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", id, err)
	}
	r.publish(stored)
	return r.Get(ctx, id)
}

func (r *Repository) publish(events []event.Event) {
	if r.publisher != nil {
		r.publisher.Publish(events)
	}
}
