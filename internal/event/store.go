package event

import (
	"context"
	"time"
)

// Store is the append-only, versioned event log. Append is the only write
// path in the system; the expected-version check is the sole mutual
// exclusion mechanism for concurrent mutations of one aggregate.
type Store interface {
	// Append persists events atomically, assigning versions
	// expected+1..expected+len(events) along with IDs and timestamps.
	// It fails with a ConflictError (matching ErrConcurrencyConflict)
	// when the stored version differs from expected. Returns the events
	// as stored.
	Append(ctx context.Context, aggregateID string, expected int, events []Event) ([]Event, error)

	// Load returns all events for an aggregate in version order. It is a
	// pure read: deterministic and side-effect free.
	Load(ctx context.Context, aggregateID string) ([]Event, error)

	// Version returns the latest version for an aggregate, 0 when no
	// events exist.
	Version(ctx context.Context, aggregateID string) (int, error)

	// Aggregates lists known aggregate IDs, most recently updated first.
	Aggregates(ctx context.Context, limit int) ([]string, error)

	// Since returns events across aggregates after t, oldest first,
	// optionally filtered by type. Used by projections and the audit log.
	Since(ctx context.Context, t time.Time, types []Type, limit int) ([]Event, error)
}
