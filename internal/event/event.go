// Package event defines the append-only event log that is the sole source
// of truth for investigation state.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Type identifies what happened to an aggregate.
type Type string

const (
	InvestigationCreated    Type = "investigation.created"
	InvestigationStarted    Type = "investigation.started"
	InvestigationPaused     Type = "investigation.paused"
	InvestigationResumed    Type = "investigation.resumed"
	InvestigationCancelled  Type = "investigation.cancelled"
	InvestigationEscalated  Type = "investigation.escalated"
	InvestigationAutoClosed Type = "investigation.auto_closed"
	InvestigationClosed     Type = "investigation.closed"

	AlertAdded      Type = "alert.added"
	AlertCorrelated Type = "alert.correlated"

	ObservableExtracted Type = "observable.extracted"
	EnrichmentRequested Type = "enrichment.requested"
	EnrichmentCompleted Type = "enrichment.completed"
	EnrichmentFailed    Type = "enrichment.failed"

	PhaseChanged    Type = "phase.changed"
	VerdictRendered Type = "verdict.rendered"

	HumanReviewRequested  Type = "human.review_requested"
	HumanDecisionReceived Type = "human.decision_received"
)

// AggregateInvestigation is the only aggregate type in the current schema.
const AggregateInvestigation = "investigation"

// Event is an immutable record in the log. Version is strictly increasing
// per aggregate, starting at 1, with no gaps.
type Event struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	Type          Type            `json:"event_type"`
	Version       int             `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	Data          json.RawMessage `json:"data"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
}

// New builds an unversioned event for the given aggregate. The store assigns
// ID, version, and timestamp on append.
func New(aggregateID string, typ Type, data any) (Event, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s data: %w", typ, err)
	}
	return Event{
		AggregateID:   aggregateID,
		AggregateType: AggregateInvestigation,
		Type:          typ,
		Data:          payload,
	}, nil
}

// MustNew is New for payloads that cannot fail to marshal (plain structs and
// maps of JSON-safe values). It panics otherwise.
func MustNew(aggregateID string, typ Type, data any) Event {
	e, err := New(aggregateID, typ, data)
	if err != nil {
		panic(err)
	}
	return e
}

// ErrConcurrencyConflict is returned by Append when the caller's expected
// version no longer matches the stored version. The caller must reload the
// aggregate before retrying.
var ErrConcurrencyConflict = errors.New("event: concurrency conflict")

// ConflictError carries the version detail of a failed append. It unwraps to
// ErrConcurrencyConflict.
type ConflictError struct {
	AggregateID string
	Expected    int
	Actual      int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("event: concurrency conflict on %s: expected version %d, actual %d",
		e.AggregateID, e.Expected, e.Actual)
}

func (e *ConflictError) Unwrap() error { return ErrConcurrencyConflict }
