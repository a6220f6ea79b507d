package investigation

import (
	"time"

	"github.com/linnemanlabs/argus/internal/alert"
	"github.com/linnemanlabs/argus/internal/enrich"
	"github.com/linnemanlabs/argus/internal/verdict"
)

// Event payload shapes. Every payload is a plain JSON object; the fold in
// Apply is the only consumer that interprets them.

// CreatedData starts an investigation from its seed alert.
type CreatedData struct {
	Alert alert.Alert `json:"alert"`
}

// CorrelatedData attaches a later alert to an open investigation.
type CorrelatedData struct {
	Alert alert.Alert `json:"alert"`
}

// ObservableData records one extracted observable.
type ObservableData struct {
	Observable alert.Observable `json:"observable"`
}

// EnrichmentRequestedData marks the start of enrichment fan-out.
type EnrichmentRequestedData struct {
	Observables int      `json:"observables"`
	Sources     []string `json:"sources"`
}

// EnrichmentCompletedData is one successful source call.
type EnrichmentCompletedData struct {
	Source     string           `json:"source"`
	Observable alert.Observable `json:"observable"`
	Verdict    enrich.Verdict   `json:"verdict"`
	Detail     string           `json:"detail,omitempty"`
}

// EnrichmentFailedData is one source call that exhausted its retries.
type EnrichmentFailedData struct {
	Source     string           `json:"source"`
	Observable alert.Observable `json:"observable"`
	Error      string           `json:"error"`
}

// PhaseData moves the workflow between phases.
type PhaseData struct {
	From   Phase  `json:"from"`
	To     Phase  `json:"to"`
	Reason string `json:"reason,omitempty"`
}

// VerdictData records the engine's routed decision.
type VerdictData struct {
	Outcome verdict.Outcome `json:"outcome"`
}

// ReviewRequestedData opens a human review.
type ReviewRequestedData struct {
	ReviewID     string           `json:"review_id"`
	AIDecision   verdict.Decision `json:"ai_decision"`
	AIConfidence float64          `json:"ai_confidence"`
	Reason       string           `json:"reason,omitempty"`
	ExpiresAt    time.Time        `json:"expires_at"`
}

// DecisionData resolves (or extends) a human review.
type DecisionData struct {
	ReviewID  string        `json:"review_id"`
	Outcome   ReviewOutcome `json:"outcome"`
	Reviewer  string        `json:"reviewer,omitempty"`
	Channel   string        `json:"channel,omitempty"`
	Feedback  string        `json:"feedback,omitempty"`
	Questions []string      `json:"questions,omitempty"`
	// ExtendsTo is set only for request_info, pushing the deadline out.
	ExtendsTo time.Time `json:"extends_to,omitempty"`
}

// EscalatedData hands the investigation to a responder.
type EscalatedData struct {
	Reason string `json:"reason,omitempty"`
}

// ClosedData finishes the investigation.
type ClosedData struct {
	Status     Status `json:"status"`
	Resolution string `json:"resolution,omitempty"`
}

// CancelledData aborts the investigation from any non-terminal state.
type CancelledData struct {
	Reason string `json:"reason,omitempty"`
}
