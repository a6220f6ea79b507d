// Package investigation defines the investigation aggregate: its state,
// the events that mutate it, and the phase machine that governs the
// triage workflow.
package investigation

import (
	"time"

	"github.com/linnemanlabs/argus/internal/alert"
	"github.com/linnemanlabs/argus/internal/enrich"
	"github.com/linnemanlabs/argus/internal/verdict"
)

// Status is the lifecycle state of an investigation.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusPaused     Status = "paused"
	StatusEscalated  Status = "escalated"
	StatusAutoClosed Status = "auto_closed"
	StatusRejected   Status = "rejected"
	StatusClosed     Status = "closed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further events may be appended once the
// investigation reaches this status.
func (s Status) Terminal() bool {
	switch s {
	case StatusAutoClosed, StatusRejected, StatusClosed, StatusCancelled:
		return true
	}
	return false
}

// Open reports whether new alerts may still correlate into the
// investigation. Escalated cases are handed to incident response and no
// longer accept alerts even though they are not terminal.
func (s Status) Open() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusPaused:
		return true
	}
	return false
}

// Phase is the workflow stage an investigation is in.
type Phase string

const (
	PhaseTriage      Phase = "triage"
	PhaseEnrichment  Phase = "enrichment"
	PhaseAnalysis    Phase = "analysis"
	PhaseVerdict     Phase = "verdict"
	PhaseHumanReview Phase = "human_review"
	PhaseEscalation  Phase = "escalation"
	PhaseClosed      Phase = "closed"
)

// ReviewStatus is the state of a pending human review.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
	ReviewExpired  ReviewStatus = "expired"
)

// ReviewOutcome is what a reviewer (or the timeout sweeper) decided.
type ReviewOutcome string

const (
	OutcomeApprove     ReviewOutcome = "approve"
	OutcomeReject      ReviewOutcome = "reject"
	OutcomeRequestInfo ReviewOutcome = "request_info"
	OutcomeExpire      ReviewOutcome = "expire"
)

// Review is the human-review state carried on the aggregate. A pending
// review resolves exactly once; request_info keeps it pending and extends
// the deadline.
type Review struct {
	ID           string           `json:"id"`
	Status       ReviewStatus     `json:"status"`
	AIDecision   verdict.Decision `json:"ai_decision"`
	AIConfidence float64          `json:"ai_confidence"`
	Reason       string           `json:"reason,omitempty"`
	RequestedAt  time.Time        `json:"requested_at"`
	ExpiresAt    time.Time        `json:"expires_at"`
	ResolvedAt   time.Time        `json:"resolved_at,omitempty"`
	ResolvedBy   string           `json:"resolved_by,omitempty"`
	Channel      string           `json:"channel,omitempty"`
	Feedback     string           `json:"feedback,omitempty"`
	InfoRequests []InfoRequest    `json:"info_requests,omitempty"`
}

// InfoRequest records one request_info round on a review.
type InfoRequest struct {
	Reviewer  string    `json:"reviewer"`
	Channel   string    `json:"channel"`
	Questions []string  `json:"questions,omitempty"`
	At        time.Time `json:"at"`
}

// EnrichmentRecord is one source call outcome folded into the aggregate.
type EnrichmentRecord struct {
	Source     string           `json:"source"`
	Observable alert.Observable `json:"observable"`
	Verdict    enrich.Verdict   `json:"verdict,omitempty"`
	Detail     string           `json:"detail,omitempty"`
	Failed     bool             `json:"failed,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// TaggedObservable is an observable with its aggregated enrichment verdict.
type TaggedObservable struct {
	alert.Observable
	Verdict enrich.Verdict `json:"verdict"`
}

// Investigation is the rehydrated aggregate state. It is built purely by
// folding events; nothing mutates it outside Apply.
type Investigation struct {
	ID          string             `json:"id"`
	Status      Status             `json:"status"`
	Phase       Phase              `json:"phase"`
	Severity    alert.Severity     `json:"severity"`
	Alerts      []alert.Alert      `json:"alerts"`
	Observables []TaggedObservable `json:"observables"`
	Enrichments []EnrichmentRecord `json:"enrichments,omitempty"`
	Summary     enrich.Summary     `json:"enrichment_summary"`
	Verdict     *verdict.Outcome   `json:"verdict,omitempty"`
	Review      *Review            `json:"review,omitempty"`

	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	ClosedAt     time.Time `json:"closed_at,omitempty"`
	Resolution   string    `json:"resolution,omitempty"`
	CancelReason string    `json:"cancel_reason,omitempty"`

	// ResumePhase remembers where a paused investigation picks back up.
	ResumePhase Phase `json:"resume_phase,omitempty"`

	Version int `json:"version"`
}

// MaxLevel returns the highest alert level on the investigation.
func (inv *Investigation) MaxLevel() int {
	max := 0
	for _, a := range inv.Alerts {
		if a.Level > max {
			max = a.Level
		}
	}
	return max
}

// HasAlert reports whether an alert with the given external ID is already
// part of the investigation.
func (inv *Investigation) HasAlert(externalID string) bool {
	for _, a := range inv.Alerts {
		if a.ExternalID == externalID {
			return true
		}
	}
	return false
}

// LatestAlertTime returns the timestamp of the most recent alert.
func (inv *Investigation) LatestAlertTime() time.Time {
	var latest time.Time
	for _, a := range inv.Alerts {
		if a.Timestamp.After(latest) {
			latest = a.Timestamp
		}
	}
	return latest
}

// CaseSummary builds the evidence bundle handed to the verdict engine.
func (inv *Investigation) CaseSummary() verdict.CaseSummary {
	sum := verdict.CaseSummary{
		InvestigationID: inv.ID,
		Severity:        inv.Severity,
		MaxLevel:        inv.MaxLevel(),
		AlertCount:      len(inv.Alerts),
		Enrichment:      inv.Summary,
	}
	seen := make(map[string]bool)
	for _, a := range inv.Alerts {
		if a.RuleDescription != "" && !seen[a.RuleDescription] {
			seen[a.RuleDescription] = true
			sum.RuleDescriptions = append(sum.RuleDescriptions, a.RuleDescription)
		}
	}
	details := make(map[string][]string)
	for _, r := range inv.Enrichments {
		if !r.Failed && r.Detail != "" {
			k := r.Observable.Key()
			details[k] = append(details[k], r.Source+": "+r.Detail)
		}
	}
	for _, o := range inv.Observables {
		sum.Findings = append(sum.Findings, verdict.Finding{
			Observable: o.Observable,
			Verdict:    o.Verdict,
			Details:    details[o.Key()],
		})
	}
	return sum
}
