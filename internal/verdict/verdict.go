// Package verdict turns an enriched investigation into a disposition,
// combining an AI advisor's recommendation with confidence thresholds.
package verdict

import "context"

// Decision is the advisor's recommended disposition.
type Decision string

const (
	DecisionClose         Decision = "close"
	DecisionEscalate      Decision = "escalate"
	DecisionSuspicious    Decision = "suspicious"
	DecisionNeedsMoreInfo Decision = "needs_more_info"
)

// Valid reports whether d is a known decision.
func (d Decision) Valid() bool {
	switch d {
	case DecisionClose, DecisionEscalate, DecisionSuspicious, DecisionNeedsMoreInfo:
		return true
	}
	return false
}

// Advice is the advisor's recommendation for an investigation.
type Advice struct {
	Decision   Decision `json:"decision"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
}

// Advisor produces a triage recommendation for an investigation summary.
// Implementations should return an error rather than fabricate a decision
// when the upstream model is unavailable.
type Advisor interface {
	Advise(ctx context.Context, sum CaseSummary) (Advice, error)
}
