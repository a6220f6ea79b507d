package verdict

import (
	"context"
	"flag"
	"fmt"

	"github.com/linnemanlabs/argus/internal/alert"
	"github.com/linnemanlabs/argus/internal/enrich"
)

// Route is where the engine sends an investigation after weighing the
// advisor's advice against the configured thresholds.
type Route string

const (
	RouteAutoClose   Route = "auto_close"
	RouteEscalate    Route = "escalate"
	RouteHumanReview Route = "human_review"
)

// Finding is one observable with its aggregated enrichment verdict.
type Finding struct {
	Observable alert.Observable `json:"observable"`
	Verdict    enrich.Verdict   `json:"verdict"`
	Details    []string         `json:"details,omitempty"`
}

// CaseSummary is the evidence handed to the advisor.
type CaseSummary struct {
	InvestigationID  string         `json:"investigation_id"`
	Severity         alert.Severity `json:"severity"`
	MaxLevel         int            `json:"max_level"`
	AlertCount       int            `json:"alert_count"`
	RuleDescriptions []string       `json:"rule_descriptions"`
	Findings         []Finding      `json:"findings"`
	Enrichment       enrich.Summary `json:"enrichment"`
}

// Config holds the confidence thresholds that gate automation.
type Config struct {
	// AutoCloseConfidence is the minimum confidence at which a close
	// recommendation closes the investigation without a human.
	AutoCloseConfidence float64
	// EscalationConfidence is the minimum confidence at which an
	// escalate recommendation pages without a human.
	EscalationConfidence float64
	// CriticalLevel escalates unconditionally at or above this alert level.
	CriticalLevel int
}

// RegisterFlags registers engine flags with the prefix "verdict.".
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.Float64Var(&c.AutoCloseConfidence, "verdict.auto-close-confidence", 0.25, "minimum confidence to auto-close on a close recommendation")
	fs.Float64Var(&c.EscalationConfidence, "verdict.escalation-confidence", 0.50, "minimum confidence to escalate without review")
	fs.IntVar(&c.CriticalLevel, "verdict.critical-level", 12, "alert level at or above which investigations always escalate")
}

// Validate checks threshold sanity.
func (c *Config) Validate() error {
	if c.AutoCloseConfidence < 0 || c.AutoCloseConfidence > 1 {
		return fmt.Errorf("verdict.auto-close-confidence must be in [0,1], got %v", c.AutoCloseConfidence)
	}
	if c.EscalationConfidence < 0 || c.EscalationConfidence > 1 {
		return fmt.Errorf("verdict.escalation-confidence must be in [0,1], got %v", c.EscalationConfidence)
	}
	if c.CriticalLevel < 0 {
		return fmt.Errorf("verdict.critical-level must be >= 0, got %d", c.CriticalLevel)
	}
	return nil
}

// Outcome is the engine's decision for an investigation.
type Outcome struct {
	Advice Advice `json:"advice"`
	Route  Route  `json:"route"`
	Reason string `json:"reason"`
}

// Engine applies confidence thresholds to advisor recommendations.
type Engine struct {
	advisor Advisor
	cfg     Config
}

// NewEngine creates a verdict engine.
func NewEngine(advisor Advisor, cfg Config) *Engine {
	return &Engine{advisor: advisor, cfg: cfg}
}

// Decide consults the advisor and routes the investigation.
//
// Critical-level investigations escalate regardless of the advice. An
// advisor failure is treated as needs_more_info at zero confidence, which
// always lands in human review.
func (e *Engine) Decide(ctx context.Context, sum CaseSummary) Outcome {
	if e.cfg.CriticalLevel > 0 && sum.MaxLevel >= e.cfg.CriticalLevel {
		return Outcome{
			Advice: Advice{Decision: DecisionEscalate, Confidence: 1.0, Reasoning: fmt.Sprintf("alert level %d at or above critical threshold %d", sum.MaxLevel, e.cfg.CriticalLevel)},
			Route:  RouteEscalate,
			Reason: "critical severity",
		}
	}

	advice, err := e.advisor.Advise(ctx, sum)
	if err != nil {
		return Outcome{
			Advice: Advice{Decision: DecisionNeedsMoreInfo, Confidence: 0, Reasoning: fmt.Sprintf("advisor unavailable: %v", err)},
			Route:  RouteHumanReview,
			Reason: "advisor failure",
		}
	}
	if !advice.Decision.Valid() {
		advice = Advice{Decision: DecisionNeedsMoreInfo, Confidence: 0, Reasoning: fmt.Sprintf("advisor returned unknown decision %q", advice.Decision)}
	}

	return Outcome{Advice: advice, Route: e.route(advice), Reason: e.reason(advice)}
}

func (e *Engine) route(a Advice) Route {
	switch {
	case a.Decision == DecisionClose && a.Confidence >= e.cfg.AutoCloseConfidence:
		return RouteAutoClose
	case a.Decision == DecisionEscalate && a.Confidence >= e.cfg.EscalationConfidence:
		return RouteEscalate
	default:
		return RouteHumanReview
	}
}

func (e *Engine) reason(a Advice) string {
	switch {
	case a.Decision == DecisionClose && a.Confidence >= e.cfg.AutoCloseConfidence:
		return fmt.Sprintf("close at confidence %.2f >= %.2f", a.Confidence, e.cfg.AutoCloseConfidence)
	case a.Decision == DecisionEscalate && a.Confidence >= e.cfg.EscalationConfidence:
		return fmt.Sprintf("escalate at confidence %.2f >= %.2f", a.Confidence, e.cfg.EscalationConfidence)
	case a.Decision == DecisionClose:
		return fmt.Sprintf("close below auto-close confidence %.2f", e.cfg.AutoCloseConfidence)
	case a.Decision == DecisionEscalate:
		return fmt.Sprintf("escalate below escalation confidence %.2f", e.cfg.EscalationConfidence)
	default:
		return fmt.Sprintf("decision %s requires a human", a.Decision)
	}
}
