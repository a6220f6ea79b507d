// Package review implements the human-in-the-loop gate: one pending
// review per human_review entry, resolved exactly once across channels.
package review

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/argus/internal/event"
	"github.com/linnemanlabs/argus/internal/investigation"
	"github.com/linnemanlabs/argus/internal/verdict"
)

// ErrAlreadyResolved is returned when a channel tries to resolve a review
// that another channel (or the sweeper) already resolved. Callers must
// refresh state instead of retrying.
var ErrAlreadyResolved = errors.New("review: already resolved")

// Config holds the review timeout and sweep policy.
type Config struct {
	// Timeout is how long a review stays open before the sweeper
	// resolves it. request_info extends the deadline by this much again.
	Timeout time.Duration
	// SweepInterval is how often expired reviews are collected.
	SweepInterval time.Duration
	// DefaultOutcome is where an expired review sends the
	// investigation: "escalate" or "close".
	DefaultOutcome string
}

// RegisterFlags registers gate flags with the prefix "review.".
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.DurationVar(&c.Timeout, "review.timeout", 300*time.Second, "how long a pending review waits for a human")
	fs.DurationVar(&c.SweepInterval, "review.sweep-interval", 30*time.Second, "how often expired reviews are swept")
	fs.StringVar(&c.DefaultOutcome, "review.default-outcome", "escalate", "outcome for expired reviews (escalate or close)")
}

// Validate checks the sweep policy.
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("review.timeout must be positive, got %v", c.Timeout)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("review.sweep-interval must be positive, got %v", c.SweepInterval)
	}
	if c.DefaultOutcome != "escalate" && c.DefaultOutcome != "close" {
		return fmt.Errorf("review.default-outcome must be escalate or close, got %q", c.DefaultOutcome)
	}
	return nil
}

// PendingRef locates one pending review for the sweeper.
type PendingRef struct {
	ReviewID        string
	InvestigationID string
	ExpiresAt       time.Time
}

// PendingSource lists currently pending reviews. Implemented by the
// projection engine.
type PendingSource interface {
	PendingRefs(ctx context.Context) ([]PendingRef, error)
}

// Gate creates and resolves reviews. All resolution paths funnel through
// the event store's expected-version check, which is the only mutual
// exclusion between channels.
type Gate struct {
	repo    *investigation.Repository
	pending PendingSource
	cfg     Config
	logger  log.Logger
	now     func() time.Time

	onResolved func(investigationID string)
}

// NewGate creates a review gate.
func NewGate(repo *investigation.Repository, pending PendingSource, cfg Config, logger log.Logger) *Gate {
	return &Gate{
		repo:    repo,
		pending: pending,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// SetClock overrides the gate clock. Test hook.
func (g *Gate) SetClock(now func() time.Time) { g.now = now }

// SetOnResolved registers a callback invoked after a review resolves.
// The pipeline uses it to pick the investigation back up for terminal
// bookkeeping.
func (g *Gate) SetOnResolved(fn func(investigationID string)) { g.onResolved = fn }

// Request opens a review for an investigation entering human review. A
// second request while one is already pending returns the existing review
// ID, so re-running the verdict phase never double-creates.
func (g *Gate) Request(ctx context.Context, investigationID string, out verdict.Outcome) (string, error) {
	reviewID := ulid.Make().String()
	inv, err := g.repo.Execute(ctx, investigationID, func(inv *investigation.Investigation) ([]event.Event, error) {
		if inv.Review != nil && inv.Review.Status == investigation.ReviewPending {
			return nil, nil
		}
		if inv.Status.Terminal() {
			return nil, investigation.ErrTerminal
		}
		return []event.Event{
			event.MustNew(inv.ID, event.HumanReviewRequested, investigation.ReviewRequestedData{
				ReviewID:     reviewID,
				AIDecision:   out.Advice.Decision,
				AIConfidence: out.Advice.Confidence,
				Reason:       out.Reason,
				ExpiresAt:    g.now().Add(g.cfg.Timeout),
			}),
		}, nil
	})
	if err != nil {
		return "", err
	}
	return inv.Review.ID, nil
}

// Resolution is one channel's attempt to resolve a review.
type Resolution struct {
	ReviewID string
	Outcome  investigation.ReviewOutcome // approve, reject, or expire
	Reviewer string
	Channel  string
	Feedback string
}

// Resolve resolves a pending review exactly once. An approve escalates
// the investigation for incident response; a reject closes it as a false
// positive; an expiry applies the configured default outcome. The first
// channel to append wins; the rest get ErrAlreadyResolved.
func (g *Gate) Resolve(ctx context.Context, investigationID string, res Resolution) error {
	if res.Outcome != investigation.OutcomeApprove &&
		res.Outcome != investigation.OutcomeReject &&
		res.Outcome != investigation.OutcomeExpire {
		return fmt.Errorf("review: invalid outcome %q", res.Outcome)
	}

	_, err := g.repo.Execute(ctx, investigationID, func(inv *investigation.Investigation) ([]event.Event, error) {
		if err := pendingReview(inv, res.ReviewID); err != nil {
			return nil, err
		}
		events := []event.Event{
			event.MustNew(inv.ID, event.HumanDecisionReceived, investigation.DecisionData{
				ReviewID: res.ReviewID,
				Outcome:  res.Outcome,
				Reviewer: res.Reviewer,
				Channel:  res.Channel,
				Feedback: res.Feedback,
			}),
		}
		return append(events, g.terminalEvents(inv, res)...), nil
	})
	if err == nil && g.onResolved != nil {
		g.onResolved(investigationID)
	}
	return err
}

// RequestInfo records follow-up questions, keeping the review pending and
// extending its deadline.
func (g *Gate) RequestInfo(ctx context.Context, investigationID, reviewID, reviewer, channel string, questions []string) (time.Time, error) {
	extended := g.now().Add(g.cfg.Timeout)
	_, err := g.repo.Execute(ctx, investigationID, func(inv *investigation.Investigation) ([]event.Event, error) {
		if err := pendingReview(inv, reviewID); err != nil {
			return nil, err
		}
		return []event.Event{
			event.MustNew(inv.ID, event.HumanDecisionReceived, investigation.DecisionData{
				ReviewID:  reviewID,
				Outcome:   investigation.OutcomeRequestInfo,
				Reviewer:  reviewer,
				Channel:   channel,
				Questions: questions,
				ExtendsTo: extended,
			}),
		}, nil
	})
	if err != nil {
		return time.Time{}, err
	}
	return extended, nil
}

func pendingReview(inv *investigation.Investigation, reviewID string) error {
	if inv.Review == nil || inv.Review.ID != reviewID {
		return fmt.Errorf("review %s not found on %s: %w", reviewID, inv.ID, investigation.ErrNotFound)
	}
	if inv.Review.Status != investigation.ReviewPending {
		return fmt.Errorf("review %s is %s: %w", reviewID, inv.Review.Status, ErrAlreadyResolved)
	}
	return nil
}

func (g *Gate) terminalEvents(inv *investigation.Investigation, res Resolution) []event.Event {
	switch res.Outcome {
	case investigation.OutcomeApprove:
		return []event.Event{
			event.MustNew(inv.ID, event.InvestigationEscalated, investigation.EscalatedData{
				Reason: "approved by analyst, incident response engaged",
			}),
		}
	case investigation.OutcomeReject:
		reason := "rejected by analyst during human review"
		if res.Feedback != "" {
			reason += ": " + res.Feedback
		}
		return []event.Event{
			event.MustNew(inv.ID, event.InvestigationClosed, investigation.ClosedData{
				Status:     investigation.StatusRejected,
				Resolution: reason,
			}),
		}
	case investigation.OutcomeExpire:
		if g.cfg.DefaultOutcome == "close" {
			return []event.Event{
				event.MustNew(inv.ID, event.InvestigationClosed, investigation.ClosedData{
					Status:     investigation.StatusClosed,
					Resolution: "review expired without response",
				}),
			}
		}
		return []event.Event{
			event.MustNew(inv.ID, event.InvestigationEscalated, investigation.EscalatedData{
				Reason: "review expired without response",
			}),
		}
	}
	return nil
}

// Run sweeps expired reviews until ctx is cancelled. Races with human
// resolutions are expected and land as ErrAlreadyResolved, which the
// sweeper ignores.
func (g *Gate) Run(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.sweep(ctx)
		}
	}
}

func (g *Gate) sweep(ctx context.Context) {
	refs, err := g.pending.PendingRefs(ctx)
	if err != nil {
		g.logger.Error(ctx, err, "review sweep failed to list pending reviews")
		return
	}
	now := g.now()
	for _, ref := range refs {
		if ref.ExpiresAt.After(now) {
			continue
		}
		err := g.Resolve(ctx, ref.InvestigationID, Resolution{
			ReviewID: ref.ReviewID,
			Outcome:  investigation.OutcomeExpire,
			Channel:  "sweep",
		})
		switch {
		case err == nil:
			g.logger.Info(ctx, "expired review resolved",
				"review_id", ref.ReviewID,
				"investigation_id", ref.InvestigationID,
				"default_outcome", g.cfg.DefaultOutcome,
			)
		case errors.Is(err, ErrAlreadyResolved):
			// A human beat the sweeper to it.
		default:
			g.logger.Error(ctx, err, "review sweep resolution failed",
				"review_id", ref.ReviewID,
				"investigation_id", ref.InvestigationID,
			)
		}
	}
}
