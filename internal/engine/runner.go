// Package engine drives investigations through the triage workflow:
// enrichment fan-out, advisory verdict, routing, and review hand-off.
// Every step is an event append; per-aggregate serialization comes solely
// from the store's expected-version check.
package engine

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/argus/internal/alert"
	"github.com/linnemanlabs/argus/internal/enrich"
	"github.com/linnemanlabs/argus/internal/event"
	"github.com/linnemanlabs/argus/internal/investigation"
	"github.com/linnemanlabs/argus/internal/review"
	"github.com/linnemanlabs/argus/internal/verdict"
)

// Notifier announces investigation milestones to an external channel.
// Implementations must not block the pipeline on delivery failures.
type Notifier interface {
	ReviewRequested(ctx context.Context, inv *investigation.Investigation)
	Escalated(ctx context.Context, inv *investigation.Investigation)
	Closed(ctx context.Context, inv *investigation.Investigation)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) ReviewRequested(context.Context, *investigation.Investigation) {}
func (NopNotifier) Escalated(context.Context, *investigation.Investigation)       {}
func (NopNotifier) Closed(context.Context, *investigation.Investigation)          {}

// CaseIndex is the correlation engine's view of open cases. The runner
// tells it when an investigation leaves the open set.
type CaseIndex interface {
	MarkClosed(id string)
}

// Config bounds the pipeline worker pool.
type Config struct {
	// Workers is the number of investigations driven concurrently.
	Workers int
	// QueueSize bounds the backlog of investigations awaiting a worker.
	QueueSize int
	// TriageSettle is how long a new investigation waits in triage so
	// that fast-following alerts correlate before enrichment starts.
	TriageSettle time.Duration
}

// RegisterFlags registers runner flags with the prefix "engine.".
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.Workers, "engine.workers", 8, "concurrent investigation pipeline workers")
	fs.IntVar(&c.QueueSize, "engine.queue-size", 256, "pipeline backlog size")
	fs.DurationVar(&c.TriageSettle, "engine.triage-settle", 5*time.Second, "wait in triage for fast-following alerts to correlate")
}

// Validate checks the pool bounds.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("engine.workers must be >= 1, got %d", c.Workers)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("engine.queue-size must be >= 1, got %d", c.QueueSize)
	}
	if c.TriageSettle < 0 {
		return fmt.Errorf("engine.triage-settle must be >= 0, got %v", c.TriageSettle)
	}
	return nil
}

// Runner owns the pipeline worker pool.
type Runner struct {
	repo        *investigation.Repository
	coordinator *enrich.Coordinator
	verdicts    *verdict.Engine
	gate        *review.Gate
	index       CaseIndex
	notifier    Notifier
	metrics     *Metrics
	logger      log.Logger
	cfg         Config

	queue chan string
	wg    sync.WaitGroup

	mu       sync.Mutex
	notified map[string]investigation.Status
}

// NewRunner wires the pipeline. A nil notifier or index is replaced with
// a no-op.
func NewRunner(
	repo *investigation.Repository,
	coordinator *enrich.Coordinator,
	verdicts *verdict.Engine,
	gate *review.Gate,
	index CaseIndex,
	notifier Notifier,
	metrics *Metrics,
	logger log.Logger,
	cfg Config,
) *Runner {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if index == nil {
		index = nopIndex{}
	}
	return &Runner{
		repo:        repo,
		coordinator: coordinator,
		verdicts:    verdicts,
		gate:        gate,
		index:       index,
		notifier:    notifier,
		metrics:     metrics,
		logger:      logger,
		cfg:         cfg,
		queue:       make(chan string, cfg.QueueSize),
		notified:    make(map[string]investigation.Status),
	}
}

type nopIndex struct{}

func (nopIndex) MarkClosed(string) {}

// Start launches the worker pool. Workers exit when ctx is cancelled and
// Wait returns once they have drained.
func (r *Runner) Start(ctx context.Context) {
	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case id := <-r.queue:
					r.metrics.QueueDepth.Set(float64(len(r.queue)))
					r.Process(ctx, id)
				}
			}
		}()
	}
}

// Wait blocks until all workers have exited.
func (r *Runner) Wait() { r.wg.Wait() }

// Enqueue hands an investigation to the pool. It never blocks; a full
// queue drops the request, which a later enqueue or restart replays.
func (r *Runner) Enqueue(id string) bool {
	select {
	case r.queue <- id:
		r.metrics.QueueDepth.Set(float64(len(r.queue)))
		return true
	default:
		r.metrics.QueueDropsTotal.Inc()
		r.logger.Warn(context.Background(), "pipeline queue full, dropping", "investigation_id", id)
		return false
	}
}

// Process drives one investigation from its current phase to the next
// parking point: paused, waiting on a human, or terminal. Safe to call
// for any investigation in any state; steps that no longer apply no-op.
func (r *Runner) Process(ctx context.Context, id string) {
	L := r.logger.With("investigation_id", id)
	for {
		inv, err := r.repo.Get(ctx, id)
		if err != nil {
			if !errors.Is(err, investigation.ErrNotFound) {
				L.Error(ctx, err, "pipeline load failed")
			}
			return
		}

		if inv.Status.Terminal() {
			r.finish(ctx, inv)
			return
		}
		if inv.Status == investigation.StatusPaused {
			return
		}

		var next bool
		switch inv.Phase {
		case investigation.PhaseTriage:
			next, err = r.stepTriage(ctx, inv)
		case investigation.PhaseEnrichment:
			next, err = r.stepEnrichment(ctx, inv)
		case investigation.PhaseAnalysis:
			next, err = r.stepAnalysis(ctx, inv)
		case investigation.PhaseVerdict:
			// Crash between verdict and routing: decide again.
			next, err = r.stepAnalysis(ctx, inv)
		case investigation.PhaseHumanReview:
			r.stepHumanReview(ctx, inv)
			return
		case investigation.PhaseEscalation:
			r.finish(ctx, inv)
			return
		default:
			return
		}
		if err != nil {
			L.Error(ctx, err, "pipeline step failed", "phase", inv.Phase)
			return
		}
		if !next {
			return
		}
	}
}

// stepTriage waits out the settle window, then marks the investigation
// started and moves it into enrichment.
func (r *Runner) stepTriage(ctx context.Context, inv *investigation.Investigation) (bool, error) {
	if r.cfg.TriageSettle > 0 {
		t := time.NewTimer(r.cfg.TriageSettle)
		select {
		case <-ctx.Done():
			t.Stop()
			return false, nil
		case <-t.C:
		}
	}

	start := time.Now()
	_, err := r.execute(ctx, inv.ID, func(inv *investigation.Investigation) ([]event.Event, error) {
		if inv.Phase != investigation.PhaseTriage || inv.Status == investigation.StatusPaused {
			return nil, nil
		}
		events := []event.Event{}
		if inv.Status == investigation.StatusPending {
			events = append(events, event.MustNew(inv.ID, event.InvestigationStarted, struct{}{}))
		}
		events = append(events,
			event.MustNew(inv.ID, event.PhaseChanged, investigation.PhaseData{
				From: investigation.PhaseTriage, To: investigation.PhaseEnrichment, Reason: "alerts settled",
			}),
			event.MustNew(inv.ID, event.EnrichmentRequested, investigation.EnrichmentRequestedData{
				Observables: len(inv.Observables),
				Sources:     r.coordinator.SourceNames(),
			}),
		)
		return events, nil
	})
	r.metrics.PhaseDuration.WithLabelValues(string(investigation.PhaseTriage)).Observe(time.Since(start).Seconds())
	return err == nil, err
}

// stepEnrichment fans out to the sources and records every outcome, then
// advances to analysis. Partial failure never blocks the advance.
func (r *Runner) stepEnrichment(ctx context.Context, inv *investigation.Investigation) (bool, error) {
	start := time.Now()
	outcomes := r.coordinator.Run(ctx, inv.ID, untag(inv.Observables))
	r.metrics.EnrichmentDuration.Observe(time.Since(start).Seconds())

	for _, o := range outcomes {
		status := "success"
		if o.Err != nil {
			status = "error"
		}
		r.metrics.EnrichmentCalls.WithLabelValues(o.Source, status).Add(1)
	}

	_, err := r.execute(ctx, inv.ID, func(inv *investigation.Investigation) ([]event.Event, error) {
		if inv.Phase != investigation.PhaseEnrichment || inv.Status == investigation.StatusPaused {
			return nil, nil
		}
		events := make([]event.Event, 0, len(outcomes)+1)
		for _, o := range outcomes {
			if o.Err != nil {
				events = append(events, event.MustNew(inv.ID, event.EnrichmentFailed, investigation.EnrichmentFailedData{
					Source:     o.Source,
					Observable: o.Observable,
					Error:      o.Err.Error(),
				}))
				continue
			}
			events = append(events, event.MustNew(inv.ID, event.EnrichmentCompleted, investigation.EnrichmentCompletedData{
				Source:     o.Source,
				Observable: o.Observable,
				Verdict:    o.Result.Verdict,
				Detail:     o.Result.Detail,
			}))
		}
		events = append(events, event.MustNew(inv.ID, event.PhaseChanged, investigation.PhaseData{
			From: investigation.PhaseEnrichment, To: investigation.PhaseAnalysis, Reason: "enrichment settled",
		}))
		return events, nil
	})
	r.metrics.PhaseDuration.WithLabelValues(string(investigation.PhaseEnrichment)).Observe(time.Since(start).Seconds())
	return err == nil, err
}

// stepAnalysis consults the advisor, records the verdict, and routes.
func (r *Runner) stepAnalysis(ctx context.Context, inv *investigation.Investigation) (bool, error) {
	start := time.Now()
	out := r.verdicts.Decide(ctx, inv.CaseSummary())
	r.metrics.VerdictRoutes.WithLabelValues(string(out.Route)).Inc()
	if out.Reason == "advisor failure" {
		r.metrics.AdvisorFailures.Inc()
	}

	updated, err := r.execute(ctx, inv.ID, func(inv *investigation.Investigation) ([]event.Event, error) {
		if (inv.Phase != investigation.PhaseAnalysis && inv.Phase != investigation.PhaseVerdict) ||
			inv.Status == investigation.StatusPaused {
			return nil, nil
		}
		events := []event.Event{}
		if inv.Phase == investigation.PhaseAnalysis {
			events = append(events, event.MustNew(inv.ID, event.PhaseChanged, investigation.PhaseData{
				From: investigation.PhaseAnalysis, To: investigation.PhaseVerdict, Reason: "advisory received",
			}))
		}
		events = append(events, event.MustNew(inv.ID, event.VerdictRendered, investigation.VerdictData{Outcome: out}))

		switch out.Route {
		case verdict.RouteAutoClose:
			events = append(events, event.MustNew(inv.ID, event.InvestigationAutoClosed, investigation.ClosedData{
				Status:     investigation.StatusAutoClosed,
				Resolution: "auto-closed: " + out.Advice.Reasoning,
			}))
		case verdict.RouteEscalate:
			events = append(events, event.MustNew(inv.ID, event.InvestigationEscalated, investigation.EscalatedData{
				Reason: out.Reason,
			}))
		case verdict.RouteHumanReview:
			events = append(events, event.MustNew(inv.ID, event.PhaseChanged, investigation.PhaseData{
				From: investigation.PhaseVerdict, To: investigation.PhaseHumanReview, Reason: out.Reason,
			}))
		}
		return events, nil
	})
	r.metrics.PhaseDuration.WithLabelValues(string(investigation.PhaseAnalysis)).Observe(time.Since(start).Seconds())
	if err != nil {
		return false, err
	}
	if updated.Phase == investigation.PhaseHumanReview {
		r.stepHumanReview(ctx, updated)
		return false, nil
	}
	return true, nil
}

// stepHumanReview opens the review if none is pending yet.
func (r *Runner) stepHumanReview(ctx context.Context, inv *investigation.Investigation) {
	if inv.Review != nil && inv.Review.Status == investigation.ReviewPending {
		return
	}
	out := verdict.Outcome{Route: verdict.RouteHumanReview, Reason: "verdict requires human approval"}
	if inv.Verdict != nil {
		out = *inv.Verdict
	}
	if _, err := r.gate.Request(ctx, inv.ID, out); err != nil {
		r.logger.Error(ctx, err, "review request failed", "investigation_id", inv.ID)
		return
	}
	r.metrics.ReviewsOpened.Inc()

	if fresh, err := r.repo.Get(ctx, inv.ID); err == nil {
		r.notifier.ReviewRequested(ctx, fresh)
	}
}

// finish handles terminal and escalated investigations: drop them from
// the correlation index, bump counters, notify. Counters and
// notifications fire once per reached status, so re-processing a
// finished investigation is a no-op.
func (r *Runner) finish(ctx context.Context, inv *investigation.Investigation) {
	r.index.MarkClosed(inv.ID)

	r.mu.Lock()
	done := r.notified[inv.ID] == inv.Status
	r.notified[inv.ID] = inv.Status
	r.mu.Unlock()
	if done {
		return
	}

	r.metrics.InvestigationsTotal.WithLabelValues(string(inv.Status)).Inc()
	switch inv.Status {
	case investigation.StatusEscalated:
		r.notifier.Escalated(ctx, inv)
	case investigation.StatusAutoClosed, investigation.StatusClosed, investigation.StatusRejected, investigation.StatusCancelled:
		r.notifier.Closed(ctx, inv)
	}
}

func untag(tagged []investigation.TaggedObservable) []alert.Observable {
	out := make([]alert.Observable, 0, len(tagged))
	for _, o := range tagged {
		out = append(out, o.Observable)
	}
	return out
}

// execute wraps repository execution, counting conflict retries.
func (r *Runner) execute(ctx context.Context, id string, cmd investigation.Command) (*investigation.Investigation, error) {
	attempts := 0
	inv, err := r.repo.Execute(ctx, id, func(inv *investigation.Investigation) ([]event.Event, error) {
		if attempts > 0 {
			r.metrics.ConflictRetries.Inc()
		}
		attempts++
		return cmd(inv)
	})
	return inv, err
}
