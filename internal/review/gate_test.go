package review

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/argus/internal/alert"
	"github.com/linnemanlabs/argus/internal/event"
	"github.com/linnemanlabs/argus/internal/event/memstore"
	"github.com/linnemanlabs/argus/internal/investigation"
	"github.com/linnemanlabs/argus/internal/verdict"
)

type staticPending struct {
	refs []PendingRef
}

func (s *staticPending) PendingRefs(_ context.Context) ([]PendingRef, error) {
	return s.refs, nil
}

func testConfig() Config {
	return Config{
		Timeout:        5 * time.Minute,
		SweepInterval:  time.Second,
		DefaultOutcome: "escalate",
	}
}

func seedInvestigation(t *testing.T, repo *investigation.Repository) string {
	t.Helper()
	a := alert.Alert{
		ExternalID:  "a-1",
		SourceAgent: "web-01",
		SourceIP:    "10.1.2.3",
		Level:       7,
		Severity:    alert.SeverityMedium,
		Timestamp:   time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	inv, err := repo.Create(context.Background(), "inv-1", []event.Event{
		event.MustNew("inv-1", event.InvestigationCreated, investigation.CreatedData{Alert: a}),
		event.MustNew("inv-1", event.InvestigationStarted, struct{}{}),
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return inv.ID
}

func newGate(t *testing.T, pending PendingSource) (*Gate, *investigation.Repository) {
	t.Helper()
	repo := investigation.NewRepository(memstore.New())
	if pending == nil {
		pending = &staticPending{}
	}
	return NewGate(repo, pending, testConfig(), log.Nop()), repo
}

func advice() verdict.Outcome {
	return verdict.Outcome{
		Advice: verdict.Advice{Decision: verdict.DecisionSuspicious, Confidence: 0.4, Reasoning: "mixed signals"},
		Route:  verdict.RouteHumanReview,
		Reason: "decision suspicious requires a human",
	}
}

func TestRequestCreatesOnce(t *testing.T) {
	t.Parallel()

	g, repo := newGate(t, nil)
	ctx := context.Background()
	id := seedInvestigation(t, repo)

	first, err := g.Request(ctx, id, advice())
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	second, err := g.Request(ctx, id, advice())
	if err != nil {
		t.Fatalf("second request: %v", err)
	}
	if second != first {
		t.Errorf("second request created a new review: %s != %s", second, first)
	}

	inv, _ := repo.Get(ctx, id)
	if inv.Review == nil || inv.Review.Status != investigation.ReviewPending {
		t.Fatalf("review = %+v, want pending", inv.Review)
	}
	if inv.Review.AIDecision != verdict.DecisionSuspicious {
		t.Errorf("AIDecision = %s", inv.Review.AIDecision)
	}
}

func TestResolveApproveEscalates(t *testing.T) {
	t.Parallel()

	g, repo := newGate(t, nil)
	ctx := context.Background()
	id := seedInvestigation(t, repo)
	reviewID, _ := g.Request(ctx, id, advice())

	err := g.Resolve(ctx, id, Resolution{
		ReviewID: reviewID,
		Outcome:  investigation.OutcomeApprove,
		Reviewer: "alice",
		Channel:  "dashboard",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	inv, _ := repo.Get(ctx, id)
	if inv.Review.Status != investigation.ReviewApproved {
		t.Errorf("review status = %s, want approved", inv.Review.Status)
	}
	if inv.Status != investigation.StatusEscalated || inv.Phase != investigation.PhaseEscalation {
		t.Errorf("state = %s/%s, want escalated/escalation", inv.Status, inv.Phase)
	}
}

func TestResolveInvokesOnResolved(t *testing.T) {
	t.Parallel()

	g, repo := newGate(t, nil)
	ctx := context.Background()
	id := seedInvestigation(t, repo)
	reviewID, _ := g.Request(ctx, id, advice())

	var resolved []string
	g.SetOnResolved(func(invID string) { resolved = append(resolved, invID) })

	// A failed resolution never fires the callback.
	if err := g.Resolve(ctx, id, Resolution{ReviewID: "nope", Outcome: investigation.OutcomeApprove}); err == nil {
		t.Fatal("resolve with unknown review succeeded")
	}
	if len(resolved) != 0 {
		t.Fatalf("callback fired on failed resolve: %v", resolved)
	}

	if err := g.Resolve(ctx, id, Resolution{
		ReviewID: reviewID,
		Outcome:  investigation.OutcomeApprove,
		Reviewer: "alice",
		Channel:  "dashboard",
	}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(resolved) != 1 || resolved[0] != id {
		t.Errorf("callback = %v, want one call with %s", resolved, id)
	}
}

func TestResolveRejectClosesAsRejected(t *testing.T) {
	t.Parallel()

	g, repo := newGate(t, nil)
	ctx := context.Background()
	id := seedInvestigation(t, repo)
	reviewID, _ := g.Request(ctx, id, advice())

	err := g.Resolve(ctx, id, Resolution{
		ReviewID: reviewID,
		Outcome:  investigation.OutcomeReject,
		Reviewer: "bob",
		Channel:  "cli",
		Feedback: "known scanner, benign",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	inv, _ := repo.Get(ctx, id)
	if inv.Status != investigation.StatusRejected {
		t.Errorf("status = %s, want rejected", inv.Status)
	}
	if inv.Phase != investigation.PhaseClosed {
		t.Errorf("phase = %s, want closed", inv.Phase)
	}
}

func TestResolveExactlyOnce(t *testing.T) {
	t.Parallel()

	g, repo := newGate(t, nil)
	ctx := context.Background()
	id := seedInvestigation(t, repo)
	reviewID, _ := g.Request(ctx, id, advice())

	outcomes := []investigation.ReviewOutcome{investigation.OutcomeApprove, investigation.OutcomeReject}
	errs := make([]error, len(outcomes))
	var wg sync.WaitGroup
	for i, outcome := range outcomes {
		wg.Add(1)
		go func(i int, outcome investigation.ReviewOutcome) {
			defer wg.Done()
			errs[i] = g.Resolve(ctx, id, Resolution{
				ReviewID: reviewID,
				Outcome:  outcome,
				Channel:  "race",
			})
		}(i, outcome)
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrAlreadyResolved):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != 1 {
		t.Fatalf("wins = %d conflicts = %d, want exactly one of each", wins, conflicts)
	}

	inv, _ := repo.Get(ctx, id)
	if !inv.Status.Terminal() {
		t.Errorf("status = %s, want terminal", inv.Status)
	}
}

func TestRequestInfoKeepsPending(t *testing.T) {
	t.Parallel()

	g, repo := newGate(t, nil)
	ctx := context.Background()
	id := seedInvestigation(t, repo)
	reviewID, _ := g.Request(ctx, id, advice())

	before, _ := repo.Get(ctx, id)
	extended, err := g.RequestInfo(ctx, id, reviewID, "carol", "slack", []string{"was this host patched?"})
	if err != nil {
		t.Fatalf("request info: %v", err)
	}
	if !extended.After(before.Review.ExpiresAt) {
		t.Errorf("deadline not extended: %v -> %v", before.Review.ExpiresAt, extended)
	}

	inv, _ := repo.Get(ctx, id)
	if inv.Review.Status != investigation.ReviewPending {
		t.Errorf("status = %s, want still pending", inv.Review.Status)
	}
	if !inv.Review.ExpiresAt.Equal(extended) {
		t.Errorf("ExpiresAt = %v, want %v", inv.Review.ExpiresAt, extended)
	}
	if len(inv.Review.InfoRequests) != 1 {
		t.Errorf("InfoRequests = %d, want 1", len(inv.Review.InfoRequests))
	}

	// Still resolvable afterwards.
	if err := g.Resolve(ctx, id, Resolution{ReviewID: reviewID, Outcome: investigation.OutcomeApprove}); err != nil {
		t.Errorf("resolve after request_info: %v", err)
	}
}

func TestResolveUnknownReview(t *testing.T) {
	t.Parallel()

	g, repo := newGate(t, nil)
	ctx := context.Background()
	id := seedInvestigation(t, repo)
	g.Request(ctx, id, advice())

	err := g.Resolve(ctx, id, Resolution{ReviewID: "nope", Outcome: investigation.OutcomeApprove})
	if !errors.Is(err, investigation.ErrNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestSweepExpiresPendingReview(t *testing.T) {
	t.Parallel()

	pending := &staticPending{}
	g, repo := newGate(t, pending)
	ctx := context.Background()
	id := seedInvestigation(t, repo)
	reviewID, _ := g.Request(ctx, id, advice())

	inv, _ := repo.Get(ctx, id)
	pending.refs = []PendingRef{{
		ReviewID:        reviewID,
		InvestigationID: id,
		ExpiresAt:       inv.Review.ExpiresAt,
	}}

	// Not yet expired: sweep must leave it alone.
	g.sweep(ctx)
	inv, _ = repo.Get(ctx, id)
	if inv.Review.Status != investigation.ReviewPending {
		t.Fatalf("status = %s after early sweep, want pending", inv.Review.Status)
	}

	g.SetClock(func() time.Time { return inv.Review.ExpiresAt.Add(time.Second) })
	g.sweep(ctx)

	inv, _ = repo.Get(ctx, id)
	if inv.Review.Status != investigation.ReviewExpired {
		t.Errorf("status = %s, want expired", inv.Review.Status)
	}
	if inv.Status != investigation.StatusEscalated {
		t.Errorf("investigation status = %s, want escalated (default outcome)", inv.Status)
	}

	// A second sweep pass loses cleanly.
	g.sweep(ctx)
}
