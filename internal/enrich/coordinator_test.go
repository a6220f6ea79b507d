package enrich

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/argus/internal/alert"
)

type fakeSource struct {
	name     string
	mu       sync.Mutex
	failures map[string]int // observable key -> failures before success
	calls    int32
	verdict  Verdict
	block    bool
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Enrich(ctx context.Context, obs alert.Observable) (Result, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.block {
		<-ctx.Done()
		return Result{}, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures[obs.Key()] > 0 {
		f.failures[obs.Key()]--
		return Result{}, errors.New("upstream unavailable")
	}
	return Result{Verdict: f.verdict, Detail: f.name + " checked"}, nil
}

func testConfig() Config {
	return Config{
		Parallelism:  4,
		CallTimeout:  time.Second,
		Retries:      2,
		RetryBackoff: time.Millisecond,
		PhaseTimeout: 5 * time.Second,
	}
}

func obsList(values ...string) []alert.Observable {
	out := make([]alert.Observable, 0, len(values))
	for _, v := range values {
		out = append(out, alert.Observable{Type: alert.ObservableIP, Value: v})
	}
	return out
}

func TestRunFansOutAllTasks(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register(&fakeSource{name: "alpha", verdict: VerdictClean})
	reg.Register(&fakeSource{name: "beta", verdict: VerdictMalicious})

	c := NewCoordinator(reg, testConfig(), log.Nop())
	outcomes := c.Run(context.Background(), "inv-1", obsList("10.0.0.1", "10.0.0.2", "10.0.0.3"))

	if len(outcomes) != 6 {
		t.Fatalf("len(outcomes) = %d, want 6 (2 sources x 3 observables)", len(outcomes))
	}
	for _, o := range outcomes {
		if o.Err != nil {
			t.Errorf("%s on %s: %v", o.Source, o.Observable.Key(), o.Err)
		}
	}
}

func TestRunRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	src := &fakeSource{
		name:     "flaky",
		verdict:  VerdictSuspicious,
		failures: map[string]int{"ip:10.0.0.1": 2},
	}
	reg := NewRegistry()
	reg.Register(src)

	c := NewCoordinator(reg, testConfig(), log.Nop())
	outcomes := c.Run(context.Background(), "inv-1", obsList("10.0.0.1"))

	if len(outcomes) != 1 {
		t.Fatalf("len(outcomes) = %d, want 1", len(outcomes))
	}
	o := outcomes[0]
	if o.Err != nil {
		t.Fatalf("outcome error after retries: %v", o.Err)
	}
	if o.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", o.Attempts)
	}
	if o.Result.Verdict != VerdictSuspicious {
		t.Errorf("verdict = %s", o.Result.Verdict)
	}
}

func TestRunToleratesPermanentFailure(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register(&fakeSource{name: "good", verdict: VerdictClean})
	reg.Register(&fakeSource{
		name:     "broken",
		failures: map[string]int{"ip:10.0.0.1": 100},
	})

	c := NewCoordinator(reg, testConfig(), log.Nop())
	outcomes := c.Run(context.Background(), "inv-1", obsList("10.0.0.1"))

	if len(outcomes) != 2 {
		t.Fatalf("len(outcomes) = %d, want 2", len(outcomes))
	}
	var failed, ok int
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			if o.Attempts != 3 {
				t.Errorf("failed task attempts = %d, want 3", o.Attempts)
			}
		} else {
			ok++
		}
	}
	if failed != 1 || ok != 1 {
		t.Errorf("failed = %d ok = %d, want 1/1", failed, ok)
	}
}

func TestRunHonorsPhaseTimeout(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register(&fakeSource{name: "hung", block: true})

	cfg := testConfig()
	cfg.PhaseTimeout = 50 * time.Millisecond
	cfg.CallTimeout = time.Second

	c := NewCoordinator(reg, cfg, log.Nop())
	start := time.Now()
	outcomes := c.Run(context.Background(), "inv-1", obsList("10.0.0.1"))
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("run took %v, phase timeout not enforced", elapsed)
	}
	for _, o := range outcomes {
		if o.Err == nil {
			t.Errorf("hung source reported success")
		}
	}
}

func TestRunEmptyInputs(t *testing.T) {
	t.Parallel()

	c := NewCoordinator(NewRegistry(), testConfig(), log.Nop())
	if out := c.Run(context.Background(), "inv-1", obsList("10.0.0.1")); out != nil {
		t.Errorf("no sources should yield nil, got %v", out)
	}
}
