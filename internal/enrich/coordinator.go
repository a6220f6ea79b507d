package enrich

import (
	"context"
	"flag"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/argus/internal/alert"
)

// Config bounds the enrichment fan-out.
type Config struct {
	// Parallelism is the number of concurrent source calls.
	Parallelism int
	// CallTimeout bounds one source call, including its retries' waits.
	CallTimeout time.Duration
	// Retries is how many times a failed call is retried.
	Retries int
	// RetryBackoff is the wait before the first retry; it doubles each time.
	RetryBackoff time.Duration
	// PhaseTimeout bounds the whole fan-out for one investigation.
	PhaseTimeout time.Duration
}

// RegisterFlags registers coordinator flags with the prefix "enrich.".
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.Parallelism, "enrich.parallelism", 4, "concurrent enrichment source calls")
	fs.DurationVar(&c.CallTimeout, "enrich.call-timeout", 10*time.Second, "timeout per source call")
	fs.IntVar(&c.Retries, "enrich.retries", 2, "retries per failed source call")
	fs.DurationVar(&c.RetryBackoff, "enrich.retry-backoff", 500*time.Millisecond, "initial retry backoff, doubled per attempt")
	fs.DurationVar(&c.PhaseTimeout, "enrich.phase-timeout", 60*time.Second, "overall timeout for one investigation's enrichment")
}

// Validate checks the fan-out bounds.
func (c *Config) Validate() error {
	if c.Parallelism < 1 {
		return fmt.Errorf("enrich.parallelism must be >= 1, got %d", c.Parallelism)
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("enrich.call-timeout must be positive, got %v", c.CallTimeout)
	}
	if c.Retries < 0 {
		return fmt.Errorf("enrich.retries must be >= 0, got %d", c.Retries)
	}
	if c.PhaseTimeout <= 0 {
		return fmt.Errorf("enrich.phase-timeout must be positive, got %v", c.PhaseTimeout)
	}
	return nil
}

// Outcome is the final result of one (source, observable) task after
// retries. Exactly one of Result or Err is meaningful.
type Outcome struct {
	Source     string
	Observable alert.Observable
	Result     Result
	Attempts   int
	Err        error
}

// Coordinator runs the enrichment fan-out: every registered source against
// every observable, on a bounded worker pool. Individual failures never
// abort the fan-out; the caller decides what a partial result means.
type Coordinator struct {
	registry *Registry
	cfg      Config
	logger   log.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewCoordinator creates a coordinator over the registered sources.
func NewCoordinator(registry *Registry, cfg Config, logger log.Logger) *Coordinator {
	return &Coordinator{
		registry: registry,
		cfg:      cfg,
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// SourceNames returns the registered source names.
func (c *Coordinator) SourceNames() []string {
	return c.registry.Names()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run enriches all observables and returns one outcome per task, ordered
// by observable then source. It returns early when ctx is cancelled;
// outcomes for tasks that never started are not included.
func (c *Coordinator) Run(ctx context.Context, investigationID string, observables []alert.Observable) []Outcome {
	sources := c.registry.Sources()
	if len(sources) == 0 || len(observables) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.PhaseTimeout)
	defer cancel()

	L := c.logger.With("investigation_id", investigationID)
	L.Info(ctx, "enrichment fan-out",
		"observables", len(observables),
		"sources", len(sources),
		"parallelism", c.cfg.Parallelism,
	)

	type task struct {
		src Source
		obs alert.Observable
	}
	total := len(sources) * len(observables)
	tasks := make(chan task)
	results := make(chan Outcome, total)
	var done sync.WaitGroup

	workers := c.cfg.Parallelism
	if workers > total {
		workers = total
	}
	for w := 0; w < workers; w++ {
		done.Add(1)
		go func() {
			defer done.Done()
			for t := range tasks {
				results <- c.call(ctx, L, t.src, t.obs)
			}
		}()
	}

feed:
	for _, obs := range observables {
		for _, src := range sources {
			select {
			case tasks <- task{src: src, obs: obs}:
			case <-ctx.Done():
				break feed
			}
		}
	}
	close(tasks)
	done.Wait()
	close(results)

	out := make([]Outcome, 0, total)
	for res := range results {
		out = append(out, res)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Observable.Key() != out[j].Observable.Key() {
			return out[i].Observable.Key() < out[j].Observable.Key()
		}
		return out[i].Source < out[j].Source
	})
	return out
}

// call runs one source against one observable with per-call timeout and
// doubling backoff between attempts.
func (c *Coordinator) call(ctx context.Context, L log.Logger, src Source, obs alert.Observable) Outcome {
	out := Outcome{Source: src.Name(), Observable: obs}
	backoff := c.cfg.RetryBackoff

	for attempt := 0; attempt <= c.cfg.Retries; attempt++ {
		out.Attempts = attempt + 1

		callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
		res, err := src.Enrich(callCtx, obs)
		cancel()

		if err == nil {
			if res.Verdict == "" {
				res.Verdict = VerdictUnknown
			}
			out.Result = res
			out.Err = nil
			return out
		}
		out.Err = fmt.Errorf("%s(%s): %w", src.Name(), obs.Key(), err)

		if ctx.Err() != nil || attempt == c.cfg.Retries {
			break
		}
		L.Warn(ctx, "enrichment call failed, retrying",
			"source", src.Name(),
			"observable", obs.Key(),
			"attempt", attempt+1,
			"backoff", backoff,
		)
		if err := c.sleep(ctx, backoff); err != nil {
			break
		}
		backoff *= 2
	}

	L.Error(ctx, out.Err, "enrichment source exhausted retries",
		"source", src.Name(),
		"observable", obs.Key(),
		"attempts", out.Attempts,
	)
	return out
}
