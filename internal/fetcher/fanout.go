package fetcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/maasdash/trafficaudit/internal/metrics"
	"github.com/maasdash/trafficaudit/internal/observability"
	"github.com/maasdash/trafficaudit/internal/resilience"
	auditerrors "github.com/maasdash/trafficaudit/pkg/errors"
	"github.com/maasdash/trafficaudit/pkg/types"
)

// Result is the outcome of one source fetch within a cycle.
type Result struct {
	Source   types.SourceKind
	Payload  []byte
	Err      error
	Duration time.Duration
}

// OK reports whether the fetch produced a payload.
func (r Result) OK() bool {
	return r.Err == nil
}

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	// Timeout bounds each fetch. Zero means DefaultTimeout.
	Timeout  time.Duration
	Breakers *resilience.Set
	Logger   *observability.Logger
	Tracer   trace.Tracer
}

// Runner fans fetches out concurrently and joins them.
type Runner struct {
	timeout  time.Duration
	breakers *resilience.Set
	logger   *observability.Logger
	tracer   trace.Tracer
}

// NewRunner creates a runner. Nil breakers disable circuit breaking.
func NewRunner(opts RunnerOptions) *Runner {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = observability.Discard()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(observability.TracerName)
	}
	return &Runner{
		timeout:  opts.Timeout,
		breakers: opts.Breakers,
		logger:   opts.Logger,
		tracer:   opts.Tracer,
	}
}

// FetchAll runs every fetcher concurrently and waits for all of them. Failures
// are reported per source in the returned map and never abort the others.
func (r *Runner) FetchAll(ctx context.Context, fetchers []Fetcher) map[types.SourceKind]Result {
	results := make(map[types.SourceKind]Result, len(fetchers))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	for _, f := range fetchers {
		if f == nil {
			continue
		}
		wg.Add(1)
		go func(f Fetcher) {
			defer wg.Done()
			res := r.fetchOne(ctx, f)
			mu.Lock()
			results[res.Source] = res
			mu.Unlock()
		}(f)
	}
	wg.Wait()
	return results
}

func (r *Runner) fetchOne(ctx context.Context, f Fetcher) Result {
	kind := f.Kind()
	start := time.Now()

	ctx, span := observability.StartFetchSpan(ctx, r.tracer, kind)
	defer span.End()

	fetchCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var payload []byte
	call := func() error {
		var err error
		payload, err = f.Fetch(fetchCtx)
		return err
	}

	var err error
	if r.breakers != nil {
		err = r.breakers.For(kind).Do(call)
	} else {
		err = call()
	}

	res := Result{Source: kind, Duration: time.Since(start)}
	outcome := metrics.OutcomeSuccess
	switch {
	case err == nil:
		res.Payload = payload
	case errors.Is(err, resilience.ErrOpen):
		outcome = metrics.OutcomeBreakerOpen
		res.Err = auditerrors.NewSourceUnavailable(kind, "circuit breaker open", err)
	case errors.Is(err, context.DeadlineExceeded):
		outcome = metrics.OutcomeTimeout
		res.Err = asEngineError(kind, err)
	default:
		outcome = metrics.OutcomeError
		res.Err = asEngineError(kind, err)
	}
	metrics.RecordFetch(kind, outcome, res.Duration)

	if res.Err != nil {
		observability.RecordError(span, res.Err)
		r.logger.RedactedWarn("source fetch failed",
			"source", string(kind),
			"outcome", outcome,
			"duration", res.Duration,
			"error", res.Err,
		)
	}
	return res
}

func asEngineError(kind types.SourceKind, err error) error {
	var e *auditerrors.Error
	if errors.As(err, &e) {
		return err
	}
	return auditerrors.NewSourceUnavailable(kind, "fetch failed", err)
}
