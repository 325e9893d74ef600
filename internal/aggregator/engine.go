// Package aggregator runs the poll cycle: it fetches every telemetry source,
// turns what it finds into request records, arbitrates which source is
// authoritative for the cycle and maintains the rolling window served to the
// dashboard.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/maasdash/trafficaudit/internal/accesslog"
	"github.com/maasdash/trafficaudit/internal/fetcher"
	"github.com/maasdash/trafficaudit/internal/inference"
	"github.com/maasdash/trafficaudit/internal/metrics"
	"github.com/maasdash/trafficaudit/internal/observability"
	"github.com/maasdash/trafficaudit/internal/reconcile"
	"github.com/maasdash/trafficaudit/internal/seed"
	"github.com/maasdash/trafficaudit/internal/telemetry"
	"github.com/maasdash/trafficaudit/internal/window"
	auditerrors "github.com/maasdash/trafficaudit/pkg/errors"
	"github.com/maasdash/trafficaudit/pkg/types"
)

// ErrPollInProgress is returned when a poll is requested while another cycle
// is still running.
var ErrPollInProgress = errors.New("poll already in progress")

// Poll triggers.
const (
	TriggerInterval = "interval"
	TriggerStale    = "stale"
	TriggerRefresh  = "refresh"
)

// Options controls poll scheduling.
type Options struct {
	PollInterval time.Duration
	// StaleAfter makes ListRequests poll first when the last cycle is older.
	// Zero disables it.
	StaleAfter time.Duration
	// RefreshRate and RefreshBurst throttle on-demand polls.
	RefreshRate  rate.Limit
	RefreshBurst int
}

// DefaultOptions returns the scheduling defaults.
func DefaultOptions() Options {
	return Options{
		PollInterval: 2 * time.Second,
		StaleAfter:   5 * time.Second,
		RefreshRate:  1,
		RefreshBurst: 3,
	}
}

// Deps are the collaborators of an Engine.
type Deps struct {
	// Fetchers holds at most one fetcher per source kind.
	Fetchers   []fetcher.Fetcher
	Runner     *fetcher.Runner
	Registry   *telemetry.Registry
	Inferrer   *inference.Inferrer
	Reconciler *reconcile.Reconciler
	Window     *window.Window
	Seed       seed.Provider
	Logger     *observability.Logger
	Tracer     trace.Tracer
}

// CycleResult summarizes one poll cycle.
type CycleResult struct {
	Authoritative types.SourceKind
	Added         int
	Dropped       int64
	Estimated     bool
	Seeded        bool
	NoSources     bool
	Duration      time.Duration
	Errors        map[types.SourceKind]error
}

// Engine owns the poll cycle, the change detector and the window.
type Engine struct {
	pollMu sync.Mutex

	fetchers   []fetcher.Fetcher
	runner     *fetcher.Runner
	registry   *telemetry.Registry
	inferrer   *inference.Inferrer
	reconciler *reconcile.Reconciler
	window     *window.Window
	seed       seed.Provider
	limiter    *rate.Limiter
	logger     *observability.Logger
	tracer     trace.Tracer
	now        func() time.Time

	interval   atomic.Int64
	staleAfter atomic.Int64
	ready      atomic.Bool
	intervalCh chan time.Duration

	mu       sync.RWMutex
	status   types.Status
	lastPoll time.Time
	// everReal stays set once any cycle saw real traffic; it keeps the seed
	// away for good.
	everReal bool
	// unreachable is set when every fetched source failed in the last cycle.
	unreachable  bool
	lastGateway  *telemetry.GatewaySnapshot
	lastCombined *telemetry.CombinedSnapshot
}

// New creates an engine. Missing dependencies get working defaults.
func New(opts Options, deps Deps) *Engine {
	def := DefaultOptions()
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.RefreshBurst <= 0 {
		opts.RefreshBurst = def.RefreshBurst
	}
	if deps.Logger == nil {
		deps.Logger = observability.Discard()
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer(observability.TracerName)
	}
	if deps.Runner == nil {
		deps.Runner = fetcher.NewRunner(fetcher.RunnerOptions{Logger: deps.Logger, Tracer: deps.Tracer})
	}
	if deps.Registry == nil {
		deps.Registry = telemetry.DefaultRegistry(telemetry.DefaultRateWindow)
	}
	if deps.Inferrer == nil {
		deps.Inferrer = inference.New(inference.DefaultOptions(), nil)
	}
	if deps.Window == nil {
		deps.Window = window.New(window.Options{})
	}
	if deps.Reconciler == nil {
		deps.Reconciler = reconcile.New(deps.Inferrer, reconcile.Options{Logger: deps.Logger})
	}
	if deps.Seed == nil {
		deps.Seed = seed.None{}
	}

	e := &Engine{
		fetchers:   deps.Fetchers,
		runner:     deps.Runner,
		registry:   deps.Registry,
		inferrer:   deps.Inferrer,
		reconciler: deps.Reconciler,
		window:     deps.Window,
		seed:       deps.Seed,
		limiter:    rate.NewLimiter(opts.RefreshRate, opts.RefreshBurst),
		logger:     deps.Logger,
		tracer:     deps.Tracer,
		now:        time.Now,
		intervalCh: make(chan time.Duration, 1),
		status:     newStatus(),
	}
	e.interval.Store(int64(opts.PollInterval))
	e.staleAfter.Store(int64(opts.StaleAfter))
	return e
}

func newStatus() types.Status {
	connected := make(map[types.SourceKind]bool, len(types.FetchSources))
	for _, k := range types.FetchSources {
		connected[k] = false
	}
	return types.Status{SourceConnected: connected, SourceErrors: map[types.SourceKind]string{}}
}

// Run polls on every interval until ctx is canceled.
func (e *Engine) Run(ctx context.Context) {
	interval := time.Duration(e.interval.Load())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.pollLogged(ctx, TriggerInterval)

	for {
		select {
		case <-ticker.C:
			e.pollLogged(ctx, TriggerInterval)
		case d := <-e.intervalCh:
			ticker.Reset(d)
			e.logger.Info("poll interval changed", "interval", d)
		case <-ctx.Done():
			e.logger.Info("poll loop stopped")
			return
		}
	}
}

func (e *Engine) pollLogged(ctx context.Context, trigger string) {
	_, err := e.poll(ctx, trigger)
	switch {
	case err == nil:
	case errors.Is(err, ErrPollInProgress):
		e.logger.Debug("poll skipped, cycle in progress", "trigger", trigger)
	case ctx.Err() != nil:
	default:
		e.logger.RedactedError("poll failed", "trigger", trigger, "error", err)
	}
}

// Poll runs one cycle now. It returns ErrPollInProgress if a cycle is
// already running. If ctx is canceled before arbitration, nothing changes.
func (e *Engine) Poll(ctx context.Context) (CycleResult, error) {
	return e.poll(ctx, TriggerRefresh)
}

func (e *Engine) poll(ctx context.Context, trigger string) (CycleResult, error) {
	if !e.pollMu.TryLock() {
		metrics.PollsSkipped.Inc()
		return CycleResult{}, ErrPollInProgress
	}
	defer e.pollMu.Unlock()

	start := time.Now()
	ctx, span := observability.StartPollSpan(ctx, e.tracer, trigger)
	defer span.End()

	results := e.runner.FetchAll(ctx, e.fetchers)
	if err := ctx.Err(); err != nil {
		observability.RecordError(span, err)
		return CycleResult{}, fmt.Errorf("poll canceled: %w", err)
	}

	cycle := e.aggregate(results, e.now())
	cycle.Duration = time.Since(start)

	metrics.RecordPoll(cycle.Authoritative, cycle.Duration)
	observability.RecordPollResult(span, cycle.Authoritative, cycle.Added, cycle.Estimated)
	e.ready.Store(true)

	e.logger.Debug("poll cycle complete",
		"trigger", trigger,
		"authoritative_source", string(cycle.Authoritative),
		"added", cycle.Added,
		"window", e.window.Len(),
		"duration", cycle.Duration,
	)
	return cycle, nil
}

// observations is what one cycle learned from its sources.
type observations struct {
	logRecords []types.RequestRecord
	gateway    *telemetry.GatewaySnapshot
	counter    *telemetry.CounterSnapshot
	auth       *telemetry.AuthSnapshot
	// combinedReady is false when a configured counter or auth source failed,
	// so the combined baseline is not disturbed by a partial reading.
	combinedReady bool
	errors        map[types.SourceKind]error
}

func (e *Engine) observe(results map[types.SourceKind]fetcher.Result, now time.Time) observations {
	obs := observations{combinedReady: true, errors: make(map[types.SourceKind]error)}

	for kind, res := range results {
		if res.Err != nil {
			obs.errors[kind] = res.Err
		}
	}

	if res, ok := results[types.SourceProxy]; ok && res.OK() {
		entries := accesslog.Parse(string(res.Payload))
		obs.logRecords = e.inferrer.FromEntries(entries)
	}

	if snap := e.snapshot(types.SourceMesh, results, now, obs.errors); snap != nil {
		obs.gateway, _ = snap.(*telemetry.GatewaySnapshot)
	}

	for _, kind := range []types.SourceKind{types.SourceRateLimiter, types.SourceAuthService} {
		if _, configured := results[kind]; !configured {
			continue
		}
		snap := e.snapshot(kind, results, now, obs.errors)
		if snap == nil {
			obs.combinedReady = false
			continue
		}
		switch s := snap.(type) {
		case *telemetry.CounterSnapshot:
			obs.counter = s
		case *telemetry.AuthSnapshot:
			obs.auth = s
		}
	}
	return obs
}

// snapshot parses a fetched payload. It returns nil when the source was not
// fetched, failed or sent a malformed payload.
func (e *Engine) snapshot(kind types.SourceKind, results map[types.SourceKind]fetcher.Result, now time.Time, errs map[types.SourceKind]error) telemetry.Snapshot {
	res, ok := results[kind]
	if !ok || !res.OK() {
		return nil
	}
	snap, err := e.registry.Parse(kind, res.Payload, now)
	if err != nil {
		metrics.RecordParseError(kind)
		errs[kind] = err
		e.logger.RedactedWarn("telemetry payload rejected", "source", string(kind), "error", err)
		return nil
	}
	return snap
}

func (e *Engine) aggregate(results map[types.SourceKind]fetcher.Result, now time.Time) CycleResult {
	obs := e.observe(results, now)
	cycle := CycleResult{Errors: obs.errors}

	// Every available snapshot is reconciled so each source keeps a current
	// baseline, whichever source wins arbitration.
	var gatewayRes, combinedRes reconcile.Result
	if obs.gateway != nil {
		gatewayRes = e.reconciler.Reconcile(types.SourceMesh, obs.gateway, now)
	}
	var combined *telemetry.CombinedSnapshot
	if obs.combinedReady && (obs.counter != nil || obs.auth != nil) {
		combined = telemetry.Combine(obs.counter, obs.auth)
		combinedRes = e.reconciler.Reconcile(types.SourceRateLimiter, combined, now)
	}

	var produced []types.RequestRecord
	switch {
	case len(obs.logRecords) > 0:
		cycle.Authoritative = types.SourceProxy
		produced = obs.logRecords
	case obs.gateway != nil && obs.gateway.HasTraffic():
		cycle.Authoritative = types.SourceMesh
		produced, cycle.Dropped = freshRecords(gatewayRes)
	case combined != nil && combined.HasTraffic():
		cycle.Authoritative = types.SourceRateLimiter
		cycle.Estimated = combined.Estimated()
		produced, cycle.Dropped = freshRecords(combinedRes)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if obs.gateway != nil {
		e.lastGateway = obs.gateway
	}
	if combined != nil {
		e.lastCombined = combined
	}
	if cycle.Authoritative != "" {
		e.everReal = true
	}
	if e.everReal {
		if purged := e.window.PurgeSeed(); purged > 0 {
			e.logger.Info("seed records purged", "count", purged)
		}
	} else if len(produced) == 0 && e.window.Len() == 0 {
		produced = e.seed.Records(now)
	}

	added := e.window.Prepend(produced)
	cycle.Added = len(added)
	cycle.Seeded = e.window.HasSeed()

	metrics.RecordRecords(added)
	if cycle.Dropped > 0 {
		metrics.RecordsDropped.Add(float64(cycle.Dropped))
		e.logger.Warn("synthesis capped",
			"source", string(cycle.Authoritative),
			"omitted", cycle.Dropped,
		)
	}
	metrics.WindowRecords.Set(float64(e.window.Len()))

	cycle.NoSources = len(results) > 0
	for _, res := range results {
		if res.OK() {
			cycle.NoSources = false
			break
		}
	}

	e.unreachable = cycle.NoSources
	e.updateStatusLocked(results, obs, cycle, now)
	if cycle.NoSources {
		e.logger.Warn("no telemetry source reachable", "error", auditerrors.NewNoSources())
	}
	return cycle
}

// freshRecords returns the records of a reconcile result that are new this
// cycle. An unchanged fingerprint replays records that were already offered.
func freshRecords(res reconcile.Result) ([]types.RequestRecord, int64) {
	if res.Outcome == reconcile.OutcomeUnchanged {
		return nil, 0
	}
	return res.Records, res.Dropped
}

func (e *Engine) updateStatusLocked(results map[types.SourceKind]fetcher.Result, obs observations, cycle CycleResult, now time.Time) {
	st := newStatus()
	for kind, res := range results {
		st.SourceConnected[kind] = res.OK()
	}
	for kind, err := range obs.errors {
		st.SourceErrors[kind] = err.Error()
	}
	if obs.counter != nil {
		st.LimiterUp = obs.counter.Up
	}

	// Traffic counts as real only while some source still answers.
	st.HasRealTraffic = e.everReal && !cycle.NoSources
	st.LastUpdate = now
	st.AuthoritativeSource = cycle.Authoritative
	st.Estimated = cycle.Estimated
	st.Seeded = cycle.Seeded
	st.PollCount = e.status.PollCount + 1
	st.WindowSize = e.window.Len()

	e.status = st
	e.lastPoll = now
}

// ListRequests returns the window, newest first. When the last cycle is older
// than StaleAfter a poll runs first, subject to the refresh throttle. The list
// is empty while no source is reachable; the window itself is kept and served
// again once a source answers.
func (e *Engine) ListRequests(ctx context.Context) []types.RequestRecord {
	if e.isStale() && e.limiter.Allow() {
		if _, err := e.poll(ctx, TriggerStale); err != nil && !errors.Is(err, ErrPollInProgress) {
			e.logger.RedactedWarn("stale refresh failed", "error", err)
		}
	}
	e.mu.RLock()
	unreachable := e.unreachable
	e.mu.RUnlock()
	if unreachable {
		return []types.RequestRecord{}
	}
	return e.window.Records()
}

func (e *Engine) isStale() bool {
	staleAfter := time.Duration(e.staleAfter.Load())
	if staleAfter <= 0 {
		return false
	}
	e.mu.RLock()
	last := e.lastPoll
	e.mu.RUnlock()
	return last.IsZero() || e.now().Sub(last) > staleAfter
}

// Refresh runs an on-demand poll, subject to the refresh throttle.
func (e *Engine) Refresh(ctx context.Context) (CycleResult, error) {
	if !e.limiter.Allow() {
		metrics.RefreshThrottled.Inc()
		return CycleResult{}, auditerrors.NewRateLimited("refresh requested too often")
	}
	return e.poll(ctx, TriggerRefresh)
}

// Status returns a copy of the current status.
func (e *Engine) Status() types.Status {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st := e.status
	st.SourceConnected = make(map[types.SourceKind]bool, len(e.status.SourceConnected))
	for k, v := range e.status.SourceConnected {
		st.SourceConnected[k] = v
	}
	st.SourceErrors = make(map[types.SourceKind]string, len(e.status.SourceErrors))
	for k, v := range e.status.SourceErrors {
		st.SourceErrors[k] = v
	}
	st.WindowSize = e.window.Len()
	return st
}

// Summary returns cumulative totals from the latest snapshots, preferring the
// mesh gateway when it has traffic and falling back to the rate limiter and
// auth service readings.
func (e *Engine) Summary() types.DashboardSummary {
	e.mu.RLock()
	defer e.mu.RUnlock()

	sum := types.DashboardSummary{LastUpdate: e.status.LastUpdate}
	connected := e.status.SourceConnected
	sum.Policy = types.PolicyConnectivity{
		MeshConnected:    connected[types.SourceMesh],
		AuthConnected:    connected[types.SourceAuthService],
		LimiterConnected: connected[types.SourceRateLimiter] && (e.status.LimiterUp == nil || *e.status.LimiterUp),
	}

	var snap telemetry.Snapshot
	switch {
	case e.lastGateway != nil && e.lastGateway.HasTraffic():
		snap = e.lastGateway
	case e.lastCombined != nil && e.lastCombined.HasTraffic():
		snap = e.lastCombined
	default:
		return sum
	}

	t := telemetry.Totals(snap)
	sum.Source = snap.Kind()
	sum.Estimated = snap.Estimated()
	sum.TotalRequests = t.Total()
	sum.AcceptedRequests = t.Accepted
	sum.AuthFailedRequests = t.AuthFailed
	sum.RateLimitedRequests = t.RateLimited
	sum.NotFoundRequests = t.NotFound
	sum.RejectedRequests = t.AuthFailed + t.RateLimited + t.NotFound
	return sum
}

// Ready reports whether at least one cycle has completed.
func (e *Engine) Ready() bool {
	return e.ready.Load()
}

// Reset forgets every baseline and empties the window.
func (e *Engine) Reset() {
	e.pollMu.Lock()
	defer e.pollMu.Unlock()

	e.reconciler.Reset()
	e.window.Clear()

	e.mu.Lock()
	e.everReal = false
	e.unreachable = false
	e.lastGateway = nil
	e.lastCombined = nil
	e.status = newStatus()
	e.lastPoll = time.Time{}
	e.mu.Unlock()
}

// SetOptions applies new scheduling options, typically after a config reload.
func (e *Engine) SetOptions(opts Options) {
	if opts.PollInterval > 0 && time.Duration(e.interval.Swap(int64(opts.PollInterval))) != opts.PollInterval {
		select {
		case e.intervalCh <- opts.PollInterval:
		default:
		}
	}
	e.staleAfter.Store(int64(opts.StaleAfter))
	e.limiter.SetLimit(opts.RefreshRate)
	if opts.RefreshBurst > 0 {
		e.limiter.SetBurst(opts.RefreshBurst)
	}
}
