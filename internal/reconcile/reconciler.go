// Package reconcile turns successive counter snapshots into per-request
// records. It remembers, per source, the last snapshot and the records it
// produced: an unchanged fingerprint replays the cached records, a changed one
// synthesizes exactly the growth of the total, and a decrease is treated as
// a counter reset.
package reconcile

import (
	"math/bits"
	"sort"
	"sync"
	"time"

	"github.com/maasdash/trafficaudit/internal/inference"
	"github.com/maasdash/trafficaudit/internal/metrics"
	"github.com/maasdash/trafficaudit/internal/observability"
	"github.com/maasdash/trafficaudit/internal/telemetry"
	auditerrors "github.com/maasdash/trafficaudit/pkg/errors"
	"github.com/maasdash/trafficaudit/pkg/types"
)

// Outcome describes what one Reconcile call did.
type Outcome int

const (
	// OutcomeUnchanged means the fingerprint matched; cached records returned.
	OutcomeUnchanged Outcome = iota
	// OutcomeBaseline means the first observation of a source.
	OutcomeBaseline
	// OutcomeDelta means new requests were synthesized from the delta.
	OutcomeDelta
	// OutcomeReset means the counters went backwards; the baseline moved.
	OutcomeReset
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeBaseline:
		return "baseline"
	case OutcomeDelta:
		return "delta"
	case OutcomeReset:
		return "reset"
	default:
		return "unknown"
	}
}

// Result is the output of one Reconcile call.
type Result struct {
	Records []types.RequestRecord
	Outcome Outcome
	// Dropped counts requests beyond the synthesis cap.
	Dropped int64
}

// Options configures a Reconciler.
type Options struct {
	// InitialBackfill caps records synthesized on the first observation of a
	// source. Zero records only the baseline.
	InitialBackfill int
	Logger          *observability.Logger
}

type sourceState struct {
	fingerprint string
	tallies     map[string]telemetry.Tally
	total       int64
	capturedAt  time.Time
	records     []types.RequestRecord
}

// Reconciler is the change detector and snapshot cache. It is owned by the
// aggregation step; the mutex only guards Reset from other goroutines.
type Reconciler struct {
	mu       sync.Mutex
	inferrer *inference.Inferrer
	opts     Options
	states   map[types.SourceKind]*sourceState
}

// New creates a reconciler.
func New(inferrer *inference.Inferrer, opts Options) *Reconciler {
	if opts.InitialBackfill < 0 {
		opts.InitialBackfill = 0
	}
	if opts.Logger == nil {
		opts.Logger = observability.Discard()
	}
	return &Reconciler{
		inferrer: inferrer,
		opts:     opts,
		states:   make(map[types.SourceKind]*sourceState),
	}
}

// Reconcile compares snap to the previous snapshot of kind and returns the
// records it stands for. now is used as the capture time when the snapshot
// carries none.
func (r *Reconciler) Reconcile(kind types.SourceKind, snap telemetry.Snapshot, now time.Time) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	capturedAt := snap.CapturedAt()
	if capturedAt.IsZero() {
		capturedAt = now
	}
	fingerprint := snap.Fingerprint()
	tallies := snap.Tallies()
	total := sumTotal(tallies)

	prev, seen := r.states[kind]
	if seen && prev.fingerprint == fingerprint {
		return Result{Records: cloneRecords(prev.records), Outcome: OutcomeUnchanged}
	}

	next := &sourceState{
		fingerprint: fingerprint,
		tallies:     tallies,
		total:       total,
		capturedAt:  capturedAt,
	}
	r.states[kind] = next

	if !seen {
		if r.opts.InitialBackfill == 0 || total == 0 {
			return Result{Outcome: OutcomeBaseline}
		}
		records, dropped := r.inferrer.Synthesize(inference.Batch{
			Delta:     tallies,
			To:        capturedAt,
			Attribute: snap.AttributedTo,
			Limit:     r.opts.InitialBackfill,
		})
		next.records = records
		r.opts.Logger.Debug("source baseline backfilled",
			"source", string(kind),
			"records", len(records),
			"omitted", dropped,
		)
		return Result{Records: cloneRecords(records), Outcome: OutcomeBaseline, Dropped: dropped}
	}

	if total < prev.total {
		metrics.RecordCounterReset(kind)
		r.opts.Logger.Info("counter reset absorbed",
			"source", string(kind),
			"error", auditerrors.NewCounterRegression(kind, prev.total, total),
		)
		return Result{Outcome: OutcomeReset}
	}

	delta := boundedDelta(prev.tallies, tallies, total-prev.total)
	records, dropped := r.inferrer.Synthesize(inference.Batch{
		Delta:     delta,
		From:      prev.capturedAt,
		To:        capturedAt,
		Attribute: snap.AttributedTo,
	})
	next.records = records
	return Result{Records: cloneRecords(records), Outcome: OutcomeDelta, Dropped: dropped}
}

// Forget drops the state of one source so its next snapshot is a first
// observation.
func (r *Reconciler) Forget(kind types.SourceKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, kind)
}

// Reset clears all state.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = make(map[types.SourceKind]*sourceState)
}

// Fingerprint returns the last fingerprint seen for kind.
func (r *Reconciler) Fingerprint(kind types.SourceKind) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[kind]
	if !ok {
		return "", false
	}
	return st.fingerprint, true
}

// boundedDelta subtracts prev from cur per team and category and shares n,
// the growth of the overall total, among the categories that grew. Shares
// are proportional to each category's growth with cumulative rounding in
// team then category order, so they sum to exactly n. Categories that
// decreased contribute nothing.
func boundedDelta(prev, cur map[string]telemetry.Tally, n int64) map[string]telemetry.Tally {
	out := make(map[string]telemetry.Tally)
	if n <= 0 {
		return out
	}

	teams := make([]string, 0, len(cur))
	for team := range cur {
		teams = append(teams, team)
	}
	sort.Strings(teams)

	type growth struct {
		team     string
		category telemetry.Category
		n        int64
	}
	var (
		grown    []growth
		positive int64
	)
	for _, team := range teams {
		c, p := cur[team], prev[team]
		for _, cat := range telemetry.Categories {
			if d := c.Get(cat) - p.Get(cat); d > 0 {
				grown = append(grown, growth{team: team, category: cat, n: d})
				positive += d
			}
		}
	}
	if positive == 0 {
		return out
	}
	n = min(n, positive)

	var cumulative, assigned int64
	for _, g := range grown {
		cumulative += g.n
		share := scale(cumulative, n, positive) - assigned
		assigned += share
		if share > 0 {
			out[g.team] = out[g.team].Inc(g.category, share)
		}
	}
	return out
}

// scale returns a*b/c rounded down, for 0 <= a, b <= c.
func scale(a, b, c int64) int64 {
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	q, _ := bits.Div64(hi, lo, uint64(c))
	return int64(q)
}

func sumTotal(tallies map[string]telemetry.Tally) int64 {
	var total int64
	for _, t := range tallies {
		total += t.Total()
	}
	return total
}

func cloneRecords(records []types.RequestRecord) []types.RequestRecord {
	if len(records) == 0 {
		return nil
	}
	out := make([]types.RequestRecord, len(records))
	copy(out, records)
	return out
}
