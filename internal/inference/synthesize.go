package inference

import (
	"net/http"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/maasdash/trafficaudit/internal/telemetry"
	"github.com/maasdash/trafficaudit/pkg/types"
)

// SynthesizedEndpoint is the endpoint synthesized requests are attributed to.
const SynthesizedEndpoint = "/v1/chat/completions"

// defaultSpread is used when a batch has no usable previous capture time.
const defaultSpread = 2 * time.Second

// Batch is a counter delta to expand into individual records.
type Batch struct {
	// Delta holds new requests per namespace; "" is unattributed.
	Delta map[string]telemetry.Tally
	// From and To bound the interval the requests happened in.
	From, To time.Time
	// Attribute names the component each category is attributed to.
	Attribute func(telemetry.Category) types.SourceKind
	// Limit lowers the per-batch cap below Options.MaxBatch when positive.
	Limit int
}

type observation struct {
	code  int
	flags string
	route string
}

var categoryObservation = map[telemetry.Category]observation{
	telemetry.CategoryAccepted:    {code: http.StatusOK, route: "via_upstream"},
	telemetry.CategoryAuthFailed:  {code: http.StatusUnauthorized},
	telemetry.CategoryRateLimited: {code: http.StatusTooManyRequests},
	telemetry.CategoryNotFound:    {code: http.StatusNotFound, flags: FlagNoRoute, route: RouteNotFound},
}

type bucket struct {
	namespace string
	category  telemetry.Category
	left      int64
}

// Synthesize fabricates one record per counted request in b, newest first,
// with distinct ids and timestamps spread across (From, To]. At most
// Options.MaxBatch (or b.Limit, if lower) records are produced; the second
// return value is the number of requests left out.
func (i *Inferrer) Synthesize(b Batch) ([]types.RequestRecord, int64) {
	buckets := make([]*bucket, 0, len(b.Delta)*len(telemetry.Categories))
	namespaces := make([]string, 0, len(b.Delta))
	for ns := range b.Delta {
		namespaces = append(namespaces, ns)
	}
	sort.Strings(namespaces)

	var total int64
	for _, ns := range namespaces {
		t := b.Delta[ns]
		for _, c := range telemetry.Categories {
			if n := t.Get(c); n > 0 {
				buckets = append(buckets, &bucket{namespace: ns, category: c, left: n})
				total += n
			}
		}
	}
	if total == 0 {
		return nil, 0
	}

	limit := int64(i.opts.MaxBatch)
	if b.Limit > 0 && int64(b.Limit) < limit {
		limit = int64(b.Limit)
	}
	n := min(total, limit)

	// Interleave buckets so rejections are spread through the interval
	// instead of clustered at one end.
	order := make([]*bucket, 0, n)
	for int64(len(order)) < n {
		for _, bk := range buckets {
			if bk.left > 0 && int64(len(order)) < n {
				order = append(order, bk)
				bk.left--
			}
		}
	}

	to := b.To
	from := b.From
	if from.IsZero() || !from.Before(to) {
		from = to.Add(-defaultSpread)
	}
	step := to.Sub(from) / time.Duration(n)

	records := make([]types.RequestRecord, 0, n)
	for k, bk := range order {
		ts := to.Add(-time.Duration(k) * step)
		records = append(records, i.synthesizeOne(bk.namespace, bk.category, ts, b.Attribute))
	}
	return records, total - n
}

func (i *Inferrer) synthesizeOne(namespace string, c telemetry.Category, ts time.Time, attribute func(telemetry.Category) types.SourceKind) types.RequestRecord {
	obs := categoryObservation[c]
	id := ulid.MustNew(ulid.Timestamp(ts), ulid.DefaultEntropy()).String()
	model := i.opts.DefaultModel
	path := SynthesizedEndpoint

	source := types.SourceRateLimiter
	if attribute != nil {
		source = attribute(c)
	}

	rec := types.RequestRecord{
		ID:              id,
		Timestamp:       ts.UTC().Format(TimestampLayout),
		Team:            i.TeamFor(namespace),
		Model:           model,
		Endpoint:        path,
		HTTPMethod:      http.MethodPost,
		StatusCode:      obs.code,
		Decision:        Decide(obs.code, obs.flags, obs.route),
		FinalReason:     FinalReason(obs.code, obs.flags, obs.route),
		Authentication:  Authenticate(obs.code, obs.flags, obs.route, path),
		PolicyDecisions: PolicyDecisions(obs.code, obs.flags, obs.route, path),
		QueryText:       http.MethodPost + " " + path,
		Source:          source,
		Origin:          types.OriginSynthesized,
	}
	rec.ModelInference = i.ModelInference(id, model, path, obs.code, obs.flags, obs.route, 0, 0, 0)
	rec.EstimatedCost = i.Cost(rec.ModelInference)
	return rec
}
