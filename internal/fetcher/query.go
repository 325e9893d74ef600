package fetcher

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goccy/go-json"

	"github.com/maasdash/trafficaudit/internal/telemetry"
	auditerrors "github.com/maasdash/trafficaudit/pkg/errors"
	"github.com/maasdash/trafficaudit/pkg/types"
)

// Query is one PromQL expression. Alias names the series when the result has
// no __name__ label, which is the case for any aggregation or function call.
type Query struct {
	Alias string `yaml:"alias"`
	Expr  string `yaml:"expr"`
}

// QueryFetcher runs instant queries against a Prometheus compatible HTTP API
// (Prometheus, Thanos querier) and merges the results into a single vector
// payload.
type QueryFetcher struct {
	kind    types.SourceKind
	baseURL string
	queries []Query
	opts    HTTPOptions
}

// NewQueryFetcher creates a query fetcher. baseURL is the API root, e.g.
// "https://thanos-querier:9091".
func NewQueryFetcher(kind types.SourceKind, baseURL string, queries []Query, opts HTTPOptions) *QueryFetcher {
	return &QueryFetcher{
		kind:    kind,
		baseURL: strings.TrimRight(baseURL, "/"),
		queries: queries,
		opts:    opts,
	}
}

// Kind implements Fetcher.
func (f *QueryFetcher) Kind() types.SourceKind { return f.kind }

// Fetch implements Fetcher. Every query must succeed; a partial payload would
// make the snapshot fingerprint flap between polls.
func (f *QueryFetcher) Fetch(ctx context.Context) ([]byte, error) {
	var elems []telemetry.VectorSample
	for _, q := range f.queries {
		got, err := f.run(ctx, q)
		if err != nil {
			return nil, err
		}
		elems = append(elems, got...)
	}

	merged, err := telemetry.NewVectorResponse(elems)
	if err != nil {
		return nil, auditerrors.NewInternalError("encode merged query result", err)
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return nil, auditerrors.NewInternalError("encode merged query result", err)
	}
	return out, nil
}

func (f *QueryFetcher) run(ctx context.Context, q Query) ([]telemetry.VectorSample, error) {
	endpoint := f.baseURL + "/api/v1/query?" + url.Values{"query": {q.Expr}}.Encode()
	body, err := f.opts.get(ctx, f.kind, endpoint, "application/json", readFull)
	if err != nil {
		return nil, err
	}

	var resp telemetry.QueryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, auditerrors.NewMalformedPayload(f.kind, fmt.Sprintf("query %q", q.Alias), err)
	}
	if resp.Status != "success" {
		return nil, auditerrors.NewSourceUnavailable(f.kind,
			fmt.Sprintf("query %q failed: %s", q.Alias, resp.ErrorType), fmt.Errorf("%s", resp.Error))
	}

	switch resp.Data.ResultType {
	case "scalar":
		var pair []any
		if err := json.Unmarshal(resp.Data.Result, &pair); err != nil {
			return nil, auditerrors.NewMalformedPayload(f.kind, fmt.Sprintf("query %q scalar", q.Alias), err)
		}
		return []telemetry.VectorSample{{Metric: map[string]string{telemetry.NameLabel: q.Alias}, Value: pair}}, nil

	case "vector":
		var elems []telemetry.VectorSample
		if err := json.Unmarshal(resp.Data.Result, &elems); err != nil {
			return nil, auditerrors.NewMalformedPayload(f.kind, fmt.Sprintf("query %q vector", q.Alias), err)
		}
		for i := range elems {
			if elems[i].Metric == nil {
				elems[i].Metric = map[string]string{}
			}
			if elems[i].Metric[telemetry.NameLabel] == "" {
				elems[i].Metric[telemetry.NameLabel] = q.Alias
			}
		}
		return elems, nil

	default:
		return nil, auditerrors.NewMalformedPayload(f.kind,
			fmt.Sprintf("query %q returned unsupported result type %q", q.Alias, resp.Data.ResultType), nil)
	}
}
