// Package seed provides placeholder records shown before any real traffic has
// been observed, so a fresh dashboard is not blank.
package seed

import (
	"fmt"
	"net/http"
	"time"

	"github.com/maasdash/trafficaudit/internal/inference"
	"github.com/maasdash/trafficaudit/pkg/types"
)

// Provider supplies seed records.
type Provider interface {
	Records(now time.Time) []types.RequestRecord
}

// None never seeds.
type None struct{}

// Records implements Provider.
func (None) Records(time.Time) []types.RequestRecord { return nil }

type sample struct {
	team  string
	model string
	code  int
	flags string
	route string
	path  string
}

var illustrativeSamples = []sample{
	{team: "premium", model: "vllm-simulator", code: http.StatusOK, route: "via_upstream", path: "/v1/chat/completions"},
	{team: "free", model: "qwen3-0.6b-instruct", code: http.StatusTooManyRequests, path: "/v1/chat/completions"},
	{team: "enterprise", model: "llama2-7b", code: http.StatusOK, route: "via_upstream", path: "/v1/completions"},
	{team: "free", model: "vllm-simulator", code: http.StatusUnauthorized, path: "/v1/chat/completions"},
	{team: "premium", model: "qwen3-0.6b-instruct", code: http.StatusOK, route: "via_upstream", path: "/v1/chat/completions"},
	{team: "default", model: "unknown-model", code: http.StatusNotFound, flags: inference.FlagNoRoute, route: inference.RouteNotFound, path: "/llm/unknown-model/v1/chat/completions"},
}

// Illustrative produces a fixed, labelled sample covering every decision
// path: accepted calls, a rate limit, an auth failure and a routing failure.
type Illustrative struct {
	inferrer *inference.Inferrer
	spacing  time.Duration
}

// NewIllustrative creates the illustrative provider.
func NewIllustrative(inferrer *inference.Inferrer) *Illustrative {
	return &Illustrative{inferrer: inferrer, spacing: 15 * time.Second}
}

// Records implements Provider. Ids are stable so repeated seeding is a no-op
// in the window.
func (p *Illustrative) Records(now time.Time) []types.RequestRecord {
	out := make([]types.RequestRecord, 0, len(illustrativeSamples))
	for i, s := range illustrativeSamples {
		ts := now.Add(-time.Duration(i) * p.spacing)
		id := fmt.Sprintf("seed-%02d", i+1)
		rec := types.RequestRecord{
			ID:              id,
			Timestamp:       ts.UTC().Format(inference.TimestampLayout),
			Team:            s.team,
			Model:           s.model,
			Endpoint:        s.path,
			HTTPMethod:      http.MethodPost,
			StatusCode:      s.code,
			Decision:        inference.Decide(s.code, s.flags, s.route),
			FinalReason:     inference.FinalReason(s.code, s.flags, s.route),
			Authentication:  inference.Authenticate(s.code, s.flags, s.route, s.path),
			PolicyDecisions: inference.PolicyDecisions(s.code, s.flags, s.route, s.path),
			QueryText:       http.MethodPost + " " + s.path,
			Source:          types.SourceProxy,
			Origin:          types.OriginSeed,
		}
		rec.ModelInference = p.inferrer.ModelInference(id, s.model, s.path, s.code, s.flags, s.route, 0, 0, 0)
		rec.EstimatedCost = p.inferrer.Cost(rec.ModelInference)
		out = append(out, rec)
	}
	return out
}
