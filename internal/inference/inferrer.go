package inference

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/maasdash/trafficaudit/internal/accesslog"
	"github.com/maasdash/trafficaudit/internal/pricing"
	"github.com/maasdash/trafficaudit/pkg/types"
)

// TimestampLayout formats synthesized timestamps so they sort lexically with
// the proxy's own RFC 3339 timestamps.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// recordNamespace seeds stable ids for access log records.
var recordNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:trafficaudit:access-log"))

// Options configures naming and estimation.
type Options struct {
	DefaultModel string
	DefaultTeam  string
	// TierPrefix is stripped from namespaces to get a team name, e.g.
	// "inference-gateway-tier-premium" becomes "premium".
	TierPrefix string
	// Teams maps a namespace to a team name and wins over TierPrefix.
	Teams map[string]string

	BytesPerToken       int
	DefaultInputTokens  int
	DefaultOutputTokens int
	// MaxBatch caps the records synthesized from one counter delta.
	MaxBatch int
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		DefaultModel:        "vllm-simulator",
		DefaultTeam:         "default",
		TierPrefix:          "inference-gateway-tier-",
		BytesPerToken:       4,
		DefaultInputTokens:  50,
		DefaultOutputTokens: 150,
		MaxBatch:            1000,
	}
}

// Inferrer turns observations into request records.
type Inferrer struct {
	opts Options
	calc *pricing.Calculator
}

// New creates an Inferrer. Zero-valued options fall back to DefaultOptions.
func New(opts Options, calc *pricing.Calculator) *Inferrer {
	def := DefaultOptions()
	if opts.DefaultModel == "" {
		opts.DefaultModel = def.DefaultModel
	}
	if opts.DefaultTeam == "" {
		opts.DefaultTeam = def.DefaultTeam
	}
	if opts.TierPrefix == "" {
		opts.TierPrefix = def.TierPrefix
	}
	if opts.BytesPerToken <= 0 {
		opts.BytesPerToken = def.BytesPerToken
	}
	if opts.DefaultInputTokens <= 0 {
		opts.DefaultInputTokens = def.DefaultInputTokens
	}
	if opts.DefaultOutputTokens <= 0 {
		opts.DefaultOutputTokens = def.DefaultOutputTokens
	}
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = def.MaxBatch
	}
	if calc == nil {
		calc = pricing.NewCalculator(nil)
	}
	return &Inferrer{opts: opts, calc: calc}
}

// Options returns the effective options.
func (i *Inferrer) Options() Options {
	return i.opts
}

// TeamFor maps a namespace to a team.
func (i *Inferrer) TeamFor(namespace string) string {
	if namespace == "" {
		return i.opts.DefaultTeam
	}
	if team, ok := i.opts.Teams[namespace]; ok {
		return team
	}
	if team := strings.TrimPrefix(namespace, i.opts.TierPrefix); team != "" && team != namespace {
		return team
	}
	return namespace
}

// ModelFor extracts the model from gateway paths shaped like
// /llm/<model>/v1/..., falling back to the default model.
func (i *Inferrer) ModelFor(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for idx := 1; idx < len(segments); idx++ {
		if segments[idx] == "v1" && segments[idx-1] != "" && segments[idx-1] != "llm" && segments[idx-1] != "api" {
			return segments[idx-1]
		}
	}
	return i.opts.DefaultModel
}

// ModelInference estimates model usage for a request. It returns nil unless
// the request succeeded on a model endpoint. Token counts are derived from
// byte counts and are always flagged as estimates.
func (i *Inferrer) ModelInference(requestID, model, path string, code int, flags, route string, durationMs, bytesIn, bytesOut int64) *types.ModelInferenceRecord {
	if code != http.StatusOK || !IsModelEndpoint(path) || RoutingFailed(flags, route) {
		return nil
	}
	in := i.tokens(bytesIn, i.opts.DefaultInputTokens)
	out := i.tokens(bytesOut, i.opts.DefaultOutputTokens)
	return &types.ModelInferenceRecord{
		RequestID:      requestID,
		ModelName:      model,
		InputTokens:    in,
		OutputTokens:   out,
		TotalTokens:    in + out,
		ResponseTimeMs: float64(durationMs),
		FinishReason:   "stop",
		Estimated:      true,
	}
}

func (i *Inferrer) tokens(bytes int64, fallback int) int {
	if bytes <= 0 {
		return fallback
	}
	n := int(bytes) / i.opts.BytesPerToken
	if n == 0 {
		n = 1
	}
	return n
}

// Cost returns the estimated cost of an inference, or nil when there is none.
func (i *Inferrer) Cost(mi *types.ModelInferenceRecord) *float64 {
	if mi == nil {
		return nil
	}
	c := i.calc.Calculate(mi.ModelName, mi.InputTokens, mi.OutputTokens)
	return &c
}

// RecordID returns the id of the record built from a log entry: a name-based
// UUID of the raw line, so the same line maps to the same record on every
// poll while distinct lines that share a request id stay distinct.
// occurrence numbers repeats of an identical line within one read.
func RecordID(e accesslog.Entry, occurrence int) string {
	name := e.Raw
	if occurrence > 0 {
		name = fmt.Sprintf("%s\x00%d", e.Raw, occurrence)
	}
	return uuid.NewSHA1(recordNamespace, []byte(name)).String()
}

// FromEntry builds the record for one observed request. Method, path, code,
// timestamp and timing are copied from the log untouched.
func (i *Inferrer) FromEntry(e accesslog.Entry) types.RequestRecord {
	return i.fromEntry(e, 0)
}

func (i *Inferrer) fromEntry(e accesslog.Entry, occurrence int) types.RequestRecord {
	id := RecordID(e, occurrence)
	model := i.ModelFor(e.Path)

	rec := types.RequestRecord{
		ID:              id,
		Timestamp:       e.Timestamp,
		Team:            i.opts.DefaultTeam,
		Model:           model,
		Endpoint:        e.Path,
		HTTPMethod:      e.Method,
		StatusCode:      e.Code,
		Decision:        Decide(e.Code, e.Flags, e.Route),
		FinalReason:     FinalReason(e.Code, e.Flags, e.Route),
		Authentication:  Authenticate(e.Code, e.Flags, e.Route, e.Path),
		PolicyDecisions: PolicyDecisions(e.Code, e.Flags, e.Route, e.Path),
		QueryText:       fmt.Sprintf("%s %s", e.Method, e.Path),
		Source:          types.SourceProxy,
		TraceID:         e.RequestID,
		Origin:          types.OriginObserved,
	}
	if e.DurationMs > 0 {
		d := float64(e.DurationMs)
		rec.TotalResponseTimeMs = &d
	}
	requestID := e.RequestID
	if requestID == "" {
		requestID = id
	}
	rec.ModelInference = i.ModelInference(requestID, model, e.Path, e.Code, e.Flags, e.Route, e.DurationMs, e.BytesReceived, e.BytesSent)
	rec.EstimatedCost = i.Cost(rec.ModelInference)
	return rec
}

// FromEntries maps entries one to one, preserving order. Identical lines
// each get their own record.
func (i *Inferrer) FromEntries(entries []accesslog.Entry) []types.RequestRecord {
	out := make([]types.RequestRecord, 0, len(entries))
	seen := make(map[string]int, len(entries))
	for _, e := range entries {
		out = append(out, i.fromEntry(e, seen[e.Raw]))
		seen[e.Raw]++
	}
	return out
}
