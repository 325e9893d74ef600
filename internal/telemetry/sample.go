// Package telemetry parses raw metrics payloads from the gateway stack into typed,
// immutable snapshots. A payload may be Prometheus text exposition (a /metrics
// scrape) or a Prometheus HTTP API query result; the format is detected from the
// payload itself so callers never pre-classify it.
package telemetry

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/goccy/go-json"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// NameLabel is the label carrying the series name in query results.
const NameLabel = "__name__"

// Format identifies the wire format of a metrics payload.
type Format int

const (
	FormatExposition Format = iota
	FormatQueryResult
)

func (f Format) String() string {
	switch f {
	case FormatExposition:
		return "exposition"
	case FormatQueryResult:
		return "query-result"
	default:
		return "unknown"
	}
}

// Sample is one scalar reading of a series.
type Sample struct {
	Name   string
	Labels map[string]string
	Value  float64
}

// Label returns the value of a label, or "".
func (s Sample) Label(name string) string {
	return s.Labels[name]
}

// DetectFormat inspects the first non-space byte of the payload.
func DetectFormat(raw []byte) Format {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return FormatQueryResult
	}
	return FormatExposition
}

// DecodeSamples flattens a payload of either format into samples.
func DecodeSamples(raw []byte) ([]Sample, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	switch DetectFormat(raw) {
	case FormatQueryResult:
		return decodeQueryResult(raw)
	default:
		return decodeExposition(raw)
	}
}

func decodeExposition(raw []byte) ([]Sample, error) {
	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode exposition: %w", err)
	}

	names := make([]string, 0, len(families))
	for name := range families {
		names = append(names, name)
	}
	sort.Strings(names)

	var samples []Sample
	for _, name := range names {
		family := families[name]
		for _, m := range family.GetMetric() {
			value, ok := metricValue(family.GetType(), m)
			if !ok {
				continue
			}
			labels := make(map[string]string, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			samples = append(samples, Sample{Name: name, Labels: labels, Value: value})
		}
	}
	return samples, nil
}

func metricValue(t dto.MetricType, m *dto.Metric) (float64, bool) {
	switch t {
	case dto.MetricType_COUNTER:
		return m.GetCounter().GetValue(), true
	case dto.MetricType_GAUGE:
		return m.GetGauge().GetValue(), true
	case dto.MetricType_UNTYPED:
		return m.GetUntyped().GetValue(), true
	default:
		// Histograms and summaries carry no per-request counts we can use.
		return 0, false
	}
}

// QueryResponse is the envelope of a Prometheus compatible query API answer.
type QueryResponse struct {
	Status    string    `json:"status"`
	ErrorType string    `json:"errorType,omitempty"`
	Error     string    `json:"error,omitempty"`
	Data      QueryData `json:"data"`
}

// QueryData holds a query result, decoded according to ResultType.
type QueryData struct {
	ResultType string          `json:"resultType"`
	Result     json.RawMessage `json:"result"`
}

// VectorSample is one series of a vector or matrix result. Value and Values
// are [timestamp, "value"] pairs.
type VectorSample struct {
	Metric map[string]string `json:"metric"`
	Value  []any             `json:"value,omitempty"`
	Values [][]any           `json:"values,omitempty"`
}

// NewVectorResponse builds a successful vector answer.
func NewVectorResponse(samples []VectorSample) (QueryResponse, error) {
	if samples == nil {
		samples = []VectorSample{}
	}
	raw, err := json.Marshal(samples)
	if err != nil {
		return QueryResponse{}, err
	}
	return QueryResponse{Status: "success", Data: QueryData{ResultType: "vector", Result: raw}}, nil
}

func decodeQueryResult(raw []byte) ([]Sample, error) {
	var resp QueryResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode query result: %w", err)
	}
	if resp.Status != "success" {
		return nil, fmt.Errorf("query result status %q: %s", resp.Status, resp.Error)
	}

	switch resp.Data.ResultType {
	case "scalar":
		var pair []any
		if err := json.Unmarshal(resp.Data.Result, &pair); err != nil {
			return nil, fmt.Errorf("decode scalar result: %w", err)
		}
		v, err := pairValue(pair)
		if err != nil {
			return nil, err
		}
		return []Sample{{Labels: map[string]string{}, Value: v}}, nil

	case "vector", "matrix":
		var results []VectorSample
		if err := json.Unmarshal(resp.Data.Result, &results); err != nil {
			return nil, fmt.Errorf("decode %s result: %w", resp.Data.ResultType, err)
		}
		samples := make([]Sample, 0, len(results))
		for _, r := range results {
			pair := r.Value
			if len(r.Values) > 0 {
				pair = r.Values[len(r.Values)-1]
			}
			v, err := pairValue(pair)
			if err != nil {
				return nil, err
			}
			labels := make(map[string]string, len(r.Metric))
			for k, val := range r.Metric {
				if k != NameLabel {
					labels[k] = val
				}
			}
			samples = append(samples, Sample{Name: r.Metric[NameLabel], Labels: labels, Value: v})
		}
		return samples, nil

	default:
		return nil, fmt.Errorf("unsupported result type %q", resp.Data.ResultType)
	}
}

// pairValue reads the value half of a [timestamp, "value"] pair.
func pairValue(pair []any) (float64, error) {
	if len(pair) != 2 {
		return 0, fmt.Errorf("malformed sample pair of length %d", len(pair))
	}
	s, ok := pair[1].(string)
	if !ok {
		return 0, fmt.Errorf("sample value is %T, want string", pair[1])
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse sample value: %w", err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, nil
	}
	return v, nil
}

// toCount converts a float counter reading to a non-negative integer count.
func toCount(v float64) int64 {
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return int64(math.Round(v))
}
