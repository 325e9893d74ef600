package telemetry

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/maasdash/trafficaudit/pkg/types"
)

// Mesh gateway series.
const (
	MetricIstioRequests       = "istio_requests_total"
	MetricEnvoyUpstreamRq     = "envoy_cluster_upstream_rq"
	MetricEnvoyDownstreamRqXX = "envoy_http_downstream_rq_xx"
)

// GatewaySnapshot is a reading of the mesh gateway's response code counters.
type GatewaySnapshot struct {
	At time.Time
	// ByCode holds every exact response code seen, classified or not.
	ByCode      map[int]int64
	Success     int64
	AuthFailed  int64
	RateLimited int64
	NotFound    int64
}

func (s *GatewaySnapshot) Kind() types.SourceKind { return types.SourceMesh }
func (s *GatewaySnapshot) CapturedAt() time.Time  { return s.At }
func (s *GatewaySnapshot) Estimated() bool        { return false }

func (s *GatewaySnapshot) HasTraffic() bool {
	return s.Success+s.AuthFailed+s.RateLimited+s.NotFound > 0
}

func (s *GatewaySnapshot) Fingerprint() string {
	return fmt.Sprintf("%d-%d-%d-%d", s.Success, s.AuthFailed, s.RateLimited, s.NotFound)
}

func (s *GatewaySnapshot) Tallies() map[string]Tally {
	return map[string]Tally{"": {
		Accepted:    s.Success,
		AuthFailed:  s.AuthFailed,
		RateLimited: s.RateLimited,
		NotFound:    s.NotFound,
	}}
}

func (s *GatewaySnapshot) AttributedTo(Category) types.SourceKind {
	return types.SourceMesh
}

// GatewayParser reads Istio/Envoy request counters by response code.
type GatewayParser struct{}

func (GatewayParser) Kind() types.SourceKind { return types.SourceMesh }

func (GatewayParser) Empty(at time.Time) Snapshot {
	return &GatewaySnapshot{At: at, ByCode: map[int]int64{}}
}

func (GatewayParser) Parse(samples []Sample, at time.Time) (Snapshot, error) {
	snap := &GatewaySnapshot{At: at, ByCode: map[int]int64{}}
	for _, s := range samples {
		switch s.Name {
		case MetricIstioRequests, MetricEnvoyUpstreamRq:
			code, err := strconv.Atoi(s.Label("response_code"))
			if err != nil {
				continue
			}
			n := toCount(s.Value)
			snap.ByCode[code] += n
			snap.classify(code, n)
		case MetricEnvoyDownstreamRqXX:
			// Only the 2xx class maps to a single outcome; the 4xx class
			// mixes auth failures, limits and misses and cannot be split.
			if s.Label("envoy_response_code_class") == "2" {
				snap.Success += toCount(s.Value)
			}
		}
	}
	return snap, nil
}

func (s *GatewaySnapshot) classify(code int, n int64) {
	switch {
	case code >= 200 && code < 300:
		s.Success += n
	case code == http.StatusUnauthorized:
		s.AuthFailed += n
	case code == http.StatusTooManyRequests:
		s.RateLimited += n
	case code == http.StatusNotFound:
		s.NotFound += n
	}
}
