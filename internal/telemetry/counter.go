package telemetry

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/maasdash/trafficaudit/pkg/types"
)

// Rate limiter series.
const (
	MetricTotalCalls      = "total_calls"
	MetricAuthorizedCalls = "authorized_calls"
	MetricLimitedCalls    = "limited_calls"
	MetricLimiterUp       = "limitador_up"
)

// NamespaceCounters are the call counters of one rate limit namespace.
type NamespaceCounters struct {
	Total   int64
	Allowed int64
	Limited int64
}

// CounterSnapshot is a reading of the rate limiter's call counters.
type CounterSnapshot struct {
	At         time.Time
	Namespaces map[string]NamespaceCounters
	Total      int64
	Allowed    int64
	Limited    int64
	// Up is nil when the payload carried no liveness series.
	Up *bool
}

func (s *CounterSnapshot) Kind() types.SourceKind { return types.SourceRateLimiter }
func (s *CounterSnapshot) CapturedAt() time.Time  { return s.At }
func (s *CounterSnapshot) HasTraffic() bool       { return s.Total > 0 }
func (s *CounterSnapshot) Estimated() bool        { return false }

func (s *CounterSnapshot) Fingerprint() string {
	return fmt.Sprintf("%d-%d-0", s.Total, s.Limited)
}

func (s *CounterSnapshot) Tallies() map[string]Tally {
	out := make(map[string]Tally, len(s.Namespaces))
	for ns, c := range s.Namespaces {
		out[ns] = Tally{Accepted: c.Allowed, RateLimited: c.Limited}
	}
	return out
}

func (s *CounterSnapshot) AttributedTo(Category) types.SourceKind {
	return types.SourceRateLimiter
}

// CounterParser reads rate limiter (Limitador) call counters.
type CounterParser struct{}

func (CounterParser) Kind() types.SourceKind { return types.SourceRateLimiter }

func (CounterParser) Empty(at time.Time) Snapshot {
	return &CounterSnapshot{At: at, Namespaces: map[string]NamespaceCounters{}}
}

func (CounterParser) Parse(samples []Sample, at time.Time) (Snapshot, error) {
	type raw struct {
		total, authorized, limited int64
		hasTotal                   bool
	}
	byNS := make(map[string]*raw)
	get := func(ns string) *raw {
		r, ok := byNS[ns]
		if !ok {
			r = &raw{}
			byNS[ns] = r
		}
		return r
	}

	snap := &CounterSnapshot{At: at, Namespaces: map[string]NamespaceCounters{}}
	for _, s := range samples {
		switch {
		case s.Name == MetricLimiterUp:
			up := s.Value > 0
			if snap.Up != nil {
				up = up || *snap.Up
			}
			snap.Up = &up
		case strings.Contains(s.Name, MetricLimitedCalls):
			get(limiterNamespace(s)).limited += toCount(s.Value)
		case strings.Contains(s.Name, MetricAuthorizedCalls):
			get(limiterNamespace(s)).authorized += toCount(s.Value)
		case strings.Contains(s.Name, MetricTotalCalls):
			r := get(limiterNamespace(s))
			r.total += toCount(s.Value)
			r.hasTotal = true
		}
	}

	namespaces := make([]string, 0, len(byNS))
	for ns := range byNS {
		namespaces = append(namespaces, ns)
	}
	sort.Strings(namespaces)

	for _, ns := range namespaces {
		r := byNS[ns]
		total := r.total
		if !r.hasTotal {
			total = r.authorized + r.limited
		}
		allowed := total - r.limited
		if allowed < 0 {
			allowed = 0
		}
		snap.Namespaces[ns] = NamespaceCounters{Total: total, Allowed: allowed, Limited: r.limited}
		snap.Total += total
		snap.Allowed += allowed
		snap.Limited += r.limited
	}
	return snap, nil
}

// limiterNamespace returns the Kubernetes namespace a limit counter belongs to.
// Limitador namespaces look like "<k8s-namespace>/<policy>".
func limiterNamespace(s Sample) string {
	ns := s.Label("limitador_namespace")
	if ns == "" {
		ns = s.Label("namespace")
	}
	if i := strings.Index(ns, "/"); i >= 0 {
		ns = ns[:i]
	}
	return ns
}
