package telemetry

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/maasdash/trafficaudit/pkg/types"
)

// Auth service series.
const (
	MetricAuthResponseStatus = "auth_server_authconfig_response_status"
	MetricAuthTotal          = "auth_server_authconfig_total"
	// rateMarker identifies recording-rule style rate series such as
	// "authorino:http_requests:rate5m".
	rateMarker = ":rate"
)

// DefaultRateWindow is the window a request rate is multiplied by when the
// auth service only exposes a rate.
const DefaultRateWindow = 5 * time.Minute

// AuthSnapshot is a reading of the auth service's attempt counters.
type AuthSnapshot struct {
	At           time.Time
	Attempts     int64
	Successes    int64
	Failed       int64
	SuccessRatio float64
	// RatePerSecond is set when counts were estimated from a rate.
	RatePerSecond float64
	IsEstimated   bool
}

func (s *AuthSnapshot) Kind() types.SourceKind { return types.SourceAuthService }
func (s *AuthSnapshot) CapturedAt() time.Time  { return s.At }
func (s *AuthSnapshot) HasTraffic() bool       { return s.Attempts > 0 }
func (s *AuthSnapshot) Estimated() bool        { return s.IsEstimated }

func (s *AuthSnapshot) Fingerprint() string {
	return fmt.Sprintf("%d-0-%d", s.Attempts, s.Failed)
}

func (s *AuthSnapshot) Tallies() map[string]Tally {
	return map[string]Tally{"": {Accepted: s.Successes, AuthFailed: s.Failed}}
}

func (s *AuthSnapshot) AttributedTo(Category) types.SourceKind {
	return types.SourceAuthService
}

// AuthParser reads Authorino auth counters, falling back to estimating counts
// from a request rate when discrete counters are absent.
type AuthParser struct {
	RateWindow time.Duration
}

func (AuthParser) Kind() types.SourceKind { return types.SourceAuthService }

func (AuthParser) Empty(at time.Time) Snapshot {
	return &AuthSnapshot{At: at}
}

func (p AuthParser) Parse(samples []Sample, at time.Time) (Snapshot, error) {
	snap := &AuthSnapshot{At: at}

	var (
		discrete                bool
		byStatusTotal, byStatus int64
		configTotal             int64
		hasConfigTotal          bool
		rateTotal, rateOK       float64
		rateLabelled, hasRate   bool
	)
	for _, s := range samples {
		switch {
		case s.Name == MetricAuthResponseStatus:
			discrete = true
			n := toCount(s.Value)
			byStatusTotal += n
			if successLabel(s) {
				byStatus += n
			}
		case s.Name == MetricAuthTotal:
			hasConfigTotal = true
			configTotal += toCount(s.Value)
		case strings.Contains(s.Name, rateMarker):
			hasRate = true
			if s.Value > 0 && !math.IsInf(s.Value, 0) {
				rateTotal += s.Value
				if hasOutcomeLabel(s) {
					rateLabelled = true
				}
				if successLabel(s) || !hasOutcomeLabel(s) {
					rateOK += s.Value
				}
			}
		}
	}

	switch {
	case discrete:
		snap.Attempts = byStatusTotal
		if hasConfigTotal && configTotal > snap.Attempts {
			snap.Attempts = configTotal
		}
		snap.Successes = byStatus
		snap.Failed = snap.Attempts - snap.Successes
	case hasConfigTotal:
		// Totals without outcomes: every attempt is assumed to succeed.
		snap.Attempts = configTotal
		snap.Successes = configTotal
	case hasRate:
		window := p.RateWindow
		if window <= 0 {
			window = DefaultRateWindow
		}
		ratio := 1.0
		if rateLabelled && rateTotal > 0 {
			ratio = rateOK / rateTotal
		}
		snap.IsEstimated = true
		snap.RatePerSecond = rateTotal
		snap.Attempts = toCount(rateTotal * window.Seconds())
		snap.Successes = toCount(float64(snap.Attempts) * ratio)
		snap.Failed = snap.Attempts - snap.Successes
		snap.SuccessRatio = ratio
		return snap, nil
	}

	if snap.Failed < 0 {
		snap.Failed = 0
	}
	if snap.Attempts > 0 {
		snap.SuccessRatio = float64(snap.Successes) / float64(snap.Attempts)
	}
	return snap, nil
}

func hasOutcomeLabel(s Sample) bool {
	return s.Label("code") != "" || s.Label("status") != ""
}

func successLabel(s Sample) bool {
	if status := s.Label("status"); status != "" {
		return strings.EqualFold(status, "OK")
	}
	return strings.HasPrefix(s.Label("code"), "2")
}
