package telemetry

import (
	"fmt"
	"time"

	"github.com/maasdash/trafficaudit/pkg/types"
)

// CombinedSnapshot merges the rate limiter and auth service readings into the
// single snapshot arbitration reconciles when the mesh source is silent.
type CombinedSnapshot struct {
	Counter *CounterSnapshot
	Auth    *AuthSnapshot
}

// Combine builds the rate limiter + auth snapshot. Either side may be nil.
func Combine(counter *CounterSnapshot, auth *AuthSnapshot) *CombinedSnapshot {
	return &CombinedSnapshot{Counter: counter, Auth: auth}
}

func (s *CombinedSnapshot) Kind() types.SourceKind { return types.SourceRateLimiter }

func (s *CombinedSnapshot) CapturedAt() time.Time {
	var at time.Time
	if s.Counter != nil {
		at = s.Counter.At
	}
	if s.Auth != nil && s.Auth.At.After(at) {
		at = s.Auth.At
	}
	return at
}

func (s *CombinedSnapshot) counterActive() bool {
	return s.Counter != nil && s.Counter.HasTraffic()
}

// authFailures returns the auth failures folded into the snapshot. Estimated
// auth counts are only used when no exact counter source has traffic.
func (s *CombinedSnapshot) authFailures() int64 {
	if s.Auth == nil {
		return 0
	}
	if s.counterActive() && s.Auth.Estimated() {
		return 0
	}
	return s.Auth.Failed
}

func (s *CombinedSnapshot) HasTraffic() bool {
	return s.counterActive() || (s.Auth != nil && s.Auth.HasTraffic())
}

func (s *CombinedSnapshot) Estimated() bool {
	return !s.counterActive() && s.Auth != nil && s.Auth.Estimated()
}

func (s *CombinedSnapshot) Fingerprint() string {
	var total, limited int64
	switch {
	case s.counterActive():
		total, limited = s.Counter.Total, s.Counter.Limited
	case s.Auth != nil:
		total = s.Auth.Attempts
	}
	return fmt.Sprintf("%d-%d-%d", total, limited, s.authFailures())
}

func (s *CombinedSnapshot) Tallies() map[string]Tally {
	if !s.counterActive() {
		if s.Auth == nil {
			return map[string]Tally{}
		}
		return s.Auth.Tallies()
	}
	out := s.Counter.Tallies()
	if failed := s.authFailures(); failed > 0 {
		t := out[""]
		t.AuthFailed += failed
		out[""] = t
	}
	return out
}

func (s *CombinedSnapshot) AttributedTo(c Category) types.SourceKind {
	if c == CategoryAuthFailed || !s.counterActive() {
		return types.SourceAuthService
	}
	return types.SourceRateLimiter
}
