package telemetry

import (
	"time"

	"github.com/maasdash/trafficaudit/pkg/types"
)

// Category is the policy outcome class a counted request falls into.
type Category int

const (
	CategoryAccepted Category = iota
	CategoryAuthFailed
	CategoryRateLimited
	CategoryNotFound
)

// Categories lists every category in synthesis order.
var Categories = []Category{CategoryAccepted, CategoryAuthFailed, CategoryRateLimited, CategoryNotFound}

func (c Category) String() string {
	switch c {
	case CategoryAccepted:
		return "accepted"
	case CategoryAuthFailed:
		return "auth_failed"
	case CategoryRateLimited:
		return "rate_limited"
	case CategoryNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Tally counts requests per category.
type Tally struct {
	Accepted    int64
	AuthFailed  int64
	RateLimited int64
	NotFound    int64
}

// Total is the number of classified requests.
func (t Tally) Total() int64 {
	return t.Accepted + t.AuthFailed + t.RateLimited + t.NotFound
}

// Get returns the count for one category.
func (t Tally) Get(c Category) int64 {
	switch c {
	case CategoryAccepted:
		return t.Accepted
	case CategoryAuthFailed:
		return t.AuthFailed
	case CategoryRateLimited:
		return t.RateLimited
	case CategoryNotFound:
		return t.NotFound
	default:
		return 0
	}
}

// Inc returns t with n added to category c.
func (t Tally) Inc(c Category, n int64) Tally {
	switch c {
	case CategoryAccepted:
		t.Accepted += n
	case CategoryAuthFailed:
		t.AuthFailed += n
	case CategoryRateLimited:
		t.RateLimited += n
	case CategoryNotFound:
		t.NotFound += n
	}
	return t
}

// Add returns the category-wise sum.
func (t Tally) Add(o Tally) Tally {
	return Tally{
		Accepted:    t.Accepted + o.Accepted,
		AuthFailed:  t.AuthFailed + o.AuthFailed,
		RateLimited: t.RateLimited + o.RateLimited,
		NotFound:    t.NotFound + o.NotFound,
	}
}

// Snapshot is one parsed, timestamped reading of a metrics source.
// Implementations are immutable once returned by a parser.
type Snapshot interface {
	Kind() types.SourceKind
	CapturedAt() time.Time
	// Fingerprint is a cheap summary of the salient counters; equal
	// fingerprints mean nothing worth reporting changed.
	Fingerprint() string
	// Tallies breaks counted requests down by team. The "" key holds
	// requests that cannot be attributed to a team.
	Tallies() map[string]Tally
	HasTraffic() bool
	// Estimated reports whether counts were derived from rates rather
	// than read from discrete counters.
	Estimated() bool
	// AttributedTo names the component synthesized records of the given
	// category are attributed to.
	AttributedTo(c Category) types.SourceKind
}

func sumTallies(tallies map[string]Tally) Tally {
	var total Tally
	for _, t := range tallies {
		total = total.Add(t)
	}
	return total
}

// Totals sums the tallies of every team in s.
func Totals(s Snapshot) Tally {
	return sumTallies(s.Tallies())
}
