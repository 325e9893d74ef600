// Package resilience damps polling of telemetry sources that keep failing.
//
// Each source gets its own breaker. After FailureThreshold consecutive
// failures the breaker opens and fetches for that source are skipped (and
// reported as unavailable) until Timeout has passed; then a limited number of
// trial fetches decide whether to close it again.
package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/maasdash/trafficaudit/pkg/types"
)

// State represents the current state of a breaker.
type State int

const (
	// StateClosed lets fetches through normally.
	StateClosed State = iota
	// StateOpen skips fetches.
	StateOpen
	// StateHalfOpen lets a few trial fetches through.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned when a fetch is skipped because the breaker is open.
var ErrOpen = errors.New("circuit breaker is open")

// Config configures every breaker in a Set.
type Config struct {
	Enabled bool `yaml:"enabled"`
	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold int `yaml:"failure_threshold"`
	// SuccessThreshold is the number of half-open successes needed to close.
	SuccessThreshold int `yaml:"success_threshold"`
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration `yaml:"timeout"`
	// HalfOpenMaxRequests caps trial fetches while half-open.
	HalfOpenMaxRequests int `yaml:"half_open_max_requests"`
}

// DefaultConfig returns the defaults used for telemetry sources. Sources are
// polled every couple of seconds, so the breaker reopens probing quickly.
func DefaultConfig() Config {
	return Config{
		Enabled:             true,
		FailureThreshold:    3,
		SuccessThreshold:    1,
		Timeout:             15 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// StateChangeFunc is called after a breaker changes state.
type StateChangeFunc func(source types.SourceKind, from, to State)

// Breaker implements the circuit breaker pattern for one source.
type Breaker struct {
	mu              sync.Mutex
	source          types.SourceKind
	state           State
	failureCount    int
	successCount    int
	halfOpenCount   int
	lastFailureTime time.Time
	config          Config
	now             func() time.Time
	onStateChange   StateChangeFunc
}

// NewBreaker creates a closed breaker.
func NewBreaker(source types.SourceKind, cfg Config) *Breaker {
	return &Breaker{
		source: source,
		state:  StateClosed,
		config: cfg,
		now:    time.Now,
	}
}

// Allow reports whether a fetch may proceed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.config.Enabled {
		return true
	}

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.lastFailureTime) >= b.config.Timeout {
			b.transitionTo(StateHalfOpen)
			b.halfOpenCount = 1
			return true
		}
		return false
	case StateHalfOpen:
		if b.halfOpenCount < b.config.HalfOpenMaxRequests {
			b.halfOpenCount++
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess records a successful fetch.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failureCount = 0
	case StateHalfOpen:
		b.successCount++
		if b.successCount >= b.config.SuccessThreshold {
			b.transitionTo(StateClosed)
			b.failureCount = 0
			b.successCount = 0
		}
	}
}

// RecordFailure records a failed fetch.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailureTime = b.now()

	switch b.state {
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.config.FailureThreshold {
			b.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		b.transitionTo(StateOpen)
		b.successCount = 0
	}
}

// Do runs fn if the breaker allows it and records the outcome. It returns
// ErrOpen without calling fn when the breaker is open.
func (b *Breaker) Do(fn func() error) error {
	if !b.Allow() {
		return ErrOpen
	}
	if err := fn(); err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Source returns the source the breaker guards.
func (b *Breaker) Source() types.SourceKind {
	return b.source
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.transitionTo(StateClosed)
	b.failureCount = 0
	b.successCount = 0
	b.halfOpenCount = 0
}

func (b *Breaker) transitionTo(newState State) {
	if b.state == newState {
		return
	}
	oldState := b.state
	b.state = newState

	if b.onStateChange != nil {
		// Runs without the lock held.
		go b.onStateChange(b.source, oldState, newState)
	}
}

// Set holds one breaker per source.
type Set struct {
	mu       sync.Mutex
	config   Config
	breakers map[types.SourceKind]*Breaker
	onChange StateChangeFunc
}

// NewSet creates an empty set. onChange may be nil.
func NewSet(cfg Config, onChange StateChangeFunc) *Set {
	return &Set{
		config:   cfg,
		breakers: make(map[types.SourceKind]*Breaker),
		onChange: onChange,
	}
}

// For returns the breaker for source, creating it on first use.
func (s *Set) For(source types.SourceKind) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.breakers[source]
	if !ok {
		b = NewBreaker(source, s.config)
		b.onStateChange = s.onChange
		s.breakers[source] = b
	}
	return b
}

// States returns a copy of every breaker's state.
func (s *Set) States() map[types.SourceKind]State {
	s.mu.Lock()
	breakers := make([]*Breaker, 0, len(s.breakers))
	for _, b := range s.breakers {
		breakers = append(breakers, b)
	}
	s.mu.Unlock()

	out := make(map[types.SourceKind]State, len(breakers))
	for _, b := range breakers {
		out[b.Source()] = b.State()
	}
	return out
}
