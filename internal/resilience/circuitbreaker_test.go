package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/maasdash/trafficaudit/pkg/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(cfg Config) (*Breaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := NewBreaker(types.SourceMesh, cfg)
	b.now = clock.Now
	return b, clock
}

func testConfig() Config {
	return Config{
		Enabled:             true,
		FailureThreshold:    3,
		SuccessThreshold:    2,
		Timeout:             10 * time.Second,
		HalfOpenMaxRequests: 2,
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("State.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(testConfig())

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess() // resets the streak
	b.RecordFailure()
	b.RecordFailure()
	if b.State() != StateClosed {
		t.Fatalf("State() = %v, want closed", b.State())
	}

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("State() = %v, want open", b.State())
	}
	if b.Allow() {
		t.Error("open breaker should not allow fetches")
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b, clock := newTestBreaker(testConfig())
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}

	clock.Advance(10 * time.Second)
	if !b.Allow() {
		t.Fatal("should allow a trial fetch after the timeout")
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("State() = %v, want half-open", b.State())
	}
	if !b.Allow() {
		t.Fatal("second trial fetch should be allowed")
	}
	if b.Allow() {
		t.Fatal("third trial fetch exceeds HalfOpenMaxRequests")
	}

	b.RecordSuccess()
	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Fatalf("State() = %v, want closed", b.State())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(testConfig())
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	clock.Advance(11 * time.Second)
	b.Allow()
	b.RecordFailure()

	if b.State() != StateOpen {
		t.Fatalf("State() = %v, want open", b.State())
	}
	if b.Allow() {
		t.Error("reopened breaker should wait a full timeout")
	}
}

func TestBreaker_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	b, _ := newTestBreaker(cfg)
	for i := 0; i < 10; i++ {
		b.RecordFailure()
	}
	if !b.Allow() {
		t.Error("disabled breaker should always allow")
	}
}

func TestBreaker_Do(t *testing.T) {
	b, _ := newTestBreaker(testConfig())
	boom := errors.New("boom")

	calls := 0
	for i := 0; i < 3; i++ {
		if err := b.Do(func() error { calls++; return boom }); !errors.Is(err, boom) {
			t.Fatalf("Do() = %v, want boom", err)
		}
	}
	if err := b.Do(func() error { calls++; return nil }); !errors.Is(err, ErrOpen) {
		t.Fatalf("Do() = %v, want ErrOpen", err)
	}
	if calls != 3 {
		t.Errorf("fn called %d times, want 3", calls)
	}
}

func TestBreaker_Reset(t *testing.T) {
	b, _ := newTestBreaker(testConfig())
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	b.Reset()
	if b.State() != StateClosed || !b.Allow() {
		t.Error("Reset() should close the breaker")
	}
}

func TestSet_PerSourceIsolationAndCallback(t *testing.T) {
	var mu sync.Mutex
	var changes []State
	done := make(chan struct{}, 1)
	set := NewSet(testConfig(), func(source types.SourceKind, from, to State) {
		mu.Lock()
		changes = append(changes, to)
		mu.Unlock()
		if source == types.SourceAuthService {
			done <- struct{}{}
		}
	})

	auth := set.For(types.SourceAuthService)
	if set.For(types.SourceAuthService) != auth {
		t.Fatal("For() should return the same breaker")
	}
	for i := 0; i < 3; i++ {
		auth.RecordFailure()
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("state change callback not called")
	}

	if set.For(types.SourceMesh).State() != StateClosed {
		t.Error("mesh breaker should be unaffected")
	}
	states := set.States()
	if states[types.SourceAuthService] != StateOpen {
		t.Errorf("auth state = %v, want open", states[types.SourceAuthService])
	}

	mu.Lock()
	defer mu.Unlock()
	if len(changes) != 1 || changes[0] != StateOpen {
		t.Errorf("changes = %v, want [open]", changes)
	}
}

func TestBreaker_Concurrent(t *testing.T) {
	b, _ := newTestBreaker(testConfig())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if b.Allow() {
				if i%2 == 0 {
					b.RecordSuccess()
				} else {
					b.RecordFailure()
				}
			}
		}(i)
	}
	wg.Wait()
	_ = b.State()
}
