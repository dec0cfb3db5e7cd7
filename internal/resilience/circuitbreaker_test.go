package resilience

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

var errBackend = errors.New("backend: 502 bad gateway")

// fakeClock is a manually advanced clock for breaker tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)}
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

func newTestBreaker(clock *fakeClock, maxFailures, halfOpenMax int) *CircuitBreaker {
	return NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:  maxFailures,
		ResetTimeout: 30 * time.Second,
		HalfOpenMax:  halfOpenMax,
		Now:          clock.Now,
	})
}

func failing(context.Context) error { return errBackend }
func passing(context.Context) error { return nil }

func trip(cb *CircuitBreaker, n int) {
	for range n {
		_ = cb.Execute(context.Background(), "create_flag", failing)
	}
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(CircuitBreakerConfig{})
	if cb.cfg.MaxFailures != 5 || cb.cfg.ResetTimeout != 30*time.Second || cb.cfg.HalfOpenMax != 3 {
		t.Errorf("cfg = %+v", cb.cfg)
	}
	if cb.cfg.Now == nil {
		t.Error("expected default clock")
	}
	if cb.Name() != "backend" {
		t.Errorf("Name = %q, want backend", cb.Name())
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_ClosedPassesErrorsThrough(t *testing.T) {
	t.Parallel()
	cb := newTestBreaker(newFakeClock(), 3, 1)
	if err := cb.Execute(context.Background(), "start_session", failing); !errors.Is(err, errBackend) {
		t.Fatalf("err = %v, want backend error", err)
	}
	snap := cb.Snapshot()
	if snap.State != StateClosed || snap.ConsecutiveFailures != 1 || !errors.Is(snap.LastError, errBackend) {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestCircuitBreaker_OpensAndFailsFast(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	cb := newTestBreaker(clock, 3, 1)
	trip(cb, 3)
	clock.Advance(10 * time.Second)

	called := false
	err := cb.Execute(context.Background(), "create_flag", func(context.Context) error {
		called = true
		return nil
	})
	if called {
		t.Error("fn must not run while open")
	}
	var open *OpenError
	if !errors.As(err, &open) || !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want *OpenError", err)
	}
	if open.Op != "create_flag" || open.Breaker != "backend" || open.RetryIn != 20*time.Second {
		t.Errorf("open error = %+v", open)
	}
	if !strings.Contains(err.Error(), "retry in 20s") {
		t.Errorf("message = %q", err)
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()
	cb := newTestBreaker(newFakeClock(), 3, 1)
	trip(cb, 2)
	_ = cb.Execute(context.Background(), "create_flag", passing)
	trip(cb, 2)
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_CancelledCallsDoNotCount(t *testing.T) {
	t.Parallel()
	cb := newTestBreaker(newFakeClock(), 1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.Execute(ctx, "end_session", func(ctx context.Context) error { return ctx.Err() })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if snap := cb.Snapshot(); snap.State != StateClosed || snap.ConsecutiveFailures != 0 {
		t.Errorf("snapshot = %+v, want untouched breaker", snap)
	}
}

func TestCircuitBreaker_HalfOpenAfterTimeout(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	cb := newTestBreaker(clock, 2, 2)
	trip(cb, 2)

	clock.Advance(29 * time.Second)
	if snap := cb.Snapshot(); snap.State != StateOpen || snap.RetryIn != time.Second {
		t.Fatalf("snapshot = %+v, want open with 1s left", snap)
	}
	clock.Advance(time.Second)
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open at timeout", cb.State())
	}
}

func TestCircuitBreaker_ProbesClose(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	cb := newTestBreaker(clock, 2, 2)
	trip(cb, 2)
	clock.Advance(30 * time.Second)

	for i := range 2 {
		if err := cb.Execute(context.Background(), "create_flag", passing); err != nil {
			t.Fatalf("probe %d: %v", i, err)
		}
	}
	snap := cb.Snapshot()
	if snap.State != StateClosed || snap.ConsecutiveFailures != 0 || snap.LastError != nil {
		t.Fatalf("snapshot = %+v, want clean closed breaker", snap)
	}
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	cb := newTestBreaker(clock, 2, 3)
	trip(cb, 2)
	clock.Advance(30 * time.Second)

	if err := cb.Execute(context.Background(), "create_flag", failing); !errors.Is(err, errBackend) {
		t.Fatalf("err = %v, want backend error", err)
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open after failed probe", cb.State())
	}
	if err := cb.Execute(context.Background(), "create_flag", passing); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_ProbeBudget(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	cb := newTestBreaker(clock, 1, 1)
	trip(cb, 1)
	clock.Advance(30 * time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = cb.Execute(context.Background(), "create_flag", func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := cb.Execute(context.Background(), "create_flag", passing)
	var open *OpenError
	if !errors.As(err, &open) || open.RetryIn != 0 {
		t.Errorf("second probe err = %v, want rejection while probe in flight", err)
	}
	close(release)
	<-done
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed after the probe succeeded", cb.State())
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
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
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
