// Package resilience keeps a failing review backend from stalling the monitor.
//
// [CircuitBreaker] guards every backend call. After a run of consecutive
// failures it opens and rejects calls immediately, so a dead backend costs one
// fast failure per flag instead of a full request timeout. Once the reset
// timeout has passed, a few probe calls decide whether it closes again.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen matches every rejection issued by an open breaker.
var ErrCircuitOpen = errors.New("circuit open")

// OpenError is returned by [CircuitBreaker.Execute] when a call is rejected
// without being attempted.
type OpenError struct {
	Breaker string
	Op      string
	// RetryIn is the time left until probes are admitted. Zero while probes
	// are already in flight.
	RetryIn time.Duration
}

func (e *OpenError) Error() string {
	if e.RetryIn > 0 {
		return fmt.Sprintf("%s: %s rejected: %s (retry in %s)", e.Breaker, e.Op, ErrCircuitOpen, e.RetryIn.Round(time.Second))
	}
	return fmt.Sprintf("%s: %s rejected: %s (probe in flight)", e.Breaker, e.Op, ErrCircuitOpen)
}

func (e *OpenError) Unwrap() error { return ErrCircuitOpen }

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota
	// StateOpen rejects calls until the reset timeout elapses.
	StateOpen
	// StateHalfOpen admits a limited number of probe calls.
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

// CircuitBreakerConfig tunes a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels the guarded dependency in logs and errors. Default: "backend".
	Name string

	// MaxFailures is the run of consecutive failed calls that opens the
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of successful probes needed to close again,
	// and the number admitted concurrently. Default: 3.
	HalfOpenMax int

	// Now is the clock. Default: time.Now.
	Now func() time.Time
}

// Snapshot is a point-in-time view of a breaker for readiness reporting.
type Snapshot struct {
	State               State
	ConsecutiveFailures int
	LastError           error
	// RetryIn is set while open and counts down to the first probe.
	RetryIn time.Duration
}

// CircuitBreaker guards calls to one backend.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	lastErr   error
	probes    int
	successes int
}

// NewCircuitBreaker returns a closed breaker. Zero fields of cfg take their
// defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.Name == "" {
		cfg.Name = "backend"
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{cfg: cfg}
}

// Name returns the label of the guarded dependency.
func (cb *CircuitBreaker) Name() string {
	return cb.cfg.Name
}

// Execute runs fn for the backend operation op unless the breaker rejects it
// with an [*OpenError]. fn's error is returned unchanged.
//
// A call that ends because ctx was cancelled says nothing about the backend:
// it counts as neither success nor failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, op string, fn func(context.Context) error) error {
	probe, err := cb.admit(op)
	if err != nil {
		return err
	}

	err = fn(ctx)

	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch {
	case err != nil && ctx.Err() != nil:
		if probe {
			cb.probes--
		}
	case err != nil:
		cb.fail(op, err, probe)
	default:
		cb.succeed(op, probe)
	}
	return err
}

// admit decides whether a call may proceed and whether it is a probe.
func (cb *CircuitBreaker) admit(op string) (bool, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		wait := cb.cfg.ResetTimeout - cb.cfg.Now().Sub(cb.openedAt)
		if wait > 0 {
			return false, &OpenError{Breaker: cb.cfg.Name, Op: op, RetryIn: wait}
		}
		cb.state = StateHalfOpen
		cb.probes, cb.successes = 0, 0
		slog.Info("backend circuit half-open, probing", "breaker", cb.cfg.Name, "op", op)
	}
	if cb.state == StateHalfOpen {
		if cb.probes >= cb.cfg.HalfOpenMax {
			return false, &OpenError{Breaker: cb.cfg.Name, Op: op}
		}
		cb.probes++
		return true, nil
	}
	return false, nil
}

// fail records a failed call. cb.mu must be held.
func (cb *CircuitBreaker) fail(op string, err error, probe bool) {
	cb.lastErr = err
	cb.failures++
	if probe {
		cb.trip(op, "probe failed")
		return
	}
	if cb.state == StateClosed && cb.failures >= cb.cfg.MaxFailures {
		cb.trip(op, "too many consecutive failures")
	}
}

func (cb *CircuitBreaker) trip(op, why string) {
	cb.state = StateOpen
	cb.openedAt = cb.cfg.Now()
	slog.Warn("backend circuit opened",
		"breaker", cb.cfg.Name,
		"op", op,
		"reason", why,
		"consecutive_failures", cb.failures,
		"retry_in", cb.cfg.ResetTimeout,
		"err", cb.lastErr,
	)
}

// succeed records a successful call. cb.mu must be held.
func (cb *CircuitBreaker) succeed(op string, probe bool) {
	if !probe {
		if cb.state == StateClosed {
			cb.failures = 0
		}
		return
	}
	cb.successes++
	if cb.successes >= cb.cfg.HalfOpenMax {
		cb.state = StateClosed
		cb.failures, cb.probes, cb.successes = 0, 0, 0
		cb.lastErr = nil
		slog.Info("backend circuit closed", "breaker", cb.cfg.Name, "op", op)
	}
}

// State returns the current state. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// call.
func (cb *CircuitBreaker) State() State {
	return cb.Snapshot().State
}

// Snapshot returns the breaker's state together with its failure history.
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s := Snapshot{State: cb.state, ConsecutiveFailures: cb.failures, LastError: cb.lastErr}
	if cb.state == StateOpen {
		if wait := cb.cfg.ResetTimeout - cb.cfg.Now().Sub(cb.openedAt); wait > 0 {
			s.RetryIn = wait
		} else {
			s.State = StateHalfOpen
		}
	}
	return s
}
