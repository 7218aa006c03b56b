// Package resilience provides circuit breaker and provider failover primitives.
//
// The central type is [CircuitBreaker], a classic three-state breaker
// (closed → open → half-open) that protects callers from cascading failures.
// [FallbackGroup] composes multiple instances of any provider type with per-entry
// circuit breakers so that a failing primary is automatically bypassed in favour
// of healthy fallbacks. [LLMFallback] applies the group to model backends.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] when the breaker is in
// the open state and the cooldown has not yet elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the current operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards all calls; consecutive failures are counted.
	StateClosed State = iota

	// StateOpen rejects every call with [ErrCircuitOpen] until the cooldown
	// elapses.
	StateOpen

	// StateHalfOpen lets a bounded number of probe calls through. Enough
	// probe successes close the breaker; one probe failure re-opens it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
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

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name is a human-readable label used in log messages.
	Name string

	// MaxFailures is the number of consecutive failures in the closed state
	// before the breaker opens. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before probing again.
	// Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is both the probe budget for one half-open round and the
	// number of probe successes required to close. Default: 3.
	HalfOpenMax int
}

// CircuitBreaker implements the three-state circuit breaker pattern.
//
// Failures that carry [context.Canceled] do not count against the breaker:
// a caller hanging up mid-call says nothing about the backend's health.
// [context.DeadlineExceeded] does count — a backend that cannot meet the
// caller's budget should trip toward the fallbacks.
type CircuitBreaker struct {
	name         string
	failureLimit int
	cooldown     time.Duration
	probeBudget  int

	mu       sync.Mutex
	state    State
	failures int       // consecutive failures while closed
	openedAt time.Time // when the breaker last tripped
	probes   int       // probe slots taken this half-open round
	probeOK  int       // probes that completed successfully this round
}

// NewCircuitBreaker creates a [CircuitBreaker] with the supplied configuration.
// Zero-value config fields are replaced with the defaults above.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		failureLimit: cfg.MaxFailures,
		cooldown:     cfg.ResetTimeout,
		probeBudget:  cfg.HalfOpenMax,
	}
}

// Execute runs fn if the breaker admits the call, and settles the outcome
// into the state machine. In the open state it returns [ErrCircuitOpen]
// without calling fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.settle(probe, err)
	return err
}

// admit decides whether a call may proceed, moving an open breaker whose
// cooldown has elapsed into half-open first. probe reports whether the
// admitted call occupies a half-open probe slot.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if time.Since(cb.openedAt) < cb.cooldown {
			return false, ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.probes = 0
		cb.probeOK = 0
		slog.Info("circuit breaker probing", "breaker", cb.name)
	}

	if cb.state == StateHalfOpen {
		if cb.probes >= cb.probeBudget {
			return false, ErrCircuitOpen
		}
		cb.probes++
		return true, nil
	}
	return false, nil
}

// settle feeds one call outcome back into the state machine. A canceled call
// is no signal at all: it neither trips the breaker nor consumes the probe
// slot it was admitted on.
func (cb *CircuitBreaker) settle(probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch {
	case err == nil:
		if probe {
			cb.probeOK++
			if cb.probeOK >= cb.probeBudget {
				cb.state = StateClosed
				cb.failures = 0
				slog.Info("circuit breaker closed after successful probes",
					"breaker", cb.name)
			}
			return
		}
		cb.failures = 0

	case errors.Is(err, context.Canceled):
		if probe {
			cb.probes--
		}

	default:
		cb.trip(probe)
	}
}

// trip moves the breaker to open. Must be called with cb.mu held.
func (cb *CircuitBreaker) trip(probe bool) {
	if probe {
		cb.state = StateOpen
		cb.openedAt = time.Now()
		slog.Warn("circuit breaker re-opened by failed probe", "breaker", cb.name)
		return
	}
	cb.failures++
	if cb.state == StateClosed && cb.failures >= cb.failureLimit {
		cb.state = StateOpen
		cb.openedAt = time.Now()
		slog.Warn("circuit breaker opened",
			"breaker", cb.name,
			"consecutive_failures", cb.failures)
	}
}

// State returns the breaker's current [State]. An open breaker whose cooldown
// has elapsed reports [StateHalfOpen]; the stored state only moves on the
// next [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.cooldown {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker back to closed, clearing all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.probes = 0
	cb.probeOK = 0
	slog.Info("circuit breaker manually reset", "breaker", cb.name)
}
