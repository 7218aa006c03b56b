package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

var errBackend = errors.New("backend unavailable")

// tripBreaker drives cb into the open state with n consecutive failures.
func tripBreaker(t *testing.T, cb *CircuitBreaker, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_ = cb.Execute(func() error { return errBackend })
	}
	if cb.State() != StateOpen {
		t.Fatalf("state after %d failures = %v, want open", n, cb.State())
	}
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "primary"})
	if cb.failureLimit != 5 {
		t.Errorf("failureLimit = %d, want 5", cb.failureLimit)
	}
	if cb.cooldown != 30*time.Second {
		t.Errorf("cooldown = %v, want 30s", cb.cooldown)
	}
	if cb.probeBudget != 3 {
		t.Errorf("probeBudget = %d, want 3", cb.probeBudget)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_ClosedForwardsCalls(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "primary", MaxFailures: 3})
	called := false
	if err := cb.Execute(func() error {
		called = true
		return nil
	}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !called {
		t.Fatal("fn was not called")
	}
}

func TestCircuitBreaker_OpensAtFailureLimit(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "primary",
		MaxFailures:  3,
		ResetTimeout: time.Hour,
	})
	tripBreaker(t, cb, 3)

	err := cb.Execute(func() error {
		t.Fatal("fn must not run while open")
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "primary", MaxFailures: 3})

	_ = cb.Execute(func() error { return errBackend })
	_ = cb.Execute(func() error { return errBackend })
	_ = cb.Execute(func() error { return nil })
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after a success", cb.State())
	}

	// The counter started over; two more failures are not enough.
	_ = cb.Execute(func() error { return errBackend })
	_ = cb.Execute(func() error { return errBackend })
	if cb.State() != StateClosed {
		t.Fatal("two failures after a success must not trip a limit of three")
	}
}

func TestCircuitBreaker_CanceledDoesNotTrip(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "primary",
		MaxFailures:  2,
		ResetTimeout: time.Hour,
	})

	for i := 0; i < 5; i++ {
		err := cb.Execute(func() error {
			return fmt.Errorf("complete: %w", context.Canceled)
		})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled passthrough", err)
		}
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after canceled calls", cb.State())
	}

	tripBreaker(t, cb, 2)
}

func TestCircuitBreaker_DeadlineExceededCounts(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "primary",
		MaxFailures:  2,
		ResetTimeout: time.Hour,
	})

	// A backend blowing the caller's budget is a health signal.
	_ = cb.Execute(func() error { return context.DeadlineExceeded })
	_ = cb.Execute(func() error { return context.DeadlineExceeded })
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open after deadline failures", cb.State())
	}
}

func TestCircuitBreaker_CooldownReportsHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "primary",
		MaxFailures:  2,
		ResetTimeout: 10 * time.Millisecond,
		HalfOpenMax:  2,
	})
	tripBreaker(t, cb, 2)

	time.Sleep(15 * time.Millisecond)
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open after cooldown", cb.State())
	}
}

func TestCircuitBreaker_ProbeSuccessesClose(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "primary",
		MaxFailures:  2,
		ResetTimeout: 10 * time.Millisecond,
		HalfOpenMax:  2,
	})
	tripBreaker(t, cb, 2)
	time.Sleep(15 * time.Millisecond)

	for i := 0; i < 2; i++ {
		if err := cb.Execute(func() error { return nil }); err != nil {
			t.Fatalf("probe %d: %v", i, err)
		}
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after successful probes", cb.State())
	}
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "primary",
		MaxFailures:  2,
		ResetTimeout: 10 * time.Millisecond,
		HalfOpenMax:  3,
	})
	tripBreaker(t, cb, 2)
	time.Sleep(15 * time.Millisecond)

	if err := cb.Execute(func() error { return errBackend }); !errors.Is(err, errBackend) {
		t.Fatalf("probe err = %v, want errBackend", err)
	}

	// Freshly re-opened: the cooldown restarts and calls are rejected again.
	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err after failed probe = %v, want ErrCircuitOpen", err)
	}
	cb.mu.Lock()
	s := cb.state
	cb.mu.Unlock()
	if s != StateOpen {
		t.Fatalf("stored state = %v, want open", s)
	}
}

func TestCircuitBreaker_CanceledProbeReturnsSlot(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "primary",
		MaxFailures:  2,
		ResetTimeout: 10 * time.Millisecond,
		HalfOpenMax:  1,
	})
	tripBreaker(t, cb, 2)
	time.Sleep(15 * time.Millisecond)

	// A canceled probe consumes none of the single-slot budget.
	_ = cb.Execute(func() error { return context.Canceled })

	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("probe after canceled call rejected: %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "primary",
		MaxFailures:  2,
		ResetTimeout: time.Hour,
	})
	tripBreaker(t, cb, 2)

	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after reset", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("Execute after reset: %v", err)
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
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
