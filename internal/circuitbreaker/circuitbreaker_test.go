package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/felipepmaragno/ai-router/internal/domain"
)

func testConfig() Config {
	return Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          50 * time.Millisecond,
	}
}

func TestInMemory_StartsClosed(t *testing.T) {
	cb := NewInMemory(testConfig())
	ctx := context.Background()

	if got := cb.State(ctx); got != StateClosed {
		t.Errorf("expected closed, got %s", got)
	}
	if err := cb.Allow(ctx); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestInMemory_OpensAfterThreshold(t *testing.T) {
	cb := NewInMemory(testConfig())
	ctx := context.Background()

	cb.RecordFailure(ctx)
	cb.RecordFailure(ctx)
	if got := cb.State(ctx); got != StateClosed {
		t.Fatalf("expected closed below threshold, got %s", got)
	}

	cb.RecordFailure(ctx)
	if got := cb.State(ctx); got != StateOpen {
		t.Fatalf("expected open, got %s", got)
	}
	if err := cb.Allow(ctx); !errors.Is(err, domain.ErrCircuitBreakerOpen) {
		t.Errorf("expected ErrCircuitBreakerOpen, got %v", err)
	}
}

func TestInMemory_SuccessResetsFailureCount(t *testing.T) {
	cb := NewInMemory(testConfig())
	ctx := context.Background()

	cb.RecordFailure(ctx)
	cb.RecordFailure(ctx)
	cb.RecordSuccess(ctx)
	cb.RecordFailure(ctx)
	cb.RecordFailure(ctx)

	if got := cb.State(ctx); got != StateClosed {
		t.Errorf("expected closed after reset, got %s", got)
	}
}

func TestInMemory_HalfOpenAfterTimeout(t *testing.T) {
	cb := NewInMemory(testConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		cb.RecordFailure(ctx)
	}

	time.Sleep(60 * time.Millisecond)

	// First Allow after the timeout transitions to half-open.
	if err := cb.Allow(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := cb.State(ctx); got != StateHalfOpen {
		t.Errorf("expected half-open, got %s", got)
	}
}

func TestInMemory_ClosesAfterSuccessesInHalfOpen(t *testing.T) {
	cb := NewInMemory(testConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		cb.RecordFailure(ctx)
	}
	time.Sleep(60 * time.Millisecond)
	if err := cb.Allow(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cb.RecordSuccess(ctx)
	if got := cb.State(ctx); got != StateHalfOpen {
		t.Fatalf("expected half-open after one success, got %s", got)
	}

	cb.RecordSuccess(ctx)
	if got := cb.State(ctx); got != StateClosed {
		t.Errorf("expected closed, got %s", got)
	}
}

func TestInMemory_FailureInHalfOpenReopens(t *testing.T) {
	cb := NewInMemory(testConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		cb.RecordFailure(ctx)
	}
	time.Sleep(60 * time.Millisecond)
	if err := cb.Allow(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cb.RecordFailure(ctx)
	if got := cb.State(ctx); got != StateOpen {
		t.Errorf("expected open, got %s", got)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("State(%d).String() = %s, expected %s", tt.state, got, tt.expected)
		}
	}
}

func TestManager_ReturnsSameBreaker(t *testing.T) {
	m := NewManager(testConfig())

	cb1 := m.Get("dep-1")
	cb2 := m.Get("dep-1")
	if cb1 != cb2 {
		t.Error("expected the same breaker instance for one deployment")
	}

	other := m.Get("dep-2")
	if cb1 == other {
		t.Error("expected distinct breakers per deployment")
	}
}

func TestManager_States(t *testing.T) {
	m := NewManager(testConfig())
	ctx := context.Background()

	m.Get("dep-1")
	cb := m.Get("dep-2")
	for i := 0; i < 3; i++ {
		cb.RecordFailure(ctx)
	}

	states := m.States()
	if states["dep-1"] != "closed" {
		t.Errorf("expected dep-1 closed, got %s", states["dep-1"])
	}
	if states["dep-2"] != "open" {
		t.Errorf("expected dep-2 open, got %s", states["dep-2"])
	}
}
