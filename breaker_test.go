package chitragupta

import (
	"testing"
	"time"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("test", BreakerConfig{FailureThreshold: 5})
	for i := 0; i < 4; i++ {
		cb.RecordFailure()
	}
	if cb.State() != CircuitClosed {
		t.Fatalf("state = %q after 4 failures, want closed", cb.State())
	}
	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatalf("state = %q after 5 failures, want open", cb.State())
	}
	if cb.AllowRequest() {
		t.Error("open breaker must reject before cooldown")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker("test", BreakerConfig{FailureThreshold: 3})
	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != CircuitClosed {
		t.Errorf("state = %q, want closed (success resets the streak)", cb.State())
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker("test", BreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 2,
		Cooldown:         10 * time.Millisecond,
	})
	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatalf("state = %q, want open", cb.State())
	}

	time.Sleep(15 * time.Millisecond)
	if !cb.AllowRequest() {
		t.Fatal("cooldown elapsed, probe must be allowed")
	}
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("state = %q, want half-open", cb.State())
	}

	cb.RecordSuccess()
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("state = %q after 1 success, want half-open", cb.State())
	}
	cb.RecordSuccess()
	if cb.State() != CircuitClosed {
		t.Fatalf("state = %q after 2 successes, want closed", cb.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("test", BreakerConfig{
		FailureThreshold: 1,
		Cooldown:         5 * time.Millisecond,
	})
	cb.RecordFailure()
	time.Sleep(10 * time.Millisecond)
	if !cb.AllowRequest() {
		t.Fatal("probe must be allowed after cooldown")
	}
	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatalf("state = %q, want open (half-open failure reopens)", cb.State())
	}
	if cb.AllowRequest() {
		t.Error("reopened breaker must reject immediately")
	}
}

func TestBreakerStateChangeHook(t *testing.T) {
	changes := make(chan [2]string, 4)
	cb := NewCircuitBreaker("test", BreakerConfig{
		FailureThreshold: 1,
		OnStateChange: func(provider, from, to string) {
			changes <- [2]string{from, to}
		},
	})
	cb.RecordFailure()

	select {
	case ch := <-changes:
		if ch[0] != CircuitClosed || ch[1] != CircuitOpen {
			t.Errorf("transition %v, want closed->open", ch)
		}
	case <-time.After(time.Second):
		t.Fatal("state change hook never fired")
	}
}

func TestBreakerRegistry(t *testing.T) {
	r := NewBreakerRegistry(BreakerConfig{FailureThreshold: 1})
	a := r.Get("a")
	if r.Get("a") != a {
		t.Error("Get must return the same breaker per provider")
	}
	a.RecordFailure()
	r.Get("b").RecordSuccess()

	open := r.OpenCircuits()
	if len(open) != 1 || open[0] != "a" {
		t.Errorf("OpenCircuits = %v, want [a]", open)
	}
}
