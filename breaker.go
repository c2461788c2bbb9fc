package chitragupta

import (
	"sync"
	"time"
)

// Circuit breaker states.
const (
	CircuitClosed   = "closed"
	CircuitOpen     = "open"
	CircuitHalfOpen = "half-open"
)

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening
	// (default 5).
	FailureThreshold int
	// SuccessThreshold is the number of half-open successes to close
	// (default 2).
	SuccessThreshold int
	// Cooldown is how long the circuit stays open before the next
	// AllowRequest probes half-open (default 30s).
	Cooldown time.Duration
	// OnStateChange is called when the circuit state changes.
	OnStateChange func(provider, from, to string)
}

func (c *BreakerConfig) defaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
}

// CircuitBreaker tracks consecutive failures for one provider and trips
// open when the threshold is reached. After the cooldown, the first
// AllowRequest transitions to half-open; enough recorded successes close
// it again, any half-open failure re-opens it.
type CircuitBreaker struct {
	provider string
	config   BreakerConfig

	mu                  sync.Mutex
	state               string
	consecutiveFailures int
	halfOpenSuccesses   int
	openedAt            time.Time
}

// NewCircuitBreaker creates a closed breaker for the given provider id.
func NewCircuitBreaker(provider string, config BreakerConfig) *CircuitBreaker {
	config.defaults()
	return &CircuitBreaker{provider: provider, config: config, state: CircuitClosed}
}

// AllowRequest reports whether a call may proceed. It never blocks: in the
// open state it transitions to half-open once the cooldown has elapsed and
// allows that probe through.
func (cb *CircuitBreaker) AllowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed, CircuitHalfOpen:
		return true
	case CircuitOpen:
		if time.Since(cb.openedAt) >= cb.config.Cooldown {
			cb.transitionTo(CircuitHalfOpen)
			return true
		}
		return false
	}
	return true
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.consecutiveFailures = 0
	case CircuitHalfOpen:
		cb.halfOpenSuccesses++
		if cb.halfOpenSuccesses >= cb.config.SuccessThreshold {
			cb.transitionTo(CircuitClosed)
		}
	}
}

// RecordFailure records a failed call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.consecutiveFailures++
		if cb.consecutiveFailures >= cb.config.FailureThreshold {
			cb.transitionTo(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.transitionTo(CircuitOpen)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the breaker back to closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionTo(CircuitClosed)
}

// transitionTo changes state and resets counters. Caller holds cb.mu.
func (cb *CircuitBreaker) transitionTo(newState string) {
	oldState := cb.state
	cb.state = newState
	cb.consecutiveFailures = 0
	cb.halfOpenSuccesses = 0
	if newState == CircuitOpen {
		cb.openedAt = time.Now()
	}
	if cb.config.OnStateChange != nil && oldState != newState {
		// Async so a slow hook never blocks the caller's request path.
		go cb.config.OnStateChange(cb.provider, oldState, newState)
	}
}

// BreakerRegistry manages one breaker per provider id.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	defaults BreakerConfig
}

// NewBreakerRegistry creates a registry with shared default config.
func NewBreakerRegistry(defaults BreakerConfig) *BreakerRegistry {
	defaults.defaults()
	return &BreakerRegistry{breakers: make(map[string]*CircuitBreaker), defaults: defaults}
}

// Get returns the breaker for provider, creating it on first use.
func (r *BreakerRegistry) Get(provider string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[provider]
	if !ok {
		cb = NewCircuitBreaker(provider, r.defaults)
		r.breakers[provider] = cb
	}
	return cb
}

// OpenCircuits returns the provider ids whose breakers are currently open.
func (r *BreakerRegistry) OpenCircuits() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var open []string
	for id, cb := range r.breakers {
		if cb.State() == CircuitOpen {
			open = append(open, id)
		}
	}
	return open
}
