package chitragupta

import (
	"context"
	"time"
)

// InputOptions configures RequestInput.
type InputOptions struct {
	// Choices are suggested values. Empty means free-form input.
	Choices []string
	// DefaultValue resolves the request when the timeout fires.
	DefaultValue string
	// Timeout bounds the wait. Zero means wait until resolved or aborted.
	Timeout time.Duration
}

// inputResolution is what ResolveInput delivers to a parked waiter.
type inputResolution struct {
	value      string
	denied     bool
	denyReason string
}

// RequestInput emits agent:input_request, parks a waiter, and blocks until
// ResolveInput is called, the timeout fires, or ctx is cancelled. On
// timeout the default value resolves the request when present; otherwise
// ErrInputTimeout. Abort and Dispose reject all pending requests.
func (a *Agent) RequestInput(ctx context.Context, prompt string, opts InputOptions) (string, error) {
	requestID := NewID()
	ch := make(chan inputResolution, 1)

	a.mu.Lock()
	if a.disposed {
		a.mu.Unlock()
		return "", ErrDisposed
	}
	a.inputs[requestID] = ch
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		delete(a.inputs, requestID)
		a.mu.Unlock()
	}()

	a.events.Emit(Event{Type: EventAgentInputRequest, AgentID: a.id, Data: map[string]any{
		"requestId":    requestID,
		"agentId":      a.id,
		"prompt":       prompt,
		"choices":      opts.Choices,
		"defaultValue": opts.DefaultValue,
		"timeoutMs":    opts.Timeout.Milliseconds(),
	}})

	var timeout <-chan time.Time
	if opts.Timeout > 0 {
		timer := time.NewTimer(opts.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case res := <-ch:
		if res.denied {
			if res.denyReason != "" {
				return "", &ToolError{Kind: ToolPolicyDenied, Message: res.denyReason}
			}
			return "", ErrInputDenied
		}
		return res.value, nil
	case <-timeout:
		if opts.DefaultValue != "" {
			return opts.DefaultValue, nil
		}
		return "", ErrInputTimeout
	case <-ctx.Done():
		return "", ErrAborted
	}
}

// ResolveInput completes a pending input request. Returns false when no
// waiter with that id exists.
func (a *Agent) ResolveInput(requestID, value string, denied bool, denyReason string) bool {
	a.mu.Lock()
	ch, ok := a.inputs[requestID]
	if ok {
		delete(a.inputs, requestID)
	}
	a.mu.Unlock()
	if !ok {
		return false
	}
	ch <- inputResolution{value: value, denied: denied, denyReason: denyReason}
	return true
}

// rejectAllInputs denies every parked input waiter. Called on abort and
// dispose.
func (a *Agent) rejectAllInputs() {
	a.mu.Lock()
	pending := a.inputs
	a.inputs = make(map[string]chan inputResolution)
	a.mu.Unlock()
	for _, ch := range pending {
		ch <- inputResolution{denied: true, denyReason: "aborted"}
	}
}
