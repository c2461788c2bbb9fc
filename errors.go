package chitragupta

import (
	"errors"
	"fmt"
	"time"
)

// --- Runtime sentinels ---

var (
	// ErrAborted is returned by Prompt when the agent was cancelled or
	// disposed mid-turn.
	ErrAborted = errors.New("agent aborted")
	// ErrNoProvider is returned by Prompt when no provider is configured.
	ErrNoProvider = errors.New("no provider configured")
	// ErrDepthExceeded is returned by Spawn when the child would exceed
	// MaxDepth.
	ErrDepthExceeded = errors.New("max agent depth exceeded")
	// ErrFanoutExceeded is returned by Spawn when the parent already has
	// MaxFanout children.
	ErrFanoutExceeded = errors.New("max agent fan-out exceeded")
	// ErrInputTimeout is returned by RequestInput when no response arrives
	// before the deadline and no default value was supplied.
	ErrInputTimeout = errors.New("input request timed out")
	// ErrInputDenied is returned by RequestInput when the resolver denied
	// the request.
	ErrInputDenied = errors.New("input request denied")
	// ErrDisposed is returned by operations on a disposed agent.
	ErrDisposed = errors.New("agent disposed")
)

// ProviderError is a classified error from an LLM provider call. It carries
// the provider id and the original cause so callers can both branch on Kind
// and log something a human can act on.
type ProviderError struct {
	Provider   string
	StatusCode int
	Kind       ErrorKind
	Message    string
	RetryAfter time.Duration
	Cause      error
}

func (e *ProviderError) Error() string {
	switch e.Kind {
	case ErrAuth:
		return fmt.Sprintf("authentication failed for %s, check API key: %s", e.Provider, e.Message)
	case ErrContextLength:
		return fmt.Sprintf("context length exceeded for %s, compact the conversation: %s", e.Provider, e.Message)
	case ErrRateLimit:
		return fmt.Sprintf("rate limited by %s, retry later: %s", e.Provider, e.Message)
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: http %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// Retryable reports whether the error kind is transient.
func (e *ProviderError) Retryable() bool {
	switch e.Kind {
	case ErrRateLimit, ErrNetwork, ErrTimeout, ErrServer, ErrOverloaded:
		return true
	}
	return false
}

// ToolErrorKind discriminates tool-side failures. Tool errors become
// tool_result messages with IsError set; they never crash the loop.
type ToolErrorKind string

const (
	ToolPolicyDenied    ToolErrorKind = "tool_policy_denied"
	ToolDisabled        ToolErrorKind = "tool_disabled"
	ToolMalformedArgs   ToolErrorKind = "tool_malformed_args"
	ToolExecutionFailed ToolErrorKind = "tool_execution_failed"
)

// ToolError describes a failed tool dispatch.
type ToolError struct {
	Tool    string
	Kind    ToolErrorKind
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s: %s: %s", e.Tool, e.Kind, e.Message)
}
