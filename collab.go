package chitragupta

import (
	"encoding/json"
	"time"
)

// Optional collaborators of the agent loop. Each is a minimal interface; a
// nil field on AgentConfig disables the integration.

// PolicyDecision is the outcome of a policy check.
type PolicyDecision struct {
	Allowed bool
	Reason  string
}

// PolicyEngine vets tool calls before execution.
type PolicyEngine interface {
	Check(name string, args json.RawMessage) PolicyDecision
}

// Kaala tracks agent lifecycle for an external supervisor.
type Kaala interface {
	RegisterAgent(id, purpose string)
	RecordHeartbeat(id string)
	MarkCompleted(id string)
	MarkError(id string, err error)
}

// Finding is an observation produced by post-execution inspection.
type Finding struct {
	Severity string
	Message  string
}

// Lokapala inspects completed tool executions.
type Lokapala interface {
	AfterToolExecution(name string, args json.RawMessage, content string, latency time.Duration) []Finding
}

// TurnRecorder persists loop messages as session turns. The session package
// provides an implementation; a nil recorder disables persistence.
type TurnRecorder interface {
	RecordTurn(sessionID string, msg Message) error
}
