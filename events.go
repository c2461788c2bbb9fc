package chitragupta

import "sync"

// EventType is the closed set of loop-observable event names.
type EventType string

const (
	EventTurnStart EventType = "turn:start"
	EventTurnDone  EventType = "turn:done"

	EventStreamStart    EventType = "stream:start"
	EventStreamText     EventType = "stream:text"
	EventStreamThinking EventType = "stream:thinking"
	EventStreamToolCall EventType = "stream:tool_call"
	EventStreamUsage    EventType = "stream:usage"
	EventStreamDone     EventType = "stream:done"
	EventStreamError    EventType = "stream:error"

	EventToolStart EventType = "tool:start"
	EventToolDone  EventType = "tool:done"
	EventToolError EventType = "tool:error"

	EventSubagentSpawn EventType = "subagent:spawn"
	EventSubagentDone  EventType = "subagent:done"
	EventSubagentError EventType = "subagent:error"
	EventSubagentEvent EventType = "subagent:event"

	EventAgentSteer        EventType = "agent:steer"
	EventAgentAbort        EventType = "agent:abort"
	EventAgentInputRequest EventType = "agent:input_request"
)

// Event is a fire-and-forget notification from the agent loop.
type Event struct {
	Type    EventType      `json:"type"`
	AgentID string         `json:"agent_id"`
	Time    int64          `json:"time"` // unix milliseconds
	Data    map[string]any `json:"data,omitempty"`
}

// EventBus fans events out to subscribers. Emission is synchronous and
// panic-safe; a misbehaving subscriber never takes down the loop.
type EventBus struct {
	mu   sync.RWMutex
	next int
	subs map[int]func(Event)
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[int]func(Event))}
}

// Subscribe registers cb and returns an unsubscribe function.
func (b *EventBus) Subscribe(cb func(Event)) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = cb
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Emit delivers ev to all subscribers.
func (b *EventBus) Emit(ev Event) {
	if ev.Time == 0 {
		ev.Time = NowUnixMilli()
	}
	b.mu.RLock()
	cbs := make([]func(Event), 0, len(b.subs))
	for _, cb := range b.subs {
		cbs = append(cbs, cb)
	}
	b.mu.RUnlock()
	for _, cb := range cbs {
		safeInvoke(cb, ev)
	}
}

func safeInvoke(cb func(Event), ev Event) {
	defer func() { recover() }()
	cb(ev)
}
