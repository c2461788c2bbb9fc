package chitragupta

import "encoding/json"

// StreamEventType identifies the kind of provider stream event.
type StreamEventType string

const (
	// StreamStart opens the stream. Emitted exactly once, first.
	StreamStart StreamEventType = "start"
	// StreamText carries partial textual tokens. May repeat.
	StreamText StreamEventType = "text"
	// StreamThinking carries a partial reasoning trace.
	StreamThinking StreamEventType = "thinking"
	// StreamToolCall carries one complete tool call with full argument JSON.
	StreamToolCall StreamEventType = "tool_call"
	// StreamUsage carries cumulative token counts.
	StreamUsage StreamEventType = "usage"
	// StreamDone terminates the stream successfully. At most once, last.
	StreamDone StreamEventType = "done"
	// StreamError terminates the stream fatally.
	StreamError StreamEventType = "error"
)

// StopReason explains why a stream finished.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopToolUse      StopReason = "tool_use"
	StopMaxTokens    StopReason = "max_tokens"
	StopStopSequence StopReason = "stop_sequence"
)

// StreamEvent is one event on a provider stream. Exactly the fields for the
// given Type are set.
type StreamEvent struct {
	Type StreamEventType `json:"type"`

	// MessageID is set on start.
	MessageID string `json:"message_id,omitempty"`

	// Text carries the delta for text and thinking events.
	Text string `json:"text,omitempty"`

	// Tool call fields (tool_call). Args is a complete JSON document;
	// parsing is the consumer's concern.
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`

	// Usage is cumulative, set on usage and done.
	Usage Usage `json:"usage,omitempty"`

	// Terminal fields (done).
	StopReason StopReason    `json:"stop_reason,omitempty"`
	Cost       CostBreakdown `json:"cost,omitempty"`

	// Err is set on error events only.
	Err error `json:"-"`
}

// SyntheticDone returns a closed stream carrying exactly start and a
// zero-usage done event. Used by the skip-LLM path: the caller observes a
// normal stream shape without any provider call.
func SyntheticDone() <-chan StreamEvent {
	ch := make(chan StreamEvent, 2)
	ch <- StreamEvent{Type: StreamStart, MessageID: NewID()}
	ch <- StreamEvent{Type: StreamDone, StopReason: StopEndTurn, Cost: CostBreakdown{Currency: "USD"}}
	close(ch)
	return ch
}
