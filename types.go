package chitragupta

import "encoding/json"

// --- Domain types ---

// Role identifies the author of a Message.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleSystem     Role = "system"
	RoleToolResult Role = "tool_result"
)

// ThinkingLevel controls how much reasoning budget a provider call gets.
type ThinkingLevel string

const (
	ThinkingNone   ThinkingLevel = "none"
	ThinkingLow    ThinkingLevel = "low"
	ThinkingMedium ThinkingLevel = "medium"
	ThinkingHigh   ThinkingLevel = "high"
)

// PartType discriminates the ContentPart union.
type PartType string

const (
	PartText       PartType = "text"
	PartThinking   PartType = "thinking"
	PartToolCall   PartType = "tool_call"
	PartToolResult PartType = "tool_result"
	PartImage      PartType = "image"
)

// ContentPart is one element of a Message body. Exactly the fields for the
// given Type are set; the rest stay zero.
type ContentPart struct {
	Type PartType `json:"type"`

	// Text carries the content for text and thinking parts.
	Text string `json:"text,omitempty"`

	// Tool call fields (tool_call). ToolCallID doubles as the referenced
	// call id on tool_result parts.
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`

	// Tool result fields (tool_result).
	Content string `json:"content,omitempty"`
	IsError bool   `json:"is_error,omitempty"`

	// Image fields (image).
	ImageBase64 string `json:"image_base64,omitempty"`
	MediaType   string `json:"media_type,omitempty"`
}

// TextPart builds a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: PartText, Text: text}
}

// ThinkingPart builds a reasoning-trace content part.
func ThinkingPart(text string) ContentPart {
	return ContentPart{Type: PartThinking, Text: text}
}

// ToolCallPart builds a complete tool call part. args must be a complete
// JSON document; parsing is the consumer's concern.
func ToolCallPart(id, name string, args json.RawMessage) ContentPart {
	return ContentPart{Type: PartToolCall, ToolCallID: id, ToolName: name, Args: args}
}

// ToolResultPart builds a tool result part referencing an earlier call.
func ToolResultPart(callID, content string, isError bool) ContentPart {
	return ContentPart{Type: PartToolResult, ToolCallID: callID, Content: content, IsError: isError}
}

// ImagePart builds an inline image part.
func ImagePart(base64, mediaType string) ContentPart {
	return ContentPart{Type: PartImage, ImageBase64: base64, MediaType: mediaType}
}

// Message is one entry in an agent's conversation history.
type Message struct {
	ID        string        `json:"id"`
	Role      Role          `json:"role"`
	AgentID   string        `json:"agent_id,omitempty"`
	Model     string        `json:"model,omitempty"`
	Cost      float64       `json:"cost,omitempty"`
	Timestamp int64         `json:"timestamp"` // unix milliseconds
	Parts     []ContentPart `json:"parts"`
}

// Text concatenates all text parts of the message.
func (m Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if p.Type == PartText {
			out += p.Text
		}
	}
	return out
}

// ToolCalls returns the tool_call parts of the message, in order.
func (m Message) ToolCalls() []ContentPart {
	var calls []ContentPart
	for _, p := range m.Parts {
		if p.Type == PartToolCall {
			calls = append(calls, p)
		}
	}
	return calls
}

// --- Message constructors ---

func UserMessage(text string) Message {
	return Message{ID: NewID(), Role: RoleUser, Timestamp: NowUnixMilli(), Parts: []ContentPart{TextPart(text)}}
}

func SystemMessage(text string) Message {
	return Message{ID: NewID(), Role: RoleSystem, Timestamp: NowUnixMilli(), Parts: []ContentPart{TextPart(text)}}
}

func AssistantMessage(text string) Message {
	return Message{ID: NewID(), Role: RoleAssistant, Timestamp: NowUnixMilli(), Parts: []ContentPart{TextPart(text)}}
}

func ToolResultMessage(callID, content string, isError bool) Message {
	return Message{ID: NewID(), Role: RoleToolResult, Timestamp: NowUnixMilli(), Parts: []ContentPart{ToolResultPart(callID, content, isError)}}
}

// Usage holds cumulative token counts for a provider call.
type Usage struct {
	InputTokens      int `json:"input_tokens"`
	OutputTokens     int `json:"output_tokens"`
	CacheReadTokens  int `json:"cache_read_tokens,omitempty"`
	CacheWriteTokens int `json:"cache_write_tokens,omitempty"`
}

// Add accumulates o into u.
func (u *Usage) Add(o Usage) {
	u.InputTokens += o.InputTokens
	u.OutputTokens += o.OutputTokens
	u.CacheReadTokens += o.CacheReadTokens
	u.CacheWriteTokens += o.CacheWriteTokens
}

// CostBreakdown itemizes the USD cost of a call. Total is always the sum of
// the four components; pricing is per-million-tokens.
type CostBreakdown struct {
	Input      float64 `json:"input"`
	Output     float64 `json:"output"`
	CacheRead  float64 `json:"cache_read,omitempty"`
	CacheWrite float64 `json:"cache_write,omitempty"`
	Total      float64 `json:"total"`
	Currency   string  `json:"currency"`
}

// Sum recomputes Total from the components and returns the breakdown.
func (c CostBreakdown) Sum() CostBreakdown {
	c.Total = c.Input + c.Output + c.CacheRead + c.CacheWrite
	if c.Currency == "" {
		c.Currency = "USD"
	}
	return c
}

// AgentState is the mutable conversational state of one agent.
type AgentState struct {
	Messages     []Message     `json:"messages"`
	Model        string        `json:"model"`
	ProviderID   string        `json:"provider_id"`
	SystemPrompt string        `json:"system_prompt"`
	Thinking     ThinkingLevel `json:"thinking"`
	Streaming    bool          `json:"streaming"`
	SessionID    string        `json:"session_id"`
	ProfileID    string        `json:"profile_id,omitempty"`
}
