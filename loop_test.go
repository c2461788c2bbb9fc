package chitragupta

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// scriptProvider replays canned event streams, one per Stream call.
type scriptProvider struct {
	id string

	mu    sync.Mutex
	turns [][]StreamEvent
	calls int
}

func (p *scriptProvider) ID() string {
	if p.id == "" {
		return "script"
	}
	return p.id
}

func (p *scriptProvider) Stream(ctx context.Context, model string, msgs []Message, opts StreamOptions) (<-chan StreamEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls >= len(p.turns) {
		return nil, errors.New("script exhausted")
	}
	evs := p.turns[p.calls]
	p.calls++

	ch := make(chan StreamEvent, len(evs))
	for _, ev := range evs {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (p *scriptProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func textTurn(text string) []StreamEvent {
	return []StreamEvent{
		{Type: StreamStart, MessageID: NewID()},
		{Type: StreamText, Text: text},
		{Type: StreamDone, StopReason: StopEndTurn, Usage: Usage{InputTokens: 10, OutputTokens: 5}},
	}
}

func toolTurn(callID, name, args string) []StreamEvent {
	return []StreamEvent{
		{Type: StreamStart, MessageID: NewID()},
		{Type: StreamToolCall, ToolCallID: callID, ToolName: name, Args: json.RawMessage(args)},
		{Type: StreamDone, StopReason: StopToolUse, Usage: Usage{InputTokens: 10, OutputTokens: 5}},
	}
}

func errorTurn(err error) []StreamEvent {
	return []StreamEvent{
		{Type: StreamStart, MessageID: NewID()},
		{Type: StreamError, Err: err},
	}
}

func newTestAgent(t *testing.T, cfg AgentConfig) *Agent {
	t.Helper()
	if cfg.Purpose == "" {
		cfg.Purpose = "test"
	}
	return New(NewRegistry(), cfg)
}

func TestPromptSimpleResponse(t *testing.T) {
	provider := &scriptProvider{turns: [][]StreamEvent{textTurn("hello there")}}
	agent := newTestAgent(t, AgentConfig{Provider: provider, Model: "m1"})

	msg, err := agent.Prompt(context.Background(), "hi")
	if err != nil {
		t.Fatal(err)
	}
	if msg.Text() != "hello there" {
		t.Errorf("Text = %q, want %q", msg.Text(), "hello there")
	}
	if msg.Role != RoleAssistant || msg.Model != "m1" {
		t.Errorf("message = %+v, want assistant on m1", msg)
	}
	if agent.Status() != StatusCompleted {
		t.Errorf("status = %q, want completed", agent.Status())
	}

	history := agent.Messages()
	if len(history) != 2 {
		t.Fatalf("history len = %d, want user + assistant", len(history))
	}
	if history[0].Role != RoleUser || history[1].Role != RoleAssistant {
		t.Errorf("history roles = %v %v", history[0].Role, history[1].Role)
	}
}

func TestPromptNoProvider(t *testing.T) {
	agent := newTestAgent(t, AgentConfig{})
	_, err := agent.Prompt(context.Background(), "hi")
	if !errors.Is(err, ErrNoProvider) {
		t.Errorf("err = %v, want ErrNoProvider", err)
	}
}

func TestPromptToolRound(t *testing.T) {
	provider := &scriptProvider{turns: [][]StreamEvent{
		toolTurn("c1", "echo", `{"message":"ping"}`),
		textTurn("the tool said: echo: ping"),
	}}
	tools := NewToolExecutor()
	if err := tools.Register(echoTool()); err != nil {
		t.Fatal(err)
	}
	agent := newTestAgent(t, AgentConfig{Provider: provider, Tools: tools})

	msg, err := agent.Prompt(context.Background(), "use the tool")
	if err != nil {
		t.Fatal(err)
	}
	if msg.Text() != "the tool said: echo: ping" {
		t.Errorf("Text = %q", msg.Text())
	}

	// user, assistant(tool_call), tool_result, assistant(text)
	history := agent.Messages()
	if len(history) != 4 {
		t.Fatalf("history len = %d, want 4", len(history))
	}
	tr := history[2]
	if tr.Role != RoleToolResult {
		t.Fatalf("history[2].Role = %q, want tool_result", tr.Role)
	}
	if tr.Parts[0].ToolCallID != "c1" || tr.Parts[0].Content != "echo: ping" {
		t.Errorf("tool result part = %+v", tr.Parts[0])
	}
	if !ValidMessages(history) {
		t.Error("loop produced an invalid history")
	}
}

func TestPromptMaxTurns(t *testing.T) {
	// Every turn calls a tool; the loop must stop at MaxTurns.
	turns := make([][]StreamEvent, 5)
	for i := range turns {
		turns[i] = toolTurn("c", "probe", `{}`)
	}
	provider := &scriptProvider{turns: turns}
	tools := NewToolExecutor()
	err := tools.Register(ToolFunc{
		Def: ToolDefinition{Name: "probe", Description: "noop"},
		Fn: func(ctx context.Context, args json.RawMessage, tc ToolContext) (ToolResult, error) {
			return ToolResult{Content: "ok"}, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	agent := newTestAgent(t, AgentConfig{Provider: provider, Tools: tools, MaxTurns: 2})

	msg, err := agent.Prompt(context.Background(), "loop forever")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(msg.Text(), "max turns") {
		t.Errorf("Text = %q, want max-turns notice", msg.Text())
	}
	if provider.callCount() != 2 {
		t.Errorf("provider calls = %d, want 2", provider.callCount())
	}
}

func TestPromptRetriesTransientStreamError(t *testing.T) {
	provider := &scriptProvider{turns: [][]StreamEvent{
		errorTurn(&ProviderError{StatusCode: 500, Message: "internal"}),
		textTurn("recovered"),
	}}
	autonomy := NewAutonomy(AutonomyConfig{Retry: RetryOptions{
		MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond,
	}})
	agent := newTestAgent(t, AgentConfig{Provider: provider, Autonomy: autonomy})

	msg, err := agent.Prompt(context.Background(), "hi")
	if err != nil {
		t.Fatal(err)
	}
	if msg.Text() != "recovered" {
		t.Errorf("Text = %q, want recovered", msg.Text())
	}
	if provider.callCount() != 2 {
		t.Errorf("provider calls = %d, want 2", provider.callCount())
	}
}

func TestPromptFatalErrorNoRetry(t *testing.T) {
	provider := &scriptProvider{turns: [][]StreamEvent{
		errorTurn(&ProviderError{StatusCode: 401, Message: "bad key"}),
		textTurn("never reached"),
	}}
	agent := newTestAgent(t, AgentConfig{Provider: provider})

	_, err := agent.Prompt(context.Background(), "hi")
	if err == nil {
		t.Fatal("expected error")
	}
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Kind != ErrAuth {
		t.Errorf("err = %v, want auth ProviderError", err)
	}
	if provider.callCount() != 1 {
		t.Errorf("provider calls = %d, want 1 (auth never retries)", provider.callCount())
	}
	if agent.Status() != StatusErrored {
		t.Errorf("status = %q, want errored", agent.Status())
	}
}

func TestPromptNoRetryAfterTokensSent(t *testing.T) {
	provider := &scriptProvider{turns: [][]StreamEvent{
		{
			{Type: StreamStart, MessageID: NewID()},
			{Type: StreamText, Text: "partial answer"},
			{Type: StreamError, Err: &ProviderError{StatusCode: 500, Message: "died midway"}},
		},
		textTurn("never reached"),
	}}
	agent := newTestAgent(t, AgentConfig{Provider: provider})

	_, err := agent.Prompt(context.Background(), "hi")
	if err == nil {
		t.Fatal("expected error")
	}
	if provider.callCount() != 1 {
		t.Errorf("provider calls = %d, want 1 (no retry once tokens streamed)", provider.callCount())
	}
}

func TestPromptBreakerOpenRejects(t *testing.T) {
	providers := NewProviderRegistry()
	provider := &scriptProvider{turns: [][]StreamEvent{textTurn("unused")}}
	providers.Register(ProviderDefinition{ID: provider.ID(), Provider: provider})

	// Trip the breaker by hand.
	cb := providers.Breaker(provider.ID())
	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}

	agent := newTestAgent(t, AgentConfig{Provider: provider, Providers: providers})
	_, err := agent.Prompt(context.Background(), "hi")
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
	if provider.callCount() != 0 {
		t.Error("open breaker must reject before any provider call")
	}
}

func TestPromptSteeringSplice(t *testing.T) {
	provider := &scriptProvider{turns: [][]StreamEvent{
		toolTurn("c1", "probe", `{}`),
		textTurn("done"),
	}}
	tools := NewToolExecutor()
	err := tools.Register(ToolFunc{
		Def: ToolDefinition{Name: "probe", Description: "noop"},
		Fn: func(ctx context.Context, args json.RawMessage, tc ToolContext) (ToolResult, error) {
			return ToolResult{Content: "ok"}, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	agent := newTestAgent(t, AgentConfig{Provider: provider, Tools: tools})
	agent.Steer("stay concise")

	if _, err := agent.Prompt(context.Background(), "go"); err != nil {
		t.Fatal(err)
	}

	var spliced bool
	for _, m := range agent.Messages() {
		if m.Role == RoleSystem && m.Text() == "stay concise" {
			spliced = true
		}
	}
	if !spliced {
		t.Error("steering text not spliced as a system message")
	}
}

func TestPromptPolicyDenied(t *testing.T) {
	provider := &scriptProvider{turns: [][]StreamEvent{
		toolTurn("c1", "rmrf", `{}`),
		textTurn("understood"),
	}}
	agent := newTestAgent(t, AgentConfig{
		Provider: provider,
		Tools:    NewToolExecutor(),
		Policy:   denyAll{reason: "dangerous"},
	})

	if _, err := agent.Prompt(context.Background(), "go"); err != nil {
		t.Fatal(err)
	}

	history := agent.Messages()
	tr := history[2]
	if tr.Role != RoleToolResult || !tr.Parts[0].IsError {
		t.Fatalf("history[2] = %+v, want error tool_result", tr)
	}
	if !strings.Contains(tr.Parts[0].Content, "dangerous") {
		t.Errorf("denial reason missing from %q", tr.Parts[0].Content)
	}
}

type denyAll struct{ reason string }

func (d denyAll) Check(name string, args json.RawMessage) PolicyDecision {
	return PolicyDecision{Allowed: false, Reason: d.reason}
}

func TestPromptDisabledToolSkipped(t *testing.T) {
	provider := &scriptProvider{turns: [][]StreamEvent{
		toolTurn("c1", "flaky", `{}`),
		textTurn("noted"),
	}}
	autonomy := NewAutonomy(AutonomyConfig{ToolDisableThreshold: 1})
	autonomy.RecordToolResult("flaky", false) // pre-disabled
	executed := false
	tools := NewToolExecutor()
	err := tools.Register(ToolFunc{
		Def: ToolDefinition{Name: "flaky", Description: "fails a lot"},
		Fn: func(ctx context.Context, args json.RawMessage, tc ToolContext) (ToolResult, error) {
			executed = true
			return ToolResult{Content: "ok"}, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	agent := newTestAgent(t, AgentConfig{Provider: provider, Tools: tools, Autonomy: autonomy})

	if _, err := agent.Prompt(context.Background(), "go"); err != nil {
		t.Fatal(err)
	}
	if executed {
		t.Error("disabled tool must not execute")
	}
	tr := agent.Messages()[2]
	if !tr.Parts[0].IsError || !strings.Contains(tr.Parts[0].Content, "tool_disabled") {
		t.Errorf("tool result = %+v, want tool_disabled error", tr.Parts[0])
	}
}

func TestPromptMalformedToolArgs(t *testing.T) {
	provider := &scriptProvider{turns: [][]StreamEvent{
		toolTurn("c1", "echo", `{broken`),
		textTurn("noted"),
	}}
	tools := NewToolExecutor()
	if err := tools.Register(echoTool()); err != nil {
		t.Fatal(err)
	}
	agent := newTestAgent(t, AgentConfig{Provider: provider, Tools: tools})

	if _, err := agent.Prompt(context.Background(), "go"); err != nil {
		t.Fatal(err)
	}
	tr := agent.Messages()[2]
	if !tr.Parts[0].IsError || !strings.Contains(tr.Parts[0].Content, "tool_malformed_args") {
		t.Errorf("tool result = %+v, want malformed-args error", tr.Parts[0])
	}
}

func TestPromptAbort(t *testing.T) {
	started := make(chan struct{})
	provider := &blockingProvider{started: started}
	agent := newTestAgent(t, AgentConfig{Provider: provider})

	done := make(chan error, 1)
	go func() {
		_, err := agent.Prompt(context.Background(), "hi")
		done <- err
	}()

	<-started
	agent.Abort()

	select {
	case err := <-done:
		if !errors.Is(err, ErrAborted) {
			t.Errorf("err = %v, want ErrAborted", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("abort did not unblock the prompt")
	}
	if agent.Status() != StatusAborted {
		t.Errorf("status = %q, want aborted", agent.Status())
	}
}

// blockingProvider emits start then holds the stream open until ctx dies.
type blockingProvider struct {
	started chan struct{}
	once    sync.Once
}

func (p *blockingProvider) ID() string { return "blocking" }

func (p *blockingProvider) Stream(ctx context.Context, model string, msgs []Message, opts StreamOptions) (<-chan StreamEvent, error) {
	ch := make(chan StreamEvent, 1)
	ch <- StreamEvent{Type: StreamStart, MessageID: NewID()}
	p.once.Do(func() { close(p.started) })
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func TestPromptEventSequence(t *testing.T) {
	provider := &scriptProvider{turns: [][]StreamEvent{textTurn("hi")}}
	agent := newTestAgent(t, AgentConfig{Provider: provider})

	var types []EventType
	agent.Events().Subscribe(func(ev Event) { types = append(types, ev.Type) })

	if _, err := agent.Prompt(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}

	want := []EventType{EventTurnStart, EventStreamStart, EventStreamText, EventStreamDone, EventTurnDone}
	if len(types) != len(want) {
		t.Fatalf("events = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, types[i], want[i])
		}
	}
}

func TestPromptAccumulatesCost(t *testing.T) {
	providers := NewProviderRegistry()
	provider := &scriptProvider{turns: [][]StreamEvent{textTurn("hi")}}
	providers.Register(ProviderDefinition{
		ID:       provider.ID(),
		Provider: provider,
		Models: []ModelInfo{{
			ID: "m1", InputPrice: 1_000_000, OutputPrice: 1_000_000,
		}},
	})
	agent := newTestAgent(t, AgentConfig{Provider: provider, Providers: providers, Model: "m1"})

	msg, err := agent.Prompt(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	// 10 input + 5 output tokens at $1/token.
	if msg.Cost != 15 {
		t.Errorf("Cost = %v, want 15", msg.Cost)
	}
	if agent.TotalCost() != 15 {
		t.Errorf("TotalCost = %v, want 15", agent.TotalCost())
	}
}

func TestPromptRecordsTurns(t *testing.T) {
	rec := &memRecorder{}
	provider := &scriptProvider{turns: [][]StreamEvent{textTurn("hi")}}
	agent := newTestAgent(t, AgentConfig{Provider: provider, SessionID: "s1", Recorder: rec})

	if _, err := agent.Prompt(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}
	if got := rec.count("s1"); got != 2 {
		t.Errorf("recorded turns = %d, want 2 (user + assistant)", got)
	}
}

type memRecorder struct {
	mu    sync.Mutex
	turns map[string][]Message
}

func (r *memRecorder) RecordTurn(sessionID string, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.turns == nil {
		r.turns = make(map[string][]Message)
	}
	r.turns[sessionID] = append(r.turns[sessionID], msg)
	return nil
}

func (r *memRecorder) count(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.turns[sessionID])
}

func TestFollowUps(t *testing.T) {
	provider := &scriptProvider{turns: [][]StreamEvent{
		textTurn("first"),
		textTurn("second"),
	}}
	agent := newTestAgent(t, AgentConfig{Provider: provider})
	agent.FollowUp("one")
	agent.FollowUp("two")

	responses, err := agent.ProcessFollowUps(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(responses) != 2 {
		t.Fatalf("responses = %d, want 2", len(responses))
	}
	if responses[0].Text() != "first" || responses[1].Text() != "second" {
		t.Errorf("responses = %q, %q", responses[0].Text(), responses[1].Text())
	}
}
