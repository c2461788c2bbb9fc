package chitragupta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrCircuitOpen is returned when the provider's circuit breaker rejects
// the call before any attempt is made.
var ErrCircuitOpen = errors.New("provider circuit open")

// turnResult is the assembled outcome of one provider stream.
type turnResult struct {
	messageID  string
	text       strings.Builder
	thinking   strings.Builder
	toolCalls  []ContentPart
	usage      Usage
	stopReason StopReason
	cost       CostBreakdown
	tokensSent bool
}

// Prompt runs the reason-act-observe loop for one user message and returns
// the final assistant message. At most MaxTurns iterations; tool calls
// extend the loop, a plain response ends it. Cancellation of ctx aborts
// the loop with ErrAborted.
func (a *Agent) Prompt(ctx context.Context, message string) (Message, error) {
	a.mu.Lock()
	if a.disposed {
		a.mu.Unlock()
		return Message{}, ErrDisposed
	}
	provider := a.cfg.Provider
	if provider == nil {
		a.mu.Unlock()
		return Message{}, ErrNoProvider
	}
	maxTurns := a.cfg.MaxTurns
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.status = StatusRunning
	a.state.Streaming = true
	a.mu.Unlock()

	defer func() {
		cancel()
		a.mu.Lock()
		a.state.Streaming = false
		a.cancel = nil
		a.mu.Unlock()
	}()

	a.appendMessage(a.stamp(UserMessage(message)))

	var span Span
	if a.cfg.Tracer != nil {
		ctx, span = a.cfg.Tracer.Start(ctx, "agent.prompt",
			StringAttr("agent_id", a.id),
			StringAttr("purpose", a.purpose))
		defer span.End()
	}

	for turn := 1; turn <= maxTurns; turn++ {
		a.events.Emit(Event{Type: EventTurnStart, AgentID: a.id, Data: map[string]any{
			"turn": turn, "maxTurns": maxTurns,
		}})
		if a.cfg.Kaala != nil {
			a.cfg.Kaala.RecordHeartbeat(a.id)
		}

		// Splice pending steering as system-role messages.
		for _, text := range a.takeSteering() {
			a.appendMessage(a.stamp(SystemMessage(text)))
		}

		a.mu.Lock()
		msgs := buildContext(&a.state, 0)
		a.mu.Unlock()

		turnStart := time.Now()
		result, err := a.runStream(ctx, provider, msgs)
		if err != nil {
			if ctx.Err() != nil {
				a.setStatus(StatusAborted)
				return Message{}, fmt.Errorf("%w: %v", ErrAborted, ctx.Err())
			}
			a.setStatus(StatusErrored)
			if a.cfg.Kaala != nil {
				a.cfg.Kaala.MarkError(a.id, err)
			}
			if a.cfg.Autonomy != nil {
				a.cfg.Autonomy.RecordTurn(TurnMetric{Errored: true, Latency: time.Since(turnStart)})
			}
			if span != nil {
				span.Error(err)
			}
			return Message{}, err
		}

		assistant := a.assembleAssistant(result)
		a.appendMessage(assistant)
		a.mu.Lock()
		a.totalCost += result.cost.Total
		a.usage.Add(result.usage)
		a.mu.Unlock()
		if a.cfg.Autonomy != nil {
			a.cfg.Autonomy.Snapshot(a.Messages())
			a.cfg.Autonomy.RecordTurn(TurnMetric{Latency: time.Since(turnStart)})
		}

		if len(result.toolCalls) == 0 || result.stopReason != StopToolUse {
			a.events.Emit(Event{Type: EventTurnDone, AgentID: a.id, Data: map[string]any{"turn": turn}})
			a.setStatus(StatusCompleted)
			if a.cfg.Kaala != nil {
				a.cfg.Kaala.MarkCompleted(a.id)
			}
			return assistant, nil
		}

		// All tool results for this turn are appended before the next turn
		// starts, in call order.
		if err := a.executeToolCalls(ctx, result.toolCalls); err != nil {
			a.setStatus(StatusAborted)
			return Message{}, fmt.Errorf("%w: %v", ErrAborted, err)
		}
		a.events.Emit(Event{Type: EventTurnDone, AgentID: a.id, Data: map[string]any{
			"turn": turn, "reason": "tool_use",
		}})
	}

	// Max turns without a terminating turn: synthesize a final message.
	a.cfg.Logger.Warn("max turns reached", "agent", a.id, "max_turns", maxTurns)
	final := a.stamp(AssistantMessage("max turns reached"))
	a.appendMessage(final)
	a.setStatus(StatusCompleted)
	if a.cfg.Kaala != nil {
		a.cfg.Kaala.MarkCompleted(a.id)
	}
	return final, nil
}

// stamp fills the agent id on a freshly constructed message.
func (a *Agent) stamp(m Message) Message {
	m.AgentID = a.id
	return m
}

// appendMessage appends to state and writes through the recorder.
func (a *Agent) appendMessage(m Message) {
	a.mu.Lock()
	a.state.Messages = append(a.state.Messages, m)
	sessionID := a.state.SessionID
	recorder := a.cfg.Recorder
	a.mu.Unlock()
	if recorder != nil && sessionID != "" {
		if err := recorder.RecordTurn(sessionID, m); err != nil {
			a.cfg.Logger.Warn("session record failed", "agent", a.id, "error", err)
		}
	}
}

func (a *Agent) setStatus(s AgentStatus) {
	a.mu.Lock()
	// A terminal abort is sticky; a late completion must not mask it.
	if a.status != StatusAborted || s == StatusAborted {
		a.status = s
	}
	a.mu.Unlock()
}

// assembleAssistant converts a turn result into the assistant message:
// thinking part first, then text, then tool calls in arrival order.
func (a *Agent) assembleAssistant(r *turnResult) Message {
	var parts []ContentPart
	if r.thinking.Len() > 0 {
		parts = append(parts, ThinkingPart(r.thinking.String()))
	}
	if r.text.Len() > 0 {
		parts = append(parts, TextPart(r.text.String()))
	}
	parts = append(parts, r.toolCalls...)
	if len(parts) == 0 {
		parts = []ContentPart{TextPart("")}
	}
	a.mu.Lock()
	model := a.state.Model
	a.mu.Unlock()
	return Message{
		ID:        NewID(),
		Role:      RoleAssistant,
		AgentID:   a.id,
		Model:     model,
		Cost:      r.cost.Total,
		Timestamp: NowUnixMilli(),
		Parts:     parts,
	}
}

// runStream opens the provider stream and consumes it to completion,
// emitting stream:* events and enforcing the breaker/retry order: breaker
// allow, attempt, classify, retry decision, breaker record. Mid-stream
// errors are retried only while no tokens have been emitted, so consumers
// never see duplicate content.
func (a *Agent) runStream(ctx context.Context, provider StreamProvider, msgs []Message) (*turnResult, error) {
	var breaker *CircuitBreaker
	if a.cfg.Providers != nil {
		breaker = a.cfg.Providers.Breaker(provider.ID())
	}

	opts := RetryOptions{Provider: provider.ID(), Logger: a.cfg.Logger}
	if a.cfg.Autonomy != nil {
		opts = a.cfg.Autonomy.RetryOptions()
		if opts.Provider == "" {
			opts.Provider = provider.ID()
		}
		if opts.Logger == nil {
			opts.Logger = a.cfg.Logger
		}
	}
	opts.defaults()

	var lastErr error
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if breaker != nil && !breaker.AllowRequest() {
			return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, provider.ID())
		}

		result, err := a.consumeStream(ctx, provider, msgs)
		if err == nil {
			if breaker != nil {
				breaker.RecordSuccess()
			}
			return result, nil
		}
		if ctx.Err() != nil {
			// Cancellation is not a provider fault.
			return nil, ctx.Err()
		}
		if breaker != nil {
			breaker.RecordFailure()
		}
		lastErr = err

		c := Classify(err, provider.ID())
		if !c.Retryable || result.tokensSent || attempt >= opts.MaxRetries {
			return nil, AsProviderError(err, provider.ID())
		}

		delay := backoffDelay(opts.BaseDelay, opts.MaxDelay, attempt)
		if c.RetryAfter > delay {
			delay = c.RetryAfter
		}
		opts.Logger.Warn("retrying provider stream",
			"provider", provider.ID(), "kind", string(c.Kind),
			"attempt", attempt+1, "delay", delay)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, AsProviderError(lastErr, provider.ID())
}

// consumeStream drains one provider stream into a turnResult. Every event
// boundary is a suspension point: ctx cancellation wins the select.
func (a *Agent) consumeStream(ctx context.Context, provider StreamProvider, msgs []Message) (*turnResult, error) {
	a.mu.Lock()
	model := a.state.Model
	temperature := a.cfg.Temperature
	thinking := a.state.Thinking
	var tools []ToolDefinition
	if a.cfg.Tools != nil {
		tools = a.cfg.Tools.Definitions()
	}
	a.mu.Unlock()

	streamOpts := StreamOptions{
		Temperature:   temperature,
		DiscloseTools: len(tools) > 0,
		Tools:         tools,
	}
	if thinking != ThinkingNone && thinking != "" {
		streamOpts.Thinking = ThinkingBudget{Enabled: true, BudgetTokens: thinkingBudgetTokens(thinking)}
	}

	result := &turnResult{stopReason: StopEndTurn}
	stream, err := provider.Stream(ctx, model, msgs, streamOpts)
	if err != nil {
		return result, err
	}

	for {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case ev, ok := <-stream:
			if !ok {
				return result, nil
			}
			switch ev.Type {
			case StreamStart:
				result.messageID = ev.MessageID
				a.events.Emit(Event{Type: EventStreamStart, AgentID: a.id, Data: map[string]any{"messageId": ev.MessageID}})
			case StreamText:
				result.text.WriteString(ev.Text)
				result.tokensSent = true
				a.events.Emit(Event{Type: EventStreamText, AgentID: a.id, Data: map[string]any{"text": ev.Text}})
			case StreamThinking:
				result.thinking.WriteString(ev.Text)
				result.tokensSent = true
				a.events.Emit(Event{Type: EventStreamThinking, AgentID: a.id, Data: map[string]any{"text": ev.Text}})
			case StreamToolCall:
				result.toolCalls = append(result.toolCalls, ToolCallPart(ev.ToolCallID, ev.ToolName, ev.Args))
				a.events.Emit(Event{Type: EventStreamToolCall, AgentID: a.id, Data: map[string]any{
					"id": ev.ToolCallID, "name": ev.ToolName,
				}})
			case StreamUsage:
				result.usage = ev.Usage
				a.events.Emit(Event{Type: EventStreamUsage, AgentID: a.id, Data: map[string]any{
					"inputTokens": ev.Usage.InputTokens, "outputTokens": ev.Usage.OutputTokens,
				}})
			case StreamDone:
				result.stopReason = ev.StopReason
				if ev.Usage != (Usage{}) {
					result.usage = ev.Usage
				}
				result.cost = ev.Cost
				if result.cost.Total == 0 && a.cfg.Providers != nil {
					result.cost = a.cfg.Providers.CostFor(provider.ID(), model, result.usage)
				}
				a.events.Emit(Event{Type: EventStreamDone, AgentID: a.id, Data: map[string]any{
					"stopReason": string(ev.StopReason),
				}})
			case StreamError:
				a.events.Emit(Event{Type: EventStreamError, AgentID: a.id, Data: map[string]any{"error": ev.Err.Error()}})
				return result, ev.Err
			}
		}
	}
}

// thinkingBudgetTokens maps a thinking level to a token budget.
func thinkingBudgetTokens(level ThinkingLevel) int {
	switch level {
	case ThinkingLow:
		return 1024
	case ThinkingMedium:
		return 4096
	case ThinkingHigh:
		return 16384
	}
	return 0
}

// executeToolCalls runs each call in order, appending a tool_result message
// per call. Tool-side failures never propagate; only cancellation aborts.
func (a *Agent) executeToolCalls(ctx context.Context, calls []ContentPart) error {
	a.mu.Lock()
	tc := ToolContext{
		SessionID:  a.state.SessionID,
		AgentID:    a.id,
		WorkingDir: a.cfg.WorkingDir,
	}
	a.mu.Unlock()

	for _, call := range calls {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// Policy check before anything runs.
		if a.cfg.Policy != nil {
			if d := a.cfg.Policy.Check(call.ToolName, call.Args); !d.Allowed {
				te := &ToolError{Tool: call.ToolName, Kind: ToolPolicyDenied, Message: d.Reason}
				a.events.Emit(Event{Type: EventToolError, AgentID: a.id, Data: map[string]any{
					"tool": call.ToolName, "error": te.Error(),
				}})
				a.appendMessage(a.stamp(ToolResultMessage(call.ToolCallID, te.Error(), true)))
				continue
			}
		}

		// Autonomy may have disabled the tool after repeated failures.
		if a.cfg.Autonomy != nil && a.cfg.Autonomy.ToolDisabled(call.ToolName) {
			te := &ToolError{Tool: call.ToolName, Kind: ToolDisabled, Message: "temporarily disabled after repeated failures"}
			a.appendMessage(a.stamp(ToolResultMessage(call.ToolCallID, te.Error(), true)))
			continue
		}

		// Malformed argument JSON is a tool-level error, never a loop crash.
		if len(call.Args) > 0 && !json.Valid(call.Args) {
			te := &ToolError{Tool: call.ToolName, Kind: ToolMalformedArgs, Message: "arguments are not valid JSON"}
			a.events.Emit(Event{Type: EventStreamError, AgentID: a.id, Data: map[string]any{"error": te.Error()}})
			a.appendMessage(a.stamp(ToolResultMessage(call.ToolCallID, te.Error(), true)))
			continue
		}

		a.events.Emit(Event{Type: EventToolStart, AgentID: a.id, Data: map[string]any{
			"tool": call.ToolName, "id": call.ToolCallID,
		}})

		start := time.Now()
		var result ToolResult
		if a.cfg.Tools == nil {
			result = ToolResult{Content: "no tool executor configured", IsError: true}
		} else {
			var err error
			result, err = a.cfg.Tools.Execute(ctx, call.ToolName, call.Args, tc)
			if err != nil {
				result = ToolResult{Content: err.Error(), IsError: true}
			}
		}
		latency := time.Since(start)

		if a.cfg.Lokapala != nil {
			for _, f := range a.cfg.Lokapala.AfterToolExecution(call.ToolName, call.Args, result.Content, latency) {
				a.cfg.Logger.Info("tool finding", "tool", call.ToolName, "severity", f.Severity, "message", f.Message)
			}
		}
		if a.cfg.Autonomy != nil {
			a.cfg.Autonomy.RecordToolResult(call.ToolName, !result.IsError)
		}

		if result.IsError {
			a.events.Emit(Event{Type: EventToolError, AgentID: a.id, Data: map[string]any{
				"tool": call.ToolName, "error": result.Content, "latencyMs": latency.Milliseconds(),
			}})
		} else {
			a.events.Emit(Event{Type: EventToolDone, AgentID: a.id, Data: map[string]any{
				"tool": call.ToolName, "latencyMs": latency.Milliseconds(),
			}})
		}
		a.appendMessage(a.stamp(ToolResultMessage(call.ToolCallID, result.Content, result.IsError)))

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}
