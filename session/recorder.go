package session

import (
	"context"
	"sync"

	"github.com/samskara-labs/chitragupta"
)

// Recorder adapts the Store to the agent loop's TurnRecorder contract. An
// assistant message carrying tool calls is held until its tool results
// arrive, so one transcript turn shows the calls with their outcomes.
type Recorder struct {
	store *Store

	mu      sync.Mutex
	pending map[string]*pendingTurn // sessionID → held assistant turn
}

type pendingTurn struct {
	msg     TranscriptMessage
	awaited map[string]int // tool call id → index into msg.ToolCalls
}

var _ chitragupta.TurnRecorder = (*Recorder)(nil)

// NewRecorder wraps a store as a turn recorder.
func NewRecorder(store *Store) *Recorder {
	return &Recorder{store: store, pending: make(map[string]*pendingTurn)}
}

// RecordTurn persists one loop message. System messages are not part of
// the transcript and are dropped.
func (r *Recorder) RecordTurn(sessionID string, msg chitragupta.Message) error {
	switch msg.Role {
	case chitragupta.RoleUser:
		if err := r.Flush(sessionID); err != nil {
			return err
		}
		return r.store.AppendTurn(context.Background(), sessionID, TranscriptMessage{
			Role:    "user",
			Content: msg.Text(),
		})
	case chitragupta.RoleAssistant:
		if err := r.Flush(sessionID); err != nil {
			return err
		}
		tm := TranscriptMessage{
			Role:    "assistant",
			Content: msg.Text(),
			Agent:   msg.AgentID,
			Model:   msg.Model,
			Cost:    msg.Cost,
		}
		calls := msg.ToolCalls()
		if len(calls) == 0 {
			return r.store.AppendTurn(context.Background(), sessionID, tm)
		}
		p := &pendingTurn{msg: tm, awaited: make(map[string]int, len(calls))}
		for i, c := range calls {
			p.msg.ToolCalls = append(p.msg.ToolCalls, ToolCallRecord{Name: c.ToolName, Input: c.Args})
			p.awaited[c.ToolCallID] = i
		}
		r.mu.Lock()
		r.pending[sessionID] = p
		r.mu.Unlock()
		return nil
	case chitragupta.RoleToolResult:
		r.mu.Lock()
		p := r.pending[sessionID]
		done := false
		if p != nil {
			for _, part := range msg.Parts {
				if part.Type != chitragupta.PartToolResult {
					continue
				}
				if i, ok := p.awaited[part.ToolCallID]; ok {
					p.msg.ToolCalls[i].Result = part.Content
					p.msg.ToolCalls[i].IsError = part.IsError
					delete(p.awaited, part.ToolCallID)
				}
			}
			done = len(p.awaited) == 0
		}
		r.mu.Unlock()
		if done {
			return r.Flush(sessionID)
		}
		return nil
	default:
		return nil
	}
}

// Flush writes any held assistant turn for the session, recording missing
// tool results as-is. Call after a prompt completes or aborts.
func (r *Recorder) Flush(sessionID string) error {
	r.mu.Lock()
	p := r.pending[sessionID]
	delete(r.pending, sessionID)
	r.mu.Unlock()
	if p == nil {
		return nil
	}
	return r.store.AppendTurn(context.Background(), sessionID, p.msg)
}
