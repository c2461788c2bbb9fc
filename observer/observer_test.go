package observer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/samskara-labs/chitragupta"
	"github.com/samskara-labs/chitragupta/marga"
	"github.com/samskara-labs/chitragupta/session"
)

// ---------------------------------------------------------------------------
// Mock implementations
// ---------------------------------------------------------------------------

// mockStreamProvider replays a scripted event sequence.
type mockStreamProvider struct {
	id     string
	events []chitragupta.StreamEvent
	err    error
}

func (m *mockStreamProvider) ID() string { return m.id }

func (m *mockStreamProvider) Stream(_ context.Context, _ string, _ []chitragupta.Message, _ chitragupta.StreamOptions) (<-chan chitragupta.StreamEvent, error) {
	if m.err != nil {
		return nil, m.err
	}
	ch := make(chan chitragupta.StreamEvent, len(m.events))
	for _, ev := range m.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

// mockTool for observer tests.
type mockTool struct {
	def    chitragupta.ToolDefinition
	result chitragupta.ToolResult
	err    error
}

func (m *mockTool) Definition() chitragupta.ToolDefinition { return m.def }
func (m *mockTool) Execute(_ context.Context, _ json.RawMessage, _ chitragupta.ToolContext) (chitragupta.ToolResult, error) {
	return m.result, m.err
}

// mockIndex records which operations were called.
type mockIndex struct {
	calls []string
	hits  []session.TurnHit
	err   error
}

func (m *mockIndex) Init(context.Context) error { m.calls = append(m.calls, "init"); return m.err }
func (m *mockIndex) SaveSession(context.Context, session.Meta) error {
	m.calls = append(m.calls, "save_session")
	return m.err
}
func (m *mockIndex) GetSession(context.Context, string) (session.Meta, bool, error) {
	m.calls = append(m.calls, "get_session")
	return session.Meta{ID: "s1"}, true, m.err
}
func (m *mockIndex) ListSessions(context.Context, string) ([]session.Meta, error) {
	m.calls = append(m.calls, "list_sessions")
	return nil, m.err
}
func (m *mockIndex) InsertTurn(context.Context, session.Turn) error {
	m.calls = append(m.calls, "insert_turn")
	return m.err
}
func (m *mockIndex) SearchTurns(context.Context, string, string, int) ([]session.TurnHit, error) {
	m.calls = append(m.calls, "search_turns")
	return m.hits, m.err
}
func (m *mockIndex) DeleteSession(context.Context, string) error {
	m.calls = append(m.calls, "delete_session")
	return m.err
}
func (m *mockIndex) SaveMemory(context.Context, session.MemoryEntry) error {
	m.calls = append(m.calls, "save_memory")
	return m.err
}
func (m *mockIndex) ListMemory(context.Context) ([]session.MemoryEntry, error) {
	m.calls = append(m.calls, "list_memory")
	return nil, m.err
}

// mockSink records saved decisions.
type mockSink struct {
	saved []marga.Decision
	err   error
}

func (m *mockSink) SaveDecision(_ context.Context, _ string, d marga.Decision) error {
	m.saved = append(m.saved, d)
	return m.err
}

// testInstruments creates a no-op Instruments using the global OTEL providers
// (which are no-ops by default). This is safe for testing delegation behavior
// without any real OTEL backend.
func testInstruments(t *testing.T) *Instruments {
	t.Helper()
	inst, err := newInstruments(nil)
	if err != nil {
		t.Fatalf("newInstruments: %v", err)
	}
	return inst
}

// ---------------------------------------------------------------------------
// ObservedStreamProvider tests
// ---------------------------------------------------------------------------

func TestObservedStreamProviderID(t *testing.T) {
	inner := &mockStreamProvider{id: "test-provider"}
	op := WrapStreamProvider(inner, testInstruments(t))

	got := op.ID()
	if got != "test-provider" {
		t.Errorf("ID() = %q, want %q", got, "test-provider")
	}
}

func TestObservedStreamProviderForwardsEvents(t *testing.T) {
	inner := &mockStreamProvider{id: "p", events: []chitragupta.StreamEvent{
		{Type: chitragupta.StreamStart, MessageID: "m1"},
		{Type: chitragupta.StreamText, Text: "hello"},
		{Type: chitragupta.StreamText, Text: " world"},
		{Type: chitragupta.StreamDone, StopReason: chitragupta.StopEndTurn,
			Usage: chitragupta.Usage{InputTokens: 8, OutputTokens: 2}},
	}}
	op := WrapStreamProvider(inner, testInstruments(t))

	ch, err := op.Stream(context.Background(), "m", nil, chitragupta.StreamOptions{})
	if err != nil {
		t.Fatalf("Stream returned unexpected error: %v", err)
	}

	var got []chitragupta.StreamEvent
	for ev := range ch {
		got = append(got, ev)
	}

	if len(got) != 4 {
		t.Fatalf("received %d events, want 4", len(got))
	}
	if got[0].Type != chitragupta.StreamStart {
		t.Errorf("first event type = %q, want %q", got[0].Type, chitragupta.StreamStart)
	}
	if got[1].Text != "hello" || got[2].Text != " world" {
		t.Errorf("text deltas = %q, %q, want hello, ' world'", got[1].Text, got[2].Text)
	}
	if got[3].Type != chitragupta.StreamDone {
		t.Errorf("last event type = %q, want %q", got[3].Type, chitragupta.StreamDone)
	}
	if got[3].Usage.InputTokens != 8 || got[3].Usage.OutputTokens != 2 {
		t.Errorf("done usage = %+v, want {8 2}", got[3].Usage)
	}
}

func TestObservedStreamProviderDialError(t *testing.T) {
	wantErr := errors.New("provider unavailable")
	inner := &mockStreamProvider{id: "p", err: wantErr}
	op := WrapStreamProvider(inner, testInstruments(t))

	_, err := op.Stream(context.Background(), "m", nil, chitragupta.StreamOptions{})
	if !errors.Is(err, wantErr) {
		t.Errorf("Stream error = %v, want %v", err, wantErr)
	}
}

func TestObservedStreamProviderWithTools(t *testing.T) {
	inner := &mockStreamProvider{id: "p", events: []chitragupta.StreamEvent{
		{Type: chitragupta.StreamStart},
		{Type: chitragupta.StreamDone, StopReason: chitragupta.StopToolUse},
	}}
	op := WrapStreamProvider(inner, testInstruments(t))

	opts := chitragupta.StreamOptions{
		DiscloseTools: true,
		Tools: []chitragupta.ToolDefinition{
			{Name: "search", Description: "web search"},
		},
	}
	ch, err := op.Stream(context.Background(), "m", nil, opts)
	if err != nil {
		t.Fatalf("Stream returned unexpected error: %v", err)
	}

	count := 0
	for range ch {
		count++
	}
	if count != 2 {
		t.Errorf("received %d events, want 2", count)
	}
}

func TestObservedStreamProviderErrorEvent(t *testing.T) {
	streamErr := errors.New("rate limited")
	inner := &mockStreamProvider{id: "p", events: []chitragupta.StreamEvent{
		{Type: chitragupta.StreamStart},
		{Type: chitragupta.StreamError, Err: streamErr},
	}}
	op := WrapStreamProvider(inner, testInstruments(t))

	ch, err := op.Stream(context.Background(), "m", nil, chitragupta.StreamOptions{})
	if err != nil {
		t.Fatalf("Stream returned unexpected error: %v", err)
	}

	var last chitragupta.StreamEvent
	for ev := range ch {
		last = ev
	}
	if last.Type != chitragupta.StreamError {
		t.Errorf("last event type = %q, want %q", last.Type, chitragupta.StreamError)
	}
	if !errors.Is(last.Err, streamErr) {
		t.Errorf("last event error = %v, want %v", last.Err, streamErr)
	}
}

// ---------------------------------------------------------------------------
// ObservedTool tests
// ---------------------------------------------------------------------------

func TestObservedToolDefinition(t *testing.T) {
	def := chitragupta.ToolDefinition{Name: "search", Description: "web search"}
	inner := &mockTool{def: def}
	ot := WrapTool(inner, testInstruments(t))

	got := ot.Definition()
	if got.Name != def.Name {
		t.Errorf("Definition().Name = %q, want %q", got.Name, def.Name)
	}
	if got.Description != def.Description {
		t.Errorf("Definition().Description = %q, want %q", got.Description, def.Description)
	}
}

func TestObservedToolExecute(t *testing.T) {
	want := chitragupta.ToolResult{Content: "result data"}
	inner := &mockTool{def: chitragupta.ToolDefinition{Name: "search"}, result: want}
	ot := WrapTool(inner, testInstruments(t))

	got, err := ot.Execute(context.Background(), json.RawMessage(`{"q":"test"}`), chitragupta.ToolContext{SessionID: "s1"})
	if err != nil {
		t.Fatalf("Execute returned unexpected error: %v", err)
	}
	if got.Content != want.Content {
		t.Errorf("Content = %q, want %q", got.Content, want.Content)
	}
	if got.IsError {
		t.Error("IsError = true, want false")
	}
}

func TestObservedToolExecuteToolError(t *testing.T) {
	inner := &mockTool{
		def:    chitragupta.ToolDefinition{Name: "search"},
		result: chitragupta.ToolResult{Content: "not found", IsError: true},
	}
	ot := WrapTool(inner, testInstruments(t))

	got, err := ot.Execute(context.Background(), json.RawMessage(`{}`), chitragupta.ToolContext{})
	if err != nil {
		t.Fatalf("Execute returned unexpected error: %v", err)
	}
	if !got.IsError {
		t.Error("IsError = false, want true")
	}
}

func TestObservedToolExecuteError(t *testing.T) {
	wantErr := errors.New("tool broken")
	inner := &mockTool{def: chitragupta.ToolDefinition{Name: "search"}, err: wantErr}
	ot := WrapTool(inner, testInstruments(t))

	_, err := ot.Execute(context.Background(), json.RawMessage(`{}`), chitragupta.ToolContext{})
	if !errors.Is(err, wantErr) {
		t.Errorf("Execute error = %v, want %v", err, wantErr)
	}
}

// ---------------------------------------------------------------------------
// ObservedIndex tests
// ---------------------------------------------------------------------------

func TestObservedIndexDelegates(t *testing.T) {
	inner := &mockIndex{hits: []session.TurnHit{{SessionID: "s1", TurnNumber: 1}}}
	oi := WrapIndex(inner, testInstruments(t))
	ctx := context.Background()

	if err := oi.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	meta, ok, err := oi.GetSession(ctx, "s1")
	if err != nil || !ok {
		t.Fatalf("GetSession = (%v, %v, %v)", meta, ok, err)
	}
	if meta.ID != "s1" {
		t.Errorf("GetSession meta.ID = %q, want %q", meta.ID, "s1")
	}
	hits, err := oi.SearchTurns(ctx, "query", "", 10)
	if err != nil {
		t.Fatalf("SearchTurns: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("SearchTurns returned %d hits, want 1", len(hits))
	}

	want := []string{"init", "get_session", "search_turns"}
	if len(inner.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", inner.calls, want)
	}
	for i, c := range want {
		if inner.calls[i] != c {
			t.Errorf("calls[%d] = %q, want %q", i, inner.calls[i], c)
		}
	}
}

func TestObservedIndexPropagatesError(t *testing.T) {
	wantErr := errors.New("index down")
	inner := &mockIndex{err: wantErr}
	oi := WrapIndex(inner, testInstruments(t))

	if err := oi.SaveSession(context.Background(), session.Meta{ID: "s1"}); !errors.Is(err, wantErr) {
		t.Errorf("SaveSession error = %v, want %v", err, wantErr)
	}
}

// ---------------------------------------------------------------------------
// ObservedSink tests
// ---------------------------------------------------------------------------

func TestObservedSinkDelegates(t *testing.T) {
	inner := &mockSink{}
	os := WrapSink(inner, testInstruments(t))

	d := marga.Decision{
		TaskType:   marga.TaskCodeGen,
		Resolution: marga.ResolveLLM,
		Complexity: marga.Medium,
		ProviderID: "anthropic",
		ModelID:    "claude-sonnet-4-5",
		Confidence: 0.9,
	}
	if err := os.SaveDecision(context.Background(), "s1", d); err != nil {
		t.Fatalf("SaveDecision: %v", err)
	}
	if len(inner.saved) != 1 {
		t.Fatalf("saved %d decisions, want 1", len(inner.saved))
	}
	if inner.saved[0].ModelID != "claude-sonnet-4-5" {
		t.Errorf("saved ModelID = %q, want %q", inner.saved[0].ModelID, "claude-sonnet-4-5")
	}
}

func TestObservedSinkPropagatesError(t *testing.T) {
	wantErr := errors.New("sink down")
	inner := &mockSink{err: wantErr}
	os := WrapSink(inner, testInstruments(t))

	if err := os.SaveDecision(context.Background(), "s1", marga.Decision{}); !errors.Is(err, wantErr) {
		t.Errorf("SaveDecision error = %v, want %v", err, wantErr)
	}
}

// ---------------------------------------------------------------------------
// Attribute conversion
// ---------------------------------------------------------------------------

func TestToOTELAttr(t *testing.T) {
	tests := []struct {
		attr chitragupta.SpanAttr
		want string
	}{
		{chitragupta.StringAttr("k", "v"), "v"},
		{chitragupta.IntAttr("k", 42), "42"},
		{chitragupta.BoolAttr("k", true), "true"},
		{chitragupta.Float64Attr("k", 1.5), "1.5"},
		{chitragupta.SpanAttr{Key: "k", Value: []int{1}}, "[1]"},
	}
	for _, tt := range tests {
		got := toOTELAttr(tt.attr)
		if got.Value.Emit() != tt.want {
			t.Errorf("toOTELAttr(%v).Value = %q, want %q", tt.attr, got.Value.Emit(), tt.want)
		}
	}
}
