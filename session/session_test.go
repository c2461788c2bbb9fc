package session

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/samskara-labs/chitragupta"
)

// memIndex is an in-memory Index with naive token-count search.
type memIndex struct {
	mu       sync.Mutex
	sessions map[string]Meta
	turns    []Turn
	memory   []MemoryEntry
}

func newMemIndex() *memIndex {
	return &memIndex{sessions: make(map[string]Meta)}
}

func (m *memIndex) Init(ctx context.Context) error { return nil }

func (m *memIndex) SaveSession(ctx context.Context, meta Meta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[meta.ID] = meta
	return nil
}

func (m *memIndex) GetSession(ctx context.Context, id string) (Meta, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta, ok := m.sessions[id]
	return meta, ok, nil
}

func (m *memIndex) ListSessions(ctx context.Context, project string) ([]Meta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Meta
	for _, s := range m.sessions {
		if project == "" || s.Project == project {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memIndex) InsertTurn(ctx context.Context, t Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, t)
	return nil
}

func (m *memIndex) SearchTurns(ctx context.Context, match, project string, limit int) ([]TurnHit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tokens := strings.Fields(strings.ToLower(match))
	var hits []TurnHit
	for _, t := range m.turns {
		if project != "" {
			if s, ok := m.sessions[t.SessionID]; !ok || s.Project != project {
				continue
			}
		}
		content := strings.ToLower(t.Content)
		rank := 0.0
		for _, tok := range tokens {
			if strings.Contains(content, tok) {
				rank++
			}
		}
		if rank > 0 {
			hits = append(hits, TurnHit{SessionID: t.SessionID, TurnNumber: t.TurnNumber, Snippet: t.Content, Rank: rank})
		}
	}
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (m *memIndex) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	kept := m.turns[:0]
	for _, t := range m.turns {
		if t.SessionID != id {
			kept = append(kept, t)
		}
	}
	m.turns = kept
	return nil
}

func (m *memIndex) SaveMemory(ctx context.Context, e MemoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memory = append(m.memory, e)
	return nil
}

func (m *memIndex) ListMemory(ctx context.Context) ([]MemoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MemoryEntry(nil), m.memory...), nil
}

func (m *memIndex) turnCount(sessionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.turns {
		if t.SessionID == sessionID {
			n++
		}
	}
	return n
}

var testClock = func() time.Time {
	return time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
}

func newTestStore(t *testing.T) (*Store, *memIndex) {
	t.Helper()
	idx := newMemIndex()
	return NewStore(t.TempDir(), idx, WithClock(testClock)), idx
}

func TestProjectHash(t *testing.T) {
	h := ProjectHash("/home/dev/project")
	if len(h) != 8 {
		t.Errorf("hash length = %d, want 8", len(h))
	}
	if h != ProjectHash("/home/dev/project/") {
		t.Error("hash must be over the canonical path")
	}
	if h == ProjectHash("/home/dev/other") {
		t.Error("distinct projects should not collide here")
	}
}

func TestCreateNamingAndCollision(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	m1, err := s.Create(ctx, "/proj", "first", "root", "m1")
	if err != nil {
		t.Fatal(err)
	}
	want := "session-2026-08-24-" + ProjectHash("/proj")
	if m1.ID != want {
		t.Errorf("id = %q, want %q", m1.ID, want)
	}

	m2, err := s.Create(ctx, "/proj", "second", "root", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if m2.ID != want+"-2" {
		t.Errorf("collision id = %q, want %q", m2.ID, want+"-2")
	}

	// Nested layout: sessions/YYYY/MM/hash/id.md
	if !strings.Contains(m1.FilePath, filepath.Join("sessions", "2026", "08", ProjectHash("/proj"))) {
		t.Errorf("path = %q, want nested layout", m1.FilePath)
	}
	if _, err := os.Stat(m1.FilePath); err != nil {
		t.Errorf("transcript not on disk: %v", err)
	}
}

func TestAppendTurnWriteThrough(t *testing.T) {
	s, idx := newTestStore(t)
	ctx := context.Background()
	meta, err := s.Create(ctx, "/proj", "t", "root", "m")
	if err != nil {
		t.Fatal(err)
	}

	if err := s.AppendTurn(ctx, meta.ID, TranscriptMessage{Role: "user", Content: "hello there"}); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendTurn(ctx, meta.ID, TranscriptMessage{Role: "assistant", Content: "hi", Cost: 0.5, Tokens: 30}); err != nil {
		t.Fatal(err)
	}

	got, msgs, err := s.Load(ctx, meta.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Fatalf("msgs = %+v", msgs)
	}
	if got.TurnCount != 2 || got.Cost != 0.5 || got.Tokens != 30 {
		t.Errorf("meta = %+v", got)
	}
	if idx.turnCount(meta.ID) != 2 {
		t.Errorf("index turns = %d, want 2", idx.turnCount(meta.ID))
	}
	row, ok, _ := idx.GetSession(ctx, meta.ID)
	if !ok || row.TurnCount != 2 {
		t.Errorf("index row = %+v", row)
	}
}

func TestLegacyLayoutResolvable(t *testing.T) {
	s, _ := newTestStore(t)
	hash := ProjectHash("/proj")
	id := "session-2026-08-24-" + hash
	meta := Meta{ID: id, Title: "old", Created: testClock().UnixMilli(), Updated: testClock().UnixMilli()}
	legacy := filepath.Join(s.root, "sessions", hash, id+".md")
	if err := os.MkdirAll(filepath.Dir(legacy), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(legacy, []byte(renderMarkdown(meta, nil)), 0o644); err != nil {
		t.Fatal(err)
	}

	got, _, err := s.Load(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != id || got.FilePath != legacy {
		t.Errorf("got = %+v", got)
	}
}

func TestMarkdownRoundTrip(t *testing.T) {
	meta := Meta{
		ID:      "session-2026-08-24-abcd1234",
		Title:   "refactor plan",
		Created: testClock().UnixMilli(),
		Updated: testClock().Add(time.Minute).UnixMilli(),
		Model:   "claude-sonnet-4",
		Agent:   "root",
		Project: "/proj",
		Parent:  "session-2026-08-23-abcd1234",
		Branch:  "alt",
		Tags:    []string{"infra", "urgent"},
		Cost:    0.125,
		Tokens:  420,
	}
	msgs := []TranscriptMessage{
		{Role: "user", Content: "read the config file", TurnNumber: 1},
		{
			Role:       "assistant",
			Content:    "Reading it now.",
			TurnNumber: 2,
			ToolCalls: []ToolCallRecord{
				{Name: "read_file", Input: json.RawMessage(`{"path":"cfg.toml"}`), Result: "key = 1"},
				{Name: "write_file", Input: json.RawMessage(`{"path":"/etc/x"}`), Result: "permission denied", IsError: true},
			},
		},
	}

	parsedMeta, parsedMsgs, err := parseMarkdown([]byte(renderMarkdown(meta, msgs)))
	if err != nil {
		t.Fatal(err)
	}
	if parsedMeta.ID != meta.ID || parsedMeta.Title != meta.Title ||
		parsedMeta.Created != meta.Created || parsedMeta.Updated != meta.Updated ||
		parsedMeta.Model != meta.Model || parsedMeta.Agent != meta.Agent ||
		parsedMeta.Project != meta.Project || parsedMeta.Parent != meta.Parent ||
		parsedMeta.Branch != meta.Branch || parsedMeta.Cost != meta.Cost ||
		parsedMeta.Tokens != meta.Tokens {
		t.Errorf("meta round trip:\n got %+v\nwant %+v", parsedMeta, meta)
	}
	if len(parsedMeta.Tags) != 2 || parsedMeta.Tags[0] != "infra" {
		t.Errorf("tags = %v", parsedMeta.Tags)
	}
	if len(parsedMsgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(parsedMsgs))
	}
	if parsedMsgs[0].Role != "user" || parsedMsgs[0].Content != "read the config file" {
		t.Errorf("user turn = %+v", parsedMsgs[0])
	}
	asst := parsedMsgs[1]
	if asst.Content != "Reading it now." || len(asst.ToolCalls) != 2 {
		t.Fatalf("assistant turn = %+v", asst)
	}
	if asst.ToolCalls[0].Name != "read_file" || asst.ToolCalls[0].IsError {
		t.Errorf("tool 0 = %+v", asst.ToolCalls[0])
	}
	if asst.ToolCalls[0].Result != "key = 1" {
		t.Errorf("tool 0 result = %q", asst.ToolCalls[0].Result)
	}
	if !asst.ToolCalls[1].IsError || asst.ToolCalls[1].Result != "permission denied" {
		t.Errorf("tool 1 = %+v", asst.ToolCalls[1])
	}
	var input map[string]string
	if err := json.Unmarshal(asst.ToolCalls[0].Input, &input); err != nil || input["path"] != "cfg.toml" {
		t.Errorf("tool 0 input = %s", asst.ToolCalls[0].Input)
	}
}

func TestMarkdownRoundTripKeepsCodeAndLists(t *testing.T) {
	meta := Meta{
		ID:      "session-2026-08-24-ef015678",
		Title:   "snippet review",
		Created: testClock().UnixMilli(),
	}
	steps := "Steps:\n\n- read the config\n- rerun the build"
	code := "Here you go:\n\n```go\nfunc main() {\n\tprintln(\"hi\")\n}\n```\n\nDone."
	msgs := []TranscriptMessage{
		{Role: "user", Content: steps, TurnNumber: 1},
		{
			Role:       "assistant",
			Content:    code,
			TurnNumber: 2,
			ToolCalls: []ToolCallRecord{
				{Name: "run_tests", Input: json.RawMessage(`{"pkg":"./..."}`), Result: "ok"},
			},
		},
	}

	_, parsed, err := parseMarkdown([]byte(renderMarkdown(meta, msgs)))
	if err != nil {
		t.Fatal(err)
	}
	if len(parsed) != 2 {
		t.Fatalf("messages = %d, want 2", len(parsed))
	}
	if parsed[0].Content != steps {
		t.Errorf("user content:\n got %q\nwant %q", parsed[0].Content, steps)
	}
	if parsed[1].Content != code {
		t.Errorf("assistant content:\n got %q\nwant %q", parsed[1].Content, code)
	}
	if len(parsed[1].ToolCalls) != 1 || parsed[1].ToolCalls[0].Result != "ok" {
		t.Errorf("tool calls = %+v", parsed[1].ToolCalls)
	}
}

func TestParseMarkdownRequiresHeader(t *testing.T) {
	_, _, err := parseMarkdown([]byte("# title\n\n## User\n\nhi\n"))
	if err == nil {
		t.Error("transcript without id/created header must be rejected")
	}
}

func TestDeleteCleansEmptyDirs(t *testing.T) {
	s, idx := newTestStore(t)
	ctx := context.Background()
	meta, _ := s.Create(ctx, "/proj", "t", "root", "m")

	if err := s.Delete(ctx, meta.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(meta.FilePath); !errors.Is(err, os.ErrNotExist) {
		t.Error("transcript file should be gone")
	}
	if _, ok, _ := idx.GetSession(ctx, meta.ID); ok {
		t.Error("index row should be gone")
	}
	hashDir := filepath.Dir(meta.FilePath)
	if _, err := os.Stat(hashDir); !errors.Is(err, os.ErrNotExist) {
		t.Error("empty hash dir should be pruned")
	}
	if _, err := os.Stat(filepath.Join(s.root, "sessions")); err != nil {
		t.Error("sessions root must survive cleanup")
	}
}

func TestMigrate(t *testing.T) {
	s, idx := newTestStore(t)
	ctx := context.Background()

	// One session the index already knows.
	known, _ := s.Create(ctx, "/proj", "known", "root", "m")

	// One on-disk transcript the index has never seen.
	hash := ProjectHash("/other")
	id := "session-2026-08-20-" + hash
	meta := Meta{ID: id, Title: "orphan", Created: testClock().UnixMilli(), Updated: testClock().UnixMilli()}
	msgs := []TranscriptMessage{{Role: "user", Content: "stray transcript", TurnNumber: 1}}
	path := filepath.Join(s.root, "sessions", "2026", "08", hash, id+".md")
	os.MkdirAll(filepath.Dir(path), 0o755)
	os.WriteFile(path, []byte(renderMarkdown(meta, msgs)), 0o644)

	migrated, skipped, err := s.Migrate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if migrated != 1 || skipped != 1 {
		t.Errorf("migrate = (%d, %d), want (1, 1)", migrated, skipped)
	}
	if _, ok, _ := idx.GetSession(ctx, id); !ok {
		t.Error("orphan session not indexed")
	}
	if idx.turnCount(id) != 1 {
		t.Errorf("orphan turns = %d, want 1", idx.turnCount(id))
	}
	_ = known
}

func TestExportImportRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	meta, _ := s.Create(ctx, "/proj", "roundtrip", "root", "m1")
	s.AppendTurn(ctx, meta.ID, TranscriptMessage{Role: "user", Content: "do the thing"})
	s.AppendTurn(ctx, meta.ID, TranscriptMessage{
		Role:    "assistant",
		Content: "done",
		ToolCalls: []ToolCallRecord{
			{Name: "ok_tool", Input: json.RawMessage(`{"a":1}`), Result: "fine"},
			{Name: "bad_tool", Input: json.RawMessage(`{"b":2}`), Result: "boom", IsError: true},
		},
	})

	data, err := s.ExportJSON(ctx, meta.ID)
	if err != nil {
		t.Fatal(err)
	}

	fresh := NewStore(t.TempDir(), newMemIndex(), WithClock(testClock))
	imported, err := fresh.ImportJSON(ctx, data)
	if err != nil {
		t.Fatal(err)
	}
	if imported.ID != meta.ID || imported.Title != "roundtrip" {
		t.Errorf("imported meta = %+v", imported)
	}

	got, msgs, err := fresh.Load(ctx, meta.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.TurnCount != 2 {
		t.Errorf("TurnCount = %d, want 2", got.TurnCount)
	}
	if msgs[0].Role != "user" || msgs[0].Content != "do the thing" {
		t.Errorf("turn 1 = %+v", msgs[0])
	}
	tools := msgs[1].ToolCalls
	if len(tools) != 2 || tools[0].IsError || !tools[1].IsError {
		t.Errorf("tool calls = %+v, isError flags must survive the round trip", tools)
	}
}

func TestImportValidation(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	mk := func(mutate func(*Export)) []byte {
		exp := Export{
			Version:    1,
			ExportedAt: "2026-08-24T10:00:00Z",
			Session: ExportSession{
				ID:        "session-2026-08-24-abcd1234",
				Title:     "t",
				CreatedAt: "2026-08-24T10:00:00.000Z",
				Messages:  []TranscriptMessage{{Role: "user", Content: "hi"}},
			},
		}
		mutate(&exp)
		data, _ := json.Marshal(exp)
		return data
	}

	if _, err := s.ImportJSON(ctx, mk(func(e *Export) { e.Version = 2 })); err == nil {
		t.Error("unknown version must be rejected")
	}
	if _, err := s.ImportJSON(ctx, mk(func(e *Export) { e.Session.ID = "" })); err == nil {
		t.Error("missing id must be rejected")
	}
	if _, err := s.ImportJSON(ctx, mk(func(e *Export) { e.Session.CreatedAt = "" })); err == nil {
		t.Error("missing createdAt must be rejected")
	}
	if _, err := s.ImportJSON(ctx, mk(func(e *Export) { e.Session.Messages = nil })); err == nil {
		t.Error("missing messages must be rejected")
	}
	if _, err := s.ImportJSON(ctx, mk(func(e *Export) { e.Session.Messages[0].Role = "system" })); err == nil {
		t.Error("bad role must be rejected")
	}
	if _, err := s.ImportJSON(ctx, mk(func(*Export) {})); err != nil {
		t.Errorf("valid export rejected: %v", err)
	}
}

func TestRecorderAggregatesToolResults(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	meta, _ := s.Create(ctx, "/proj", "rec", "root", "m")
	r := NewRecorder(s)

	user := chitragupta.UserMessage("list files")
	if err := r.RecordTurn(meta.ID, user); err != nil {
		t.Fatal(err)
	}

	asst := chitragupta.Message{
		ID:        chitragupta.NewID(),
		Role:      chitragupta.RoleAssistant,
		Timestamp: chitragupta.NowUnixMilli(),
		Parts: []chitragupta.ContentPart{
			chitragupta.TextPart("listing"),
			chitragupta.ToolCallPart("c1", "ls", json.RawMessage(`{}`)),
			chitragupta.ToolCallPart("c2", "stat", json.RawMessage(`{"p":"x"}`)),
		},
	}
	if err := r.RecordTurn(meta.ID, asst); err != nil {
		t.Fatal(err)
	}

	// Assistant turn is held until both results land.
	_, msgs, _ := s.Load(ctx, meta.ID)
	if len(msgs) != 1 {
		t.Fatalf("turns before results = %d, want 1", len(msgs))
	}

	r.RecordTurn(meta.ID, chitragupta.ToolResultMessage("c1", "a.txt", false))
	r.RecordTurn(meta.ID, chitragupta.ToolResultMessage("c2", "no such file", true))

	_, msgs, _ = s.Load(ctx, meta.ID)
	if len(msgs) != 2 {
		t.Fatalf("turns = %d, want 2", len(msgs))
	}
	tools := msgs[1].ToolCalls
	if len(tools) != 2 {
		t.Fatalf("tool calls = %+v", tools)
	}
	if tools[0].Result != "a.txt" || tools[0].IsError {
		t.Errorf("tool 0 = %+v", tools[0])
	}
	if tools[1].Result != "no such file" || !tools[1].IsError {
		t.Errorf("tool 1 = %+v", tools[1])
	}
}
