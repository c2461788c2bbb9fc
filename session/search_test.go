package session

import (
	"context"
	"math"
	"testing"
	"time"
)

func TestSanitizeQuery(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`fix "the" parser: now!`, "fix the parser now"},
		{"a OR b AND config NOT x", "config"},
		{"résumé café", "resume cafe"},
		{"* ^ ( )", ""},
		{"ok", "ok"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := sanitizeQuery(tt.in); got != tt.want {
			t.Errorf("sanitizeQuery(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSearchSessionsDedupeAndRecency(t *testing.T) {
	s, idx := newTestStore(t)
	ctx := context.Background()

	old, _ := s.Create(ctx, "/old", "old one", "root", "m")
	s.AppendTurn(ctx, old.ID, TranscriptMessage{Role: "user", Content: "discuss the parser rewrite"})
	s.AppendTurn(ctx, old.ID, TranscriptMessage{Role: "assistant", Content: "parser notes continued"})

	recent, _ := s.Create(ctx, "/recent", "recent one", "root", "m")
	s.AppendTurn(ctx, recent.ID, TranscriptMessage{Role: "user", Content: "parser question"})

	// Make the second session clearly more recently updated.
	idx.mu.Lock()
	m := idx.sessions[recent.ID]
	m.Updated += time.Hour.Milliseconds()
	idx.sessions[recent.ID] = m
	idx.mu.Unlock()

	results, err := s.SearchSessions(ctx, "parser", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2 (deduplicated by session)", len(results))
	}
	if results[0].Meta.ID != recent.ID {
		t.Errorf("top = %s, recency boost must rank the newer session first", results[0].Meta.ID)
	}
}

func TestSearchSessionsProjectFilter(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	a, _ := s.Create(ctx, "/a", "a", "root", "m")
	s.AppendTurn(ctx, a.ID, TranscriptMessage{Role: "user", Content: "shared keyword"})
	b, _ := s.Create(ctx, "/b", "b", "root", "m")
	s.AppendTurn(ctx, b.ID, TranscriptMessage{Role: "user", Content: "shared keyword"})

	results, err := s.SearchSessions(ctx, "keyword", "/a")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Meta.ID != a.ID {
		t.Errorf("results = %+v, want only the /a session", results)
	}
}

func TestSearchSessionsEmptyQuery(t *testing.T) {
	s, _ := newTestStore(t)
	results, err := s.SearchSessions(context.Background(), "a ! ?", "")
	if err != nil || results != nil {
		t.Errorf("unsearchable query = (%v, %v), want (nil, nil)", results, err)
	}
}

func TestSearchMemoryNormalized(t *testing.T) {
	s, idx := newTestStore(t)
	ctx := context.Background()
	idx.SaveMemory(ctx, MemoryEntry{ID: "1", Scope: "global", Content: "prefers tabs over spaces in go code"})
	idx.SaveMemory(ctx, MemoryEntry{ID: "2", Scope: "project", Content: "database runs on port 5433"})
	idx.SaveMemory(ctx, MemoryEntry{ID: "3", Scope: "project", Content: "go module uses sqlite for the index"})

	results, err := s.SearchMemory(ctx, "go code", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 {
		t.Fatal("expected matches")
	}
	if results[0].Relevance != 1 {
		t.Errorf("top relevance = %v, want 1", results[0].Relevance)
	}
	if results[0].Entry.ID != "1" {
		t.Errorf("top = %s, want the entry matching both terms", results[0].Entry.ID)
	}
	for _, r := range results[1:] {
		if r.Relevance > 1 {
			t.Errorf("relevance %v above normalized top", r.Relevance)
		}
	}
}

func TestSearchMemoryEmbeddingBlend(t *testing.T) {
	s, idx := newTestStore(t)
	ctx := context.Background()
	idx.SaveMemory(ctx, MemoryEntry{ID: "near", Content: "deploy steps", Embedding: []float32{1, 0}})
	idx.SaveMemory(ctx, MemoryEntry{ID: "far", Content: "deploy steps", Embedding: []float32{0, 1}})

	results, err := s.SearchMemory(ctx, "deploy", []float32{1, 0})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 || results[0].Entry.ID != "near" {
		t.Errorf("results = %+v, embedding must break the BM25 tie", results)
	}
}

func TestCosineSimilarity(t *testing.T) {
	if got := CosineSimilarity([]float32{1, 0}, []float32{1, 0}); math.Abs(float64(got)-1) > 1e-6 {
		t.Errorf("identical vectors = %v, want 1", got)
	}
	if got := CosineSimilarity([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Errorf("orthogonal vectors = %v, want 0", got)
	}
	if got := CosineSimilarity([]float32{1}, []float32{1, 2}); got != 0 {
		t.Errorf("mismatched lengths = %v, want 0", got)
	}
	if got := CosineSimilarity([]float32{0, 0}, []float32{1, 1}); got != 0 {
		t.Errorf("zero vector = %v, want 0", got)
	}
}
