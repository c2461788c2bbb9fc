package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/samskara-labs/chitragupta"
	"github.com/samskara-labs/chitragupta/bocpd"
	"github.com/samskara-labs/chitragupta/kartavya"
	"github.com/samskara-labs/chitragupta/marga"
	"github.com/samskara-labs/chitragupta/session"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "test.db"))
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInitIdempotent(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "init.db"))
	ctx := context.Background()
	if err := s.Init(ctx); err != nil {
		t.Fatalf("first Init: %v", err)
	}
	if err := s.Init(ctx); err != nil {
		t.Fatalf("second Init: %v", err)
	}
}

func TestSessionCRUD(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	meta := session.Meta{
		ID: "session-2026-08-24-0a1b2c3d", Project: "/proj", Title: "fix parser",
		Created: 1000, Updated: 1000, Agent: "root", Model: "m1",
		Cost: 0.5, Tokens: 420, Tags: []string{"bug"}, TurnCount: 2,
		FilePath: "sessions/2026/08/0a1b2c3d/session-2026-08-24-0a1b2c3d.md",
	}
	if err := s.SaveSession(ctx, meta); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	got, ok, err := s.GetSession(ctx, meta.ID)
	if err != nil || !ok {
		t.Fatalf("GetSession = %v %v", ok, err)
	}
	if got.Title != "fix parser" || got.Tokens != 420 || len(got.Tags) != 1 {
		t.Errorf("unexpected meta: %+v", got)
	}

	// Upsert replaces in place.
	meta.Updated = 2000
	meta.TurnCount = 4
	s.SaveSession(ctx, meta)
	got, _, _ = s.GetSession(ctx, meta.ID)
	if got.Updated != 2000 || got.TurnCount != 4 {
		t.Errorf("upsert did not replace: %+v", got)
	}

	metas, err := s.ListSessions(ctx, "/proj")
	if err != nil || len(metas) != 1 {
		t.Fatalf("ListSessions = %d, %v", len(metas), err)
	}
	if metas, _ = s.ListSessions(ctx, "/other"); len(metas) != 0 {
		t.Errorf("project filter leaked %d rows", len(metas))
	}

	if err := s.DeleteSession(ctx, meta.ID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, ok, _ := s.GetSession(ctx, meta.ID); ok {
		t.Error("session still present after delete")
	}
}

func TestSearchTurns(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, m := range []session.Meta{
		{ID: "s1", Project: "/a", Title: "a", Created: 1, Updated: 1, FilePath: "x"},
		{ID: "s2", Project: "/b", Title: "b", Created: 2, Updated: 2, FilePath: "y"},
	} {
		s.SaveSession(ctx, m)
	}
	turns := []session.Turn{
		{SessionID: "s1", TurnNumber: 1, Role: "user", Content: "the parser breaks on unicode input", Created: 10},
		{SessionID: "s1", TurnNumber: 2, Role: "assistant", Content: "rewrote the tokenizer loop", Created: 11},
		{SessionID: "s2", TurnNumber: 1, Role: "user", Content: "parser question about imports", Created: 12},
	}
	for _, tr := range turns {
		if err := s.InsertTurn(ctx, tr); err != nil {
			t.Fatalf("InsertTurn: %v", err)
		}
	}

	hits, err := s.SearchTurns(ctx, "parser", "", 10)
	if err != nil {
		t.Fatalf("SearchTurns: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	for _, h := range hits {
		if h.Rank < 0 {
			t.Errorf("rank %v below zero", h.Rank)
		}
		if h.Snippet == "" {
			t.Error("empty snippet")
		}
	}

	hits, _ = s.SearchTurns(ctx, "parser", "/b", 10)
	if len(hits) != 1 || hits[0].SessionID != "s2" {
		t.Errorf("project-filtered hits = %+v", hits)
	}

	// Re-inserting a turn must not duplicate its full-text shadow.
	s.InsertTurn(ctx, turns[0])
	hits, _ = s.SearchTurns(ctx, "unicode", "", 10)
	if len(hits) != 1 {
		t.Errorf("reindexed turn matched %d times", len(hits))
	}

	s.DeleteSession(ctx, "s1")
	if hits, _ = s.SearchTurns(ctx, "tokenizer", "", 10); len(hits) != 0 {
		t.Errorf("deleted session still searchable: %+v", hits)
	}
}

func TestMemoryRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	entries := []session.MemoryEntry{
		{ID: "m1", Scope: "global", Content: "prefers table tests", UpdatedAt: 5, Embedding: []float32{0.25, -1, 3}},
		{ID: "m2", Scope: "project", Content: "db lives on port 5433", UpdatedAt: 9},
	}
	for _, e := range entries {
		if err := s.SaveMemory(ctx, e); err != nil {
			t.Fatalf("SaveMemory: %v", err)
		}
	}

	got, err := s.ListMemory(ctx)
	if err != nil {
		t.Fatalf("ListMemory: %v", err)
	}
	if len(got) != 2 || got[0].ID != "m2" {
		t.Fatalf("expected newest first, got %+v", got)
	}
	if len(got[1].Embedding) != 3 || got[1].Embedding[0] != 0.25 {
		t.Errorf("embedding did not round-trip: %v", got[1].Embedding)
	}
}

func TestVasanaUpsert(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	v := bocpd.Vasana{ID: chitragupta.NewID(), Project: "/p", FeatureKey: "style", Strength: 0.5, Stability: 0.8, CreatedAt: 1, UpdatedAt: 1}
	if err := s.SaveVasana(ctx, v); err != nil {
		t.Fatalf("SaveVasana: %v", err)
	}

	v.Strength = 0.6
	v.ReinforcementCount = 1
	v.UpdatedAt = 2
	if err := s.SaveVasana(ctx, v); err != nil {
		t.Fatalf("SaveVasana upsert: %v", err)
	}

	got, ok, err := s.GetVasana(ctx, "/p", "style")
	if err != nil || !ok {
		t.Fatalf("GetVasana = %v %v", ok, err)
	}
	if got.Strength != 0.6 || got.ReinforcementCount != 1 {
		t.Errorf("upsert lost fields: %+v", got)
	}

	all, _ := s.ListVasanas(ctx, "")
	if len(all) != 1 {
		t.Errorf("upsert duplicated the (project, feature) row: %d", len(all))
	}
	if _, ok, _ := s.GetVasana(ctx, "/p", "missing"); ok {
		t.Error("missing feature reported present")
	}
}

func TestConsolidationRules(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i, kind := range []string{"crystallize", "reinforce"} {
		r := bocpd.ConsolidationRule{ID: chitragupta.NewID(), Project: "/p", FeatureKey: "style", Kind: kind, CreatedAt: int64(i)}
		if err := s.SaveConsolidationRule(ctx, r); err != nil {
			t.Fatalf("SaveConsolidationRule: %v", err)
		}
	}
	rules, err := s.ListConsolidationRules(ctx, "/p")
	if err != nil || len(rules) != 2 {
		t.Fatalf("ListConsolidationRules = %d, %v", len(rules), err)
	}
	if rules[0].Kind != "reinforce" {
		t.Errorf("expected newest first, got %+v", rules)
	}
}

func TestStateBlob(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, ok, err := s.LoadState(ctx); ok || err != nil {
		t.Fatalf("empty LoadState = %v %v", ok, err)
	}
	if err := s.SaveState(ctx, []byte(`{"features":{}}`)); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	s.SaveState(ctx, []byte(`{"features":{"a":1}}`))

	blob, ok, err := s.LoadState(ctx)
	if err != nil || !ok {
		t.Fatalf("LoadState = %v %v", ok, err)
	}
	if string(blob) != `{"features":{"a":1}}` {
		t.Errorf("blob = %s", blob)
	}
}

func TestDutyRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	d := kartavya.Kartavya{
		ID: "duty-00000001", Name: "nightly summary", Status: kartavya.StatusActive,
		Trigger: kartavya.Trigger{Type: kartavya.TriggerCron, Condition: "0 3 * * *", CooldownMs: 60_000, LastFired: 123},
		Action:  kartavya.Action{Type: "summarize", Payload: []byte(`{"scope":"day"}`)},
		Confidence: 0.8, SuccessCount: 3, FailureCount: 1, LastExecuted: 456,
		Project: "/p", VasanaID: "v1", Fired: []int64{100, 123}, CreatedAt: 1, UpdatedAt: 2,
	}
	if err := s.SaveDuty(ctx, d); err != nil {
		t.Fatalf("SaveDuty: %v", err)
	}

	duties, err := s.ListDuties(ctx, "/p")
	if err != nil || len(duties) != 1 {
		t.Fatalf("ListDuties = %d, %v", len(duties), err)
	}
	got := duties[0]
	if got.Status != kartavya.StatusActive || got.Trigger.Condition != "0 3 * * *" ||
		got.Trigger.LastFired != 123 || got.Confidence != 0.8 ||
		got.SuccessCount != 3 || got.FailureCount != 1 || got.LastExecuted != 456 {
		t.Errorf("duty did not round-trip: %+v", got)
	}
	if string(got.Action.Payload) != `{"scope":"day"}` {
		t.Errorf("payload = %s", got.Action.Payload)
	}
	if len(got.Fired) != 2 || got.Fired[1] != 123 {
		t.Errorf("fired stamps = %v", got.Fired)
	}
}

func TestProposalTrail(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i, status := range []string{"pending", "approved"} {
		p := kartavya.NiyamaProposal{ID: chitragupta.NewID(), KartavyaID: "duty-1", Status: status, CreatedAt: int64(i)}
		if err := s.SaveProposal(ctx, p); err != nil {
			t.Fatalf("SaveProposal: %v", err)
		}
	}
	trail, err := s.ListProposals(ctx, "duty-1")
	if err != nil || len(trail) != 2 {
		t.Fatalf("ListProposals = %d, %v", len(trail), err)
	}
	if trail[0].Status != "pending" || trail[1].Status != "approved" {
		t.Errorf("trail order wrong: %+v", trail)
	}
}

func TestDecisionTrail(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	d := marga.Decision{
		ProviderID: "anthropic", ModelID: "m-large", TaskType: marga.TaskCodeGen,
		Resolution: marga.ResolveLLM, Complexity: marga.Complex,
		Confidence: 0.9, Rationale: "code generation keywords", DecisionTimeMs: 3,
	}
	if err := s.SaveDecision(ctx, "s1", d); err != nil {
		t.Fatalf("SaveDecision: %v", err)
	}

	got, err := s.ListDecisions(ctx, "s1", 10)
	if err != nil || len(got) != 1 {
		t.Fatalf("ListDecisions = %d, %v", len(got), err)
	}
	if got[0].ProviderID != "anthropic" || got[0].TaskType != "code-gen" || got[0].SkipLLM {
		t.Errorf("decision did not round-trip: %+v", got[0])
	}
	if got[0].Rationale != "code generation keywords" || got[0].Confidence != 0.9 {
		t.Errorf("decision fields lost: %+v", got[0])
	}
}
