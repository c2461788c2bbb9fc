package chitragupta

import (
	"testing"
	"time"
)

func TestAutonomyToolDisable(t *testing.T) {
	a := NewAutonomy(AutonomyConfig{ToolDisableThreshold: 3})

	a.RecordToolResult("search", false)
	a.RecordToolResult("search", false)
	if a.ToolDisabled("search") {
		t.Fatal("disabled after 2 failures, threshold is 3")
	}
	a.RecordToolResult("search", false)
	if !a.ToolDisabled("search") {
		t.Fatal("not disabled after 3 consecutive failures")
	}

	a.ResetTool("search")
	if a.ToolDisabled("search") {
		t.Error("ResetTool did not clear the disable flag")
	}
}

func TestAutonomySuccessBreaksStreak(t *testing.T) {
	a := NewAutonomy(AutonomyConfig{ToolDisableThreshold: 3})
	a.RecordToolResult("fetch", false)
	a.RecordToolResult("fetch", false)
	a.RecordToolResult("fetch", true)
	a.RecordToolResult("fetch", false)
	a.RecordToolResult("fetch", false)
	if a.ToolDisabled("fetch") {
		t.Error("a success must reset the consecutive-failure count")
	}
}

func validHistory() []Message {
	return []Message{
		{ID: "1", Role: RoleUser, Timestamp: 100, Parts: []ContentPart{TextPart("hi")}},
		{ID: "2", Role: RoleAssistant, Timestamp: 200, Parts: []ContentPart{
			ToolCallPart("c1", "echo", []byte(`{}`)),
		}},
		{ID: "3", Role: RoleToolResult, Timestamp: 300, Parts: []ContentPart{
			ToolResultPart("c1", "done", false),
		}},
	}
}

func TestValidMessages(t *testing.T) {
	if !ValidMessages(validHistory()) {
		t.Fatal("valid history flagged invalid")
	}

	tests := []struct {
		name   string
		mutate func([]Message) []Message
	}{
		{"empty id", func(m []Message) []Message { m[1].ID = ""; return m }},
		{"empty role", func(m []Message) []Message { m[0].Role = ""; return m }},
		{"no parts", func(m []Message) []Message { m[0].Parts = nil; return m }},
		{"zero timestamp", func(m []Message) []Message { m[0].Timestamp = 0; return m }},
		{"non-monotone timestamps", func(m []Message) []Message { m[2].Timestamp = 150; return m }},
		{"orphan tool result", func(m []Message) []Message {
			m[2].Parts = []ContentPart{ToolResultPart("missing", "x", false)}
			return m
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if ValidMessages(tt.mutate(validHistory())) {
				t.Error("corruption not detected")
			}
		})
	}
}

func TestRecoverContextTruncates(t *testing.T) {
	a := NewAutonomy(AutonomyConfig{})
	msgs := validHistory()
	msgs[2].Parts = []ContentPart{ToolResultPart("missing", "x", false)}
	state := AgentState{Messages: msgs}

	action := a.RecoverContext(&state)
	if action != RecoveryTruncate {
		t.Fatalf("action = %q, want %q", action, RecoveryTruncate)
	}
	if len(state.Messages) != 2 {
		t.Errorf("len = %d, want 2", len(state.Messages))
	}
	if !ValidMessages(state.Messages) {
		t.Error("recovered context still invalid")
	}
}

func TestRecoverContextSnapshot(t *testing.T) {
	a := NewAutonomy(AutonomyConfig{})
	good := validHistory()
	a.Snapshot(good)

	// Entirely invalid history: even the first message is broken.
	state := AgentState{Messages: []Message{{Role: RoleUser}}}
	action := a.RecoverContext(&state)
	if action != RecoverySnapshot {
		t.Fatalf("action = %q, want %q", action, RecoverySnapshot)
	}
	if len(state.Messages) != len(good) {
		t.Errorf("len = %d, want %d", len(state.Messages), len(good))
	}
}

func TestRecoverContextFresh(t *testing.T) {
	a := NewAutonomy(AutonomyConfig{})
	state := AgentState{Messages: []Message{{Role: RoleUser}}}
	action := a.RecoverContext(&state)
	if action != RecoveryFresh {
		t.Fatalf("action = %q, want %q", action, RecoveryFresh)
	}
	if len(state.Messages) != 0 {
		t.Error("fresh start should clear messages")
	}
}

func TestRecoverContextNoop(t *testing.T) {
	a := NewAutonomy(AutonomyConfig{})
	state := AgentState{Messages: validHistory()}
	if action := a.RecoverContext(&state); action != RecoveryNone {
		t.Errorf("action = %q, want %q", action, RecoveryNone)
	}
}

func TestHealthWarnings(t *testing.T) {
	a := NewAutonomy(AutonomyConfig{
		HealthWindow:     4,
		ErrorRateWarning: 0.5,
		LatencyWarning:   time.Second,
	})
	if got := a.HealthWarnings(); got != nil {
		t.Fatalf("warnings on empty window: %v", got)
	}

	a.RecordTurn(TurnMetric{Errored: true, Latency: 2 * time.Second})
	a.RecordTurn(TurnMetric{Errored: true, Latency: 2 * time.Second})
	a.RecordTurn(TurnMetric{Latency: 2 * time.Second})
	a.RecordTurn(TurnMetric{Latency: 2 * time.Second})

	warnings := a.HealthWarnings()
	if len(warnings) != 2 {
		t.Fatalf("warnings = %v, want error-rate and latency", warnings)
	}
}

func TestHealthWindowSlides(t *testing.T) {
	a := NewAutonomy(AutonomyConfig{HealthWindow: 2, ErrorRateWarning: 0.5})
	a.RecordTurn(TurnMetric{Errored: true})
	a.RecordTurn(TurnMetric{Errored: true})
	a.RecordTurn(TurnMetric{})
	a.RecordTurn(TurnMetric{})
	if got := a.HealthWarnings(); got != nil {
		t.Errorf("old errors slid out of the window, got %v", got)
	}
}
