package chitragupta

import (
	"log/slog"
	"sync"
	"time"
)

// AutonomyConfig tunes the autonomy manager thresholds.
type AutonomyConfig struct {
	// ToolDisableThreshold is the number of consecutive failures after
	// which a tool is auto-disabled (default 3).
	ToolDisableThreshold int
	// ErrorRateWarning is the turn error rate that triggers a health
	// warning (default 0.5).
	ErrorRateWarning float64
	// LatencyWarning is the average turn latency that triggers a health
	// warning (default 30s).
	LatencyWarning time.Duration
	// ContextUtilizationWarning is the context window utilization that
	// triggers a health warning (default 0.85).
	ContextUtilizationWarning float64
	// HealthWindow is the number of recent turns considered (default 20).
	HealthWindow int
	// Retry configures the backoff applied to wrapped calls.
	Retry RetryOptions
	// Logger receives recovery and disable notices. Nil means no output.
	Logger *slog.Logger
}

func (c *AutonomyConfig) defaults() {
	if c.ToolDisableThreshold <= 0 {
		c.ToolDisableThreshold = 3
	}
	if c.ErrorRateWarning <= 0 {
		c.ErrorRateWarning = 0.5
	}
	if c.LatencyWarning <= 0 {
		c.LatencyWarning = 30 * time.Second
	}
	if c.ContextUtilizationWarning <= 0 {
		c.ContextUtilizationWarning = 0.85
	}
	if c.HealthWindow <= 0 {
		c.HealthWindow = 20
	}
	if c.Logger == nil {
		c.Logger = nopLogger
	}
}

// TurnMetric is one turn's health sample.
type TurnMetric struct {
	Errored            bool
	Latency            time.Duration
	ContextUtilization float64
}

// Autonomy wraps external calls with retry and guards the loop against
// context corruption and repeatedly failing tools.
type Autonomy struct {
	cfg AutonomyConfig

	mu           sync.Mutex
	toolFailures map[string]int
	disabled     map[string]bool
	lastGood     []Message
	window       []TurnMetric
}

// NewAutonomy creates an autonomy manager.
func NewAutonomy(cfg AutonomyConfig) *Autonomy {
	cfg.defaults()
	return &Autonomy{
		cfg:          cfg,
		toolFailures: make(map[string]int),
		disabled:     make(map[string]bool),
	}
}

// RetryOptions returns the configured retry policy for wrapped calls.
func (a *Autonomy) RetryOptions() RetryOptions { return a.cfg.Retry }

// --- Tool auto-disable ---

// RecordToolResult tracks consecutive failures per tool. After
// ToolDisableThreshold consecutive failures the tool is flagged disabled
// until ResetTool is called.
func (a *Autonomy) RecordToolResult(name string, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ok {
		a.toolFailures[name] = 0
		return
	}
	a.toolFailures[name]++
	if a.toolFailures[name] >= a.cfg.ToolDisableThreshold && !a.disabled[name] {
		a.disabled[name] = true
		a.cfg.Logger.Warn("tool auto-disabled after consecutive failures",
			"tool", name, "failures", a.toolFailures[name])
	}
}

// ToolDisabled reports whether a tool is currently auto-disabled.
func (a *Autonomy) ToolDisabled(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.disabled[name]
}

// ResetTool clears the disable flag and failure count for a tool.
func (a *Autonomy) ResetTool(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.disabled, name)
	a.toolFailures[name] = 0
}

// --- Context corruption recovery ---

// ValidMessages reports whether msgs form a valid provider context: every
// message has an id, role, at least one part, and a positive timestamp not
// earlier than its predecessor's; every tool_result references a tool_call
// id seen in an earlier assistant message.
func ValidMessages(msgs []Message) bool {
	return longestValidPrefix(msgs) == len(msgs)
}

// longestValidPrefix scans forward and returns the length of the longest
// valid prefix of msgs.
func longestValidPrefix(msgs []Message) int {
	seenCalls := make(map[string]bool)
	var lastTS int64
	for i, m := range msgs {
		if m.ID == "" || m.Role == "" || len(m.Parts) == 0 || m.Timestamp <= 0 || m.Timestamp < lastTS {
			return i
		}
		lastTS = m.Timestamp
		for _, p := range m.Parts {
			if p.Type == PartToolResult && !seenCalls[p.ToolCallID] {
				return i
			}
		}
		if m.Role == RoleAssistant {
			for _, p := range m.Parts {
				if p.Type == PartToolCall {
					seenCalls[p.ToolCallID] = true
				}
			}
		}
	}
	return len(msgs)
}

// Snapshot records the current messages as the last-known-good state used
// by RecoverContext's final fallback.
func (a *Autonomy) Snapshot(msgs []Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastGood = append(a.lastGood[:0], msgs...)
}

// RecoveryAction describes what RecoverContext did.
type RecoveryAction string

const (
	RecoveryNone     RecoveryAction = "none"
	RecoveryTruncate RecoveryAction = "truncated_to_valid_prefix"
	RecoverySnapshot RecoveryAction = "restored_snapshot"
	RecoveryFresh    RecoveryAction = "started_fresh"
)

// RecoverContext repairs a possibly corrupted message sequence. The whole
// sequence valid: no change. A non-empty prefix valid: truncate to it.
// Otherwise restore the last-known-good snapshot if held, else start fresh.
func (a *Autonomy) RecoverContext(state *AgentState) RecoveryAction {
	n := longestValidPrefix(state.Messages)
	if n == len(state.Messages) {
		return RecoveryNone
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case n > 0:
		a.cfg.Logger.Warn("context corrupted, truncating to valid prefix",
			"valid", n, "total", len(state.Messages))
		state.Messages = state.Messages[:n]
		return RecoveryTruncate
	case len(a.lastGood) > 0:
		a.cfg.Logger.Warn("context corrupted, restoring snapshot",
			"snapshot_len", len(a.lastGood))
		state.Messages = append([]Message(nil), a.lastGood...)
		return RecoverySnapshot
	default:
		a.cfg.Logger.Warn("context corrupted, starting fresh")
		state.Messages = nil
		return RecoveryFresh
	}
}

// --- Health thresholds ---

// RecordTurn appends a turn metric to the sliding window.
func (a *Autonomy) RecordTurn(m TurnMetric) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.window = append(a.window, m)
	if len(a.window) > a.cfg.HealthWindow {
		a.window = a.window[len(a.window)-a.cfg.HealthWindow:]
	}
}

// HealthWarnings evaluates the sliding window against the thresholds.
func (a *Autonomy) HealthWarnings() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.window) == 0 {
		return nil
	}
	var (
		errored  int
		latency  time.Duration
		utilMax  float64
		warnings []string
	)
	for _, m := range a.window {
		if m.Errored {
			errored++
		}
		latency += m.Latency
		if m.ContextUtilization > utilMax {
			utilMax = m.ContextUtilization
		}
	}
	if rate := float64(errored) / float64(len(a.window)); rate >= a.cfg.ErrorRateWarning {
		warnings = append(warnings, "error rate high")
	}
	if avg := latency / time.Duration(len(a.window)); avg >= a.cfg.LatencyWarning {
		warnings = append(warnings, "average latency high")
	}
	if utilMax >= a.cfg.ContextUtilizationWarning {
		warnings = append(warnings, "context utilization high")
	}
	return warnings
}
