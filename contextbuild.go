package chitragupta

// maxToolResultContextLen is the rune budget for a single tool result kept
// verbatim when the context is compacted. Older results beyond the budget
// are truncated with a marker so the model knows content was trimmed.
const maxToolResultContextLen = 4_000

// defaultCompactThreshold is the total rune count at which context
// compaction triggers.
const defaultCompactThreshold = 200_000

// buildContext assembles the provider message sequence for one turn:
// system prompt first, then the (optionally compacted) history. Steering
// splices arrive in the history before this is called.
func buildContext(state *AgentState, compactThreshold int) []Message {
	msgs := make([]Message, 0, len(state.Messages)+1)
	if state.SystemPrompt != "" {
		msgs = append(msgs, Message{
			ID:        "system",
			Role:      RoleSystem,
			Timestamp: 1,
			Parts:     []ContentPart{TextPart(state.SystemPrompt)},
		})
	}
	history := state.Messages
	threshold := compactThreshold
	if threshold <= 0 {
		threshold = defaultCompactThreshold
	}
	if contextRunes(history) > threshold {
		history = compactMessages(history)
	}
	return append(msgs, history...)
}

// contextRunes returns the total rune count across message text, results,
// and tool arguments.
func contextRunes(msgs []Message) int {
	var n int
	for _, m := range msgs {
		for _, p := range m.Parts {
			n += len([]rune(p.Text)) + len([]rune(p.Content)) + len(p.Args)
		}
	}
	return n
}

// compactMessages truncates old tool_result contents, keeping the last two
// assistant tool-call rounds intact. Deterministic: no LLM call, so the
// compacted context is reproducible. Returns a new slice; the input is not
// modified.
func compactMessages(msgs []Message) []Message {
	// Find the boundary of the last two tool-call rounds, walking backwards.
	rounds := 0
	preserveFrom := len(msgs)
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleAssistant && len(msgs[i].ToolCalls()) > 0 {
			rounds++
			if rounds >= 2 {
				preserveFrom = i
				break
			}
		}
	}

	out := make([]Message, len(msgs))
	copy(out, msgs)
	for i := 0; i < preserveFrom; i++ {
		m := out[i]
		var changed bool
		parts := make([]ContentPart, len(m.Parts))
		copy(parts, m.Parts)
		for j, p := range parts {
			if p.Type == PartToolResult && len([]rune(p.Content)) > maxToolResultContextLen {
				r := []rune(p.Content)
				parts[j].Content = string(r[:maxToolResultContextLen]) + "\n\n[output truncated]"
				changed = true
			}
		}
		if changed {
			m.Parts = parts
			out[i] = m
		}
	}
	return out
}
