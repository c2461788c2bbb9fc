package marga

// Strategy selects how (task, complexity) pairs bind to providers.
type Strategy string

const (
	// StrategyLocal prefers on-host models at every tier.
	StrategyLocal Strategy = "local"
	// StrategyCloud prefers hosted tiers throughout.
	StrategyCloud Strategy = "cloud"
	// StrategyHybrid serves small tasks locally and escalates to cloud as
	// complexity grows. The default.
	StrategyHybrid Strategy = "hybrid"
)

// Tier is one rung of the global escalation ladder.
type Tier struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// escalationTiers is the global 7-tier ladder, weakest local first,
// strongest cloud last.
var escalationTiers = []Tier{
	{Provider: "local", Model: "qwen3:1.7b"},
	{Provider: "local", Model: "qwen3:8b"},
	{Provider: "local-gpu", Model: "qwen3:32b"},
	{Provider: "groq", Model: "llama-3.3-70b-versatile"},
	{Provider: "gemini", Model: "gemini-2.5-flash"},
	{Provider: "openai", Model: "gpt-4.1"},
	{Provider: "anthropic", Model: "claude-sonnet-4"},
}

// TierCount is the length of the escalation ladder.
const TierCount = 7

// chainAbove returns the tiers strictly stronger than idx; empty at the
// top rung.
func chainAbove(idx int) []Tier {
	if idx < 0 {
		idx = 0
	}
	if idx+1 >= len(escalationTiers) {
		return []Tier{}
	}
	chain := make([]Tier, len(escalationTiers)-idx-1)
	copy(chain, escalationTiers[idx+1:])
	return chain
}

// Binding is the selected execution target for a (task, complexity) pair.
type Binding struct {
	Provider   string
	Model      string
	Resolution Resolution
	// TierIndex positions the binding on the escalation ladder.
	TierIndex int
}

// BindingTable maps (task, complexity) to a binding, with a default for
// misses.
type BindingTable struct {
	Default  Binding
	Bindings map[TaskType]map[Complexity]Binding
}

// Lookup resolves the binding for (task, complexity), falling back to the
// task's strongest defined level, then the table default.
func (t *BindingTable) Lookup(task TaskType, level Complexity) Binding {
	byLevel, ok := t.Bindings[task]
	if !ok {
		return t.Default
	}
	if b, ok := byLevel[level]; ok {
		return b
	}
	// Miss within a known task: take the nearest defined level at or above.
	want := complexityRank[level]
	bestRank := -1
	var best Binding
	for l, b := range byLevel {
		r := complexityRank[l]
		if r >= want && (bestRank == -1 || r < bestRank) {
			best, bestRank = b, r
		}
	}
	if bestRank >= 0 {
		return best
	}
	return t.Default
}

// tierBinding builds a binding pinned to one ladder rung.
func tierBinding(idx int, res Resolution) Binding {
	t := escalationTiers[idx]
	return Binding{Provider: t.Provider, Model: t.Model, Resolution: res, TierIndex: idx}
}

// TableFor returns the binding table for a strategy. Skip-LLM tasks bind
// tool-only or local-compute regardless of strategy; the provider fields
// are advisory for them.
func TableFor(s Strategy) *BindingTable {
	switch s {
	case StrategyLocal:
		return buildTable(0, 1, 2, 2, 2)
	case StrategyCloud:
		return buildTable(3, 4, 4, 5, 6)
	default: // hybrid
		return buildTable(0, 1, 3, 5, 6)
	}
}

// buildTable lays out the five complexity rungs for each LLM-served task
// and the fixed non-LLM resolutions.
func buildTable(trivial, simple, medium, complexT, expert int) *BindingTable {
	ladder := map[Complexity]int{
		Trivial: trivial, Simple: simple, Medium: medium, Complex: complexT, Expert: expert,
	}
	llm := func() map[Complexity]Binding {
		m := make(map[Complexity]Binding, len(ladder))
		for level, idx := range ladder {
			m[level] = tierBinding(idx, ResolveLLM)
		}
		return m
	}
	fixed := func(b Binding) map[Complexity]Binding {
		m := make(map[Complexity]Binding, len(ladder))
		for level := range ladder {
			m[level] = b
		}
		return m
	}

	toolOnly := Binding{Provider: "none", Model: "none", Resolution: ResolveToolOnly, TierIndex: 0}
	localCompute := Binding{Provider: "local", Model: "none", Resolution: ResolveLocalCompute, TierIndex: 0}
	embedding := Binding{Provider: "local", Model: "nomic-embed-text", Resolution: ResolveEmbedding, TierIndex: 0}

	return &BindingTable{
		Default: tierBinding(ladder[Medium], ResolveLLM),
		Bindings: map[TaskType]map[Complexity]Binding{
			TaskCodeGen:   llm(),
			TaskChat:      llm(),
			TaskReasoning: llm(),
			TaskSummarize: llm(),
			TaskTranslate: llm(),
			TaskVision:    llm(),
			TaskToolExec:  llm(),

			TaskSearch:     fixed(localCompute),
			TaskFileOp:     fixed(toolOnly),
			TaskAPICall:    fixed(toolOnly),
			TaskHeartbeat:  fixed(localCompute),
			TaskSmalltalk:  fixed(localCompute),
			TaskMemory:     fixed(localCompute),
			TaskCompaction: fixed(localCompute),
			TaskEmbedding:  fixed(embedding),
		},
	}
}
