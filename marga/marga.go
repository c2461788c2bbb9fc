// Package marga is the routing pipeline: it classifies a user message into
// a task type and complexity, binds the pair to a provider/model, and
// attaches an escalation chain. Decisions are deterministic and cheap:
// no model call is made to route.
package marga

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"
)

// Sink receives decisions for a persisted audit trail. The relational
// stores implement it.
type Sink interface {
	SaveDecision(ctx context.Context, sessionID string, d Decision) error
}

// ContractVersion identifies the Decision schema.
const ContractVersion = "1.1"

// TaskType is the closed set of routable task categories.
type TaskType string

const (
	TaskCodeGen    TaskType = "code-gen"
	TaskChat       TaskType = "chat"
	TaskReasoning  TaskType = "reasoning"
	TaskSearch     TaskType = "search"
	TaskFileOp     TaskType = "file-op"
	TaskHeartbeat  TaskType = "heartbeat"
	TaskSmalltalk  TaskType = "smalltalk"
	TaskSummarize  TaskType = "summarize"
	TaskTranslate  TaskType = "translate"
	TaskEmbedding  TaskType = "embedding"
	TaskMemory     TaskType = "memory"
	TaskVision     TaskType = "vision"
	TaskToolExec   TaskType = "tool-exec"
	TaskAPICall    TaskType = "api-call"
	TaskCompaction TaskType = "compaction"
)

// Resolution is how the decision should be executed.
type Resolution string

const (
	ResolveLLM          Resolution = "llm"
	ResolveLLMWithTools Resolution = "llm-with-tools"
	ResolveToolOnly     Resolution = "tool-only"
	ResolveLocalCompute Resolution = "local-compute"
	ResolveEmbedding    Resolution = "embedding"
)

// Complexity is the estimated effort class of the message.
type Complexity string

const (
	Trivial Complexity = "trivial"
	Simple  Complexity = "simple"
	Medium  Complexity = "medium"
	Complex Complexity = "complex"
	Expert  Complexity = "expert"
)

// complexityRank orders complexity levels for minimum enforcement and
// binding lookup.
var complexityRank = map[Complexity]int{
	Trivial: 0, Simple: 1, Medium: 2, Complex: 3, Expert: 4,
}

// Health is one provider's reported health.
type Health struct {
	Healthy bool   `json:"healthy"`
	Status  string `json:"status"`
	Note    string `json:"note,omitempty"`
}

// Input is everything the pipeline considers for one decision.
type Input struct {
	Message        string
	ToolsAvailable bool
	ImagesPresent  bool
	ProviderHealth map[string]Health

	// Strategy selects the binding table; empty means hybrid.
	Strategy Strategy
	// Bindings overrides the strategy's table when non-nil.
	Bindings *BindingTable
	// TemperatureHook adjusts the per-task base temperature when non-nil.
	TemperatureHook func(task TaskType, base float64) float64
}

// Decision is the routing verdict. Contract version 1.1.
type Decision struct {
	ContractVersion string         `json:"contractVersion"`
	ProviderID      string         `json:"providerId"`
	ModelID         string         `json:"modelId"`
	TaskType        TaskType       `json:"taskType"`
	Resolution      Resolution     `json:"resolution"`
	Complexity      Complexity     `json:"complexity"`
	Temperature     *float64       `json:"temperature,omitempty"`
	SkipLLM         bool           `json:"skipLLM"`
	EscalationChain []Tier         `json:"escalationChain"`
	Rationale       string         `json:"rationale"`
	Confidence      float64        `json:"confidence"`
	Abstain         bool           `json:"abstain"`
	AbstainReason   string         `json:"abstainReason,omitempty"`
	CheckinSubtype  string         `json:"checkinSubtype,omitempty"`
	SecondaryTask   TaskType       `json:"secondaryTaskType,omitempty"`
	HealthHints     []string       `json:"providerHealthHints,omitempty"`
	Details         map[string]any `json:"details,omitempty"`
	DecisionTimeMs  int64          `json:"decisionTimeMs"`
}

// skipLLMTasks short-circuit the provider: the caller serves them from a
// tool, the index, or local compute, and the stream is synthesized.
var skipLLMTasks = map[TaskType]bool{
	TaskSearch:     true,
	TaskMemory:     true,
	TaskFileOp:     true,
	TaskHeartbeat:  true,
	TaskSmalltalk:  true,
	TaskAPICall:    true,
	TaskCompaction: true,
}

// baseTemperature is the per-task sampling temperature before the caller's
// hook runs.
var baseTemperature = map[TaskType]float64{
	TaskCodeGen:   0.2,
	TaskReasoning: 0.5,
	TaskChat:      0.7,
	TaskSmalltalk: 0.8,
	TaskSummarize: 0.3,
	TaskTranslate: 0.3,
	TaskVision:    0.4,
	TaskToolExec:  0.2,
}

// Route produces a routing decision for one message. It is pure with
// respect to its input and completes well under the 150ms budget.
func Route(in Input) Decision {
	start := time.Now()

	task, second, taskConf, abstain, checkin := classifyTask(in)
	complexity, cxConf := classifyComplexity(in.Message, in.ToolsAvailable, task)

	table := in.Bindings
	if table == nil {
		table = TableFor(in.Strategy)
	}
	binding := table.Lookup(task, complexity)

	d := Decision{
		ContractVersion: ContractVersion,
		ProviderID:      binding.Provider,
		ModelID:         binding.Model,
		TaskType:        task,
		Resolution:      binding.Resolution,
		Complexity:      complexity,
		SkipLLM:         skipLLMTasks[task],
		EscalationChain: chainAbove(binding.TierIndex),
		Confidence:      combinedConfidence(taskConf, cxConf),
		SecondaryTask:   second,
		CheckinSubtype:  checkin,
		Details: map[string]any{
			"taskConfidence":       taskConf,
			"complexityConfidence": cxConf,
			"tierIndex":            binding.TierIndex,
		},
	}
	if abstain {
		d.Abstain = true
		d.AbstainReason = "near_tie_top2"
	}
	if in.ToolsAvailable && d.Resolution == ResolveLLM && task == TaskToolExec {
		d.Resolution = ResolveLLMWithTools
	}

	if base, ok := baseTemperature[task]; ok {
		if in.TemperatureHook != nil {
			base = in.TemperatureHook(task, base)
		}
		d.Temperature = &base
	}

	if h, ok := in.ProviderHealth[d.ProviderID]; ok && !h.Healthy {
		hint := fmt.Sprintf("provider %s unhealthy (%s)", d.ProviderID, h.Status)
		if h.Note != "" {
			hint += ": " + h.Note
		}
		d.HealthHints = append(d.HealthHints, hint)
	}

	d.Rationale = fmt.Sprintf("%s/%s -> %s %s via %s",
		task, complexity, d.ProviderID, d.ModelID, d.Resolution)
	d.DecisionTimeMs = time.Since(start).Milliseconds()
	return d
}

// combinedConfidence is the geometric mean of the two sub-confidences,
// clamped to [0.5, 1.0].
func combinedConfidence(taskConf, cxConf float64) float64 {
	c := math.Sqrt(taskConf * cxConf)
	if c < 0.5 {
		return 0.5
	}
	if c > 1.0 {
		return 1.0
	}
	return c
}

// topTwo returns the two highest-scoring entries of scores, preferring
// higher priority on equal score.
func topTwo(scores []scoredTask) (best, second scoredTask) {
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].score != scores[j].score {
			return scores[i].score > scores[j].score
		}
		return scores[i].priority > scores[j].priority
	})
	best = scores[0]
	if len(scores) > 1 {
		second = scores[1]
	}
	return best, second
}
