package chitragupta

import (
	"context"
	"sync"
)

// ThinkingBudget enables extended reasoning with a token budget.
type ThinkingBudget struct {
	Enabled      bool
	BudgetTokens int
}

// StreamOptions carries per-call provider parameters. The cancellation
// signal rides on the context passed to Stream.
type StreamOptions struct {
	// Temperature overrides the provider default when non-nil.
	Temperature *float64
	// Thinking requests a reasoning budget.
	Thinking ThinkingBudget
	// DiscloseTools controls whether Tools are sent with the request.
	DiscloseTools bool
	// Tools are the definitions disclosed to the model.
	Tools []ToolDefinition
}

// StreamProvider opens a unidirectional event stream for one model call.
//
// Stream guarantees: a start event precedes all others; at most one done;
// after done or error no further events arrive and the channel is closed.
// Cancellation is observed at suspension points between events.
type StreamProvider interface {
	// ID returns the provider id (e.g. "anthropic", "ollama").
	ID() string
	// Stream opens the event stream for one call to model.
	Stream(ctx context.Context, model string, msgs []Message, opts StreamOptions) (<-chan StreamEvent, error)
}

// ModelInfo describes one model a provider serves. Prices are USD per
// million tokens.
type ModelInfo struct {
	ID            string
	ContextWindow int
	InputPrice    float64
	OutputPrice   float64
}

// ProviderDefinition binds a stream factory to its model descriptors. It is
// a value: registries copy it freely and never reflect over it.
type ProviderDefinition struct {
	ID       string
	Models   []ModelInfo
	Provider StreamProvider
}

// ProviderRegistry holds provider definitions keyed by id.
type ProviderRegistry struct {
	mu       sync.RWMutex
	defs     map[string]ProviderDefinition
	breakers *BreakerRegistry
}

// NewProviderRegistry creates an empty registry sharing one breaker per
// provider id.
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		defs:     make(map[string]ProviderDefinition),
		breakers: NewBreakerRegistry(BreakerConfig{}),
	}
}

// Register adds or replaces a provider definition.
func (r *ProviderRegistry) Register(def ProviderDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if def.ID == "" {
		def.ID = def.Provider.ID()
	}
	r.defs[def.ID] = def
}

// Get returns the definition for id.
func (r *ProviderRegistry) Get(id string) (ProviderDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[id]
	return def, ok
}

// Breaker returns the circuit breaker for a provider id.
func (r *ProviderRegistry) Breaker(id string) *CircuitBreaker {
	return r.breakers.Get(id)
}

// IDs returns all registered provider ids.
func (r *ProviderRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.defs))
	for id := range r.defs {
		ids = append(ids, id)
	}
	return ids
}

// CostFor computes the cost breakdown for usage against a model's pricing.
// Unknown models cost zero.
func (r *ProviderRegistry) CostFor(providerID, modelID string, u Usage) CostBreakdown {
	def, ok := r.Get(providerID)
	if !ok {
		return CostBreakdown{Currency: "USD"}
	}
	for _, m := range def.Models {
		if m.ID == modelID {
			const million = 1_000_000
			return CostBreakdown{
				Input:  float64(u.InputTokens) * m.InputPrice / million,
				Output: float64(u.OutputTokens) * m.OutputPrice / million,
				// Cache reads bill at a tenth of input, writes at 1.25x,
				// the common vendor convention.
				CacheRead:  float64(u.CacheReadTokens) * m.InputPrice * 0.1 / million,
				CacheWrite: float64(u.CacheWriteTokens) * m.InputPrice * 1.25 / million,
			}.Sum()
		}
	}
	return CostBreakdown{Currency: "USD"}
}
