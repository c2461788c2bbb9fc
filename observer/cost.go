package observer

import (
	"github.com/samskara-labs/chitragupta"
)

// ModelPricing holds per-million-token pricing for a model.
type ModelPricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// DefaultPricing contains sensible defaults for common models. Users can
// override or extend via [observer.pricing] in chitragupta.toml. Local
// models cost nothing.
var DefaultPricing = map[string]ModelPricing{
	// Anthropic
	"claude-sonnet-4-5": {3.00, 15.00},
	"claude-haiku-3-5":  {0.80, 4.00},
	"claude-opus-4":     {15.00, 75.00},

	// OpenAI
	"gpt-4o":       {2.50, 10.00},
	"gpt-4o-mini":  {0.15, 0.60},
	"gpt-4.1":      {2.00, 8.00},
	"gpt-4.1-mini": {0.40, 1.60},
	"o3-mini":      {1.10, 4.40},

	// Ollama
	"llama3.2": {0.0, 0.0},
	"qwen2.5":  {0.0, 0.0},
}

// CostCalculator computes USD cost from token usage.
type CostCalculator struct {
	pricing map[string]ModelPricing
}

// NewCostCalculator creates a calculator with default pricing, optionally merged with overrides.
func NewCostCalculator(overrides map[string]ModelPricing) *CostCalculator {
	merged := make(map[string]ModelPricing, len(DefaultPricing)+len(overrides))
	for k, v := range DefaultPricing {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return &CostCalculator{pricing: merged}
}

// Calculate returns the cost in USD for the given model and usage. Cache
// reads bill at a tenth of input, writes at 1.25x, the common vendor
// convention. Returns 0.0 for unknown models.
func (c *CostCalculator) Calculate(model string, u chitragupta.Usage) float64 {
	p, ok := c.pricing[model]
	if !ok {
		return 0.0
	}
	const million = 1_000_000
	return float64(u.InputTokens)/million*p.InputPerMillion +
		float64(u.OutputTokens)/million*p.OutputPerMillion +
		float64(u.CacheReadTokens)/million*p.InputPerMillion*0.1 +
		float64(u.CacheWriteTokens)/million*p.InputPerMillion*1.25
}
