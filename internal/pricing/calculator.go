package pricing

import (
	"strings"
	"sync"
)

// ModelPricing defines the pricing for a model served behind the gateway.
type ModelPricing struct {
	Model           string  `yaml:"model"`              // model name, supports a trailing wildcard ("llama*")
	InputCostPer1K  float64 `yaml:"input_cost_per_1k"`  // USD per 1000 input tokens
	OutputCostPer1K float64 `yaml:"output_cost_per_1k"` // USD per 1000 output tokens
}

// DefaultPricing holds illustrative prices for the models typically deployed
// on the MaaS stack. Self-hosted models have no list price, so these are
// internal chargeback rates in USD per 1000 tokens.
var DefaultPricing = []ModelPricing{
	{Model: "vllm-simulator", InputCostPer1K: 0.0001, OutputCostPer1K: 0.0002},
	{Model: "qwen3-0.6b-instruct", InputCostPer1K: 0.0002, OutputCostPer1K: 0.0004},
	{Model: "qwen3-0-6b-instruct", InputCostPer1K: 0.0002, OutputCostPer1K: 0.0004},
	{Model: "qwen*", InputCostPer1K: 0.0005, OutputCostPer1K: 0.001},
	{Model: "llama2-7b", InputCostPer1K: 0.0002, OutputCostPer1K: 0.0002},
	{Model: "llama-3*", InputCostPer1K: 0.0002, OutputCostPer1K: 0.0002},
	{Model: "llama*", InputCostPer1K: 0.0003, OutputCostPer1K: 0.0003},
	{Model: "granite*", InputCostPer1K: 0.0002, OutputCostPer1K: 0.0003},
	{Model: "mistral*", InputCostPer1K: 0.001, OutputCostPer1K: 0.003},
}

// Calculator calculates the estimated cost of model usage.
type Calculator struct {
	mu      sync.RWMutex
	pricing map[string]ModelPricing
}

// NewCalculator creates a new pricing calculator.
// If no pricing is provided, uses DefaultPricing.
func NewCalculator(pricing []ModelPricing) *Calculator {
	if pricing == nil {
		pricing = DefaultPricing
	}

	c := &Calculator{
		pricing: make(map[string]ModelPricing),
	}

	for _, p := range pricing {
		c.pricing[p.Model] = p
	}

	return c
}

// Calculate returns the cost for the given model and token counts.
// Returns 0 if the model is not found in the pricing data.
func (c *Calculator) Calculate(model string, inputTokens, outputTokens int) float64 {
	pricing, ok := c.findPricing(model)
	if !ok {
		return 0
	}

	inputCost := float64(inputTokens) / 1000.0 * pricing.InputCostPer1K
	outputCost := float64(outputTokens) / 1000.0 * pricing.OutputCostPer1K

	return inputCost + outputCost
}

// findPricing tries an exact match first, then the longest wildcard prefix.
func (c *Calculator) findPricing(model string) (ModelPricing, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	modelLower := strings.ToLower(model)

	for pattern, p := range c.pricing {
		if strings.EqualFold(pattern, model) {
			return p, true
		}
	}

	var bestMatch *ModelPricing
	var bestMatchLen int

	for pattern, p := range c.pricing {
		if strings.HasSuffix(pattern, "*") {
			prefix := strings.ToLower(strings.TrimSuffix(pattern, "*"))
			if strings.HasPrefix(modelLower, prefix) && len(prefix) > bestMatchLen {
				pCopy := p
				bestMatch = &pCopy
				bestMatchLen = len(prefix)
			}
		}
	}

	if bestMatch != nil {
		return *bestMatch, true
	}

	return ModelPricing{}, false
}

// AddPricing adds or updates pricing for a specific model.
func (c *Calculator) AddPricing(pricing ModelPricing) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pricing[pricing.Model] = pricing
}

// GetPricing retrieves the pricing for a model.
func (c *Calculator) GetPricing(model string) (ModelPricing, bool) {
	return c.findPricing(model)
}
