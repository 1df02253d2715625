package agent

// modelPricing holds per-1K-token USD prices for a model.
type modelPricing struct {
	Input  float64
	Output float64
}

// pricingTable maps model names to their per-1K-token prices. Unknown
// models fall back to defaultPricing.
var pricingTable = map[string]modelPricing{
	"gpt-4o":                 {Input: 0.0025, Output: 0.01},
	"gpt-4o-mini":            {Input: 0.00015, Output: 0.0006},
	"gpt-4-turbo":            {Input: 0.01, Output: 0.03},
	"gpt-3.5-turbo":          {Input: 0.0005, Output: 0.0015},
	"claude-3-5-sonnet":      {Input: 0.003, Output: 0.015},
	"claude-3-5-haiku":       {Input: 0.0008, Output: 0.004},
	"claude-3-opus":          {Input: 0.015, Output: 0.075},
	"text-embedding-3-small": {Input: 0.00002, Output: 0},
	"text-embedding-3-large": {Input: 0.00013, Output: 0},
}

var defaultPricing = modelPricing{Input: 0.001, Output: 0.002}

// estimateCost converts a total token count into a USD cost using a
// blended 70% input / 30% output split, since the provider reports only
// the total.
func estimateCost(model string, totalTokens int) float64 {
	p, ok := pricingTable[model]
	if !ok {
		p = defaultPricing
	}
	tokens := float64(totalTokens)
	return (tokens*0.7*p.Input + tokens*0.3*p.Output) / 1000
}
