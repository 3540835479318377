package accounting

import "strings"

// Pricing defines USD cost per 1M tokens for input/output.
type Pricing struct {
	InputPerM  float64
	OutputPerM float64
}

// DefaultPricing provides hardcoded USD pricing per 1M text tokens. Keys are
// model ids without vendor prefix; dated snapshots resolve through the
// longest matching prefix.
var DefaultPricing = map[string]Pricing{
	// Gemini (Standard; text).
	"gemini-2.5-pro":        {InputPerM: 1.25, OutputPerM: 10.00},
	"gemini-2.5-flash":      {InputPerM: 0.30, OutputPerM: 2.50},
	"gemini-2.5-flash-lite": {InputPerM: 0.10, OutputPerM: 0.40},
	"gemini-2.0-flash":      {InputPerM: 0.10, OutputPerM: 0.40},
	// OpenAI.
	"gpt-4o":       {InputPerM: 2.50, OutputPerM: 10.00},
	"gpt-4o-mini":  {InputPerM: 0.15, OutputPerM: 0.60},
	"gpt-4.1":      {InputPerM: 2.00, OutputPerM: 8.00},
	"gpt-4.1-mini": {InputPerM: 0.40, OutputPerM: 1.60},
	"gpt-4.1-nano": {InputPerM: 0.10, OutputPerM: 0.40},
}

// CostBreakdown is the USD cost of one call.
type CostBreakdown struct {
	Input  float64
	Output float64
	Total  float64
}

// resolvePricing returns the price for model and whether it was known.
func resolvePricing(table map[string]Pricing, model string) (Pricing, bool) {
	id := normalizeModel(model)
	if p, ok := table[id]; ok {
		return p, true
	}
	best := ""
	for k := range table {
		if strings.HasPrefix(id, k) && len(k) > len(best) {
			best = k
		}
	}
	if best == "" {
		return Pricing{}, false
	}
	return table[best], true
}

// computeCost converts token counts to USD using per-1M pricing. Negative
// counts are treated as zero.
func computeCost(p Pricing, inputTokens, outputTokens int) CostBreakdown {
	inputTokens, outputTokens = max(inputTokens, 0), max(outputTokens, 0)
	in := p.InputPerM * float64(inputTokens) / 1_000_000.0
	out := p.OutputPerM * float64(outputTokens) / 1_000_000.0
	return CostBreakdown{Input: in, Output: out, Total: in + out}
}

// normalizeModel strips a vendor prefix such as "openai/" or "models/".
func normalizeModel(model string) string {
	m := strings.ToLower(strings.TrimSpace(model))
	if i := strings.LastIndex(m, "/"); i >= 0 {
		m = m[i+1:]
	}
	return m
}
