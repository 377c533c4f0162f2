package llm

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// modelCosts maps model-name prefixes to USD cost per 1K tokens. Longest
// matching prefix wins; unknown models cost zero.
var modelCosts = []struct {
	prefix string
	input  float64
	output float64
}{
	{"gpt-4.1-mini", 0.0004, 0.0016},
	{"gpt-4.1", 0.002, 0.008},
	{"gpt-4o-mini", 0.00015, 0.0006},
	{"gpt-4o", 0.0025, 0.01},
	{"o3", 0.002, 0.008},
	{"claude-3-5-haiku", 0.0008, 0.004},
	{"claude-sonnet", 0.003, 0.015},
	{"claude-opus", 0.015, 0.075},
	{"claude", 0.003, 0.015},
}

// EstimateTokens counts tokens with the cl100k_base encoding, falling back to
// a word count when the encoder cannot be loaded (offline environments).
func EstimateTokens(text string) int {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return len(strings.Fields(text))
	}
	return len(enc.Encode(text, nil, nil))
}

// EstimateCost returns the USD cost of a completion, zero for unknown models.
func EstimateCost(model string, usage Usage) float64 {
	name := model
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		// OpenRouter ids carry a vendor prefix.
		name = name[idx+1:]
	}
	for _, c := range modelCosts {
		if strings.HasPrefix(name, c.prefix) {
			return float64(usage.InputTokens)/1000*c.input + float64(usage.OutputTokens)/1000*c.output
		}
	}
	return 0
}
