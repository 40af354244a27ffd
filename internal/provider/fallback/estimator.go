package fallback

import "math"

// charsPerToken is a conservative mixed-language ratio; English-only rules
// undercount multi-byte scripts.
const charsPerToken = 3.2

// EstimateTokens approximates the token count of text when the provider
// reports no usage.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return int(math.Max(1, math.Ceil(float64(len(text))/charsPerToken)))
}

// EstimateCostUSD projects the cost of a call from its token estimate and a
// per-1k-token rate.
func EstimateCostUSD(promptTokens, completionTokens int, per1kUSD float64) float64 {
	return (float64(promptTokens+completionTokens) / 1000.0) * per1kUSD
}
