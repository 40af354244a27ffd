package provider

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/nexuslab/dispatch/internal/dispatch/classify"
)

// OpenAI calls the OpenAI Responses API.
type OpenAI struct {
	httpCore
	APIBase string
	Model   string
	Rate    float64
}

// NewOpenAI creates the client. Zero values default to the public API base,
// gpt-4o-mini, and the conservative billing rate.
func NewOpenAI(apiBase, model string, rate float64, timeout time.Duration) *OpenAI {
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	if rate <= 0 {
		rate = 0.010
	}
	return &OpenAI{httpCore: newHTTPCore(timeout), APIBase: apiBase, Model: model, Rate: rate}
}

func (p *OpenAI) Name() string          { return "openai" }
func (p *OpenAI) DefaultModel() string  { return p.Model }
func (p *OpenAI) CostPer1kUSD() float64 { return p.Rate }

// Generate executes one Responses API call.
func (p *OpenAI) Generate(ctx context.Context, apiKey string, req Request) (*Response, *classify.ClassifiedError) {
	model := req.Model
	if model == "" {
		model = p.Model
	}

	start := time.Now()
	data, ce := p.postJSON(ctx,
		strings.TrimRight(p.APIBase, "/")+"/responses",
		map[string]string{"Authorization": "Bearer " + apiKey},
		map[string]any{
			"model":             model,
			"input":             req.Prompt,
			"max_output_tokens": req.MaxOutputTokens,
			"temperature":       req.Temperature,
			"store":             false,
		},
	)
	if ce != nil {
		return nil, ce
	}

	return &Response{
		Provider: p.Name(),
		Model:    model,
		Text:     extractOpenAIText(data),
		Latency:  time.Since(start),
		Usage:    extractUsage(data, "input_tokens", "output_tokens"),
	}, nil
}

// extractOpenAIText collects the text blocks from a Responses API output
// list, falling back to the raw body when the shape is unexpected.
func extractOpenAIText(data map[string]any) string {
	var parts []string
	if output, ok := data["output"].([]any); ok {
		for _, item := range output {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			content, ok := m["content"].([]any)
			if !ok {
				continue
			}
			for _, block := range content {
				bm, ok := block.(map[string]any)
				if !ok {
					continue
				}
				if t, ok := bm["text"].(string); ok && strings.TrimSpace(t) != "" {
					parts = append(parts, t)
				}
			}
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, "\n")
	}
	if t, ok := data["output_text"].(string); ok && strings.TrimSpace(t) != "" {
		return t
	}
	raw, _ := json.Marshal(data)
	return string(raw)
}

// extractUsage reads a usage object keyed by the given in/out field names.
func extractUsage(data map[string]any, inKey, outKey string) *Usage {
	u, ok := data["usage"].(map[string]any)
	if !ok {
		return nil
	}
	in := asInt(u[inKey])
	out := asInt(u[outKey])
	if in == 0 && out == 0 {
		return nil
	}
	return &Usage{TokensIn: in, TokensOut: out}
}
