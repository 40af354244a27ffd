package provider

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/nexuslab/dispatch/internal/dispatch/classify"
)

// GLM calls the Zhipu GLM OpenAI-compatible chat completions API.
type GLM struct {
	httpCore
	APIBase string
	Model   string
	Rate    float64
}

// NewGLM creates the client with public-API defaults.
func NewGLM(apiBase, model string, rate float64, timeout time.Duration) *GLM {
	if apiBase == "" {
		apiBase = "https://open.bigmodel.cn/api/paas/v4"
	}
	if model == "" {
		model = "glm-4-flash"
	}
	if rate <= 0 {
		rate = 0.006
	}
	return &GLM{httpCore: newHTTPCore(timeout), APIBase: apiBase, Model: model, Rate: rate}
}

func (p *GLM) Name() string          { return "glm" }
func (p *GLM) DefaultModel() string  { return p.Model }
func (p *GLM) CostPer1kUSD() float64 { return p.Rate }

// Generate executes one chat completions call.
func (p *GLM) Generate(ctx context.Context, apiKey string, req Request) (*Response, *classify.ClassifiedError) {
	model := req.Model
	if model == "" {
		model = p.Model
	}

	start := time.Now()
	data, ce := p.postJSON(ctx,
		strings.TrimRight(p.APIBase, "/")+"/chat/completions",
		map[string]string{"Authorization": "Bearer " + apiKey},
		map[string]any{
			"model": model,
			"messages": []map[string]any{
				{"role": "user", "content": req.Prompt},
			},
			"max_tokens":  req.MaxOutputTokens,
			"temperature": req.Temperature,
		},
	)
	if ce != nil {
		return nil, ce
	}

	return &Response{
		Provider: p.Name(),
		Model:    model,
		Text:     extractGLMText(data),
		Latency:  time.Since(start),
		Usage:    extractUsage(data, "prompt_tokens", "completion_tokens"),
	}, nil
}

// extractGLMText reads choices[0].message.content.
func extractGLMText(data map[string]any) string {
	if choices, ok := data["choices"].([]any); ok && len(choices) > 0 {
		if choice, ok := choices[0].(map[string]any); ok {
			if msg, ok := choice["message"].(map[string]any); ok {
				if t, ok := msg["content"].(string); ok {
					return t
				}
			}
		}
	}
	raw, _ := json.Marshal(data)
	return string(raw)
}
