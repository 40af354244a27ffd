package provider

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/nexuslab/dispatch/internal/dispatch/classify"
)

// Anthropic calls the Anthropic Messages API.
type Anthropic struct {
	httpCore
	APIBase string
	Model   string
	Rate    float64
}

// NewAnthropic creates the client with public-API defaults.
func NewAnthropic(apiBase, model string, rate float64, timeout time.Duration) *Anthropic {
	if apiBase == "" {
		apiBase = "https://api.anthropic.com/v1"
	}
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}
	if rate <= 0 {
		rate = 0.012
	}
	return &Anthropic{httpCore: newHTTPCore(timeout), APIBase: apiBase, Model: model, Rate: rate}
}

func (p *Anthropic) Name() string          { return "anthropic" }
func (p *Anthropic) DefaultModel() string  { return p.Model }
func (p *Anthropic) CostPer1kUSD() float64 { return p.Rate }

// Generate executes one Messages API call.
func (p *Anthropic) Generate(ctx context.Context, apiKey string, req Request) (*Response, *classify.ClassifiedError) {
	model := req.Model
	if model == "" {
		model = p.Model
	}

	start := time.Now()
	data, ce := p.postJSON(ctx,
		strings.TrimRight(p.APIBase, "/")+"/messages",
		map[string]string{
			"x-api-key":         apiKey,
			"anthropic-version": "2023-06-01",
		},
		map[string]any{
			"model":      model,
			"max_tokens": req.MaxOutputTokens,
			"messages": []map[string]any{
				{"role": "user", "content": req.Prompt},
			},
			"temperature": req.Temperature,
		},
	)
	if ce != nil {
		return nil, ce
	}

	return &Response{
		Provider: p.Name(),
		Model:    model,
		Text:     extractAnthropicText(data),
		Latency:  time.Since(start),
		Usage:    extractUsage(data, "input_tokens", "output_tokens"),
	}, nil
}

func extractAnthropicText(data map[string]any) string {
	var parts []string
	if content, ok := data["content"].([]any); ok {
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
	if len(parts) > 0 {
		return strings.Join(parts, "\n")
	}
	raw, _ := json.Marshal(data)
	return string(raw)
}
