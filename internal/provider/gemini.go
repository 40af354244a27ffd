package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nexuslab/dispatch/internal/dispatch/classify"
)

// Gemini calls the Google Generative Language API.
type Gemini struct {
	httpCore
	APIBase string
	Model   string
	Rate    float64
}

// NewGemini creates the client with public-API defaults.
func NewGemini(apiBase, model string, rate float64, timeout time.Duration) *Gemini {
	if apiBase == "" {
		apiBase = "https://generativelanguage.googleapis.com/v1beta"
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	if rate <= 0 {
		rate = 0.002
	}
	return &Gemini{httpCore: newHTTPCore(timeout), APIBase: apiBase, Model: model, Rate: rate}
}

func (p *Gemini) Name() string          { return "gemini" }
func (p *Gemini) DefaultModel() string  { return p.Model }
func (p *Gemini) CostPer1kUSD() float64 { return p.Rate }

// Generate executes one generateContent call.
func (p *Gemini) Generate(ctx context.Context, apiKey string, req Request) (*Response, *classify.ClassifiedError) {
	model := req.Model
	if model == "" {
		model = p.Model
	}

	start := time.Now()
	data, ce := p.postJSON(ctx,
		fmt.Sprintf("%s/models/%s:generateContent", strings.TrimRight(p.APIBase, "/"), model),
		map[string]string{"x-goog-api-key": apiKey},
		map[string]any{
			"contents": []map[string]any{
				{"parts": []map[string]any{{"text": req.Prompt}}},
			},
			"generationConfig": map[string]any{
				"maxOutputTokens": req.MaxOutputTokens,
				"temperature":     req.Temperature,
			},
		},
	)
	if ce != nil {
		return nil, ce
	}

	return &Response{
		Provider: p.Name(),
		Model:    model,
		Text:     extractGeminiText(data),
		Latency:  time.Since(start),
		Usage:    extractGeminiUsage(data),
	}, nil
}

// extractGeminiText reads candidates[0].content.parts[].text.
func extractGeminiText(data map[string]any) string {
	if candidates, ok := data["candidates"].([]any); ok && len(candidates) > 0 {
		if cand, ok := candidates[0].(map[string]any); ok {
			if content, ok := cand["content"].(map[string]any); ok {
				if parts, ok := content["parts"].([]any); ok {
					var out []string
					for _, part := range parts {
						pm, ok := part.(map[string]any)
						if !ok {
							continue
						}
						if t, ok := pm["text"].(string); ok && strings.TrimSpace(t) != "" {
							out = append(out, t)
						}
					}
					if len(out) > 0 {
						return strings.Join(out, "\n")
					}
				}
			}
		}
	}
	raw, _ := json.Marshal(data)
	return string(raw)
}

func extractGeminiUsage(data map[string]any) *Usage {
	u, ok := data["usageMetadata"].(map[string]any)
	if !ok {
		return nil
	}
	in := asInt(u["promptTokenCount"])
	out := asInt(u["candidatesTokenCount"])
	if in == 0 && out == 0 {
		return nil
	}
	return &Usage{TokensIn: in, TokensOut: out}
}
