// Package provider implements the external compute provider clients.
//
// This package contains:
//   - Caller interface: core abstraction for one provider endpoint
//   - HTTP implementations for the supported provider APIs
//   - Response/usage types shared with the fallback client
package provider

import (
	"context"
	"time"

	"github.com/nexuslab/dispatch/internal/dispatch/classify"
)

// Request is one generation request, already normalized by the caller.
type Request struct {
	Model           string
	Prompt          string
	MaxOutputTokens int
	Temperature     float64
}

// Usage is the token accounting a provider reported, when it reported any.
type Usage struct {
	TokensIn  int
	TokensOut int
}

// Response is a successful provider call.
type Response struct {
	Provider string
	Model    string
	Text     string
	Latency  time.Duration
	Usage    *Usage
}

// Caller is one provider endpoint. Generate returns either a response or a
// classified error, never a raw transport error.
type Caller interface {
	// Name is the stable provider identifier used for breaker, rate
	// limiter, credential and ledger keys.
	Name() string
	// DefaultModel is used when the request does not pin a model.
	DefaultModel() string
	// CostPer1kUSD is the budget-estimation rate for this provider.
	CostPer1kUSD() float64
	// Generate executes one bounded call.
	Generate(ctx context.Context, apiKey string, req Request) (*Response, *classify.ClassifiedError)
}
