// Package fallback executes one logical generation call against an ordered
// provider chain with rate, budget, dedupe and breaker gating, recording
// every attempt to the audit ledger.
package fallback

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/nexuslab/dispatch/internal/credential"
	"github.com/nexuslab/dispatch/internal/dispatch/classify"
	"github.com/nexuslab/dispatch/internal/dispatch/metrics"
	"github.com/nexuslab/dispatch/internal/ledger"
	"github.com/nexuslab/dispatch/internal/provider"
	"github.com/nexuslab/dispatch/internal/provider/breaker"
	"github.com/nexuslab/dispatch/internal/provider/budget"
	"github.com/nexuslab/dispatch/internal/provider/dedupe"
	"github.com/nexuslab/dispatch/internal/provider/ratelimit"
)

// Call is one logical request to the provider chain.
type Call struct {
	OrgID           string
	ProjectID       string
	Purpose         string
	Prompt          string
	MaxOutputTokens int
	Temperature     float64
	ProviderHint    string
	ModelHint       string
}

// Result is the typed outcome of a chain execution. Callers never see raw
// transport errors; FailureCode is from the closed classifier set.
type Result struct {
	OK          bool
	Disabled    bool
	Cached      bool
	Output      string
	Provider    string
	Model       string
	Error       string
	FailureCode string
	HTTPStatus  int
	RetryAfter  float64
	CostUSD     float64
}

// Config holds fallback client settings.
type Config struct {
	Enabled    bool          `yaml:"enabled"`
	Chain      []string      `yaml:"chain"`       // provider order, primary first
	MaxRetries int           `yaml:"max_retries"` // same-provider retries for retryable failures
	Timeout    time.Duration `yaml:"timeout"`
	Backoff    BackoffConfig `yaml:"backoff"`
}

// Client orchestrates the reliability gates around provider calls.
type Client struct {
	cfg       Config
	providers map[string]provider.Caller
	limiter   *ratelimit.Limiter
	budget    *budget.Governor
	cache     *dedupe.Cache
	breaker   *breaker.Breaker
	creds     credential.Resolver
	ledger    *ledger.Ledger

	sleep func(ctx context.Context, d time.Duration) error
}

// New wires the client. The providers map is keyed by Caller.Name().
func New(
	cfg Config,
	providers map[string]provider.Caller,
	limiter *ratelimit.Limiter,
	gov *budget.Governor,
	cache *dedupe.Cache,
	brk *breaker.Breaker,
	creds credential.Resolver,
	led *ledger.Ledger,
) *Client {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Backoff == (BackoffConfig{}) {
		cfg.Backoff = DefaultBackoff
	}
	if !cfg.Enabled {
		slog.Warn("provider calls disabled by config, every chat task will fail with PROVIDER_DISABLED")
	}
	return &Client{
		cfg:       cfg,
		providers: providers,
		limiter:   limiter,
		budget:    gov,
		cache:     cache,
		breaker:   brk,
		creds:     creds,
		ledger:    led,
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Fingerprint is the privacy-reduced prompt identifier written to the
// ledger: a short hash over at most the first 4000 bytes.
func Fingerprint(prompt string) string {
	if len(prompt) > 4000 {
		prompt = prompt[:4000]
	}
	h := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(h[:])[:16]
}

// chain returns the configured provider order with the hint promoted to the
// front, duplicates removed, order otherwise preserved.
func (c *Client) chain(hint string) []string {
	var names []string
	if hint != "" {
		names = append(names, hint)
	}
	names = append(names, c.cfg.Chain...)

	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

func (c *Client) reject(call Call, reason string) Result {
	metrics.PolicyRejects.WithLabelValues(reason).Inc()
	_ = c.ledger.Append(ledger.Entry{
		EventKind:   ledger.EventReject,
		Fingerprint: Fingerprint(call.Prompt),
		Extra:       map[string]any{"reason": reason, "purpose": call.Purpose},
	})
	return Result{OK: false, Error: reason, FailureCode: failureCodeForReject(reason)}
}

func failureCodeForReject(reason string) string {
	switch {
	case reason == "rate_limited":
		return classify.ProviderRateLimit
	default:
		return classify.ProviderDisabled
	}
}

// Execute runs the gate pipeline and the provider chain for one call.
func (c *Client) Execute(ctx context.Context, call Call) Result {
	if !c.cfg.Enabled {
		return Result{Disabled: true, Error: "provider calls disabled", FailureCode: classify.ProviderDisabled}
	}

	// 1. Global rate gate: fail fast, no queuing.
	if !c.limiter.Allow("") {
		return c.reject(call, "rate_limited")
	}

	fp := Fingerprint(call.Prompt)

	// 2. Dedupe: a fresh identical request costs nothing.
	key := dedupe.Key(call.OrgID, call.Purpose, call.ProviderHint, call.ModelHint, call.Prompt)
	if hit, ok := c.cache.Get(ctx, key, call.Purpose); ok {
		metrics.DedupeHits.WithLabelValues(purposeLabel(call.Purpose)).Inc()
		return Result{
			OK:       true,
			Cached:   true,
			Output:   hit.Text,
			Provider: hit.Provider,
			Model:    hit.Model,
		}
	}

	// 3. Budget reservation against the primary provider's rate.
	chain := c.chain(call.ProviderHint)
	if len(chain) == 0 {
		return Result{Disabled: true, Error: "no providers configured", FailureCode: classify.ProviderDisabled}
	}
	maxOut := call.MaxOutputTokens
	if maxOut <= 0 {
		maxOut = 512
	}
	promptTokens := EstimateTokens(call.Prompt)
	estCost := EstimateCostUSD(promptTokens, maxOut, c.rateFor(chain[0]))

	allowed, reason, err := c.budget.Reserve(ctx, estCost)
	if err != nil {
		slog.Error("budget reservation failed", "error", err)
	}
	if !allowed {
		return c.reject(call, reason)
	}
	if budget.SoftExceeded(reason) {
		// Degrade rather than reject: halve the requested output budget.
		maxOut /= 2
		slog.Warn("budget soft cap exceeded, degrading output size", "reason", reason, "max_output_tokens", maxOut)
	}
	if spent, err := c.budget.Spent(ctx); err == nil {
		metrics.BudgetSpentUSD.Set(spent)
	}

	var lastCE *classify.ClassifiedError
	for _, name := range chain {
		p, ok := c.providers[name]
		if !ok {
			continue
		}

		// 4a. Breaker gate.
		open := c.breaker.IsOpen(ctx, name)
		metrics.BreakerOpen.WithLabelValues(name).Set(boolGauge(open))
		if open {
			slog.Debug("skipping provider, breaker open", "provider", name)
			continue
		}

		// 4b. Credential gate.
		cred, found, err := c.creds.Resolve(ctx, call.OrgID, call.ProjectID, name)
		if err != nil {
			slog.Warn("credential resolution failed", "provider", name, "error", err)
			continue
		}
		if !found {
			lastCE = &classify.ClassifiedError{
				Code:    classify.ProviderDisabled,
				Message: fmt.Sprintf("no credential for provider %s", name),
			}
			continue
		}

		// Per-provider rate gate. The global bucket was charged in step 1.
		if !c.limiter.AllowProvider(name) {
			lastCE = &classify.ClassifiedError{
				Code:    classify.ProviderRateLimit,
				Message: fmt.Sprintf("provider %s rate limited locally", name),
			}
			continue
		}

		resp, ce := c.attemptProvider(ctx, p, cred.APIKey, call, maxOut, fp)
		if ce != nil {
			lastCE = ce
			continue
		}

		// 4d. Success: reconcile, ledger, cache, return.
		actualCost := c.actualCost(p, call.Prompt, resp)
		if err := c.budget.Adjust(ctx, actualCost-estCost); err != nil {
			slog.Warn("budget reconcile failed", "error", err)
		}

		entry := ledger.Entry{
			EventKind:   ledger.EventSuccess,
			Provider:    resp.Provider,
			Model:       resp.Model,
			Fingerprint: fp,
			CostUSD:     &actualCost,
			Extra: map[string]any{
				"purpose":    call.Purpose,
				"latency_ms": resp.Latency.Milliseconds(),
			},
		}
		if resp.Usage != nil {
			entry.TokensIn = &resp.Usage.TokensIn
			entry.TokensOut = &resp.Usage.TokensOut
		}
		if err := c.ledger.Append(entry); err != nil {
			slog.Warn("ledger append failed", "error", err)
		}

		c.cache.Set(ctx, key, resp.Provider, resp.Model, resp.Text, call.Purpose)

		return Result{
			OK:       true,
			Output:   resp.Text,
			Provider: resp.Provider,
			Model:    resp.Model,
			CostUSD:  actualCost,
		}
	}

	// 5. Chain exhausted: refund the reservation, surface the last failure.
	if err := c.budget.Adjust(ctx, -estCost); err != nil {
		slog.Warn("budget refund failed", "error", err)
	}

	res := Result{OK: false, Error: "all providers failed", FailureCode: classify.Unknown}
	if lastCE != nil {
		res.Error = lastCE.Message
		res.FailureCode = lastCE.Code
		res.HTTPStatus = lastCE.HTTPStatus
		res.RetryAfter = lastCE.RetryAfter
	}
	_ = c.ledger.Append(ledger.Entry{
		EventKind:   ledger.EventFailure,
		Fingerprint: fp,
		Extra: map[string]any{
			"purpose":      call.Purpose,
			"failure_code": res.FailureCode,
		},
	})
	return res
}

// attemptProvider runs up to 1+MaxRetries bounded calls against a single
// provider, retrying only retryable failure kinds and honoring explicit
// retry-after hints.
func (c *Client) attemptProvider(
	ctx context.Context,
	p provider.Caller,
	apiKey string,
	call Call,
	maxOut int,
	fp string,
) (*provider.Response, *classify.ClassifiedError) {
	req := provider.Request{
		Model:           call.ModelHint,
		Prompt:          call.Prompt,
		MaxOutputTokens: maxOut,
		Temperature:     call.Temperature,
	}

	var lastCE *classify.ClassifiedError
	for attempt := 1; attempt <= 1+c.cfg.MaxRetries; attempt++ {
		_ = c.ledger.Append(ledger.Entry{
			EventKind:   ledger.EventAttempt,
			Provider:    p.Name(),
			Fingerprint: fp,
			Extra:       map[string]any{"attempt": attempt, "purpose": call.Purpose},
		})

		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		resp, ce := p.Generate(callCtx, apiKey, req)
		cancel()

		if ce == nil {
			metrics.ProviderAttempts.WithLabelValues(p.Name(), "success").Inc()
			metrics.ProviderLatency.WithLabelValues(p.Name()).Observe(resp.Latency.Seconds())
			c.breaker.RecordSuccess(ctx, p.Name())
			metrics.BreakerOpen.WithLabelValues(p.Name()).Set(0)
			return resp, nil
		}

		lastCE = ce
		metrics.ProviderAttempts.WithLabelValues(p.Name(), "failure").Inc()
		c.breaker.RecordFailure(ctx, p.Name(), time.Duration(ce.RetryAfter*float64(time.Second)))
		slog.Warn("provider call failed",
			"provider", p.Name(),
			"attempt", attempt,
			"failure_code", ce.Code,
			"status", ce.HTTPStatus,
		)

		// Unclassified failures (400s, odd transport errors) are sometimes
		// transient; they get a single extra attempt before failover.
		retryable := classify.Retryable(ce.Code)
		limit := 1 + c.cfg.MaxRetries
		if ce.Code == classify.Unknown {
			retryable = true
			limit = 2
		}
		if !retryable || attempt >= limit {
			break
		}

		delay := c.cfg.Backoff.Delay(attempt, time.Duration(ce.RetryAfter*float64(time.Second)))
		if err := c.sleep(ctx, delay); err != nil {
			return nil, lastCE
		}
	}
	return nil, lastCE
}

func (c *Client) rateFor(providerName string) float64 {
	if p, ok := c.providers[providerName]; ok {
		return p.CostPer1kUSD()
	}
	return 0.010
}

// actualCost prefers the provider's reported usage; without usage the
// estimator prices prompt plus completion text.
func (c *Client) actualCost(p provider.Caller, prompt string, resp *provider.Response) float64 {
	if resp.Usage != nil {
		return EstimateCostUSD(resp.Usage.TokensIn, resp.Usage.TokensOut, p.CostPer1kUSD())
	}
	return EstimateCostUSD(EstimateTokens(prompt), EstimateTokens(resp.Text), p.CostPer1kUSD())
}

func purposeLabel(purpose string) string {
	if purpose == "" {
		return "default"
	}
	return purpose
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
