// Package breaker gates calls per provider after repeated recent failures.
package breaker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nexuslab/dispatch/internal/infra/kv"
)

// Config holds breaker thresholds.
type Config struct {
	WindowSeconds   int `yaml:"window_seconds"`
	FailThreshold   int `yaml:"fail_threshold"`
	CooldownSeconds int `yaml:"cooldown_seconds"`
}

// DefaultConfig mirrors the production defaults.
var DefaultConfig = Config{
	WindowSeconds:   300,
	FailThreshold:   5,
	CooldownSeconds: 120,
}

// State is the persisted per-provider record.
type State struct {
	FailCount     int     `json:"fail_count"`
	WindowStartTS float64 `json:"window_start_ts"`
	OpenUntilTS   float64 `json:"open_until_ts"`
}

// Breaker tracks rolling failure counts per provider and opens a gate once
// the threshold is crossed inside the window. State lives in the shared
// store so every worker sees the same gate; when the store is unreachable
// the breaker falls back to process-local memory and keeps functioning for
// this worker.
type Breaker struct {
	cfg      Config
	store    kv.Store
	fallback *kv.MemoryStore
	now      func() time.Time
}

// New creates a breaker on the given store.
func New(store kv.Store, cfg Config) *Breaker {
	if cfg.WindowSeconds <= 0 {
		cfg.WindowSeconds = DefaultConfig.WindowSeconds
	}
	if cfg.FailThreshold <= 0 {
		cfg.FailThreshold = DefaultConfig.FailThreshold
	}
	if cfg.CooldownSeconds <= 0 {
		cfg.CooldownSeconds = DefaultConfig.CooldownSeconds
	}
	return &Breaker{
		cfg:      cfg,
		store:    store,
		fallback: kv.NewMemoryStore(),
		now:      time.Now,
	}
}

func breakerKey(provider string) string {
	return fmt.Sprintf("breaker:%s", provider)
}

func (b *Breaker) get(ctx context.Context, provider string) State {
	raw, err := b.store.Get(ctx, breakerKey(provider))
	if err == kv.ErrNotFound {
		return State{WindowStartTS: float64(b.now().Unix())}
	}
	if err != nil {
		slog.Warn("breaker store unavailable, using local state", "provider", provider, "error", err)
		raw, err = b.fallback.Get(ctx, breakerKey(provider))
		if err != nil {
			return State{WindowStartTS: float64(b.now().Unix())}
		}
	}
	var st State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return State{WindowStartTS: float64(b.now().Unix())}
	}
	return st
}

func (b *Breaker) set(ctx context.Context, provider string, st State) {
	data, err := json.Marshal(st)
	if err != nil {
		return
	}
	if err := b.store.Set(ctx, breakerKey(provider), string(data), 0); err != nil {
		slog.Warn("breaker store unavailable, writing local state", "provider", provider, "error", err)
		_ = b.fallback.Set(ctx, breakerKey(provider), string(data), 0)
	}
}

// IsOpen reports whether calls to provider are currently rejected. The
// first call after the cooldown elapses passes through as an implicit
// half-open trial.
func (b *Breaker) IsOpen(ctx context.Context, provider string) bool {
	st := b.get(ctx, provider)
	return st.OpenUntilTS > float64(b.now().Unix())
}

// RecordSuccess clears all state for provider.
func (b *Breaker) RecordSuccess(ctx context.Context, provider string) {
	if err := b.store.Delete(ctx, breakerKey(provider)); err != nil {
		slog.Warn("breaker store unavailable, clearing local state", "provider", provider, "error", err)
		_ = b.fallback.Delete(ctx, breakerKey(provider))
	}
}

// RecordFailure counts a failure inside the rolling window and opens the
// gate once the threshold is reached. cooldownOverride lengthens or
// shortens the open period, honoring a provider's retry-after hint; zero
// means use the configured cooldown.
func (b *Breaker) RecordFailure(ctx context.Context, provider string, cooldownOverride time.Duration) {
	now := float64(b.now().Unix())
	st := b.get(ctx, provider)

	if now-st.WindowStartTS > float64(b.cfg.WindowSeconds) {
		st = State{WindowStartTS: now}
	}

	st.FailCount++
	if st.FailCount >= b.cfg.FailThreshold {
		cd := float64(b.cfg.CooldownSeconds)
		if cooldownOverride > 0 {
			cd = cooldownOverride.Seconds()
		}
		if cd < 1 {
			cd = 1
		}
		st.OpenUntilTS = now + cd
		slog.Warn("breaker open",
			"provider", provider,
			"fail_count", st.FailCount,
			"cooldown_s", cd,
		)
	}

	b.set(ctx, provider, st)
}

// Snapshot returns the persisted state for a provider, for health reporting.
func (b *Breaker) Snapshot(ctx context.Context, provider string) State {
	return b.get(ctx, provider)
}
