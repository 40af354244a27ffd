// Package budget enforces the daily USD spend ceiling with optimistic
// reservation and post-call reconciliation.
package budget

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nexuslab/dispatch/internal/infra/kv"
)

// Config holds budget settings.
type Config struct {
	DailyUSD float64 `yaml:"daily_usd"`
	SoftPct  float64 `yaml:"soft_pct"`
	HardPct  float64 `yaml:"hard_pct"`
}

// DefaultConfig mirrors the production defaults.
var DefaultConfig = Config{DailyUSD: 20.0, SoftPct: 0.8, HardPct: 1.0}

// Governor tracks daily spend in the shared store. The day key rolls over
// at UTC midnight; spend under the old key simply ages out.
//
// Reservation is optimistic: the estimate is committed before the call so
// concurrent workers see it immediately, and reconciled afterwards via
// Adjust. Under heavy concurrency the hard cap can be transiently
// overshot between the read and the commit; that is an accepted tradeoff,
// not a bug.
type Governor struct {
	cfg   Config
	store kv.Store
	now   func() time.Time
}

// New creates a governor on the given store.
func New(store kv.Store, cfg Config) *Governor {
	if cfg.DailyUSD <= 0 {
		cfg.DailyUSD = DefaultConfig.DailyUSD
	}
	if cfg.SoftPct <= 0 {
		cfg.SoftPct = DefaultConfig.SoftPct
	}
	if cfg.HardPct <= 0 {
		cfg.HardPct = DefaultConfig.HardPct
	}
	return &Governor{cfg: cfg, store: store, now: time.Now}
}

func (g *Governor) dayKey() string {
	return fmt.Sprintf("budget:%s", g.now().UTC().Format("2006-01-02"))
}

// Spent returns today's committed spend.
func (g *Governor) Spent(ctx context.Context) (float64, error) {
	raw, err := g.store.Get(ctx, g.dayKey())
	if err == kv.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("budget read failed: %w", err)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("budget state corrupt: %w", err)
	}
	return v, nil
}

// Reserve commits estimatedUSD against today's ceiling. It rejects with a
// budget_hard_exceeded reason past the hard threshold; past the soft
// threshold it allows but returns a soft-exceeded reason so the caller can
// degrade. Budget enforcement fails closed: a store outage rejects.
func (g *Governor) Reserve(ctx context.Context, estimatedUSD float64) (bool, string, error) {
	if estimatedUSD < 0 {
		estimatedUSD = 0
	}

	spent, err := g.Spent(ctx)
	if err != nil {
		return false, "budget_store_unavailable", err
	}

	projected := spent + estimatedUSD
	if projected > g.cfg.DailyUSD*g.cfg.HardPct {
		return false, fmt.Sprintf("budget_hard_exceeded projected=%.2f daily=%.2f", projected, g.cfg.DailyUSD), nil
	}

	if _, err := g.store.IncrByFloat(ctx, g.dayKey(), estimatedUSD); err != nil {
		return false, "budget_store_unavailable", fmt.Errorf("budget reserve failed: %w", err)
	}

	if projected > g.cfg.DailyUSD*g.cfg.SoftPct {
		return true, fmt.Sprintf("budget_soft_exceeded projected=%.2f daily=%.2f", projected, g.cfg.DailyUSD), nil
	}
	return true, "ok", nil
}

// Adjust reconciles a reservation once the real cost is known. deltaUSD is
// actual minus estimated and may be negative (refund).
func (g *Governor) Adjust(ctx context.Context, deltaUSD float64) error {
	if _, err := g.store.IncrByFloat(ctx, g.dayKey(), deltaUSD); err != nil {
		return fmt.Errorf("budget adjust failed: %w", err)
	}
	return nil
}

// SoftExceeded reports whether a Reserve reason indicates the soft cap.
func SoftExceeded(reason string) bool {
	return strings.HasPrefix(reason, "budget_soft_exceeded")
}
