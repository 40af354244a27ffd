// Package alert sends best-effort webhook alerts with a cooldown gate so
// identical alarms are not re-sent within a window.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nexuslab/dispatch/internal/infra/kv"
)

// Gate suppresses repeated alerts for the same dedupe key. The first caller
// within the window wins; everyone else is told the remaining cooldown.
type Gate struct {
	store kv.Store
	ttl   time.Duration
}

// NewGate creates a dedupe gate. ttl of zero defaults to 15m.
func NewGate(store kv.Store, ttl time.Duration) *Gate {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Gate{store: store, ttl: ttl}
}

func dedupeKey(k string) string {
	return fmt.Sprintf("alertdedupe:%s", k)
}

// Allow reports whether an alert for key should be sent now, and if not,
// how long until the cooldown clears. The gate fails open: suppressing a
// real alert because the store is down is worse than a duplicate.
func (g *Gate) Allow(ctx context.Context, key string) (bool, time.Duration) {
	ok, err := g.store.SetNX(ctx, dedupeKey(key), strconv.FormatInt(time.Now().Unix(), 10), g.ttl)
	if err != nil {
		slog.Warn("alert dedupe store unavailable, failing open", "key", key, "error", err)
		return true, g.ttl
	}
	if ok {
		return true, g.ttl
	}

	remaining, err := g.store.TTL(ctx, dedupeKey(key))
	if err != nil {
		return false, 0
	}
	return false, remaining
}
