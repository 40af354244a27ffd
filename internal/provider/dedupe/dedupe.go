// Package dedupe collapses identical recent provider requests behind a
// short-TTL fingerprint cache. It is a cost optimization only; callers must
// tolerate a miss at any time.
package dedupe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nexuslab/dispatch/internal/infra/kv"
)

// Config holds dedupe cache settings.
type Config struct {
	Enabled    bool                     `yaml:"enabled"`
	DefaultTTL time.Duration            `yaml:"default_ttl"`
	PurposeTTL map[string]time.Duration `yaml:"purpose_ttl"`
}

// Hit is a cached provider response.
type Hit struct {
	Key      string
	Provider string
	Model    string
	Text     string
	Age      time.Duration
}

type entry struct {
	TS       float64 `json:"ts"`
	Provider string  `json:"provider"`
	Model    string  `json:"model"`
	Text     string  `json:"text"`
}

// Cache stores responses keyed by request fingerprint.
type Cache struct {
	cfg   Config
	store kv.Store
	now   func() time.Time
}

// New creates a cache on the given store. A zero DefaultTTL defaults to 30s.
func New(store kv.Store, cfg Config) *Cache {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 30 * time.Second
	}
	if !cfg.Enabled {
		slog.Info("dedupe cache disabled by config, every request will hit a provider")
	}
	return &Cache{cfg: cfg, store: store, now: time.Now}
}

// Key derives the stable fingerprint for one logical request.
func Key(org, purpose, providerOverride, modelOverride, input string) string {
	h := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%s|%s|%s", org, purpose, providerOverride, modelOverride, input))
	return hex.EncodeToString(h[:])
}

func cacheKey(k string) string {
	return fmt.Sprintf("dedupe:%s", k)
}

func (c *Cache) ttlFor(purpose string) time.Duration {
	if ttl, ok := c.cfg.PurposeTTL[strings.ToLower(purpose)]; ok && ttl > 0 {
		return ttl
	}
	return c.cfg.DefaultTTL
}

// Get returns a hit only when the stored entry is younger than the
// purpose's TTL. An entry that physically exists but has aged past the TTL
// is a miss. Store errors are misses.
func (c *Cache) Get(ctx context.Context, key, purpose string) (*Hit, bool) {
	if !c.cfg.Enabled {
		return nil, false
	}

	raw, err := c.store.Get(ctx, cacheKey(key))
	if err != nil {
		return nil, false
	}
	var e entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, false
	}

	age := time.Duration((float64(c.now().UnixNano())/1e9 - e.TS) * float64(time.Second))
	if age > c.ttlFor(purpose) {
		return nil, false
	}

	return &Hit{
		Key:      key,
		Provider: e.Provider,
		Model:    e.Model,
		Text:     e.Text,
		Age:      age,
	}, true
}

// Set stores or overwrites the entry unconditionally. Store errors are
// swallowed; a failed write just means a future miss.
func (c *Cache) Set(ctx context.Context, key, provider, model, text, purpose string) {
	if !c.cfg.Enabled {
		return
	}
	e := entry{
		TS:       float64(c.now().UnixNano()) / 1e9,
		Provider: provider,
		Model:    model,
		Text:     text,
	}
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	_ = c.store.Set(ctx, cacheKey(key), string(data), c.ttlFor(purpose))
}
