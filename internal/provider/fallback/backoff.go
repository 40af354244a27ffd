package fallback

import (
	"math/rand"
	"time"
)

// BackoffConfig shapes same-provider retry delays.
type BackoffConfig struct {
	Base   time.Duration `yaml:"base"`
	Cap    time.Duration `yaml:"cap"`
	Jitter time.Duration `yaml:"jitter"`
}

// DefaultBackoff mirrors the production retry curve.
var DefaultBackoff = BackoffConfig{
	Base:   700 * time.Millisecond,
	Cap:    12 * time.Second,
	Jitter: 250 * time.Millisecond,
}

// Delay computes the wait before retry number attempt (1-based) against the
// same provider: base * 2^(attempt-1) plus jitter, capped. A positive
// retryAfter hint from the provider overrides the curve entirely.
func (c BackoffConfig) Delay(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return retryAfter
	}
	if attempt < 1 {
		attempt = 1
	}

	d := c.Base << (attempt - 1)
	if d > c.Cap || d <= 0 {
		d = c.Cap
	}
	if c.Jitter > 0 {
		d += time.Duration(rand.Int63n(int64(c.Jitter)))
	}
	if d > c.Cap {
		d = c.Cap
	}
	return d
}
