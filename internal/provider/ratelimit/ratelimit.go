// Package ratelimit implements the outbound call gate: one global token
// bucket plus optional per-provider buckets, all refilled continuously at
// the configured requests-per-minute.
package ratelimit

import (
	"strings"
	"sync"
	"time"
)

// Bucket is a token bucket refilled lazily on each Allow call.
// Invariant: 0 <= tokens <= capacity.
type Bucket struct {
	mu       sync.Mutex
	capacity float64
	tokens   float64
	fillRate float64 // tokens per second
	last     time.Time
	now      func() time.Time
}

// NewBucket creates a full bucket sized for rpm requests per minute.
func NewBucket(rpm int) *Bucket {
	if rpm < 1 {
		rpm = 1
	}
	cap := float64(rpm)
	return &Bucket{
		capacity: cap,
		tokens:   cap,
		fillRate: cap / 60.0,
		last:     time.Now(),
		now:      time.Now,
	}
}

// Allow consumes one token if available.
func (b *Bucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	elapsed := now.Sub(b.last).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	b.last = now

	b.tokens += elapsed * b.fillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	if b.tokens >= 1.0 {
		b.tokens--
		return true
	}
	return false
}

// Tokens returns the current token count, for tests and health reporting.
func (b *Bucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}

// Config holds rate limiter settings.
type Config struct {
	GlobalRPM   int            `yaml:"global_rpm"`
	ProviderRPM map[string]int `yaml:"provider_rpm"`
}

// Limiter gates outbound calls with a global bucket and lazily created
// per-provider buckets.
type Limiter struct {
	mu      sync.Mutex
	global  *Bucket
	buckets map[string]*Bucket
	cfg     Config
}

// New creates a limiter from config. A zero GlobalRPM defaults to 60.
func New(cfg Config) *Limiter {
	if cfg.GlobalRPM <= 0 {
		cfg.GlobalRPM = 60
	}
	return &Limiter{
		global:  NewBucket(cfg.GlobalRPM),
		buckets: make(map[string]*Bucket),
		cfg:     cfg,
	}
}

// Allow requires a token from the global bucket and, when provider is
// non-empty, from that provider's bucket as well.
func (l *Limiter) Allow(provider string) bool {
	if !l.global.Allow() {
		return false
	}
	if provider == "" {
		return true
	}
	return l.bucketFor(provider).Allow()
}

// AllowProvider consumes a token from the provider's bucket only, for
// callers that already charged the global bucket.
func (l *Limiter) AllowProvider(provider string) bool {
	if provider == "" {
		return true
	}
	return l.bucketFor(provider).Allow()
}

func (l *Limiter) bucketFor(provider string) *Bucket {
	p := strings.ToLower(provider)

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[p]
	if !ok {
		rpm, ok := l.cfg.ProviderRPM[p]
		if !ok || rpm <= 0 {
			rpm = l.cfg.GlobalRPM
		}
		b = NewBucket(rpm)
		l.buckets[p] = b
	}
	return b
}
