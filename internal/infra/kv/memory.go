package kv

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used in tests and as a last-resort
// fallback. The Now hook lets tests control expiry.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memEntry
	Now     func() time.Time
}

type memEntry struct {
	value     string
	expiresAt time.Time // zero = no expiry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memEntry),
		Now:     time.Now,
	}
}

func (s *MemoryStore) alive(e memEntry) bool {
	return e.expiresAt.IsZero() || s.Now().Before(e.expiresAt)
}

// Get returns the value for key, or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || !s.alive(e) {
		return "", ErrNotFound
	}
	return e.value, nil
}

// Set stores value under key.
func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = s.entry(value, ttl)
	return nil
}

// SetNX stores value only if key is absent or expired.
func (s *MemoryStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok && s.alive(e) {
		return false, nil
	}
	s.entries[key] = s.entry(value, ttl)
	return true, nil
}

// TTL returns the remaining lifetime of key.
func (s *MemoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || !s.alive(e) {
		return 0, ErrNotFound
	}
	if e.expiresAt.IsZero() {
		return 0, nil
	}
	return e.expiresAt.Sub(s.Now()), nil
}

// Delete removes key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

// IncrByFloat adds delta to the float stored at key.
func (s *MemoryStore) IncrByFloat(_ context.Context, key string, delta float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cur float64
	if e, ok := s.entries[key]; ok && s.alive(e) {
		var err error
		cur, err = strconv.ParseFloat(e.value, 64)
		if err != nil {
			return 0, fmt.Errorf("value at %s is not a float: %w", key, err)
		}
	}
	cur += delta
	s.entries[key] = memEntry{value: strconv.FormatFloat(cur, 'f', -1, 64)}
	return cur, nil
}

func (s *MemoryStore) entry(value string, ttl time.Duration) memEntry {
	e := memEntry{value: value}
	if ttl > 0 {
		e.expiresAt = s.Now().Add(ttl)
	}
	return e
}
