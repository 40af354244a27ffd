package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

type fileEntry struct {
	Value     string `json:"value"`
	ExpiresAt int64  `json:"expires_at,omitempty"` // unix seconds, 0 = no expiry
}

// FileStore implements Store on a single JSON file. It only protects against
// concurrent access within one process; it exists for single-node degraded
// mode when no shared store is configured.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a file-backed store at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) load() (map[string]fileEntry, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]fileEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	m := map[string]fileEntry{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	return m, nil
}

func (s *FileStore) save(m map[string]fileEntry) error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create state dir: %w", err)
		}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode state file: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}

func expired(e fileEntry, now time.Time) bool {
	return e.ExpiresAt > 0 && now.Unix() >= e.ExpiresAt
}

// Get returns the value for key, or ErrNotFound.
func (s *FileStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.load()
	if err != nil {
		return "", err
	}
	e, ok := m[key]
	if !ok || expired(e, time.Now()) {
		return "", ErrNotFound
	}
	return e.Value, nil
}

// Set stores value under key.
func (s *FileStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.load()
	if err != nil {
		return err
	}
	m[key] = newEntry(value, ttl)
	return s.save(m)
}

// SetNX stores value only if key is absent or expired.
func (s *FileStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.load()
	if err != nil {
		return false, err
	}
	if e, ok := m[key]; ok && !expired(e, time.Now()) {
		return false, nil
	}
	m[key] = newEntry(value, ttl)
	if err := s.save(m); err != nil {
		return false, err
	}
	return true, nil
}

// TTL returns the remaining lifetime of key.
func (s *FileStore) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.load()
	if err != nil {
		return 0, err
	}
	e, ok := m[key]
	now := time.Now()
	if !ok || expired(e, now) {
		return 0, ErrNotFound
	}
	if e.ExpiresAt == 0 {
		return 0, nil
	}
	return time.Duration(e.ExpiresAt-now.Unix()) * time.Second, nil
}

// Delete removes key.
func (s *FileStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := m[key]; !ok {
		return nil
	}
	delete(m, key)
	return s.save(m)
}

// IncrByFloat adds delta to the float stored at key.
func (s *FileStore) IncrByFloat(_ context.Context, key string, delta float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.load()
	if err != nil {
		return 0, err
	}
	e, ok := m[key]
	if ok && expired(e, time.Now()) {
		// The new value must not inherit the stale expiry.
		e = fileEntry{}
		ok = false
	}
	var cur float64
	if ok {
		cur, err = strconv.ParseFloat(e.Value, 64)
		if err != nil {
			return 0, fmt.Errorf("value at %s is not a float: %w", key, err)
		}
	}
	cur += delta
	e.Value = strconv.FormatFloat(cur, 'f', -1, 64)
	m[key] = e
	if err := s.save(m); err != nil {
		return 0, err
	}
	return cur, nil
}

func newEntry(value string, ttl time.Duration) fileEntry {
	e := fileEntry{Value: value}
	if ttl > 0 {
		e.ExpiresAt = time.Now().Add(ttl).Unix()
	}
	return e
}
