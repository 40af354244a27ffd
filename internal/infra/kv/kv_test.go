package kv

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileStore_SetGetDelete(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := s.Set(ctx, "a", "1", 0); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	v, err := s.Get(ctx, "a")
	if err != nil || v != "1" {
		t.Errorf("expected 1, got %q err=%v", v, err)
	}

	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := s.Get(ctx, "a"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestFileStore_SetNX(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	ctx := context.Background()

	ok, err := s.SetNX(ctx, "lock", "first", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first setnx should win: ok=%v err=%v", ok, err)
	}
	ok, err = s.SetNX(ctx, "lock", "second", time.Minute)
	if err != nil {
		t.Fatalf("second setnx errored: %v", err)
	}
	if ok {
		t.Error("second setnx should lose")
	}
	v, _ := s.Get(ctx, "lock")
	if v != "first" {
		t.Errorf("expected first writer's value, got %q", v)
	}
}

func TestFileStore_IncrByFloat(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	ctx := context.Background()

	v, err := s.IncrByFloat(ctx, "spent", 0.25)
	if err != nil || v != 0.25 {
		t.Fatalf("expected 0.25, got %v err=%v", v, err)
	}
	v, err = s.IncrByFloat(ctx, "spent", -0.25)
	if err != nil {
		t.Fatalf("incr failed: %v", err)
	}
	if v < -1e-9 || v > 1e-9 {
		t.Errorf("expected refund back to zero, got %v", v)
	}
}

func TestFileStore_IncrByFloatResetsExpiredEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := NewFileStore(path)
	ctx := context.Background()

	stale := map[string]fileEntry{
		"spent": {Value: "7.5", ExpiresAt: time.Now().Add(-time.Hour).Unix()},
	}
	data, err := json.Marshal(stale)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	v, err := s.IncrByFloat(ctx, "spent", 0.25)
	if err != nil || v != 0.25 {
		t.Fatalf("expired value must not carry over: got %v err=%v", v, err)
	}
	// The reset entry is alive, not stamped with the stale expiry.
	got, err := s.Get(ctx, "spent")
	if err != nil || got != "0.25" {
		t.Errorf("expected a fresh readable entry, got %q err=%v", got, err)
	}
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()
	s.Now = func() time.Time { return now }
	ctx := context.Background()

	if err := s.Set(ctx, "k", "v", 10*time.Second); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	now = now.Add(9 * time.Second)
	if _, err := s.Get(ctx, "k"); err != nil {
		t.Errorf("key should still be alive: %v", err)
	}
	ttl, err := s.TTL(ctx, "k")
	if err != nil || ttl != time.Second {
		t.Errorf("expected 1s remaining, got %v err=%v", ttl, err)
	}

	now = now.Add(2 * time.Second)
	if _, err := s.Get(ctx, "k"); err != ErrNotFound {
		t.Errorf("key should be expired, got %v", err)
	}

	// Expired key can be re-acquired with SetNX.
	ok, err := s.SetNX(ctx, "k", "v2", time.Second)
	if err != nil || !ok {
		t.Errorf("setnx on expired key should win: ok=%v err=%v", ok, err)
	}
}
