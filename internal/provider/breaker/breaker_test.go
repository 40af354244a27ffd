package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nexuslab/dispatch/internal/infra/kv"
)

func newTestBreaker(store kv.Store) (*Breaker, *time.Time) {
	b := New(store, Config{WindowSeconds: 300, FailThreshold: 3, CooldownSeconds: 60})
	now := time.Now()
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(kv.NewMemoryStore())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		b.RecordFailure(ctx, "openai", 0)
		if b.IsOpen(ctx, "openai") {
			t.Fatalf("breaker open after %d failures, threshold is 3", i+1)
		}
	}
	b.RecordFailure(ctx, "openai", 0)
	if !b.IsOpen(ctx, "openai") {
		t.Error("breaker should be open after 3 failures")
	}
}

func TestBreaker_SuccessResets(t *testing.T) {
	b, _ := newTestBreaker(kv.NewMemoryStore())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		b.RecordFailure(ctx, "openai", 0)
	}
	if !b.IsOpen(ctx, "openai") {
		t.Fatal("breaker should be open")
	}

	b.RecordSuccess(ctx, "openai")
	if b.IsOpen(ctx, "openai") {
		t.Error("success should close the breaker")
	}
	if st := b.Snapshot(ctx, "openai"); st.FailCount != 0 {
		t.Errorf("success should reset fail_count, got %d", st.FailCount)
	}
}

func TestBreaker_CooldownExpiry(t *testing.T) {
	b, now := newTestBreaker(kv.NewMemoryStore())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		b.RecordFailure(ctx, "gemini", 0)
	}
	if !b.IsOpen(ctx, "gemini") {
		t.Fatal("breaker should be open")
	}

	*now = now.Add(61 * time.Second)
	if b.IsOpen(ctx, "gemini") {
		t.Error("breaker should allow a trial call after cooldown")
	}
}

func TestBreaker_WindowReset(t *testing.T) {
	b, now := newTestBreaker(kv.NewMemoryStore())
	ctx := context.Background()

	b.RecordFailure(ctx, "glm", 0)
	b.RecordFailure(ctx, "glm", 0)

	// Window elapses; the counter starts over.
	*now = now.Add(301 * time.Second)
	b.RecordFailure(ctx, "glm", 0)
	b.RecordFailure(ctx, "glm", 0)
	if b.IsOpen(ctx, "glm") {
		t.Error("stale failures outside the window should not count")
	}
}

func TestBreaker_CooldownOverride(t *testing.T) {
	b, now := newTestBreaker(kv.NewMemoryStore())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		b.RecordFailure(ctx, "anthropic", 0)
	}
	b.RecordFailure(ctx, "anthropic", 10*time.Minute)

	*now = now.Add(2 * time.Minute)
	if !b.IsOpen(ctx, "anthropic") {
		t.Error("override cooldown should keep the breaker open past the default")
	}
	*now = now.Add(9 * time.Minute)
	if b.IsOpen(ctx, "anthropic") {
		t.Error("breaker should close once the override elapses")
	}
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) (string, error) {
	return "", errors.New("store down")
}
func (failingStore) Set(context.Context, string, string, time.Duration) error {
	return errors.New("store down")
}
func (failingStore) SetNX(context.Context, string, string, time.Duration) (bool, error) {
	return false, errors.New("store down")
}
func (failingStore) TTL(context.Context, string) (time.Duration, error) {
	return 0, errors.New("store down")
}
func (failingStore) Delete(context.Context, string) error { return errors.New("store down") }
func (failingStore) IncrByFloat(context.Context, string, float64) (float64, error) {
	return 0, errors.New("store down")
}

func TestBreaker_FallsBackWhenStoreDown(t *testing.T) {
	b, _ := newTestBreaker(failingStore{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		b.RecordFailure(ctx, "openai", 0)
	}
	if !b.IsOpen(ctx, "openai") {
		t.Error("breaker should still function on the local fallback")
	}
}
