package tasklock

import (
	"context"
	"testing"
	"time"

	"github.com/nexuslab/dispatch/internal/infra/kv"
)

func TestLock_FirstCallerWins(t *testing.T) {
	l := New(kv.NewMemoryStore(), time.Minute)
	ctx := context.Background()

	ok, err := l.Acquire(ctx, "task-1")
	if err != nil || !ok {
		t.Fatalf("first acquire should win: ok=%v err=%v", ok, err)
	}
	ok, err = l.Acquire(ctx, "task-1")
	if err != nil {
		t.Fatalf("second acquire errored: %v", err)
	}
	if ok {
		t.Error("second acquire should not win")
	}

	st, err := l.IsLocked(ctx, "task-1")
	if err != nil {
		t.Fatalf("islocked errored: %v", err)
	}
	if !st.Locked {
		t.Error("task should be locked")
	}
	if st.TTLRemaining <= 0 || st.TTLRemaining > time.Minute {
		t.Errorf("unexpected ttl: %v", st.TTLRemaining)
	}
}

func TestLock_ExpiryUnlocks(t *testing.T) {
	store := kv.NewMemoryStore()
	now := time.Now()
	store.Now = func() time.Time { return now }
	l := New(store, time.Minute)
	ctx := context.Background()

	if _, err := l.Acquire(ctx, "task-2"); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	now = now.Add(2 * time.Minute)

	st, err := l.IsLocked(ctx, "task-2")
	if err != nil {
		t.Fatalf("islocked errored: %v", err)
	}
	if st.Locked {
		t.Error("lock should have expired")
	}
}

func TestLock_Release(t *testing.T) {
	l := New(kv.NewMemoryStore(), time.Minute)
	ctx := context.Background()

	if _, err := l.Acquire(ctx, "task-3"); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if err := l.Release(ctx, "task-3"); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	st, _ := l.IsLocked(ctx, "task-3")
	if st.Locked {
		t.Error("released task should be unlocked")
	}
}
