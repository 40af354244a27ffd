// Package tasklock marks tasks that are already inside a retry cycle so a
// single task cannot loop through retry queues indefinitely.
package tasklock

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/nexuslab/dispatch/internal/infra/kv"
)

// State reports whether a task is locked and for how much longer.
type State struct {
	Locked       bool
	TTLRemaining time.Duration
}

// Lock is a per-task marker with a fixed TTL. The first Lock call wins;
// later calls are no-ops until the TTL expires.
type Lock struct {
	store kv.Store
	ttl   time.Duration
}

// New creates a task lock on the given store. ttl of zero defaults to 15m.
func New(store kv.Store, ttl time.Duration) *Lock {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Lock{store: store, ttl: ttl}
}

func lockKey(taskID string) string {
	return fmt.Sprintf("tasklock:%s", taskID)
}

// IsLocked reports the lock state for a task. Store errors degrade to
// "unlocked" so a shared-store outage cannot strand every task in the DLQ.
func (l *Lock) IsLocked(ctx context.Context, taskID string) (State, error) {
	ttl, err := l.store.TTL(ctx, lockKey(taskID))
	if err == kv.ErrNotFound {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("task lock lookup failed: %w", err)
	}
	return State{Locked: true, TTLRemaining: ttl}, nil
}

// Acquire sets the lock marker if absent. Idempotent; the return reports
// whether this caller took the lock.
func (l *Lock) Acquire(ctx context.Context, taskID string) (bool, error) {
	ok, err := l.store.SetNX(ctx, lockKey(taskID), strconv.FormatInt(time.Now().Unix(), 10), l.ttl)
	if err != nil {
		return false, fmt.Errorf("task lock acquire failed: %w", err)
	}
	return ok, nil
}

// Release drops the marker early, typically after a success.
func (l *Lock) Release(ctx context.Context, taskID string) error {
	if err := l.store.Delete(ctx, lockKey(taskID)); err != nil {
		return fmt.Errorf("task lock release failed: %w", err)
	}
	return nil
}
