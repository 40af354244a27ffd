package budget

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/nexuslab/dispatch/internal/infra/kv"
)

func TestReserve_UnderSoftCap(t *testing.T) {
	g := New(kv.NewMemoryStore(), Config{DailyUSD: 10, SoftPct: 0.8, HardPct: 1.0})
	ctx := context.Background()

	ok, reason, err := g.Reserve(ctx, 1.0)
	if err != nil || !ok {
		t.Fatalf("reserve failed: ok=%v reason=%q err=%v", ok, reason, err)
	}
	if reason != "ok" {
		t.Errorf("expected ok reason, got %q", reason)
	}
	spent, _ := g.Spent(ctx)
	if spent != 1.0 {
		t.Errorf("expected spend 1.0, got %v", spent)
	}
}

func TestReserve_SoftExceededStillAllows(t *testing.T) {
	g := New(kv.NewMemoryStore(), Config{DailyUSD: 10, SoftPct: 0.8, HardPct: 1.0})
	ctx := context.Background()

	ok, reason, err := g.Reserve(ctx, 9.0)
	if err != nil || !ok {
		t.Fatalf("soft-exceeded reserve should allow: ok=%v err=%v", ok, err)
	}
	if !SoftExceeded(reason) {
		t.Errorf("expected soft-exceeded reason, got %q", reason)
	}
}

func TestReserve_HardExceededRejects(t *testing.T) {
	g := New(kv.NewMemoryStore(), Config{DailyUSD: 10, SoftPct: 0.8, HardPct: 1.0})
	ctx := context.Background()

	if ok, _, _ := g.Reserve(ctx, 8.0); !ok {
		t.Fatal("first reserve should pass")
	}
	ok, reason, err := g.Reserve(ctx, 3.0)
	if err != nil {
		t.Fatalf("reserve errored: %v", err)
	}
	if ok {
		t.Error("projected 11.0 against ceiling 10.0 should reject")
	}
	if !strings.HasPrefix(reason, "budget_hard_exceeded") {
		t.Errorf("expected hard-exceeded reason, got %q", reason)
	}

	// The rejected reservation must not have been committed.
	spent, _ := g.Spent(ctx)
	if spent != 8.0 {
		t.Errorf("rejected reserve leaked into spend: %v", spent)
	}
}

func TestAdjust_RefundIsIdempotentOnSpend(t *testing.T) {
	g := New(kv.NewMemoryStore(), Config{DailyUSD: 10, SoftPct: 0.8, HardPct: 1.0})
	ctx := context.Background()

	before, _ := g.Spent(ctx)
	if _, _, err := g.Reserve(ctx, 2.5); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if err := g.Adjust(ctx, -2.5); err != nil {
		t.Fatalf("adjust failed: %v", err)
	}
	after, _ := g.Spent(ctx)
	if math.Abs(after-before) > 1e-9 {
		t.Errorf("refund did not restore spend: before=%v after=%v", before, after)
	}
}

func TestDayKeyRollover(t *testing.T) {
	store := kv.NewMemoryStore()
	g := New(store, Config{DailyUSD: 10, SoftPct: 0.8, HardPct: 1.0})
	ctx := context.Background()

	day := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return day }

	if _, _, err := g.Reserve(ctx, 9.5); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	// Next UTC day starts with a fresh ledger.
	day = day.Add(2 * time.Hour)
	spent, err := g.Spent(ctx)
	if err != nil {
		t.Fatalf("spent failed: %v", err)
	}
	if spent != 0 {
		t.Errorf("expected fresh day to start at 0, got %v", spent)
	}
	if ok, _, _ := g.Reserve(ctx, 9.5); !ok {
		t.Error("fresh day should accept a full reservation again")
	}
}

func TestReserve_FailsClosedWhenStoreDown(t *testing.T) {
	g := New(downStore{}, Config{DailyUSD: 10, SoftPct: 0.8, HardPct: 1.0})

	ok, reason, err := g.Reserve(context.Background(), 0.1)
	if ok {
		t.Error("budget must fail closed on store outage")
	}
	if err == nil {
		t.Error("expected an error surfacing the outage")
	}
	if reason != "budget_store_unavailable" {
		t.Errorf("unexpected reason %q", reason)
	}
}

type downStore struct{}

func (downStore) Get(context.Context, string) (string, error) { return "", errStoreDown }
func (downStore) Set(context.Context, string, string, time.Duration) error {
	return errStoreDown
}
func (downStore) SetNX(context.Context, string, string, time.Duration) (bool, error) {
	return false, errStoreDown
}
func (downStore) TTL(context.Context, string) (time.Duration, error) { return 0, errStoreDown }
func (downStore) Delete(context.Context, string) error               { return errStoreDown }
func (downStore) IncrByFloat(context.Context, string, float64) (float64, error) {
	return 0, errStoreDown
}

var errStoreDown = context.DeadlineExceeded
