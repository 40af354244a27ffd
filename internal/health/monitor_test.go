package health

import (
	"context"
	"fmt"
	"testing"

	"github.com/nexuslab/dispatch/internal/infra/kv"
	"github.com/nexuslab/dispatch/internal/provider/breaker"
	"github.com/nexuslab/dispatch/internal/provider/budget"
)

type fakePinger struct{ err error }

func (p *fakePinger) Ping(context.Context) error { return p.err }

func newTestMonitor(store kv.Store, pinger Pinger, providers []string) (*Monitor, *breaker.Breaker) {
	brk := breaker.New(store, breaker.Config{FailThreshold: 1, CooldownSeconds: 300})
	gov := budget.New(store, budget.Config{DailyUSD: 10})
	return NewMonitor(providers, brk, gov, 10, pinger, nil, nil), brk
}

func TestMonitorHealthy(t *testing.T) {
	m, _ := newTestMonitor(kv.NewMemoryStore(), &fakePinger{}, []string{"openai", "gemini"})
	report := m.Check(context.Background())
	if report.SystemStatus != StatusHealthy {
		t.Fatalf("status = %s, want healthy", report.SystemStatus)
	}
	if len(report.Providers) != 2 {
		t.Fatalf("providers = %d, want 2", len(report.Providers))
	}
	if report.Providers["openai"].BreakerOpen {
		t.Error("fresh breaker should be closed")
	}
}

func TestMonitorDegradedOnStoreOutage(t *testing.T) {
	m, _ := newTestMonitor(kv.NewMemoryStore(), &fakePinger{err: fmt.Errorf("connection refused")}, []string{"openai"})
	report := m.Check(context.Background())
	if report.SystemStatus != StatusDegraded {
		t.Fatalf("status = %s, want degraded", report.SystemStatus)
	}
}

func TestMonitorCriticalWhenAllBreakersOpen(t *testing.T) {
	store := kv.NewMemoryStore()
	m, brk := newTestMonitor(store, &fakePinger{}, []string{"openai", "gemini"})
	ctx := context.Background()
	brk.RecordFailure(ctx, "openai", 0)
	brk.RecordFailure(ctx, "gemini", 0)

	report := m.Check(ctx)
	if report.SystemStatus != StatusCritical {
		t.Fatalf("status = %s, want critical", report.SystemStatus)
	}
	if !report.Providers["openai"].BreakerOpen {
		t.Error("openai breaker should report open")
	}
}

func TestMonitorCachesReports(t *testing.T) {
	pinger := &fakePinger{}
	m, _ := newTestMonitor(kv.NewMemoryStore(), pinger, []string{"openai"})
	ctx := context.Background()

	first := m.Check(ctx)
	pinger.err = fmt.Errorf("down now")
	second := m.Check(ctx)
	if second.SystemStatus != first.SystemStatus {
		t.Error("report inside the cache window should not change")
	}
}
