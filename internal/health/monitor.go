package health

import (
	"context"
	"sync"
	"time"

	"github.com/nexuslab/dispatch/internal/dispatch/metrics"
	"github.com/nexuslab/dispatch/internal/provider/breaker"
	"github.com/nexuslab/dispatch/internal/provider/budget"
)

// Pinger checks connectivity to the shared key-value store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DBChecker checks the task status database.
type DBChecker interface {
	Health(ctx context.Context) error
}

// TaskCounter reports per-status task counts.
type TaskCounter interface {
	CountByStatus(ctx context.Context) (map[string]int, error)
}

// Monitor aggregates health state from the breaker, budget and stores.
type Monitor struct {
	providers []string
	brk       *breaker.Breaker
	gov       *budget.Governor
	dailyUSD  float64
	store     Pinger      // nil in file-store mode
	db        DBChecker   // nil when status store disabled
	tasks     TaskCounter // nil when status store disabled

	mu         sync.Mutex
	lastCheck  time.Time
	lastReport Report
}

// NewMonitor creates a health monitor.
func NewMonitor(
	providers []string,
	brk *breaker.Breaker,
	gov *budget.Governor,
	dailyUSD float64,
	store Pinger,
	db DBChecker,
	tasks TaskCounter,
) *Monitor {
	return &Monitor{
		providers: providers,
		brk:       brk,
		gov:       gov,
		dailyUSD:  dailyUSD,
		store:     store,
		db:        db,
		tasks:     tasks,
	}
}

// Check builds a health report, cached for 10s to keep the endpoint cheap.
func (m *Monitor) Check(ctx context.Context) Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Since(m.lastCheck) < 10*time.Second && m.lastReport.SystemStatus != "" {
		return m.lastReport
	}

	report := Report{
		SystemStatus:   StatusHealthy,
		Store:          "ok",
		BudgetDailyUSD: m.dailyUSD,
		Providers:      make(map[string]ProviderHealth, len(m.providers)),
	}

	if m.store != nil {
		if err := m.store.Ping(ctx); err != nil {
			report.Store = err.Error()
			report.SystemStatus = StatusDegraded
		}
	} else {
		report.Store = "local"
	}

	if m.db != nil {
		report.Database = "ok"
		if err := m.db.Health(ctx); err != nil {
			report.Database = err.Error()
			report.SystemStatus = StatusDegraded
		}
	}

	openCount := 0
	for _, p := range m.providers {
		st := m.brk.Snapshot(ctx, p)
		open := m.brk.IsOpen(ctx, p)
		if open {
			openCount++
		}
		report.Providers[p] = ProviderHealth{
			Provider:    p,
			BreakerOpen: open,
			FailCount:   st.FailCount,
			OpenUntilTS: st.OpenUntilTS,
		}
		metrics.BreakerOpen.WithLabelValues(p).Set(boolGauge(open))
	}
	// No reachable provider means no task can make progress.
	if len(m.providers) > 0 && openCount == len(m.providers) {
		report.SystemStatus = StatusCritical
	}

	if spent, err := m.gov.Spent(ctx); err == nil {
		report.BudgetSpentUSD = spent
		metrics.BudgetSpentUSD.Set(spent)
	}

	if m.tasks != nil {
		if counts, err := m.tasks.CountByStatus(ctx); err == nil {
			report.TaskCounts = counts
		}
	}

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
