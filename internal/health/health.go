// Package health reports the dispatch worker's view of its dependencies.
package health

// SystemStatus represents the overall health state of the worker.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// ProviderHealth is the breaker view of one provider.
type ProviderHealth struct {
	Provider    string  `json:"provider"`
	BreakerOpen bool    `json:"breaker_open"`
	FailCount   int     `json:"fail_count"`
	OpenUntilTS float64 `json:"open_until_ts,omitempty"`
}

// Report is the full health snapshot served by /health/detailed.
type Report struct {
	SystemStatus   SystemStatus              `json:"system_status"`
	Store          string                    `json:"store"`
	Database       string                    `json:"database,omitempty"`
	BudgetSpentUSD float64                   `json:"budget_spent_usd"`
	BudgetDailyUSD float64                   `json:"budget_daily_usd"`
	Providers      map[string]ProviderHealth `json:"providers"`
	TaskCounts     map[string]int            `json:"task_counts,omitempty"`
}
