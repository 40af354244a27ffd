package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksConsumed tracks envelopes pulled off the main queue
	TasksConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_tasks_consumed_total",
			Help: "Total number of task envelopes consumed",
		},
		[]string{"task_type"},
	)

	// TasksRouted tracks routing outcomes after a failure
	TasksRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_tasks_routed_total",
			Help: "Total number of failed tasks routed per destination",
		},
		[]string{"task_type", "action"},
	)

	// ProviderAttempts tracks provider calls per outcome
	ProviderAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_provider_attempts_total",
			Help: "Total number of provider call attempts",
		},
		[]string{"provider", "outcome"},
	)

	// ProviderLatency tracks provider call latency
	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_provider_latency_seconds",
			Help:    "Provider call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// BreakerOpen tracks whether a provider's circuit breaker is open
	BreakerOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dispatch_breaker_open",
			Help: "1 when the provider circuit breaker is open",
		},
		[]string{"provider"},
	)

	// DedupeHits tracks dedupe cache hits per purpose
	DedupeHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_dedupe_hits_total",
			Help: "Total number of dedupe cache hits",
		},
		[]string{"purpose"},
	)

	// BudgetSpentUSD tracks today's committed spend
	BudgetSpentUSD = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatch_budget_spent_usd",
			Help: "Committed spend for the current UTC day in USD",
		},
	)

	// PolicyRejects tracks deliberate backpressure rejections
	PolicyRejects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_policy_rejects_total",
			Help: "Total number of calls rejected by rate/budget/breaker policy",
		},
		[]string{"reason"},
	)

	// AlertsSent tracks webhook alerts actually delivered
	AlertsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_alerts_sent_total",
			Help: "Total number of alerts sent after dedupe",
		},
		[]string{"event"},
	)
)
