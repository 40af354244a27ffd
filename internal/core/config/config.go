package config

import (
	"time"

	"github.com/nexuslab/dispatch/internal/dispatch/triage"
	"github.com/nexuslab/dispatch/internal/infra/queue"
	redisclient "github.com/nexuslab/dispatch/internal/infra/redis"
	"github.com/nexuslab/dispatch/internal/infra/storage/postgres"
	"github.com/nexuslab/dispatch/internal/provider/breaker"
	"github.com/nexuslab/dispatch/internal/provider/budget"
	"github.com/nexuslab/dispatch/internal/provider/dedupe"
	"github.com/nexuslab/dispatch/internal/provider/fallback"
	"github.com/nexuslab/dispatch/internal/provider/ratelimit"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig       `yaml:"server"`
	Queue     queue.Config       `yaml:"queue"`
	Redis     redisclient.Config `yaml:"redis"`
	Database  postgres.Config    `yaml:"database"`
	Logging   LoggingConfig      `yaml:"logging"`
	State     StateConfig        `yaml:"state"`
	Breaker   breaker.Config     `yaml:"breaker"`
	RateLimit ratelimit.Config   `yaml:"rate_limit"`
	Budget    budget.Config      `yaml:"budget"`
	Dedupe    dedupe.Config      `yaml:"dedupe"`
	Fallback  fallback.Config    `yaml:"fallback"`
	Triage    triage.Overrides   `yaml:"triage"`
	Tasks     TasksConfig        `yaml:"tasks"`
	Alerts    AlertConfig        `yaml:"alerts"`
	Ledger    LedgerConfig       `yaml:"ledger"`
}

// ServerConfig holds health/metrics HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// StateConfig selects the shared key-value store. When redis is not
// configured the worker degrades to a local file store under Dir.
type StateConfig struct {
	Dir string `yaml:"dir"`
}

// TasksConfig holds task-level retry and lock settings.
type TasksConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	LockTTL        time.Duration `yaml:"lock_ttl"`
	WebhookTimeout time.Duration `yaml:"webhook_timeout"`
}

// AlertConfig holds webhook alerting settings.
type AlertConfig struct {
	WebhookURL string        `yaml:"webhook_url"`
	Cooldown   time.Duration `yaml:"cooldown"`
	Timeout    time.Duration `yaml:"timeout"`
}

// LedgerConfig holds audit ledger settings.
type LedgerConfig struct {
	Path string `yaml:"path"`
}
