package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.State.Dir == "" {
		cfg.State.Dir = "state"
	}
	if cfg.Tasks.MaxRetries == 0 {
		cfg.Tasks.MaxRetries = 3
	}
	if cfg.Tasks.LockTTL == 0 {
		cfg.Tasks.LockTTL = 15 * time.Minute
	}
	if cfg.Tasks.WebhookTimeout == 0 {
		cfg.Tasks.WebhookTimeout = 15 * time.Second
	}
	if cfg.Alerts.Cooldown == 0 {
		cfg.Alerts.Cooldown = 15 * time.Minute
	}
	if cfg.Alerts.Timeout == 0 {
		cfg.Alerts.Timeout = 10 * time.Second
	}
	if cfg.Ledger.Path == "" {
		cfg.Ledger.Path = "state/ledger.jsonl"
	}
	if len(cfg.Fallback.Chain) == 0 {
		cfg.Fallback.Chain = []string{"gemini", "openai"}
	}
	if cfg.RateLimit.GlobalRPM == 0 {
		cfg.RateLimit.GlobalRPM = 60
	}
	if cfg.Budget.DailyUSD == 0 {
		cfg.Budget.DailyUSD = 20
	}
}

// Validate rejects configurations the worker cannot start with.
func (c *AppConfig) Validate() error {
	if c.Queue.URL == "" {
		return fmt.Errorf("queue.url is required")
	}
	for _, tier := range c.Queue.RetryTiers {
		if tier <= 0 {
			return fmt.Errorf("queue.retry_tiers must be positive seconds, got %d", tier)
		}
	}
	if c.Budget.DailyUSD < 0 {
		return fmt.Errorf("budget.daily_usd must not be negative")
	}
	return nil
}
