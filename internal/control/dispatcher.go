// Package control wires the dispatch worker: queue topology, shared state
// stores, reliability gates, consumers, and the health server.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/nexuslab/dispatch/internal/alert"
	"github.com/nexuslab/dispatch/internal/core/config"
	"github.com/nexuslab/dispatch/internal/credential"
	"github.com/nexuslab/dispatch/internal/dispatch/consumer"
	"github.com/nexuslab/dispatch/internal/dispatch/tasklock"
	"github.com/nexuslab/dispatch/internal/dispatch/triage"
	"github.com/nexuslab/dispatch/internal/health"
	"github.com/nexuslab/dispatch/internal/infra/kv"
	"github.com/nexuslab/dispatch/internal/infra/queue"
	redisclient "github.com/nexuslab/dispatch/internal/infra/redis"
	"github.com/nexuslab/dispatch/internal/infra/storage/postgres"
	"github.com/nexuslab/dispatch/internal/ledger"
	"github.com/nexuslab/dispatch/internal/provider"
	"github.com/nexuslab/dispatch/internal/provider/breaker"
	"github.com/nexuslab/dispatch/internal/provider/budget"
	"github.com/nexuslab/dispatch/internal/provider/dedupe"
	"github.com/nexuslab/dispatch/internal/provider/fallback"
	"github.com/nexuslab/dispatch/internal/provider/ratelimit"
)

// Dispatcher is the main application struct managing the worker lifecycle.
type Dispatcher struct {
	cfg          *config.AppConfig
	broker       *queue.Broker
	redisClient  *redisclient.Client
	db           *postgres.DB
	consumer     *consumer.Consumer
	alarmWorker  *consumer.AlarmWorker
	healthServer *health.Server
	log          *slog.Logger
}

// NewDispatcher initializes every dependency from configuration.
func NewDispatcher(cfg *config.AppConfig) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log := slog.Default()

	// Shared state store: redis when configured, local file otherwise.
	var store kv.Store
	var redisClient *redisclient.Client
	if cfg.Redis.URL != "" {
		var err error
		redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		store = kv.NewRedisStore(redisClient.Raw(), "dispatch")
		log.Info("Using Redis shared state store")
	} else {
		store = kv.NewFileStore(filepath.Join(cfg.State.Dir, "state.json"))
		log.Warn("Redis not configured, using local file state store (single-node mode)")
	}

	// Task status store is optional.
	var db *postgres.DB
	var taskRepo *postgres.TaskRepo
	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate("migrations"); err != nil {
			return nil, err
		}
		taskRepo = postgres.NewTaskRepo(db)
		log.Info("Using PostgreSQL task status store")
	} else {
		log.Info("Database not configured, task status tracking disabled")
	}

	broker, err := queue.Connect(cfg.Queue)
	if err != nil {
		if redisClient != nil {
			_ = redisClient.Close()
		}
		return nil, fmt.Errorf("failed to init broker: %w", err)
	}

	led := ledger.New(cfg.Ledger.Path)
	brk := breaker.New(store, cfg.Breaker)
	gov := budget.New(store, cfg.Budget)
	limiter := ratelimit.New(cfg.RateLimit)
	cache := dedupe.New(store, cfg.Dedupe)
	lock := tasklock.New(store, cfg.Tasks.LockTTL)
	creds := credential.EnvResolver{}
	providers := provider.DefaultSet(cfg.Fallback.Timeout)

	llm := fallback.New(cfg.Fallback, providers, limiter, gov, cache, brk, creds, led)

	routes := consumer.Routes{
		RetryPrefix: broker.Config().RetryPrefix,
		RetryTiers:  broker.Config().RetryTiers,
		DLQ:         broker.Config().DLQ,
		HoldQueue:   broker.Config().HoldQueue,
		AlarmQueue:  broker.Config().AlarmQueue,
		MaxRetries:  cfg.Tasks.MaxRetries,
	}
	exec := consumer.NewTaskExecutor(llm, cfg.Tasks.WebhookTimeout)
	eng := triage.NewEngine(cfg.Triage)

	var status consumer.StatusStore
	if taskRepo != nil {
		status = taskRepo
	}
	cons := consumer.New(routes, broker, exec, eng, lock, status, led)

	gate := alert.NewGate(store, cfg.Alerts.Cooldown)
	notifier := alert.NewNotifier(gate, cfg.Alerts.WebhookURL, cfg.Alerts.Timeout)
	alarmWorker := consumer.NewAlarmWorker(notifier)

	var pinger health.Pinger
	if redisClient != nil {
		pinger = redisClient
	}
	var dbCheck health.DBChecker
	var taskCounts health.TaskCounter
	if db != nil {
		dbCheck = db
		taskCounts = taskRepo
	}
	monitor := health.NewMonitor(cfg.Fallback.Chain, brk, gov, cfg.Budget.DailyUSD, pinger, dbCheck, taskCounts)
	healthServer := health.NewServer(monitor, cfg.Server.Port)

	return &Dispatcher{
		cfg:          cfg,
		broker:       broker,
		redisClient:  redisClient,
		db:           db,
		consumer:     cons,
		alarmWorker:  alarmWorker,
		healthServer: healthServer,
		log:          log,
	}, nil
}

// Start launches the health server and the queue consumers.
func (d *Dispatcher) Start(ctx context.Context) error {
	go func() {
		if err := d.healthServer.Start(); err != nil {
			d.log.Error("Health server failed", "error", err)
		}
	}()

	tasks, err := d.broker.Consume(d.broker.Config().MainQueue, "dispatcher")
	if err != nil {
		return err
	}
	alarms, err := d.broker.Consume(d.broker.Config().AlarmQueue, "alarm-worker")
	if err != nil {
		return err
	}

	d.log.Info("Starting task consumer", "queue", d.broker.Config().MainQueue)
	go func() {
		if err := d.consumer.Run(ctx, tasks); err != nil && ctx.Err() == nil {
			d.log.Error("Task consumer stopped", "error", err)
		}
	}()

	d.log.Info("Starting alarm worker", "queue", d.broker.Config().AlarmQueue)
	go func() {
		if err := d.alarmWorker.Run(ctx, alarms); err != nil && ctx.Err() == nil {
			d.log.Error("Alarm worker stopped", "error", err)
		}
	}()

	return nil
}

// Stop shuts the worker down.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.log.Info("Stopping dispatcher...")

	if err := d.broker.Close(); err != nil {
		d.log.Warn("Failed to close broker", "error", err)
	}
	if d.redisClient != nil {
		if err := d.redisClient.Close(); err != nil {
			d.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if d.db != nil {
		if err := d.db.Close(); err != nil {
			d.log.Warn("Failed to close database", "error", err)
		}
	}

	// Give in-flight handlers until the shutdown deadline.
	select {
	case <-ctx.Done():
	case <-time.After(100 * time.Millisecond):
	}

	return d.healthServer.Stop(ctx)
}
