// Package consumer pulls task envelopes off the main queue, executes them,
// and routes failures through triage to a retry tier or a terminal queue.
// Messages are acknowledged only after a terminal outcome, so delivery is
// at-least-once and handlers must stay idempotent.
package consumer

import (
	"context"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/nexuslab/dispatch/internal/core/domain"
	"github.com/nexuslab/dispatch/internal/dispatch/classify"
	"github.com/nexuslab/dispatch/internal/dispatch/metrics"
	"github.com/nexuslab/dispatch/internal/dispatch/tasklock"
	"github.com/nexuslab/dispatch/internal/dispatch/triage"
	"github.com/nexuslab/dispatch/internal/infra/queue"
	"github.com/nexuslab/dispatch/internal/ledger"
)

// Publisher re-publishes envelopes into the queue graph.
type Publisher interface {
	Publish(ctx context.Context, queueName string, body []byte, correlationID string, headers amqp.Table) error
}

// StatusStore records task lifecycle transitions. Updates are best-effort;
// a store outage never blocks routing.
type StatusStore interface {
	Upsert(ctx context.Context, e *domain.TaskEnvelope, status domain.TaskStatus) error
}

// Routes names the destinations the consumer publishes to.
type Routes struct {
	RetryPrefix string
	RetryTiers  []int
	DLQ         string
	HoldQueue   string
	AlarmQueue  string
	MaxRetries  int
}

func (r *Routes) applyDefaults() {
	if len(r.RetryTiers) == 0 {
		r.RetryTiers = queue.DefaultRetryTiers
	}
	if r.MaxRetries <= 0 {
		r.MaxRetries = 3
	}
}

// Consumer is the main-queue processing loop.
type Consumer struct {
	routes Routes
	pub    Publisher
	exec   Executor
	triage *triage.Engine
	lock   *tasklock.Lock
	status StatusStore // nil disables status tracking
	ledger *ledger.Ledger
}

// New wires a consumer.
func New(
	routes Routes,
	pub Publisher,
	exec Executor,
	eng *triage.Engine,
	lock *tasklock.Lock,
	status StatusStore,
	led *ledger.Ledger,
) *Consumer {
	routes.applyDefaults()
	return &Consumer{
		routes: routes,
		pub:    pub,
		exec:   exec,
		triage: eng,
		lock:   lock,
		status: status,
		ledger: led,
	}
}

// Run processes deliveries until the channel closes or ctx is cancelled.
func (c *Consumer) Run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			c.Handle(ctx, d)
		}
	}
}

// Handle processes one delivery through execute → classify → triage → route.
func (c *Consumer) Handle(ctx context.Context, d amqp.Delivery) {
	e, err := domain.DecodeEnvelope(d.Body)
	if err != nil {
		// Undecodable bodies can never succeed on retry; park them.
		slog.Error("dropping undecodable envelope to DLQ", "correlation_id", d.CorrelationId, "error", err)
		headers := amqp.Table{"failure_code": classify.SchemaParseError}
		if perr := c.pub.Publish(ctx, c.routes.DLQ, d.Body, d.CorrelationId, headers); perr != nil {
			slog.Error("failed to publish undecodable envelope", "error", perr)
			_ = d.Nack(false, true)
			return
		}
		_ = d.Ack(false)
		return
	}

	// Broker headers win over the stale count baked into the body.
	if rc, ok := headerInt(d.Headers, "x-retry-count"); ok {
		e.RetryCount = rc
	}

	metrics.TasksConsumed.WithLabelValues(string(e.TaskType)).Inc()
	c.track(ctx, e, domain.TaskStatusRunning)

	ce := c.exec.Execute(ctx, e)
	if ce == nil {
		c.track(ctx, e, domain.TaskStatusSucceeded)
		_ = d.Ack(false)
		return
	}

	errorKind := "error"
	if ce.HTTPStatus > 0 {
		errorKind = httpKind(ce.HTTPStatus)
	}
	failed := e.WithFailure(ce.Code, errorKind, ce.Message)

	decision := c.triage.Decide(ce.Code)
	dest, status, action, reason := c.route(ctx, failed, decision)

	if action == "requeue" {
		failed = failed.WithRetry()
	}

	body, encErr := failed.Encode()
	if encErr != nil {
		slog.Error("failed to encode failed envelope", "task_id", failed.TaskID, "error", encErr)
		_ = d.Nack(false, true)
		return
	}
	headers := amqp.Table{
		"x-retry-count": int32(failed.RetryCount),
		"failure_code":  ce.Code,
	}
	if err := c.pub.Publish(ctx, dest, body, failed.TaskID, headers); err != nil {
		slog.Error("failed to route failed task, requeueing delivery",
			"task_id", failed.TaskID, "destination", dest, "error", err)
		_ = d.Nack(false, true)
		return
	}

	// Terminal destinations lock the task so redeliveries inside the lock
	// window go straight to the DLQ instead of looping.
	if action != "requeue" {
		if _, lerr := c.lock.Acquire(ctx, failed.TaskID); lerr != nil {
			slog.Warn("failed to acquire task lock", "task_id", failed.TaskID, "error", lerr)
		}
	}

	c.track(ctx, failed, status)
	c.journal(failed, ce.Code, action, reason, dest)
	metrics.TasksRouted.WithLabelValues(string(failed.TaskType), action).Inc()

	slog.Info("routed failed task",
		"task_id", failed.TaskID,
		"task_type", failed.TaskType,
		"failure_code", ce.Code,
		"action", action,
		"reason", reason,
		"destination", dest,
		"retry_count", failed.RetryCount,
	)
	_ = d.Ack(false)
}

// route picks the destination queue for a failed envelope. A locked task is
// forced to the DLQ regardless of the triage decision or retry budget.
func (c *Consumer) route(
	ctx context.Context,
	e *domain.TaskEnvelope,
	decision triage.Decision,
) (dest string, status domain.TaskStatus, action, reason string) {
	state, err := c.lock.IsLocked(ctx, e.TaskID)
	if err != nil {
		slog.Warn("task lock check failed, treating as unlocked", "task_id", e.TaskID, "error", err)
		state = tasklock.State{}
	}
	if state.Locked {
		return c.routes.DLQ, domain.TaskStatusDead, "dlq", "task locked, forced to DLQ"
	}

	switch decision.Action {
	case triage.ActionRequeue:
		if e.RetryCount >= c.routes.MaxRetries {
			return c.routes.DLQ, domain.TaskStatusDead, "dlq", "retry budget exhausted"
		}
		q, _ := queue.ChooseRetryQueue(c.routes.RetryPrefix, c.routes.RetryTiers, e.RetryCount)
		return q, domain.TaskStatusQueued, "requeue", decision.Reason
	case triage.ActionHold:
		return c.routes.HoldQueue, domain.TaskStatusHeld, "hold", decision.Reason
	case triage.ActionAlarm:
		return c.routes.AlarmQueue, domain.TaskStatusAlarmed, "alarm", decision.Reason
	default:
		return c.routes.DLQ, domain.TaskStatusDead, "dlq", decision.Reason
	}
}

func (c *Consumer) track(ctx context.Context, e *domain.TaskEnvelope, status domain.TaskStatus) {
	if c.status == nil {
		return
	}
	if err := c.status.Upsert(ctx, e, status); err != nil {
		slog.Warn("task status update failed", "task_id", e.TaskID, "status", status, "error", err)
	}
}

func (c *Consumer) journal(e *domain.TaskEnvelope, failureCode, action, reason, dest string) {
	if c.ledger == nil {
		return
	}
	err := c.ledger.Append(ledger.Entry{
		EventKind: ledger.EventTriage,
		Extra: map[string]any{
			"task_id":      e.TaskID,
			"task_type":    string(e.TaskType),
			"failure_code": failureCode,
			"action":       action,
			"reason":       reason,
			"destination":  dest,
			"retry_count":  e.RetryCount,
		},
	})
	if err != nil {
		slog.Warn("ledger append failed", "task_id", e.TaskID, "error", err)
	}
}

func headerInt(headers amqp.Table, key string) (int, bool) {
	if headers == nil {
		return 0, false
	}
	switch v := headers[key].(type) {
	case int:
		return v, true
	case int8:
		return int(v), true
	case int16:
		return int(v), true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func httpKind(status int) string {
	return fmt.Sprintf("http_%d", status)
}
