package consumer

import (
	"context"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/nexuslab/dispatch/internal/alert"
	"github.com/nexuslab/dispatch/internal/core/domain"
)

// AlarmWorker drains the alarm queue into webhook notifications. Delivery is
// best-effort: a failed webhook is logged and the message acknowledged, it
// never re-enters the task queues.
type AlarmWorker struct {
	notifier *alert.Notifier
}

// NewAlarmWorker creates an alarm-queue worker.
func NewAlarmWorker(n *alert.Notifier) *AlarmWorker {
	return &AlarmWorker{notifier: n}
}

// Run processes alarm deliveries until the channel closes or ctx is cancelled.
func (w *AlarmWorker) Run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			w.Handle(ctx, d)
		}
	}
}

// Handle turns one alarmed envelope into a deduplicated webhook alert.
func (w *AlarmWorker) Handle(ctx context.Context, d amqp.Delivery) {
	defer func() { _ = d.Ack(false) }()

	e, err := domain.DecodeEnvelope(d.Body)
	if err != nil {
		slog.Warn("undecodable alarm message", "correlation_id", d.CorrelationId, "error", err)
		return
	}

	failureCode := domain.ExtractFailureCode(tableToMap(d.Headers), e)
	payload := alert.FailureAlert(e.TaskID, string(e.TaskType), failureCode, e.LastError)
	sent := w.notifier.Send(ctx, payload)
	slog.Info("alarm processed",
		"task_id", e.TaskID,
		"task_type", e.TaskType,
		"failure_code", failureCode,
		"sent", sent,
	)
}

func tableToMap(t amqp.Table) map[string]any {
	if t == nil {
		return nil
	}
	m := make(map[string]any, len(t))
	for k, v := range t {
		m[k] = v
	}
	return m
}
