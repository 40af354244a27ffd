package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nexuslab/dispatch/internal/dispatch/metrics"
)

// Payload is the outbound alert wire format.
type Payload struct {
	Event     string         `json:"event"`
	Severity  string         `json:"severity"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	DedupeKey string         `json:"dedupe_key"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// Notifier posts alerts to a webhook URL behind the dedupe gate. Delivery
// is best-effort; failures are logged, never queued for retry.
type Notifier struct {
	gate   *Gate
	url    string
	client *http.Client
}

// NewNotifier creates a notifier. An empty url disables delivery (sends
// become logged no-ops).
func NewNotifier(gate *Gate, url string, timeout time.Duration) *Notifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Notifier{
		gate:   gate,
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Send delivers the alert unless an identical one fired within the
// cooldown. Returns whether the alert went out.
func (n *Notifier) Send(ctx context.Context, p Payload) bool {
	allowed, remaining := n.gate.Allow(ctx, p.DedupeKey)
	if !allowed {
		slog.Debug("alert suppressed by cooldown",
			"dedupe_key", p.DedupeKey,
			"cooldown_remaining", remaining,
		)
		return false
	}

	if n.url == "" {
		slog.Info("alert (no webhook configured)",
			"event", p.Event,
			"severity", p.Severity,
			"title", p.Title,
		)
		return true
	}

	body, err := json.Marshal(p)
	if err != nil {
		slog.Error("failed to encode alert payload", "error", err)
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		slog.Error("failed to build alert request", "error", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		slog.Warn("alert webhook delivery failed", "error", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		slog.Warn("alert webhook rejected", "status", resp.StatusCode)
		return false
	}

	metrics.AlertsSent.WithLabelValues(p.Event).Inc()
	slog.Info("alert sent",
		"event", p.Event,
		"severity", p.Severity,
		"dedupe_key", p.DedupeKey,
	)
	return true
}

// FailureAlert builds the standard alarm payload for a failed task.
func FailureAlert(taskID, taskType, failureCode, lastError string) Payload {
	return Payload{
		Event:     "task_alarm",
		Severity:  "critical",
		Title:     fmt.Sprintf("task %s alarmed (%s)", taskID, failureCode),
		Message:   lastError,
		DedupeKey: fmt.Sprintf("task_alarm:%s:%s", taskType, failureCode),
		Extra: map[string]any{
			"task_id":      taskID,
			"task_type":    taskType,
			"failure_code": failureCode,
		},
	}
}
