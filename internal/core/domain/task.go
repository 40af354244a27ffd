package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskStatus tracks a task through its lifecycle in the status store.
type TaskStatus string

const (
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusHeld      TaskStatus = "held"
	TaskStatusAlarmed   TaskStatus = "alarmed"
	TaskStatusDead      TaskStatus = "dead"
)

// TaskType identifies the payload variant carried by an envelope.
type TaskType string

const (
	TaskTypeChatCompletion TaskType = "chat_completion"
	TaskTypeSummarize      TaskType = "summarize"
	TaskTypeEmbedding      TaskType = "embedding"
	TaskTypeWebhookReplay  TaskType = "webhook_replay"
)

// TaskEnvelope is the wire-format message moved through the queue topology.
// The payload is immutable after creation; retries re-publish a copy with
// updated headers and retry count.
type TaskEnvelope struct {
	TaskID      string           `json:"task_id"`
	TaskType    TaskType         `json:"task_type"`
	RequestedBy string           `json:"requested_by,omitempty"`
	RequestedAt time.Time        `json:"requested_at"`
	RetryCount  int              `json:"retry_count"`
	Payload     json.RawMessage  `json:"payload"`
	Failure     *FailureEnvelope `json:"failure,omitempty"`

	// Compatibility fields mirrored from Failure for older consumers.
	FailureCode string    `json:"failure_code,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	FailedAt    time.Time `json:"failed_at,omitempty"`
}

// NewTaskEnvelope creates an envelope for a fresh task.
func NewTaskEnvelope(taskType TaskType, payload json.RawMessage, requestedBy string) *TaskEnvelope {
	return &TaskEnvelope{
		TaskID:      uuid.NewString(),
		TaskType:    taskType,
		RequestedBy: requestedBy,
		RequestedAt: time.Now().UTC(),
		Payload:     payload,
	}
}

// FailureEnvelope is attached to a copy of a task envelope before the copy
// is routed to a retry or terminal queue. The original envelope is never
// re-used once a failure is attached.
type FailureEnvelope struct {
	FailureCode string    `json:"failure_code"`
	ErrorKind   string    `json:"error_kind"`
	ErrorMsg    string    `json:"error_msg"`
	FailedAt    time.Time `json:"failed_at"`
}

// WithFailure returns a copy of the envelope with a failure attached and the
// compatibility fields mirrored.
func (e *TaskEnvelope) WithFailure(failureCode, errorKind, errorMsg string) *TaskEnvelope {
	out := *e
	out.Failure = &FailureEnvelope{
		FailureCode: failureCode,
		ErrorKind:   errorKind,
		ErrorMsg:    errorMsg,
		FailedAt:    time.Now().UTC(),
	}
	out.FailureCode = failureCode
	out.LastError = errorMsg
	out.FailedAt = out.Failure.FailedAt
	return &out
}

// WithRetry returns a copy of the envelope with the retry count bumped.
func (e *TaskEnvelope) WithRetry() *TaskEnvelope {
	out := *e
	out.RetryCount++
	return &out
}

// ExtractFailureCode returns the failure code carried by headers or the
// envelope body, headers taking precedence.
func ExtractFailureCode(headers map[string]any, e *TaskEnvelope) string {
	if headers != nil {
		if v, ok := headers["failure_code"]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	if e == nil {
		return ""
	}
	if e.FailureCode != "" {
		return e.FailureCode
	}
	if e.Failure != nil {
		return e.Failure.FailureCode
	}
	return ""
}

// DecodeEnvelope parses a task envelope from its JSON wire form.
func DecodeEnvelope(data []byte) (*TaskEnvelope, error) {
	var e TaskEnvelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to decode task envelope: %w", err)
	}
	if e.TaskID == "" {
		return nil, fmt.Errorf("task envelope missing task_id")
	}
	return &e, nil
}

// Encode serializes the envelope to its JSON wire form.
func (e *TaskEnvelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task envelope: %w", err)
	}
	return data, nil
}
