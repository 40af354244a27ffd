package domain

import (
	"encoding/json"
	"testing"
)

func TestWithFailureCopies(t *testing.T) {
	orig := NewTaskEnvelope(TaskTypeChatCompletion, json.RawMessage(`{"prompt":"x"}`), "tester")

	failed := orig.WithFailure("PROVIDER_TIMEOUT", "http_408", "deadline exceeded")
	if orig.Failure != nil || orig.FailureCode != "" {
		t.Error("WithFailure must not mutate the original envelope")
	}
	if failed.Failure == nil || failed.Failure.FailureCode != "PROVIDER_TIMEOUT" {
		t.Fatalf("failure not attached: %+v", failed.Failure)
	}
	if failed.FailureCode != "PROVIDER_TIMEOUT" || failed.LastError != "deadline exceeded" {
		t.Error("compatibility fields not mirrored")
	}
	if failed.TaskID != orig.TaskID {
		t.Error("task identity must survive failure attachment")
	}
}

func TestWithRetryCopies(t *testing.T) {
	orig := NewTaskEnvelope(TaskTypeSummarize, json.RawMessage(`{}`), "")
	bumped := orig.WithRetry()
	if orig.RetryCount != 0 {
		t.Error("WithRetry must not mutate the original envelope")
	}
	if bumped.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", bumped.RetryCount)
	}
}

func TestExtractFailureCodeHeaderPrecedence(t *testing.T) {
	e := NewTaskEnvelope(TaskTypeEmbedding, json.RawMessage(`{}`), "").
		WithFailure("PROVIDER_AUTH_ERROR", "http_401", "bad key")

	tests := []struct {
		name    string
		headers map[string]any
		want    string
	}{
		{"header wins", map[string]any{"failure_code": "PROVIDER_RATE_LIMIT"}, "PROVIDER_RATE_LIMIT"},
		{"empty header ignored", map[string]any{"failure_code": ""}, "PROVIDER_AUTH_ERROR"},
		{"no header falls back to body", nil, "PROVIDER_AUTH_ERROR"},
	}
	for _, tt := range tests {
		if got := ExtractFailureCode(tt.headers, e); got != tt.want {
			t.Errorf("%s: got %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestDecodeEnvelopeRejectsMissingID(t *testing.T) {
	if _, err := DecodeEnvelope([]byte(`{"task_type":"summarize"}`)); err == nil {
		t.Error("expected error for envelope without task_id")
	}
	if _, err := DecodeEnvelope([]byte(`not json`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestDecodePayloadUnknownType(t *testing.T) {
	e := &TaskEnvelope{TaskID: "t1", TaskType: "mystery", Payload: json.RawMessage(`{}`)}
	if _, err := DecodePayload(e); err == nil {
		t.Error("expected UnsupportedTaskTypeError")
	}
}
