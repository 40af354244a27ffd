package domain

import (
	"encoding/json"
	"fmt"
)

// UnsupportedTaskTypeError is returned when an envelope carries a task type
// no consumer handler is registered for.
type UnsupportedTaskTypeError struct {
	TaskType TaskType
}

func (e *UnsupportedTaskTypeError) Error() string {
	return fmt.Sprintf("unsupported task type: %s", e.TaskType)
}

// ChatCompletionPayload asks for one completion from the provider chain.
type ChatCompletionPayload struct {
	OrgID           string `json:"org_id"`
	ProjectID       string `json:"project_id"`
	Purpose         string `json:"purpose"`
	Prompt          string `json:"prompt"`
	MaxOutputTokens int    `json:"max_output_tokens,omitempty"`
	ProviderHint    string `json:"provider_hint,omitempty"`
	ModelHint       string `json:"model_hint,omitempty"`
}

// SummarizePayload condenses source text through the provider chain.
type SummarizePayload struct {
	OrgID     string `json:"org_id"`
	ProjectID string `json:"project_id"`
	Source    string `json:"source"`
	MaxWords  int    `json:"max_words,omitempty"`
}

// EmbeddingPayload requests an embedding vector for a document chunk.
type EmbeddingPayload struct {
	OrgID     string `json:"org_id"`
	ProjectID string `json:"project_id"`
	Input     string `json:"input"`
}

// WebhookReplayPayload re-delivers a previously failed outbound webhook.
type WebhookReplayPayload struct {
	URL  string          `json:"url"`
	Body json.RawMessage `json:"body"`
}

// DecodePayload parses the envelope payload into its typed variant.
// Unknown task types yield UnsupportedTaskTypeError.
func DecodePayload(e *TaskEnvelope) (any, error) {
	decode := func(v any) (any, error) {
		if err := json.Unmarshal(e.Payload, v); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", e.TaskType, err)
		}
		return v, nil
	}

	switch e.TaskType {
	case TaskTypeChatCompletion:
		return decode(&ChatCompletionPayload{})
	case TaskTypeSummarize:
		return decode(&SummarizePayload{})
	case TaskTypeEmbedding:
		return decode(&EmbeddingPayload{})
	case TaskTypeWebhookReplay:
		return decode(&WebhookReplayPayload{})
	default:
		return nil, &UnsupportedTaskTypeError{TaskType: e.TaskType}
	}
}
