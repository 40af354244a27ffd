package consumer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nexuslab/dispatch/internal/core/domain"
	"github.com/nexuslab/dispatch/internal/dispatch/classify"
	"github.com/nexuslab/dispatch/internal/provider/fallback"
)

// Executor runs a task's business logic. A nil return means success; any
// failure comes back already classified.
type Executor interface {
	Execute(ctx context.Context, e *domain.TaskEnvelope) *classify.ClassifiedError
}

// TaskExecutor dispatches task payloads to the provider fallback client or,
// for webhook replays, straight to the target URL.
type TaskExecutor struct {
	llm      *fallback.Client
	webhooks *http.Client
}

// NewTaskExecutor creates an executor over the fallback client.
func NewTaskExecutor(llm *fallback.Client, webhookTimeout time.Duration) *TaskExecutor {
	if webhookTimeout <= 0 {
		webhookTimeout = 15 * time.Second
	}
	return &TaskExecutor{
		llm:      llm,
		webhooks: &http.Client{Timeout: webhookTimeout},
	}
}

// Execute decodes the payload and runs the task.
func (x *TaskExecutor) Execute(ctx context.Context, e *domain.TaskEnvelope) *classify.ClassifiedError {
	payload, err := domain.DecodePayload(e)
	if err != nil {
		var unsupported *domain.UnsupportedTaskTypeError
		if errors.As(err, &unsupported) {
			return &classify.ClassifiedError{Code: classify.InternalError, Message: err.Error()}
		}
		return &classify.ClassifiedError{Code: classify.SchemaParseError, Message: err.Error()}
	}

	switch p := payload.(type) {
	case *domain.ChatCompletionPayload:
		return x.callChain(ctx, fallback.Call{
			OrgID:           p.OrgID,
			ProjectID:       p.ProjectID,
			Purpose:         p.Purpose,
			Prompt:          p.Prompt,
			MaxOutputTokens: p.MaxOutputTokens,
			ProviderHint:    p.ProviderHint,
			ModelHint:       p.ModelHint,
		})
	case *domain.SummarizePayload:
		maxWords := p.MaxWords
		if maxWords <= 0 {
			maxWords = 200
		}
		return x.callChain(ctx, fallback.Call{
			OrgID:     p.OrgID,
			ProjectID: p.ProjectID,
			Purpose:   "summarize",
			Prompt:    fmt.Sprintf("Summarize the following in at most %d words.\n\n%s", maxWords, p.Source),
		})
	case *domain.EmbeddingPayload:
		return x.callChain(ctx, fallback.Call{
			OrgID:     p.OrgID,
			ProjectID: p.ProjectID,
			Purpose:   "embedding",
			Prompt:    p.Input,
		})
	case *domain.WebhookReplayPayload:
		return x.replayWebhook(ctx, p)
	default:
		return &classify.ClassifiedError{
			Code:    classify.InternalError,
			Message: fmt.Sprintf("no handler for task type %s", e.TaskType),
		}
	}
}

func (x *TaskExecutor) callChain(ctx context.Context, call fallback.Call) *classify.ClassifiedError {
	r := x.llm.Execute(ctx, call)
	if r.OK {
		return nil
	}
	code := r.FailureCode
	if code == "" {
		code = classify.Unknown
	}
	return &classify.ClassifiedError{
		Code:       code,
		Message:    r.Error,
		HTTPStatus: r.HTTPStatus,
		RetryAfter: r.RetryAfter,
	}
}

func (x *TaskExecutor) replayWebhook(ctx context.Context, p *domain.WebhookReplayPayload) *classify.ClassifiedError {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(p.Body))
	if err != nil {
		return &classify.ClassifiedError{Code: classify.InternalError, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := x.webhooks.Do(req)
	if err != nil {
		ce := classify.Transport(0, err)
		return &ce
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		ce := classify.HTTPStatus(resp.StatusCode, "", fmt.Sprintf("webhook replay returned %d", resp.StatusCode), 0)
		return &ce
	}
	return nil
}
