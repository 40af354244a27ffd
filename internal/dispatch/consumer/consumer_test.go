package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/nexuslab/dispatch/internal/alert"
	"github.com/nexuslab/dispatch/internal/core/domain"
	"github.com/nexuslab/dispatch/internal/dispatch/classify"
	"github.com/nexuslab/dispatch/internal/dispatch/tasklock"
	"github.com/nexuslab/dispatch/internal/dispatch/triage"
	"github.com/nexuslab/dispatch/internal/infra/kv"
)

type fakeAck struct {
	acked   atomic.Int64
	nacked  atomic.Int64
	requeue atomic.Bool
}

func (a *fakeAck) Ack(tag uint64, multiple bool) error { a.acked.Add(1); return nil }
func (a *fakeAck) Nack(tag uint64, multiple, requeue bool) error {
	a.nacked.Add(1)
	a.requeue.Store(requeue)
	return nil
}
func (a *fakeAck) Reject(tag uint64, requeue bool) error { return a.Nack(tag, false, requeue) }

type published struct {
	queue   string
	body    []byte
	corrID  string
	headers amqp.Table
}

type fakePublisher struct {
	calls []published
	err   error
}

func (p *fakePublisher) Publish(_ context.Context, queueName string, body []byte, correlationID string, headers amqp.Table) error {
	if p.err != nil {
		return p.err
	}
	p.calls = append(p.calls, published{queueName, body, correlationID, headers})
	return nil
}

// scriptedExecutor fails with the queued errors in order, then succeeds.
type scriptedExecutor struct {
	failures []*classify.ClassifiedError
	calls    int
}

func (x *scriptedExecutor) Execute(ctx context.Context, e *domain.TaskEnvelope) *classify.ClassifiedError {
	x.calls++
	if len(x.failures) == 0 {
		return nil
	}
	ce := x.failures[0]
	x.failures = x.failures[1:]
	return ce
}

type statusRecorder struct {
	transitions []domain.TaskStatus
	last        *domain.TaskEnvelope
}

func (s *statusRecorder) Upsert(_ context.Context, e *domain.TaskEnvelope, status domain.TaskStatus) error {
	s.transitions = append(s.transitions, status)
	s.last = e
	return nil
}

func testRoutes() Routes {
	return Routes{
		RetryPrefix: "t.retry",
		RetryTiers:  []int{5, 30, 300},
		DLQ:         "t.dlq",
		HoldQueue:   "t.hold",
		AlarmQueue:  "t.alarm",
		MaxRetries:  3,
	}
}

func newTestConsumer(exec Executor, pub Publisher, status StatusStore) (*Consumer, *tasklock.Lock) {
	lock := tasklock.New(kv.NewMemoryStore(), 15*time.Minute)
	c := New(testRoutes(), pub, exec, triage.NewEngine(triage.Overrides{}), lock, status, nil)
	return c, lock
}

func envelopeDelivery(t *testing.T, e *domain.TaskEnvelope, retryCount int, ack amqp.Acknowledger) amqp.Delivery {
	t.Helper()
	body, err := e.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return amqp.Delivery{
		Acknowledger:  ack,
		Body:          body,
		CorrelationId: e.TaskID,
		Headers:       amqp.Table{"x-retry-count": int32(retryCount)},
	}
}

func chatEnvelope(t *testing.T) *domain.TaskEnvelope {
	t.Helper()
	payload, _ := json.Marshal(domain.ChatCompletionPayload{
		OrgID: "org-1", Purpose: "notice", Prompt: "hello",
	})
	return domain.NewTaskEnvelope(domain.TaskTypeChatCompletion, payload, "tester")
}

func TestTransientFailureRecovers(t *testing.T) {
	// 503 three times, then success: each failure requeues, final pass
	// succeeds with retry count 3.
	upstream := classify.HTTPStatus(503, "", "upstream sad", 0)
	exec := &scriptedExecutor{failures: []*classify.ClassifiedError{&upstream, &upstream, &upstream}}
	pub := &fakePublisher{}
	status := &statusRecorder{}
	c, _ := newTestConsumer(exec, pub, status)

	e := chatEnvelope(t)
	retryCount := 0
	for i := 0; i < 3; i++ {
		ack := &fakeAck{}
		c.Handle(context.Background(), envelopeDelivery(t, e, retryCount, ack))
		if ack.acked.Load() != 1 {
			t.Fatalf("attempt %d: expected ack after re-publish", i)
		}
		last := pub.calls[len(pub.calls)-1]
		wantQueue := []string{"t.retry.5s", "t.retry.30s", "t.retry.300s"}[i]
		if last.queue != wantQueue {
			t.Errorf("attempt %d routed to %s, want %s", i, last.queue, wantQueue)
		}
		rc, ok := headerInt(last.headers, "x-retry-count")
		if !ok || rc != retryCount+1 {
			t.Fatalf("attempt %d: x-retry-count = %d, want %d", i, rc, retryCount+1)
		}
		retryCount = rc
		e, _ = domain.DecodeEnvelope(last.body)
	}

	ack := &fakeAck{}
	c.Handle(context.Background(), envelopeDelivery(t, e, retryCount, ack))
	if ack.acked.Load() != 1 {
		t.Fatal("final attempt should ack")
	}
	if len(pub.calls) != 3 {
		t.Fatalf("expected 3 re-publishes, got %d", len(pub.calls))
	}
	final := status.transitions[len(status.transitions)-1]
	if final != domain.TaskStatusSucceeded {
		t.Errorf("final status = %s, want succeeded", final)
	}
	if status.last.RetryCount != 3 {
		t.Errorf("final retry count = %d, want 3", status.last.RetryCount)
	}
}

func TestRetryBudgetExhaustedGoesToDLQ(t *testing.T) {
	upstream := classify.HTTPStatus(503, "", "still down", 0)
	exec := &scriptedExecutor{failures: []*classify.ClassifiedError{&upstream}}
	pub := &fakePublisher{}
	c, _ := newTestConsumer(exec, pub, nil)

	e := chatEnvelope(t)
	ack := &fakeAck{}
	c.Handle(context.Background(), envelopeDelivery(t, e, 3, ack))

	if len(pub.calls) != 1 || pub.calls[0].queue != "t.dlq" {
		t.Fatalf("expected DLQ publish, got %+v", pub.calls)
	}
	failed, _ := domain.DecodeEnvelope(pub.calls[0].body)
	if failed.FailureCode != classify.ProviderUpstreamError {
		t.Errorf("failure code = %s", failed.FailureCode)
	}
	if failed.Failure == nil || failed.Failure.ErrorMsg != "still down" {
		t.Error("failure history not attached to DLQ envelope")
	}
}

func TestLockedTaskForcedToDLQ(t *testing.T) {
	// Policy says hold for schema errors, but a locked task is forced to
	// the DLQ regardless.
	schema := &classify.ClassifiedError{Code: classify.SchemaValidationError, Message: "bad shape"}
	exec := &scriptedExecutor{failures: []*classify.ClassifiedError{schema, schema}}
	pub := &fakePublisher{}
	c, lock := newTestConsumer(exec, pub, nil)

	e := chatEnvelope(t)
	if _, err := lock.Acquire(context.Background(), e.TaskID); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ack := &fakeAck{}
	c.Handle(context.Background(), envelopeDelivery(t, e, 0, ack))
	if len(pub.calls) != 1 || pub.calls[0].queue != "t.dlq" {
		t.Fatalf("locked task routed to %v, want t.dlq", pub.calls)
	}

	// The same failure on an unlocked task holds as policy dictates.
	e2 := chatEnvelope(t)
	c.Handle(context.Background(), envelopeDelivery(t, e2, 0, &fakeAck{}))
	if pub.calls[1].queue != "t.hold" {
		t.Fatalf("unlocked schema failure routed to %s, want t.hold", pub.calls[1].queue)
	}
}

func TestAuthFailureRoutesToAlarmAndLocks(t *testing.T) {
	auth := classify.HTTPStatus(401, "", "bad key", 0)
	exec := &scriptedExecutor{failures: []*classify.ClassifiedError{&auth}}
	pub := &fakePublisher{}
	c, lock := newTestConsumer(exec, pub, nil)

	e := chatEnvelope(t)
	c.Handle(context.Background(), envelopeDelivery(t, e, 0, &fakeAck{}))

	if len(pub.calls) != 1 || pub.calls[0].queue != "t.alarm" {
		t.Fatalf("expected alarm publish, got %+v", pub.calls)
	}
	state, err := lock.IsLocked(context.Background(), e.TaskID)
	if err != nil || !state.Locked {
		t.Errorf("terminal routing should lock the task, locked=%v err=%v", state.Locked, err)
	}
}

func TestPublishFailureNacksForRedelivery(t *testing.T) {
	upstream := classify.HTTPStatus(502, "", "bad gateway", 0)
	exec := &scriptedExecutor{failures: []*classify.ClassifiedError{&upstream}}
	pub := &fakePublisher{err: fmt.Errorf("broker gone")}
	c, _ := newTestConsumer(exec, pub, nil)

	ack := &fakeAck{}
	c.Handle(context.Background(), envelopeDelivery(t, chatEnvelope(t), 0, ack))
	if ack.acked.Load() != 0 {
		t.Error("must not ack when routing publish fails")
	}
	if ack.nacked.Load() != 1 || !ack.requeue.Load() {
		t.Error("expected nack with requeue")
	}
}

func TestUndecodableBodyParksInDLQ(t *testing.T) {
	pub := &fakePublisher{}
	c, _ := newTestConsumer(&scriptedExecutor{}, pub, nil)

	ack := &fakeAck{}
	c.Handle(context.Background(), amqp.Delivery{
		Acknowledger:  ack,
		Body:          []byte("{not json"),
		CorrelationId: "corr-1",
	})
	if len(pub.calls) != 1 || pub.calls[0].queue != "t.dlq" {
		t.Fatalf("expected DLQ publish, got %+v", pub.calls)
	}
	if ack.acked.Load() != 1 {
		t.Error("undecodable body should still be acked after parking")
	}
}

func TestAlarmWorkerSendsDedupedAlert(t *testing.T) {
	// Two alarmed tasks with the same task type and failure code inside the
	// cooldown window produce exactly one webhook call.
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	gate := alert.NewGate(kv.NewMemoryStore(), 15*time.Minute)
	worker := NewAlarmWorker(alert.NewNotifier(gate, srv.URL, 2*time.Second))

	for i := 0; i < 2; i++ {
		e := chatEnvelope(t).WithFailure(classify.ProviderAuthError, "http_401", "bad key")
		body, _ := e.Encode()
		worker.Handle(context.Background(), amqp.Delivery{
			Acknowledger:  &fakeAck{},
			Body:          body,
			CorrelationId: e.TaskID,
			Headers:       amqp.Table{"failure_code": classify.ProviderAuthError},
		})
	}
	if hits.Load() != 1 {
		t.Fatalf("webhook hit %d times, want 1", hits.Load())
	}
}
