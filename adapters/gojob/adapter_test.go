package gojob

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-credentials/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

func TestRefreshJobMessageSurvivesQueueMapping(t *testing.T) {
	expiresAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	original := core.NewRefreshJobMessage(core.Link{
		WorkspaceID: "ws_1",
		Kind:        core.ServiceKindGmail,
		ExpiresAt:   &expiresAt,
	}, 10*time.Minute)

	converted := ToExecutionMessage(original)
	if converted.JobID != JobIDRefresh {
		t.Fatalf("expected job id %q, got %q", JobIDRefresh, converted.JobID)
	}
	if converted.IdempotencyKey != original.IdempotencyKey {
		t.Fatalf("expected idempotency key %q, got %q", original.IdempotencyKey, converted.IdempotencyKey)
	}

	back := FromExecutionMessage(converted)
	if back.Parameters["workspace_id"] != "ws_1" || back.Parameters["service_kind"] != "gmail" {
		t.Fatalf("expected link key parameters to survive mapping, got %#v", back.Parameters)
	}
	if back.DedupPolicy != original.DedupPolicy {
		t.Fatalf("expected dedup policy %q, got %q", original.DedupPolicy, back.DedupPolicy)
	}
}

func TestEnqueueAndDequeueAdapters(t *testing.T) {
	ctx := context.Background()
	enqueuer := &stubQueueEnqueuer{}
	msg := &core.JobExecutionMessage{
		JobID:          JobIDRefresh,
		ScriptPath:     core.JobScriptCredentialRefresh,
		Parameters:     map[string]any{"workspace_id": "ws_1", "service_kind": "drive"},
		IdempotencyKey: "ws_1:drive:1",
	}
	if err := NewEnqueuerAdapter(enqueuer).Enqueue(ctx, msg); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if enqueuer.last == nil || enqueuer.last.JobID != JobIDRefresh {
		t.Fatalf("expected mapped go-job message")
	}

	raw := &stubQueueDelivery{msg: enqueuer.last}
	dequeuer := NewDequeuerAdapter(&stubQueueDequeuer{delivery: raw}, RetryPolicy{})
	delivery, err := dequeuer.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if got := delivery.Message(); got == nil || got.Parameters["service_kind"] != "drive" {
		t.Fatalf("expected mapped core message, got %#v", got)
	}
	if err := delivery.Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if !raw.acked {
		t.Fatalf("expected ack on underlying delivery")
	}
}

func TestDequeuerAdapter_CountsRedeliveriesUntilSettled(t *testing.T) {
	ctx := context.Background()
	raw := &stubQueueDelivery{msg: &job.ExecutionMessage{JobID: JobIDRefresh, IdempotencyKey: "ws_1:gmail:1"}}
	dequeuer := NewDequeuerAdapter(&stubQueueDequeuer{delivery: raw}, RetryPolicy{})

	for want := 1; want <= 3; want++ {
		delivery, err := dequeuer.Dequeue(ctx)
		if err != nil {
			t.Fatalf("dequeue %d: %v", want, err)
		}
		if got := delivery.(core.JobAttemptReporter).Attempt(); got != want {
			t.Fatalf("expected attempt %d, got %d", want, got)
		}
		if want < 3 {
			if err := delivery.Nack(ctx, core.JobNackOptions{Requeue: true, Delay: time.Second}); err != nil {
				t.Fatalf("nack: %v", err)
			}
			continue
		}
		if err := delivery.Ack(ctx); err != nil {
			t.Fatalf("ack: %v", err)
		}
	}

	delivery, err := dequeuer.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue after ack: %v", err)
	}
	if got := delivery.(core.JobAttemptReporter).Attempt(); got != 1 {
		t.Fatalf("expected attempts to reset after ack, got %d", got)
	}
}

func TestNackRetryPolicyBoundaries(t *testing.T) {
	ctx := context.Background()
	policy := RetryPolicy{MaxAttempts: 3, MaxDelay: 10 * time.Second, DeadLetterOnMax: true}

	first := &stubQueueDelivery{msg: &job.ExecutionMessage{JobID: JobIDRefresh}}
	if err := NewDeliveryAdapter(first, policy, 1).Nack(ctx, core.JobNackOptions{
		Delay:   30 * time.Second,
		Requeue: true,
		Reason:  "transient",
	}); err != nil {
		t.Fatalf("nack attempt 1: %v", err)
	}
	if first.nackOpts.Delay != 10*time.Second {
		t.Fatalf("expected delay to be bounded, got %s", first.nackOpts.Delay)
	}
	if first.nackOpts.Disposition != queue.NackDispositionRetry {
		t.Fatalf("expected retry disposition before max attempts, got %q", first.nackOpts.Disposition)
	}

	last := &stubQueueDelivery{msg: &job.ExecutionMessage{JobID: JobIDRefresh}}
	if err := NewDeliveryAdapter(last, policy, 3).Nack(ctx, core.JobNackOptions{
		Delay:   time.Second,
		Requeue: true,
		Reason:  "still failing",
	}); err != nil {
		t.Fatalf("nack max attempt: %v", err)
	}
	if last.nackOpts.Disposition != queue.NackDispositionDeadLetter {
		t.Fatalf("expected dead letter on max attempts, got %q", last.nackOpts.Disposition)
	}
	if last.nackOpts.Delay != 0 {
		t.Fatalf("expected no delay on a dead-lettered job, got %s", last.nackOpts.Delay)
	}
}

func TestNackFailsJobAtMaxAttemptsWithoutDeadLetter(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 2}
	raw := &stubQueueDelivery{msg: &job.ExecutionMessage{JobID: JobIDRefresh}}
	if err := NewDeliveryAdapter(raw, policy, 2).Nack(context.Background(), core.JobNackOptions{
		Delay:   time.Second,
		Requeue: true,
		Reason:  "still failing",
	}); err != nil {
		t.Fatalf("nack: %v", err)
	}
	if raw.nackOpts.Disposition != queue.NackDispositionFailed {
		t.Fatalf("expected failed disposition once attempts are exhausted, got %q", raw.nackOpts.Disposition)
	}
	if raw.nackOpts.Reason != "still failing" {
		t.Fatalf("expected reason to carry over, got %q", raw.nackOpts.Reason)
	}
	if err := queue.ValidateNackOptions(raw.nackOpts); err != nil {
		t.Fatalf("expected valid nack options, got %v", err)
	}
}

func TestDequeuerAdapter_PrefersQueueAttemptCount(t *testing.T) {
	raw := &countedQueueDelivery{
		stubQueueDelivery: stubQueueDelivery{msg: &job.ExecutionMessage{JobID: JobIDRefresh, IdempotencyKey: "ws_1:gmail:1"}},
		attempts:          4,
	}
	dequeuer := NewDequeuerAdapter(&stubQueueDequeuer{delivery: raw}, RetryPolicy{MaxAttempts: 4})

	delivery, err := dequeuer.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if got := delivery.(core.JobAttemptReporter).Attempt(); got != 4 {
		t.Fatalf("expected the queue attempt count, got %d", got)
	}
	if err := delivery.Nack(context.Background(), core.JobNackOptions{Requeue: true}); err != nil {
		t.Fatalf("nack: %v", err)
	}
	if raw.nackOpts.Disposition != queue.NackDispositionFailed {
		t.Fatalf("expected the fourth attempt to exhaust the policy, got %q", raw.nackOpts.Disposition)
	}
}

func TestWorkerHookAdapterEventMapping(t *testing.T) {
	now := time.Now().UTC().Add(-time.Second)
	coreHook := &capturingHook{}
	adapter := NewWorkerHookAdapter(coreHook)

	adapter.OnRetry(context.Background(), worker.Event{
		Message: &job.ExecutionMessage{
			JobID:          JobIDRefresh,
			ScriptPath:     core.JobScriptCredentialRefresh,
			IdempotencyKey: "ws_1:docs:1",
		},
		Attempt:   2,
		Delay:     5 * time.Second,
		Err:       errors.New("retry"),
		StartedAt: now,
		Duration:  250 * time.Millisecond,
	})
	if coreHook.retried.Message == nil || coreHook.retried.Message.JobID != JobIDRefresh {
		t.Fatalf("expected job id mapping, got %#v", coreHook.retried.Message)
	}
	if coreHook.retried.Attempt != 2 || coreHook.retried.Delay != 5*time.Second {
		t.Fatalf("unexpected attempt or delay mapping: %#v", coreHook.retried)
	}
	if coreHook.retried.Duration != 250*time.Millisecond || coreHook.retried.StartedAt.IsZero() {
		t.Fatalf("expected timing mapping")
	}
	if coreHook.retried.Err == nil || coreHook.retried.Err.Error() != "retry" {
		t.Fatalf("expected error mapping")
	}
}

func TestRefreshWorker_ProcessNextHandsDeliveryToRunner(t *testing.T) {
	ctx := context.Background()
	raw := &stubQueueDelivery{msg: &job.ExecutionMessage{JobID: JobIDRefresh, IdempotencyKey: "ws_1:gmail:1"}}
	hook := &capturingHook{}
	runner := refreshRunnerFunc(func(ctx context.Context, delivery core.JobDelivery) error {
		return delivery.Ack(ctx)
	})
	w := NewRefreshWorker(NewDequeuerAdapter(&stubQueueDequeuer{delivery: raw}, RetryPolicy{}), runner, RefreshWorkerConfig{Hook: hook})

	processed, err := w.ProcessNext(ctx)
	if err != nil || !processed {
		t.Fatalf("expected a processed delivery, got processed=%v err=%v", processed, err)
	}
	if !raw.acked {
		t.Fatalf("expected runner to ack the delivery")
	}
	if hook.started.Attempt != 1 || hook.succeeded.Message == nil {
		t.Fatalf("expected start and success hooks, got %#v / %#v", hook.started, hook.succeeded)
	}
}

func TestRefreshWorker_ReportsRunnerFailure(t *testing.T) {
	raw := &stubQueueDelivery{msg: &job.ExecutionMessage{JobID: JobIDRefresh}}
	hook := &capturingHook{}
	runner := refreshRunnerFunc(func(context.Context, core.JobDelivery) error {
		return errors.New("nack failed")
	})
	w := NewRefreshWorker(NewDequeuerAdapter(&stubQueueDequeuer{delivery: raw}, RetryPolicy{}), runner, RefreshWorkerConfig{Hook: hook})

	processed, err := w.ProcessNext(context.Background())
	if !processed || err == nil {
		t.Fatalf("expected processed delivery with error, got processed=%v err=%v", processed, err)
	}
	if hook.failed.Err == nil {
		t.Fatalf("expected failure hook")
	}
}

func TestRefreshWorker_RunStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	dequeuer := &stubQueueDequeuer{err: errors.New("queue empty")}
	w := NewRefreshWorker(NewDequeuerAdapter(dequeuer, RetryPolicy{}), refreshRunnerFunc(func(context.Context, core.JobDelivery) error {
		return nil
	}), RefreshWorkerConfig{IdleInterval: time.Millisecond})

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("worker did not stop after cancellation")
	}
}

type refreshRunnerFunc func(ctx context.Context, delivery core.JobDelivery) error

func (f refreshRunnerFunc) HandleRefreshJob(ctx context.Context, delivery core.JobDelivery) error {
	return f(ctx, delivery)
}

type stubQueueEnqueuer struct {
	last *job.ExecutionMessage
}

func (s *stubQueueEnqueuer) Enqueue(_ context.Context, msg *job.ExecutionMessage) (queue.EnqueueReceipt, error) {
	s.last = msg
	return queue.EnqueueReceipt{}, nil
}

type stubQueueDequeuer struct {
	delivery queue.Delivery
	err      error
}

func (s *stubQueueDequeuer) Dequeue(context.Context) (queue.Delivery, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.delivery, nil
}

type stubQueueDelivery struct {
	msg      *job.ExecutionMessage
	acked    bool
	nackOpts queue.NackOptions
}

func (s *stubQueueDelivery) Message() *job.ExecutionMessage {
	return s.msg
}

func (s *stubQueueDelivery) Ack(context.Context) error {
	s.acked = true
	return nil
}

func (s *stubQueueDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	s.nackOpts = opts
	return nil
}

type countedQueueDelivery struct {
	stubQueueDelivery
	attempts int
}

func (s *countedQueueDelivery) Attempts() int {
	return s.attempts
}

type capturingHook struct {
	started   core.JobWorkerEvent
	succeeded core.JobWorkerEvent
	failed    core.JobWorkerEvent
	retried   core.JobWorkerEvent
}

func (h *capturingHook) OnStart(_ context.Context, event core.JobWorkerEvent)   { h.started = event }
func (h *capturingHook) OnSuccess(_ context.Context, event core.JobWorkerEvent) { h.succeeded = event }
func (h *capturingHook) OnFailure(_ context.Context, event core.JobWorkerEvent) { h.failed = event }
func (h *capturingHook) OnRetry(_ context.Context, event core.JobWorkerEvent)   { h.retried = event }
