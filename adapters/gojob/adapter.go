package gojob

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-credentials/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

const JobIDRefresh = core.JobIDCredentialRefresh

// RetryPolicy bounds how often a refresh job is requeued.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// NormalizeAttempt enforces bounded retry behavior for a nack operation.
func (p RetryPolicy) NormalizeAttempt(opts core.JobNackOptions, attempt int) core.JobNackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		// Exhausted jobs either dead-letter or fail; they never requeue.
		out.Requeue = false
		out.DeadLetter = p.DeadLetterOnMax || out.DeadLetter
		return out
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

func ToExecutionMessage(msg *core.JobExecutionMessage) *job.ExecutionMessage {
	if msg == nil {
		return nil
	}
	return &job.ExecutionMessage{
		JobID:          strings.TrimSpace(msg.JobID),
		ScriptPath:     strings.TrimSpace(msg.ScriptPath),
		Parameters:     copyAnyMap(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		DedupPolicy:    job.DeduplicationPolicy(strings.TrimSpace(msg.DedupPolicy)),
	}
}

func FromExecutionMessage(msg *job.ExecutionMessage) *core.JobExecutionMessage {
	if msg == nil {
		return nil
	}
	return &core.JobExecutionMessage{
		JobID:          strings.TrimSpace(msg.JobID),
		ScriptPath:     strings.TrimSpace(msg.ScriptPath),
		Parameters:     copyAnyMap(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		DedupPolicy:    strings.TrimSpace(string(msg.DedupPolicy)),
	}
}

// ToNackOptions maps the requeue and dead-letter flags onto a go-job
// disposition. A nack that does neither marks the dispatch failed.
func ToNackOptions(opts core.JobNackOptions) queue.NackOptions {
	out := queue.NackOptions{
		Disposition: queue.NackDispositionFailed,
		Reason:      opts.Reason,
	}
	switch {
	case opts.DeadLetter:
		out.Disposition = queue.NackDispositionDeadLetter
	case opts.Requeue:
		out.Disposition = queue.NackDispositionRetry
		out.Delay = opts.Delay
	}
	return out
}

type EnqueuerAdapter struct {
	enqueuer queue.Enqueuer
}

func NewEnqueuerAdapter(enqueuer queue.Enqueuer) *EnqueuerAdapter {
	return &EnqueuerAdapter{enqueuer: enqueuer}
}

func (a *EnqueuerAdapter) Enqueue(ctx context.Context, msg *core.JobExecutionMessage) error {
	if a == nil || a.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	if msg == nil {
		return fmt.Errorf("gojob: execution message is required")
	}
	_, err := a.enqueuer.Enqueue(ctx, ToExecutionMessage(msg))
	return err
}

// DeliveryAdapter exposes a go-job delivery as a core.JobDelivery. The
// attempt number feeds both the retry policy and the refresh backoff.
type DeliveryAdapter struct {
	delivery queue.Delivery
	policy   RetryPolicy
	attempt  int
	onSettle func()
}

func NewDeliveryAdapter(delivery queue.Delivery, policy RetryPolicy, attempt int) *DeliveryAdapter {
	if attempt < 1 {
		attempt = 1
	}
	return &DeliveryAdapter{delivery: delivery, policy: policy, attempt: attempt}
}

func (d *DeliveryAdapter) Message() *core.JobExecutionMessage {
	if d == nil || d.delivery == nil {
		return nil
	}
	return FromExecutionMessage(d.delivery.Message())
}

func (d *DeliveryAdapter) Attempt() int {
	if d == nil {
		return 0
	}
	return d.attempt
}

func (d *DeliveryAdapter) Ack(ctx context.Context) error {
	if d == nil || d.delivery == nil {
		return fmt.Errorf("gojob: delivery is not configured")
	}
	if err := d.delivery.Ack(ctx); err != nil {
		return err
	}
	d.settle()
	return nil
}

func (d *DeliveryAdapter) Nack(ctx context.Context, opts core.JobNackOptions) error {
	if d == nil || d.delivery == nil {
		return fmt.Errorf("gojob: delivery is not configured")
	}
	normalized := d.policy.NormalizeAttempt(opts, d.attempt)
	if err := d.delivery.Nack(ctx, ToNackOptions(normalized)); err != nil {
		return err
	}
	if !normalized.Requeue {
		d.settle()
	}
	return nil
}

func (d *DeliveryAdapter) settle() {
	if d.onSettle != nil {
		d.onSettle()
	}
}

// DequeuerAdapter reports the attempt number of each delivery. Deliveries
// from a persistent queue carry their own attempt count; for the rest it
// counts redeliveries per idempotency key.
type DequeuerAdapter struct {
	dequeuer queue.Dequeuer
	policy   RetryPolicy

	mu       sync.Mutex
	attempts map[string]int
}

func NewDequeuerAdapter(dequeuer queue.Dequeuer, policy RetryPolicy) *DequeuerAdapter {
	return &DequeuerAdapter{
		dequeuer: dequeuer,
		policy:   policy,
		attempts: map[string]int{},
	}
}

func (a *DequeuerAdapter) Dequeue(ctx context.Context) (core.JobDelivery, error) {
	if a == nil || a.dequeuer == nil {
		return nil, fmt.Errorf("gojob: dequeuer is not configured")
	}
	delivery, err := a.dequeuer.Dequeue(ctx)
	if err != nil {
		return nil, err
	}
	if delivery == nil {
		return nil, nil
	}

	if counted, ok := delivery.(attemptCounter); ok && counted.Attempts() > 0 {
		return NewDeliveryAdapter(delivery, a.policy, counted.Attempts()), nil
	}

	key := ""
	if msg := delivery.Message(); msg != nil {
		key = strings.TrimSpace(msg.IdempotencyKey)
	}
	adapted := NewDeliveryAdapter(delivery, a.policy, a.nextAttempt(key))
	if key != "" {
		adapted.onSettle = func() { a.forget(key) }
	}
	return adapted, nil
}

// attemptCounter is implemented by go-job's SQL queue deliveries.
type attemptCounter interface {
	Attempts() int
}

func (a *DequeuerAdapter) nextAttempt(key string) int {
	if key == "" {
		return 1
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.attempts[key]++
	return a.attempts[key]
}

func (a *DequeuerAdapter) forget(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.attempts, key)
}

type WorkerHookAdapter struct {
	hook core.JobWorkerHook
}

func NewWorkerHookAdapter(hook core.JobWorkerHook) *WorkerHookAdapter {
	return &WorkerHookAdapter{hook: hook}
}

func (a *WorkerHookAdapter) OnStart(ctx context.Context, event worker.Event) {
	if a == nil || a.hook == nil {
		return
	}
	a.hook.OnStart(ctx, mapWorkerEvent(event))
}

func (a *WorkerHookAdapter) OnSuccess(ctx context.Context, event worker.Event) {
	if a == nil || a.hook == nil {
		return
	}
	a.hook.OnSuccess(ctx, mapWorkerEvent(event))
}

func (a *WorkerHookAdapter) OnFailure(ctx context.Context, event worker.Event) {
	if a == nil || a.hook == nil {
		return
	}
	a.hook.OnFailure(ctx, mapWorkerEvent(event))
}

func (a *WorkerHookAdapter) OnRetry(ctx context.Context, event worker.Event) {
	if a == nil || a.hook == nil {
		return
	}
	a.hook.OnRetry(ctx, mapWorkerEvent(event))
}

func mapWorkerEvent(event worker.Event) core.JobWorkerEvent {
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	return core.JobWorkerEvent{
		Message:   FromExecutionMessage(message),
		Attempt:   event.Attempt,
		Delay:     event.Delay,
		Err:       event.Err,
		StartedAt: event.StartedAt,
		Duration:  event.Duration,
	}
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

var (
	_ core.JobEnqueuer        = (*EnqueuerAdapter)(nil)
	_ core.JobDelivery        = (*DeliveryAdapter)(nil)
	_ core.JobAttemptReporter = (*DeliveryAdapter)(nil)
	_ core.JobDequeuer        = (*DequeuerAdapter)(nil)
	_ worker.Hook             = (*WorkerHookAdapter)(nil)
)
