package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const dedupPolicyDrop = "drop"

// MemoryJobQueue is an in-process job queue for single-instance deployments
// and tests. Messages with the drop dedup policy are ignored while a message
// with the same idempotency key is queued or in flight.
type MemoryJobQueue struct {
	Now func() time.Time

	mu           sync.Mutex
	pending      []*memoryJob
	active       map[string]struct{}
	deadLettered int
}

type memoryJob struct {
	msg     *JobExecutionMessage
	readyAt time.Time
	attempt int
}

func NewMemoryJobQueue() *MemoryJobQueue {
	return &MemoryJobQueue{active: map[string]struct{}{}}
}

func (q *MemoryJobQueue) Enqueue(_ context.Context, msg *JobExecutionMessage) error {
	if msg == nil {
		return fmt.Errorf("core: job message is required")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	key := strings.TrimSpace(msg.IdempotencyKey)
	if key != "" {
		if _, exists := q.active[key]; exists && strings.EqualFold(msg.DedupPolicy, dedupPolicyDrop) {
			return nil
		}
		q.active[key] = struct{}{}
	}
	q.pending = append(q.pending, &memoryJob{msg: cloneJobMessage(msg), readyAt: q.now(), attempt: 1})
	return nil
}

// Dequeue returns the first job whose delay has elapsed, or nil when none
// is ready.
func (q *MemoryJobQueue) Dequeue(_ context.Context) (JobDelivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	for i, job := range q.pending {
		if job.readyAt.After(now) {
			continue
		}
		q.pending = append(q.pending[:i], q.pending[i+1:]...)
		return &memoryDelivery{queue: q, job: job}, nil
	}
	return nil, nil
}

func (q *MemoryJobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *MemoryJobQueue) DeadLettered() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.deadLettered
}

func (q *MemoryJobQueue) settle(job *memoryJob, opts *JobNackOptions) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if opts != nil && opts.Requeue {
		delay := max(opts.Delay, 0)
		q.pending = append(q.pending, &memoryJob{
			msg:     job.msg,
			readyAt: q.now().Add(delay),
			attempt: job.attempt + 1,
		})
		return
	}
	if opts != nil && opts.DeadLetter {
		q.deadLettered++
	}
	if key := strings.TrimSpace(job.msg.IdempotencyKey); key != "" {
		delete(q.active, key)
	}
}

func (q *MemoryJobQueue) now() time.Time {
	if q.Now != nil {
		return q.Now()
	}
	return time.Now().UTC()
}

type memoryDelivery struct {
	queue *MemoryJobQueue
	job   *memoryJob
	once  sync.Once
}

func (d *memoryDelivery) Message() *JobExecutionMessage {
	return cloneJobMessage(d.job.msg)
}

func (d *memoryDelivery) Attempt() int {
	return d.job.attempt
}

func (d *memoryDelivery) Ack(context.Context) error {
	return d.finish(nil)
}

func (d *memoryDelivery) Nack(_ context.Context, opts JobNackOptions) error {
	return d.finish(&opts)
}

func (d *memoryDelivery) finish(opts *JobNackOptions) error {
	err := fmt.Errorf("core: job delivery already settled")
	d.once.Do(func() {
		d.queue.settle(d.job, opts)
		err = nil
	})
	return err
}

func cloneJobMessage(msg *JobExecutionMessage) *JobExecutionMessage {
	if msg == nil {
		return nil
	}
	out := *msg
	if msg.Parameters != nil {
		out.Parameters = make(map[string]any, len(msg.Parameters))
		for key, value := range msg.Parameters {
			out.Parameters[key] = value
		}
	}
	return &out
}

var (
	_ JobEnqueuer        = (*MemoryJobQueue)(nil)
	_ JobDequeuer        = (*MemoryJobQueue)(nil)
	_ JobAttemptReporter = (*memoryDelivery)(nil)
)
