package gojob

import (
	"context"
	"errors"
	"time"

	"github.com/goliatone/go-credentials/core"
)

const defaultIdleInterval = time.Second

// RefreshJobRunner is satisfied by *core.Service.
type RefreshJobRunner interface {
	HandleRefreshJob(ctx context.Context, delivery core.JobDelivery) error
}

type RefreshWorkerConfig struct {
	IdleInterval time.Duration
	Hook         core.JobWorkerHook
	Now          func() time.Time
}

// RefreshWorker pulls refresh jobs off a dequeuer and hands them to the
// credential service one at a time.
type RefreshWorker struct {
	dequeuer core.JobDequeuer
	runner   RefreshJobRunner
	config   RefreshWorkerConfig
}

func NewRefreshWorker(dequeuer core.JobDequeuer, runner RefreshJobRunner, cfg RefreshWorkerConfig) *RefreshWorker {
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = defaultIdleInterval
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &RefreshWorker{dequeuer: dequeuer, runner: runner, config: cfg}
}

// Run processes jobs until ctx is done. Dequeue failures and empty polls
// wait IdleInterval before the next attempt.
func (w *RefreshWorker) Run(ctx context.Context) error {
	for {
		processed, err := w.ProcessNext(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if processed && err == nil {
			continue
		}
		timer := time.NewTimer(w.config.IdleInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// ProcessNext handles at most one delivery. It reports whether a delivery
// was taken off the queue.
func (w *RefreshWorker) ProcessNext(ctx context.Context) (bool, error) {
	if w == nil || w.dequeuer == nil || w.runner == nil {
		return false, errors.New("gojob: refresh worker is not configured")
	}
	delivery, err := w.dequeuer.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if delivery == nil {
		return false, nil
	}

	event := core.JobWorkerEvent{
		Message:   delivery.Message(),
		Attempt:   attemptOf(delivery),
		StartedAt: w.config.Now(),
	}
	if hook := w.config.Hook; hook != nil {
		hook.OnStart(ctx, event)
	}

	err = w.runner.HandleRefreshJob(ctx, delivery)
	event.Duration = w.config.Now().Sub(event.StartedAt)
	event.Err = err
	if hook := w.config.Hook; hook != nil {
		if err != nil {
			hook.OnFailure(ctx, event)
		} else {
			hook.OnSuccess(ctx, event)
		}
	}
	return true, err
}

func attemptOf(delivery core.JobDelivery) int {
	if reporter, ok := delivery.(core.JobAttemptReporter); ok {
		return reporter.Attempt()
	}
	return 1
}
