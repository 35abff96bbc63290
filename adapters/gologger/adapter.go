package gologger

import (
	"context"

	"github.com/goliatone/go-credentials/core"
	glog "github.com/goliatone/go-logger/glog"
)

// Resolve uses deterministic precedence provider > logger > nop.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	return glog.Resolve(name, provider, logger)
}

const (
	levelDebug = "debug"
	levelWarn  = "warn"
	levelError = "error"
)

// JobLoggingHook logs refresh worker events.
type JobLoggingHook struct {
	logger glog.Logger
}

func NewJobLoggingHook(name string, provider glog.LoggerProvider, logger glog.Logger) *JobLoggingHook {
	_, resolved := Resolve(name, provider, logger)
	return &JobLoggingHook{logger: glog.Ensure(resolved)}
}

func (h *JobLoggingHook) OnStart(ctx context.Context, event core.JobWorkerEvent) {
	h.log(ctx, levelDebug, "refresh job started", event)
}

func (h *JobLoggingHook) OnSuccess(ctx context.Context, event core.JobWorkerEvent) {
	h.log(ctx, levelDebug, "refresh job finished", event)
}

func (h *JobLoggingHook) OnFailure(ctx context.Context, event core.JobWorkerEvent) {
	h.log(ctx, levelError, "refresh job failed", event)
}

func (h *JobLoggingHook) OnRetry(ctx context.Context, event core.JobWorkerEvent) {
	h.log(ctx, levelWarn, "refresh job retrying", event)
}

func (h *JobLoggingHook) log(ctx context.Context, level string, message string, event core.JobWorkerEvent) {
	if h == nil || h.logger == nil {
		return
	}
	logger := h.logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	args := eventArgs(event)
	switch level {
	case levelError:
		logger.Error(message, args...)
	case levelWarn:
		logger.Warn(message, args...)
	default:
		logger.Debug(message, args...)
	}
}

func eventArgs(event core.JobWorkerEvent) []any {
	args := []any{"attempt", event.Attempt}
	if msg := event.Message; msg != nil {
		args = append(args, "job_id", msg.JobID, "idempotency_key", msg.IdempotencyKey)
		if workspaceID, ok := msg.Parameters["workspace_id"]; ok {
			args = append(args, "workspace_id", workspaceID)
		}
		if kind, ok := msg.Parameters["service_kind"]; ok {
			args = append(args, "service_kind", kind)
		}
	}
	if event.Duration > 0 {
		args = append(args, "duration_ms", event.Duration.Milliseconds())
	}
	if event.Delay > 0 {
		args = append(args, "delay_ms", event.Delay.Milliseconds())
	}
	if event.Err != nil {
		args = append(args, "error", event.Err.Error())
	}
	return args
}

var _ core.JobWorkerHook = (*JobLoggingHook)(nil)
