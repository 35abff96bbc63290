package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	JobIDCredentialRefresh     = "credentials.refresh"
	JobScriptCredentialRefresh = "credentials/refresh"
)

type SweepResult struct {
	Scanned  int
	Enqueued int
	Failed   int
}

// RefreshSweeper enqueues refresh jobs for links that expire inside a window.
type RefreshSweeper struct {
	links     LinkStore
	enqueuer  JobEnqueuer
	batchSize int
	now       func() time.Time
}

func NewRefreshSweeper(links LinkStore, enqueuer JobEnqueuer, batchSize int, now func() time.Time) *RefreshSweeper {
	if batchSize <= 0 {
		batchSize = defaultSweepBatchSize
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &RefreshSweeper{links: links, enqueuer: enqueuer, batchSize: batchSize, now: now}
}

func (s *RefreshSweeper) Sweep(ctx context.Context, window time.Duration) (SweepResult, error) {
	if s == nil || s.links == nil || s.enqueuer == nil {
		return SweepResult{}, fmt.Errorf("core: refresh sweeper requires a link store and job enqueuer")
	}
	if window <= 0 {
		window = defaultSweepWindow
	}
	links, err := s.links.ListExpiring(ctx, s.now().Add(window), s.batchSize)
	if err != nil {
		return SweepResult{}, fmt.Errorf("core: list expiring links: %w", err)
	}
	result := SweepResult{Scanned: len(links)}
	var firstErr error
	for _, link := range links {
		if err := s.enqueuer.Enqueue(ctx, NewRefreshJobMessage(link, window)); err != nil {
			result.Failed++
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		result.Enqueued++
	}
	return result, firstErr
}

// NewRefreshJobMessage keys idempotency on the link expiry so one expiry
// produces one job.
func NewRefreshJobMessage(link Link, window time.Duration) *JobExecutionMessage {
	expiry := "none"
	if link.ExpiresAt != nil {
		expiry = link.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return &JobExecutionMessage{
		JobID:      JobIDCredentialRefresh,
		ScriptPath: JobScriptCredentialRefresh,
		Parameters: map[string]any{
			"workspace_id": link.WorkspaceID,
			"service_kind": link.Kind.String(),
			"window":       window.String(),
		},
		IdempotencyKey: link.WorkspaceID + ":" + link.Kind.String() + ":" + expiry,
		DedupPolicy:    "drop",
	}
}

type JobAttemptReporter interface {
	Attempt() int
}

// RefreshJobHandler renews one link per delivery. Transient failures are
// nacked with backoff; terminal outcomes are acked since retrying cannot help.
type RefreshJobHandler struct {
	guard     *TokenRefreshGuard
	scheduler RefreshBackoffScheduler
}

func NewRefreshJobHandler(guard *TokenRefreshGuard, scheduler RefreshBackoffScheduler) *RefreshJobHandler {
	if scheduler == nil {
		scheduler = ExponentialBackoffScheduler{}
	}
	return &RefreshJobHandler{guard: guard, scheduler: scheduler}
}

func (h *RefreshJobHandler) Handle(ctx context.Context, delivery JobDelivery) error {
	if h == nil || h.guard == nil {
		return fmt.Errorf("core: refresh job handler is not configured")
	}
	if delivery == nil {
		return fmt.Errorf("core: job delivery is required")
	}
	workspaceID, kind, window, err := parseRefreshJob(delivery.Message())
	if err != nil {
		return delivery.Nack(ctx, JobNackOptions{DeadLetter: true, Reason: err.Error()})
	}

	_, err = h.guard.EnsureValidFor(ctx, workspaceID, kind, window)
	switch {
	case err == nil, IsNeedsAuthorization(err), IsCredentialRevoked(err):
		return delivery.Ack(ctx)
	case IsRefreshTransient(err):
		attempt := 1
		if reporter, ok := delivery.(JobAttemptReporter); ok && reporter.Attempt() > 0 {
			attempt = reporter.Attempt()
		}
		return delivery.Nack(ctx, JobNackOptions{
			Delay:   h.scheduler.NextDelay(attempt),
			Requeue: true,
			Reason:  err.Error(),
		})
	default:
		return delivery.Nack(ctx, JobNackOptions{DeadLetter: true, Reason: err.Error()})
	}
}

func parseRefreshJob(msg *JobExecutionMessage) (string, ServiceKind, time.Duration, error) {
	if msg == nil {
		return "", "", 0, fmt.Errorf("core: refresh job message is required")
	}
	if strings.TrimSpace(msg.JobID) != JobIDCredentialRefresh {
		return "", "", 0, fmt.Errorf("core: unexpected job id %q", msg.JobID)
	}
	workspaceID := strings.TrimSpace(fmt.Sprint(msg.Parameters["workspace_id"]))
	if workspaceID == "" || workspaceID == "<nil>" {
		return "", "", 0, fmt.Errorf("core: refresh job requires workspace_id")
	}
	kind, err := ParseServiceKind(fmt.Sprint(msg.Parameters["service_kind"]))
	if err != nil {
		return "", "", 0, err
	}
	window := defaultRefreshSafetyMargin
	if raw, ok := msg.Parameters["window"].(string); ok && strings.TrimSpace(raw) != "" {
		parsed, parseErr := time.ParseDuration(strings.TrimSpace(raw))
		if parseErr != nil {
			return "", "", 0, fmt.Errorf("core: refresh job window: %w", parseErr)
		}
		window = parsed
	}
	return workspaceID, kind, window, nil
}
