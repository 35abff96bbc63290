package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSweepExpiring_EnqueuesLinksInsideWindow(t *testing.T) {
	ctx := context.Background()
	enqueuer := &recordingEnqueuer{}
	h := newTestHarness(t, WithJobEnqueuer(enqueuer))
	now := h.clock.Now()

	soon := h.seedEnvelope(t, "Soon", ServiceKindGmail, testEnvelope(now.Add(5*time.Minute)))
	h.seedEnvelope(t, "Later", ServiceKindDrive, testEnvelope(now.Add(2*time.Hour)))

	result, err := h.svc.SweepExpiring(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.Scanned != 1 || result.Enqueued != 1 || result.Failed != 0 {
		t.Fatalf("unexpected sweep result %#v", result)
	}
	msg := enqueuer.messages[0]
	if msg.JobID != JobIDCredentialRefresh || msg.ScriptPath != JobScriptCredentialRefresh {
		t.Fatalf("unexpected job identity %q/%q", msg.JobID, msg.ScriptPath)
	}
	if msg.Parameters["workspace_id"] != soon || msg.Parameters["service_kind"] != "gmail" {
		t.Fatalf("unexpected job parameters %#v", msg.Parameters)
	}
	if !strings.HasPrefix(msg.IdempotencyKey, soon+":gmail:") {
		t.Fatalf("unexpected idempotency key %q", msg.IdempotencyKey)
	}
}

func TestSweepExpiring_RequiresEnqueuer(t *testing.T) {
	h := newTestHarness(t)
	if _, err := h.svc.SweepExpiring(context.Background()); err == nil {
		t.Fatalf("expected sweep without enqueuer to fail")
	}
}

func TestSweepExpiring_CountsEnqueueFailures(t *testing.T) {
	enqueuer := &recordingEnqueuer{err: errors.New("queue unavailable")}
	h := newTestHarness(t, WithJobEnqueuer(enqueuer))
	h.seedEnvelope(t, "Soon", ServiceKindGmail, testEnvelope(h.clock.Now().Add(time.Minute)))

	result, err := h.svc.SweepExpiring(context.Background())
	if err == nil {
		t.Fatalf("expected enqueue failure to surface")
	}
	if result.Failed != 1 || result.Enqueued != 0 {
		t.Fatalf("unexpected sweep result %#v", result)
	}
}

func TestRefreshJobHandler_AcksSuccessfulRefresh(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t)
	expiry := h.clock.Now().Add(5 * time.Minute)
	workspaceID := h.seedEnvelope(t, "Acme", ServiceKindGmail, testEnvelope(expiry))
	link, err := h.links.Get(ctx, workspaceID, ServiceKindGmail)
	if err != nil {
		t.Fatalf("load link: %v", err)
	}

	delivery := &recordingDelivery{msg: NewRefreshJobMessage(link, 10*time.Minute)}
	if err := h.svc.HandleRefreshJob(ctx, delivery); err != nil {
		t.Fatalf("handle job: %v", err)
	}
	if !delivery.acked || delivery.nacked {
		t.Fatalf("expected ack, got acked=%v nacked=%v", delivery.acked, delivery.nacked)
	}
	if calls := h.client.refreshCalls.Load(); calls != 1 {
		t.Fatalf("expected the sweep window to force a refresh, got %d calls", calls)
	}
}

func TestRefreshJobHandler_NacksTransientWithBackoff(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t, WithRefreshBackoffScheduler(ExponentialBackoffScheduler{Initial: time.Second, Max: time.Minute}))
	h.client.refreshErr = errors.New("503 service unavailable")
	workspaceID := h.seedEnvelope(t, "Acme", ServiceKindDrive, testEnvelope(h.clock.Now()))
	link, _ := h.links.Get(ctx, workspaceID, ServiceKindDrive)

	delivery := &recordingDelivery{msg: NewRefreshJobMessage(link, time.Minute), attempt: 3}
	if err := h.svc.HandleRefreshJob(ctx, delivery); err != nil {
		t.Fatalf("handle job: %v", err)
	}
	if !delivery.nacked || !delivery.nackOpts.Requeue || delivery.nackOpts.DeadLetter {
		t.Fatalf("expected requeue nack, got %#v", delivery.nackOpts)
	}
	if delivery.nackOpts.Delay != 4*time.Second {
		t.Fatalf("expected backoff for attempt 3, got %s", delivery.nackOpts.Delay)
	}
}

func TestRefreshJobHandler_AcksRevokedAndMissingLinks(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t)
	h.client.refreshErr = errors.New("oauth2: \"invalid_grant\"")
	workspaceID := h.seedEnvelope(t, "Acme", ServiceKindDocs, testEnvelope(h.clock.Now()))
	link, _ := h.links.Get(ctx, workspaceID, ServiceKindDocs)

	revoked := &recordingDelivery{msg: NewRefreshJobMessage(link, time.Minute)}
	if err := h.svc.HandleRefreshJob(ctx, revoked); err != nil {
		t.Fatalf("handle revoked job: %v", err)
	}
	if !revoked.acked {
		t.Fatalf("expected revoked refresh to be acked")
	}

	missing := &recordingDelivery{msg: NewRefreshJobMessage(link, time.Minute)}
	if err := h.svc.HandleRefreshJob(ctx, missing); err != nil {
		t.Fatalf("handle missing job: %v", err)
	}
	if !missing.acked {
		t.Fatalf("expected missing link to be acked")
	}
}

func TestRefreshJobHandler_DeadLettersMalformedMessages(t *testing.T) {
	h := newTestHarness(t)
	for name, msg := range map[string]*JobExecutionMessage{
		"wrong job": {
			JobID: "other.job",
		},
		"no workspace": {
			JobID:      JobIDCredentialRefresh,
			Parameters: map[string]any{"service_kind": "gmail"},
		},
		"bad kind": {
			JobID:      JobIDCredentialRefresh,
			Parameters: map[string]any{"workspace_id": "ws_1", "service_kind": "calendar"},
		},
		"bad window": {
			JobID:      JobIDCredentialRefresh,
			Parameters: map[string]any{"workspace_id": "ws_1", "service_kind": "gmail", "window": "soon"},
		},
	} {
		delivery := &recordingDelivery{msg: msg}
		if err := h.svc.HandleRefreshJob(context.Background(), delivery); err != nil {
			t.Fatalf("%s: handle job: %v", name, err)
		}
		if !delivery.nacked || !delivery.nackOpts.DeadLetter {
			t.Fatalf("%s: expected dead letter, got %#v", name, delivery.nackOpts)
		}
	}
}

func TestMemoryLinkStore_ListExpiringOrdersBySoonest(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryLinkStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, kind := range ServiceKinds() {
		expiresAt := base.Add(time.Duration(3-i) * time.Minute)
		if _, err := store.Upsert(ctx, Link{WorkspaceID: "ws_1", Kind: kind, Payload: []byte("x"), ExpiresAt: &expiresAt}); err != nil {
			t.Fatalf("upsert %s: %v", kind, err)
		}
	}
	links, err := store.ListExpiring(ctx, base.Add(10*time.Minute), 2)
	if err != nil {
		t.Fatalf("list expiring: %v", err)
	}
	if len(links) != 2 {
		t.Fatalf("expected limit to apply, got %d", len(links))
	}
	if links[0].Kind != ServiceKindDocs || links[1].Kind != ServiceKindDrive {
		t.Fatalf("expected soonest first, got %s then %s", links[0].Kind, links[1].Kind)
	}
}
