package core

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestAuthorizeAndCompleteCallback_ConsumesOAuthState(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t, WithSecretProvider(testSecretProvider{}))

	authz, err := h.svc.Authorize(ctx, AuthorizeRequest{DisplayName: "Acme", Kind: ServiceKindGmail})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if strings.TrimSpace(authz.State) == "" {
		t.Fatalf("expected callback state")
	}
	parsed, err := url.Parse(authz.URL)
	if err != nil {
		t.Fatalf("parse authorization url: %v", err)
	}
	query := parsed.Query()
	if query.Get("state") != authz.State {
		t.Fatalf("expected state in authorization url")
	}
	if query.Get("client_id") != "f1" {
		t.Fatalf("expected fallback client id, got %q", query.Get("client_id"))
	}
	if query.Get("scope") != "scope.gmail" {
		t.Fatalf("expected gmail scope, got %q", query.Get("scope"))
	}
	if query.Get("redirect_uri") != "https://app.example/callback" {
		t.Fatalf("expected configured redirect uri, got %q", query.Get("redirect_uri"))
	}

	result, err := h.svc.CompleteCallback(ctx, CallbackRequest{Code: "code-1", State: authz.State})
	if err != nil {
		t.Fatalf("complete callback: %v", err)
	}
	if result.WorkspaceID != authz.WorkspaceID || result.Kind != ServiceKindGmail {
		t.Fatalf("unexpected callback result %#v", result)
	}
	if result.Envelope.AccessToken != "access-1" || result.Envelope.RefreshToken != "refresh-1" {
		t.Fatalf("unexpected envelope %#v", result.Envelope)
	}
	if result.Envelope.TokenEndpoint != testTokenURL {
		t.Fatalf("expected token endpoint to be captured, got %q", result.Envelope.TokenEndpoint)
	}
	if want := h.clock.Now().Add(time.Hour); !result.Envelope.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %s, got %s", want, result.Envelope.ExpiresAt)
	}
	if h.client.lastExchange.Code != "code-1" || h.client.lastExchange.ClientSecret != "s1" {
		t.Fatalf("unexpected exchange request %#v", h.client.lastExchange)
	}

	link, err := h.links.Get(ctx, authz.WorkspaceID, ServiceKindGmail)
	if err != nil {
		t.Fatalf("load link: %v", err)
	}
	if !strings.HasPrefix(string(link.Payload), "enc:") || link.EncryptionKeyID != "test-key" {
		t.Fatalf("expected encrypted payload, got key=%q", link.EncryptionKeyID)
	}

	_, err = h.svc.CompleteCallback(ctx, CallbackRequest{Code: "code-2", State: authz.State})
	if !IsInvalidState(err) {
		t.Fatalf("expected consumed state error, got %v", err)
	}
	if calls := h.client.exchangeCalls.Load(); calls != 1 {
		t.Fatalf("expected one exchange, got %d", calls)
	}
}

func TestAuthorize_CreatesWorkspaceOnceForDisplayName(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t)

	first, err := h.svc.Authorize(ctx, AuthorizeRequest{DisplayName: "Acme", Kind: ServiceKindDrive})
	if err != nil {
		t.Fatalf("authorize drive: %v", err)
	}
	second, err := h.svc.Authorize(ctx, AuthorizeRequest{DisplayName: " Acme ", Kind: ServiceKindDocs})
	if err != nil {
		t.Fatalf("authorize docs: %v", err)
	}
	if first.WorkspaceID != second.WorkspaceID {
		t.Fatalf("expected same workspace, got %q and %q", first.WorkspaceID, second.WorkspaceID)
	}
	byID, err := h.svc.Authorize(ctx, AuthorizeRequest{WorkspaceID: first.WorkspaceID, Kind: ServiceKindGmail})
	if err != nil {
		t.Fatalf("authorize by id: %v", err)
	}
	if byID.WorkspaceID != first.WorkspaceID {
		t.Fatalf("expected workspace id to be honored")
	}
	workspaces, err := h.svc.ListWorkspaces(ctx)
	if err != nil {
		t.Fatalf("list workspaces: %v", err)
	}
	if len(workspaces) != 1 {
		t.Fatalf("expected one workspace, got %d", len(workspaces))
	}

	_, err = h.svc.Authorize(ctx, AuthorizeRequest{WorkspaceID: "ws_missing", Kind: ServiceKindGmail})
	if !IsWorkspaceNotFound(err) {
		t.Fatalf("expected workspace not found, got %v", err)
	}
}

func TestCompleteCallback_TamperedStateCreatesNoLink(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t)

	authz, err := h.svc.Authorize(ctx, AuthorizeRequest{DisplayName: "Acme", Kind: ServiceKindGmail})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	tampered := flipStateByte(authz.State)

	_, err = h.svc.CompleteCallback(ctx, CallbackRequest{Code: "code-1", State: tampered})
	if !IsInvalidState(err) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	if h.links.Len() != 0 {
		t.Fatalf("expected no link to be stored")
	}
	if calls := h.client.exchangeCalls.Load(); calls != 0 {
		t.Fatalf("expected no exchange for tampered state, got %d", calls)
	}
}

func TestCompleteCallback_ExpiredState(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t)

	authz, err := h.svc.Authorize(ctx, AuthorizeRequest{DisplayName: "Acme", Kind: ServiceKindDocs})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	h.clock.Advance(defaultStateTTL + time.Minute)

	_, err = h.svc.CompleteCallback(ctx, CallbackRequest{Code: "code-1", State: authz.State})
	if !IsInvalidState(err) {
		t.Fatalf("expected invalid state for expired state, got %v", err)
	}
	if h.links.Len() != 0 {
		t.Fatalf("expected no link to be stored")
	}
}

func TestCompleteCallback_ProviderErrorConsumesState(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t)

	authz, err := h.svc.Authorize(ctx, AuthorizeRequest{DisplayName: "Acme", Kind: ServiceKindGmail})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	_, err = h.svc.CompleteCallback(ctx, CallbackRequest{State: authz.State, Error: "access_denied"})
	if !IsAuthorizationExchangeError(err) {
		t.Fatalf("expected authorization exchange error, got %v", err)
	}
	_, err = h.svc.CompleteCallback(ctx, CallbackRequest{Code: "code-1", State: authz.State})
	if !IsInvalidState(err) {
		t.Fatalf("expected state to be consumed, got %v", err)
	}
}

func TestCompleteCallback_ExchangeFailure(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t)
	h.client.exchangeErr = errors.New("oauth2: \"invalid_grant\" \"Bad Request\"")

	authz, err := h.svc.Authorize(ctx, AuthorizeRequest{DisplayName: "Acme", Kind: ServiceKindDrive})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	_, err = h.svc.CompleteCallback(ctx, CallbackRequest{Code: "bad-code", State: authz.State})
	if !IsAuthorizationExchangeError(err) {
		t.Fatalf("expected authorization exchange error, got %v", err)
	}
	if h.links.Len() != 0 {
		t.Fatalf("expected no link after failed exchange")
	}
}

func TestCompleteCallback_RequiresCode(t *testing.T) {
	h := newTestHarness(t)
	_, err := h.svc.CompleteCallback(context.Background(), CallbackRequest{State: "anything"})
	if !HasCredentialErrorCode(err, CredentialErrorBadInput) {
		t.Fatalf("expected bad input for missing code, got %v", err)
	}
}

func TestCompleteCallback_KeepsPreviousRefreshTokenWhenOmitted(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t)
	workspaceID := h.seedEnvelope(t, "Acme", ServiceKindGmail, testEnvelope(h.clock.Now().Add(time.Hour)))
	h.client.exchangeResponse = TokenResponse{AccessToken: "access-9", ExpiresIn: time.Hour}

	authz, err := h.svc.Authorize(ctx, AuthorizeRequest{WorkspaceID: workspaceID, Kind: ServiceKindGmail})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	result, err := h.svc.CompleteCallback(ctx, CallbackRequest{Code: "code-1", State: authz.State})
	if err != nil {
		t.Fatalf("complete callback: %v", err)
	}
	if result.Envelope.RefreshToken != "refresh-0" {
		t.Fatalf("expected previous refresh token to be kept, got %q", result.Envelope.RefreshToken)
	}
}

func TestAuthorize_MissingClientConfiguration(t *testing.T) {
	registry, _ := NewKindRegistry(testDescriptors()...)
	svc, err := NewService(Config{},
		WithKindRegistry(registry),
		WithTokenClient(newFakeTokenClient()),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	_, err = svc.Authorize(context.Background(), AuthorizeRequest{DisplayName: "Acme", Kind: ServiceKindDocs})
	if !IsMissingCredentialConfiguration(err) {
		t.Fatalf("expected missing configuration error, got %v", err)
	}
	if err := svc.ValidateClients(); !IsMissingCredentialConfiguration(err) {
		t.Fatalf("expected validate clients to fail, got %v", err)
	}
}

func TestRevoke_RemovesLinkEvenWhenProviderFails(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t)
	workspaceID := h.seedEnvelope(t, "Acme", ServiceKindDrive, testEnvelope(h.clock.Now().Add(time.Hour)))
	h.client.revokeErr = errors.New("revoke endpoint unavailable")

	if err := h.svc.Revoke(ctx, workspaceID, ServiceKindDrive); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if h.client.lastRevoke.Token != "refresh-0" || h.client.lastRevoke.RevokeURL != testRevokeURL {
		t.Fatalf("unexpected revoke request %#v", h.client.lastRevoke)
	}
	present, err := h.svc.HasCredential(ctx, workspaceID, ServiceKindDrive)
	if err != nil {
		t.Fatalf("has credential: %v", err)
	}
	if present {
		t.Fatalf("expected link to be removed")
	}
	if err := h.svc.Revoke(ctx, workspaceID, ServiceKindDrive); err != nil {
		t.Fatalf("expected revoke of absent link to succeed, got %v", err)
	}
	if calls := h.client.revokeCalls.Load(); calls != 1 {
		t.Fatalf("expected one provider revocation, got %d", calls)
	}
}

func TestCredentialStatus_ReportsEveryKindWithoutTokens(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t)
	workspaceID := h.seedEnvelope(t, "Acme", ServiceKindGmail, testEnvelope(h.clock.Now().Add(time.Hour)))

	presence, err := h.svc.ListCredentialStatus(ctx, workspaceID)
	if err != nil {
		t.Fatalf("list credential status: %v", err)
	}
	if len(presence) != 3 || !presence[ServiceKindGmail] || presence[ServiceKindDrive] || presence[ServiceKindDocs] {
		t.Fatalf("unexpected presence map %#v", presence)
	}

	statuses, err := h.svc.CredentialStatus(ctx, workspaceID)
	if err != nil {
		t.Fatalf("credential status: %v", err)
	}
	if len(statuses) != 3 {
		t.Fatalf("expected three statuses, got %d", len(statuses))
	}
	gmail := statuses[0]
	if gmail.Kind != ServiceKindGmail || !gmail.HasCredentials || !gmail.Refreshable {
		t.Fatalf("unexpected gmail status %#v", gmail)
	}
	if gmail.ExpiresAt == nil || !gmail.ExpiresAt.Equal(h.clock.Now().Add(time.Hour)) {
		t.Fatalf("expected gmail expiry, got %v", gmail.ExpiresAt)
	}
	if statuses[1].HasCredentials || statuses[2].HasCredentials {
		t.Fatalf("expected drive and docs to be absent")
	}
}

func flipStateByte(state string) string {
	raw := []byte(state)
	idx := strings.LastIndex(state, ".") + 3
	if raw[idx] == 'A' {
		raw[idx] = 'B'
	} else {
		raw[idx] = 'A'
	}
	return string(raw)
}

func TestRefreshCredential_RenewsInsideCallerMargin(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t)
	workspaceID := h.seedEnvelope(t, "Acme", ServiceKindGmail, testEnvelope(h.clock.Now().Add(20*time.Minute)))

	if _, err := h.svc.RefreshCredential(ctx, workspaceID, ServiceKindGmail, 0); err != nil {
		t.Fatalf("refresh with default margin: %v", err)
	}
	if calls := h.client.refreshCalls.Load(); calls != 0 {
		t.Fatalf("expected fresh link to be left alone, got %d calls", calls)
	}

	if _, err := h.svc.RefreshCredential(ctx, workspaceID, ServiceKindGmail, time.Hour); err != nil {
		t.Fatalf("refresh with wide margin: %v", err)
	}
	if calls := h.client.refreshCalls.Load(); calls != 1 {
		t.Fatalf("expected one refresh, got %d", calls)
	}
}

func TestCompleteCallback_FullReplayLedgerNeverForgetsConsumedStates(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t, WithReplayLedger(NewMemoryReplayLedgerWithLimits(10*time.Minute, 2)))

	states := make(map[string]AuthorizationRequest, 3)
	for _, name := range []string{"Acme", "Globex", "Initech"} {
		authz, err := h.svc.Authorize(ctx, AuthorizeRequest{DisplayName: name, Kind: ServiceKindGmail})
		if err != nil {
			t.Fatalf("authorize %s: %v", name, err)
		}
		states[name] = authz
	}

	for _, name := range []string{"Acme", "Globex"} {
		if _, err := h.svc.CompleteCallback(ctx, CallbackRequest{Code: "code-" + name, State: states[name].State}); err != nil {
			t.Fatalf("complete callback %s: %v", name, err)
		}
	}
	if _, err := h.svc.CompleteCallback(ctx, CallbackRequest{Code: "code-Initech", State: states["Initech"].State}); !IsInvalidState(err) {
		t.Fatalf("expected full ledger to refuse the callback, got %v", err)
	}
	if present, _ := h.svc.HasCredential(ctx, states["Initech"].WorkspaceID, ServiceKindGmail); present {
		t.Fatalf("expected no link for a refused callback")
	}

	if _, err := h.svc.CompleteCallback(ctx, CallbackRequest{Code: "code-again", State: states["Acme"].State}); !IsInvalidState(err) {
		t.Fatalf("expected consumed state to stay rejected, got %v", err)
	}
	if calls := h.client.exchangeCalls.Load(); calls != 2 {
		t.Fatalf("expected two exchanges, got %d", calls)
	}
}
