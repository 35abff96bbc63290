package httpapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	credentials "github.com/goliatone/go-credentials"
	"github.com/goliatone/go-credentials/core"
	"github.com/goliatone/go-credentials/httpapi"
)

type stubTokenClient struct {
	mu      sync.Mutex
	revoked []string
}

func (c *stubTokenClient) AuthCodeURL(req core.AuthCodeURLRequest) (string, error) {
	values := url.Values{}
	values.Set("client_id", req.ClientID)
	values.Set("state", req.State)
	return req.AuthURL + "?" + values.Encode(), nil
}

func (c *stubTokenClient) Exchange(context.Context, core.ExchangeRequest) (core.TokenResponse, error) {
	return core.TokenResponse{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		TokenType:    "bearer",
		ExpiresIn:    time.Hour,
	}, nil
}

func (c *stubTokenClient) Refresh(context.Context, core.RefreshRequest) (core.TokenResponse, error) {
	return core.TokenResponse{AccessToken: "access-2", ExpiresIn: time.Hour}, nil
}

func (c *stubTokenClient) Revoke(_ context.Context, req core.RevokeRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.revoked = append(c.revoked, req.Token)
	return nil
}

func (c *stubTokenClient) revokedTokens() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.revoked...)
}

func newTestServer(t *testing.T) (*httptest.Server, *stubTokenClient) {
	t.Helper()
	tokens := &stubTokenClient{}
	svc, err := credentials.NewService(credentials.DefaultConfig(),
		credentials.WithEnvironment(map[string]string{
			"GOOGLE_CLIENT_ID":     "fallback-id",
			"GOOGLE_CLIENT_SECRET": "fallback-secret",
		}),
		credentials.WithTokenClient(tokens),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	handler, err := httpapi.NewServer(svc, httpapi.Config{})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server, tokens
}

func noRedirectClient(server *httptest.Server) *http.Client {
	client := server.Client()
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return client
}

func doJSON(t *testing.T, client *http.Client, method, target string, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, target, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, target, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, target, err)
		}
	}
	return resp.StatusCode
}

type errorEnvelope struct {
	Error struct {
		TextCode string         `json:"text_code"`
		Message  string         `json:"message"`
		Category string         `json:"category"`
		Metadata map[string]any `json:"metadata"`
	} `json:"error"`
}

func TestServer_Health(t *testing.T) {
	server, _ := newTestServer(t)
	var body map[string]string
	if status := doJSON(t, server.Client(), http.MethodGet, server.URL+"/healthz", "", &body); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected health body %v", body)
	}
}

func TestServer_EnsureWorkspaceIsIdempotent(t *testing.T) {
	server, _ := newTestServer(t)
	client := server.Client()

	var first, second map[string]any
	if status := doJSON(t, client, http.MethodPost, server.URL+"/workspaces", `{"display_name":"Acme"}`, &first); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if status := doJSON(t, client, http.MethodPost, server.URL+"/workspaces", `{"display_name":"Acme"}`, &second); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if first["id"] == "" || first["id"] != second["id"] {
		t.Fatalf("expected the same workspace twice, got %v and %v", first["id"], second["id"])
	}

	var listed struct {
		Workspaces []map[string]any `json:"workspaces"`
	}
	if status := doJSON(t, client, http.MethodGet, server.URL+"/workspaces", "", &listed); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if len(listed.Workspaces) != 1 || listed.Workspaces[0]["display_name"] != "Acme" {
		t.Fatalf("unexpected workspace listing %v", listed.Workspaces)
	}

	var fetched map[string]any
	if status := doJSON(t, client, http.MethodGet, server.URL+"/workspaces/Acme", "", &fetched); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if fetched["id"] != first["id"] {
		t.Fatalf("expected fetched workspace to match, got %v", fetched)
	}
}

func TestServer_EnsureWorkspaceRejectsBadInput(t *testing.T) {
	server, _ := newTestServer(t)
	for name, body := range map[string]string{
		"malformed": `{"display_name":`,
		"blank":     `{"display_name":"  "}`,
	} {
		t.Run(name, func(t *testing.T) {
			var envelope errorEnvelope
			status := doJSON(t, server.Client(), http.MethodPost, server.URL+"/workspaces", body, &envelope)
			if status != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", status)
			}
			if envelope.Error.TextCode != core.CredentialErrorBadInput {
				t.Fatalf("expected bad input text code, got %#v", envelope.Error)
			}
		})
	}
}

func TestServer_UnknownWorkspaceIsNotFound(t *testing.T) {
	server, _ := newTestServer(t)
	var envelope errorEnvelope
	status := doJSON(t, server.Client(), http.MethodGet, server.URL+"/workspaces/missing/credentials", "", &envelope)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", status)
	}
	if envelope.Error.TextCode != core.CredentialErrorWorkspaceNotFound {
		t.Fatalf("expected workspace not found, got %#v", envelope.Error)
	}
}

func TestServer_UnknownKindIsRejected(t *testing.T) {
	server, _ := newTestServer(t)
	var envelope errorEnvelope
	status := doJSON(t, server.Client(), http.MethodGet, server.URL+"/oauth/calendar/authorize?workspace=Acme", "", &envelope)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", status)
	}
	if envelope.Error.TextCode != core.CredentialErrorUnknownServiceKind {
		t.Fatalf("expected unknown kind, got %#v", envelope.Error)
	}
}

func TestServer_AuthorizeRequiresWorkspace(t *testing.T) {
	server, _ := newTestServer(t)
	var envelope errorEnvelope
	status := doJSON(t, server.Client(), http.MethodGet, server.URL+"/oauth/gmail/authorize", "", &envelope)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", status)
	}
}

func TestServer_AuthorizeRedirectsToProvider(t *testing.T) {
	server, _ := newTestServer(t)
	resp, err := noRedirectClient(server).Get(server.URL + "/oauth/drive/authorize?workspace=Acme&redirect=1")
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("expected 302, got %d", resp.StatusCode)
	}
	location, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	if location.Host != "accounts.google.com" || location.Query().Get("state") == "" {
		t.Fatalf("unexpected redirect %s", location)
	}
}

func TestServer_LinkStatusAndRevokeLifecycle(t *testing.T) {
	server, tokens := newTestServer(t)
	client := server.Client()

	var authorization struct {
		URL         string `json:"url"`
		State       string `json:"state"`
		WorkspaceID string `json:"workspace_id"`
		ServiceKind string `json:"service_kind"`
	}
	if status := doJSON(t, client, http.MethodGet, server.URL+"/oauth/gmail/authorize?workspace=Acme", "", &authorization); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if authorization.State == "" || authorization.ServiceKind != "gmail" {
		t.Fatalf("unexpected authorization %#v", authorization)
	}

	callback := server.URL + "/oauth/callback?" + url.Values{
		"code":  {"code-1"},
		"state": {authorization.State},
	}.Encode()
	var linked map[string]any
	if status := doJSON(t, client, http.MethodGet, callback, "", &linked); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if linked["workspace_id"] != authorization.WorkspaceID || linked["linked"] != true {
		t.Fatalf("unexpected callback body %v", linked)
	}
	if _, leaked := linked["access_token"]; leaked {
		t.Fatalf("expected tokens to stay out of the callback body")
	}

	var replayed errorEnvelope
	if status := doJSON(t, client, http.MethodGet, callback, "", &replayed); status != http.StatusUnauthorized {
		t.Fatalf("expected replayed state to be rejected, got %d", status)
	}

	var listing struct {
		WorkspaceID string                  `json:"workspace_id"`
		Credentials []core.CredentialStatus `json:"credentials"`
	}
	if status := doJSON(t, client, http.MethodGet, server.URL+"/workspaces/Acme/credentials", "", &listing); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if len(listing.Credentials) != 3 {
		t.Fatalf("expected a status per kind, got %d", len(listing.Credentials))
	}
	for _, status := range listing.Credentials {
		if status.HasCredentials != (status.Kind == core.ServiceKindGmail) {
			t.Fatalf("unexpected presence for %s", status.Kind)
		}
	}

	if status := doJSON(t, client, http.MethodDelete, server.URL+"/workspaces/Acme/credentials/gmail", "", nil); status != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", status)
	}
	if revoked := tokens.revokedTokens(); len(revoked) != 1 || revoked[0] != "refresh-1" {
		t.Fatalf("expected refresh token revocation, got %v", revoked)
	}

	var single core.CredentialStatus
	if status := doJSON(t, client, http.MethodGet, server.URL+"/workspaces/Acme/credentials/gmail", "", &single); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if single.HasCredentials {
		t.Fatalf("expected credential to be removed")
	}
}

func TestServer_CallbackProviderErrorIsRejected(t *testing.T) {
	server, _ := newTestServer(t)
	var envelope errorEnvelope
	status := doJSON(t, server.Client(), http.MethodGet, server.URL+"/oauth/callback?error=access_denied&state=bogus", "", &envelope)
	if status < http.StatusBadRequest || status >= http.StatusInternalServerError {
		t.Fatalf("expected a client error, got %d", status)
	}
	if envelope.Error.TextCode == "" {
		t.Fatalf("expected a text code in the error envelope")
	}
}

func TestNewServer_RequiresService(t *testing.T) {
	if _, err := httpapi.NewServer(nil, httpapi.Config{}); err == nil {
		t.Fatalf("expected missing service to fail")
	}
}
