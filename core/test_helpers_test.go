package core

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const (
	testAuthURL   = "https://auth.example/authorize"
	testTokenURL  = "https://auth.example/token"
	testRevokeURL = "https://auth.example/revoke"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeTokenClient struct {
	mu               sync.Mutex
	exchangeResponse TokenResponse
	exchangeErr      error
	refreshResponse  TokenResponse
	refreshErr       error
	refreshDelay     time.Duration
	refreshStarted   chan struct{}
	refreshGate      chan struct{}
	revokeErr        error
	lastExchange     ExchangeRequest
	lastRefresh      RefreshRequest
	lastRevoke       RevokeRequest
	exchangeCalls    atomic.Int32
	refreshCalls     atomic.Int32
	revokeCalls      atomic.Int32
}

func newFakeTokenClient() *fakeTokenClient {
	return &fakeTokenClient{
		exchangeResponse: TokenResponse{
			AccessToken:  "access-1",
			RefreshToken: "refresh-1",
			TokenType:    "Bearer",
			ExpiresIn:    time.Hour,
		},
		refreshResponse: TokenResponse{
			AccessToken: "access-2",
			TokenType:   "Bearer",
			ExpiresIn:   time.Hour,
		},
	}
}

func (c *fakeTokenClient) AuthCodeURL(req AuthCodeURLRequest) (string, error) {
	values := url.Values{}
	values.Set("client_id", req.ClientID)
	values.Set("redirect_uri", req.RedirectURI)
	values.Set("response_type", "code")
	values.Set("scope", strings.Join(req.Scopes, " "))
	values.Set("state", req.State)
	values.Set("access_type", "offline")
	values.Set("prompt", "consent")
	return req.AuthURL + "?" + values.Encode(), nil
}

func (c *fakeTokenClient) Exchange(_ context.Context, req ExchangeRequest) (TokenResponse, error) {
	c.exchangeCalls.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastExchange = req
	return c.exchangeResponse, c.exchangeErr
}

func (c *fakeTokenClient) Refresh(ctx context.Context, req RefreshRequest) (TokenResponse, error) {
	c.refreshCalls.Add(1)
	c.mu.Lock()
	delay := c.refreshDelay
	started, gate := c.refreshStarted, c.refreshGate
	c.lastRefresh = req
	response, err := c.refreshResponse, c.refreshErr
	c.mu.Unlock()
	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return TokenResponse{}, ctx.Err()
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return TokenResponse{}, ctx.Err()
		}
	}
	return response, err
}

// holdRefreshes makes provider refreshes wait until the returned release
// function is called. started receives a value as each refresh begins.
func (c *fakeTokenClient) holdRefreshes() (started <-chan struct{}, release func()) {
	startedCh := make(chan struct{}, 1)
	gate := make(chan struct{})
	c.mu.Lock()
	c.refreshStarted = startedCh
	c.refreshGate = gate
	c.mu.Unlock()
	var once sync.Once
	return startedCh, func() { once.Do(func() { close(gate) }) }
}

func (c *fakeTokenClient) Revoke(_ context.Context, req RevokeRequest) error {
	c.revokeCalls.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastRevoke = req
	return c.revokeErr
}

type testSecretProvider struct{}

func (testSecretProvider) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("test secret provider: plaintext is required")
	}
	return []byte("enc:" + base64.StdEncoding.EncodeToString(plaintext)), nil
}

func (testSecretProvider) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	value := strings.TrimSpace(string(ciphertext))
	if !strings.HasPrefix(value, "enc:") {
		return nil, fmt.Errorf("test secret provider: invalid ciphertext")
	}
	return base64.StdEncoding.DecodeString(strings.TrimPrefix(value, "enc:"))
}

func (testSecretProvider) KeyID() string {
	return "test-key"
}

func testDescriptors() []KindDescriptor {
	out := make([]KindDescriptor, 0, len(ServiceKinds()))
	for _, kind := range ServiceKinds() {
		out = append(out, KindDescriptor{
			Kind:      kind,
			AuthURL:   testAuthURL,
			TokenURL:  testTokenURL,
			RevokeURL: testRevokeURL,
			Scopes:    []string{"scope." + kind.String()},
		})
	}
	return out
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Fallback = ClientConfig{ID: "f1", Secret: "s1"}
	cfg.OAuth.StateSigningKey = "test-signing-secret"
	cfg.OAuth.RedirectURI = "https://app.example/callback"
	return cfg
}

type testHarness struct {
	svc    *Service
	client *fakeTokenClient
	clock  *testClock
	links  *MemoryLinkStore
}

func newTestHarness(t *testing.T, opts ...Option) *testHarness {
	t.Helper()
	registry, err := NewKindRegistry(testDescriptors()...)
	if err != nil {
		t.Fatalf("kind registry: %v", err)
	}
	clock := newTestClock()
	client := newFakeTokenClient()
	links := NewMemoryLinkStore()
	links.Now = clock.Now

	base := []Option{
		WithKindRegistry(registry),
		WithTokenClient(client),
		WithLinkStore(links),
		WithClock(clock.Now),
		WithLogger(stubLogger{}),
		WithLoggerProvider(stubLoggerProvider{logger: stubLogger{}}),
	}
	svc, err := NewService(testConfig(), append(base, opts...)...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return &testHarness{svc: svc, client: client, clock: clock, links: links}
}

// seedEnvelope stores an envelope for a fresh workspace and returns its id.
func (h *testHarness) seedEnvelope(t *testing.T, displayName string, kind ServiceKind, envelope CredentialEnvelope) string {
	t.Helper()
	ctx := context.Background()
	workspace, err := h.svc.EnsureWorkspace(ctx, displayName)
	if err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	if err := h.svc.Credentials().Put(ctx, workspace.ID, kind, envelope); err != nil {
		t.Fatalf("seed envelope: %v", err)
	}
	return workspace.ID
}

func testEnvelope(expiresAt time.Time) CredentialEnvelope {
	return CredentialEnvelope{
		AccessToken:   "access-0",
		RefreshToken:  "refresh-0",
		TokenType:     "Bearer",
		TokenEndpoint: testTokenURL,
		ClientID:      "f1",
		ClientSecret:  "s1",
		Scopes:        []string{"scope.gmail"},
		ExpiresAt:     expiresAt.UTC(),
	}
}

type stubLogger struct{}

func (stubLogger) Trace(string, ...any) {}
func (stubLogger) Debug(string, ...any) {}
func (stubLogger) Info(string, ...any)  {}
func (stubLogger) Warn(string, ...any)  {}
func (stubLogger) Error(string, ...any) {}
func (stubLogger) Fatal(string, ...any) {}
func (s stubLogger) WithContext(context.Context) Logger {
	return s
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.values))
	for key, value := range l.values {
		out[key] = value
	}
	return out, nil
}

type recordingEnqueuer struct {
	mu       sync.Mutex
	messages []*JobExecutionMessage
	err      error
}

func (e *recordingEnqueuer) Enqueue(_ context.Context, msg *JobExecutionMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.messages = append(e.messages, msg)
	return nil
}

type recordingDelivery struct {
	msg      *JobExecutionMessage
	attempt  int
	acked    bool
	nacked   bool
	nackOpts JobNackOptions
}

func (d *recordingDelivery) Message() *JobExecutionMessage { return d.msg }

func (d *recordingDelivery) Ack(context.Context) error {
	d.acked = true
	return nil
}

func (d *recordingDelivery) Nack(_ context.Context, opts JobNackOptions) error {
	d.nacked = true
	d.nackOpts = opts
	return nil
}

func (d *recordingDelivery) Attempt() int { return d.attempt }
