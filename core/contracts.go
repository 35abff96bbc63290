package core

import (
	"context"
	"errors"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

var (
	ErrLinkNotFound      = errors.New("core: link not found")
	ErrWorkspaceNotFound = errors.New("core: workspace not found")

	errMissingAccessToken = errors.New("core: token response carries no access token")
)

type WorkspaceStore interface {
	GetOrCreate(ctx context.Context, displayName string) (Workspace, error)
	GetByDisplayName(ctx context.Context, displayName string) (Workspace, error)
	Get(ctx context.Context, id string) (Workspace, error)
	List(ctx context.Context) ([]Workspace, error)
}

// LinkStore persists one opaque payload per (workspace, kind). Get returns an
// error wrapping ErrLinkNotFound when no link exists; Delete is idempotent.
type LinkStore interface {
	Upsert(ctx context.Context, link Link) (Link, error)
	Get(ctx context.Context, workspaceID string, kind ServiceKind) (Link, error)
	Delete(ctx context.Context, workspaceID string, kind ServiceKind) error
	ListByWorkspace(ctx context.Context, workspaceID string) ([]Link, error)
	ListExpiring(ctx context.Context, before time.Time, limit int) ([]Link, error)
}

type StoreProvider interface {
	WorkspaceStore() WorkspaceStore
	LinkStore() LinkStore
}

type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}

type AuthCodeURLRequest struct {
	Kind        ServiceKind
	AuthURL     string
	TokenURL    string
	ClientID    string
	RedirectURI string
	State       string
	Scopes      []string
}

type ExchangeRequest struct {
	Kind         ServiceKind
	TokenURL     string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Code         string
	Scopes       []string
}

type RefreshRequest struct {
	Kind         ServiceKind
	TokenURL     string
	ClientID     string
	ClientSecret string
	RefreshToken string
}

type RevokeRequest struct {
	Kind      ServiceKind
	RevokeURL string
	Token     string
}

type TokenResponse struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    time.Duration
	Expiry       time.Time
}

// TokenClient speaks the provider side of the OAuth2 flow. Exchange errors
// are reported as authorization exchange errors; Refresh distinguishes
// revoked grants from transient failures.
type TokenClient interface {
	AuthCodeURL(req AuthCodeURLRequest) (string, error)
	Exchange(ctx context.Context, req ExchangeRequest) (TokenResponse, error)
	Refresh(ctx context.Context, req RefreshRequest) (TokenResponse, error)
	Revoke(ctx context.Context, req RevokeRequest) error
}

type StateCodec interface {
	Encode(ctx context.Context, claims StateClaims) (string, error)
	Decode(ctx context.Context, state string) (StateClaims, error)
}

type ReplayLedger interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

type LockHandle interface {
	Unlock(ctx context.Context) error
}

type RefreshLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (LockHandle, error)
}

type RefreshBackoffScheduler interface {
	NextDelay(attempt int) time.Duration
}

type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// CredentialService is the surface the command, query and HTTP layers use.
type CredentialService interface {
	EnsureWorkspace(ctx context.Context, displayName string) (Workspace, error)
	GetWorkspace(ctx context.Context, displayName string) (Workspace, error)
	GetWorkspaceByID(ctx context.Context, id string) (Workspace, error)
	ListWorkspaces(ctx context.Context) ([]Workspace, error)
	Authorize(ctx context.Context, req AuthorizeRequest) (AuthorizationRequest, error)
	CompleteCallback(ctx context.Context, req CallbackRequest) (AuthorizationResult, error)
	GetValidCredential(ctx context.Context, workspaceID string, kind ServiceKind) (CredentialEnvelope, error)
	Revoke(ctx context.Context, workspaceID string, kind ServiceKind) error
	HasCredential(ctx context.Context, workspaceID string, kind ServiceKind) (bool, error)
	ListCredentialStatus(ctx context.Context, workspaceID string) (map[ServiceKind]bool, error)
	CredentialStatus(ctx context.Context, workspaceID string) ([]CredentialStatus, error)
	CredentialStatusFor(ctx context.Context, workspaceID string, kind ServiceKind) (CredentialStatus, error)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}
