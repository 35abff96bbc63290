package credentials

import (
	"net/http"

	"github.com/goliatone/go-credentials/core"
	"github.com/goliatone/go-credentials/providers"
	"github.com/goliatone/go-credentials/security"
)

type Config = core.Config

type EnvConfig = core.EnvConfig

type Option = core.Option

type Service = core.Service

type ServiceKind = core.ServiceKind

type Workspace = core.Workspace

type CredentialEnvelope = core.CredentialEnvelope

type CredentialStatus = core.CredentialStatus

type ServiceDependencies = core.ServiceDependencies
type WorkspaceStore = core.WorkspaceStore
type LinkStore = core.LinkStore
type TokenClient = core.TokenClient
type SecretProvider = core.SecretProvider
type RefreshLocker = core.RefreshLocker
type RefreshBackoffScheduler = core.RefreshBackoffScheduler
type JobEnqueuer = core.JobEnqueuer

type AuthorizeRequest = core.AuthorizeRequest
type AuthorizationRequest = core.AuthorizationRequest
type CallbackRequest = core.CallbackRequest
type AuthorizationResult = core.AuthorizationResult

const (
	ServiceKindGmail = core.ServiceKindGmail
	ServiceKindDrive = core.ServiceKindDrive
	ServiceKindDocs  = core.ServiceKindDocs
)

var (
	WithLogger                  = core.WithLogger
	WithLoggerProvider          = core.WithLoggerProvider
	WithMetricsRecorder         = core.WithMetricsRecorder
	WithErrorFactory            = core.WithErrorFactory
	WithErrorMapper             = core.WithErrorMapper
	WithSecretProvider          = core.WithSecretProvider
	WithPersistenceClient       = core.WithPersistenceClient
	WithRepositoryFactory       = core.WithRepositoryFactory
	WithConfigProvider          = core.WithConfigProvider
	WithOptionsResolver         = core.WithOptionsResolver
	WithKindRegistry            = core.WithKindRegistry
	WithWorkspaceStore          = core.WithWorkspaceStore
	WithLinkStore               = core.WithLinkStore
	WithTokenClient             = core.WithTokenClient
	WithStateCodec              = core.WithStateCodec
	WithReplayLedger            = core.WithReplayLedger
	WithRefreshLocker           = core.WithRefreshLocker
	WithRefreshBackoffScheduler = core.WithRefreshBackoffScheduler
	WithEnvelopeCodec           = core.WithEnvelopeCodec
	WithJobEnqueuer             = core.WithJobEnqueuer
	WithClock                   = core.WithClock

	ParseServiceKind = core.ParseServiceKind
	ServiceKinds     = core.ServiceKinds
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

// NewService builds a service with the Google kind descriptors and the
// x/oauth2 token client. Options given by the caller replace either.
func NewService(cfg Config, opts ...Option) (*Service, error) {
	registry, err := DefaultKindRegistry()
	if err != nil {
		return nil, err
	}
	defaults := []Option{
		core.WithKindRegistry(registry),
		core.WithTokenClient(NewTokenClient(cfg, nil)),
	}
	return core.NewService(cfg, append(defaults, opts...)...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

// NewTokenClient returns the x/oauth2 token client. A nil httpClient uses a
// client bounded by the configured token request timeout.
func NewTokenClient(cfg Config, httpClient *http.Client) *providers.OAuth2TokenClient {
	return providers.NewOAuth2TokenClient(providers.OAuth2ClientConfig{
		TokenRequestTimeout: cfg.OAuth.TokenRequestTimeout,
		HTTPClient:          httpClient,
	})
}

// WithHTTPClient routes every token, refresh and revoke request through
// httpClient.
func WithHTTPClient(httpClient *http.Client) Option {
	return core.WithTokenClient(providers.NewOAuth2TokenClient(providers.OAuth2ClientConfig{
		HTTPClient: httpClient,
	}))
}

// NewSecretProvider encrypts links under secretKey and still reads links
// sealed under any of previousKeys.
func NewSecretProvider(secretKey string, previousKeys ...string) (*security.KeyRing, error) {
	return security.NewKeyRingFromSecrets(secretKey, previousKeys...)
}

// WithEnvironment loads configuration from environ instead of the process
// environment. It is mostly useful in tests.
func WithEnvironment(environ map[string]string) Option {
	return core.WithConfigProvider(core.NewCfgxConfigProvider(core.EnvRawConfigLoader{Environment: environ}))
}

// WithProcessEnvironment loads GOOGLE_*, GMAIL_*, GDRIVE_*, GDOCS_* and the
// CREDENTIALS_* tunables from the process environment.
func WithProcessEnvironment() Option {
	return core.WithConfigProvider(core.NewEnvConfigProvider())
}
