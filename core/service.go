package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

// Service composes the credential components behind one API. Every error it
// returns has passed through the configured ErrorMapper.
type Service struct {
	config            Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorFactory      ErrorFactory
	errorMapper       ErrorMapper
	persistenceClient any
	repositoryFactory any
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	secretProvider    SecretProvider
	kindRegistry      *KindRegistry
	workspaceStore    WorkspaceStore
	linkStore         LinkStore
	tokenClient       TokenClient
	stateCodec        StateCodec
	replayLedger      ReplayLedger
	refreshLocker     RefreshLocker
	refreshScheduler  RefreshBackoffScheduler
	jobEnqueuer       JobEnqueuer
	now               func() time.Time

	resolver    *ClientCredentialResolver
	workspaces  *WorkspaceRegistry
	credentials *CredentialStore
	flow        *OAuthFlowCoordinator
	guard       *TokenRefreshGuard
	sweeper     *RefreshSweeper
	jobHandler  *RefreshJobHandler
}

type ServiceDependencies struct {
	Logger            Logger
	LoggerProvider    LoggerProvider
	MetricsRecorder   MetricsRecorder
	ErrorFactory      ErrorFactory
	ErrorMapper       ErrorMapper
	PersistenceClient any
	RepositoryFactory any
	ConfigProvider    ConfigProvider
	OptionsResolver   OptionsResolver
	SecretProvider    SecretProvider
	KindRegistry      *KindRegistry
	WorkspaceStore    WorkspaceStore
	LinkStore         LinkStore
	TokenClient       TokenClient
	StateCodec        StateCodec
	ReplayLedger      ReplayLedger
	RefreshLocker     RefreshLocker
	RefreshScheduler  RefreshBackoffScheduler
	JobEnqueuer       JobEnqueuer
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("credentials", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("credentials"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.envelopeCodec == nil {
		builder.envelopeCodec = JSONEnvelopeCodec{}
	}
	if builder.now == nil {
		builder.now = func() time.Time { return time.Now().UTC() }
	}
	if builder.tokenClient == nil {
		return nil, mapBuildError(builder.errorMapper, fmt.Errorf("core: token client is required"))
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if (builder.workspaceStore == nil || builder.linkStore == nil) && builder.repositoryFactory != nil {
		stores, buildErr := resolveStoreProvider(builder.repositoryFactory, builder.persistenceClient)
		if buildErr != nil {
			return nil, mapBuildError(builder.errorMapper, buildErr)
		}
		if stores != nil {
			if builder.workspaceStore == nil {
				builder.workspaceStore = stores.WorkspaceStore()
			}
			if builder.linkStore == nil {
				builder.linkStore = stores.LinkStore()
			}
		}
	}
	if builder.workspaceStore == nil {
		builder.workspaceStore = NewMemoryWorkspaceStore()
	}
	if builder.linkStore == nil {
		builder.linkStore = NewMemoryLinkStore()
	}
	if builder.kindRegistry == nil {
		builder.kindRegistry, _ = NewKindRegistry()
	}
	if builder.stateCodec == nil {
		codec, codecErr := NewJWTStateCodec(
			finalConfig.OAuth.StateSigningKey,
			finalConfig.OAuth.StateIssuer,
			finalConfig.OAuth.StateTTL,
		)
		if codecErr != nil {
			return nil, mapBuildError(builder.errorMapper, codecErr)
		}
		builder.stateCodec = codec.WithClock(builder.now)
	}
	if builder.replayLedger == nil {
		ledger := NewMemoryReplayLedger(finalConfig.OAuth.StateTTL)
		ledger.Now = builder.now
		builder.replayLedger = ledger
	}
	if builder.refreshScheduler == nil {
		builder.refreshScheduler = ExponentialBackoffScheduler{
			Initial: defaultRefreshInitialBackoff,
			Max:     defaultRefreshMaxBackoff,
		}
	}

	svc := &Service{
		config:            finalConfig,
		logger:            logger,
		loggerProvider:    provider,
		metricsRecorder:   builder.metricsRecorder,
		errorFactory:      builder.errorFactory,
		errorMapper:       builder.errorMapper,
		persistenceClient: builder.persistenceClient,
		repositoryFactory: builder.repositoryFactory,
		configProvider:    builder.configProvider,
		optionsResolver:   builder.optionsResolver,
		secretProvider:    builder.secretProvider,
		kindRegistry:      builder.kindRegistry,
		workspaceStore:    builder.workspaceStore,
		linkStore:         builder.linkStore,
		tokenClient:       builder.tokenClient,
		stateCodec:        builder.stateCodec,
		replayLedger:      builder.replayLedger,
		refreshLocker:     builder.refreshLocker,
		refreshScheduler:  builder.refreshScheduler,
		jobEnqueuer:       builder.jobEnqueuer,
		now:               builder.now,
	}

	svc.resolver = NewClientCredentialResolver(finalConfig)
	svc.workspaces = NewWorkspaceRegistry(builder.workspaceStore)
	svc.credentials = NewCredentialStore(builder.linkStore, builder.envelopeCodec, builder.secretProvider)
	svc.flow = NewOAuthFlowCoordinator(
		builder.kindRegistry,
		svc.resolver,
		builder.stateCodec,
		builder.replayLedger,
		builder.tokenClient,
		svc.credentials,
		OAuthFlowCoordinatorConfig{
			RedirectURI:    finalConfig.OAuth.RedirectURI,
			StateTTL:       finalConfig.OAuth.StateTTL,
			RequestTimeout: finalConfig.OAuth.TokenRequestTimeout,
			Kinds:          finalConfig.Kinds,
		},
		builder.now,
	)
	svc.guard = NewTokenRefreshGuard(
		svc.credentials,
		builder.tokenClient,
		builder.refreshLocker,
		TokenRefreshGuardConfig{
			SafetyMargin:   finalConfig.Refresh.SafetyMargin,
			LockTTL:        finalConfig.Refresh.LockTTL,
			RequestTimeout: finalConfig.OAuth.TokenRequestTimeout,
		},
		builder.now,
	)
	svc.guard.SetObserver(svc.observeRefresh)
	svc.jobHandler = NewRefreshJobHandler(svc.guard, builder.refreshScheduler)
	if builder.jobEnqueuer != nil {
		svc.sweeper = NewRefreshSweeper(builder.linkStore, builder.jobEnqueuer, finalConfig.Refresh.SweepBatchSize, builder.now)
	}
	return svc, nil
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

func resolveStoreProvider(factory any, persistenceClient any) (StoreProvider, error) {
	switch typed := factory.(type) {
	case RepositoryStoreFactory:
		return typed.BuildStores(persistenceClient)
	case StoreProvider:
		return typed, nil
	default:
		return nil, fmt.Errorf("core: unsupported repository factory %T", factory)
	}
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:            s.logger,
		LoggerProvider:    s.loggerProvider,
		MetricsRecorder:   s.metricsRecorder,
		ErrorFactory:      s.errorFactory,
		ErrorMapper:       s.errorMapper,
		PersistenceClient: s.persistenceClient,
		RepositoryFactory: s.repositoryFactory,
		ConfigProvider:    s.configProvider,
		OptionsResolver:   s.optionsResolver,
		SecretProvider:    s.secretProvider,
		KindRegistry:      s.kindRegistry,
		WorkspaceStore:    s.workspaceStore,
		LinkStore:         s.linkStore,
		TokenClient:       s.tokenClient,
		StateCodec:        s.stateCodec,
		ReplayLedger:      s.replayLedger,
		RefreshLocker:     s.refreshLocker,
		RefreshScheduler:  s.refreshScheduler,
		JobEnqueuer:       s.jobEnqueuer,
	}
}

func (s *Service) Resolver() *ClientCredentialResolver { return s.resolver }

func (s *Service) Workspaces() *WorkspaceRegistry { return s.workspaces }

func (s *Service) Credentials() *CredentialStore { return s.credentials }

func (s *Service) Flow() *OAuthFlowCoordinator { return s.flow }

func (s *Service) Guard() *TokenRefreshGuard { return s.guard }

// ValidateClients fails when any kind lacks a resolvable client pair.
func (s *Service) ValidateClients() error {
	if s == nil || s.resolver == nil {
		return fmt.Errorf("core: service is not configured")
	}
	return s.mapError(s.resolver.ValidateAll())
}

func (s *Service) EnsureWorkspace(ctx context.Context, displayName string) (workspace Workspace, err error) {
	startedAt := s.now()
	fields := map[string]any{"display_name": strings.TrimSpace(displayName)}
	defer func() {
		if workspace.ID != "" {
			fields["workspace_id"] = workspace.ID
		}
		s.observeOperation(ctx, startedAt, "ensure_workspace", err, fields)
	}()

	workspace, err = s.workspaces.GetOrCreate(ctx, displayName)
	if err != nil {
		err = s.mapError(err)
		return Workspace{}, err
	}
	return workspace, nil
}

func (s *Service) GetWorkspace(ctx context.Context, displayName string) (Workspace, error) {
	workspace, err := s.workspaces.GetByDisplayName(ctx, displayName)
	if err != nil {
		return Workspace{}, s.mapError(err)
	}
	return workspace, nil
}

func (s *Service) GetWorkspaceByID(ctx context.Context, id string) (Workspace, error) {
	workspace, err := s.workspaces.Get(ctx, id)
	if err != nil {
		return Workspace{}, s.mapError(err)
	}
	return workspace, nil
}

func (s *Service) ListWorkspaces(ctx context.Context) ([]Workspace, error) {
	workspaces, err := s.workspaces.List(ctx)
	if err != nil {
		return nil, s.mapError(err)
	}
	return workspaces, nil
}

// Authorize starts the authorization flow for a workspace, creating the
// workspace on first use when only a display name is given.
func (s *Service) Authorize(ctx context.Context, req AuthorizeRequest) (response AuthorizationRequest, err error) {
	startedAt := s.now()
	fields := map[string]any{
		"workspace_id": req.WorkspaceID,
		"display_name": req.DisplayName,
		"service_kind": req.Kind.String(),
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "authorize", err, fields)
	}()

	if !req.Kind.Valid() {
		err = s.mapError(NewUnknownServiceKindError(string(req.Kind)))
		return AuthorizationRequest{}, err
	}
	workspace, err := s.resolveWorkspace(ctx, req.WorkspaceID, req.DisplayName)
	if err != nil {
		err = s.mapError(err)
		return AuthorizationRequest{}, err
	}
	fields["workspace_id"] = workspace.ID

	response, err = s.flow.BuildAuthorizationURL(ctx, workspace, req.Kind)
	if err != nil {
		err = s.mapError(err)
		return AuthorizationRequest{}, err
	}
	return response, nil
}

// CompleteCallback handles the provider redirect. A provider-reported error
// still consumes the state so it cannot be replayed.
func (s *Service) CompleteCallback(ctx context.Context, req CallbackRequest) (result AuthorizationResult, err error) {
	startedAt := s.now()
	fields := map[string]any{}
	defer func() {
		if result.WorkspaceID != "" {
			fields["workspace_id"] = result.WorkspaceID
			fields["service_kind"] = result.Kind.String()
		}
		s.observeOperation(ctx, startedAt, "complete_callback", err, fields)
	}()

	if providerErr := strings.TrimSpace(req.Error); providerErr != "" {
		claims, decodeErr := s.flow.DecodeState(ctx, req.State)
		if decodeErr != nil {
			err = s.mapError(decodeErr)
			return AuthorizationResult{}, err
		}
		fields["workspace_id"] = claims.WorkspaceID
		fields["service_kind"] = claims.Kind.String()
		err = s.mapError(NewAuthorizationExchangeError(claims.Kind, fmt.Errorf("provider returned %s", providerErr)))
		return AuthorizationResult{}, err
	}

	result, err = s.flow.CompleteAuthorization(ctx, req.Code, req.State)
	if err != nil {
		err = s.mapError(err)
		return AuthorizationResult{}, err
	}
	return result, nil
}

func (s *Service) ExchangeCode(ctx context.Context, code string, state string) (CredentialEnvelope, error) {
	result, err := s.CompleteCallback(ctx, CallbackRequest{Code: code, State: state})
	if err != nil {
		return CredentialEnvelope{}, err
	}
	return result.Envelope, nil
}

func (s *Service) GetValidCredential(ctx context.Context, workspaceID string, kind ServiceKind) (envelope CredentialEnvelope, err error) {
	startedAt := s.now()
	fields := map[string]any{
		"workspace_id": workspaceID,
		"service_kind": kind.String(),
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "get_valid_credential", err, fields)
	}()

	envelope, err = s.guard.GetValidCredential(ctx, workspaceID, kind)
	if err != nil {
		err = s.mapError(err)
		return CredentialEnvelope{}, err
	}
	return envelope, nil
}

// RefreshCredential renews the link when it expires within margin. A
// non-positive margin falls back to the guard's safety margin.
func (s *Service) RefreshCredential(ctx context.Context, workspaceID string, kind ServiceKind, margin time.Duration) (envelope CredentialEnvelope, err error) {
	startedAt := s.now()
	fields := map[string]any{
		"workspace_id": workspaceID,
		"service_kind": kind.String(),
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "refresh_credential", err, fields)
	}()

	if margin <= 0 {
		margin = s.guard.SafetyMargin()
	}
	fields["margin"] = margin.String()
	envelope, err = s.guard.EnsureValidFor(ctx, workspaceID, kind, margin)
	if err != nil {
		err = s.mapError(err)
		return CredentialEnvelope{}, err
	}
	return envelope, nil
}

// Revoke asks the provider to revoke the grant and then removes the link.
// Provider failures are logged and never keep the link alive. A refresh in
// flight for the link finishes first and cannot write the link back.
func (s *Service) Revoke(ctx context.Context, workspaceID string, kind ServiceKind) (err error) {
	startedAt := s.now()
	fields := map[string]any{
		"workspace_id": workspaceID,
		"service_kind": kind.String(),
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "revoke", err, fields)
	}()

	unlock, err := s.credentials.lockLink(ctx, workspaceID, kind)
	if err != nil {
		return err
	}
	defer unlock()

	envelope, getErr := s.credentials.Get(ctx, workspaceID, kind)
	switch {
	case getErr == nil:
		fields["provider_revoked"] = s.revokeAtProvider(ctx, kind, envelope)
	case IsNeedsAuthorization(getErr):
		fields["present"] = false
		return nil
	case HasCredentialErrorCode(getErr, CredentialErrorBadInput), HasCredentialErrorCode(getErr, CredentialErrorUnknownServiceKind):
		err = s.mapError(getErr)
		return err
	default:
		s.logWarn(ctx, "stored credential unreadable, removing without provider revocation", map[string]any{
			"workspace_id": workspaceID,
			"service_kind": kind.String(),
			"error":        getErr.Error(),
		})
	}

	if err = s.credentials.Remove(ctx, workspaceID, kind); err != nil {
		err = s.mapError(err)
		return err
	}
	return nil
}

func (s *Service) revokeAtProvider(ctx context.Context, kind ServiceKind, envelope CredentialEnvelope) bool {
	descriptor, err := s.flow.Descriptor(kind)
	if err != nil || strings.TrimSpace(descriptor.RevokeURL) == "" {
		return false
	}
	token := envelope.RefreshToken
	if strings.TrimSpace(token) == "" {
		token = envelope.AccessToken
	}
	revokeCtx, cancel := context.WithTimeout(ctx, s.config.OAuth.TokenRequestTimeout)
	defer cancel()
	if err := s.tokenClient.Revoke(revokeCtx, RevokeRequest{
		Kind:      kind,
		RevokeURL: descriptor.RevokeURL,
		Token:     token,
	}); err != nil {
		s.logWarn(ctx, "provider revocation failed", map[string]any{
			"service_kind": kind.String(),
			"error":        err.Error(),
		})
		return false
	}
	return true
}

func (s *Service) HasCredential(ctx context.Context, workspaceID string, kind ServiceKind) (bool, error) {
	present, err := s.credentials.Has(ctx, workspaceID, kind)
	if err != nil {
		return false, s.mapError(err)
	}
	return present, nil
}

// ListCredentialStatus reports presence per kind without decoding payloads.
func (s *Service) ListCredentialStatus(ctx context.Context, workspaceID string) (map[ServiceKind]bool, error) {
	statuses, err := s.credentials.ListForWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, s.mapError(err)
	}
	out := make(map[ServiceKind]bool, len(statuses))
	for _, status := range statuses {
		out[status.Kind] = status.Present
	}
	return out, nil
}

func (s *Service) LinkStatuses(ctx context.Context, workspaceID string) ([]LinkStatus, error) {
	statuses, err := s.credentials.ListForWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, s.mapError(err)
	}
	return statuses, nil
}

// CredentialStatus describes every kind for a workspace, token-free.
func (s *Service) CredentialStatus(ctx context.Context, workspaceID string) ([]CredentialStatus, error) {
	out := make([]CredentialStatus, 0, len(ServiceKinds()))
	for _, kind := range ServiceKinds() {
		status, err := s.CredentialStatusFor(ctx, workspaceID, kind)
		if err != nil {
			return nil, err
		}
		out = append(out, status)
	}
	return out, nil
}

func (s *Service) CredentialStatusFor(ctx context.Context, workspaceID string, kind ServiceKind) (CredentialStatus, error) {
	status, err := s.credentials.Describe(ctx, workspaceID, kind)
	if err != nil {
		return CredentialStatus{}, s.mapError(err)
	}
	return status, nil
}

// SweepExpiring enqueues refresh jobs for links expiring inside the
// configured sweep window.
func (s *Service) SweepExpiring(ctx context.Context) (result SweepResult, err error) {
	startedAt := s.now()
	fields := map[string]any{}
	defer func() {
		fields["scanned"] = result.Scanned
		fields["enqueued"] = result.Enqueued
		fields["failed"] = result.Failed
		s.observeOperation(ctx, startedAt, "sweep_expiring", err, fields)
	}()

	if s.sweeper == nil {
		err = s.mapError(fmt.Errorf("core: job enqueuer is required for refresh sweeps"))
		return SweepResult{}, err
	}
	result, err = s.sweeper.Sweep(ctx, s.config.Refresh.SweepWindow)
	if err != nil {
		err = s.mapError(err)
		return result, err
	}
	return result, nil
}

func (s *Service) HandleRefreshJob(ctx context.Context, delivery JobDelivery) error {
	if err := s.jobHandler.Handle(ctx, delivery); err != nil {
		return s.mapError(err)
	}
	return nil
}

func (s *Service) resolveWorkspace(ctx context.Context, workspaceID string, displayName string) (Workspace, error) {
	if id := strings.TrimSpace(workspaceID); id != "" {
		return s.workspaces.Get(ctx, id)
	}
	return s.workspaces.GetOrCreate(ctx, displayName)
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}
