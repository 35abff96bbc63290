package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ErrorFactory func(message string, category ...goerrors.Category) *goerrors.Error

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig     Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorFactory      ErrorFactory
	errorMapper       ErrorMapper
	secretProvider    SecretProvider
	persistenceClient any
	repositoryFactory any
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	kindRegistry      *KindRegistry
	workspaceStore    WorkspaceStore
	linkStore         LinkStore
	tokenClient       TokenClient
	stateCodec        StateCodec
	replayLedger      ReplayLedger
	refreshLocker     RefreshLocker
	refreshScheduler  RefreshBackoffScheduler
	envelopeCodec     EnvelopeCodec
	jobEnqueuer       JobEnqueuer
	now               func() time.Time
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorFactory(factory ErrorFactory) Option {
	return func(b *serviceBuilder) {
		b.errorFactory = factory
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithSecretProvider(provider SecretProvider) Option {
	return func(b *serviceBuilder) {
		b.secretProvider = provider
	}
}

func WithPersistenceClient(client any) Option {
	return func(b *serviceBuilder) {
		b.persistenceClient = client
	}
}

func WithRepositoryFactory(factory any) Option {
	return func(b *serviceBuilder) {
		b.repositoryFactory = factory
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithKindRegistry(registry *KindRegistry) Option {
	return func(b *serviceBuilder) {
		b.kindRegistry = registry
	}
}

func WithWorkspaceStore(store WorkspaceStore) Option {
	return func(b *serviceBuilder) {
		b.workspaceStore = store
	}
}

func WithLinkStore(store LinkStore) Option {
	return func(b *serviceBuilder) {
		b.linkStore = store
	}
}

func WithTokenClient(client TokenClient) Option {
	return func(b *serviceBuilder) {
		b.tokenClient = client
	}
}

func WithStateCodec(codec StateCodec) Option {
	return func(b *serviceBuilder) {
		b.stateCodec = codec
	}
}

func WithReplayLedger(ledger ReplayLedger) Option {
	return func(b *serviceBuilder) {
		b.replayLedger = ledger
	}
}

func WithRefreshLocker(locker RefreshLocker) Option {
	return func(b *serviceBuilder) {
		b.refreshLocker = locker
	}
}

func WithRefreshBackoffScheduler(scheduler RefreshBackoffScheduler) Option {
	return func(b *serviceBuilder) {
		b.refreshScheduler = scheduler
	}
}

func WithEnvelopeCodec(codec EnvelopeCodec) Option {
	return func(b *serviceBuilder) {
		b.envelopeCodec = codec
	}
}

func WithJobEnqueuer(enqueuer JobEnqueuer) Option {
	return func(b *serviceBuilder) {
		b.jobEnqueuer = enqueuer
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *serviceBuilder) {
		b.now = now
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("credentials", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorFactory:    goerrors.New,
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		envelopeCodec:   JSONEnvelopeCodec{},
		now:             func() time.Time { return time.Now().UTC() },
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return credentialErrorMapper(err)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

// NewEnvConfigProvider loads configuration from the process environment.
func NewEnvConfigProvider() *CfgxConfigProvider {
	return NewCfgxConfigProvider(EnvRawConfigLoader{})
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}
	if fallback := clientToLayer(cfg.Fallback, includeZero); len(fallback) > 0 {
		layer["fallback"] = fallback
	}

	kinds := map[string]any{}
	for key, kindCfg := range cfg.Kinds {
		entry := map[string]any{}
		if client := clientToLayer(kindCfg.Client, false); len(client) > 0 {
			entry["client"] = client
		}
		if len(kindCfg.Scopes) > 0 {
			entry["scopes"] = append([]string(nil), kindCfg.Scopes...)
		}
		putTrimmed(entry, "auth_url", kindCfg.AuthURL)
		putTrimmed(entry, "token_url", kindCfg.TokenURL)
		putTrimmed(entry, "revoke_url", kindCfg.RevokeURL)
		if len(entry) > 0 {
			kinds[key] = entry
		}
	}
	if includeZero || len(kinds) > 0 {
		layer["kinds"] = kinds
	}

	oauth := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.OAuth.RedirectURI) != "" {
		oauth["redirect_uri"] = cfg.OAuth.RedirectURI
	}
	if includeZero || cfg.OAuth.StateTTL > 0 {
		oauth["state_ttl"] = cfg.OAuth.StateTTL
	}
	if includeZero || strings.TrimSpace(cfg.OAuth.StateIssuer) != "" {
		oauth["state_issuer"] = cfg.OAuth.StateIssuer
	}
	if includeZero || cfg.OAuth.StateSigningKey != "" {
		oauth["state_signing_key"] = cfg.OAuth.StateSigningKey
	}
	if includeZero || cfg.OAuth.TokenRequestTimeout > 0 {
		oauth["token_request_timeout"] = cfg.OAuth.TokenRequestTimeout
	}
	if len(oauth) > 0 {
		layer["oauth"] = oauth
	}

	refresh := map[string]any{}
	if includeZero || cfg.Refresh.SafetyMargin > 0 {
		refresh["safety_margin"] = cfg.Refresh.SafetyMargin
	}
	if includeZero || cfg.Refresh.LockTTL > 0 {
		refresh["lock_ttl"] = cfg.Refresh.LockTTL
	}
	if includeZero || cfg.Refresh.SweepWindow > 0 {
		refresh["sweep_window"] = cfg.Refresh.SweepWindow
	}
	if includeZero || cfg.Refresh.SweepBatchSize > 0 {
		refresh["sweep_batch_size"] = cfg.Refresh.SweepBatchSize
	}
	if len(refresh) > 0 {
		layer["refresh"] = refresh
	}
	return layer
}

func clientToLayer(client ClientConfig, includeZero bool) map[string]any {
	out := map[string]any{}
	if includeZero || strings.TrimSpace(client.ID) != "" {
		out["id"] = strings.TrimSpace(client.ID)
	}
	if includeZero || strings.TrimSpace(client.Secret) != "" {
		out["secret"] = strings.TrimSpace(client.Secret)
	}
	return out
}
