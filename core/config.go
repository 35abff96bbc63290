package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	defaultRedirectURI         = "http://localhost:8000/google/callback"
	defaultStateTTL            = 10 * time.Minute
	defaultStateIssuer         = "go-credentials"
	defaultTokenRequestTimeout = 15 * time.Second
	defaultRefreshSafetyMargin = 60 * time.Second
	defaultRefreshLockTTL      = 30 * time.Second
	defaultSweepWindow         = 10 * time.Minute
	defaultSweepBatchSize      = 100
)

type ClientConfig struct {
	ID     string `koanf:"id" mapstructure:"id"`
	Secret string `koanf:"secret" mapstructure:"secret"`
}

type KindConfig struct {
	Client    ClientConfig `koanf:"client" mapstructure:"client"`
	Scopes    []string     `koanf:"scopes" mapstructure:"scopes"`
	AuthURL   string       `koanf:"auth_url" mapstructure:"auth_url"`
	TokenURL  string       `koanf:"token_url" mapstructure:"token_url"`
	RevokeURL string       `koanf:"revoke_url" mapstructure:"revoke_url"`
}

type OAuthConfig struct {
	RedirectURI         string        `koanf:"redirect_uri" mapstructure:"redirect_uri"`
	StateTTL            time.Duration `koanf:"state_ttl" mapstructure:"state_ttl"`
	StateIssuer         string        `koanf:"state_issuer" mapstructure:"state_issuer"`
	StateSigningKey     string        `koanf:"state_signing_key" mapstructure:"state_signing_key"`
	TokenRequestTimeout time.Duration `koanf:"token_request_timeout" mapstructure:"token_request_timeout"`
}

type RefreshConfig struct {
	SafetyMargin   time.Duration `koanf:"safety_margin" mapstructure:"safety_margin"`
	LockTTL        time.Duration `koanf:"lock_ttl" mapstructure:"lock_ttl"`
	SweepWindow    time.Duration `koanf:"sweep_window" mapstructure:"sweep_window"`
	SweepBatchSize int           `koanf:"sweep_batch_size" mapstructure:"sweep_batch_size"`
}

type Config struct {
	ServiceName string                `koanf:"service_name" mapstructure:"service_name"`
	Fallback    ClientConfig          `koanf:"fallback" mapstructure:"fallback"`
	Kinds       map[string]KindConfig `koanf:"kinds" mapstructure:"kinds"`
	OAuth       OAuthConfig           `koanf:"oauth" mapstructure:"oauth"`
	Refresh     RefreshConfig         `koanf:"refresh" mapstructure:"refresh"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "credentials",
		Kinds:       map[string]KindConfig{},
		OAuth: OAuthConfig{
			RedirectURI:         defaultRedirectURI,
			StateTTL:            defaultStateTTL,
			StateIssuer:         defaultStateIssuer,
			TokenRequestTimeout: defaultTokenRequestTimeout,
		},
		Refresh: RefreshConfig{
			SafetyMargin:   defaultRefreshSafetyMargin,
			LockTTL:        defaultRefreshLockTTL,
			SweepWindow:    defaultSweepWindow,
			SweepBatchSize: defaultSweepBatchSize,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if strings.TrimSpace(c.OAuth.RedirectURI) == "" {
		return fmt.Errorf("core: oauth.redirect_uri is required")
	}
	if c.OAuth.StateTTL < 0 || c.OAuth.TokenRequestTimeout < 0 {
		return fmt.Errorf("core: oauth durations must not be negative")
	}
	if c.Refresh.SafetyMargin < 0 || c.Refresh.LockTTL < 0 || c.Refresh.SweepWindow < 0 {
		return fmt.Errorf("core: refresh durations must not be negative")
	}
	for key := range c.Kinds {
		kind, err := ParseServiceKind(key)
		if err != nil {
			return fmt.Errorf("core: kinds.%s is not a supported service kind", key)
		}
		if string(kind) != key {
			return fmt.Errorf("core: kinds.%s must use the canonical name %q", key, kind)
		}
	}
	return nil
}

// KindConfig returns the per-kind settings, zero when none are configured.
func (c Config) KindConfig(kind ServiceKind) KindConfig {
	if c.Kinds == nil {
		return KindConfig{}
	}
	return c.Kinds[string(kind)]
}

// EnvConfig mirrors the process environment consumed by the module.
type EnvConfig struct {
	ServiceName string `env:"CREDENTIALS_SERVICE_NAME"`

	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	RedirectURI        string `env:"GOOGLE_REDIRECT_URI"`

	GmailClientID      string `env:"GMAIL_CLIENT_ID"`
	GmailClientSecret  string `env:"GMAIL_CLIENT_SECRET"`
	GmailScope         string `env:"GMAIL_SCOPE"`
	GDriveClientID     string `env:"GDRIVE_CLIENT_ID"`
	GDriveClientSecret string `env:"GDRIVE_CLIENT_SECRET"`
	GDriveScope        string `env:"GDRIVE_SCOPE"`
	GDocsClientID      string `env:"GDOCS_CLIENT_ID"`
	GDocsClientSecret  string `env:"GDOCS_CLIENT_SECRET"`
	GDocsScope         string `env:"GDOCS_SCOPE"`

	SecretKey     string        `env:"SECRET_KEY"`
	StateTTL      time.Duration `env:"CREDENTIALS_STATE_TTL"`
	RefreshMargin time.Duration `env:"CREDENTIALS_REFRESH_MARGIN"`
	TokenTimeout  time.Duration `env:"CREDENTIALS_TOKEN_TIMEOUT"`
}

// EnvRawConfigLoader reads EnvConfig from Environment, or from the process
// environment when Environment is nil.
type EnvRawConfigLoader struct {
	Environment map[string]string
}

func (l EnvRawConfigLoader) LoadEnv() (EnvConfig, error) {
	var raw EnvConfig
	opts := env.Options{}
	if l.Environment != nil {
		opts.Environment = l.Environment
	}
	if err := env.ParseWithOptions(&raw, opts); err != nil {
		return EnvConfig{}, fmt.Errorf("core: parse environment: %w", err)
	}
	return raw, nil
}

func (l EnvRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	raw, err := l.LoadEnv()
	if err != nil {
		return nil, err
	}
	return raw.toLayer(), nil
}

func (e EnvConfig) toLayer() map[string]any {
	layer := map[string]any{}
	if trimmed := strings.TrimSpace(e.ServiceName); trimmed != "" {
		layer["service_name"] = trimmed
	}

	fallback := map[string]any{}
	putTrimmed(fallback, "id", e.GoogleClientID)
	putTrimmed(fallback, "secret", e.GoogleClientSecret)
	if len(fallback) > 0 {
		layer["fallback"] = fallback
	}

	kinds := map[string]any{}
	for kind, values := range map[ServiceKind][3]string{
		ServiceKindGmail: {e.GmailClientID, e.GmailClientSecret, e.GmailScope},
		ServiceKindDrive: {e.GDriveClientID, e.GDriveClientSecret, e.GDriveScope},
		ServiceKindDocs:  {e.GDocsClientID, e.GDocsClientSecret, e.GDocsScope},
	} {
		entry := map[string]any{}
		client := map[string]any{}
		putTrimmed(client, "id", values[0])
		putTrimmed(client, "secret", values[1])
		if len(client) > 0 {
			entry["client"] = client
		}
		if scopes := NormalizeScopes([]string{values[2]}); len(scopes) > 0 {
			entry["scopes"] = scopes
		}
		if len(entry) > 0 {
			kinds[string(kind)] = entry
		}
	}
	if len(kinds) > 0 {
		layer["kinds"] = kinds
	}

	oauth := map[string]any{}
	putTrimmed(oauth, "redirect_uri", e.RedirectURI)
	putTrimmed(oauth, "state_signing_key", e.SecretKey)
	if e.StateTTL > 0 {
		oauth["state_ttl"] = e.StateTTL
	}
	if e.TokenTimeout > 0 {
		oauth["token_request_timeout"] = e.TokenTimeout
	}
	if len(oauth) > 0 {
		layer["oauth"] = oauth
	}
	if e.RefreshMargin > 0 {
		layer["refresh"] = map[string]any{"safety_margin": e.RefreshMargin}
	}
	return layer
}

func putTrimmed(target map[string]any, key string, value string) {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		target[key] = trimmed
	}
}
