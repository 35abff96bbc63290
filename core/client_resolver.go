package core

import (
	"strings"
)

const (
	ClientIdentitySourceKind     = "kind"
	ClientIdentitySourceFallback = "fallback"
)

// ClientCredentialResolver picks the OAuth client pair for a kind: a complete
// kind-specific pair wins, then a complete fallback pair. Partial pairs are
// rejected at either level.
type ClientCredentialResolver struct {
	fallback ClientConfig
	kinds    map[ServiceKind]ClientConfig
}

func NewClientCredentialResolver(cfg Config) *ClientCredentialResolver {
	resolver := &ClientCredentialResolver{
		fallback: trimClient(cfg.Fallback),
		kinds:    make(map[ServiceKind]ClientConfig, len(cfg.Kinds)),
	}
	for key, kindCfg := range cfg.Kinds {
		kind, err := ParseServiceKind(key)
		if err != nil {
			continue
		}
		resolver.kinds[kind] = trimClient(kindCfg.Client)
	}
	return resolver
}

func (r *ClientCredentialResolver) Resolve(kind ServiceKind) (ClientIdentity, error) {
	if !kind.Valid() {
		return ClientIdentity{}, NewUnknownServiceKindError(string(kind))
	}
	if r == nil {
		return ClientIdentity{}, NewMissingCredentialConfigurationError(kind, "resolver is not configured")
	}

	specific := r.kinds[kind]
	switch {
	case specific.ID != "" && specific.Secret != "":
		return ClientIdentity{ID: specific.ID, Secret: specific.Secret, Source: ClientIdentitySourceKind}, nil
	case specific.ID != "":
		return ClientIdentity{}, NewMissingCredentialConfigurationError(kind, kind.ClientSecretEnvKey()+" is not set")
	case specific.Secret != "":
		return ClientIdentity{}, NewMissingCredentialConfigurationError(kind, kind.ClientIDEnvKey()+" is not set")
	}

	switch {
	case r.fallback.ID != "" && r.fallback.Secret != "":
		return ClientIdentity{ID: r.fallback.ID, Secret: r.fallback.Secret, Source: ClientIdentitySourceFallback}, nil
	case r.fallback.ID != "":
		return ClientIdentity{}, NewMissingCredentialConfigurationError(kind, FallbackClientSecretEnvKey+" is not set")
	case r.fallback.Secret != "":
		return ClientIdentity{}, NewMissingCredentialConfigurationError(kind, FallbackClientIDEnvKey+" is not set")
	}
	return ClientIdentity{}, NewMissingCredentialConfigurationError(kind, "")
}

// ValidateAll resolves every kind and returns the first failure.
func (r *ClientCredentialResolver) ValidateAll() error {
	for _, kind := range ServiceKinds() {
		if _, err := r.Resolve(kind); err != nil {
			return err
		}
	}
	return nil
}

func trimClient(client ClientConfig) ClientConfig {
	return ClientConfig{
		ID:     strings.TrimSpace(client.ID),
		Secret: strings.TrimSpace(client.Secret),
	}
}
