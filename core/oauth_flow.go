package core

import (
	"context"
	"errors"
	"strings"
	"time"
)

const defaultTokenLifetime = time.Hour

// AuthorizationResult is what a completed callback produced.
type AuthorizationResult struct {
	WorkspaceID string
	Kind        ServiceKind
	Envelope    CredentialEnvelope
}

type OAuthFlowCoordinatorConfig struct {
	RedirectURI    string
	StateTTL       time.Duration
	RequestTimeout time.Duration
	Kinds          map[string]KindConfig
}

// OAuthFlowCoordinator builds authorization URLs, validates returning state
// and exchanges authorization codes for envelopes.
type OAuthFlowCoordinator struct {
	registry *KindRegistry
	resolver *ClientCredentialResolver
	codec    StateCodec
	ledger   ReplayLedger
	client   TokenClient
	store    *CredentialStore
	config   OAuthFlowCoordinatorConfig
	now      func() time.Time
}

func NewOAuthFlowCoordinator(
	registry *KindRegistry,
	resolver *ClientCredentialResolver,
	codec StateCodec,
	ledger ReplayLedger,
	client TokenClient,
	store *CredentialStore,
	config OAuthFlowCoordinatorConfig,
	now func() time.Time,
) *OAuthFlowCoordinator {
	if config.StateTTL <= 0 {
		config.StateTTL = defaultStateTTL
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = defaultTokenRequestTimeout
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &OAuthFlowCoordinator{
		registry: registry,
		resolver: resolver,
		codec:    codec,
		ledger:   ledger,
		client:   client,
		store:    store,
		config:   config,
		now:      now,
	}
}

// Descriptor returns the registered descriptor for kind with configured
// endpoint and scope overrides applied.
func (c *OAuthFlowCoordinator) Descriptor(kind ServiceKind) (KindDescriptor, error) {
	if !kind.Valid() {
		return KindDescriptor{}, NewUnknownServiceKindError(string(kind))
	}
	descriptor, ok := c.registry.Get(kind)
	if !ok {
		return KindDescriptor{}, newKindNotRegisteredError(kind)
	}
	return descriptor.withOverrides(c.config.Kinds[string(kind)]), nil
}

func (c *OAuthFlowCoordinator) BuildAuthorizationURL(ctx context.Context, workspace Workspace, kind ServiceKind) (AuthorizationRequest, error) {
	if strings.TrimSpace(workspace.ID) == "" {
		return AuthorizationRequest{}, NewBadInputError("core: workspace id is required")
	}
	if err := c.ready(); err != nil {
		return AuthorizationRequest{}, err
	}
	descriptor, err := c.Descriptor(kind)
	if err != nil {
		return AuthorizationRequest{}, err
	}
	identity, err := c.resolver.Resolve(kind)
	if err != nil {
		return AuthorizationRequest{}, err
	}

	issuedAt := c.now().UTC()
	expiresAt := issuedAt.Add(c.config.StateTTL)
	redirectURI := strings.TrimSpace(c.config.RedirectURI)
	state, err := c.codec.Encode(ctx, StateClaims{
		WorkspaceID: workspace.ID,
		Kind:        kind,
		RedirectURI: redirectURI,
		IssuedAt:    issuedAt,
		ExpiresAt:   expiresAt,
	})
	if err != nil {
		return AuthorizationRequest{}, err
	}
	url, err := c.client.AuthCodeURL(AuthCodeURLRequest{
		Kind:        kind,
		AuthURL:     descriptor.AuthURL,
		TokenURL:    descriptor.TokenURL,
		ClientID:    identity.ID,
		RedirectURI: redirectURI,
		State:       state,
		Scopes:      descriptor.Scopes,
	})
	if err != nil {
		return AuthorizationRequest{}, err
	}
	return AuthorizationRequest{
		URL:         url,
		State:       state,
		WorkspaceID: workspace.ID,
		Kind:        kind,
		Scopes:      append([]string(nil), descriptor.Scopes...),
		ExpiresAt:   expiresAt,
	}, nil
}

// DecodeState validates state and consumes its nonce. A second decode of the
// same state fails as a replay.
func (c *OAuthFlowCoordinator) DecodeState(ctx context.Context, state string) (StateClaims, error) {
	if err := c.ready(); err != nil {
		return StateClaims{}, err
	}
	claims, err := c.codec.Decode(ctx, state)
	if err != nil {
		if IsInvalidState(err) {
			return StateClaims{}, err
		}
		return StateClaims{}, NewInvalidStateError("", err)
	}
	if c.ledger != nil {
		ttl := claims.ExpiresAt.Sub(c.now())
		if ttl <= 0 {
			ttl = c.config.StateTTL
		}
		claimed, claimErr := c.ledger.Claim(ctx, "oauth_state:"+claims.Nonce, ttl)
		if errors.Is(claimErr, ErrReplayLedgerFull) {
			return StateClaims{}, NewInvalidStateError("too many pending authorizations", claimErr)
		}
		if claimErr != nil {
			return StateClaims{}, claimErr
		}
		if !claimed {
			return StateClaims{}, NewInvalidStateError("already consumed", nil)
		}
	}
	return claims, nil
}

func (c *OAuthFlowCoordinator) ExchangeCode(ctx context.Context, code string, state string) (CredentialEnvelope, error) {
	result, err := c.CompleteAuthorization(ctx, code, state)
	if err != nil {
		return CredentialEnvelope{}, err
	}
	return result.Envelope, nil
}

// CompleteAuthorization decodes state, exchanges code and persists the
// resulting envelope under the workspace and kind bound in the state.
func (c *OAuthFlowCoordinator) CompleteAuthorization(ctx context.Context, code string, state string) (AuthorizationResult, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return AuthorizationResult{}, NewBadInputError("core: authorization code is required")
	}
	claims, err := c.DecodeState(ctx, state)
	if err != nil {
		return AuthorizationResult{}, err
	}
	descriptor, err := c.Descriptor(claims.Kind)
	if err != nil {
		return AuthorizationResult{}, err
	}
	identity, err := c.resolver.Resolve(claims.Kind)
	if err != nil {
		return AuthorizationResult{}, err
	}
	redirectURI := strings.TrimSpace(claims.RedirectURI)
	if redirectURI == "" {
		redirectURI = strings.TrimSpace(c.config.RedirectURI)
	}

	exchangeCtx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()
	response, err := c.client.Exchange(exchangeCtx, ExchangeRequest{
		Kind:         claims.Kind,
		TokenURL:     descriptor.TokenURL,
		ClientID:     identity.ID,
		ClientSecret: identity.Secret,
		RedirectURI:  redirectURI,
		Code:         code,
		Scopes:       descriptor.Scopes,
	})
	if err != nil {
		if IsAuthorizationExchangeError(err) {
			return AuthorizationResult{}, err
		}
		return AuthorizationResult{}, NewAuthorizationExchangeError(claims.Kind, err)
	}
	if strings.TrimSpace(response.AccessToken) == "" {
		return AuthorizationResult{}, NewAuthorizationExchangeError(claims.Kind, errMissingAccessToken)
	}

	envelope := CredentialEnvelope{
		AccessToken:   response.AccessToken,
		RefreshToken:  response.RefreshToken,
		TokenType:     response.TokenType,
		TokenEndpoint: descriptor.TokenURL,
		ClientID:      identity.ID,
		ClientSecret:  identity.Secret,
		Scopes:        append([]string(nil), descriptor.Scopes...),
		ExpiresAt:     tokenExpiry(c.now(), response),
	}
	unlock, err := c.store.lockLink(ctx, claims.WorkspaceID, claims.Kind)
	if err != nil {
		return AuthorizationResult{}, err
	}
	defer unlock()
	if !envelope.Refreshable() {
		if previous, getErr := c.store.Get(ctx, claims.WorkspaceID, claims.Kind); getErr == nil && previous.Refreshable() {
			envelope.RefreshToken = previous.RefreshToken
		}
	}
	if err := c.store.Put(ctx, claims.WorkspaceID, claims.Kind, envelope); err != nil {
		return AuthorizationResult{}, err
	}
	return AuthorizationResult{
		WorkspaceID: claims.WorkspaceID,
		Kind:        claims.Kind,
		Envelope:    envelope.Clone(),
	}, nil
}

func (c *OAuthFlowCoordinator) ready() error {
	switch {
	case c == nil:
		return NewBadInputError("core: oauth flow coordinator is not configured")
	case c.registry == nil:
		return NewBadInputError("core: kind registry is required")
	case c.resolver == nil:
		return NewBadInputError("core: client credential resolver is required")
	case c.codec == nil:
		return NewBadInputError("core: oauth state codec is required")
	case c.client == nil:
		return NewBadInputError("core: token client is required")
	case c.store == nil:
		return NewBadInputError("core: credential store is required")
	}
	return nil
}

// tokenExpiry prefers the provider-reported lifetime over an absolute expiry.
func tokenExpiry(now time.Time, response TokenResponse) time.Time {
	switch {
	case response.ExpiresIn > 0:
		return now.UTC().Add(response.ExpiresIn)
	case !response.Expiry.IsZero():
		return response.Expiry.UTC()
	default:
		return now.UTC().Add(defaultTokenLifetime)
	}
}
