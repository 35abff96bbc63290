package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-credentials/core"
	"golang.org/x/oauth2"
)

const (
	defaultTokenRequestTimeout = 30 * time.Second
	maxRevokeResponseBodyBytes = 1 << 16

	errorCodeInvalidGrant = "invalid_grant"
	errorCodeInvalidToken = "invalid_token"
)

type OAuth2ClientConfig struct {
	// AuthStyle defaults to oauth2.AuthStyleInParams. Auto detection is
	// avoided since it retries failed refreshes with the other style.
	AuthStyle           oauth2.AuthStyle
	AccessType          string
	Prompt              string
	IncludeGrantedScope bool
	TokenRequestTimeout time.Duration
	HTTPClient          *http.Client
}

// OAuth2TokenClient implements core.TokenClient on top of x/oauth2.
type OAuth2TokenClient struct {
	cfg        OAuth2ClientConfig
	httpClient *http.Client
}

func NewOAuth2TokenClient(cfg OAuth2ClientConfig) *OAuth2TokenClient {
	if cfg.AuthStyle == oauth2.AuthStyleAutoDetect {
		cfg.AuthStyle = oauth2.AuthStyleInParams
	}
	cfg.AccessType = strings.TrimSpace(cfg.AccessType)
	if cfg.AccessType == "" {
		cfg.AccessType = "offline"
	}
	cfg.Prompt = strings.TrimSpace(cfg.Prompt)
	if cfg.Prompt == "" {
		cfg.Prompt = "consent"
	}
	if cfg.TokenRequestTimeout <= 0 {
		cfg.TokenRequestTimeout = defaultTokenRequestTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.TokenRequestTimeout}
	}
	return &OAuth2TokenClient{cfg: cfg, httpClient: httpClient}
}

func (c *OAuth2TokenClient) AuthCodeURL(req core.AuthCodeURLRequest) (string, error) {
	if c == nil {
		return "", fmt.Errorf("providers: oauth2 token client is nil")
	}
	if strings.TrimSpace(req.AuthURL) == "" {
		return "", fmt.Errorf("providers: auth url is required for %s", req.Kind)
	}
	if strings.TrimSpace(req.ClientID) == "" {
		return "", fmt.Errorf("providers: client id is required for %s", req.Kind)
	}
	if strings.TrimSpace(req.State) == "" {
		return "", fmt.Errorf("providers: state is required")
	}

	conf := c.config(req.ClientID, "", req.AuthURL, req.TokenURL, req.RedirectURI, req.Scopes)
	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("access_type", c.cfg.AccessType),
		oauth2.SetAuthURLParam("prompt", c.cfg.Prompt),
	}
	if c.cfg.IncludeGrantedScope {
		opts = append(opts, oauth2.SetAuthURLParam("include_granted_scopes", "true"))
	}
	return conf.AuthCodeURL(req.State, opts...), nil
}

func (c *OAuth2TokenClient) Exchange(ctx context.Context, req core.ExchangeRequest) (core.TokenResponse, error) {
	if c == nil {
		return core.TokenResponse{}, fmt.Errorf("providers: oauth2 token client is nil")
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return core.TokenResponse{}, fmt.Errorf("providers: auth code is required")
	}
	if strings.TrimSpace(req.TokenURL) == "" {
		return core.TokenResponse{}, fmt.Errorf("providers: token url is required for %s", req.Kind)
	}

	requestCtx, cancel := c.requestContext(ctx)
	defer cancel()

	conf := c.config(req.ClientID, req.ClientSecret, "", req.TokenURL, req.RedirectURI, req.Scopes)
	token, err := conf.Exchange(requestCtx, code)
	if err != nil {
		return core.TokenResponse{}, fmt.Errorf("providers: exchange code for %s: %w", req.Kind, err)
	}
	return tokenResponse(token), nil
}

// Refresh reports an invalid_grant answer as a revoked credential and every
// other failure as transient.
func (c *OAuth2TokenClient) Refresh(ctx context.Context, req core.RefreshRequest) (core.TokenResponse, error) {
	if c == nil {
		return core.TokenResponse{}, fmt.Errorf("providers: oauth2 token client is nil")
	}
	refreshToken := strings.TrimSpace(req.RefreshToken)
	if refreshToken == "" {
		return core.TokenResponse{}, core.NewNeedsAuthorizationError("", req.Kind)
	}
	if strings.TrimSpace(req.TokenURL) == "" {
		return core.TokenResponse{}, fmt.Errorf("providers: token url is required for %s", req.Kind)
	}

	requestCtx, cancel := c.requestContext(ctx)
	defer cancel()

	conf := c.config(req.ClientID, req.ClientSecret, "", req.TokenURL, "", nil)
	token, err := conf.TokenSource(requestCtx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return core.TokenResponse{}, classifyRefreshError(req.Kind, err)
	}
	return tokenResponse(token), nil
}

// Revoke posts the token to the revocation endpoint. A token the provider
// no longer knows counts as revoked.
func (c *OAuth2TokenClient) Revoke(ctx context.Context, req core.RevokeRequest) error {
	if c == nil {
		return fmt.Errorf("providers: oauth2 token client is nil")
	}
	revokeURL := strings.TrimSpace(req.RevokeURL)
	if revokeURL == "" {
		return nil
	}
	token := strings.TrimSpace(req.Token)
	if token == "" {
		return nil
	}

	requestCtx, cancel := c.requestContext(ctx)
	defer cancel()

	form := url.Values{}
	form.Set("token", token)
	httpReq, err := http.NewRequestWithContext(
		requestCtx,
		http.MethodPost,
		revokeURL,
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")

	response, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("providers: revoke request failed: %w", err)
	}
	defer response.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(response.Body, maxRevokeResponseBodyBytes))
	if readErr != nil {
		return fmt.Errorf("providers: read revoke response: %w", readErr)
	}
	if response.StatusCode >= http.StatusOK && response.StatusCode < http.StatusMultipleChoices {
		return nil
	}
	code := revokeErrorCode(body)
	if response.StatusCode == http.StatusBadRequest && (code == errorCodeInvalidToken || code == errorCodeInvalidGrant) {
		return nil
	}
	if code == "" {
		code = "unknown error"
	}
	return fmt.Errorf("providers: revoke endpoint error (%d): %s", response.StatusCode, code)
}

func (c *OAuth2TokenClient) config(clientID, clientSecret, authURL, tokenURL, redirectURI string, scopes []string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     strings.TrimSpace(clientID),
		ClientSecret: strings.TrimSpace(clientSecret),
		Endpoint: oauth2.Endpoint{
			AuthURL:   strings.TrimSpace(authURL),
			TokenURL:  strings.TrimSpace(tokenURL),
			AuthStyle: c.cfg.AuthStyle,
		},
		RedirectURL: strings.TrimSpace(redirectURI),
		Scopes:      core.NormalizeScopes(scopes),
	}
}

func (c *OAuth2TokenClient) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	return context.WithTimeout(ctx, c.cfg.TokenRequestTimeout)
}

func tokenResponse(token *oauth2.Token) core.TokenResponse {
	if token == nil {
		return core.TokenResponse{}
	}
	response := core.TokenResponse{
		AccessToken:  strings.TrimSpace(token.AccessToken),
		RefreshToken: strings.TrimSpace(token.RefreshToken),
		TokenType:    normalizeTokenType(token.TokenType),
		Expiry:       token.Expiry,
	}
	if token.ExpiresIn > 0 {
		response.ExpiresIn = time.Duration(token.ExpiresIn) * time.Second
	}
	return response
}

func classifyRefreshError(kind core.ServiceKind, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && strings.EqualFold(strings.TrimSpace(retrieveErr.ErrorCode), errorCodeInvalidGrant) {
		return core.NewCredentialRevokedError(kind, err)
	}
	return core.NewRefreshTransientError(kind, err)
}

func revokeErrorCode(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var decoded struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return strings.TrimSpace(string(body))
	}
	return strings.TrimSpace(decoded.Error)
}

func normalizeTokenType(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "bearer"
	}
	return normalized
}

var _ core.TokenClient = (*OAuth2TokenClient)(nil)
