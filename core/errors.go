package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	CredentialErrorBadInput              = "CREDENTIALS_BAD_INPUT"
	CredentialErrorUnknownServiceKind    = "CREDENTIALS_UNKNOWN_SERVICE_KIND"
	CredentialErrorMissingConfiguration  = "CREDENTIALS_MISSING_CLIENT_CONFIGURATION"
	CredentialErrorInvalidState          = "CREDENTIALS_INVALID_STATE"
	CredentialErrorAuthorizationExchange = "CREDENTIALS_AUTHORIZATION_EXCHANGE_FAILED"
	CredentialErrorRefreshTransient      = "CREDENTIALS_REFRESH_TRANSIENT"
	CredentialErrorRevoked               = "CREDENTIALS_REVOKED"
	CredentialErrorNeedsAuthorization    = "CREDENTIALS_NEEDS_AUTHORIZATION"
	CredentialErrorWorkspaceNotFound     = "CREDENTIALS_WORKSPACE_NOT_FOUND"
	CredentialErrorKindNotRegistered     = "CREDENTIALS_KIND_NOT_REGISTERED"
	CredentialErrorInternal              = "CREDENTIALS_INTERNAL_ERROR"
)

func NewBadInputError(message string) *goerrors.Error {
	return newCredentialError(message, goerrors.CategoryBadInput, CredentialErrorBadInput, nil)
}

func NewUnknownServiceKindError(raw string) *goerrors.Error {
	return newCredentialError("core: unknown service kind", goerrors.CategoryValidation, CredentialErrorUnknownServiceKind, nil).
		WithMetadata(map[string]any{"service_kind": strings.TrimSpace(raw)})
}

// NewMissingCredentialConfigurationError names the kind and the environment
// keys an operator has to set.
func NewMissingCredentialConfigurationError(kind ServiceKind, reason string) *goerrors.Error {
	message := "core: missing oauth client configuration for " + kind.String()
	if reason = strings.TrimSpace(reason); reason != "" {
		message += ": " + reason
	}
	return newCredentialError(message, goerrors.CategoryInternal, CredentialErrorMissingConfiguration, nil).
		WithMetadata(map[string]any{
			"service_kind":      kind.String(),
			"client_id_env":     kind.ClientIDEnvKey(),
			"client_secret_env": kind.ClientSecretEnvKey(),
			"fallback_id_env":   FallbackClientIDEnvKey,
			"fallback_key_env":  FallbackClientSecretEnvKey,
		})
}

func NewInvalidStateError(reason string, cause error) *goerrors.Error {
	message := "core: oauth state rejected"
	if reason = strings.TrimSpace(reason); reason != "" {
		message += ": " + reason
	}
	return newCredentialError(message, goerrors.CategoryAuth, CredentialErrorInvalidState, cause)
}

func NewAuthorizationExchangeError(kind ServiceKind, cause error) *goerrors.Error {
	return newCredentialError(
		"core: authorization code exchange failed for "+kind.String(),
		goerrors.CategoryExternal,
		CredentialErrorAuthorizationExchange,
		cause,
	).WithMetadata(map[string]any{"service_kind": kind.String()})
}

func NewRefreshTransientError(kind ServiceKind, cause error) *goerrors.Error {
	return newCredentialError(
		"core: token refresh temporarily failed for "+kind.String(),
		goerrors.CategoryExternal,
		CredentialErrorRefreshTransient,
		cause,
	).WithMetadata(map[string]any{"service_kind": kind.String(), "retryable": true})
}

func NewCredentialRevokedError(kind ServiceKind, cause error) *goerrors.Error {
	return newCredentialError(
		"core: credential revoked for "+kind.String()+", authorization required",
		goerrors.CategoryAuth,
		CredentialErrorRevoked,
		cause,
	).WithMetadata(map[string]any{"service_kind": kind.String()})
}

func NewNeedsAuthorizationError(workspaceID string, kind ServiceKind) *goerrors.Error {
	return newCredentialError(
		"core: no credential linked for "+kind.String(),
		goerrors.CategoryNotFound,
		CredentialErrorNeedsAuthorization,
		nil,
	).WithMetadata(map[string]any{
		"workspace_id": strings.TrimSpace(workspaceID),
		"service_kind": kind.String(),
	})
}

func NewWorkspaceNotFoundError(key string) *goerrors.Error {
	return newCredentialError("core: workspace not found", goerrors.CategoryNotFound, CredentialErrorWorkspaceNotFound, nil).
		WithMetadata(map[string]any{"workspace": strings.TrimSpace(key)})
}

func newKindNotRegisteredError(kind ServiceKind) *goerrors.Error {
	return newCredentialError("core: no descriptor registered for "+kind.String(), goerrors.CategoryInternal, CredentialErrorKindNotRegistered, nil).
		WithMetadata(map[string]any{"service_kind": kind.String()})
}

func newCredentialError(message string, category goerrors.Category, textCode string, cause error) *goerrors.Error {
	err := goerrors.New(message, category).
		WithCode(credentialHTTPStatus(category, textCode)).
		WithTextCode(textCode)
	err.Source = cause
	return err
}

func HasCredentialErrorCode(err error, textCode string) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == textCode
}

func IsNeedsAuthorization(err error) bool {
	return HasCredentialErrorCode(err, CredentialErrorNeedsAuthorization)
}

func IsCredentialRevoked(err error) bool {
	return HasCredentialErrorCode(err, CredentialErrorRevoked)
}

func IsRefreshTransient(err error) bool {
	return HasCredentialErrorCode(err, CredentialErrorRefreshTransient)
}

func IsInvalidState(err error) bool {
	return HasCredentialErrorCode(err, CredentialErrorInvalidState)
}

func IsAuthorizationExchangeError(err error) bool {
	return HasCredentialErrorCode(err, CredentialErrorAuthorizationExchange)
}

func IsMissingCredentialConfiguration(err error) bool {
	return HasCredentialErrorCode(err, CredentialErrorMissingConfiguration)
}

func IsWorkspaceNotFound(err error) bool {
	return HasCredentialErrorCode(err, CredentialErrorWorkspaceNotFound)
}

// MapCredentialError converts err into the credential error envelope. Errors
// already carrying a text code pass through unchanged.
func MapCredentialError(err error) *goerrors.Error {
	return credentialErrorMapper(err)
}

func credentialErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureCredentialErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "oauth state"):
		return ensureCredentialErrorEnvelope(NewInvalidStateError("", err))
	case strings.Contains(msg, "lock already held"), strings.Contains(msg, "refresh lock"):
		return newCredentialError(err.Error(), goerrors.CategoryConflict, CredentialErrorRefreshTransient, err)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "mismatch"):
		return newCredentialError(err.Error(), goerrors.CategoryBadInput, CredentialErrorBadInput, err)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureCredentialErrorEnvelope(mapped)
}

func ensureCredentialErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultCredentialTextCode(err.Category)
	}
	if err.Code == 0 {
		err.Code = credentialHTTPStatus(err.Category, err.TextCode)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultCredentialTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return CredentialErrorBadInput
	case goerrors.CategoryNotFound:
		return CredentialErrorNeedsAuthorization
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return CredentialErrorInvalidState
	case goerrors.CategoryExternal, goerrors.CategoryConflict:
		return CredentialErrorRefreshTransient
	default:
		return CredentialErrorInternal
	}
}

func credentialHTTPStatus(category goerrors.Category, textCode string) int {
	switch textCode {
	case CredentialErrorAuthorizationExchange:
		return http.StatusBadGateway
	case CredentialErrorRefreshTransient:
		return http.StatusServiceUnavailable
	}
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
