package core

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

type TokenRefreshGuardConfig struct {
	SafetyMargin   time.Duration
	LockTTL        time.Duration
	RequestTimeout time.Duration
}

// RefreshObserver is told about every provider refresh attempt.
type RefreshObserver func(ctx context.Context, workspaceID string, kind ServiceKind, startedAt time.Time, err error)

// TokenRefreshGuard hands out envelopes that are valid for at least the safety
// margin, refreshing them first when needed. Refreshes for the same
// (workspace, kind) are collapsed into one provider call.
type TokenRefreshGuard struct {
	store    *CredentialStore
	client   TokenClient
	locker   RefreshLocker
	config   TokenRefreshGuardConfig
	now      func() time.Time
	observer RefreshObserver
	group    singleflight.Group
}

func NewTokenRefreshGuard(
	store *CredentialStore,
	client TokenClient,
	locker RefreshLocker,
	config TokenRefreshGuardConfig,
	now func() time.Time,
) *TokenRefreshGuard {
	if config.SafetyMargin < 0 {
		config.SafetyMargin = 0
	}
	if config.LockTTL <= 0 {
		config.LockTTL = defaultRefreshLockTTL
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = defaultTokenRequestTimeout
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &TokenRefreshGuard{
		store:  store,
		client: client,
		locker: locker,
		config: config,
		now:    now,
	}
}

func (g *TokenRefreshGuard) SetObserver(observer RefreshObserver) {
	if g != nil {
		g.observer = observer
	}
}

func (g *TokenRefreshGuard) SafetyMargin() time.Duration {
	if g == nil {
		return defaultRefreshSafetyMargin
	}
	return g.config.SafetyMargin
}

// GetValidCredential returns the stored envelope when it outlives the safety
// margin, and a refreshed one otherwise.
func (g *TokenRefreshGuard) GetValidCredential(ctx context.Context, workspaceID string, kind ServiceKind) (CredentialEnvelope, error) {
	return g.EnsureValidFor(ctx, workspaceID, kind, g.SafetyMargin())
}

// EnsureValidFor is GetValidCredential with a caller-chosen margin. The
// refresh sweeper uses it to renew links ahead of time.
func (g *TokenRefreshGuard) EnsureValidFor(ctx context.Context, workspaceID string, kind ServiceKind, margin time.Duration) (CredentialEnvelope, error) {
	if g == nil || g.store == nil || g.client == nil {
		return CredentialEnvelope{}, NewBadInputError("core: token refresh guard is not configured")
	}
	envelope, err := g.store.Get(ctx, workspaceID, kind)
	if err != nil {
		return CredentialEnvelope{}, err
	}
	if !envelope.ExpiresWithin(g.now(), margin) {
		return envelope, nil
	}

	workspaceID = strings.TrimSpace(workspaceID)
	detached := context.WithoutCancel(ctx)
	for retried := false; ; retried = true {
		led := false
		ch := g.group.DoChan(refreshKey(workspaceID, kind), func() (any, error) {
			led = true
			return g.refresh(detached, workspaceID, kind, margin)
		})
		var result singleflight.Result
		select {
		case <-ctx.Done():
			return CredentialEnvelope{}, ctx.Err()
		case result = <-ch:
		}
		if result.Err != nil {
			return CredentialEnvelope{}, result.Err
		}
		refreshed, _ := result.Val.(CredentialEnvelope)
		// A joined result was produced for the leader's margin, which may be
		// narrower than ours.
		if !led && !retried && refreshed.ExpiresWithin(g.now(), margin) {
			continue
		}
		return refreshed.Clone(), nil
	}
}

// refresh runs once per key at a time and holds the link's writer lock, so a
// revocation or re-authorization never interleaves with it. It re-reads the
// store under the lock: a link removed or replaced meanwhile is not refreshed
// from stale state.
func (g *TokenRefreshGuard) refresh(ctx context.Context, workspaceID string, kind ServiceKind, margin time.Duration) (CredentialEnvelope, error) {
	unlock, err := g.store.lockLink(ctx, workspaceID, kind)
	if err != nil {
		return CredentialEnvelope{}, NewRefreshTransientError(kind, err)
	}
	defer unlock()

	current, err := g.store.Get(ctx, workspaceID, kind)
	if err != nil {
		return CredentialEnvelope{}, err
	}
	if !current.ExpiresWithin(g.now(), margin) {
		return current, nil
	}
	if !current.Refreshable() {
		return CredentialEnvelope{}, NewNeedsAuthorizationError(workspaceID, kind)
	}

	if g.locker != nil {
		handle, lockErr := g.locker.Acquire(ctx, refreshKey(workspaceID, kind), g.config.LockTTL)
		if lockErr != nil {
			return CredentialEnvelope{}, NewRefreshTransientError(kind, lockErr)
		}
		defer func() {
			_ = handle.Unlock(ctx)
		}()
	}

	startedAt := g.now()
	refreshCtx, cancel := context.WithTimeout(ctx, g.config.RequestTimeout)
	defer cancel()
	response, err := g.client.Refresh(refreshCtx, RefreshRequest{
		Kind:         kind,
		TokenURL:     current.TokenEndpoint,
		ClientID:     current.ClientID,
		ClientSecret: current.ClientSecret,
		RefreshToken: current.RefreshToken,
	})
	if err == nil && strings.TrimSpace(response.AccessToken) == "" {
		err = NewRefreshTransientError(kind, errMissingAccessToken)
	}
	if g.observer != nil {
		g.observer(ctx, workspaceID, kind, startedAt, err)
	}
	if err != nil {
		if isRevokedGrantError(err) {
			if removeErr := g.store.Remove(ctx, workspaceID, kind); removeErr != nil {
				return CredentialEnvelope{}, removeErr
			}
			if IsCredentialRevoked(err) {
				return CredentialEnvelope{}, err
			}
			return CredentialEnvelope{}, NewCredentialRevokedError(kind, err)
		}
		if IsRefreshTransient(err) {
			return CredentialEnvelope{}, err
		}
		return CredentialEnvelope{}, NewRefreshTransientError(kind, err)
	}

	refreshed := mergeRefreshResponse(current, response, g.now())
	if err := g.store.Put(ctx, workspaceID, kind, refreshed); err != nil {
		return CredentialEnvelope{}, err
	}
	return refreshed, nil
}

// mergeRefreshResponse keeps the stored refresh token and scopes unless the
// provider rotates the refresh token.
func mergeRefreshResponse(current CredentialEnvelope, response TokenResponse, now time.Time) CredentialEnvelope {
	merged := current.Clone()
	merged.AccessToken = response.AccessToken
	if trimmed := strings.TrimSpace(response.RefreshToken); trimmed != "" {
		merged.RefreshToken = trimmed
	}
	if trimmed := strings.TrimSpace(response.TokenType); trimmed != "" {
		merged.TokenType = trimmed
	}
	merged.ExpiresAt = tokenExpiry(now, response)
	return merged
}

func isRevokedGrantError(err error) bool {
	if err == nil {
		return false
	}
	if IsCredentialRevoked(err) {
		return true
	}
	if IsRefreshTransient(err) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "invalid_grant")
}

func refreshKey(workspaceID string, kind ServiceKind) string {
	return strings.TrimSpace(workspaceID) + "|" + kind.String()
}
