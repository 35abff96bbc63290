package core

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const stateKeyDerivationLabel = "credentials.oauth_state"

type stateTokenClaims struct {
	WorkspaceID string `json:"wid"`
	Kind        string `json:"kind"`
	RedirectURI string `json:"rdu,omitempty"`
	jwt.RegisteredClaims
}

// JWTStateCodec signs authorization state as a compact HS256 token. It is
// stateless; single-use enforcement happens against a ReplayLedger.
type JWTStateCodec struct {
	key    []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTStateCodec derives the signing key from secret. An empty secret gets a
// random per-process key, so states do not survive a restart.
func NewJWTStateCodec(secret string, issuer string, ttl time.Duration) (*JWTStateCodec, error) {
	var key []byte
	if secret = strings.TrimSpace(secret); secret != "" {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write([]byte(stateKeyDerivationLabel))
		key = mac.Sum(nil)
	} else {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("core: generate oauth state key: %w", err)
		}
	}
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	if strings.TrimSpace(issuer) == "" {
		issuer = defaultStateIssuer
	}
	return &JWTStateCodec{
		key:    key,
		issuer: strings.TrimSpace(issuer),
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// WithClock returns a copy of the codec reading time from now.
func (c *JWTStateCodec) WithClock(now func() time.Time) *JWTStateCodec {
	cloned := *c
	if now != nil {
		cloned.now = now
	}
	return &cloned
}

func (c *JWTStateCodec) TTL() time.Duration {
	if c == nil {
		return defaultStateTTL
	}
	return c.ttl
}

func (c *JWTStateCodec) Encode(_ context.Context, claims StateClaims) (string, error) {
	if c == nil {
		return "", fmt.Errorf("core: oauth state codec is not configured")
	}
	if strings.TrimSpace(claims.WorkspaceID) == "" {
		return "", NewBadInputError("core: oauth state requires a workspace id")
	}
	if !claims.Kind.Valid() {
		return "", NewUnknownServiceKindError(string(claims.Kind))
	}
	issuedAt := claims.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = c.now()
	}
	expiresAt := claims.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = issuedAt.Add(c.ttl)
	}
	nonce := strings.TrimSpace(claims.Nonce)
	if nonce == "" {
		nonce = uuid.NewString()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, stateTokenClaims{
		WorkspaceID: strings.TrimSpace(claims.WorkspaceID),
		Kind:        claims.Kind.String(),
		RedirectURI: strings.TrimSpace(claims.RedirectURI),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        nonce,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("core: sign oauth state: %w", err)
	}
	return signed, nil
}

// Decode verifies signature, issuer and expiry. Every failure is reported as
// InvalidState.
func (c *JWTStateCodec) Decode(_ context.Context, state string) (StateClaims, error) {
	if c == nil {
		return StateClaims{}, NewInvalidStateError("codec is not configured", nil)
	}
	state = strings.TrimSpace(state)
	if state == "" {
		return StateClaims{}, NewInvalidStateError("state is required", nil)
	}

	parsed := &stateTokenClaims{}
	_, err := jwt.ParseWithClaims(state, parsed, func(*jwt.Token) (any, error) {
		return c.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return StateClaims{}, NewInvalidStateError(stateRejectionReason(err), err)
	}

	kind, err := ParseServiceKind(parsed.Kind)
	if err != nil {
		return StateClaims{}, NewInvalidStateError("unknown service kind", err)
	}
	if strings.TrimSpace(parsed.WorkspaceID) == "" || strings.TrimSpace(parsed.ID) == "" {
		return StateClaims{}, NewInvalidStateError("missing claims", nil)
	}
	claims := StateClaims{
		WorkspaceID: parsed.WorkspaceID,
		Kind:        kind,
		RedirectURI: parsed.RedirectURI,
		Nonce:       parsed.ID,
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.UTC()
	}
	if parsed.ExpiresAt != nil {
		claims.ExpiresAt = parsed.ExpiresAt.UTC()
	}
	return claims, nil
}

func stateRejectionReason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "expired"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "signature mismatch"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "issuer mismatch"
	default:
		return "invalid"
	}
}

var _ StateCodec = (*JWTStateCodec)(nil)
