package common

import "github.com/goliatone/go-credentials/core"

// Google OAuth2 endpoints shared by every Workspace kind.
const (
	AuthURL   = "https://accounts.google.com/o/oauth2/auth"
	TokenURL  = "https://oauth2.googleapis.com/token"
	RevokeURL = "https://oauth2.googleapis.com/revoke"
)

// Descriptor builds a kind descriptor against the Google endpoints.
func Descriptor(kind core.ServiceKind, scopes ...string) core.KindDescriptor {
	return core.KindDescriptor{
		Kind:      kind,
		AuthURL:   AuthURL,
		TokenURL:  TokenURL,
		RevokeURL: RevokeURL,
		Scopes:    core.NormalizeScopes(scopes),
	}
}
