package core

import (
	"strings"
	"time"
)

type ServiceKind string

const (
	ServiceKindGmail ServiceKind = "gmail"
	ServiceKindDrive ServiceKind = "drive"
	ServiceKindDocs  ServiceKind = "docs"
)

const (
	FallbackClientIDEnvKey     = "GOOGLE_CLIENT_ID"
	FallbackClientSecretEnvKey = "GOOGLE_CLIENT_SECRET"
)

var serviceKindAliases = map[string]ServiceKind{
	"gmail":  ServiceKindGmail,
	"drive":  ServiceKindDrive,
	"gdrive": ServiceKindDrive,
	"docs":   ServiceKindDocs,
	"gdocs":  ServiceKindDocs,
}

var serviceKindEnvPrefixes = map[ServiceKind]string{
	ServiceKindGmail: "GMAIL",
	ServiceKindDrive: "GDRIVE",
	ServiceKindDocs:  "GDOCS",
}

// ServiceKinds returns every supported kind in a stable order.
func ServiceKinds() []ServiceKind {
	return []ServiceKind{ServiceKindGmail, ServiceKindDrive, ServiceKindDocs}
}

// ParseServiceKind maps boundary input onto the closed kind set.
func ParseServiceKind(raw string) (ServiceKind, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if kind, ok := serviceKindAliases[normalized]; ok {
		return kind, nil
	}
	return "", NewUnknownServiceKindError(raw)
}

func (k ServiceKind) String() string {
	return string(k)
}

func (k ServiceKind) Valid() bool {
	_, ok := serviceKindEnvPrefixes[k]
	return ok
}

func (k ServiceKind) ClientIDEnvKey() string {
	return serviceKindEnvPrefixes[k] + "_CLIENT_ID"
}

func (k ServiceKind) ClientSecretEnvKey() string {
	return serviceKindEnvPrefixes[k] + "_CLIENT_SECRET"
}

func (k ServiceKind) ScopeEnvKey() string {
	return serviceKindEnvPrefixes[k] + "_SCOPE"
}

type Workspace struct {
	ID          string
	DisplayName string
	CreatedAt   time.Time
}

// CredentialEnvelope is the token material of a link plus everything needed
// to refresh it.
type CredentialEnvelope struct {
	AccessToken   string
	RefreshToken  string
	TokenType     string
	TokenEndpoint string
	ClientID      string
	ClientSecret  string
	Scopes        []string
	ExpiresAt     time.Time
}

func (e CredentialEnvelope) Clone() CredentialEnvelope {
	cloned := e
	cloned.Scopes = append([]string(nil), e.Scopes...)
	if !e.ExpiresAt.IsZero() {
		cloned.ExpiresAt = e.ExpiresAt.UTC()
	}
	return cloned
}

// ExpiresWithin reports whether the envelope is expired or expires before
// now+margin. A zero expiry counts as expired.
func (e CredentialEnvelope) ExpiresWithin(now time.Time, margin time.Duration) bool {
	if e.ExpiresAt.IsZero() {
		return true
	}
	return !e.ExpiresAt.After(now.Add(margin))
}

func (e CredentialEnvelope) Refreshable() bool {
	return strings.TrimSpace(e.RefreshToken) != ""
}

func (e CredentialEnvelope) Validate() error {
	switch {
	case strings.TrimSpace(e.AccessToken) == "":
		return NewBadInputError("core: envelope access token is required")
	case strings.TrimSpace(e.TokenEndpoint) == "":
		return NewBadInputError("core: envelope token endpoint is required")
	case strings.TrimSpace(e.ClientID) == "":
		return NewBadInputError("core: envelope client id is required")
	}
	return nil
}

type Link struct {
	WorkspaceID     string
	Kind            ServiceKind
	Payload         []byte
	PayloadFormat   string
	PayloadVersion  int
	EncryptionKeyID string
	ExpiresAt       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// LinkStatus is the token-free view of a link used by status reporting.
type LinkStatus struct {
	Kind      ServiceKind
	Present   bool
	ExpiresAt *time.Time
	UpdatedAt *time.Time
}

type CredentialStatus struct {
	Kind           ServiceKind `json:"service_kind"`
	HasCredentials bool        `json:"has_credentials"`
	Scopes         []string    `json:"scopes,omitempty"`
	ExpiresAt      *time.Time  `json:"expires_at,omitempty"`
	UpdatedAt      *time.Time  `json:"updated_at,omitempty"`
	Refreshable    bool        `json:"refreshable"`
}

type ClientIdentity struct {
	ID     string
	Secret string
	Source string
}

type AuthorizationRequest struct {
	URL         string
	State       string
	WorkspaceID string
	Kind        ServiceKind
	Scopes      []string
	ExpiresAt   time.Time
}

// AuthorizeRequest names the workspace by id or, when the id is empty, by
// display name.
type AuthorizeRequest struct {
	WorkspaceID string
	DisplayName string
	Kind        ServiceKind
}

// CallbackRequest carries the query parameters of the provider redirect.
type CallbackRequest struct {
	Code  string
	State string
	Error string
}

type StateClaims struct {
	WorkspaceID string
	Kind        ServiceKind
	RedirectURI string
	Nonce       string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// KindDescriptor holds the provider endpoints and default scopes of a kind.
type KindDescriptor struct {
	Kind      ServiceKind
	AuthURL   string
	TokenURL  string
	RevokeURL string
	Scopes    []string
}

func (d KindDescriptor) withOverrides(cfg KindConfig) KindDescriptor {
	out := d
	if trimmed := strings.TrimSpace(cfg.AuthURL); trimmed != "" {
		out.AuthURL = trimmed
	}
	if trimmed := strings.TrimSpace(cfg.TokenURL); trimmed != "" {
		out.TokenURL = trimmed
	}
	if trimmed := strings.TrimSpace(cfg.RevokeURL); trimmed != "" {
		out.RevokeURL = trimmed
	}
	if scopes := NormalizeScopes(cfg.Scopes); len(scopes) > 0 {
		out.Scopes = scopes
	} else {
		out.Scopes = NormalizeScopes(d.Scopes)
	}
	return out
}

// NormalizeScopes trims, drops empties, and de-duplicates while keeping
// first-seen order.
func NormalizeScopes(scopes []string) []string {
	if len(scopes) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(scopes))
	out := make([]string, 0, len(scopes))
	for _, scope := range scopes {
		for _, field := range strings.Fields(scope) {
			if _, exists := seen[field]; exists {
				continue
			}
			seen[field] = struct{}{}
			out = append(out, field)
		}
	}
	return out
}
