package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	EnvelopePayloadFormatJSON = "credential_envelope_json"
	EnvelopeSchemaVersion     = 1
)

// EnvelopeCodec turns a CredentialEnvelope into the opaque link payload and
// back. The payload also names the (workspace, kind) pair it belongs to.
// Decoding accepts payloads written by newer schema versions as long as the
// required fields are present.
type EnvelopeCodec interface {
	Format() string
	Version() int
	Encode(workspaceID string, kind ServiceKind, envelope CredentialEnvelope) ([]byte, error)
	Decode(payload []byte) (CredentialEnvelope, error)
}

type JSONEnvelopeCodec struct{}

func (JSONEnvelopeCodec) Format() string {
	return EnvelopePayloadFormatJSON
}

func (JSONEnvelopeCodec) Version() int {
	return EnvelopeSchemaVersion
}

type jsonEnvelopePayload struct {
	SchemaVersion int        `json:"schema_version,omitempty"`
	WorkspaceID   string     `json:"workspace_id,omitempty"`
	ServiceKind   string     `json:"service_kind,omitempty"`
	AccessToken   string     `json:"access_token"`
	RefreshToken  string     `json:"refresh_token,omitempty"`
	TokenType     string     `json:"token_type,omitempty"`
	TokenEndpoint string     `json:"token_endpoint"`
	ClientID      string     `json:"client_id"`
	ClientSecret  string     `json:"client_secret,omitempty"`
	Scopes        []string   `json:"scopes,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

func (c JSONEnvelopeCodec) Encode(workspaceID string, kind ServiceKind, envelope CredentialEnvelope) ([]byte, error) {
	if err := envelope.Validate(); err != nil {
		return nil, err
	}
	payload := jsonEnvelopePayload{
		SchemaVersion: c.Version(),
		WorkspaceID:   strings.TrimSpace(workspaceID),
		ServiceKind:   kind.String(),
		AccessToken:   strings.TrimSpace(envelope.AccessToken),
		RefreshToken:  strings.TrimSpace(envelope.RefreshToken),
		TokenType:     strings.TrimSpace(envelope.TokenType),
		TokenEndpoint: strings.TrimSpace(envelope.TokenEndpoint),
		ClientID:      strings.TrimSpace(envelope.ClientID),
		ClientSecret:  envelope.ClientSecret,
		Scopes:        NormalizeScopes(envelope.Scopes),
	}
	if !envelope.ExpiresAt.IsZero() {
		expiry := envelope.ExpiresAt.UTC()
		payload.ExpiresAt = &expiry
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("core: encode credential envelope: %w", err)
	}
	return encoded, nil
}

func (JSONEnvelopeCodec) Decode(payload []byte) (CredentialEnvelope, error) {
	if len(payload) == 0 {
		return CredentialEnvelope{}, fmt.Errorf("core: credential envelope payload is empty")
	}
	decoded := jsonEnvelopePayload{}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return CredentialEnvelope{}, fmt.Errorf("core: decode credential envelope: %w", err)
	}
	if decoded.SchemaVersion < 0 {
		return CredentialEnvelope{}, fmt.Errorf("core: credential envelope schema version %d is invalid", decoded.SchemaVersion)
	}
	envelope := CredentialEnvelope{
		AccessToken:   strings.TrimSpace(decoded.AccessToken),
		RefreshToken:  strings.TrimSpace(decoded.RefreshToken),
		TokenType:     strings.TrimSpace(decoded.TokenType),
		TokenEndpoint: strings.TrimSpace(decoded.TokenEndpoint),
		ClientID:      strings.TrimSpace(decoded.ClientID),
		ClientSecret:  decoded.ClientSecret,
		Scopes:        NormalizeScopes(decoded.Scopes),
	}
	if decoded.ExpiresAt != nil {
		envelope.ExpiresAt = decoded.ExpiresAt.UTC()
	}
	if err := envelope.Validate(); err != nil {
		return CredentialEnvelope{}, fmt.Errorf("core: credential envelope is incomplete: %w", err)
	}
	return envelope, nil
}

var _ EnvelopeCodec = JSONEnvelopeCodec{}
