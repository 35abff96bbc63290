package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// KeyIdentifier is implemented by secret providers that tag ciphertext with
// the key that produced it.
type KeyIdentifier interface {
	KeyID() string
}

// CredentialStore owns envelope persistence for each (workspace, kind) link.
// Envelopes are encoded with an EnvelopeCodec and, when a SecretProvider is
// configured, encrypted before they reach the LinkStore.
type CredentialStore struct {
	links   LinkStore
	codec   EnvelopeCodec
	secrets SecretProvider
	writers *keyMutex
}

func NewCredentialStore(links LinkStore, codec EnvelopeCodec, secrets SecretProvider) *CredentialStore {
	if codec == nil {
		codec = JSONEnvelopeCodec{}
	}
	return &CredentialStore{links: links, codec: codec, secrets: secrets, writers: newKeyMutex()}
}

// lockLink serializes the writers of one link: refresh write-back, revocation
// and re-authorization. Plain reads never take it.
func (s *CredentialStore) lockLink(ctx context.Context, workspaceID string, kind ServiceKind) (func(), error) {
	if s.writers == nil {
		return func() {}, nil
	}
	return s.writers.lock(ctx, refreshKey(workspaceID, kind))
}

// Put replaces any prior link for the pair in a single upsert.
func (s *CredentialStore) Put(ctx context.Context, workspaceID string, kind ServiceKind, envelope CredentialEnvelope) error {
	workspaceID, err := s.validateKey(workspaceID, kind)
	if err != nil {
		return err
	}
	payload, err := s.codec.Encode(workspaceID, kind, envelope)
	if err != nil {
		return err
	}
	link := Link{
		WorkspaceID:    workspaceID,
		Kind:           kind,
		PayloadFormat:  s.codec.Format(),
		PayloadVersion: s.codec.Version(),
	}
	if s.secrets != nil {
		payload, err = s.secrets.Encrypt(ctx, payload)
		if err != nil {
			return fmt.Errorf("core: encrypt credential envelope: %w", err)
		}
		if identified, ok := s.secrets.(KeyIdentifier); ok {
			link.EncryptionKeyID = strings.TrimSpace(identified.KeyID())
		}
	}
	link.Payload = payload
	if !envelope.ExpiresAt.IsZero() {
		expiresAt := envelope.ExpiresAt.UTC()
		link.ExpiresAt = &expiresAt
	}
	if _, err := s.links.Upsert(ctx, link); err != nil {
		return fmt.Errorf("core: persist credential link: %w", err)
	}
	return nil
}

// Get returns a copy of the stored envelope, or a NeedsAuthorization error
// when the pair has no link.
func (s *CredentialStore) Get(ctx context.Context, workspaceID string, kind ServiceKind) (CredentialEnvelope, error) {
	workspaceID, err := s.validateKey(workspaceID, kind)
	if err != nil {
		return CredentialEnvelope{}, err
	}
	link, err := s.links.Get(ctx, workspaceID, kind)
	if err != nil {
		if errors.Is(err, ErrLinkNotFound) {
			return CredentialEnvelope{}, NewNeedsAuthorizationError(workspaceID, kind)
		}
		return CredentialEnvelope{}, fmt.Errorf("core: load credential link: %w", err)
	}
	return s.decodeLink(ctx, link)
}

func (s *CredentialStore) Has(ctx context.Context, workspaceID string, kind ServiceKind) (bool, error) {
	_, err := s.Get(ctx, workspaceID, kind)
	if err != nil {
		if IsNeedsAuthorization(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Remove deletes the link if present; an absent link is not an error.
func (s *CredentialStore) Remove(ctx context.Context, workspaceID string, kind ServiceKind) error {
	workspaceID, err := s.validateKey(workspaceID, kind)
	if err != nil {
		return err
	}
	if err := s.links.Delete(ctx, workspaceID, kind); err != nil && !errors.Is(err, ErrLinkNotFound) {
		return fmt.Errorf("core: remove credential link: %w", err)
	}
	return nil
}

// ListForWorkspace reports every known kind with its presence flag. Token
// material is never decoded here.
func (s *CredentialStore) ListForWorkspace(ctx context.Context, workspaceID string) ([]LinkStatus, error) {
	if s == nil || s.links == nil {
		return nil, NewBadInputError("core: link store is required")
	}
	workspaceID = strings.TrimSpace(workspaceID)
	if workspaceID == "" {
		return nil, NewBadInputError("core: workspace id is required")
	}
	links, err := s.links.ListByWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("core: list credential links: %w", err)
	}
	byKind := make(map[ServiceKind]Link, len(links))
	for _, link := range links {
		byKind[link.Kind] = link
	}
	out := make([]LinkStatus, 0, len(ServiceKinds()))
	for _, kind := range ServiceKinds() {
		status := LinkStatus{Kind: kind}
		if link, ok := byKind[kind]; ok {
			updatedAt := link.UpdatedAt.UTC()
			status.Present = true
			status.UpdatedAt = &updatedAt
			status.ExpiresAt = cloneTimePointer(link.ExpiresAt)
		}
		out = append(out, status)
	}
	return out, nil
}

// Describe decodes the pair into a token-free status record.
func (s *CredentialStore) Describe(ctx context.Context, workspaceID string, kind ServiceKind) (CredentialStatus, error) {
	workspaceID, err := s.validateKey(workspaceID, kind)
	if err != nil {
		return CredentialStatus{}, err
	}
	link, err := s.links.Get(ctx, workspaceID, kind)
	if err != nil {
		if errors.Is(err, ErrLinkNotFound) {
			return CredentialStatus{Kind: kind}, nil
		}
		return CredentialStatus{}, fmt.Errorf("core: load credential link: %w", err)
	}
	envelope, err := s.decodeLink(ctx, link)
	if err != nil {
		return CredentialStatus{}, err
	}
	updatedAt := link.UpdatedAt.UTC()
	status := CredentialStatus{
		Kind:           kind,
		HasCredentials: true,
		Scopes:         append([]string(nil), envelope.Scopes...),
		UpdatedAt:      &updatedAt,
		Refreshable:    envelope.Refreshable(),
	}
	if !envelope.ExpiresAt.IsZero() {
		expiresAt := envelope.ExpiresAt.UTC()
		status.ExpiresAt = &expiresAt
	}
	return status, nil
}

func (s *CredentialStore) decodeLink(ctx context.Context, link Link) (CredentialEnvelope, error) {
	if format := strings.TrimSpace(link.PayloadFormat); format != "" && format != s.codec.Format() {
		return CredentialEnvelope{}, fmt.Errorf("core: unsupported credential payload format %q", format)
	}
	payload := link.Payload
	if s.secrets != nil {
		decrypted, err := s.secrets.Decrypt(ctx, payload)
		if err != nil {
			return CredentialEnvelope{}, fmt.Errorf("core: decrypt credential envelope: %w", err)
		}
		payload = decrypted
	}
	envelope, err := s.codec.Decode(payload)
	if err != nil {
		return CredentialEnvelope{}, err
	}
	return envelope.Clone(), nil
}

func (s *CredentialStore) validateKey(workspaceID string, kind ServiceKind) (string, error) {
	if s == nil || s.links == nil {
		return "", NewBadInputError("core: link store is required")
	}
	workspaceID = strings.TrimSpace(workspaceID)
	if workspaceID == "" {
		return "", NewBadInputError("core: workspace id is required")
	}
	if !kind.Valid() {
		return "", NewUnknownServiceKindError(string(kind))
	}
	return workspaceID, nil
}
