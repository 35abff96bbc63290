package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-credentials/core"
)

// KeyRing encrypts with a primary key and decrypts with whichever key the
// envelope names, so stored links survive a key rotation.
type KeyRing struct {
	mu      sync.RWMutex
	primary string
	keys    map[string]*AppKeySecretProvider
	windows map[string]KeyRotationWindow
	now     func() time.Time
}

// KeyRotationWindow bounds when a key may seal or open link payloads. Zero
// bounds are open.
type KeyRotationWindow struct {
	NotBefore time.Time
	NotAfter  time.Time
}

func (w KeyRotationWindow) Allows(at time.Time) bool {
	ts := at.UTC()
	switch {
	case !w.NotBefore.IsZero() && ts.Before(w.NotBefore.UTC()):
		return false
	case !w.NotAfter.IsZero() && ts.After(w.NotAfter.UTC()):
		return false
	}
	return true
}

type KeyRingOption func(*KeyRing)

// WithRotationWindow limits when the named key may be used.
func WithRotationWindow(keyID string, window KeyRotationWindow) KeyRingOption {
	return func(ring *KeyRing) {
		ring.windows[strings.TrimSpace(keyID)] = window
	}
}

func WithKeyRingClock(now func() time.Time) KeyRingOption {
	return func(ring *KeyRing) {
		if now != nil {
			ring.now = now
		}
	}
}

// NewKeyRingFromSecrets builds a ring from raw secrets. Each key id is a
// fingerprint of its secret, so the same SECRET_KEY always maps to the same id.
func NewKeyRingFromSecrets(primary string, previous ...string) (*KeyRing, error) {
	primaryKey, err := NewAppKeySecretProviderFromString(primary, WithKeyID(KeyFingerprint(primary)))
	if err != nil {
		return nil, err
	}
	older := make([]*AppKeySecretProvider, 0, len(previous))
	for _, secret := range previous {
		if strings.TrimSpace(secret) == "" {
			continue
		}
		provider, err := NewAppKeySecretProviderFromString(secret, WithKeyID(KeyFingerprint(secret)))
		if err != nil {
			return nil, err
		}
		older = append(older, provider)
	}
	return NewKeyRing(primaryKey, older)
}

func KeyFingerprint(secret string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(secret)))
	return "key-" + hex.EncodeToString(sum[:6])
}

func NewKeyRing(primary *AppKeySecretProvider, previous []*AppKeySecretProvider, opts ...KeyRingOption) (*KeyRing, error) {
	if primary == nil {
		return nil, fmt.Errorf("security: primary key is required")
	}
	ring := &KeyRing{
		primary: primary.KeyID(),
		keys:    map[string]*AppKeySecretProvider{primary.KeyID(): primary},
		windows: map[string]KeyRotationWindow{},
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, provider := range previous {
		if provider == nil {
			continue
		}
		if _, exists := ring.keys[provider.KeyID()]; exists {
			return nil, fmt.Errorf("security: duplicate key id %q", provider.KeyID())
		}
		ring.keys[provider.KeyID()] = provider
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(ring)
	}
	return ring, nil
}

func (r *KeyRing) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("security: key ring is nil")
	}
	provider, err := r.usable(r.primary)
	if err != nil {
		return nil, err
	}
	return provider.Encrypt(ctx, plaintext)
}

func (r *KeyRing) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("security: key ring is nil")
	}
	metadata, err := ParseEnvelopeMetadata(ciphertext)
	if err != nil {
		return nil, err
	}
	keyID := metadata.KeyID
	if keyID == "" {
		keyID = r.primary
	}
	provider, err := r.usable(keyID)
	if err != nil {
		return nil, err
	}
	return provider.Decrypt(ctx, ciphertext)
}

// KeyID reports the key new payloads are sealed with.
func (r *KeyRing) KeyID() string {
	if r == nil {
		return ""
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.primary
}

// Rotate promotes a registered key to primary.
func (r *KeyRing) Rotate(keyID string) error {
	if r == nil {
		return fmt.Errorf("security: key ring is nil")
	}
	keyID = strings.TrimSpace(keyID)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.keys[keyID]; !ok {
		return fmt.Errorf("security: unknown key id %q", keyID)
	}
	r.primary = keyID
	return nil
}

func (r *KeyRing) usable(keyID string) (*AppKeySecretProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	provider, ok := r.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("security: unknown key id %q", keyID)
	}
	if window, limited := r.windows[keyID]; limited && !window.Allows(r.now()) {
		return nil, fmt.Errorf("security: key %q is outside its rotation window", keyID)
	}
	return provider, nil
}

var _ core.SecretProvider = (*KeyRing)(nil)
