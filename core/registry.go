package core

import (
	"fmt"
	"strings"
	"sync"
)

// KindRegistry maps each service kind onto its provider descriptor.
type KindRegistry struct {
	mu          sync.RWMutex
	descriptors map[ServiceKind]KindDescriptor
}

func NewKindRegistry(descriptors ...KindDescriptor) (*KindRegistry, error) {
	registry := &KindRegistry{descriptors: make(map[ServiceKind]KindDescriptor)}
	for _, descriptor := range descriptors {
		if err := registry.Register(descriptor); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func (r *KindRegistry) Register(descriptor KindDescriptor) error {
	if r == nil {
		return fmt.Errorf("core: kind registry is nil")
	}
	if !descriptor.Kind.Valid() {
		return NewUnknownServiceKindError(string(descriptor.Kind))
	}
	if strings.TrimSpace(descriptor.AuthURL) == "" || strings.TrimSpace(descriptor.TokenURL) == "" {
		return fmt.Errorf("core: descriptor for %s requires auth and token urls", descriptor.Kind)
	}
	descriptor.Scopes = NormalizeScopes(descriptor.Scopes)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.descriptors == nil {
		r.descriptors = make(map[ServiceKind]KindDescriptor)
	}
	if _, exists := r.descriptors[descriptor.Kind]; exists {
		return fmt.Errorf("core: descriptor already registered: %s", descriptor.Kind)
	}
	r.descriptors[descriptor.Kind] = descriptor
	return nil
}

func (r *KindRegistry) Get(kind ServiceKind) (KindDescriptor, bool) {
	if r == nil {
		return KindDescriptor{}, false
	}
	r.mu.RLock()
	descriptor, ok := r.descriptors[kind]
	r.mu.RUnlock()
	if !ok {
		return KindDescriptor{}, false
	}
	descriptor.Scopes = append([]string(nil), descriptor.Scopes...)
	return descriptor, true
}

// List returns registered descriptors in ServiceKinds order.
func (r *KindRegistry) List() []KindDescriptor {
	out := make([]KindDescriptor, 0, len(ServiceKinds()))
	for _, kind := range ServiceKinds() {
		if descriptor, ok := r.Get(kind); ok {
			out = append(out, descriptor)
		}
	}
	return out
}
