package core

import (
	"context"
	"errors"
	"strings"
)

const maxWorkspaceDisplayNameLength = 255

// WorkspaceRegistry maps tenant-facing display names onto stable workspace ids.
type WorkspaceRegistry struct {
	store WorkspaceStore
}

func NewWorkspaceRegistry(store WorkspaceStore) *WorkspaceRegistry {
	return &WorkspaceRegistry{store: store}
}

func (r *WorkspaceRegistry) GetOrCreate(ctx context.Context, displayName string) (Workspace, error) {
	name, err := normalizeDisplayName(displayName)
	if err != nil {
		return Workspace{}, err
	}
	if err := r.ready(); err != nil {
		return Workspace{}, err
	}
	return r.store.GetOrCreate(ctx, name)
}

func (r *WorkspaceRegistry) GetByDisplayName(ctx context.Context, displayName string) (Workspace, error) {
	name, err := normalizeDisplayName(displayName)
	if err != nil {
		return Workspace{}, err
	}
	if err := r.ready(); err != nil {
		return Workspace{}, err
	}
	workspace, err := r.store.GetByDisplayName(ctx, name)
	if err != nil {
		return Workspace{}, mapWorkspaceLookupError(err, name)
	}
	return workspace, nil
}

func (r *WorkspaceRegistry) Get(ctx context.Context, id string) (Workspace, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Workspace{}, NewBadInputError("core: workspace id is required")
	}
	if err := r.ready(); err != nil {
		return Workspace{}, err
	}
	workspace, err := r.store.Get(ctx, id)
	if err != nil {
		return Workspace{}, mapWorkspaceLookupError(err, id)
	}
	return workspace, nil
}

func (r *WorkspaceRegistry) List(ctx context.Context) ([]Workspace, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	return r.store.List(ctx)
}

func (r *WorkspaceRegistry) ready() error {
	if r == nil || r.store == nil {
		return NewBadInputError("core: workspace store is required")
	}
	return nil
}

func normalizeDisplayName(displayName string) (string, error) {
	name := strings.TrimSpace(displayName)
	if name == "" {
		return "", NewBadInputError("core: workspace display name is required")
	}
	if len(name) > maxWorkspaceDisplayNameLength {
		return "", NewBadInputError("core: workspace display name is too long")
	}
	return name, nil
}

func mapWorkspaceLookupError(err error, key string) error {
	if errors.Is(err, ErrWorkspaceNotFound) {
		return NewWorkspaceNotFoundError(key)
	}
	return err
}
