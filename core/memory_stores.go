package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryWorkspaceStore is a process-local WorkspaceStore.
type MemoryWorkspaceStore struct {
	mu     sync.Mutex
	byID   map[string]Workspace
	byName map[string]string
	Now    func() time.Time
}

func NewMemoryWorkspaceStore() *MemoryWorkspaceStore {
	return &MemoryWorkspaceStore{
		byID:   map[string]Workspace{},
		byName: map[string]string{},
		Now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryWorkspaceStore) GetOrCreate(_ context.Context, displayName string) (Workspace, error) {
	if s == nil {
		return Workspace{}, fmt.Errorf("core: workspace store is not configured")
	}
	name := strings.TrimSpace(displayName)
	if name == "" {
		return Workspace{}, fmt.Errorf("core: workspace display name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byName[name]; ok {
		return s.byID[id], nil
	}
	workspace := Workspace{
		ID:          uuid.NewString(),
		DisplayName: name,
		CreatedAt:   s.Now().UTC(),
	}
	s.byID[workspace.ID] = workspace
	s.byName[name] = workspace.ID
	return workspace, nil
}

func (s *MemoryWorkspaceStore) GetByDisplayName(_ context.Context, displayName string) (Workspace, error) {
	if s == nil {
		return Workspace{}, fmt.Errorf("core: workspace store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byName[strings.TrimSpace(displayName)]
	if !ok {
		return Workspace{}, fmt.Errorf("%w: %q", ErrWorkspaceNotFound, displayName)
	}
	return s.byID[id], nil
}

func (s *MemoryWorkspaceStore) Get(_ context.Context, id string) (Workspace, error) {
	if s == nil {
		return Workspace{}, fmt.Errorf("core: workspace store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	workspace, ok := s.byID[strings.TrimSpace(id)]
	if !ok {
		return Workspace{}, fmt.Errorf("%w: %q", ErrWorkspaceNotFound, id)
	}
	return workspace, nil
}

func (s *MemoryWorkspaceStore) List(_ context.Context) ([]Workspace, error) {
	if s == nil {
		return nil, fmt.Errorf("core: workspace store is not configured")
	}
	s.mu.Lock()
	out := make([]Workspace, 0, len(s.byID))
	for _, workspace := range s.byID {
		out = append(out, workspace)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayName < out[j].DisplayName })
	return out, nil
}

// MemoryLinkStore is a process-local LinkStore keyed by (workspace, kind).
type MemoryLinkStore struct {
	mu    sync.Mutex
	links map[string]Link
	Now   func() time.Time
}

func NewMemoryLinkStore() *MemoryLinkStore {
	return &MemoryLinkStore{
		links: map[string]Link{},
		Now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryLinkStore) Upsert(_ context.Context, link Link) (Link, error) {
	if s == nil {
		return Link{}, fmt.Errorf("core: link store is not configured")
	}
	link.WorkspaceID = strings.TrimSpace(link.WorkspaceID)
	if link.WorkspaceID == "" || !link.Kind.Valid() {
		return Link{}, fmt.Errorf("core: link workspace id and kind are required")
	}
	now := s.Now().UTC()
	key := linkKey(link.WorkspaceID, link.Kind)

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.links[key]; ok {
		link.CreatedAt = existing.CreatedAt
	} else {
		link.CreatedAt = now
	}
	link.UpdatedAt = now
	stored := cloneLink(link)
	s.links[key] = stored
	return cloneLink(stored), nil
}

func (s *MemoryLinkStore) Get(_ context.Context, workspaceID string, kind ServiceKind) (Link, error) {
	if s == nil {
		return Link{}, fmt.Errorf("core: link store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.links[linkKey(strings.TrimSpace(workspaceID), kind)]
	if !ok {
		return Link{}, fmt.Errorf("%w: %s/%s", ErrLinkNotFound, workspaceID, kind)
	}
	return cloneLink(link), nil
}

func (s *MemoryLinkStore) Delete(_ context.Context, workspaceID string, kind ServiceKind) error {
	if s == nil {
		return fmt.Errorf("core: link store is not configured")
	}
	s.mu.Lock()
	delete(s.links, linkKey(strings.TrimSpace(workspaceID), kind))
	s.mu.Unlock()
	return nil
}

func (s *MemoryLinkStore) ListByWorkspace(_ context.Context, workspaceID string) ([]Link, error) {
	if s == nil {
		return nil, fmt.Errorf("core: link store is not configured")
	}
	workspaceID = strings.TrimSpace(workspaceID)
	s.mu.Lock()
	out := make([]Link, 0, len(ServiceKinds()))
	for _, link := range s.links {
		if link.WorkspaceID == workspaceID {
			out = append(out, cloneLink(link))
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out, nil
}

func (s *MemoryLinkStore) ListExpiring(_ context.Context, before time.Time, limit int) ([]Link, error) {
	if s == nil {
		return nil, fmt.Errorf("core: link store is not configured")
	}
	s.mu.Lock()
	out := make([]Link, 0)
	for _, link := range s.links {
		if link.ExpiresAt != nil && link.ExpiresAt.Before(before) {
			out = append(out, cloneLink(link))
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(*out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryLinkStore) Len() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.links)
}

func linkKey(workspaceID string, kind ServiceKind) string {
	return workspaceID + "|" + string(kind)
}

func cloneLink(link Link) Link {
	cloned := link
	cloned.Payload = append([]byte(nil), link.Payload...)
	cloned.ExpiresAt = cloneTimePointer(link.ExpiresAt)
	return cloned
}

func cloneTimePointer(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	cloned := value.UTC()
	return &cloned
}
