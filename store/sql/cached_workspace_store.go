package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-credentials/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const workspaceCacheKeyPrefix = "go-credentials::workspace::v1"

// CachedWorkspaceStore serves workspace lookups from a cache. The service
// never renames or deletes a workspace, so entries are filled and left to
// expire. A row removed or renamed outside the service is still served until
// its entry expires, which bounds staleness by the cache TTL. Not-found
// lookups are never cached.
type CachedWorkspaceStore struct {
	base  core.WorkspaceStore
	cache repositorycache.CacheService
}

func NewCachedWorkspaceStore(
	base core.WorkspaceStore,
	cacheService repositorycache.CacheService,
) (*CachedWorkspaceStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base workspace store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: workspace cache service is required")
	}
	return &CachedWorkspaceStore{base: base, cache: cacheService}, nil
}

// WorkspaceCacheKey returns go-credentials::workspace::v1::<field>::<value>
// with the value URL-path escaped.
func WorkspaceCacheKey(field string, value string) string {
	return strings.Join([]string{
		workspaceCacheKeyPrefix,
		strings.TrimSpace(field),
		url.PathEscape(strings.TrimSpace(value)),
	}, "::")
}

func (s *CachedWorkspaceStore) GetOrCreate(ctx context.Context, displayName string) (core.Workspace, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Workspace{}, fmt.Errorf("sqlstore: cached workspace store is not configured")
	}
	return repositorycache.GetOrFetch(ctx, s.cache, WorkspaceCacheKey("name", displayName), func(ctx context.Context) (core.Workspace, error) {
		return s.base.GetOrCreate(ctx, displayName)
	})
}

func (s *CachedWorkspaceStore) GetByDisplayName(ctx context.Context, displayName string) (core.Workspace, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Workspace{}, fmt.Errorf("sqlstore: cached workspace store is not configured")
	}
	return repositorycache.GetOrFetch(ctx, s.cache, WorkspaceCacheKey("name", displayName), func(ctx context.Context) (core.Workspace, error) {
		return s.base.GetByDisplayName(ctx, displayName)
	})
}

func (s *CachedWorkspaceStore) Get(ctx context.Context, id string) (core.Workspace, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Workspace{}, fmt.Errorf("sqlstore: cached workspace store is not configured")
	}
	return repositorycache.GetOrFetch(ctx, s.cache, WorkspaceCacheKey("id", id), func(ctx context.Context) (core.Workspace, error) {
		return s.base.Get(ctx, id)
	})
}

// List always reads through; the set grows as workspaces are created.
func (s *CachedWorkspaceStore) List(ctx context.Context) ([]core.Workspace, error) {
	if s == nil || s.base == nil {
		return nil, fmt.Errorf("sqlstore: cached workspace store is not configured")
	}
	return s.base.List(ctx)
}
