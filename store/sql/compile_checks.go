package sqlstore

import "github.com/goliatone/go-credentials/core"

var (
	_ core.WorkspaceStore         = (*WorkspaceStore)(nil)
	_ core.WorkspaceStore         = (*CachedWorkspaceStore)(nil)
	_ core.LinkStore              = (*LinkStore)(nil)
	_ core.StoreProvider          = (*RepositoryFactory)(nil)
	_ core.RepositoryStoreFactory = (*RepositoryFactory)(nil)
)
