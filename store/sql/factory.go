package sqlstore

import (
	"fmt"

	"github.com/goliatone/go-credentials/core"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/uptrace/bun"
)

type RepositoryFactory struct {
	db    *bun.DB
	cache repositorycache.CacheService

	workspaceStore core.WorkspaceStore
	linkStore      *LinkStore
}

type FactoryOption func(*RepositoryFactory)

// WithWorkspaceCache puts workspace lookups behind the given cache service.
func WithWorkspaceCache(cacheService repositorycache.CacheService) FactoryOption {
	return func(f *RepositoryFactory) {
		f.cache = cacheService
	}
}

func NewRepositoryFactory(opts ...FactoryOption) *RepositoryFactory {
	factory := &RepositoryFactory{}
	for _, opt := range opts {
		if opt != nil {
			opt(factory)
		}
	}
	return factory
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) (core.StoreProvider, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.workspaceStore != nil && f.linkStore != nil {
		return f, nil
	}
	if err := f.initStores(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *RepositoryFactory) WorkspaceStore() core.WorkspaceStore {
	if f == nil {
		return nil
	}
	return f.workspaceStore
}

func (f *RepositoryFactory) LinkStore() core.LinkStore {
	if f == nil || f.linkStore == nil {
		return nil
	}
	return f.linkStore
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) initStores() error {
	workspaceStore, err := NewWorkspaceStore(f.db)
	if err != nil {
		return err
	}
	linkStore, err := NewLinkStore(f.db)
	if err != nil {
		return err
	}

	f.workspaceStore = workspaceStore
	if f.cache != nil {
		cached, cacheErr := NewCachedWorkspaceStore(workspaceStore, f.cache)
		if cacheErr != nil {
			return cacheErr
		}
		f.workspaceStore = cached
	}
	f.linkStore = linkStore
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
