package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-credentials/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

type WorkspaceStore struct {
	db   *bun.DB
	repo repository.Repository[*workspaceRecord]
	now  func() time.Time
}

func NewWorkspaceStore(db *bun.DB) (*WorkspaceStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*workspaceRecord](db, workspaceHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid workspace repository wiring: %w", err)
		}
	}
	return &WorkspaceStore{
		db:   db,
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// GetOrCreate relies on the display_name unique index: concurrent callers
// race on the insert and all of them read back the winning row.
func (s *WorkspaceStore) GetOrCreate(ctx context.Context, displayName string) (core.Workspace, error) {
	if s == nil || s.db == nil {
		return core.Workspace{}, fmt.Errorf("sqlstore: workspace store is not configured")
	}
	name := strings.TrimSpace(displayName)
	if name == "" {
		return core.Workspace{}, fmt.Errorf("sqlstore: workspace display name is required")
	}

	var workspace core.Workspace
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record := newWorkspaceRecord(name, s.now())
		if _, insertErr := tx.NewInsert().
			Model(record).
			On("CONFLICT (display_name) DO NOTHING").
			Exec(ctx); insertErr != nil {
			return insertErr
		}
		stored, findErr := findWorkspaceTx(ctx, tx, "display_name", name)
		if findErr != nil {
			return findErr
		}
		workspace = stored.toDomain()
		return nil
	})
	if err != nil {
		return core.Workspace{}, err
	}
	return workspace, nil
}

func (s *WorkspaceStore) GetByDisplayName(ctx context.Context, displayName string) (core.Workspace, error) {
	if s == nil || s.db == nil {
		return core.Workspace{}, fmt.Errorf("sqlstore: workspace store is not configured")
	}
	record, err := findWorkspaceTx(ctx, s.db, "display_name", strings.TrimSpace(displayName))
	if err != nil {
		return core.Workspace{}, err
	}
	return record.toDomain(), nil
}

func (s *WorkspaceStore) Get(ctx context.Context, id string) (core.Workspace, error) {
	if s == nil || s.db == nil {
		return core.Workspace{}, fmt.Errorf("sqlstore: workspace store is not configured")
	}
	record, err := findWorkspaceTx(ctx, s.db, "id", strings.TrimSpace(id))
	if err != nil {
		return core.Workspace{}, err
	}
	return record.toDomain(), nil
}

func (s *WorkspaceStore) List(ctx context.Context) ([]core.Workspace, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: workspace store is not configured")
	}
	records, _, err := s.repo.List(ctx, repository.OrderBy("display_name ASC"))
	if err != nil {
		return nil, err
	}
	out := make([]core.Workspace, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func findWorkspaceTx(ctx context.Context, db bun.IDB, column string, value string) (*workspaceRecord, error) {
	record := &workspaceRecord{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.? = ?", bun.Ident(column), value).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %q", core.ErrWorkspaceNotFound, value)
		}
		return nil, err
	}
	return record, nil
}
