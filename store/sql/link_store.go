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

type LinkStore struct {
	db   *bun.DB
	repo repository.Repository[*linkRecord]
	now  func() time.Time
}

func NewLinkStore(db *bun.DB) (*LinkStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*linkRecord](db, linkHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid link repository wiring: %w", err)
		}
	}
	return &LinkStore{
		db:   db,
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// Upsert replaces the payload of the (workspace, kind) link in place. The
// row id and created_at of an existing link are kept.
func (s *LinkStore) Upsert(ctx context.Context, link core.Link) (core.Link, error) {
	if s == nil || s.db == nil {
		return core.Link{}, fmt.Errorf("sqlstore: link store is not configured")
	}
	link.WorkspaceID = strings.TrimSpace(link.WorkspaceID)
	if link.WorkspaceID == "" || !link.Kind.Valid() {
		return core.Link{}, fmt.Errorf("sqlstore: link workspace id and kind are required")
	}
	if len(link.Payload) == 0 {
		return core.Link{}, fmt.Errorf("sqlstore: link payload is required")
	}

	var stored core.Link
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record := newLinkRecord(link, s.now())
		if _, insertErr := tx.NewInsert().
			Model(record).
			On("CONFLICT (workspace_id, service_kind) DO UPDATE").
			Set("payload = EXCLUDED.payload").
			Set("payload_format = EXCLUDED.payload_format").
			Set("payload_version = EXCLUDED.payload_version").
			Set("encryption_key_id = EXCLUDED.encryption_key_id").
			Set("expires_at = EXCLUDED.expires_at").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(ctx); insertErr != nil {
			return insertErr
		}
		current, findErr := findLinkTx(ctx, tx, link.WorkspaceID, link.Kind)
		if findErr != nil {
			return findErr
		}
		stored = current.toDomain()
		return nil
	})
	if err != nil {
		return core.Link{}, err
	}
	return stored, nil
}

func (s *LinkStore) Get(ctx context.Context, workspaceID string, kind core.ServiceKind) (core.Link, error) {
	if s == nil || s.db == nil {
		return core.Link{}, fmt.Errorf("sqlstore: link store is not configured")
	}
	record, err := findLinkTx(ctx, s.db, strings.TrimSpace(workspaceID), kind)
	if err != nil {
		return core.Link{}, err
	}
	return record.toDomain(), nil
}

func (s *LinkStore) Delete(ctx context.Context, workspaceID string, kind core.ServiceKind) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: link store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*linkRecord)(nil)).
		Where("workspace_id = ?", strings.TrimSpace(workspaceID)).
		Where("service_kind = ?", kind.String()).
		Exec(ctx)
	return err
}

func (s *LinkStore) ListByWorkspace(ctx context.Context, workspaceID string) ([]core.Link, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: link store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("workspace_id", "=", strings.TrimSpace(workspaceID)),
		repository.OrderBy("service_kind ASC"),
	)
	if err != nil {
		return nil, err
	}
	return toDomainLinks(records), nil
}

func (s *LinkStore) ListExpiring(ctx context.Context, before time.Time, limit int) ([]core.Link, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: link store is not configured")
	}
	records := make([]*linkRecord, 0)
	query := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.expires_at IS NOT NULL").
		Where("?TableAlias.expires_at < ?", before.UTC()).
		OrderExpr("?TableAlias.expires_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Scan(ctx); err != nil {
		return nil, err
	}
	return toDomainLinks(records), nil
}

func findLinkTx(ctx context.Context, db bun.IDB, workspaceID string, kind core.ServiceKind) (*linkRecord, error) {
	record := &linkRecord{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.workspace_id = ?", workspaceID).
		Where("?TableAlias.service_kind = ?", kind.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s/%s", core.ErrLinkNotFound, workspaceID, kind)
		}
		return nil, err
	}
	return record, nil
}

func toDomainLinks(records []*linkRecord) []core.Link {
	out := make([]core.Link, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out
}
