package query

import (
	"context"
	"strings"

	"github.com/goliatone/go-credentials/core"
)

type CredentialReader interface {
	GetValidCredential(ctx context.Context, workspaceID string, kind core.ServiceKind) (core.CredentialEnvelope, error)
	HasCredential(ctx context.Context, workspaceID string, kind core.ServiceKind) (bool, error)
	CredentialStatus(ctx context.Context, workspaceID string) ([]core.CredentialStatus, error)
	CredentialStatusFor(ctx context.Context, workspaceID string, kind core.ServiceKind) (core.CredentialStatus, error)
}

type WorkspaceReader interface {
	GetWorkspace(ctx context.Context, displayName string) (core.Workspace, error)
	GetWorkspaceByID(ctx context.Context, id string) (core.Workspace, error)
	ListWorkspaces(ctx context.Context) ([]core.Workspace, error)
}

type GetValidCredentialQuery struct {
	reader CredentialReader
}

func NewGetValidCredentialQuery(reader CredentialReader) *GetValidCredentialQuery {
	return &GetValidCredentialQuery{reader: reader}
}

func (q *GetValidCredentialQuery) Query(ctx context.Context, msg GetValidCredentialMessage) (core.CredentialEnvelope, error) {
	if q == nil || q.reader == nil {
		return core.CredentialEnvelope{}, queryDependencyError("query: credential reader is required")
	}
	if err := msg.Validate(); err != nil {
		return core.CredentialEnvelope{}, err
	}
	return q.reader.GetValidCredential(ctx, msg.WorkspaceID, msg.Kind)
}

type CredentialStatusQuery struct {
	reader CredentialReader
}

func NewCredentialStatusQuery(reader CredentialReader) *CredentialStatusQuery {
	return &CredentialStatusQuery{reader: reader}
}

func (q *CredentialStatusQuery) Query(ctx context.Context, msg CredentialStatusMessage) ([]core.CredentialStatus, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: credential reader is required")
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	if msg.Kind == "" {
		return q.reader.CredentialStatus(ctx, msg.WorkspaceID)
	}
	status, err := q.reader.CredentialStatusFor(ctx, msg.WorkspaceID, msg.Kind)
	if err != nil {
		return nil, err
	}
	return []core.CredentialStatus{status}, nil
}

type HasCredentialQuery struct {
	reader CredentialReader
}

func NewHasCredentialQuery(reader CredentialReader) *HasCredentialQuery {
	return &HasCredentialQuery{reader: reader}
}

func (q *HasCredentialQuery) Query(ctx context.Context, msg HasCredentialMessage) (bool, error) {
	if q == nil || q.reader == nil {
		return false, queryDependencyError("query: credential reader is required")
	}
	if err := msg.Validate(); err != nil {
		return false, err
	}
	return q.reader.HasCredential(ctx, msg.WorkspaceID, msg.Kind)
}

type GetWorkspaceQuery struct {
	reader WorkspaceReader
}

func NewGetWorkspaceQuery(reader WorkspaceReader) *GetWorkspaceQuery {
	return &GetWorkspaceQuery{reader: reader}
}

func (q *GetWorkspaceQuery) Query(ctx context.Context, msg GetWorkspaceMessage) (core.Workspace, error) {
	if q == nil || q.reader == nil {
		return core.Workspace{}, queryDependencyError("query: workspace reader is required")
	}
	if err := msg.Validate(); err != nil {
		return core.Workspace{}, err
	}
	if id := strings.TrimSpace(msg.WorkspaceID); id != "" {
		return q.reader.GetWorkspaceByID(ctx, id)
	}
	return q.reader.GetWorkspace(ctx, msg.DisplayName)
}

type ListWorkspacesQuery struct {
	reader WorkspaceReader
}

func NewListWorkspacesQuery(reader WorkspaceReader) *ListWorkspacesQuery {
	return &ListWorkspacesQuery{reader: reader}
}

func (q *ListWorkspacesQuery) Query(ctx context.Context, _ ListWorkspacesMessage) ([]core.Workspace, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: workspace reader is required")
	}
	return q.reader.ListWorkspaces(ctx)
}
