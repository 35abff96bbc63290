package query

import (
	"strings"

	"github.com/goliatone/go-credentials/core"
)

const (
	TypeGetValidCredential = "credentials.query.credential.valid"
	TypeCredentialStatus   = "credentials.query.credential.status"
	TypeHasCredential      = "credentials.query.credential.has"
	TypeGetWorkspace       = "credentials.query.workspace.get"
	TypeListWorkspaces     = "credentials.query.workspace.list"
)

type GetValidCredentialMessage struct {
	WorkspaceID string
	Kind        core.ServiceKind
}

func (GetValidCredentialMessage) Type() string { return TypeGetValidCredential }

func (m GetValidCredentialMessage) Validate() error {
	return validateLinkKey(m.WorkspaceID, m.Kind)
}

// CredentialStatusMessage reports every kind of the workspace unless Kind
// narrows it to one.
type CredentialStatusMessage struct {
	WorkspaceID string
	Kind        core.ServiceKind
}

func (CredentialStatusMessage) Type() string { return TypeCredentialStatus }

func (m CredentialStatusMessage) Validate() error {
	if m.Kind == "" {
		return validateWorkspaceID(m.WorkspaceID)
	}
	return validateLinkKey(m.WorkspaceID, m.Kind)
}

type HasCredentialMessage struct {
	WorkspaceID string
	Kind        core.ServiceKind
}

func (HasCredentialMessage) Type() string { return TypeHasCredential }

func (m HasCredentialMessage) Validate() error {
	return validateLinkKey(m.WorkspaceID, m.Kind)
}

// GetWorkspaceMessage looks a workspace up by id or, when the id is empty,
// by display name.
type GetWorkspaceMessage struct {
	WorkspaceID string
	DisplayName string
}

func (GetWorkspaceMessage) Type() string { return TypeGetWorkspace }

func (m GetWorkspaceMessage) Validate() error {
	if strings.TrimSpace(m.WorkspaceID) == "" && strings.TrimSpace(m.DisplayName) == "" {
		return queryValidationError("workspace", "workspace id or display name is required")
	}
	return nil
}

type ListWorkspacesMessage struct{}

func (ListWorkspacesMessage) Type() string { return TypeListWorkspaces }

func (ListWorkspacesMessage) Validate() error { return nil }

func validateLinkKey(workspaceID string, kind core.ServiceKind) error {
	if err := validateWorkspaceID(workspaceID); err != nil {
		return err
	}
	if !kind.Valid() {
		return queryValidationError("service_kind", "service kind must be one of gmail, drive, docs")
	}
	return nil
}

func validateWorkspaceID(workspaceID string) error {
	if strings.TrimSpace(workspaceID) == "" {
		return queryValidationError("workspace_id", "workspace id is required")
	}
	return nil
}
