package command

import (
	"strings"
	"time"

	"github.com/goliatone/go-credentials/core"
)

const (
	TypeEnsureWorkspace  = "credentials.command.workspace.ensure"
	TypeAuthorize        = "credentials.command.authorize"
	TypeCompleteCallback = "credentials.command.callback.complete"
	TypeRevoke           = "credentials.command.revoke"
	TypeRefresh          = "credentials.command.refresh"
)

type EnsureWorkspaceMessage struct {
	DisplayName string
}

func (EnsureWorkspaceMessage) Type() string { return TypeEnsureWorkspace }

func (m EnsureWorkspaceMessage) Validate() error {
	if strings.TrimSpace(m.DisplayName) == "" {
		return commandValidationError("display_name", "display name is required")
	}
	return nil
}

// AuthorizeMessage names the workspace by id or, when the id is empty, by
// display name.
type AuthorizeMessage struct {
	WorkspaceID string
	DisplayName string
	Kind        core.ServiceKind
}

func (AuthorizeMessage) Type() string { return TypeAuthorize }

func (m AuthorizeMessage) Validate() error {
	if strings.TrimSpace(m.WorkspaceID) == "" && strings.TrimSpace(m.DisplayName) == "" {
		return commandValidationError("workspace", "workspace id or display name is required")
	}
	return validateKind(m.Kind)
}

func (m AuthorizeMessage) request() core.AuthorizeRequest {
	return core.AuthorizeRequest{
		WorkspaceID: strings.TrimSpace(m.WorkspaceID),
		DisplayName: strings.TrimSpace(m.DisplayName),
		Kind:        m.Kind,
	}
}

type CompleteCallbackMessage struct {
	Code  string
	State string
	Error string
}

func (CompleteCallbackMessage) Type() string { return TypeCompleteCallback }

func (m CompleteCallbackMessage) Validate() error {
	if strings.TrimSpace(m.State) == "" {
		return commandValidationError("state", "state is required")
	}
	if strings.TrimSpace(m.Code) == "" && strings.TrimSpace(m.Error) == "" {
		return commandValidationError("code", "code is required")
	}
	return nil
}

func (m CompleteCallbackMessage) request() core.CallbackRequest {
	return core.CallbackRequest{Code: m.Code, State: m.State, Error: m.Error}
}

type RevokeMessage struct {
	WorkspaceID string
	Kind        core.ServiceKind
}

func (RevokeMessage) Type() string { return TypeRevoke }

func (m RevokeMessage) Validate() error {
	if err := validateWorkspaceID(m.WorkspaceID); err != nil {
		return err
	}
	return validateKind(m.Kind)
}

// RefreshMessage renews the link when it expires within Margin. A zero
// margin uses the service safety margin.
type RefreshMessage struct {
	WorkspaceID string
	Kind        core.ServiceKind
	Margin      time.Duration
}

func (RefreshMessage) Type() string { return TypeRefresh }

func (m RefreshMessage) Validate() error {
	if err := validateWorkspaceID(m.WorkspaceID); err != nil {
		return err
	}
	if m.Margin < 0 {
		return commandValidationError("margin", "margin must not be negative")
	}
	return validateKind(m.Kind)
}

func validateWorkspaceID(workspaceID string) error {
	if strings.TrimSpace(workspaceID) == "" {
		return commandValidationError("workspace_id", "workspace id is required")
	}
	return nil
}

func validateKind(kind core.ServiceKind) error {
	if !kind.Valid() {
		return commandValidationError("service_kind", "service kind must be one of gmail, drive, docs")
	}
	return nil
}
