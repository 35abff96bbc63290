package command

import (
	"context"
	"time"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-credentials/core"
)

type MutatingService interface {
	EnsureWorkspace(ctx context.Context, displayName string) (core.Workspace, error)
	Authorize(ctx context.Context, req core.AuthorizeRequest) (core.AuthorizationRequest, error)
	CompleteCallback(ctx context.Context, req core.CallbackRequest) (core.AuthorizationResult, error)
	Revoke(ctx context.Context, workspaceID string, kind core.ServiceKind) error
	RefreshCredential(
		ctx context.Context,
		workspaceID string,
		kind core.ServiceKind,
		margin time.Duration,
	) (core.CredentialEnvelope, error)
}

type EnsureWorkspaceCommand struct {
	service MutatingService
}

func NewEnsureWorkspaceCommand(service MutatingService) *EnsureWorkspaceCommand {
	return &EnsureWorkspaceCommand{service: service}
}

func (c *EnsureWorkspaceCommand) Execute(ctx context.Context, msg EnsureWorkspaceMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: workspace service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.service.EnsureWorkspace(ctx, msg.DisplayName)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type AuthorizeCommand struct {
	service MutatingService
}

func NewAuthorizeCommand(service MutatingService) *AuthorizeCommand {
	return &AuthorizeCommand{service: service}
}

func (c *AuthorizeCommand) Execute(ctx context.Context, msg AuthorizeMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: authorize service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.service.Authorize(ctx, msg.request())
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CompleteCallbackCommand struct {
	service MutatingService
}

func NewCompleteCallbackCommand(service MutatingService) *CompleteCallbackCommand {
	return &CompleteCallbackCommand{service: service}
}

func (c *CompleteCallbackCommand) Execute(ctx context.Context, msg CompleteCallbackMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: callback service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.service.CompleteCallback(ctx, msg.request())
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RevokeCommand struct {
	service MutatingService
}

func NewRevokeCommand(service MutatingService) *RevokeCommand {
	return &RevokeCommand{service: service}
}

func (c *RevokeCommand) Execute(ctx context.Context, msg RevokeMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: revoke service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	return c.service.Revoke(ctx, msg.WorkspaceID, msg.Kind)
}

type RefreshCommand struct {
	service MutatingService
}

func NewRefreshCommand(service MutatingService) *RefreshCommand {
	return &RefreshCommand{service: service}
}

func (c *RefreshCommand) Execute(ctx context.Context, msg RefreshMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: refresh service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.service.RefreshCredential(ctx, msg.WorkspaceID, msg.Kind, msg.Margin)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
