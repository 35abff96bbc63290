package credentials

import (
	"fmt"

	credcommand "github.com/goliatone/go-credentials/command"
	credquery "github.com/goliatone/go-credentials/query"
)

// CommandQueryService is the surface behind the facade. *Service satisfies it.
type CommandQueryService interface {
	credcommand.MutatingService
	credquery.CredentialReader
	credquery.WorkspaceReader
}

type Commands struct {
	EnsureWorkspace  *credcommand.EnsureWorkspaceCommand
	Authorize        *credcommand.AuthorizeCommand
	CompleteCallback *credcommand.CompleteCallbackCommand
	Revoke           *credcommand.RevokeCommand
	Refresh          *credcommand.RefreshCommand
}

type Queries struct {
	GetValidCredential *credquery.GetValidCredentialQuery
	CredentialStatus   *credquery.CredentialStatusQuery
	HasCredential      *credquery.HasCredentialQuery
	GetWorkspace       *credquery.GetWorkspaceQuery
	ListWorkspaces     *credquery.ListWorkspacesQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

func NewFacade(service CommandQueryService) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("credentials: command/query service is required")
	}
	return &Facade{
		service: service,
		commands: Commands{
			EnsureWorkspace:  credcommand.NewEnsureWorkspaceCommand(service),
			Authorize:        credcommand.NewAuthorizeCommand(service),
			CompleteCallback: credcommand.NewCompleteCallbackCommand(service),
			Revoke:           credcommand.NewRevokeCommand(service),
			Refresh:          credcommand.NewRefreshCommand(service),
		},
		queries: Queries{
			GetValidCredential: credquery.NewGetValidCredentialQuery(service),
			CredentialStatus:   credquery.NewCredentialStatusQuery(service),
			HasCredential:      credquery.NewHasCredentialQuery(service),
			GetWorkspace:       credquery.NewGetWorkspaceQuery(service),
			ListWorkspaces:     credquery.NewListWorkspacesQuery(service),
		},
	}, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

var _ CommandQueryService = (*Service)(nil)
