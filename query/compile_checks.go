package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-credentials/core"
)

var (
	_ gocmd.Querier[GetValidCredentialMessage, core.CredentialEnvelope] = (*GetValidCredentialQuery)(nil)
	_ gocmd.Querier[CredentialStatusMessage, []core.CredentialStatus]   = (*CredentialStatusQuery)(nil)
	_ gocmd.Querier[HasCredentialMessage, bool]                         = (*HasCredentialQuery)(nil)
	_ gocmd.Querier[GetWorkspaceMessage, core.Workspace]                = (*GetWorkspaceQuery)(nil)
	_ gocmd.Querier[ListWorkspacesMessage, []core.Workspace]            = (*ListWorkspacesQuery)(nil)
)
