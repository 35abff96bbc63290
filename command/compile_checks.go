package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[EnsureWorkspaceMessage]  = (*EnsureWorkspaceCommand)(nil)
	_ gocmd.Commander[AuthorizeMessage]        = (*AuthorizeCommand)(nil)
	_ gocmd.Commander[CompleteCallbackMessage] = (*CompleteCallbackCommand)(nil)
	_ gocmd.Commander[RevokeMessage]           = (*RevokeCommand)(nil)
	_ gocmd.Commander[RefreshMessage]          = (*RefreshCommand)(nil)
)
