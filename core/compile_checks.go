package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ WorkspaceStore    = (*MemoryWorkspaceStore)(nil)
	_ LinkStore         = (*MemoryLinkStore)(nil)
	_ CredentialService = (*Service)(nil)

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
