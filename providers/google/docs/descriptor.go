package docs

import (
	"github.com/goliatone/go-credentials/core"
	"github.com/goliatone/go-credentials/providers/google/common"
)

const ScopeDocuments = "https://www.googleapis.com/auth/documents"

func Descriptor() core.KindDescriptor {
	return common.Descriptor(core.ServiceKindDocs, ScopeDocuments)
}
