package gmail

import (
	"github.com/goliatone/go-credentials/core"
	"github.com/goliatone/go-credentials/providers/google/common"
)

const ScopeModify = "https://www.googleapis.com/auth/gmail.modify"

func Descriptor() core.KindDescriptor {
	return common.Descriptor(core.ServiceKindGmail, ScopeModify)
}
