package drive

import (
	"github.com/goliatone/go-credentials/core"
	"github.com/goliatone/go-credentials/providers/google/common"
)

// ScopeDrive grants full access to the files of the authorizing account.
const ScopeDrive = "https://www.googleapis.com/auth/drive"

func Descriptor() core.KindDescriptor {
	return common.Descriptor(core.ServiceKindDrive, ScopeDrive)
}
