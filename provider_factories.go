package credentials

import (
	"github.com/goliatone/go-credentials/core"
	"github.com/goliatone/go-credentials/providers/google"
	"github.com/goliatone/go-credentials/providers/google/docs"
	"github.com/goliatone/go-credentials/providers/google/drive"
	"github.com/goliatone/go-credentials/providers/google/gmail"
)

func GmailDescriptor() core.KindDescriptor {
	return gmail.Descriptor()
}

func DriveDescriptor() core.KindDescriptor {
	return drive.Descriptor()
}

func DocsDescriptor() core.KindDescriptor {
	return docs.Descriptor()
}

// DefaultKindRegistry registers the Google endpoints for every service kind.
func DefaultKindRegistry() (*core.KindRegistry, error) {
	return google.NewKindRegistry()
}
