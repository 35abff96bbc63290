package google

import (
	"github.com/goliatone/go-credentials/core"
	"github.com/goliatone/go-credentials/providers/google/docs"
	"github.com/goliatone/go-credentials/providers/google/drive"
	"github.com/goliatone/go-credentials/providers/google/gmail"
)

// Descriptors returns the descriptor of every supported kind.
func Descriptors() []core.KindDescriptor {
	return []core.KindDescriptor{
		gmail.Descriptor(),
		drive.Descriptor(),
		docs.Descriptor(),
	}
}

func NewKindRegistry() (*core.KindRegistry, error) {
	return core.NewKindRegistry(Descriptors()...)
}
