package sqlstore

import (
	"time"

	"github.com/goliatone/go-credentials/core"
	"github.com/google/uuid"
)

func newWorkspaceRecord(displayName string, now time.Time) *workspaceRecord {
	return &workspaceRecord{
		ID:          uuid.NewString(),
		DisplayName: displayName,
		CreatedAt:   now,
	}
}

func (r *workspaceRecord) toDomain() core.Workspace {
	if r == nil {
		return core.Workspace{}
	}
	return core.Workspace{
		ID:          r.ID,
		DisplayName: r.DisplayName,
		CreatedAt:   r.CreatedAt.UTC(),
	}
}

func newLinkRecord(link core.Link, now time.Time) *linkRecord {
	return &linkRecord{
		ID:              uuid.NewString(),
		WorkspaceID:     link.WorkspaceID,
		ServiceKind:     link.Kind.String(),
		Payload:         append([]byte(nil), link.Payload...),
		PayloadFormat:   link.PayloadFormat,
		PayloadVersion:  link.PayloadVersion,
		EncryptionKeyID: link.EncryptionKeyID,
		ExpiresAt:       copyTimePointer(link.ExpiresAt),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func (r *linkRecord) toDomain() core.Link {
	if r == nil {
		return core.Link{}
	}
	return core.Link{
		WorkspaceID:     r.WorkspaceID,
		Kind:            core.ServiceKind(r.ServiceKind),
		Payload:         append([]byte(nil), r.Payload...),
		PayloadFormat:   r.PayloadFormat,
		PayloadVersion:  r.PayloadVersion,
		EncryptionKeyID: r.EncryptionKeyID,
		ExpiresAt:       copyTimePointer(r.ExpiresAt),
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
}

func copyTimePointer(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	value := input.UTC()
	return &value
}
