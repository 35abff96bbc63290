package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

func workspaceHandlers() repository.ModelHandlers[*workspaceRecord] {
	return repository.ModelHandlers[*workspaceRecord]{
		NewRecord: func() *workspaceRecord {
			return &workspaceRecord{}
		},
		GetID: func(record *workspaceRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *workspaceRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "display_name"
		},
		GetIdentifierValue: func(record *workspaceRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.DisplayName)
		},
	}
}

func linkHandlers() repository.ModelHandlers[*linkRecord] {
	return repository.ModelHandlers[*linkRecord]{
		NewRecord: func() *linkRecord {
			return &linkRecord{}
		},
		GetID: func(record *linkRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *linkRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *linkRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}
