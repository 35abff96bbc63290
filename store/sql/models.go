package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type workspaceRecord struct {
	bun.BaseModel `bun:"table:credential_workspaces,alias:cw"`

	ID          string    `bun:"id,pk"`
	DisplayName string    `bun:"display_name,notnull"`
	CreatedAt   time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type linkRecord struct {
	bun.BaseModel `bun:"table:credential_links,alias:cl"`

	ID              string     `bun:"id,pk"`
	WorkspaceID     string     `bun:"workspace_id,notnull"`
	ServiceKind     string     `bun:"service_kind,notnull"`
	Payload         []byte     `bun:"payload,notnull"`
	PayloadFormat   string     `bun:"payload_format,notnull"`
	PayloadVersion  int        `bun:"payload_version,notnull"`
	EncryptionKeyID string     `bun:"encryption_key_id,notnull"`
	ExpiresAt       *time.Time `bun:"expires_at,nullzero"`
	CreatedAt       time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt       time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
