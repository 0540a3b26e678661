package model

import (
	"time"
)

type Channel struct {
	ID                 string       `db:"id" json:"id"`
	TenantID           string       `db:"tenant_id" json:"tenantId"`
	ProtocolType       ProtocolType `db:"protocol_type" json:"protocolType"`
	Name               string       `db:"name" json:"name"`
	ExternalIdentifier *string      `db:"external_identifier" json:"externalIdentifier,omitempty"`
	Active             bool         `db:"active" json:"active"`
	CreatedAt          time.Time    `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time    `db:"updated_at" json:"updatedAt"`
}
