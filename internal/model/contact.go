package model

import (
	"encoding/json"
	"time"
)

type Contact struct {
	ID                string           `db:"id" json:"id"`
	TenantID          string           `db:"tenant_id" json:"tenantId"`
	ExternalKey       string           `db:"external_key" json:"externalKey"`
	Name              string           `db:"name" json:"name"`
	ProfilePictureRef *string          `db:"profile_picture_ref" json:"profilePictureRef,omitempty"`
	IsGroup           bool             `db:"is_group" json:"isGroup"`
	Metadata          *json.RawMessage `db:"metadata" json:"metadata,omitempty"`
	CreatedAt         time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time        `db:"updated_at" json:"updatedAt"`
}

type CreateContactParams struct {
	TenantID    string
	ExternalKey string
	Name        string
	IsGroup     bool
}
