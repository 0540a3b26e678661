package model

import (
	"time"
)

type Conversation struct {
	ID         string             `db:"id" json:"id"`
	TenantID   string             `db:"tenant_id" json:"tenantId"`
	ChannelID  string             `db:"channel_id" json:"channelId"`
	ContactID  string             `db:"contact_id" json:"contactId"`
	Status     ConversationStatus `db:"status" json:"status"`
	AssigneeID *string            `db:"assignee_id" json:"assigneeId,omitempty"`
	CreatedAt  time.Time          `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time          `db:"updated_at" json:"updatedAt"`
}

type CreateConversationParams struct {
	TenantID  string
	ChannelID string
	ContactID string
	Status    ConversationStatus
}
