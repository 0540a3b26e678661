package model

import (
	"encoding/json"
	"time"
)

type Message struct {
	ID                string      `db:"id" json:"id"`
	ConversationID    string      `db:"conversation_id" json:"conversationId"`
	Type              MessageType `db:"type" json:"type"`
	Content           string      `db:"content" json:"content"`
	MediaRef          *string     `db:"media_ref" json:"mediaRef,omitempty"`
	SenderType        SenderType  `db:"sender_type" json:"senderType"`
	ProviderMessageID *string     `db:"provider_message_id" json:"providerMessageId,omitempty"`
	QuotedMessageID   *string     `db:"quoted_message_id" json:"quotedMessageId,omitempty"`
	Read              bool        `db:"read" json:"read"`
	CreatedAt         time.Time   `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time   `db:"updated_at" json:"updatedAt"`
}

// ToEventData returns JSON data for new-message and message-updated events.
func (m *Message) ToEventData(channelID string) json.RawMessage {
	data, _ := json.Marshal(map[string]any{
		"channelId": channelID,
		"message":   m,
		"timestamp": time.Now().UnixMilli(),
	})
	return data
}

type CreateMessageParams struct {
	ConversationID    string
	Type              MessageType
	Content           string
	MediaRef          *string
	SenderType        SenderType
	ProviderMessageID *string
	QuotedMessageID   *string
	Read              bool
}
