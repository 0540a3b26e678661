package model

import (
	"time"
)

// ChannelCredential is the persisted authentication material of one channel.
// Data holds the encoded (and optionally encrypted) credential blob.
type ChannelCredential struct {
	ChannelID string    `db:"channel_id" json:"channelId"`
	Data      string    `db:"data" json:"-"`
	Version   int       `db:"version" json:"version"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}
