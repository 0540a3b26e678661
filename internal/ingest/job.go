// Package ingest moves inbound protocol messages through a durable queue
// into the conversation store.
package ingest

import (
	"time"

	"github.com/google/uuid"

	"github.com/relaydesk/channel-server/internal/protocol"
)

// Job is one inbound message waiting to be persisted. Attempts counts worker
// processing attempts and is filled in on the copy recorded in a dead letter.
type Job struct {
	ID         string                  `json:"id"`
	ChannelID  string                  `json:"channelId"`
	TenantID   string                  `json:"tenantId"`
	Message    protocol.InboundMessage `json:"message"`
	Attempts   int                     `json:"attempts"`
	EnqueuedAt time.Time               `json:"enqueuedAt"`
}

func NewJob(channelID, tenantID string, msg protocol.InboundMessage) Job {
	return Job{
		ID:         uuid.NewString(),
		ChannelID:  channelID,
		TenantID:   tenantID,
		Message:    msg,
		EnqueuedAt: time.Now().UTC(),
	}
}
