package sse

import (
	"encoding/json"
	"time"
)

const (
	EventQRReady        = "qr-ready"
	EventConnecting     = "connecting"
	EventConnected      = "connected"
	EventDisconnected   = "disconnected"
	EventReconnecting   = "reconnecting"
	EventNewMessage     = "new-message"
	EventMessageUpdated = "message-updated"
)

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ChannelEvent builds an event scoped to a channel. fields are merged into
// the payload next to channelId and timestamp.
func ChannelEvent(eventType, channelID string, fields map[string]any) Event {
	payload := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		payload[k] = v
	}
	payload["channelId"] = channelID
	payload["timestamp"] = time.Now().UnixMilli()

	data, _ := json.Marshal(payload)
	return Event{Type: eventType, Data: data}
}
