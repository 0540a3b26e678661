package ingest

import (
	"strings"

	"github.com/relaydesk/channel-server/internal/model"
	"github.com/relaydesk/channel-server/internal/protocol"
)

const unsupportedPlaceholder = "[Unsupported message]"

var placeholders = map[protocol.ContentKind]string{
	protocol.ContentImage:    "[Image]",
	protocol.ContentVideo:    "[Video]",
	protocol.ContentAudio:    "[Audio]",
	protocol.ContentDocument: "[Document]",
	protocol.ContentSticker:  "[Sticker]",
	protocol.ContentLocation: "[Location]",
	protocol.ContentContact:  "[Contact]",
}

var contentTypes = map[protocol.ContentKind]model.MessageType{
	protocol.ContentText:     model.MessageTypeText,
	protocol.ContentImage:    model.MessageTypeImage,
	protocol.ContentVideo:    model.MessageTypeVideo,
	protocol.ContentAudio:    model.MessageTypeAudio,
	protocol.ContentDocument: model.MessageTypeDocument,
	protocol.ContentSticker:  model.MessageTypeSticker,
	protocol.ContentLocation: model.MessageTypeLocation,
	protocol.ContentContact:  model.MessageTypeContact,
}

// describe maps inbound content to the stored message type and display text.
func describe(c protocol.Content) (model.MessageType, string) {
	msgType, ok := contentTypes[c.Kind]
	if !ok {
		return model.MessageTypeText, unsupportedPlaceholder
	}

	// Whitespace-only text counts as absent; anything else is stored as sent.
	if strings.TrimSpace(c.Text) != "" {
		return msgType, c.Text
	}
	if strings.TrimSpace(c.Caption) != "" {
		return msgType, c.Caption
	}
	if p, ok := placeholders[c.Kind]; ok {
		return msgType, p
	}
	return model.MessageTypeText, unsupportedPlaceholder
}
