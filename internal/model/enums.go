package model

type ConversationStatus string

const (
	ConversationStatusPending ConversationStatus = "PENDING"
	ConversationStatusOpen    ConversationStatus = "OPEN"
	ConversationStatusClosed  ConversationStatus = "CLOSED"
)

type MessageType string

const (
	MessageTypeText     MessageType = "TEXT"
	MessageTypeImage    MessageType = "IMAGE"
	MessageTypeVideo    MessageType = "VIDEO"
	MessageTypeAudio    MessageType = "AUDIO"
	MessageTypeDocument MessageType = "DOCUMENT"
	MessageTypeLocation MessageType = "LOCATION"
	MessageTypeContact  MessageType = "CONTACT"
	MessageTypeSticker  MessageType = "STICKER"
	MessageTypeReaction MessageType = "REACTION"
)

// IsMedia reports whether messages of this type carry an uploaded file.
func (t MessageType) IsMedia() bool {
	switch t {
	case MessageTypeImage, MessageTypeVideo, MessageTypeAudio, MessageTypeDocument, MessageTypeSticker:
		return true
	}
	return false
}

type SenderType string

const (
	SenderTypeUser    SenderType = "USER"
	SenderTypeContact SenderType = "CONTACT"
	SenderTypeSystem  SenderType = "SYSTEM"
)

type ProtocolType string

const ProtocolWhatsApp ProtocolType = "whatsapp"
