package protocol

import (
	"time"
)

// MessageKey identifies a message on the wire.
type MessageKey struct {
	RemoteJID   string `json:"remoteJid"`
	FromMe      bool   `json:"fromMe"`
	ID          string `json:"id"`
	Participant string `json:"participant,omitempty"`
}

// InboundMessage is a message event received from the protocol.
type InboundMessage struct {
	Key       MessageKey `json:"key"`
	PushName  string     `json:"pushName,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	Content   Content    `json:"content"`
}

type ContentKind string

const (
	ContentText     ContentKind = "text"
	ContentImage    ContentKind = "image"
	ContentVideo    ContentKind = "video"
	ContentAudio    ContentKind = "audio"
	ContentDocument ContentKind = "document"
	ContentSticker  ContentKind = "sticker"
	ContentLocation ContentKind = "location"
	ContentContact  ContentKind = "contact"
	ContentReaction ContentKind = "reaction"
	ContentUnknown  ContentKind = "unknown"
)

// Content is the decoded body of an inbound message. Only the fields that
// belong to Kind are set.
type Content struct {
	Kind        ContentKind `json:"kind"`
	Text        string      `json:"text,omitempty"`
	Caption     string      `json:"caption,omitempty"`
	FileName    string      `json:"fileName,omitempty"`
	MimeType    string      `json:"mimeType,omitempty"`
	Latitude    float64     `json:"latitude,omitempty"`
	Longitude   float64     `json:"longitude,omitempty"`
	DisplayName string      `json:"displayName,omitempty"`
	VCard       string      `json:"vcard,omitempty"`
	Emoji       string      `json:"emoji,omitempty"`
	TargetID    string      `json:"targetId,omitempty"`
}
