package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/relaydesk/channel-server/internal/audit"
	"github.com/relaydesk/channel-server/internal/dispatch"
	apperrors "github.com/relaydesk/channel-server/internal/errors"
	"github.com/relaydesk/channel-server/internal/model"
	"github.com/relaydesk/channel-server/internal/repository"
	"github.com/relaydesk/channel-server/internal/sse"
	"github.com/relaydesk/channel-server/internal/util"
)

// SendParams is the API shape of an outbound message.
type SendParams struct {
	Type           model.MessageType `json:"type" validate:"required,oneof=TEXT IMAGE VIDEO AUDIO DOCUMENT LOCATION CONTACT STICKER REACTION"`
	Text           string            `json:"text,omitempty" validate:"max=65536"`
	MediaID        string            `json:"mediaId,omitempty" validate:"max=255"`
	Caption        string            `json:"caption,omitempty" validate:"max=4096"`
	FileName       string            `json:"fileName,omitempty" validate:"max=255"`
	Latitude       *float64          `json:"latitude,omitempty"`
	Longitude      *float64          `json:"longitude,omitempty"`
	LocationName   string            `json:"locationName,omitempty" validate:"max=255"`
	Address        string            `json:"address,omitempty" validate:"max=1024"`
	VCard          string            `json:"vcard,omitempty" validate:"max=16384"`
	DisplayName    string            `json:"displayName,omitempty" validate:"max=255"`
	Emoji          string            `json:"emoji,omitempty" validate:"max=64"`
	ReactionTarget string            `json:"reactionTargetId,omitempty" validate:"max=255"`
	QuoteMessageID string            `json:"quoteMessageId,omitempty" validate:"omitempty,uuid"`
}

type SendResponse struct {
	Message *model.Message       `json:"message,omitempty"`
	Result  *dispatch.SendResult `json:"result"`
}

type Sender interface {
	Send(ctx context.Context, channelID string, req dispatch.Request) (*dispatch.SendResult, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, tenantID string, event sse.Event) error
}

type OutboundService struct {
	conversations repository.ConversationRepository
	contacts      repository.ContactRepository
	messages      repository.MessageRepository
	sender        Sender
	events        EventPublisher
}

func NewOutboundService(
	conversations repository.ConversationRepository,
	contacts repository.ContactRepository,
	messages repository.MessageRepository,
	sender Sender,
	events EventPublisher,
) *OutboundService {
	return &OutboundService{
		conversations: conversations,
		contacts:      contacts,
		messages:      messages,
		sender:        sender,
		events:        events,
	}
}

// Send records and dispatches a message in a conversation. Reactions are
// dispatched without a record.
func (s *OutboundService) Send(ctx context.Context, tenantID, conversationID string, params SendParams) (*SendResponse, error) {
	conv, err := s.conversations.FindByID(ctx, conversationID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if conv == nil || conv.TenantID != tenantID {
		return nil, apperrors.NotFound("Conversation")
	}

	contact, err := s.contacts.FindByID(ctx, conv.ContactID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if contact == nil {
		return nil, apperrors.NotFound("Contact")
	}

	intent, err := BuildIntent(params)
	if err != nil {
		return nil, err
	}
	if err := intent.Validate(); err != nil {
		return nil, err
	}

	if reaction, ok := intent.(dispatch.Reaction); ok {
		return s.sendReaction(ctx, conv, contact, reaction)
	}

	if params.QuoteMessageID != "" {
		if err := s.checkQuote(ctx, conv.ID, params.QuoteMessageID); err != nil {
			return nil, err
		}
	}

	var mediaRef, quotedID *string
	if params.MediaID != "" {
		mediaRef = &params.MediaID
	}
	if params.QuoteMessageID != "" {
		quotedID = &params.QuoteMessageID
	}

	msg, _, err := s.messages.Create(ctx, model.CreateMessageParams{
		ConversationID:  conv.ID,
		Type:            intent.Type(),
		Content:         describeIntent(intent),
		MediaRef:        mediaRef,
		SenderType:      model.SenderTypeUser,
		QuotedMessageID: quotedID,
		Read:            true,
	})
	if err != nil {
		return nil, apperrors.Database(err)
	}

	result, err := s.sender.Send(ctx, conv.ChannelID, dispatch.Request{
		TenantID:       tenantID,
		To:             contact.ExternalKey,
		Intent:         intent,
		QuoteMessageID: params.QuoteMessageID,
	})
	if err != nil {
		log.Warn().
			Err(err).
			Str("messageId", msg.ID).
			Str("conversationId", conv.ID).
			Msg("outbound message not delivered")
		return nil, err
	}

	if result.ProviderMessageID != nil {
		updated, err := s.messages.SetProviderMessageID(ctx, msg.ID, *result.ProviderMessageID)
		if err != nil {
			log.Error().Err(err).Str("messageId", msg.ID).Msg("failed to store provider message id")
		} else if updated != nil {
			msg = updated
		}
	}

	if conv.Status == model.ConversationStatusPending {
		if err := s.conversations.UpdateStatus(ctx, conv.ID, model.ConversationStatusOpen); err != nil {
			log.Warn().Err(err).Str("conversationId", conv.ID).Msg("failed to open conversation")
		}
	}

	if err := s.events.Publish(ctx, tenantID, sse.Event{
		Type: sse.EventMessageUpdated,
		Data: msg.ToEventData(conv.ChannelID),
	}); err != nil {
		log.Warn().Err(err).Str("messageId", msg.ID).Msg("failed to publish message-updated event")
	}

	audit.Log(ctx, audit.Event{
		Type:      audit.EventMessageSent,
		TenantID:  tenantID,
		ChannelID: conv.ChannelID,
		Details: map[string]interface{}{
			"conversationId": conv.ID,
			"messageId":      msg.ID,
			"type":           string(msg.Type),
		},
	})

	return &SendResponse{Message: msg, Result: result}, nil
}

func (s *OutboundService) sendReaction(ctx context.Context, conv *model.Conversation, contact *model.Contact, reaction dispatch.Reaction) (*SendResponse, error) {
	target, err := s.messages.FindByProviderMessageID(ctx, conv.ID, reaction.TargetProviderID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if target != nil {
		reaction.TargetFromMe = target.SenderType != model.SenderTypeContact
	}

	result, err := s.sender.Send(ctx, conv.ChannelID, dispatch.Request{
		TenantID: conv.TenantID,
		To:       contact.ExternalKey,
		Intent:   reaction,
	})
	if err != nil {
		return nil, err
	}

	audit.Log(ctx, audit.Event{
		Type:      audit.EventReactionSent,
		TenantID:  conv.TenantID,
		ChannelID: conv.ChannelID,
		Details: map[string]interface{}{
			"conversationId": conv.ID,
			"target":         reaction.TargetProviderID,
		},
	})

	return &SendResponse{Result: result}, nil
}

func (s *OutboundService) checkQuote(ctx context.Context, conversationID, messageID string) error {
	if !util.IsValidUUID(messageID) {
		return apperrors.NotFound("Quoted message")
	}
	quoted, err := s.messages.FindByID(ctx, messageID)
	if err != nil {
		return apperrors.Database(err)
	}
	if quoted == nil || quoted.ConversationID != conversationID {
		return apperrors.NotFound("Quoted message")
	}
	if quoted.ProviderMessageID == nil || *quoted.ProviderMessageID == "" {
		return apperrors.QuoteNotReady()
	}
	return nil
}

// BuildIntent turns API params into a dispatch intent.
func BuildIntent(p SendParams) (dispatch.Intent, error) {
	switch p.Type {
	case model.MessageTypeText, "":
		return dispatch.Text{Body: p.Text}, nil
	case model.MessageTypeImage, model.MessageTypeVideo, model.MessageTypeAudio,
		model.MessageTypeDocument, model.MessageTypeSticker:
		return dispatch.Media{Kind: p.Type, MediaID: p.MediaID, Caption: p.Caption, FileName: p.FileName}, nil
	case model.MessageTypeLocation:
		return dispatch.Location{Latitude: p.Latitude, Longitude: p.Longitude, Name: p.LocationName, Address: p.Address}, nil
	case model.MessageTypeContact:
		return dispatch.ContactCard{DisplayName: p.DisplayName, VCard: p.VCard}, nil
	case model.MessageTypeReaction:
		return dispatch.Reaction{TargetProviderID: p.ReactionTarget, Emoji: p.Emoji}, nil
	}
	return nil, apperrors.InvalidInput("type", fmt.Sprintf("unknown message type %q", p.Type))
}

func describeIntent(intent dispatch.Intent) string {
	switch i := intent.(type) {
	case dispatch.Text:
		return i.Body
	case dispatch.Media:
		if i.Caption != "" {
			return i.Caption
		}
		return "[" + strings.ToUpper(string(i.Kind[:1])) + strings.ToLower(string(i.Kind[1:])) + "]"
	case dispatch.Location:
		if i.Name != "" {
			return i.Name
		}
		return "[Location]"
	case dispatch.ContactCard:
		if i.DisplayName != "" {
			return i.DisplayName
		}
		return "[Contact]"
	}
	return ""
}
