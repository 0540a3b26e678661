package ingest

import (
	"context"
	"fmt"
	"mime"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relaydesk/channel-server/internal/audit"
	apperrors "github.com/relaydesk/channel-server/internal/errors"
	"github.com/relaydesk/channel-server/internal/model"
	"github.com/relaydesk/channel-server/internal/protocol"
	"github.com/relaydesk/channel-server/internal/repository"
	"github.com/relaydesk/channel-server/internal/sse"
	"github.com/relaydesk/channel-server/internal/storage"
)

const (
	unknownContactName = "Unknown"
	groupContactName   = "Group"
)

type SocketSource interface {
	LiveSocket(channelID string) (protocol.Socket, bool)
}

type FileStore interface {
	Fetch(ctx context.Context, url string) ([]byte, string, error)
	UploadFile(ctx context.Context, file storage.File, tenantID string, uploaderID *string) (*storage.StoredFile, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, tenantID string, event sse.Event) error
}

// Processor persists one inbound message: contact, conversation, message.
// Every step tolerates a concurrent worker doing the same.
type Processor struct {
	contacts       repository.ContactRepository
	conversations  repository.ConversationRepository
	messages       repository.MessageRepository
	sockets        SocketSource
	files          FileStore
	events         EventPublisher
	pictureTimeout time.Duration
}

func NewProcessor(
	contacts repository.ContactRepository,
	conversations repository.ConversationRepository,
	messages repository.MessageRepository,
	sockets SocketSource,
	files FileStore,
	events EventPublisher,
	pictureTimeout time.Duration,
) *Processor {
	return &Processor{
		contacts:       contacts,
		conversations:  conversations,
		messages:       messages,
		sockets:        sockets,
		files:          files,
		events:         events,
		pictureTimeout: pictureTimeout,
	}
}

func (p *Processor) Process(ctx context.Context, job Job) error {
	msg := job.Message

	if msg.Content.Kind == protocol.ContentReaction {
		log.Debug().
			Str("jobId", job.ID).
			Str("targetId", msg.Content.TargetID).
			Msg("inbound reaction not persisted")
		return nil
	}

	externalKey := protocol.NormalizeJID(msg.Key.RemoteJID)
	if externalKey == "" {
		return apperrors.MissingRequired("remoteJid")
	}
	if msg.Key.ID == "" {
		return apperrors.MissingRequired("message id")
	}

	contact, err := p.resolveContact(ctx, job, externalKey)
	if err != nil {
		return err
	}

	conv, _, err := p.conversations.CreateIfAbsent(ctx, model.CreateConversationParams{
		TenantID:  job.TenantID,
		ChannelID: job.ChannelID,
		ContactID: contact.ID,
		Status:    model.ConversationStatusPending,
	})
	if err != nil {
		return fmt.Errorf("resolve conversation: %w", err)
	}

	existing, err := p.messages.FindByProviderMessageID(ctx, conv.ID, msg.Key.ID)
	if err != nil {
		return fmt.Errorf("find message: %w", err)
	}
	if existing != nil {
		log.Debug().Str("jobId", job.ID).Str("messageId", msg.Key.ID).Msg("duplicate inbound message")
		return nil
	}

	msgType, content := describe(msg.Content)
	providerID := msg.Key.ID
	message, created, err := p.messages.Create(ctx, model.CreateMessageParams{
		ConversationID:    conv.ID,
		Type:              msgType,
		Content:           content,
		SenderType:        model.SenderTypeContact,
		ProviderMessageID: &providerID,
		Read:              false,
	})
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	if !created {
		log.Debug().Str("jobId", job.ID).Str("messageId", msg.Key.ID).Msg("duplicate inbound message")
		return nil
	}

	if err := p.events.Publish(ctx, job.TenantID, sse.Event{
		Type: sse.EventNewMessage,
		Data: message.ToEventData(job.ChannelID),
	}); err != nil {
		log.Warn().Err(err).Str("messageId", message.ID).Msg("failed to publish new-message event")
	}

	audit.Log(ctx, audit.Event{
		Type:      audit.EventMessageReceived,
		TenantID:  job.TenantID,
		ChannelID: job.ChannelID,
		Details: map[string]interface{}{
			"conversationId": conv.ID,
			"messageId":      message.ID,
			"type":           string(msgType),
		},
	})

	return nil
}

func (p *Processor) resolveContact(ctx context.Context, job Job, externalKey string) (*model.Contact, error) {
	contact, err := p.contacts.FindByExternalKey(ctx, job.TenantID, externalKey)
	if err != nil {
		return nil, fmt.Errorf("find contact: %w", err)
	}
	if contact != nil {
		return contact, nil
	}

	isGroup := protocol.IsGroupJID(externalKey)
	name := job.Message.PushName
	if name == "" {
		name = unknownContactName
		if isGroup {
			name = groupContactName
		}
	}

	contact, created, err := p.contacts.CreateIfAbsent(ctx, model.CreateContactParams{
		TenantID:    job.TenantID,
		ExternalKey: externalKey,
		Name:        name,
		IsGroup:     isGroup,
	})
	if err != nil {
		return nil, fmt.Errorf("create contact: %w", err)
	}

	if created {
		p.attachProfilePicture(ctx, job.ChannelID, contact)
	}
	return contact, nil
}

// attachProfilePicture copies the contact's avatar into storage. Any failure
// leaves the contact without a picture.
func (p *Processor) attachProfilePicture(ctx context.Context, channelID string, contact *model.Contact) {
	if p.sockets == nil || p.files == nil {
		return
	}
	socket, ok := p.sockets.LiveSocket(channelID)
	if !ok {
		return
	}

	pctx, cancel := context.WithTimeout(ctx, p.pictureTimeout)
	defer cancel()

	logger := log.With().Str("contactId", contact.ID).Logger()

	url, err := socket.ProfilePictureURL(pctx, contact.ExternalKey)
	if err != nil {
		logger.Debug().Err(err).Msg("no profile picture")
		return
	}

	data, contentType, err := p.files.Fetch(pctx, url)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to download profile picture")
		return
	}
	if contentType == "" {
		contentType = "image/jpeg"
	}

	name := "profile-" + contact.ID
	if exts, _ := mime.ExtensionsByType(contentType); len(exts) > 0 {
		name += exts[0]
	}

	stored, err := p.files.UploadFile(pctx, storage.File{
		Name:        name,
		ContentType: contentType,
		Data:        data,
	}, contact.TenantID, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to upload profile picture")
		return
	}

	if err := p.contacts.SetProfilePicture(ctx, contact.ID, stored.ID); err != nil {
		logger.Warn().Err(err).Msg("failed to save profile picture reference")
		return
	}
	contact.ProfilePictureRef = &stored.ID
}
