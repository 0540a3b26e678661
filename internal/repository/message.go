package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/relaydesk/channel-server/internal/model"
)

type MessageRepository interface {
	FindByID(ctx context.Context, id string) (*model.Message, error)
	FindByProviderMessageID(ctx context.Context, conversationID, providerMessageID string) (*model.Message, error)
	// Create inserts the message. When another row already carries the same
	// provider message id in the conversation, that row is returned and the
	// bool is false.
	Create(ctx context.Context, params model.CreateMessageParams) (*model.Message, bool, error)
	SetProviderMessageID(ctx context.Context, id, providerMessageID string) (*model.Message, error)
}

type messageRepo struct {
	db sqlxDB
}

func NewMessageRepository(db *sqlx.DB) MessageRepository {
	return &messageRepo{db: db}
}

func (r *messageRepo) FindByID(ctx context.Context, id string) (*model.Message, error) {
	var msg model.Message
	err := r.db.GetContext(ctx, &msg, `
		SELECT * FROM messages WHERE id = $1
	`, id)
	return HandleNotFound(&msg, err)
}

func (r *messageRepo) FindByProviderMessageID(ctx context.Context, conversationID, providerMessageID string) (*model.Message, error) {
	var msg model.Message
	err := r.db.GetContext(ctx, &msg, `
		SELECT * FROM messages WHERE conversation_id = $1 AND provider_message_id = $2
	`, conversationID, providerMessageID)
	return HandleNotFound(&msg, err)
}

func (r *messageRepo) Create(ctx context.Context, params model.CreateMessageParams) (*model.Message, bool, error) {
	if params.Type == model.MessageTypeReaction {
		return nil, false, errors.New("reactions are not persisted")
	}

	var msg model.Message
	err := r.db.GetContext(ctx, &msg, `
		INSERT INTO messages
			(conversation_id, type, content, media_ref, sender_type, provider_message_id, quoted_message_id, read)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (conversation_id, provider_message_id) WHERE provider_message_id IS NOT NULL DO NOTHING
		RETURNING *
	`, params.ConversationID, params.Type, params.Content, params.MediaRef, params.SenderType,
		params.ProviderMessageID, params.QuotedMessageID, params.Read)
	if err == nil {
		return &msg, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) || params.ProviderMessageID == nil {
		return nil, false, err
	}

	existing, err := r.FindByProviderMessageID(ctx, params.ConversationID, *params.ProviderMessageID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *messageRepo) SetProviderMessageID(ctx context.Context, id, providerMessageID string) (*model.Message, error) {
	var msg model.Message
	err := r.db.GetContext(ctx, &msg, `
		UPDATE messages SET provider_message_id = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING *
	`, id, providerMessageID)
	return HandleNotFound(&msg, err)
}
