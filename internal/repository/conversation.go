package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/relaydesk/channel-server/internal/model"
)

type ConversationRepository interface {
	FindByID(ctx context.Context, id string) (*model.Conversation, error)
	// FindActive returns the non-CLOSED conversation of the tuple, if any.
	FindActive(ctx context.Context, tenantID, channelID, contactID string) (*model.Conversation, error)
	// CreateIfAbsent inserts a conversation unless a non-CLOSED one already
	// exists for the tuple, in which case that one is returned.
	CreateIfAbsent(ctx context.Context, params model.CreateConversationParams) (*model.Conversation, bool, error)
	UpdateStatus(ctx context.Context, id string, status model.ConversationStatus) error
}

type conversationRepo struct {
	db sqlxDB
}

func NewConversationRepository(db *sqlx.DB) ConversationRepository {
	return &conversationRepo{db: db}
}

func (r *conversationRepo) FindByID(ctx context.Context, id string) (*model.Conversation, error) {
	var conv model.Conversation
	err := r.db.GetContext(ctx, &conv, `
		SELECT * FROM conversations WHERE id = $1
	`, id)
	return HandleNotFound(&conv, err)
}

func (r *conversationRepo) FindActive(ctx context.Context, tenantID, channelID, contactID string) (*model.Conversation, error) {
	var conv model.Conversation
	err := r.db.GetContext(ctx, &conv, `
		SELECT * FROM conversations
		WHERE tenant_id = $1 AND channel_id = $2 AND contact_id = $3 AND status <> 'CLOSED'
		ORDER BY created_at DESC
		LIMIT 1
	`, tenantID, channelID, contactID)
	return HandleNotFound(&conv, err)
}

func (r *conversationRepo) CreateIfAbsent(ctx context.Context, params model.CreateConversationParams) (*model.Conversation, bool, error) {
	status := params.Status
	if status == "" {
		status = model.ConversationStatusPending
	}

	var conv model.Conversation
	err := r.db.GetContext(ctx, &conv, `
		INSERT INTO conversations (tenant_id, channel_id, contact_id, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, channel_id, contact_id) WHERE status <> 'CLOSED' DO NOTHING
		RETURNING *
	`, params.TenantID, params.ChannelID, params.ContactID, status)
	if err == nil {
		return &conv, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) && !IsUniqueViolation(err) {
		return nil, false, err
	}

	existing, err := r.FindActive(ctx, params.TenantID, params.ChannelID, params.ContactID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, errors.New("conversation vanished after insert conflict")
	}
	return existing, false, nil
}

func (r *conversationRepo) UpdateStatus(ctx context.Context, id string, status model.ConversationStatus) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE conversations SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, status)
	return err
}
