package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/relaydesk/channel-server/internal/model"
)

type ChannelRepository interface {
	FindByID(ctx context.Context, id string) (*model.Channel, error)
	// FindRecoverable returns active channels that still hold credentials.
	FindRecoverable(ctx context.Context) ([]model.Channel, error)
	MarkConnected(ctx context.Context, id, externalIdentifier string) error
	Deactivate(ctx context.Context, id string) error
}

type channelRepo struct {
	db sqlxDB
}

func NewChannelRepository(db *sqlx.DB) ChannelRepository {
	return &channelRepo{db: db}
}

func (r *channelRepo) FindByID(ctx context.Context, id string) (*model.Channel, error) {
	var channel model.Channel
	err := r.db.GetContext(ctx, &channel, `
		SELECT * FROM channels WHERE id = $1
	`, id)
	return HandleNotFound(&channel, err)
}

func (r *channelRepo) FindRecoverable(ctx context.Context) ([]model.Channel, error) {
	var channels []model.Channel
	err := r.db.SelectContext(ctx, &channels, `
		SELECT c.* FROM channels c
		JOIN channel_credentials cc ON cc.channel_id = c.id
		WHERE c.active = TRUE
		ORDER BY c.updated_at DESC
	`)
	if err != nil {
		return nil, err
	}
	return channels, nil
}

func (r *channelRepo) MarkConnected(ctx context.Context, id, externalIdentifier string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE channels SET
			external_identifier = $2,
			active = TRUE,
			updated_at = NOW()
		WHERE id = $1
	`, id, externalIdentifier)
	return err
}

func (r *channelRepo) Deactivate(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE channels SET active = FALSE, updated_at = NOW() WHERE id = $1
	`, id)
	return err
}
