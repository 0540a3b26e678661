package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/relaydesk/channel-server/internal/model"
)

type CredentialRepository interface {
	Find(ctx context.Context, channelID string) (*model.ChannelCredential, error)
	Upsert(ctx context.Context, channelID, data string, version int) error
	Delete(ctx context.Context, channelID string) error
	// DeleteStale removes credentials of inactive channels untouched since
	// olderThan, skipping the channels listed in keep.
	DeleteStale(ctx context.Context, olderThan time.Time, keep []string) (int64, error)
}

type credentialRepo struct {
	db sqlxDB
}

func NewCredentialRepository(db *sqlx.DB) CredentialRepository {
	return &credentialRepo{db: db}
}

func (r *credentialRepo) Find(ctx context.Context, channelID string) (*model.ChannelCredential, error) {
	var cred model.ChannelCredential
	err := r.db.GetContext(ctx, &cred, `
		SELECT * FROM channel_credentials WHERE channel_id = $1
	`, channelID)
	return HandleNotFound(&cred, err)
}

func (r *credentialRepo) Upsert(ctx context.Context, channelID, data string, version int) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO channel_credentials (channel_id, data, version)
		VALUES ($1, $2, $3)
		ON CONFLICT (channel_id) DO UPDATE SET
			data = EXCLUDED.data,
			version = EXCLUDED.version,
			updated_at = NOW()
	`, channelID, data, version)
	return err
}

func (r *credentialRepo) Delete(ctx context.Context, channelID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM channel_credentials WHERE channel_id = $1`, channelID)
	return err
}

func (r *credentialRepo) DeleteStale(ctx context.Context, olderThan time.Time, keep []string) (int64, error) {
	if keep == nil {
		keep = []string{}
	}
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM channel_credentials cc
		USING channels c
		WHERE cc.channel_id = c.id
			AND c.active = FALSE
			AND cc.updated_at < $1
			AND NOT (cc.channel_id::text = ANY($2))
	`, olderThan, pq.Array(keep))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
