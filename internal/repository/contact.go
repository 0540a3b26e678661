package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/relaydesk/channel-server/internal/model"
)

type ContactRepository interface {
	FindByID(ctx context.Context, id string) (*model.Contact, error)
	FindByExternalKey(ctx context.Context, tenantID, externalKey string) (*model.Contact, error)
	// CreateIfAbsent inserts the contact unless one already exists for
	// (tenantID, externalKey). The returned bool is true when this call
	// created the row.
	CreateIfAbsent(ctx context.Context, params model.CreateContactParams) (*model.Contact, bool, error)
	SetProfilePicture(ctx context.Context, id, ref string) error
}

type contactRepo struct {
	db sqlxDB
}

func NewContactRepository(db *sqlx.DB) ContactRepository {
	return &contactRepo{db: db}
}

func (r *contactRepo) FindByID(ctx context.Context, id string) (*model.Contact, error) {
	var contact model.Contact
	err := r.db.GetContext(ctx, &contact, `
		SELECT * FROM contacts WHERE id = $1
	`, id)
	return HandleNotFound(&contact, err)
}

func (r *contactRepo) FindByExternalKey(ctx context.Context, tenantID, externalKey string) (*model.Contact, error) {
	var contact model.Contact
	err := r.db.GetContext(ctx, &contact, `
		SELECT * FROM contacts WHERE tenant_id = $1 AND external_key = $2
	`, tenantID, externalKey)
	return HandleNotFound(&contact, err)
}

func (r *contactRepo) CreateIfAbsent(ctx context.Context, params model.CreateContactParams) (*model.Contact, bool, error) {
	var contact model.Contact
	err := r.db.GetContext(ctx, &contact, `
		INSERT INTO contacts (tenant_id, external_key, name, is_group)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, external_key) DO NOTHING
		RETURNING *
	`, params.TenantID, params.ExternalKey, params.Name, params.IsGroup)
	if err == nil {
		return &contact, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}

	existing, err := r.FindByExternalKey(ctx, params.TenantID, params.ExternalKey)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, errors.New("contact vanished after insert conflict")
	}
	return existing, false, nil
}

func (r *contactRepo) SetProfilePicture(ctx context.Context, id, ref string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE contacts SET profile_picture_ref = $2, updated_at = NOW() WHERE id = $1
	`, id, ref)
	return err
}
