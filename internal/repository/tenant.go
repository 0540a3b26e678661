package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/relaydesk/channel-server/internal/model"
)

type TenantRepository interface {
	FindByID(ctx context.Context, id string) (*model.Tenant, error)
	FindByTokenHash(ctx context.Context, tokenHash string) (*model.Tenant, error)
}

type tenantRepo struct {
	db sqlxDB
}

func NewTenantRepository(db *sqlx.DB) TenantRepository {
	return &tenantRepo{db: db}
}

func (r *tenantRepo) FindByID(ctx context.Context, id string) (*model.Tenant, error) {
	var tenant model.Tenant
	err := r.db.GetContext(ctx, &tenant, `
		SELECT * FROM tenants WHERE id = $1
	`, id)
	return HandleNotFound(&tenant, err)
}

func (r *tenantRepo) FindByTokenHash(ctx context.Context, tokenHash string) (*model.Tenant, error) {
	var tenant model.Tenant
	err := r.db.GetContext(ctx, &tenant, `
		SELECT * FROM tenants
		WHERE api_token_hash = $1 AND disabled_at IS NULL
	`, tokenHash)
	return HandleNotFound(&tenant, err)
}
