package repo

import (
	"context"
	"errors"

	"github.com/zenGate-Global/palmyra-owner/domains/templates/be/service"
	"github.com/zenGate-Global/palmyra-owner/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-owner/platform/go/tenant"
)

// PostgresRepository reads role_templates from the admin schema and syncs
// the RBAC tables of a tenant schema.
type PostgresRepository struct {
	templates *persistence.TemplateStore
	rbac      *persistence.RBACStore
}

func NewPostgresRepository(templates *persistence.TemplateStore, rbac *persistence.RBACStore) *PostgresRepository {
	if templates == nil {
		panic("template store is required")
	}
	if rbac == nil {
		panic("rbac store is required")
	}
	return &PostgresRepository{templates: templates, rbac: rbac}
}

func (r *PostgresRepository) GetTemplate(ctx context.Context, key string) (service.Template, error) {
	rec, err := r.templates.Get(ctx, key)
	if errors.Is(err, persistence.ErrNotFound) {
		return service.Template{}, service.ErrNotFound
	}
	if err != nil {
		return service.Template{}, err
	}
	return toTemplate(rec), nil
}

func (r *PostgresRepository) UpsertTemplate(ctx context.Context, tmpl service.Template) (service.Template, error) {
	rec, err := r.templates.Upsert(ctx, persistence.TemplateRecord{
		Key:         tmpl.Key,
		Version:     tmpl.Version,
		ContentType: tmpl.ContentType,
		Content:     tmpl.Content,
	})
	if err != nil {
		return service.Template{}, err
	}
	return toTemplate(rec), nil
}

func (r *PostgresRepository) Sync(ctx context.Context, space tenant.Space, fn func(service.SyncTx) error) error {
	return r.rbac.Within(ctx, space, func(tx *persistence.RBACTx) error {
		return fn(tx)
	})
}

func (r *PostgresRepository) TemplateVersion(ctx context.Context, space tenant.Space) (int, error) {
	return r.rbac.TemplateVersion(ctx, space)
}

func toTemplate(rec persistence.TemplateRecord) service.Template {
	return service.Template{
		Key:         rec.Key,
		Version:     rec.Version,
		ContentType: rec.ContentType,
		Content:     rec.Content,
		UpdatedAt:   rec.UpdatedAt,
	}
}

// Ensure interface compliance.
var (
	_ service.Repository = (*PostgresRepository)(nil)
	_ service.SyncTx     = (*persistence.RBACTx)(nil)
)
