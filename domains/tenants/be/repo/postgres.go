package repo

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/zenGate-Global/palmyra-owner/domains/tenants/be/service"
	"github.com/zenGate-Global/palmyra-owner/platform/go/persistence"
)

// PostgresRepository implements the tenant repository on top of persistence.TenantStore.
type PostgresRepository struct {
	store *persistence.TenantStore
}

// NewPostgresRepository constructs a repository backed by TenantStore.
func NewPostgresRepository(store *persistence.TenantStore) *PostgresRepository {
	if store == nil {
		panic("tenant store is required")
	}
	return &PostgresRepository{store: store}
}

func (r *PostgresRepository) List(ctx context.Context, opts service.ListOptions) (service.ListResult, error) {
	page := opts.Page
	if page < 1 {
		page = 1
	}
	size := opts.PageSize
	if size <= 0 {
		size = 20
	}
	offset := (page - 1) * size

	var statusStr *string
	if opts.Status != nil {
		s := string(*opts.Status)
		statusStr = &s
	}

	rows, total, err := r.store.List(ctx, statusStr, size, offset)
	if err != nil {
		return service.ListResult{}, err
	}

	tenants := make([]service.Tenant, 0, len(rows))
	for _, rec := range rows {
		t, err := toServiceTenant(rec)
		if err != nil {
			return service.ListResult{}, err
		}
		tenants = append(tenants, t)
	}

	totalPages := (total + size - 1) / size
	return service.ListResult{Tenants: tenants, Page: page, PageSize: size, TotalItems: total, TotalPages: totalPages}, nil
}

func (r *PostgresRepository) Create(ctx context.Context, t service.Tenant) (service.Tenant, error) {
	out, err := r.store.Create(ctx, toRecord(t))
	if err != nil {
		return service.Tenant{}, mapConflict(err)
	}
	return toServiceTenant(out)
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (service.Tenant, error) {
	rec, err := r.store.Get(ctx, id)
	if err != nil {
		return service.Tenant{}, mapNotFound(err)
	}
	return toServiceTenant(rec)
}

func (r *PostgresRepository) FindBySlug(ctx context.Context, slug string) (service.Tenant, error) {
	rec, err := r.store.GetBySlug(ctx, slug)
	if err != nil {
		return service.Tenant{}, mapNotFound(err)
	}
	return toServiceTenant(rec)
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status service.Status) (service.Tenant, error) {
	rec, err := r.store.UpdateStatus(ctx, id, string(status))
	if err != nil {
		return service.Tenant{}, mapNotFound(err)
	}
	return toServiceTenant(rec)
}

func toRecord(t service.Tenant) persistence.TenantRecord {
	return persistence.TenantRecord{
		ID:          t.ID,
		Slug:        t.Slug,
		CompanyName: t.CompanyName,
		Status:      string(t.Status),
		DBName:      t.DBName,
		RoleName:    t.RoleName,
		Region:      t.Region,
		NodeRef:     t.NodeRef,
		PlanRef:     t.PlanRef,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func toServiceTenant(rec persistence.TenantRecord) (service.Tenant, error) {
	status, err := service.ParseStatus(rec.Status)
	if err != nil {
		return service.Tenant{}, err
	}
	return service.Tenant{
		ID:          rec.ID,
		Slug:        rec.Slug,
		CompanyName: rec.CompanyName,
		Status:      status,
		DBName:      rec.DBName,
		RoleName:    rec.RoleName,
		Region:      rec.Region,
		NodeRef:     rec.NodeRef,
		PlanRef:     rec.PlanRef,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}, nil
}

func mapNotFound(err error) error {
	if errors.Is(err, persistence.ErrNotFound) {
		return service.ErrNotFound
	}
	return err
}

func mapConflict(err error) error {
	// db_name derives from the slug, so either unique key means the slug is taken.
	if persistence.IsUniqueViolation(err, "tenants_slug_key") || persistence.IsUniqueViolation(err, "tenants_db_name_key") {
		return service.ErrConflictSlug
	}
	return err
}

// Ensure interface compliance.
var _ service.Repository = (*PostgresRepository)(nil)
