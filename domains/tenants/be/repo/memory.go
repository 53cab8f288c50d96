package repo

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zenGate-Global/palmyra-owner/domains/tenants/be/service"
)

// MemoryRepository keeps the registry in process. It enforces the same
// uniqueness as the Postgres table (slug and db_name) and is used by tests
// and the API router tests.
type MemoryRepository struct {
	mu      sync.RWMutex
	tenants map[uuid.UUID]service.Tenant
	slugs   map[string]uuid.UUID
	dbNames map[string]uuid.UUID
	now     func() time.Time
}

// NewMemoryRepository constructs an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		tenants: make(map[uuid.UUID]service.Tenant),
		slugs:   make(map[string]uuid.UUID),
		dbNames: make(map[string]uuid.UUID),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryRepository) List(_ context.Context, opts service.ListOptions) (service.ListResult, error) {
	r.mu.RLock()
	matched := make([]service.Tenant, 0, len(r.tenants))
	for _, t := range r.tenants {
		if opts.Status == nil || t.Status == *opts.Status {
			matched = append(matched, t)
		}
	}
	r.mu.RUnlock()

	// newest first, id as tie-breaker so pages are stable
	slices.SortFunc(matched, func(a, b service.Tenant) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})

	page, size := max(opts.Page, 1), opts.PageSize
	if size <= 0 {
		size = 20
	}
	lo := min((page-1)*size, len(matched))
	hi := min(lo+size, len(matched))

	return service.ListResult{
		Tenants:    matched[lo:hi],
		Page:       page,
		PageSize:   size,
		TotalItems: len(matched),
		TotalPages: (len(matched) + size - 1) / size,
	}, nil
}

func (r *MemoryRepository) Create(_ context.Context, t service.Tenant) (service.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.slugs[t.Slug]; taken {
		return service.Tenant{}, service.ErrConflictSlug
	}
	if _, taken := r.dbNames[t.DBName]; taken {
		return service.Tenant{}, service.ErrConflictSlug
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = r.now()
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}

	r.tenants[t.ID] = t
	r.slugs[t.Slug] = t.ID
	r.dbNames[t.DBName] = t.ID
	return t, nil
}

func (r *MemoryRepository) Get(_ context.Context, id uuid.UUID) (service.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.tenants[id]; ok {
		return t, nil
	}
	return service.Tenant{}, service.ErrNotFound
}

func (r *MemoryRepository) FindBySlug(ctx context.Context, slug string) (service.Tenant, error) {
	r.mu.RLock()
	id, ok := r.slugs[slug]
	r.mu.RUnlock()
	if !ok {
		return service.Tenant{}, service.ErrNotFound
	}
	return r.Get(ctx, id)
}

func (r *MemoryRepository) UpdateStatus(_ context.Context, id uuid.UUID, status service.Status) (service.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tenants[id]
	if !ok {
		return service.Tenant{}, service.ErrNotFound
	}
	t.Status = status
	t.UpdatedAt = r.now()
	r.tenants[id] = t
	return t, nil
}

var _ service.Repository = (*MemoryRepository)(nil)
