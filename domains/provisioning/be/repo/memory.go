package repo

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zenGate-Global/palmyra-owner/domains/provisioning/be/service"
)

// MemoryAuditRepository is an append-only in-memory audit log for tests and local runs.
type MemoryAuditRepository struct {
	mu      sync.RWMutex
	entries []service.AuditEntry
	now     func() time.Time
}

func NewMemoryAuditRepository() *MemoryAuditRepository {
	return &MemoryAuditRepository{now: time.Now}
}

func (r *MemoryAuditRepository) Append(_ context.Context, e service.AuditEntry) (service.AuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.ID = int64(len(r.entries) + 1)
	e.CreatedAt = r.now().UTC()
	r.entries = append(r.entries, e)
	return e, nil
}

func (r *MemoryAuditRepository) Latest(ctx context.Context, tenantID uuid.UUID) (service.AuditEntry, error) {
	list, err := r.List(ctx, tenantID, 1)
	if err != nil {
		return service.AuditEntry{}, err
	}
	if len(list) == 0 {
		return service.AuditEntry{}, service.ErrNoAudit
	}
	return list[0], nil
}

// List walks the log backwards, so entries come out newest first.
func (r *MemoryAuditRepository) List(_ context.Context, tenantID uuid.UUID, limit int) ([]service.AuditEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}
	var out []service.AuditEntry
	for i := len(r.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if r.entries[i].TenantID == tenantID {
			out = append(out, r.entries[i])
		}
	}
	return out, nil
}

var _ service.AuditRepository = (*MemoryAuditRepository)(nil)
