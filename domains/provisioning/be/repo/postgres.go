package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/zenGate-Global/palmyra-owner/domains/provisioning/be/service"
	"github.com/zenGate-Global/palmyra-owner/domains/provisioning/be/watcher"
	"github.com/zenGate-Global/palmyra-owner/platform/go/persistence"
)

// PostgresAuditRepository stores audit entries in provisioning_audit.
type PostgresAuditRepository struct {
	store *persistence.AuditStore
}

func NewPostgresAuditRepository(store *persistence.AuditStore) *PostgresAuditRepository {
	if store == nil {
		panic("audit store is required")
	}
	return &PostgresAuditRepository{store: store}
}

func (r *PostgresAuditRepository) Append(ctx context.Context, e service.AuditEntry) (service.AuditEntry, error) {
	rec, err := r.store.Append(ctx, persistence.AuditRecord{
		TenantID: e.TenantID,
		Step:     e.Step,
		Status:   e.Status,
		Payload:  e.Payload,
		Error:    e.Error,
	})
	if err != nil {
		return service.AuditEntry{}, err
	}
	return toEntry(rec), nil
}

func (r *PostgresAuditRepository) Latest(ctx context.Context, tenantID uuid.UUID) (service.AuditEntry, error) {
	rec, err := r.store.Latest(ctx, tenantID)
	if errors.Is(err, persistence.ErrNotFound) {
		return service.AuditEntry{}, service.ErrNoAudit
	}
	if err != nil {
		return service.AuditEntry{}, err
	}
	return toEntry(rec), nil
}

func (r *PostgresAuditRepository) List(ctx context.Context, tenantID uuid.UUID, limit int) ([]service.AuditEntry, error) {
	recs, err := r.store.List(ctx, tenantID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]service.AuditEntry, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toEntry(rec))
	}
	return out, nil
}

func toEntry(rec persistence.AuditRecord) service.AuditEntry {
	return service.AuditEntry{
		ID:        rec.ID,
		TenantID:  rec.TenantID,
		Step:      rec.Step,
		Status:    rec.Status,
		Payload:   rec.Payload,
		Error:     rec.Error,
		CreatedAt: rec.CreatedAt,
	}
}

// PostgresLeases keeps watcher leases in deployment_watches.
type PostgresLeases struct {
	store *persistence.WatchStore
}

func NewPostgresLeases(store *persistence.WatchStore) *PostgresLeases {
	if store == nil {
		panic("watch store is required")
	}
	return &PostgresLeases{store: store}
}

func (l *PostgresLeases) Ensure(ctx context.Context, tenantID uuid.UUID, deploymentID string) (watcher.Lease, error) {
	rec, err := l.store.Ensure(ctx, tenantID, deploymentID)
	if err != nil {
		return watcher.Lease{}, err
	}
	return toLease(rec), nil
}

func (l *PostgresLeases) Claim(ctx context.Context, tenantID uuid.UUID, deploymentID, owner string, now time.Time, ttl time.Duration) (watcher.Lease, bool, error) {
	rec, ok, err := l.store.Claim(ctx, tenantID, deploymentID, owner, now, ttl)
	if err != nil || !ok {
		return watcher.Lease{}, false, err
	}
	return toLease(rec), true, nil
}

func (l *PostgresLeases) Advance(ctx context.Context, tenantID uuid.UUID, deploymentID, owner, state string, attempts int, release bool) error {
	return l.store.Advance(ctx, tenantID, deploymentID, owner, state, attempts, release)
}

func (l *PostgresLeases) Release(ctx context.Context, tenantID uuid.UUID, deploymentID, owner string) error {
	return l.store.Release(ctx, tenantID, deploymentID, owner)
}

func (l *PostgresLeases) ListResumable(ctx context.Context, now time.Time) ([]watcher.Lease, error) {
	recs, err := l.store.ListResumable(ctx, now)
	if err != nil {
		return nil, err
	}
	out := make([]watcher.Lease, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toLease(rec))
	}
	return out, nil
}

func toLease(rec persistence.WatchRecord) watcher.Lease {
	l := watcher.Lease{
		TenantID:     rec.TenantID,
		DeploymentID: rec.DeploymentID,
		State:        rec.State,
		Attempts:     rec.Attempts,
	}
	if rec.LeaseOwner != nil {
		l.Owner = *rec.LeaseOwner
	}
	if rec.LeaseExpiresAt != nil {
		l.ExpiresAt = *rec.LeaseExpiresAt
	}
	return l
}

// Ensure interface compliance.
var (
	_ service.AuditRepository = (*PostgresAuditRepository)(nil)
	_ watcher.LeaseStore      = (*PostgresLeases)(nil)
)
