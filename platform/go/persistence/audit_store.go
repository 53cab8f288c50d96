package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// AuditRecord is one immutable provisioning_audit row.
type AuditRecord struct {
	ID        int64
	TenantID  uuid.UUID
	Step      string
	Status    string
	Payload   json.RawMessage
	Error     *string
	CreatedAt time.Time
}

// AuditStore appends to and reads from provisioning_audit. It deliberately
// offers no update or delete.
type AuditStore struct {
	db *TenantDB
}

func NewAuditStore(db *TenantDB) (*AuditStore, error) {
	if db == nil {
		return nil, errors.New("tenant db is required")
	}
	return &AuditStore{db: db}, nil
}

// Append inserts rec and returns it with id and created_at populated.
func (s *AuditStore) Append(ctx context.Context, rec AuditRecord) (AuditRecord, error) {
	payload := rec.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	var out AuditRecord
	err := s.db.WithAdmin(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
            INSERT INTO provisioning_audit (tenant_id, step, status, payload, error)
            VALUES ($1, $2, $3, $4, $5)
            RETURNING id, tenant_id, step, status, payload, error, created_at`,
			rec.TenantID, rec.Step, rec.Status, []byte(payload), rec.Error)
		var err error
		out, err = scanAuditRecord(row)
		return err
	})
	return out, err
}

// Latest returns the most recent record for the tenant or ErrNotFound.
func (s *AuditStore) Latest(ctx context.Context, tenantID uuid.UUID) (AuditRecord, error) {
	var out AuditRecord
	err := s.db.WithAdmin(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
            SELECT id, tenant_id, step, status, payload, error, created_at
            FROM provisioning_audit
            WHERE tenant_id = $1
            ORDER BY created_at DESC, id DESC
            LIMIT 1`, tenantID)
		var err error
		out, err = scanAuditRecord(row)
		return err
	})
	return out, err
}

// List returns up to limit records for the tenant, newest first.
func (s *AuditStore) List(ctx context.Context, tenantID uuid.UUID, limit int) ([]AuditRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	var records []AuditRecord
	err := s.db.WithAdmin(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
            SELECT id, tenant_id, step, status, payload, error, created_at
            FROM provisioning_audit
            WHERE tenant_id = $1
            ORDER BY created_at DESC, id DESC
            LIMIT $2`, tenantID, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			rec, err := scanAuditRecord(rows)
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return rows.Err()
	})
	return records, err
}

func scanAuditRecord(row pgx.Row) (AuditRecord, error) {
	var (
		rec     AuditRecord
		payload []byte
	)
	if err := row.Scan(&rec.ID, &rec.TenantID, &rec.Step, &rec.Status, &payload, &rec.Error, &rec.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AuditRecord{}, ErrNotFound
		}
		return AuditRecord{}, err
	}
	rec.Payload = json.RawMessage(payload)
	return rec, nil
}
