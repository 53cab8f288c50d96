package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TenantRecord mirrors a row of the tenants registry table.
type TenantRecord struct {
	ID          uuid.UUID
	Slug        string
	CompanyName string
	Status      string
	DBName      string
	RoleName    string
	Region      *string
	NodeRef     *string
	PlanRef     *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

const tenantColumns = `id, slug, company_name, status, db_name, role_name, region, node_ref, plan_ref, created_at, updated_at`

// TenantStore provides access to the tenants table in the admin schema.
type TenantStore struct {
	db *TenantDB
}

// NewTenantStore creates a store; assumes bootstrap already created the table.
func NewTenantStore(db *TenantDB) (*TenantStore, error) {
	if db == nil {
		return nil, errors.New("tenant db is required")
	}
	return &TenantStore{db: db}, nil
}

// Create inserts a new tenant row.
func (s *TenantStore) Create(ctx context.Context, rec TenantRecord) (TenantRecord, error) {
	if rec.ID == uuid.Nil {
		return TenantRecord{}, errors.New("tenant id is required")
	}

	var out TenantRecord
	err := s.db.WithAdmin(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
            INSERT INTO tenants (id, slug, company_name, status, db_name, role_name, region, node_ref, plan_ref, created_at, updated_at)
            VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)
            RETURNING `+tenantColumns,
			rec.ID, rec.Slug, rec.CompanyName, rec.Status, rec.DBName, rec.RoleName,
			rec.Region, rec.NodeRef, rec.PlanRef, rec.CreatedAt,
		)
		var err error
		out, err = scanTenantRecord(row)
		return err
	})
	return out, err
}

// Get fetches a tenant by id.
func (s *TenantStore) Get(ctx context.Context, id uuid.UUID) (TenantRecord, error) {
	var out TenantRecord
	err := s.db.WithAdmin(ctx, func(tx pgx.Tx) error {
		var err error
		out, err = scanTenantRecord(tx.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id))
		return err
	})
	return out, err
}

// GetBySlug returns the tenant registered under slug.
func (s *TenantStore) GetBySlug(ctx context.Context, slug string) (TenantRecord, error) {
	var out TenantRecord
	err := s.db.WithAdmin(ctx, func(tx pgx.Tx) error {
		var err error
		out, err = scanTenantRecord(tx.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE slug = $1`, slug))
		return err
	})
	return out, err
}

// UpdateStatus sets the lifecycle status and bumps updated_at.
func (s *TenantStore) UpdateStatus(ctx context.Context, id uuid.UUID, status string) (TenantRecord, error) {
	var out TenantRecord
	err := s.db.WithAdmin(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
            UPDATE tenants SET status = $2, updated_at = now()
            WHERE id = $1
            RETURNING `+tenantColumns, id, status)
		var err error
		out, err = scanTenantRecord(row)
		return err
	})
	return out, err
}

// List returns tenants ordered by creation time, newest first, plus the total count.
func (s *TenantStore) List(ctx context.Context, status *string, limit, offset int) ([]TenantRecord, int, error) {
	where := ""
	args := []any{}
	if status != nil {
		where = "WHERE status = $1"
		args = append(args, *status)
	}

	var (
		records []TenantRecord
		total   int
	)
	err := s.db.WithAdmin(ctx, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, "SELECT COUNT(*) FROM tenants "+where, args...).Scan(&total); err != nil {
			return fmt.Errorf("count tenants: %w", err)
		}

		query := fmt.Sprintf(`SELECT %s FROM tenants %s ORDER BY created_at DESC, id LIMIT %d OFFSET %d`,
			tenantColumns, where, limit, offset)
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			rec, err := scanTenantRecord(rows)
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

func scanTenantRecord(row pgx.Row) (TenantRecord, error) {
	var rec TenantRecord
	if err := row.Scan(&rec.ID, &rec.Slug, &rec.CompanyName, &rec.Status, &rec.DBName, &rec.RoleName,
		&rec.Region, &rec.NodeRef, &rec.PlanRef, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TenantRecord{}, ErrNotFound
		}
		return TenantRecord{}, err
	}
	return rec, nil
}
