package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// WatchRecord is the durable state of one deployment watch.
type WatchRecord struct {
	TenantID       uuid.UUID
	DeploymentID   string
	State          string
	Attempts       int
	LeaseOwner     *string
	LeaseExpiresAt *time.Time
	UpdatedAt      time.Time
}

const watchColumns = `tenant_id, deployment_id, state, attempts, lease_owner, lease_expires_at, updated_at`

// WatchStore persists deployment watches and arbitrates their leases.
type WatchStore struct {
	db *TenantDB
}

func NewWatchStore(db *TenantDB) (*WatchStore, error) {
	if db == nil {
		return nil, errors.New("tenant db is required")
	}
	return &WatchStore{db: db}, nil
}

// Ensure creates the watch row if missing and returns the stored row.
func (s *WatchStore) Ensure(ctx context.Context, tenantID uuid.UUID, deploymentID string) (WatchRecord, error) {
	var out WatchRecord
	err := s.db.WithAdmin(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
            INSERT INTO deployment_watches (tenant_id, deployment_id)
            VALUES ($1, $2)
            ON CONFLICT (tenant_id, deployment_id) DO NOTHING`, tenantID, deploymentID); err != nil {
			return err
		}
		var err error
		out, err = scanWatchRecord(tx.QueryRow(ctx, `SELECT `+watchColumns+`
            FROM deployment_watches WHERE tenant_id = $1 AND deployment_id = $2`, tenantID, deploymentID))
		return err
	})
	return out, err
}

// Claim takes or renews the lease for owner until now+ttl. It reports false
// when the watch is finished or another owner holds an unexpired lease.
func (s *WatchStore) Claim(ctx context.Context, tenantID uuid.UUID, deploymentID, owner string, now time.Time, ttl time.Duration) (WatchRecord, bool, error) {
	var (
		out     WatchRecord
		claimed bool
	)
	err := s.db.WithAdmin(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
            UPDATE deployment_watches
            SET lease_owner = $3, lease_expires_at = $4, state = 'polling', updated_at = $5
            WHERE tenant_id = $1 AND deployment_id = $2
              AND state IN ('pending', 'polling')
              AND (lease_owner IS NULL OR lease_owner = $3 OR lease_expires_at < $5)
            RETURNING `+watchColumns,
			tenantID, deploymentID, owner, now.Add(ttl), now)
		rec, err := scanWatchRecord(row)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		out, claimed = rec, true
		return nil
	})
	return out, claimed, err
}

// Advance stores the outcome of a cycle run by owner. Terminal states drop the lease.
func (s *WatchStore) Advance(ctx context.Context, tenantID uuid.UUID, deploymentID, owner, state string, attempts int, release bool) error {
	return s.db.WithAdmin(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
            UPDATE deployment_watches
            SET state = $4,
                attempts = $5,
                lease_owner = CASE WHEN $6 THEN NULL ELSE lease_owner END,
                lease_expires_at = CASE WHEN $6 THEN NULL ELSE lease_expires_at END,
                updated_at = now()
            WHERE tenant_id = $1 AND deployment_id = $2 AND lease_owner = $3`,
			tenantID, deploymentID, owner, state, attempts, release)
		return err
	})
}

// Release hands an unfinished watch back so any instance may resume it.
func (s *WatchStore) Release(ctx context.Context, tenantID uuid.UUID, deploymentID, owner string) error {
	return s.db.WithAdmin(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
            UPDATE deployment_watches
            SET state = CASE WHEN state = 'polling' THEN 'pending' ELSE state END,
                lease_owner = NULL, lease_expires_at = NULL, updated_at = now()
            WHERE tenant_id = $1 AND deployment_id = $2 AND lease_owner = $3`,
			tenantID, deploymentID, owner)
		return err
	})
}

// ListResumable returns unfinished watches whose lease is free or expired.
func (s *WatchStore) ListResumable(ctx context.Context, now time.Time) ([]WatchRecord, error) {
	var records []WatchRecord
	err := s.db.WithAdmin(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT `+watchColumns+`
            FROM deployment_watches
            WHERE state IN ('pending', 'polling')
              AND (lease_owner IS NULL OR lease_expires_at < $1)
            ORDER BY updated_at`, now)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			rec, err := scanWatchRecord(rows)
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return rows.Err()
	})
	return records, err
}

func scanWatchRecord(row pgx.Row) (WatchRecord, error) {
	var rec WatchRecord
	if err := row.Scan(&rec.TenantID, &rec.DeploymentID, &rec.State, &rec.Attempts,
		&rec.LeaseOwner, &rec.LeaseExpiresAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return WatchRecord{}, ErrNotFound
		}
		return WatchRecord{}, err
	}
	return rec, nil
}
