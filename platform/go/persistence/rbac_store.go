package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/zenGate-Global/palmyra-owner/platform/go/tenant"
)

// RBACStore mutates the tenant-local roles, permissions and template marker.
type RBACStore struct {
	db *TenantDB
}

func NewRBACStore(db *TenantDB) (*RBACStore, error) {
	if db == nil {
		return nil, errors.New("tenant db is required")
	}
	return &RBACStore{db: db}, nil
}

// Within runs fn in one tenant-scoped transaction. Any error rolls back every write.
func (s *RBACStore) Within(ctx context.Context, space tenant.Space, fn func(*RBACTx) error) error {
	return s.db.WithTenant(ctx, space, func(tx pgx.Tx) error {
		return fn(&RBACTx{tx: tx})
	})
}

// TemplateVersion reads the local marker outside of a sync.
func (s *RBACStore) TemplateVersion(ctx context.Context, space tenant.Space) (int, error) {
	var version int
	err := s.Within(ctx, space, func(tx *RBACTx) error {
		var err error
		version, err = tx.TemplateVersion(ctx)
		return err
	})
	return version, err
}

// RBACTx exposes the tenant-local RBAC statements bound to one transaction.
type RBACTx struct {
	tx pgx.Tx
}

// Lock serialises template syncs for the current tenant schema until commit.
func (t *RBACTx) Lock(ctx context.Context) error {
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('template_sync:' || current_schema()))`); err != nil {
		return fmt.Errorf("lock template sync: %w", err)
	}
	return nil
}

func (t *RBACTx) EnsurePermission(ctx context.Context, key, displayName string) error {
	_, err := t.tx.Exec(ctx, `
        INSERT INTO permissions (key, display_name) VALUES ($1, $2)
        ON CONFLICT (key) DO NOTHING`, key, displayName)
	if err != nil {
		return fmt.Errorf("upsert permission %q: %w", key, err)
	}
	return nil
}

func (t *RBACTx) EnsureRole(ctx context.Context, name, description string) error {
	_, err := t.tx.Exec(ctx, `
        INSERT INTO roles (name, description) VALUES ($1, $2)
        ON CONFLICT (name) DO UPDATE SET description = COALESCE(roles.description, EXCLUDED.description)`,
		name, description)
	if err != nil {
		return fmt.Errorf("upsert role %q: %w", name, err)
	}
	return nil
}

// GrantedPermissions lists the permission keys currently held by role.
func (t *RBACTx) GrantedPermissions(ctx context.Context, role string) ([]string, error) {
	rows, err := t.tx.Query(ctx, `
        SELECT p.key
        FROM role_permissions rp
        JOIN roles r ON r.id = rp.role_id
        JOIN permissions p ON p.id = rp.permission_id
        WHERE r.name = $1
        ORDER BY p.key`, role)
	if err != nil {
		return nil, fmt.Errorf("list grants for %q: %w", role, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Grant adds the given permissions to role, skipping ones already held.
func (t *RBACTx) Grant(ctx context.Context, role string, keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	tag, err := t.tx.Exec(ctx, `
        INSERT INTO role_permissions (role_id, permission_id)
        SELECT r.id, p.id FROM roles r, permissions p
        WHERE r.name = $1 AND p.key = ANY($2)
        ON CONFLICT DO NOTHING`, role, keys)
	if err != nil {
		return 0, fmt.Errorf("grant permissions to %q: %w", role, err)
	}
	return int(tag.RowsAffected()), nil
}

// Revoke removes the given permissions from role.
func (t *RBACTx) Revoke(ctx context.Context, role string, keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	tag, err := t.tx.Exec(ctx, `
        DELETE FROM role_permissions rp
        USING roles r, permissions p
        WHERE rp.role_id = r.id AND rp.permission_id = p.id
          AND r.name = $1 AND p.key = ANY($2)`, role, keys)
	if err != nil {
		return 0, fmt.Errorf("revoke permissions from %q: %w", role, err)
	}
	return int(tag.RowsAffected()), nil
}

// TemplateVersion returns the applied template version, 0 when never synced.
func (t *RBACTx) TemplateVersion(ctx context.Context) (int, error) {
	var version int
	err := t.tx.QueryRow(ctx, `SELECT version FROM template_version_local WHERE id = 1`).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read template version: %w", err)
	}
	return version, nil
}

// AdvanceTemplateVersion stores max(stored, version) and returns the result.
func (t *RBACTx) AdvanceTemplateVersion(ctx context.Context, key string, version int) (int, error) {
	var stored int
	err := t.tx.QueryRow(ctx, `
        INSERT INTO template_version_local (id, version, template_key, applied_at)
        VALUES (1, $1, $2, now())
        ON CONFLICT (id) DO UPDATE
        SET version = GREATEST(template_version_local.version, EXCLUDED.version),
            template_key = CASE
                WHEN EXCLUDED.version >= template_version_local.version THEN EXCLUDED.template_key
                ELSE template_version_local.template_key
            END,
            applied_at = now()
        RETURNING version`, version, key).Scan(&stored)
	if err != nil {
		return 0, fmt.Errorf("advance template version: %w", err)
	}
	return stored, nil
}
