package provisioning

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	sqlassets "github.com/zenGate-Global/palmyra-owner/database"
	"github.com/zenGate-Global/palmyra-owner/domains/tenants/be/service"
	"github.com/zenGate-Global/palmyra-owner/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-owner/platform/go/tenant"
)

// rbacTables are created in every tenant schema by Ensure and probed by Check.
var rbacTables = []string{"roles", "permissions", "role_permissions", "template_version_local"}

// DBProvisioner creates per-tenant roles/schemas/grants and the tenant-local RBAC tables.
type DBProvisioner struct {
	pool        *pgxpool.Pool
	tenantDB    *persistence.TenantDB
	adminSchema string
}

func NewDBProvisioner(pool *pgxpool.Pool, adminSchema string) *DBProvisioner {
	if pool == nil {
		panic("db provisioner requires pool")
	}

	adminSchema = strings.TrimSpace(adminSchema)
	if adminSchema == "" {
		panic("db provisioner requires admin schema")
	}

	return &DBProvisioner{
		pool:        pool,
		adminSchema: adminSchema,
		tenantDB: persistence.NewTenantDB(persistence.TenantDBConfig{
			Pool:        pool,
			AdminSchema: adminSchema,
		}),
	}
}

func (p *DBProvisioner) Ensure(ctx context.Context, req service.DBProvisionRequest) (service.DBProvisionResult, error) {
	if req.RoleName == "" || req.SchemaName == "" {
		return service.DBProvisionResult{}, fmt.Errorf("role and schema required")
	}
	if err := p.ensureRoleSchemaAndGrants(ctx, req); err != nil {
		return service.DBProvisionResult{}, err
	}
	if err := p.ensureRBACTables(ctx, req); err != nil {
		return service.DBProvisionResult{}, err
	}
	return service.DBProvisionResult{Ready: true}, nil
}

func (p *DBProvisioner) Check(ctx context.Context, req service.DBProvisionRequest) (service.DBProvisionResult, error) {
	if req.RoleName == "" || req.SchemaName == "" {
		return service.DBProvisionResult{Ready: false}, fmt.Errorf("role and schema required")
	}

	var member bool
	err := p.pool.QueryRow(ctx, `
		SELECT pg_has_role(current_user, r.oid, 'MEMBER')
		FROM pg_roles r WHERE r.rolname = $1`, req.RoleName).Scan(&member)
	if errors.Is(err, pgx.ErrNoRows) {
		return service.DBProvisionResult{Ready: false}, nil
	}
	if err != nil {
		return service.DBProvisionResult{}, fmt.Errorf("check role: %w", err)
	}
	// SET ROLE in TenantDB fails unless the app user is a member.
	if !member {
		return service.DBProvisionResult{Ready: false}, nil
	}

	ready := true
	err = p.tenantDB.WithTenant(ctx, tenant.Space{
		SchemaName: req.SchemaName,
		RoleName:   req.RoleName,
	}, func(tx pgx.Tx) error {
		var present int
		if err := tx.QueryRow(ctx, `
			SELECT count(*)
			FROM pg_class c
			JOIN pg_namespace n ON n.oid = c.relnamespace
			WHERE n.nspname = $1 AND c.relname = ANY($2)`, req.SchemaName, rbacTables).Scan(&present); err != nil {
			return fmt.Errorf("check rbac tables: %w", err)
		}
		if present != len(rbacTables) {
			ready = false
			return nil
		}
		// Read probe under the tenant role, including the shared template mirror.
		var dummy int
		if err := tx.QueryRow(ctx, "SELECT 1 FROM "+pgx.Identifier{req.SchemaName, "roles"}.Sanitize()+" LIMIT 1").Scan(&dummy); err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("read roles table: %w", err)
		}
		if err := tx.QueryRow(ctx, "SELECT 1 FROM "+pgx.Identifier{p.adminSchema, "role_templates"}.Sanitize()+" LIMIT 1").Scan(&dummy); err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("read role_templates: %w", err)
		}
		return nil
	})
	if err != nil {
		return service.DBProvisionResult{}, err
	}

	return service.DBProvisionResult{Ready: ready}, nil
}

func (p *DBProvisioner) ensureRoleSchemaAndGrants(ctx context.Context, req service.DBProvisionRequest) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	role := pgx.Identifier{req.RoleName}.Sanitize()
	schema := pgx.Identifier{req.SchemaName}.Sanitize()
	admin := pgx.Identifier{p.adminSchema}.Sanitize()

	// Create tenant role only if missing to avoid aborting the transaction.
	var roleExists bool
	if err := tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = $1)", req.RoleName).Scan(&roleExists); err != nil {
		return fmt.Errorf("check role existence: %w", err)
	}
	if !roleExists {
		if _, err := tx.Exec(ctx, "CREATE ROLE "+role+" NOLOGIN"); err != nil {
			return fmt.Errorf("create role: %w", err)
		}
	}

	statements := []struct {
		name string
		sql  string
	}{
		{"create schema", fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s AUTHORIZATION %s", schema, role)},
		// The application role must be able to SET ROLE into the tenant role.
		{"grant tenant role to app user", fmt.Sprintf("GRANT %s TO CURRENT_USER", role)},
		{"grant usage tenant schema", fmt.Sprintf("GRANT USAGE ON SCHEMA %s TO %s", schema, role)},
		{"grant usage admin schema", fmt.Sprintf("GRANT USAGE ON SCHEMA %s TO %s", admin, role)},
		{"grant select role_templates", fmt.Sprintf("GRANT SELECT ON %s.%s TO %s", admin, pgx.Identifier{"role_templates"}.Sanitize(), role)},
	}
	for _, stmt := range statements {
		if _, err := tx.Exec(ctx, stmt.sql); err != nil {
			return fmt.Errorf("%s: %w", stmt.name, err)
		}
	}

	// Default privileges are applied as the tenant role inside the same admin-owned transaction.
	if _, err := tx.Exec(ctx, "SET LOCAL ROLE "+role); err != nil {
		return fmt.Errorf("set local role: %w", err)
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf("ALTER DEFAULT PRIVILEGES IN SCHEMA %s GRANT ALL ON TABLES TO %s", schema, role)); err != nil {
		return fmt.Errorf("default privs tables: %w", err)
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf("ALTER DEFAULT PRIVILEGES IN SCHEMA %s GRANT ALL ON SEQUENCES TO %s", schema, role)); err != nil {
		return fmt.Errorf("default privs sequences: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (p *DBProvisioner) ensureRBACTables(ctx context.Context, req service.DBProvisionRequest) error {
	return p.tenantDB.WithTenant(ctx, tenant.Space{
		TenantID:   req.TenantID,
		SchemaName: req.SchemaName,
		RoleName:   req.RoleName,
	}, func(tx pgx.Tx) error {
		for _, stmt := range persistence.SplitStatements(sqlassets.RBACSQL) {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("ensure rbac tables: %w", err)
			}
		}
		return nil
	})
}

var _ service.DBProvisioner = (*DBProvisioner)(nil)
