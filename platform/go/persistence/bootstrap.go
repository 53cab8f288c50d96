package persistence

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	sqlassets "github.com/zenGate-Global/palmyra-owner/database"
)

// BootstrapAdminSchema creates the admin schema (if missing) and applies the
// owner DDL in a single transaction. The statements are executed with
// search_path set to the admin schema, in this order:
//  1. platform/tenants.sql
//  2. platform/provisioning_audit.sql
//  3. platform/deployment_watches.sql
//  4. platform/role_templates.sql
//
// SQL is embedded at build time so binaries stay self-contained. The helper is
// idempotent and intended for CLI bootstrap and tests.
func BootstrapAdminSchema(ctx context.Context, pool *pgxpool.Pool, adminSchema string) error {
	if pool == nil {
		return fmt.Errorf("bootstrap admin schema: pool is required")
	}
	if adminSchema == "" {
		return fmt.Errorf("bootstrap admin schema: admin schema is required")
	}

	var statements []string
	statements = append(statements, SplitStatements(sqlassets.TenantsSQL)...)
	statements = append(statements, SplitStatements(sqlassets.ProvisioningAuditSQL)...)
	statements = append(statements, SplitStatements(sqlassets.DeploymentWatchesSQL)...)
	statements = append(statements, SplitStatements(sqlassets.RoleTemplatesSQL)...)

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, err := tx.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{adminSchema}.Sanitize()); err != nil {
		return fmt.Errorf("create admin schema: %w", err)
	}

	if _, err := tx.Exec(ctx, `SELECT set_config('search_path', $1, true)`, adminSchema); err != nil {
		return fmt.Errorf("set search_path: %w", err)
	}

	for _, stmt := range statements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply ddl: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// SplitStatements breaks an embedded SQL file into executable statements,
// dropping fragments that hold only comments or whitespace.
func SplitStatements(sql string) []string {
	raw := strings.Split(sql, ";")
	out := make([]string, 0, len(raw))
	for _, fragment := range raw {
		stmt := strings.TrimSpace(fragment)
		if stmt == "" || onlyComments(stmt) {
			continue
		}
		out = append(out, stmt)
	}
	return out
}

func onlyComments(stmt string) bool {
	for _, line := range strings.Split(stmt, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return false
		}
	}
	return true
}
