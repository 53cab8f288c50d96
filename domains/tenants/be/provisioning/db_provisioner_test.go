package provisioning

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/zenGate-Global/palmyra-owner/domains/tenants/be/service"
	"github.com/zenGate-Global/palmyra-owner/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-owner/platform/go/persistence/pgtest"
	"github.com/zenGate-Global/palmyra-owner/platform/go/tenant"
)

func TestDBProvisionerEnsure_NoLeakAndAccess(t *testing.T) {
	pool := pgtest.Start(t)
	ctx := context.Background()

	schemaName := tenant.BuildSchemaName("test", "clinic_"+strings.ToLower(uuid.New().String()[:8]))
	roleName := tenant.BuildRoleName(schemaName)

	prov := NewDBProvisioner(pool, pgtest.AdminSchema)
	req := service.DBProvisionRequest{
		TenantID:   uuid.New(),
		SchemaName: schemaName,
		RoleName:   roleName,
	}

	before, err := prov.Check(ctx, req)
	require.NoError(t, err)
	require.False(t, before.Ready)

	res, err := prov.Ensure(ctx, req)
	require.NoError(t, err)
	require.True(t, res.Ready)

	// Ensure is idempotent.
	_, err = prov.Ensure(ctx, req)
	require.NoError(t, err)

	checked, err := prov.Check(ctx, req)
	require.NoError(t, err)
	require.True(t, checked.Ready)

	// Connection state is clean after Ensure.
	conn, err := pool.Acquire(ctx)
	require.NoError(t, err)
	defer conn.Release()

	var searchPath string
	require.NoError(t, conn.QueryRow(ctx, "SHOW search_path").Scan(&searchPath))
	require.NotContains(t, searchPath, schemaName)

	var currentRole string
	require.NoError(t, conn.QueryRow(ctx, "SELECT current_role").Scan(&currentRole))
	require.NotEqual(t, roleName, currentRole)

	// The tenant role can write its RBAC tables and read the template mirror.
	tenantDB := persistence.NewTenantDB(persistence.TenantDBConfig{Pool: pool, AdminSchema: pgtest.AdminSchema})
	err = tenantDB.WithTenant(ctx, tenant.Space{SchemaName: schemaName, RoleName: roleName}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "INSERT INTO roles (name) VALUES ('admin')"); err != nil {
			return err
		}
		var c int
		return tx.QueryRow(ctx, "SELECT count(*) FROM role_templates").Scan(&c)
	})
	require.NoError(t, err)

	var tableSchema, tableOwner string
	err = pool.QueryRow(ctx, `
        SELECT n.nspname, pg_get_userbyid(c.relowner)
        FROM pg_class c
        JOIN pg_namespace n ON n.oid = c.relnamespace
        WHERE c.relname = 'role_permissions' AND n.nspname = $1
        LIMIT 1`, schemaName).Scan(&tableSchema, &tableOwner)
	require.NoError(t, err)
	require.Equal(t, schemaName, tableSchema)
	require.Equal(t, roleName, tableOwner)
}

func TestDBProvisionerRequiresNames(t *testing.T) {
	pool := pgtest.Start(t)
	prov := NewDBProvisioner(pool, pgtest.AdminSchema)

	_, err := prov.Ensure(context.Background(), service.DBProvisionRequest{})
	require.Error(t, err)
}
