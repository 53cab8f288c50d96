package repo_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-owner/domains/templates/be/repo"
	"github.com/zenGate-Global/palmyra-owner/domains/templates/be/service"
	"github.com/zenGate-Global/palmyra-owner/domains/tenants/be/provisioning"
	tenantsservice "github.com/zenGate-Global/palmyra-owner/domains/tenants/be/service"
	"github.com/zenGate-Global/palmyra-owner/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-owner/platform/go/persistence/pgtest"
	"github.com/zenGate-Global/palmyra-owner/platform/go/tenant"
)

func setup(t *testing.T) (*repo.PostgresRepository, tenant.Space) {
	t.Helper()
	pool := pgtest.Start(t)
	ctx := context.Background()

	schema := tenant.BuildSchemaName("test", "acme")
	space := tenant.Space{TenantID: uuid.New(), Slug: "acme", SchemaName: schema, RoleName: tenant.BuildRoleName(schema)}
	_, err := provisioning.NewDBProvisioner(pool, pgtest.AdminSchema).Ensure(ctx, tenantsservice.DBProvisionRequest{
		TenantID: space.TenantID, SchemaName: space.SchemaName, RoleName: space.RoleName,
	})
	require.NoError(t, err)

	db := persistence.NewTenantDB(persistence.TenantDBConfig{Pool: pool, AdminSchema: pgtest.AdminSchema})
	templates, err := persistence.NewTemplateStore(db)
	require.NoError(t, err)
	rbac, err := persistence.NewRBACStore(db)
	require.NoError(t, err)
	return repo.NewPostgresRepository(templates, rbac), space
}

func TestPostgresTemplateSync(t *testing.T) {
	r, space := setup(t)
	ctx := tenant.WithSpace(context.Background(), space)
	svc := service.New(r, zap.NewNop())

	_, err := r.GetTemplate(ctx, service.DefaultTemplateKey)
	require.ErrorIs(t, err, service.ErrNotFound)

	_, err = r.UpsertTemplate(ctx, service.Template{Key: service.DefaultTemplateKey, Version: 4, ContentType: service.ContentTypeJSON,
		Content: `{"roles":["admin","viewer"],"permissions":["a","b"],"rolePermissions":{"viewer":["a"]}}`})
	require.NoError(t, err)

	res, err := svc.ApplyTemplate(ctx, service.ApplyInput{})
	require.NoError(t, err)
	require.Equal(t, 4, res.LocalVersion)
	require.Equal(t, 2, res.RoleSummaries[0].GrantedThisRun)

	res, err = svc.ApplyTemplate(ctx, service.ApplyInput{})
	require.NoError(t, err)
	require.Zero(t, res.RoleSummaries[0].GrantedThisRun)
	require.Zero(t, res.RoleSummaries[1].GrantedThisRun)

	_, err = r.UpsertTemplate(ctx, service.Template{Key: service.DefaultTemplateKey, Version: 2, ContentType: service.ContentTypeJSON,
		Content: `{"roles":["admin"],"permissions":["b","c"]}`})
	require.NoError(t, err)
	res, err = svc.ApplyTemplate(ctx, service.ApplyInput{})
	require.NoError(t, err)
	require.Equal(t, service.RoleSummary{Role: "admin", TotalPermissions: 2, GrantedThisRun: 1, RevokedThisRun: 1}, res.RoleSummaries[0])

	version, err := svc.GetTemplateVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, version)
}

func TestPostgresSyncRollsBack(t *testing.T) {
	r, space := setup(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := r.Sync(ctx, space, func(tx service.SyncTx) error {
		require.NoError(t, tx.Lock(ctx))
		require.NoError(t, tx.EnsurePermission(ctx, "a", "A"))
		require.NoError(t, tx.EnsureRole(ctx, "admin", "Admin"))
		n, err := tx.Grant(ctx, "admin", []string{"a", "missing"})
		require.NoError(t, err)
		require.Equal(t, 1, n)
		_, err = tx.AdvanceTemplateVersion(ctx, "k", 9)
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = r.Sync(ctx, space, func(tx service.SyncTx) error {
		granted, err := tx.GrantedPermissions(ctx, "admin")
		require.NoError(t, err)
		require.Empty(t, granted)
		return nil
	})
	require.NoError(t, err)

	version, err := r.TemplateVersion(ctx, space)
	require.NoError(t, err)
	require.Zero(t, version)
}
