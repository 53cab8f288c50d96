// Package cliapp wires the owner services for command-line use.
package cliapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-owner/domains/provisioning/be/deployclient"
	provisioningrepo "github.com/zenGate-Global/palmyra-owner/domains/provisioning/be/repo"
	provisioningservice "github.com/zenGate-Global/palmyra-owner/domains/provisioning/be/service"
	"github.com/zenGate-Global/palmyra-owner/domains/provisioning/be/watcher"
	templatesrepo "github.com/zenGate-Global/palmyra-owner/domains/templates/be/repo"
	templatesservice "github.com/zenGate-Global/palmyra-owner/domains/templates/be/service"
	tenantsprov "github.com/zenGate-Global/palmyra-owner/domains/tenants/be/provisioning"
	tenantsrepo "github.com/zenGate-Global/palmyra-owner/domains/tenants/be/repo"
	tenantsservice "github.com/zenGate-Global/palmyra-owner/domains/tenants/be/service"
	platformlogging "github.com/zenGate-Global/palmyra-owner/platform/go/logging"
	"github.com/zenGate-Global/palmyra-owner/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-owner/platform/go/requesttrace"
	"github.com/zenGate-Global/palmyra-owner/platform/go/tenant"
)

// Options are the connection settings shared by every command. Environment
// variables provide the defaults and flags override them.
type Options struct {
	DatabaseURL     string `env:"DATABASE_URL"`
	EnvKey          string `env:"ENV_KEY" envDefault:"dev"`
	AdminTenantSlug string `env:"ADMIN_TENANT_SLUG" envDefault:"admin"`
	LogLevel        string `env:"LOG_LEVEL" envDefault:"warn"`

	DeployAPIBaseURL      string        `env:"DEPLOY_API_BASE_URL"`
	DeployAPIToken        string        `env:"DEPLOY_API_TOKEN"`
	DeployPollInterval    time.Duration `env:"DEPLOY_POLL_INTERVAL" envDefault:"30s"`
	DeployPollMaxAttempts int           `env:"DEPLOY_POLL_MAX_ATTEMPTS" envDefault:"40"`
	WatchLeaseTTL         time.Duration `env:"WATCH_LEASE_TTL" envDefault:"2m"`

	// LogOutput defaults to stderr so command output stays parseable.
	LogOutput io.Writer
}

// LoadOptions reads Options from the environment.
func LoadOptions() (Options, error) {
	var opts Options
	if err := env.Parse(&opts); err != nil {
		return Options{}, fmt.Errorf("load cli config: %w", err)
	}
	return opts, nil
}

// AdminSchema is the schema holding the tenant registry and platform tables.
func (o Options) AdminSchema() string {
	return tenant.BuildSchemaName(o.EnvKey, tenant.ToSnake(o.AdminTenantSlug))
}

func (o Options) validate() error {
	var missing []string
	if strings.TrimSpace(o.DatabaseURL) == "" {
		missing = append(missing, "--database-url")
	}
	if strings.TrimSpace(o.EnvKey) == "" {
		missing = append(missing, "--env-key")
	}
	if strings.TrimSpace(o.AdminTenantSlug) == "" {
		missing = append(missing, "--admin-tenant-slug")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

// App holds the services a command works with.
type App struct {
	Logger       *zap.Logger
	Pool         *pgxpool.Pool
	AdminSchema  string
	Tenants      *tenantsservice.Service
	Provisioning *provisioningservice.Service
	Watcher      *watcher.Watcher
	Templates    *templatesservice.Service

	closers []func()
}

// Close stops background work and releases the pool.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.Logger.Sync()
}

// Connect opens the pool only. bootstrap uses it before the platform tables exist.
func Connect(ctx context.Context, opts Options) (*pgxpool.Pool, *zap.Logger, error) {
	if err := opts.validate(); err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(opts)
	if err != nil {
		return nil, nil, err
	}
	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: opts.DatabaseURL})
	if err != nil {
		return nil, nil, fmt.Errorf("init pool: %w", err)
	}
	return pool, logger, nil
}

// Open builds the full service graph on top of an already bootstrapped admin schema.
func Open(ctx context.Context, opts Options) (*App, error) {
	pool, logger, err := Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	app, err := Build(pool, opts, logger)
	if err != nil {
		persistence.ClosePool(pool)
		return nil, err
	}
	app.closers = append([]func(){func() { persistence.ClosePool(pool) }}, app.closers...)
	return app, nil
}

// Build wires services over an existing pool. The caller owns the pool.
func Build(pool *pgxpool.Pool, opts Options, logger *zap.Logger) (*App, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	adminSchema := opts.AdminSchema()
	db := persistence.NewTenantDB(persistence.TenantDBConfig{Pool: pool, AdminSchema: adminSchema})

	tenantStore, err := persistence.NewTenantStore(db)
	if err != nil {
		return nil, fmt.Errorf("init tenant store: %w", err)
	}
	auditStore, err := persistence.NewAuditStore(db)
	if err != nil {
		return nil, fmt.Errorf("init audit store: %w", err)
	}
	watchStore, err := persistence.NewWatchStore(db)
	if err != nil {
		return nil, fmt.Errorf("init watch store: %w", err)
	}
	templateStore, err := persistence.NewTemplateStore(db)
	if err != nil {
		return nil, fmt.Errorf("init template store: %w", err)
	}
	rbacStore, err := persistence.NewRBACStore(db)
	if err != nil {
		return nil, fmt.Errorf("init rbac store: %w", err)
	}

	tenants := tenantsservice.New(
		tenantsrepo.NewPostgresRepository(tenantStore),
		tenantsprov.NewDBProvisioner(pool, adminSchema),
		opts.EnvKey,
	)
	audit := provisioningservice.NewAuditRecorder(
		provisioningrepo.NewPostgresAuditRepository(auditStore), nil, logger, nil)

	var provisioning *provisioningservice.Service
	w := watcher.New(watcher.Config{
		Interval:    opts.DeployPollInterval,
		MaxAttempts: opts.DeployPollMaxAttempts,
		LeaseTTL:    opts.WatchLeaseTTL,
		Owner:       "cli-" + uuid.NewString()[:8],
	}, func(ctx context.Context, tenantID uuid.UUID, deploymentID string, attempt int) (provisioningservice.PollResult, error) {
		return provisioning.PollDeploymentStatus(ctx, tenantID, deploymentID, attempt)
	}, audit, provisioningrepo.NewPostgresLeases(watchStore), logger, nil)

	provisioning = provisioningservice.New(provisioningservice.Deps{
		Tenants: tenants,
		Deployments: deployclient.New(deployclient.Config{
			BaseURL: opts.DeployAPIBaseURL,
			Token:   opts.DeployAPIToken,
		}, nil),
		Audit:     audit,
		Scheduler: w,
		Logger:    logger,
	})

	return &App{
		Logger:       logger,
		Pool:         pool,
		AdminSchema:  adminSchema,
		Tenants:      tenants,
		Provisioning: provisioning,
		Watcher:      w,
		Templates:    templatesservice.New(templatesrepo.NewPostgresRepository(templateStore, rbacStore), logger),
		closers:      []func(){w.Stop},
	}, nil
}

// Context tags ctx with the CLI actor so audit rows name who acted.
func Context(ctx context.Context) context.Context {
	return requesttrace.IntoContext(ctx, requesttrace.System("cli"))
}

// ResolveTenant accepts a tenant id or slug.
func (a *App) ResolveTenant(ctx context.Context, ref string) (tenantsservice.Tenant, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return tenantsservice.Tenant{}, errors.New("tenant id or slug is required")
	}
	if id, err := uuid.Parse(ref); err == nil {
		return a.Tenants.Get(ctx, id)
	}
	return a.Tenants.FindBySlug(ctx, ref)
}

// TenantContext resolves the tenant and binds its space to ctx.
func (a *App) TenantContext(ctx context.Context, ref string) (context.Context, tenantsservice.Tenant, error) {
	t, err := a.ResolveTenant(ctx, ref)
	if err != nil {
		return ctx, tenantsservice.Tenant{}, err
	}
	space, err := a.Tenants.ResolveTenantSpace(ctx, t.ID)
	if err != nil {
		return ctx, tenantsservice.Tenant{}, err
	}
	return tenant.WithSpace(ctx, space), t, nil
}

func newLogger(opts Options) (*zap.Logger, error) {
	out := opts.LogOutput
	if out == nil {
		out = os.Stderr
	}
	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "cli",
		Level:     opts.LogLevel,
		Output:    out,
	})
	if err != nil {
		return nil, fmt.Errorf("init zap logger: %w", err)
	}
	return logger, nil
}

// PrintJSON writes v as indented JSON followed by a newline.
func PrintJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
