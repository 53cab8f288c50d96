package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zenGate-Global/palmyra-owner/contracts"
	"github.com/zenGate-Global/palmyra-owner/domains/provisioning/be/deployclient"
	provisioninghandler "github.com/zenGate-Global/palmyra-owner/domains/provisioning/be/handler"
	provisioningrepo "github.com/zenGate-Global/palmyra-owner/domains/provisioning/be/repo"
	provisioningservice "github.com/zenGate-Global/palmyra-owner/domains/provisioning/be/service"
	"github.com/zenGate-Global/palmyra-owner/domains/provisioning/be/watcher"
	templateshandler "github.com/zenGate-Global/palmyra-owner/domains/templates/be/handler"
	templatesrepo "github.com/zenGate-Global/palmyra-owner/domains/templates/be/repo"
	templatesservice "github.com/zenGate-Global/palmyra-owner/domains/templates/be/service"
	tenantshandler "github.com/zenGate-Global/palmyra-owner/domains/tenants/be/handler"
	tenantsprov "github.com/zenGate-Global/palmyra-owner/domains/tenants/be/provisioning"
	tenantsrepo "github.com/zenGate-Global/palmyra-owner/domains/tenants/be/repo"
	tenantsservice "github.com/zenGate-Global/palmyra-owner/domains/tenants/be/service"
	platformlogging "github.com/zenGate-Global/palmyra-owner/platform/go/logging"
	"github.com/zenGate-Global/palmyra-owner/platform/go/metrics"
	"github.com/zenGate-Global/palmyra-owner/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-owner/platform/go/tenant"
)

type config struct {
	Port            string        `env:"PORT" envDefault:"3000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL     string        `env:"DATABASE_URL,required"`
	EnvKey          string        `env:"ENV_KEY,required"`
	AdminTenantSlug string        `env:"ADMIN_TENANT_SLUG" envDefault:"admin"`
	CORSOrigins     []string      `env:"CORS_ORIGINS" envSeparator:","`

	Pool persistence.PoolConfig `envPrefix:"DB_"`

	AuthProvider            string `env:"AUTH_PROVIDER" envDefault:"firebase"` // firebase | hmac | dev
	AuthHMACSecret          string `env:"AUTH_HMAC_SECRET"`
	FirebaseCredentialsFile string `env:"FIREBASE_CREDENTIALS_FILE"`

	// Checked per call so the API still serves status and audit without them.
	DeployAPIBaseURL      string        `env:"DEPLOY_API_BASE_URL"`
	DeployAPIToken        string        `env:"DEPLOY_API_TOKEN"`
	DeployPollInterval    time.Duration `env:"DEPLOY_POLL_INTERVAL" envDefault:"30s"`
	DeployPollMaxAttempts int           `env:"DEPLOY_POLL_MAX_ATTEMPTS" envDefault:"40"`
	WatchLeaseTTL         time.Duration `env:"WATCH_LEASE_TTL" envDefault:"2m"`

	EventsBackend string `env:"EVENTS_BACKEND" envDefault:"none"` // none | redis | nats
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	NATSURL       string `env:"NATS_URL" envDefault:"nats://localhost:4222"`

	MetricsEnabled bool `env:"METRICS_ENABLED" envDefault:"true"`
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("load .env: %v", err)
	}

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "api-server",
		Level:     cfg.LogLevel,
	})
	if err != nil {
		log.Fatalf("init zap logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("api server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config, logger *zap.Logger) error {
	adminSchema := tenant.BuildSchemaName(cfg.EnvKey, tenant.ToSnake(cfg.AdminTenantSlug))

	spec, err := contracts.Owner(ctx)
	if err != nil {
		return err
	}

	cfg.Pool.ConnString = cfg.DatabaseURL
	pool, err := persistence.NewPool(ctx, cfg.Pool)
	if err != nil {
		return fmt.Errorf("init postgres pool: %w", err)
	}
	defer persistence.ClosePool(pool)

	tenantDB := persistence.NewTenantDB(persistence.TenantDBConfig{
		Pool:        pool,
		AdminSchema: adminSchema,
	})
	stores, err := newStores(tenantDB)
	if err != nil {
		return err
	}

	var (
		registry *prometheus.Registry
		pm       *metrics.Provisioning
	)
	if cfg.MetricsEnabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		pm = metrics.NewProvisioning(registry)
	}

	live, err := buildLiveEvents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer live.Close()

	tenantService := tenantsservice.New(
		tenantsrepo.NewPostgresRepository(stores.tenants),
		tenantsprov.NewDBProvisioner(pool, adminSchema),
		cfg.EnvKey,
	)

	audit := provisioningservice.NewAuditRecorder(
		provisioningrepo.NewPostgresAuditRepository(stores.audit), live.Publisher, logger, nil)

	var provisioning *provisioningservice.Service
	deploymentWatcher := watcher.New(watcher.Config{
		Interval:    cfg.DeployPollInterval,
		MaxAttempts: cfg.DeployPollMaxAttempts,
		LeaseTTL:    cfg.WatchLeaseTTL,
		Owner:       instanceID(),
	}, func(ctx context.Context, tenantID uuid.UUID, deploymentID string, attempt int) (provisioningservice.PollResult, error) {
		return provisioning.PollDeploymentStatus(ctx, tenantID, deploymentID, attempt)
	}, audit, provisioningrepo.NewPostgresLeases(stores.watches), logger, pm)
	defer deploymentWatcher.Stop()

	provisioning = provisioningservice.New(provisioningservice.Deps{
		Tenants: tenantService,
		Deployments: deployclient.New(deployclient.Config{
			BaseURL: cfg.DeployAPIBaseURL,
			Token:   cfg.DeployAPIToken,
		}, nil),
		Audit:     audit,
		Scheduler: deploymentWatcher,
		Publisher: live.Publisher,
		Metrics:   pm,
		Logger:    logger,
	})

	templateService := templatesservice.New(
		templatesrepo.NewPostgresRepository(stores.templates, stores.rbac),
		logger,
		templatesservice.WithMetrics(pm),
	)

	verify, err := buildVerifier(ctx, cfg, logger)
	if err != nil {
		return err
	}

	handler := newRouter(routerDeps{
		Logger:         logger,
		Spec:           spec,
		Auth:           buildAuthMiddleware(verify, tenantService),
		Tenants:        tenantService,
		TenantsHTTP:    tenantshandler.New(tenantService, logger),
		Provisioning:   provisioninghandler.New(provisioning, http.HandlerFunc(live.Hub.ServeWS), logger),
		Templates:      templateshandler.New(templateService, tenantService, logger),
		EnvKey:         cfg.EnvKey,
		CORSOrigins:    cfg.CORSOrigins,
		RequestTimeout: cfg.RequestTimeout,
		Registry:       registry,
		Ready:          func(ctx context.Context) error { return pool.Ping(ctx) },
	})

	if _, err := deploymentWatcher.Resume(ctx); err != nil {
		logger.Warn("resume deployment watches failed", zap.Error(err))
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting api server", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down api server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		deploymentWatcher.Stop()
		return nil
	})
	return g.Wait()
}

type stores struct {
	tenants   *persistence.TenantStore
	audit     *persistence.AuditStore
	watches   *persistence.WatchStore
	templates *persistence.TemplateStore
	rbac      *persistence.RBACStore
}

func newStores(db *persistence.TenantDB) (stores, error) {
	var (
		s   stores
		err error
	)
	if s.tenants, err = persistence.NewTenantStore(db); err != nil {
		return s, fmt.Errorf("init tenant store: %w", err)
	}
	if s.audit, err = persistence.NewAuditStore(db); err != nil {
		return s, fmt.Errorf("init audit store: %w", err)
	}
	if s.watches, err = persistence.NewWatchStore(db); err != nil {
		return s, fmt.Errorf("init watch store: %w", err)
	}
	if s.templates, err = persistence.NewTemplateStore(db); err != nil {
		return s, fmt.Errorf("init template store: %w", err)
	}
	if s.rbac, err = persistence.NewRBACStore(db); err != nil {
		return s, fmt.Errorf("init rbac store: %w", err)
	}
	return s, nil
}

// instanceID names this process in the deployment_watches lease column.
func instanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "api"
	}
	return host + "-" + uuid.NewString()[:8]
}
