package main

import (
	"context"
	"net/http"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	oapimiddleware "github.com/oapi-codegen/nethttp-middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	provisioninghandler "github.com/zenGate-Global/palmyra-owner/domains/provisioning/be/handler"
	templateshandler "github.com/zenGate-Global/palmyra-owner/domains/templates/be/handler"
	tenantshandler "github.com/zenGate-Global/palmyra-owner/domains/tenants/be/handler"
	tenantsservice "github.com/zenGate-Global/palmyra-owner/domains/tenants/be/service"
	platformauth "github.com/zenGate-Global/palmyra-owner/platform/go/auth"
	platformlogging "github.com/zenGate-Global/palmyra-owner/platform/go/logging"
	"github.com/zenGate-Global/palmyra-owner/platform/go/metrics"
	platformmiddleware "github.com/zenGate-Global/palmyra-owner/platform/go/middleware"
	"github.com/zenGate-Global/palmyra-owner/platform/go/problems"
	tenantmiddleware "github.com/zenGate-Global/palmyra-owner/platform/go/tenant/middleware"
)

// routerDeps holds everything the HTTP surface is composed from.
type routerDeps struct {
	Logger         *zap.Logger
	Spec           *openapi3.T
	Auth           func(http.Handler) http.Handler
	Tenants        *tenantsservice.Service
	TenantsHTTP    *tenantshandler.Handler
	Provisioning   *provisioninghandler.Handler
	Templates      *templateshandler.Handler
	EnvKey         string
	CORSOrigins    []string
	RequestTimeout time.Duration
	// Registry enables /metrics and HTTP collectors when non-nil.
	Registry *prometheus.Registry
	Ready    func(ctx context.Context) error
}

func newRouter(d routerDeps) http.Handler {
	rootRouter := chi.NewRouter()

	rootRouter.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		requestTimeout(d.RequestTimeout),
		platformmiddleware.CORS(d.CORSOrigins),
	)
	if d.Registry != nil {
		rootRouter.Use(metrics.HTTP(d.Registry))
		rootRouter.Handle("/metrics", promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{}))
	}
	rootRouter.Use(platformlogging.RequestLogger(d.Logger))

	rootRouter.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if d.Ready != nil {
			if err := d.Ready(r.Context()); err != nil {
				platformlogging.FromRequest(r, d.Logger).Warn("readiness check failed", zap.Error(err))
				problems.Write(w, problems.New(http.StatusServiceUnavailable, problems.TypeServiceUnavailable, "Not ready", "database unreachable"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})

	// ---- Swagger UI + OpenAPI JSON (public) ----
	registerDocsRoutes(rootRouter, d.Spec, d.Logger)

	apiRouter := chi.NewRouter()
	apiRouter.Use(d.Auth)
	apiRouter.Use(platformmiddleware.RequestTrace)
	apiRouter.Use(newSpecValidator(d.Spec))

	apiRouter.Group(func(r chi.Router) {
		r.Use(platformauth.RequireRole(platformauth.RoleAdmin))
		d.TenantsHTTP.Routes(r)
		d.Provisioning.Routes(r)
		d.Templates.AdminRoutes(r)
	})

	apiRouter.Group(func(r chi.Router) {
		r.Use(platformauth.RequireAuthenticated)
		r.Use(tenantmiddleware.WithTenantSpace(d.Tenants, tenantmiddleware.Config{
			EnvKey:   d.EnvKey,
			CacheTTL: time.Minute,
		}))
		d.Templates.TenantRoutes(r)
	})

	rootRouter.Mount("/api/v1", apiRouter)
	return rootRouter
}

// newSpecValidator enforces the owner contract on every API request.
func newSpecValidator(spec *openapi3.T) func(http.Handler) http.Handler {
	return oapimiddleware.OapiRequestValidatorWithOptions(spec, &oapimiddleware.Options{
		Options: openapi3filter.Options{
			AuthenticationFunc: platformmiddleware.ValidateAuthenticationViaSwagger,
		},
		ErrorHandler: func(w http.ResponseWriter, message string, statusCode int) {
			switch statusCode {
			case http.StatusBadRequest:
				problems.Write(w, problems.Validation(message, nil))
			case http.StatusUnauthorized:
				problems.Write(w, problems.New(statusCode, problems.TypeUnauthorized, "Unauthorized", message))
			case http.StatusNotFound:
				problems.Write(w, problems.New(statusCode, problems.TypeNotFound, "Not found", message))
			default:
				problems.Write(w, problems.New(statusCode, problems.TypeInternal, http.StatusText(statusCode), message))
			}
		},
	})
}

// requestTimeout bounds ordinary requests. Websocket upgrades are long-lived and skip it.
func requestTimeout(d time.Duration) func(http.Handler) http.Handler {
	if d <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	timeout := chimw.Timeout(d)
	return func(next http.Handler) http.Handler {
		limited := timeout(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if websocket.IsWebSocketUpgrade(r) {
				next.ServeHTTP(w, r)
				return
			}
			limited.ServeHTTP(w, r)
		})
	}
}
