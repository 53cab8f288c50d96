package middleware

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	platformauth "github.com/zenGate-Global/palmyra-owner/platform/go/auth"
	"github.com/zenGate-Global/palmyra-owner/platform/go/problems"
	"github.com/zenGate-Global/palmyra-owner/platform/go/tenant"
)

// ErrTenantUnavailable is returned by resolvers for tenants that exist but
// must not be served (for example disabled ones).
var ErrTenantUnavailable = errors.New("tenant unavailable")

// Resolver defines the minimal lookup capability required to populate a Tenant Space.
// Implemented by the tenants service.
type Resolver interface {
	ResolveTenantSpace(ctx context.Context, tenantID uuid.UUID) (tenant.Space, error)
}

// Config controls middleware behavior.
type Config struct {
	EnvKey string
	// Optional small in-memory TTL cache to avoid DB hits; zero disables caching.
	CacheTTL time.Duration
	// Now is overridable in tests.
	Now func() time.Time
}

// WithTenantSpace resolves tenant from JWT claims and attaches tenant.Space to context.
// It enforces that the tenant claim is present and that the resolved space matches the current envKey.
func WithTenantSpace(resolver Resolver, cfg Config) func(http.Handler) http.Handler {
	if resolver == nil {
		panic("tenant middleware: resolver is required")
	}
	if cfg.EnvKey == "" {
		panic("tenant middleware: envKey is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	var cache *tenantCache
	if cfg.CacheTTL > 0 {
		cache = newTenantCache(cfg.CacheTTL, cfg.Now)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			creds, ok := platformauth.UserFromContext(r.Context())
			if !ok || creds == nil || creds.TenantID == nil || *creds.TenantID == "" {
				problems.Write(w, problems.New(http.StatusUnauthorized, problems.TypeUnauthorized, "Unauthorized", "tenant claim required"))
				return
			}

			tid, err := uuid.Parse(*creds.TenantID)
			if err != nil {
				problems.Write(w, problems.New(http.StatusUnauthorized, problems.TypeUnauthorized, "Unauthorized", "invalid tenant id"))
				return
			}

			if space, hit := cache.get(tid); hit {
				next.ServeHTTP(w, r.WithContext(tenant.WithSpace(r.Context(), space)))
				return
			}

			space, err := resolver.ResolveTenantSpace(r.Context(), tid)
			if err != nil {
				if errors.Is(err, ErrTenantUnavailable) {
					problems.Write(w, problems.New(http.StatusForbidden, problems.TypeForbidden, "Forbidden", "tenant is disabled"))
					return
				}
				problems.Write(w, problems.New(http.StatusUnauthorized, problems.TypeUnauthorized, "Unauthorized", "tenant not found"))
				return
			}

			if !tenant.BelongsToEnv(space.SchemaName, cfg.EnvKey) {
				problems.Write(w, problems.New(http.StatusForbidden, problems.TypeForbidden, "Forbidden", "tenant env mismatch"))
				return
			}

			cache.put(space)

			next.ServeHTTP(w, r.WithContext(tenant.WithSpace(r.Context(), space)))
		})
	}
}

type tenantCache struct {
	ttl   time.Duration
	now   func() time.Time
	mu    sync.Mutex
	items map[uuid.UUID]cacheItem
}

type cacheItem struct {
	space     tenant.Space
	expiresAt time.Time
}

func newTenantCache(ttl time.Duration, now func() time.Time) *tenantCache {
	return &tenantCache{ttl: ttl, now: now, items: make(map[uuid.UUID]cacheItem)}
}

func (c *tenantCache) get(id uuid.UUID) (tenant.Space, bool) {
	if c == nil {
		return tenant.Space{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[id]
	if !ok {
		return tenant.Space{}, false
	}
	if c.now().After(item.expiresAt) {
		delete(c.items, id)
		return tenant.Space{}, false
	}
	return item.space, true
}

func (c *tenantCache) put(space tenant.Space) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[space.TenantID] = cacheItem{space: space, expiresAt: c.now().Add(c.ttl)}
}
