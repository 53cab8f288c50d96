package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-owner/domains/templates/be/repo"
	"github.com/zenGate-Global/palmyra-owner/domains/templates/be/service"
	tenantsrepo "github.com/zenGate-Global/palmyra-owner/domains/tenants/be/repo"
	tenantsservice "github.com/zenGate-Global/palmyra-owner/domains/tenants/be/service"
	"github.com/zenGate-Global/palmyra-owner/platform/go/problems"
	"github.com/zenGate-Global/palmyra-owner/platform/go/tenant"
)

type readyDB struct{}

func (readyDB) Ensure(context.Context, tenantsservice.DBProvisionRequest) (tenantsservice.DBProvisionResult, error) {
	return tenantsservice.DBProvisionResult{Ready: true}, nil
}

func (readyDB) Check(context.Context, tenantsservice.DBProvisionRequest) (tenantsservice.DBProvisionResult, error) {
	return tenantsservice.DBProvisionResult{Ready: true}, nil
}

type fixture struct {
	router  http.Handler
	mem     *repo.MemoryRepository
	tenants *tenantsservice.Service
	tenant  tenantsservice.Tenant
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	logger := zap.NewNop()

	tenants := tenantsservice.New(tenantsrepo.NewMemoryRepository(), readyDB{}, "dev")
	tn, err := tenants.Create(context.Background(), tenantsservice.CreateInput{Slug: "acme", CompanyName: "Acme"})
	require.NoError(t, err)

	mem := repo.NewMemoryRepository()
	_, err = mem.UpsertTemplate(context.Background(), service.Template{
		Key: service.DefaultTemplateKey, Version: 3, ContentType: service.ContentTypeJSON,
		Content: `{"roles":["admin"],"permissions":["users.read","users.write"]}`,
	})
	require.NoError(t, err)

	h := New(service.New(mem, logger), tenants, logger)
	r := chi.NewRouter()
	h.AdminRoutes(r)
	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				if req.Header.Get("X-Tenant") == "" {
					next.ServeHTTP(w, req)
					return
				}
				next.ServeHTTP(w, req.WithContext(tenant.WithSpace(req.Context(), tn.Space())))
			})
		})
		h.TenantRoutes(r)
	})
	return fixture{router: r, mem: mem, tenants: tenants, tenant: tn}
}

func (f fixture) call(method, path, body string, inTenant bool) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if inTenant {
		req.Header.Set("X-Tenant", "1")
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestApplyAndVersion(t *testing.T) {
	f := newFixture(t)

	rec := f.call(http.MethodGet, "/templates/version", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"version":0}`, rec.Body.String())

	rec = f.call(http.MethodPost, "/templates/apply", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var res service.SyncResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Equal(t, service.DefaultTemplateKey, res.TemplateKey)
	require.Equal(t, 3, res.TemplateVersion)
	require.Equal(t, 1, res.RolesProcessed)
	require.Equal(t, 2, res.RoleSummaries[0].GrantedThisRun)

	rec = f.call(http.MethodGet, "/templates/version", "", true)
	require.JSONEq(t, `{"version":3}`, rec.Body.String())
	require.Equal(t, []string{"users.read", "users.write"}, f.mem.Grants(f.tenant.Space(), "admin"))
}

func TestApplyErrors(t *testing.T) {
	f := newFixture(t)

	rec := f.call(http.MethodPost, "/templates/apply", `{"key":"nope"}`, true)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.call(http.MethodPost, "/templates/apply", `{"unknown":1}`, true)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.call(http.MethodPost, "/templates/apply", "", false)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	_, err := f.mem.UpsertTemplate(context.Background(), service.Template{Key: "broken", Version: 1, ContentType: "json", Content: `{"roles":[]}`})
	require.NoError(t, err)
	rec = f.call(http.MethodPost, "/templates/apply", `{"key":"broken"}`, true)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var p problems.Details
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	require.Equal(t, problems.TypeValidation, p.Type)
}

func TestAdminApply(t *testing.T) {
	f := newFixture(t)

	rec := f.call(http.MethodPost, "/admin/tenants/"+f.tenant.ID.String()+"/templates/apply", `{"overwrite":false}`, false)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"users.read", "users.write"}, f.mem.Grants(f.tenant.Space(), "admin"))

	rec = f.call(http.MethodPost, "/admin/tenants/"+uuid.NewString()+"/templates/apply", "", false)
	require.Equal(t, http.StatusNotFound, rec.Code)

	_, err := f.tenants.UpdateStatus(context.Background(), f.tenant.ID, tenantsservice.StatusDisabled)
	require.NoError(t, err)
	rec = f.call(http.MethodPost, "/admin/tenants/"+f.tenant.ID.String()+"/templates/apply", "", false)
	require.Equal(t, http.StatusConflict, rec.Code)
}
