package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-owner/domains/tenants/be/repo"
	"github.com/zenGate-Global/palmyra-owner/domains/tenants/be/service"
	"github.com/zenGate-Global/palmyra-owner/platform/go/problems"
)

type readyDB struct{}

func (readyDB) Ensure(context.Context, service.DBProvisionRequest) (service.DBProvisionResult, error) {
	return service.DBProvisionResult{Ready: true}, nil
}

func (readyDB) Check(context.Context, service.DBProvisionRequest) (service.DBProvisionResult, error) {
	return service.DBProvisionResult{Ready: true}, nil
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	svc := service.New(repo.NewMemoryRepository(), readyDB{}, "dev")
	r := chi.NewRouter()
	New(svc, zap.NewNop()).Routes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateGetAndList(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/admin/tenants", `{"slug":"acme","companyName":"Acme Hospital"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created Tenant
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, "pending", created.Status)
	require.Equal(t, "dev__tenant_acme", created.DBName)
	require.Equal(t, "/api/v1/admin/tenants/"+created.TenantID.String(), rec.Header().Get("Location"))

	rec = do(t, h, http.MethodGet, "/admin/tenants/"+created.TenantID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/admin/tenants?status=pending&pageSize=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list TenantList
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Equal(t, 1, list.TotalItems)
	require.Equal(t, 5, list.PageSize)
}

func TestCreateConflictAndValidation(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/admin/tenants", `{"slug":"acme","companyName":"Acme"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, h, http.MethodPost, "/admin/tenants", `{"slug":"acme","companyName":"Acme again"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, problems.ContentType, rec.Header().Get("Content-Type"))

	rec = do(t, h, http.MethodPost, "/admin/tenants", `{"slug":"Bad Slug"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var p problems.Details
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	require.Contains(t, p.Errors, "slug")
	require.Contains(t, p.Errors, "companyName")
}

func TestGetUnknownAndBadID(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodGet, "/admin/tenants/"+uuid.NewString(), "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/admin/tenants/not-a-uuid", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateStatusTransitions(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/admin/tenants", `{"slug":"acme","companyName":"Acme"}`)
	var created Tenant
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	path := "/admin/tenants/" + created.TenantID.String()

	rec = do(t, h, http.MethodPatch, path, `{"status":"active"}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPatch, path, `{"status":"disabled"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var updated Tenant
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	require.Equal(t, "disabled", updated.Status)
}
