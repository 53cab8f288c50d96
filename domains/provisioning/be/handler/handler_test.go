package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-owner/domains/provisioning/be/deployclient"
	"github.com/zenGate-Global/palmyra-owner/domains/provisioning/be/repo"
	"github.com/zenGate-Global/palmyra-owner/domains/provisioning/be/service"
	"github.com/zenGate-Global/palmyra-owner/domains/provisioning/be/watcher"
	tenantsrepo "github.com/zenGate-Global/palmyra-owner/domains/tenants/be/repo"
	tenantsservice "github.com/zenGate-Global/palmyra-owner/domains/tenants/be/service"
	"github.com/zenGate-Global/palmyra-owner/platform/go/problems"
)

type readyDB struct{}

func (readyDB) Ensure(context.Context, tenantsservice.DBProvisionRequest) (tenantsservice.DBProvisionResult, error) {
	return tenantsservice.DBProvisionResult{Ready: true}, nil
}

func (readyDB) Check(context.Context, tenantsservice.DBProvisionRequest) (tenantsservice.DBProvisionResult, error) {
	return tenantsservice.DBProvisionResult{Ready: true}, nil
}

func newRouter(t *testing.T, cfg deployclient.Config) (http.Handler, uuid.UUID) {
	t.Helper()
	logger := zap.NewNop()

	tenants := tenantsservice.New(tenantsrepo.NewMemoryRepository(), readyDB{}, "dev")
	tn, err := tenants.Create(context.Background(), tenantsservice.CreateInput{Slug: "acme", CompanyName: "Acme"})
	require.NoError(t, err)

	audit := service.NewAuditRecorder(repo.NewMemoryAuditRepository(), nil, logger, nil)

	var svc *service.Service
	w := watcher.New(watcher.Config{Interval: time.Hour}, func(ctx context.Context, tenantID uuid.UUID, deploymentID string, attempt int) (service.PollResult, error) {
		return svc.PollDeploymentStatus(ctx, tenantID, deploymentID, attempt)
	}, audit, watcher.NewMemoryLeases(), logger, nil)
	t.Cleanup(w.Stop)

	svc = service.New(service.Deps{
		Tenants:     tenants,
		Deployments: deployclient.New(cfg, nil),
		Audit:       audit,
		Scheduler:   w,
		Logger:      logger,
	})

	r := chi.NewRouter()
	New(svc, nil, logger).Routes(r)
	return r, tn.ID
}

func platform(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = io.WriteString(w, `{"id":42}`)
			return
		}
		_, _ = io.WriteString(w, `{"deployment":{"state":"running"}}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func call(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestProvisionAccepted(t *testing.T) {
	srv := platform(t)
	h, tenantID := newRouter(t, deployclient.Config{BaseURL: srv.URL, Token: "tok"})

	rec := call(h, http.MethodPost, "/admin/tenants/"+tenantID.String()+"/provision", `{"force":true}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var res service.ProvisionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Equal(t, "queued", res.Status)
	require.Equal(t, "42", res.DeploymentID)

	rec = call(h, http.MethodGet, "/admin/tenants/"+tenantID.String()+"/provision-status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status service.StatusResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Equal(t, service.StateInProgress, status.Status)
	require.Equal(t, "provisioning", status.TenantStatus)

	rec = call(h, http.MethodGet, "/admin/tenants/"+tenantID.String()+"/provision-audit?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list AuditList
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Items, 2)
}

func TestProvisionMissingCredentialsIs503(t *testing.T) {
	h, tenantID := newRouter(t, deployclient.Config{})

	rec := call(h, http.MethodPost, "/admin/tenants/"+tenantID.String()+"/provision", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var p problems.Details
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	require.Equal(t, problems.TypeServiceUnavailable, p.Type)
}

func TestProvisionUpstreamIs502(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	h, tenantID := newRouter(t, deployclient.Config{BaseURL: srv.URL, Token: "tok"})

	rec := call(h, http.MethodPost, "/admin/tenants/"+tenantID.String()+"/provision", "")
	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestUnknownTenantIs404(t *testing.T) {
	srv := platform(t)
	h, _ := newRouter(t, deployclient.Config{BaseURL: srv.URL, Token: "tok"})

	rec := call(h, http.MethodGet, "/admin/tenants/"+uuid.NewString()+"/provision-status", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = call(h, http.MethodPost, "/admin/tenants/nope/provision", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
