package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-owner/domains/provisioning/be/deployclient"
	tenantsrepo "github.com/zenGate-Global/palmyra-owner/domains/tenants/be/repo"
	tenantsservice "github.com/zenGate-Global/palmyra-owner/domains/tenants/be/service"
	"github.com/zenGate-Global/palmyra-owner/platform/go/events"
	"github.com/zenGate-Global/palmyra-owner/platform/go/requesttrace"
)

type memAudit struct {
	mu       sync.Mutex
	entries  []AuditEntry
	clock    clock.Clock
	failStep string
}

func (m *memAudit) Append(_ context.Context, e AuditEntry) (AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.Step == m.failStep {
		return AuditEntry{}, errors.New("audit store down")
	}
	e.ID = int64(len(m.entries) + 1)
	e.CreatedAt = m.clock.Now()
	m.entries = append(m.entries, e)
	return e, nil
}

func (m *memAudit) Latest(_ context.Context, tenantID uuid.UUID) (AuditEntry, error) {
	list, _ := m.List(context.Background(), tenantID, 1)
	if len(list) == 0 {
		return AuditEntry{}, ErrNoAudit
	}
	return list[0], nil
}

func (m *memAudit) List(_ context.Context, tenantID uuid.UUID, limit int) ([]AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AuditEntry
	for _, e := range m.entries {
		if e.TenantID == tenantID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memAudit) forTenant(id uuid.UUID) []AuditEntry {
	list, _ := m.List(context.Background(), id, 1000)
	return list
}

type recordingScheduler struct {
	mu    sync.Mutex
	calls []string
}

func (s *recordingScheduler) Schedule(_ uuid.UUID, deploymentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, deploymentID)
	return true
}

func (s *recordingScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type readyDB struct{}

func (readyDB) Ensure(context.Context, tenantsservice.DBProvisionRequest) (tenantsservice.DBProvisionResult, error) {
	return tenantsservice.DBProvisionResult{Ready: true}, nil
}

func (readyDB) Check(context.Context, tenantsservice.DBProvisionRequest) (tenantsservice.DBProvisionResult, error) {
	return tenantsservice.DBProvisionResult{Ready: true}, nil
}

// fakePlatform is a scripted deployment platform.
type fakePlatform struct {
	calls       atomic.Int32
	createCode  int
	deployment  string
	state       atomic.Value
	statusFails atomic.Bool
}

func newFakePlatform(t *testing.T) (*fakePlatform, *httptest.Server) {
	t.Helper()
	p := &fakePlatform{createCode: http.StatusCreated, deployment: "D1"}
	p.state.Store("running")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.calls.Add(1)
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/deployments":
			w.WriteHeader(p.createCode)
			if p.createCode < 300 {
				_, _ = io.WriteString(w, `{"id":"`+p.deployment+`"}`)
			}
		case r.Method == http.MethodGet && r.URL.Path == "/deployments/"+p.deployment:
			if p.statusFails.Load() {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"status": p.state.Load().(string)})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return p, srv
}

type fixture struct {
	svc       *Service
	tenants   *tenantsservice.Service
	audit     *memAudit
	scheduler *recordingScheduler
	recorder  *events.Recorder
	tenantID  uuid.UUID
}

func newFixture(t *testing.T, client Deployments) *fixture {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))

	tenants := tenantsservice.New(tenantsrepo.NewMemoryRepository(), readyDB{}, "dev")
	created, err := tenants.Create(context.Background(), tenantsservice.CreateInput{Slug: "t1", CompanyName: "Tenant One"})
	require.NoError(t, err)

	audit := &memAudit{clock: clk}
	recorder := events.NewRecorder(64)
	scheduler := &recordingScheduler{}
	logger := zap.NewNop()

	svc := New(Deps{
		Tenants:     tenants,
		Deployments: client,
		Audit:       NewAuditRecorder(audit, recorder, logger, clk),
		Scheduler:   scheduler,
		Publisher:   recorder,
		Logger:      logger,
		Clock:       clk,
	})
	return &fixture{svc: svc, tenants: tenants, audit: audit, scheduler: scheduler, recorder: recorder, tenantID: created.ID}
}

func (f *fixture) tenantStatus(t *testing.T) tenantsservice.Status {
	t.Helper()
	tn, err := f.tenants.Get(context.Background(), f.tenantID)
	require.NoError(t, err)
	return tn.Status
}

func TestProvisionMissingCredentials(t *testing.T) {
	platform, srv := newFakePlatform(t)
	f := newFixture(t, deployclient.New(deployclient.Config{BaseURL: srv.URL}, nil))

	_, err := f.svc.Provision(context.Background(), f.tenantID, false)
	require.ErrorIs(t, err, ErrServiceUnavailable)
	require.ErrorIs(t, err, deployclient.ErrMissingCredentials)

	require.Zero(t, platform.calls.Load())
	require.Equal(t, tenantsservice.StatusProvisionFailed, f.tenantStatus(t))

	entries := f.audit.forTenant(f.tenantID)
	require.Len(t, entries, 1)
	require.Equal(t, StepRequested, entries[0].Step)
	require.Equal(t, StatusFailed, entries[0].Status)
	require.JSONEq(t, `"missing credentials"`, string(mustField(t, entries[0].Payload, "reason")))
	require.Zero(t, f.scheduler.count())
}

func TestProvisionUpstreamFailure(t *testing.T) {
	platform, srv := newFakePlatform(t)
	platform.createCode = http.StatusInternalServerError
	f := newFixture(t, deployclient.New(deployclient.Config{BaseURL: srv.URL, Token: "tok"}, nil))

	_, err := f.svc.Provision(context.Background(), f.tenantID, true)
	require.ErrorIs(t, err, ErrUpstream)
	require.ErrorIs(t, err, deployclient.ErrRequestFailed)
	require.Equal(t, tenantsservice.StatusProvisionFailed, f.tenantStatus(t))

	latest, err := f.audit.Latest(context.Background(), f.tenantID)
	require.NoError(t, err)
	require.Equal(t, StepRequested, latest.Step)
	require.Equal(t, StatusFailed, latest.Status)
	require.NotNil(t, latest.Error)
	require.Equal(t, 1, int(platform.calls.Load()))
}

func TestProvisionUnknownTenant(t *testing.T) {
	_, srv := newFakePlatform(t)
	f := newFixture(t, deployclient.New(deployclient.Config{BaseURL: srv.URL, Token: "tok"}, nil))

	_, err := f.svc.Provision(context.Background(), uuid.New(), false)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestProvisionEndToEnd(t *testing.T) {
	platform, srv := newFakePlatform(t)
	f := newFixture(t, deployclient.New(deployclient.Config{BaseURL: srv.URL, Token: "tok"}, nil))

	ctx := requesttrace.IntoContext(context.Background(), requesttrace.System("req-1"))
	res, err := f.svc.Provision(ctx, f.tenantID, false)
	require.NoError(t, err)
	require.Equal(t, ProvisionResult{TenantID: f.tenantID, Status: StatusQueued, DeploymentID: "D1"}, res)
	require.Equal(t, tenantsservice.StatusProvisioning, f.tenantStatus(t))
	require.Equal(t, 1, f.scheduler.count())

	entries := f.audit.forTenant(f.tenantID)
	require.Len(t, entries, 2)
	requested := entries[1]
	require.Equal(t, StepRequested, requested.Step)
	require.Equal(t, StatusQueued, requested.Status)
	require.Equal(t, "D1", requested.DeploymentID())
	require.JSONEq(t, `{"kind":"system","requestId":"req-1"}`, string(mustField(t, requested.Payload, "actor")))
	require.Equal(t, StepStatus, entries[0].Step)
	require.Equal(t, StateInProgress, entries[0].Status)

	status, err := f.svc.GetStatus(context.Background(), f.tenantID)
	require.NoError(t, err)
	require.Equal(t, StateInProgress, status.Status)
	require.Equal(t, string(tenantsservice.StatusProvisioning), status.TenantStatus)

	platform.state.Store("completed")
	polled, err := f.svc.PollDeploymentStatus(context.Background(), f.tenantID, "D1", 1)
	require.NoError(t, err)
	require.Equal(t, StateSuccess, polled.State)
	require.Equal(t, tenantsservice.StatusActive, f.tenantStatus(t))

	latest, err := f.audit.Latest(context.Background(), f.tenantID)
	require.NoError(t, err)
	require.Equal(t, StateSuccess, latest.Status)

	// Terminal state: the status query no longer polls.
	before := platform.calls.Load()
	status, err = f.svc.GetStatus(context.Background(), f.tenantID)
	require.NoError(t, err)
	require.Equal(t, StateSuccess, status.Status)
	require.Equal(t, before, platform.calls.Load())

	var sawStatusEvent bool
	for _, evt := range f.recorder.Drain() {
		if evt.Type == events.TypeProvisioningStatus {
			sawStatusEvent = true
		}
	}
	require.True(t, sawStatusEvent)
}

func TestProvisionSkipsWatcherOnTerminalFirstPoll(t *testing.T) {
	platform, srv := newFakePlatform(t)
	platform.state.Store("failed")
	f := newFixture(t, deployclient.New(deployclient.Config{BaseURL: srv.URL, Token: "tok"}, nil))

	_, err := f.svc.Provision(context.Background(), f.tenantID, false)
	require.NoError(t, err)
	require.Zero(t, f.scheduler.count())
	require.Equal(t, tenantsservice.StatusProvisionFailed, f.tenantStatus(t))
}

func TestTerminalPollKeepsStateWhenAuditFails(t *testing.T) {
	platform, srv := newFakePlatform(t)
	f := newFixture(t, deployclient.New(deployclient.Config{BaseURL: srv.URL, Token: "tok"}, nil))

	_, err := f.svc.Provision(context.Background(), f.tenantID, false)
	require.NoError(t, err)

	platform.state.Store("completed")
	f.audit.mu.Lock()
	f.audit.failStep = StepStatus
	f.audit.mu.Unlock()

	res, err := f.svc.PollDeploymentStatus(context.Background(), f.tenantID, "D1", 1)
	require.Error(t, err)
	require.Equal(t, StateSuccess, res.State)
	require.Equal(t, tenantsservice.StatusActive, f.tenantStatus(t))
}

func TestPollErrorIsAuditedAndStatusStaysInFlight(t *testing.T) {
	platform, srv := newFakePlatform(t)
	f := newFixture(t, deployclient.New(deployclient.Config{BaseURL: srv.URL, Token: "tok"}, nil))

	platform.statusFails.Store(true)
	res, err := f.svc.Provision(context.Background(), f.tenantID, false)
	require.NoError(t, err, "initial poll failures are not propagated")
	require.Equal(t, "D1", res.DeploymentID)
	require.Equal(t, 1, f.scheduler.count())

	latest, err := f.audit.Latest(context.Background(), f.tenantID)
	require.NoError(t, err)
	require.Equal(t, StepPollError, latest.Step)
	require.Equal(t, StateUnknown, latest.Status)
	require.Equal(t, "D1", latest.DeploymentID())

	status, err := f.svc.GetStatus(context.Background(), f.tenantID)
	require.NoError(t, err)
	require.Equal(t, StepPollError, status.Step)
	require.Equal(t, 2, f.scheduler.count())
}

func TestGetStatusNotStarted(t *testing.T) {
	_, srv := newFakePlatform(t)
	f := newFixture(t, deployclient.New(deployclient.Config{BaseURL: srv.URL, Token: "tok"}, nil))

	status, err := f.svc.GetStatus(context.Background(), f.tenantID)
	require.NoError(t, err)
	require.Equal(t, StatusNotStarted, status.Status)
	require.Equal(t, string(tenantsservice.StatusPending), status.TenantStatus)
	require.Nil(t, status.UpdatedAt)
}

func TestListAudit(t *testing.T) {
	_, srv := newFakePlatform(t)
	f := newFixture(t, deployclient.New(deployclient.Config{BaseURL: srv.URL, Token: "tok"}, nil))

	_, err := f.svc.Provision(context.Background(), f.tenantID, false)
	require.NoError(t, err)

	list, err := f.svc.ListAudit(context.Background(), f.tenantID, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = f.svc.ListAudit(context.Background(), uuid.New(), 10)
	require.ErrorIs(t, err, ErrNotFound)
}

func mustField(t *testing.T, payload json.RawMessage, key string) json.RawMessage {
	t.Helper()
	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(payload, &doc))
	v, ok := doc[key]
	require.True(t, ok, "payload has no %q", key)
	return v
}
