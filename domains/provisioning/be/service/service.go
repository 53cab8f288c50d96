// Package service drives tenant provisioning: it requests deployments, polls
// their status and keeps the tenant registry and audit log in step.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-owner/domains/provisioning/be/deployclient"
	tenantsservice "github.com/zenGate-Global/palmyra-owner/domains/tenants/be/service"
	"github.com/zenGate-Global/palmyra-owner/platform/go/events"
	"github.com/zenGate-Global/palmyra-owner/platform/go/logging"
	"github.com/zenGate-Global/palmyra-owner/platform/go/metrics"
	"github.com/zenGate-Global/palmyra-owner/platform/go/requesttrace"
)

// Errors returned by the service layer.
var (
	ErrNotFound           = errors.New("tenant not found")
	ErrTenantDisabled     = errors.New("tenant is disabled")
	ErrServiceUnavailable = errors.New("deployment platform unavailable")
	ErrUpstream           = errors.New("deployment platform request failed")
)

const missingCredentialsReason = "missing credentials"

// Tenants is the slice of the tenant registry used by provisioning.
type Tenants interface {
	Get(ctx context.Context, id uuid.UUID) (tenantsservice.Tenant, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, to tenantsservice.Status) (tenantsservice.Tenant, error)
}

// Deployments is the deployment platform client.
type Deployments interface {
	CheckCredentials() error
	CreateDeployment(ctx context.Context, req deployclient.CreateRequest) (deployclient.Deployment, error)
	GetDeploymentStatus(ctx context.Context, deploymentID string) (json.RawMessage, error)
}

// Scheduler starts background polling for a deployment. It returns false when
// a watch for the key is already running.
type Scheduler interface {
	Schedule(tenantID uuid.UUID, deploymentID string) bool
}

// Deps groups the collaborators of Service.
type Deps struct {
	Tenants     Tenants
	Deployments Deployments
	Audit       *AuditRecorder
	Scheduler   Scheduler
	Publisher   events.Publisher
	Metrics     *metrics.Provisioning
	Logger      *zap.Logger
	Clock       clock.Clock
}

// Service implements the provisioning orchestrator and status query.
type Service struct {
	tenants     Tenants
	deployments Deployments
	audit       *AuditRecorder
	scheduler   Scheduler
	publisher   events.Publisher
	metrics     *metrics.Provisioning
	logger      *zap.Logger
	clock       clock.Clock
}

// New constructs a Service with required dependencies.
func New(d Deps) *Service {
	if d.Tenants == nil {
		panic("tenants dependency is required")
	}
	if d.Deployments == nil {
		panic("deployment client is required")
	}
	if d.Audit == nil {
		panic("audit recorder is required")
	}
	if d.Scheduler == nil {
		panic("scheduler is required")
	}
	if d.Logger == nil {
		panic("logger is required")
	}
	if d.Publisher == nil {
		d.Publisher = events.Nop{}
	}
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	return &Service{
		tenants:     d.Tenants,
		deployments: d.Deployments,
		audit:       d.Audit,
		scheduler:   d.Scheduler,
		publisher:   d.Publisher,
		metrics:     d.Metrics,
		logger:      d.Logger,
		clock:       d.Clock,
	}
}

// ProvisionResult is returned once a deployment has been requested.
type ProvisionResult struct {
	TenantID     uuid.UUID `json:"tenantId"`
	Status       string    `json:"status"`
	DeploymentID string    `json:"deploymentId"`
}

// PollResult is the outcome of one status poll.
type PollResult struct {
	State   string
	Payload json.RawMessage
}

// StatusResult is the last known provisioning status of a tenant.
type StatusResult struct {
	TenantID     uuid.UUID       `json:"tenantId"`
	Status       string          `json:"status"`
	Step         string          `json:"step,omitempty"`
	TenantStatus string          `json:"tenantStatus"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Error        *string         `json:"error,omitempty"`
	UpdatedAt    *time.Time      `json:"updatedAt,omitempty"`
}

// Provision requests a deployment for the tenant and hands it to the
// scheduler. It never waits for the deployment to finish.
func (s *Service) Provision(ctx context.Context, tenantID uuid.UUID, force bool) (ProvisionResult, error) {
	logger := logging.FromContextOr(ctx, s.logger).With(zap.String("tenant_id", tenantID.String()))

	t, err := s.getTenant(ctx, tenantID)
	if err != nil {
		return ProvisionResult{}, err
	}
	if t.Status == tenantsservice.StatusDisabled {
		return ProvisionResult{}, ErrTenantDisabled
	}

	actor := requesttrace.FromContextOrAnonymous(ctx).Actor()

	if err := s.deployments.CheckCredentials(); err != nil {
		s.metrics.ProvisionRequested("missing_credentials")
		s.setStatus(ctx, logger, tenantID, tenantsservice.StatusProvisionFailed)
		if _, aerr := s.audit.Record(ctx, tenantID, StepRequested, StatusFailed, map[string]any{
			"reason": missingCredentialsReason,
			"force":  force,
			"actor":  actor,
		}, err.Error()); aerr != nil {
			logger.Error("audit missing credentials failed", zap.Error(aerr))
		}
		return ProvisionResult{}, fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}

	if _, err := s.tenants.UpdateStatus(ctx, tenantID, tenantsservice.StatusProvisioning); err != nil {
		return ProvisionResult{}, fmt.Errorf("mark tenant provisioning: %w", err)
	}

	dep, err := s.deployments.CreateDeployment(ctx, deployclient.CreateRequest{TenantID: tenantID.String(), Force: force})
	if err != nil {
		logger.Error("create deployment failed", zap.Error(err))
		s.metrics.ProvisionRequested("upstream_error")
		if _, aerr := s.audit.Record(ctx, tenantID, StepRequested, StatusFailed, map[string]any{
			"reason": "create deployment failed",
			"force":  force,
			"actor":  actor,
		}, err.Error()); aerr != nil {
			logger.Error("audit deployment failure failed", zap.Error(aerr))
		}
		s.setStatus(ctx, logger, tenantID, tenantsservice.StatusProvisionFailed)
		return ProvisionResult{}, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	payload := map[string]any{"force": force, "actor": actor}
	if dep.ID != "" {
		payload["deploymentId"] = dep.ID
	}
	if _, err := s.audit.Record(ctx, tenantID, StepRequested, StatusQueued, payload, ""); err != nil {
		return ProvisionResult{}, err
	}
	s.metrics.ProvisionRequested(StatusQueued)

	if dep.ID != "" {
		res, err := s.PollDeploymentStatus(ctx, tenantID, dep.ID, 0)
		if err != nil {
			logger.Warn("initial deployment poll failed", zap.String("deployment_id", dep.ID), zap.Error(err))
		}
		if !IsTerminal(res.State) {
			s.scheduler.Schedule(tenantID, dep.ID)
		}
	} else {
		logger.Warn("deployment platform returned no deployment id")
	}

	return ProvisionResult{TenantID: tenantID, Status: StatusQueued, DeploymentID: dep.ID}, nil
}

// PollDeploymentStatus queries the platform once, audits the normalized
// state, moves the tenant on terminal states and publishes a status event.
// attempt is zero for polls made outside the watcher.
func (s *Service) PollDeploymentStatus(ctx context.Context, tenantID uuid.UUID, deploymentID string, attempt int) (PollResult, error) {
	logger := logging.FromContextOr(ctx, s.logger).With(
		zap.String("tenant_id", tenantID.String()),
		zap.String("deployment_id", deploymentID),
	)

	payload, err := s.deployments.GetDeploymentStatus(ctx, deploymentID)
	if err != nil {
		s.metrics.Polled("error")
		if _, aerr := s.audit.Record(ctx, tenantID, StepPollError, StateUnknown, map[string]any{
			"deploymentId": deploymentID,
			"attempt":      attempt,
		}, err.Error()); aerr != nil {
			logger.Error("audit poll error failed", zap.Error(aerr))
		}
		return PollResult{State: StateUnknown}, fmt.Errorf("poll deployment %s: %w", deploymentID, err)
	}

	state := NormalizeState(deployclient.ProviderState(payload))
	s.metrics.Polled(state)

	auditPayload := map[string]any{
		"deploymentId": deploymentID,
		"state":        state,
		"attempt":      attempt,
	}
	if len(payload) > 0 {
		auditPayload["provider"] = payload
	}
	auditErr := func() error {
		_, err := s.audit.Record(ctx, tenantID, StepStatus, state, auditPayload, "")
		return err
	}()

	var statusErr error
	switch state {
	case StateSuccess:
		statusErr = s.moveTenant(ctx, tenantID, tenantsservice.StatusActive)
	case StateFailed:
		statusErr = s.moveTenant(ctx, tenantID, tenantsservice.StatusProvisionFailed)
	}

	evt, err := events.New(events.TypeProvisioningStatus, tenantID, map[string]any{
		"tenantId":     tenantID,
		"deploymentId": deploymentID,
		"state":        state,
		"attempt":      attempt,
	}, s.clock.Now())
	if err == nil {
		err = s.publisher.Publish(ctx, evt)
	}
	if err != nil {
		logger.Warn("publish status event failed", zap.Error(err))
	}

	// The state is returned with any error so callers still see a terminal result.
	return PollResult{State: state, Payload: payload}, errors.Join(auditErr, statusErr)
}

// GetStatus returns the latest provisioning record. When it describes an
// in-flight deployment a fresh poll runs and a watcher is (re-)scheduled.
func (s *Service) GetStatus(ctx context.Context, tenantID uuid.UUID) (StatusResult, error) {
	logger := logging.FromContextOr(ctx, s.logger).With(zap.String("tenant_id", tenantID.String()))

	t, err := s.getTenant(ctx, tenantID)
	if err != nil {
		return StatusResult{}, err
	}

	latest, err := s.audit.Latest(ctx, tenantID)
	if errors.Is(err, ErrNoAudit) {
		return StatusResult{TenantID: tenantID, Status: StatusNotStarted, TenantStatus: string(t.Status)}, nil
	}
	if err != nil {
		return StatusResult{}, fmt.Errorf("latest audit: %w", err)
	}

	if depID := latest.DeploymentID(); inFlight(latest) && depID != "" {
		res, err := s.PollDeploymentStatus(ctx, tenantID, depID, 0)
		if err != nil {
			logger.Warn("status query poll failed", zap.String("deployment_id", depID), zap.Error(err))
		}
		if !IsTerminal(res.State) {
			s.scheduler.Schedule(tenantID, depID)
		}

		if fresh, err := s.audit.Latest(ctx, tenantID); err == nil {
			latest = fresh
		}
		if fresh, err := s.tenants.Get(ctx, tenantID); err == nil {
			t = fresh
		}
	}

	updatedAt := latest.CreatedAt
	return StatusResult{
		TenantID:     tenantID,
		Status:       latest.Status,
		Step:         latest.Step,
		TenantStatus: string(t.Status),
		Payload:      latest.Payload,
		Error:        latest.Error,
		UpdatedAt:    &updatedAt,
	}, nil
}

// ListAudit returns the tenant's provisioning history, newest first.
func (s *Service) ListAudit(ctx context.Context, tenantID uuid.UUID, limit int) ([]AuditEntry, error) {
	if _, err := s.getTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	return s.audit.List(ctx, tenantID, limit)
}

func inFlight(e AuditEntry) bool {
	if e.Step == StepPollError {
		return true
	}
	return e.Step != StepWatch && NormalizeState(e.Status) == StateInProgress
}

func (s *Service) getTenant(ctx context.Context, id uuid.UUID) (tenantsservice.Tenant, error) {
	t, err := s.tenants.Get(ctx, id)
	if errors.Is(err, tenantsservice.ErrNotFound) {
		return tenantsservice.Tenant{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t, err
}

// moveTenant applies a poll outcome to the registry. A transition the
// registry refuses is logged and ignored; the audit log already holds the state.
func (s *Service) moveTenant(ctx context.Context, id uuid.UUID, to tenantsservice.Status) error {
	_, err := s.tenants.UpdateStatus(ctx, id, to)
	if errors.Is(err, tenantsservice.ErrInvalidTransition) {
		logging.FromContextOr(ctx, s.logger).Warn("tenant status not updated",
			zap.String("tenant_id", id.String()), zap.String("to", string(to)), zap.Error(err))
		return nil
	}
	if err != nil {
		return fmt.Errorf("update tenant status: %w", err)
	}
	return nil
}

func (s *Service) setStatus(ctx context.Context, logger *zap.Logger, id uuid.UUID, to tenantsservice.Status) {
	if _, err := s.tenants.UpdateStatus(ctx, id, to); err != nil {
		logger.Error("update tenant status failed", zap.String("to", string(to)), zap.Error(err))
	}
}
