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

	"github.com/zenGate-Global/palmyra-owner/platform/go/events"
)

// Audit steps.
const (
	StepRequested = "deployment.requested"
	StepStatus    = "deployment.status"
	StepPollError = "deployment.poll_error"
	StepWatch     = "deployment.watch"
)

// Audit statuses written outside of the normalized deployment states.
const (
	StatusQueued     = "queued"
	StatusFailed     = "failed"
	StatusExhausted  = "exhausted"
	StatusNotStarted = "not_started"
)

// ErrNoAudit is returned by AuditRepository.Latest when a tenant has no history.
var ErrNoAudit = errors.New("no provisioning audit records")

// AuditEntry is one immutable provisioning audit record.
type AuditEntry struct {
	ID        int64           `json:"id"`
	TenantID  uuid.UUID       `json:"tenantId"`
	Step      string          `json:"step"`
	Status    string          `json:"status"`
	Payload   json.RawMessage `json:"payload"`
	Error     *string         `json:"error,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// DeploymentID returns the deploymentId stored in the payload, if any.
func (e AuditEntry) DeploymentID() string {
	if len(e.Payload) == 0 {
		return ""
	}
	var p struct {
		DeploymentID any `json:"deploymentId"`
	}
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return ""
	}
	switch v := p.DeploymentID.(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}

// AuditRepository is the append-only audit log.
type AuditRepository interface {
	Append(ctx context.Context, entry AuditEntry) (AuditEntry, error)
	Latest(ctx context.Context, tenantID uuid.UUID) (AuditEntry, error)
	List(ctx context.Context, tenantID uuid.UUID, limit int) ([]AuditEntry, error)
}

// AuditRecorder appends audit records and announces them on the live channel.
type AuditRecorder struct {
	repo      AuditRepository
	publisher events.Publisher
	logger    *zap.Logger
	clock     clock.Clock
}

// NewAuditRecorder builds a recorder. A nil publisher disables live events.
func NewAuditRecorder(repo AuditRepository, publisher events.Publisher, logger *zap.Logger, clk clock.Clock) *AuditRecorder {
	if repo == nil {
		panic("audit repository is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	if clk == nil {
		clk = clock.New()
	}
	return &AuditRecorder{repo: repo, publisher: publisher, logger: logger, clock: clk}
}

// Record appends one entry. errMsg is stored only when non-empty. Publishing
// the resulting event is best-effort.
func (r *AuditRecorder) Record(ctx context.Context, tenantID uuid.UUID, step, status string, payload map[string]any, errMsg string) (AuditEntry, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return AuditEntry{}, fmt.Errorf("marshal audit payload: %w", err)
	}

	entry := AuditEntry{TenantID: tenantID, Step: step, Status: status, Payload: raw}
	if errMsg != "" {
		entry.Error = &errMsg
	}

	stored, err := r.repo.Append(ctx, entry)
	if err != nil {
		return AuditEntry{}, fmt.Errorf("append audit %s/%s: %w", step, status, err)
	}

	evt, err := events.New(events.TypeProvisioningAudit, tenantID, stored, r.clock.Now())
	if err == nil {
		err = r.publisher.Publish(ctx, evt)
	}
	if err != nil {
		r.logger.Warn("publish audit event failed",
			zap.String("tenant_id", tenantID.String()),
			zap.String("step", step),
			zap.Error(err))
	}
	return stored, nil
}

// Latest returns the most recent record for the tenant or ErrNoAudit.
func (r *AuditRecorder) Latest(ctx context.Context, tenantID uuid.UUID) (AuditEntry, error) {
	return r.repo.Latest(ctx, tenantID)
}

// List returns up to limit records, newest first.
func (r *AuditRecorder) List(ctx context.Context, tenantID uuid.UUID, limit int) ([]AuditEntry, error) {
	return r.repo.List(ctx, tenantID, limit)
}
