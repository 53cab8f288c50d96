package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zenGate-Global/palmyra-owner/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-owner/platform/go/tenant"
	tenantmw "github.com/zenGate-Global/palmyra-owner/platform/go/tenant/middleware"
)

// Errors returned by the service layer.
var (
	ErrNotFound          = errors.New("tenant not found")
	ErrConflictSlug      = errors.New("tenant slug already exists")
	ErrDisabled          = fmt.Errorf("tenant disabled: %w", tenantmw.ErrTenantUnavailable)
	ErrInvalidTransition = errors.New("invalid tenant status transition")
)

// FieldErrors maps request fields to validation issues.
type FieldErrors map[string][]string

func (f FieldErrors) add(field, msg string) {
	f[field] = append(f[field], msg)
}

// ValidationError is returned when the input payload is invalid.
type ValidationError struct {
	Fields FieldErrors
}

func (v *ValidationError) Error() string {
	return "validation error"
}

// Status is the tenant lifecycle state.
type Status string

const (
	StatusPending         Status = "pending"
	StatusProvisioning    Status = "provisioning"
	StatusActive          Status = "active"
	StatusProvisionFailed Status = "provision_failed"
	StatusDisabled        Status = "disabled"
)

// ParseStatus validates a stored or requested status value.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.TrimSpace(s)); st {
	case StatusPending, StatusProvisioning, StatusActive, StatusProvisionFailed, StatusDisabled:
		return st, nil
	default:
		return "", fmt.Errorf("unknown tenant status %q", s)
	}
}

var transitions = map[Status][]Status{
	StatusPending:         {StatusProvisioning, StatusDisabled},
	StatusProvisioning:    {StatusActive, StatusProvisionFailed},
	StatusActive:          {StatusProvisioning, StatusDisabled},
	StatusProvisionFailed: {StatusProvisioning, StatusDisabled},
	StatusDisabled:        {StatusPending},
}

// CanTransition reports whether a tenant may move from one status to another.
// Any state may fall to provision_failed when a provisioning precondition fails.
func CanTransition(from, to Status) bool {
	if from == to || to == StatusProvisionFailed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Tenant represents the domain model for a tenant registry entry.
type Tenant struct {
	ID          uuid.UUID
	Slug        string
	CompanyName string
	Status      Status
	DBName      string
	RoleName    string
	Region      *string
	NodeRef     *string
	PlanRef     *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Space returns the routing metadata used for tenant-scoped transactions.
func (t Tenant) Space() tenant.Space {
	return tenant.Space{
		TenantID:   t.ID,
		Slug:       t.Slug,
		SchemaName: t.DBName,
		RoleName:   t.RoleName,
	}
}

// CreateInput represents the request to create a tenant.
type CreateInput struct {
	Slug        string
	CompanyName string
	Region      *string
	NodeRef     *string
	PlanRef     *string
}

// ListResult wraps paginated tenants.
type ListResult struct {
	Tenants    []Tenant
	Page       int
	PageSize   int
	TotalItems int
	TotalPages int
}

// ListOptions captures filters and pagination.
type ListOptions struct {
	Page     int
	PageSize int
	Status   *Status
}

// Repository abstracts persistence.
type Repository interface {
	List(ctx context.Context, opts ListOptions) (ListResult, error)
	Create(ctx context.Context, t Tenant) (Tenant, error)
	Get(ctx context.Context, id uuid.UUID) (Tenant, error)
	FindBySlug(ctx context.Context, slug string) (Tenant, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) (Tenant, error)
}

// Service provides tenant registry operations.
type Service struct {
	repo   Repository
	db     DBProvisioner
	envKey string
	now    func() time.Time
}

// New constructs a Service with required dependencies.
func New(repo Repository, db DBProvisioner, envKey string) *Service {
	if repo == nil {
		panic("tenants repo is required")
	}
	if db == nil {
		panic("tenants db provisioner is required")
	}
	if envKey == "" {
		panic("envKey is required")
	}
	return &Service{repo: repo, db: db, envKey: envKey, now: time.Now}
}

// List tenants with optional status filter.
func (s *Service) List(ctx context.Context, opts ListOptions) (ListResult, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 20
	}
	if opts.PageSize > 100 {
		opts.PageSize = 100
	}
	return s.repo.List(ctx, opts)
}

// Create registers a tenant and synchronously ensures its database space.
// When the space cannot be prepared the tenant is kept as provision_failed.
func (s *Service) Create(ctx context.Context, input CreateInput) (Tenant, error) {
	fieldErrors := FieldErrors{}

	slug, err := persistence.NormalizeSlug(input.Slug)
	if err != nil {
		fieldErrors.add("slug", err.Error())
	}
	companyName := strings.TrimSpace(input.CompanyName)
	if companyName == "" {
		fieldErrors.add("companyName", "companyName is required")
	}
	if len(fieldErrors) > 0 {
		return Tenant{}, &ValidationError{Fields: fieldErrors}
	}

	schemaName := tenant.BuildSchemaName(s.envKey, tenant.ToSnake(slug))
	now := s.now().UTC()

	created, err := s.repo.Create(ctx, Tenant{
		ID:          uuid.New(),
		Slug:        slug,
		CompanyName: companyName,
		Status:      StatusPending,
		DBName:      schemaName,
		RoleName:    tenant.BuildRoleName(schemaName),
		Region:      trimmed(input.Region),
		NodeRef:     trimmed(input.NodeRef),
		PlanRef:     trimmed(input.PlanRef),
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return Tenant{}, err
	}

	res, err := s.db.Ensure(ctx, DBProvisionRequest{
		TenantID:   created.ID,
		SchemaName: created.DBName,
		RoleName:   created.RoleName,
	})
	if err == nil && !res.Ready {
		err = errors.New("tenant space not ready")
	}
	if err != nil {
		if _, uerr := s.repo.UpdateStatus(ctx, created.ID, StatusProvisionFailed); uerr != nil {
			return Tenant{}, errors.Join(fmt.Errorf("ensure tenant space: %w", err), uerr)
		}
		return Tenant{}, fmt.Errorf("ensure tenant space: %w", err)
	}

	return created, nil
}

// Get returns a tenant by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Tenant, error) {
	return s.repo.Get(ctx, id)
}

// FindBySlug returns the tenant registered under slug.
func (s *Service) FindBySlug(ctx context.Context, slug string) (Tenant, error) {
	normalized, err := persistence.NormalizeSlug(slug)
	if err != nil {
		return Tenant{}, &ValidationError{Fields: FieldErrors{"slug": {err.Error()}}}
	}
	return s.repo.FindBySlug(ctx, normalized)
}

// UpdateStatus moves the tenant through its lifecycle. Writing the current
// status again is a no-op.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, to Status) (Tenant, error) {
	if _, err := ParseStatus(string(to)); err != nil {
		return Tenant{}, &ValidationError{Fields: FieldErrors{"status": {err.Error()}}}
	}

	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Tenant{}, err
	}
	if current.Status == to {
		return current, nil
	}
	if !CanTransition(current.Status, to) {
		return Tenant{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, to)
	}
	return s.repo.UpdateStatus(ctx, id, to)
}

// ResolveTenantSpace returns a lightweight tenant Space for middleware consumption.
func (s *Service) ResolveTenantSpace(ctx context.Context, id uuid.UUID) (tenant.Space, error) {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return tenant.Space{}, err
	}
	if t.Status == StatusDisabled {
		return tenant.Space{}, ErrDisabled
	}
	return t.Space(), nil
}

func trimmed(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return nil
	}
	return &s
}
