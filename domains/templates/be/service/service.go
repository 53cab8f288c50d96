package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-owner/platform/go/metrics"
	"github.com/zenGate-Global/palmyra-owner/platform/go/tenant"
)

// DefaultTemplateKey is applied when a request names no template.
const DefaultTemplateKey = "role-template.default"

// FieldErrors maps request fields to validation issues.
type FieldErrors map[string][]string

// ValidationError captures input or template content problems.
type ValidationError struct {
	Fields FieldErrors
}

func (v *ValidationError) Error() string {
	if len(v.Fields) == 0 {
		return "validation error"
	}
	keys := make([]string, 0, len(v.Fields))
	for k := range v.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(v.Fields[k], "; "))
	}
	return "validation error: " + strings.Join(parts, ", ")
}

var (
	ErrNotFound      = errors.New("template not found")
	ErrNoTenantSpace = errors.New("tenant space missing from context")
)

// Template is a cached, versioned role template.
type Template struct {
	Key         string
	Version     int
	ContentType string
	Content     string
	UpdatedAt   time.Time
}

// SyncTx is the set of tenant-local writes one sync performs. Every call
// shares a single transaction.
type SyncTx interface {
	Lock(ctx context.Context) error
	EnsurePermission(ctx context.Context, key, displayName string) error
	EnsureRole(ctx context.Context, name, description string) error
	GrantedPermissions(ctx context.Context, role string) ([]string, error)
	Grant(ctx context.Context, role string, keys []string) (int, error)
	Revoke(ctx context.Context, role string, keys []string) (int, error)
	AdvanceTemplateVersion(ctx context.Context, key string, version int) (int, error)
}

// Repository reads the template cache and opens tenant-scoped sync transactions.
type Repository interface {
	GetTemplate(ctx context.Context, key string) (Template, error)
	UpsertTemplate(ctx context.Context, tmpl Template) (Template, error)
	// Sync runs fn atomically in the tenant's space: an error from fn leaves
	// no trace of its writes.
	Sync(ctx context.Context, space tenant.Space, fn func(SyncTx) error) error
	TemplateVersion(ctx context.Context, space tenant.Space) (int, error)
}

// ApplyInput selects the template and prune behaviour. Nil fields take defaults.
type ApplyInput struct {
	Key       string
	Overwrite *bool
}

// RoleSummary reports what one sync did to a role.
type RoleSummary struct {
	Role             string `json:"role"`
	TotalPermissions int    `json:"totalPermissions"`
	GrantedThisRun   int    `json:"grantedThisRun"`
	RevokedThisRun   int    `json:"revokedThisRun"`
}

// SyncResult is returned by ApplyTemplate.
type SyncResult struct {
	TemplateKey     string        `json:"templateKey"`
	TemplateVersion int           `json:"templateVersion"`
	LocalVersion    int           `json:"localVersion"`
	RolesProcessed  int           `json:"rolesProcessed"`
	RoleSummaries   []RoleSummary `json:"roleSummaries"`
}

// Service applies role templates to tenant spaces.
type Service struct {
	repo    Repository
	fetch   FetchFunc
	logger  *zap.Logger
	metrics *metrics.Provisioning
}

// Option customises a Service.
type Option func(*Service)

// WithFetcher replaces the template source reader used by ImportTemplate.
func WithFetcher(fetch FetchFunc) Option {
	return func(s *Service) { s.fetch = fetch }
}

// WithMetrics records sync outcomes.
func WithMetrics(m *metrics.Provisioning) Option {
	return func(s *Service) { s.metrics = m }
}

func New(repo Repository, logger *zap.Logger, opts ...Option) *Service {
	if repo == nil {
		panic("templates repository is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	s := &Service{repo: repo, fetch: FetchSource, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ApplyTemplate syncs the cached template into the tenant space on ctx.
func (s *Service) ApplyTemplate(ctx context.Context, in ApplyInput) (SyncResult, error) {
	res, err := s.applyTemplate(ctx, in)
	outcome := "success"
	if err != nil {
		outcome = "failed"
	}
	s.metrics.TemplateSynced(outcome)
	return res, err
}

func (s *Service) applyTemplate(ctx context.Context, in ApplyInput) (SyncResult, error) {
	space, ok := tenant.FromContext(ctx)
	if !ok {
		return SyncResult{}, ErrNoTenantSpace
	}
	key := strings.TrimSpace(in.Key)
	if key == "" {
		key = DefaultTemplateKey
	}
	overwrite := in.Overwrite == nil || *in.Overwrite

	tmpl, err := s.repo.GetTemplate(ctx, key)
	if err != nil {
		return SyncResult{}, err
	}
	doc, err := ParseDocument(tmpl.ContentType, tmpl.Content)
	if err != nil {
		return SyncResult{}, err
	}

	res := SyncResult{TemplateKey: tmpl.Key, TemplateVersion: tmpl.Version}
	err = s.repo.Sync(ctx, space, func(tx SyncTx) error {
		if err := tx.Lock(ctx); err != nil {
			return err
		}
		for _, perm := range doc.AllPermissions() {
			if err := tx.EnsurePermission(ctx, perm, DisplayName(perm)); err != nil {
				return err
			}
		}

		summaries := make([]RoleSummary, 0, len(doc.Roles))
		for _, role := range doc.Roles {
			summary, err := syncRole(ctx, tx, role, doc.DesiredPermissions(role), overwrite)
			if err != nil {
				return err
			}
			summaries = append(summaries, summary)
		}

		local, err := tx.AdvanceTemplateVersion(ctx, tmpl.Key, tmpl.Version)
		if err != nil {
			return err
		}
		res.LocalVersion = local
		res.RoleSummaries = summaries
		res.RolesProcessed = len(summaries)
		return nil
	})
	if err != nil {
		s.logger.Warn("template sync rolled back",
			zap.String("tenant_id", space.TenantID.String()),
			zap.String("template_key", key),
			zap.Error(err))
		return SyncResult{}, fmt.Errorf("apply template %q: %w", key, err)
	}

	s.logger.Info("template applied",
		zap.String("tenant_id", space.TenantID.String()),
		zap.String("template_key", tmpl.Key),
		zap.Int("template_version", tmpl.Version),
		zap.Int("roles", res.RolesProcessed),
		zap.Bool("overwrite", overwrite))
	return res, nil
}

func syncRole(ctx context.Context, tx SyncTx, role string, desired []string, overwrite bool) (RoleSummary, error) {
	if err := tx.EnsureRole(ctx, role, DisplayName(role)); err != nil {
		return RoleSummary{}, err
	}
	granted, err := tx.GrantedPermissions(ctx, role)
	if err != nil {
		return RoleSummary{}, err
	}

	held := toSet(granted)
	want := toSet(desired)

	summary := RoleSummary{Role: role}
	// An empty desired set never prunes.
	if overwrite && len(want) > 0 {
		stale := difference(granted, want)
		n, err := tx.Revoke(ctx, role, stale)
		if err != nil {
			return RoleSummary{}, err
		}
		summary.RevokedThisRun = n
	}

	missing := difference(desired, held)
	n, err := tx.Grant(ctx, role, missing)
	if err != nil {
		return RoleSummary{}, err
	}
	summary.GrantedThisRun = n
	summary.TotalPermissions = len(held) - summary.RevokedThisRun + n
	return summary, nil
}

// GetTemplateVersion returns the tenant's applied template version, 0 when never synced.
func (s *Service) GetTemplateVersion(ctx context.Context) (int, error) {
	space, ok := tenant.FromContext(ctx)
	if !ok {
		return 0, ErrNoTenantSpace
	}
	return s.repo.TemplateVersion(ctx, space)
}

func toSet(keys []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}

// difference keeps the keys of list not present in exclude, in list order.
func difference(list []string, exclude map[string]struct{}) []string {
	var out []string
	for _, k := range list {
		if _, ok := exclude[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}
