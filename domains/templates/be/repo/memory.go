package repo

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/zenGate-Global/palmyra-owner/domains/templates/be/service"
	"github.com/zenGate-Global/palmyra-owner/platform/go/tenant"
)

type rbacState struct {
	roles       map[string]string
	permissions map[string]string
	grants      map[string]map[string]struct{}
	version     int
	versionKey  string
}

func newRBACState() *rbacState {
	return &rbacState{
		roles:       map[string]string{},
		permissions: map[string]string{},
		grants:      map[string]map[string]struct{}{},
	}
}

func (s *rbacState) clone() *rbacState {
	out := &rbacState{
		roles:       maps.Clone(s.roles),
		permissions: maps.Clone(s.permissions),
		grants:      make(map[string]map[string]struct{}, len(s.grants)),
		version:     s.version,
		versionKey:  s.versionKey,
	}
	for role, set := range s.grants {
		out.grants[role] = maps.Clone(set)
	}
	return out
}

// MemoryRepository keeps the template cache and tenant RBAC tables in memory.
// Sync works on a copy that replaces the tenant state only when fn succeeds.
type MemoryRepository struct {
	mu        sync.Mutex
	templates map[string]service.Template
	tenants   map[string]*rbacState
	now       func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		templates: map[string]service.Template{},
		tenants:   map[string]*rbacState{},
		now:       time.Now,
	}
}

func (r *MemoryRepository) GetTemplate(_ context.Context, key string) (service.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tmpl, ok := r.templates[key]
	if !ok {
		return service.Template{}, service.ErrNotFound
	}
	return tmpl, nil
}

func (r *MemoryRepository) UpsertTemplate(_ context.Context, tmpl service.Template) (service.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tmpl.UpdatedAt = r.now().UTC()
	r.templates[tmpl.Key] = tmpl
	return tmpl, nil
}

func (r *MemoryRepository) Sync(_ context.Context, space tenant.Space, fn func(service.SyncTx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.tenants[space.SchemaName]
	if !ok {
		current = newRBACState()
	}
	work := current.clone()
	if err := fn(&memoryTx{state: work}); err != nil {
		return err
	}
	r.tenants[space.SchemaName] = work
	return nil
}

func (r *MemoryRepository) TemplateVersion(_ context.Context, space tenant.Space) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.tenants[space.SchemaName]; ok {
		return st.version, nil
	}
	return 0, nil
}

// Grants lists the permissions held by role in the tenant space, sorted.
func (r *MemoryRepository) Grants(space tenant.Space, role string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.tenants[space.SchemaName]
	if !ok {
		return nil
	}
	return sortedKeys(st.grants[role])
}

// DisplayNames returns the stored permission display names of the tenant space.
func (r *MemoryRepository) DisplayNames(space tenant.Space) map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.tenants[space.SchemaName]; ok {
		return maps.Clone(st.permissions)
	}
	return nil
}

type memoryTx struct {
	state *rbacState
}

func (t *memoryTx) Lock(context.Context) error { return nil }

func (t *memoryTx) EnsurePermission(_ context.Context, key, displayName string) error {
	if _, ok := t.state.permissions[key]; !ok {
		t.state.permissions[key] = displayName
	}
	return nil
}

func (t *memoryTx) EnsureRole(_ context.Context, name, description string) error {
	if _, ok := t.state.roles[name]; !ok {
		t.state.roles[name] = description
	}
	return nil
}

func (t *memoryTx) GrantedPermissions(_ context.Context, role string) ([]string, error) {
	return sortedKeys(t.state.grants[role]), nil
}

func (t *memoryTx) Grant(_ context.Context, role string, keys []string) (int, error) {
	if _, ok := t.state.roles[role]; !ok {
		return 0, fmt.Errorf("grant permissions to %q: unknown role", role)
	}
	set, ok := t.state.grants[role]
	if !ok {
		set = map[string]struct{}{}
		t.state.grants[role] = set
	}
	n := 0
	for _, k := range keys {
		if _, known := t.state.permissions[k]; !known {
			continue
		}
		if _, held := set[k]; held {
			continue
		}
		set[k] = struct{}{}
		n++
	}
	return n, nil
}

func (t *memoryTx) Revoke(_ context.Context, role string, keys []string) (int, error) {
	set := t.state.grants[role]
	n := 0
	for _, k := range keys {
		if _, held := set[k]; held {
			delete(set, k)
			n++
		}
	}
	return n, nil
}

func (t *memoryTx) AdvanceTemplateVersion(_ context.Context, key string, version int) (int, error) {
	if version >= t.state.version {
		t.state.version = version
		t.state.versionKey = key
	}
	return t.state.version, nil
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

var _ service.Repository = (*MemoryRepository)(nil)
