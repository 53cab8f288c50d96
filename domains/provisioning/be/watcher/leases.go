package watcher

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Watch states persisted with each lease.
const (
	StatePending   = "pending"
	StatePolling   = "polling"
	StateSuccess   = "success"
	StateFailed    = "failed"
	StateExhausted = "exhausted"
)

// Lease is the durable record of one deployment watch.
type Lease struct {
	TenantID     uuid.UUID
	DeploymentID string
	State        string
	Attempts     int
	Owner        string
	ExpiresAt    time.Time
}

// Open reports whether the watch still needs polling.
func (l Lease) Open() bool {
	return l.State == StatePending || l.State == StatePolling
}

// LeaseStore persists watches and decides which instance may poll next.
type LeaseStore interface {
	// Ensure creates the watch if missing and returns its stored state.
	Ensure(ctx context.Context, tenantID uuid.UUID, deploymentID string) (Lease, error)
	// Claim takes or renews the lease for owner. It reports false when the
	// watch is finished or another owner holds an unexpired lease.
	Claim(ctx context.Context, tenantID uuid.UUID, deploymentID, owner string, now time.Time, ttl time.Duration) (Lease, bool, error)
	// Advance stores a cycle outcome. release drops the lease.
	Advance(ctx context.Context, tenantID uuid.UUID, deploymentID, owner, state string, attempts int, release bool) error
	// Release returns an unfinished watch to the pool.
	Release(ctx context.Context, tenantID uuid.UUID, deploymentID, owner string) error
	// ListResumable returns open watches whose lease is free or expired.
	ListResumable(ctx context.Context, now time.Time) ([]Lease, error)
}

// MemoryLeases is a process-local LeaseStore for tests and single-instance runs.
type MemoryLeases struct {
	mu     sync.Mutex
	leases map[key]Lease
}

func NewMemoryLeases() *MemoryLeases {
	return &MemoryLeases{leases: make(map[key]Lease)}
}

func (m *MemoryLeases) Ensure(_ context.Context, tenantID uuid.UUID, deploymentID string) (Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{tenantID: tenantID, deploymentID: deploymentID}
	l, ok := m.leases[k]
	if !ok {
		l = Lease{TenantID: tenantID, DeploymentID: deploymentID, State: StatePending}
		m.leases[k] = l
	}
	return l, nil
}

func (m *MemoryLeases) Claim(_ context.Context, tenantID uuid.UUID, deploymentID, owner string, now time.Time, ttl time.Duration) (Lease, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{tenantID: tenantID, deploymentID: deploymentID}
	l, ok := m.leases[k]
	if !ok || !l.Open() {
		return Lease{}, false, nil
	}
	if l.Owner != "" && l.Owner != owner && !l.ExpiresAt.Before(now) {
		return Lease{}, false, nil
	}
	l.Owner, l.ExpiresAt, l.State = owner, now.Add(ttl), StatePolling
	m.leases[k] = l
	return l, true, nil
}

func (m *MemoryLeases) Advance(_ context.Context, tenantID uuid.UUID, deploymentID, owner, state string, attempts int, release bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{tenantID: tenantID, deploymentID: deploymentID}
	l, ok := m.leases[k]
	if !ok || l.Owner != owner {
		return nil
	}
	l.State, l.Attempts = state, attempts
	if release {
		l.Owner, l.ExpiresAt = "", time.Time{}
	}
	m.leases[k] = l
	return nil
}

func (m *MemoryLeases) Release(_ context.Context, tenantID uuid.UUID, deploymentID, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{tenantID: tenantID, deploymentID: deploymentID}
	l, ok := m.leases[k]
	if !ok || l.Owner != owner {
		return nil
	}
	if l.State == StatePolling {
		l.State = StatePending
	}
	l.Owner, l.ExpiresAt = "", time.Time{}
	m.leases[k] = l
	return nil
}

func (m *MemoryLeases) ListResumable(_ context.Context, now time.Time) ([]Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Lease
	for _, l := range m.leases {
		if l.Open() && (l.Owner == "" || l.ExpiresAt.Before(now)) {
			out = append(out, l)
		}
	}
	return out, nil
}

// Get returns the stored lease. Used by tests.
func (m *MemoryLeases) Get(tenantID uuid.UUID, deploymentID string) (Lease, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leases[key{tenantID: tenantID, deploymentID: deploymentID}]
	return l, ok
}

var _ LeaseStore = (*MemoryLeases)(nil)
