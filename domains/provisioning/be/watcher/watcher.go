// Package watcher polls in-flight deployments in the background until they
// reach a terminal state or run out of attempts.
//
// Each (tenant, deployment) key runs at most one loop per process, and a
// durable lease keeps other instances from polling the same key concurrently.
package watcher

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-owner/domains/provisioning/be/service"
	"github.com/zenGate-Global/palmyra-owner/platform/go/metrics"
	"github.com/zenGate-Global/palmyra-owner/platform/go/requesttrace"
)

const (
	DefaultInterval    = 30 * time.Second
	DefaultMaxAttempts = 40
	DefaultLeaseTTL    = 2 * time.Minute
)

// PollerFunc runs one status poll for a deployment.
type PollerFunc func(ctx context.Context, tenantID uuid.UUID, deploymentID string, attempt int) (service.PollResult, error)

// Auditor records the watcher's own audit entries.
type Auditor interface {
	Record(ctx context.Context, tenantID uuid.UUID, step, status string, payload map[string]any, errMsg string) (service.AuditEntry, error)
}

// Config controls polling cadence and lease ownership.
type Config struct {
	Interval    time.Duration
	MaxAttempts int
	LeaseTTL    time.Duration
	// Owner identifies this instance in the lease table.
	Owner string
	Clock clock.Clock
}

type key struct {
	tenantID     uuid.UUID
	deploymentID string
}

// Watcher owns the per-key polling loops of this process.
type Watcher struct {
	cfg     Config
	poll    PollerFunc
	audit   Auditor
	leases  LeaseStore
	logger  *zap.Logger
	metrics *metrics.Provisioning

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	handles map[key]context.CancelFunc
	stopped bool
}

// New constructs a Watcher. Zero config values take the package defaults.
func New(cfg Config, poll PollerFunc, audit Auditor, leases LeaseStore, logger *zap.Logger, m *metrics.Provisioning) *Watcher {
	if poll == nil {
		panic("watcher poller is required")
	}
	if audit == nil {
		panic("watcher auditor is required")
	}
	if leases == nil {
		panic("watcher lease store is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = DefaultLeaseTTL
	}
	if cfg.Owner == "" {
		host, _ := os.Hostname()
		cfg.Owner = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	ctx = requesttrace.IntoContext(ctx, requesttrace.System("watcher"))
	return &Watcher{
		cfg:     cfg,
		poll:    poll,
		audit:   audit,
		leases:  leases,
		logger:  logger.Named("watcher"),
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
		handles: make(map[key]context.CancelFunc),
	}
}

// Schedule starts a polling loop for the key. It returns false without side
// effects when a loop for the key is already live or the watcher is stopped.
func (w *Watcher) Schedule(tenantID uuid.UUID, deploymentID string) bool {
	k := key{tenantID: tenantID, deploymentID: deploymentID}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return false
	}
	if _, live := w.handles[k]; live {
		return false
	}

	ctx, cancel := context.WithCancel(w.ctx)
	w.handles[k] = cancel
	w.wg.Add(1)
	w.metrics.WatchStarted()

	go w.run(ctx, k)
	return true
}

// Active reports how many loops are live in this process.
func (w *Watcher) Active() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.handles)
}

// Resume schedules every open watch whose lease is free or expired, continuing
// from its stored attempt count. It returns the number of loops started.
func (w *Watcher) Resume(ctx context.Context) (int, error) {
	leases, err := w.leases.ListResumable(ctx, w.cfg.Clock.Now())
	if err != nil {
		return 0, fmt.Errorf("list resumable watches: %w", err)
	}
	started := 0
	for _, l := range leases {
		if w.Schedule(l.TenantID, l.DeploymentID) {
			started++
		}
	}
	if started > 0 {
		w.logger.Info("resumed deployment watches", zap.Int("count", started))
	}
	return started, nil
}

// Stop cancels every loop and waits for them to return. Unfinished watches
// release their lease so another instance can resume them.
func (w *Watcher) Stop() {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()

	w.cancel()
	w.wg.Wait()
}

// progress is the per-loop view of a watch. faults counts consecutive lease
// store failures and is capped at MaxAttempts like polls are.
type progress struct {
	loaded   bool
	attempts int
	faults   int
}

func (w *Watcher) run(ctx context.Context, k key) {
	logger := w.logger.With(
		zap.String("tenant_id", k.tenantID.String()),
		zap.String("deployment_id", k.deploymentID),
	)
	final := "stopped"

	defer func() {
		w.mu.Lock()
		if cancel, ok := w.handles[k]; ok {
			cancel()
			delete(w.handles, k)
		}
		w.mu.Unlock()
		w.metrics.WatchFinished(final)
		w.wg.Done()
	}()

	var p progress
	if next, done := w.load(ctx, k, logger, &p); done {
		final = next
		return
	}

	for {
		select {
		case <-ctx.Done():
			w.release(k, logger)
			return
		case <-w.cfg.Clock.After(w.cfg.Interval):
		}

		next, done := "", false
		if !p.loaded {
			next, done = w.load(ctx, k, logger, &p)
		}
		if !done && p.loaded {
			next, done = w.cycle(ctx, k, logger, &p)
		}
		if done {
			final = next
			return
		}
	}
}

// load creates or reads the stored watch. A failure is retried on the next
// interval.
func (w *Watcher) load(ctx context.Context, k key, logger *zap.Logger, p *progress) (string, bool) {
	lease, err := w.leases.Ensure(ctx, k.tenantID, k.deploymentID)
	if err != nil {
		logger.Warn("load watch failed", zap.Int("failures", p.faults+1), zap.Error(err))
		return w.storeFault(ctx, k, logger, p, err)
	}
	p.loaded, p.faults = true, 0
	p.attempts = max(p.attempts, lease.Attempts)
	if !lease.Open() {
		return lease.State, true
	}
	return "", false
}

// cycle claims the lease and runs one poll. done is true once the watch has
// finished, with next holding the final state.
func (w *Watcher) cycle(ctx context.Context, k key, logger *zap.Logger, p *progress) (next string, done bool) {
	lease, claimed, err := w.leases.Claim(ctx, k.tenantID, k.deploymentID, w.cfg.Owner, w.cfg.Clock.Now(), w.cfg.LeaseTTL)
	if err != nil {
		logger.Warn("claim watch lease failed", zap.Int("failures", p.faults+1), zap.Error(err))
		return w.storeFault(ctx, k, logger, p, err)
	}
	if !claimed {
		current, err := w.leases.Ensure(ctx, k.tenantID, k.deploymentID)
		if err != nil {
			logger.Warn("load watch failed", zap.Int("failures", p.faults+1), zap.Error(err))
			return w.storeFault(ctx, k, logger, p, err)
		}
		p.faults = 0
		p.attempts = max(p.attempts, current.Attempts)
		if !current.Open() {
			return current.State, true
		}
		logger.Debug("watch lease held elsewhere")
		return "", false
	}

	// The stored count lags when a previous Advance failed.
	attempt := max(lease.Attempts, p.attempts) + 1
	p.attempts = attempt

	res, err := w.poll(ctx, k.tenantID, k.deploymentID, attempt)
	if err != nil {
		logger.Warn("deployment poll failed", zap.Int("attempt", attempt), zap.Error(err))
	}

	// A terminal provider state ends the watch even when its side effects failed.
	state := StatePending
	if service.IsTerminal(res.State) {
		state = res.State
	} else if attempt >= w.cfg.MaxAttempts {
		state = StateExhausted
	}
	finished := state != StatePending

	if aerr := w.leases.Advance(ctx, k.tenantID, k.deploymentID, w.cfg.Owner, state, attempt, finished); aerr != nil {
		logger.Error("store watch state failed", zap.String("state", state), zap.Error(aerr))
		if !finished {
			return w.storeFault(ctx, k, logger, p, aerr)
		}
	} else {
		p.faults = 0
	}

	if state == StateExhausted {
		logger.Warn("deployment watch exhausted", zap.Int("attempts", attempt))
		w.exhaust(ctx, k, logger, map[string]any{
			"deploymentId": k.deploymentID,
			"attempts":     attempt,
			"lastState":    res.State,
		}, fmt.Sprintf("no terminal state after %d attempts", attempt))
	}
	if finished {
		logger.Info("deployment watch finished", zap.String("state", state), zap.Int("attempts", attempt))
	}
	return state, finished
}

// storeFault counts a lease store failure. After MaxAttempts consecutive
// failures the watch gives up as exhausted. The stored row stays open so
// Resume can pick it up once the store recovers.
func (w *Watcher) storeFault(ctx context.Context, k key, logger *zap.Logger, p *progress, err error) (string, bool) {
	p.faults++
	if p.faults < w.cfg.MaxAttempts {
		return "", false
	}
	logger.Error("deployment watch abandoned, lease store unavailable", zap.Int("failures", p.faults), zap.Error(err))
	w.exhaust(ctx, k, logger, map[string]any{
		"deploymentId":  k.deploymentID,
		"attempts":      p.attempts,
		"storeFailures": p.faults,
	}, fmt.Sprintf("watch store unavailable after %d tries: %v", p.faults, err))
	return StateExhausted, true
}

func (w *Watcher) exhaust(ctx context.Context, k key, logger *zap.Logger, payload map[string]any, msg string) {
	if _, err := w.audit.Record(ctx, k.tenantID, service.StepWatch, service.StatusExhausted, payload, msg); err != nil {
		logger.Error("audit watch exhaustion failed", zap.Error(err))
	}
}

func (w *Watcher) release(k key, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.leases.Release(ctx, k.tenantID, k.deploymentID, w.cfg.Owner); err != nil {
		logger.Warn("release watch lease failed", zap.Error(err))
	}
}

var _ service.Scheduler = (*Watcher)(nil)
