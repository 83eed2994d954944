// Package engine owns the worker lifecycle: starting and stopping
// processes, tracking their states, and notifying lifecycle listeners.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mcphub/internal/domain"
	"mcphub/internal/infra/telemetry"
)

// Engine orchestrates managed workers. Operations on the same worker id
// are serialized by a per-id mutex; different workers proceed in parallel.
type Engine struct {
	logger   *zap.Logger
	provider domain.ConfigProvider
	factory  domain.ClientFactory
	metrics  domain.Metrics

	mu      sync.RWMutex
	workers map[domain.WorkerID]*domain.ManagedWorker

	lockMu sync.Mutex
	locks  map[domain.WorkerID]*sync.Mutex

	listenerMu  sync.RWMutex
	listeners   map[int]domain.LifecycleListener
	listenerSeq int
}

// New builds an engine over the given config provider and client factory.
func New(provider domain.ConfigProvider, factory domain.ClientFactory, metrics domain.Metrics, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = domain.NopMetrics{}
	}
	return &Engine{
		logger:    logger.Named("engine"),
		provider:  provider,
		factory:   factory,
		metrics:   metrics,
		workers:   make(map[domain.WorkerID]*domain.ManagedWorker),
		locks:     make(map[domain.WorkerID]*sync.Mutex),
		listeners: make(map[int]domain.LifecycleListener),
	}
}

// AddListener registers a lifecycle listener and returns its handle.
func (e *Engine) AddListener(listener domain.LifecycleListener) int {
	e.listenerMu.Lock()
	defer e.listenerMu.Unlock()
	e.listenerSeq++
	e.listeners[e.listenerSeq] = listener
	return e.listenerSeq
}

// RemoveListener drops the listener registered under the given handle.
func (e *Engine) RemoveListener(handle int) {
	e.listenerMu.Lock()
	defer e.listenerMu.Unlock()
	delete(e.listeners, handle)
}

// Start brings a worker to Running. It is idempotent while the worker is
// already Running; a failed connect or initialize leaves it Crashed and
// the cause is both recorded on the record and returned.
func (e *Engine) Start(ctx context.Context, id domain.WorkerID) error {
	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	cfg := e.provider.Snapshot()
	if _, ok := cfg.Tenant(id.TenantID); !ok {
		return domain.E(domain.CodeNotFound, "engine.Start",
			fmt.Sprintf("tenant %q", id.TenantID), domain.ErrTenantNotFound)
	}
	spec, ok := cfg.WorkerSpecFor(id.TenantID, id.Worker)
	if !ok {
		return domain.E(domain.CodeNotFound, "engine.Start",
			fmt.Sprintf("worker %q", id.String()), domain.ErrWorkerNotConfigured)
	}
	if !spec.Enabled {
		return domain.E(domain.CodeInvalidArgument, "engine.Start",
			fmt.Sprintf("worker %q is disabled", id.String()), domain.ErrWorkerNotConfigured)
	}

	w := e.record(id, spec)
	if w.State() == domain.StateRunning {
		e.logger.Debug("worker already running",
			telemetry.WorkerField(id.String()),
		)
		return nil
	}

	restarted := w.State() == domain.StateCrashed
	if err := w.Transition(domain.StateStarting); err != nil {
		return domain.E(domain.CodeUnavailable, "engine.Start", "", err)
	}
	e.logger.Info("starting worker",
		telemetry.EventField(telemetry.EventStartAttempt),
		telemetry.TenantField(id.TenantID),
		telemetry.WorkerField(id.String()),
	)
	e.emit(domain.EventWorkerStarting, id, "")

	started := time.Now()
	client := e.factory(spec, cfg.Settings)

	startCtx, cancel := context.WithTimeout(ctx, cfg.Settings.StartupTimeout())
	defer cancel()

	if err := client.Connect(startCtx); err != nil {
		return e.failStart(ctx, w, id, err)
	}
	if _, err := client.Initialize(startCtx); err != nil {
		_ = client.Disconnect(ctx)
		return e.failStart(ctx, w, id, err)
	}

	w.SetHandle(client)
	w.SetStartedAt(time.Now())
	w.SetLastError("")
	if restarted {
		w.IncRestartCount()
	}
	if err := w.Transition(domain.StateRunning); err != nil {
		return domain.E(domain.CodeInternal, "engine.Start", "", err)
	}

	e.metrics.ObserveWorkerStart(id.TenantID, nil)
	e.updateActiveWorkers(id.TenantID)
	e.emit(domain.EventWorkerStarted, id, "")
	e.logger.Info("worker started",
		telemetry.EventField(telemetry.EventStartSuccess),
		telemetry.TenantField(id.TenantID),
		telemetry.WorkerField(id.String()),
		telemetry.DurationField(time.Since(started)),
	)
	return nil
}

func (e *Engine) failStart(_ context.Context, w *domain.ManagedWorker, id domain.WorkerID, cause error) error {
	w.SetLastError(cause.Error())
	w.SetHandle(nil)
	if err := w.Transition(domain.StateCrashed); err != nil {
		e.logger.Error("crash transition rejected", zap.Error(err))
	}
	e.metrics.ObserveWorkerStart(id.TenantID, cause)
	e.metrics.ObserveWorkerFailure(id.TenantID)
	e.updateActiveWorkers(id.TenantID)
	e.emit(domain.EventWorkerFailed, id, cause.Error())
	e.logger.Error("worker start failed",
		telemetry.EventField(telemetry.EventStartFailure),
		telemetry.TenantField(id.TenantID),
		telemetry.WorkerField(id.String()),
		zap.Error(cause),
	)
	return domain.Wrap(domain.CodeConnection, "engine.Start", cause)
}

// StartGroup starts every enabled worker of the tenant, best effort. It
// returns the ids that reached Running and the joined failures, if any.
func (e *Engine) StartGroup(ctx context.Context, tenantID string) ([]domain.WorkerID, error) {
	cfg := e.provider.Snapshot()
	tenant, ok := cfg.Tenant(tenantID)
	if !ok {
		return nil, domain.E(domain.CodeNotFound, "engine.StartGroup",
			fmt.Sprintf("tenant %q", tenantID), domain.ErrTenantNotFound)
	}

	var (
		started []domain.WorkerID
		errs    []error
	)
	for _, spec := range tenant.EnabledWorkers() {
		id := domain.MakeWorkerID(tenantID, spec.Name)
		if err := e.Start(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		started = append(started, id)
	}
	return started, errors.Join(errs...)
}

// Stop brings a worker to Stopped. Stopping an unmanaged or already idle
// worker is a logged no-op. A disconnect failure leaves the worker
// Crashed and the failure is returned.
func (e *Engine) Stop(ctx context.Context, id domain.WorkerID) error {
	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	w := e.lookup(id)
	if w == nil || w.State().IsIdle() {
		e.logger.Warn("stop requested for inactive worker",
			telemetry.WorkerField(id.String()),
		)
		return nil
	}

	if err := w.Transition(domain.StateStopping); err != nil {
		return domain.E(domain.CodeUnavailable, "engine.Stop", "", err)
	}
	e.emit(domain.EventWorkerStopping, id, "")

	var stopErr error
	if handle := w.Handle(); handle != nil {
		stopErr = handle.Disconnect(ctx)
	}
	w.SetHandle(nil)
	w.SetStartedAt(time.Time{})

	if stopErr != nil {
		w.SetLastError(stopErr.Error())
		if err := w.Transition(domain.StateCrashed); err != nil {
			e.logger.Error("crash transition rejected", zap.Error(err))
		}
		e.metrics.ObserveWorkerStop(id.TenantID, stopErr)
		e.metrics.ObserveWorkerFailure(id.TenantID)
		e.updateActiveWorkers(id.TenantID)
		e.logger.Error("worker stop failed",
			telemetry.EventField(telemetry.EventStopFailure),
			telemetry.TenantField(id.TenantID),
			telemetry.WorkerField(id.String()),
			zap.Error(stopErr),
		)
		return domain.Wrap(domain.CodeConnection, "engine.Stop", stopErr)
	}

	if err := w.Transition(domain.StateStopped); err != nil {
		return domain.E(domain.CodeInternal, "engine.Stop", "", err)
	}
	e.metrics.ObserveWorkerStop(id.TenantID, nil)
	e.updateActiveWorkers(id.TenantID)
	e.emit(domain.EventWorkerStopped, id, "")
	e.logger.Info("worker stopped",
		telemetry.EventField(telemetry.EventStopSuccess),
		telemetry.TenantField(id.TenantID),
		telemetry.WorkerField(id.String()),
	)
	return nil
}

// StopGroup stops every managed worker of the tenant, best effort.
func (e *Engine) StopGroup(ctx context.Context, tenantID string) error {
	var errs []error
	for _, id := range e.tenantIDs(tenantID) {
		if err := e.Stop(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// StopAll stops every managed worker, best effort. Used on shutdown.
func (e *Engine) StopAll(ctx context.Context) error {
	var errs []error
	for _, id := range e.allIDs() {
		if err := e.Stop(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// LiveHandle returns the protocol client of a Running worker.
func (e *Engine) LiveHandle(id domain.WorkerID) (domain.ProtocolClient, error) {
	w := e.lookup(id)
	if w == nil {
		return nil, domain.E(domain.CodeUnavailable, "engine.LiveHandle",
			fmt.Sprintf("worker %q", id.String()), domain.ErrWorkerUnavailable)
	}
	handle, ok := w.LiveHandle()
	if !ok {
		return nil, domain.E(domain.CodeUnavailable, "engine.LiveHandle",
			fmt.Sprintf("worker %q is %s", id.String(), w.State()), domain.ErrWorkerUnavailable)
	}
	return handle, nil
}

// Status returns the snapshot of one managed worker.
func (e *Engine) Status(id domain.WorkerID) (domain.WorkerStatus, bool) {
	w := e.lookup(id)
	if w == nil {
		return domain.WorkerStatus{}, false
	}
	return w.Status(), true
}

// AllStatuses returns a snapshot of every managed worker, sorted by id.
func (e *Engine) AllStatuses() []domain.WorkerStatus {
	e.mu.RLock()
	out := make([]domain.WorkerStatus, 0, len(e.workers))
	for _, w := range e.workers {
		out = append(out, w.Status())
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

// TenantStatuses returns the snapshots of one tenant's managed workers.
func (e *Engine) TenantStatuses(tenantID string) []domain.WorkerStatus {
	e.mu.RLock()
	out := make([]domain.WorkerStatus, 0)
	for id, w := range e.workers {
		if id.TenantID == tenantID {
			out = append(out, w.Status())
		}
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

// ActiveCount returns the number of Running workers for the tenant.
func (e *Engine) ActiveCount(tenantID string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	count := 0
	for id, w := range e.workers {
		if id.TenantID == tenantID && w.State() == domain.StateRunning {
			count++
		}
	}
	return count
}

func (e *Engine) lockFor(id domain.WorkerID) *sync.Mutex {
	e.lockMu.Lock()
	defer e.lockMu.Unlock()
	lock, ok := e.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[id] = lock
	}
	return lock
}

func (e *Engine) lookup(id domain.WorkerID) *domain.ManagedWorker {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.workers[id]
}

// record returns the managed record for id, creating it stopped when
// unknown and refreshing its spec otherwise.
func (e *Engine) record(id domain.WorkerID, spec domain.WorkerSpec) *domain.ManagedWorker {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := e.workers[id]
	if !ok {
		w = domain.NewManagedWorker(id, spec)
		e.workers[id] = w
		return w
	}
	w.SetSpec(spec)
	return w
}

func (e *Engine) tenantIDs(tenantID string) []domain.WorkerID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.WorkerID, 0)
	for id := range e.workers {
		if id.TenantID == tenantID {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func (e *Engine) allIDs() []domain.WorkerID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.WorkerID, 0, len(e.workers))
	for id := range e.workers {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func (e *Engine) updateActiveWorkers(tenantID string) {
	e.metrics.SetActiveWorkers(tenantID, e.ActiveCount(tenantID))
}

// emit delivers one lifecycle event to every registered listener. Each
// listener runs under its own recover so a panicking listener cannot
// break the engine or starve the others.
func (e *Engine) emit(kind domain.LifecycleEventKind, id domain.WorkerID, errMsg string) {
	event := domain.LifecycleEvent{
		EventID:  uuid.NewString(),
		Kind:     kind,
		WorkerID: id,
		TenantID: id.TenantID,
		Error:    errMsg,
		At:       time.Now(),
	}

	e.listenerMu.RLock()
	listeners := make([]domain.LifecycleListener, 0, len(e.listeners))
	for _, l := range e.listeners {
		listeners = append(listeners, l)
	}
	e.listenerMu.RUnlock()

	for _, listener := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("lifecycle listener panicked",
						zap.String("kind", string(kind)),
						telemetry.WorkerField(id.String()),
						zap.Any("panic", r),
					)
				}
			}()
			listener(event)
		}()
	}
}
