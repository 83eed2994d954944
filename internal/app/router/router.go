// Package router maintains the dotted-name tool catalog and dispatches
// tool calls to the owning worker.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"mcphub/internal/app/engine"
	"mcphub/internal/domain"
	"mcphub/internal/infra/telemetry"
)

// Router owns the catalog of discovered tools. Entries are keyed by
// public dotted name; a public name belongs to exactly one worker.
type Router struct {
	logger  *zap.Logger
	engine  *engine.Engine
	metrics domain.Metrics

	mu       sync.RWMutex
	tools    map[string]domain.ToolDescriptor
	byWorker map[domain.WorkerID][]string
}

// New builds a router over the engine.
func New(eng *engine.Engine, metrics domain.Metrics, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = domain.NopMetrics{}
	}
	return &Router{
		logger:   logger.Named("router"),
		engine:   eng,
		metrics:  metrics,
		tools:    make(map[string]domain.ToolDescriptor),
		byWorker: make(map[domain.WorkerID][]string),
	}
}

// PublicName derives the dotted catalog name for a worker operation.
func PublicName(id domain.WorkerID, operation string) string {
	return id.ShortName() + "." + operation
}

// Discover lists the worker's operations and replaces its catalog
// entries. The worker must be Running. An operation whose dotted name is
// already owned by a different worker is rejected and reported; the
// remaining operations still register.
func (r *Router) Discover(ctx context.Context, id domain.WorkerID) ([]domain.ToolDescriptor, error) {
	handle, err := r.engine.LiveHandle(id)
	if err != nil {
		return nil, err
	}
	ops, err := handle.ListOperations(ctx)
	if err != nil {
		return nil, domain.E(domain.CodeToolCall, "router.Discover",
			fmt.Sprintf("list operations of %q", id.String()), err)
	}

	r.mu.Lock()
	r.clearWorkerLocked(id)

	var (
		registered []domain.ToolDescriptor
		conflicts  []error
	)
	for _, op := range ops {
		public := PublicName(id, op.Name)
		if owner, ok := r.tools[public]; ok && owner.WorkerID != id {
			conflicts = append(conflicts, fmt.Errorf("%w: %q already owned by %s",
				domain.ErrToolNameConflict, public, owner.WorkerID))
			continue
		}
		desc := domain.ToolDescriptor{
			WorkerID:     id,
			OriginalName: op.Name,
			PublicName:   public,
			Description:  op.Description,
			InputSchema:  op.InputSchema,
		}
		r.tools[public] = desc
		r.byWorker[id] = append(r.byWorker[id], public)
		registered = append(registered, desc)
	}
	total := len(r.tools)
	r.mu.Unlock()

	r.metrics.SetCatalogSize(total)
	r.logger.Info("worker tools discovered",
		telemetry.EventField(telemetry.EventDiscovery),
		telemetry.TenantField(id.TenantID),
		telemetry.WorkerField(id.String()),
		zap.Int("registered", len(registered)),
		zap.Int("rejected", len(conflicts)),
	)
	return registered, errors.Join(conflicts...)
}

// DiscoverAll rediscovers every Running worker, best effort. Per-worker
// failures are joined into the returned error.
func (r *Router) DiscoverAll(ctx context.Context) error {
	var errs []error
	for _, status := range r.engine.AllStatuses() {
		if status.State != domain.StateRunning {
			continue
		}
		if _, err := r.Discover(ctx, status.ID); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", status.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Refresh drops the worker's entries and rediscovers them.
func (r *Router) Refresh(ctx context.Context, id domain.WorkerID) ([]domain.ToolDescriptor, error) {
	r.ClearWorker(id)
	return r.Discover(ctx, id)
}

// Call dispatches a tool call by public dotted name.
func (r *Router) Call(ctx context.Context, publicName string, args json.RawMessage, timeout time.Duration) (json.RawMessage, error) {
	desc, ok := r.Get(publicName)
	if !ok {
		available := r.publicNames()
		return nil, domain.E(domain.CodeNotFound, "router.Call",
			fmt.Sprintf("tool %q not found, available: [%s]", publicName, strings.Join(available, ", ")),
			domain.ErrToolNotFound)
	}

	handle, err := r.engine.LiveHandle(desc.WorkerID)
	if err != nil {
		r.logger.Warn("tool call routed to unavailable worker",
			telemetry.EventField(telemetry.EventRouteError),
			telemetry.ToolField(publicName),
			telemetry.WorkerField(desc.WorkerID.String()),
		)
		return nil, err
	}

	started := time.Now()
	result, err := handle.CallOperation(ctx, desc.OriginalName, args, timeout)
	elapsed := time.Since(started)
	if err != nil {
		r.metrics.ObserveToolCall(publicName, domain.CallStatusError, elapsed)
		r.logger.Error("tool call failed",
			telemetry.EventField(telemetry.EventRouteError),
			telemetry.ToolField(publicName),
			telemetry.WorkerField(desc.WorkerID.String()),
			telemetry.DurationField(elapsed),
			zap.Error(err),
		)
		// worker call failures carry their own code and pass through
		// unchanged; anything else becomes a generic routing error
		return nil, domain.Wrap(domain.CodeInternal, "router.Call", err)
	}

	r.metrics.ObserveToolCall(publicName, domain.CallStatusSuccess, elapsed)
	r.logger.Debug("tool call completed",
		telemetry.ToolField(publicName),
		telemetry.DurationField(elapsed),
	)
	return result, nil
}

// Get looks up a catalog entry by public dotted name.
func (r *Router) Get(publicName string) (domain.ToolDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.tools[publicName]
	return desc, ok
}

// List returns every catalog entry, sorted by public name.
func (r *Router) List() []domain.ToolDescriptor {
	r.mu.RLock()
	out := make([]domain.ToolDescriptor, 0, len(r.tools))
	for _, desc := range r.tools {
		out = append(out, desc)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].PublicName < out[j].PublicName })
	return out
}

// ListByWorker returns one worker's catalog entries, sorted.
func (r *Router) ListByWorker(id domain.WorkerID) []domain.ToolDescriptor {
	r.mu.RLock()
	names := append([]string(nil), r.byWorker[id]...)
	out := make([]domain.ToolDescriptor, 0, len(names))
	for _, name := range names {
		out = append(out, r.tools[name])
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].PublicName < out[j].PublicName })
	return out
}

// GetByTenantWorker returns the entries of the worker named within the
// tenant's namespace.
func (r *Router) GetByTenantWorker(tenantID, workerName string) []domain.ToolDescriptor {
	return r.ListByWorker(domain.MakeWorkerID(tenantID, workerName))
}

// ListByTenant returns the catalog entries of one tenant's workers.
func (r *Router) ListByTenant(tenantID string) []domain.ToolDescriptor {
	r.mu.RLock()
	out := make([]domain.ToolDescriptor, 0)
	for _, desc := range r.tools {
		if desc.WorkerID.TenantID == tenantID {
			out = append(out, desc)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].PublicName < out[j].PublicName })
	return out
}

// Summary aggregates the catalog.
func (r *Router) Summary() domain.CatalogSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byWorker := make(map[string][]string, len(r.byWorker))
	for id, names := range r.byWorker {
		sorted := append([]string(nil), names...)
		sort.Strings(sorted)
		byWorker[id.String()] = sorted
	}
	all := make([]string, 0, len(r.tools))
	for name := range r.tools {
		all = append(all, name)
	}
	sort.Strings(all)

	return domain.CatalogSummary{
		TotalTools:    len(r.tools),
		TotalWorkers:  len(r.byWorker),
		ToolsByWorker: byWorker,
		AllTools:      all,
	}
}

// ClearWorker removes one worker's catalog entries.
func (r *Router) ClearWorker(id domain.WorkerID) {
	r.mu.Lock()
	r.clearWorkerLocked(id)
	total := len(r.tools)
	r.mu.Unlock()
	r.metrics.SetCatalogSize(total)
}

// ClearAll empties the catalog.
func (r *Router) ClearAll() {
	r.mu.Lock()
	r.tools = make(map[string]domain.ToolDescriptor)
	r.byWorker = make(map[domain.WorkerID][]string)
	r.mu.Unlock()
	r.metrics.SetCatalogSize(0)
}

func (r *Router) clearWorkerLocked(id domain.WorkerID) {
	for _, name := range r.byWorker[id] {
		if owner, ok := r.tools[name]; ok && owner.WorkerID == id {
			delete(r.tools, name)
		}
	}
	delete(r.byWorker, id)
}

func (r *Router) publicNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
