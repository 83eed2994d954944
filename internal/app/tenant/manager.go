// Package tenant isolates workers, tool catalogs and quotas per tenant.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"mcphub/internal/app/engine"
	"mcphub/internal/app/router"
	"mcphub/internal/domain"
	"mcphub/internal/infra/telemetry"
)

// Context is the runtime record of one tenant: which workers it started,
// which public tool names it owns, and its quota overrides.
type Context struct {
	mu sync.RWMutex

	tenantID     string
	createdAt    time.Time
	lastActivity time.Time
	workers      map[string]struct{}
	tools        []string
	quotas       domain.QuotaSet
}

func newContext(tenantID string, now time.Time) *Context {
	return &Context{
		tenantID:     tenantID,
		createdAt:    now,
		lastActivity: now,
		workers:      make(map[string]struct{}),
		quotas:       make(domain.QuotaSet),
	}
}

func (c *Context) touch(now time.Time) {
	c.mu.Lock()
	c.lastActivity = now
	c.mu.Unlock()
}

func (c *Context) workerNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.workers))
	for name := range c.workers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (c *Context) workerCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.workers)
}

// ContextStatus is a read-only snapshot of a tenant context.
type ContextStatus struct {
	TenantID      string    `json:"tenantId"`
	CreatedAt     time.Time `json:"createdAt"`
	LastActivity  time.Time `json:"lastActivity"`
	Workers       []string  `json:"workers"`
	ActiveWorkers int       `json:"activeWorkers"`
	ToolCount     int       `json:"toolCount"`
}

// Manager owns the tenant contexts and enforces per-tenant quotas.
type Manager struct {
	logger   *zap.Logger
	provider domain.ConfigProvider
	engine   *engine.Engine
	router   *router.Router
	metrics  domain.Metrics
	defaults domain.QuotaSet

	mu       sync.RWMutex
	contexts map[string]*Context

	// now is replaceable so idle-cleanup tests control time
	now func() time.Time
}

// NewManager builds a tenant manager over the engine and router.
func NewManager(provider domain.ConfigProvider, eng *engine.Engine, rtr *router.Router, metrics domain.Metrics, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = domain.NopMetrics{}
	}
	return &Manager{
		logger:   logger.Named("tenant"),
		provider: provider,
		engine:   eng,
		router:   rtr,
		metrics:  metrics,
		defaults: domain.DefaultQuotas(),
		contexts: make(map[string]*Context),
		now:      time.Now,
	}
}

// GetOrCreate returns the tenant's context, creating it on first use.
// The tenant must be declared in the configuration.
func (m *Manager) GetOrCreate(tenantID string) (*Context, error) {
	cfg := m.provider.Snapshot()
	if _, ok := cfg.Tenant(tenantID); !ok {
		return nil, domain.E(domain.CodeNotFound, "tenant.GetOrCreate",
			fmt.Sprintf("tenant %q", tenantID), domain.ErrTenantNotFound)
	}

	m.mu.Lock()
	tc, ok := m.contexts[tenantID]
	if !ok {
		tc = newContext(tenantID, m.now())
		m.contexts[tenantID] = tc
		m.logger.Info("tenant context created", telemetry.TenantField(tenantID))
	}
	total := len(m.contexts)
	m.mu.Unlock()

	tc.touch(m.now())
	m.metrics.SetTenantContexts(total)
	return tc, nil
}

// SetQuota overrides one quota for the tenant.
func (m *Manager) SetQuota(tenantID string, kind domain.QuotaKind, limit int) error {
	tc, err := m.GetOrCreate(tenantID)
	if err != nil {
		return err
	}
	tc.mu.Lock()
	tc.quotas[kind] = limit
	tc.mu.Unlock()
	return nil
}

// GetQuota returns the effective limit: the tenant override when set,
// otherwise the global default.
func (m *Manager) GetQuota(tenantID string, kind domain.QuotaKind) int {
	m.mu.RLock()
	tc := m.contexts[tenantID]
	m.mu.RUnlock()
	if tc != nil {
		tc.mu.RLock()
		limit, ok := tc.quotas[kind]
		tc.mu.RUnlock()
		if ok {
			return limit
		}
	}
	return m.defaults[kind]
}

// CheckQuota reports whether the tenant currently violates the quota.
// The worker quota compares against the limit as a precondition for one
// more worker; the tool quota reports overflow already in the catalog.
func (m *Manager) CheckQuota(tenantID string, kind domain.QuotaKind) error {
	limit := m.GetQuota(tenantID, kind)

	switch kind {
	case domain.QuotaMaxWorkers:
		m.mu.RLock()
		tc := m.contexts[tenantID]
		m.mu.RUnlock()
		if tc != nil && tc.workerCount() >= limit {
			return domain.E(domain.CodeQuotaExceeded, "tenant.CheckQuota",
				fmt.Sprintf("tenant %q has %d workers, limit %d", tenantID, tc.workerCount(), limit),
				domain.ErrQuotaExceeded)
		}
		return nil
	case domain.QuotaMaxToolsPerWorker:
		for _, status := range m.engine.TenantStatuses(tenantID) {
			count := len(m.router.ListByWorker(status.ID))
			if count > limit {
				return domain.E(domain.CodeQuotaExceeded, "tenant.CheckQuota",
					fmt.Sprintf("worker %q exposes %d tools, limit %d", status.ID, count, limit),
					domain.ErrQuotaExceeded)
			}
		}
		return nil
	default:
		return nil
	}
}

// StartWorkers starts every enabled worker of the tenant and discovers
// their tools. The worker quota is checked before each start; workers
// beyond the limit are rejected without a start attempt. Partial
// failures are joined into the returned error.
func (m *Manager) StartWorkers(ctx context.Context, tenantID string) ([]domain.WorkerID, error) {
	tc, err := m.GetOrCreate(tenantID)
	if err != nil {
		return nil, err
	}

	cfg := m.provider.Snapshot()
	tenantSpec, _ := cfg.Tenant(tenantID)

	var (
		started []domain.WorkerID
		errs    []error
	)
	for _, spec := range tenantSpec.EnabledWorkers() {
		id := domain.MakeWorkerID(tenantID, spec.Name)

		tc.mu.RLock()
		_, tracked := tc.workers[spec.Name]
		tc.mu.RUnlock()
		if !tracked {
			if err := m.CheckQuota(tenantID, domain.QuotaMaxWorkers); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", id, err))
				continue
			}
		}

		if err := m.engine.Start(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		tc.mu.Lock()
		tc.workers[spec.Name] = struct{}{}
		tc.mu.Unlock()
		started = append(started, id)

		if _, err := m.router.Discover(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
		if err := m.CheckQuota(tenantID, domain.QuotaMaxToolsPerWorker); err != nil {
			m.logger.Warn("tool quota exceeded after discovery",
				telemetry.TenantField(tenantID),
				telemetry.WorkerField(id.String()),
				zap.Error(err),
			)
		}
	}

	m.refreshTools(tc)
	tc.touch(m.now())
	return started, errors.Join(errs...)
}

// StopWorkers stops the tenant's workers and drops their catalog entries.
func (m *Manager) StopWorkers(ctx context.Context, tenantID string) error {
	m.mu.RLock()
	tc := m.contexts[tenantID]
	m.mu.RUnlock()
	if tc == nil {
		m.logger.Warn("stop requested for unknown tenant context", telemetry.TenantField(tenantID))
		return nil
	}

	stopErr := m.engine.StopGroup(ctx, tenantID)
	for _, name := range tc.workerNames() {
		m.router.ClearWorker(domain.MakeWorkerID(tenantID, name))
	}

	tc.mu.Lock()
	tc.workers = make(map[string]struct{})
	tc.tools = nil
	tc.mu.Unlock()
	tc.touch(m.now())
	return stopErr
}

// Tools returns the tenant's public tool names, sorted.
func (m *Manager) Tools(tenantID string) []string {
	m.mu.RLock()
	tc := m.contexts[tenantID]
	m.mu.RUnlock()
	if tc == nil {
		return nil
	}
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return append([]string(nil), tc.tools...)
}

// ToolsSummary aggregates the tenant's catalog entries by worker.
func (m *Manager) ToolsSummary(tenantID string) domain.TenantToolsSummary {
	m.mu.RLock()
	tc := m.contexts[tenantID]
	m.mu.RUnlock()

	summary := domain.TenantToolsSummary{
		TenantID:      tenantID,
		ToolsByWorker: make(map[string][]string),
	}
	if tc == nil {
		return summary
	}
	summary.Exists = true

	for _, desc := range m.router.ListByTenant(tenantID) {
		summary.AllTools = append(summary.AllTools, desc.PublicName)
		key := desc.WorkerID.String()
		summary.ToolsByWorker[key] = append(summary.ToolsByWorker[key], desc.PublicName)
	}
	sort.Strings(summary.AllTools)
	summary.TotalTools = len(summary.AllTools)
	summary.ActiveWorkers = m.engine.ActiveCount(tenantID)
	return summary
}

// Status snapshots one tenant context.
func (m *Manager) Status(tenantID string) (ContextStatus, bool) {
	m.mu.RLock()
	tc := m.contexts[tenantID]
	m.mu.RUnlock()
	if tc == nil {
		return ContextStatus{}, false
	}
	return m.statusOf(tc), true
}

// AllStatuses snapshots every tenant context, sorted by tenant id.
func (m *Manager) AllStatuses() []ContextStatus {
	m.mu.RLock()
	contexts := make([]*Context, 0, len(m.contexts))
	for _, tc := range m.contexts {
		contexts = append(contexts, tc)
	}
	m.mu.RUnlock()

	out := make([]ContextStatus, 0, len(contexts))
	for _, tc := range contexts {
		out = append(out, m.statusOf(tc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out
}

func (m *Manager) statusOf(tc *Context) ContextStatus {
	tc.mu.RLock()
	status := ContextStatus{
		TenantID:     tc.tenantID,
		CreatedAt:    tc.createdAt,
		LastActivity: tc.lastActivity,
		ToolCount:    len(tc.tools),
	}
	for name := range tc.workers {
		status.Workers = append(status.Workers, name)
	}
	tc.mu.RUnlock()
	sort.Strings(status.Workers)
	status.ActiveWorkers = m.engine.ActiveCount(tc.tenantID)
	return status
}

// ManagerMetrics aggregates counts across all tenant contexts.
type ManagerMetrics struct {
	Contexts      int             `json:"contexts"`
	ActiveWorkers int             `json:"activeWorkers"`
	TotalTools    int             `json:"totalTools"`
	Tenants       []ContextStatus `json:"tenants"`
}

// Metrics snapshots the isolation layer as a whole.
func (m *Manager) Metrics() ManagerMetrics {
	statuses := m.AllStatuses()
	out := ManagerMetrics{
		Contexts: len(statuses),
		Tenants:  statuses,
	}
	for _, status := range statuses {
		out.ActiveWorkers += status.ActiveWorkers
		out.TotalTools += status.ToolCount
	}
	return out
}

// CleanupInactive evicts contexts that were idle longer than the
// threshold and have no running workers. It returns the evicted ids.
func (m *Manager) CleanupInactive(ctx context.Context, threshold time.Duration) []string {
	now := m.now()

	m.mu.RLock()
	candidates := make([]*Context, 0, len(m.contexts))
	for _, tc := range m.contexts {
		candidates = append(candidates, tc)
	}
	m.mu.RUnlock()

	var cleaned []string
	for _, tc := range candidates {
		tc.mu.RLock()
		idleFor := now.Sub(tc.lastActivity)
		tc.mu.RUnlock()
		if idleFor <= threshold {
			continue
		}
		if m.engine.ActiveCount(tc.tenantID) > 0 {
			continue
		}

		if err := m.StopWorkers(ctx, tc.tenantID); err != nil {
			m.logger.Error("cleanup stop failed",
				telemetry.TenantField(tc.tenantID),
				zap.Error(err),
			)
		}
		m.mu.Lock()
		delete(m.contexts, tc.tenantID)
		total := len(m.contexts)
		m.mu.Unlock()
		m.metrics.SetTenantContexts(total)

		cleaned = append(cleaned, tc.tenantID)
		m.logger.Info("tenant context evicted",
			telemetry.EventField(telemetry.EventTenantCleanup),
			telemetry.TenantField(tc.tenantID),
			telemetry.DurationField(idleFor),
		)
	}
	sort.Strings(cleaned)
	return cleaned
}

// refreshTools recomputes the tenant's public tool list from the router.
func (m *Manager) refreshTools(tc *Context) {
	names := make([]string, 0)
	for _, desc := range m.router.ListByTenant(tc.tenantID) {
		names = append(names, desc.PublicName)
	}
	sort.Strings(names)
	tc.mu.Lock()
	tc.tools = names
	tc.mu.Unlock()
}
