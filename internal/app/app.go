// Package app wires the configuration provider, engine, router and
// tenant manager into one runnable hub.
package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"mcphub/internal/app/engine"
	"mcphub/internal/app/router"
	"mcphub/internal/app/tenant"
	"mcphub/internal/domain"
	"mcphub/internal/infra/config"
	"mcphub/internal/infra/stdioclient"
	"mcphub/internal/infra/telemetry"
)

// Options configures the hub. ConfigPath is required; the factory and
// registry default to the stdio client and a fresh Prometheus registry.
type Options struct {
	ConfigPath    string
	ClientFactory domain.ClientFactory
	Registry      *prometheus.Registry
}

// App is the assembled hub.
type App struct {
	logger   *zap.Logger
	provider *config.Provider
	engine   *engine.Engine
	router   *router.Router
	tenants  *tenant.Manager
	monitor  *engine.Monitor
	registry *prometheus.Registry
}

// New loads the configuration and assembles the hub.
func New(ctx context.Context, opts Options, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	provider, err := config.NewProvider(ctx, opts.ConfigPath, logger)
	if err != nil {
		return nil, err
	}

	registry := opts.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	metrics := telemetry.NewPrometheusMetrics(registry)

	factory := opts.ClientFactory
	if factory == nil {
		factory = stdioclient.Factory(logger)
	}

	eng := engine.New(provider, factory, metrics, logger)
	rtr := router.New(eng, metrics, logger)
	tenants := tenant.NewManager(provider, eng, rtr, metrics, logger)

	return &App{
		logger:   logger.Named("app"),
		provider: provider,
		engine:   eng,
		router:   rtr,
		tenants:  tenants,
		monitor:  engine.NewMonitor(eng, logger),
		registry: registry,
	}, nil
}

// Provider returns the configuration provider.
func (a *App) Provider() *config.Provider { return a.provider }

// Engine returns the worker lifecycle engine.
func (a *App) Engine() *engine.Engine { return a.engine }

// Router returns the tool catalog router.
func (a *App) Router() *router.Router { return a.router }

// Tenants returns the tenant manager.
func (a *App) Tenants() *tenant.Manager { return a.tenants }

// Run brings up every configured tenant, then serves until the context
// is cancelled. Shutdown stops the background loops first and drains the
// workers last.
func (a *App) Run(ctx context.Context) error {
	a.startTenants(ctx)

	a.monitor.Start(ctx)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.provider.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("config watch stopped", zap.Error(err))
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.cleanupLoop(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		addr := a.provider.Snapshot().Settings.ObservabilityAddress
		if err := telemetry.StartMetricsServer(ctx, addr, a.registry, a.logger); err != nil {
			a.logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()

	a.monitor.Stop()
	wg.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.engine.StopAll(drainCtx); err != nil {
		a.logger.Error("worker drain failed", zap.Error(err))
	}
	a.router.ClearAll()
	a.logger.Info("hub stopped")
	return nil
}

// startTenants brings up the configured tenants, best effort.
func (a *App) startTenants(ctx context.Context) {
	for _, tenantID := range a.provider.Snapshot().TenantIDs() {
		started, err := a.tenants.StartWorkers(ctx, tenantID)
		if err != nil {
			a.logger.Warn("tenant came up partially",
				telemetry.TenantField(tenantID),
				zap.Int("started", len(started)),
				zap.Error(err),
			)
			continue
		}
		a.logger.Info("tenant up",
			telemetry.TenantField(tenantID),
			zap.Int("workers", len(started)),
		)
	}
}

// cleanupLoop periodically evicts idle tenant contexts. Intervals are
// re-read from the current snapshot so a reload takes effect live.
func (a *App) cleanupLoop(ctx context.Context) {
	for {
		settings := a.provider.Snapshot().Settings
		interval := time.Duration(settings.CleanupCheckSeconds) * time.Second
		if interval <= 0 {
			interval = domain.DefaultCleanupCheckSeconds * time.Second
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			threshold := time.Duration(settings.TenantIdleSeconds) * time.Second
			if threshold <= 0 {
				threshold = domain.DefaultTenantIdleSeconds * time.Second
			}
			if cleaned := a.tenants.CleanupInactive(ctx, threshold); len(cleaned) > 0 {
				a.logger.Info("idle tenants evicted", zap.Strings("tenants", cleaned))
			}
		}
	}
}
