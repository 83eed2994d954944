package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"mcphub/internal/domain"
	"mcphub/internal/infra/telemetry"
)

// Monitor periodically checks every Running worker's connection flag and
// marks workers with a dead connection as Crashed. It never restarts
// anything; recovery happens through an explicit Start.
type Monitor struct {
	engine *Engine
	logger *zap.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewMonitor builds a monitor over the engine.
func NewMonitor(engine *Engine, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		engine: engine,
		logger: logger.Named("monitor"),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the health loop. The interval comes from the current
// configuration snapshot and is re-read every pass, so a reload takes
// effect without restarting the loop.
func (m *Monitor) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		go m.run(ctx)
	})
}

// Stop terminates the loop and waits for the in-flight pass to finish.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
	<-m.done
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	for {
		interval := m.engine.provider.Snapshot().Settings.HealthCheckInterval()
		if interval <= 0 {
			interval = domain.DefaultHealthCheckSeconds * time.Second
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-m.stop:
			timer.Stop()
			return
		case <-timer.C:
			m.checkOnce(ctx)
		}
	}
}

// checkOnce sweeps the Running workers once.
func (m *Monitor) checkOnce(ctx context.Context) {
	for _, status := range m.engine.AllStatuses() {
		if status.State != domain.StateRunning {
			continue
		}
		w := m.engine.lookup(status.ID)
		if w == nil {
			continue
		}
		handle := w.Handle()
		if handle != nil && handle.IsConnected() {
			continue
		}
		m.markCrashed(ctx, status.ID)
	}
}

// markCrashed re-checks the worker under its lifecycle lock so it does
// not race a concurrent Stop or Start, then records the lost connection.
func (m *Monitor) markCrashed(_ context.Context, id domain.WorkerID) {
	lock := m.engine.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	w := m.engine.lookup(id)
	if w == nil || w.State() != domain.StateRunning {
		return
	}
	if handle := w.Handle(); handle != nil && handle.IsConnected() {
		return
	}

	w.SetLastError("connection lost")
	w.SetHandle(nil)
	if err := w.Transition(domain.StateCrashed); err != nil {
		m.logger.Error("crash transition rejected", zap.Error(err))
		return
	}
	m.engine.metrics.ObserveWorkerFailure(id.TenantID)
	m.engine.updateActiveWorkers(id.TenantID)
	m.engine.emit(domain.EventWorkerFailed, id, "connection lost")
	m.logger.Warn("worker connection lost",
		telemetry.EventField(telemetry.EventHealthFailure),
		telemetry.TenantField(id.TenantID),
		telemetry.WorkerField(id.String()),
	)
}
