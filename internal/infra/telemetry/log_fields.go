package telemetry

import (
	"time"

	"go.uber.org/zap"
)

const (
	FieldEvent      = "event"
	FieldTenant     = "tenant"
	FieldWorker     = "worker"
	FieldState      = "state"
	FieldTool       = "tool"
	FieldDurationMs = "duration_ms"
)

const (
	EventStartAttempt   = "start_attempt"
	EventStartSuccess   = "start_success"
	EventStartFailure   = "start_failure"
	EventStopSuccess    = "stop_success"
	EventStopFailure    = "stop_failure"
	EventHealthFailure  = "health_failure"
	EventDiscovery      = "discovery"
	EventRouteError     = "route_error"
	EventTenantCleanup  = "tenant_cleanup"
	EventConfigReloaded = "config_reloaded"
)

func EventField(event string) zap.Field {
	return zap.String(FieldEvent, event)
}

func TenantField(tenantID string) zap.Field {
	return zap.String(FieldTenant, tenantID)
}

func WorkerField(workerID string) zap.Field {
	return zap.String(FieldWorker, workerID)
}

func StateField(state string) zap.Field {
	return zap.String(FieldState, state)
}

func ToolField(name string) zap.Field {
	return zap.String(FieldTool, name)
}

func DurationField(duration time.Duration) zap.Field {
	return zap.Int64(FieldDurationMs, duration.Milliseconds())
}
