package domain

import "time"

// LifecycleEventKind enumerates the worker lifecycle notifications.
type LifecycleEventKind string

const (
	EventWorkerStarting LifecycleEventKind = "worker_starting"
	EventWorkerStarted  LifecycleEventKind = "worker_started"
	EventWorkerFailed   LifecycleEventKind = "worker_failed"
	EventWorkerStopping LifecycleEventKind = "worker_stopping"
	EventWorkerStopped  LifecycleEventKind = "worker_stopped"
)

// LifecycleEvent is delivered by value to every registered listener.
// For a given worker, starting precedes started or failed, and stopping
// precedes stopped.
type LifecycleEvent struct {
	EventID  string             `json:"eventId"`
	Kind     LifecycleEventKind `json:"kind"`
	WorkerID WorkerID           `json:"workerId"`
	TenantID string             `json:"tenantId"`
	Error    string             `json:"error,omitempty"`
	At       time.Time          `json:"at"`
}

// LifecycleListener receives lifecycle events. A listener that panics is
// isolated and logged; it never breaks the engine or other listeners.
type LifecycleListener func(event LifecycleEvent)
