package domain

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// WorkerID is the composite identifier "tenant:worker", unique system-wide.
type WorkerID struct {
	TenantID string
	Worker   string
}

// MakeWorkerID builds a composite id from its parts.
func MakeWorkerID(tenantID, worker string) WorkerID {
	return WorkerID{TenantID: tenantID, Worker: worker}
}

// ParseWorkerID parses the "tenant:worker" wire form.
func ParseWorkerID(raw string) (WorkerID, error) {
	tenant, worker, ok := strings.Cut(raw, ":")
	if !ok || tenant == "" || worker == "" {
		return WorkerID{}, fmt.Errorf("%w: %q", ErrInvalidWorkerID, raw)
	}
	return WorkerID{TenantID: tenant, Worker: worker}, nil
}

func (id WorkerID) String() string {
	return id.TenantID + ":" + id.Worker
}

// ShortName is the worker-name portion used as the public namespace prefix.
func (id WorkerID) ShortName() string {
	return id.Worker
}

// WorkerState is the lifecycle state of a managed worker.
type WorkerState string

const (
	StateStopped  WorkerState = "stopped"
	StateStarting WorkerState = "starting"
	StateRunning  WorkerState = "running"
	StateStopping WorkerState = "stopping"
	StateCrashed  WorkerState = "crashed"
)

var workerTransitions = map[WorkerState][]WorkerState{
	StateStopped:  {StateStarting},
	StateStarting: {StateRunning, StateCrashed},
	StateRunning:  {StateStopping, StateCrashed},
	StateStopping: {StateStopped, StateCrashed},
	StateCrashed:  {StateStarting},
}

// CanTransition reports whether the edge from → to exists in the lifecycle.
func CanTransition(from, to WorkerState) bool {
	for _, next := range workerTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsIdle reports states in which a worker holds no live handle.
func (s WorkerState) IsIdle() bool {
	return s == StateStopped || s == StateCrashed
}

// ManagedWorker is the runtime record for one worker. All access goes
// through the accessor methods; the zero state is Stopped.
type ManagedWorker struct {
	mu sync.RWMutex

	id           WorkerID
	spec         WorkerSpec
	state        WorkerState
	handle       ProtocolClient
	startedAt    time.Time
	lastError    string
	restartCount int
}

// NewManagedWorker constructs a stopped record for the given spec.
func NewManagedWorker(id WorkerID, spec WorkerSpec) *ManagedWorker {
	return &ManagedWorker{
		id:    id,
		spec:  spec,
		state: StateStopped,
	}
}

// ID returns the composite worker id.
func (w *ManagedWorker) ID() WorkerID {
	return w.id
}

// Spec returns the static configuration.
func (w *ManagedWorker) Spec() WorkerSpec {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.spec
}

// SetSpec replaces the static configuration after a reload.
func (w *ManagedWorker) SetSpec(spec WorkerSpec) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.spec = spec
}

// State returns the current lifecycle state.
func (w *ManagedWorker) State() WorkerState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Transition moves the record to the next state, rejecting edges that are
// not in the lifecycle table.
func (w *ManagedWorker) Transition(to WorkerState) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !CanTransition(w.state, to) {
		return fmt.Errorf("%w: %s -> %s (%s)", ErrIllegalTransition, w.state, to, w.id)
	}
	w.state = to
	return nil
}

// Handle returns the protocol client handle, which may be nil.
func (w *ManagedWorker) Handle() ProtocolClient {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.handle
}

// LiveHandle returns the handle only while the worker is Running.
func (w *ManagedWorker) LiveHandle() (ProtocolClient, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.state != StateRunning || w.handle == nil {
		return nil, false
	}
	return w.handle, true
}

// SetHandle stores or clears the protocol client handle.
func (w *ManagedWorker) SetHandle(handle ProtocolClient) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handle = handle
}

// StartedAt returns the start timestamp, zero when not running.
func (w *ManagedWorker) StartedAt() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.startedAt
}

// SetStartedAt updates the start timestamp.
func (w *ManagedWorker) SetStartedAt(at time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.startedAt = at
}

// LastError returns the most recent failure text.
func (w *ManagedWorker) LastError() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastError
}

// SetLastError records a failure; an empty string clears it.
func (w *ManagedWorker) SetLastError(msg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastError = msg
}

// RestartCount returns the restart counter.
func (w *ManagedWorker) RestartCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.restartCount
}

// IncRestartCount increments the restart counter and returns the new value.
func (w *ManagedWorker) IncRestartCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.restartCount++
	return w.restartCount
}

// WorkerStatus is a read-only snapshot of a managed worker.
type WorkerStatus struct {
	ID           WorkerID    `json:"id"`
	TenantID     string      `json:"tenantId"`
	State        WorkerState `json:"state"`
	Name         string      `json:"name"`
	Type         string      `json:"type"`
	Command      string      `json:"command"`
	Enabled      bool        `json:"enabled"`
	StartedAt    time.Time   `json:"startedAt,omitzero"`
	LastError    string      `json:"lastError,omitempty"`
	RestartCount int         `json:"restartCount"`
}

// Status builds a consistent snapshot of the record.
func (w *ManagedWorker) Status() WorkerStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerStatus{
		ID:           w.id,
		TenantID:     w.id.TenantID,
		State:        w.state,
		Name:         w.spec.Name,
		Type:         w.spec.Type,
		Command:      w.spec.Command,
		Enabled:      w.spec.Enabled,
		StartedAt:    w.startedAt,
		LastError:    w.lastError,
		RestartCount: w.restartCount,
	}
}
