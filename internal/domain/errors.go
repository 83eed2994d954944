package domain

import "errors"

var (
	// ErrTenantNotFound indicates the tenant is not declared in the configuration.
	ErrTenantNotFound = errors.New("tenant not found")
	// ErrWorkerNotConfigured indicates the worker is not declared for its tenant.
	ErrWorkerNotConfigured = errors.New("worker not configured")
	// ErrWorkerUnavailable indicates the worker is not running with a live handle.
	ErrWorkerUnavailable = errors.New("worker unavailable")
	// ErrToolNotFound indicates no catalog entry matches the requested tool name.
	ErrToolNotFound = errors.New("tool not found")
	// ErrToolNameConflict indicates a public tool name is already owned by another worker.
	ErrToolNameConflict = errors.New("tool name conflict")
	// ErrQuotaExceeded indicates a tenant quota limit has been reached.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrNotConnected indicates the protocol client has no active connection.
	ErrNotConnected = errors.New("not connected")
	// ErrInvalidWorkerID indicates a composite worker id is malformed.
	ErrInvalidWorkerID = errors.New("invalid worker id")
	// ErrIllegalTransition indicates a lifecycle transition not in the state machine.
	ErrIllegalTransition = errors.New("illegal state transition")
)
