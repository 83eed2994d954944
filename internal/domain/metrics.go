package domain

import "time"

// CallStatus labels the outcome of a routed tool call.
type CallStatus string

const (
	CallStatusSuccess CallStatus = "success"
	CallStatusError   CallStatus = "error"
)

// Metrics is the observation surface the core reports into.
type Metrics interface {
	ObserveWorkerStart(tenantID string, err error)
	ObserveWorkerStop(tenantID string, err error)
	ObserveWorkerFailure(tenantID string)
	SetActiveWorkers(tenantID string, count int)
	ObserveToolCall(publicName string, status CallStatus, elapsed time.Duration)
	SetCatalogSize(count int)
	SetTenantContexts(count int)
}

// NopMetrics discards all observations.
type NopMetrics struct{}

func (NopMetrics) ObserveWorkerStart(string, error)                  {}
func (NopMetrics) ObserveWorkerStop(string, error)                   {}
func (NopMetrics) ObserveWorkerFailure(string)                       {}
func (NopMetrics) SetActiveWorkers(string, int)                      {}
func (NopMetrics) ObserveToolCall(string, CallStatus, time.Duration) {}
func (NopMetrics) SetCatalogSize(int)                                {}
func (NopMetrics) SetTenantContexts(int)                             {}
