package domain

import (
	"sort"
	"time"
)

// TransportKind identifies how a worker process is reached.
type TransportKind string

const (
	TransportStdio TransportKind = "stdio"
	TransportHTTP  TransportKind = "http"
	TransportSSE   TransportKind = "sse"
)

// NormalizeTransport maps an empty transport to the stdio default.
func NormalizeTransport(kind TransportKind) TransportKind {
	if kind == "" {
		return TransportStdio
	}
	return kind
}

const (
	DefaultRestartMaxRetries     = 3
	DefaultStartupTimeoutSeconds = 30
	DefaultHealthCheckSeconds    = 5
	DefaultCleanupCheckSeconds   = 60
	DefaultTenantIdleSeconds     = 3600

	DefaultObservabilityListenAddress = "0.0.0.0:9090"
)

// WorkerSpec is the static configuration of one worker process.
// It is immutable once loaded; a reload produces a whole new Config.
type WorkerSpec struct {
	Name         string            `json:"name"`
	Type         string            `json:"type"`
	Command      string            `json:"command"`
	Args         []string          `json:"args,omitempty"`
	Enabled      bool              `json:"enabled"`
	Capabilities []string          `json:"capabilities,omitempty"`
	Transport    TransportKind     `json:"transport"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// FullCommand returns the launch command with its arguments.
func (s WorkerSpec) FullCommand() []string {
	return append([]string{s.Command}, s.Args...)
}

// TenantSpec groups the workers declared for one tenant.
type TenantSpec struct {
	TenantID    string                `json:"tenantId"`
	Description string                `json:"description,omitempty"`
	Workers     map[string]WorkerSpec `json:"workers"`
}

// EnabledWorkers returns the specs with the enabled flag set, sorted by name.
func (t TenantSpec) EnabledWorkers() []WorkerSpec {
	out := make([]WorkerSpec, 0, len(t.Workers))
	for _, spec := range t.Workers {
		if spec.Enabled {
			out = append(out, spec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Settings are the global orchestration knobs.
type Settings struct {
	RestartMaxRetries     int    `json:"restartMaxRetries"`
	StartupTimeoutSeconds int    `json:"startupTimeoutSeconds"`
	HealthCheckSeconds    int    `json:"healthCheckSeconds"`
	CleanupCheckSeconds   int    `json:"cleanupCheckSeconds"`
	TenantIdleSeconds     int    `json:"tenantIdleSeconds"`
	ObservabilityAddress  string `json:"observabilityAddress"`
}

// StartupTimeout returns the startup timeout as a duration.
func (s Settings) StartupTimeout() time.Duration {
	return time.Duration(s.StartupTimeoutSeconds) * time.Second
}

// HealthCheckInterval returns the health loop interval as a duration.
func (s Settings) HealthCheckInterval() time.Duration {
	return time.Duration(s.HealthCheckSeconds) * time.Second
}

// Config is one immutable configuration snapshot. Reload builds a new
// value and swaps the reference; snapshots are never mutated in place.
type Config struct {
	Version  string
	Settings Settings
	Tenants  map[string]TenantSpec
}

// Tenant returns the tenant spec by id.
func (c Config) Tenant(tenantID string) (TenantSpec, bool) {
	t, ok := c.Tenants[tenantID]
	return t, ok
}

// WorkerSpecFor resolves a worker spec by tenant id and worker name.
func (c Config) WorkerSpecFor(tenantID, workerName string) (WorkerSpec, bool) {
	t, ok := c.Tenants[tenantID]
	if !ok {
		return WorkerSpec{}, false
	}
	spec, ok := t.Workers[workerName]
	return spec, ok
}

// TenantIDs returns all declared tenant ids, sorted.
func (c Config) TenantIDs() []string {
	out := make([]string, 0, len(c.Tenants))
	for id := range c.Tenants {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ConfigProvider yields the current configuration snapshot.
type ConfigProvider interface {
	Snapshot() Config
}
