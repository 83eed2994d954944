package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"mcphub/internal/domain"
)

const sampleConfig = `
version: "1.0"
settings:
  restartMaxRetries: 2
  startupTimeoutSeconds: 10
  healthCheckSeconds: 3
  cleanupCheckSeconds: 30
  tenantIdleSeconds: 600
  observabilityAddress: "127.0.0.1:9100"
tenants:
  acme:
    description: "demo tenant"
    workers:
      files:
        type: filesystem
        command: files-worker
        args: ["--root", "/srv/data"]
        capabilities: ["read", "write"]
        metadata:
          team: platform
      legacy:
        type: archive
        command: legacy-worker
        enabled: false
`

func TestParseFullConfig(t *testing.T) {
	loader := NewLoader(nil)

	cfg, err := loader.Parse([]byte(sampleConfig))
	require.NoError(t, err)

	want := domain.Config{
		Version: "1.0",
		Settings: domain.Settings{
			RestartMaxRetries:     2,
			StartupTimeoutSeconds: 10,
			HealthCheckSeconds:    3,
			CleanupCheckSeconds:   30,
			TenantIdleSeconds:     600,
			ObservabilityAddress:  "127.0.0.1:9100",
		},
		Tenants: map[string]domain.TenantSpec{
			"acme": {
				TenantID:    "acme",
				Description: "demo tenant",
				Workers: map[string]domain.WorkerSpec{
					"files": {
						Name:         "files",
						Type:         "filesystem",
						Command:      "files-worker",
						Args:         []string{"--root", "/srv/data"},
						Enabled:      true,
						Capabilities: []string{"read", "write"},
						Transport:    domain.TransportStdio,
						Metadata:     map[string]string{"team": "platform"},
					},
					"legacy": {
						Name:      "legacy",
						Type:      "archive",
						Command:   "legacy-worker",
						Enabled:   false,
						Transport: domain.TransportStdio,
					},
				},
			},
		},
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestParseAppliesDefaults(t *testing.T) {
	loader := NewLoader(nil)

	cfg, err := loader.Parse([]byte(`
tenants:
  acme:
    workers:
      files:
        command: files-worker
`))
	require.NoError(t, err)

	require.Equal(t, "0.1.0", cfg.Version)
	require.Equal(t, domain.DefaultRestartMaxRetries, cfg.Settings.RestartMaxRetries)
	require.Equal(t, domain.DefaultStartupTimeoutSeconds, cfg.Settings.StartupTimeoutSeconds)
	require.Equal(t, domain.DefaultHealthCheckSeconds, cfg.Settings.HealthCheckSeconds)
	require.Equal(t, domain.DefaultCleanupCheckSeconds, cfg.Settings.CleanupCheckSeconds)
	require.Equal(t, domain.DefaultTenantIdleSeconds, cfg.Settings.TenantIdleSeconds)
	require.Equal(t, domain.DefaultObservabilityListenAddress, cfg.Settings.ObservabilityAddress)

	spec, ok := cfg.WorkerSpecFor("acme", "files")
	require.True(t, ok)
	require.True(t, spec.Enabled)
	require.Equal(t, "unknown", spec.Type)
	require.Equal(t, domain.TransportStdio, spec.Transport)
}

func TestParseRejectsMissingCommand(t *testing.T) {
	loader := NewLoader(nil)

	_, err := loader.Parse([]byte(`
tenants:
  acme:
    workers:
      files:
        type: filesystem
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "command is required")
}

func TestParseRejectsUnknownTransport(t *testing.T) {
	loader := NewLoader(nil)

	_, err := loader.Parse([]byte(`
tenants:
  acme:
    workers:
      files:
        command: files-worker
        transport: carrier-pigeon
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "transport must be stdio, http or sse")
}

func TestParseRejectsInvalidSettings(t *testing.T) {
	loader := NewLoader(nil)

	_, err := loader.Parse([]byte(`
settings:
  startupTimeoutSeconds: 0
  restartMaxRetries: -1
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "startupTimeoutSeconds must be > 0")
	require.Contains(t, err.Error(), "restartMaxRetries must be >= 0")

	code, ok := domain.CodeFrom(err)
	require.True(t, ok)
	require.Equal(t, domain.CodeConfig, code)
}

func TestLoadReadsFile(t *testing.T) {
	loader := NewLoader(nil)
	path := filepath.Join(t.TempDir(), "hub.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o644))

	cfg, err := loader.Load(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, []string{"acme"}, cfg.TenantIDs())
}

func TestLoadRequiresPath(t *testing.T) {
	loader := NewLoader(nil)

	_, err := loader.Load(context.Background(), "")
	require.Error(t, err)

	_, err = loader.Load(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
