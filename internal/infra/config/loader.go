package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"mcphub/internal/domain"
)

type Loader struct {
	logger *zap.Logger
}

func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		return &Loader{logger: zap.NewNop()}
	}
	return &Loader{logger: logger.Named("config")}
}

func newConfigViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	setSettingsDefaults(v)
	return v
}

func setSettingsDefaults(v *viper.Viper) {
	v.SetDefault("settings.restartMaxRetries", domain.DefaultRestartMaxRetries)
	v.SetDefault("settings.startupTimeoutSeconds", domain.DefaultStartupTimeoutSeconds)
	v.SetDefault("settings.healthCheckSeconds", domain.DefaultHealthCheckSeconds)
	v.SetDefault("settings.cleanupCheckSeconds", domain.DefaultCleanupCheckSeconds)
	v.SetDefault("settings.tenantIdleSeconds", domain.DefaultTenantIdleSeconds)
	v.SetDefault("settings.observabilityAddress", domain.DefaultObservabilityListenAddress)
}

type rawConfig struct {
	Version  string               `mapstructure:"version"`
	Settings rawSettings          `mapstructure:"settings"`
	Tenants  map[string]rawTenant `mapstructure:"tenants"`
}

type rawSettings struct {
	RestartMaxRetries     int    `mapstructure:"restartMaxRetries"`
	StartupTimeoutSeconds int    `mapstructure:"startupTimeoutSeconds"`
	HealthCheckSeconds    int    `mapstructure:"healthCheckSeconds"`
	CleanupCheckSeconds   int    `mapstructure:"cleanupCheckSeconds"`
	TenantIdleSeconds     int    `mapstructure:"tenantIdleSeconds"`
	ObservabilityAddress  string `mapstructure:"observabilityAddress"`
}

type rawTenant struct {
	Description string               `mapstructure:"description"`
	Workers     map[string]rawWorker `mapstructure:"workers"`
}

type rawWorker struct {
	Type         string            `mapstructure:"type"`
	Command      string            `mapstructure:"command"`
	Args         []string          `mapstructure:"args"`
	Enabled      *bool             `mapstructure:"enabled"`
	Capabilities []string          `mapstructure:"capabilities"`
	Transport    string            `mapstructure:"transport"`
	Metadata     map[string]string `mapstructure:"metadata"`
}

// Load parses a configuration file into an immutable snapshot.
func (l *Loader) Load(ctx context.Context, path string) (domain.Config, error) {
	if path == "" {
		return domain.Config{}, errors.New("config path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg, err := l.Parse(data)
	if err != nil {
		return domain.Config{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.Config{}, err
	}

	l.logger.Info("configuration loaded",
		zap.String("path", path),
		zap.Strings("tenants", cfg.TenantIDs()),
	)
	return cfg, nil
}

// Parse decodes and validates raw YAML config bytes.
func (l *Loader) Parse(data []byte) (domain.Config, error) {
	v := newConfigViper()
	if err := v.ReadConfig(bytes.NewBuffer(data)); err != nil {
		return domain.Config{}, fmt.Errorf("parse config: %w", err)
	}

	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		return domain.Config{}, fmt.Errorf("decode config: %w", err)
	}

	settings, errs := normalizeSettings(raw.Settings)

	tenants := make(map[string]domain.TenantSpec, len(raw.Tenants))
	for tenantID, rawT := range raw.Tenants {
		if strings.TrimSpace(tenantID) == "" {
			errs = append(errs, "tenants: tenant id must not be empty")
			continue
		}
		workers := make(map[string]domain.WorkerSpec, len(rawT.Workers))
		for name, rawW := range rawT.Workers {
			spec, workerErrs := normalizeWorkerSpec(tenantID, name, rawW)
			if len(workerErrs) > 0 {
				errs = append(errs, workerErrs...)
				continue
			}
			workers[name] = spec
		}
		tenants[tenantID] = domain.TenantSpec{
			TenantID:    tenantID,
			Description: rawT.Description,
			Workers:     workers,
		}
	}

	if len(errs) > 0 {
		return domain.Config{}, domain.E(domain.CodeConfig, "config.Parse", strings.Join(errs, "; "), nil)
	}

	version := raw.Version
	if version == "" {
		version = "0.1.0"
	}
	return domain.Config{
		Version:  version,
		Settings: settings,
		Tenants:  tenants,
	}, nil
}

func normalizeWorkerSpec(tenantID, name string, raw rawWorker) (domain.WorkerSpec, []string) {
	var errs []string

	if strings.TrimSpace(name) == "" {
		errs = append(errs, fmt.Sprintf("tenants.%s: worker name must not be empty", tenantID))
	}
	if strings.TrimSpace(raw.Command) == "" {
		errs = append(errs, fmt.Sprintf("tenants.%s.workers.%s: command is required", tenantID, name))
	}

	transport := domain.NormalizeTransport(domain.TransportKind(raw.Transport))
	switch transport {
	case domain.TransportStdio, domain.TransportHTTP, domain.TransportSSE:
	default:
		errs = append(errs, fmt.Sprintf("tenants.%s.workers.%s: transport must be stdio, http or sse", tenantID, name))
	}

	workerType := raw.Type
	if workerType == "" {
		workerType = "unknown"
	}
	enabled := true
	if raw.Enabled != nil {
		enabled = *raw.Enabled
	}

	if len(errs) > 0 {
		return domain.WorkerSpec{}, errs
	}
	return domain.WorkerSpec{
		Name:         name,
		Type:         workerType,
		Command:      raw.Command,
		Args:         raw.Args,
		Enabled:      enabled,
		Capabilities: raw.Capabilities,
		Transport:    transport,
		Metadata:     raw.Metadata,
	}, nil
}

func normalizeSettings(raw rawSettings) (domain.Settings, []string) {
	var errs []string

	if raw.RestartMaxRetries < 0 {
		errs = append(errs, "settings.restartMaxRetries must be >= 0")
	}
	if raw.StartupTimeoutSeconds <= 0 {
		errs = append(errs, "settings.startupTimeoutSeconds must be > 0")
	}
	if raw.HealthCheckSeconds <= 0 {
		errs = append(errs, "settings.healthCheckSeconds must be > 0")
	}
	if raw.CleanupCheckSeconds <= 0 {
		errs = append(errs, "settings.cleanupCheckSeconds must be > 0")
	}
	if raw.TenantIdleSeconds <= 0 {
		errs = append(errs, "settings.tenantIdleSeconds must be > 0")
	}

	addr := strings.TrimSpace(raw.ObservabilityAddress)
	if addr == "" {
		addr = domain.DefaultObservabilityListenAddress
	}

	return domain.Settings{
		RestartMaxRetries:     raw.RestartMaxRetries,
		StartupTimeoutSeconds: raw.StartupTimeoutSeconds,
		HealthCheckSeconds:    raw.HealthCheckSeconds,
		CleanupCheckSeconds:   raw.CleanupCheckSeconds,
		TenantIdleSeconds:     raw.TenantIdleSeconds,
		ObservabilityAddress:  addr,
	}, errs
}
