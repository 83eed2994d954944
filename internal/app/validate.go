package app

import (
	"context"

	"go.uber.org/zap"

	"mcphub/internal/infra/config"
)

// ValidateConfig parses the configuration and reports what it declares
// without starting any workers.
func ValidateConfig(ctx context.Context, path string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg, err := config.NewLoader(logger).Load(ctx, path)
	if err != nil {
		return err
	}

	workers := 0
	for _, tenant := range cfg.Tenants {
		workers += len(tenant.Workers)
	}
	logger.Info("configuration valid",
		zap.String("version", cfg.Version),
		zap.Strings("tenants", cfg.TenantIDs()),
		zap.Int("workers", workers),
	)
	return nil
}
