package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"mcphub/internal/domain"
	"mcphub/internal/infra/telemetry"
)

const defaultReloadDebounce = 200 * time.Millisecond

// Provider owns the current immutable configuration snapshot. Reload
// builds a fresh snapshot and swaps the reference atomically; nothing is
// mutated in place.
type Provider struct {
	logger *zap.Logger
	loader *Loader
	path   string

	state atomic.Value // domain.Config

	mu           sync.Mutex
	lastModified time.Time
}

func NewProvider(ctx context.Context, path string, logger *zap.Logger) (*Provider, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	loader := NewLoader(logger)
	cfg, err := loader.Load(ctx, path)
	if err != nil {
		return nil, err
	}

	provider := &Provider{
		logger: logger.Named("config_provider"),
		loader: loader,
		path:   path,
	}
	provider.state.Store(cfg)
	provider.rememberModTime()
	return provider, nil
}

// Snapshot returns the current configuration snapshot.
func (p *Provider) Snapshot() domain.Config {
	return p.state.Load().(domain.Config)
}

// Reload re-parses the original source and swaps in the new snapshot.
func (p *Provider) Reload(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cfg, err := p.loader.Load(ctx, p.path)
	if err != nil {
		return err
	}
	p.state.Store(cfg)
	p.rememberModTimeLocked()
	p.logger.Info("configuration reloaded",
		telemetry.EventField(telemetry.EventConfigReloaded),
		zap.Strings("tenants", cfg.TenantIDs()),
	)
	return nil
}

// Modified reports whether the source file changed since the last load.
func (p *Provider) Modified() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	info, err := os.Stat(p.path)
	if err != nil {
		return false
	}
	return info.ModTime().After(p.lastModified)
}

func (p *Provider) rememberModTime() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rememberModTimeLocked()
}

func (p *Provider) rememberModTimeLocked() {
	if info, err := os.Stat(p.path); err == nil {
		p.lastModified = info.ModTime()
	}
}

// Watch reloads on file change events until the context is cancelled.
// Change bursts are debounced; a reload failure keeps the previous
// snapshot and is only logged.
func (p *Provider) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory: editors often replace the file atomically,
	// which drops a watch registered on the file itself.
	dir := filepath.Dir(p.path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	target := filepath.Clean(p.path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(defaultReloadDebounce, func() {
				if err := p.Reload(ctx); err != nil && !errors.Is(err, context.Canceled) {
					p.logger.Warn("config reload failed", zap.Error(err))
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

var _ domain.ConfigProvider = (*Provider)(nil)
