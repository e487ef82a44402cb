// Package risk provides read access to the currently active risk
// configuration: exit timing, stop-loss distances, profit-lock thresholds, and
// the trailing-stop percentage.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quantbay/hedgedesk/internal/domain"
)

// Provider caches the active RiskConfiguration behind a read-write lock. The
// monitoring loop reads it on every tick; operators write through Update. A
// background refresh keeps the cache aligned with the store so configuration
// changes apply to already-open positions on the next tick.
type Provider struct {
	store  domain.RiskConfigStore
	logger *slog.Logger

	mu     sync.RWMutex
	active domain.RiskConfiguration

	refreshEvery time.Duration
}

// NewProvider creates a Provider that refreshes from store on the given
// interval. A non-positive interval disables background refresh; Update still
// applies immediately.
func NewProvider(store domain.RiskConfigStore, refreshEvery time.Duration, logger *slog.Logger) *Provider {
	return &Provider{
		store:        store,
		logger:       logger.With(slog.String("component", "risk_provider")),
		refreshEvery: refreshEvery,
	}
}

// Load performs the initial fetch. Invalid configurations are rejected here,
// before any monitoring happens, never clamped.
func (p *Provider) Load(ctx context.Context) error {
	cfg, err := p.store.GetActive(ctx)
	if err != nil {
		return fmt.Errorf("risk: load active configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("risk: load active configuration: %w", err)
	}

	p.mu.Lock()
	p.active = cfg
	p.mu.Unlock()

	p.logger.Info("risk configuration loaded",
		slog.Int("version", cfg.Version),
		slog.Int("exit_day_offset", cfg.ExitDayOffset),
		slog.String("exit_time", cfg.ExitTimeOfDay),
	)
	return nil
}

// Active returns the currently active configuration.
func (p *Provider) Active() domain.RiskConfiguration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.active
}

// Update validates cfg, persists it with a bumped version, and makes it the
// active configuration. Open positions pick it up on the next monitoring tick.
func (p *Provider) Update(ctx context.Context, cfg domain.RiskConfiguration) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	cfg.Version = p.active.Version + 1
	cfg.UpdatedAt = time.Now().UTC()
	p.mu.Unlock()

	if err := p.store.Save(ctx, cfg); err != nil {
		return fmt.Errorf("risk: save configuration: %w", err)
	}

	p.mu.Lock()
	p.active = cfg
	p.mu.Unlock()

	p.logger.Info("risk configuration updated", slog.Int("version", cfg.Version))
	return nil
}

// Run refreshes the cached configuration on the configured interval until ctx
// is cancelled. A refresh that yields an invalid configuration is dropped and
// the previous one stays active.
func (p *Provider) Run(ctx context.Context) error {
	if p.refreshEvery <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(p.refreshEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.refresh(ctx); err != nil {
				p.logger.Warn("risk configuration refresh failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (p *Provider) refresh(ctx context.Context) error {
	cfg, err := p.store.GetActive(ctx)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	changed := cfg.Version != p.active.Version
	p.active = cfg
	p.mu.Unlock()

	if changed {
		p.logger.Info("risk configuration refreshed", slog.Int("version", cfg.Version))
	}
	return nil
}
