package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantbay/hedgedesk/internal/cache/redis"
	"github.com/quantbay/hedgedesk/internal/config"
	"github.com/quantbay/hedgedesk/internal/domain"
	"github.com/quantbay/hedgedesk/internal/killswitch"
	"github.com/quantbay/hedgedesk/internal/notify"
	"github.com/quantbay/hedgedesk/internal/risk"
	"github.com/quantbay/hedgedesk/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	Positions domain.PositionStore
	RiskStore domain.RiskConfigStore
	Audit     domain.AuditStore

	// Redis-backed collaborators
	Quotes      domain.QuoteCache
	LockManager domain.LockManager

	// Desk coordination
	Gate *killswitch.Gate
	Risk *risk.Provider

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Database.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.Positions = postgres.NewPositionStore(pool)
	deps.RiskStore = postgres.NewRiskConfigStore(pool)
	deps.Audit = postgres.NewAuditStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		PoolSize:    cfg.Redis.PoolSize,
		MaxRetries:  cfg.Redis.MaxRetries,
		DialTimeout: cfg.Redis.DialTimeout.Duration,
		TLSEnabled:  cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Quotes = redis.NewQuoteCache(redisClient, cfg.Feed.QuoteTTL.Duration)
	deps.LockManager = redis.NewLockManager(redisClient)

	// --- Kill switch (state survives restarts in Redis) ---
	ksStore := redis.NewKillSwitchStore(redisClient)
	deps.Gate = killswitch.New(ksStore, deps.Audit, logger)
	if err := deps.Gate.Restore(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: kill switch restore: %w", err)
	}

	// --- Risk configuration ---
	if err := seedRiskConfig(ctx, deps.RiskStore, cfg.Risk); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: risk config seed: %w", err)
	}
	deps.Risk = risk.NewProvider(deps.RiskStore, cfg.Risk.RefreshInterval.Duration, logger)
	if err := deps.Risk.Load(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %w", err)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// seedRiskConfig writes version 1 from the configured defaults when the store
// holds no configuration yet, so a fresh deployment can monitor immediately.
func seedRiskConfig(ctx context.Context, store domain.RiskConfigStore, rc config.RiskConfig) error {
	_, err := store.GetActive(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	seed := domain.RiskConfiguration{
		Version:              1,
		ExitDayOffset:        rc.ExitDayOffset,
		ExitTimeOfDay:        rc.ExitTimeOfDay,
		StopLossPoints:       rc.StopLossPoints,
		ProfitLockTargetPct:  rc.ProfitLockTargetPct,
		ProfitLockFloorPct:   rc.ProfitLockFloorPct,
		TrailingStopEnabled:  rc.TrailingStopEnabled,
		TrailingStopPct:      rc.TrailingStopPct,
		AutoSquareOffEnabled: rc.AutoSquareOffEnabled,
		UpdatedAt:            time.Now().UTC(),
	}
	if err := seed.Validate(); err != nil {
		return err
	}
	return store.Save(ctx, seed)
}
