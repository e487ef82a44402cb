// Package monitor runs the periodic stop-loss sweep over open positions: it
// resolves each position's exit deadline, evaluates the stop-loss rules
// against fresh prices, and hands triggered positions to the broker.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/quantbay/hedgedesk/internal/domain"
	"github.com/quantbay/hedgedesk/internal/exit"
)

// ConfigSource yields the currently active risk configuration. Deadlines and
// rule thresholds always come from here, never from the snapshot captured at
// entry.
type ConfigSource interface {
	Active() domain.RiskConfiguration
}

// Alerter is the slice of the notifier the monitor uses. All methods are
// fire-and-forget.
type Alerter interface {
	ExitTriggered(ctx context.Context, p domain.Position, reason string, pnlPct float64)
	PositionExited(ctx context.Context, p domain.Position)
	ExecutionFailed(ctx context.Context, p domain.Position, err error, retryable bool)
}

// Tracker subscribes the price feed to a position's symbols. Implemented by
// the live feed; nil when prices come from elsewhere.
type Tracker interface {
	Track(ctx context.Context, p domain.Position) error
}

// Config tunes the monitoring loop.
type Config struct {
	// Interval between sweeps.
	Interval time.Duration
	// MaxConcurrent bounds the per-position fan-out within one sweep.
	MaxConcurrent int
	// Location is the trading calendar's timezone for deadline resolution.
	Location *time.Location
	// LockTTL guards the sweep lock when a LockManager is set. Must exceed
	// the worst-case sweep duration.
	LockTTL time.Duration
	// DryRun evaluates and alerts but never transitions or routes orders.
	DryRun bool
}

// Monitor owns the sweep loop. One position is never processed by two sweeps
// at once: a slow broker call keeps its position marked in-flight and later
// sweeps skip it.
type Monitor struct {
	store     domain.PositionStore
	configs   ConfigSource
	market    domain.MarketData
	broker    domain.Broker
	evaluator *exit.Evaluator
	alerter   Alerter
	audit     domain.AuditStore
	locks     domain.LockManager
	tracker   Tracker
	logger    *slog.Logger
	cfg       Config
	now       func() time.Time

	mu       sync.Mutex
	inFlight map[string]bool
}

// New creates a Monitor. alerter, audit, locks, and tracker may be nil.
func New(
	store domain.PositionStore,
	configs ConfigSource,
	market domain.MarketData,
	broker domain.Broker,
	evaluator *exit.Evaluator,
	cfg Config,
	logger *slog.Logger,
) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * cfg.Interval
	}
	return &Monitor{
		store:     store,
		configs:   configs,
		market:    market,
		broker:    broker,
		evaluator: evaluator,
		logger:    logger.With(slog.String("component", "monitor")),
		cfg:       cfg,
		now:       time.Now,
		inFlight:  make(map[string]bool),
	}
}

// SetAlerter wires operator notifications.
func (m *Monitor) SetAlerter(a Alerter) { m.alerter = a }

// SetAudit wires the audit trail.
func (m *Monitor) SetAudit(a domain.AuditStore) { m.audit = a }

// SetLockManager makes sweeps take a distributed lock, for deployments where
// several desk instances share one database.
func (m *Monitor) SetLockManager(lm domain.LockManager) { m.locks = lm }

// SetTracker wires feed subscription for newly seen positions.
func (m *Monitor) SetTracker(t Tracker) { m.tracker = t }

// Run sweeps immediately, then on every interval tick, until ctx is
// cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("monitor started", slog.Duration("interval", m.cfg.Interval))
	defer m.logger.Info("monitor stopped")

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	if err := m.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Error("sweep failed", slog.String("error", err.Error()))
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				m.logger.Error("sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Sweep runs one pass over all open positions.
func (m *Monitor) Sweep(ctx context.Context) error {
	if m.locks != nil {
		unlock, err := m.locks.Acquire(ctx, "monitor-sweep", m.cfg.LockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				m.logger.Debug("sweep lock held elsewhere, skipping")
				return nil
			}
			return fmt.Errorf("monitor: acquire sweep lock: %w", err)
		}
		defer unlock()
	}

	positions, err := m.store.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("monitor: list open positions: %w", err)
	}
	if len(positions) == 0 {
		return nil
	}

	cfg := m.configs.Active()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.MaxConcurrent)
	for _, p := range positions {
		p := p
		g.Go(func() error {
			m.check(gctx, p, cfg)
			return nil
		})
	}
	return g.Wait()
}

// check evaluates one position and, if an exit condition holds, drives it
// through trigger and close. Errors never propagate up: a failure on one
// position must not stop the sweep.
func (m *Monitor) check(ctx context.Context, p domain.Position, cfg domain.RiskConfiguration) {
	if !m.claim(p.ID) {
		return
	}
	defer m.release(p.ID)

	log := m.logger.With(slog.String("position_id", p.ID))

	if m.tracker != nil {
		if err := m.tracker.Track(ctx, p); err != nil {
			log.Warn("feed track failed", slog.String("error", err.Error()))
		}
	}

	// The time deadline needs no prices, so it fires even through a feed
	// outage.
	reason, pnlPct, ok := m.decide(ctx, &p, cfg, log)
	if !ok {
		return
	}

	if m.cfg.DryRun {
		log.Info("exit condition met (dry run)",
			slog.String("reason", reason),
			slog.Float64("pnl_pct", pnlPct),
		)
		if m.alerter != nil {
			m.alerter.ExitTriggered(ctx, p, reason, pnlPct)
		}
		return
	}

	triggered, ok := m.trigger(ctx, p, reason, log)
	if !ok {
		return
	}
	if m.alerter != nil {
		m.alerter.ExitTriggered(ctx, triggered, reason, pnlPct)
	}

	m.execute(ctx, triggered, reason, log)
}

// decide returns the exit reason for the position, if any. It also persists
// evaluator state changes (profit-lock arming, trailing mark updates) even
// when nothing triggers.
func (m *Monitor) decide(ctx context.Context, p *domain.Position, cfg domain.RiskConfiguration, log *slog.Logger) (string, float64, bool) {
	now := m.now()

	deadline, hasDeadline, err := exit.DeadlineFor(*p, cfg, m.cfg.Location)
	if err != nil {
		log.Error("deadline resolution failed", slog.String("error", err.Error()))
	} else if hasDeadline && !now.Before(deadline) {
		return domain.ExitReasonTimeDeadline, 0, true
	}

	snap, err := m.market.LegPrices(ctx, *p)
	if err != nil {
		if errors.Is(err, domain.ErrMarketDataUnavailable) {
			log.Debug("prices unavailable, skipping tick")
		} else {
			log.Warn("price lookup failed", slog.String("error", err.Error()))
		}
		return "", 0, false
	}

	before := p.Rule
	decision := m.evaluator.Evaluate(p, snap, cfg)
	if p.Rule != before {
		if err := m.store.UpdateRuleState(ctx, p.ID, p.Rule); err != nil {
			log.Warn("rule state persist failed", slog.String("error", err.Error()))
		}
	}

	if !decision.Triggered {
		return "", 0, false
	}
	return decision.Reason, decision.PnLPercent, true
}

// trigger moves the position to EXIT_TRIGGERED with a fresh idempotency
// token. A stale-state error means another actor already moved it; that is a
// silent skip, not a failure.
func (m *Monitor) trigger(ctx context.Context, p domain.Position, reason string, log *slog.Logger) (domain.Position, bool) {
	token := uuid.New().String()
	triggered, err := m.store.Transition(ctx, p.ID, domain.StateOpen, domain.StateExitTriggered, domain.TransitionFields{
		ExitReason:       &reason,
		IdempotencyToken: &token,
	})
	if err != nil {
		if errors.Is(err, domain.ErrStaleState) {
			log.Debug("position already moved, skipping", slog.String("reason", reason))
		} else {
			log.Error("exit trigger failed", slog.String("error", err.Error()))
		}
		return domain.Position{}, false
	}

	log.Info("exit triggered", slog.String("reason", reason))
	m.auditLog(ctx, "exit_triggered", map[string]any{
		"position_id": p.ID,
		"reason":      reason,
		"token":       token,
	})
	return triggered, true
}

// execute hands the triggered position to the broker and settles the outcome:
// filled closes become EXITED, retryable failures roll back to OPEN for the
// next sweep, and fatal failures are force-closed so the position cannot hang
// in EXIT_TRIGGERED forever.
func (m *Monitor) execute(ctx context.Context, p domain.Position, reason string, log *slog.Logger) {
	result, err := m.broker.ClosePosition(ctx, p, reason)
	if err == nil {
		now := m.now()
		exited, terr := m.store.Transition(ctx, p.ID, domain.StateExitTriggered, domain.StateExited, domain.TransitionFields{
			ExitedAt:       &now,
			RealizedPnL:    &result.RealizedPnL,
			MainExitPrice:  &result.MainExitPrice,
			HedgeExitPrice: &result.HedgeExitPrice,
		})
		if terr != nil {
			log.Error("exit finalize failed", slog.String("error", terr.Error()))
			return
		}
		log.Info("position exited",
			slog.String("reason", reason),
			slog.Float64("realized_pnl", result.RealizedPnL),
			slog.String("order_id", result.BrokerOrderID),
		)
		m.auditLog(ctx, "position_exited", map[string]any{
			"position_id":  p.ID,
			"reason":       reason,
			"realized_pnl": result.RealizedPnL,
			"order_id":     result.BrokerOrderID,
		})
		if m.alerter != nil {
			m.alerter.PositionExited(ctx, exited)
		}
		return
	}

	retryable := domain.RetryableExecution(err)
	log.Error("broker close failed",
		slog.Bool("retryable", retryable),
		slog.String("error", err.Error()),
	)
	if m.alerter != nil {
		m.alerter.ExecutionFailed(ctx, p, err, retryable)
	}

	if retryable {
		// Roll back so the next sweep re-evaluates and retries with a new
		// token.
		if _, terr := m.store.Transition(ctx, p.ID, domain.StateExitTriggered, domain.StateOpen, domain.TransitionFields{}); terr != nil {
			log.Error("trigger rollback failed", slog.String("error", terr.Error()))
		}
		m.auditLog(ctx, "exit_retry_scheduled", map[string]any{
			"position_id": p.ID,
			"reason":      reason,
			"error":       err.Error(),
		})
		return
	}

	now := m.now()
	forced := domain.ExitReasonForceClosedError
	if _, terr := m.store.Transition(ctx, p.ID, domain.StateExitTriggered, domain.StateExited, domain.TransitionFields{
		ExitReason: &forced,
		ExitedAt:   &now,
	}); terr != nil {
		log.Error("force close failed", slog.String("error", terr.Error()))
		return
	}
	m.auditLog(ctx, "position_force_closed", map[string]any{
		"position_id": p.ID,
		"reason":      reason,
		"error":       err.Error(),
	})
}

func (m *Monitor) claim(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inFlight[id] {
		return false
	}
	m.inFlight[id] = true
	return true
}

func (m *Monitor) release(id string) {
	m.mu.Lock()
	delete(m.inFlight, id)
	m.mu.Unlock()
}

func (m *Monitor) auditLog(ctx context.Context, event string, detail map[string]any) {
	if m.audit == nil {
		return
	}
	if err := m.audit.Log(ctx, event, detail); err != nil {
		m.logger.Warn("audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
