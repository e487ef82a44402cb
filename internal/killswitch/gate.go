// Package killswitch implements the process-wide gate that suppresses new
// position entries without ever touching the exit path.
package killswitch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quantbay/hedgedesk/internal/domain"
)

// Gate is the in-process authority for kill-switch state. Reads take a shared
// lock so the entry path never waits behind anything longer than a single
// state update. Persistence and audit are best-effort: the in-memory state is
// what decides, synchronously, on the very next entry request.
type Gate struct {
	mu    sync.RWMutex
	state domain.KillSwitchState

	store  domain.KillSwitchStore // optional, survives restarts
	audit  domain.AuditStore      // optional
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Gate. store and audit may be nil.
func New(store domain.KillSwitchStore, audit domain.AuditStore, logger *slog.Logger) *Gate {
	return &Gate{
		store:  store,
		audit:  audit,
		logger: logger.With(slog.String("component", "kill_switch")),
		now:    time.Now,
	}
}

// Restore loads previously persisted state so a restart does not silently
// re-open a halted desk. Missing state is not an error.
func (g *Gate) Restore(ctx context.Context) error {
	if g.store == nil {
		return nil
	}
	state, found, err := g.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("killswitch: restore: %w", err)
	}
	if !found {
		return nil
	}

	g.mu.Lock()
	g.state = state
	g.mu.Unlock()

	if state.Active {
		g.logger.Warn("restored active kill switch",
			slog.String("reason", state.Reason),
		)
	}
	return nil
}

// EntryAllowed reports whether a new position entry may proceed.
func (g *Gate) EntryAllowed() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state.Allows(domain.OpCreatePosition)
}

// State returns a copy of the current kill-switch state.
func (g *Gate) State() domain.KillSwitchState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	state := g.state
	state.Permitted = append([]domain.Operation(nil), g.state.Permitted...)
	return state
}

// Trigger activates the switch. It is synchronous: the state change is
// visible to the next EntryAllowed call before Trigger returns.
func (g *Gate) Trigger(ctx context.Context, reason string) {
	now := g.now().UTC()

	g.mu.Lock()
	g.state = domain.KillSwitchState{
		Active:      true,
		Reason:      reason,
		TriggeredAt: &now,
		Permitted:   []domain.Operation{domain.OpClosePosition, domain.OpCancelOrder},
	}
	state := g.state
	g.mu.Unlock()

	g.logger.Warn("kill switch triggered", slog.String("reason", reason))
	g.persist(ctx, state)
	g.auditLog(ctx, "kill_switch_triggered", map[string]any{"reason": reason})
}

// Reset deactivates the switch. An explicit authorization token is required
// so the desk cannot be silently re-enabled; the token is recorded with the
// reset timestamp.
func (g *Gate) Reset(ctx context.Context, authorizedBy string) error {
	if authorizedBy == "" {
		return fmt.Errorf("killswitch: reset requires an authorization token")
	}
	now := g.now().UTC()

	g.mu.Lock()
	g.state.Active = false
	g.state.ResetBy = authorizedBy
	g.state.ResetAt = &now
	state := g.state
	g.mu.Unlock()

	g.logger.Info("kill switch reset", slog.String("authorized_by", authorizedBy))
	g.persist(ctx, state)
	g.auditLog(ctx, "kill_switch_reset", map[string]any{"authorized_by": authorizedBy})
	return nil
}

func (g *Gate) persist(ctx context.Context, state domain.KillSwitchState) {
	if g.store == nil {
		return
	}
	if err := g.store.Save(ctx, state); err != nil {
		g.logger.Error("failed to persist kill switch state",
			slog.String("error", err.Error()),
		)
	}
}

func (g *Gate) auditLog(ctx context.Context, event string, detail map[string]any) {
	if g.audit == nil {
		return
	}
	if err := g.audit.Log(ctx, event, detail); err != nil {
		g.logger.Error("failed to audit kill switch event",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
