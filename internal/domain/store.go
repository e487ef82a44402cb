package domain

import (
	"context"
	"time"
)

// TransitionFields carries the mutable exit fields written atomically with a
// state change. Nil pointers leave the column untouched; the idempotency token
// is the exception — an empty string clears it.
type TransitionFields struct {
	ExitReason       *string
	ExitedAt         *time.Time
	RealizedPnL      *float64
	IdempotencyToken *string
	MainExitPrice    *float64
	HedgeExitPrice   *float64
}

// PositionStore persists positions and their legs. Transition is the single
// write path for lifecycle changes: it must be an atomic compare-and-swap on
// the current state, returning ErrStaleState when the position has already
// moved on. Concurrent transitions on different positions must not serialize
// against each other.
type PositionStore interface {
	Create(ctx context.Context, p Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	ListOpen(ctx context.Context) ([]Position, error)
	Transition(ctx context.Context, id string, from, to PositionState, fields TransitionFields) (Position, error)
	// UpdateRuleState persists the evaluator's per-position state. It is
	// advisory: losing a write costs one tick of hysteresis, not correctness.
	UpdateRuleState(ctx context.Context, id string, rule RuleState) error
}

// RiskConfigStore persists the singleton active risk configuration.
type RiskConfigStore interface {
	GetActive(ctx context.Context) (RiskConfiguration, error)
	Save(ctx context.Context, cfg RiskConfiguration) error
}

// KillSwitchStore persists kill-switch state across restarts. Load returns
// found=false when no state has ever been saved.
type KillSwitchStore interface {
	Load(ctx context.Context) (state KillSwitchState, found bool, err error)
	Save(ctx context.Context, state KillSwitchState) error
}

// AuditStore persists an append-only audit log of lifecycle transitions and
// kill-switch events.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
}
