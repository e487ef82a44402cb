// Package service exposes the desk's operator-facing operations: position
// entry and lifecycle, manual closes, and kill-switch control.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quantbay/hedgedesk/internal/domain"
)

// EntryGate is the admission check for new positions. Implemented by the
// kill-switch gate.
type EntryGate interface {
	EntryAllowed() bool
	State() domain.KillSwitchState
	Trigger(ctx context.Context, reason string)
	Reset(ctx context.Context, authorizedBy string) error
}

// ConfigSource yields the currently active risk configuration for snapshot
// stamping at entry.
type ConfigSource interface {
	Active() domain.RiskConfiguration
}

// Alerter is the slice of the notifier the service uses.
type Alerter interface {
	KillSwitch(ctx context.Context, active bool, reason string)
	PositionExited(ctx context.Context, p domain.Position)
	ExecutionFailed(ctx context.Context, p domain.Position, err error, retryable bool)
}

// LegSpec describes one leg of a requested position.
type LegSpec struct {
	Symbol     string
	Strike     float64
	Expiry     time.Time
	Quantity   int
	EntryPrice float64
}

// NewPositionRequest carries everything needed to book a position. The main
// leg is the short premium leg; the hedge is optional.
type NewPositionRequest struct {
	Signal     string
	Underlying string
	Right      domain.OptionRight
	Lots       int
	MainLeg    LegSpec
	HedgeLeg   *LegSpec
}

// DeskService coordinates the position stores, the kill-switch gate, and the
// broker on behalf of operators and upstream signal sources.
type DeskService struct {
	positions domain.PositionStore
	configs   ConfigSource
	gate      EntryGate
	broker    domain.Broker
	audit     domain.AuditStore
	alerter   Alerter
	logger    *slog.Logger
	now       func() time.Time
}

// NewDeskService creates a DeskService. audit and alerter may be nil.
func NewDeskService(
	positions domain.PositionStore,
	configs ConfigSource,
	gate EntryGate,
	broker domain.Broker,
	logger *slog.Logger,
) *DeskService {
	return &DeskService{
		positions: positions,
		configs:   configs,
		gate:      gate,
		broker:    broker,
		logger:    logger.With(slog.String("component", "desk_service")),
		now:       time.Now,
	}
}

// SetAudit wires the audit trail.
func (s *DeskService) SetAudit(a domain.AuditStore) { s.audit = a }

// SetAlerter wires operator notifications.
func (s *DeskService) SetAlerter(a Alerter) { s.alerter = a }

// CreatePosition books a new position in PENDING, stamping it with the active
// exit configuration for audit. It refuses when the kill switch is active.
func (s *DeskService) CreatePosition(ctx context.Context, req NewPositionRequest) (domain.Position, error) {
	if !s.gate.EntryAllowed() {
		return domain.Position{}, fmt.Errorf("desk: create position: %w", domain.ErrKillSwitchActive)
	}
	if req.Underlying == "" || req.MainLeg.Symbol == "" {
		return domain.Position{}, fmt.Errorf("desk: create position: underlying and main leg are required")
	}
	if req.Right != domain.RightCall && req.Right != domain.RightPut {
		return domain.Position{}, fmt.Errorf("desk: create position: unknown option right %q", req.Right)
	}

	now := s.now()
	cfg := s.configs.Active()

	p := domain.Position{
		ID:         uuid.New().String(),
		Signal:     req.Signal,
		Underlying: req.Underlying,
		Right:      req.Right,
		Lots:       req.Lots,
		State:      domain.StatePending,
		EnteredAt:  now,
		Snapshot: domain.ExitConfigSnapshot{
			ExitDayOffset: cfg.ExitDayOffset,
			ExitTimeOfDay: cfg.ExitTimeOfDay,
			CapturedAt:    now,
		},
		MainLeg: legFromSpec(req.MainLeg, domain.LegRoleMain),
	}
	if req.HedgeLeg != nil {
		hl := legFromSpec(*req.HedgeLeg, domain.LegRoleHedge)
		p.HedgeLeg = &hl
	}

	if err := s.positions.Create(ctx, p); err != nil {
		return domain.Position{}, fmt.Errorf("desk: create position: %w", err)
	}

	s.auditLog(ctx, "position_created", map[string]any{
		"position_id": p.ID,
		"signal":      p.Signal,
		"underlying":  p.Underlying,
		"right":       string(p.Right),
		"main_symbol": p.MainLeg.Symbol,
		"hedged":      p.Hedged(),
	})
	s.logger.InfoContext(ctx, "position created",
		slog.String("position_id", p.ID),
		slog.String("signal", p.Signal),
		slog.String("main_symbol", p.MainLeg.Symbol),
	)
	return p, nil
}

// ConfirmEntryFill moves a position from PENDING to OPEN once the broker
// confirms the entry orders filled.
func (s *DeskService) ConfirmEntryFill(ctx context.Context, id string) (domain.Position, error) {
	p, err := s.positions.Transition(ctx, id, domain.StatePending, domain.StateOpen, domain.TransitionFields{})
	if err != nil {
		return domain.Position{}, fmt.Errorf("desk: confirm entry fill for %s: %w", id, err)
	}

	s.auditLog(ctx, "position_opened", map[string]any{
		"position_id": p.ID,
		"main_symbol": p.MainLeg.Symbol,
	})
	s.logger.InfoContext(ctx, "position opened", slog.String("position_id", p.ID))
	return p, nil
}

// RequestManualClose triggers and executes an operator-initiated exit. The
// reason is recorded on the position and in the audit trail; an empty reason
// defaults to "manual". It works regardless of the kill switch: closing risk
// is always permitted. On a retryable broker failure the position rolls back
// to OPEN and the monitoring loop retries it.
func (s *DeskService) RequestManualClose(ctx context.Context, id, reason string) (domain.Position, error) {
	if reason == "" {
		reason = domain.ExitReasonManual
	}
	token := uuid.New().String()

	triggered, err := s.positions.Transition(ctx, id, domain.StateOpen, domain.StateExitTriggered, domain.TransitionFields{
		ExitReason:       &reason,
		IdempotencyToken: &token,
	})
	if err != nil {
		return domain.Position{}, fmt.Errorf("desk: manual close %s: %w", id, err)
	}
	s.auditLog(ctx, "exit_triggered", map[string]any{
		"position_id": id,
		"reason":      reason,
		"token":       token,
	})

	result, execErr := s.broker.ClosePosition(ctx, triggered, reason)
	if execErr == nil {
		now := s.now()
		exited, terr := s.positions.Transition(ctx, id, domain.StateExitTriggered, domain.StateExited, domain.TransitionFields{
			ExitedAt:       &now,
			RealizedPnL:    &result.RealizedPnL,
			MainExitPrice:  &result.MainExitPrice,
			HedgeExitPrice: &result.HedgeExitPrice,
		})
		if terr != nil {
			return domain.Position{}, fmt.Errorf("desk: finalize manual close %s: %w", id, terr)
		}
		s.auditLog(ctx, "position_exited", map[string]any{
			"position_id":  id,
			"reason":       reason,
			"realized_pnl": result.RealizedPnL,
			"order_id":     result.BrokerOrderID,
		})
		s.logger.InfoContext(ctx, "manual close filled",
			slog.String("position_id", id),
			slog.Float64("realized_pnl", result.RealizedPnL),
		)
		if s.alerter != nil {
			s.alerter.PositionExited(ctx, exited)
		}
		return exited, nil
	}

	retryable := domain.RetryableExecution(execErr)
	if s.alerter != nil {
		s.alerter.ExecutionFailed(ctx, triggered, execErr, retryable)
	}

	if retryable {
		reverted, terr := s.positions.Transition(ctx, id, domain.StateExitTriggered, domain.StateOpen, domain.TransitionFields{})
		if terr != nil {
			return domain.Position{}, errors.Join(
				fmt.Errorf("desk: manual close %s: %w", id, execErr),
				fmt.Errorf("desk: rollback %s: %w", id, terr),
			)
		}
		return reverted, fmt.Errorf("desk: manual close %s: %w", id, execErr)
	}

	now := s.now()
	forced := domain.ExitReasonForceClosedError
	exited, terr := s.positions.Transition(ctx, id, domain.StateExitTriggered, domain.StateExited, domain.TransitionFields{
		ExitReason: &forced,
		ExitedAt:   &now,
	})
	if terr != nil {
		return domain.Position{}, errors.Join(
			fmt.Errorf("desk: manual close %s: %w", id, execErr),
			fmt.Errorf("desk: force close %s: %w", id, terr),
		)
	}
	s.auditLog(ctx, "position_force_closed", map[string]any{
		"position_id": id,
		"error":       execErr.Error(),
	})
	return exited, fmt.Errorf("desk: manual close %s: %w", id, execErr)
}

// GetPositionStatus returns a position by id.
func (s *DeskService) GetPositionStatus(ctx context.Context, id string) (domain.Position, error) {
	p, err := s.positions.GetByID(ctx, id)
	if err != nil {
		return domain.Position{}, fmt.Errorf("desk: get position %s: %w", id, err)
	}
	return p, nil
}

// ListOpenPositions returns all positions currently at risk.
func (s *DeskService) ListOpenPositions(ctx context.Context) ([]domain.Position, error) {
	positions, err := s.positions.ListOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("desk: list open positions: %w", err)
	}
	return positions, nil
}

// TriggerKillSwitch halts new entries immediately.
func (s *DeskService) TriggerKillSwitch(ctx context.Context, reason string) {
	s.gate.Trigger(ctx, reason)
	if s.alerter != nil {
		s.alerter.KillSwitch(ctx, true, reason)
	}
}

// ResetKillSwitch re-enables entries. The authorization token is recorded,
// not validated here; access control sits in front of the desk.
func (s *DeskService) ResetKillSwitch(ctx context.Context, authorizedBy string) error {
	if err := s.gate.Reset(ctx, authorizedBy); err != nil {
		return fmt.Errorf("desk: reset kill switch: %w", err)
	}
	if s.alerter != nil {
		s.alerter.KillSwitch(ctx, false, "")
	}
	return nil
}

// KillSwitchState reports the gate's current state.
func (s *DeskService) KillSwitchState() domain.KillSwitchState {
	return s.gate.State()
}

func legFromSpec(spec LegSpec, role domain.LegRole) domain.Leg {
	return domain.Leg{
		Role:       role,
		Symbol:     spec.Symbol,
		Strike:     spec.Strike,
		Expiry:     spec.Expiry,
		Quantity:   spec.Quantity,
		EntryPrice: spec.EntryPrice,
	}
}

func (s *DeskService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
