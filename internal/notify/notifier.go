// Package notify delivers desk alerts to operators. Notifications fan out to
// all registered senders (Telegram, Discord) and can be filtered by event type
// so an on-call channel receives only the alerts it cares about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/quantbay/hedgedesk/internal/domain"
)

// Event types emitted by the desk.
const (
	EventPositionOpened  = "position_opened"
	EventExitTriggered   = "exit_triggered"
	EventPositionExited  = "position_exited"
	EventExecutionFailed = "execution_failed"
	EventKillSwitch      = "kill_switch"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches desk events to one or more Senders. It maintains a set
// of allowed event types; events outside the set are dropped. An empty set
// allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders. Only
// events whose type appears in the events slice will be forwarded; if events
// is empty, all event types are allowed.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify sends a notification to all senders if the event type passes the
// filter. Delivery failures are logged, not fatal: an unreachable webhook
// must never stall the monitoring loop.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event),
		)
		return nil
	}

	return n.dispatch(ctx, title, message)
}

// ExitTriggered reports a stop-loss or time-deadline trigger.
func (n *Notifier) ExitTriggered(ctx context.Context, p domain.Position, reason string, pnlPct float64) {
	title := fmt.Sprintf("Exit triggered: %s", p.MainLeg.Symbol)
	msg := fmt.Sprintf("position %s\nreason: %s\nnet P&L: %.2f%%", p.ID, reason, pnlPct)
	if err := n.Notify(ctx, EventExitTriggered, title, msg); err != nil {
		n.logger.WarnContext(ctx, "exit trigger alert failed", slog.String("error", err.Error()))
	}
}

// PositionExited reports a completed close with its realized P&L.
func (n *Notifier) PositionExited(ctx context.Context, p domain.Position) {
	pnl := 0.0
	if p.RealizedPnL != nil {
		pnl = *p.RealizedPnL
	}
	title := fmt.Sprintf("Position exited: %s", p.MainLeg.Symbol)
	msg := fmt.Sprintf("position %s\nreason: %s\nrealized P&L: %.2f", p.ID, p.ExitReason, pnl)
	if err := n.Notify(ctx, EventPositionExited, title, msg); err != nil {
		n.logger.WarnContext(ctx, "exit alert failed", slog.String("error", err.Error()))
	}
}

// ExecutionFailed reports a broker close failure.
func (n *Notifier) ExecutionFailed(ctx context.Context, p domain.Position, execErr error, retryable bool) {
	title := fmt.Sprintf("Close failed: %s", p.MainLeg.Symbol)
	msg := fmt.Sprintf("position %s\nretryable: %t\nerror: %v", p.ID, retryable, execErr)
	if err := n.Notify(ctx, EventExecutionFailed, title, msg); err != nil {
		n.logger.WarnContext(ctx, "execution failure alert failed", slog.String("error", err.Error()))
	}
}

// KillSwitch reports a kill-switch trigger or reset.
func (n *Notifier) KillSwitch(ctx context.Context, active bool, reason string) {
	title := "Kill switch reset"
	msg := "new entries enabled"
	if active {
		title = "Kill switch triggered"
		msg = "new entries halted\nreason: " + reason
	}
	if err := n.Notify(ctx, EventKillSwitch, title, msg); err != nil {
		n.logger.WarnContext(ctx, "kill switch alert failed", slog.String("error", err.Error()))
	}
}

// dispatch iterates over all senders. Errors from individual senders are
// collected and returned as a combined error; a single sender failure does
// not prevent delivery to the remaining senders.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("title", title),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
