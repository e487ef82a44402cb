package exit

import (
	"log/slog"

	"github.com/quantbay/hedgedesk/internal/domain"
)

// Decision is the outcome of one rule-evaluation pass over a position.
type Decision struct {
	Triggered  bool
	Reason     string
	PnLPercent float64
}

// Evaluator applies the stop-loss rules to a position in fixed precedence
// order: strike breach, then profit lock, then trailing stop. The first rule
// that fires wins. The evaluator itself is stateless; per-position hysteresis
// (the profit-lock flag, the premium low-water mark) lives in Position.Rule
// and is mutated in place so the caller can persist it.
type Evaluator struct {
	logger *slog.Logger
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(logger *slog.Logger) *Evaluator {
	return &Evaluator{logger: logger.With(slog.String("component", "rule_evaluator"))}
}

// Evaluate checks one OPEN position against the current price snapshot and the
// active configuration.
func (e *Evaluator) Evaluate(p *domain.Position, snap domain.PriceSnapshot, cfg domain.RiskConfiguration) Decision {
	pnl := p.NetPnLPercent(snap.MainPremium, snap.HedgePremium)

	// 1. Strike breach — mandatory, always enabled.
	if strikeBreached(p.Right, p.MainLeg.Strike, snap.Spot, cfg.StopLossPoints) {
		e.logger.Warn("strike breach",
			slog.String("position_id", p.ID),
			slog.Float64("strike", p.MainLeg.Strike),
			slog.Float64("spot", snap.Spot),
			slog.Float64("stop_loss_points", cfg.StopLossPoints),
		)
		return Decision{Triggered: true, Reason: domain.ExitReasonStrikeBreach, PnLPercent: pnl}
	}

	// 2. Profit lock — two-phase. Reaching the target only arms the lock;
	// the exit fires when armed P&L falls back through the floor.
	if cfg.ProfitLockEnabled() {
		if !p.Rule.ProfitLocked {
			if pnl >= cfg.ProfitLockTargetPct {
				p.Rule.ProfitLocked = true
				e.logger.Info("profit lock armed",
					slog.String("position_id", p.ID),
					slog.Float64("pnl_pct", pnl),
					slog.Float64("target_pct", cfg.ProfitLockTargetPct),
				)
			}
		} else if pnl < cfg.ProfitLockFloorPct {
			return Decision{Triggered: true, Reason: domain.ExitReasonProfitLockReversal, PnLPercent: pnl}
		}
	}

	// 3. Trailing stop — tracks the best (lowest) net buy-back premium seen
	// and fires when the current premium retraces past the configured
	// percentage from it.
	if cfg.TrailingStopEnabled {
		cur := p.NetBuybackPremium(snap.MainPremium, snap.HedgePremium)
		low := e.updatePremiumLow(p, cur)
		if low > 0 && cur > low*(1+cfg.TrailingStopPct/100) {
			return Decision{Triggered: true, Reason: domain.ExitReasonTrailingStop, PnLPercent: pnl}
		}
	}

	return Decision{PnLPercent: pnl}
}

// updatePremiumLow maintains the monotone low-water mark of the net buy-back
// premium. The mark is seeded from the entry premium so retracement is never
// measured from an adverse excursion.
func (e *Evaluator) updatePremiumLow(p *domain.Position, cur float64) float64 {
	if !p.Rule.PremiumLowSet {
		low := p.NetEntryPremium()
		if cur < low {
			low = cur
		}
		p.Rule.PremiumLow = low
		p.Rule.PremiumLowSet = true
		return low
	}
	if cur < p.Rule.PremiumLow {
		p.Rule.PremiumLow = cur
	}
	return p.Rule.PremiumLow
}

// strikeBreached reports whether the short option is in-the-money by at least
// the stop-loss distance. For a short PUT at 25000 with 200 points, spot at
// 24800 breaches and 24801 does not.
func strikeBreached(right domain.OptionRight, strike, spot, points float64) bool {
	switch right {
	case domain.RightPut:
		return strike-spot >= points
	case domain.RightCall:
		return spot-strike >= points
	}
	return false
}
