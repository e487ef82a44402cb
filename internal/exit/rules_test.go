package exit

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quantbay/hedgedesk/internal/domain"
)

func testEvaluator() *Evaluator {
	return NewEvaluator(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func ruleConfig() domain.RiskConfiguration {
	return domain.RiskConfiguration{
		ExitTimeOfDay:        "15:15",
		StopLossPoints:       200,
		ProfitLockTargetPct:  10,
		ProfitLockFloorPct:   5,
		AutoSquareOffEnabled: true,
	}
}

// shortPut builds a naked short PE at strike 25000, entry premium 100 for one
// unit, so NetPnLPercent == 100 - currentPremium.
func shortPut() domain.Position {
	return domain.Position{
		ID:      "pos-1",
		Right:   domain.RightPut,
		State:   domain.StateOpen,
		MainLeg: domain.Leg{Role: domain.LegRoleMain, Strike: 25000, Quantity: 1, EntryPrice: 100},
	}
}

func snap(spot, mainPremium float64) domain.PriceSnapshot {
	return domain.PriceSnapshot{Spot: spot, MainPremium: mainPremium}
}

func TestEvaluate_StrikeBreachBoundary(t *testing.T) {
	e := testEvaluator()
	cfg := ruleConfig()

	t.Run("spot at exactly strike minus points triggers", func(t *testing.T) {
		p := shortPut()
		d := e.Evaluate(&p, snap(24800, 150), cfg)
		assert.True(t, d.Triggered)
		assert.Equal(t, domain.ExitReasonStrikeBreach, d.Reason)
	})

	t.Run("one point shy does not trigger", func(t *testing.T) {
		p := shortPut()
		d := e.Evaluate(&p, snap(24801, 150), cfg)
		assert.False(t, d.Triggered)
	})

	t.Run("call breaches on the way up", func(t *testing.T) {
		p := shortPut()
		p.Right = domain.RightCall
		d := e.Evaluate(&p, snap(25200, 150), cfg)
		assert.True(t, d.Triggered)
		assert.Equal(t, domain.ExitReasonStrikeBreach, d.Reason)
	})
}

func TestEvaluate_ProfitLockTwoPhase(t *testing.T) {
	e := testEvaluator()
	cfg := ruleConfig()

	t.Run("rise to 12 then fall to 4 triggers reversal", func(t *testing.T) {
		p := shortPut()

		// Phase A: pnl 12% arms the lock but must not exit.
		d := e.Evaluate(&p, snap(25500, 88), cfg)
		assert.False(t, d.Triggered)
		assert.True(t, p.Rule.ProfitLocked)

		// Phase B: pnl 4% is below the 5% floor.
		d = e.Evaluate(&p, snap(25500, 96), cfg)
		assert.True(t, d.Triggered)
		assert.Equal(t, domain.ExitReasonProfitLockReversal, d.Reason)
		assert.InDelta(t, 4.0, d.PnLPercent, 1e-9)
	})

	t.Run("rise to 12 then fall to 6 does not trigger", func(t *testing.T) {
		p := shortPut()
		e.Evaluate(&p, snap(25500, 88), cfg)

		d := e.Evaluate(&p, snap(25500, 94), cfg)
		assert.False(t, d.Triggered)
		assert.True(t, p.Rule.ProfitLocked, "lock stays armed")
	})

	t.Run("below floor without ever locking does not trigger", func(t *testing.T) {
		p := shortPut()
		d := e.Evaluate(&p, snap(25500, 97), cfg) // pnl 3%, never reached target
		assert.False(t, d.Triggered)
		assert.False(t, p.Rule.ProfitLocked)
	})

	t.Run("disabled profit lock never arms", func(t *testing.T) {
		cfg := ruleConfig()
		cfg.ProfitLockTargetPct = 0
		p := shortPut()
		d := e.Evaluate(&p, snap(25500, 80), cfg)
		assert.False(t, d.Triggered)
		assert.False(t, p.Rule.ProfitLocked)
	})
}

func TestEvaluate_TrailingStop(t *testing.T) {
	e := testEvaluator()
	cfg := ruleConfig()
	cfg.ProfitLockTargetPct = 0 // isolate the trailing rule
	cfg.TrailingStopEnabled = true
	cfg.TrailingStopPct = 30

	t.Run("retracement past the mark triggers", func(t *testing.T) {
		p := shortPut()

		// Premium decays to 60: low-water mark moves to 60.
		d := e.Evaluate(&p, snap(25500, 60), cfg)
		assert.False(t, d.Triggered)
		assert.InDelta(t, 60.0, p.Rule.PremiumLow, 1e-9)

		// Premium back up to 80 > 60 * 1.3 = 78: trailing stop fires.
		d = e.Evaluate(&p, snap(25500, 80), cfg)
		assert.True(t, d.Triggered)
		assert.Equal(t, domain.ExitReasonTrailingStop, d.Reason)
	})

	t.Run("retracement within tolerance holds", func(t *testing.T) {
		p := shortPut()
		e.Evaluate(&p, snap(25500, 60), cfg)

		d := e.Evaluate(&p, snap(25500, 77), cfg)
		assert.False(t, d.Triggered)
	})

	t.Run("mark is monotone non-increasing", func(t *testing.T) {
		p := shortPut()
		e.Evaluate(&p, snap(25500, 60), cfg)
		e.Evaluate(&p, snap(25500, 70), cfg)
		assert.InDelta(t, 60.0, p.Rule.PremiumLow, 1e-9)

		e.Evaluate(&p, snap(25500, 50), cfg)
		assert.InDelta(t, 50.0, p.Rule.PremiumLow, 1e-9)
	})

	t.Run("mark seeds from entry premium, not an adverse first tick", func(t *testing.T) {
		p := shortPut()

		// First observed premium is above entry (adverse move). The mark
		// must seed at the entry premium of 100, and 135 > 100 * 1.3 fires.
		d := e.Evaluate(&p, snap(25500, 135), cfg)
		assert.True(t, d.Triggered)
		assert.Equal(t, domain.ExitReasonTrailingStop, d.Reason)
	})
}

func TestEvaluate_PrecedenceStrikeBreachFirst(t *testing.T) {
	e := testEvaluator()
	cfg := ruleConfig()
	cfg.TrailingStopEnabled = true
	cfg.TrailingStopPct = 30

	p := shortPut()
	p.Rule = domain.RuleState{ProfitLocked: true, PremiumLow: 40, PremiumLowSet: true}

	// Spot breaches the strike AND pnl is below the profit-lock floor AND the
	// premium retraced past the trailing mark; strike breach must win.
	d := e.Evaluate(&p, snap(24700, 98), cfg)
	assert.True(t, d.Triggered)
	assert.Equal(t, domain.ExitReasonStrikeBreach, d.Reason)
}

func TestEvaluate_HedgedNetPnL(t *testing.T) {
	e := testEvaluator()
	cfg := ruleConfig()

	hedge := domain.Leg{Role: domain.LegRoleHedge, Strike: 24800, Quantity: 1, EntryPrice: 40}
	p := shortPut()
	p.HedgeLeg = &hedge

	// Main 100 -> 80 looks like +20% alone, but net entry is 60 and net
	// buyback is 80-10=70: the position is actually down 16.67%. The
	// evaluator must not arm the profit lock.
	d := e.Evaluate(&p, domain.PriceSnapshot{Spot: 25500, MainPremium: 80, HedgePremium: 10}, cfg)
	assert.False(t, d.Triggered)
	assert.False(t, p.Rule.ProfitLocked)
	assert.InDelta(t, -16.666, d.PnLPercent, 0.01)
}
