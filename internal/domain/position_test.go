package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to PositionState }{
		{StatePending, StateOpen},
		{StateOpen, StateExitTriggered},
		{StateExitTriggered, StateExited},
		{StateExitTriggered, StateOpen},
	}
	for _, tc := range allowed {
		assert.True(t, CanTransition(tc.from, tc.to), "%s -> %s should be allowed", tc.from, tc.to)
	}

	denied := []struct{ from, to PositionState }{
		{StateExited, StateOpen},
		{StateExited, StateExitTriggered},
		{StateExited, StatePending},
		{StateOpen, StatePending},
		{StateOpen, StateExited},
		{StatePending, StateExitTriggered},
		{StatePending, StateExited},
	}
	for _, tc := range denied {
		assert.False(t, CanTransition(tc.from, tc.to), "%s -> %s should be denied", tc.from, tc.to)
	}
}

func TestNetPremiums(t *testing.T) {
	hedgeEntry := Leg{Role: LegRoleHedge, Strike: 24800, Quantity: 75, EntryPrice: 40}
	p := Position{
		Right:    RightPut,
		MainLeg:  Leg{Role: LegRoleMain, Strike: 25000, Quantity: 75, EntryPrice: 120},
		HedgeLeg: &hedgeEntry,
	}

	// 120*75 - 40*75 = 6000 collected net.
	assert.InDelta(t, 6000.0, p.NetEntryPremium(), 1e-9)

	// Closing at main=60, hedge=20 costs 60*75 - 20*75 = 3000.
	assert.InDelta(t, 3000.0, p.NetBuybackPremium(60, 20), 1e-9)

	// Net P&L: (6000 - 3000) / 6000 = 50%.
	assert.InDelta(t, 50.0, p.NetPnLPercent(60, 20), 1e-9)
}

func TestNetPnLPercent_HedgeOffsetsMainProfit(t *testing.T) {
	hedge := Leg{Role: LegRoleHedge, Quantity: 75, EntryPrice: 40}
	p := Position{
		MainLeg:  Leg{Role: LegRoleMain, Quantity: 75, EntryPrice: 120},
		HedgeLeg: &hedge,
	}

	// Main leg decayed 120 -> 80 (profit), hedge decayed 40 -> 10 (loss).
	// Main-leg-only view would show (120-80)/120 = 33%; the net view must not.
	// Net entry 6000, buyback 80*75 - 10*75 = 5250, pnl = 12.5%.
	assert.InDelta(t, 12.5, p.NetPnLPercent(80, 10), 1e-9)
}

func TestNetPnLPercent_NakedPosition(t *testing.T) {
	p := Position{MainLeg: Leg{Role: LegRoleMain, Quantity: 50, EntryPrice: 100}}
	assert.InDelta(t, 25.0, p.NetPnLPercent(75, 0), 1e-9)
}

func TestNetPnLPercent_ZeroEntryPremium(t *testing.T) {
	p := Position{MainLeg: Leg{Role: LegRoleMain, Quantity: 50}}
	assert.Equal(t, 0.0, p.NetPnLPercent(10, 0))
}

func TestKillSwitchAllows(t *testing.T) {
	t.Run("inactive allows everything", func(t *testing.T) {
		s := KillSwitchState{}
		assert.True(t, s.Allows(OpCreatePosition))
		assert.True(t, s.Allows(OpClosePosition))
		assert.True(t, s.Allows(OpCancelOrder))
	})

	t.Run("active denies entries but never exits", func(t *testing.T) {
		s := KillSwitchState{Active: true, Reason: "daily loss limit"}
		assert.False(t, s.Allows(OpCreatePosition))
		assert.True(t, s.Allows(OpClosePosition))
		assert.True(t, s.Allows(OpCancelOrder))
	})

	t.Run("explicitly permitted op passes while active", func(t *testing.T) {
		s := KillSwitchState{Active: true, Permitted: []Operation{OpCreatePosition}}
		assert.True(t, s.Allows(OpCreatePosition))
	})
}
