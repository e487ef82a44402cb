package domain

import "time"

// PositionState tracks a position through its lifecycle. States only advance
// forward; the single backward edge (EXIT_TRIGGERED -> OPEN) exists for
// retryable broker failures and clears the exit decision.
type PositionState string

const (
	StatePending       PositionState = "PENDING"
	StateOpen          PositionState = "OPEN"
	StateExitTriggered PositionState = "EXIT_TRIGGERED"
	StateExited        PositionState = "EXITED"
)

// validTransitions enumerates the allowed lifecycle edges.
var validTransitions = map[PositionState][]PositionState{
	StatePending:       {StateOpen},
	StateOpen:          {StateExitTriggered},
	StateExitTriggered: {StateExited, StateOpen},
	StateExited:        {},
}

// CanTransition reports whether the lifecycle graph permits moving a position
// from one state to another.
func CanTransition(from, to PositionState) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Exit reasons recorded on a position when an exit is triggered or completed.
const (
	ExitReasonTimeDeadline       = "time_deadline"
	ExitReasonStrikeBreach       = "strike_breach"
	ExitReasonProfitLockReversal = "profit_lock_reversal"
	ExitReasonTrailingStop       = "trailing_stop"
	ExitReasonManual             = "manual"
	ExitReasonForceClosedError   = "force_closed_error"
)

// OptionRight identifies the option type of a position's legs.
type OptionRight string

const (
	RightCall OptionRight = "CE"
	RightPut  OptionRight = "PE"
)

// LegRole distinguishes the short premium leg from its protective hedge.
type LegRole string

const (
	LegRoleMain  LegRole = "MAIN"
	LegRoleHedge LegRole = "HEDGE"
)

// Leg is one tradable option instrument within a position. Legs are owned by
// their position and have no independent lifecycle.
type Leg struct {
	Role          LegRole
	Symbol        string
	Strike        float64
	Expiry        time.Time
	Quantity      int
	EntryPrice    float64
	ExitPrice     *float64
	BrokerOrderID *string
}

// ExitConfigSnapshot is the exit-timing configuration captured when a position
// is created. It is retained for audit only; the monitoring loop always
// resolves deadlines against the currently active RiskConfiguration.
type ExitConfigSnapshot struct {
	ExitDayOffset int
	ExitTimeOfDay string
	CapturedAt    time.Time
}

// RuleState is the per-position stop-loss evaluator state. It is owned by the
// evaluator and persisted alongside the position so rule decisions survive a
// restart.
type RuleState struct {
	// ProfitLocked flips once net P&L reaches the profit-lock target and
	// never flips back.
	ProfitLocked bool
	// PremiumLow is the lowest net buy-back premium observed so far: the
	// high-water mark of favorable movement for a short position. Monotone
	// non-increasing once set.
	PremiumLow    float64
	PremiumLowSet bool
}

// Position is one trading decision: a short main leg plus an optional
// protective hedge leg, tracked from entry to exit.
type Position struct {
	ID         string
	Signal     string
	Underlying string
	Right      OptionRight
	Lots       int
	State      PositionState

	EnteredAt   time.Time
	ExitedAt    *time.Time
	ExitReason  string
	RealizedPnL *float64

	// IdempotencyToken is set when the position enters EXIT_TRIGGERED and
	// cleared if the trigger is rolled back. It lets a retried close be
	// recognized as the same decision.
	IdempotencyToken string

	Snapshot ExitConfigSnapshot
	Rule     RuleState

	MainLeg  Leg
	HedgeLeg *Leg
}

// Hedged reports whether the position carries a protective leg.
func (p Position) Hedged() bool {
	return p.HedgeLeg != nil
}

// NetEntryPremium returns the premium collected at entry net of the hedge leg,
// in currency terms (price x quantity per leg).
func (p Position) NetEntryPremium() float64 {
	net := p.MainLeg.EntryPrice * float64(p.MainLeg.Quantity)
	if p.HedgeLeg != nil {
		net -= p.HedgeLeg.EntryPrice * float64(p.HedgeLeg.Quantity)
	}
	return net
}

// NetBuybackPremium returns what it would cost to close both legs at the given
// prices, net of the hedge leg's sale proceeds.
func (p Position) NetBuybackPremium(mainPrice, hedgePrice float64) float64 {
	net := mainPrice * float64(p.MainLeg.Quantity)
	if p.HedgeLeg != nil {
		net -= hedgePrice * float64(p.HedgeLeg.Quantity)
	}
	return net
}

// NetPnLPercent returns the net profit on the collected premium, as a
// percentage, at the given current leg prices. Both legs always participate: a
// hedge routinely shows an offsetting loss on the same tick the main leg is
// profitable.
func (p Position) NetPnLPercent(mainPrice, hedgePrice float64) float64 {
	entry := p.NetEntryPremium()
	if entry == 0 {
		return 0
	}
	return (entry - p.NetBuybackPremium(mainPrice, hedgePrice)) / entry * 100
}
