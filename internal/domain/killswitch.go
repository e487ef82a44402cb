package domain

import "time"

// Operation names an action the kill switch can permit or deny.
type Operation string

const (
	OpCreatePosition Operation = "create_position"
	OpClosePosition  Operation = "close_position"
	OpCancelOrder    Operation = "cancel_order"
)

// KillSwitchState is the process-wide gate record. Closing positions and
// cancelling orders are always permitted: the switch is a brake on new risk,
// never a freeze on existing risk.
type KillSwitchState struct {
	Active      bool
	Reason      string
	TriggeredAt *time.Time
	Permitted   []Operation
	ResetBy     string
	ResetAt     *time.Time
}

// Allows reports whether op may proceed under this state. Exits bypass the
// gate unconditionally.
func (s KillSwitchState) Allows(op Operation) bool {
	if op == OpClosePosition || op == OpCancelOrder {
		return true
	}
	if !s.Active {
		return true
	}
	for _, p := range s.Permitted {
		if p == op {
			return true
		}
	}
	return false
}
