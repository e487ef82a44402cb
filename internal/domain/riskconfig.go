package domain

import (
	"fmt"
	"time"
)

// RiskConfiguration is the versioned, operator-tunable record of exit-timing
// and stop-loss parameters. It is read on every monitoring tick and mutated
// only through the risk provider.
type RiskConfiguration struct {
	Version int

	// ExitDayOffset counts trading days after entry for the time-based exit:
	// 0 anchors on the main leg's expiry day, 1..N adds N business days to
	// the entry date, skipping weekends.
	ExitDayOffset int
	// ExitTimeOfDay is the wall-clock close time in "HH:MM" desk-local form.
	ExitTimeOfDay string

	// StopLossPoints is how many points in-the-money the main leg's strike
	// may go before the mandatory strike-breach rule fires.
	StopLossPoints float64

	// ProfitLockTargetPct arms the profit lock once net P&L reaches it; a
	// value <= 0 disables the rule. ProfitLockFloorPct must be strictly
	// below the target.
	ProfitLockTargetPct float64
	ProfitLockFloorPct  float64

	TrailingStopEnabled bool
	TrailingStopPct     float64

	AutoSquareOffEnabled bool

	UpdatedAt time.Time
}

// ProfitLockEnabled reports whether the profit-lock rule participates in
// evaluation.
func (c RiskConfiguration) ProfitLockEnabled() bool {
	return c.ProfitLockTargetPct > 0
}

// Validate rejects configurations that must never reach the evaluator.
// Violations wrap ErrInvalidConfiguration and are surfaced at load time, not
// clamped.
func (c RiskConfiguration) Validate() error {
	if c.ExitDayOffset < 0 {
		return fmt.Errorf("%w: exit day offset %d is negative", ErrInvalidConfiguration, c.ExitDayOffset)
	}
	if _, err := ParseTimeOfDay(c.ExitTimeOfDay); err != nil {
		return fmt.Errorf("%w: exit time of day %q: %v", ErrInvalidConfiguration, c.ExitTimeOfDay, err)
	}
	if c.StopLossPoints <= 0 {
		return fmt.Errorf("%w: stop-loss points must be > 0, got %v", ErrInvalidConfiguration, c.StopLossPoints)
	}
	if c.ProfitLockEnabled() {
		if c.ProfitLockFloorPct < 0 {
			return fmt.Errorf("%w: profit-lock floor %v is negative", ErrInvalidConfiguration, c.ProfitLockFloorPct)
		}
		if c.ProfitLockFloorPct >= c.ProfitLockTargetPct {
			return fmt.Errorf("%w: profit-lock floor %v must be below target %v",
				ErrInvalidConfiguration, c.ProfitLockFloorPct, c.ProfitLockTargetPct)
		}
	}
	if c.TrailingStopEnabled && c.TrailingStopPct <= 0 {
		return fmt.Errorf("%w: trailing stop enabled with percent %v", ErrInvalidConfiguration, c.TrailingStopPct)
	}
	return nil
}

// TimeOfDay is a clock time without a date, in the desk's local timezone.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" into a TimeOfDay.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("parse time of day %q: %w", s, err)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// On combines the clock time with a calendar date in the given location.
func (t TimeOfDay) On(date time.Time, loc *time.Location) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour, t.Minute, 0, 0, loc)
}
