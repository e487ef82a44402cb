// Package exit implements the two exit-decision components of the desk: the
// time-based deadline resolver and the price-based stop-loss rule evaluator.
// Both are deterministic over their inputs; all shared state they touch lives
// on the position itself.
package exit

import (
	"fmt"
	"time"

	"github.com/quantbay/hedgedesk/internal/domain"
)

// DeadlineFor computes the wall-clock instant at which the position must be
// force-closed for time-based reasons under the given configuration. It
// returns ok=false when auto square-off is disabled, meaning the position has
// no time-based deadline at all.
//
// An offset of 0 anchors the deadline on the main leg's expiry day; offsets of
// 1..N add N business days to the entry date, skipping Saturday and Sunday.
func DeadlineFor(p domain.Position, cfg domain.RiskConfiguration, loc *time.Location) (deadline time.Time, ok bool, err error) {
	if !cfg.AutoSquareOffEnabled {
		return time.Time{}, false, nil
	}

	tod, err := domain.ParseTimeOfDay(cfg.ExitTimeOfDay)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("exit: resolve deadline for %s: %w", p.ID, err)
	}

	var day time.Time
	if cfg.ExitDayOffset == 0 {
		day = p.MainLeg.Expiry.In(loc)
	} else {
		day = addBusinessDays(p.EnteredAt.In(loc), cfg.ExitDayOffset)
	}

	return tod.On(day, loc), true, nil
}

// addBusinessDays advances date by n weekdays. A Friday entry with n=1 lands
// on Monday, never Saturday.
func addBusinessDays(date time.Time, n int) time.Time {
	for n > 0 {
		date = date.AddDate(0, 0, 1)
		if wd := date.Weekday(); wd != time.Saturday && wd != time.Sunday {
			n--
		}
	}
	return date
}
