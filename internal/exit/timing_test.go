package exit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantbay/hedgedesk/internal/domain"
)

var ist = mustLoadLocation("Asia/Kolkata")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

func timingConfig(offset int) domain.RiskConfiguration {
	return domain.RiskConfiguration{
		ExitDayOffset:        offset,
		ExitTimeOfDay:        "15:15",
		StopLossPoints:       200,
		AutoSquareOffEnabled: true,
	}
}

func TestDeadlineFor_ExpiryDayAnchor(t *testing.T) {
	// Offset 0 means the deadline is the option's own expiry day, not the
	// entry date.
	expiry := time.Date(2025, 3, 13, 0, 0, 0, 0, ist)
	p := domain.Position{
		EnteredAt: time.Date(2025, 3, 10, 9, 20, 0, 0, ist),
		MainLeg:   domain.Leg{Role: domain.LegRoleMain, Expiry: expiry},
	}

	deadline, ok, err := DeadlineFor(p, timingConfig(0), ist)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 3, 13, 15, 15, 0, 0, ist), deadline)
}

func TestDeadlineFor_FridayPlusOneSkipsWeekend(t *testing.T) {
	// Friday 2025-03-07 entry, T+1 must land on Monday 2025-03-10.
	entry := time.Date(2025, 3, 7, 9, 20, 0, 0, ist)
	require.Equal(t, time.Friday, entry.Weekday())

	p := domain.Position{EnteredAt: entry, MainLeg: domain.Leg{Role: domain.LegRoleMain}}

	deadline, ok, err := DeadlineFor(p, timingConfig(1), ist)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Monday, deadline.Weekday())
	assert.Equal(t, time.Date(2025, 3, 10, 15, 15, 0, 0, ist), deadline)
}

func TestDeadlineFor_MultiDayOffset(t *testing.T) {
	// Wednesday + 3 business days = Monday.
	entry := time.Date(2025, 3, 5, 10, 0, 0, 0, ist)
	require.Equal(t, time.Wednesday, entry.Weekday())

	p := domain.Position{EnteredAt: entry, MainLeg: domain.Leg{Role: domain.LegRoleMain}}

	deadline, ok, err := DeadlineFor(p, timingConfig(3), ist)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 3, 10, 15, 15, 0, 0, ist), deadline)
}

func TestDeadlineFor_AutoSquareOffDisabled(t *testing.T) {
	cfg := timingConfig(1)
	cfg.AutoSquareOffEnabled = false

	p := domain.Position{EnteredAt: time.Now(), MainLeg: domain.Leg{Role: domain.LegRoleMain}}

	_, ok, err := DeadlineFor(p, cfg, ist)
	require.NoError(t, err)
	assert.False(t, ok, "disabled auto square-off must mean no deadline, not a sentinel")
}

func TestDeadlineFor_BadTimeOfDay(t *testing.T) {
	cfg := timingConfig(1)
	cfg.ExitTimeOfDay = "nope"

	p := domain.Position{EnteredAt: time.Now(), MainLeg: domain.Leg{Role: domain.LegRoleMain}}

	_, _, err := DeadlineFor(p, cfg, ist)
	assert.Error(t, err)
}
