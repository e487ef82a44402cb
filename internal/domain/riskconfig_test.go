package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() RiskConfiguration {
	return RiskConfiguration{
		Version:              1,
		ExitDayOffset:        0,
		ExitTimeOfDay:        "15:15",
		StopLossPoints:       200,
		ProfitLockTargetPct:  10,
		ProfitLockFloorPct:   5,
		TrailingStopEnabled:  true,
		TrailingStopPct:      30,
		AutoSquareOffEnabled: true,
	}
}

func TestRiskConfigurationValidate(t *testing.T) {
	assert.NoError(t, validConfig().Validate())

	t.Run("negative offset", func(t *testing.T) {
		c := validConfig()
		c.ExitDayOffset = -1
		assert.ErrorIs(t, c.Validate(), ErrInvalidConfiguration)
	})

	t.Run("bad exit time", func(t *testing.T) {
		c := validConfig()
		c.ExitTimeOfDay = "25:99"
		assert.ErrorIs(t, c.Validate(), ErrInvalidConfiguration)
	})

	t.Run("floor at target rejected", func(t *testing.T) {
		c := validConfig()
		c.ProfitLockFloorPct = c.ProfitLockTargetPct
		assert.ErrorIs(t, c.Validate(), ErrInvalidConfiguration)
	})

	t.Run("floor above target rejected", func(t *testing.T) {
		c := validConfig()
		c.ProfitLockFloorPct = 12
		assert.ErrorIs(t, c.Validate(), ErrInvalidConfiguration)
	})

	t.Run("profit lock disabled skips floor check", func(t *testing.T) {
		c := validConfig()
		c.ProfitLockTargetPct = 0
		c.ProfitLockFloorPct = 0
		assert.NoError(t, c.Validate())
	})

	t.Run("trailing enabled needs a percent", func(t *testing.T) {
		c := validConfig()
		c.TrailingStopPct = 0
		assert.ErrorIs(t, c.Validate(), ErrInvalidConfiguration)
	})

	t.Run("zero stop-loss points rejected", func(t *testing.T) {
		c := validConfig()
		c.StopLossPoints = 0
		assert.ErrorIs(t, c.Validate(), ErrInvalidConfiguration)
	})
}

func TestParseTimeOfDay(t *testing.T) {
	tod, err := ParseTimeOfDay("15:15")
	require.NoError(t, err)
	assert.Equal(t, 15, tod.Hour)
	assert.Equal(t, 15, tod.Minute)

	_, err = ParseTimeOfDay("3pm")
	assert.Error(t, err)
}

func TestTimeOfDayOn(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	date := time.Date(2025, 3, 7, 9, 20, 0, 0, loc)
	at := TimeOfDay{Hour: 15, Minute: 15}.On(date, loc)
	assert.Equal(t, time.Date(2025, 3, 7, 15, 15, 0, 0, loc), at)
}
