package risk

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantbay/hedgedesk/internal/domain"
)

type fakeConfigStore struct {
	mu  sync.Mutex
	cfg domain.RiskConfiguration
}

func (f *fakeConfigStore) GetActive(_ context.Context) (domain.RiskConfiguration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg, nil
}

func (f *fakeConfigStore) Save(_ context.Context, cfg domain.RiskConfiguration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = cfg
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func baseConfig() domain.RiskConfiguration {
	return domain.RiskConfiguration{
		Version:              1,
		ExitTimeOfDay:        "15:15",
		StopLossPoints:       200,
		ProfitLockTargetPct:  10,
		ProfitLockFloorPct:   5,
		AutoSquareOffEnabled: true,
	}
}

func TestProviderLoad(t *testing.T) {
	store := &fakeConfigStore{cfg: baseConfig()}
	p := NewProvider(store, 0, testLogger())

	require.NoError(t, p.Load(context.Background()))
	assert.Equal(t, 1, p.Active().Version)
}

func TestProviderLoad_RejectsInvalid(t *testing.T) {
	bad := baseConfig()
	bad.ProfitLockFloorPct = 15 // floor above target
	store := &fakeConfigStore{cfg: bad}
	p := NewProvider(store, 0, testLogger())

	err := p.Load(context.Background())
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestProviderUpdate_BumpsVersion(t *testing.T) {
	store := &fakeConfigStore{cfg: baseConfig()}
	p := NewProvider(store, 0, testLogger())
	ctx := context.Background()
	require.NoError(t, p.Load(ctx))

	next := baseConfig()
	next.StopLossPoints = 300
	require.NoError(t, p.Update(ctx, next))

	active := p.Active()
	assert.Equal(t, 2, active.Version)
	assert.Equal(t, 300.0, active.StopLossPoints)
	assert.False(t, active.UpdatedAt.IsZero())
}

func TestProviderUpdate_RejectsInvalidWithoutSideEffects(t *testing.T) {
	store := &fakeConfigStore{cfg: baseConfig()}
	p := NewProvider(store, 0, testLogger())
	ctx := context.Background()
	require.NoError(t, p.Load(ctx))

	bad := baseConfig()
	bad.ExitDayOffset = -2
	err := p.Update(ctx, bad)
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
	assert.Equal(t, 1, p.Active().Version, "active configuration must be untouched")
}

func TestProviderRefresh_KeepsPreviousOnInvalid(t *testing.T) {
	store := &fakeConfigStore{cfg: baseConfig()}
	p := NewProvider(store, 0, testLogger())
	ctx := context.Background()
	require.NoError(t, p.Load(ctx))

	bad := baseConfig()
	bad.Version = 9
	bad.TrailingStopEnabled = true
	bad.TrailingStopPct = 0
	store.mu.Lock()
	store.cfg = bad
	store.mu.Unlock()

	assert.Error(t, p.refresh(ctx))
	assert.Equal(t, 1, p.Active().Version, "invalid refresh must not replace the active configuration")
}

func TestProviderRefresh_PicksUpNewVersion(t *testing.T) {
	store := &fakeConfigStore{cfg: baseConfig()}
	p := NewProvider(store, 0, testLogger())
	ctx := context.Background()
	require.NoError(t, p.Load(ctx))

	next := baseConfig()
	next.Version = 2
	next.ExitDayOffset = 1
	store.mu.Lock()
	store.cfg = next
	store.mu.Unlock()

	require.NoError(t, p.refresh(ctx))
	assert.Equal(t, 2, p.Active().Version)
	assert.Equal(t, 1, p.Active().ExitDayOffset)
}
