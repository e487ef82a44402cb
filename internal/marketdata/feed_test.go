package marketdata

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantbay/hedgedesk/internal/domain"
)

type fakeQuoteCache struct {
	quotes map[string]struct {
		premium float64
		at      time.Time
	}
}

func newFakeQuoteCache() *fakeQuoteCache {
	return &fakeQuoteCache{quotes: make(map[string]struct {
		premium float64
		at      time.Time
	})}
}

func (c *fakeQuoteCache) SetQuote(_ context.Context, symbol string, premium float64, ts time.Time) error {
	c.quotes[symbol] = struct {
		premium float64
		at      time.Time
	}{premium, ts}
	return nil
}

func (c *fakeQuoteCache) GetQuote(_ context.Context, symbol string) (float64, time.Time, error) {
	q, ok := c.quotes[symbol]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return q.premium, q.at, nil
}

func testFeed(cache domain.QuoteCache, now time.Time) *Feed {
	return &Feed{
		cache:  cache,
		maxAge: 30 * time.Second,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    func() time.Time { return now },
		last:   make(map[string]quote),
	}
}

func hedgedPut() domain.Position {
	return domain.Position{
		ID:         "pos-1",
		Underlying: "NIFTY",
		Right:      domain.RightPut,
		State:      domain.StateOpen,
		MainLeg: domain.Leg{
			Role: domain.LegRoleMain, Symbol: "NIFTY25MAR25000PE",
			Strike: 25000, Quantity: 75, EntryPrice: 120,
		},
		HedgeLeg: &domain.Leg{
			Role: domain.LegRoleHedge, Symbol: "NIFTY25MAR24800PE",
			Strike: 24800, Quantity: 75, EntryPrice: 40,
		},
	}
}

func TestFeedLegPricesFromTicks(t *testing.T) {
	now := time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC)
	f := testFeed(nil, now)

	f.onTick(Tick{Symbol: "NIFTY", LTP: 24950, At: now.Add(-time.Second)})
	f.onTick(Tick{Symbol: "NIFTY25MAR25000PE", LTP: 110, At: now.Add(-2 * time.Second)})
	f.onTick(Tick{Symbol: "NIFTY25MAR24800PE", LTP: 35, At: now.Add(-time.Second)})

	snap, err := f.LegPrices(context.Background(), hedgedPut())
	require.NoError(t, err)
	assert.Equal(t, 24950.0, snap.Spot)
	assert.Equal(t, 110.0, snap.MainPremium)
	assert.Equal(t, 35.0, snap.HedgePremium)
	assert.Equal(t, now.Add(-2*time.Second), snap.At, "snapshot carries the oldest contributing tick")
}

func TestFeedLegPricesMissingSymbol(t *testing.T) {
	now := time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC)
	f := testFeed(nil, now)
	f.onTick(Tick{Symbol: "NIFTY", LTP: 24950, At: now})

	_, err := f.LegPrices(context.Background(), hedgedPut())
	assert.ErrorIs(t, err, domain.ErrMarketDataUnavailable)
}

func TestFeedLegPricesStaleTick(t *testing.T) {
	now := time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC)
	f := testFeed(nil, now)

	f.onTick(Tick{Symbol: "NIFTY", LTP: 24950, At: now.Add(-time.Minute)})
	f.onTick(Tick{Symbol: "NIFTY25MAR25000PE", LTP: 110, At: now})
	f.onTick(Tick{Symbol: "NIFTY25MAR24800PE", LTP: 35, At: now})

	_, err := f.LegPrices(context.Background(), hedgedPut())
	assert.ErrorIs(t, err, domain.ErrMarketDataUnavailable,
		"a stale spot must not produce a snapshot")
}

func TestFeedFallsBackToCache(t *testing.T) {
	now := time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC)
	cache := newFakeQuoteCache()
	require.NoError(t, cache.SetQuote(context.Background(), "NIFTY", 24950, now.Add(-time.Second)))
	require.NoError(t, cache.SetQuote(context.Background(), "NIFTY25MAR25000PE", 110, now.Add(-time.Second)))
	require.NoError(t, cache.SetQuote(context.Background(), "NIFTY25MAR24800PE", 35, now.Add(-time.Second)))

	f := testFeed(cache, now)

	snap, err := f.LegPrices(context.Background(), hedgedPut())
	require.NoError(t, err)
	assert.Equal(t, 24950.0, snap.Spot)
}

func TestFeedTickWritesThroughToCache(t *testing.T) {
	now := time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC)
	cache := newFakeQuoteCache()
	f := testFeed(cache, now)

	f.onTick(Tick{Symbol: "NIFTY25MAR25000PE", LTP: 112.5, At: now})

	premium, at, err := cache.GetQuote(context.Background(), "NIFTY25MAR25000PE")
	require.NoError(t, err)
	assert.Equal(t, 112.5, premium)
	assert.Equal(t, now, at)
}

func TestStaticFeed(t *testing.T) {
	f := NewStaticFeed()
	p := hedgedPut()

	_, err := f.LegPrices(context.Background(), p)
	assert.ErrorIs(t, err, domain.ErrMarketDataUnavailable)

	f.SetPrice("NIFTY", 24900)
	f.SetPrice("NIFTY25MAR25000PE", 130)
	f.SetPrice("NIFTY25MAR24800PE", 45)

	snap, err := f.LegPrices(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, 24900.0, snap.Spot)
	assert.Equal(t, 130.0, snap.MainPremium)
	assert.Equal(t, 45.0, snap.HedgePremium)
}
