package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/quantbay/hedgedesk/internal/domain"
)

// StaticFeed serves fixed prices set by the caller. It backs dry-run mode,
// where the monitoring loop runs against operator-supplied marks instead of a
// live feed.
type StaticFeed struct {
	mu     sync.RWMutex
	prices map[string]float64
	now    func() time.Time
}

// NewStaticFeed creates an empty static feed.
func NewStaticFeed() *StaticFeed {
	return &StaticFeed{
		prices: make(map[string]float64),
		now:    time.Now,
	}
}

// SetPrice sets the price served for a symbol.
func (s *StaticFeed) SetPrice(symbol string, price float64) {
	s.mu.Lock()
	s.prices[symbol] = price
	s.mu.Unlock()
}

// LegPrices returns the configured prices for the position's symbols.
func (s *StaticFeed) LegPrices(_ context.Context, p domain.Position) (domain.PriceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	spot, ok := s.prices[p.Underlying]
	if !ok {
		return domain.PriceSnapshot{}, fmt.Errorf("marketdata: no price for %s: %w",
			p.Underlying, domain.ErrMarketDataUnavailable)
	}
	main, ok := s.prices[p.MainLeg.Symbol]
	if !ok {
		return domain.PriceSnapshot{}, fmt.Errorf("marketdata: no price for %s: %w",
			p.MainLeg.Symbol, domain.ErrMarketDataUnavailable)
	}

	snap := domain.PriceSnapshot{Spot: spot, MainPremium: main, At: s.now()}
	if p.HedgeLeg != nil {
		hedge, ok := s.prices[p.HedgeLeg.Symbol]
		if !ok {
			return domain.PriceSnapshot{}, fmt.Errorf("marketdata: no price for %s: %w",
				p.HedgeLeg.Symbol, domain.ErrMarketDataUnavailable)
		}
		snap.HedgePremium = hedge
	}
	return snap, nil
}

// Compile-time interface check.
var _ domain.MarketData = (*StaticFeed)(nil)
