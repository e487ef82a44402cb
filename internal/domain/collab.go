package domain

import (
	"context"
	"time"
)

// PriceSnapshot is one tick's view of the prices needed to evaluate a
// position: the underlying spot and the current premium of each leg.
type PriceSnapshot struct {
	Spot         float64
	MainPremium  float64
	HedgePremium float64
	At           time.Time
}

// MarketData is the price-lookup collaborator. Implementations must wrap
// transient failures in ErrMarketDataUnavailable so the monitoring loop can
// skip the position for the tick instead of acting on stale prices.
type MarketData interface {
	LegPrices(ctx context.Context, p Position) (PriceSnapshot, error)
}

// CloseResult reports the broker's outcome for a completed close.
type CloseResult struct {
	MainExitPrice  float64
	HedgeExitPrice float64
	RealizedPnL    float64
	BrokerOrderID  string
}

// Broker is the order-execution collaborator. Failures should be returned as
// *ExecutionError so the monitoring loop can distinguish retryable from fatal.
type Broker interface {
	ClosePosition(ctx context.Context, p Position, reason string) (CloseResult, error)
}

// QuoteCache stores the last observed premium per instrument symbol. Readers
// must treat entries older than their staleness bound as missing.
type QuoteCache interface {
	SetQuote(ctx context.Context, symbol string, premium float64, ts time.Time) error
	GetQuote(ctx context.Context, symbol string) (float64, time.Time, error)
}

// LockManager provides a coarse distributed lock so only one monitoring loop
// acts on positions at a time when several desk instances share a database.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}
