package marketdata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quantbay/hedgedesk/internal/domain"
)

const reconnectDelay = 2 * time.Second

type quote struct {
	price float64
	at    time.Time
}

// Feed implements domain.MarketData on top of the broker WebSocket client.
// It keeps the last tick per symbol in memory, writes every tick through to
// the quote cache, and falls back to the cache when a symbol has not ticked
// since this process started. A price older than MaxAge is treated as
// unavailable rather than served.
type Feed struct {
	client *WSClient
	cache  domain.QuoteCache
	maxAge time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu   sync.RWMutex
	last map[string]quote
}

// NewFeed creates a feed over the given client. cache may be nil when running
// without Redis.
func NewFeed(client *WSClient, cache domain.QuoteCache, maxAge time.Duration, logger *slog.Logger) *Feed {
	f := &Feed{
		client: client,
		cache:  cache,
		maxAge: maxAge,
		logger: logger.With(slog.String("component", "marketdata_feed")),
		now:    time.Now,
		last:   make(map[string]quote),
	}
	client.OnTick(f.onTick)
	return f
}

func (f *Feed) onTick(t Tick) {
	f.mu.Lock()
	f.last[t.Symbol] = quote{price: t.LTP, at: t.At}
	f.mu.Unlock()

	if f.cache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := f.cache.SetQuote(ctx, t.Symbol, t.LTP, t.At); err != nil {
			f.logger.Warn("quote cache write failed",
				slog.String("symbol", t.Symbol), slog.String("error", err.Error()))
		}
	}
}

// Run connects and keeps the feed alive until ctx is cancelled, reconnecting
// on disconnect.
func (f *Feed) Run(ctx context.Context) error {
	defer f.client.Close()

	for {
		connCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		err := f.client.Connect(connCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.logger.Warn("feed connect failed, retrying", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(reconnectDelay):
			}
			continue
		}

		f.logger.Info("feed connected")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.client.Disconnected():
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("feed disconnected, reconnecting")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

// Track subscribes the feed to the symbols a position needs: the underlying
// spot and each leg's instrument.
func (f *Feed) Track(ctx context.Context, p domain.Position) error {
	symbols := []string{p.Underlying, p.MainLeg.Symbol}
	if p.HedgeLeg != nil {
		symbols = append(symbols, p.HedgeLeg.Symbol)
	}
	if err := f.client.Subscribe(ctx, symbols); err != nil {
		return fmt.Errorf("marketdata: track %s: %w", p.ID, err)
	}
	return nil
}

// LegPrices returns the current spot and leg premiums for a position. Any
// missing or stale price makes the whole snapshot unavailable; the monitoring
// loop must never evaluate rules against a partial view.
func (f *Feed) LegPrices(ctx context.Context, p domain.Position) (domain.PriceSnapshot, error) {
	spot, spotAt, err := f.price(ctx, p.Underlying)
	if err != nil {
		return domain.PriceSnapshot{}, err
	}
	main, mainAt, err := f.price(ctx, p.MainLeg.Symbol)
	if err != nil {
		return domain.PriceSnapshot{}, err
	}

	snap := domain.PriceSnapshot{Spot: spot, MainPremium: main, At: earlier(spotAt, mainAt)}
	if p.HedgeLeg != nil {
		hedge, hedgeAt, err := f.price(ctx, p.HedgeLeg.Symbol)
		if err != nil {
			return domain.PriceSnapshot{}, err
		}
		snap.HedgePremium = hedge
		snap.At = earlier(snap.At, hedgeAt)
	}
	return snap, nil
}

func (f *Feed) price(ctx context.Context, symbol string) (float64, time.Time, error) {
	f.mu.RLock()
	q, ok := f.last[symbol]
	f.mu.RUnlock()

	if ok && f.fresh(q.at) {
		return q.price, q.at, nil
	}

	if f.cache != nil {
		price, at, err := f.cache.GetQuote(ctx, symbol)
		if err == nil && f.fresh(at) {
			return price, at, nil
		}
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			f.logger.Warn("quote cache read failed",
				slog.String("symbol", symbol), slog.String("error", err.Error()))
		}
	}

	return 0, time.Time{}, fmt.Errorf("marketdata: no fresh price for %s: %w",
		symbol, domain.ErrMarketDataUnavailable)
}

func (f *Feed) fresh(at time.Time) bool {
	if f.maxAge <= 0 {
		return true
	}
	return f.now().Sub(at) <= f.maxAge
}

func earlier(a, b time.Time) time.Time {
	if b.Before(a) {
		return b
	}
	return a
}

// Compile-time interface check.
var _ domain.MarketData = (*Feed)(nil)
