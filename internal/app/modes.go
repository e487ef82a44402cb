package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantbay/hedgedesk/internal/broker"
	"github.com/quantbay/hedgedesk/internal/domain"
	"github.com/quantbay/hedgedesk/internal/exit"
	"github.com/quantbay/hedgedesk/internal/marketdata"
	"github.com/quantbay/hedgedesk/internal/monitor"
	"github.com/quantbay/hedgedesk/internal/service"
)

// LiveMode monitors open positions against the live feed and routes exits to
// the real broker.
func (a *App) LiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting live mode")

	feed := a.buildFeed(deps)
	b := broker.NewRESTBroker(a.cfg.Broker.BaseURL, a.cfg.Broker.ApiKey, a.logger)
	return a.runDesk(ctx, deps, feed, feed, b, false)
}

// PaperMode monitors against the live feed but fills exits at feed prices
// instead of sending orders anywhere.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode")

	feed := a.buildFeed(deps)
	b := broker.NewPaperBroker(feed, a.logger)
	return a.runDesk(ctx, deps, feed, feed, b, false)
}

// MonitorMode evaluates exit conditions and alerts without ever transitioning
// a position or routing an order. Without a feed URL only the time deadline
// can fire.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode (dry run)")

	var (
		feed   *marketdata.Feed
		market domain.MarketData
	)
	if a.cfg.Feed.WsURL != "" {
		feed = a.buildFeed(deps)
		market = feed
	} else {
		market = marketdata.NewStaticFeed()
	}
	b := broker.NewPaperBroker(market, a.logger)
	return a.runDesk(ctx, deps, feed, market, b, true)
}

// assembleDesk builds the operator service around the mode's broker and
// exposes it through App.Desk.
func (a *App) assembleDesk(deps *Dependencies, b domain.Broker) *service.DeskService {
	desk := service.NewDeskService(deps.Positions, deps.Risk, deps.Gate, b, a.logger)
	desk.SetAudit(deps.Audit)
	desk.SetAlerter(deps.Notifier)

	a.mu.Lock()
	a.desk = desk
	a.mu.Unlock()
	return desk
}

// buildFeed constructs the websocket quote feed with Redis write-through.
func (a *App) buildFeed(deps *Dependencies) *marketdata.Feed {
	client := marketdata.NewWSClient(a.cfg.Feed.WsURL)
	return marketdata.NewFeed(client, deps.Quotes, a.cfg.Feed.MaxQuoteAge.Duration, a.logger)
}

// runDesk assembles the monitor and desk service around the mode's broker and
// market data source, then runs the long-lived goroutines until the context is
// cancelled or one of them fails.
func (a *App) runDesk(
	ctx context.Context,
	deps *Dependencies,
	feed *marketdata.Feed,
	market domain.MarketData,
	b domain.Broker,
	dryRun bool,
) error {
	loc, err := time.LoadLocation(a.cfg.Timezone)
	if err != nil {
		return fmt.Errorf("app: load timezone %q: %w", a.cfg.Timezone, err)
	}

	mon := monitor.New(
		deps.Positions,
		deps.Risk,
		market,
		b,
		exit.NewEvaluator(a.logger),
		monitor.Config{
			Interval:      a.cfg.Monitor.Interval.Duration,
			MaxConcurrent: a.cfg.Monitor.MaxConcurrent,
			Location:      loc,
			LockTTL:       a.cfg.Monitor.LockTTL.Duration,
			DryRun:        dryRun,
		},
		a.logger,
	)
	mon.SetAlerter(deps.Notifier)
	mon.SetAudit(deps.Audit)
	mon.SetLockManager(deps.LockManager)
	if feed != nil {
		mon.SetTracker(feed)
	}

	// Operator surface for entries, manual closes, and kill-switch control,
	// published through App.Desk for the embedding process.
	a.assembleDesk(deps, b)

	g, ctx := errgroup.WithContext(ctx)

	if feed != nil {
		g.Go(func() error {
			return feed.Run(ctx)
		})
	}
	g.Go(func() error {
		return deps.Risk.Run(ctx)
	})
	g.Go(func() error {
		return mon.Run(ctx)
	})

	return g.Wait()
}
