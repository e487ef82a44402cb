package broker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/quantbay/hedgedesk/internal/domain"
)

// PaperBroker simulates fills at current market prices. It backs dry-run
// mode, letting the full monitoring pipeline run without touching a real
// order book.
type PaperBroker struct {
	market domain.MarketData
	logger *slog.Logger
}

// NewPaperBroker creates a simulated broker filling at market's prices.
func NewPaperBroker(market domain.MarketData, logger *slog.Logger) *PaperBroker {
	return &PaperBroker{
		market: market,
		logger: logger.With(slog.String("component", "paper_broker")),
	}
}

// ClosePosition fills both legs at the current premiums. No prices means no
// fill, reported as retryable so the position is retried next tick.
func (b *PaperBroker) ClosePosition(ctx context.Context, p domain.Position, reason string) (domain.CloseResult, error) {
	snap, err := b.market.LegPrices(ctx, p)
	if err != nil {
		return domain.CloseResult{}, &domain.ExecutionError{
			Retryable: true,
			Err:       fmt.Errorf("broker: paper close %s: %w", p.ID, err),
		}
	}

	result := domain.CloseResult{
		BrokerOrderID:  "paper-" + uuid.New().String(),
		MainExitPrice:  snap.MainPremium,
		HedgeExitPrice: snap.HedgePremium,
	}
	result.RealizedPnL = p.NetEntryPremium() - p.NetBuybackPremium(result.MainExitPrice, result.HedgeExitPrice)

	b.logger.Info("paper close filled",
		slog.String("position_id", p.ID),
		slog.String("reason", reason),
		slog.Float64("main_fill", result.MainExitPrice),
		slog.Float64("hedge_fill", result.HedgeExitPrice),
		slog.Float64("realized_pnl", result.RealizedPnL),
	)
	return result, nil
}

// Compile-time interface check.
var _ domain.Broker = (*PaperBroker)(nil)
