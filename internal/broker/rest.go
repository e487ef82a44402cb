// Package broker executes position close orders against the trading broker's
// order API.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/quantbay/hedgedesk/internal/domain"
)

// RESTBroker implements domain.Broker against the broker's REST order API.
// Failures are classified into retryable and fatal so the monitoring loop can
// decide whether to hold the position at EXIT_TRIGGERED or force it closed.
type RESTBroker struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewRESTBroker creates a broker client for the given API root.
func NewRESTBroker(baseURL, apiKey string, logger *slog.Logger) *RESTBroker {
	return &RESTBroker{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.With(slog.String("component", "rest_broker")),
	}
}

type closeLegPayload struct {
	Symbol   string `json:"symbol"`
	Side     string `json:"side"`
	Quantity int    `json:"quantity"`
}

type closeRequest struct {
	PositionID     string            `json:"position_id"`
	IdempotencyKey string            `json:"idempotency_key"`
	Reason         string            `json:"reason"`
	Legs           []closeLegPayload `json:"legs"`
}

type closeResponse struct {
	OrderID string             `json:"order_id"`
	Fills   map[string]float64 `json:"fills"`
	Error   string             `json:"error"`
}

// ClosePosition buys back the main leg and sells the hedge leg in one request.
// The position's idempotency token rides along so a retried request after a
// timeout cannot double-close.
func (b *RESTBroker) ClosePosition(ctx context.Context, p domain.Position, reason string) (domain.CloseResult, error) {
	reqBody := closeRequest{
		PositionID:     p.ID,
		IdempotencyKey: p.IdempotencyToken,
		Reason:         reason,
		Legs: []closeLegPayload{
			{Symbol: p.MainLeg.Symbol, Side: "BUY", Quantity: p.MainLeg.Quantity},
		},
	}
	if p.HedgeLeg != nil {
		reqBody.Legs = append(reqBody.Legs, closeLegPayload{
			Symbol: p.HedgeLeg.Symbol, Side: "SELL", Quantity: p.HedgeLeg.Quantity,
		})
	}

	data, err := json.Marshal(reqBody)
	if err != nil {
		return domain.CloseResult{}, &domain.ExecutionError{
			Err: fmt.Errorf("broker: marshal close request: %w", err),
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/orders/close", bytes.NewReader(data))
	if err != nil {
		return domain.CloseResult{}, &domain.ExecutionError{
			Err: fmt.Errorf("broker: create close request: %w", err),
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", b.apiKey)
	req.Header.Set("X-Idempotency-Key", p.IdempotencyToken)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		// Network failures and timeouts leave the order state unknown; the
		// idempotency key makes the retry safe.
		return domain.CloseResult{}, &domain.ExecutionError{
			Retryable: true,
			Err:       fmt.Errorf("broker: close %s: %w", p.ID, err),
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.CloseResult{}, &domain.ExecutionError{
			Retryable: true,
			Err:       fmt.Errorf("broker: read close response for %s: %w", p.ID, err),
		}
	}

	if resp.StatusCode != http.StatusOK {
		return domain.CloseResult{}, b.statusError(p.ID, resp.StatusCode, respBody)
	}

	var cr closeResponse
	if err := json.Unmarshal(respBody, &cr); err != nil {
		return domain.CloseResult{}, &domain.ExecutionError{
			Retryable: true,
			Err:       fmt.Errorf("broker: decode close response for %s: %w", p.ID, err),
		}
	}
	if cr.Error != "" {
		return domain.CloseResult{}, &domain.ExecutionError{
			Err: fmt.Errorf("broker: close %s rejected: %s", p.ID, cr.Error),
		}
	}

	result := domain.CloseResult{
		BrokerOrderID: cr.OrderID,
		MainExitPrice: cr.Fills[p.MainLeg.Symbol],
	}
	if p.HedgeLeg != nil {
		result.HedgeExitPrice = cr.Fills[p.HedgeLeg.Symbol]
	}
	result.RealizedPnL = p.NetEntryPremium() - p.NetBuybackPremium(result.MainExitPrice, result.HedgeExitPrice)

	b.logger.Info("position closed",
		slog.String("position_id", p.ID),
		slog.String("order_id", cr.OrderID),
		slog.String("reason", reason),
		slog.Float64("realized_pnl", result.RealizedPnL),
	)
	return result, nil
}

// statusError maps HTTP status codes to the execution error taxonomy. Server
// errors and throttling are worth retrying; anything the broker rejected
// outright is not.
func (b *RESTBroker) statusError(positionID string, status int, body []byte) *domain.ExecutionError {
	retryable := status >= http.StatusInternalServerError || status == http.StatusTooManyRequests
	return &domain.ExecutionError{
		Retryable: retryable,
		Err:       fmt.Errorf("broker: close %s failed (HTTP %d): %s", positionID, status, string(body)),
	}
}

// Compile-time interface check.
var _ domain.Broker = (*RESTBroker)(nil)
