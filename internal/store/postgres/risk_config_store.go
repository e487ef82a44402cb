package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantbay/hedgedesk/internal/domain"
)

// RiskConfigStore implements domain.RiskConfigStore using PostgreSQL. Every
// saved configuration is a new version; the active one is simply the highest.
type RiskConfigStore struct {
	pool *pgxpool.Pool
}

// NewRiskConfigStore creates a new RiskConfigStore backed by the given connection pool.
func NewRiskConfigStore(pool *pgxpool.Pool) *RiskConfigStore {
	return &RiskConfigStore{pool: pool}
}

const riskConfigSelectCols = `version, exit_day_offset, exit_time_of_day,
	stop_loss_points, profit_lock_target_pct, profit_lock_floor_pct,
	trailing_stop_enabled, trailing_stop_pct, auto_square_off_enabled, updated_at`

// GetActive returns the highest-version configuration.
func (s *RiskConfigStore) GetActive(ctx context.Context) (domain.RiskConfiguration, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+riskConfigSelectCols+` FROM risk_configurations
		 ORDER BY version DESC LIMIT 1`)

	var cfg domain.RiskConfiguration
	err := row.Scan(
		&cfg.Version, &cfg.ExitDayOffset, &cfg.ExitTimeOfDay,
		&cfg.StopLossPoints, &cfg.ProfitLockTargetPct, &cfg.ProfitLockFloorPct,
		&cfg.TrailingStopEnabled, &cfg.TrailingStopPct, &cfg.AutoSquareOffEnabled, &cfg.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.RiskConfiguration{}, domain.ErrNotFound
		}
		return domain.RiskConfiguration{}, fmt.Errorf("postgres: get active risk config: %w", err)
	}
	return cfg, nil
}

// Save inserts a configuration version.
func (s *RiskConfigStore) Save(ctx context.Context, cfg domain.RiskConfiguration) error {
	const query = `
		INSERT INTO risk_configurations (
			version, exit_day_offset, exit_time_of_day,
			stop_loss_points, profit_lock_target_pct, profit_lock_floor_pct,
			trailing_stop_enabled, trailing_stop_pct, auto_square_off_enabled, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())`

	_, err := s.pool.Exec(ctx, query,
		cfg.Version, cfg.ExitDayOffset, cfg.ExitTimeOfDay,
		cfg.StopLossPoints, cfg.ProfitLockTargetPct, cfg.ProfitLockFloorPct,
		cfg.TrailingStopEnabled, cfg.TrailingStopPct, cfg.AutoSquareOffEnabled,
	)
	if err != nil {
		return fmt.Errorf("postgres: save risk config v%d: %w", cfg.Version, err)
	}
	return nil
}

var _ domain.RiskConfigStore = (*RiskConfigStore)(nil)
