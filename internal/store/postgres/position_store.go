package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantbay/hedgedesk/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. The
// lifecycle compare-and-swap is a single UPDATE guarded on the expected
// state, so concurrent movers on the same position resolve to exactly one
// winner.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, signal, underlying, option_right, lots, state,
	entered_at, exited_at, exit_reason, realized_pnl, idempotency_token,
	snap_exit_day_offset, snap_exit_time, snap_captured_at,
	rule_profit_locked, rule_premium_low, rule_premium_low_set`

const legSelectCols = `role, symbol, strike, expiry, quantity, entry_price, exit_price, broker_order_id`

func scanPositionRow(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var right, state string

	err := row.Scan(
		&p.ID, &p.Signal, &p.Underlying, &right, &p.Lots, &state,
		&p.EnteredAt, &p.ExitedAt, &p.ExitReason, &p.RealizedPnL, &p.IdempotencyToken,
		&p.Snapshot.ExitDayOffset, &p.Snapshot.ExitTimeOfDay, &p.Snapshot.CapturedAt,
		&p.Rule.ProfitLocked, &p.Rule.PremiumLow, &p.Rule.PremiumLowSet,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Right = domain.OptionRight(right)
	p.State = domain.PositionState(state)
	return p, nil
}

func (s *PositionStore) loadLegs(ctx context.Context, q interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}, p *domain.Position,
) error {
	rows, err := q.Query(ctx,
		`SELECT `+legSelectCols+` FROM position_legs WHERE position_id = $1 ORDER BY role`, p.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var l domain.Leg
		var role string
		if err := rows.Scan(&role, &l.Symbol, &l.Strike, &l.Expiry,
			&l.Quantity, &l.EntryPrice, &l.ExitPrice, &l.BrokerOrderID); err != nil {
			return err
		}
		l.Role = domain.LegRole(role)
		switch l.Role {
		case domain.LegRoleMain:
			p.MainLeg = l
		case domain.LegRoleHedge:
			hl := l
			p.HedgeLeg = &hl
		}
	}
	return rows.Err()
}

// Create inserts a new position together with its legs.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin create position: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const insertPosition = `
		INSERT INTO positions (
			id, signal, underlying, option_right, lots, state,
			entered_at, exited_at, exit_reason, realized_pnl, idempotency_token,
			snap_exit_day_offset, snap_exit_time, snap_captured_at,
			rule_profit_locked, rule_premium_low, rule_premium_low_set,
			updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14,
			$15, $16, $17,
			NOW()
		)`

	_, err = tx.Exec(ctx, insertPosition,
		p.ID, p.Signal, p.Underlying, string(p.Right), p.Lots, string(p.State),
		p.EnteredAt, p.ExitedAt, p.ExitReason, p.RealizedPnL, p.IdempotencyToken,
		p.Snapshot.ExitDayOffset, p.Snapshot.ExitTimeOfDay, p.Snapshot.CapturedAt,
		p.Rule.ProfitLocked, p.Rule.PremiumLow, p.Rule.PremiumLowSet,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}

	legs := []domain.Leg{p.MainLeg}
	if p.HedgeLeg != nil {
		legs = append(legs, *p.HedgeLeg)
	}
	const insertLeg = `
		INSERT INTO position_legs (
			position_id, role, symbol, strike, expiry,
			quantity, entry_price, exit_price, broker_order_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	for _, l := range legs {
		if _, err := tx.Exec(ctx, insertLeg,
			p.ID, string(l.Role), l.Symbol, l.Strike, l.Expiry,
			l.Quantity, l.EntryPrice, l.ExitPrice, l.BrokerOrderID,
		); err != nil {
			return fmt.Errorf("postgres: create position %s leg %s: %w", p.ID, l.Role, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit create position %s: %w", p.ID, err)
	}
	return nil
}

// GetByID retrieves a single position with its legs.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPositionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	if err := s.loadLegs(ctx, s.pool, &p); err != nil {
		return domain.Position{}, fmt.Errorf("postgres: load legs for %s: %w", id, err)
	}
	return p, nil
}

// ListOpen returns all positions in state OPEN, oldest entry first.
func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE state = $1
		 ORDER BY entered_at ASC`, string(domain.StateOpen))
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("postgres: scan open position: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("postgres: list open positions rows: %w", err)
	}
	rows.Close()

	for i := range positions {
		if err := s.loadLegs(ctx, s.pool, &positions[i]); err != nil {
			return nil, fmt.Errorf("postgres: load legs for %s: %w", positions[i].ID, err)
		}
	}
	return positions, nil
}

// Transition moves a position from one lifecycle state to another. The state
// guard in the WHERE clause is the optimistic-concurrency check: a racing
// caller that already advanced the state makes RowsAffected zero, which maps
// to ErrStaleState.
func (s *PositionStore) Transition(ctx context.Context, id string, from, to domain.PositionState, fields domain.TransitionFields) (domain.Position, error) {
	if !domain.CanTransition(from, to) {
		return domain.Position{}, fmt.Errorf("postgres: transition %s: %s -> %s is not a valid lifecycle edge", id, from, to)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: begin transition %s: %w", id, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const query = `
		UPDATE positions SET
			state             = $3,
			exit_reason       = COALESCE($4, exit_reason),
			exited_at         = COALESCE($5, exited_at),
			realized_pnl      = COALESCE($6, realized_pnl),
			idempotency_token = COALESCE($7, idempotency_token),
			updated_at        = NOW()
		WHERE id = $1 AND state = $2`

	tag, err := tx.Exec(ctx, query,
		id, string(from), string(to),
		fields.ExitReason, fields.ExitedAt, fields.RealizedPnL, fields.IdempotencyToken,
	)
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: transition position %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM positions WHERE id = $1)", id,
		).Scan(&exists); err != nil {
			return domain.Position{}, fmt.Errorf("postgres: check position %s: %w", id, err)
		}
		if !exists {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: transition %s %s->%s: %w", id, from, to, domain.ErrStaleState)
	}

	// A reverted trigger clears the decision so the next tick starts clean.
	if to == domain.StateOpen {
		if _, err := tx.Exec(ctx,
			`UPDATE positions SET exit_reason = '', idempotency_token = '', updated_at = NOW() WHERE id = $1`,
			id,
		); err != nil {
			return domain.Position{}, fmt.Errorf("postgres: clear trigger for %s: %w", id, err)
		}
	}

	const updateLegExit = `
		UPDATE position_legs SET exit_price = $3
		WHERE position_id = $1 AND role = $2`
	if fields.MainExitPrice != nil {
		if _, err := tx.Exec(ctx, updateLegExit, id, string(domain.LegRoleMain), *fields.MainExitPrice); err != nil {
			return domain.Position{}, fmt.Errorf("postgres: set main exit price for %s: %w", id, err)
		}
	}
	if fields.HedgeExitPrice != nil {
		if _, err := tx.Exec(ctx, updateLegExit, id, string(domain.LegRoleHedge), *fields.HedgeExitPrice); err != nil {
			return domain.Position{}, fmt.Errorf("postgres: set hedge exit price for %s: %w", id, err)
		}
	}

	row := tx.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)
	p, err := scanPositionRow(row)
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: reload position %s: %w", id, err)
	}
	if err := s.loadLegs(ctx, tx, &p); err != nil {
		return domain.Position{}, fmt.Errorf("postgres: load legs for %s: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Position{}, fmt.Errorf("postgres: commit transition %s: %w", id, err)
	}
	return p, nil
}

// UpdateRuleState persists the stop-loss evaluator state for a position.
func (s *PositionStore) UpdateRuleState(ctx context.Context, id string, rule domain.RuleState) error {
	const query = `
		UPDATE positions SET
			rule_profit_locked   = $2,
			rule_premium_low     = $3,
			rule_premium_low_set = $4,
			updated_at           = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, rule.ProfitLocked, rule.PremiumLow, rule.PremiumLowSet)
	if err != nil {
		return fmt.Errorf("postgres: update rule state for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
