// Package memory provides an in-memory PositionStore implementing the same
// optimistic-concurrency contract as the PostgreSQL store. It backs tests and
// paper-trading runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/quantbay/hedgedesk/internal/domain"
)

// PositionStore keeps positions in a map guarded by a store-level read-write
// lock, with a per-position mutex so transitions on the same id serialize
// while different positions proceed independently.
type PositionStore struct {
	mu        sync.RWMutex
	positions map[string]*slot
}

type slot struct {
	mu  sync.Mutex
	pos domain.Position
}

// NewPositionStore creates an empty store.
func NewPositionStore() *PositionStore {
	return &PositionStore{positions: make(map[string]*slot)}
}

// Create inserts a new position.
func (s *PositionStore) Create(_ context.Context, p domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.positions[p.ID]; ok {
		return fmt.Errorf("memory: create position %s: already exists", p.ID)
	}
	s.positions[p.ID] = &slot{pos: clone(p)}
	return nil
}

// GetByID returns a copy of the position.
func (s *PositionStore) GetByID(_ context.Context, id string) (domain.Position, error) {
	s.mu.RLock()
	sl, ok := s.positions[id]
	s.mu.RUnlock()
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()
	return clone(sl.pos), nil
}

// ListOpen returns all positions in state OPEN, ordered by entry time.
func (s *PositionStore) ListOpen(_ context.Context) ([]domain.Position, error) {
	s.mu.RLock()
	slots := make([]*slot, 0, len(s.positions))
	for _, sl := range s.positions {
		slots = append(slots, sl)
	}
	s.mu.RUnlock()

	var open []domain.Position
	for _, sl := range slots {
		sl.mu.Lock()
		if sl.pos.State == domain.StateOpen {
			open = append(open, clone(sl.pos))
		}
		sl.mu.Unlock()
	}
	sort.Slice(open, func(i, j int) bool { return open[i].EnteredAt.Before(open[j].EnteredAt) })
	return open, nil
}

// Transition performs the atomic compare-and-swap lifecycle change. Exactly
// one of two racing callers with the same from-state wins; the loser gets
// ErrStaleState.
func (s *PositionStore) Transition(_ context.Context, id string, from, to domain.PositionState, fields domain.TransitionFields) (domain.Position, error) {
	s.mu.RLock()
	sl, ok := s.positions[id]
	s.mu.RUnlock()
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.pos.State != from {
		return domain.Position{}, fmt.Errorf("memory: transition %s %s->%s: current state %s: %w",
			id, from, to, sl.pos.State, domain.ErrStaleState)
	}
	if !domain.CanTransition(from, to) {
		return domain.Position{}, fmt.Errorf("memory: transition %s: %s -> %s is not a valid lifecycle edge", id, from, to)
	}

	sl.pos.State = to
	applyFields(&sl.pos, fields)
	return clone(sl.pos), nil
}

// UpdateRuleState persists the evaluator's per-position state.
func (s *PositionStore) UpdateRuleState(_ context.Context, id string, rule domain.RuleState) error {
	s.mu.RLock()
	sl, ok := s.positions[id]
	s.mu.RUnlock()
	if !ok {
		return domain.ErrNotFound
	}

	sl.mu.Lock()
	sl.pos.Rule = rule
	sl.mu.Unlock()
	return nil
}

func applyFields(p *domain.Position, f domain.TransitionFields) {
	if f.ExitReason != nil {
		p.ExitReason = *f.ExitReason
	}
	if f.ExitedAt != nil {
		at := *f.ExitedAt
		p.ExitedAt = &at
	}
	if f.RealizedPnL != nil {
		v := *f.RealizedPnL
		p.RealizedPnL = &v
	}
	if f.IdempotencyToken != nil {
		p.IdempotencyToken = *f.IdempotencyToken
	}
	if f.MainExitPrice != nil {
		v := *f.MainExitPrice
		p.MainLeg.ExitPrice = &v
	}
	if f.HedgeExitPrice != nil && p.HedgeLeg != nil {
		v := *f.HedgeExitPrice
		p.HedgeLeg.ExitPrice = &v
	}
	// A reverted trigger clears the decision so the next tick starts clean.
	if p.State == domain.StateOpen {
		p.ExitReason = ""
		p.IdempotencyToken = ""
	}
}

func clone(p domain.Position) domain.Position {
	out := p
	out.ExitedAt = copyTime(p.ExitedAt)
	out.RealizedPnL = copyFloat(p.RealizedPnL)
	out.MainLeg = cloneLeg(p.MainLeg)
	if p.HedgeLeg != nil {
		hl := cloneLeg(*p.HedgeLeg)
		out.HedgeLeg = &hl
	}
	return out
}

func cloneLeg(l domain.Leg) domain.Leg {
	out := l
	out.ExitPrice = copyFloat(l.ExitPrice)
	if l.BrokerOrderID != nil {
		id := *l.BrokerOrderID
		out.BrokerOrderID = &id
	}
	return out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
