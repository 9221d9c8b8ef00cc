// Package target owns the escalating default profit target applied to new
// acquisitions: floor, floor+step, ... up to the ceiling, then back to floor.
package target

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wonny/cyclebot/internal/contracts"
	"github.com/wonny/cyclebot/internal/store"
	"github.com/wonny/cyclebot/pkg/config"
	"github.com/wonny/cyclebot/pkg/logger"
)

const stateKey = "state"

// Bounds are the escalation limits in whole percent
type Bounds struct {
	FloorPct   int
	StepPct    int
	CeilingPct int
}

// DefaultBounds: 3% → 5% → ... → 15% → 3%
var DefaultBounds = Bounds{FloorPct: 3, StepPct: 2, CeilingPct: 15}

// BoundsFromConfig reads the cycle section
func BoundsFromConfig(cfg config.CycleConfig) Bounds {
	return Bounds{
		FloorPct:   cfg.TargetFloorPct,
		StepPct:    cfg.TargetStepPct,
		CeilingPct: cfg.TargetCeilingPct,
	}
}

// Validate checks floor <= ceiling and a positive step
func (b Bounds) Validate() error {
	if b.StepPct < 1 {
		return fmt.Errorf("target step must be >= 1, got %d", b.StepPct)
	}
	if b.FloorPct < 1 || b.FloorPct > b.CeilingPct {
		return fmt.Errorf("target floor %d must be in [1, %d]", b.FloorPct, b.CeilingPct)
	}
	return nil
}

// Next returns the target after current and whether it wrapped
func (b Bounds) Next(current int) (int, bool) {
	next := current + b.StepPct
	if next > b.CeilingPct {
		return b.FloorPct, true
	}
	return next, false
}

// Clamp forces a restored value back into [floor, ceiling]
func (b Bounds) Clamp(pct int) int {
	if pct < b.FloorPct {
		return b.FloorPct
	}
	if pct > b.CeilingPct {
		return b.CeilingPct
	}
	return pct
}

// StateMachine holds CycleState and persists every transition
// ⭐ SSOT: CycleState 변경은 여기서만
type StateMachine struct {
	mu     sync.Mutex
	bounds Bounds
	kv     store.KV
	logger *logger.Logger
	now    func() time.Time
	state  contracts.CycleState
}

// New loads persisted state (or starts at the floor)
func New(ctx context.Context, kv store.KV, bounds Bounds, log *logger.Logger) (*StateMachine, error) {
	if err := bounds.Validate(); err != nil {
		return nil, err
	}

	m := &StateMachine{
		bounds: bounds,
		kv:     kv,
		logger: log,
		now:    time.Now,
	}

	var st contracts.CycleState
	err := store.GetJSON(ctx, kv, store.NamespaceCycle, stateKey, &st)
	switch {
	case errors.Is(err, store.ErrNotFound):
		st = contracts.CycleState{CurrentTargetPct: bounds.FloorPct}
	case err != nil:
		return nil, &contracts.PersistenceError{Tier: kv.Name(), Namespace: store.NamespaceCycle, Key: stateKey, Err: err}
	default:
		if clamped := bounds.Clamp(st.CurrentTargetPct); clamped != st.CurrentTargetPct {
			log.WithFields(map[string]interface{}{
				"stored":  st.CurrentTargetPct,
				"clamped": clamped,
			}).Warn("Restored target outside bounds, clamped")
			st.CurrentTargetPct = clamped
		}
	}
	m.state = st

	log.WithFields(map[string]interface{}{
		"target_pct": st.CurrentTargetPct,
		"cycles":     st.TotalCyclesCompleted,
	}).Info("Target state loaded")
	return m, nil
}

// Current returns the default target for the next acquisition
func (m *StateMachine) Current() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.CurrentTargetPct
}

// State returns a copy of the full state
func (m *StateMachine) State() contracts.CycleState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Bounds returns the configured limits
func (m *StateMachine) Bounds() Bounds { return m.bounds }

// Advance records one disposal and escalates the target.
// Persistence failure keeps the in-memory transition and is returned to the caller.
func (m *StateMachine) Advance(ctx context.Context, realizedPnL decimal.Decimal) (contracts.CycleState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, wrapped := m.bounds.Next(m.state.CurrentTargetPct)
	prev := m.state.CurrentTargetPct

	m.state.CurrentTargetPct = next
	m.state.TotalDispositions++
	m.state.TotalRealizedPnL = m.state.TotalRealizedPnL.Add(realizedPnL)
	if wrapped {
		m.state.TotalCyclesCompleted++
		m.state.DispositionsInCurrentCycle = 0
	} else {
		m.state.DispositionsInCurrentCycle++
	}
	m.state.UpdatedAt = m.now()

	err := m.persistLocked(ctx)

	m.logger.WithFields(map[string]interface{}{
		"from":    prev,
		"to":      next,
		"wrapped": wrapped,
		"cycles":  m.state.TotalCyclesCompleted,
	}).Info("Target advanced")
	return m.state, wrapped, err
}

// Reset moves the target back to the floor; counters are kept
func (m *StateMachine) Reset(ctx context.Context) (contracts.CycleState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.CurrentTargetPct = m.bounds.FloorPct
	m.state.DispositionsInCurrentCycle = 0
	m.state.UpdatedAt = m.now()

	m.logger.WithField("target_pct", m.bounds.FloorPct).Info("Target reset to floor")
	return m.state, m.persistLocked(ctx)
}

func (m *StateMachine) persistLocked(ctx context.Context) error {
	if err := store.SetJSON(ctx, m.kv, store.NamespaceCycle, stateKey, m.state); err != nil {
		m.logger.WithError(err).Error("Failed to persist target state")
		return &contracts.PersistenceError{Tier: m.kv.Name(), Namespace: store.NamespaceCycle, Key: stateKey, Err: err}
	}
	return nil
}
