package risk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var ErrManualResetDisabled = errors.New("manual risk reset is disabled")

// Store persists the day's counters so a restart keeps them.
type Store interface {
	LoadRiskState(ctx context.Context) (State, bool, error)
	SaveRiskState(ctx context.Context, s State) error
}

// DayClock maps an instant to the trading day that owns it.
type DayClock interface {
	TradingDay(t time.Time) string
}

// Manager owns the risk State. The trading loop is the only writer;
// readers such as the status API take snapshots.
type Manager struct {
	mu      sync.RWMutex
	limits  Limits
	state   State
	store   Store
	clock   DayClock
	alerted map[string]bool
	log     zerolog.Logger
}

func NewManager(l Limits, store Store, clock DayClock, log zerolog.Logger) *Manager {
	return &Manager{
		limits:  l,
		store:   store,
		clock:   clock,
		alerted: make(map[string]bool),
		log:     log.With().Str("component", "risk").Logger(),
	}
}

func (m *Manager) Limits() Limits { return m.limits }

// State returns a copy of the counters.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// InitAtStartup restores today's counters from the store, or starts a
// fresh day when the stored snapshot belongs to an earlier session.
func (m *Manager) InitAtStartup(ctx context.Context, now time.Time) error {
	today := m.clock.TradingDay(now)

	prev, ok, err := m.store.LoadRiskState(ctx)
	if err != nil {
		return fmt.Errorf("load risk state: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if ok && prev.Day == today {
		m.state = prev
		m.log.Info().
			Str("day", today).
			Int("trades_today", prev.TradesToday).
			Int("consecutive_losses", prev.ConsecutiveLosses).
			Float64("daily_pnl", prev.DailyPnL).
			Msg("restored risk state")
		return nil
	}

	m.state = State{Day: today, UpdatedAt: now}
	m.alerted = make(map[string]bool)
	m.log.Info().Str("day", today).Msg("seeded risk state for new trading day")
	return m.saveLocked(ctx)
}

// RolloverIfNeeded resets the counters when now belongs to a later
// trading day. It returns true when a reset happened.
func (m *Manager) RolloverIfNeeded(ctx context.Context, now time.Time) (bool, error) {
	today := m.clock.TradingDay(now)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Day == today {
		return false, nil
	}
	prev := m.state
	m.state = State{Day: today, UpdatedAt: now}
	m.alerted = make(map[string]bool)
	m.log.Info().
		Str("from", prev.Day).
		Str("to", today).
		Float64("prev_pnl", prev.DailyPnL).
		Int("prev_trades", prev.TradesToday).
		Msg("new trading day")
	return true, m.saveLocked(ctx)
}

// Check runs Evaluate against the current counters.
func (m *Manager) Check(in Intent) Decision {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Evaluate(m.limits, m.state, in)
}

// RecordOpened counts an executed entry.
func (m *Manager) RecordOpened(ctx context.Context, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.TradesToday++
	m.state.UpdatedAt = now
	return m.saveLocked(ctx)
}

// RecordClosed books a realised result. A loss extends the streak; a
// win or a flat trade clears it.
func (m *Manager) RecordClosed(ctx context.Context, pnl float64, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.DailyPnL += pnl
	if pnl < 0 {
		m.state.ConsecutiveLosses++
	} else {
		m.state.ConsecutiveLosses = 0
	}
	m.state.UpdatedAt = now
	return m.saveLocked(ctx)
}

// Halt is the emergency stop. It holds until the next trading day or a
// manual reset.
func (m *Manager) Halt(ctx context.Context, reason string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Halted = true
	m.state.HaltReason = reason
	m.state.UpdatedAt = now
	m.log.Warn().Str("reason", reason).Msg("trading halted")
	return m.saveLocked(ctx)
}

// Reset zeroes today's counters on operator request.
func (m *Manager) Reset(ctx context.Context, now time.Time) error {
	if !m.limits.AllowManualReset {
		return ErrManualResetDisabled
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = State{Day: m.clock.TradingDay(now), UpdatedAt: now}
	m.alerted = make(map[string]bool)
	m.log.Warn().Msg("risk state manually reset")
	return m.saveLocked(ctx)
}

// FirstAlert reports whether code has not been alerted on yet today,
// and marks it.
func (m *Manager) FirstAlert(code string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.alerted[code] {
		return false
	}
	m.alerted[code] = true
	return true
}

func (m *Manager) saveLocked(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	if err := m.store.SaveRiskState(ctx, m.state); err != nil {
		return fmt.Errorf("save risk state: %w", err)
	}
	return nil
}
