package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/challenger/challenge"
)

var _ Store = (*Memory)(nil)

// Memory is an in-process Store used by tests and the replay command.
type Memory struct {
	mu         sync.RWMutex
	accounts   map[string]challenge.Account
	positions  map[string]challenge.Position
	violations []challenge.Violation
}

func NewMemory() *Memory {
	return &Memory{
		accounts:  make(map[string]challenge.Account),
		positions: make(map[string]challenge.Position),
	}
}

func (m *Memory) CreateAccount(_ context.Context, a challenge.Account) error {
	if err := a.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[a.ID]; ok {
		return fmt.Errorf("create account %s: already exists", a.ID)
	}
	m.accounts[a.ID] = a
	return nil
}

func (m *Memory) GetAccount(_ context.Context, id string) (challenge.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[id]
	if !ok {
		return challenge.Account{}, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	return a, nil
}

func (m *Memory) ListAccounts(_ context.Context, status challenge.Status) ([]challenge.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []challenge.Account
	for _, a := range m.accounts {
		if status == "" || a.Status == status {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SaveBaselines(_ context.Context, id string, b challenge.Baselines) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	a.Baselines = b
	a.UpdatedAt = time.Now().UTC()
	m.accounts[id] = a
	return nil
}

func (m *Memory) TransitionStatus(_ context.Context, id string, from, to challenge.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	if a.Status != from {
		return fmt.Errorf("account %s is %s, not %s: %w", id, a.Status, from, ErrStatusConflict)
	}
	a.Status = to
	a.UpdatedAt = time.Now().UTC()
	m.accounts[id] = a
	return nil
}

func (m *Memory) OpenPosition(_ context.Context, p challenge.Position) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[p.AccountID]
	if !ok {
		return fmt.Errorf("open position %s: account %s: %w", p.ID, p.AccountID, ErrNotFound)
	}
	if a.Status != challenge.StatusActive {
		return fmt.Errorf("open position %s: account %s is %s: %w", p.ID, a.ID, a.Status, ErrAccountNotActive)
	}
	if _, ok := m.positions[p.ID]; ok {
		return fmt.Errorf("open position %s: already exists", p.ID)
	}
	m.positions[p.ID] = p
	return nil
}

func (m *Memory) GetPosition(_ context.Context, id string) (challenge.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[id]
	if !ok {
		return challenge.Position{}, fmt.Errorf("position %s: %w", id, ErrNotFound)
	}
	return p, nil
}

func (m *Memory) OpenPositions(_ context.Context, accountID string) ([]challenge.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.openLocked(func(p challenge.Position) bool { return p.AccountID == accountID }), nil
}

func (m *Memory) Positions(_ context.Context, accountID string) ([]challenge.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []challenge.Position
	for _, p := range m.positions {
		if p.AccountID == accountID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Snapshot(_ context.Context, accountID string) (challenge.Account, []challenge.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return challenge.Account{}, nil, fmt.Errorf("account %s: %w", accountID, ErrNotFound)
	}
	return a, m.openLocked(func(p challenge.Position) bool { return p.AccountID == accountID }), nil
}

func (m *Memory) AllOpenPositions(_ context.Context) ([]challenge.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.openLocked(func(challenge.Position) bool { return true }), nil
}

func (m *Memory) openLocked(keep func(challenge.Position) bool) []challenge.Position {
	var out []challenge.Position
	for _, p := range m.positions {
		if p.Open() && keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) ClosePosition(_ context.Context, req CloseRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[req.PositionID]
	if !ok {
		return fmt.Errorf("close position %s: %w", req.PositionID, ErrNotFound)
	}
	if !p.Open() {
		return fmt.Errorf("close position %s: %w", req.PositionID, ErrPositionNotOpen)
	}
	a, ok := m.accounts[p.AccountID]
	if !ok {
		return fmt.Errorf("close position %s: account %s: %w", p.ID, p.AccountID, ErrNotFound)
	}

	price, at, reason := req.Price, req.At, req.Reason
	p.ClosePrice = &price
	p.ClosedAt = &at
	p.CloseReason = &reason
	p.RealizedPnL = req.RealizedPnL
	m.positions[p.ID] = p

	a.Balance += req.RealizedPnL
	a.UpdatedAt = time.Now().UTC()
	m.accounts[a.ID] = a
	return nil
}

func (m *Memory) RecordViolation(_ context.Context, v challenge.Violation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, old := range m.violations {
		if old.AccountID == v.AccountID && old.Type == v.Type && old.TradingDay == v.TradingDay {
			return fmt.Errorf("violation %s/%s/%s: %w", v.AccountID, v.Type, v.TradingDay, ErrDuplicateViolation)
		}
	}
	m.violations = append(m.violations, v)
	return nil
}

func (m *Memory) ListViolations(_ context.Context, accountID string) ([]challenge.Violation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []challenge.Violation
	for _, v := range m.violations {
		if v.AccountID == accountID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
