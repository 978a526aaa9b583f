package engine

import (
	"slices"
	"sync"
)

// Subscriptions tracks which accounts care about which symbols. Every open
// position contributes its own symbol plus any symbol needed to convert its
// PnL into the account currency.
type Subscriptions struct {
	mu        sync.RWMutex
	bySymbol  map[string]map[string]int // symbol -> account -> refs
	positions map[string]subscription   // position id -> subscription
}

type subscription struct {
	accountID string
	symbols   []string
}

func NewSubscriptions() *Subscriptions {
	return &Subscriptions{
		bySymbol:  make(map[string]map[string]int),
		positions: make(map[string]subscription),
	}
}

// Add subscribes accountID to symbols on behalf of positionID, replacing
// any earlier symbol set for that position.
func (s *Subscriptions) Add(accountID, positionID string, symbols ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.add(accountID, positionID, symbols)
}

func (s *Subscriptions) add(accountID, positionID string, symbols []string) {
	symbols = dedupe(symbols)
	if old, ok := s.positions[positionID]; ok {
		if old.accountID == accountID && slices.Equal(old.symbols, symbols) {
			return
		}
		s.remove(positionID)
	}
	for _, sym := range symbols {
		accts := s.bySymbol[sym]
		if accts == nil {
			accts = make(map[string]int)
			s.bySymbol[sym] = accts
		}
		accts[accountID]++
	}
	s.positions[positionID] = subscription{accountID: accountID, symbols: symbols}
}

func (s *Subscriptions) Remove(positionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(positionID)
}

func (s *Subscriptions) remove(positionID string) {
	sub, ok := s.positions[positionID]
	if !ok {
		return
	}
	delete(s.positions, positionID)
	for _, sym := range sub.symbols {
		accts := s.bySymbol[sym]
		accts[sub.accountID]--
		if accts[sub.accountID] <= 0 {
			delete(accts, sub.accountID)
		}
		if len(accts) == 0 {
			delete(s.bySymbol, sym)
		}
	}
}

// Sync makes the account's subscriptions match open, keyed by position id.
func (s *Subscriptions) Sync(accountID string, open map[string][]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for pid, sub := range s.positions {
		if sub.accountID != accountID {
			continue
		}
		if _, ok := open[pid]; !ok {
			s.remove(pid)
		}
	}
	for pid, symbols := range open {
		s.add(accountID, pid, symbols)
	}
}

// DropAccount removes every subscription held by accountID.
func (s *Subscriptions) DropAccount(accountID string) {
	s.Sync(accountID, nil)
}

// Accounts returns the accounts subscribed to symbol, sorted.
func (s *Subscriptions) Accounts(symbol string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	accts := s.bySymbol[symbol]
	out := make([]string, 0, len(accts))
	for a := range accts {
		out = append(out, a)
	}
	slices.Sort(out)
	return out
}

func (s *Subscriptions) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.bySymbol))
	for sym := range s.bySymbol {
		out = append(out, sym)
	}
	slices.Sort(out)
	return out
}

func (s *Subscriptions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.positions)
}

func dedupe(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		if sym != "" && !slices.Contains(out, sym) {
			out = append(out, sym)
		}
	}
	slices.Sort(out)
	return out
}
