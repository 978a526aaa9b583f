package market

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrNoPrice = errors.New("price not found")

type TickSource interface {
	GetTick(ctx context.Context, symbol string) (Tick, error)
}

type Tick struct {
	Symbol string    `json:"symbol"`
	Bid    float64   `json:"bid"`
	Ask    float64   `json:"ask"`
	Time   time.Time `json:"time"`
}

// TickAt builds a tick from the feed's Unix millisecond timestamp.
func TickAt(symbol string, bid, ask float64, unixMilli int64) Tick {
	return Tick{
		Symbol: symbol,
		Bid:    bid,
		Ask:    ask,
		Time:   time.UnixMilli(unixMilli).UTC(),
	}
}

func (t Tick) Mid() float64 {
	if t.Bid == 0 && t.Ask == 0 {
		return 0
	}
	return (t.Bid + t.Ask) / 2
}

func (t Tick) Spread() float64 {
	return t.Ask - t.Bid
}

func (t Tick) Validate() error {
	if t.Symbol == "" {
		return fmt.Errorf("tick: symbol is required")
	}
	if t.Bid <= 0 || t.Ask <= 0 {
		return fmt.Errorf("tick %s: bid and ask must be positive", t.Symbol)
	}
	if t.Ask < t.Bid {
		return fmt.Errorf("tick %s: ask %.6f below bid %.6f", t.Symbol, t.Ask, t.Bid)
	}
	return nil
}

// TickStore keeps the latest tick per symbol.
type TickStore struct {
	mu    sync.RWMutex
	ticks map[string]Tick
}

func NewTickStore() *TickStore {
	return &TickStore{ticks: make(map[string]Tick)}
}

// Set stores t unless a newer tick for the same symbol is already held.
// It reports whether t became the current price.
func (ts *TickStore) Set(t Tick) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if cur, ok := ts.ticks[t.Symbol]; ok && t.Time.Before(cur.Time) {
		return false
	}
	ts.ticks[t.Symbol] = t
	return true
}

func (ts *TickStore) Get(symbol string) (Tick, bool) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	t, ok := ts.ticks[symbol]
	return t, ok
}

func (ts *TickStore) GetTick(_ context.Context, symbol string) (Tick, error) {
	t, ok := ts.Get(symbol)
	if !ok {
		return Tick{}, fmt.Errorf("%s: %w", symbol, ErrNoPrice)
	}
	return t, nil
}

func (ts *TickStore) Len() int {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return len(ts.ticks)
}
