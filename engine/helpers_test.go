package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rustyeddy/challenger/challenge"
	"github.com/rustyeddy/challenger/events"
	"github.com/rustyeddy/challenger/internal/logging"
	"github.com/rustyeddy/challenger/market"
	"github.com/rustyeddy/challenger/store"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

var fastRetry = RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

func testInstruments(t *testing.T) *market.Instruments {
	t.Helper()
	list := []market.Instrument{
		{Symbol: "AAA_USD", AssetClass: market.Crypto, BaseCurrency: "AAA", QuoteCurrency: "USD", ContractMultiplier: 1},
		{Symbol: "BBB_USD", AssetClass: market.Crypto, BaseCurrency: "BBB", QuoteCurrency: "USD", ContractMultiplier: 1},
		{Symbol: "CCC_USD", AssetClass: market.Crypto, BaseCurrency: "CCC", QuoteCurrency: "USD", ContractMultiplier: 1},
	}
	in, err := market.NewInstruments(append(list, market.DefaultInstruments...))
	require.NoError(t, err)
	return in
}

func newTestEngine(t *testing.T, st store.Store, opts ...func(*Options)) (*Engine, *events.Bus) {
	t.Helper()
	o := Options{
		Workers: 4,
		Retry:   fastRetry,
		Logger:  logging.Discard(),
		Now:     func() time.Time { return base },
	}
	for _, fn := range opts {
		fn(&o)
	}
	bus := events.NewBus()
	return New(st, testInstruments(t), bus, o), bus
}

func createAccount(t *testing.T, st store.Store, id string, rules challenge.Rules) challenge.Account {
	t.Helper()
	a := challenge.NewAccount(id, "USD", 10_000, rules, base)
	require.NoError(t, st.CreateAccount(context.Background(), a))
	return a
}

var defaultRules = challenge.Rules{
	DailyDrawdownPercent:   5,
	OverallDrawdownPercent: 10,
	ProfitTargetPercent:    8,
	MinTradingDays:         4,
}

func openPosition(t *testing.T, e *Engine, st store.Store, id, account, symbol string, side challenge.Side, volume, price float64) challenge.Position {
	t.Helper()
	p := challenge.Position{
		ID:        id,
		AccountID: account,
		Symbol:    symbol,
		Side:      side,
		Volume:    volume,
		OpenPrice: price,
		OpenedAt:  base,
	}
	require.NoError(t, st.OpenPosition(context.Background(), p))
	e.OnPositionOpened(account, p)
	return p
}

func tick(symbol string, bid, ask float64, at time.Time) market.Tick {
	return market.TickAt(symbol, bid, ask, at.UnixMilli())
}

func getAccount(t *testing.T, st store.Store, id string) challenge.Account {
	t.Helper()
	a, err := st.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return a
}

func trackedState(e *Engine, accountID string) (*accountState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[accountID]
	return st, ok
}

func trackedStates(e *Engine) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.states)
}

var errTransient = errors.New("connection reset by peer")

// flakyStore injects transient failures in front of a real store.
type flakyStore struct {
	store.Store

	mu              sync.Mutex
	failReads       int            // remaining Snapshot failures, -1 forever
	failRecords     int            // remaining RecordViolation failures
	failTransitions int            // remaining TransitionStatus failures
	failCloses      map[string]int // position id -> remaining failures, -1 forever
	calls           map[string]int
}

func newFlakyStore() *flakyStore {
	return &flakyStore{
		Store:      store.NewMemory(),
		failCloses: make(map[string]int),
		calls:      make(map[string]int),
	}
}

func (f *flakyStore) take(n *int) bool {
	switch {
	case *n < 0:
		return true
	case *n > 0:
		*n--
		return true
	}
	return false
}

func (f *flakyStore) fail(key string, n *int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[key]++
	return f.take(n)
}

func (f *flakyStore) Snapshot(ctx context.Context, id string) (challenge.Account, []challenge.Position, error) {
	if f.fail("read", &f.failReads) {
		return challenge.Account{}, nil, errTransient
	}
	return f.Store.Snapshot(ctx, id)
}

func (f *flakyStore) RecordViolation(ctx context.Context, v challenge.Violation) error {
	if f.fail("record", &f.failRecords) {
		return errTransient
	}
	return f.Store.RecordViolation(ctx, v)
}

func (f *flakyStore) TransitionStatus(ctx context.Context, id string, from, to challenge.Status) error {
	if f.fail("transition", &f.failTransitions) {
		return errTransient
	}
	return f.Store.TransitionStatus(ctx, id, from, to)
}

func (f *flakyStore) set(n *int, v int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	*n = v
}

func (f *flakyStore) ClosePosition(ctx context.Context, req store.CloseRequest) error {
	f.mu.Lock()
	f.calls["close:"+req.PositionID]++
	n := f.failCloses[req.PositionID]
	fail := f.take(&n)
	f.failCloses[req.PositionID] = n
	f.mu.Unlock()
	if fail {
		return errTransient
	}
	return f.Store.ClosePosition(ctx, req)
}

func (f *flakyStore) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

// closeAfterRead closes a position right after the next account read
// returns, as a user close racing the evaluation would.
type closeAfterRead struct {
	store.Store

	mu      sync.Mutex
	pending *store.CloseRequest
}

func (c *closeAfterRead) arm(req store.CloseRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = &req
}

func (c *closeAfterRead) Snapshot(ctx context.Context, id string) (challenge.Account, []challenge.Position, error) {
	a, open, err := c.Store.Snapshot(ctx, id)
	c.mu.Lock()
	req := c.pending
	c.pending = nil
	c.mu.Unlock()
	if req != nil {
		if cerr := c.Store.ClosePosition(ctx, *req); cerr != nil {
			return challenge.Account{}, nil, cerr
		}
	}
	return a, open, err
}

// recorder collects bus events for assertions.
type recorder struct {
	mu       sync.Mutex
	statuses []events.AccountStatusChanged
	closed   []events.PositionClosed
	alerts   []events.Alert
}

func record(t *testing.T, bus *events.Bus) *recorder {
	t.Helper()
	r := &recorder{}
	require.NoError(t, bus.Subscribe(events.TopicStatusChanged, func(e events.AccountStatusChanged) {
		r.mu.Lock()
		r.statuses = append(r.statuses, e)
		r.mu.Unlock()
	}))
	require.NoError(t, bus.Subscribe(events.TopicPositionClosed, func(e events.PositionClosed) {
		r.mu.Lock()
		r.closed = append(r.closed, e)
		r.mu.Unlock()
	}))
	require.NoError(t, bus.Subscribe(events.TopicAlert, func(e events.Alert) {
		r.mu.Lock()
		r.alerts = append(r.alerts, e)
		r.mu.Unlock()
	}))
	return r
}

func (r *recorder) snapshot(bus *events.Bus) ([]events.AccountStatusChanged, []events.PositionClosed, []events.Alert) {
	bus.Wait()
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.AccountStatusChanged(nil), r.statuses...),
		append([]events.PositionClosed(nil), r.closed...),
		append([]events.Alert(nil), r.alerts...)
}
