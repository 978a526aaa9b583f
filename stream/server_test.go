package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rustyeddy/challenger/challenge"
	"github.com/rustyeddy/challenger/events"
	"github.com/rustyeddy/challenger/internal/logging"
	"github.com/rustyeddy/challenger/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	mu     sync.Mutex
	ticks  []TickMessage
	opened []string
	closed []string
}

func (f *fakeEngine) OnPriceTick(symbol string, bid, ask float64, ts int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticks = append(f.ticks, TickMessage{Symbol: symbol, Bid: bid, Ask: ask, Time: ts})
}

func (f *fakeEngine) OnPositionOpened(accountID string, p challenge.Position) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, p.ID)
}

func (f *fakeEngine) OnPositionClosed(accountID, positionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, positionID)
}

func (f *fakeEngine) calls() (opened, closed []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.opened...), append([]string(nil), f.closed...)
}

func (f *fakeEngine) tickCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ticks)
}

type fixture struct {
	srv    *httptest.Server
	engine *fakeEngine
	store  *store.Memory
	bus    *events.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{engine: &fakeEngine{}, store: store.NewMemory(), bus: events.NewBus()}
	s := NewServer(f.engine, f.store, f.bus, Options{MetricsBuffer: 8, Logger: logging.Discard()})
	f.srv = httptest.NewServer(s.Handler())
	t.Cleanup(f.srv.Close)

	acct := challenge.NewAccount("A1", "USD", 10_000, challenge.Rules{DailyDrawdownPercent: 5, OverallDrawdownPercent: 10}, time.Now().UTC())
	require.NoError(t, f.store.CreateAccount(context.Background(), acct))
	return f
}

func (f *fixture) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(f.srv.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (f *fixture) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestPositionLifecycle(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/positions/opened", map[string]any{
		"account_id": "A1",
		"symbol":     "EUR_USD",
		"side":       "BUY",
		"volume":     0.5,
		"open_price": 1.085,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var p challenge.Position
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&p))
	assert.NotEmpty(t, p.ID)
	assert.False(t, p.OpenedAt.IsZero())
	opened, _ := f.engine.calls()
	assert.Equal(t, []string{p.ID}, opened)

	resp, err := http.Get(f.srv.URL + "/accounts/A1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var acct accountResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&acct))
	assert.Equal(t, challenge.StatusActive, acct.Status)
	require.Len(t, acct.OpenPositions, 1)
	assert.Equal(t, 1, acct.Progress.TradingDays)
	assert.Zero(t, acct.Progress.ProfitPercent)

	resp = f.post(t, "/positions/closed", map[string]any{
		"position_id":  p.ID,
		"close_price":  1.090,
		"realized_pnl": 250,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, closedCalls := f.engine.calls()
	assert.Equal(t, []string{p.ID}, closedCalls)

	closed, err := f.store.GetPosition(context.Background(), p.ID)
	require.NoError(t, err)
	require.NotNil(t, closed.CloseReason)
	assert.Equal(t, challenge.CloseUser, *closed.CloseReason)

	a, err := f.store.GetAccount(context.Background(), "A1")
	require.NoError(t, err)
	assert.Equal(t, 10_250.0, a.Balance)

	resp2, err := http.Get(f.srv.URL + "/accounts/A1")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var after accountResponse
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&after))
	assert.Empty(t, after.OpenPositions)
	assert.InDelta(t, 2.5, after.Progress.ProfitPercent, 1e-9)
	assert.Equal(t, 1, after.Progress.TradingDays)

	resp = f.post(t, "/positions/closed", map[string]any{"position_id": p.ID, "close_price": 1.1})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestPositionOpened_Rejects(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.CreateAccount(context.Background(),
		challenge.NewAccount("A2", "USD", 10_000, challenge.Rules{}, time.Now().UTC())))
	require.NoError(t, f.store.TransitionStatus(context.Background(), "A2", challenge.StatusActive, challenge.StatusFailed))

	valid := func(account string) map[string]any {
		return map[string]any{"account_id": account, "symbol": "EUR_USD", "side": "BUY", "volume": 1, "open_price": 1.1}
	}
	tests := []struct {
		name   string
		body   any
		status int
	}{
		{name: "unknown account", body: valid("nope"), status: http.StatusNotFound},
		{name: "failed account", body: valid("A2"), status: http.StatusConflict},
		{name: "bad side", body: map[string]any{"account_id": "A1", "symbol": "EUR_USD", "side": "UP", "volume": 1, "open_price": 1.1}, status: http.StatusBadRequest},
		{name: "not json", body: "x", status: http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := f.post(t, "/positions/opened", tc.body)
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
	opened, _ := f.engine.calls()
	assert.Empty(t, opened)
}

func TestAccountNotFound(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.srv.URL + "/accounts/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp2, err := http.Get(f.srv.URL + "/accounts/A1/violations")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var vs []challenge.Violation
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&vs))
	assert.Empty(t, vs)
}

func TestTickFeed(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "/ws/ticks")

	require.NoError(t, conn.WriteJSON(TickMessage{Symbol: "EUR_USD", Bid: 1.1, Ask: 1.1002, Time: 1700000000000}))
	require.NoError(t, conn.WriteJSON(TickMessage{Symbol: "GBP_USD", Bid: 1.25, Ask: 1.2502}))

	require.Eventually(t, func() bool { return f.engine.tickCount() == 2 }, time.Second, 5*time.Millisecond)
	f.engine.mu.Lock()
	defer f.engine.mu.Unlock()
	assert.Equal(t, int64(1700000000000), f.engine.ticks[0].Time)
	assert.NotZero(t, f.engine.ticks[1].Time)
}

func TestMetricsFeed(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "/ws/metrics?account=A1")
	require.Eventually(t, func() bool { return f.bus.Streams() == 1 }, time.Second, 5*time.Millisecond)

	f.bus.Metrics(events.MetricsUpdated{AccountID: "A2", Equity: 1})
	f.bus.Metrics(events.MetricsUpdated{AccountID: "A1", Equity: 9_950})

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var env events.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, "metrics", env.Type)
	assert.Equal(t, "A1", env.AccountID)
	require.NotNil(t, env.Metrics)
	assert.Equal(t, 9_950.0, env.Metrics.Equity)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return f.bus.Streams() == 0 }, time.Second, 5*time.Millisecond)
}
