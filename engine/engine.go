// Package engine evaluates challenge accounts against their risk rules as
// prices move.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rustyeddy/challenger/challenge"
	"github.com/rustyeddy/challenger/events"
	"github.com/rustyeddy/challenger/market"
	"github.com/rustyeddy/challenger/risk"
	"github.com/rustyeddy/challenger/store"
)

type Options struct {
	Workers  int
	Location *time.Location

	// Status an account moves to on a daily or overall drawdown breach.
	DailyBreachStatus   challenge.Status
	OverallBreachStatus challenge.Status

	Retry  RetryPolicy
	Logger *slog.Logger
	Now    func() time.Time
}

type Engine struct {
	store       store.Store
	ticks       *market.TickStore
	instruments *market.Instruments
	events      events.Publisher
	subs        *Subscriptions
	dispatcher  *Dispatcher
	handler     *ViolationHandler
	retry       retrier
	loc         *time.Location
	now         func() time.Time
	log         *slog.Logger

	mu     sync.Mutex
	states map[string]*accountState // ACTIVE accounts plus any being evaluated
}

// accountState is owned by the account's evaluation sequence and only
// touched with mu held.
type accountState struct {
	mu      sync.Mutex
	refs    int // guarded by Engine.mu
	drop    bool
	lastAt  time.Time
	values  map[string]risk.PositionValue
	missing map[string]string // symbol -> trading day it was last logged
}

func New(st store.Store, instruments *market.Instruments, pub events.Publisher, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = DefaultRetryPolicy
	}
	if pub == nil {
		pub = nopPublisher{}
	}

	e := &Engine{
		store:       st,
		ticks:       market.NewTickStore(),
		instruments: instruments,
		events:      pub,
		subs:        NewSubscriptions(),
		retry:       retrier{policy: opts.Retry, log: opts.Logger},
		loc:         opts.Location,
		now:         opts.Now,
		log:         opts.Logger,
		states:      make(map[string]*accountState),
	}
	e.handler = NewViolationHandler(st, pub, HandlerOptions{
		DailyBreachStatus:   opts.DailyBreachStatus,
		OverallBreachStatus: opts.OverallBreachStatus,
		Retry:               opts.Retry,
		Logger:              opts.Logger,
	})
	e.dispatcher = NewDispatcher(opts.Workers, e.evaluateScheduled, opts.Logger)
	return e
}

// Run processes scheduled evaluations until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	return e.dispatcher.Run(ctx)
}

func (e *Engine) Ticks() *market.TickStore { return e.ticks }

func (e *Engine) Subscriptions() *Subscriptions { return e.subs }

func (e *Engine) Dispatcher() *Dispatcher { return e.dispatcher }

func (e *Engine) Instruments() *market.Instruments { return e.instruments }

// OnPriceTick records the latest price for symbol and schedules every
// account holding it. Stale and malformed ticks are ignored.
func (e *Engine) OnPriceTick(symbol string, bid, ask float64, timestamp int64) {
	t := market.TickAt(symbol, bid, ask, timestamp)
	if err := t.Validate(); err != nil {
		e.log.Debug("ignoring tick", slog.Any("error", err))
		return
	}
	if !e.ticks.Set(t) {
		return
	}
	for _, acct := range e.subs.Accounts(symbol) {
		e.dispatcher.Schedule(acct)
	}
}

// OnPositionOpened is called once the position is durably stored.
func (e *Engine) OnPositionOpened(accountID string, p challenge.Position) {
	e.subs.Add(accountID, p.ID, p.Symbol)
	e.dispatcher.Schedule(accountID)
}

// OnPositionClosed is called once a close by the order-execution side is
// durably stored. The realized PnL moved into the balance, so the account
// is re-evaluated.
func (e *Engine) OnPositionClosed(accountID, positionID string) {
	e.subs.Remove(positionID)
	e.dispatcher.Schedule(accountID)
}

// ProcessTick applies tick and evaluates the subscribed accounts in the
// calling goroutine.
func (e *Engine) ProcessTick(ctx context.Context, t market.Tick) ([]challenge.EvaluationResult, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if !e.ticks.Set(t) {
		return nil, nil
	}

	var (
		results []challenge.EvaluationResult
		errs    []error
	)
	for _, acct := range e.subs.Accounts(t.Symbol) {
		res, err := e.Evaluate(ctx, acct, t.Time)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// Bootstrap rebuilds the subscriptions from the open positions of active
// accounts. It returns the number of positions subscribed.
func (e *Engine) Bootstrap(ctx context.Context) (int, error) {
	accounts, err := retryData(ctx, e.retry, "list accounts", func() ([]challenge.Account, error) {
		return e.store.ListAccounts(ctx, challenge.StatusActive)
	})
	if err != nil {
		return 0, fmt.Errorf("bootstrap: %w", err)
	}
	currency := make(map[string]string, len(accounts))
	for _, a := range accounts {
		currency[a.ID] = a.Currency
	}

	positions, err := retryData(ctx, e.retry, "all open positions", func() ([]challenge.Position, error) {
		return e.store.AllOpenPositions(ctx)
	})
	if err != nil {
		return 0, fmt.Errorf("bootstrap: %w", err)
	}

	n := 0
	for _, p := range positions {
		cur, ok := currency[p.AccountID]
		if !ok {
			continue
		}
		e.subs.Add(p.AccountID, p.ID, e.symbolsFor(p.Symbol, cur)...)
		n++
	}
	e.log.Info("subscriptions restored",
		slog.Int("accounts", len(accounts)),
		slog.Int("positions", n))
	return n, nil
}

// ReleaseDailyLocks reactivates DAILY_LOCKED accounts whose locked trading
// day is over.
func (e *Engine) ReleaseDailyLocks(ctx context.Context, now time.Time) (int, error) {
	locked, err := retryData(ctx, e.retry, "list locked accounts", func() ([]challenge.Account, error) {
		return e.store.ListAccounts(ctx, challenge.StatusDailyLocked)
	})
	if err != nil {
		return 0, fmt.Errorf("release daily locks: %w", err)
	}

	today := risk.TradingDay(now, e.loc)
	released := 0
	for _, a := range locked {
		if a.BaselineDay == today {
			continue
		}
		st := e.acquire(a.ID)
		err := e.retry.do(ctx, "transition status", func() error {
			return e.store.TransitionStatus(ctx, a.ID, challenge.StatusDailyLocked, challenge.StatusActive)
		})
		e.release(a.ID, st)
		if errors.Is(err, store.ErrStatusConflict) {
			continue
		}
		if err != nil {
			return released, fmt.Errorf("release account %s: %w", a.ID, err)
		}

		released++
		e.log.Info("daily lock released", slog.String("account", a.ID), slog.String("locked_day", a.BaselineDay))
		e.events.StatusChanged(events.AccountStatusChanged{
			AccountID: a.ID,
			OldStatus: challenge.StatusDailyLocked,
			NewStatus: challenge.StatusActive,
			Time:      now,
		})
	}
	return released, nil
}

// acquire locks the account's state, creating it on first use.
func (e *Engine) acquire(accountID string) *accountState {
	e.mu.Lock()
	st, ok := e.states[accountID]
	if !ok {
		st = &accountState{}
		e.states[accountID] = st
	}
	st.refs++
	e.mu.Unlock()

	st.mu.Lock()
	st.drop = false
	return st
}

// release unlocks st. A state marked by forget is removed once nobody else
// is waiting for it.
func (e *Engine) release(accountID string, st *accountState) {
	drop := st.drop
	st.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	st.refs--
	if st.refs == 0 && drop {
		delete(e.states, accountID)
	}
}

// forget discards what the engine holds for an account that left ACTIVE.
// st must be held.
func (e *Engine) forget(st *accountState, accountID string) {
	st.values = nil
	st.missing = nil
	st.drop = true
	e.subs.DropAccount(accountID)
}

// symbolsFor lists the symbols whose prices move the account-currency value
// of a position in symbol.
func (e *Engine) symbolsFor(symbol, currency string) []string {
	out := []string{symbol}
	if e.instruments == nil {
		return out
	}
	inst, ok := e.instruments.Lookup(symbol)
	if !ok || inst.QuoteCurrency == currency || inst.BaseCurrency == currency {
		return out
	}
	if conv, ok := e.instruments.Pair(inst.QuoteCurrency, currency); ok {
		out = append(out, conv.Symbol)
	}
	if conv, ok := e.instruments.Pair(currency, inst.QuoteCurrency); ok {
		out = append(out, conv.Symbol)
	}
	return out
}

type nopPublisher struct{}

func (nopPublisher) StatusChanged(events.AccountStatusChanged) {}
func (nopPublisher) PositionClosed(events.PositionClosed)      {}
func (nopPublisher) Metrics(events.MetricsUpdated)             {}
func (nopPublisher) Alert(events.Alert)                        {}
