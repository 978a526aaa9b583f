package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rustyeddy/challenger/challenge"
	"github.com/rustyeddy/challenger/events"
	"github.com/rustyeddy/challenger/risk"
)

func (e *Engine) evaluateScheduled(ctx context.Context, accountID string) {
	// Errors were already logged and alerted by Evaluate.
	_, err := e.Evaluate(ctx, accountID, time.Time{})
	if errors.Is(err, ErrBreachUnfinished) && ctx.Err() == nil {
		// The positions are gone, so no tick would bring the account back.
		e.dispatcher.Schedule(accountID)
	}
}

// Evaluate recomputes the account's metrics from the latest prices and
// applies any breach. A zero at uses the newest price time among the
// account's positions. Evaluation time never moves backwards for an
// account.
func (e *Engine) Evaluate(ctx context.Context, accountID string, at time.Time) (challenge.EvaluationResult, error) {
	st := e.acquire(accountID)
	defer e.release(accountID, st)

	res := challenge.EvaluationResult{AccountID: accountID}

	// One read for both: a close landing in between would otherwise drop the
	// position without its realized PnL reaching the balance.
	type snapshot struct {
		acct      challenge.Account
		positions []challenge.Position
	}
	snap, err := retryData(ctx, e.retry, "read account", func() (snapshot, error) {
		a, ps, err := e.store.Snapshot(ctx, accountID)
		return snapshot{a, ps}, err
	})
	if err != nil {
		return res, e.fail(ctx, accountID, "read account", err)
	}
	acct, positions := snap.acct, snap.positions
	res.NewStatus = acct.Status

	// Anything queued before the account left ACTIVE is discarded here.
	if acct.Status != challenge.StatusActive {
		e.forget(st, accountID)
		res.Skipped = true
		return res, nil
	}

	open := make(map[string][]string, len(positions))
	for _, p := range positions {
		open[p.ID] = e.symbolsFor(p.Symbol, acct.Currency)
	}
	e.subs.Sync(accountID, open)

	at = e.evaluationTime(st, positions, at)
	day := risk.TradingDay(at, e.loc)

	eq := risk.ComputeEquity(risk.EquityInput{
		Balance:     acct.Balance,
		Currency:    acct.Currency,
		Positions:   positions,
		Price:       e.ticks.Get,
		Instruments: e.instruments,
		LastKnown:   st.values,
	})

	st.values = make(map[string]risk.PositionValue, len(eq.Positions))
	for _, v := range eq.Positions {
		st.values[v.PositionID] = v
	}
	e.logMissing(st, accountID, day, eq.Unpriced)

	dd := risk.Track(acct.Baselines, acct.InitialBalance, eq.Equity, day)
	if dd.Changed() {
		err := e.retry.do(ctx, "save baselines", func() error {
			return e.store.SaveBaselines(ctx, accountID, dd.Baselines)
		})
		if err != nil {
			return res, e.fail(ctx, accountID, "save baselines", err)
		}
		if dd.DailyReset {
			e.log.Debug("daily baseline reset",
				slog.String("account", accountID),
				slog.String("day", day),
				slog.Float64("equity", dd.Baselines.TodayStartEquity))
		}
	}

	m := challenge.Metrics{
		Equity:                 eq.Equity,
		FloatingPnL:            eq.FloatingPnL,
		Balance:                eq.Balance,
		ProfitPercent:          dd.ProfitPercent,
		DailyDrawdownPercent:   dd.DailyPercent,
		OverallDrawdownPercent: dd.OverallPercent,
		TodayStartEquity:       dd.Baselines.TodayStartEquity,
		MaxEquityToDate:        dd.Baselines.MaxEquityToDate,
	}
	res.Equity = m.Equity
	res.ProfitPercent = m.ProfitPercent
	res.DailyDrawdownPercent = m.DailyDrawdownPercent
	res.OverallDrawdownPercent = m.OverallDrawdownPercent

	e.events.Metrics(events.MetricsUpdated{
		AccountID:              accountID,
		Equity:                 m.Equity,
		ProfitPercent:          m.ProfitPercent,
		DailyDrawdownPercent:   m.DailyDrawdownPercent,
		OverallDrawdownPercent: m.OverallDrawdownPercent,
		Time:                   at,
	})

	decision := risk.Evaluate(m, acct.Rules)
	if decision == nil {
		return res, nil
	}

	acct.Baselines = dd.Baselines
	out, err := e.handler.Handle(ctx, Breach{
		Account:    acct,
		Decision:   *decision,
		Metrics:    m,
		Positions:  positions,
		Marks:      st.values,
		TradingDay: day,
		At:         at,
	})
	res.PositionsClosed = len(out.Closed)
	res.Violation = out.Violation
	if err != nil {
		return res, e.fail(ctx, accountID, "handle violation", err)
	}
	res.StatusChanged = out.StatusChanged
	res.NewStatus = out.NewStatus
	if out.NewStatus != challenge.StatusActive {
		e.forget(st, accountID)
	}
	return res, nil
}

func (e *Engine) evaluationTime(st *accountState, positions []challenge.Position, at time.Time) time.Time {
	if at.IsZero() {
		for _, p := range positions {
			if t, ok := e.ticks.Get(p.Symbol); ok && t.Time.After(at) {
				at = t.Time
			}
		}
	}
	if at.IsZero() {
		at = e.now().UTC()
	}
	if at.Before(st.lastAt) {
		at = st.lastAt
	}
	st.lastAt = at
	return at
}

func (e *Engine) logMissing(st *accountState, accountID, day string, symbols []string) {
	for _, sym := range symbols {
		if st.missing[sym] == day {
			continue
		}
		if st.missing == nil {
			st.missing = make(map[string]string)
		}
		st.missing[sym] = day
		e.log.Warn("no usable price, pnl frozen at last known value",
			slog.String("account", accountID),
			slog.String("symbol", sym),
			slog.String("day", day))
	}
}

// fail logs err and raises an alert unless the engine is shutting down.
func (e *Engine) fail(ctx context.Context, accountID, stage string, err error) error {
	err = fmt.Errorf("%s %s: %w", stage, accountID, err)
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return err
	}
	e.log.Error("evaluation dropped",
		slog.String("account", accountID),
		slog.String("stage", stage),
		slog.Any("error", err))
	e.events.Alert(events.Alert{
		AccountID: accountID,
		Stage:     stage,
		Err:       err.Error(),
		Time:      e.now().UTC(),
	})
	return err
}
