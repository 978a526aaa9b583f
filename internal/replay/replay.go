package replay

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/rustyeddy/challenger/challenge"
	"github.com/rustyeddy/challenger/internal/id"
	"github.com/rustyeddy/challenger/market"
	"github.com/rustyeddy/challenger/risk"
	"github.com/rustyeddy/challenger/store"
)

// Engine is the part of the risk engine a replay drives.
type Engine interface {
	ProcessTick(ctx context.Context, t market.Tick) ([]challenge.EvaluationResult, error)
	OnPositionOpened(accountID string, p challenge.Position)
	OnPositionClosed(accountID, positionID string)
}

// Row is one CSV line:
//
//	time,symbol,bid,ask[,event,arg1,arg2,arg3,arg4]
//
// time is RFC3339 or Unix milliseconds. Events (case-insensitive), applied
// after the row's tick:
//
//	OPEN:   arg1=account  arg2=BUY|SELL  arg3=volume  arg4=position id (optional)
//	CLOSE:  arg1=position id
type Row struct {
	Time   string  `csv:"time"`
	Symbol string  `csv:"symbol"`
	Bid    float64 `csv:"bid"`
	Ask    float64 `csv:"ask"`
	Event  string  `csv:"event"`
	Arg1   string  `csv:"arg1"`
	Arg2   string  `csv:"arg2"`
	Arg3   string  `csv:"arg3"`
	Arg4   string  `csv:"arg4"`
}

type Options struct {
	Positions   store.PositionStore
	Instruments *market.Instruments
	Prices      market.PriceFunc
	Currency    func(accountID string) string
}

type Summary struct {
	Ticks       int
	Evaluations int
	Opened      int
	Closed      int
	Breaches    []challenge.EvaluationResult
}

// CSV replays the file at path through engine, one tick at a time.
func CSV(ctx context.Context, path string, engine Engine, opts Options) (Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return Summary{}, err
	}
	defer f.Close()
	return Read(ctx, f, engine, opts)
}

func Read(ctx context.Context, r io.Reader, engine Engine, opts Options) (Summary, error) {
	var rows []Row
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return Summary{}, fmt.Errorf("parse ticks: %w", err)
	}

	var sum Summary
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		line := i + 2 // header is line 1

		t, err := parseTime(row.Time)
		if err != nil {
			return sum, fmt.Errorf("line %d: %w", line, err)
		}
		tick := market.Tick{
			Symbol: strings.TrimSpace(row.Symbol),
			Bid:    row.Bid,
			Ask:    row.Ask,
			Time:   t,
		}
		results, err := engine.ProcessTick(ctx, tick)
		if err != nil {
			return sum, fmt.Errorf("line %d: %w", line, err)
		}
		sum.Ticks++
		sum.Evaluations += len(results)
		for _, res := range results {
			if res.StatusChanged {
				sum.Breaches = append(sum.Breaches, res)
			}
		}

		if err := handleEvent(ctx, engine, opts, tick, row, &sum); err != nil {
			return sum, fmt.Errorf("line %d: %w", line, err)
		}
	}
	return sum, nil
}

func handleEvent(ctx context.Context, engine Engine, opts Options, tick market.Tick, row Row, sum *Summary) error {
	switch strings.ToUpper(strings.TrimSpace(row.Event)) {
	case "":
		return nil

	case "OPEN":
		if opts.Positions == nil {
			return fmt.Errorf("OPEN needs a position store")
		}
		side, err := challenge.ParseSide(strings.ToUpper(strings.TrimSpace(row.Arg2)))
		if err != nil {
			return err
		}
		volume, err := strconv.ParseFloat(strings.TrimSpace(row.Arg3), 64)
		if err != nil {
			return fmt.Errorf("bad volume %q: %w", row.Arg3, err)
		}
		pid := strings.TrimSpace(row.Arg4)
		if pid == "" {
			pid = id.At(tick.Time)
		}
		// Entries fill on the opposite side of the exit.
		price := tick.Ask
		if side == challenge.Sell {
			price = tick.Bid
		}
		p := challenge.Position{
			ID:        pid,
			AccountID: strings.TrimSpace(row.Arg1),
			Symbol:    tick.Symbol,
			Side:      side,
			Volume:    volume,
			OpenPrice: price,
			OpenedAt:  tick.Time,
		}
		if err := opts.Positions.OpenPosition(ctx, p); err != nil {
			return fmt.Errorf("open: %w", err)
		}
		engine.OnPositionOpened(p.AccountID, p)
		sum.Opened++
		return nil

	case "CLOSE":
		if opts.Positions == nil {
			return fmt.Errorf("CLOSE needs a position store")
		}
		p, err := opts.Positions.GetPosition(ctx, strings.TrimSpace(row.Arg1))
		if err != nil {
			return fmt.Errorf("close: %w", err)
		}
		exit, pnl, err := closeValue(p, tick, opts)
		if err != nil {
			return fmt.Errorf("close %s: %w", p.ID, err)
		}
		err = opts.Positions.ClosePosition(ctx, store.CloseRequest{
			PositionID:  p.ID,
			Price:       exit,
			At:          tick.Time,
			Reason:      challenge.CloseUser,
			RealizedPnL: pnl,
		})
		if err != nil {
			return fmt.Errorf("close: %w", err)
		}
		engine.OnPositionClosed(p.AccountID, p.ID)
		sum.Closed++
		return nil
	}
	return fmt.Errorf("unknown event %q", row.Event)
}

func closeValue(p challenge.Position, tick market.Tick, opts Options) (float64, float64, error) {
	price := tick
	if p.Symbol != tick.Symbol {
		if opts.Prices == nil {
			return 0, 0, market.ErrNoPrice
		}
		var ok bool
		if price, ok = opts.Prices(p.Symbol); !ok {
			return 0, 0, market.ErrNoPrice
		}
	}
	exit := p.ExitPrice(price.Bid, price.Ask)

	if opts.Instruments == nil {
		return exit, p.PriceMove(exit) * p.Volume, nil
	}
	inst, ok := opts.Instruments.Lookup(p.Symbol)
	if !ok {
		return 0, 0, fmt.Errorf("unknown instrument %s", p.Symbol)
	}
	currency := inst.QuoteCurrency
	if opts.Currency != nil {
		currency = opts.Currency(p.AccountID)
	}
	prices := opts.Prices
	if prices == nil {
		prices = func(s string) (market.Tick, bool) { return price, s == p.Symbol }
	}
	rate, err := opts.Instruments.QuoteToAccountRate(inst, currency, prices)
	if err != nil {
		return 0, 0, err
	}
	return exit, risk.PnL(p, exit, inst.ContractMultiplier, rate), nil
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad time %q: %w", s, err)
	}
	return t.UTC(), nil
}
