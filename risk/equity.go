package risk

import (
	"sort"

	"github.com/rustyeddy/challenger/challenge"
	"github.com/rustyeddy/challenger/market"
)

// PositionValue is the valuation of one open position.
type PositionValue struct {
	PositionID string
	Symbol     string
	Mark       float64 // exit price a close would realize
	PnL        float64 // account currency
	Priced     bool    // false when frozen at the last known value
}

type EquityInput struct {
	Balance     float64
	Currency    string
	Positions   []challenge.Position
	Price       market.PriceFunc
	Instruments *market.Instruments

	// LastKnown holds the previous valuation per position id.
	LastKnown map[string]PositionValue
}

type Equity struct {
	Balance     float64
	FloatingPnL float64
	Equity      float64
	Positions   []PositionValue
	Unpriced    []string // symbols that could not be valued, sorted
}

// ComputeEquity values the open positions and returns balance plus floating
// PnL. A position that cannot be priced keeps its last known PnL (zero and
// marked at its open price if it was never priced).
func ComputeEquity(in EquityInput) Equity {
	out := Equity{
		Balance:   in.Balance,
		Positions: make([]PositionValue, 0, len(in.Positions)),
	}
	unpriced := map[string]struct{}{}

	for _, p := range in.Positions {
		if !p.Open() {
			continue
		}
		v, ok := valuePosition(in, p)
		if !ok {
			v = in.LastKnown[p.ID]
			if v.PositionID == "" {
				v = PositionValue{PositionID: p.ID, Symbol: p.Symbol, Mark: p.OpenPrice}
			}
			v.Priced = false
			unpriced[p.Symbol] = struct{}{}
		}
		out.FloatingPnL += v.PnL
		out.Positions = append(out.Positions, v)
	}

	out.Equity = out.Balance + out.FloatingPnL
	for s := range unpriced {
		out.Unpriced = append(out.Unpriced, s)
	}
	sort.Strings(out.Unpriced)
	return out
}

func valuePosition(in EquityInput, p challenge.Position) (PositionValue, bool) {
	if in.Instruments == nil || in.Price == nil {
		return PositionValue{}, false
	}
	inst, ok := in.Instruments.Lookup(p.Symbol)
	if !ok {
		return PositionValue{}, false
	}
	t, ok := in.Price(p.Symbol)
	if !ok {
		return PositionValue{}, false
	}
	rate, err := in.Instruments.QuoteToAccountRate(inst, in.Currency, in.Price)
	if err != nil {
		return PositionValue{}, false
	}

	mark := p.ExitPrice(t.Bid, t.Ask)
	return PositionValue{
		PositionID: p.ID,
		Symbol:     p.Symbol,
		Mark:       mark,
		PnL:        PnL(p, mark, inst.ContractMultiplier, rate),
		Priced:     true,
	}, true
}

// PnL is the account-currency profit of closing p at exit.
func PnL(p challenge.Position, exit, multiplier, quoteToAccount float64) float64 {
	return p.PriceMove(exit) * p.Volume * multiplier * quoteToAccount
}
