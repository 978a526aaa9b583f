package risk

import (
	"testing"

	"github.com/rustyeddy/challenger/challenge"
	"github.com/rustyeddy/challenger/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testInstruments(t *testing.T) *market.Instruments {
	t.Helper()
	in, err := market.NewInstruments(append([]market.Instrument{
		{Symbol: "ABC", AssetClass: market.Index, BaseCurrency: "ABC", QuoteCurrency: "USD", ContractMultiplier: 1},
	}, market.DefaultInstruments...))
	require.NoError(t, err)
	return in
}

func priceTable(ticks ...market.Tick) market.PriceFunc {
	m := map[string]market.Tick{}
	for _, t := range ticks {
		m[t.Symbol] = t
	}
	return func(s string) (market.Tick, bool) {
		t, ok := m[s]
		return t, ok
	}
}

func pos(id, symbol string, side challenge.Side, volume, open float64) challenge.Position {
	return challenge.Position{ID: id, AccountID: "A1", Symbol: symbol, Side: side, Volume: volume, OpenPrice: open}
}

func TestComputeEquity_NoViolationPath(t *testing.T) {
	t.Parallel()

	eq := ComputeEquity(EquityInput{
		Balance:     10_000,
		Currency:    "USD",
		Positions:   []challenge.Position{pos("p1", "ABC", challenge.Buy, 1, 100)},
		Price:       priceTable(market.Tick{Symbol: "ABC", Bid: 105, Ask: 106}),
		Instruments: testInstruments(t),
	})

	assert.InDelta(t, 5.0, eq.FloatingPnL, 1e-9)
	assert.InDelta(t, 10_005.0, eq.Equity, 1e-9)
	require.Len(t, eq.Positions, 1)
	assert.Equal(t, 105.0, eq.Positions[0].Mark)
	assert.True(t, eq.Positions[0].Priced)
	assert.Empty(t, eq.Unpriced)
}

func TestComputeEquity_SideAndMultiplier(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		position challenge.Position
		tick     market.Tick
		wantPnL  float64
		wantMark float64
	}{
		{
			name:     "fx long marks on bid",
			position: pos("p1", "EUR_USD", challenge.Buy, 1, 1.1000),
			tick:     market.Tick{Symbol: "EUR_USD", Bid: 1.1010, Ask: 1.1012},
			wantPnL:  100_000 * 0.0010,
			wantMark: 1.1010,
		},
		{
			name:     "fx short marks on ask",
			position: pos("p2", "EUR_USD", challenge.Sell, 0.5, 1.1000),
			tick:     market.Tick{Symbol: "EUR_USD", Bid: 1.1010, Ask: 1.1012},
			wantPnL:  -0.5 * 100_000 * 0.0012,
			wantMark: 1.1012,
		},
		{
			name:     "crypto is one to one",
			position: pos("p3", "BTC_USD", challenge.Sell, 2, 50_000),
			tick:     market.Tick{Symbol: "BTC_USD", Bid: 49_000, Ask: 49_010},
			wantPnL:  2 * 990,
			wantMark: 49_010,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			eq := ComputeEquity(EquityInput{
				Balance:     100_000,
				Currency:    "USD",
				Positions:   []challenge.Position{tt.position},
				Price:       priceTable(tt.tick),
				Instruments: testInstruments(t),
			})
			assert.InDelta(t, tt.wantPnL, eq.FloatingPnL, 1e-6)
			assert.InDelta(t, 100_000+tt.wantPnL, eq.Equity, 1e-6)
			assert.InDelta(t, tt.wantMark, eq.Positions[0].Mark, 1e-12)
		})
	}
}

func TestComputeEquity_QuoteConversion(t *testing.T) {
	t.Parallel()

	eq := ComputeEquity(EquityInput{
		Balance:     100_000,
		Currency:    "USD",
		Positions:   []challenge.Position{pos("p1", "USD_JPY", challenge.Buy, 1, 150.02)},
		Price:       priceTable(market.Tick{Symbol: "USD_JPY", Bid: 150.22, Ask: 150.24}),
		Instruments: testInstruments(t),
	})

	plJPY := 100_000 * (150.22 - 150.02)
	mid := (150.22 + 150.24) / 2
	assert.InDelta(t, plJPY/mid, eq.FloatingPnL, 1e-6)
}

func TestComputeEquity_MissingPriceKeepsLastKnown(t *testing.T) {
	t.Parallel()

	positions := []challenge.Position{
		pos("p1", "ABC", challenge.Buy, 1, 100),
		pos("p2", "ETH_USD", challenge.Buy, 1, 2000),
		pos("p3", "NOT_LISTED", challenge.Buy, 1, 10),
	}
	last := map[string]PositionValue{
		"p2": {PositionID: "p2", Symbol: "ETH_USD", Mark: 1900, PnL: -100, Priced: true},
	}

	eq := ComputeEquity(EquityInput{
		Balance:     10_000,
		Currency:    "USD",
		Positions:   positions,
		Price:       priceTable(market.Tick{Symbol: "ABC", Bid: 101, Ask: 102}),
		Instruments: testInstruments(t),
		LastKnown:   last,
	})

	// p1 +1, p2 frozen at -100, p3 never priced contributes 0
	assert.InDelta(t, -99.0, eq.FloatingPnL, 1e-9)
	assert.InDelta(t, 9_901.0, eq.Equity, 1e-9)
	assert.Equal(t, []string{"ETH_USD", "NOT_LISTED"}, eq.Unpriced)

	require.Len(t, eq.Positions, 3)
	assert.False(t, eq.Positions[1].Priced)
	assert.Equal(t, 1900.0, eq.Positions[1].Mark)
	assert.False(t, eq.Positions[2].Priced)
	assert.Equal(t, 10.0, eq.Positions[2].Mark)
	assert.Equal(t, 0.0, eq.Positions[2].PnL)
}

func TestComputeEquity_SkipsClosedPositions(t *testing.T) {
	t.Parallel()

	closed := pos("p1", "ABC", challenge.Buy, 1, 100)
	px := 110.0
	closed.ClosePrice = &px
	at := closed.OpenedAt
	closed.ClosedAt = &at

	eq := ComputeEquity(EquityInput{
		Balance:     10_000,
		Currency:    "USD",
		Positions:   []challenge.Position{closed},
		Price:       priceTable(market.Tick{Symbol: "ABC", Bid: 120, Ask: 121}),
		Instruments: testInstruments(t),
	})
	assert.Equal(t, 10_000.0, eq.Equity)
	assert.Empty(t, eq.Positions)
}
