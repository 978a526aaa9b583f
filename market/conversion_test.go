package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestInstruments(t *testing.T) *Instruments {
	t.Helper()
	in, err := NewInstruments(append(DefaultInstruments,
		Instrument{Symbol: "EUR_GBP", AssetClass: FX, BaseCurrency: "EUR", QuoteCurrency: "GBP", ContractMultiplier: 100_000},
		Instrument{Symbol: "AUD_CAD", AssetClass: FX, BaseCurrency: "AUD", QuoteCurrency: "CAD", ContractMultiplier: 100_000},
	))
	require.NoError(t, err)
	return in
}

func prices(ticks ...Tick) PriceFunc {
	m := map[string]Tick{}
	for _, t := range ticks {
		m[t.Symbol] = t
	}
	return func(s string) (Tick, bool) {
		t, ok := m[s]
		return t, ok
	}
}

func TestQuoteToAccountRate_QuoteEqualsAccount(t *testing.T) {
	t.Parallel()

	in := newTestInstruments(t)
	eur, _ := in.Lookup("EUR_USD")

	rate, err := in.QuoteToAccountRate(eur, "USD", prices())
	require.NoError(t, err)
	assert.Equal(t, 1.0, rate)
}

func TestQuoteToAccountRate_BaseEqualsAccount(t *testing.T) {
	t.Parallel()

	in := newTestInstruments(t)
	jpy, _ := in.Lookup("USD_JPY")

	rate, err := in.QuoteToAccountRate(jpy, "USD", prices(Tick{Symbol: "USD_JPY", Bid: 149.99, Ask: 150.01}))
	require.NoError(t, err)
	assert.InDelta(t, 1.0/150.0, rate, 1e-12)

	_, err = in.QuoteToAccountRate(jpy, "USD", prices())
	assert.ErrorIs(t, err, ErrNoPrice)
}

func TestQuoteToAccountRate_Cross(t *testing.T) {
	t.Parallel()

	in := newTestInstruments(t)
	eurgbp, _ := in.Lookup("EUR_GBP")

	// GBP quote, USD account: GBP_USD mid converts directly
	rate, err := in.QuoteToAccountRate(eurgbp, "USD", prices(Tick{Symbol: "GBP_USD", Bid: 1.25, Ask: 1.27}))
	require.NoError(t, err)
	assert.InDelta(t, 1.26, rate, 1e-12)

	// JPY quote in an EUR account has no listed pair
	jpy, _ := in.Lookup("USD_JPY")
	_, err = in.QuoteToAccountRate(jpy, "EUR", prices())
	assert.Error(t, err)

	audcad, _ := in.Lookup("AUD_CAD")
	_, err = in.QuoteToAccountRate(audcad, "USD", prices())
	assert.Error(t, err)
}

func TestNewInstruments_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewInstruments([]Instrument{{Symbol: "X", QuoteCurrency: "USD"}})
	assert.ErrorContains(t, err, "contract_multiplier")

	_, err = NewInstruments([]Instrument{
		{Symbol: "X", QuoteCurrency: "USD", ContractMultiplier: 1},
		{Symbol: "X", QuoteCurrency: "USD", ContractMultiplier: 1},
	})
	assert.ErrorContains(t, err, "twice")

	in, err := NewInstruments(DefaultInstruments)
	require.NoError(t, err)
	btc, ok := in.Lookup("BTC_USD")
	require.True(t, ok)
	assert.Equal(t, Crypto, btc.AssetClass)
	assert.Equal(t, 1.0, btc.ContractMultiplier)
}
