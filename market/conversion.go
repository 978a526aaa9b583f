package market

import "fmt"

// PriceFunc returns the latest tick for a symbol.
type PriceFunc func(symbol string) (Tick, bool)

// QuoteToAccountRate returns the factor converting an amount in the
// instrument's quote currency into the account currency.
func (in *Instruments) QuoteToAccountRate(inst Instrument, accountCurrency string, price PriceFunc) (float64, error) {
	// EUR_USD in a USD account
	if inst.QuoteCurrency == accountCurrency {
		return 1.0, nil
	}

	// USD_JPY in a USD account: mid is JPY per USD, we want USD per JPY
	if inst.BaseCurrency == accountCurrency {
		return inverseMid(inst.Symbol, price)
	}

	// Cross: convert through a listed pair between quote and account currency.
	if p, ok := in.Pair(inst.QuoteCurrency, accountCurrency); ok {
		t, ok := price(p.Symbol)
		if !ok || t.Mid() <= 0 {
			return 0, fmt.Errorf("convert %s -> %s via %s: %w", inst.QuoteCurrency, accountCurrency, p.Symbol, ErrNoPrice)
		}
		return t.Mid(), nil
	}
	if p, ok := in.Pair(accountCurrency, inst.QuoteCurrency); ok {
		return inverseMid(p.Symbol, price)
	}

	return 0, fmt.Errorf(
		"no conversion from %s to %s for %s",
		inst.QuoteCurrency,
		accountCurrency,
		inst.Symbol,
	)
}

func inverseMid(symbol string, price PriceFunc) (float64, error) {
	t, ok := price(symbol)
	if !ok || t.Mid() <= 0 {
		return 0, fmt.Errorf("convert via %s: %w", symbol, ErrNoPrice)
	}
	return 1.0 / t.Mid(), nil
}
