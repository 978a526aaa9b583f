// market/instruments.go
package market

import "fmt"

type AssetClass string

const (
	FX        AssetClass = "FX"
	Crypto    AssetClass = "CRYPTO"
	Metal     AssetClass = "METAL"
	Index     AssetClass = "INDEX"
	Commodity AssetClass = "COMMODITY"
)

// Instrument is the reference data the engine needs to value a position.
// ContractMultiplier converts one unit of volume into base units (an FX
// standard lot is 100,000; crypto trades 1:1).
type Instrument struct {
	Symbol             string     `json:"symbol" yaml:"symbol"`
	AssetClass         AssetClass `json:"asset_class" yaml:"asset_class"`
	BaseCurrency       string     `json:"base_currency" yaml:"base_currency"`
	QuoteCurrency      string     `json:"quote_currency" yaml:"quote_currency"`
	ContractMultiplier float64    `json:"contract_multiplier" yaml:"contract_multiplier"`
	PipLocation        int        `json:"pip_location,omitempty" yaml:"pip_location,omitempty"`
}

func (i Instrument) Validate() error {
	if i.Symbol == "" {
		return fmt.Errorf("instrument symbol is required")
	}
	if i.QuoteCurrency == "" {
		return fmt.Errorf("instrument %s: quote_currency is required", i.Symbol)
	}
	if i.ContractMultiplier <= 0 {
		return fmt.Errorf("instrument %s: contract_multiplier must be positive", i.Symbol)
	}
	return nil
}

// Instruments is an immutable symbol -> metadata table.
type Instruments struct {
	bySymbol map[string]Instrument
}

func NewInstruments(list []Instrument) (*Instruments, error) {
	in := &Instruments{bySymbol: make(map[string]Instrument, len(list))}
	for _, i := range list {
		if err := i.Validate(); err != nil {
			return nil, err
		}
		if _, dup := in.bySymbol[i.Symbol]; dup {
			return nil, fmt.Errorf("instrument %s listed twice", i.Symbol)
		}
		in.bySymbol[i.Symbol] = i
	}
	return in, nil
}

func (in *Instruments) Lookup(symbol string) (Instrument, bool) {
	i, ok := in.bySymbol[symbol]
	return i, ok
}

// Pair finds the instrument quoting base in quote.
func (in *Instruments) Pair(base, quote string) (Instrument, bool) {
	for _, i := range in.bySymbol {
		if i.BaseCurrency == base && i.QuoteCurrency == quote {
			return i, true
		}
	}
	return Instrument{}, false
}

func (in *Instruments) Len() int { return len(in.bySymbol) }

var DefaultInstruments = []Instrument{
	{Symbol: "EUR_USD", AssetClass: FX, BaseCurrency: "EUR", QuoteCurrency: "USD", ContractMultiplier: 100_000, PipLocation: -4},
	{Symbol: "GBP_USD", AssetClass: FX, BaseCurrency: "GBP", QuoteCurrency: "USD", ContractMultiplier: 100_000, PipLocation: -4},
	{Symbol: "USD_JPY", AssetClass: FX, BaseCurrency: "USD", QuoteCurrency: "JPY", ContractMultiplier: 100_000, PipLocation: -2},
	{Symbol: "XAU_USD", AssetClass: Metal, BaseCurrency: "XAU", QuoteCurrency: "USD", ContractMultiplier: 100, PipLocation: -2},
	{Symbol: "BTC_USD", AssetClass: Crypto, BaseCurrency: "BTC", QuoteCurrency: "USD", ContractMultiplier: 1},
	{Symbol: "ETH_USD", AssetClass: Crypto, BaseCurrency: "ETH", QuoteCurrency: "USD", ContractMultiplier: 1},
}
