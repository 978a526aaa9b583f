package challenge

import (
	"fmt"
	"time"
)

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

func ParseSide(s string) (Side, error) {
	switch Side(s) {
	case Buy, Sell:
		return Side(s), nil
	}
	return "", fmt.Errorf("unknown side %q", s)
}

type CloseReason string

const (
	CloseUser      CloseReason = "USER_CLOSE"
	CloseViolation CloseReason = "VIOLATION_AUTO_CLOSE"
	CloseTP        CloseReason = "TP"
	CloseSL        CloseReason = "SL"
)

type Position struct {
	ID         string    `json:"id"`
	AccountID  string    `json:"account_id"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Volume     float64   `json:"volume"`
	OpenPrice  float64   `json:"open_price"`
	StopLoss   *float64  `json:"stop_loss,omitempty"`
	TakeProfit *float64  `json:"take_profit,omitempty"`
	OpenedAt   time.Time `json:"opened_at"`

	ClosePrice  *float64     `json:"close_price,omitempty"`
	ClosedAt    *time.Time   `json:"closed_at,omitempty"`
	CloseReason *CloseReason `json:"close_reason,omitempty"`
	RealizedPnL float64      `json:"realized_pnl"`
}

func (p Position) Open() bool { return p.ClosedAt == nil }

// ExitPrice is the price a market close would realize: longs sell on the
// bid, shorts buy back on the ask.
func (p Position) ExitPrice(bid, ask float64) float64 {
	if p.Side == Sell {
		return ask
	}
	return bid
}

// PriceMove is the signed per-unit move in quote currency at exit.
func (p Position) PriceMove(exit float64) float64 {
	if p.Side == Sell {
		return p.OpenPrice - exit
	}
	return exit - p.OpenPrice
}

func (p Position) Validate() error {
	if p.ID == "" || p.AccountID == "" {
		return fmt.Errorf("position requires id and account id")
	}
	if p.Symbol == "" {
		return fmt.Errorf("position %s: symbol is required", p.ID)
	}
	if p.Side != Buy && p.Side != Sell {
		return fmt.Errorf("position %s: invalid side %q", p.ID, p.Side)
	}
	if p.Volume <= 0 {
		return fmt.Errorf("position %s: volume must be positive", p.ID)
	}
	if p.OpenPrice <= 0 {
		return fmt.Errorf("position %s: open price must be positive", p.ID)
	}
	return nil
}
