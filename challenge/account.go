package challenge

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusActive       Status = "ACTIVE"
	StatusDailyLocked  Status = "DAILY_LOCKED"
	StatusFailed       Status = "FAILED"
	StatusDisqualified Status = "DISQUALIFIED"
	StatusFunded       Status = "FUNDED"
	StatusClosed       Status = "CLOSED"
	StatusPaused       Status = "PAUSED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusDailyLocked, StatusFailed, StatusDisqualified,
		StatusFunded, StatusClosed, StatusPaused:
		return true
	}
	return false
}

// Failed reports whether the status is a terminal breach state.
func (s Status) Failed() bool {
	return s == StatusFailed || s == StatusDisqualified
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown account status %q", s)
	}
	return st, nil
}

// Rules are the fixed limits of a challenge account. Percent values are
// expressed in percent (5 means 5%). A limit <= 0 disables the rule.
type Rules struct {
	DailyDrawdownPercent   float64 `json:"daily_drawdown_percent" yaml:"daily_drawdown_percent"`
	OverallDrawdownPercent float64 `json:"overall_drawdown_percent" yaml:"overall_drawdown_percent"`
	ProfitTargetPercent    float64 `json:"profit_target_percent" yaml:"profit_target_percent"`
	MinTradingDays         int     `json:"min_trading_days" yaml:"min_trading_days"`
}

// Baselines are the equity reference points owned by the drawdown tracker.
type Baselines struct {
	TodayStartEquity float64 `json:"today_start_equity"`
	BaselineDay      string  `json:"baseline_day"` // YYYY-MM-DD in the engine timezone
	MaxEquityToDate  float64 `json:"max_equity_to_date"`
}

type Account struct {
	ID             string    `json:"id"`
	Status         Status    `json:"status"`
	Currency       string    `json:"currency"`
	InitialBalance float64   `json:"initial_balance"`
	Balance        float64   `json:"balance"`
	Rules          Rules     `json:"rules"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	Baselines
}

// NewAccount returns an ACTIVE account whose baselines start at the initial
// balance.
func NewAccount(id, currency string, initialBalance float64, rules Rules, now time.Time) Account {
	return Account{
		ID:             id,
		Status:         StatusActive,
		Currency:       currency,
		InitialBalance: initialBalance,
		Balance:        initialBalance,
		Rules:          rules,
		CreatedAt:      now,
		UpdatedAt:      now,
		Baselines: Baselines{
			TodayStartEquity: initialBalance,
			MaxEquityToDate:  initialBalance,
		},
	}
}

func (a Account) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("account id is required")
	}
	if a.Currency == "" {
		return fmt.Errorf("account %s: currency is required", a.ID)
	}
	if a.InitialBalance <= 0 {
		return fmt.Errorf("account %s: initial balance must be positive", a.ID)
	}
	if !a.Status.Valid() {
		return fmt.Errorf("account %s: invalid status %q", a.ID, a.Status)
	}
	return nil
}
