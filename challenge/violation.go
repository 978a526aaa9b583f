package challenge

import "time"

type ViolationType string

const (
	DailyDrawdown   ViolationType = "DAILY_DRAWDOWN"
	OverallDrawdown ViolationType = "OVERALL_DRAWDOWN"
	Consistency     ViolationType = "CONSISTENCY"
	OtherViolation  ViolationType = "OTHER"
)

// Metrics is the derived state of one evaluation.
type Metrics struct {
	Equity                 float64 `json:"equity"`
	FloatingPnL            float64 `json:"floating_pnl"`
	Balance                float64 `json:"balance"`
	ProfitPercent          float64 `json:"profit_percent"`
	DailyDrawdownPercent   float64 `json:"daily_drawdown_percent"`
	OverallDrawdownPercent float64 `json:"overall_drawdown_percent"`
	TodayStartEquity       float64 `json:"today_start_equity"`
	MaxEquityToDate        float64 `json:"max_equity_to_date"`
}

// Violation is written once per breach event and never modified.
type Violation struct {
	ID                string        `json:"id"`
	AccountID         string        `json:"account_id"`
	Type              ViolationType `json:"type"`
	TradingDay        string        `json:"trading_day"`
	CreatedAt         time.Time     `json:"created_at"`
	Metrics           Metrics       `json:"metrics"`
	UnclosedPositions []string      `json:"unclosed_positions,omitempty"`
}

// EvaluationResult is the transient outcome of evaluating one account.
type EvaluationResult struct {
	AccountID              string
	Equity                 float64
	ProfitPercent          float64
	DailyDrawdownPercent   float64
	OverallDrawdownPercent float64
	StatusChanged          bool
	NewStatus              Status
	PositionsClosed        int
	Violation              *Violation
	Skipped                bool
}
