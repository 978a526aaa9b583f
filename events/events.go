// Package events carries the engine's outbound notifications.
package events

import (
	"time"

	"github.com/rustyeddy/challenger/challenge"
)

const (
	TopicStatusChanged  = "account:status"
	TopicPositionClosed = "position:closed"
	TopicAlert          = "engine:alert"
)

type AccountStatusChanged struct {
	AccountID       string                   `json:"account_id"`
	OldStatus       challenge.Status         `json:"old_status"`
	NewStatus       challenge.Status         `json:"new_status"`
	PositionsClosed int                      `json:"positions_closed"`
	Metrics         challenge.Metrics        `json:"metrics"`
	Violation       *challenge.ViolationType `json:"violation,omitempty"`
	Time            time.Time                `json:"time"`
}

type MetricsUpdated struct {
	AccountID              string    `json:"account_id"`
	Equity                 float64   `json:"equity"`
	ProfitPercent          float64   `json:"profit_percent"`
	DailyDrawdownPercent   float64   `json:"daily_drawdown_percent"`
	OverallDrawdownPercent float64   `json:"overall_drawdown_percent"`
	Time                   time.Time `json:"time"`
}

type PositionClosed struct {
	AccountID   string                `json:"account_id"`
	PositionID  string                `json:"position_id"`
	Symbol      string                `json:"symbol"`
	ClosePrice  float64               `json:"close_price"`
	RealizedPnL float64               `json:"realized_pnl"`
	Reason      challenge.CloseReason `json:"reason"`
	ClosedAt    time.Time             `json:"closed_at"`
}

// Alert is raised when an evaluation had to be dropped or left work for
// manual reconciliation.
type Alert struct {
	AccountID string    `json:"account_id"`
	Stage     string    `json:"stage"`
	Err       string    `json:"error"`
	Time      time.Time `json:"time"`
}

type Publisher interface {
	StatusChanged(AccountStatusChanged)
	PositionClosed(PositionClosed)
	Metrics(MetricsUpdated)
	Alert(Alert)
}
