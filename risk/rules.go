package risk

import (
	"fmt"
	"time"

	"github.com/rustyeddy/challenger/challenge"
)

// Decision is a detected hard breach.
type Decision struct {
	Type  challenge.ViolationType
	Value float64 // observed percent
	Limit float64 // configured percent
}

func (d Decision) String() string {
	return fmt.Sprintf("%s %.2f%% >= limit %.2f%%", d.Type, d.Value, d.Limit)
}

// Evaluate compares the metrics against the account rules. At most one
// decision is returned; the overall drawdown wins over the daily one.
func Evaluate(m challenge.Metrics, r challenge.Rules) *Decision {
	if r.OverallDrawdownPercent > 0 && m.OverallDrawdownPercent >= r.OverallDrawdownPercent {
		return &Decision{
			Type:  challenge.OverallDrawdown,
			Value: m.OverallDrawdownPercent,
			Limit: r.OverallDrawdownPercent,
		}
	}
	if r.DailyDrawdownPercent > 0 && m.DailyDrawdownPercent >= r.DailyDrawdownPercent {
		return &Decision{
			Type:  challenge.DailyDrawdown,
			Value: m.DailyDrawdownPercent,
			Limit: r.DailyDrawdownPercent,
		}
	}
	return nil
}

// Progress reports the pass conditions read by the promotion workflow.
// These are never violations.
type Progress struct {
	ProfitTargetReached bool
	TradingDays         int
	MinTradingDaysMet   bool
}

func (p Progress) Passed() bool {
	return p.ProfitTargetReached && p.MinTradingDaysMet
}

func EvaluateProgress(m challenge.Metrics, r challenge.Rules, tradingDays int) Progress {
	return Progress{
		ProfitTargetReached: r.ProfitTargetPercent > 0 && m.ProfitPercent >= r.ProfitTargetPercent,
		TradingDays:         tradingDays,
		MinTradingDaysMet:   tradingDays >= r.MinTradingDays,
	}
}

// TradingDays counts the distinct trading days on which the positions were
// opened.
func TradingDays(positions []challenge.Position, loc *time.Location) int {
	days := make(map[string]struct{}, len(positions))
	for _, p := range positions {
		days[TradingDay(p.OpenedAt, loc)] = struct{}{}
	}
	return len(days)
}
