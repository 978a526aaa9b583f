package risk

import (
	"time"

	"github.com/rustyeddy/challenger/challenge"
)

const dayLayout = "2006-01-02"

// TradingDay returns the trading day t falls in for the given timezone.
func TradingDay(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(dayLayout)
}

// Drawdown is the tracker's view of one equity observation.
type Drawdown struct {
	Baselines challenge.Baselines

	DailyPercent   float64
	OverallPercent float64
	ProfitPercent  float64

	DailyReset bool
	NewPeak    bool
}

// Changed reports whether the baselines need to be persisted.
func (d Drawdown) Changed() bool { return d.DailyReset || d.NewPeak }

// Track folds one equity observation into the account baselines. The daily
// baseline is reset lazily to the equity of the first observation of a new
// trading day; an account never evaluated keeps its creation baseline. The peak never drops below the initial balance and never
// decreases.
func Track(b challenge.Baselines, initialBalance, equity float64, day string) Drawdown {
	d := Drawdown{Baselines: b}

	switch {
	case b.BaselineDay == "":
		// First evaluation ever: the day opened at the creation baseline.
		d.Baselines.BaselineDay = day
		if d.Baselines.TodayStartEquity <= 0 {
			d.Baselines.TodayStartEquity = initialBalance
		}
		d.DailyReset = true
	case b.BaselineDay != day:
		d.Baselines.BaselineDay = day
		d.Baselines.TodayStartEquity = equity
		d.DailyReset = true
	}

	peak := max(b.MaxEquityToDate, initialBalance)
	if equity > peak {
		peak = equity
	}
	if peak != b.MaxEquityToDate {
		d.Baselines.MaxEquityToDate = peak
		d.NewPeak = true
	}

	d.DailyPercent = declinePercent(d.Baselines.TodayStartEquity, equity)
	d.OverallPercent = declinePercent(d.Baselines.MaxEquityToDate, equity)
	d.ProfitPercent = gainPercent(initialBalance, equity)
	return d
}

func declinePercent(baseline, equity float64) float64 {
	if baseline <= 0 {
		return 0
	}
	return max(0, (baseline-equity)/baseline*100)
}

func gainPercent(baseline, equity float64) float64 {
	if baseline <= 0 {
		return 0
	}
	return max(0, (equity-baseline)/baseline*100)
}
