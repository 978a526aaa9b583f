package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rustyeddy/challenger/challenge"
)

// scanner is satisfied by *sql.Row, *sql.Rows, pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(s scanner) (challenge.Account, error) {
	var a challenge.Account
	var status string
	err := s.Scan(
		&a.ID, &status, &a.Currency, &a.InitialBalance, &a.Balance,
		&a.TodayStartEquity, &a.BaselineDay, &a.MaxEquityToDate,
		&a.Rules.DailyDrawdownPercent, &a.Rules.OverallDrawdownPercent,
		&a.Rules.ProfitTargetPercent, &a.Rules.MinTradingDays,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return challenge.Account{}, err
	}
	a.Status = challenge.Status(status)
	return a, nil
}

func scanPosition(s scanner) (challenge.Position, error) {
	var (
		p           challenge.Position
		side        string
		stopLoss    sql.NullFloat64
		takeProfit  sql.NullFloat64
		closePrice  sql.NullFloat64
		closedAt    sql.NullTime
		closeReason sql.NullString
	)
	err := s.Scan(
		&p.ID, &p.AccountID, &p.Symbol, &side, &p.Volume, &p.OpenPrice,
		&stopLoss, &takeProfit, &p.OpenedAt,
		&closePrice, &closedAt, &closeReason, &p.RealizedPnL,
	)
	if err != nil {
		return challenge.Position{}, err
	}
	p.Side = challenge.Side(side)
	if stopLoss.Valid {
		p.StopLoss = &stopLoss.Float64
	}
	if takeProfit.Valid {
		p.TakeProfit = &takeProfit.Float64
	}
	if closePrice.Valid {
		p.ClosePrice = &closePrice.Float64
	}
	if closedAt.Valid {
		p.ClosedAt = &closedAt.Time
	}
	if closeReason.Valid {
		r := challenge.CloseReason(closeReason.String)
		p.CloseReason = &r
	}
	return p, nil
}

func scanViolation(s scanner) (challenge.Violation, error) {
	var (
		v        challenge.Violation
		typ      string
		metrics  []byte
		unclosed []byte
	)
	if err := s.Scan(&v.ID, &v.AccountID, &typ, &v.TradingDay, &v.CreatedAt, &metrics, &unclosed); err != nil {
		return challenge.Violation{}, err
	}
	v.Type = challenge.ViolationType(typ)
	if err := json.Unmarshal(metrics, &v.Metrics); err != nil {
		return challenge.Violation{}, fmt.Errorf("violation %s metrics: %w", v.ID, err)
	}
	if len(unclosed) > 0 {
		if err := json.Unmarshal(unclosed, &v.UnclosedPositions); err != nil {
			return challenge.Violation{}, fmt.Errorf("violation %s unclosed positions: %w", v.ID, err)
		}
	}
	return v, nil
}

func encodeViolation(v challenge.Violation) (metrics, unclosed []byte, err error) {
	metrics, err = json.Marshal(v.Metrics)
	if err != nil {
		return nil, nil, err
	}
	ids := v.UnclosedPositions
	if ids == nil {
		ids = []string{}
	}
	unclosed, err = json.Marshal(ids)
	return metrics, unclosed, err
}
