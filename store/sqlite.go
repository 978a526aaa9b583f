package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rustyeddy/challenger/challenge"
)

var _ Store = (*SQLite)(nil)

type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at path and applies the schema.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	// one writer at a time; sqlite serializes writes anyway
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) CreateAccount(ctx context.Context, a challenge.Account) error {
	if err := a.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, string(a.Status), a.Currency, a.InitialBalance, a.Balance,
		a.TodayStartEquity, a.BaselineDay, a.MaxEquityToDate,
		a.Rules.DailyDrawdownPercent, a.Rules.OverallDrawdownPercent,
		a.Rules.ProfitTargetPercent, a.Rules.MinTradingDays,
		a.CreatedAt.UTC(), a.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("create account %s: %w", a.ID, err)
	}
	return nil
}

func (s *SQLite) GetAccount(ctx context.Context, id string) (challenge.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return challenge.Account{}, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	return a, err
}

func (s *SQLite) ListAccounts(ctx context.Context, status challenge.Status) ([]challenge.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+accountColumns+` FROM accounts
		WHERE ? = '' OR status = ?
		ORDER BY id`, string(status), string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []challenge.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLite) SaveBaselines(ctx context.Context, id string, b challenge.Baselines) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET today_start_equity = ?, baseline_day = ?, max_equity_to_date = ?, updated_at = ?
		WHERE id = ?`,
		b.TodayStartEquity, b.BaselineDay, b.MaxEquityToDate, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("save baselines %s: %w", id, err)
	}
	return expectOne(res, fmt.Errorf("account %s: %w", id, ErrNotFound))
}

func (s *SQLite) TransitionStatus(ctx context.Context, id string, from, to challenge.Status) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(to), time.Now().UTC(), id, string(from),
	)
	if err != nil {
		return fmt.Errorf("transition %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	a, err := s.GetAccount(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("account %s is %s, not %s: %w", id, a.Status, from, ErrStatusConflict)
}

func (s *SQLite) OpenPosition(ctx context.Context, p challenge.Position) error {
	if err := p.Validate(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM accounts WHERE id = ?`, p.AccountID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("open position %s: account %s: %w", p.ID, p.AccountID, ErrNotFound)
	}
	if err != nil {
		return err
	}
	if challenge.Status(status) != challenge.StatusActive {
		return fmt.Errorf("open position %s: account %s is %s: %w", p.ID, p.AccountID, status, ErrAccountNotActive)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO positions (id, account_id, symbol, side, volume, open_price, stop_loss, take_profit, opened_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.AccountID, p.Symbol, string(p.Side), p.Volume, p.OpenPrice,
		p.StopLoss, p.TakeProfit, p.OpenedAt.UTC(),
	); err != nil {
		return fmt.Errorf("open position %s: %w", p.ID, err)
	}
	return tx.Commit()
}

func (s *SQLite) GetPosition(ctx context.Context, id string) (challenge.Position, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+positionColumns+` FROM positions WHERE id = ?`, id)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return challenge.Position{}, fmt.Errorf("position %s: %w", id, ErrNotFound)
	}
	return p, err
}

func (s *SQLite) OpenPositions(ctx context.Context, accountID string) ([]challenge.Position, error) {
	return selectPositions(ctx, s.db, `
		SELECT `+positionColumns+` FROM positions
		WHERE account_id = ? AND closed_at IS NULL
		ORDER BY id`, accountID)
}

func (s *SQLite) Positions(ctx context.Context, accountID string) ([]challenge.Position, error) {
	return selectPositions(ctx, s.db, `
		SELECT `+positionColumns+` FROM positions
		WHERE account_id = ?
		ORDER BY id`, accountID)
}

func (s *SQLite) AllOpenPositions(ctx context.Context) ([]challenge.Position, error) {
	return selectPositions(ctx, s.db, `
		SELECT `+positionColumns+` FROM positions
		WHERE closed_at IS NULL
		ORDER BY id`)
}

// Snapshot runs both reads in one transaction. The single connection keeps
// any close from interleaving with it.
func (s *SQLite) Snapshot(ctx context.Context, accountID string) (challenge.Account, []challenge.Position, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return challenge.Account{}, nil, err
	}
	defer tx.Rollback()

	a, err := scanAccount(tx.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, accountID))
	if errors.Is(err, sql.ErrNoRows) {
		return challenge.Account{}, nil, fmt.Errorf("account %s: %w", accountID, ErrNotFound)
	}
	if err != nil {
		return challenge.Account{}, nil, err
	}
	open, err := selectPositions(ctx, tx, `
		SELECT `+positionColumns+` FROM positions
		WHERE account_id = ? AND closed_at IS NULL
		ORDER BY id`, accountID)
	if err != nil {
		return challenge.Account{}, nil, err
	}
	return a, open, tx.Commit()
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func selectPositions(ctx context.Context, q queryer, query string, args ...any) ([]challenge.Position, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []challenge.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLite) ClosePosition(ctx context.Context, req CloseRequest) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var accountID string
	var closedAt sql.NullTime
	err = tx.QueryRowContext(ctx, `SELECT account_id, closed_at FROM positions WHERE id = ?`, req.PositionID).
		Scan(&accountID, &closedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("close position %s: %w", req.PositionID, ErrNotFound)
	}
	if err != nil {
		return err
	}
	if closedAt.Valid {
		return fmt.Errorf("close position %s: %w", req.PositionID, ErrPositionNotOpen)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE positions
		SET close_price = ?, closed_at = ?, close_reason = ?, realized_pnl = ?
		WHERE id = ? AND closed_at IS NULL`,
		req.Price, req.At.UTC(), string(req.Reason), req.RealizedPnL, req.PositionID,
	)
	if err != nil {
		return fmt.Errorf("close position %s: %w", req.PositionID, err)
	}
	if err := expectOne(res, fmt.Errorf("close position %s: %w", req.PositionID, ErrPositionNotOpen)); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE accounts SET balance = balance + ?, updated_at = ? WHERE id = ?`,
		req.RealizedPnL, time.Now().UTC(), accountID,
	); err != nil {
		return fmt.Errorf("realize pnl for %s: %w", accountID, err)
	}
	return tx.Commit()
}

func (s *SQLite) RecordViolation(ctx context.Context, v challenge.Violation) error {
	metrics, unclosed, err := encodeViolation(v)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO violations (`+violationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id, type, trading_day) DO NOTHING`,
		v.ID, v.AccountID, string(v.Type), v.TradingDay, v.CreatedAt.UTC(), string(metrics), string(unclosed),
	)
	if err != nil {
		return fmt.Errorf("record violation %s: %w", v.ID, err)
	}
	return expectOne(res, fmt.Errorf("violation %s/%s/%s: %w", v.AccountID, v.Type, v.TradingDay, ErrDuplicateViolation))
}

func (s *SQLite) ListViolations(ctx context.Context, accountID string) ([]challenge.Violation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+violationColumns+` FROM violations
		WHERE account_id = ?
		ORDER BY created_at, id`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []challenge.Violation
	for rows.Next() {
		v, err := scanViolation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func expectOne(res sql.Result, otherwise error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return otherwise
	}
	return nil
}
