package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rustyeddy/challenger/challenge"
)

var _ Store = (*Postgres)(nil)

const pgTimeout = 4 * time.Second

type Postgres struct {
	db *pgxpool.Pool
}

// NewPostgres connects to dsn and applies the schema.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Postgres{db: pool}, nil
}

func (s *Postgres) CreateAccount(ctx context.Context, a challenge.Account) error {
	if err := a.Validate(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, pgTimeout)
	defer cancel()
	_, err := s.db.Exec(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
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

func (s *Postgres) GetAccount(ctx context.Context, id string) (challenge.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, pgTimeout)
	defer cancel()
	a, err := scanAccount(s.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return challenge.Account{}, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	return a, err
}

func (s *Postgres) ListAccounts(ctx context.Context, status challenge.Status) ([]challenge.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, pgTimeout)
	defer cancel()
	rows, err := s.db.Query(ctx, `
		SELECT `+accountColumns+` FROM accounts
		WHERE $1 = '' OR status = $1
		ORDER BY id`, string(status))
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

func (s *Postgres) SaveBaselines(ctx context.Context, id string, b challenge.Baselines) error {
	ctx, cancel := context.WithTimeout(ctx, pgTimeout)
	defer cancel()
	tag, err := s.db.Exec(ctx, `
		UPDATE accounts
		SET today_start_equity = $1, baseline_day = $2, max_equity_to_date = $3, updated_at = now()
		WHERE id = $4`,
		b.TodayStartEquity, b.BaselineDay, b.MaxEquityToDate, id,
	)
	if err != nil {
		return fmt.Errorf("save baselines %s: %w", id, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *Postgres) TransitionStatus(ctx context.Context, id string, from, to challenge.Status) error {
	ctx, cancel := context.WithTimeout(ctx, pgTimeout)
	defer cancel()
	tag, err := s.db.Exec(ctx, `
		UPDATE accounts SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3`,
		string(to), id, string(from),
	)
	if err != nil {
		return fmt.Errorf("transition %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	a, err := s.GetAccount(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("account %s is %s, not %s: %w", id, a.Status, from, ErrStatusConflict)
}

func (s *Postgres) OpenPosition(ctx context.Context, p challenge.Position) error {
	if err := p.Validate(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, pgTimeout)
	defer cancel()
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		// FOR SHARE holds off a concurrent status transition until commit.
		var status string
		err := tx.QueryRow(ctx, `SELECT status FROM accounts WHERE id = $1 FOR SHARE`, p.AccountID).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("open position %s: account %s: %w", p.ID, p.AccountID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		if challenge.Status(status) != challenge.StatusActive {
			return fmt.Errorf("open position %s: account %s is %s: %w", p.ID, p.AccountID, status, ErrAccountNotActive)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO positions (id, account_id, symbol, side, volume, open_price, stop_loss, take_profit, opened_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			p.ID, p.AccountID, p.Symbol, string(p.Side), p.Volume, p.OpenPrice,
			p.StopLoss, p.TakeProfit, p.OpenedAt.UTC(),
		); err != nil {
			return fmt.Errorf("open position %s: %w", p.ID, err)
		}
		return nil
	})
}

func (s *Postgres) GetPosition(ctx context.Context, id string) (challenge.Position, error) {
	ctx, cancel := context.WithTimeout(ctx, pgTimeout)
	defer cancel()
	p, err := scanPosition(s.db.QueryRow(ctx, `SELECT `+positionColumns+` FROM positions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return challenge.Position{}, fmt.Errorf("position %s: %w", id, ErrNotFound)
	}
	return p, err
}

func (s *Postgres) OpenPositions(ctx context.Context, accountID string) ([]challenge.Position, error) {
	return s.queryPositions(ctx, `
		SELECT `+positionColumns+` FROM positions
		WHERE account_id = $1 AND closed_at IS NULL
		ORDER BY id`, accountID)
}

func (s *Postgres) Positions(ctx context.Context, accountID string) ([]challenge.Position, error) {
	return s.queryPositions(ctx, `
		SELECT `+positionColumns+` FROM positions
		WHERE account_id = $1
		ORDER BY id`, accountID)
}

func (s *Postgres) AllOpenPositions(ctx context.Context) ([]challenge.Position, error) {
	return s.queryPositions(ctx, `
		SELECT `+positionColumns+` FROM positions
		WHERE closed_at IS NULL
		ORDER BY id`)
}

func (s *Postgres) queryPositions(ctx context.Context, query string, args ...any) ([]challenge.Position, error) {
	ctx, cancel := context.WithTimeout(ctx, pgTimeout)
	defer cancel()
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectPositions(rows)
}

func collectPositions(rows pgx.Rows) ([]challenge.Position, error) {
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

// Snapshot reads the account and its open positions in one repeatable-read
// transaction.
func (s *Postgres) Snapshot(ctx context.Context, accountID string) (challenge.Account, []challenge.Position, error) {
	ctx, cancel := context.WithTimeout(ctx, pgTimeout)
	defer cancel()

	var (
		a    challenge.Account
		open []challenge.Position
	)
	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	err := pgx.BeginTxFunc(ctx, s.db, opts, func(tx pgx.Tx) error {
		var err error
		a, err = scanAccount(tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("account %s: %w", accountID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		rows, err := tx.Query(ctx, `
			SELECT `+positionColumns+` FROM positions
			WHERE account_id = $1 AND closed_at IS NULL
			ORDER BY id`, accountID)
		if err != nil {
			return err
		}
		open, err = collectPositions(rows)
		return err
	})
	if err != nil {
		return challenge.Account{}, nil, err
	}
	return a, open, nil
}

func (s *Postgres) ClosePosition(ctx context.Context, req CloseRequest) error {
	ctx, cancel := context.WithTimeout(ctx, pgTimeout)
	defer cancel()
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		var accountID string
		var closedAt *time.Time
		err := tx.QueryRow(ctx, `
			SELECT account_id, closed_at FROM positions WHERE id = $1 FOR UPDATE`,
			req.PositionID,
		).Scan(&accountID, &closedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("close position %s: %w", req.PositionID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		if closedAt != nil {
			return fmt.Errorf("close position %s: %w", req.PositionID, ErrPositionNotOpen)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE positions
			SET close_price = $1, closed_at = $2, close_reason = $3, realized_pnl = $4
			WHERE id = $5`,
			req.Price, req.At.UTC(), string(req.Reason), req.RealizedPnL, req.PositionID,
		); err != nil {
			return fmt.Errorf("close position %s: %w", req.PositionID, err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE accounts SET balance = balance + $1, updated_at = now() WHERE id = $2`,
			req.RealizedPnL, accountID,
		); err != nil {
			return fmt.Errorf("realize pnl for %s: %w", accountID, err)
		}
		return nil
	})
}

func (s *Postgres) RecordViolation(ctx context.Context, v challenge.Violation) error {
	metrics, unclosed, err := encodeViolation(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, pgTimeout)
	defer cancel()
	tag, err := s.db.Exec(ctx, `
		INSERT INTO violations (`+violationColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (account_id, type, trading_day) DO NOTHING`,
		v.ID, v.AccountID, string(v.Type), v.TradingDay, v.CreatedAt.UTC(), metrics, unclosed,
	)
	if err != nil {
		return fmt.Errorf("record violation %s: %w", v.ID, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("violation %s/%s/%s: %w", v.AccountID, v.Type, v.TradingDay, ErrDuplicateViolation)
	}
	return nil
}

func (s *Postgres) ListViolations(ctx context.Context, accountID string) ([]challenge.Violation, error) {
	ctx, cancel := context.WithTimeout(ctx, pgTimeout)
	defer cancel()
	rows, err := s.db.Query(ctx, `
		SELECT `+violationColumns+` FROM violations
		WHERE account_id = $1
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

func (s *Postgres) Close() error {
	s.db.Close()
	return nil
}
