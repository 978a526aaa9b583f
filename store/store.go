// Package store persists challenge accounts, positions and violations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/rustyeddy/challenger/challenge"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrPositionNotOpen    = errors.New("position is not open")
	ErrDuplicateViolation = errors.New("violation already recorded")
	ErrStatusConflict     = errors.New("account status changed concurrently")
	ErrAccountNotActive   = errors.New("account is not active")
)

type AccountStore interface {
	CreateAccount(ctx context.Context, a challenge.Account) error
	GetAccount(ctx context.Context, id string) (challenge.Account, error)

	// ListAccounts returns the accounts with the given status, or all of
	// them when status is empty.
	ListAccounts(ctx context.Context, status challenge.Status) ([]challenge.Account, error)

	SaveBaselines(ctx context.Context, id string, b challenge.Baselines) error

	// TransitionStatus moves the account from one status to another. It
	// fails with ErrStatusConflict when the current status is not from.
	TransitionStatus(ctx context.Context, id string, from, to challenge.Status) error
}

// CloseRequest closes a position and realizes its PnL into the account
// balance in one atomic step.
type CloseRequest struct {
	PositionID  string
	Price       float64
	At          time.Time
	Reason      challenge.CloseReason
	RealizedPnL float64
}

type PositionStore interface {
	// OpenPosition fails with ErrAccountNotActive unless the account is
	// ACTIVE when the position is stored.
	OpenPosition(ctx context.Context, p challenge.Position) error
	GetPosition(ctx context.Context, id string) (challenge.Position, error)
	OpenPositions(ctx context.Context, accountID string) ([]challenge.Position, error)
	AllOpenPositions(ctx context.Context) ([]challenge.Position, error)

	// Positions returns every position of the account, open or closed.
	Positions(ctx context.Context, accountID string) ([]challenge.Position, error)

	// ClosePosition fails with ErrPositionNotOpen when another writer
	// already closed the position.
	ClosePosition(ctx context.Context, req CloseRequest) error
}

type ViolationStore interface {
	// RecordViolation appends v. A second violation of the same type for
	// the same account and trading day fails with ErrDuplicateViolation.
	RecordViolation(ctx context.Context, v challenge.Violation) error
	ListViolations(ctx context.Context, accountID string) ([]challenge.Violation, error)
}

type Store interface {
	AccountStore
	PositionStore
	ViolationStore

	// Snapshot reads the account and its open positions as of one instant,
	// so a close landing concurrently is either fully visible (balance and
	// position) or not at all.
	Snapshot(ctx context.Context, accountID string) (challenge.Account, []challenge.Position, error)

	Close() error
}
