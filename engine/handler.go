package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rustyeddy/challenger/challenge"
	"github.com/rustyeddy/challenger/events"
	"github.com/rustyeddy/challenger/internal/id"
	"github.com/rustyeddy/challenger/risk"
	"github.com/rustyeddy/challenger/store"
)

// ErrBreachUnfinished reports a breach whose positions may already be
// closed but whose account is still ACTIVE.
var ErrBreachUnfinished = errors.New("breach handling unfinished")

type HandlerOptions struct {
	DailyBreachStatus   challenge.Status
	OverallBreachStatus challenge.Status
	Retry               RetryPolicy
	Logger              *slog.Logger
}

// ViolationHandler force-closes an account's positions, records the
// violation and moves the account out of ACTIVE. Every step tolerates
// having already been done, so a handler interrupted halfway is finished
// by the next evaluation.
type ViolationHandler struct {
	store   store.Store
	events  events.Publisher
	retry   retrier
	log     *slog.Logger
	daily   challenge.Status
	overall challenge.Status
}

func NewViolationHandler(st store.Store, pub events.Publisher, opts HandlerOptions) *ViolationHandler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DailyBreachStatus == "" {
		opts.DailyBreachStatus = challenge.StatusFailed
	}
	if opts.OverallBreachStatus == "" {
		opts.OverallBreachStatus = challenge.StatusFailed
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = DefaultRetryPolicy
	}
	if pub == nil {
		pub = nopPublisher{}
	}
	return &ViolationHandler{
		store:   st,
		events:  pub,
		retry:   retrier{policy: opts.Retry, log: opts.Logger},
		log:     opts.Logger,
		daily:   opts.DailyBreachStatus,
		overall: opts.OverallBreachStatus,
	}
}

// Breach is everything the handler needs from the evaluation that
// detected it. Positions and Marks are the exact read and valuation that
// produced the decision.
type Breach struct {
	Account    challenge.Account
	Decision   risk.Decision
	Metrics    challenge.Metrics
	Positions  []challenge.Position
	Marks      map[string]risk.PositionValue
	TradingDay string
	At         time.Time
}

type Outcome struct {
	StatusChanged bool
	NewStatus     challenge.Status
	Closed        []events.PositionClosed
	Unclosed      []string
	Violation     *challenge.Violation
}

func (h *ViolationHandler) StatusFor(t challenge.ViolationType) challenge.Status {
	if t == challenge.DailyDrawdown {
		return h.daily
	}
	return h.overall
}

func (h *ViolationHandler) Handle(ctx context.Context, b Breach) (Outcome, error) {
	acct := b.Account
	out := Outcome{NewStatus: acct.Status}
	if acct.Status != challenge.StatusActive {
		return out, nil
	}
	log := h.log.With(slog.String("account", acct.ID))
	log.Warn("rule breached",
		slog.String("rule", string(b.Decision.Type)),
		slog.String("decision", b.Decision.String()),
		slog.Float64("equity", b.Metrics.Equity))

	for _, p := range b.Positions {
		if !p.Open() {
			continue
		}
		closed, err := h.closePosition(ctx, p, b)
		switch {
		case err == nil:
			out.Closed = append(out.Closed, closed)
			h.events.PositionClosed(closed)
		case errors.Is(err, store.ErrPositionNotOpen):
			log.Debug("position already closed", slog.String("position", p.ID))
		default:
			out.Unclosed = append(out.Unclosed, p.ID)
			log.Error("position left open, needs manual reconciliation",
				slog.String("position", p.ID),
				slog.Any("error", err))
		}
	}

	v := challenge.Violation{
		ID:                id.At(b.At),
		AccountID:         acct.ID,
		Type:              b.Decision.Type,
		TradingDay:        b.TradingDay,
		CreatedAt:         b.At,
		Metrics:           b.Metrics,
		UnclosedPositions: out.Unclosed,
	}
	err := h.retry.do(ctx, "record violation", func() error {
		return h.store.RecordViolation(ctx, v)
	})
	switch {
	case err == nil:
		out.Violation = &v
	case errors.Is(err, store.ErrDuplicateViolation):
		log.Debug("violation already recorded", slog.String("day", b.TradingDay))
	default:
		// The account is locked regardless; the missing record is raised
		// for reconciliation.
		log.Error("violation not recorded",
			slog.String("rule", string(v.Type)),
			slog.String("day", b.TradingDay),
			slog.Any("error", err))
		h.events.Alert(events.Alert{
			AccountID: acct.ID,
			Stage:     "record violation",
			Err:       err.Error(),
			Time:      b.At,
		})
	}

	next := h.StatusFor(b.Decision.Type)
	err = h.retry.do(ctx, "transition status", func() error {
		return h.store.TransitionStatus(ctx, acct.ID, challenge.StatusActive, next)
	})
	if errors.Is(err, store.ErrStatusConflict) {
		log.Info("account already left ACTIVE")
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("transition %s -> %s: %w: %w", acct.Status, next, ErrBreachUnfinished, err)
	}
	out.StatusChanged = true
	out.NewStatus = next

	vt := b.Decision.Type
	h.events.StatusChanged(events.AccountStatusChanged{
		AccountID:       acct.ID,
		OldStatus:       acct.Status,
		NewStatus:       next,
		PositionsClosed: len(out.Closed),
		Metrics:         b.Metrics,
		Violation:       &vt,
		Time:            b.At,
	})
	log.Info("account status changed",
		slog.String("status", string(next)),
		slog.Int("closed", len(out.Closed)),
		slog.Int("unclosed", len(out.Unclosed)))
	return out, nil
}

func (h *ViolationHandler) closePosition(ctx context.Context, p challenge.Position, b Breach) (events.PositionClosed, error) {
	mark, ok := b.Marks[p.ID]
	if !ok {
		mark = risk.PositionValue{PositionID: p.ID, Symbol: p.Symbol, Mark: p.OpenPrice}
	}
	req := store.CloseRequest{
		PositionID:  p.ID,
		Price:       mark.Mark,
		At:          b.At,
		Reason:      challenge.CloseViolation,
		RealizedPnL: mark.PnL,
	}
	err := h.retry.do(ctx, "close position", func() error {
		return h.store.ClosePosition(ctx, req)
	})
	if err != nil {
		return events.PositionClosed{}, err
	}
	return events.PositionClosed{
		AccountID:   p.AccountID,
		PositionID:  p.ID,
		Symbol:      p.Symbol,
		ClosePrice:  req.Price,
		RealizedPnL: req.RealizedPnL,
		Reason:      req.Reason,
		ClosedAt:    req.At,
	}, nil
}
