package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/rustyeddy/challenger/challenge"
	"github.com/rustyeddy/challenger/internal/id"
	"github.com/rustyeddy/challenger/risk"
	"github.com/rustyeddy/challenger/store"
)

// positionOpened records a filled order and subscribes the account to the
// position's prices.
func (s *Server) positionOpened(w http.ResponseWriter, r *http.Request) {
	var p challenge.Position
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode position: %w", err))
		return
	}
	if p.ID == "" {
		p.ID = id.New()
	}
	if p.OpenedAt.IsZero() {
		p.OpenedAt = time.Now().UTC()
	}
	p.ClosePrice, p.ClosedAt, p.CloseReason, p.RealizedPnL = nil, nil, nil, 0
	if err := p.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	// The store only accepts the position while the account is ACTIVE.
	if err := s.store.OpenPosition(r.Context(), p); err != nil {
		s.writeError(w, storeStatus(err), err)
		return
	}

	s.engine.OnPositionOpened(p.AccountID, p)
	s.log.Info("position opened",
		slog.String("account", p.AccountID),
		slog.String("position", p.ID),
		slog.String("symbol", p.Symbol))
	s.writeJSON(w, http.StatusCreated, p)
}

type closeRequest struct {
	PositionID  string                `json:"position_id"`
	ClosePrice  float64               `json:"close_price"`
	RealizedPnL float64               `json:"realized_pnl"`
	Reason      challenge.CloseReason `json:"reason"`
	ClosedAt    time.Time             `json:"closed_at"`
}

func (s *Server) positionClosed(w http.ResponseWriter, r *http.Request) {
	var req closeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode close: %w", err))
		return
	}
	if req.PositionID == "" || req.ClosePrice <= 0 {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("position_id and a positive close_price are required"))
		return
	}
	if req.Reason == "" {
		req.Reason = challenge.CloseUser
	}
	if req.ClosedAt.IsZero() {
		req.ClosedAt = time.Now().UTC()
	}

	ctx := r.Context()
	p, err := s.store.GetPosition(ctx, req.PositionID)
	if err != nil {
		s.writeError(w, storeStatus(err), err)
		return
	}
	err = s.store.ClosePosition(ctx, store.CloseRequest{
		PositionID:  req.PositionID,
		Price:       req.ClosePrice,
		At:          req.ClosedAt,
		Reason:      req.Reason,
		RealizedPnL: req.RealizedPnL,
	})
	if err != nil {
		s.writeError(w, storeStatus(err), err)
		return
	}

	s.engine.OnPositionClosed(p.AccountID, p.ID)
	s.writeJSON(w, http.StatusOK, map[string]string{"position_id": p.ID, "status": "closed"})
}

type accountResponse struct {
	challenge.Account
	OpenPositions []challenge.Position `json:"open_positions"`
	Progress      progressResponse     `json:"progress"`
}

// progressResponse is measured on the realized balance; floating PnL does
// not count towards the profit target.
type progressResponse struct {
	ProfitPercent       float64 `json:"profit_percent"`
	ProfitTargetReached bool    `json:"profit_target_reached"`
	TradingDays         int     `json:"trading_days"`
	MinTradingDaysMet   bool    `json:"min_trading_days_met"`
	Passed              bool    `json:"passed"`
}

func (s *Server) account(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["id"]
	ctx := r.Context()

	acct, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		s.writeError(w, storeStatus(err), err)
		return
	}
	history, err := s.store.Positions(ctx, accountID)
	if err != nil {
		s.writeError(w, storeStatus(err), err)
		return
	}
	open := []challenge.Position{}
	for _, p := range history {
		if p.Open() {
			open = append(open, p)
		}
	}

	profit := (acct.Balance - acct.InitialBalance) / acct.InitialBalance * 100
	prog := risk.EvaluateProgress(challenge.Metrics{ProfitPercent: profit}, acct.Rules, risk.TradingDays(history, s.loc))
	s.writeJSON(w, http.StatusOK, accountResponse{
		Account:       acct,
		OpenPositions: open,
		Progress: progressResponse{
			ProfitPercent:       profit,
			ProfitTargetReached: prog.ProfitTargetReached,
			TradingDays:         prog.TradingDays,
			MinTradingDaysMet:   prog.MinTradingDaysMet,
			Passed:              prog.Passed(),
		},
	})
}

func (s *Server) violations(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["id"]
	vs, err := s.store.ListViolations(r.Context(), accountID)
	if err != nil {
		s.writeError(w, storeStatus(err), err)
		return
	}
	if vs == nil {
		vs = []challenge.Violation{}
	}
	s.writeJSON(w, http.StatusOK, vs)
}
