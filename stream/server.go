// Package stream exposes the engine over HTTP and websockets: an inbound
// tick feed, the order-execution acknowledgements, and a read-only
// projection of account metrics.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/rustyeddy/challenger/challenge"
	"github.com/rustyeddy/challenger/events"
	"github.com/rustyeddy/challenger/store"
)

// Engine is the inbound side of the risk engine.
type Engine interface {
	OnPriceTick(symbol string, bid, ask float64, timestamp int64)
	OnPositionOpened(accountID string, p challenge.Position)
	OnPositionClosed(accountID, positionID string)
}

type Options struct {
	// MetricsBuffer is the per-connection event buffer; a slower client
	// loses events.
	MetricsBuffer int
	// Location is the trading-day timezone used for progress reports.
	Location *time.Location
	Logger   *slog.Logger
}

type Server struct {
	engine   Engine
	store    store.Store
	bus      *events.Bus
	buffer   int
	loc      *time.Location
	log      *slog.Logger
	router   *mux.Router
	upgrader websocket.Upgrader
}

func NewServer(eng Engine, st store.Store, bus *events.Bus, opts Options) *Server {
	if opts.MetricsBuffer <= 0 {
		opts.MetricsBuffer = 64
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	s := &Server{
		engine: eng,
		store:  st,
		bus:    bus,
		buffer: opts.MetricsBuffer,
		loc:    opts.Location,
		log:    opts.Logger,
		router: mux.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	s.router.HandleFunc("/ws/ticks", s.ticks)
	s.router.HandleFunc("/ws/metrics", s.metrics)
	s.router.HandleFunc("/positions/opened", s.positionOpened).Methods(http.MethodPost)
	s.router.HandleFunc("/positions/closed", s.positionClosed).Methods(http.MethodPost)
	s.router.HandleFunc("/accounts/{id}", s.account).Methods(http.MethodGet)
	s.router.HandleFunc("/accounts/{id}/violations", s.violations).Methods(http.MethodGet)
}

func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", slog.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("write response", slog.Any("error", err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

// storeStatus maps store sentinels to HTTP status codes.
func storeStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrPositionNotOpen), errors.Is(err, store.ErrStatusConflict),
		errors.Is(err, store.ErrAccountNotActive):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"streams":        s.bus.Streams(),
		"dropped_events": s.bus.Dropped(),
	})
}
