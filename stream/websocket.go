package stream

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// TickMessage is one inbound price update. Time is Unix milliseconds; zero
// means now.
type TickMessage struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Time   int64   `json:"time"`
}

// ticks feeds every message on the connection into the engine until the
// client goes away.
func (s *Server) ticks(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("tick feed upgrade", slog.Any("error", err))
		return
	}
	defer conn.Close()

	s.log.Info("tick feed connected", slog.String("remote", r.RemoteAddr))
	for {
		var msg TickMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn("tick feed closed", slog.Any("error", err))
			}
			return
		}
		if msg.Time == 0 {
			msg.Time = time.Now().UnixMilli()
		}
		s.engine.OnPriceTick(msg.Symbol, msg.Bid, msg.Ask, msg.Time)
	}
}

// metrics streams MetricsUpdated and AccountStatusChanged events, filtered
// by the optional account query parameter.
func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("metrics upgrade", slog.Any("error", err))
		return
	}
	defer conn.Close()

	sub := s.bus.Stream(r.URL.Query().Get("account"), s.buffer)
	defer sub.Close()

	// The client never sends; reading only detects the close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			if n := sub.Dropped(); n > 0 {
				s.log.Info("metrics client dropped events", slog.Uint64("dropped", n))
			}
			return
		case env, ok := <-sub.C:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(env); err != nil {
				s.log.Debug("metrics write", slog.Any("error", err))
				return
			}
		}
	}
}
