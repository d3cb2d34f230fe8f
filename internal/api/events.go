package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dgnsrekt/voxline/internal/directive"
)

const (
	// eventBuffer is the number of notifications held for a slow client
	// before new ones are dropped.
	eventBuffer = 64

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// handleEvents handles GET /v1/events: it upgrades to a websocket and
// streams every index and done notification as JSON.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	events := make(chan directive.Notification, eventBuffer)
	unsubscribe := s.session.Subscribe(func(n directive.Notification) {
		select {
		case events <- n:
		default:
			s.logger.Warn("event client too slow, dropping notification", "remote_addr", r.RemoteAddr)
		}
	})
	defer unsubscribe()

	s.logger.Info("event client connected", "remote_addr", r.RemoteAddr)

	closed := make(chan struct{})
	go s.readEvents(conn, closed)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			s.logger.Info("event client disconnected", "remote_addr", r.RemoteAddr)
			return
		case n := <-events:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(n); err != nil {
				s.logger.Warn("failed to write event", "remote_addr", r.RemoteAddr, "error", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readEvents discards client messages and closes done when the peer goes away.
func (s *Server) readEvents(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
