package admin

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhukovaskychina/keycache/logger"
)

// statsStreamPeriod is how often a connected dashboard receives a fresh
// stats snapshot, independent of the certifier's own broadcast period.
const statsStreamPeriod = time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleStatsStream upgrades the connection and pushes a JSON stats
// snapshot once per statsStreamPeriod until the client disconnects.
// Grounded on the websocket.Upgrader + ticker-driven push loop in the
// retrieval pack's 2lar-b2 repo (interfaces/websocket/server.go),
// simplified since the admin stream has no client->server messages to
// read.
func (s *Server) handleStatsStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnf("cacheadmin: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	if err := conn.WriteJSON(s.snapshot()); err != nil {
		return
	}

	ticker := time.NewTicker(statsStreamPeriod)
	defer ticker.Stop()

	// A read pump is required so gorilla/websocket's control-frame
	// handling (ping/pong, close) runs even though we never expect an
	// application message; its only job is to notice disconnects.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ticker.C:
			if err := conn.WriteJSON(s.snapshot()); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}
