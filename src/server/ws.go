package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	// The push channel is read-only progress for a collaborator already authorized at the HTTP
	// layer, per spec.md's Non-goals on auth/CORS - it isn't meant to be reachable cross-origin
	// from an arbitrary page, but nothing here is a substitute for an access-control layer.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const pingInterval = 30 * time.Second

type wsPing struct {
	Type string `json:"type"`
}

// handleWebsocket implements /ws: every Bus message is fanned out to the connection as JSON;
// an inbound {"type":"ping"} is answered with notify.Pong. The connection closes when either
// side disconnects or a write fails.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warning("websocket upgrade failed: %s", err)
		return
	}
	defer conn.Close()

	obs := s.Bus.Subscribe()
	defer s.Bus.Unsubscribe(obs)

	done := make(chan struct{})
	pongs := make(chan struct{}, 1)
	go s.readPings(conn, done, pongs)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	// conn.WriteJSON/WriteControl are only called from this goroutine - gorilla/websocket
	// permits at most one concurrent writer per connection, so readPings below signals a pong
	// over the pongs channel instead of writing to conn itself.
	for {
		select {
		case msg, ok := <-obs.Messages():
			if !ok {
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-pongs:
			if err := conn.WriteJSON(struct {
				Type string `json:"type"`
			}{"pong"}); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// readPings drains inbound frames (which also lets gorilla/websocket process control frames), and signals
// pongs on an application-level {"type":"ping"} for handleWebsocket's loop to write - it never
// writes to conn itself, since that goroutine is the connection's only writer (spec.md §6).
func (s *Server) readPings(conn *websocket.Conn, done chan<- struct{}, pongs chan<- struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg wsPing
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			select {
			case pongs <- struct{}{}:
			default:
			}
		}
	}
}
