package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/colinzhu/jmeter-web-runner-sub000/execution"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsSendBuffer   = 64
)

// newUpgrader builds the WebSocket upgrader. An empty allowlist keeps
// gorilla's default same-origin check; otherwise only listed origins
// may connect.
func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	u := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	if len(allowedOrigins) > 0 {
		allowed := make(map[string]struct{}, len(allowedOrigins))
		for _, origin := range allowedOrigins {
			allowed[origin] = struct{}{}
		}
		u.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			_, ok := allowed[origin]
			return ok
		}
	}
	return u
}

// executionUpdate is the frame sent to WebSocket clients whenever an
// execution changes state.
type executionUpdate struct {
	Type      string               `json:"type"`
	Execution *execution.Execution `json:"execution"`
}

// wsClient is one connected WebSocket consumer. Writes go through the
// send channel so only the writer goroutine touches the connection.
type wsClient struct {
	conn *websocket.Conn
	send chan *executionUpdate
}

// handleWebSocket upgrades the connection and streams execution updates
// until the client disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("WebSocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan *executionUpdate, wsSendBuffer),
	}

	s.mu.Lock()
	s.clients[client] = struct{}{}
	s.mu.Unlock()
	s.log.Debugw("WebSocket client connected", "remote", conn.RemoteAddr())

	go s.writeLoop(client)

	// Read loop exists only to detect disconnects; inbound frames are
	// discarded.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	s.removeClient(client)
}

func (s *Server) writeLoop(c *wsClient) {
	defer c.conn.Close()
	for update := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := c.conn.WriteJSON(update); err != nil {
			s.removeClient(c)
			return
		}
	}
}

func (s *Server) removeClient(c *wsClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
}

// pumpExecutionUpdates subscribes to the scheduler and fans state
// changes out to every connected client. Slow clients are dropped
// rather than allowed to stall the pump.
func (s *Server) pumpExecutionUpdates() {
	ch := s.sched.Subscribe()
	defer s.sched.Unsubscribe(ch)

	for {
		select {
		case <-s.ctx.Done():
			return
		case exec, ok := <-ch:
			if !ok {
				return
			}
			s.broadcast(&executionUpdate{Type: "execution_update", Execution: exec})
		}
	}
}

func (s *Server) broadcast(update *executionUpdate) {
	s.mu.RLock()
	stale := make([]*wsClient, 0)
	for c := range s.clients {
		select {
		case c.send <- update:
		default:
			stale = append(stale, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range stale {
		s.log.Debugw("dropping slow WebSocket client", "remote", c.conn.RemoteAddr())
		s.removeClient(c)
	}
}
