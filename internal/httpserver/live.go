package httpserver

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/Lemirq/deerhacks/internal/coach"
)

var liveUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// The feed is read-only coaching data; allow browser demo clients.
		return true
	},
}

// liveConn wraps a subscriber connection with its own write lock, so a slow
// write stalls only this subscriber and never the hub.
type liveConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *liveConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// Hub fans each session's coaching events out to its live WebSocket
// subscribers. The hub lock guards only the subscriber map; writes happen
// outside it under each connection's own lock.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[*liveConn]bool
}

// NewHub constructs an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*liveConn]bool)}
}

func (h *Hub) add(sessionID string, conn *websocket.Conn) *liveConn {
	sub := &liveConn{conn: conn}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[*liveConn]bool)
	}
	h.subs[sessionID][sub] = true
	return sub
}

func (h *Hub) remove(sessionID string, sub *liveConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns := h.subs[sessionID]; conns != nil {
		delete(conns, sub)
		if len(conns) == 0 {
			delete(h.subs, sessionID)
		}
	}
}

// Publish pushes the event to every subscriber of the session. Dead
// connections are dropped on write failure.
func (h *Hub) Publish(sessionID string, ev coach.CoachingEvent) {
	h.mu.Lock()
	targets := make([]*liveConn, 0, len(h.subs[sessionID]))
	for sub := range h.subs[sessionID] {
		targets = append(targets, sub)
	}
	h.mu.Unlock()

	for _, sub := range targets {
		if err := sub.writeJSON(ev); err != nil {
			log.Printf("live feed write failed, dropping subscriber: %v", err)
			_ = sub.conn.Close()
			h.remove(sessionID, sub)
		}
	}
}

// live upgrades the request and streams the session's coaching events until
// the client disconnects.
func (s *Server) live(c echo.Context) error {
	sessionID := c.Param("id")
	conn, err := liveUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("live feed upgrade error: %v", err)
		return nil
	}
	sub := s.hub.add(sessionID, conn)
	defer func() {
		s.hub.remove(sessionID, sub)
		_ = conn.Close()
	}()

	// Read loop only to detect disconnect; subscribers never send data.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return nil
		}
	}
}
