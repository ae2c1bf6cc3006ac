package admin

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// event is the wire shape pushed to every connected client, mirroring the
// teacher's WebSocketMessage but trimmed to what a read-only diagnostics
// feed needs.
type event struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Hub fans out broadcast events to every connected websocket client. Unlike
// the teacher's WebSocketManager it carries no per-connection filters or
// inbound message handling: the feed is one-directional and read-only.
type Hub struct {
	logger   *logrus.Entry
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*websocket.Conn]chan event

	broadcastCh chan event
}

func newHub(logger *logrus.Entry) *Hub {
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients:     make(map[*websocket.Conn]chan event),
		broadcastCh: make(chan event, 64),
	}
}

func (h *Hub) run(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-h.broadcastCh:
				h.mu.RLock()
				for _, ch := range h.clients {
					select {
					case ch <- ev:
					default:
					}
				}
				h.mu.RUnlock()
			}
		}
	}()
}

func (h *Hub) broadcast(eventType string, data interface{}) {
	select {
	case h.broadcastCh <- event{Type: eventType, Timestamp: time.Now().UTC(), Data: data}:
	default:
		h.logger.Warn("admin: broadcast channel full, dropping event")
	}
}

func (h *Hub) connectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("admin: websocket upgrade failed")
		return
	}

	ch := make(chan event, 32)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
	}()

	go h.discardInbound(conn)

	for ev := range ch {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}
}

// discardInbound drains and ignores any client-sent frames, and exits (which
// closes conn via handleWebSocket's defer) once the client disconnects. The
// admin feed never acts on inbound messages.
func (h *Hub) discardInbound(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			conn.Close()
			return
		}
	}
}
