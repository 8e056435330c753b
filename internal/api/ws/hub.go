// Package ws streams operation progress events (uploads, moves, sorts,
// scans) to connected front-ends over WebSocket.
package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/homedrive/backend/internal/infrastructure/logging"
)

// Event is one progress notification.
type Event struct {
	Kind string                 `json:"kind"`
	Path string                 `json:"path,omitempty"`
	Data map[string]interface{} `json:"data,omitempty"`
	At   time.Time              `json:"at"`
}

// Hub fans events out to connected clients. Slow clients are dropped rather
// than allowed to stall the publisher.
type Hub struct {
	log      *logging.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]chan Event
}

// NewHub creates an event hub.
func NewHub(log *logging.Logger) *Hub {
	return &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]chan Event),
	}
}

// Notify implements engine.Notifier.
func (h *Hub) Notify(kind, path string, data map[string]interface{}) {
	event := Event{Kind: kind, Path: path, Data: data, At: time.Now().UTC()}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.clients {
		select {
		case ch <- event:
		default:
			// Backed-up client; disconnect it.
			delete(h.clients, conn)
			close(ch)
			conn.Close()
		}
	}
}

// HandleConnection upgrades the request and streams events until the client
// disconnects.
func (h *Hub) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	ch := make(chan Event, 64)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	h.log.Debug("event stream connected", zap.String("remote", conn.RemoteAddr().String()))

	go h.drainReads(conn)

	for event := range ch {
		if err := conn.WriteJSON(event); err != nil {
			break
		}
	}
	h.remove(conn)
}

// drainReads consumes control frames and detects client disconnects.
func (h *Hub) drainReads(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.remove(conn)
			return
		}
	}
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	ch, ok := h.clients[conn]
	if ok {
		delete(h.clients, conn)
		close(ch)
	}
	h.mu.Unlock()
	conn.Close()
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
