package status

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"momentum-bot/internal/interfaces"
	"momentum-bot/internal/logger"
	"momentum-bot/internal/metrics"
	"momentum-bot/internal/types"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

// Message is a JSON message sent to WebSocket clients.
type Message struct {
	Type     string            `json:"type"`
	Trade    *types.TradeEvent `json:"trade,omitempty"`
	Holdings []types.Holding   `json:"holdings,omitempty"`
}

// Hub manages WebSocket connections and broadcasts every fill to all
// connected clients.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	mu         sync.RWMutex
	// writeMu serialises writes; gorilla connections allow one writer.
	writeMu sync.Mutex
}

var _ interfaces.TradeSink = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
	}
}

// Run is the hub's event loop; it closes every client when ctx ends.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			metrics.WebSocketClients.Set(0)
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))
			logger.Info(ctx, "ws client connected", "total", n)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))

		case msg := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				if err := h.write(conn, websocket.TextMessage, msg); err != nil {
					conn.Close()
					delete(h.clients, conn)
				}
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))
		}
	}
}

func (h *Hub) write(conn *websocket.Conn, kind int, data []byte) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(kind, data)
}

// Broadcast sends a message to all connected clients.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
		// Drop if buffer full to avoid blocking trade execution.
	}
}

// Publish implements interfaces.TradeSink.
func (h *Hub) Publish(_ context.Context, ev types.TradeEvent) {
	h.Broadcast(Message{Type: "trade", Trade: &ev})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// HandleWS upgrades the request and sends the current holdings first.
func (h *Hub) HandleWS(snapshot func() []types.Holding) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn(r.Context(), "ws upgrade failed", "error", err)
			return
		}

		if snapshot != nil {
			if data, err := json.Marshal(Message{Type: "holdings", Holdings: snapshot()}); err == nil {
				if err := h.write(conn, websocket.TextMessage, data); err != nil {
					conn.Close()
					return
				}
			}
		}

		select {
		case h.register <- conn:
		case <-h.done:
			conn.Close()
			return
		}

		// Read pump: keep connection alive and detect disconnects.
		go func() {
			defer func() {
				select {
				case h.unregister <- conn:
				case <-h.done:
				}
			}()
			conn.SetReadDeadline(time.Now().Add(pongWait))
			conn.SetPongHandler(func(string) error {
				conn.SetReadDeadline(time.Now().Add(pongWait))
				return nil
			})
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					break
				}
			}
		}()

		// Ping ticker to keep connection alive through proxies.
		go func() {
			ticker := time.NewTicker(pingInterval)
			defer ticker.Stop()
			for range ticker.C {
				h.mu.RLock()
				_, ok := h.clients[conn]
				h.mu.RUnlock()
				if !ok {
					return
				}
				if err := h.write(conn, websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}()
	}
}
