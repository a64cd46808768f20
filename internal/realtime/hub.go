// Package realtime pushes live call state to websocket subscribers.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"dialdesk/internal/calls"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Per-client outbound buffer. A client that cannot drain this fast
	// enough is disconnected rather than allowed to stall the hub.
	sendBuffer = 64
)

// Frame is the wire envelope pushed to subscribers. Exactly one of the
// payload fields is set, selected by Type.
type Frame struct {
	Type    string        `json:"type"`
	Call    *calls.Record `json:"call,omitempty"`
	Ongoing *int          `json:"ongoing,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans call updates out to connected websocket clients. All client
// bookkeeping happens on the Run goroutine; Broadcast* methods are safe to
// call from any goroutine.
type Hub struct {
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	clients    map[*client]struct{}
	upgrader   websocket.Upgrader
	log        *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 256),
		clients:    make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

// Run owns the client set until ctx is canceled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Slow consumer, drop it.
					delete(h.clients, c)
					close(c.send)
				}
			}
		}
	}
}

// BroadcastCall pushes a call snapshot to every subscriber.
func (h *Hub) BroadcastCall(rec calls.Record) {
	h.send(Frame{Type: "call", Call: &rec})
}

// BroadcastOngoing pushes the current calls-in-progress count.
func (h *Hub) BroadcastOngoing(n int) {
	h.send(Frame{Type: "ongoing", Ongoing: &n})
}

func (h *Hub) send(f Frame) {
	msg, err := json.Marshal(f)
	if err != nil {
		h.log.Error("marshal realtime frame", "err", err)
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		h.log.Warn("realtime broadcast buffer full, frame dropped", "type", f.Type)
	}
}

// Serve upgrades the request to a websocket and subscribes it to the hub.
func (h *Hub) Serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "err", err)
		return
	}
	cl := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.register <- cl

	go cl.writePump()
	go cl.readPump(h)
}

// readPump discards client messages; the socket is push-only. It exists to
// process pong frames and detect disconnects.
func (c *client) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
