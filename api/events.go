/*
events.go - Live push of committed lifecycle events over websocket

PURPOSE:
  Clients that render dashboards subscribe to GET /api/events/ws and receive
  every history entry as it commits, without polling /api/events.

DESIGN:
  One Hub goroutine owns the client set. It reads from the engine's
  asset.ChannelPublisher and fans each entry out to every client's send
  buffer. A client whose buffer is full is disconnected; it can catch up
  through the /api/events cursor using the last seq it saw.

  Each client has a write pump (messages + pings) and a read pump (pongs,
  close detection). Only the write pump writes to the connection.

MESSAGES:
  {"type":"welcome","seq":0}         sent once after registration
  {"type":"event","event":{...}}     one HistoryDTO per committed entry
*/
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/warp/asset-engine/asset"
	"github.com/warp/asset-engine/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 512
	clientBuffer   = 256
)

// StreamMessage is one frame on the event stream.
type StreamMessage struct {
	Type  string      `json:"type"`
	Event *HistoryDTO `json:"event,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans committed history entries out to websocket subscribers.
type Hub struct {
	Logger *slog.Logger

	upgrader   websocket.Upgrader
	register   chan *client
	unregister chan *client
	done       chan struct{}
	clients    map[*client]bool
}

// NewHub builds a hub. allowedOrigins mirrors the CORS configuration; an
// empty list accepts any origin.
func NewHub(allowedOrigins []string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &Hub{
		Logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || len(allowed) == 0 || allowed[origin] || allowed["*"]
			},
		},
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		clients:    make(map[*client]bool),
	}
}

// Run owns the client set until ctx is cancelled or events is closed.
func (h *Hub) Run(ctx context.Context, events <-chan asset.HistoryEntry) {
	defer close(h.done)
	defer func() {
		for c := range h.clients {
			h.drop(c)
		}
	}()

	h.Logger.Info("event hub started")
	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.clients[c] = true
			metrics.Subscribers.Inc()

		case c := <-h.unregister:
			if h.clients[c] {
				h.drop(c)
			}

		case e, ok := <-events:
			if !ok {
				return
			}
			dto := toHistoryDTO(e)
			msg, err := json.Marshal(StreamMessage{Type: "event", Event: &dto})
			if err != nil {
				h.Logger.Error("encode event", "seq", e.Seq, "err", err)
				continue
			}
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					metrics.EventsDropped.Inc()
					h.Logger.Warn("event subscriber too slow, disconnecting", "seq", e.Seq)
					h.drop(c)
				}
			}
		}
	}
}

func (h *Hub) drop(c *client) {
	delete(h.clients, c)
	close(c.send)
	metrics.Subscribers.Dec()
}

// ServeWS upgrades the request and registers the connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.Logger.Debug("websocket upgrade failed", "err", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}
	welcome, _ := json.Marshal(StreamMessage{Type: "welcome"})
	c.send <- welcome

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	case <-r.Context().Done():
		conn.Close()
		return
	}

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) leave(c *client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) writePump(c *client) {
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
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.leave(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.leave(c)
				return
			}
		}
	}
}

// readPump only watches for pongs and disconnects; subscribers never send.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
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
