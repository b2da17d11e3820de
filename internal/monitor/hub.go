package monitor

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/sawpanic/protoreg/internal/optim"
)

const (
	writeWait  = 5 * time.Second
	sendBuffer = 64
)

type client struct {
	conn *websocket.Conn
	send chan optim.Progress
}

// Hub fans training progress out to websocket subscribers and remembers the
// latest record. Slow subscribers lose records rather than stall training.
type Hub struct {
	mu       sync.Mutex
	clients  map[*client]struct{}
	latest   *optim.Progress
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHub creates an empty hub
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger,
	}
}

// Report implements optim.Reporter
func (h *Hub) Report(p optim.Progress) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest = &p
	for c := range h.clients {
		select {
		case c.send <- p:
		default:
			h.logger.Debug().Str("remote", c.conn.RemoteAddr().String()).Msg("Dropping progress record for slow subscriber")
		}
	}
}

// Latest returns the most recent record, if any
func (h *Hub) Latest() (optim.Progress, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.latest == nil {
		return optim.Progress{}, false
	}
	return *h.latest, true
}

// Clients returns the number of connected subscribers
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeWS upgrades the request and streams progress records as JSON messages
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan optim.Progress, sendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	if h.latest != nil {
		c.send <- *h.latest
	}
	h.mu.Unlock()

	go h.writePump(c)
	h.readPump(c)
}

// readPump discards client messages and unregisters on disconnect
func (h *Hub) readPump(c *client) {
	defer h.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	defer c.conn.Close()
	for p := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(p); err != nil {
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Close disconnects every subscriber
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
