package bridge

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/muurk/greehp/internal/logging"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size accepted from a peer; clients only send control frames
	maxMessageSize = 512
)

type hubClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *hubClient) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

// Hub streams device states to websocket clients. New clients first
// receive the latest state of every device.
type Hub struct {
	upgrader websocket.Upgrader
	initial  func() []State

	mu      sync.RWMutex
	clients map[*hubClient]struct{}
}

// NewHub creates a hub. initial supplies the states sent on connect.
func NewHub(initial func() []State, checkOrigin func(r *http.Request) bool) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		initial: initial,
		clients: make(map[*hubClient]struct{}),
	}
}

// ServeHTTP upgrades the request and streams states until the peer goes away
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("Websocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	c := &hubClient{conn: conn}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	logging.Debug("Websocket client connected", zap.String("remote_addr", r.RemoteAddr))

	defer func() {
		h.remove(c)
		logging.Debug("Websocket client disconnected", zap.String("remote_addr", r.RemoteAddr))
	}()

	if h.initial != nil {
		for _, st := range h.initial() {
			if err := h.send(c, st); err != nil {
				return
			}
		}
	}

	done := make(chan struct{})
	defer close(done)
	go h.ping(c, done)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				logging.Debug("Unexpected websocket close", zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) ping(c *hubClient, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) send(c *hubClient, st State) error {
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, b)
}

// Broadcast sends st to every connected client. Clients that fail the
// write are dropped.
func (h *Hub) Broadcast(st State) {
	b, err := json.Marshal(st)
	if err != nil {
		logging.Error("Failed to encode state", zap.String("device", st.Device), zap.Error(err))
		return
	}

	h.mu.RLock()
	clients := make([]*hubClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.write(websocket.TextMessage, b); err != nil {
			logging.Debug("Dropping websocket client", zap.Error(err))
			h.remove(c)
		}
	}
}

func (h *Hub) remove(c *hubClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		_ = c.conn.Close()
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll sends a close frame to every client and drops it
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*hubClient]struct{})
	h.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "bridge shutting down")
	for c := range clients {
		_ = c.write(websocket.CloseMessage, msg)
		_ = c.conn.Close()
	}
}
