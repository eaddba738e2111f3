package events

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/vipul43/leadsync/internal/logging"
	"github.com/vipul43/leadsync/internal/metrics"
	"github.com/vipul43/leadsync/internal/service"
)

const (
	MessageTypeSyncCompleted = "sync_completed"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 16
)

type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type client struct {
	conn     *websocket.Conn
	agencyID string
	send     chan []byte
}

// Hub pushes sync results to kanban boards open in the back-office, per agency
type Hub struct {
	upgrader websocket.Upgrader
	mu       sync.RWMutex
	clients  map[*client]struct{}
}

// NewHub accepts websocket origins from allowedOrigins; empty allows any origin
func NewHub(allowedOrigins []string) *Hub {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				return allowed[r.Header.Get("Origin")]
			},
		},
		clients: make(map[*client]struct{}),
	}
}

// ServeWS upgrades the request and subscribes the connection to agencyID's events
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, agencyID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	c := &client{conn: conn, agencyID: agencyID, send: make(chan []byte, sendBuffer)}
	h.register(c)

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.SetWebsocketClients(n)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.SetWebsocketClients(n)
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// NotifySyncCompleted implements service.Notifier
func (h *Hub) NotifySyncCompleted(ctx context.Context, event service.SyncCompletedEvent) error {
	payload, err := json.Marshal(Message{Type: MessageTypeSyncCompleted, Data: event})
	if err != nil {
		return err
	}
	h.broadcast(event.AgencyID, payload)
	return nil
}

func (h *Hub) broadcast(agencyID string, payload []byte) {
	var slow []*client

	h.mu.RLock()
	for c := range h.clients {
		if c.agencyID != agencyID {
			continue
		}
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		logging.Warn().Str("agency_id", c.agencyID).Msg("Dropping slow websocket client")
		h.unregister(c)
	}
}

// readPump discards inbound frames and unregisters the client on disconnect
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.unregister(c)
	}
}
