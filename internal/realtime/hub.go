// Package realtime fans accepted store changes out to websocket clients.
package realtime

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/micro-ha/hue-monitor/internal/model"
	"github.com/micro-ha/hue-monitor/internal/state"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 4096
	defaultSendBuffer = 256
)

// Hub is a state.Observer. Every client gets a snapshot followed by each
// later change exactly once, in commit order.
type Hub struct {
	store      *state.Store
	logger     *slog.Logger
	upgrader   websocket.Upgrader
	sendBuffer int

	mu      sync.Mutex
	clients map[*Client]struct{}
}

// Client is one connected dashboard.
type Client struct {
	id   string
	send chan []byte
	once sync.Once
}

func (c *Client) ID() string { return c.id }

func (c *Client) close() {
	c.once.Do(func() { close(c.send) })
}

func NewHub(store *state.Store, logger *slog.Logger) *Hub {
	return &Hub{
		store:      store,
		logger:     logger,
		sendBuffer: defaultSendBuffer,
		clients:    map[*Client]struct{}{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The dashboard may sit behind a reverse proxy that rewrites the host.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Clients reports how many clients are connected.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Observe queues an update for every client. A client whose queue is full
// is disconnected instead of delaying the others.
func (h *Hub) Observe(change state.Change) {
	payload, err := encodeUpdate(change)
	if err != nil {
		h.logger.Error("encode update failed", "key", change.Key.String(), "err", err)
		return
	}
	h.broadcast(payload)
}

// BroadcastRules pushes the current alert rules to every client.
func (h *Hub) BroadcastRules(rules []model.AlertRule) {
	payload, err := encodeAlerts(rules)
	if err != nil {
		h.logger.Error("encode alert rules failed", "err", err)
		return
	}
	h.broadcast(payload)
}

func (h *Hub) broadcast(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- payload:
		default:
			h.logger.Warn("websocket client too slow; disconnecting", "client_id", client.id)
			delete(h.clients, client)
			client.close()
		}
	}
}

// attach registers a client whose queue starts with the current snapshot.
// Holding the store's commit section makes the hand-off gap free.
func (h *Hub) attach() (*Client, error) {
	client := &Client{id: uuid.NewString(), send: make(chan []byte, h.sendBuffer)}
	var encodeErr error
	h.store.WithSnapshot(func(snap state.Snapshot) {
		payload, err := encodeSnapshot(snap)
		if err != nil {
			encodeErr = err
			return
		}
		client.send <- payload
		h.mu.Lock()
		h.clients[client] = struct{}{}
		h.mu.Unlock()
	})
	if encodeErr != nil {
		return nil, encodeErr
	}
	return client, nil
}

func (h *Hub) detach(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		client.close()
	}
	h.mu.Unlock()
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		delete(h.clients, client)
		client.close()
	}
}

// ServeWS upgrades the request and runs the client until it disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	client, err := h.attach()
	if err != nil {
		h.logger.Error("websocket snapshot failed", "err", err)
		_ = conn.Close()
		return
	}
	h.logger.Info("websocket client connected", "client_id", client.id, "remote", r.RemoteAddr)

	go h.writePump(conn, client)
	h.readPump(conn, client)
	h.logger.Info("websocket client disconnected", "client_id", client.id)
}

// readPump discards inbound frames; it exists to process control frames and
// to notice when the peer goes away.
func (h *Hub) readPump(conn *websocket.Conn, client *Client) {
	defer func() {
		h.detach(client)
		_ = conn.Close()
	}()
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read failed", "client_id", client.id, "err", err)
			}
			return
		}
	}
}

// writePump sends one frame per message so clients can parse each as JSON.
func (h *Hub) writePump(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case payload, ok := <-client.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.logger.Debug("websocket write failed", "client_id", client.id, "err", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
