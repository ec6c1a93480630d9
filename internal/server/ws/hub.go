// Package ws streams trade outcomes to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/pairbot/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 512
	sendBufferSize = 64

	// maxReplay caps the stream entries replayed to a reconnecting client.
	maxReplay = 100
)

// Message types sent to clients.
const (
	TypeHello   = "hello"
	TypeOutcome = "trade_outcome"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Browser clients are gated by the auth middleware, not by origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Envelope is the JSON frame clients receive. StreamID is set on replayed
// outcomes so a client can resume with ?after=<id>.
type Envelope struct {
	Type     string          `json:"type"`
	StreamID string          `json:"stream_id,omitempty"`
	Payload  json.RawMessage `json:"payload"`
}

// client is one WebSocket connection. An empty user receives every
// outcome.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	user string
	send chan []byte
}

type outcomeMsg struct {
	user string
	data []byte
}

// Hub fans outcomes from the signal bus out to connected clients.
type Hub struct {
	bus        domain.SignalBus
	clients    map[*client]struct{}
	register   chan *client
	unregister chan *client
	broadcast  chan outcomeMsg
	done       chan struct{}
	mu         sync.RWMutex
	startedAt  time.Time
	logger     *slog.Logger
}

// NewHub creates a Hub reading from bus.
func NewHub(bus domain.SignalBus, logger *slog.Logger) *Hub {
	return &Hub{
		bus:        bus,
		clients:    make(map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan outcomeMsg, 256),
		done:       make(chan struct{}),
		startedAt:  time.Now().UTC(),
		logger:     logger.With(slog.String("component", "ws_hub")),
	}
}

// Run subscribes to domain.ChannelOutcomes and serves clients until ctx is
// cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	msgs, err := h.bus.Subscribe(ctx, domain.ChannelOutcomes)
	if err != nil {
		return err
	}
	go h.forward(ctx, msgs)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()
			h.logger.Info("ws: client connected",
				slog.String("user", c.user),
				slog.Int("total_clients", h.ClientCount()),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected",
				slog.Int("total_clients", h.ClientCount()),
			)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if c.user != "" && c.user != msg.user {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					h.logger.Warn("ws: dropping message for slow client", slog.String("user", c.user))
				}
			}
			h.mu.RUnlock()
		}
	}
}

// forward wraps bus payloads in envelopes and hands them to Run.
func (h *Hub) forward(ctx context.Context, msgs <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-msgs:
			if !ok {
				h.logger.Warn("ws: outcome subscription closed")
				return
			}
			user, data, err := wrapOutcome(payload, "")
			if err != nil {
				h.logger.Warn("ws: skipping malformed outcome", slog.String("error", err.Error()))
				continue
			}
			select {
			case h.broadcast <- outcomeMsg{user: user, data: data}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func wrapOutcome(payload []byte, streamID string) (user string, data []byte, err error) {
	var head struct {
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return "", nil, err
	}
	data, err = json.Marshal(Envelope{Type: TypeOutcome, StreamID: streamID, Payload: payload})
	return head.UserID, data, err
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the request and registers the client. ?user= limits the
// stream to one user's outcomes; ?after=<stream id> first replays outcomes
// recorded after that id.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		user: q.Get("user"),
		send: make(chan []byte, sendBufferSize),
	}

	c.queue(h.hello())
	if after := q.Get("after"); after != "" {
		h.replay(r.Context(), c, after)
	}

	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (h *Hub) hello() []byte {
	payload, _ := json.Marshal(map[string]any{
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	})
	data, _ := json.Marshal(Envelope{Type: TypeHello, Payload: payload})
	return data
}

// replay queues stream entries after lastID that belong to c.
func (h *Hub) replay(ctx context.Context, c *client, lastID string) {
	entries, err := h.bus.StreamRead(ctx, domain.StreamOutcomes, lastID, maxReplay)
	if err != nil {
		h.logger.Warn("ws: replay failed",
			slog.String("after", lastID),
			slog.String("error", err.Error()),
		)
		return
	}
	for _, e := range entries {
		user, data, err := wrapOutcome(e.Payload, e.ID)
		if err != nil || (c.user != "" && c.user != user) {
			continue
		}
		c.queue(data)
	}
}

// queue adds data to the client's buffer, dropping it when full.
func (c *client) queue(data []byte) {
	select {
	case c.send <- data:
	default:
	}
}

// readPump discards client frames and detects disconnects.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error", slog.String("error", err.Error()))
			}
			return
		}
	}
}

// writePump sends queued messages as text frames and pings for keepalive.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
