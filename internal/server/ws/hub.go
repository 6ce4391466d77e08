// Package ws bridges Redis pub/sub channels to browser WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/infofisync/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS middleware in front of the hub.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Config selects what the hub relays.
type Config struct {
	// Channels are bus channels or glob patterns to relay.
	Channels []string
	// Route maps a message received on a subscription to the channel name
	// clients filter on. Nil keeps the subscription name.
	Route func(subscription string, payload []byte) string
	// ReplayStream, when set, is read on connect and its last ReplayCount
	// entries are sent to the new client.
	ReplayStream string
	ReplayCount  int
	// ReplayChannel is the channel name replayed entries are tagged with.
	ReplayChannel string
}

// Envelope is the frame sent to clients.
type Envelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type outbound struct {
	channel string
	data    []byte
}

// Bus is the slice of the signal bus the hub needs.
type Bus interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamTail(ctx context.Context, stream string, n int) ([]domain.StreamMessage, error)
}

// Hub fans bus messages out to connected clients according to each
// client's subscriptions.
type Hub struct {
	bus    Bus
	cfg    Config
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}

	broadcast  chan outbound
	register   chan *client
	unregister chan *client
	done       chan struct{}
}

// NewHub creates a Hub. Call Run before serving HandleWS.
func NewHub(bus Bus, cfg Config, logger *slog.Logger) *Hub {
	return &Hub{
		bus:        bus,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "ws_hub")),
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
}

// Run subscribes to the configured channels and serves clients until ctx is
// cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	for _, ch := range h.cfg.Channels {
		msgs, err := h.bus.Subscribe(ctx, ch)
		if err != nil {
			h.logger.ErrorContext(ctx, "subscribe failed",
				slog.String("channel", ch),
				slog.String("error", err.Error()),
			)
			continue
		}
		go h.relay(ctx, ch, msgs)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.DebugContext(ctx, "client connected", slog.Int("clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.DebugContext(ctx, "client disconnected", slog.Int("clients", n))

		case msg := <-h.broadcast:
			frame, err := json.Marshal(Envelope{Channel: msg.channel, Data: msg.data})
			if err != nil {
				continue
			}
			h.mu.RLock()
			for c := range h.clients {
				if !c.subscribed(msg.channel) {
					continue
				}
				select {
				case c.send <- frame:
				default:
					h.logger.WarnContext(ctx, "dropping message for slow client", slog.String("channel", msg.channel))
				}
			}
			h.mu.RUnlock()
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) relay(ctx context.Context, subscription string, msgs <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				h.logger.WarnContext(ctx, "subscription closed", slog.String("channel", subscription))
				return
			}
			if !json.Valid(data) {
				continue
			}
			channel := subscription
			if h.cfg.Route != nil {
				channel = h.cfg.Route(subscription, data)
			}
			select {
			case h.broadcast <- outbound{channel: channel, data: data}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// HandleWS upgrades the request and registers the client. A new client is
// subscribed to every relayed channel until it sends a subscribe message.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(r.Context(), "upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBufferSize), subs: make(map[string]bool)}
	for _, ch := range h.cfg.Channels {
		c.subs[ch] = true
	}

	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}
	h.replay(r.Context(), c)

	go c.writePump()
	go c.readPump()
}

// replay queues the tail of the replay stream for a new client.
func (h *Hub) replay(ctx context.Context, c *client) {
	if h.cfg.ReplayStream == "" || h.cfg.ReplayCount <= 0 {
		return
	}
	msgs, err := h.bus.StreamTail(ctx, h.cfg.ReplayStream, h.cfg.ReplayCount)
	if err != nil {
		h.logger.WarnContext(ctx, "replay read failed", slog.String("error", err.Error()))
		return
	}
	for _, m := range msgs {
		frame, err := json.Marshal(Envelope{Channel: h.cfg.ReplayChannel, Data: m.Payload})
		if err != nil {
			continue
		}
		select {
		case c.send <- frame:
		default:
			return
		}
	}
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu   sync.RWMutex
	subs map[string]bool
}

// subscriptionMsg is {"action":"subscribe","channels":["odds:1:*"]}.
type subscriptionMsg struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

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
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var msg subscriptionMsg
		if json.Unmarshal(raw, &msg) == nil {
			c.apply(msg)
		}
	}
}

func (c *client) apply(msg subscriptionMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		// The first explicit subscribe replaces the default "everything".
		if c.defaults() {
			clear(c.subs)
		}
		for _, ch := range msg.Channels {
			c.subs[ch] = true
		}
	case "unsubscribe":
		for _, ch := range msg.Channels {
			delete(c.subs, ch)
		}
	}
}

// defaults reports whether subs still equals the hub's channel list.
func (c *client) defaults() bool {
	if len(c.subs) != len(c.hub.cfg.Channels) {
		return false
	}
	for _, ch := range c.hub.cfg.Channels {
		if !c.subs[ch] {
			return false
		}
	}
	return true
}

func (c *client) subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for sub := range c.subs {
		if matches(sub, channel) {
			return true
		}
	}
	return false
}

// matches supports exact names and a trailing "*" wildcard.
func matches(sub, channel string) bool {
	if prefix, ok := strings.CutSuffix(sub, "*"); ok {
		return strings.HasPrefix(channel, prefix)
	}
	return sub == channel
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
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
