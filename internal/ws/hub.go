package ws

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var droppedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "ztp_event_stream_dropped_total",
		Help: "Event stream messages dropped because a client fell behind.",
	},
)

func init() {
	prometheus.MustRegister(droppedTotal)
}

const writeTimeout = 5 * time.Second

// Client is one connected stream consumer. A nil topics set or an empty
// nodeID means no filtering on that field.
type Client struct {
	conn    *websocket.Conn
	subject string
	topics  map[string]bool
	nodeID  string
	send    chan Message
	logger  *zap.Logger
}

func (c *Client) wants(msg Message) bool {
	if c.topics != nil && !c.topics[msg.Topic] {
		return false
	}
	if c.nodeID != "" && (msg.Node == nil || msg.Node.NodeID != c.nodeID) {
		return false
	}
	return true
}

// Hub fans messages out to registered clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("event stream client connected", zap.String("subject", c.subject))
}

// Unregister removes a client and closes its send channel. Safe to call twice.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	h.logger.Debug("event stream client disconnected", zap.String("subject", c.subject))
}

// Broadcast queues msg for every client whose filters accept it. Slow
// clients lose the message rather than block the publisher.
func (h *Hub) Broadcast(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if !c.wants(msg) {
			continue
		}
		select {
		case c.send <- msg:
		default:
			droppedTotal.Inc()
			h.logger.Warn("client send buffer full, dropping message",
				zap.String("subject", c.subject),
				zap.String("topic", msg.Topic),
			)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *Client) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(writeCtx, c.conn, msg)
			cancel()
			if err != nil {
				c.logger.Debug("event stream write error", zap.Error(err))
				return
			}
		}
	}
}

// readPump drains client frames until the connection closes.
func (c *Client) readPump(ctx context.Context) {
	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			return
		}
	}
}
