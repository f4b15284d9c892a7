// Package ws streams provisioning events to WebSocket clients.
package ws

import (
	"context"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/HerbHall/ztpserver/internal/auth"
	"github.com/HerbHall/ztpserver/internal/event"
)

const defaultBufferSize = 256

// TokenValidator checks bearer tokens presented by stream clients.
type TokenValidator interface {
	Validate(token, scope string) (*auth.Claims, error)
}

// Subscriber is the part of the event bus the handler needs.
type Subscriber interface {
	Subscribe(topic string, handler event.Handler) (unsubscribe func())
}

// Handler serves the event stream. With a nil validator the stream is open.
type Handler struct {
	hub        *Hub
	tokens     TokenValidator
	bufferSize int
	logger     *zap.Logger
}

// NewHandler creates a stream handler. bufferSize <= 0 uses the default.
func NewHandler(tokens TokenValidator, bufferSize int, logger *zap.Logger) *Handler {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Handler{
		hub:        NewHub(logger),
		tokens:     tokens,
		bufferSize: bufferSize,
		logger:     logger,
	}
}

// Subscribe forwards every provisioning topic to connected clients.
func (h *Handler) Subscribe(bus Subscriber) (unsubscribe func()) {
	unsubs := make([]func(), 0, len(event.Topics))
	for _, topic := range event.Topics {
		unsubs = append(unsubs, bus.Subscribe(topic, h.handleEvent))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func (h *Handler) handleEvent(_ context.Context, e event.Event) {
	ne, ok := e.Payload.(*event.NodeEvent)
	if !ok {
		return
	}
	h.hub.Broadcast(Message{Topic: e.Topic, Timestamp: e.Timestamp, Node: ne})
}

// ServeHTTP upgrades the connection and streams events. Clients may filter
// with repeated ?topic= parameters and a single ?node= parameter.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	subject := "anonymous"
	if h.tokens != nil {
		claims, err := h.tokens.Validate(bearerToken(r), auth.ScopeEvents)
		if err != nil {
			http.Error(w, "invalid or missing token", http.StatusUnauthorized)
			return
		}
		subject = claims.Subject
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Token holders may connect from any origin.
		InsecureSkipVerify: h.tokens != nil,
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}

	q := r.URL.Query()
	client := &Client{
		conn:    conn,
		subject: subject,
		nodeID:  q.Get("node"),
		send:    make(chan Message, h.bufferSize),
		logger:  h.logger,
	}
	if topics := q["topic"]; len(topics) > 0 {
		client.topics = make(map[string]bool, len(topics))
		for _, t := range topics {
			client.topics[t] = true
		}
	}

	h.hub.Register(client)

	ctx, cancel := context.WithCancel(r.Context())
	done := make(chan struct{})
	go func() {
		client.writePump(ctx)
		cancel()
		close(done)
	}()

	client.readPump(ctx)

	cancel()
	h.hub.Unregister(client)
	conn.Close(websocket.StatusNormalClosure, "")
	<-done
}

// ClientCount returns the number of connected stream clients.
func (h *Handler) ClientCount() int {
	return h.hub.ClientCount()
}

// bearerToken reads the Authorization header, falling back to ?token= for
// browser clients that cannot set headers on WebSocket requests.
func bearerToken(r *http.Request) string {
	if v := r.Header.Get("Authorization"); strings.HasPrefix(v, "Bearer ") {
		return strings.TrimPrefix(v, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
