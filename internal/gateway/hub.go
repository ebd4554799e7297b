// Package gateway is the view-facing surface of the agent: a small echo
// API exposing the reconciled operational state, the alert feed, and the
// admission/discharge/dispatch operations, plus a WebSocket hub that pushes
// state and alert updates to connected dashboard views.
package gateway

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Frame is the envelope pushed to view clients.
type Frame struct {
	Topic     string    `json:"topic"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client represents a single connected dashboard view.
type Client struct {
	ID     string
	Topics []string
	Send   chan []byte
	conn   Conn
}

// Hub fans reconciled-state and alert updates out to view connections.
// It satisfies ops.Publisher, so the reconciler and the alert manager
// publish straight into it.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // topic -> set of clients
	all     map[*Client]struct{}
	logger  zerolog.Logger
}

// NewHub creates a hub ready to accept view connections.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger.With().Str("component", "hub").Logger(),
	}
}

// Register adds a client and subscribes it to its topics.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}
	for _, topic := range client.Topics {
		if h.clients[topic] == nil {
			h.clients[topic] = make(map[*Client]struct{})
		}
		h.clients[topic][client] = struct{}{}
	}
}

// Unregister removes a client from all subscriptions and closes its Send
// channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for _, topic := range client.Topics {
		if subscribers, ok := h.clients[topic]; ok {
			delete(subscribers, client)
			if len(subscribers) == 0 {
				delete(h.clients, topic)
			}
		}
	}
	delete(h.all, client)
	close(client.Send)
}

// Publish implements ops.Publisher: the payload is wrapped in a Frame and
// sent to every client subscribed to the topic. Slow clients are skipped
// rather than blocking the publisher.
func (h *Hub) Publish(topic string, payload any) {
	data, err := json.Marshal(Frame{Topic: topic, Timestamp: time.Now(), Payload: payload})
	if err != nil {
		h.logger.Error().Err(err).Str("topic", topic).Msg("failed to marshal frame")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[topic] {
		select {
		case client.Send <- data:
		default:
			// Client buffer full; skip to avoid blocking.
		}
	}
}

// ClientCount returns the total number of connected views.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// TopicCount returns the number of views subscribed to a topic.
func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins; tighten in production.
	},
}

// HandleConnect upgrades an HTTP connection to WebSocket and starts the
// read/write pumps. Views pick topics with ?topics=state,alerts; the
// default is both.
func (h *Hub) HandleConnect(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	topics := []string{"state", "alerts"}
	if raw := c.QueryParam("topics"); raw != "" {
		topics = strings.Split(raw, ",")
	}

	client := &Client{
		ID:     uuid.New().String(),
		Topics: topics,
		Send:   make(chan []byte, 256),
		conn:   &gorillaConnAdapter{ws},
	}
	h.Register(client)

	go h.writePump(client)
	go h.readPump(client)
	return nil
}

// readPump drains inbound messages; views send nothing the hub acts on, but
// the read loop is what detects the connection closing.
func (h *Hub) readPump(client *Client) {
	defer func() {
		h.Unregister(client)
		client.conn.Close()
	}()
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(client *Client) {
	defer client.conn.Close()
	for message := range client.Send {
		if err := client.conn.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
			return
		}
	}
}

// gorillaConnAdapter wraps a gorilla/websocket.Conn to satisfy Conn.
type gorillaConnAdapter struct {
	conn *gorillawebsocket.Conn
}

func (a *gorillaConnAdapter) ReadMessage() (int, []byte, error) {
	return a.conn.ReadMessage()
}

func (a *gorillaConnAdapter) WriteMessage(messageType int, data []byte) error {
	return a.conn.WriteMessage(messageType, data)
}

func (a *gorillaConnAdapter) Close() error {
	return a.conn.Close()
}
