// Package realtime streams session and ping events to WebSocket subscribers.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"echoloc-core/pkg/metrics"
	"echoloc-core/pkg/session"
	"echoloc-core/pkg/sonar"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Event types carried on the stream.
const (
	EventSessionStarted = "session_started"
	EventPing           = "ping"
	EventSessionStopped = "session_stopped"
)

// Event is one message on the stream. Payload holds the type-specific body:
// a session.StartInfo, a sonar.PingResult or a session.Summary.
type Event struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// Client is one connected WebSocket subscriber.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// sessionID filters the stream to one session when non-empty.
	sessionID string
}

// Hub fans session lifecycle events out to WebSocket subscribers. It
// implements session.Observer; callbacks only enqueue, delivery happens on
// the hub goroutine so the session manager never blocks on a slow client.
type Hub struct {
	logger     *logrus.Logger
	clients    map[*Client]bool
	broadcast  chan *Event
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
}

// Upgrader configures the WebSocket handshake.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewHub creates an event hub.
func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		logger:     logger,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *Event, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run drives the hub until the context is canceled.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("Starting WebSocket event hub")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Shutting down WebSocket event hub")
			h.mutex.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			h.mutex.Unlock()

			metrics.StreamSubscribersInc()
			h.logger.WithField("session_filter", client.sessionID).Info("Stream subscriber connected")

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				metrics.StreamSubscribersDec()
				h.logger.Info("Stream subscriber disconnected")
			}
			h.mutex.Unlock()

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.WithError(err).Error("Failed to marshal stream event")
				continue
			}

			h.mutex.Lock()
			for client := range h.clients {
				if client.sessionID != "" && client.sessionID != event.SessionID {
					continue
				}

				select {
				case client.send <- data:
					metrics.RecordStreamEvent()
				default:
					// Slow consumer: drop the client, not the stream.
					close(client.send)
					delete(h.clients, client)
					metrics.StreamSubscribersDec()
				}
			}
			h.mutex.Unlock()
		}
	}
}

// SubscriberCount returns the number of connected subscribers.
func (h *Hub) SubscriberCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// SessionStarted implements session.Observer.
func (h *Hub) SessionStarted(info session.StartInfo) {
	h.enqueue(&Event{
		Type:      EventSessionStarted,
		SessionID: info.SessionID,
		Timestamp: time.Now(),
		Payload:   info,
	})
}

// PingCompleted implements session.Observer.
func (h *Hub) PingCompleted(sessionID string, result *sonar.PingResult) {
	h.enqueue(&Event{
		Type:      EventPing,
		SessionID: sessionID,
		Timestamp: time.Now(),
		Payload:   result,
	})
}

// SessionStopped implements session.Observer.
func (h *Hub) SessionStopped(summary session.Summary) {
	h.enqueue(&Event{
		Type:      EventSessionStopped,
		SessionID: summary.SessionID,
		Timestamp: time.Now(),
		Payload:   summary,
	})
}

// enqueue never blocks the caller: the session manager invokes observers
// synchronously, so a full hub drops the event instead of stalling a ping.
func (h *Hub) enqueue(event *Event) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.WithField("type", event.Type).Warn("Stream backlog full, dropping event")
	}
}

// ServeWs upgrades an HTTP request to a stream subscription. The optional
// session_id query parameter filters events to one session.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade connection to WebSocket")
		return
	}

	client := &Client{
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, 256),
		sessionID: r.URL.Query().Get("session_id"),
	}

	h.register <- client

	go client.writePump()
	go client.readPump()
}

// writePump pumps events from the hub to the WebSocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(60 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames; its job is detecting disconnects so the
// hub can unregister the client.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
