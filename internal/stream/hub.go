// Package stream fans processed security events out to dashboard clients
// over WebSocket.
package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"path"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/promptcraft/promptcraft-hybrid/internal/observability"
	"github.com/promptcraft/promptcraft-hybrid/models"
	"go.uber.org/zap"
)

const broadcastBuffer = 256

// Message is the frame sent to stream clients
type Message struct {
	Type  string                `json:"type"`
	Event *models.SecurityEvent `json:"event"`
	Sent  time.Time             `json:"sent"`
}

// Hub maintains connected stream clients and broadcasts events to them
type Hub struct {
	clients    map[*client]struct{}
	register   chan *client
	unregister chan *client
	broadcast  chan *models.SecurityEvent
	done       chan struct{}
	count      atomic.Int64
	dropped    atomic.Int64

	upgrader websocket.Upgrader
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewHub creates a hub. Upgrades are accepted from allowedOrigins, which may
// contain shell-style patterns such as "http://localhost:*". An empty list or
// "*" accepts any origin.
func NewHub(allowedOrigins []string, metrics *observability.Metrics, logger *zap.Logger) *Hub {
	h := &Hub{
		clients:    make(map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan *models.SecurityEvent, broadcastBuffer),
		done:       make(chan struct{}),
		metrics:    metrics,
		logger:     logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, pattern := range allowed {
			if pattern == "*" || pattern == origin {
				return true
			}
			if ok, _ := path.Match(pattern, origin); ok {
				return true
			}
		}
		return false
	}
}

// Run serves registrations and broadcasts until ctx is done, then closes
// every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.remove(c)
			}
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.count.Add(1)
			h.metrics.AddStreamClients(1)
			h.logger.Debug("stream client connected", zap.String("client_id", c.id))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.remove(c)
				h.logger.Debug("stream client disconnected", zap.String("client_id", c.id))
			}

		case event := <-h.broadcast:
			frame, err := json.Marshal(Message{Type: "security_event", Event: event, Sent: time.Now().UTC()})
			if err != nil {
				h.logger.Error("failed to encode stream frame", zap.Error(err))
				continue
			}
			for c := range h.clients {
				if !event.Severity.AtLeast(c.minSeverity) {
					continue
				}
				select {
				case c.send <- frame:
				default:
					h.logger.Warn("stream client too slow, disconnecting", zap.String("client_id", c.id))
					h.remove(c)
				}
			}
		}
	}
}

func (h *Hub) remove(c *client) {
	delete(h.clients, c)
	close(c.send)
	h.count.Add(-1)
	h.metrics.AddStreamClients(-1)
}

// Broadcast queues an event for every client. It never blocks; events are
// dropped while the hub is saturated or stopped.
func (h *Hub) Broadcast(event *models.SecurityEvent) {
	select {
	case <-h.done:
		return
	default:
	}
	select {
	case h.broadcast <- event:
	default:
		h.dropped.Add(1)
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// ServeHTTP upgrades the request and registers a client. The optional
// min_severity query parameter filters the events the client receives.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	minSeverity := models.SeverityInfo
	if v := r.URL.Query().Get("min_severity"); v != "" {
		s, err := models.ParseSeverity(v)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		minSeverity = s
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		h.logger.Warn("stream upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		id:          uuid.New().String(),
		conn:        conn,
		send:        make(chan []byte, broadcastBuffer),
		minSeverity: minSeverity,
		hub:         h,
	}

	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}
