package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"covidseir/internal/infrastructure"
)

// Message types pushed to clients
const (
	TypeConnection  = "connection"
	TypeJobQueued   = "job:queued"
	TypeJobProgress = "job:progress"
	TypeJobComplete = "job:complete"
	TypeJobFailed   = "job:failed"
	TypeJobCancel   = "job:cancelled"
)

const broadcastBuffer = 256

// Message is the envelope of every frame sent to a client.
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
	TraceID   string      `json:"trace_id,omitempty"`
}

// Hub maintains the set of active clients and broadcasts messages to the clients
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Outbound messages for every client
	broadcast chan []byte

	// Register requests from the clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	mu     sync.RWMutex
	logger *slog.Logger

	metrics *infrastructure.SimulationMetrics

	totalConnections int64
	messagesSent     int64
	dropped          int64

	quit    chan struct{}
	running bool
}

// NewHub creates a new Hub. metrics may be nil.
func NewHub(logger *slog.Logger, metrics *infrastructure.SimulationMetrics) *Hub {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &Hub{
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		logger:     logger.With(slog.String("component", "websocket.hub")),
		metrics:    metrics,
		quit:       make(chan struct{}),
	}
}

// Start starts the hub loop. It is a no-op when already running.
func (h *Hub) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	go h.run()
}

func (h *Hub) run() {
	for {
		select {
		case <-h.quit:
			h.logger.Info("hub shutting down")
			return

		case client := <-h.register:
			data, err := encode(TypeConnection, map[string]interface{}{
				"status":    "connected",
				"client_id": client.id,
			}, client.traceID)

			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.totalConnections++
			delivered := true
			if err == nil {
				select {
				case client.send <- data:
				default:
					delivered = false
				}
			}
			h.mu.Unlock()

			ctx := client.context()
			h.logger.InfoContext(ctx, "client registered",
				slog.Int("total_clients", count),
				slog.String("client_id", client.id),
				slog.String("remote_addr", client.remoteAddr))
			h.metrics.RecordClientChange(ctx, 1)
			if !delivered {
				h.logger.WarnContext(ctx, "client buffer full, connection message dropped",
					slog.String("client_id", client.id))
			}

		case client := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[client]
			if ok {
				h.drop(client)
			}
			h.mu.Unlock()
			if ok {
				h.logRemoved(client, "client unregistered")
			}

		case message := <-h.broadcast:
			// Sends never block, so holding the lock keeps Stop from closing
			// a channel mid-send.
			var slow []*Client
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
					h.messagesSent++
				default:
					h.drop(client)
					slow = append(slow, client)
				}
			}
			h.mu.Unlock()

			for _, client := range slow {
				h.logRemoved(client, "client send buffer full, disconnecting")
			}
		}
	}
}

// drop must be called with h.mu held.
func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.send)
}

func (h *Hub) logRemoved(client *Client, reason string) {
	ctx := client.context()
	h.logger.InfoContext(ctx, reason,
		slog.Int("total_clients", h.ClientCount()),
		slog.String("client_id", client.id),
		slog.Duration("connection_duration", time.Since(client.connectedAt)))
	h.metrics.RecordClientChange(ctx, -1)
}

func encode(msgType string, data interface{}, traceID string) ([]byte, error) {
	return json.Marshal(Message{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		TraceID:   traceID,
	})
}

// Broadcast sends a typed message to every connected client. Messages are
// dropped with a warning when the hub is not keeping up.
func (h *Hub) Broadcast(ctx context.Context, msgType string, data interface{}) {
	payload, err := encode(msgType, data, infrastructure.GetTraceID(ctx))
	if err != nil {
		h.logger.ErrorContext(ctx, "marshal broadcast message",
			slog.String("type", msgType),
			slog.String("error", err.Error()))
		return
	}

	select {
	case h.broadcast <- payload:
	case <-h.quit:
	default:
		h.mu.Lock()
		h.dropped++
		h.mu.Unlock()
		h.logger.WarnContext(ctx, "broadcast queue full, message dropped",
			slog.String("type", msgType))
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.quit:
	}
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.quit:
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats returns connection and delivery counters.
func (h *Hub) Stats() map[string]int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return map[string]int64{
		"active_clients":    int64(len(h.clients)),
		"total_connections": h.totalConnections,
		"messages_sent":     h.messagesSent,
		"messages_dropped":  h.dropped,
	}
}

// Stop stops the hub and closes every client's send channel.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return
	}
	h.running = false
	close(h.quit)

	for client := range h.clients {
		h.drop(client)
	}
}
