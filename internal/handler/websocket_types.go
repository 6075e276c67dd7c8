// internal/handler/websocket_types.go
package handler

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"comlink-service/internal/model"
)

// Client represents a WebSocket client
type Client struct {
	ID          string          `json:"id"`
	Connection  *websocket.Conn `json:"-"`
	Send        chan []byte     `json:"-"`
	UserAgent   string          `json:"user_agent"`
	RemoteAddr  string          `json:"remote_addr"`
	ConnectedAt time.Time       `json:"connected_at"`

	mu            sync.RWMutex
	subscriptions map[model.EventType]bool
}

// Subscribe restricts the client to the given event type in addition to
// any earlier subscriptions
func (c *Client) Subscribe(t model.EventType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscriptions == nil {
		c.subscriptions = make(map[model.EventType]bool)
	}
	c.subscriptions[t] = true
}

// Unsubscribe removes one event type
func (c *Client) Unsubscribe(t model.EventType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscriptions, t)
}

// Wants reports whether the client receives events of type t. A client
// without subscriptions receives everything.
func (c *Client) Wants(t model.EventType) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscriptions) == 0 || c.subscriptions[t]
}

// Subscriptions returns the subscribed event types
func (c *Client) Subscriptions() []model.EventType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	types := make([]model.EventType, 0, len(c.subscriptions))
	for t := range c.subscriptions {
		types = append(types, t)
	}
	return types
}

// WebSocketMessage represents a WebSocket message
type WebSocketMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// ClientRegistry tracks connected WebSocket clients
type ClientRegistry struct {
	clients map[string]*Client
	mutex   sync.RWMutex
}

// NewClientRegistry creates a new client registry
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[string]*Client),
	}
}

// Register registers a new client
func (r *ClientRegistry) Register(client *Client) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.clients[client.ID] = client
}

// Unregister removes a client and closes its send channel
func (r *ClientRegistry) Unregister(client *Client) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if _, ok := r.clients[client.ID]; ok {
		delete(r.clients, client.ID)
		close(client.Send)
	}
}

// SendTo queues message for one client. It reports false when the client
// is gone or its queue is full.
func (r *ClientRegistry) SendTo(client *Client, message []byte) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	if _, ok := r.clients[client.ID]; !ok {
		return false
	}
	select {
	case client.Send <- message:
		return true
	default:
		return false
	}
}

// Broadcast queues message for every client accepted by want and returns
// the IDs of clients whose queue was full
func (r *ClientRegistry) Broadcast(message []byte, want func(*Client) bool) (dropped []string) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	for _, client := range r.clients {
		if want != nil && !want(client) {
			continue
		}
		select {
		case client.Send <- message:
		default:
			dropped = append(dropped, client.ID)
		}
	}
	return dropped
}

// GetStats returns connection statistics
func (r *ClientRegistry) GetStats() *ConnectionStats {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stats := &ConnectionStats{
		TotalConnections: len(r.clients),
		Clients:          make([]*Client, 0, len(r.clients)),
	}
	for _, client := range r.clients {
		stats.Clients = append(stats.Clients, client)
	}
	return stats
}

// ConnectionStats represents connection statistics
type ConnectionStats struct {
	TotalConnections int       `json:"total_connections"`
	Clients          []*Client `json:"clients"`
}
