// internal/handler/websocket_handler.go
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"comlink-service/internal/model"
	"comlink-service/internal/utils"
)

const (
	pongWait     = 60 * time.Second
	pingPeriod   = 54 * time.Second
	writeWait    = 10 * time.Second
	commandWait  = 10 * time.Second
	clientBuffer = 256
)

// WebSocketHandler streams link events to WebSocket clients and accepts
// link commands from them
type WebSocketHandler struct {
	upgrader websocket.Upgrader
	clients  *ClientRegistry
	link     LinkController
	bus      *EventBus
	logger   *utils.ServiceLogger
}

// NewWebSocketHandler creates a new WebSocket handler. Connections are
// accepted from allowedOrigins; "*" accepts any origin.
func NewWebSocketHandler(link LinkController, bus *EventBus, allowedOrigins []string, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		clients: NewClientRegistry(),
		link:    link,
		bus:     bus,
		logger:  utils.NewServiceLogger(logger, "websocket-handler"),
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// RegisterRoutes registers WebSocket routes
func (h *WebSocketHandler) RegisterRoutes(router gin.IRouter) {
	router.GET("/events", h.HandleEventConnection)
}

// Run forwards bus events to the connected clients until ctx is canceled
func (h *WebSocketHandler) Run(ctx context.Context) {
	events, cancel := h.bus.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			h.BroadcastLinkEvent(event)
		}
	}
}

// HandleEventConnection handles link event WebSocket connections
// @Summary Link event stream
// @Description Upgrade to a WebSocket that streams link events and accepts ping, status, send, subscribe and unsubscribe messages
// @Tags WebSocket
// @Success 101 "Switching protocols"
// @Router /ws/events [get]
func (h *WebSocketHandler) HandleEventConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	client := &Client{
		ID:          uuid.New().String(),
		Connection:  conn,
		Send:        make(chan []byte, clientBuffer),
		UserAgent:   c.Request.UserAgent(),
		RemoteAddr:  c.Request.RemoteAddr,
		ConnectedAt: time.Now(),
	}

	h.clients.Register(client)
	h.logger.Info("Event WebSocket client connected",
		zap.String("client_id", client.ID),
		zap.String("remote_addr", client.RemoteAddr),
	)

	go h.sendStatus(client, "")
	go h.handleClientRead(client)
	go h.handleClientWrite(client)
}

// handleClientRead handles reading messages from WebSocket client
func (h *WebSocketHandler) handleClientRead(client *Client) {
	defer func() {
		h.clients.Unregister(client)
		client.Connection.Close()
		h.logger.Info("Event WebSocket client disconnected", zap.String("client_id", client.ID))
	}()

	client.Connection.SetReadDeadline(time.Now().Add(pongWait))
	client.Connection.SetPongHandler(func(string) error {
		client.Connection.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, messageBytes, err := client.Connection.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("WebSocket read error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
			}
			break
		}

		var message WebSocketMessage
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			h.sendError(client, "", "malformed message")
			continue
		}

		h.handleClientMessage(client, &message)
	}
}

// handleClientWrite handles writing messages to WebSocket client
func (h *WebSocketHandler) handleClientWrite(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Connection.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Connection.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.Connection.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := client.Connection.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Error("WebSocket write error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
				return
			}

		case <-ticker.C:
			client.Connection.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleClientMessage handles incoming client messages
func (h *WebSocketHandler) handleClientMessage(client *Client, message *WebSocketMessage) {
	switch message.Type {
	case "ping":
		h.sendMessage(client, &WebSocketMessage{
			Type:      "pong",
			Timestamp: time.Now(),
			RequestID: message.RequestID,
		})
	case "status":
		go h.sendStatus(client, message.RequestID)
	case "send":
		go h.executeSend(client, message)
	case "subscribe", "unsubscribe":
		h.handleSubscription(client, message)
	default:
		h.sendError(client, message.RequestID, fmt.Sprintf("unknown message type: %s", message.Type))
	}
}

// handleSubscription narrows or widens the event types a client receives
func (h *WebSocketHandler) handleSubscription(client *Client, message *WebSocketMessage) {
	data, _ := message.Data.(map[string]interface{})
	topic, _ := data["topic"].(string)
	eventType := model.EventType(topic)
	if !model.ValidEventType(eventType) {
		h.sendError(client, message.RequestID, fmt.Sprintf("unknown topic: %q", topic))
		return
	}

	if message.Type == "subscribe" {
		client.Subscribe(eventType)
	} else {
		client.Unsubscribe(eventType)
	}

	h.sendMessage(client, &WebSocketMessage{
		Type: message.Type + "d",
		Data: map[string]interface{}{
			"topic":         topic,
			"subscriptions": client.Subscriptions(),
		},
		Timestamp: time.Now(),
		RequestID: message.RequestID,
	})
}

// executeSend writes a client supplied payload to the device
func (h *WebSocketHandler) executeSend(client *Client, message *WebSocketMessage) {
	data, _ := message.Data.(map[string]interface{})
	text, ok := data["data"].(string)
	if !ok {
		h.sendError(client, message.RequestID, "data is required")
		return
	}
	encoding, _ := data["encoding"].(string)

	payload, err := decodePayload(text, encoding)
	if err != nil {
		h.sendError(client, message.RequestID, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandWait)
	defer cancel()

	sent, err := h.link.Send(ctx, payload)
	response := map[string]interface{}{
		"sent":  sent,
		"bytes": len(payload),
	}
	if err != nil {
		response["error"] = err.Error()
	}

	h.sendMessage(client, &WebSocketMessage{
		Type:      "send_result",
		Data:      response,
		Timestamp: time.Now(),
		RequestID: message.RequestID,
	})
}

// sendStatus sends the current link status to a client
func (h *WebSocketHandler) sendStatus(client *Client, requestID string) {
	ctx, cancel := context.WithTimeout(context.Background(), commandWait)
	defer cancel()

	status, err := h.link.Status(ctx)
	if err != nil {
		h.sendError(client, requestID, fmt.Sprintf("failed to get link status: %v", err))
		return
	}

	h.sendMessage(client, &WebSocketMessage{
		Type:      "status",
		Data:      status,
		Timestamp: time.Now(),
		RequestID: requestID,
	})
}

// sendMessage sends a message to a client
func (h *WebSocketHandler) sendMessage(client *Client, message *WebSocketMessage) {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal WebSocket message", zap.Error(err))
		return
	}

	if !h.clients.SendTo(client, messageBytes) {
		h.logger.Warn("Client gone or send channel full, dropping message",
			zap.String("client_id", client.ID),
		)
	}
}

// sendError sends an error message to a client
func (h *WebSocketHandler) sendError(client *Client, requestID, errorMsg string) {
	h.sendMessage(client, &WebSocketMessage{
		Type: "error",
		Data: map[string]interface{}{
			"error": errorMsg,
		},
		Timestamp: time.Now(),
		RequestID: requestID,
	})
}

// BroadcastLinkEvent sends a link event to every client subscribed to its type
func (h *WebSocketHandler) BroadcastLinkEvent(event model.LinkEvent) {
	messageBytes, err := json.Marshal(&WebSocketMessage{
		Type:      "link_event",
		Data:      event,
		Timestamp: event.Timestamp,
	})
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message", zap.Error(err))
		return
	}

	dropped := h.clients.Broadcast(messageBytes, func(c *Client) bool { return c.Wants(event.Type) })
	for _, id := range dropped {
		h.logger.Warn("Client send channel full during broadcast", zap.String("client_id", id))
	}
}

// GetConnectionStats returns connection statistics
func (h *WebSocketHandler) GetConnectionStats() *ConnectionStats {
	return h.clients.GetStats()
}
