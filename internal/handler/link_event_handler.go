// internal/handler/link_event_handler.go
package handler

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"comlink-service/internal/model"
	"comlink-service/internal/repository"
	"comlink-service/internal/service"
	"comlink-service/internal/utils"
)

// LinkSignals is the signal surface of the connection manager
type LinkSignals interface {
	OnConnected(fn func(port string)) (cancel func())
	OnDisconnected(fn func()) (cancel func())
	OnDataReceived(fn func(data []byte)) (cancel func())
	OnError(fn func(err error)) (cancel func())
}

// LinkEventHandler turns manager and monitor signals into bus events
type LinkEventHandler struct {
	bus    *EventBus
	logger *zap.Logger

	mu       sync.Mutex
	lastPort string
	cancels  []func()
}

// NewLinkEventHandler creates a new link event handler
func NewLinkEventHandler(bus *EventBus, logger *zap.Logger) *LinkEventHandler {
	return &LinkEventHandler{
		bus:    bus,
		logger: logger.With(zap.String("component", "link-events")),
	}
}

// Attach subscribes to the manager signals and, when ports is non-nil, to
// port monitor changes
func (h *LinkEventHandler) Attach(link LinkSignals, ports service.PortSource) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.cancels = append(h.cancels,
		link.OnConnected(h.onConnected),
		link.OnDisconnected(h.onDisconnected),
		link.OnDataReceived(h.onData),
		link.OnError(h.onError),
	)
	if ports != nil {
		h.cancels = append(h.cancels,
			ports.OnPortAdded(func(p model.PortDescriptor) { h.onPort(model.EventPortAdded, p) }),
			ports.OnPortRemoved(func(p model.PortDescriptor) { h.onPort(model.EventPortRemoved, p) }),
		)
	}
}

// Detach drops every subscription made by Attach
func (h *LinkEventHandler) Detach() {
	h.mu.Lock()
	cancels := h.cancels
	h.cancels = nil
	h.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

func (h *LinkEventHandler) onConnected(port string) {
	h.mu.Lock()
	h.lastPort = port
	h.mu.Unlock()

	h.bus.Publish(*model.NewLinkEvent(model.EventLinkConnected, port, "device identified"))
}

func (h *LinkEventHandler) onDisconnected() {
	h.mu.Lock()
	port := h.lastPort
	h.lastPort = ""
	h.mu.Unlock()

	h.bus.Publish(*model.NewLinkEvent(model.EventLinkDisconnected, port, "link lost"))
}

func (h *LinkEventHandler) onData(data []byte) {
	h.mu.Lock()
	port := h.lastPort
	h.mu.Unlock()

	event := model.NewLinkEvent(model.EventDataReceived, port, printable(data)).WithData(model.JSONObject{
		"base64": base64.StdEncoding.EncodeToString(data),
		"size":   len(data),
	})
	h.bus.Publish(*event)
}

// printable renders received bytes as text storable in a TEXT column.
// Invalid UTF-8 becomes U+FFFD and NUL bytes are dropped; base64 keeps the exact bytes.
func printable(data []byte) string {
	text := strings.ToValidUTF8(string(data), "\uFFFD")
	return strings.ReplaceAll(text, "\x00", "")
}

func (h *LinkEventHandler) onError(err error) {
	h.mu.Lock()
	port := h.lastPort
	h.mu.Unlock()

	h.logger.Debug("Link error", zap.Error(err))
	h.bus.Publish(*model.NewLinkEvent(model.EventLinkError, port, err.Error()))
}

func (h *LinkEventHandler) onPort(eventType model.EventType, p model.PortDescriptor) {
	data := model.JSONObject{"usb": p.IsUSB}
	if p.IsUSB {
		data["usb_id"] = p.USBID()
	}
	if p.SerialNumber != "" {
		data["serial_number"] = p.SerialNumber
	}
	if p.Product != "" {
		data["product"] = p.Product
	}
	h.bus.Publish(*model.NewLinkEvent(eventType, p.Name, "").WithData(data))
}

// EventRecorder persists bus events into the event history
type EventRecorder struct {
	repo    repository.EventRepository
	timeout time.Duration
	logger  *utils.ServiceLogger
}

// NewEventRecorder creates a new event recorder
func NewEventRecorder(repo repository.EventRepository, logger *zap.Logger) *EventRecorder {
	return &EventRecorder{
		repo:    repo,
		timeout: 5 * time.Second,
		logger:  utils.NewServiceLogger(logger, "event-recorder"),
	}
}

// Run saves every event received from the bus until ctx is canceled
func (r *EventRecorder) Run(ctx context.Context, bus *EventBus) {
	events, cancel := bus.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			r.record(ctx, event)
		}
	}
}

func (r *EventRecorder) record(ctx context.Context, event model.LinkEvent) {
	saveCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.repo.Save(saveCtx, &event); err != nil {
		r.logger.Error("Failed to record link event",
			zap.Error(err),
			zap.String("event_type", string(event.Type)),
			zap.String("port", event.Port),
		)
	}
}
